package report

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cropsight/internal/database"
	"cropsight/internal/pipeline"
)

func seedRunFolder(t *testing.T) string {
	t.Helper()

	runFolder := filepath.Join(t.TempDir(), "run_20250110_093000")
	require.NoError(t, os.MkdirAll(filepath.Join(runFolder, pipeline.PhotosDirName), 0o755))

	db, err := database.New(filepath.Join(runFolder, pipeline.StoreFileName))
	require.NoError(t, err)
	require.NoError(t, db.Migrate())

	box := pipeline.BBox{XMin: 10, YMin: 10, XMax: 50, YMax: 50}
	obs := []pipeline.Observation{
		// Track 1 starts healthy and later shows early blight with higher
		// confidence; the report should classify it as diseased.
		{FrameIndex: 0, TrackID: 1, Class: "Healthy", BBox: box, Confidence: 0.9},
		{FrameIndex: 5, TrackID: 1, Class: "Early blight", BBox: box, Confidence: 0.95},
		{FrameIndex: 1, TrackID: 2, Class: "Healthy", BBox: box, Confidence: 0.8},
		{FrameIndex: 2, TrackID: 3, Class: "Late blight", BBox: box, Confidence: 0.7},
		{FrameIndex: 3, TrackID: 3, Class: "Late blight", BBox: box, Confidence: 0.6},
	}
	require.NoError(t, db.WriteBatch(obs, "00:05:00"))
	require.NoError(t, db.Close())

	// First-seen photos carry the class at first observation
	for _, name := range []string{"Healthy_ID1.jpg", "Healthy_ID2.jpg", "Late blight_ID3.jpg"} {
		require.NoError(t, os.WriteFile(filepath.Join(runFolder, pipeline.PhotosDirName, name), []byte("jpeg"), 0o644))
	}

	return runFolder
}

func TestBuildReport(t *testing.T) {
	runFolder := seedRunFolder(t)

	rep, err := Build(runFolder)
	require.NoError(t, err)

	assert.Equal(t, "00:05:00", rep.FlightDuration)
	assert.Equal(t, 5, rep.Observations)
	assert.Equal(t, 3, rep.PlantsAnalyzed)
	assert.Equal(t, 2, rep.AffectedPlants)

	assert.Equal(t, map[string]int{
		"Early blight": 1,
		"Healthy":      1,
		"Late blight":  1,
	}, rep.ClassCounts)

	require.Len(t, rep.Tracks, 3)
	assert.Equal(t, "Early blight", rep.Tracks[0].Class)
	assert.InDelta(t, 0.95, rep.Tracks[0].Confidence, 0.0001)
	assert.Equal(t, "Healthy", rep.Tracks[1].Class)
	assert.Equal(t, "Late blight", rep.Tracks[2].Class)

	// Track 1's photo was captured while it still looked healthy; the
	// report resolves it by id suffix.
	assert.Equal(t, filepath.Join("photos", "Healthy_ID1.jpg"), rep.Tracks[0].Photo)
	assert.Equal(t, filepath.Join("photos", "Late blight_ID3.jpg"), rep.Tracks[2].Photo)

	require.Contains(t, rep.Countermeasures, "Early blight")
	require.Contains(t, rep.Countermeasures, "Late blight")
	assert.NotContains(t, rep.Countermeasures, "Healthy")
}

func TestBuildReportMissingStore(t *testing.T) {
	_, err := Build(t.TempDir())
	require.Error(t, err)
}

func TestDiseaseClasses(t *testing.T) {
	rep := &Report{ClassCounts: map[string]int{
		"Late blight":  2,
		"Healthy":      5,
		"Early blight": 1,
	}}
	assert.Equal(t, []string{"Early blight", "Late blight"}, rep.DiseaseClasses())
}

func TestCountermeasuresCoverDiseaseVocabulary(t *testing.T) {
	for _, class := range []string{
		"Bacterial spot", "Early blight", "Late blight", "Leaf miner",
		"Leaf mold", "Mosaic virus", "Septoria leaf spot", "Spider mites",
		"Yellow leaf curl virus",
	} {
		assert.NotEmpty(t, Countermeasures[class], "missing advice for %s", class)
	}
	assert.NotContains(t, Countermeasures, HealthyClass)
}
