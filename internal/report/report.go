package report

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"cropsight/internal/database"
	"cropsight/internal/pipeline"
)

// HealthyClass marks tracked plants that need no countermeasure
const HealthyClass = "Healthy"

// Countermeasures maps each disease class to the treatment advice shown
// alongside the flight report.
var Countermeasures = map[string]string{
	"Bacterial spot": "Ensure adequate spacing between plants for air circulation, " +
		"apply copper-based bactericides, destroy infected plant debris and avoid " +
		"planting in wet soils.",
	"Early blight": "Apply fungicides containing chlorothalonil or mancozeb. Remove " +
		"plant debris after harvest, rotate crops to reduce reinfection and avoid " +
		"overhead watering.",
	"Late blight": "Apply copper-based fungicides. Remove and destroy infected " +
		"plants immediately, keep good airflow between rows and avoid excessive " +
		"watering.",
	"Leaf miner": "Hang sticky traps to reduce the adult population, introduce " +
		"parasitic wasps as natural enemies and apply a biological insecticide " +
		"where infestation persists.",
	"Leaf mold": "Improve ventilation and lower humidity around the crop. Water at " +
		"the soil rather than the foliage and apply a recommended fungicide.",
	"Mosaic virus": "Remove and destroy infected plants. Control the aphids that " +
		"spread the virus, use resistant varieties and keep the field free of host " +
		"weeds.",
	"Septoria leaf spot": "Apply copper or chlorothalonil based fungicides, remove " +
		"and destroy infected leaves and keep foliage dry with good airflow.",
	"Spider mites": "Spray with a miticide, introduce predatory mites such as " +
		"Phytoseiulus persimilis and clear crop debris that shelters them.",
	"Yellow leaf curl virus": "Use resistant varieties, control whiteflies with " +
		"insecticides or natural enemies and install protective netting in " +
		"greenhouses.",
}

// TrackReport is one physical plant in the report. The track's highest
// confidence observation decides its class.
type TrackReport struct {
	TrackID    int     `json:"track_id"`
	Class      string  `json:"class"`
	Confidence float64 `json:"confidence"`
	Photo      string  `json:"photo,omitempty"`
}

// Report aggregates one run's stored results for display
type Report struct {
	RunFolder       string            `json:"run_folder"`
	FlightDuration  string            `json:"flight_duration"`
	Observations    int               `json:"observations"`
	PlantsAnalyzed  int               `json:"plants_analyzed"`
	AffectedPlants  int               `json:"affected_plants"`
	ClassCounts     map[string]int    `json:"class_counts"`
	Tracks          []TrackReport     `json:"tracks"`
	Countermeasures map[string]string `json:"countermeasures"`
}

// Build opens a run folder's result store and assembles its report
func Build(runFolder string) (*Report, error) {
	dbPath := filepath.Join(runFolder, pipeline.StoreFileName)
	if _, err := os.Stat(dbPath); err != nil {
		return nil, fmt.Errorf("run has no result store: %w", err)
	}

	db, err := database.New(dbPath)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	duration, err := db.FlightDuration()
	if err != nil {
		return nil, err
	}
	total, err := db.Count()
	if err != nil {
		return nil, err
	}
	summaries, err := db.TrackSummaries()
	if err != nil {
		return nil, err
	}

	rep := &Report{
		RunFolder:       runFolder,
		FlightDuration:  duration,
		Observations:    total,
		PlantsAnalyzed:  len(summaries),
		ClassCounts:     make(map[string]int),
		Countermeasures: make(map[string]string),
	}

	for _, summary := range summaries {
		track := TrackReport{
			TrackID:    summary.TrackID,
			Class:      summary.Class,
			Confidence: summary.Confidence,
			Photo:      photoFor(runFolder, summary.Class, summary.TrackID),
		}
		rep.Tracks = append(rep.Tracks, track)
		rep.ClassCounts[summary.Class]++

		if summary.Class != HealthyClass {
			rep.AffectedPlants++
			if advice, ok := Countermeasures[summary.Class]; ok {
				rep.Countermeasures[summary.Class] = advice
			}
		}
	}

	return rep, nil
}

// DiseaseClasses returns the distinct non-healthy classes found, sorted
func (r *Report) DiseaseClasses() []string {
	var classes []string
	for class := range r.ClassCounts {
		if class != HealthyClass {
			classes = append(classes, class)
		}
	}
	sort.Strings(classes)
	return classes
}

// photoFor locates the track's first-seen crop relative to the run
// folder. The photo is named after the class at first observation, which
// may differ from the max-confidence class, so fall back to matching the
// id suffix.
func photoFor(runFolder, class string, trackID int) string {
	photosDir := filepath.Join(runFolder, pipeline.PhotosDirName)

	exact := fmt.Sprintf("%s_ID%d.jpg", class, trackID)
	if _, err := os.Stat(filepath.Join(photosDir, exact)); err == nil {
		return filepath.Join(pipeline.PhotosDirName, exact)
	}

	entries, err := os.ReadDir(photosDir)
	if err != nil {
		return ""
	}
	suffix := fmt.Sprintf("_ID%d.jpg", trackID)
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), suffix) {
			return filepath.Join(pipeline.PhotosDirName, entry.Name())
		}
	}
	return ""
}
