package library

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"cropsight/internal/pipeline"
)

func seedRun(t *testing.T, baseDir, name string, video, results bool, photos int) {
	t.Helper()

	folder := filepath.Join(baseDir, name)
	if err := os.MkdirAll(folder, 0o755); err != nil {
		t.Fatalf("failed to create run folder: %v", err)
	}
	if video {
		mustWrite(t, filepath.Join(folder, pipeline.OutputVideoName))
	}
	if results {
		mustWrite(t, filepath.Join(folder, pipeline.StoreFileName))
	}
	if photos > 0 {
		photosDir := filepath.Join(folder, pipeline.PhotosDirName)
		if err := os.MkdirAll(photosDir, 0o755); err != nil {
			t.Fatalf("failed to create photos dir: %v", err)
		}
		names := []string{"Healthy_ID1.jpg", "Late blight_ID2.jpg", "Healthy_ID3.jpg"}
		for i := 0; i < photos; i++ {
			mustWrite(t, filepath.Join(photosDir, names[i]))
		}
	}
}

func mustWrite(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

func TestLibraryScan(t *testing.T) {
	baseDir := t.TempDir()
	seedRun(t, baseDir, "run_20250110_093000", true, true, 2)
	seedRun(t, baseDir, "run_20250212_110000", false, true, 0)

	// Noise the scanner must ignore
	if err := os.MkdirAll(filepath.Join(baseDir, "notes"), 0o755); err != nil {
		t.Fatal(err)
	}
	mustWrite(t, filepath.Join(baseDir, "stray.txt"))
	seedRun(t, baseDir, "run_not_a_timestamp", false, false, 0)

	lib := New(baseDir)

	runs := lib.List()
	if len(runs) != 2 {
		t.Fatalf("List() returned %d runs, want 2", len(runs))
	}
	if runs[0].ID != "run_20250212_110000" || runs[1].ID != "run_20250110_093000" {
		t.Fatalf("runs not sorted newest first: %s, %s", runs[0].ID, runs[1].ID)
	}

	older := runs[1]
	if !older.HasVideo || !older.HasResults {
		t.Errorf("artifact flags = video:%v results:%v, want both true", older.HasVideo, older.HasResults)
	}
	if older.PhotoCount != 2 {
		t.Errorf("PhotoCount = %d, want 2", older.PhotoCount)
	}
	if older.StartedAt.Year() != 2025 || older.StartedAt.Hour() != 9 {
		t.Errorf("StartedAt = %v, want 2025-01-10 09:30", older.StartedAt)
	}

	newer := runs[0]
	if newer.HasVideo {
		t.Error("run without processed video should not report HasVideo")
	}
}

func TestLibraryGet(t *testing.T) {
	baseDir := t.TempDir()
	seedRun(t, baseDir, "run_20250110_093000", true, true, 1)

	lib := New(baseDir)

	run, err := lib.Get("run_20250110_093000")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if run.Folder != filepath.Join(baseDir, "run_20250110_093000") {
		t.Errorf("Folder = %s", run.Folder)
	}

	if _, err := lib.Get("run_20990101_000000"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get(missing) error = %v, want ErrNotFound", err)
	}
}

func TestLibraryAdd(t *testing.T) {
	baseDir := t.TempDir()
	lib := New(baseDir)

	if lib.Count() != 0 {
		t.Fatalf("Count() = %d, want 0", lib.Count())
	}

	seedRun(t, baseDir, "run_20250301_120000", true, true, 1)
	run, err := lib.Add(filepath.Join(baseDir, "run_20250301_120000"))
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if run.PhotoCount != 1 {
		t.Errorf("PhotoCount = %d, want 1", run.PhotoCount)
	}
	if lib.Count() != 1 {
		t.Errorf("Count() = %d, want 1", lib.Count())
	}
}

func TestLibraryDelete(t *testing.T) {
	baseDir := t.TempDir()
	seedRun(t, baseDir, "run_20250110_093000", true, true, 2)

	lib := New(baseDir)
	if err := lib.Delete("run_20250110_093000"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	if _, err := os.Stat(filepath.Join(baseDir, "run_20250110_093000")); !os.IsNotExist(err) {
		t.Error("run folder should be removed from disk")
	}
	if lib.Count() != 0 {
		t.Errorf("Count() = %d after delete, want 0", lib.Count())
	}

	if err := lib.Delete("run_20250110_093000"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second Delete() error = %v, want ErrNotFound", err)
	}
}

func TestLibraryMissingBaseDir(t *testing.T) {
	lib := New(filepath.Join(t.TempDir(), "never-created"))
	if got := lib.List(); len(got) != 0 {
		t.Fatalf("List() on missing base dir = %d runs, want 0", len(got))
	}
}
