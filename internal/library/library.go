package library

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"cropsight/internal/pipeline"
)

// ErrNotFound is returned when a run id is not in the library
var ErrNotFound = errors.New("run not found")

// Run is one analysis run's output folder on disk
type Run struct {
	ID         string    `json:"id"`
	Folder     string    `json:"folder"`
	StartedAt  time.Time `json:"started_at"`
	HasVideo   bool      `json:"has_video"`
	HasResults bool      `json:"has_results"`
	PhotoCount int       `json:"photo_count"`
}

// Library indexes run output folders under the base directory
type Library struct {
	baseDir string
	mu      sync.RWMutex
	runs    map[string]*Run
}

// New creates a library over baseDir and performs an initial scan
func New(baseDir string) *Library {
	l := &Library{
		baseDir: baseDir,
		runs:    make(map[string]*Run),
	}
	if err := l.Refresh(); err != nil {
		log.Printf("[Library] initial scan: %v", err)
	}
	return l
}

// Refresh rescans the base directory for run folders
func (l *Library) Refresh() error {
	entries, err := os.ReadDir(l.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			// No runs yet
			return nil
		}
		return fmt.Errorf("failed to scan run directory: %w", err)
	}

	runs := make(map[string]*Run)
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), pipeline.RunFolderPrefix) {
			continue
		}
		run, err := l.inspect(entry.Name())
		if err != nil {
			log.Printf("[Library] skipping %s: %v", entry.Name(), err)
			continue
		}
		runs[run.ID] = run
	}

	l.mu.Lock()
	l.runs = runs
	l.mu.Unlock()
	return nil
}

// inspect builds the Run record for one folder under the base directory
func (l *Library) inspect(name string) (*Run, error) {
	stamp := strings.TrimPrefix(name, pipeline.RunFolderPrefix)
	startedAt, err := time.ParseInLocation(pipeline.RunFolderTimeFormat, stamp, time.Local)
	if err != nil {
		return nil, fmt.Errorf("not a run folder: %w", err)
	}

	folder := filepath.Join(l.baseDir, name)
	run := &Run{ID: name, Folder: folder, StartedAt: startedAt}

	if _, err := os.Stat(filepath.Join(folder, pipeline.OutputVideoName)); err == nil {
		run.HasVideo = true
	}
	if _, err := os.Stat(filepath.Join(folder, pipeline.StoreFileName)); err == nil {
		run.HasResults = true
	}
	if photos, err := os.ReadDir(filepath.Join(folder, pipeline.PhotosDirName)); err == nil {
		for _, photo := range photos {
			if strings.HasSuffix(photo.Name(), ".jpg") {
				run.PhotoCount++
			}
		}
	}

	return run, nil
}

// List returns all known runs, newest first
func (l *Library) List() []*Run {
	l.mu.RLock()
	defer l.mu.RUnlock()

	runs := make([]*Run, 0, len(l.runs))
	for _, run := range l.runs {
		cp := *run
		runs = append(runs, &cp)
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	return runs
}

// Get returns one run by its folder id
func (l *Library) Get(id string) (*Run, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	run, ok := l.runs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	cp := *run
	return &cp, nil
}

// Add indexes a freshly written run folder without a full rescan
func (l *Library) Add(folder string) (*Run, error) {
	run, err := l.inspect(filepath.Base(folder))
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.runs[run.ID] = run
	l.mu.Unlock()

	log.Printf("[Library] indexed run %s (%d photos)", run.ID, run.PhotoCount)
	return run, nil
}

// Delete removes a run and its artifacts from disk. Photos, the result
// store and the processed video all live inside the folder, so one
// removal drops everything.
func (l *Library) Delete(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	run, ok := l.runs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err := os.RemoveAll(run.Folder); err != nil {
		return fmt.Errorf("failed to delete run %s: %w", id, err)
	}
	delete(l.runs, id)

	log.Printf("[Library] deleted run %s", id)
	return nil
}

// Count returns the number of indexed runs
func (l *Library) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.runs)
}

// BaseDir returns the directory the library watches
func (l *Library) BaseDir() string {
	return l.baseDir
}
