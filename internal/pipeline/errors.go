package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrSourceOpen marks a video file that is missing or not decodable.
	// Raised before any output is created on disk.
	ErrSourceOpen = errors.New("cannot open video source")

	// ErrDetector marks a failed detection/tracking call. Aborts the
	// batch loop; output flushed so far stays on disk.
	ErrDetector = errors.New("detector failure")

	// ErrStoreWrite marks a result store failure (disk full, permissions).
	// Same best-effort preservation as ErrDetector.
	ErrStoreWrite = errors.New("result store write failure")

	// ErrRunActive is returned when a second run is requested while one
	// is still processing.
	ErrRunActive = errors.New("another run is already active")
)

// RunError is the structured failure surfaced to the caller when a run
// aborts: which video, which stage, and the underlying cause.
type RunError struct {
	VideoPath string
	Stage     RunStage
	Err       error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("run failed during %s (%s): %v", e.Stage, e.VideoPath, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}
