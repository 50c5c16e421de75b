package pipeline

import (
	"context"
)

// FrameSource produces the ordered frames of one video file. It is
// forward-only and consumed exactly once; reopening the file is the only
// way to iterate again.
type FrameSource interface {
	// Meta returns the source dimensions, frame rate and total frame count
	Meta() VideoMeta

	// Next returns the next frame, or io.EOF when the video is exhausted
	Next() (*Frame, error)

	// Close releases the decoder
	Close() error
}

// FrameWriter appends annotated frames to the run's output video.
// Frames arrive as encoded JPEG in source order.
type FrameWriter interface {
	Write(jpegFrame []byte) error
	Close() error
}

// DetectorTracker is the external detection and tracking collaborator.
// Given a batch of frames it returns one detection list per frame, in
// batch order. Batching is a throughput concern only: the detections for
// a frame must not depend on how the frames were grouped.
type DetectorTracker interface {
	// Name returns the backend identifier (e.g. "remote", "replay")
	Name() string

	// IsHealthy returns true if the backend is operational
	IsHealthy() bool

	// DetectAndTrack runs detection and tracking over a batch of frames
	DetectAndTrack(ctx context.Context, frames []*Frame) ([][]Detection, error)

	// Close releases backend resources
	Close() error
}

// ObservationStore persists detection observations. WriteBatch appends
// one row per observation together with the run's flight duration; rows
// are never updated or deleted afterwards.
type ObservationStore interface {
	WriteBatch(obs []Observation, flightDuration string) error
	Close() error
}

// PhotoArchiver captures one representative crop per track identifier.
// Capture returns the written file path, or "" when the track already has
// a photo or the crop region is empty. A write failure leaves the track
// unmarked so a later frame can retry.
type PhotoArchiver interface {
	Capture(frame *Frame, det Detection) (string, error)

	// Count returns the number of photos written so far
	Count() int
}

// FrameAnnotator draws detection overlays onto a frame in place
type FrameAnnotator interface {
	Annotate(frame *Frame, detections []Detection)
}

// RunEventHandler receives pipeline lifecycle events
type RunEventHandler interface {
	OnRunEvent(ev *RunEvent)
}
