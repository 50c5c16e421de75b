package pipeline

import (
	"image"
	"time"
)

// RunStage identifies where a run is in its lifecycle
type RunStage string

const (
	StageInitializing RunStage = "initializing"
	StageStreaming    RunStage = "streaming"
	StageFinalizing   RunStage = "finalizing"
	StageDone         RunStage = "done"
	StageFailed       RunStage = "failed"
)

// Frame is one decoded video frame
type Frame struct {
	Index  int // Zero-based position within the source video
	Width  int
	Height int
	Image  *image.RGBA // Pixel data, annotated in place before encoding
}

// BBox is a bounding box in pixel coordinates of the source frame
type BBox struct {
	XMin float32 `json:"x_min"`
	YMin float32 `json:"y_min"`
	XMax float32 `json:"x_max"`
	YMax float32 `json:"y_max"`
}

// CropRect returns the box truncated to integers and clipped to
// [0,width) x [0,height). The result may be empty for boxes that lie
// outside the frame.
func (b BBox) CropRect(width, height int) image.Rectangle {
	x0, y0 := int(b.XMin), int(b.YMin)
	x1, y1 := int(b.XMax), int(b.YMax)
	if x0 < 0 {
		x0 = 0
	}
	if y0 < 0 {
		y0 = 0
	}
	if x1 > width {
		x1 = width
	}
	if y1 > height {
		y1 = height
	}
	if x1 < x0 {
		x1 = x0
	}
	if y1 < y0 {
		y1 = y0
	}
	return image.Rect(x0, y0, x1, y1)
}

// Detection is a single object reported by the detector for one frame.
// TrackID is nil when the tracker could not associate the detection with
// a persistent identity; such detections carry no stable key and are
// dropped by the pipeline.
type Detection struct {
	Class      string  `json:"class"`
	Confidence float32 `json:"confidence"`
	BBox       BBox    `json:"bbox"`
	TrackID    *int    `json:"track_id"`
}

// Observation is one persisted (frame, track, detection) record
type Observation struct {
	FrameIndex int
	TrackID    int
	Class      string
	BBox       BBox
	Confidence float32
}

// VideoMeta describes the source video
type VideoMeta struct {
	Width       int
	Height      int
	FPS         float64
	TotalFrames int
}

// Progress is reported once per processed batch
type Progress struct {
	RunID       string        `json:"run_id"`
	FramesDone  int           `json:"frames_done"`
	TotalFrames int           `json:"total_frames"`
	Remaining   time.Duration `json:"remaining_ns"`
	Elapsed     time.Duration `json:"elapsed_ns"`
}

// RunRequest describes one pipeline invocation over one flight video.
// FlightDuration is the wall-clock duration of the physical flight,
// produced upstream and stored verbatim with every observation row.
type RunRequest struct {
	VideoPath      string
	FlightDuration string
	OutputBase     string

	// OnProgress is invoked exactly once per processed batch with
	// monotonically increasing FramesDone. Optional.
	OnProgress func(Progress)

	// OnComplete is invoked exactly once after finalization with the
	// run's output folder. Optional.
	OnComplete func(outputFolder string)
}

// RunResult summarizes a finished run
type RunResult struct {
	RunID        string        `json:"run_id"`
	OutputFolder string        `json:"output_folder"`
	Stage        RunStage      `json:"stage"`
	TotalFrames  int           `json:"total_frames"`
	FramesDone   int           `json:"frames_done"`
	Observations int           `json:"observations"`
	Photos       int           `json:"photos"`
	Cancelled    bool          `json:"cancelled"`
	Elapsed      time.Duration `json:"elapsed_ns"`
}

// RunStatus is a point-in-time snapshot of the active run
type RunStatus struct {
	RunID        string    `json:"run_id"`
	VideoPath    string    `json:"video_path"`
	OutputFolder string    `json:"output_folder"`
	Stage        RunStage  `json:"stage"`
	FramesDone   int       `json:"frames_done"`
	TotalFrames  int       `json:"total_frames"`
	StartedAt    time.Time `json:"started_at"`
}

// RunEventType names a pipeline lifecycle event
type RunEventType string

const (
	EventRunStarted     RunEventType = "run_started"
	EventRunProgress    RunEventType = "run_progress"
	EventFrameAnnotated RunEventType = "frame_annotated"
	EventPhotoSaved     RunEventType = "photo_saved"
	EventRunCompleted   RunEventType = "run_completed"
	EventRunFailed      RunEventType = "run_failed"
)

// RunEvent is published on the event bus as a run progresses. Fields
// beyond Type and RunID are populated per event type.
type RunEvent struct {
	Type         RunEventType `json:"type"`
	RunID        string       `json:"run_id"`
	VideoPath    string       `json:"video_path,omitempty"`
	OutputFolder string       `json:"output_folder,omitempty"`
	Stage        RunStage     `json:"stage,omitempty"`
	Progress     *Progress    `json:"progress,omitempty"`
	FrameIndex   int          `json:"frame_index,omitempty"`
	FrameJPEG    []byte       `json:"-"` // frame_annotated only, not serialized
	PhotoPath    string       `json:"photo_path,omitempty"`
	TrackID      int          `json:"track_id,omitempty"`
	Class        string       `json:"class,omitempty"`
	Result       *RunResult   `json:"result,omitempty"`
	Error        string       `json:"error,omitempty"`
	Timestamp    time.Time    `json:"timestamp"`
}
