package ws

import "time"

// Message types pushed to clients over the event socket
const (
	TypeRunStarted   = "run_started"
	TypeRunProgress  = "run_progress"
	TypePhotoSaved   = "photo_saved"
	TypeRunCompleted = "run_completed"
	TypeRunFailed    = "run_failed"
)

// Message is the envelope sent to WebSocket clients for run lifecycle
// events. Fields outside the common header are populated per type.
type Message struct {
	Type      string    `json:"type"`
	RunID     string    `json:"run_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	// run_started
	VideoPath string `json:"video_path,omitempty"`

	// run_started, run_completed
	OutputFolder string `json:"output_folder,omitempty"`

	// run_progress
	FramesDone  int   `json:"frames_done,omitempty"`
	TotalFrames int   `json:"total_frames,omitempty"`
	RemainingMs int64 `json:"remaining_ms,omitempty"`

	// photo_saved
	TrackID   int    `json:"track_id,omitempty"`
	Class     string `json:"class,omitempty"`
	PhotoPath string `json:"photo_path,omitempty"`

	// run_completed
	Observations int  `json:"observations,omitempty"`
	Photos       int  `json:"photos,omitempty"`
	Cancelled    bool `json:"cancelled,omitempty"`

	// run_failed
	Error string `json:"error,omitempty"`
}

// NewStartedMessage announces a freshly started run
func NewStartedMessage(runID, videoPath, outputFolder string) *Message {
	return &Message{
		Type:         TypeRunStarted,
		RunID:        runID,
		Timestamp:    time.Now(),
		VideoPath:    videoPath,
		OutputFolder: outputFolder,
	}
}

// NewProgressMessage carries one batch's progress update
func NewProgressMessage(runID string, framesDone, totalFrames int, remaining time.Duration) *Message {
	return &Message{
		Type:        TypeRunProgress,
		RunID:       runID,
		Timestamp:   time.Now(),
		FramesDone:  framesDone,
		TotalFrames: totalFrames,
		RemainingMs: remaining.Milliseconds(),
	}
}

// NewPhotoMessage announces a track's first-seen photo
func NewPhotoMessage(runID string, trackID int, class, photoPath string) *Message {
	return &Message{
		Type:      TypePhotoSaved,
		RunID:     runID,
		Timestamp: time.Now(),
		TrackID:   trackID,
		Class:     class,
		PhotoPath: photoPath,
	}
}

// NewCompletedMessage carries the finished run's totals
func NewCompletedMessage(runID, outputFolder string, framesDone, observations, photos int, cancelled bool) *Message {
	return &Message{
		Type:         TypeRunCompleted,
		RunID:        runID,
		Timestamp:    time.Now(),
		OutputFolder: outputFolder,
		FramesDone:   framesDone,
		Observations: observations,
		Photos:       photos,
		Cancelled:    cancelled,
	}
}

// NewFailedMessage reports a run that ended in failure
func NewFailedMessage(runID, errMsg string) *Message {
	return &Message{
		Type:      TypeRunFailed,
		RunID:     runID,
		Timestamp: time.Now(),
		Error:     errMsg,
	}
}
