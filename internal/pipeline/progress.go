package pipeline

import (
	"time"
)

// progressEstimator derives the remaining-time estimate from the most
// recent batch's measured per-frame rate extrapolated over the frames
// left. No running average: noisy under variable load but simple and
// self-correcting, and only the progress display consumes it.
type progressEstimator struct {
	runID       string
	totalFrames int
	startedAt   time.Time
}

func newProgressEstimator(runID string, totalFrames int) *progressEstimator {
	return &progressEstimator{
		runID:       runID,
		totalFrames: totalFrames,
		startedAt:   time.Now(),
	}
}

// observe records a completed batch and returns the progress snapshot to
// report for it
func (p *progressEstimator) observe(framesDone, batchFrames int, batchElapsed time.Duration) Progress {
	var remaining time.Duration
	left := p.totalFrames - framesDone
	if left > 0 && batchFrames > 0 {
		perFrame := batchElapsed / time.Duration(batchFrames)
		remaining = perFrame * time.Duration(left)
	}

	return Progress{
		RunID:       p.runID,
		FramesDone:  framesDone,
		TotalFrames: p.totalFrames,
		Remaining:   remaining,
		Elapsed:     time.Since(p.startedAt),
	}
}
