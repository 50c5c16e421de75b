package detection

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"cropsight/internal/pipeline"
)

// ReplayDetector plays back precomputed detections keyed by frame index.
// It lets operators re-annotate footage without the model service and
// backs deterministic pipeline runs.
type ReplayDetector struct {
	path    string
	byFrame map[int][]pipeline.Detection
}

var _ pipeline.DetectorTracker = (*ReplayDetector)(nil)

// NewReplayDetector loads the replay file. The format is a JSON object
// keyed by frame index, e.g. {"0": [{...}], "17": [{...}]}; frames
// without an entry replay as empty.
func NewReplayDetector(path string) (*ReplayDetector, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("replay file: %w", err)
	}

	var wire map[string][]wireDetection
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("failed to parse replay file %s: %w", path, err)
	}

	byFrame := make(map[int][]pipeline.Detection, len(wire))
	for key, dets := range wire {
		idx, err := strconv.Atoi(key)
		if err != nil || idx < 0 {
			return nil, fmt.Errorf("replay file %s: invalid frame index %q", path, key)
		}
		list := make([]pipeline.Detection, 0, len(dets))
		for _, det := range dets {
			list = append(list, det.toDetection())
		}
		byFrame[idx] = list
	}

	return &ReplayDetector{path: path, byFrame: byFrame}, nil
}

// Name identifies the backend in config and logs
func (d *ReplayDetector) Name() string {
	return "replay"
}

// IsHealthy always reports true; the replay data is already loaded
func (d *ReplayDetector) IsHealthy() bool {
	return true
}

// DetectAndTrack returns the recorded detections for each frame's index
func (d *ReplayDetector) DetectAndTrack(ctx context.Context, frames []*pipeline.Frame) ([][]pipeline.Detection, error) {
	results := make([][]pipeline.Detection, len(frames))
	for i, frame := range frames {
		results[i] = d.byFrame[frame.Index]
	}
	return results, nil
}

// Close is a no-op
func (d *ReplayDetector) Close() error {
	return nil
}
