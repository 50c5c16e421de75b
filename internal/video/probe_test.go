package video

import (
	"math"
	"testing"
)

func TestParseProbeOutput(t *testing.T) {
	output := []byte(`{
		"streams": [
			{"codec_type": "audio", "sample_rate": "48000"},
			{"codec_type": "video", "width": 1920, "height": 1080, "r_frame_rate": "30000/1001", "nb_frames": "300"}
		],
		"format": {"duration": "10.010000"}
	}`)

	meta, err := parseProbeOutput(output)
	if err != nil {
		t.Fatalf("parseProbeOutput() error = %v", err)
	}

	if meta.Width != 1920 || meta.Height != 1080 {
		t.Errorf("dimensions = %dx%d, want 1920x1080", meta.Width, meta.Height)
	}
	if math.Abs(meta.FPS-29.97) > 0.01 {
		t.Errorf("FPS = %f, want ~29.97", meta.FPS)
	}
	if meta.TotalFrames != 300 {
		t.Errorf("TotalFrames = %d, want 300", meta.TotalFrames)
	}
}

func TestParseProbeOutputDurationFallback(t *testing.T) {
	output := []byte(`{
		"streams": [
			{"codec_type": "video", "width": 1280, "height": 720, "r_frame_rate": "25/1", "nb_frames": "N/A"}
		],
		"format": {"duration": "10.0"}
	}`)

	meta, err := parseProbeOutput(output)
	if err != nil {
		t.Fatalf("parseProbeOutput() error = %v", err)
	}
	if meta.TotalFrames != 250 {
		t.Errorf("TotalFrames = %d, want 250 (duration * fps)", meta.TotalFrames)
	}
}

func TestParseProbeOutputNoVideoStream(t *testing.T) {
	output := []byte(`{"streams": [{"codec_type": "audio"}], "format": {}}`)
	if _, err := parseProbeOutput(output); err == nil {
		t.Fatal("expected error when no video stream is present")
	}
}

func TestParseProbeOutputInvalidJSON(t *testing.T) {
	if _, err := parseProbeOutput([]byte("not json")); err == nil {
		t.Fatal("expected error for malformed ffprobe output")
	}
}

func TestParseFrameRate(t *testing.T) {
	tests := []struct {
		input   string
		want    float64
		wantErr bool
	}{
		{"25/1", 25, false},
		{"30000/1001", 29.97, false},
		{"60/1", 60, false},
		{"25", 0, true},
		{"abc/def", 0, true},
		{"1/0", 0, true},
		{"0/1", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		got, err := parseFrameRate(tt.input)
		if tt.wantErr {
			if err == nil {
				t.Errorf("parseFrameRate(%q) expected error", tt.input)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseFrameRate(%q) error = %v", tt.input, err)
			continue
		}
		if math.Abs(got-tt.want) > 0.01 {
			t.Errorf("parseFrameRate(%q) = %f, want %f", tt.input, got, tt.want)
		}
	}
}
