package video

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"cropsight/internal/pipeline"
)

// probeTimeout bounds the ffprobe metadata call
const probeTimeout = 10 * time.Second

// Probe reads a video file's dimensions, frame rate and frame count with
// ffprobe. The metadata drives progress totals and the output encoder
// settings.
func Probe(path string) (pipeline.VideoMeta, error) {
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "quiet",
		"-print_format", "json",
		"-show_streams",
		"-show_format",
		path,
	)
	output, err := cmd.Output()
	if err != nil {
		return pipeline.VideoMeta{}, fmt.Errorf("ffprobe %s: %w", path, err)
	}

	return parseProbeOutput(output)
}

type probeOutput struct {
	Streams []struct {
		CodecType  string `json:"codec_type"`
		Width      int    `json:"width"`
		Height     int    `json:"height"`
		RFrameRate string `json:"r_frame_rate"`
		NbFrames   string `json:"nb_frames"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

func parseProbeOutput(output []byte) (pipeline.VideoMeta, error) {
	var probed probeOutput
	if err := json.Unmarshal(output, &probed); err != nil {
		return pipeline.VideoMeta{}, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	for _, stream := range probed.Streams {
		if stream.CodecType != "video" || stream.Width == 0 || stream.Height == 0 {
			continue
		}

		fps, err := parseFrameRate(stream.RFrameRate)
		if err != nil {
			return pipeline.VideoMeta{}, err
		}

		meta := pipeline.VideoMeta{
			Width:  stream.Width,
			Height: stream.Height,
			FPS:    fps,
		}

		// nb_frames is absent or "N/A" in some containers; estimate from
		// the container duration instead
		if n, err := strconv.Atoi(stream.NbFrames); err == nil && n > 0 {
			meta.TotalFrames = n
		} else if d, err := strconv.ParseFloat(probed.Format.Duration, 64); err == nil && d > 0 {
			meta.TotalFrames = int(math.Round(d * fps))
		}

		return meta, nil
	}

	return pipeline.VideoMeta{}, fmt.Errorf("no video stream found")
}

// parseFrameRate converts ffprobe's fractional rate ("30000/1001") to fps
func parseFrameRate(s string) (float64, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid frame rate %q", s)
	}

	num, err1 := strconv.Atoi(parts[0])
	den, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || den == 0 || num <= 0 {
		return 0, fmt.Errorf("invalid frame rate %q", s)
	}

	return float64(num) / float64(den), nil
}
