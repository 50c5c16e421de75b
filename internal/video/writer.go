package video

import (
	"bufio"
	"fmt"
	"io"
	"os/exec"
	"strconv"

	"cropsight/internal/pipeline"
)

// FileWriter encodes annotated JPEG frames into the run's output video
// through an ffmpeg subprocess reading image2pipe on stdin. The container
// is MP4 with H.264 at the source frame rate.
type FileWriter struct {
	path   string
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	closed bool
}

var _ pipeline.FrameWriter = (*FileWriter)(nil)

// NewFileWriter starts the encoder for path. Resolution follows the piped
// frames; meta supplies the frame rate.
func NewFileWriter(path string, meta pipeline.VideoMeta) (*FileWriter, error) {
	fps := meta.FPS
	if fps <= 0 {
		fps = 30
	}
	rate := strconv.FormatFloat(fps, 'f', -1, 64)

	cmd := exec.Command("ffmpeg",
		"-y",
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-framerate", rate,
		"-i", "-",
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		"-r", rate,
		path,
	)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
		}
	}()

	return &FileWriter{path: path, cmd: cmd, stdin: stdin}, nil
}

// Write appends one JPEG frame to the video
func (w *FileWriter) Write(jpegFrame []byte) error {
	if w.closed {
		return fmt.Errorf("video writer is closed")
	}
	if _, err := w.stdin.Write(jpegFrame); err != nil {
		return fmt.Errorf("failed to write frame to encoder: %w", err)
	}
	return nil
}

// Close finishes the encode and waits for ffmpeg to flush the container
func (w *FileWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	w.stdin.Close()
	if err := w.cmd.Wait(); err != nil {
		return fmt.Errorf("video encoder %s: %w", w.path, err)
	}
	return nil
}
