package video

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"

	"cropsight/internal/pipeline"
)

// FileSource decodes a video file into an ordered frame sequence through
// an ffmpeg subprocess emitting MJPEG on stdout. It is forward-only:
// frames come out once, in order, and the file must be reopened to
// iterate again.
type FileSource struct {
	path   string
	meta   pipeline.VideoMeta
	cmd    *exec.Cmd
	stdout io.ReadCloser
	frames *frameScanner
	index  int
	closed bool
}

var _ pipeline.FrameSource = (*FileSource)(nil)

// OpenFile probes path and starts the decoder subprocess
func OpenFile(path string) (*FileSource, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("video file: %w", err)
	}

	meta, err := Probe(path)
	if err != nil {
		return nil, err
	}

	cmd := exec.Command("ffmpeg",
		"-i", path,
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", "2",
		"-",
	)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	// Drain stderr so ffmpeg never blocks on its progress chatter
	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
		}
	}()

	return &FileSource{
		path:   path,
		meta:   meta,
		cmd:    cmd,
		stdout: stdout,
		frames: newFrameScanner(stdout),
	}, nil
}

// Meta returns the probed source metadata
func (s *FileSource) Meta() pipeline.VideoMeta {
	return s.meta
}

// Next returns the next decoded frame, or io.EOF once the video is
// exhausted
func (s *FileSource) Next() (*pipeline.Frame, error) {
	if s.closed {
		return nil, io.EOF
	}

	data, err := s.frames.next()
	if err == io.EOF {
		return nil, io.EOF
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read frame %d: %w", s.index, err)
	}

	img, err := DecodeRGBA(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame %d: %w", s.index, err)
	}

	frame := &pipeline.Frame{
		Index:  s.index,
		Width:  img.Bounds().Dx(),
		Height: img.Bounds().Dy(),
		Image:  img,
	}
	s.index++
	return frame, nil
}

// Close kills the decoder subprocess and reaps it
func (s *FileSource) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	if s.cmd.Process != nil {
		s.cmd.Process.Kill()
	}
	s.stdout.Close()
	s.cmd.Wait()
	return nil
}

// frameScanner splits a raw MJPEG byte stream into complete JPEG frames
type frameScanner struct {
	r      io.Reader
	buffer []byte
	chunk  []byte
}

func newFrameScanner(r io.Reader) *frameScanner {
	return &frameScanner{
		r:      r,
		buffer: make([]byte, 0, 1024*1024),
		chunk:  make([]byte, 8192),
	}
}

// next returns the next complete JPEG frame, or io.EOF when the stream
// ends with nothing pending
func (f *frameScanner) next() ([]byte, error) {
	for {
		if frame := ExtractJPEGFrame(&f.buffer); frame != nil {
			return frame, nil
		}

		n, err := f.r.Read(f.chunk)
		if n > 0 {
			f.buffer = append(f.buffer, f.chunk[:n]...)
			continue
		}
		if err == io.EOF {
			// The stream may end on a frame boundary with one frame
			// still buffered
			if frame := ExtractJPEGFrame(&f.buffer); frame != nil {
				return frame, nil
			}
			return nil, io.EOF
		}
		if err != nil {
			return nil, err
		}
	}
}
