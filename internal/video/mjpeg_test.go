package video

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"testing"
)

func encodeTestJPEG(t *testing.T, width, height int, c color.RGBA) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetRGBA(x, y, c)
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}); err != nil {
		t.Fatalf("failed to encode test frame: %v", err)
	}
	return buf.Bytes()
}

func TestExtractJPEGFrameSplitsStream(t *testing.T) {
	first := encodeTestJPEG(t, 16, 12, color.RGBA{R: 255, A: 255})
	second := encodeTestJPEG(t, 16, 12, color.RGBA{G: 255, A: 255})

	buffer := append(append([]byte{}, first...), second...)

	got := ExtractJPEGFrame(&buffer)
	if !bytes.Equal(got, first) {
		t.Fatalf("first frame mismatch: got %d bytes, want %d", len(got), len(first))
	}

	got = ExtractJPEGFrame(&buffer)
	if !bytes.Equal(got, second) {
		t.Fatalf("second frame mismatch: got %d bytes, want %d", len(got), len(second))
	}

	if got := ExtractJPEGFrame(&buffer); got != nil {
		t.Fatalf("expected no third frame, got %d bytes", len(got))
	}
}

func TestExtractJPEGFramePartial(t *testing.T) {
	frame := encodeTestJPEG(t, 16, 12, color.RGBA{B: 255, A: 255})
	half := len(frame) / 2

	buffer := append([]byte{}, frame[:half]...)
	if got := ExtractJPEGFrame(&buffer); got != nil {
		t.Fatalf("incomplete frame should not extract, got %d bytes", len(got))
	}
	if len(buffer) != half {
		t.Fatalf("partial data must stay buffered: have %d bytes, want %d", len(buffer), half)
	}

	buffer = append(buffer, frame[half:]...)
	if got := ExtractJPEGFrame(&buffer); !bytes.Equal(got, frame) {
		t.Fatal("frame should extract once the end marker arrives")
	}
}

func TestExtractJPEGFrameSkipsGarbage(t *testing.T) {
	frame := encodeTestJPEG(t, 16, 12, color.RGBA{R: 128, G: 64, A: 255})

	buffer := append([]byte{0x00, 0x01, 0x02, 0xAB}, frame...)
	if got := ExtractJPEGFrame(&buffer); !bytes.Equal(got, frame) {
		t.Fatal("leading garbage should be skipped")
	}
	if len(buffer) != 0 {
		t.Fatalf("buffer should be drained, %d bytes left", len(buffer))
	}
}

func TestDecodeRGBA(t *testing.T) {
	frame := encodeTestJPEG(t, 8, 6, color.RGBA{R: 200, G: 100, B: 50, A: 255})

	img, err := DecodeRGBA(frame)
	if err != nil {
		t.Fatalf("DecodeRGBA() error = %v", err)
	}
	if img.Bounds().Dx() != 8 || img.Bounds().Dy() != 6 {
		t.Fatalf("decoded bounds = %v, want 8x6", img.Bounds())
	}
}

func TestDecodeRGBAGarbage(t *testing.T) {
	if _, err := DecodeRGBA([]byte{0xFF, 0xD8, 0x00, 0xFF, 0xD9}); err == nil {
		t.Fatal("expected error for corrupt frame data")
	}
}

func TestFrameScanner(t *testing.T) {
	var stream bytes.Buffer
	want := 3
	for i := 0; i < want; i++ {
		stream.Write(encodeTestJPEG(t, 16, 12, color.RGBA{R: uint8(50 * i), A: 255}))
	}

	scanner := newFrameScanner(&stream)
	for i := 0; i < want; i++ {
		frame, err := scanner.next()
		if err != nil {
			t.Fatalf("frame %d: unexpected error %v", i, err)
		}
		if _, err := DecodeRGBA(frame); err != nil {
			t.Fatalf("frame %d does not decode: %v", i, err)
		}
	}

	if _, err := scanner.next(); err != io.EOF {
		t.Fatalf("expected io.EOF after %d frames, got %v", want, err)
	}
}
