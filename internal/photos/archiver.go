package photos

import (
	"fmt"
	"image/jpeg"
	"os"
	"path/filepath"

	"cropsight/internal/pipeline"
)

// DefaultQuality applies to written track photos
const DefaultQuality = 90

// Archiver writes one representative crop per tracked object into a
// run's photo directory. The first frame a track appears in supplies the
// photo and its file name; later sightings of the same id never
// overwrite it, even when they carry a different class label.
type Archiver struct {
	dir     string
	quality int
	seen    map[int]bool
}

// NewArchiver creates an archiver writing into dir, which must already
// exist
func NewArchiver(dir string, quality int) (*Archiver, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("photo directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("photo directory %s is not a directory", dir)
	}
	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}
	return &Archiver{dir: dir, quality: quality, seen: make(map[int]bool)}, nil
}

// Capture crops the detection's unpadded box from the frame and writes
// it as {class}_ID{track}.jpg on the track's first sighting. It returns
// the written path, or "" when the track already has a photo or the crop
// region is empty after clipping. A failed write leaves the track
// unmarked so a later frame can retry the photo.
func (a *Archiver) Capture(frame *pipeline.Frame, det pipeline.Detection) (string, error) {
	if det.TrackID == nil {
		return "", nil
	}
	id := *det.TrackID
	if a.seen[id] {
		return "", nil
	}

	rect := det.BBox.CropRect(frame.Width, frame.Height)
	if rect.Empty() {
		return "", nil
	}
	crop := frame.Image.SubImage(rect)

	path := filepath.Join(a.dir, fmt.Sprintf("%s_ID%d.jpg", det.Class, id))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create photo: %w", err)
	}
	if err := jpeg.Encode(f, crop, &jpeg.Options{Quality: a.quality}); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("failed to encode photo: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to write photo: %w", err)
	}

	a.seen[id] = true
	return path, nil
}

// Count returns the number of photos written so far
func (a *Archiver) Count() int {
	return len(a.seen)
}

var _ pipeline.PhotoArchiver = (*Archiver)(nil)
