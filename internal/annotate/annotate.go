package annotate

import (
	"fmt"
	"image"
	"image/color"
	"strconv"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"cropsight/internal/pipeline"
)

// BoxPadding widens every drawn box on all sides, clipped to the frame
const BoxPadding = 10

const boxThickness = 2

// DefaultColor is used for classes missing from the color table
var DefaultColor = color.RGBA{255, 255, 255, 255}

// Annotator draws detection overlays onto frames. The class color table
// is fixed at construction so runs with different label vocabularies can
// coexist without shared state.
type Annotator struct {
	colors map[string]color.RGBA
}

// New creates an annotator from a class to "#RRGGBB" color table.
// Invalid entries fall back to the default color at draw time.
func New(classColors map[string]string) *Annotator {
	colors := make(map[string]color.RGBA, len(classColors))
	for class, hex := range classColors {
		c, err := ParseHexColor(hex)
		if err != nil {
			continue
		}
		colors[class] = c
	}
	return &Annotator{colors: colors}
}

// DefaultColors is the stock palette for the disease vocabulary
func DefaultColors() map[string]string {
	return map[string]string{
		"Healthy":      "#32CD32",
		"Early blight": "#FFA500",
		"Late blight":  "#DC1414",
	}
}

// Annotate draws a padded box and an identity label for every detection,
// mutating the frame in place. Degenerate boxes are drawn with clipped
// coordinates rather than skipped; annotation never fails the pipeline.
func (a *Annotator) Annotate(frame *pipeline.Frame, detections []pipeline.Detection) {
	for _, det := range detections {
		c := a.classColor(det.Class)
		x0, y0, x1, y1 := paddedBox(det.BBox, frame.Width, frame.Height)
		drawBox(frame.Image, x0, y0, x1, y1, c, boxThickness)

		if det.TrackID == nil {
			continue
		}
		label := fmt.Sprintf("ID %d: %s (%.2f%%)", *det.TrackID, det.Class, det.Confidence*100)
		drawLabel(frame.Image, x0, y0-5, label, c)
	}
}

func (a *Annotator) classColor(class string) color.RGBA {
	if c, ok := a.colors[class]; ok {
		return c
	}
	return DefaultColor
}

// paddedBox grows the detection box by BoxPadding on every side and clips
// it to the frame bounds
func paddedBox(b pipeline.BBox, width, height int) (x0, y0, x1, y1 int) {
	x0 = int(b.XMin) - BoxPadding
	y0 = int(b.YMin) - BoxPadding
	x1 = int(b.XMax) + BoxPadding
	y1 = int(b.YMax) + BoxPadding
	if x0 < 0 {
		x0 = 0
	}
	if y0 < 0 {
		y0 = 0
	}
	if x1 > width-1 {
		x1 = width - 1
	}
	if y1 > height-1 {
		y1 = height - 1
	}
	if x1 < x0 {
		x1 = x0
	}
	if y1 < y0 {
		y1 = y0
	}
	return
}

// drawBox draws a rectangle outline on the image
func drawBox(img *image.RGBA, x0, y0, x1, y1 int, c color.RGBA, thickness int) {
	bounds := img.Bounds()

	for t := 0; t < thickness; t++ {
		// Top edge
		for i := x0; i <= x1 && i < bounds.Max.X; i++ {
			if y0+t >= 0 && y0+t < bounds.Max.Y && i >= 0 {
				img.Set(i, y0+t, c)
			}
		}
		// Bottom edge
		for i := x0; i <= x1 && i < bounds.Max.X; i++ {
			if y1-t >= 0 && y1-t < bounds.Max.Y && i >= 0 {
				img.Set(i, y1-t, c)
			}
		}
		// Left edge
		for j := y0; j <= y1 && j < bounds.Max.Y; j++ {
			if x0+t >= 0 && x0+t < bounds.Max.X && j >= 0 {
				img.Set(x0+t, j, c)
			}
		}
		// Right edge
		for j := y0; j <= y1 && j < bounds.Max.Y; j++ {
			if x1-t >= 0 && x1-t < bounds.Max.X && j >= 0 {
				img.Set(x1-t, j, c)
			}
		}
	}
}

// drawLabel draws text with a dark background strip. The y coordinate is
// clamped so the label never lands off-frame above a box near the top.
func drawLabel(img *image.RGBA, x, y int, label string, c color.RGBA) {
	if y < 10 {
		y = 10
	}
	if x < 0 {
		x = 0
	}

	bgColor := color.RGBA{0, 0, 0, 180}
	textWidth := len(label) * 7
	for dy := -2; dy < 12; dy++ {
		for dx := -2; dx < textWidth+2; dx++ {
			px, py := x+dx, y+dy
			if px >= 0 && px < img.Bounds().Max.X && py >= 0 && py < img.Bounds().Max.Y {
				img.Set(px, py, bgColor)
			}
		}
	}

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y + 10)},
	}
	d.DrawString(label)
}

// ParseHexColor parses "#RRGGBB" into an opaque RGBA color
func ParseHexColor(s string) (color.RGBA, error) {
	s = strings.TrimPrefix(s, "#")
	if len(s) != 6 {
		return color.RGBA{}, fmt.Errorf("invalid hex color %q", s)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("invalid hex color %q", s)
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 255}, nil
}

var _ pipeline.FrameAnnotator = (*Annotator)(nil)
