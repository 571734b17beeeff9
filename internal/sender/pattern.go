package sender

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Label draws a line of text with an optional background box.
type Label struct {
	X, Y       int
	Padding    int
	Color      color.RGBA
	Background *color.RGBA
}

// basicfont glyph cell height
const labelFontSize = 13

// Draw renders text at the label position. It returns the box drawn.
func (l Label) Draw(img *image.RGBA, text string) image.Rectangle {
	if text == "" {
		return image.Rectangle{}
	}
	face := basicfont.Face7x13

	measure := &font.Drawer{Face: face}
	textWidthPx := measure.MeasureString(text).Ceil()

	box := image.Rect(l.X, l.Y, l.X+textWidthPx+l.Padding*2, l.Y+labelFontSize+l.Padding*2).
		Intersect(img.Bounds())
	if l.Background != nil {
		draw.Draw(img, box, &image.Uniform{*l.Background}, image.Point{}, draw.Over)
	}

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(l.Color),
		Face: face,
		// baseline sits at the bottom of the glyph cell minus descent
		Dot: fixed.P(l.X+l.Padding, l.Y+l.Padding+labelFontSize-face.Descent),
	}
	d.DrawString(text)
	return box
}

// Pattern is the reference test image: a horizontal gray ramp (value
// x mod 256, opaque) with a frame counter in the top-left corner.
type Pattern struct {
	base  []byte
	frame *image.RGBA
	label Label
}

func NewPattern(width, height int) *Pattern {
	base := make([]byte, width*height*4)
	for y := 0; y < height; y++ {
		row := base[y*width*4:]
		for x := 0; x < width; x++ {
			v := byte(x % 256)
			row[x*4] = v
			row[x*4+1] = v
			row[x*4+2] = v
			row[x*4+3] = 255
		}
	}
	return &Pattern{
		base:  base,
		frame: image.NewRGBA(image.Rect(0, 0, width, height)),
		label: Label{
			X:          16,
			Y:          16,
			Padding:    5,
			Color:      color.RGBA{255, 255, 255, 255},
			Background: &color.RGBA{0, 0, 0, 200},
		},
	}
}

// Render returns frame n. The image is reused by the next call.
func (p *Pattern) Render(n int64) *image.RGBA {
	copy(p.frame.Pix, p.base)
	p.label.Draw(p.frame, fmt.Sprintf("frame %d", n))
	return p.frame
}

// Plain returns the ramp without the overlay.
func (p *Pattern) Plain() []byte {
	return p.base
}
