// Package render draws camera frames and landmark overlays into a preview
// image and publishes it as a JPEG stream.
package render

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/large-farva/poise/internal/landmark"
)

var (
	PoseColor  = color.RGBA{R: 0, G: 230, B: 118, A: 255}
	FaceColor  = color.RGBA{R: 255, G: 193, B: 7, A: 255}
	labelBG    = color.RGBA{A: 170}
	labelColor = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

// Canvas is a fixed-size RGBA surface, the size of the preview.
type Canvas struct {
	img     *image.RGBA
	quality int
}

func NewCanvas(width, height, quality int) *Canvas {
	if quality <= 0 || quality > 100 {
		quality = 75
	}
	return &Canvas{img: image.NewRGBA(image.Rect(0, 0, width, height)), quality: quality}
}

func (c *Canvas) Bounds() image.Rectangle { return c.img.Bounds() }

func (c *Canvas) Image() *image.RGBA { return c.img }

// Clear fills the canvas with black.
func (c *Canvas) Clear() {
	draw.Draw(c.img, c.img.Bounds(), image.Black, image.Point{}, draw.Src)
}

// DrawFrame scales src to cover the whole canvas.
func (c *Canvas) DrawFrame(src image.Image) {
	if src == nil {
		c.Clear()
		return
	}
	xdraw.ApproxBiLinear.Scale(c.img, c.img.Bounds(), src, src.Bounds(), xdraw.Src, nil)
}

// DrawLandmarks plots normalized points as filled squares. Missing points are
// skipped.
func (c *Canvas) DrawLandmarks(pts []landmark.Point, radius int, col color.Color) {
	b := c.img.Bounds()
	u := image.NewUniform(col)
	for _, p := range pts {
		if !p.Valid() {
			continue
		}
		x := b.Min.X + int(p.X*float64(b.Dx()))
		y := b.Min.Y + int(p.Y*float64(b.Dy()))
		r := image.Rect(x-radius, y-radius, x+radius+1, y+radius+1).Intersect(b)
		if r.Empty() {
			continue
		}
		draw.Draw(c.img, r, u, image.Point{}, draw.Over)
	}
}

// DrawLabel writes text with its top-left corner at (x, y) on a translucent
// background strip.
func (c *Canvas) DrawLabel(x, y int, text string) {
	face := basicfont.Face7x13
	d := &font.Drawer{Dst: c.img, Src: image.NewUniform(labelColor), Face: face}
	width := d.MeasureString(text).Ceil()
	m := face.Metrics()
	height := (m.Ascent + m.Descent).Ceil()

	bg := image.Rect(x-3, y-2, x+width+3, y+height+2).Intersect(c.img.Bounds())
	draw.Draw(c.img, bg, image.NewUniform(labelBG), image.Point{}, draw.Over)

	d.Dot = fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y) + m.Ascent}
	d.DrawString(text)
}

// EncodeJPEG returns the canvas as a JPEG.
func (c *Canvas) EncodeJPEG() ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, c.img, &jpeg.Options{Quality: c.quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
