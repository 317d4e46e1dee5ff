package render

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/large-farva/poise/internal/aggregate"
	"github.com/large-farva/poise/internal/landmark"
	"github.com/large-farva/poise/internal/media"
)

// Preview renders frames for the frame loop and publishes them. Encoding is
// skipped while nobody is watching.
type Preview struct {
	canvas    *Canvas
	out       *Broadcaster
	landmarks bool
	log       logrus.FieldLogger

	status string
}

func NewPreview(c *Canvas, out *Broadcaster, drawLandmarks bool, log logrus.FieldLogger) *Preview {
	return &Preview{canvas: c, out: out, landmarks: drawLandmarks, log: log}
}

// SetStatus sets the caption drawn along the bottom edge.
func (p *Preview) SetStatus(s string) { p.status = s }

func (p *Preview) Raw(f *media.Frame) {
	if f == nil {
		p.canvas.Clear()
		return
	}
	p.canvas.DrawFrame(f.Image)
}

func (p *Preview) Overlay(d landmark.Detection, snap aggregate.Snapshot) {
	if p.landmarks {
		p.canvas.DrawLandmarks(d.Pose, 2, PoseColor)
		p.canvas.DrawLandmarks(d.Face, 0, FaceColor)
	}
	p.canvas.DrawLabel(8, 8, fmt.Sprintf("posture %s  eye %s", scoreText(snap.Posture.Smoothed), scoreText(snap.Eye.Smoothed)))
}

func (p *Preview) Flush() {
	if p.status != "" {
		h := p.canvas.Bounds().Dy()
		p.canvas.DrawLabel(8, h-22, p.status)
	}
	if p.out.Subscribers() == 0 {
		return
	}
	b, err := p.canvas.EncodeJPEG()
	if err != nil {
		p.log.WithError(err).Warn("encode preview frame")
		return
	}
	p.out.Publish(b)
}

func scoreText(v *int) string {
	if v == nil {
		return "--"
	}
	return fmt.Sprint(*v)
}

// BlankJPEG renders an empty preview frame of the given size.
func BlankJPEG(width, height int) ([]byte, error) {
	c := NewCanvas(width, height, 75)
	c.Clear()
	c.DrawLabel(8, 8, "no signal")
	return c.EncodeJPEG()
}
