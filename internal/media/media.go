// Package media models the camera and microphone capability the session
// manager acquires: devices hand out a Stream made of tracks, and the stream
// exposes the latest video frame and raw PCM audio to its readers.
package media

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"
)

var (
	ErrPermissionDenied  = errors.New("permission denied")
	ErrDeviceUnavailable = errors.New("device unavailable")
	ErrDeviceBusy        = errors.New("device already owned by another stream")
)

// AcquisitionError reports that a camera/microphone stream could not be
// opened. Nothing is held when it is returned, so the caller may retry.
type AcquisitionError struct {
	Device string
	Err    error
}

func (e *AcquisitionError) Error() string {
	return fmt.Sprintf("acquire %s: %v", e.Device, e.Err)
}

func (e *AcquisitionError) Unwrap() error { return e.Err }

// Frame is one captured video image.
type Frame struct {
	Image    image.Image
	Seq      uint64
	Captured time.Time
}

// TrackKind distinguishes audio from video tracks.
type TrackKind string

const (
	KindAudio TrackKind = "audio"
	KindVideo TrackKind = "video"
)

// Track is one media track of a stream.
type Track interface {
	Kind() TrackKind
	Label() string
	Stop()
	Live() bool
}

// AudioTrack delivers signed 16-bit mono PCM.
type AudioTrack interface {
	Track
	SampleRate() int
	// Drain returns the samples captured since the previous call.
	Drain() []int16
}

// Stream is a live camera/microphone capture. Stop ends every track and is
// safe to call more than once.
type Stream interface {
	ID() string
	Tracks() []Track
	AudioTracks() []AudioTrack
	// Frame returns the most recent video frame, or false before the first.
	Frame() (*Frame, bool)
	Stop()
}

// Constraints describe what the caller wants from a device.
type Constraints struct {
	Width      int
	Height     int
	Audio      bool
	SampleRate int
}

// Device opens streams.
type Device interface {
	Name() string
	Acquire(ctx context.Context, c Constraints) (Stream, error)
}

// baseTrack carries the state shared by every track implementation.
type baseTrack struct {
	kind  TrackKind
	label string

	mu      sync.Mutex
	stopped bool
	onStop  func()
}

func (t *baseTrack) Kind() TrackKind { return t.kind }
func (t *baseTrack) Label() string   { return t.label }

func (t *baseTrack) Live() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.stopped
}

func (t *baseTrack) Stop() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	fn := t.onStop
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// stopAll stops every track of a stream.
func stopAll(tracks []Track) {
	for _, t := range tracks {
		t.Stop()
	}
}

// audioOnly filters the audio tracks out of tracks.
func audioOnly(tracks []Track) []AudioTrack {
	var out []AudioTrack
	for _, t := range tracks {
		if a, ok := t.(AudioTrack); ok && t.Kind() == KindAudio {
			out = append(out, a)
		}
	}
	return out
}
