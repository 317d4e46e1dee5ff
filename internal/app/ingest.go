package app

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"image/jpeg"

	"github.com/large-farva/poise/internal/clock"
	"github.com/large-farva/poise/internal/landmark"
	"github.com/large-farva/poise/internal/media"
)

var (
	errRelayDisabled   = errors.New("media.source is not relay, frames and audio are not accepted")
	errRemoteDisabled  = errors.New("detector.kind is not remote, landmarks are not accepted")
	errOddAudioPayload = errors.New("audio payload is not whole 16-bit samples")
)

// ingestSink routes what a publisher sends to the relay device and the
// remote detector. Either may be nil when the configuration does not use it.
type ingestSink struct {
	clock  clock.Scheduler
	relay  *media.Relay
	remote *landmark.Remote
}

func (s *ingestSink) Connect(sampleRate int) {
	if s.relay != nil {
		s.relay.Connect(sampleRate)
	}
}

func (s *ingestSink) Disconnect() {
	if s.relay != nil {
		s.relay.Disconnect()
	}
}

func (s *ingestSink) Landmarks(w landmark.WireDetection) error {
	if s.remote == nil {
		return errRemoteDisabled
	}
	d, err := w.Detection()
	if err != nil {
		return err
	}
	s.remote.Push(d)
	return nil
}

func (s *ingestSink) Frame(b []byte) error {
	if s.relay == nil {
		return errRelayDisabled
	}
	img, err := jpeg.Decode(bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("decode frame: %w", err)
	}
	s.relay.PublishFrame(img, s.clock.Now())
	return nil
}

func (s *ingestSink) Audio(b []byte) error {
	if s.relay == nil {
		return errRelayDisabled
	}
	if len(b)%2 != 0 {
		return errOddAudioPayload
	}
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[2*i:]))
	}
	s.relay.PublishAudio(samples)
	return nil
}
