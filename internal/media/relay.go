package media

import (
	"context"
	"image"
	"sync"
	"time"

	"github.com/google/uuid"
)

// maxRelayBacklog caps buffered audio (in samples) between drains so a
// stalled recorder cannot grow memory without bound.
const maxRelayBacklog = 48000 * 30

// Relay is a device fed by a remote publisher, typically a browser pushing
// camera frames and microphone PCM over the ingest WebSocket. Acquire fails
// until a publisher has connected.
type Relay struct {
	mu         sync.Mutex
	connected  bool
	sampleRate int
	latest     *Frame
	seq        uint64
	pending    []int16
	owner      *relayStream
}

// NewRelay returns a disconnected relay device.
func NewRelay() *Relay {
	return &Relay{}
}

func (r *Relay) Name() string { return "relay" }

// Connect marks a publisher as present. A zero sampleRate means the
// publisher sends video only.
func (r *Relay) Connect(sampleRate int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connected = true
	r.sampleRate = sampleRate
	r.pending = nil
}

// Disconnect drops the publisher. A live stream keeps its last frame but
// receives no new data.
func (r *Relay) Disconnect() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connected = false
}

// Connected reports whether a publisher is attached.
func (r *Relay) Connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connected
}

// PublishFrame stores img as the latest video frame.
func (r *Relay) PublishFrame(img image.Image, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	r.latest = &Frame{Image: img, Seq: r.seq, Captured: at}
}

// PublishAudio appends PCM samples for the current stream's audio track.
func (r *Relay) PublishAudio(samples []int16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.owner == nil || r.sampleRate == 0 {
		return
	}
	r.pending = append(r.pending, samples...)
	if over := len(r.pending) - maxRelayBacklog; over > 0 {
		r.pending = r.pending[over:]
	}
}

func (r *Relay) Acquire(ctx context.Context, c Constraints) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, &AcquisitionError{Device: r.Name(), Err: err}
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.connected {
		return nil, &AcquisitionError{Device: r.Name(), Err: ErrDeviceUnavailable}
	}
	if r.owner != nil {
		return nil, &AcquisitionError{Device: r.Name(), Err: ErrDeviceBusy}
	}

	st := &relayStream{id: uuid.NewString(), relay: r}
	st.tracks = append(st.tracks, &baseTrack{kind: KindVideo, label: "relay camera"})
	if c.Audio && r.sampleRate > 0 {
		st.tracks = append(st.tracks, &relayAudio{
			baseTrack: baseTrack{kind: KindAudio, label: "relay microphone"},
			relay:     r,
			rate:      r.sampleRate,
		})
	}
	r.owner = st
	r.pending = nil
	return st, nil
}

func (r *Relay) drain() []int16 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.pending
	r.pending = nil
	return out
}

func (r *Relay) frame() (*Frame, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.latest == nil {
		return nil, false
	}
	return r.latest, true
}

func (r *Relay) release(st *relayStream) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.owner == st {
		r.owner = nil
		r.pending = nil
	}
}

type relayStream struct {
	id     string
	relay  *Relay
	tracks []Track

	once sync.Once
	mu   sync.Mutex
	done bool
}

func (s *relayStream) ID() string                { return s.id }
func (s *relayStream) Tracks() []Track           { return s.tracks }
func (s *relayStream) AudioTracks() []AudioTrack { return audioOnly(s.tracks) }

func (s *relayStream) Frame() (*Frame, bool) {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done {
		return nil, false
	}
	return s.relay.frame()
}

func (s *relayStream) Stop() {
	s.once.Do(func() {
		s.mu.Lock()
		s.done = true
		s.mu.Unlock()
		stopAll(s.tracks)
		s.relay.release(s)
	})
}

type relayAudio struct {
	baseTrack
	relay *Relay
	rate  int
}

func (a *relayAudio) SampleRate() int { return a.rate }

func (a *relayAudio) Drain() []int16 {
	if !a.Live() {
		return nil
	}
	return a.relay.drain()
}
