// Package audio records the microphone tracks of a held media stream into
// in-memory chunks and assembles them into a WAV blob on stop.
package audio

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/large-farva/poise/internal/media"
)

// MediaTypeWAV is the only container the recorder produces.
const MediaTypeWAV = "audio/wav"

var (
	ErrNoAudioTrack = errors.New("stream has no audio track")
	ErrUnsupported  = errors.New("unsupported recording media type")
	ErrTracksEnded  = errors.New("all audio tracks ended before stop")
	ErrBufferFull   = errors.New("recording buffer full")
)

// RecorderError is a failure while recording or stopping. Whatever was
// captured before it is still available from Blob.
type RecorderError struct {
	Op  string
	Err error
}

func (e *RecorderError) Error() string { return fmt.Sprintf("recorder %s: %v", e.Op, e.Err) }

func (e *RecorderError) Unwrap() error { return e.Err }

type Config struct {
	// Timeslice is how often buffered samples are collected into a chunk.
	Timeslice time.Duration
	MediaType string
	// MaxBytes caps the PCM held in memory; 0 means no cap.
	MaxBytes int64
}

// Blob is the finalized recording.
type Blob struct {
	Data       []byte
	MediaType  string
	SampleRate int
	Duration   time.Duration
}

func (b *Blob) Size() int {
	if b == nil {
		return 0
	}
	return len(b.Data)
}

// Recorder collects PCM from a stream's audio tracks on its own goroutine.
// Multiple tracks are mixed down to mono by averaging.
type Recorder struct {
	tracks    []media.AudioTrack
	rate      int
	timeslice time.Duration
	mediaType string
	maxBytes  int64
	log       logrus.FieldLogger

	// OnChunk, if set, is called from the collector goroutine with the size
	// of every chunk.
	OnChunk func(n int)

	mu      sync.Mutex
	chunks  [][]byte
	size    int64
	samples int64
	failure error

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	done      chan error
}

// NewRecorder prepares a recorder over the audio tracks of s. It returns
// ErrUnsupported for a media type other than audio/wav and ErrNoAudioTrack
// when s carries no usable audio.
func NewRecorder(s media.Stream, cfg Config, log logrus.FieldLogger) (*Recorder, error) {
	if cfg.MediaType == "" {
		cfg.MediaType = MediaTypeWAV
	}
	if cfg.MediaType != MediaTypeWAV {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, cfg.MediaType)
	}
	if cfg.Timeslice <= 0 {
		cfg.Timeslice = 250 * time.Millisecond
	}

	var tracks []media.AudioTrack
	rate := 0
	for _, t := range s.AudioTracks() {
		if !t.Live() {
			continue
		}
		if rate == 0 {
			rate = t.SampleRate()
		}
		if t.SampleRate() != rate {
			log.WithFields(logrus.Fields{"track": t.Label(), "rate": t.SampleRate()}).
				Warn("skipping audio track with mismatched sample rate")
			continue
		}
		tracks = append(tracks, t)
	}
	if len(tracks) == 0 {
		return nil, ErrNoAudioTrack
	}

	return &Recorder{
		tracks:    tracks,
		rate:      rate,
		timeslice: cfg.Timeslice,
		mediaType: cfg.MediaType,
		maxBytes:  cfg.MaxBytes,
		log:       log,
		stopCh:    make(chan struct{}),
		done:      make(chan error, 1),
	}, nil
}

func (r *Recorder) SampleRate() int { return r.rate }

// Start launches the collector. Calling it again has no effect.
func (r *Recorder) Start() {
	r.startOnce.Do(func() {
		// Discard anything buffered before recording began.
		for _, t := range r.tracks {
			t.Drain()
		}
		go r.collect()
	})
}

func (r *Recorder) collect() {
	ticker := time.NewTicker(r.timeslice)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.slice()
		case <-r.stopCh:
			r.slice()
			r.done <- r.finish()
			close(r.done)
			return
		}
	}
}

// slice drains every track and appends one mixed chunk.
func (r *Recorder) slice() {
	var mixed []int16
	switch len(r.tracks) {
	case 1:
		mixed = r.tracks[0].Drain()
	default:
		mixed = mix(r.tracks)
	}
	if len(mixed) == 0 {
		return
	}

	chunk := appendPCM(make([]byte, 0, len(mixed)*2), mixed)

	r.mu.Lock()
	if r.failure != nil {
		r.mu.Unlock()
		return
	}
	if r.maxBytes > 0 && r.size+int64(len(chunk)) > r.maxBytes {
		r.failure = &RecorderError{Op: "record", Err: ErrBufferFull}
		r.mu.Unlock()
		r.log.WithField("bytes", r.size).Warn("recording buffer full, further audio dropped")
		return
	}
	r.chunks = append(r.chunks, chunk)
	r.size += int64(len(chunk))
	r.samples += int64(len(mixed))
	r.mu.Unlock()

	if r.OnChunk != nil {
		r.OnChunk(len(chunk))
	}
}

func mix(tracks []media.AudioTrack) []int16 {
	drained := make([][]int16, len(tracks))
	n := 0
	for i, t := range tracks {
		drained[i] = t.Drain()
		n = max(n, len(drained[i]))
	}
	out := make([]int16, n)
	for i := range n {
		var sum, count int
		for _, d := range drained {
			if i < len(d) {
				sum += int(d[i])
				count++
			}
		}
		out[i] = int16(sum / count)
	}
	return out
}

func (r *Recorder) finish() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failure != nil {
		return r.failure
	}
	live := false
	for _, t := range r.tracks {
		if t.Live() {
			live = true
			break
		}
	}
	if !live {
		return &RecorderError{Op: "stop", Err: ErrTracksEnded}
	}
	return nil
}

// Stop ends recording. The returned channel yields nil once the final slice
// is collected, or a *RecorderError. Every call returns the same channel; a
// recorder that was never started acknowledges immediately.
func (r *Recorder) Stop() <-chan error {
	r.stopOnce.Do(func() {
		started := true
		r.startOnce.Do(func() { started = false })
		if !started {
			r.done <- nil
			close(r.done)
			return
		}
		close(r.stopCh)
	})
	return r.done
}

// Bytes reports the PCM bytes captured so far.
func (r *Recorder) Bytes() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Blob concatenates the captured chunks behind a WAV header.
func (r *Recorder) Blob() *Blob {
	r.mu.Lock()
	defer r.mu.Unlock()

	var buf bytes.Buffer
	buf.Grow(wavHeaderSize + int(r.size))
	// Writes to a bytes.Buffer cannot fail.
	_ = writeWAVHeader(&buf, uint32(r.rate), uint32(r.size))
	for _, c := range r.chunks {
		buf.Write(c)
	}
	return &Blob{
		Data:       buf.Bytes(),
		MediaType:  r.mediaType,
		SampleRate: r.rate,
		Duration:   time.Duration(r.samples) * time.Second / time.Duration(r.rate),
	}
}
