package render

import (
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Broadcaster fans JPEG frames out to preview subscribers. Slow subscribers
// miss frames rather than blocking the publisher.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[chan []byte]struct{}
	latest []byte
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[chan []byte]struct{})}
}

// Subscribers reports how many preview clients are attached.
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Subscribe returns a channel of frames and a cancel func. The latest frame,
// if any, is delivered first.
func (b *Broadcaster) Subscribe() (<-chan []byte, func()) {
	ch := make(chan []byte, 2)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	if b.latest != nil {
		ch <- b.latest
	}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
}

func (b *Broadcaster) Publish(frame []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.latest = frame
	for ch := range b.subs {
		select {
		case ch <- frame:
		default:
		}
	}
}

// Latest returns the most recent frame.
func (b *Broadcaster) Latest() ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.latest, b.latest != nil
}

// MJPEGHandler serves the broadcast as multipart/x-mixed-replace. When no
// frame arrives for idle, the blank frame is repeated to keep the
// connection open.
func MJPEGHandler(b *Broadcaster, blank []byte, idle time.Duration, log logrus.FieldLogger) http.HandlerFunc {
	if idle <= 0 {
		idle = 5 * time.Second
	}
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}
		frames, cancel := b.Subscribe()
		defer cancel()

		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
		w.Header().Set("Cache-Control", "no-cache")

		timer := time.NewTimer(idle)
		defer timer.Stop()
		for {
			data := blank
			select {
			case <-r.Context().Done():
				return
			case f, ok := <-frames:
				if !ok {
					return
				}
				data = f
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
			case <-timer.C:
			}
			timer.Reset(idle)

			if err := writePart(w, data); err != nil {
				log.WithError(err).Debug("preview client disconnected")
				return
			}
			flusher.Flush()
		}
	}
}

func writePart(w http.ResponseWriter, data []byte) error {
	if _, err := w.Write([]byte("--frame\r\nContent-Type: image/jpeg\r\n\r\n")); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	_, err := w.Write([]byte("\r\n"))
	return err
}
