package landmark

import (
	"sync"
	"time"

	"github.com/large-farva/poise/internal/clock"
	"github.com/large-farva/poise/internal/media"
)

// Remote is a Detector whose results are computed elsewhere (in the
// browser, next to the camera) and pushed in over the ingest socket. Detect
// hands back the newest pushed result as long as it is fresher than Stale.
type Remote struct {
	clock clock.Scheduler
	stale time.Duration

	mu       sync.Mutex
	latest   Detection
	pushedAt time.Time
	have     bool
	closed   bool
}

// NewRemote returns a Remote detector. A non-positive stale window defaults
// to 500ms.
func NewRemote(clk clock.Scheduler, stale time.Duration) *Remote {
	if clk == nil {
		clk = clock.Real{}
	}
	if stale <= 0 {
		stale = 500 * time.Millisecond
	}
	return &Remote{clock: clk, stale: stale}
}

// Push records d as the newest detection.
func (r *Remote) Push(d Detection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.latest = d
	r.pushedAt = r.clock.Now()
	r.have = true
}

func (r *Remote) Detect(_ *media.Frame, _ time.Duration) (Detection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return Detection{}, ErrClosed
	}
	if !r.have || r.clock.Now().Sub(r.pushedAt) > r.stale {
		return Detection{}, nil
	}
	return r.latest, nil
}

func (r *Remote) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.have = false
	return nil
}
