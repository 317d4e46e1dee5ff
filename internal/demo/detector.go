package demo

import (
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/large-farva/poise/internal/landmark"
	"github.com/large-farva/poise/internal/media"
)

// DetectorOptions tune the simulated subject.
type DetectorOptions struct {
	// Drift is the random-walk step applied to every parameter per frame.
	Drift float64
	// FaceDropout is the chance a frame has no face landmarks.
	FaceDropout float64
	// SlouchPercent is the rough share of time spent in a slouch episode.
	SlouchPercent int
	Seed          uint64
}

// subject is the simulated person's posture and gaze.
type subject struct {
	sway     float64 // horizontal offset of the shoulder midpoint
	tilt     float64 // shoulder tilt ratio
	head     float64 // nose offset from the shoulder midpoint, in shoulder widths
	neck     float64 // ear height above the shoulders, in shoulder widths
	yawDeg   float64
	pitchDeg float64
	gazeX    float64 // nose tip offset from the frame center
	gazeY    float64
}

var (
	upright = subject{tilt: 0.02, head: 0.03, neck: 0.32, yawDeg: 4, pitchDeg: 5}
	slouch  = subject{tilt: 0.12, head: 0.18, neck: 0.14, yawDeg: 22, pitchDeg: 28, gazeX: 0.18, gazeY: 0.2}
)

// Detector produces plausible landmarks without a model: a subject that
// wanders around an upright pose and now and then slouches and looks away.
type Detector struct {
	opts DetectorOptions

	mu       sync.Mutex
	rng      *rand.Rand
	cur      subject
	slouched bool
	episode  time.Duration // when the current upright/slouch episode ends
	closed   bool
}

func NewDetector(opts DetectorOptions) *Detector {
	if opts.Drift <= 0 {
		opts.Drift = 0.01
	}
	seed := opts.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &Detector{
		opts: opts,
		rng:  rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		cur:  upright,
	}
}

func (d *Detector) Detect(_ *media.Frame, ts time.Duration) (landmark.Detection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return landmark.Detection{}, landmark.ErrClosed
	}

	d.advanceEpisode(ts)
	target := upright
	if d.slouched {
		target = slouch
	}
	d.step(target)

	det := landmark.Detection{Pose: d.pose()}
	if d.rng.Float64() >= d.opts.FaceDropout {
		det.Face = d.face()
		det.Rotation = rotation(d.cur.yawDeg, d.cur.pitchDeg)
	}
	return det, nil
}

func (d *Detector) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return nil
}

// advanceEpisode flips between upright and slouched episodes of a few
// seconds each, weighted by SlouchPercent.
func (d *Detector) advanceEpisode(ts time.Duration) {
	if ts < d.episode {
		return
	}
	d.slouched = d.rng.IntN(100) < d.opts.SlouchPercent
	d.episode = ts + time.Duration(2+d.rng.IntN(5))*time.Second
}

// step moves every parameter a tenth of the way to target plus noise.
func (d *Detector) step(target subject) {
	walk := func(v, t, scale float64) float64 {
		return v + 0.1*(t-v) + d.rng.NormFloat64()*d.opts.Drift*scale
	}
	d.cur.sway = walk(d.cur.sway, target.sway, 1)
	d.cur.tilt = walk(d.cur.tilt, target.tilt, 1)
	d.cur.head = walk(d.cur.head, target.head, 1)
	d.cur.neck = walk(d.cur.neck, target.neck, 1)
	d.cur.yawDeg = walk(d.cur.yawDeg, target.yawDeg, 100)
	d.cur.pitchDeg = walk(d.cur.pitchDeg, target.pitchDeg, 100)
	d.cur.gazeX = walk(d.cur.gazeX, target.gazeX, 1)
	d.cur.gazeY = walk(d.cur.gazeY, target.gazeY, 1)
}

func (d *Detector) pose() landmark.PoseSet {
	const width, shoulderY = 0.36, 0.7
	s := d.cur
	midX := 0.5 + s.sway
	pose := make(landmark.PoseSet, landmark.PoseCount)
	for i := range pose {
		pose[i] = landmark.Missing
	}
	pose[landmark.PoseLeftShoulder] = landmark.Point{X: midX - width/2, Y: shoulderY - s.tilt*width/2}
	pose[landmark.PoseRightShoulder] = landmark.Point{X: midX + width/2, Y: shoulderY + s.tilt*width/2}

	earY := shoulderY - s.neck*width
	noseX := midX + s.head*width
	pose[landmark.PoseNose] = landmark.Point{X: noseX, Y: earY + 0.02}
	pose[landmark.PoseLeftEar] = landmark.Point{X: noseX - 0.05, Y: earY}
	pose[landmark.PoseRightEar] = landmark.Point{X: noseX + 0.05, Y: earY}
	return pose
}

func (d *Detector) face() landmark.FaceSet {
	face := make(landmark.FaceSet, landmark.FaceCount)
	for i := range face {
		face[i] = landmark.Missing
	}
	nx, ny := 0.5+d.cur.gazeX, 0.5+d.cur.gazeY
	face[landmark.FaceNoseTip] = landmark.Point{X: nx, Y: ny}
	face[landmark.FaceLeftEyeOuter] = landmark.Point{X: nx - 0.06, Y: ny - 0.05}
	face[landmark.FaceRightEyeOuter] = landmark.Point{X: nx + 0.06, Y: ny - 0.05}
	return face
}

// rotation returns the column-major 4x4 transform Ry(yaw)·Rx(pitch).
func rotation(yawDeg, pitchDeg float64) []float64 {
	y, p := yawDeg*math.Pi/180, pitchDeg*math.Pi/180
	ry := mat.NewDense(4, 4, []float64{
		math.Cos(y), 0, math.Sin(y), 0,
		0, 1, 0, 0,
		-math.Sin(y), 0, math.Cos(y), 0,
		0, 0, 0, 1,
	})
	rx := mat.NewDense(4, 4, []float64{
		1, 0, 0, 0,
		0, math.Cos(p), -math.Sin(p), 0,
		0, math.Sin(p), math.Cos(p), 0,
		0, 0, 0, 1,
	})
	var r mat.Dense
	r.Mul(ry, rx)

	out := make([]float64, 0, 16)
	for c := range 4 {
		out = append(out, mat.Col(nil, c, &r)...)
	}
	return out
}
