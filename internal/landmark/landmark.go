// Package landmark defines the pose and face landmark types produced by an
// external detection model, the Detector capability the frame loop calls,
// and adapters that feed detections into the engine.
package landmark

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/large-farva/poise/internal/media"
)

// Pose landmark indices (MediaPipe pose topology).
const (
	PoseNose          = 0
	PoseLeftEar       = 7
	PoseRightEar      = 8
	PoseLeftShoulder  = 11
	PoseRightShoulder = 12
	PoseCount         = 33
)

// Face mesh landmark indices (MediaPipe face mesh topology).
const (
	FaceNoseTip       = 1
	FaceLeftEyeOuter  = 33
	FaceRightEyeOuter = 263
	FaceCount         = 478
)

// Point is a normalized landmark: X and Y in [0,1] relative to the frame,
// Z depth-like on a comparable scale. A point with a NaN coordinate marks an
// undetected landmark.
type Point struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
	Z float64 `json:"z" yaml:"z"`
}

// Missing is the placeholder stored for landmarks the detector did not locate.
var Missing = Point{X: math.NaN(), Y: math.NaN(), Z: math.NaN()}

// Valid reports whether every coordinate is finite.
func (p Point) Valid() bool {
	return isFinite(p.X) && isFinite(p.Y) && isFinite(p.Z)
}

func isFinite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }

// PoseSet is one person's pose landmarks in index order.
type PoseSet []Point

// At returns the landmark at index i, or false if absent.
func (s PoseSet) At(i int) (Point, bool) { return at(s, i) }

// FaceSet is one face's mesh landmarks in index order.
type FaceSet []Point

// At returns the landmark at index i, or false if absent.
func (s FaceSet) At(i int) (Point, bool) { return at(s, i) }

func at(pts []Point, i int) (Point, bool) {
	if i < 0 || i >= len(pts) {
		return Point{}, false
	}
	p := pts[i]
	if !p.Valid() {
		return Point{}, false
	}
	return p, true
}

// Detection is the result of running the models on one frame. Empty sets
// mean nobody was found; Rotation is either nil or a 16-element 4x4 matrix.
type Detection struct {
	Pose     PoseSet
	Face     FaceSet
	Rotation []float64
}

// Empty reports whether the detection located nothing.
func (d Detection) Empty() bool { return len(d.Pose) == 0 && len(d.Face) == 0 }

// Detector runs landmark models on frames. Detect must not fail for a frame
// with no subject; it returns an empty Detection instead.
type Detector interface {
	Detect(frame *media.Frame, ts time.Duration) (Detection, error)
	Close() error
}

var ErrClosed = errors.New("detector closed")

// ModelUnavailableError reports that a detector could not be initialized.
// Tracking never starts, but the camera preview may still run.
type ModelUnavailableError struct {
	Model string
	Err   error
}

func (e *ModelUnavailableError) Error() string {
	return fmt.Sprintf("landmark model %s unavailable: %v", e.Model, e.Err)
}

func (e *ModelUnavailableError) Unwrap() error { return e.Err }
