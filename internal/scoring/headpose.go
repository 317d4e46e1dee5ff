package scoring

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/large-farva/poise/internal/landmark"
)

// MatrixLayout says how the 16 values of a facial transformation matrix are
// ordered.
type MatrixLayout string

const (
	// LayoutAuto tries both orders and keeps the one implying less rotation.
	// It is a heuristic; set an explicit layout when the detector documents
	// its convention.
	LayoutAuto        MatrixLayout = "auto"
	LayoutColumnMajor MatrixLayout = "column-major"
	LayoutRowMajor    MatrixLayout = "row-major"
)

func ParseMatrixLayout(s string) (MatrixLayout, error) {
	switch l := MatrixLayout(s); l {
	case LayoutAuto, LayoutColumnMajor, LayoutRowMajor:
		return l, nil
	case "":
		return LayoutAuto, nil
	default:
		return "", fmt.Errorf("unknown matrix layout %q (want auto, column-major or row-major)", s)
	}
}

// HeadPose is an absolute yaw and pitch in degrees.
type HeadPose struct {
	YawDeg   float64      `json:"yawDeg"`
	PitchDeg float64      `json:"pitchDeg"`
	Source   string       `json:"source"`
	Layout   MatrixLayout `json:"layout,omitempty"`
}

type headPoseStrategy func(face landmark.FaceSet, rotation []float64, layout MatrixLayout) (HeadPose, error)

// headPoseChain is tried in order; the first strategy without an error wins.
var headPoseChain = []headPoseStrategy{poseFromMatrix, poseFromGeometry}

var errNoMatrix = errors.New("no usable rotation matrix")

// EstimateHeadPose runs the strategy chain. The returned error is the last
// strategy's.
func EstimateHeadPose(face landmark.FaceSet, rotation []float64, layout MatrixLayout) (HeadPose, error) {
	var err error
	for _, s := range headPoseChain {
		var hp HeadPose
		if hp, err = s(face, rotation, layout); err == nil {
			return hp, nil
		}
	}
	return HeadPose{}, err
}

// poseFromMatrix reads the forward (z) axis. Viewed as row-major, the third
// row holds it for a column-major source and the third column for a
// row-major one.
func poseFromMatrix(_ landmark.FaceSet, rotation []float64, layout MatrixLayout) (HeadPose, error) {
	if len(rotation) != 16 {
		return HeadPose{}, errNoMatrix
	}
	for _, v := range rotation {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return HeadPose{}, errNoMatrix
		}
	}
	m := mat.NewDense(4, 4, append([]float64(nil), rotation...))

	colMajor := yawPitch(mat.Row(nil, 2, m))
	colMajor.Layout = LayoutColumnMajor
	rowMajor := yawPitch(mat.Col(nil, 2, m))
	rowMajor.Layout = LayoutRowMajor

	switch layout {
	case LayoutColumnMajor:
		return colMajor, nil
	case LayoutRowMajor:
		return rowMajor, nil
	}
	if colMajor.YawDeg+colMajor.PitchDeg <= rowMajor.YawDeg+rowMajor.PitchDeg {
		return colMajor, nil
	}
	return rowMajor, nil
}

func yawPitch(forward []float64) HeadPose {
	fx, fy, fz := forward[0], forward[1], forward[2]
	yaw := math.Atan2(fx, fz)
	pitch := math.Atan2(-fy, math.Hypot(fx, fz))
	return HeadPose{
		YawDeg:   math.Abs(Rad2Deg(yaw)),
		PitchDeg: math.Abs(Rad2Deg(pitch)),
		Source:   "matrix",
	}
}

// poseFromGeometry approximates the pose from where the nose tip sits
// relative to the outer eye corners.
func poseFromGeometry(face landmark.FaceSet, _ []float64, _ MatrixLayout) (HeadPose, error) {
	le, okL := face.At(landmark.FaceLeftEyeOuter)
	re, okR := face.At(landmark.FaceRightEyeOuter)
	nose, okN := face.At(landmark.FaceNoseTip)
	if !okL || !okR || !okN {
		return HeadPose{}, ErrMissingLandmarks
	}
	eyeDist := Dist2(le, re)
	if eyeDist < minReference {
		return HeadPose{}, fmt.Errorf("eye distance %g: %w", eyeDist, ErrDegenerate)
	}
	eyeMid := Mid(le, re)
	nx := (nose.X - eyeMid.X) / eyeDist
	ny := (nose.Y - eyeMid.Y) / eyeDist
	return HeadPose{
		YawDeg:   math.Abs(Rad2Deg(math.Atan(nx))),
		PitchDeg: math.Abs(Rad2Deg(math.Atan(ny))),
		Source:   "landmarks",
	}, nil
}
