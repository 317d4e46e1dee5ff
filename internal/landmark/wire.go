package landmark

import (
	"errors"
	"fmt"
)

// WirePoint is a landmark as serialized by the browser-side models.
type WirePoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// WireMatrix mirrors the model's matrix object.
type WireMatrix struct {
	Rows    int       `json:"rows"`
	Columns int       `json:"columns"`
	Data    []float64 `json:"data"`
}

// WireDetection is the JSON shape of a "landmarks" ingest message. Only the
// first person and the first face are used.
type WireDetection struct {
	TimestampMs                  float64       `json:"timestamp_ms"`
	PoseLandmarks                [][]WirePoint `json:"pose_landmarks"`
	FaceLandmarks                [][]WirePoint `json:"face_landmarks"`
	FacialTransformationMatrixes []WireMatrix  `json:"facial_transformation_matrixes"`
}

var ErrMalformedDetection = errors.New("malformed detection")

// Detection validates the wire shape once and converts it. Sets containing
// non-finite coordinates are rejected; a matrix that is not 4x4 is dropped.
func (w WireDetection) Detection() (Detection, error) {
	var d Detection

	if len(w.PoseLandmarks) > 0 && len(w.PoseLandmarks[0]) > 0 {
		pose, err := convertPoints(w.PoseLandmarks[0])
		if err != nil {
			return Detection{}, fmt.Errorf("pose: %w", err)
		}
		d.Pose = pose
	}
	if len(w.FaceLandmarks) > 0 && len(w.FaceLandmarks[0]) > 0 {
		face, err := convertPoints(w.FaceLandmarks[0])
		if err != nil {
			return Detection{}, fmt.Errorf("face: %w", err)
		}
		d.Face = face
	}
	if len(w.FacialTransformationMatrixes) > 0 {
		m := w.FacialTransformationMatrixes[0]
		if len(m.Data) == 16 {
			d.Rotation = append([]float64(nil), m.Data...)
		}
	}
	return d, nil
}

func convertPoints(in []WirePoint) ([]Point, error) {
	out := make([]Point, len(in))
	for i, p := range in {
		pt := Point{X: p.X, Y: p.Y, Z: p.Z}
		if !pt.Valid() {
			return nil, fmt.Errorf("%w: landmark %d is not finite", ErrMalformedDetection, i)
		}
		out[i] = pt
	}
	return out, nil
}
