// Package scoring turns one frame's landmarks into posture and eye-contact
// scores. Everything here is a pure function of its inputs.
package scoring

import "errors"

var (
	// ErrMissingLandmarks means a landmark the metric requires was not
	// detected. The frame is excluded from that metric.
	ErrMissingLandmarks = errors.New("required landmarks missing")

	// ErrDegenerate means the reference length (shoulder width, eye
	// distance) was too small to normalize by.
	ErrDegenerate = errors.New("degenerate landmark geometry")
)

const minReference = 1e-6

// Band is a pair of thresholds for a penalty. For lower-is-better metrics
// Good is the good-max and Bad the bad-max; for higher-is-better metrics Good
// is the good-min and Bad the bad-min.
type Band struct {
	Good float64 `toml:"good" json:"good"`
	Bad  float64 `toml:"bad" json:"bad"`
}

type PostureWeights struct {
	Tilt float64 `toml:"tilt" json:"tilt"`
	Head float64 `toml:"head" json:"head"`
	Neck float64 `toml:"neck" json:"neck"`
}

// PostureConfig holds the posture thresholds and weights.
type PostureConfig struct {
	Tilt        Band           `toml:"tilt" json:"tilt"`
	HeadForward Band           `toml:"head_forward" json:"head_forward"`
	Neck        Band           `toml:"neck" json:"neck"`
	Weights     PostureWeights `toml:"weights" json:"weights"`
}

func DefaultPosture() PostureConfig {
	return PostureConfig{
		Tilt:        Band{Good: 0.06, Bad: 0.14},
		HeadForward: Band{Good: 0.08, Bad: 0.20},
		Neck:        Band{Good: 0.22, Bad: 0.12},
		Weights:     PostureWeights{Tilt: 0.30, Head: 0.40, Neck: 0.30},
	}
}

type EyeWeights struct {
	Yaw    float64 `toml:"yaw" json:"yaw"`
	Pitch  float64 `toml:"pitch" json:"pitch"`
	Center float64 `toml:"center" json:"center"`
}

// EyeConfig holds the eye-contact thresholds, weights, and the rotation
// matrix layout to assume.
type EyeConfig struct {
	Yaw          Band         `toml:"yaw" json:"yaw"`
	Pitch        Band         `toml:"pitch" json:"pitch"`
	Center       Band         `toml:"center" json:"center"`
	Weights      EyeWeights   `toml:"weights" json:"weights"`
	MatrixLayout MatrixLayout `toml:"matrix_layout" json:"matrix_layout"`
}

func DefaultEye() EyeConfig {
	return EyeConfig{
		Yaw:          Band{Good: 12, Bad: 25},
		Pitch:        Band{Good: 18, Bad: 35},
		Center:       Band{Good: 0.22, Bad: 0.40},
		Weights:      EyeWeights{Yaw: 0.45, Pitch: 0.35, Center: 0.20},
		MatrixLayout: LayoutAuto,
	}
}
