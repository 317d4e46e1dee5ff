package scoring

import (
	"fmt"
	"math"

	"github.com/large-farva/poise/internal/landmark"
)

type EyePenalties struct {
	Yaw    float64 `json:"yawPenalty"`
	Pitch  float64 `json:"pitchPenalty"`
	Center float64 `json:"centerPenalty"`
}

// EyeScore is the eye-contact result for one frame. Head pose stands in for
// gaze: facing the camera with the face centered scores highest.
type EyeScore struct {
	Score           int          `json:"score"`
	YawDeg          float64      `json:"yawDeg"`
	PitchDeg        float64      `json:"pitchDeg"`
	CenterDist      float64      `json:"centerDist"`
	UsedMatrix      bool         `json:"usedMatrix"`
	Layout          MatrixLayout `json:"layout,omitempty"`
	WeightedPenalty float64      `json:"weightedPenalty"`
	Penalties       EyePenalties `json:"penalties"`
}

// EyeContact scores one face. rotation may be nil.
func EyeContact(face landmark.FaceSet, rotation []float64, cfg EyeConfig) (EyeScore, error) {
	nose, ok := face.At(landmark.FaceNoseTip)
	if !ok {
		return EyeScore{}, fmt.Errorf("eye contact: %w", ErrMissingLandmarks)
	}
	hp, err := EstimateHeadPose(face, rotation, cfg.MatrixLayout)
	if err != nil {
		return EyeScore{}, fmt.Errorf("eye contact: %w", err)
	}

	res := EyeScore{
		YawDeg:     hp.YawDeg,
		PitchDeg:   hp.PitchDeg,
		CenterDist: math.Hypot(nose.X-0.5, nose.Y-0.5),
		UsedMatrix: hp.Source == "matrix",
		Layout:     hp.Layout,
	}
	res.Penalties = EyePenalties{
		Yaw:    PenaltyBetween(res.YawDeg, cfg.Yaw.Good, cfg.Yaw.Bad),
		Pitch:  PenaltyBetween(res.PitchDeg, cfg.Pitch.Good, cfg.Pitch.Bad),
		Center: PenaltyBetween(res.CenterDist, cfg.Center.Good, cfg.Center.Bad),
	}
	res.WeightedPenalty, res.Score = combine(
		[3]float64{cfg.Weights.Yaw, cfg.Weights.Pitch, cfg.Weights.Center},
		[3]float64{res.Penalties.Yaw, res.Penalties.Pitch, res.Penalties.Center},
	)
	return res, nil
}
