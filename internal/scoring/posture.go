package scoring

import (
	"fmt"
	"math"

	"github.com/large-farva/poise/internal/landmark"
)

// PosturePenalties are the per-term penalties, each in [0,1].
type PosturePenalties struct {
	Tilt float64 `json:"tiltPenalty"`
	Head float64 `json:"headPenalty"`
	Neck float64 `json:"neckPenalty"`
}

// PostureScore is the result for one frame.
type PostureScore struct {
	Score           int              `json:"score"`
	Tilt            float64          `json:"tilt"`
	HeadOffset      float64          `json:"headOffset"`
	NeckRatio       float64          `json:"neckRatio"`
	HeadTop         string           `json:"headTop"`
	WeightedPenalty float64          `json:"weightedPenalty"`
	Penalties       PosturePenalties `json:"penalties"`
}

type headTopSource struct {
	name string
	find func(landmark.PoseSet) (landmark.Point, bool)
}

// headTopChain is tried in order. The nose is only an approximation of the
// top of the head and is used when the ears are not both visible.
var headTopChain = []headTopSource{
	{name: "ears", find: func(p landmark.PoseSet) (landmark.Point, bool) {
		l, okL := p.At(landmark.PoseLeftEar)
		r, okR := p.At(landmark.PoseRightEar)
		if !okL || !okR {
			return landmark.Point{}, false
		}
		return Mid(l, r), true
	}},
	{name: "nose", find: func(p landmark.PoseSet) (landmark.Point, bool) {
		return p.At(landmark.PoseNose)
	}},
}

// Posture scores shoulder tilt, horizontal head alignment and neck
// extension. Image y grows downward, so a positive neck ratio means the head
// sits above the shoulders.
func Posture(pose landmark.PoseSet, cfg PostureConfig) (PostureScore, error) {
	nose, okN := pose.At(landmark.PoseNose)
	ls, okL := pose.At(landmark.PoseLeftShoulder)
	rs, okR := pose.At(landmark.PoseRightShoulder)
	if !okN || !okL || !okR {
		return PostureScore{}, fmt.Errorf("posture: %w", ErrMissingLandmarks)
	}

	width := Dist2(ls, rs)
	if width < minReference {
		return PostureScore{}, fmt.Errorf("posture: shoulder width %g: %w", width, ErrDegenerate)
	}
	shoulderMid := Mid(ls, rs)

	var (
		top    landmark.Point
		source string
	)
	for _, s := range headTopChain {
		if p, ok := s.find(pose); ok {
			top, source = p, s.name
			break
		}
	}

	res := PostureScore{
		Tilt:       math.Abs(ls.Y-rs.Y) / width,
		HeadOffset: math.Abs(nose.X-shoulderMid.X) / width,
		NeckRatio:  (shoulderMid.Y - top.Y) / width,
		HeadTop:    source,
	}
	res.Penalties = PosturePenalties{
		Tilt: PenaltyBetween(res.Tilt, cfg.Tilt.Good, cfg.Tilt.Bad),
		Head: PenaltyBetween(res.HeadOffset, cfg.HeadForward.Good, cfg.HeadForward.Bad),
		Neck: PenaltyBetweenMin(res.NeckRatio, cfg.Neck.Good, cfg.Neck.Bad),
	}
	res.WeightedPenalty, res.Score = combine(
		[3]float64{cfg.Weights.Tilt, cfg.Weights.Head, cfg.Weights.Neck},
		[3]float64{res.Penalties.Tilt, res.Penalties.Head, res.Penalties.Neck},
	)
	return res, nil
}

