package landmark

import (
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/large-farva/poise/internal/media"
)

// Named landmarks accepted in replay scripts.
var (
	poseNames = map[string]int{
		"nose":           PoseNose,
		"left_ear":       PoseLeftEar,
		"right_ear":      PoseRightEar,
		"left_shoulder":  PoseLeftShoulder,
		"right_shoulder": PoseRightShoulder,
	}
	faceNames = map[string]int{
		"nose_tip":        FaceNoseTip,
		"left_eye_outer":  FaceLeftEyeOuter,
		"right_eye_outer": FaceRightEyeOuter,
	}
)

// ScriptFrame is one keyframe of a replay script. Landmarks not named in the
// frame are reported as missing.
type ScriptFrame struct {
	AtMs     int64            `yaml:"at_ms"`
	Pose     map[string]Point `yaml:"pose"`
	Face     map[string]Point `yaml:"face"`
	Rotation []float64        `yaml:"rotation"`
}

// ScriptFile is the YAML document layout.
type ScriptFile struct {
	Name     string        `yaml:"name"`
	Loop     bool          `yaml:"loop"`
	PeriodMs int64         `yaml:"period_ms"`
	Frames   []ScriptFrame `yaml:"frames"`
}

type scriptKey struct {
	at time.Duration
	d  Detection
}

// Script is a Detector that replays recorded keyframes by timestamp. It is
// used for demos and for exercising the engine without a browser.
type Script struct {
	name   string
	loop   bool
	period time.Duration
	keys   []scriptKey
}

// LoadScript reads and parses a YAML replay script.
func LoadScript(path string) (*Script, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, &ModelUnavailableError{Model: "script", Err: err}
	}
	s, err := ParseScript(b)
	if err != nil {
		return nil, &ModelUnavailableError{Model: "script " + path, Err: err}
	}
	return s, nil
}

// ParseScript builds a Script from YAML.
func ParseScript(b []byte) (*Script, error) {
	var f ScriptFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse script: %w", err)
	}
	if len(f.Frames) == 0 {
		return nil, fmt.Errorf("script %q has no frames", f.Name)
	}

	s := &Script{name: f.Name, loop: f.Loop}
	for i, fr := range f.Frames {
		d, err := fr.detection()
		if err != nil {
			return nil, fmt.Errorf("frame %d: %w", i, err)
		}
		s.keys = append(s.keys, scriptKey{at: time.Duration(fr.AtMs) * time.Millisecond, d: d})
	}
	sort.SliceStable(s.keys, func(i, j int) bool { return s.keys[i].at < s.keys[j].at })

	s.period = time.Duration(f.PeriodMs) * time.Millisecond
	if last := s.keys[len(s.keys)-1].at; s.period <= last {
		s.period = last + time.Second
	}
	return s, nil
}

func (fr ScriptFrame) detection() (Detection, error) {
	var d Detection
	if len(fr.Pose) > 0 {
		pose, err := fill(PoseCount, fr.Pose, poseNames)
		if err != nil {
			return d, fmt.Errorf("pose: %w", err)
		}
		d.Pose = pose
	}
	if len(fr.Face) > 0 {
		face, err := fill(FaceCount, fr.Face, faceNames)
		if err != nil {
			return d, fmt.Errorf("face: %w", err)
		}
		d.Face = face
	}
	switch len(fr.Rotation) {
	case 0:
	case 16:
		d.Rotation = append([]float64(nil), fr.Rotation...)
	default:
		return d, fmt.Errorf("rotation must have 16 elements, got %d", len(fr.Rotation))
	}
	return d, nil
}

func fill(n int, named map[string]Point, names map[string]int) ([]Point, error) {
	out := make([]Point, n)
	for i := range out {
		out[i] = Missing
	}
	for name, p := range named {
		idx, ok := names[name]
		if !ok {
			return nil, fmt.Errorf("unknown landmark %q", name)
		}
		out[idx] = p
	}
	return out, nil
}

// Name returns the script's name.
func (s *Script) Name() string { return s.name }

// Detect returns the latest keyframe at or before ts. Looping scripts wrap
// ts around the period; non-looping scripts report nothing past the period.
func (s *Script) Detect(_ *media.Frame, ts time.Duration) (Detection, error) {
	if ts < 0 {
		ts = 0
	}
	if s.loop {
		ts %= s.period
	} else if ts >= s.period {
		return Detection{}, nil
	}

	var cur *scriptKey
	for i := range s.keys {
		if s.keys[i].at > ts {
			break
		}
		cur = &s.keys[i]
	}
	if cur == nil {
		return Detection{}, nil
	}
	return cur.d, nil
}

func (s *Script) Close() error { return nil }
