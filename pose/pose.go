// Package pose defines the result of a single-pose estimation: a scored set of named keypoints
// and the skeleton that connects them.
package pose

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/samber/lo"
)

// PartNames are the PoseNet body parts in model output channel order.
var PartNames = []string{
	"nose",
	"leftEye",
	"rightEye",
	"leftEar",
	"rightEar",
	"leftShoulder",
	"rightShoulder",
	"leftElbow",
	"rightElbow",
	"leftWrist",
	"rightWrist",
	"leftHip",
	"rightHip",
	"leftKnee",
	"rightKnee",
	"leftAnkle",
	"rightAnkle",
}

// NumKeypoints is the number of parts a single pose carries.
var NumKeypoints = len(PartNames)

// ConnectedParts is the skeletal adjacency table: each pair is drawn as a bone.
var ConnectedParts = [][2]string{
	{"leftHip", "leftShoulder"},
	{"leftElbow", "leftShoulder"},
	{"leftElbow", "leftWrist"},
	{"leftHip", "leftKnee"},
	{"leftKnee", "leftAnkle"},
	{"rightHip", "rightShoulder"},
	{"rightElbow", "rightShoulder"},
	{"rightElbow", "rightWrist"},
	{"rightHip", "rightKnee"},
	{"rightKnee", "rightAnkle"},
	{"leftShoulder", "rightShoulder"},
	{"leftHip", "rightHip"},
}

// Vector2D is a position in model input coordinates.
type Vector2D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (v Vector2D) String() string {
	return fmt.Sprintf("(%.1f, %.1f)", v.X, v.Y)
}

// Keypoint is one detected body part.
type Keypoint struct {
	Part     string   `json:"part"`
	Position Vector2D `json:"position"`
	Score    float64  `json:"score"`
}

// Pose is the result of one inference call. It is never modified after it is produced; the next
// frame's result replaces it.
type Pose struct {
	Keypoints []Keypoint `json:"keypoints"`
	Score     float64    `json:"score"`
}

// Keypoint returns the keypoint for the given part, if present.
func (p *Pose) Keypoint(part string) (Keypoint, bool) {
	if p == nil {
		return Keypoint{}, false
	}
	return lo.Find(p.Keypoints, func(kp Keypoint) bool { return kp.Part == part })
}

// Clone returns a deep copy of the pose.
func (p *Pose) Clone() *Pose {
	if p == nil {
		return nil
	}
	kps := make([]Keypoint, len(p.Keypoints))
	copy(kps, p.Keypoints)
	return &Pose{Keypoints: kps, Score: p.Score}
}

// String prints out a table of the keypoints, with columns of part, position and score.
func (p *Pose) String() string {
	if p == nil {
		return "no pose"
	}
	t := table.NewWriter()
	t.AppendHeader(table.Row{"#", "Part", "Position", "Score"})
	for i, kp := range p.Keypoints {
		t.AppendRow(table.Row{fmt.Sprintf("%d", i+1), kp.Part, kp.Position.String(), fmt.Sprintf("%.2f", kp.Score)})
	}
	t.AppendFooter(table.Row{"", "pose", "", fmt.Sprintf("%.2f", p.Score)})
	return t.Render()
}

// Validate checks that every score lies in [0, 1].
func (p *Pose) Validate() error {
	if p == nil {
		return errors.New("nil pose")
	}
	if p.Score < 0 || p.Score > 1 {
		return errors.Errorf("pose score %v is outside [0, 1]", p.Score)
	}
	for _, kp := range p.Keypoints {
		if kp.Score < 0 || kp.Score > 1 {
			return errors.Errorf("keypoint %q score %v is outside [0, 1]", kp.Part, kp.Score)
		}
	}
	return nil
}

// Postprocessor defines a function that filters/modifies an incoming set of keypoints.
type Postprocessor func([]Keypoint) []Keypoint

// NewScoreFilter returns a function that keeps only keypoints scoring strictly above minConfidence.
func NewScoreFilter(minConfidence float64) Postprocessor {
	return func(in []Keypoint) []Keypoint {
		return lo.Filter(in, func(kp Keypoint, _ int) bool {
			return kp.Score > minConfidence
		})
	}
}

// AdjacentKeypoints returns the bones among kps. A pair is included only when both parts are
// present and both score strictly above minConfidence.
func AdjacentKeypoints(kps []Keypoint, minConfidence float64) [][2]Keypoint {
	byPart := lo.KeyBy(NewScoreFilter(minConfidence)(kps), func(kp Keypoint) string { return kp.Part })
	var pairs [][2]Keypoint
	for _, parts := range ConnectedParts {
		a, okA := byPart[parts[0]]
		b, okB := byPart[parts[1]]
		if okA && okB {
			pairs = append(pairs, [2]Keypoint{a, b})
		}
	}
	return pairs
}
