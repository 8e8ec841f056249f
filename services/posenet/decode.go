package posenet

import (
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"go.viam.com/posecam/ml"
	"go.viam.com/posecam/pose"
	"go.viam.com/posecam/utils"
)

// grid is a [height, width, depth] view over a model output with the batch dimension dropped.
type grid struct {
	height, width, depth int
	values               []float64
}

func (g grid) at(y, x, c int) float64 {
	return g.values[(y*g.width+x)*g.depth+c]
}

func newGrid(name string, t *tensor.Dense, depth int) (grid, error) {
	shape := []int(t.Shape())
	if len(shape) == 4 && shape[0] == 1 {
		shape = shape[1:]
	}
	if len(shape) != 3 || shape[2] != depth {
		return grid{}, utils.NewUnexpectedShapeError(name, []int{1, -1, -1, depth}, t.Shape())
	}
	values, err := ml.ToFloat64Slice(t.Data())
	if err != nil {
		return grid{}, errors.Wrapf(err, "reading %s", name)
	}
	return grid{height: shape[0], width: shape[1], depth: depth, values: values}, nil
}

// decodeSinglePose finds the most likely position of every part. Heatmaps hold one logit per part
// per output cell; offsets hold the y offsets of every part followed by the x offsets. Positions
// are in model input coordinates.
func decodeSinglePose(heatmaps, offsets *tensor.Dense, outputStride int) (*pose.Pose, error) {
	numParts := pose.NumKeypoints
	heat, err := newGrid("heatmaps", heatmaps, numParts)
	if err != nil {
		return nil, err
	}
	off, err := newGrid("offsets", offsets, 2*numParts)
	if err != nil {
		return nil, err
	}
	if heat.height != off.height || heat.width != off.width {
		return nil, errors.Errorf("heatmaps grid %dx%d does not match offsets grid %dx%d",
			heat.width, heat.height, off.width, off.height)
	}
	heat.values = ml.Sigmoid(heat.values)
	if len(heat.values) == 0 {
		return nil, errors.New("empty heatmaps")
	}

	keypoints := make([]pose.Keypoint, numParts)
	scores := make([]float64, numParts)
	for part := 0; part < numParts; part++ {
		bestY, bestX, best := 0, 0, -1.0
		for y := 0; y < heat.height; y++ {
			for x := 0; x < heat.width; x++ {
				if score := heat.at(y, x, part); score > best {
					bestY, bestX, best = y, x, score
				}
			}
		}
		keypoints[part] = pose.Keypoint{
			Part: pose.PartNames[part],
			Position: pose.Vector2D{
				X: float64(bestX*outputStride) + off.at(bestY, bestX, part+numParts),
				Y: float64(bestY*outputStride) + off.at(bestY, bestX, part),
			},
			Score: best,
		}
		scores[part] = best
	}

	mean, err := stats.Mean(scores)
	if err != nil {
		return nil, err
	}
	return &pose.Pose{Keypoints: keypoints, Score: mean}, nil
}

// scaleAndFlip maps a pose from model input space to frame space, mirroring it when flip is set.
func scaleAndFlip(p *pose.Pose, input, frame Resolution, flip bool) *pose.Pose {
	scaleX := float64(frame.Width) / float64(input.Width)
	scaleY := float64(frame.Height) / float64(input.Height)
	out := p.Clone()
	for i, kp := range out.Keypoints {
		x := kp.Position.X * scaleX
		if flip {
			x = float64(frame.Width-1) - x
		}
		out.Keypoints[i].Position = pose.Vector2D{X: x, Y: kp.Position.Y * scaleY}
	}
	return out
}
