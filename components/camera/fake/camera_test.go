package fake

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.viam.com/test"

	"go.viam.com/posecam/components/camera"
	"go.viam.com/posecam/logging"
	"go.viam.com/posecam/ml"
)

var _ camera.Camera = (*Camera)(nil)

func TestFakeFrames(t *testing.T) {
	ctx := context.Background()
	cam, err := NewCamera(nil, nil, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cam.Properties(), test.ShouldResemble, camera.Properties{Width: 152, Height: 200, Channels: 3})

	frame, release, err := cam.Next(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, []int(frame.Shape()), test.ShouldResemble, []int{200, 152, 3})
	test.That(t, cam.Live(), test.ShouldEqual, 1)

	img, err := ml.TensorToImage(frame)
	test.That(t, err, test.ShouldBeNil)
	topLeft := img.NRGBAAt(0, 0)
	bottomRight := img.NRGBAAt(151, 199)
	test.That(t, topLeft.R, test.ShouldBeGreaterThan, bottomRight.R)
	test.That(t, topLeft.B, test.ShouldBeLessThan, bottomRight.B)

	release()
	test.That(t, cam.Live(), test.ShouldEqual, 0)
	test.That(t, cam.Allocs(), test.ShouldEqual, 1)
	test.That(t, cam.Releases(), test.ShouldEqual, 1)

	test.That(t, cam.CommitPreview(ctx), test.ShouldBeNil)
	test.That(t, cam.Commits(), test.ShouldEqual, 1)

	test.That(t, cam.Close(ctx), test.ShouldBeNil)
	_, _, err = cam.Next(ctx)
	test.That(t, err, test.ShouldBeError, camera.ErrClosed)
}

func TestFakeConfig(t *testing.T) {
	_, err := NewCamera(&Config{Width: -1}, nil, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldNotBeNil)

	cam, err := NewCamera(&Config{Width: 64, Height: 48}, nil, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	frame, release, err := cam.Next(context.Background())
	test.That(t, err, test.ShouldBeNil)
	defer release()
	test.That(t, []int(frame.Shape()), test.ShouldResemble, []int{48, 64, 3})
}

func TestFakeRecording(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewMock()
	cam, err := NewCamera(nil, clk, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	test.That(t, cam.StopRecording(ctx), test.ShouldBeError, camera.ErrNoRecording)

	type result struct {
		rec camera.Recording
		err error
	}
	done := make(chan result, 1)
	go func() {
		rec, err := cam.StartRecording(ctx, camera.RecordOptions{Dir: "clips"})
		done <- result{rec, err}
	}()

	// Wait until the recording is active.
	for {
		err := cam.StopRecording(ctx)
		if err == nil {
			break
		}
		test.That(t, err, test.ShouldBeError, camera.ErrNoRecording)
		time.Sleep(time.Millisecond)
	}
	res := <-done
	test.That(t, res.err, test.ShouldBeNil)
	test.That(t, res.rec.Path, test.ShouldStartWith, "memory://clips/recording-")
	test.That(t, res.rec.StartedAt, test.ShouldEqual, clk.Now())
}

func TestFakeRecordingCancelled(t *testing.T) {
	cam, err := NewCamera(nil, nil, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = cam.StartRecording(ctx, camera.RecordOptions{})
	test.That(t, err, test.ShouldBeError, context.DeadlineExceeded)
	test.That(t, cam.StopRecording(context.Background()), test.ShouldBeError, camera.ErrNoRecording)
}
