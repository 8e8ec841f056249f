package camera

import (
	"context"
	"testing"
	"time"

	"go.viam.com/test"
)

func TestFrameSlotOverwrite(t *testing.T) {
	var dropped []uint64
	slot := NewFrameSlot(func(f *Frame) { dropped = append(dropped, f.Seq) })

	test.That(t, slot.Publish(&Frame{Data: []byte{1}}), test.ShouldBeTrue)
	test.That(t, slot.Publish(&Frame{Data: []byte{2}}), test.ShouldBeTrue)

	frame, err := slot.Next(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, frame.Data, test.ShouldResemble, []byte{2})
	test.That(t, frame.Seq, test.ShouldEqual, 2)
	test.That(t, dropped, test.ShouldResemble, []uint64{1})
	test.That(t, slot.Stats(), test.ShouldResemble, SlotStats{Published: 2, Consumed: 1, Drops: 1})
}

func TestFrameSlotWaits(t *testing.T) {
	slot := NewFrameSlot(nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := slot.Next(ctx)
	test.That(t, err, test.ShouldBeError, context.DeadlineExceeded)

	got := make(chan *Frame, 1)
	go func() {
		frame, err := slot.Next(context.Background())
		test.That(t, err, test.ShouldBeNil)
		got <- frame
	}()
	slot.Publish(&Frame{Data: []byte{7}})
	frame := <-got
	test.That(t, frame.Data, test.ShouldResemble, []byte{7})
}

func TestFrameSlotClose(t *testing.T) {
	var dropped int
	slot := NewFrameSlot(func(*Frame) { dropped++ })

	waiting := make(chan error, 1)
	go func() {
		_, err := slot.Next(context.Background())
		waiting <- err
	}()
	slot.Close()
	test.That(t, <-waiting, test.ShouldBeError, ErrClosed)

	test.That(t, slot.Publish(&Frame{}), test.ShouldBeFalse)
	test.That(t, dropped, test.ShouldEqual, 1)
	slot.Close()

	// An unconsumed frame is handed back on close.
	slot = NewFrameSlot(func(*Frame) { dropped++ })
	slot.Publish(&Frame{})
	slot.Close()
	test.That(t, dropped, test.ShouldEqual, 2)
	_, err := slot.Next(context.Background())
	test.That(t, err, test.ShouldBeError, ErrClosed)
}
