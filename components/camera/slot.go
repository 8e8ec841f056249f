package camera

import (
	"context"
	"sync"
	"time"

	"go.uber.org/atomic"
)

// Frame is one captured RGB frame. Data must not be modified after it is published.
type Frame struct {
	Data       []byte
	Seq        uint64
	CapturedAt time.Time
}

// SlotStats counts what went through a FrameSlot.
type SlotStats struct {
	Published uint64
	Consumed  uint64
	Drops     uint64
}

// FrameSlot is a single-slot mailbox between a capture goroutine and one consumer. Publishing
// never blocks: a new frame replaces an unconsumed one, which counts as a drop.
type FrameSlot struct {
	onDrop func(*Frame)

	mu     sync.Mutex
	frame  *Frame
	notify chan struct{}
	seq    uint64
	closed bool

	published atomic.Uint64
	consumed  atomic.Uint64
	drops     atomic.Uint64
}

// NewFrameSlot returns an empty slot. onDrop, if set, receives every frame that is replaced
// before being consumed or that is still in the slot when it closes.
func NewFrameSlot(onDrop func(*Frame)) *FrameSlot {
	if onDrop == nil {
		onDrop = func(*Frame) {}
	}
	return &FrameSlot{onDrop: onDrop, notify: make(chan struct{})}
}

// Publish stores frame, assigning it the next sequence number. It reports false, and drops the
// frame, if the slot is closed.
func (s *FrameSlot) Publish(frame *Frame) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.onDrop(frame)
		return false
	}
	dropped := s.frame
	s.seq++
	frame.Seq = s.seq
	s.frame = frame
	close(s.notify)
	s.notify = make(chan struct{})
	s.mu.Unlock()

	s.published.Inc()
	if dropped != nil {
		s.drops.Inc()
		s.onDrop(dropped)
	}
	return true
}

// Next takes the frame in the slot, waiting for one if it is empty.
func (s *FrameSlot) Next(ctx context.Context) (*Frame, error) {
	for {
		s.mu.Lock()
		if s.frame != nil {
			frame := s.frame
			s.frame = nil
			s.mu.Unlock()
			s.consumed.Inc()
			return frame, nil
		}
		if s.closed {
			s.mu.Unlock()
			return nil, ErrClosed
		}
		notify := s.notify
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-notify:
		}
	}
}

// Close wakes any waiting consumer; later calls to Next return ErrClosed.
func (s *FrameSlot) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	dropped := s.frame
	s.frame = nil
	close(s.notify)
	s.mu.Unlock()

	if dropped != nil {
		s.onDrop(dropped)
	}
}

// Stats returns the slot's counters.
func (s *FrameSlot) Stats() SlotStats {
	return SlotStats{
		Published: s.published.Load(),
		Consumed:  s.consumed.Load(),
		Drops:     s.drops.Load(),
	}
}
