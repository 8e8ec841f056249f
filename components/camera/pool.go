package camera

import (
	"sync"

	"go.uber.org/atomic"
	"gorgonia.org/tensor"

	"go.viam.com/posecam/ml"
)

// BufferPool recycles frame buffers of one size and counts how many are handed out.
type BufferPool struct {
	size     int
	pool     sync.Pool
	allocs   atomic.Uint64
	releases atomic.Uint64
}

// NewBufferPool returns a pool of width x height RGB buffers.
func NewBufferPool(width, height int) *BufferPool {
	size := ml.FrameSize(width, height)
	p := &BufferPool{size: size}
	p.pool.New = func() interface{} {
		buf := make([]byte, size)
		return &buf
	}
	return p
}

// Get returns a buffer. Its contents are undefined.
func (p *BufferPool) Get() []byte {
	p.allocs.Inc()
	return *(p.pool.Get().(*[]byte))
}

// Put returns a buffer obtained from Get.
func (p *BufferPool) Put(buf []byte) {
	p.releases.Inc()
	if len(buf) != p.size {
		return
	}
	p.pool.Put(&buf)
}

// Allocs is the number of buffers handed out.
func (p *BufferPool) Allocs() uint64 {
	return p.allocs.Load()
}

// Releases is the number of buffers returned.
func (p *BufferPool) Releases() uint64 {
	return p.releases.Load()
}

// Live is the number of buffers handed out and not yet returned.
func (p *BufferPool) Live() int64 {
	return int64(p.allocs.Load()) - int64(p.releases.Load())
}

// FrameTensor wraps a pooled frame as a tensor. The returned release puts the buffer back; it is
// safe to call more than once but only the first call has an effect.
func (p *BufferPool) FrameTensor(frame *Frame, width, height int) (*tensor.Dense, func(), error) {
	t, err := ml.NewFrameTensor(frame.Data, width, height)
	if err != nil {
		p.Put(frame.Data)
		return nil, nil, err
	}
	var once sync.Once
	release := func() {
		once.Do(func() { p.Put(frame.Data) })
	}
	return t, release, nil
}
