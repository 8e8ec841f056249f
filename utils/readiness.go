package utils

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// ReadyState is the explicit readiness of a lazily produced value.
type ReadyState int

const (
	// Uninitialized means the value has not been produced. It is also the terminal state of a
	// producer that failed; there is no retry.
	Uninitialized ReadyState = iota
	// Ready means the value was produced and will never change again.
	Ready
)

func (s ReadyState) String() string {
	if s == Ready {
		return "ready"
	}
	return "uninitialized"
}

// ErrNotReady is returned when a value is requested before it has been produced.
var ErrNotReady = errors.New("not ready")

// Readiness holds a value that is produced exactly once, asynchronously, and is only observable
// once it is Ready.
type Readiness[T any] struct {
	once sync.Once
	done chan struct{}

	mu    sync.RWMutex
	state ReadyState
	value T
	err   error
}

// NewReadiness returns an Uninitialized Readiness.
func NewReadiness[T any]() *Readiness[T] {
	return &Readiness[T]{done: make(chan struct{})}
}

// Resolve runs produce if no other call to Resolve has, and records its outcome. Only a nil error
// moves the state to Ready. Resolve blocks until produce returns and reports whether this call
// was the one that ran it.
func (r *Readiness[T]) Resolve(produce func() (T, error)) bool {
	ran := false
	r.once.Do(func() {
		ran = true
		value, err := produce()

		r.mu.Lock()
		if err == nil {
			r.value = value
			r.state = Ready
		} else {
			r.err = err
		}
		r.mu.Unlock()
		close(r.done)
	})
	return ran
}

// Get returns the value and the current state. The value is the zero value unless the state is
// Ready.
func (r *Readiness[T]) Get() (T, ReadyState) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.value, r.state
}

// State returns the current state.
func (r *Readiness[T]) State() ReadyState {
	_, state := r.Get()
	return state
}

// Err returns the error the producer failed with, if any.
func (r *Readiness[T]) Err() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.err
}

// Settled returns a channel closed once the producer has returned, successfully or not.
func (r *Readiness[T]) Settled() <-chan struct{} {
	return r.done
}

// Wait blocks until the value is Ready, the producer failed, or ctx is done.
func (r *Readiness[T]) Wait(ctx context.Context) (T, error) {
	var zero T
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-r.done:
	}

	value, state := r.Get()
	if state != Ready {
		return zero, errors.Wrap(ErrNotReady, r.Err().Error())
	}
	return value, nil
}
