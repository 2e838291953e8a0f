package adrequest

import (
	"context"
	"errors"
	"sync"
)

// ErrAlreadySettled is returned when a Deferred is settled a second time.
// It indicates a programming error in the caller.
var ErrAlreadySettled = errors.New("deferred already settled")

// Deferred is a one-shot result. It is created fresh for each ad request
// attempt and settled exactly once.
type Deferred[T any] struct {
	once  sync.Once
	done  chan struct{}
	value T
}

// NewDeferred returns an unsettled Deferred.
func NewDeferred[T any]() *Deferred[T] {
	return &Deferred[T]{done: make(chan struct{})}
}

// Resolve settles d with v. Only the first call takes effect; later calls
// return ErrAlreadySettled.
func (d *Deferred[T]) Resolve(v T) error {
	settled := false
	d.once.Do(func() {
		d.value = v
		close(d.done)
		settled = true
	})
	if !settled {
		return ErrAlreadySettled
	}
	return nil
}

// Done is closed once d is settled.
func (d *Deferred[T]) Done() <-chan struct{} {
	return d.done
}

// Wait blocks until d is settled or ctx is done.
func (d *Deferred[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-d.done:
		return d.value, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
