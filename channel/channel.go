// Package channel provides an unbounded, ordered queue that lets a producer make progress
// without waiting on its consumer.
package channel

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrDisconnected is returned by Send once the receiving end has been closed
	ErrDisconnected = errors.New("channel: receiver disconnected")
	// ErrClosed is returned by receive operations once the sender closed and the queue is drained
	ErrClosed = errors.New("channel: sender closed")
)

type queue[T any] struct {
	mu             sync.Mutex
	items          []T
	notify         chan struct{}
	senderClosed   bool
	receiverClosed bool
}

// Sender is the producing end
type Sender[T any] struct {
	q *queue[T]
}

// Receiver is the consuming end
type Receiver[T any] struct {
	q *queue[T]
}

// New creates a connected sender/receiver pair
func New[T any]() (*Sender[T], *Receiver[T]) {
	q := &queue[T]{notify: make(chan struct{}, 1)}
	return &Sender[T]{q: q}, &Receiver[T]{q: q}
}

func (q *queue[T]) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Send enqueues v; it never blocks
func (s *Sender[T]) Send(v T) error {
	q := s.q
	q.mu.Lock()
	if q.receiverClosed {
		q.mu.Unlock()
		return ErrDisconnected
	}
	if q.senderClosed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.items = append(q.items, v)
	q.mu.Unlock()
	q.signal()
	return nil
}

// Close marks the end of the stream; queued values remain receivable
func (s *Sender[T]) Close() {
	q := s.q
	q.mu.Lock()
	q.senderClosed = true
	q.mu.Unlock()
	q.signal()
}

// Close drops the consumer; subsequent sends fail with ErrDisconnected
func (r *Receiver[T]) Close() {
	q := r.q
	q.mu.Lock()
	q.receiverClosed = true
	q.items = nil
	q.mu.Unlock()
	q.signal()
}

// Len returns the number of queued values
func (r *Receiver[T]) Len() int {
	r.q.mu.Lock()
	defer r.q.mu.Unlock()
	return len(r.q.items)
}

// TryRecv returns the next value without blocking; ok is false when the queue is empty
func (r *Receiver[T]) TryRecv() (v T, ok bool, err error) {
	q := r.q
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) > 0 {
		v = q.items[0]
		var zero T
		q.items[0] = zero
		q.items = q.items[1:]
		if len(q.items) > 0 {
			q.signal()
		}
		return v, true, nil
	}
	if q.senderClosed || q.receiverClosed {
		q.signal()
		return v, false, ErrClosed
	}
	return v, false, nil
}

// Recv blocks until a value arrives, the sender closes, or ctx is done
func (r *Receiver[T]) Recv(ctx context.Context) (T, error) {
	for {
		v, ok, err := r.TryRecv()
		if ok || err != nil {
			return v, err
		}
		select {
		case <-r.q.notify:
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}

// RecvTimeout waits at most timeout for a value; ok is false on timeout
func (r *Receiver[T]) RecvTimeout(timeout time.Duration) (v T, ok bool, err error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		v, ok, err = r.TryRecv()
		if ok || err != nil {
			return v, ok, err
		}
		select {
		case <-r.q.notify:
		case <-timer.C:
			return r.TryRecv()
		}
	}
}
