// Package rowset implements the bounded, blocking FIFO that connects one
// producer step copy to one consumer step copy.
//
// # Why RowSet Exists
//
// A buffered channel covers most of what a RowSet does, but not all of it:
// the consumer must be able to stop accepting rows (so a blocked producer is
// released with a rejection instead of hanging), the producer must signal
// completion without a panic-prone close racing concurrent sends, and the
// schema of the rows is negotiated on the first put. RowSet keeps these
// flags and the queue under one mutex and wakes waiters with a condition
// variable.
//
// Backpressure is the capacity bound: PutRow blocks while the set is full.
// Cancellation is the context: a blocked PutRow or GetRow returns ctx.Err()
// as soon as the run's context is cancelled.
package rowset

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/vk/hopgrid/internal/row"
)

// DefaultCapacity is the RowSet size used when a run does not configure one.
const DefaultCapacity = 1000

var (
	// ErrRejected is returned by PutRow when the consumer has stopped or the
	// set is errored. The row was not enqueued.
	ErrRejected = errors.New("rowset: row rejected")
	// ErrNoMoreRows is returned by GetRow once the set is drained and the
	// producer has marked it done.
	ErrNoMoreRows = errors.New("rowset: no more rows")
	// ErrEmpty is returned by TryGetRow when no row is buffered yet.
	ErrEmpty = errors.New("rowset: empty")
)

// CopyID identifies one running copy of a step.
type CopyID struct {
	Step string
	Copy int
}

func (c CopyID) String() string {
	return fmt.Sprintf("%s.%d", c.Step, c.Copy)
}

// RowSet is a bounded FIFO of rows between one producer and one consumer.
type RowSet struct {
	producer CopyID
	consumer CopyID
	capacity int

	mu      sync.Mutex
	cond    *sync.Cond
	buf     []row.Row
	head    int
	count   int
	meta    *row.Meta
	done    bool
	stopped bool
	errored bool
	notify  chan struct{}
}

// New creates a RowSet; a capacity below 1 falls back to DefaultCapacity.
func New(producer, consumer CopyID, capacity int) *RowSet {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	rs := &RowSet{
		producer: producer,
		consumer: consumer,
		capacity: capacity,
		buf:      make([]row.Row, capacity),
	}
	rs.cond = sync.NewCond(&rs.mu)
	return rs
}

// Producer returns the identity of the writing step copy.
func (rs *RowSet) Producer() CopyID { return rs.producer }

// Consumer returns the identity of the reading step copy.
func (rs *RowSet) Consumer() CopyID { return rs.consumer }

// Capacity returns the maximum number of buffered rows.
func (rs *RowSet) Capacity() int { return rs.capacity }

// Size returns the number of rows currently buffered.
func (rs *RowSet) Size() int {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.count
}

// Meta returns the negotiated row meta, nil before the first put.
func (rs *RowSet) Meta() *row.Meta {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.meta
}

// SetMeta pre-declares the row meta. It is a no-op once a meta is set.
func (rs *RowSet) SetMeta(meta *row.Meta) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.meta == nil {
		rs.meta = meta
	}
}

// PutRow enqueues r, blocking while the set is full. The first call fixes
// the set's meta; later rows must have the same arity.
func (rs *RowSet) PutRow(ctx context.Context, meta *row.Meta, r row.Row) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.meta == nil {
		rs.meta = meta
	} else if len(r) != rs.meta.Size() {
		return fmt.Errorf("%w: %s -> %s got %d values, expected %d",
			row.ErrMetaMismatch, rs.producer, rs.consumer, len(r), rs.meta.Size())
	}

	if rs.count == rs.capacity && !rs.stopped && !rs.errored {
		if err := rs.wait(ctx, func() bool { return rs.count < rs.capacity || rs.stopped || rs.errored }); err != nil {
			return err
		}
	}
	if rs.stopped || rs.errored {
		return ErrRejected
	}

	rs.buf[(rs.head+rs.count)%rs.capacity] = r
	rs.count++
	rs.cond.Broadcast()
	rs.signal()
	return nil
}

// GetRow dequeues the oldest row, blocking while the set is empty and not
// done. Once drained and done it returns ErrNoMoreRows on every call.
func (rs *RowSet) GetRow(ctx context.Context) (row.Row, error) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.count == 0 && !rs.done && !rs.errored {
		if err := rs.wait(ctx, func() bool { return rs.count > 0 || rs.done || rs.errored }); err != nil {
			return nil, err
		}
	}
	return rs.dequeue()
}

// TryGetRow dequeues without blocking: ErrEmpty means nothing is buffered
// yet, ErrNoMoreRows means nothing ever will be.
func (rs *RowSet) TryGetRow() (row.Row, error) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.count == 0 && !rs.done && !rs.errored {
		return nil, ErrEmpty
	}
	return rs.dequeue()
}

// Notify registers a channel that receives a non-blocking signal whenever a
// row is put or the set ends. Consumers reading several sets share one
// channel across them.
func (rs *RowSet) Notify(ch chan struct{}) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.notify = ch
}

func (rs *RowSet) dequeue() (row.Row, error) {
	if rs.count == 0 {
		return nil, ErrNoMoreRows
	}

	r := rs.buf[rs.head]
	rs.buf[rs.head] = nil
	rs.head = (rs.head + 1) % rs.capacity
	rs.count--
	rs.cond.Broadcast()
	return r, nil
}

// SetDone marks that the producer will put no more rows. Idempotent.
func (rs *RowSet) SetDone() {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if !rs.done {
		rs.done = true
		rs.cond.Broadcast()
		rs.signal()
	}
}

// IsDone reports whether the producer finished.
func (rs *RowSet) IsDone() bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.done
}

// Close marks that the consumer stopped reading; blocked and future puts
// are rejected.
func (rs *RowSet) Close() {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if !rs.stopped {
		rs.stopped = true
		rs.cond.Broadcast()
	}
}

// SetErrored poisons the set: puts are rejected and the consumer sees the
// end of input after draining what is buffered.
func (rs *RowSet) SetErrored() {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if !rs.errored {
		rs.errored = true
		rs.cond.Broadcast()
		rs.signal()
	}
}

// IsErrored reports whether SetErrored was called.
func (rs *RowSet) IsErrored() bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.errored
}

func (rs *RowSet) signal() {
	if rs.notify == nil {
		return
	}
	select {
	case rs.notify <- struct{}{}:
	default:
	}
}

// wait blocks on the condition until ready() holds or ctx is cancelled.
// The caller holds rs.mu.
func (rs *RowSet) wait(ctx context.Context, ready func() bool) error {
	stop := context.AfterFunc(ctx, func() {
		rs.mu.Lock()
		defer rs.mu.Unlock()
		rs.cond.Broadcast()
	})
	defer stop()

	for !ready() {
		if err := ctx.Err(); err != nil {
			return err
		}
		rs.cond.Wait()
	}
	return nil
}
