// Package queue provides bounded per-client message queues that are drained
// by a single goroutine through registered processors.
package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultCapacity      = 100
	DefaultYieldInterval = 10 * time.Millisecond
)

// Processor handles one drained message. Errors are logged and do not stop
// the queue or other processors.
type Processor func(ctx context.Context, msg []byte) error

// Options configure a Queue.
type Options struct {
	Capacity      int
	YieldInterval time.Duration
	// OnDrop is called, without the queue lock held, each time a message is
	// evicted to make room.
	OnDrop func()
	Logger *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.Capacity <= 0 {
		o.Capacity = DefaultCapacity
	}
	if o.YieldInterval <= 0 {
		o.YieldInterval = DefaultYieldInterval
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// Queue is a FIFO with a drop-oldest capacity policy. Messages are consumed by
// at most one drain goroutine at a time.
type Queue struct {
	opts   Options
	logger *zap.Logger

	mu         sync.Mutex
	buf        [][]byte
	head       int
	count      int
	processors []Processor
	draining   bool
	cancel     context.CancelFunc
	done       chan struct{}
	dropped    uint64
}

// New creates an idle queue.
func New(opts Options) *Queue {
	opts = opts.withDefaults()
	return &Queue{
		opts:   opts,
		logger: opts.Logger,
		buf:    make([][]byte, opts.Capacity),
	}
}

// AddProcessor registers fn. It applies to every message dequeued after this call.
func (q *Queue) AddProcessor(fn Processor) {
	if fn == nil {
		return
	}
	q.mu.Lock()
	q.processors = append(q.processors, fn)
	q.mu.Unlock()
}

// Add enqueues msg, evicting the oldest message when the queue is full, and
// starts a drain if none is running. It never blocks on processing.
func (q *Queue) Add(msg []byte) {
	q.mu.Lock()
	evicted := false
	if q.count == len(q.buf) {
		q.buf[q.head] = nil
		q.head = (q.head + 1) % len(q.buf)
		q.count--
		q.dropped++
		evicted = true
	}
	q.buf[(q.head+q.count)%len(q.buf)] = msg
	q.count++

	if !q.draining {
		q.startDrainLocked()
	}
	q.mu.Unlock()

	if evicted {
		q.logger.Debug("queue full, dropped oldest message")
		if q.opts.OnDrop != nil {
			q.opts.OnDrop()
		}
	}
}

func (q *Queue) startDrainLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	q.draining = true
	q.cancel = cancel
	q.done = done
	go q.drain(ctx, cancel, done)
}

// drain consumes messages until the queue is empty or ctx is canceled.
func (q *Queue) drain(ctx context.Context, cancel context.CancelFunc, done chan struct{}) {
	defer close(done)
	defer cancel()

	timer := time.NewTimer(q.opts.YieldInterval)
	defer timer.Stop()

	for {
		msg, procs, ok := q.next(ctx)
		if !ok {
			return
		}

		for i, p := range procs {
			if err := q.runProcessor(ctx, p, msg); err != nil {
				q.logger.Error("error processing message", zap.Int("processor", i), zap.Error(err))
			}
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(q.opts.YieldInterval)
		select {
		case <-ctx.Done():
			q.finish()
			return
		case <-timer.C:
		}
	}
}

// next pops the head message. When the queue is empty or ctx is done it marks
// the queue idle in the same critical section, so a concurrent Add either
// sees draining=true before the pop or starts a fresh drain after it.
func (q *Queue) next(ctx context.Context) ([]byte, []Processor, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if ctx.Err() != nil || q.count == 0 {
		q.resetLocked()
		return nil, nil, false
	}

	msg := q.buf[q.head]
	q.buf[q.head] = nil
	q.head = (q.head + 1) % len(q.buf)
	q.count--

	procs := make([]Processor, len(q.processors))
	copy(procs, q.processors)
	return msg, procs, true
}

func (q *Queue) finish() {
	q.mu.Lock()
	q.resetLocked()
	q.mu.Unlock()
}

func (q *Queue) resetLocked() {
	q.draining = false
	q.cancel = nil
	q.done = nil
}

func (q *Queue) runProcessor(ctx context.Context, p Processor, msg []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("processor panic: %v", r)
		}
	}()
	return p(ctx, msg)
}

// Stop cancels an in-flight drain and waits for it to exit. Queued messages
// are kept; a later Add starts draining again.
func (q *Queue) Stop() {
	q.mu.Lock()
	cancel, done := q.cancel, q.done
	q.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Len returns the number of queued messages.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Dropped returns how many messages were evicted by the capacity policy.
func (q *Queue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Draining reports whether a drain goroutine is active.
func (q *Queue) Draining() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.draining
}

// Clear discards all queued messages.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.buf {
		q.buf[i] = nil
	}
	q.head = 0
	q.count = 0
}

// snapshot returns the queued messages in order; used by tests.
func (q *Queue) snapshot() [][]byte {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([][]byte, 0, q.count)
	for i := 0; i < q.count; i++ {
		out = append(out, q.buf[(q.head+i)%len(q.buf)])
	}
	return out
}
