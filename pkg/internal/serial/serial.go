// Package serial provides a single-consumer task queue. Tasks submitted to
// one Queue run one at a time in submission order.
package serial

import (
    "sync"

    "go.uber.org/zap"
)

// Queue is an unbounded FIFO drained by one goroutine.
type Queue struct {
    log *zap.Logger

    mu     sync.Mutex
    tasks  []func()
    closed bool
    signal chan struct{}
    done   chan struct{}
}

// New starts a queue. name is used in log output only.
func New(name string, log *zap.Logger) *Queue {
    if log == nil { log = zap.NewNop() }
    q := &Queue{
        log:    log.With(zap.String("queue", name)),
        signal: make(chan struct{}, 1),
        done:   make(chan struct{}),
    }
    go q.loop()
    return q
}

// Submit enqueues fn. It returns false when the queue is closed.
func (q *Queue) Submit(fn func()) bool {
    q.mu.Lock()
    if q.closed {
        q.mu.Unlock()
        return false
    }
    q.tasks = append(q.tasks, fn)
    q.mu.Unlock()
    select {
    case q.signal <- struct{}{}:
    default:
    }
    return true
}

// Close stops the queue. Pending tasks are discarded; a running task
// completes. Close does not wait; use Done for that.
func (q *Queue) Close() {
    q.mu.Lock()
    if q.closed {
        q.mu.Unlock()
        return
    }
    q.closed = true
    q.tasks = nil
    q.mu.Unlock()
    select {
    case q.signal <- struct{}{}:
    default:
    }
}

// Done is closed after the consumer goroutine has exited.
func (q *Queue) Done() <-chan struct{} { return q.done }

func (q *Queue) loop() {
    defer close(q.done)
    for {
        q.mu.Lock()
        if q.closed {
            q.mu.Unlock()
            return
        }
        if len(q.tasks) == 0 {
            q.mu.Unlock()
            <-q.signal
            continue
        }
        fn := q.tasks[0]
        q.tasks[0] = nil
        q.tasks = q.tasks[1:]
        q.mu.Unlock()
        q.run(fn)
    }
}

func (q *Queue) run(fn func()) {
    defer func() {
        if r := recover(); r != nil {
            q.log.Error("task panicked", zap.Any("panic", r), zap.Stack("stack"))
        }
    }()
    fn()
}
