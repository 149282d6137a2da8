package memory

import (
    "context"
    "sync"
)

// mailbox decouples event producers holding the server lock from slow
// consumers: push never blocks and a pump goroutine feeds out in order.
type mailbox[T any] struct {
    mu     sync.Mutex
    items  []T
    closed bool
    signal chan struct{}
    out    chan T
}

func newMailbox[T any](ctx context.Context) *mailbox[T] {
    m := &mailbox[T]{signal: make(chan struct{}, 1), out: make(chan T)}
    go m.pump(ctx)
    return m
}

func (m *mailbox[T]) push(v T) {
    m.mu.Lock()
    if m.closed {
        m.mu.Unlock()
        return
    }
    m.items = append(m.items, v)
    m.mu.Unlock()
    m.wake()
}

// close flushes what is queued and then closes out.
func (m *mailbox[T]) close() {
    m.mu.Lock()
    m.closed = true
    m.mu.Unlock()
    m.wake()
}

func (m *mailbox[T]) wake() {
    select {
    case m.signal <- struct{}{}:
    default:
    }
}

func (m *mailbox[T]) pump(ctx context.Context) {
    defer close(m.out)
    for {
        m.mu.Lock()
        if len(m.items) > 0 {
            v := m.items[0]
            m.items = m.items[1:]
            m.mu.Unlock()
            select {
            case m.out <- v:
            case <-ctx.Done():
                return
            }
            continue
        }
        closed := m.closed
        m.mu.Unlock()
        if closed { return }
        select {
        case <-m.signal:
        case <-ctx.Done():
            return
        }
    }
}
