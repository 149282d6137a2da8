package membership

import "errors"

var (
    ErrNotPopulated = errors.New("membership: initial population pending")
    ErrWatchDown    = errors.New("membership: children watch not established")
)

// HealthReporter is implemented by caches that can tell whether their view
// is being kept current.
type HealthReporter interface {
    // Healthy returns nil while the cache is populated and watching.
    Healthy() error
}

func (c *Cache[T]) Healthy() error {
    c.mu.Lock()
    defer c.mu.Unlock()
    switch {
    case c.closed:
        return ErrClosed
    case !c.populated:
        return ErrNotPopulated
    case !c.watching:
        return ErrWatchDown
    }
    return nil
}
