package membership

import (
    "context"
    "errors"
    "fmt"
    "reflect"
    "sync"
    "time"

    "go.opentelemetry.io/otel/attribute"
    "go.uber.org/zap"

    "github.com/amirimatin/go-coord/pkg/coord"
    "github.com/amirimatin/go-coord/pkg/internal/logutil"
    "github.com/amirimatin/go-coord/pkg/internal/serial"
    "github.com/amirimatin/go-coord/pkg/observability/metrics"
    "github.com/amirimatin/go-coord/pkg/observability/tracing"
)

var (
    ErrNilClient = errors.New("membership: client is required")
    ErrNilParser = errors.New("membership: parser is required")
    ErrClosed    = errors.New("membership: cache closed")
)

type Options[T any] struct {
    Client coord.Client
    Path   string
    Parser Parser[T]
    // Equal decides whether an update changed a member; reflect.DeepEqual
    // when nil.
    Equal func(a, b T) bool
    // RetryDelay spaces out population and resync attempts; 100ms when zero.
    RetryDelay time.Duration
    Logger     *zap.Logger
}

// Cache is a live view of the children of one path.
type Cache[T any] struct {
    opts  Options[T]
    log   *zap.Logger
    queue *serial.Queue

    ctx    context.Context
    cancel context.CancelFunc
    wg     sync.WaitGroup

    // fanout serializes a mutation with the listener calls it causes; mu
    // guards the fields below and is never held while listeners run.
    fanout    sync.Mutex
    mu        sync.Mutex
    entries   map[string]T
    listeners []Listener[T]
    started   bool
    closed    bool
    populated bool
    watching  bool
    unlisten  func()
}

func NewCache[T any](opts Options[T]) (*Cache[T], error) {
    if opts.Client == nil { return nil, ErrNilClient }
    if err := coord.ValidatePath(opts.Path); err != nil { return nil, err }
    if opts.Parser == nil { return nil, ErrNilParser }
    if opts.Equal == nil { opts.Equal = func(a, b T) bool { return reflect.DeepEqual(a, b) } }
    if opts.RetryDelay <= 0 { opts.RetryDelay = 100 * time.Millisecond }
    metrics.Register()

    log := logutil.Named(opts.Logger, "membership").With(zap.String("path", opts.Path))
    ctx, cancel := context.WithCancel(context.Background())
    return &Cache[T]{
        opts:    opts,
        log:     log,
        queue:   serial.New("membership "+opts.Path, log),
        ctx:     ctx,
        cancel:  cancel,
        entries: make(map[string]T),
    }, nil
}

// Start loads the current children before returning, so callers never see
// an empty cache while members exist. When the store is unreachable the
// load is retried in the background and Start returns nil.
func (c *Cache[T]) Start(ctx context.Context) error {
    c.mu.Lock()
    switch {
    case c.closed:
        c.mu.Unlock()
        return ErrClosed
    case c.started:
        c.mu.Unlock()
        return nil
    }
    c.started = true
    c.mu.Unlock()
    if err := ctx.Err(); err != nil { return err }

    unlisten := c.opts.Client.AddStateListener(c.stateChanged)
    c.mu.Lock()
    if c.closed {
        c.mu.Unlock()
        unlisten()
        return ErrClosed
    }
    c.unlisten = unlisten
    c.mu.Unlock()
    _, end := tracing.StartSpan(ctx, "membership.populate", attribute.String("path", c.opts.Path))
    kids, ch, err := c.list()
    end()
    switch {
    case c.ctx.Err() != nil:
        return ErrClosed
    case err == nil:
        c.populate(kids)
    case coord.IsRetryable(err):
        c.log.Warn("initial population failed; retrying in background", zap.Error(err))
    default:
        return fmt.Errorf("membership %s: %w", c.opts.Path, err)
    }
    c.mu.Lock()
    if c.closed {
        c.mu.Unlock()
        return ErrClosed
    }
    c.wg.Add(1)
    c.mu.Unlock()
    go c.watchLoop(ch)
    return nil
}

// list snapshots the children and opens the watch, creating the path when
// it does not exist yet.
func (c *Cache[T]) list() ([]coord.ChildEntry, <-chan coord.ChildEvent, error) {
    kids, ch, err := c.opts.Client.ChildrenW(c.ctx, c.opts.Path)
    if !errors.Is(err, coord.ErrNoNode) { return kids, ch, err }
    if err := c.ensurePath(); err != nil { return nil, nil, err }
    return c.opts.Client.ChildrenW(c.ctx, c.opts.Path)
}

func (c *Cache[T]) ensurePath() error {
    ctx, cancel := context.WithTimeout(c.ctx, coord.DefaultOpTimeout)
    defer cancel()
    var missing []string
    for p := c.opts.Path; p != "/"; p = coord.ParentPath(p) { missing = append(missing, p) }
    for i := len(missing) - 1; i >= 0; i-- {
        _, err := c.opts.Client.Create(ctx, missing[i], []byte{}, coord.Persistent)
        if err != nil && !errors.Is(err, coord.ErrNodeExists) { return err }
    }
    return nil
}

// populate loads the first snapshot without notifying listeners.
func (c *Cache[T]) populate(kids []coord.ChildEntry) {
    c.mu.Lock()
    defer c.mu.Unlock()
    if c.closed { return }
    for _, k := range kids { c.entries[k.Path] = c.parse(k) }
    c.populated = true
    c.watching = true
    metrics.Members.WithLabelValues(c.opts.Path).Set(float64(len(c.entries)))
}

// watchLoop feeds child events to the queue and re-lists whenever the
// stream breaks. A nil ch means the initial population is still owed.
func (c *Cache[T]) watchLoop(ch <-chan coord.ChildEvent) {
    defer c.wg.Done()
    for {
        if ch != nil {
            for ev := range ch {
                ev := ev
                c.queue.Submit(func() { c.apply(ev) })
            }
            if c.ctx.Err() != nil { return }
            c.setWatching(false)
            c.log.Warn("children watch ended; resyncing")
        }
        for {
            select {
            case <-c.ctx.Done():
                return
            case <-time.After(c.opts.RetryDelay):
            }
            if !c.opts.Client.State().IsConnected() { continue }
            kids, nch, err := c.list()
            if err != nil {
                c.log.Debug("resync failed", zap.Error(err))
                continue
            }
            c.queue.Submit(func() { c.reconcile(kids) })
            ch = nch
            break
        }
    }
}

func (c *Cache[T]) setWatching(v bool) {
    c.mu.Lock()
    c.watching = v
    c.mu.Unlock()
}

func (c *Cache[T]) stateChanged(s coord.ConnectionState) {
    c.queue.Submit(func() {
        c.fanout.Lock()
        defer c.fanout.Unlock()
        for _, l := range c.snapshotListeners() { l.OnConnectionStateChanged(s) }
    })
}

func (c *Cache[T]) parse(e coord.ChildEntry) (v T) {
    defer func() {
        if p := recover(); p != nil {
            metrics.ParseErrors.WithLabelValues(c.opts.Path).Inc()
            c.log.Warn("parser panicked", zap.String("child", e.Path), zap.Any("panic", p))
            var zero T
            v = zero
        }
    }()
    v, err := c.opts.Parser(e.Path, e.Data)
    if err != nil {
        metrics.ParseErrors.WithLabelValues(c.opts.Path).Inc()
        c.log.Warn("unable to parse member", zap.String("child", e.Path), zap.Error(err))
        var zero T
        return zero
    }
    return v
}

type change[T any] struct {
    typ  EventType
    path string
    v    T
}

func (c *Cache[T]) apply(ev coord.ChildEvent) {
    c.fanout.Lock()
    defer c.fanout.Unlock()
    c.mu.Lock()
    if c.closed {
        c.mu.Unlock()
        return
    }
    var out []change[T]
    switch ev.Type {
    case coord.ChildAdded, coord.ChildUpdated:
        out = c.upsertLocked(ev.Entry, out)
    case coord.ChildRemoved:
        out = c.removeLocked(ev.Entry.Path, out)
    }
    ls := c.finishLocked(out)
    c.mu.Unlock()
    c.notify(ls, out)
}

// reconcile diffs a fresh snapshot against the map after a broken watch.
func (c *Cache[T]) reconcile(kids []coord.ChildEntry) {
    c.fanout.Lock()
    defer c.fanout.Unlock()
    c.mu.Lock()
    if c.closed {
        c.mu.Unlock()
        return
    }
    seen := make(map[string]bool, len(kids))
    for _, k := range kids { seen[k.Path] = true }
    var out []change[T]
    for p := range c.entries {
        if !seen[p] { out = c.removeLocked(p, out) }
    }
    for _, k := range kids { out = c.upsertLocked(k, out) }
    c.populated = true
    c.watching = true
    ls := c.finishLocked(out)
    c.mu.Unlock()
    c.notify(ls, out)
}

func (c *Cache[T]) upsertLocked(e coord.ChildEntry, out []change[T]) []change[T] {
    v := c.parse(e)
    old, ok := c.entries[e.Path]
    c.entries[e.Path] = v
    switch {
    case !ok:
        return append(out, change[T]{EventAdded, e.Path, v})
    case !c.opts.Equal(old, v):
        return append(out, change[T]{EventUpdated, e.Path, v})
    }
    return out
}

func (c *Cache[T]) removeLocked(path string, out []change[T]) []change[T] {
    old, ok := c.entries[path]
    if !ok { return out }
    delete(c.entries, path)
    return append(out, change[T]{EventRemoved, path, old})
}

func (c *Cache[T]) finishLocked(out []change[T]) []Listener[T] {
    metrics.Members.WithLabelValues(c.opts.Path).Set(float64(len(c.entries)))
    if len(out) == 0 { return nil }
    return append([]Listener[T](nil), c.listeners...)
}

func (c *Cache[T]) notify(ls []Listener[T], out []change[T]) {
    for _, ch := range out {
        metrics.MembershipEvents.WithLabelValues(c.opts.Path, string(ch.typ)).Inc()
        for _, l := range ls { c.call(l, ch) }
    }
}

func (c *Cache[T]) call(l Listener[T], ch change[T]) {
    defer func() {
        if p := recover(); p != nil {
            c.log.Error("membership listener panicked", zap.String("event", string(ch.typ)), zap.Any("panic", p))
        }
    }()
    switch ch.typ {
    case EventAdded:
        l.OnNodeAdded(ch.path, ch.v)
    case EventRemoved:
        l.OnNodeRemoved(ch.path, ch.v)
    case EventUpdated:
        l.OnNodeUpdated(ch.path, ch.v)
    }
}

func (c *Cache[T]) snapshotListeners() []Listener[T] {
    c.mu.Lock()
    defer c.mu.Unlock()
    return append([]Listener[T](nil), c.listeners...)
}

// AddListener registers l for changes made after this call. Members already
// in the cache are not replayed.
func (c *Cache[T]) AddListener(l Listener[T]) {
    c.mu.Lock()
    defer c.mu.Unlock()
    if c.closed { return }
    c.listeners = append(c.listeners, l)
}

// RemoveListener unregisters l, which must be comparable (a pointer, for
// example).
func (c *Cache[T]) RemoveListener(l Listener[T]) {
    c.mu.Lock()
    defer c.mu.Unlock()
    for i, x := range c.listeners {
        if x == l {
            c.listeners = append(c.listeners[:i:i], c.listeners[i+1:]...)
            return
        }
    }
}

// Members returns a copy of the current entries keyed by child path.
func (c *Cache[T]) Members() map[string]T {
    c.mu.Lock()
    defer c.mu.Unlock()
    out := make(map[string]T, len(c.entries))
    for k, v := range c.entries { out[k] = v }
    return out
}

// Contains reports whether some member's value equals v.
func (c *Cache[T]) Contains(v T) bool {
    c.mu.Lock()
    defer c.mu.Unlock()
    for _, x := range c.entries {
        if c.opts.Equal(x, v) { return true }
    }
    return false
}

func (c *Cache[T]) Len() int {
    c.mu.Lock()
    defer c.mu.Unlock()
    return len(c.entries)
}

func (c *Cache[T]) Path() string { return c.opts.Path }

// Close detaches the watch and drops listeners and entries. No listener is
// called once Close returns, so it must not be called from a listener. It is
// safe to call more than once.
func (c *Cache[T]) Close() error {
    c.mu.Lock()
    if c.closed {
        c.mu.Unlock()
        return nil
    }
    c.closed = true
    unlisten := c.unlisten
    c.mu.Unlock()

    if unlisten != nil { unlisten() }
    c.cancel()
    c.wg.Wait()
    c.queue.Close()
    <-c.queue.Done()

    c.mu.Lock()
    c.listeners = nil
    c.entries = make(map[string]T)
    c.watching = false
    c.mu.Unlock()
    metrics.Members.DeleteLabelValues(c.opts.Path)
    return nil
}
