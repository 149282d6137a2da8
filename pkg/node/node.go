// Package node keeps an ephemeral node alive in the coordination store for
// as long as the owning process wants it, recreating it after session loss
// or external deletion.
package node

import (
    "context"
    "errors"
    "fmt"
    "sync"
    "time"

    "github.com/cenkalti/backoff/v5"
    "go.uber.org/zap"

    "github.com/amirimatin/go-coord/pkg/coord"
    "github.com/amirimatin/go-coord/pkg/internal/logutil"
    "github.com/amirimatin/go-coord/pkg/observability/metrics"
    "github.com/amirimatin/go-coord/pkg/observability/tracing"
)

var (
    ErrNilClient = errors.New("node: client is required")
    ErrNilData   = errors.New("node: data is required")
    ErrBadMode   = errors.New("node: mode must be ephemeral")
)

var errGone = errors.New("node: vanished before watch was set")

// Options configures a Node.
type Options struct {
    Client coord.Client
    Path   string
    // Data may be empty but not nil.
    Data []byte
    Mode coord.CreateMode
    // RetryBase and RetryMax bound the create backoff; zero uses 100ms and 1s.
    RetryBase time.Duration
    RetryMax  time.Duration
    Logger    *zap.Logger
}

// Node is a self-healing ephemeral node.
type Node struct {
    opts Options
    log  *zap.Logger

    ctx    context.Context
    cancel context.CancelFunc

    mu       sync.Mutex
    actual   string
    closed   bool
    creating bool
    pending  bool
    watchGen uint64
    unwatch  context.CancelFunc
    created  chan struct{}
    unlisten func()
    wg       sync.WaitGroup
}

// New validates opts and starts creating the node in the background.
func New(opts Options) (*Node, error) {
    if opts.Client == nil { return nil, ErrNilClient }
    if err := coord.ValidatePath(opts.Path); err != nil { return nil, err }
    if opts.Path == "/" { return nil, fmt.Errorf("%w: root", coord.ErrInvalidPath) }
    if opts.Data == nil { return nil, ErrNilData }
    if !opts.Mode.IsEphemeral() { return nil, fmt.Errorf("%w: %s", ErrBadMode, opts.Mode) }
    if opts.RetryBase <= 0 { opts.RetryBase = 100 * time.Millisecond }
    if opts.RetryMax <= 0 { opts.RetryMax = time.Second }
    metrics.Register()

    ctx, cancel := context.WithCancel(context.Background())
    n := &Node{
        opts:    opts,
        log:     logutil.Named(opts.Logger, "node").With(zap.String("path", opts.Path)),
        ctx:     ctx,
        cancel:  cancel,
        created: make(chan struct{}),
    }
    n.unlisten = opts.Client.AddStateListener(n.stateChanged)
    n.trigger()
    return n, nil
}

func (n *Node) Path() string { return n.opts.Path }

// ActualPath is the path of the bound node, or "" while none is bound.
func (n *Node) ActualPath() string {
    n.mu.Lock()
    defer n.mu.Unlock()
    return n.actual
}

// Wait blocks until the node has been created once.
func (n *Node) Wait(ctx context.Context) error {
    select {
    case <-n.created:
        return nil
    case <-n.ctx.Done():
        return coord.ErrClosed
    case <-ctx.Done():
        return ctx.Err()
    }
}

// Close stops maintaining the node and deletes it, waiting up to timeout.
// Running out of time is not an error; the store removes the node when the
// session ends anyway.
func (n *Node) Close(timeout time.Duration) error {
    n.mu.Lock()
    if n.closed {
        n.mu.Unlock()
        return nil
    }
    n.closed = true
    n.stopWatchLocked()
    n.mu.Unlock()

    n.unlisten()
    n.cancel()
    n.wg.Wait()

    n.mu.Lock()
    path := n.actual
    n.mu.Unlock()
    if path == "" { return nil }

    ctx, cancel := context.WithTimeout(context.Background(), timeout)
    defer cancel()
    err := n.opts.Client.Delete(ctx, path)
    switch {
    case err == nil, errors.Is(err, coord.ErrNoNode):
        n.setActual("")
        return nil
    case errors.Is(err, context.DeadlineExceeded), coord.IsRetryable(err):
        n.log.Warn("node not confirmed deleted before timeout", zap.String("actual", path), zap.Error(err))
        return nil
    default:
        return err
    }
}

func (n *Node) stateChanged(s coord.ConnectionState) {
    switch s {
    case coord.StateConnected, coord.StateReconnected:
        n.trigger()
    case coord.StateLost:
        n.log.Info("session lost; node will be recreated on reconnect")
    }
}

// trigger schedules a create. At most one create runs at a time; triggers
// that arrive meanwhile collapse into one more round.
func (n *Node) trigger() {
    n.mu.Lock()
    defer n.mu.Unlock()
    if n.closed { return }
    if n.creating {
        n.pending = true
        return
    }
    n.creating = true
    n.wg.Add(1)
    go n.createLoop()
}

func (n *Node) createLoop() {
    defer n.wg.Done()
    for {
        if err := n.createWithRetry(); err != nil && n.ctx.Err() == nil {
            n.log.Debug("create deferred", zap.Error(err))
        }
        n.mu.Lock()
        if n.closed || !n.pending {
            n.creating = false
            n.mu.Unlock()
            return
        }
        n.pending = false
        n.mu.Unlock()
    }
}

func (n *Node) createWithRetry() error {
    b := backoff.NewExponentialBackOff()
    b.InitialInterval = n.opts.RetryBase
    b.MaxInterval = n.opts.RetryMax
    _, err := backoff.Retry(n.ctx, func() (struct{}, error) {
        if err := n.ctx.Err(); err != nil { return struct{}{}, backoff.Permanent(err) }
        if !n.opts.Client.State().IsConnected() {
            return struct{}{}, backoff.Permanent(coord.ErrConnectionLoss)
        }
        err := n.createOnce()
        if err != nil {
            metrics.NodeCreates.WithLabelValues("error").Inc()
            n.log.Warn("create failed", zap.Error(err))
        }
        return struct{}{}, err
    }, backoff.WithBackOff(b), backoff.WithMaxElapsedTime(0))
    return err
}

func (n *Node) createOnce() error {
    ctx, cancel := context.WithTimeout(n.ctx, coord.DefaultOpTimeout)
    defer cancel()
    ctx, end := tracing.StartSpan(ctx, "node.create")
    defer end()

    n.mu.Lock()
    n.stopWatchLocked()
    prev := n.actual
    n.mu.Unlock()
    if prev != "" {
        if err := n.opts.Client.Delete(ctx, prev); err != nil && !errors.Is(err, coord.ErrNoNode) {
            return err
        }
        n.setActual("")
    }

    path, err := n.opts.Client.Create(ctx, n.opts.Path, n.opts.Data, n.opts.Mode)
    if errors.Is(err, coord.ErrNoParent) {
        if err := n.ensureParents(ctx); err != nil { return err }
        path, err = n.opts.Client.Create(ctx, n.opts.Path, n.opts.Data, n.opts.Mode)
    }
    switch {
    case err == nil:
        n.setActual(path)
        if err := n.watch(path, true); err != nil { return err }
        metrics.NodeCreates.WithLabelValues("created").Inc()
        n.log.Info("node created", zap.String("actual", path))
        return nil
    case errors.Is(err, coord.ErrNodeExists) && !n.opts.Mode.IsSequential():
        return n.watch(n.opts.Path, false)
    default:
        tracing.RecordError(ctx, err)
        return err
    }
}

// watch installs the deletion watch on path. A node we did not just create
// is adopted when our session owns it, otherwise we wait for it to go away.
func (n *Node) watch(path string, ours bool) error {
    n.mu.Lock()
    n.watchGen++
    gen := n.watchGen
    wctx, cancel := context.WithCancel(n.ctx)
    n.unwatch = cancel
    n.mu.Unlock()

    st, ch, err := n.opts.Client.ExistsW(wctx, path)
    if err != nil {
        cancel()
        return err
    }
    if st == nil {
        cancel()
        return errGone
    }
    if !ours {
        if st.Owner != 0 && st.Owner == n.opts.Client.SessionID() {
            n.setActual(path)
            metrics.NodeCreates.WithLabelValues("adopted").Inc()
            n.log.Info("adopted node owned by this session", zap.String("actual", path))
        } else {
            n.log.Info("node held by another session; waiting for deletion", zap.Int64("owner", st.Owner))
        }
    }
    go func() {
        defer cancel()
        ev, ok := <-ch
        n.mu.Lock()
        stale := gen != n.watchGen || n.closed
        n.mu.Unlock()
        if stale { return }
        switch {
        case !ok:
            n.log.Debug("watch ended; recreating")
        case ev.Type != coord.NodeDeleted:
            n.log.Debug("node changed; rewatching", zap.Stringer("event", ev.Type))
            if err := n.watch(path, true); err == nil { return }
            n.log.Info("rewatch failed; recreating")
        default:
            n.log.Info("node deleted; recreating")
        }
        n.trigger()
    }()
    return nil
}

// ensureParents creates missing ancestors as persistent nodes.
func (n *Node) ensureParents(ctx context.Context) error {
    parent := coord.ParentPath(n.opts.Path)
    var missing []string
    for p := parent; p != "/"; p = coord.ParentPath(p) { missing = append(missing, p) }
    for i := len(missing) - 1; i >= 0; i-- {
        _, err := n.opts.Client.Create(ctx, missing[i], []byte{}, coord.Persistent)
        if err != nil && !errors.Is(err, coord.ErrNodeExists) { return err }
    }
    return nil
}

func (n *Node) setActual(path string) {
    n.mu.Lock()
    was := n.actual
    n.actual = path
    n.mu.Unlock()
    switch {
    case was == "" && path != "":
        metrics.NodesActive.Inc()
        n.markCreated()
    case was != "" && path == "":
        metrics.NodesActive.Dec()
    }
}

func (n *Node) markCreated() {
    select {
    case <-n.created:
    default:
        close(n.created)
    }
}

func (n *Node) stopWatchLocked() {
    n.watchGen++
    if n.unwatch != nil {
        n.unwatch()
        n.unwatch = nil
    }
}
