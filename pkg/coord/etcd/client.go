// Package etcd implements coord.Client on etcd v3. Nodes are keys under the
// namespace prefix, sessions are leases kept alive by concurrency.Session,
// and leadership uses concurrency.Election.
package etcd

import (
    "context"
    "errors"
    "fmt"
    "sync"

    "github.com/cenkalti/backoff/v5"
    "go.etcd.io/etcd/api/v3/v3rpc/rpctypes"
    clientv3 "go.etcd.io/etcd/client/v3"
    "go.etcd.io/etcd/client/v3/concurrency"
    "go.uber.org/zap"
    "google.golang.org/grpc/codes"
    "google.golang.org/grpc/connectivity"
    "google.golang.org/grpc/status"

    "github.com/amirimatin/go-coord/pkg/coord"
    "github.com/amirimatin/go-coord/pkg/internal/logutil"
    "github.com/amirimatin/go-coord/pkg/internal/serial"
    "github.com/amirimatin/go-coord/pkg/observability/metrics"
)

// Client is a coord.Client backed by etcd.
type Client struct {
    cli    *clientv3.Client
    opts   Options
    log    *zap.Logger
    prefix string

    ctx    context.Context
    cancel context.CancelFunc
    wg     sync.WaitGroup
    notify *serial.Queue

    mu        sync.Mutex
    session   *concurrency.Session
    state     coord.ConnectionState
    closed    bool
    listeners map[int]coord.StateListener
    nextID    int
}

var _ coord.Client = (*Client)(nil)

// New dials etcd and opens the first session. ctx bounds the initial
// session grant.
func New(ctx context.Context, opts Options) (*Client, error) {
    if err := opts.Validate(); err != nil { return nil, err }
    opts.setDefaults()
    ns, err := coord.NormalizeNamespace(opts.Namespace)
    if err != nil { return nil, err }
    log := logutil.Named(opts.Logger, "etcd")

    cli, err := clientv3.New(clientv3.Config{
        Endpoints:   opts.Endpoints,
        DialTimeout: opts.DialTimeout,
        TLS:         opts.TLS,
        Username:    opts.Username,
        Password:    opts.Password,
        DialOptions: opts.DialOptions,
        Logger:      log.Named("client"),
    })
    if err != nil { return nil, fmt.Errorf("etcd: dial: %w", err) }

    c := &Client{
        cli:       cli,
        opts:      opts,
        log:       log,
        state:     coord.StateConnected,
        listeners: make(map[int]coord.StateListener),
        notify:    serial.New("etcd-state", log),
    }
    if ns != "" { c.prefix = "/" + ns }
    c.ctx, c.cancel = context.WithCancel(context.Background())

    sctx, cancel := context.WithTimeout(ctx, opts.DialTimeout)
    defer cancel()
    s, err := c.openSession(sctx)
    if err != nil {
        c.cancel()
        c.notify.Close()
        _ = cli.Close()
        return nil, fmt.Errorf("etcd: open session: %w", err)
    }
    c.session = s

    c.wg.Add(2)
    go c.watchSession()
    go c.watchConnectivity()
    metrics.SetConnectionState(coord.StateConnected.String())
    log.Info("connected", zap.Strings("endpoints", opts.Endpoints), zap.String("namespace", ns), zap.Int64("session", int64(s.Lease())))
    return c, nil
}

// Raw exposes the underlying etcd client.
func (c *Client) Raw() *clientv3.Client { return c.cli }

func (c *Client) openSession(ctx context.Context) (*concurrency.Session, error) {
    // Grant under ctx, keep alive under the client's lifetime.
    resp, err := c.cli.Grant(ctx, int64(c.opts.ttlSeconds()))
    if err != nil { return nil, mapErr(err) }
    return concurrency.NewSession(c.cli, concurrency.WithLease(resp.ID), concurrency.WithTTL(c.opts.ttlSeconds()), concurrency.WithContext(c.ctx))
}

func (c *Client) currentSession() (*concurrency.Session, error) {
    c.mu.Lock()
    defer c.mu.Unlock()
    if c.closed { return nil, coord.ErrClosed }
    return c.session, nil
}

func (c *Client) newBackoff() *backoff.ExponentialBackOff {
    b := backoff.NewExponentialBackOff()
    b.InitialInterval = c.opts.RetryBaseSleep
    b.MaxInterval = c.opts.RetryMaxSleep
    return b
}

// watchSession reports LOST when the lease dies and re-opens a session
// until it succeeds, then reports RECONNECTED.
func (c *Client) watchSession() {
    defer c.wg.Done()
    for {
        s, err := c.currentSession()
        if err != nil { return }
        select {
        case <-c.ctx.Done():
            return
        case <-s.Done():
        }
        if c.isClosed() { return }
        c.log.Warn("session lost", zap.Int64("session", int64(s.Lease())))
        c.setState(coord.StateLost)
        ns, err := backoff.Retry(c.ctx, func() (*concurrency.Session, error) {
            ctx, cancel := context.WithTimeout(c.ctx, c.opts.DialTimeout)
            defer cancel()
            return c.openSession(ctx)
        }, backoff.WithBackOff(c.newBackoff()), backoff.WithMaxElapsedTime(0))
        if err != nil { return }
        c.mu.Lock()
        if c.closed {
            c.mu.Unlock()
            _ = ns.Close()
            return
        }
        c.session = ns
        c.mu.Unlock()
        c.log.Info("session re-established", zap.Int64("session", int64(ns.Lease())))
        c.setState(coord.StateReconnected)
    }
}

// watchConnectivity maps grpc channel state to SUSPENDED and RECONNECTED.
func (c *Client) watchConnectivity() {
    defer c.wg.Done()
    conn := c.cli.ActiveConnection()
    if conn == nil { return }
    last := conn.GetState()
    for conn.WaitForStateChange(c.ctx, last) {
        last = conn.GetState()
        switch last {
        case connectivity.TransientFailure:
            if c.State().IsConnected() { c.setState(coord.StateSuspended) }
        case connectivity.Ready:
            if c.State() == coord.StateSuspended { c.setState(coord.StateReconnected) }
        case connectivity.Shutdown:
            return
        }
    }
}

func (c *Client) isClosed() bool {
    c.mu.Lock()
    defer c.mu.Unlock()
    return c.closed
}

func (c *Client) setState(s coord.ConnectionState) {
    c.mu.Lock()
    if c.closed || c.state == s {
        c.mu.Unlock()
        return
    }
    c.state = s
    ls := make([]coord.StateListener, 0, len(c.listeners))
    for _, l := range c.listeners { ls = append(ls, l) }
    c.mu.Unlock()
    c.log.Info("connection state", zap.Stringer("state", s))
    metrics.SetConnectionState(s.String())
    c.notify.Submit(func() {
        for _, l := range ls { l(s) }
    })
}

func (c *Client) State() coord.ConnectionState {
    c.mu.Lock()
    defer c.mu.Unlock()
    return c.state
}

func (c *Client) SessionID() int64 {
    c.mu.Lock()
    defer c.mu.Unlock()
    if c.session == nil { return 0 }
    return int64(c.session.Lease())
}

func (c *Client) AddStateListener(l coord.StateListener) func() {
    c.mu.Lock()
    id := c.nextID
    c.nextID++
    c.listeners[id] = l
    c.mu.Unlock()
    return func() {
        c.mu.Lock()
        delete(c.listeners, id)
        c.mu.Unlock()
    }
}

// Close revokes the session, which deletes this client's ephemeral nodes,
// and closes the connection.
func (c *Client) Close() error {
    c.mu.Lock()
    if c.closed {
        c.mu.Unlock()
        return nil
    }
    c.closed = true
    s := c.session
    c.mu.Unlock()
    var err error
    if s != nil { err = s.Close() }
    c.cancel()
    c.wg.Wait()
    c.notify.Close()
    if cerr := c.cli.Close(); err == nil { err = cerr }
    return err
}

func (c *Client) key(path string) string {
    if path == "/" { return c.prefix }
    return c.prefix + path
}

func (c *Client) pathOf(key string) string {
    p := key[len(c.prefix):]
    if p == "" { return "/" }
    return p
}

// seqKey holds the sequence counter of parent. The NUL byte keeps it out of
// every child listing.
func (c *Client) seqKey(parent string) string { return c.prefix + "\x00seq" + parent }

func mapErr(err error) error {
    if err == nil { return nil }
    if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) { return err }
    if errors.Is(err, rpctypes.ErrLeaseNotFound) { return fmt.Errorf("%w: %v", coord.ErrSessionExpired, err) }
    if errors.Is(err, rpctypes.ErrNoLeader) { return fmt.Errorf("%w: %v", coord.ErrConnectionLoss, err) }
    switch status.Code(err) {
    case codes.Unavailable, codes.DeadlineExceeded:
        return fmt.Errorf("%w: %v", coord.ErrConnectionLoss, err)
    }
    return err
}
