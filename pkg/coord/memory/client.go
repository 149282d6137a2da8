package memory

import (
    "context"
    "fmt"
    "sync"

    "go.uber.org/zap"

    "github.com/amirimatin/go-coord/pkg/coord"
    "github.com/amirimatin/go-coord/pkg/internal/logutil"
    "github.com/amirimatin/go-coord/pkg/internal/serial"
)

// Client is one simulated process connected to a Server.
type Client struct {
    srv *Server
    log *zap.Logger

    mu        sync.Mutex
    session   int64
    state     coord.ConnectionState
    connected chan struct{} // closed while the connection is usable
    closed    bool
    listeners map[int]coord.StateListener
    nextID    int
    notify    *serial.Queue
}

// NewClient opens a new session on the server.
func (s *Server) NewClient(log *zap.Logger) *Client {
    log = logutil.Named(log, "memory")
    c := &Client{
        srv:       s,
        log:       log,
        session:   s.openSession(),
        state:     coord.StateConnected,
        connected: make(chan struct{}),
        listeners: make(map[int]coord.StateListener),
        notify:    serial.New("memory-state", log),
    }
    close(c.connected)
    return c
}

var _ coord.Client = (*Client)(nil)

func (c *Client) check(ctx context.Context) error {
    if err := ctx.Err(); err != nil { return err }
    c.mu.Lock()
    defer c.mu.Unlock()
    if c.closed { return coord.ErrClosed }
    if !c.state.IsConnected() { return coord.ErrConnectionLoss }
    return nil
}

func (c *Client) Create(ctx context.Context, path string, data []byte, mode coord.CreateMode) (string, error) {
    if err := coord.ValidatePath(path); err != nil { return "", err }
    if path == "/" { return "", fmt.Errorf("%w: %s", coord.ErrNodeExists, path) }
    if err := c.check(ctx); err != nil { return "", err }
    return c.srv.create(path, data, mode, c.SessionID())
}

func (c *Client) Delete(ctx context.Context, path string) error {
    if err := coord.ValidatePath(path); err != nil { return err }
    if err := c.check(ctx); err != nil { return err }
    return c.srv.delete(path)
}

func (c *Client) Exists(ctx context.Context, path string) (*coord.Stat, error) {
    if err := coord.ValidatePath(path); err != nil { return nil, err }
    if err := c.check(ctx); err != nil { return nil, err }
    return c.srv.exists(path), nil
}

func (c *Client) ExistsW(ctx context.Context, path string) (*coord.Stat, <-chan coord.NodeEvent, error) {
    if err := coord.ValidatePath(path); err != nil { return nil, nil, err }
    if err := c.check(ctx); err != nil { return nil, nil, err }
    st, ch := c.srv.existsW(ctx, path)
    return st, ch, nil
}

func (c *Client) GetData(ctx context.Context, path string) ([]byte, *coord.Stat, error) {
    if err := coord.ValidatePath(path); err != nil { return nil, nil, err }
    if err := c.check(ctx); err != nil { return nil, nil, err }
    return c.srv.get(path)
}

func (c *Client) SetData(ctx context.Context, path string, data []byte) (*coord.Stat, error) {
    if err := coord.ValidatePath(path); err != nil { return nil, err }
    if err := c.check(ctx); err != nil { return nil, err }
    return c.srv.setData(path, data)
}

func (c *Client) Children(ctx context.Context, path string) ([]coord.ChildEntry, error) {
    if err := coord.ValidatePath(path); err != nil { return nil, err }
    if err := c.check(ctx); err != nil { return nil, err }
    return c.srv.children(path)
}

func (c *Client) ChildrenW(ctx context.Context, path string) ([]coord.ChildEntry, <-chan coord.ChildEvent, error) {
    if err := coord.ValidatePath(path); err != nil { return nil, nil, err }
    if err := c.check(ctx); err != nil { return nil, nil, err }
    return c.srv.childrenW(ctx, path)
}

func (c *Client) State() coord.ConnectionState {
    c.mu.Lock()
    defer c.mu.Unlock()
    return c.state
}

func (c *Client) SessionID() int64 {
    c.mu.Lock()
    defer c.mu.Unlock()
    return c.session
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

// StateListeners is the number of registered state listeners.
func (c *Client) StateListeners() int {
    c.mu.Lock()
    defer c.mu.Unlock()
    return len(c.listeners)
}

func (c *Client) NewLeadershipMutex(path, id string, l coord.LeadershipListener) (coord.LeadershipMutex, error) {
    if err := coord.ValidatePath(path); err != nil { return nil, err }
    if id == "" { return nil, fmt.Errorf("memory: empty participant id") }
    if l == nil { return nil, fmt.Errorf("memory: nil leadership listener") }
    ctx, cancel := context.WithCancel(context.Background())
    return &leadershipMutex{
        client: c,
        path:   path,
        id:     id,
        l:      l,
        log:    c.log,
        ctx:    ctx,
        cancel: cancel,
        done:   make(chan struct{}),
    }, nil
}

// ExpireSession simulates the store expiring this client's session: its
// ephemeral nodes and election entries vanish, LOST is reported, and a new
// session is opened and reported as RECONNECTED.
func (c *Client) ExpireSession() {
    c.mu.Lock()
    if c.closed {
        c.mu.Unlock()
        return
    }
    c.srv.expireSession(c.session)
    c.session = c.srv.openSession()
    c.mu.Unlock()
    c.setState(coord.StateLost)
    c.setState(coord.StateReconnected)
}

// Suspend simulates a dropped connection with the session still alive.
// Calls fail with ErrConnectionLoss until Resume.
func (c *Client) Suspend() { c.setState(coord.StateSuspended) }

// Resume restores a suspended connection.
func (c *Client) Resume() { c.setState(coord.StateReconnected) }

func (c *Client) waitConnected(ctx context.Context) error {
    c.mu.Lock()
    ch := c.connected
    closed := c.closed
    c.mu.Unlock()
    if closed { return coord.ErrClosed }
    select {
    case <-ch:
        return nil
    case <-ctx.Done():
        return ctx.Err()
    }
}

func (c *Client) setState(s coord.ConnectionState) {
    c.mu.Lock()
    if c.closed || c.state == s {
        c.mu.Unlock()
        return
    }
    was := c.state.IsConnected()
    c.state = s
    switch {
    case was && !s.IsConnected():
        c.connected = make(chan struct{})
    case !was && s.IsConnected():
        close(c.connected)
    }
    ls := make([]coord.StateListener, 0, len(c.listeners))
    for _, l := range c.listeners { ls = append(ls, l) }
    c.mu.Unlock()
    c.log.Debug("connection state", zap.Stringer("state", s))
    c.notify.Submit(func() {
        for _, l := range ls { l(s) }
    })
}

// Close ends the session, removing its ephemeral nodes.
func (c *Client) Close() error {
    c.mu.Lock()
    if c.closed {
        c.mu.Unlock()
        return nil
    }
    c.closed = true
    session := c.session
    c.mu.Unlock()
    c.srv.expireSession(session)
    c.notify.Close()
    return nil
}
