package grpc

import (
    "context"
    "errors"
    "sync"
    "time"

    "google.golang.org/grpc"
    "google.golang.org/grpc/connectivity"

    obsmetrics "github.com/amirimatin/go-coord/pkg/observability/metrics"
)

var errPoolClosed = errors.New("grpc: connection pool closed")

type dialFunc func(ctx context.Context, target string) (*grpc.ClientConn, error)

// ConnManager caches one connection per management address. Connections
// nobody holds are closed after ttl, and broken ones are replaced on the
// next Get.
type ConnManager struct {
    ttl    time.Duration
    dial   dialFunc
    stop   chan struct{}
    closed bool

    mu    sync.Mutex
    conns map[string]*managedConn
}

type managedConn struct {
    cc       *grpc.ClientConn
    lastUsed time.Time
    refs     int
}

func NewConnManager(ttl time.Duration, dial dialFunc) *ConnManager {
    if ttl <= 0 { ttl = 30 * time.Second }
    m := &ConnManager{ttl: ttl, dial: dial, stop: make(chan struct{}), conns: make(map[string]*managedConn)}
    go m.janitor()
    return m
}

// Get returns the connection for target and a func releasing it.
func (m *ConnManager) Get(ctx context.Context, target string) (*grpc.ClientConn, func(), error) {
    if cc, ok, err := m.cached(target); err != nil || ok { return cc, func() { m.release(target) }, err }

    cc, err := m.dial(ctx, target)
    if err != nil { return nil, func() {}, err }

    m.mu.Lock()
    defer m.mu.Unlock()
    if m.closed {
        _ = cc.Close()
        return nil, func() {}, errPoolClosed
    }
    if mc, ok := m.conns[target]; ok {
        _ = cc.Close()
        obsmetrics.GRPCConnReuse.Inc()
        mc.refs++
        mc.lastUsed = time.Now()
        return mc.cc, func() { m.release(target) }, nil
    }
    m.conns[target] = &managedConn{cc: cc, lastUsed: time.Now(), refs: 1}
    obsmetrics.GRPCConnDials.Inc()
    obsmetrics.GRPCConnActive.Inc()
    return cc, func() { m.release(target) }, nil
}

func (m *ConnManager) cached(target string) (*grpc.ClientConn, bool, error) {
    m.mu.Lock()
    defer m.mu.Unlock()
    if m.closed { return nil, false, errPoolClosed }
    mc, ok := m.conns[target]
    if !ok { return nil, false, nil }
    if mc.cc.GetState() == connectivity.Shutdown {
        m.dropLocked(target, mc)
        return nil, false, nil
    }
    mc.refs++
    mc.lastUsed = time.Now()
    return mc.cc, true, nil
}

func (m *ConnManager) release(target string) {
    m.mu.Lock()
    defer m.mu.Unlock()
    if mc, ok := m.conns[target]; ok {
        if mc.refs > 0 { mc.refs-- }
        mc.lastUsed = time.Now()
    }
}

func (m *ConnManager) dropLocked(target string, mc *managedConn) {
    _ = mc.cc.Close()
    delete(m.conns, target)
    obsmetrics.GRPCConnActive.Dec()
}

// Close closes every cached connection. Safe to call more than once.
func (m *ConnManager) Close() {
    m.mu.Lock()
    defer m.mu.Unlock()
    if m.closed { return }
    m.closed = true
    close(m.stop)
    for target, mc := range m.conns { m.dropLocked(target, mc) }
}

// Len is the number of cached connections.
func (m *ConnManager) Len() int {
    m.mu.Lock()
    defer m.mu.Unlock()
    return len(m.conns)
}

func (m *ConnManager) janitor() {
    t := time.NewTicker(m.ttl / 2)
    defer t.Stop()
    for {
        select {
        case <-m.stop:
            return
        case <-t.C:
        }
        cutoff := time.Now().Add(-m.ttl)
        m.mu.Lock()
        for target, mc := range m.conns {
            if mc.refs == 0 && mc.lastUsed.Before(cutoff) {
                m.dropLocked(target, mc)
                obsmetrics.GRPCConnEvictions.Inc()
            }
        }
        m.mu.Unlock()
    }
}
