package memory

import (
    "context"
    "sync"
    "sync/atomic"

    "go.uber.org/zap"

    "github.com/amirimatin/go-coord/pkg/coord"
)

type candidate struct {
    id      string
    session int64
    elected chan struct{}
    removed chan struct{}
    gone    bool
}

// election is a FIFO of candidates; the head holds leadership.
type election struct {
    queue []*candidate
}

func (e *election) promoteHead() {
    if len(e.queue) == 0 { return }
    h := e.queue[0]
    select {
    case <-h.elected:
    default:
        close(h.elected)
    }
}

func (e *election) remove(c *candidate) {
    for i, x := range e.queue {
        if x == c {
            e.queue = append(e.queue[:i:i], e.queue[i+1:]...)
            break
        }
    }
    if !c.gone {
        c.gone = true
        close(c.removed)
    }
    e.promoteHead()
}

func (e *election) dropSession(session int64) {
    var drop []*candidate
    for _, c := range e.queue {
        if c.session == session { drop = append(drop, c) }
    }
    for _, c := range drop { e.remove(c) }
}

func (s *Server) enqueue(path, id string, session int64) *candidate {
    c := &candidate{id: id, session: session, elected: make(chan struct{}), removed: make(chan struct{})}
    s.mu.Lock()
    defer s.mu.Unlock()
    if !s.sessions[session] {
        c.gone = true
        close(c.removed)
        return c
    }
    e := s.elections[path]
    if e == nil {
        e = &election{}
        s.elections[path] = e
    }
    e.queue = append(e.queue, c)
    e.promoteHead()
    return c
}

func (s *Server) dequeue(path string, c *candidate) {
    s.mu.Lock()
    defer s.mu.Unlock()
    e := s.elections[path]
    if e == nil { return }
    e.remove(c)
    if len(e.queue) == 0 { delete(s.elections, path) }
}

func (s *Server) participants(path string) []coord.Participant {
    s.mu.Lock()
    defer s.mu.Unlock()
    e := s.elections[path]
    if e == nil { return nil }
    out := make([]coord.Participant, 0, len(e.queue))
    for i, c := range e.queue {
        out = append(out, coord.Participant{ID: c.id, Leader: i == 0})
    }
    return out
}

type leadershipMutex struct {
    client *Client
    path   string
    id     string
    l      coord.LeadershipListener
    log    *zap.Logger

    mu       sync.Mutex
    started  bool
    closed   bool
    leader   atomic.Bool
    ctx      context.Context
    cancel   context.CancelFunc
    done     chan struct{}
    unlisten func()
}

func (m *leadershipMutex) ID() string { return m.id }

func (m *leadershipMutex) HasLeadership() bool { return m.leader.Load() }

func (m *leadershipMutex) Start() error {
    m.mu.Lock()
    defer m.mu.Unlock()
    if m.closed { return coord.ErrClosed }
    if m.started { return coord.ErrMutexStarted }
    m.started = true
    m.unlisten = m.client.AddStateListener(m.l.StateChanged)
    go m.loop()
    return nil
}

func (m *leadershipMutex) Close() error {
    m.mu.Lock()
    if m.closed {
        m.mu.Unlock()
        return nil
    }
    m.closed = true
    started := m.started
    m.mu.Unlock()
    m.cancel()
    if !started { return nil }
    m.unlisten()
    <-m.done
    return nil
}

func (m *leadershipMutex) Participants(ctx context.Context) ([]coord.Participant, error) {
    if err := m.client.check(ctx); err != nil { return nil, err }
    return m.client.srv.participants(m.path), nil
}

func (m *leadershipMutex) Leader(ctx context.Context) (coord.Participant, error) {
    ps, err := m.Participants(ctx)
    if err != nil || len(ps) == 0 { return coord.Participant{}, err }
    return ps[0], nil
}

func (m *leadershipMutex) loop() {
    defer close(m.done)
    for {
        if err := m.client.waitConnected(m.ctx); err != nil { return }
        c := m.client.srv.enqueue(m.path, m.id, m.client.SessionID())
        select {
        case <-c.elected:
            select {
            case <-c.removed:
                continue
            default:
            }
        case <-c.removed:
            continue
        case <-m.ctx.Done():
            m.client.srv.dequeue(m.path, c)
            return
        }
        m.term(c)
        m.client.srv.dequeue(m.path, c)
        if m.ctx.Err() != nil { return }
    }
}

func (m *leadershipMutex) term(c *candidate) {
    ctx, cancel := context.WithCancel(m.ctx)
    defer cancel()
    m.leader.Store(true)
    defer m.leader.Store(false)
    go func() {
        select {
        case <-c.removed:
            m.leader.Store(false)
            cancel()
        case <-ctx.Done():
        }
    }()
    defer func() {
        if r := recover(); r != nil {
            m.log.Error("leadership callback panicked", zap.String("path", m.path), zap.Any("panic", r))
        }
    }()
    m.l.TakeLeadership(ctx)
}
