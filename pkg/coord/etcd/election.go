package etcd

import (
    "context"
    "errors"
    "sync"
    "sync/atomic"
    "time"

    clientv3 "go.etcd.io/etcd/client/v3"
    "go.etcd.io/etcd/client/v3/concurrency"
    "go.uber.org/zap"

    "github.com/amirimatin/go-coord/pkg/coord"
    "github.com/amirimatin/go-coord/pkg/observability/tracing"
)

type leadershipMutex struct {
    c    *Client
    path string
    id   string
    l    coord.LeadershipListener
    log  *zap.Logger

    mu       sync.Mutex
    started  bool
    closed   bool
    leader   atomic.Bool
    ctx      context.Context
    cancel   context.CancelFunc
    done     chan struct{}
    unlisten func()
}

func (c *Client) NewLeadershipMutex(path, id string, l coord.LeadershipListener) (coord.LeadershipMutex, error) {
    if err := coord.ValidatePath(path); err != nil { return nil, err }
    if id == "" { return nil, errors.New("etcd: empty participant id") }
    if l == nil { return nil, errors.New("etcd: nil leadership listener") }
    ctx, cancel := context.WithCancel(context.Background())
    return &leadershipMutex{
        c:      c,
        path:   path,
        id:     id,
        l:      l,
        log:    c.log.With(zap.String("election", path), zap.String("id", id)),
        ctx:    ctx,
        cancel: cancel,
        done:   make(chan struct{}),
    }, nil
}

func (m *leadershipMutex) ID() string { return m.id }

func (m *leadershipMutex) HasLeadership() bool { return m.leader.Load() }

func (m *leadershipMutex) Start() error {
    m.mu.Lock()
    defer m.mu.Unlock()
    if m.closed { return coord.ErrClosed }
    if m.started { return coord.ErrMutexStarted }
    m.started = true
    m.unlisten = m.c.AddStateListener(m.l.StateChanged)
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

func (m *leadershipMutex) prefix() string { return m.c.key(m.path) }

// Participants lists candidates in campaign order; the first one leads.
func (m *leadershipMutex) Participants(ctx context.Context) ([]coord.Participant, error) {
    if err := m.c.checkOpen(); err != nil { return nil, err }
    resp, err := m.c.cli.Get(ctx, m.prefix()+"/", clientv3.WithPrefix(),
        clientv3.WithSort(clientv3.SortByCreateRevision, clientv3.SortAscend))
    if err != nil { return nil, mapErr(err) }
    out := make([]coord.Participant, 0, len(resp.Kvs))
    for i, kv := range resp.Kvs {
        out = append(out, coord.Participant{ID: string(kv.Value), Leader: i == 0})
    }
    return out, nil
}

func (m *leadershipMutex) Leader(ctx context.Context) (coord.Participant, error) {
    s, err := m.c.currentSession()
    if err != nil { return coord.Participant{}, err }
    resp, err := concurrency.NewElection(s, m.prefix()).Leader(ctx)
    if errors.Is(err, concurrency.ErrElectionNoLeader) { return coord.Participant{}, nil }
    if err != nil { return coord.Participant{}, mapErr(err) }
    return coord.Participant{ID: string(resp.Kvs[0].Value), Leader: true}, nil
}

// loop campaigns on a session of its own: etcd elections key candidates
// by lease, so mutexes sharing the client session would share one key.
func (m *leadershipMutex) loop() {
    defer close(m.done)
    b := m.c.newBackoff()
    var s *concurrency.Session
    defer func() {
        if s != nil { _ = s.Close() }
    }()
    retry := func(err error, what string) bool {
        if m.ctx.Err() != nil { return false }
        wait := b.NextBackOff()
        m.log.Warn(what+" failed", zap.Error(err), zap.Duration("retry_in", wait))
        select {
        case <-m.ctx.Done():
            return false
        case <-time.After(wait):
            return true
        }
    }
    for {
        if m.ctx.Err() != nil { return }
        if s == nil || isDone(s) {
            ns, err := m.c.openSession(m.ctx)
            if err != nil {
                if !retry(err, "session") { return }
                continue
            }
            s = ns
        }
        e := concurrency.NewElection(s, m.prefix())
        ctx, end := tracing.StartSpan(m.ctx, "coord.etcd.campaign")
        err := e.Campaign(ctx, m.id)
        end()
        if err != nil {
            if !retry(mapErr(err), "campaign") { return }
            continue
        }
        b.Reset()
        m.term(s, e)
    }
}

func isDone(s *concurrency.Session) bool {
    select {
    case <-s.Done():
        return true
    default:
        return false
    }
}

func (m *leadershipMutex) term(s *concurrency.Session, e *concurrency.Election) {
    ctx, cancel := context.WithCancel(m.ctx)
    defer cancel()
    m.leader.Store(true)
    go func() {
        select {
        case <-s.Done():
            m.leader.Store(false)
            cancel()
        case <-ctx.Done():
        }
    }()
    m.log.Info("leadership acquired")
    defer func() {
        m.leader.Store(false)
        rctx, rcancel := context.WithTimeout(context.Background(), coord.DefaultOpTimeout)
        defer rcancel()
        if err := e.Resign(rctx); err != nil {
            m.log.Debug("resign failed", zap.Error(err))
        }
        m.log.Info("leadership released")
    }()
    defer func() {
        if r := recover(); r != nil {
            m.log.Error("leadership callback panicked", zap.Any("panic", r))
        }
    }()
    m.l.TakeLeadership(ctx)
}
