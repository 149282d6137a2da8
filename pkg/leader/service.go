// Package leader runs a delegate service only while this process holds
// leadership for a path. Each leadership term gets a fresh delegate; when
// the term ends the delegate is stopped and, unless the leader service
// itself is stopping, leadership is requeued after a reacquire delay.
package leader

import (
    "context"
    "errors"
    "fmt"
    "sync"
    "time"

    "github.com/google/uuid"
    "go.uber.org/zap"

    "github.com/amirimatin/go-coord/pkg/coord"
    "github.com/amirimatin/go-coord/pkg/internal/logutil"
    "github.com/amirimatin/go-coord/pkg/observability/metrics"
    "github.com/amirimatin/go-coord/pkg/service"
)

var (
    ErrNilClient   = errors.New("leader: client is required")
    ErrNilSupplier = errors.New("leader: supplier is required")
    ErrBadDelay    = errors.New("leader: reacquire delay must not be negative")
)

var errNilDelegate = errors.New("leader: supplier returned nil")

// Supplier returns a new, never started delegate on every call.
type Supplier func() service.Service

type Options struct {
    Client coord.Client
    Path   string
    // ID names this participant; a random UUID when empty.
    ID string
    // ReacquireDelay is slept after a term ends before competing again.
    ReacquireDelay time.Duration
    Supplier       Supplier
    Logger         *zap.Logger
}

// Service competes for leadership between Start and Stop.
type Service struct {
    *service.Runner

    opts  Options
    log   *zap.Logger
    mutex coord.LeadershipMutex

    stopped  chan struct{}
    stopOnce sync.Once
    wake     chan struct{}

    mu       sync.Mutex
    inactive *sync.Cond
    delegate service.Service
    active   bool
    inTerm   bool
    lost     bool
}

func New(opts Options) (*Service, error) {
    if opts.Client == nil { return nil, ErrNilClient }
    if err := coord.ValidatePath(opts.Path); err != nil { return nil, err }
    if opts.Supplier == nil { return nil, ErrNilSupplier }
    if opts.ReacquireDelay < 0 { return nil, ErrBadDelay }
    if opts.ID == "" { opts.ID = uuid.NewString() }
    metrics.Register()

    s := &Service{
        opts:    opts,
        log:     logutil.Named(opts.Logger, "leader").With(zap.String("path", opts.Path), zap.String("id", opts.ID)),
        stopped: make(chan struct{}),
        wake:    make(chan struct{}, 1),
    }
    s.inactive = sync.NewCond(&s.mu)
    m, err := opts.Client.NewLeadershipMutex(opts.Path, opts.ID, listener{s})
    if err != nil { return nil, fmt.Errorf("leader: %w", err) }
    s.mutex = m
    s.Runner = service.NewIdle("leader "+opts.Path, s.startUp, s.shutDown)
    return s, nil
}

func (s *Service) ID() string { return s.opts.ID }

func (s *Service) Path() string { return s.opts.Path }

// HasLeadership is the locally cached view and may lag the store. Use
// Leader or Participants for the store's answer. It turns false as soon as
// the connection is interrupted during a term.
func (s *Service) HasLeadership() bool {
    s.mu.Lock()
    lost := s.lost
    s.mu.Unlock()
    return s.mutex.HasLeadership() && !lost
}

func (s *Service) Participants(ctx context.Context) ([]coord.Participant, error) {
    return s.mutex.Participants(ctx)
}

func (s *Service) Leader(ctx context.Context) (coord.Participant, error) {
    return s.mutex.Leader(ctx)
}

// Delegate returns the delegate of the current term, or nil.
func (s *Service) Delegate() service.Service {
    s.mu.Lock()
    defer s.mu.Unlock()
    return s.delegate
}

// Close stops the service and waits for the delegate to stop.
func (s *Service) Close() error {
    err := s.Stop(context.Background())
    if cerr := s.mutex.Close(); err == nil { err = cerr }
    return err
}

func (s *Service) startUp(context.Context) error {
    s.log.Info("joining leader election")
    return s.mutex.Start()
}

func (s *Service) shutDown(context.Context) error {
    s.stopOnce.Do(func() { close(s.stopped) })
    s.signal()
    s.mu.Lock()
    for s.active { s.inactive.Wait() }
    s.mu.Unlock()
    err := s.mutex.Close()
    metrics.IsLeader.WithLabelValues(s.opts.Path).Set(0)
    s.log.Info("left leader election")
    return err
}

func (s *Service) isStopped() bool {
    select {
    case <-s.stopped:
        return true
    default:
        return false
    }
}

func (s *Service) signal() {
    select {
    case s.wake <- struct{}{}:
    default:
    }
}

type listener struct{ s *Service }

func (l listener) TakeLeadership(ctx context.Context) { l.s.takeLeadership(ctx) }

func (l listener) StateChanged(st coord.ConnectionState) { l.s.stateChanged(st) }

func (s *Service) stateChanged(st coord.ConnectionState) {
    if st != coord.StateSuspended && st != coord.StateLost { return }
    s.mu.Lock()
    if s.inTerm { s.lost = true }
    s.mu.Unlock()
    s.signal()
}

func (s *Service) takeLeadership(ctx context.Context) {
    if s.isStopped() || ctx.Err() != nil || !s.mutex.HasLeadership() { return }

    s.mu.Lock()
    s.inTerm = true
    s.lost = false
    s.mu.Unlock()
    defer func() {
        s.mu.Lock()
        s.inTerm = false
        s.lost = false
        s.mu.Unlock()
    }()

    gauge := metrics.IsLeader.WithLabelValues(s.opts.Path)
    gauge.Set(1)
    s.log.Info("leadership acquired; starting delegate")
    s.runTerm(ctx)
    gauge.Set(0)

    if s.isStopped() { return }
    s.log.Info("delegate stopped; waiting before requeueing", zap.Duration("delay", s.opts.ReacquireDelay))
    t := time.NewTimer(s.opts.ReacquireDelay)
    defer t.Stop()
    select {
    case <-t.C:
    case <-s.stopped:
    }
}

func (s *Service) runTerm(ctx context.Context) {
    d, err := s.supply()
    if err != nil {
        s.fail("supply", err)
        return
    }
    s.mu.Lock()
    if s.isStopped() {
        s.mu.Unlock()
        return
    }
    s.delegate = d
    s.active = true
    s.mu.Unlock()
    defer s.stopDelegate(d)

    metrics.LeaderTerms.WithLabelValues(s.opts.Path).Inc()
    if err := callStart(ctx, d); err != nil {
        s.fail("start", err)
        return
    }
    for {
        s.mu.Lock()
        lost := s.lost
        s.mu.Unlock()
        switch {
        case lost:
            s.log.Warn("connection interrupted; giving up leadership")
            return
        case s.isStopped():
            return
        }
        select {
        case <-s.wake:
        case <-d.Done():
            s.log.Info("delegate ended on its own", zap.Stringer("state", d.State()))
            return
        case <-ctx.Done():
            s.log.Warn("leadership lost")
            return
        case <-s.stopped:
            return
        }
    }
}

func (s *Service) supply() (d service.Service, err error) {
    defer func() {
        if p := recover(); p != nil { err = fmt.Errorf("panic: %v", p) }
    }()
    d = s.opts.Supplier()
    if d == nil { return nil, errNilDelegate }
    return d, nil
}

func callStart(ctx context.Context, d service.Service) (err error) {
    defer func() {
        if p := recover(); p != nil { err = fmt.Errorf("panic: %v", p) }
    }()
    return d.Start(ctx)
}

func (s *Service) stopDelegate(d service.Service) {
    defer func() {
        if p := recover(); p != nil { s.fail("stop", fmt.Errorf("panic: %v", p)) }
        s.mu.Lock()
        s.delegate = nil
        s.active = false
        s.inactive.Broadcast()
        s.mu.Unlock()
    }()
    if err := d.Stop(context.Background()); err != nil { s.fail("stop", err) }
}

func (s *Service) fail(phase string, err error) {
    metrics.DelegateFailures.WithLabelValues(s.opts.Path).Inc()
    s.log.Warn("delegate failed; will retry after reacquire delay", zap.String("phase", phase), zap.Error(err))
}
