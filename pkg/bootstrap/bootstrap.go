// Package bootstrap assembles a coordination client, its endpoint
// discovery and the management server from a Config.
package bootstrap

import (
    "context"
    "crypto/tls"
    "fmt"
    "sync"

    "github.com/cenkalti/backoff/v5"
    "go.uber.org/multierr"
    "go.uber.org/zap"

    "github.com/amirimatin/go-coord/pkg/coord"
    "github.com/amirimatin/go-coord/pkg/coord/etcd"
    "github.com/amirimatin/go-coord/pkg/coord/memory"
    "github.com/amirimatin/go-coord/pkg/discovery"
    dDNS "github.com/amirimatin/go-coord/pkg/discovery/dns"
    dFile "github.com/amirimatin/go-coord/pkg/discovery/file"
    dStatic "github.com/amirimatin/go-coord/pkg/discovery/static"
    "github.com/amirimatin/go-coord/pkg/health"
    "github.com/amirimatin/go-coord/pkg/internal/logutil"
    "github.com/amirimatin/go-coord/pkg/leader"
    "github.com/amirimatin/go-coord/pkg/node"
    "github.com/amirimatin/go-coord/pkg/observability/metrics"
    "github.com/amirimatin/go-coord/pkg/observability/tracing"
    "github.com/amirimatin/go-coord/pkg/transport"
    mgmtgrpc "github.com/amirimatin/go-coord/pkg/transport/grpc"
    "github.com/amirimatin/go-coord/pkg/transport/httpjson"
)

// MembersView is the part of a membership cache reported on /status.
type MembersView interface {
    Path() string
    Len() int
    Healthy() error
}

// Env is a built client plus everything that must be closed with it.
// Primitives created by the application can be tracked so that /status
// reports them and Close shuts them down first.
type Env struct {
    Config   Config
    Client   coord.Client
    Resolver discovery.Resolver
    Log      *zap.Logger
    mgmt     transport.ManagementServer

    mu      sync.Mutex
    nodes   []*node.Node
    leaders []*leader.Service
    members []MembersView
    closers []func() error
    closed  bool
}

// Build opens the client described by cfg. It does not start the
// management server; see Run.
func Build(ctx context.Context, cfg Config, log *zap.Logger) (*Env, error) {
    if err := cfg.Validate(); err != nil { return nil, err }
    if log == nil {
        l, err := logutil.New(logutil.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
        if err != nil { return nil, err }
        log = l
        logutil.SetDefault(l)
    }
    metrics.Register()
    env := &Env{Config: cfg, Log: log}

    if cfg.Tracing {
        shutdown, err := tracing.Setup(tracing.Options{Enable: true})
        if err != nil { return nil, fmt.Errorf("tracing: %w", err) }
        env.onClose(func() error { return shutdown(context.Background()) })
    }

    switch cfg.Store {
    case StoreMemory:
        env.Client = memory.NewServer().NewClient(log)
    default:
        env.Resolver = resolver(cfg, log)
        client, err := dialEtcd(ctx, cfg, env.Resolver, log)
        if err != nil {
            _ = env.Close()
            return nil, err
        }
        env.Client = client
    }
    env.onClose(env.Client.Close)
    return env, nil
}

func resolver(cfg Config, log *zap.Logger) discovery.Resolver {
    d := cfg.Discovery
    switch d.Kind {
    case "dns":
        return dDNS.New(dDNS.Options{Names: d.Names, DefaultPort: d.Port, Refresh: d.Refresh, Logger: log})
    case "file":
        return dFile.New(dFile.Options{Path: d.FilePath, Env: d.FileEnv, Refresh: d.Refresh})
    default:
        return dStatic.New(splitCSV(cfg.ConnectString)...)
    }
}

// dialEtcd retries the initial dial and session grant up to
// Retry.MaxRetries extra times, re-resolving endpoints on each attempt.
func dialEtcd(ctx context.Context, cfg Config, r discovery.Resolver, log *zap.Logger) (*etcd.Client, error) {
    var tlsCfg *tls.Config
    if cfg.TLS.Enable {
        t, err := cfg.TLS.ClientHotReload()
        if err != nil { return nil, fmt.Errorf("tls: %w", err) }
        tlsCfg = t
    }
    b := backoff.NewExponentialBackOff()
    b.InitialInterval = cfg.Retry.BaseSleep
    b.MaxInterval = cfg.Retry.MaxSleep
    return backoff.Retry(ctx, func() (*etcd.Client, error) {
        eps := r.Endpoints()
        if len(eps) == 0 { return nil, fmt.Errorf("bootstrap: no endpoints resolved") }
        c, err := etcd.New(ctx, etcd.Options{
            Endpoints:      eps,
            Namespace:      cfg.Namespace,
            SessionTTL:     cfg.SessionTimeout,
            DialTimeout:    cfg.ConnectionTimeout,
            RetryBaseSleep: cfg.Retry.BaseSleep,
            RetryMaxSleep:  cfg.Retry.MaxSleep,
            TLS:            tlsCfg,
            Username:       cfg.Username,
            Password:       cfg.Password,
            Logger:         log,
        })
        if err != nil {
            log.Warn("unable to open store client", zap.Strings("endpoints", eps), zap.Error(err))
            return nil, err
        }
        return c, nil
    }, backoff.WithBackOff(b), backoff.WithMaxTries(uint(cfg.Retry.MaxRetries)+1))
}

// Run builds the Env and starts the management server when MgmtAddr is set.
func Run(ctx context.Context, cfg Config, log *zap.Logger) (*Env, error) {
    env, err := Build(ctx, cfg, log)
    if err != nil { return nil, err }
    if cfg.MgmtAddr == "" { return env, nil }

    var srvTLS *tls.Config
    if cfg.MgmtTLS.Enable {
        t, err := cfg.MgmtTLS.Server()
        if err != nil {
            _ = env.Close()
            return nil, fmt.Errorf("tls: %w", err)
        }
        srvTLS = t
    }
    var srv transport.ManagementServer
    switch cfg.MgmtProto {
    case "grpc":
        srv = mgmtgrpc.NewServer(cfg.MgmtAddr, env.Log).UseTLS(srvTLS)
    default:
        srv = httpjson.NewServer(cfg.MgmtAddr, env.Log).UseTLS(srvTLS)
    }
    if err := srv.Start(ctx, env.Status, env.Healthz); err != nil {
        _ = env.Close()
        return nil, err
    }
    env.mgmt = srv
    env.onClose(func() error { return srv.Stop(context.Background()) })
    env.Log.Info("management server listening", zap.String("addr", srv.Addr()), zap.String("proto", cfg.MgmtProto))
    return env, nil
}

// MgmtAddr is the bound management address, or "" when not serving.
func (e *Env) MgmtAddr() string {
    if e.mgmt == nil { return "" }
    return e.mgmt.Addr()
}

func (e *Env) onClose(fn func() error) {
    e.mu.Lock()
    e.closers = append(e.closers, fn)
    e.mu.Unlock()
}

func (e *Env) TrackNode(n *node.Node) {
    e.mu.Lock()
    e.nodes = append(e.nodes, n)
    e.mu.Unlock()
}

func (e *Env) TrackLeader(s *leader.Service) {
    e.mu.Lock()
    e.leaders = append(e.leaders, s)
    e.mu.Unlock()
}

func (e *Env) TrackMembers(m MembersView) {
    e.mu.Lock()
    e.members = append(e.members, m)
    e.mu.Unlock()
}

// Healthz is the management health check: the client must be connected
// and every tracked cache populated and watching.
func (e *Env) Healthz(ctx context.Context) error {
    e.mu.Lock()
    checks := make([]health.Checker, 0, len(e.members))
    for _, m := range e.members { checks = append(checks, m) }
    e.mu.Unlock()
    return health.Func(e.Client, checks...)(ctx)
}

// Status reports the client and the tracked primitives.
func (e *Env) Status(ctx context.Context) (transport.Status, error) {
    e.mu.Lock()
    nodes := append([]*node.Node(nil), e.nodes...)
    leaders := append([]*leader.Service(nil), e.leaders...)
    members := append([]MembersView(nil), e.members...)
    e.mu.Unlock()

    st := transport.Status{
        Store:   e.Config.Store,
        Session: e.Client.SessionID(),
        State:   e.Client.State().String(),
    }
    if e.Resolver != nil { st.Endpoints = e.Resolver.Endpoints() }
    for _, n := range nodes {
        st.Nodes = append(st.Nodes, transport.NodeStatus{Path: n.Path(), Actual: n.ActualPath()})
    }
    for _, l := range leaders {
        ls := transport.LeaderStatus{Path: l.Path(), ID: l.ID(), HasLeadership: l.HasLeadership(), State: l.State().String()}
        if p, err := l.Leader(ctx); err == nil { ls.Leader = p.ID }
        st.Leaders = append(st.Leaders, ls)
    }
    for _, m := range members {
        st.Members = append(st.Members, transport.MembersStatus{Path: m.Path(), Count: m.Len()})
    }
    return st, nil
}

// Close shuts down tracked primitives, then the management server, tracing
// and the client, in reverse order of creation. Errors are combined.
func (e *Env) Close() error {
    e.mu.Lock()
    if e.closed {
        e.mu.Unlock()
        return nil
    }
    e.closed = true
    nodes, leaders, members, closers := e.nodes, e.leaders, e.members, e.closers
    e.mu.Unlock()

    var err error
    for _, l := range leaders { err = multierr.Append(err, l.Close()) }
    for _, n := range nodes { err = multierr.Append(err, n.Close(coord.DefaultOpTimeout)) }
    for _, m := range members {
        if c, ok := m.(interface{ Close() error }); ok { err = multierr.Append(err, c.Close()) }
    }
    for i := len(closers) - 1; i >= 0; i-- { err = multierr.Append(err, closers[i]()) }
    return err
}
