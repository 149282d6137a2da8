// Package grpc serves the management API over gRPC. Status travels as JSON
// through a registered codec; health uses the standard grpc.health.v1
// service so ordinary probes work against it.
package grpc

import (
    "context"
    "crypto/tls"
    "net"
    "sync"
    "time"

    "go.uber.org/zap"
    "google.golang.org/grpc"
    "google.golang.org/grpc/credentials"
    "google.golang.org/grpc/health"
    healthpb "google.golang.org/grpc/health/grpc_health_v1"
    "google.golang.org/grpc/keepalive"

    "github.com/amirimatin/go-coord/pkg/internal/logutil"
    "github.com/amirimatin/go-coord/pkg/observability/tracing"
    "github.com/amirimatin/go-coord/pkg/transport"
)

const (
    ServiceName     = "coord.v1.Management"
    getStatusMethod = "/" + ServiceName + "/GetStatus"
)

type empty struct{}

type managementServer interface {
    GetStatus(ctx context.Context, in *empty) (*transport.Status, error)
}

type mgmtImpl struct{ status transport.StatusFunc }

func (m *mgmtImpl) GetStatus(ctx context.Context, _ *empty) (*transport.Status, error) {
    ctx, end := tracing.StartSpan(ctx, "grpc.status")
    defer end()
    st, err := m.status(ctx)
    if err != nil {
        tracing.RecordError(ctx, err)
        return nil, err
    }
    return &st, nil
}

var managementDesc = grpc.ServiceDesc{
    ServiceName: ServiceName,
    HandlerType: (*managementServer)(nil),
    Methods:     []grpc.MethodDesc{{MethodName: "GetStatus", Handler: getStatusHandler}},
}

func getStatusHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
    in := new(empty)
    if err := dec(in); err != nil { return nil, err }
    if interceptor == nil { return srv.(managementServer).GetStatus(ctx, in) }
    info := &grpc.UnaryServerInfo{Server: srv, FullMethod: getStatusMethod}
    return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
        return srv.(managementServer).GetStatus(ctx, req.(*empty))
    })
}

// Server is a transport.ManagementServer over gRPC.
type Server struct {
    bind   string
    log    *zap.Logger
    tlsCfg *tls.Config
    // HealthInterval is how often the health func is polled to update the
    // grpc health service; 1s when zero.
    HealthInterval time.Duration

    mu     sync.Mutex
    lis    net.Listener
    srv    *grpc.Server
    health *health.Server
    cancel context.CancelFunc
    done   chan struct{}
}

var _ transport.ManagementServer = (*Server)(nil)

func NewServer(bind string, log *zap.Logger) *Server {
    return &Server{bind: bind, log: logutil.Named(log, "mgmt-grpc")}
}

// UseTLS enables TLS for the gRPC server using the provided config.
func (s *Server) UseTLS(cfg *tls.Config) *Server { s.tlsCfg = cfg; return s }

func (s *Server) Start(ctx context.Context, status transport.StatusFunc, check transport.HealthFunc) error {
    lis, err := net.Listen("tcp", s.bind)
    if err != nil { return err }
    opts := []grpc.ServerOption{
        grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{MinTime: 5 * time.Second, PermitWithoutStream: true}),
        grpc.KeepaliveParams(keepalive.ServerParameters{Time: 30 * time.Second, Timeout: 10 * time.Second}),
    }
    if s.tlsCfg != nil { opts = append(opts, grpc.Creds(credentials.NewTLS(s.tlsCfg))) }
    srv := grpc.NewServer(opts...)
    hs := health.NewServer()
    healthpb.RegisterHealthServer(srv, hs)
    srv.RegisterService(&managementDesc, &mgmtImpl{status: status})

    pctx, cancel := context.WithCancel(ctx)
    s.mu.Lock()
    s.lis, s.srv, s.health, s.cancel, s.done = lis, srv, hs, cancel, make(chan struct{})
    s.mu.Unlock()

    s.updateHealth(pctx, hs, check)
    go s.pollHealth(pctx, hs, check)
    go func() {
        if err := srv.Serve(lis); err != nil { s.log.Warn("serve ended", zap.Error(err)) }
    }()
    go func() {
        <-ctx.Done()
        _ = s.Stop(context.Background())
    }()
    return nil
}

func (s *Server) pollHealth(ctx context.Context, hs *health.Server, check transport.HealthFunc) {
    s.mu.Lock()
    done := s.done
    s.mu.Unlock()
    defer close(done)
    every := s.HealthInterval
    if every <= 0 { every = time.Second }
    t := time.NewTicker(every)
    defer t.Stop()
    for {
        select {
        case <-ctx.Done():
            return
        case <-t.C:
            s.updateHealth(ctx, hs, check)
        }
    }
}

func (s *Server) updateHealth(ctx context.Context, hs *health.Server, check transport.HealthFunc) {
    st := healthpb.HealthCheckResponse_SERVING
    if check != nil {
        cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
        err := check(cctx)
        cancel()
        if err != nil { st = healthpb.HealthCheckResponse_NOT_SERVING }
    }
    hs.SetServingStatus("", st)
    hs.SetServingStatus(ServiceName, st)
}

// Addr returns the bound listener address once started.
func (s *Server) Addr() string {
    s.mu.Lock()
    defer s.mu.Unlock()
    if s.lis != nil { return s.lis.Addr().String() }
    return s.bind
}

func (s *Server) Stop(ctx context.Context) error {
    s.mu.Lock()
    srv, hs, cancel, done := s.srv, s.health, s.cancel, s.done
    s.srv = nil
    s.mu.Unlock()
    if srv == nil { return nil }
    cancel()
    <-done
    hs.Shutdown()
    ch := make(chan struct{})
    go func() { srv.GracefulStop(); close(ch) }()
    select {
    case <-ch:
    case <-ctx.Done():
        srv.Stop()
    case <-time.After(2 * time.Second):
        srv.Stop()
    }
    return nil
}
