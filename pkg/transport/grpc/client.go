package grpc

import (
    "context"
    "crypto/tls"
    "fmt"
    "time"

    "google.golang.org/grpc"
    grpcbackoff "google.golang.org/grpc/backoff"
    "google.golang.org/grpc/credentials"
    "google.golang.org/grpc/credentials/insecure"
    healthpb "google.golang.org/grpc/health/grpc_health_v1"
    "google.golang.org/grpc/keepalive"

    "github.com/amirimatin/go-coord/pkg/transport"
)

// Client queries management servers over gRPC, reusing one connection per
// address.
type Client struct {
    timeout time.Duration
    tlsCfg  *tls.Config
    cm      *ConnManager
}

var _ transport.ManagementClient = (*Client)(nil)

func NewClient(timeout time.Duration) *Client {
    if timeout <= 0 { timeout = 3 * time.Second }
    c := &Client{timeout: timeout}
    c.cm = NewConnManager(30*time.Second, c.dial)
    return c
}

// UseTLS sets TLS config for the client.
func (c *Client) UseTLS(cfg *tls.Config) *Client { c.tlsCfg = cfg; return c }

func (c *Client) dial(_ context.Context, target string) (*grpc.ClientConn, error) {
    creds := insecure.NewCredentials()
    if c.tlsCfg != nil { creds = credentials.NewTLS(c.tlsCfg) }
    return grpc.NewClient(target,
        grpc.WithTransportCredentials(creds),
        grpc.WithConnectParams(grpc.ConnectParams{Backoff: grpcbackoff.DefaultConfig, MinConnectTimeout: 500 * time.Millisecond}),
        grpc.WithKeepaliveParams(keepalive.ClientParameters{Time: 20 * time.Second, Timeout: 5 * time.Second, PermitWithoutStream: true}),
    )
}

func (c *Client) GetStatus(ctx context.Context, addr string) (transport.Status, error) {
    var st transport.Status
    cctx, cancel := context.WithTimeout(ctx, c.timeout)
    defer cancel()
    cc, rel, err := c.cm.Get(cctx, addr)
    if err != nil { return st, err }
    defer rel()
    err = cc.Invoke(cctx, getStatusMethod, &empty{}, &st, grpc.CallContentSubtype(jsonCodec{}.Name()), grpc.WaitForReady(true))
    return st, err
}

// Healthz asks the standard health service about the management service.
func (c *Client) Healthz(ctx context.Context, addr string) error {
    cctx, cancel := context.WithTimeout(ctx, c.timeout)
    defer cancel()
    cc, rel, err := c.cm.Get(cctx, addr)
    if err != nil { return err }
    defer rel()
    resp, err := healthpb.NewHealthClient(cc).Check(cctx, &healthpb.HealthCheckRequest{Service: ServiceName}, grpc.WaitForReady(true))
    if err != nil { return err }
    if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING { return fmt.Errorf("%s: %s", addr, resp.GetStatus()) }
    return nil
}

// Close releases pooled connections.
func (c *Client) Close() { c.cm.Close() }
