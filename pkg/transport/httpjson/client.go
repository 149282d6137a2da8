package httpjson

import (
    "context"
    "crypto/tls"
    "encoding/json"
    "fmt"
    "io"
    "net/http"
    "time"

    "github.com/cenkalti/backoff/v5"

    "github.com/amirimatin/go-coord/pkg/transport"
)

// Client calls the management API, retrying failed requests a few times.
type Client struct {
    httpc     *http.Client
    transport *http.Transport
    isTLS     bool
    tries     uint
}

// NewClient constructs a Client with the given per-request timeout.
func NewClient(timeout time.Duration) *Client {
    if timeout <= 0 { timeout = 3 * time.Second }
    tr := &http.Transport{}
    return &Client{httpc: &http.Client{Timeout: timeout, Transport: tr}, transport: tr, tries: 3}
}

// UseTLS switches to https with cfg.
func (c *Client) UseTLS(cfg *tls.Config) *Client {
    c.transport.TLSClientConfig = cfg
    c.isTLS = cfg != nil
    return c
}

func (c *Client) url(addr, path string) string {
    scheme := "http"
    if c.isTLS { scheme = "https" }
    return fmt.Sprintf("%s://%s%s", scheme, addr, path)
}

func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
    b := backoff.NewExponentialBackOff()
    b.InitialInterval = 100 * time.Millisecond
    return backoff.Retry(ctx, func() ([]byte, error) {
        req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
        if err != nil { return nil, backoff.Permanent(err) }
        resp, err := c.httpc.Do(req)
        if err != nil { return nil, err }
        defer resp.Body.Close()
        body, err := io.ReadAll(resp.Body)
        if err != nil { return nil, err }
        if resp.StatusCode != http.StatusOK {
            return nil, fmt.Errorf("%s: status %d: %s", url, resp.StatusCode, body)
        }
        return body, nil
    }, backoff.WithBackOff(b), backoff.WithMaxTries(c.tries))
}

func (c *Client) GetStatus(ctx context.Context, addr string) (transport.Status, error) {
    var st transport.Status
    body, err := c.get(ctx, c.url(addr, "/status"))
    if err != nil { return st, err }
    if err := json.Unmarshal(body, &st); err != nil { return st, fmt.Errorf("decode status: %w", err) }
    return st, nil
}

func (c *Client) Healthz(ctx context.Context, addr string) error {
    _, err := c.get(ctx, c.url(addr, "/healthz"))
    return err
}

var _ transport.ManagementClient = (*Client)(nil)
