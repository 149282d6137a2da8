// Package dns expands host names in a connect string to the addresses
// they resolve to, so the client follows DNS changes between reconnects.
package dns

import (
    "context"
    "net"
    "sort"
    "strconv"
    "strings"
    "sync"
    "time"

    "go.uber.org/zap"

    "github.com/amirimatin/go-coord/pkg/discovery"
    "github.com/amirimatin/go-coord/pkg/internal/logutil"
)

// Lookup is the subset of *net.Resolver used here.
type Lookup interface {
    LookupHost(ctx context.Context, host string) ([]string, error)
    LookupSRV(ctx context.Context, service, proto, name string) (string, []*net.SRV, error)
}

type Options struct {
    // Names are host:port entries, bare hosts (DefaultPort applies) or SRV
    // names such as "_etcd-client._tcp.example.com".
    Names       []string
    DefaultPort int
    // Refresh is how long a resolution is reused; 5s when zero.
    Refresh time.Duration
    Timeout time.Duration
    Lookup  Lookup
    Logger  *zap.Logger
}

type resolver struct {
    opts  Options
    log   *zap.Logger
    mu    sync.Mutex
    last  time.Time
    cache []string
}

func New(opts Options) discovery.Resolver {
    if opts.Refresh <= 0 { opts.Refresh = 5 * time.Second }
    if opts.Timeout <= 0 { opts.Timeout = 5 * time.Second }
    if opts.DefaultPort == 0 { opts.DefaultPort = 2379 }
    if opts.Lookup == nil { opts.Lookup = net.DefaultResolver }
    return &resolver{opts: opts, log: logutil.Named(opts.Logger, "dns")}
}

// Endpoints returns the sorted, de-duplicated expansion. Names that fail
// to resolve are kept as written.
func (r *resolver) Endpoints() []string {
    r.mu.Lock()
    defer r.mu.Unlock()
    if len(r.cache) > 0 && time.Since(r.last) < r.opts.Refresh {
        return append([]string(nil), r.cache...)
    }
    ctx, cancel := context.WithTimeout(context.Background(), r.opts.Timeout)
    defer cancel()
    r.cache = r.resolve(ctx)
    r.last = time.Now()
    return append([]string(nil), r.cache...)
}

func (r *resolver) resolve(ctx context.Context) []string {
    set := make(map[string]struct{})
    for _, name := range r.opts.Names {
        name = strings.TrimSpace(name)
        if name == "" { continue }
        for _, ep := range r.expand(ctx, name) { set[ep] = struct{}{} }
    }
    out := make([]string, 0, len(set))
    for ep := range set { out = append(out, ep) }
    sort.Strings(out)
    return out
}

func (r *resolver) expand(ctx context.Context, name string) []string {
    if svc, proto, domain, ok := parseSRVName(name); ok {
        _, recs, err := r.opts.Lookup.LookupSRV(ctx, svc, proto, domain)
        if err != nil || len(recs) == 0 {
            r.log.Warn("srv lookup failed; keeping name", zap.String("name", name), zap.Error(err))
            return []string{name}
        }
        out := make([]string, 0, len(recs))
        for _, rec := range recs {
            out = append(out, net.JoinHostPort(strings.TrimSuffix(rec.Target, "."), strconv.Itoa(int(rec.Port))))
        }
        return out
    }
    host, port, err := net.SplitHostPort(name)
    if err != nil {
        host, port = name, strconv.Itoa(r.opts.DefaultPort)
    }
    if net.ParseIP(host) != nil { return []string{net.JoinHostPort(host, port)} }
    ips, err := r.opts.Lookup.LookupHost(ctx, host)
    if err != nil || len(ips) == 0 {
        r.log.Warn("host lookup failed; keeping name", zap.String("host", host), zap.Error(err))
        return []string{net.JoinHostPort(host, port)}
    }
    out := make([]string, 0, len(ips))
    for _, ip := range ips { out = append(out, net.JoinHostPort(ip, port)) }
    return out
}

// parseSRVName splits "_service._proto.domain".
func parseSRVName(name string) (service, proto, domain string, ok bool) {
    if !strings.HasPrefix(name, "_") { return "", "", "", false }
    parts := strings.SplitN(name, ".", 3)
    if len(parts) < 3 || !strings.HasPrefix(parts[1], "_") { return "", "", "", false }
    return parts[0][1:], parts[1][1:], parts[2], true
}
