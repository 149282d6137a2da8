package etcd

import (
    "crypto/tls"
    "errors"
    "time"

    "go.uber.org/zap"
    "google.golang.org/grpc"
)

// Options configures the etcd-backed client.
type Options struct {
    // Endpoints of the etcd cluster, host:port.
    Endpoints []string
    // Namespace is prepended to every path; normalized with coord.NormalizeNamespace.
    Namespace string
    // SessionTTL bounds how long ephemeral nodes outlive a dead client. Default 60s.
    SessionTTL time.Duration
    // DialTimeout bounds the initial connection. Default 15s.
    DialTimeout time.Duration
    // RetryBaseSleep and RetryMaxSleep bound the backoff used to re-open
    // sessions. Defaults 100ms and 1s.
    RetryBaseSleep time.Duration
    RetryMaxSleep  time.Duration

    TLS      *tls.Config
    Username string
    Password string
    // DialOptions are passed through to the grpc connection.
    DialOptions []grpc.DialOption

    Logger *zap.Logger
}

func (o *Options) setDefaults() {
    if o.SessionTTL <= 0 { o.SessionTTL = 60 * time.Second }
    if o.DialTimeout <= 0 { o.DialTimeout = 15 * time.Second }
    if o.RetryBaseSleep <= 0 { o.RetryBaseSleep = 100 * time.Millisecond }
    if o.RetryMaxSleep <= 0 { o.RetryMaxSleep = time.Second }
}

func (o Options) Validate() error {
    if len(o.Endpoints) == 0 { return errors.New("etcd: no endpoints") }
    if o.SessionTTL > 0 && o.SessionTTL < time.Second { return errors.New("etcd: session ttl below 1s") }
    return nil
}

func (o Options) ttlSeconds() int {
    s := int(o.SessionTTL / time.Second)
    if s < 1 { s = 1 }
    return s
}
