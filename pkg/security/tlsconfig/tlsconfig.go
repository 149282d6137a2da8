// Package tlsconfig builds TLS settings for the etcd client connection and
// the management server from file paths.
package tlsconfig

import (
    "crypto/tls"
    "crypto/x509"
    "errors"
    "fmt"
    "os"
    "sync"
    "time"
)

// Options are the TLS inputs as they appear in configuration.
type Options struct {
    Enable             bool   `yaml:"enable"`
    CAFile             string `yaml:"caFile"`
    CertFile           string `yaml:"certFile"`
    KeyFile            string `yaml:"keyFile"`
    InsecureSkipVerify bool   `yaml:"insecureSkipVerify"`
    ServerName         string `yaml:"serverName"`
    // ReloadEvery bounds how long a loaded key pair is reused by the
    // hot-reload variants; 10s when zero.
    ReloadEvery time.Duration `yaml:"reloadEvery"`
}

var ErrKeyPairRequired = errors.New("tls: cert and key files are required")

func loadPool(path string) (*x509.CertPool, error) {
    pem, err := os.ReadFile(path)
    if err != nil { return nil, err }
    pool := x509.NewCertPool()
    if !pool.AppendCertsFromPEM(pem) { return nil, fmt.Errorf("tls: no certificates in %s", path) }
    return pool, nil
}

func (o Options) base() (*tls.Config, error) {
    cfg := &tls.Config{InsecureSkipVerify: o.InsecureSkipVerify, ServerName: o.ServerName, MinVersion: tls.VersionTLS12} //nolint:gosec
    if o.CAFile != "" {
        pool, err := loadPool(o.CAFile)
        if err != nil { return nil, err }
        cfg.RootCAs = pool
    }
    return cfg, nil
}

// Client returns the store client TLS config, or nil when disabled.
func (o Options) Client() (*tls.Config, error) {
    if !o.Enable { return nil, nil }
    cfg, err := o.base()
    if err != nil { return nil, err }
    if o.CertFile != "" && o.KeyFile != "" {
        cert, err := tls.LoadX509KeyPair(o.CertFile, o.KeyFile)
        if err != nil { return nil, err }
        cfg.Certificates = []tls.Certificate{cert}
    }
    return cfg, nil
}

// ClientHotReload is Client with the client certificate re-read from disk
// on handshakes, so rotated certificates are picked up without a restart.
func (o Options) ClientHotReload() (*tls.Config, error) {
    if !o.Enable { return nil, nil }
    cfg, err := o.base()
    if err != nil { return nil, err }
    if o.CertFile == "" || o.KeyFile == "" { return cfg, nil }
    kp := o.keyPair()
    cfg.GetClientCertificate = func(*tls.CertificateRequestInfo) (*tls.Certificate, error) { return kp.get() }
    return cfg, nil
}

// Server returns the management server TLS config, or nil when disabled.
// A CA file turns on client certificate verification.
func (o Options) Server() (*tls.Config, error) {
    if !o.Enable { return nil, nil }
    if o.CertFile == "" || o.KeyFile == "" { return nil, ErrKeyPairRequired }
    kp := o.keyPair()
    if _, err := kp.get(); err != nil { return nil, err }
    cfg := &tls.Config{MinVersion: tls.VersionTLS12}
    cfg.GetCertificate = func(*tls.ClientHelloInfo) (*tls.Certificate, error) { return kp.get() }
    if o.CAFile != "" {
        pool, err := loadPool(o.CAFile)
        if err != nil { return nil, err }
        cfg.ClientCAs = pool
        cfg.ClientAuth = tls.RequireAndVerifyClientCert
    }
    return cfg, nil
}

type keyPair struct {
    certFile, keyFile string
    ttl               time.Duration

    mu     sync.Mutex
    cached *tls.Certificate
    loaded time.Time
}

func (o Options) keyPair() *keyPair {
    ttl := o.ReloadEvery
    if ttl <= 0 { ttl = 10 * time.Second }
    return &keyPair{certFile: o.CertFile, keyFile: o.KeyFile, ttl: ttl}
}

func (k *keyPair) get() (*tls.Certificate, error) {
    k.mu.Lock()
    defer k.mu.Unlock()
    if k.cached != nil && time.Since(k.loaded) < k.ttl { return k.cached, nil }
    cert, err := tls.LoadX509KeyPair(k.certFile, k.keyFile)
    if err != nil {
        if k.cached != nil { return k.cached, nil }
        return nil, err
    }
    k.cached, k.loaded = &cert, time.Now()
    return k.cached, nil
}
