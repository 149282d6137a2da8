package bootstrap

import (
    "errors"
    "fmt"
    "os"
    "strconv"
    "strings"
    "time"

    "gopkg.in/yaml.v3"

    "github.com/amirimatin/go-coord/pkg/coord"
    tlsx "github.com/amirimatin/go-coord/pkg/security/tlsconfig"
)

const (
    StoreEtcd   = "etcd"
    StoreMemory = "memory"
)

// Retry bounds the exponential backoff used for session re-opens and node
// creation.
type Retry struct {
    BaseSleep  time.Duration `yaml:"baseSleep"`
    MaxSleep   time.Duration `yaml:"maxSleep"`
    MaxRetries int           `yaml:"maxRetries"`
}

type Discovery struct {
    // Kind is static (default), dns or file.
    Kind     string        `yaml:"kind"`
    Names    []string      `yaml:"names"`
    Port     int           `yaml:"port"`
    Refresh  time.Duration `yaml:"refresh"`
    FilePath string        `yaml:"filePath"`
    FileEnv  string        `yaml:"fileEnv"`
}

// Config is everything needed to open a coordination client and serve the
// management API.
type Config struct {
    Store             string        `yaml:"store"`
    ConnectString     string        `yaml:"connectString"`
    Namespace         string        `yaml:"namespace"`
    SessionTimeout    time.Duration `yaml:"sessionTimeout"`
    ConnectionTimeout time.Duration `yaml:"connectionTimeout"`
    Username          string        `yaml:"username"`
    Password          string        `yaml:"password"`
    Retry             Retry         `yaml:"retry"`
    Discovery         Discovery     `yaml:"discovery"`
    TLS               tlsx.Options  `yaml:"tls"`
    // MgmtTLS secures the management server; off unless enabled.
    MgmtTLS   tlsx.Options `yaml:"mgmtTLS"`
    Tracing   bool         `yaml:"tracing"`
    MgmtAddr  string       `yaml:"mgmtAddr"`
    // MgmtProto is http (default) or grpc.
    MgmtProto string       `yaml:"mgmtProto"`
    LogLevel  string       `yaml:"logLevel"`
    LogFormat string       `yaml:"logFormat"`
}

// Default returns the built-in settings.
func Default() Config {
    return Config{
        Store:             StoreEtcd,
        ConnectString:     "localhost:2379",
        SessionTimeout:    60 * time.Second,
        ConnectionTimeout: 15 * time.Second,
        Retry:             Retry{BaseSleep: 100 * time.Millisecond, MaxSleep: time.Second, MaxRetries: 5},
        Discovery:         Discovery{Kind: "static", Port: 2379, Refresh: 5 * time.Second},
        MgmtProto:         "http",
    }
}

// Load reads a YAML file over the defaults and applies COORD_* environment
// overrides. An empty path skips the file.
func Load(path string) (Config, error) {
    cfg := Default()
    if path != "" {
        raw, err := os.ReadFile(path)
        if err != nil { return cfg, fmt.Errorf("config: %w", err) }
        if err := yaml.Unmarshal(raw, &cfg); err != nil { return cfg, fmt.Errorf("config %s: %w", path, err) }
    }
    if err := cfg.ApplyEnv(os.LookupEnv); err != nil { return cfg, err }
    return cfg, cfg.Validate()
}

// ApplyEnv overrides fields from the environment as seen through lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
    str := func(key string, dst *string) {
        if v, ok := lookup(key); ok { *dst = v }
    }
    dur := func(key string, dst *time.Duration) error {
        v, ok := lookup(key)
        if !ok { return nil }
        d, err := time.ParseDuration(v)
        if err != nil { return fmt.Errorf("config: %s: %w", key, err) }
        *dst = d
        return nil
    }
    str("COORD_STORE", &c.Store)
    str("COORD_CONNECT", &c.ConnectString)
    str("COORD_NAMESPACE", &c.Namespace)
    str("COORD_USERNAME", &c.Username)
    str("COORD_PASSWORD", &c.Password)
    str("COORD_MGMT_ADDR", &c.MgmtAddr)
    str("COORD_MGMT_PROTO", &c.MgmtProto)
    str("COORD_LOG_LEVEL", &c.LogLevel)
    str("COORD_LOG_FORMAT", &c.LogFormat)
    str("COORD_DISCOVERY", &c.Discovery.Kind)
    if err := dur("COORD_SESSION_TIMEOUT", &c.SessionTimeout); err != nil { return err }
    if err := dur("COORD_CONNECTION_TIMEOUT", &c.ConnectionTimeout); err != nil { return err }
    if v, ok := lookup("COORD_TRACE"); ok {
        b, err := strconv.ParseBool(v)
        if err != nil { return fmt.Errorf("config: COORD_TRACE: %w", err) }
        c.Tracing = b
    }
    if v, ok := lookup("COORD_DNS_NAMES"); ok { c.Discovery.Names = splitCSV(v) }
    return nil
}

func (c Config) Validate() error {
    switch c.Store {
    case StoreEtcd, StoreMemory:
    default:
        return fmt.Errorf("config: unknown store %q", c.Store)
    }
    if _, err := coord.NormalizeNamespace(c.Namespace); err != nil { return fmt.Errorf("config: %w", err) }
    if c.Store == StoreEtcd {
        switch c.Discovery.Kind {
        case "", "static":
            if len(splitCSV(c.ConnectString)) == 0 { return errors.New("config: empty connect string") }
        case "dns":
            if len(c.Discovery.Names) == 0 { return errors.New("config: dns discovery needs names") }
        case "file":
            if c.Discovery.FilePath == "" && c.Discovery.FileEnv == "" { return errors.New("config: file discovery needs a path or env") }
        default:
            return fmt.Errorf("config: unknown discovery %q", c.Discovery.Kind)
        }
        if c.SessionTimeout < time.Second { return errors.New("config: session timeout below 1s") }
    }
    switch c.MgmtProto {
    case "", "http", "grpc":
    default:
        return fmt.Errorf("config: unknown management protocol %q", c.MgmtProto)
    }
    if c.Retry.BaseSleep < 0 || c.Retry.MaxSleep < c.Retry.BaseSleep { return errors.New("config: bad retry sleeps") }
    if c.Retry.MaxRetries < 0 { return errors.New("config: negative max retries") }
    return nil
}

func splitCSV(s string) []string {
    var out []string
    for _, p := range strings.Split(s, ",") {
        if p = strings.TrimSpace(p); p != "" { out = append(out, p) }
    }
    return out
}
