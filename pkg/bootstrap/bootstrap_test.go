package bootstrap

import (
    "context"
    "os"
    "path/filepath"
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
    "go.uber.org/zap"

    "github.com/amirimatin/go-coord/pkg/coord"
    "github.com/amirimatin/go-coord/pkg/node"
    "github.com/amirimatin/go-coord/pkg/transport/httpjson"
)

func TestLoadFileAndEnv(t *testing.T) {
    path := filepath.Join(t.TempDir(), "coord.yaml")
    require.NoError(t, os.WriteFile(path, []byte(`
store: etcd
connectString: "a:2379, b:2379"
namespace: app
sessionTimeout: 30s
retry:
  baseSleep: 50ms
  maxSleep: 2s
  maxRetries: 3
`), 0o644))
    t.Setenv("COORD_NAMESPACE", "/other")
    t.Setenv("COORD_TRACE", "true")

    cfg, err := Load(path)
    require.NoError(t, err)
    assert.Equal(t, "a:2379, b:2379", cfg.ConnectString)
    assert.Equal(t, "/other", cfg.Namespace)
    assert.Equal(t, 30*time.Second, cfg.SessionTimeout)
    assert.Equal(t, 15*time.Second, cfg.ConnectionTimeout)
    assert.Equal(t, Retry{BaseSleep: 50 * time.Millisecond, MaxSleep: 2 * time.Second, MaxRetries: 3}, cfg.Retry)
    assert.True(t, cfg.Tracing)
}

func TestApplyEnvRejectsBadDuration(t *testing.T) {
    cfg := Default()
    err := cfg.ApplyEnv(func(k string) (string, bool) {
        if k == "COORD_SESSION_TIMEOUT" { return "soon", true }
        return "", false
    })
    assert.Error(t, err)
}

func TestValidate(t *testing.T) {
    cases := map[string]func(*Config){
        "store":       func(c *Config) { c.Store = "zk" },
        "namespace":   func(c *Config) { c.Namespace = "a//b" },
        "connect":     func(c *Config) { c.ConnectString = " , " },
        "dns names":   func(c *Config) { c.Discovery.Kind = "dns" },
        "file":        func(c *Config) { c.Discovery.Kind = "file" },
        "discovery":   func(c *Config) { c.Discovery.Kind = "consul" },
        "session":     func(c *Config) { c.SessionTimeout = 10 * time.Millisecond },
        "retry sleep": func(c *Config) { c.Retry.MaxSleep = time.Millisecond },
    }
    require.NoError(t, Default().Validate())
    for name, mutate := range cases {
        t.Run(name, func(t *testing.T) {
            cfg := Default()
            mutate(&cfg)
            assert.Error(t, cfg.Validate())
        })
    }
}

func TestRunMemoryServesStatus(t *testing.T) {
    cfg := Default()
    cfg.Store = StoreMemory
    cfg.MgmtAddr = "127.0.0.1:0"
    ctx := context.Background()
    env, err := Run(ctx, cfg, zap.NewNop())
    require.NoError(t, err)
    defer env.Close()

    n, err := node.New(node.Options{Client: env.Client, Path: "/svc/a", Data: []byte("x"), Mode: coord.Ephemeral})
    require.NoError(t, err)
    env.TrackNode(n)
    wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
    defer cancel()
    require.NoError(t, n.Wait(wctx))

    c := httpjson.NewClient(2 * time.Second)
    st, err := c.GetStatus(ctx, env.MgmtAddr())
    require.NoError(t, err)
    assert.Equal(t, StoreMemory, st.Store)
    assert.Equal(t, coord.StateConnected.String(), st.State)
    require.Len(t, st.Nodes, 1)
    assert.Equal(t, "/svc/a", st.Nodes[0].Actual)
    assert.NoError(t, c.Healthz(ctx, env.MgmtAddr()))

    require.NoError(t, env.Close())
    assert.Equal(t, "", n.ActualPath())
    assert.NoError(t, env.Close())
}
