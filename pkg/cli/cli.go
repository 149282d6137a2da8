// Package cli holds the coordctl commands so services can embed them in
// their own cobra trees.
package cli

import (
    "context"
    "errors"
    "io/fs"
    "os"
    "os/signal"
    "syscall"

    "github.com/joho/godotenv"
    "github.com/spf13/cobra"

    "github.com/amirimatin/go-coord/pkg/bootstrap"
)

// Globals are the flags shared by every command that opens a client.
type Globals struct {
    ConfigPath string
    EnvFile    string
    LogFormat  string
    LogLevel   string
    Store      string
    Trace      bool
    MgmtAddr   string
    MgmtProto  string
}

// AddAll attaches publish/members/leader/status to root along with the
// global flags they read.
func AddAll(root *cobra.Command) {
    g := &Globals{}
    pf := root.PersistentFlags()
    pf.StringVar(&g.ConfigPath, "config", "", "YAML config file")
    pf.StringVar(&g.EnvFile, "env-file", ".env", "dotenv file loaded before the config; ignored when missing")
    pf.StringVar(&g.LogFormat, "log-format", "", "log format: console|json")
    pf.StringVar(&g.LogLevel, "log-level", "", "log level: debug|info|warn|error")
    pf.StringVar(&g.Store, "store", "", "store backend: etcd|memory")
    pf.BoolVar(&g.Trace, "trace", false, "enable OpenTelemetry stdout tracing (dev)")
    pf.StringVar(&g.MgmtAddr, "mgmt-addr", "", "serve the management API on this address")
    pf.StringVar(&g.MgmtProto, "mgmt-proto", "", "management protocol: http|grpc")

    root.AddCommand(NewPublishCmd(g))
    root.AddCommand(NewMembersCmd(g))
    root.AddCommand(NewLeaderCmd(g))
    root.AddCommand(NewStatusCmd())
}

// Config resolves the effective configuration: dotenv file, then the
// config file with COORD_* overrides, then explicit flags.
func (g *Globals) Config() (bootstrap.Config, error) {
    if g.EnvFile != "" {
        if err := godotenv.Load(g.EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) { return bootstrap.Config{}, err }
    }
    cfg, err := bootstrap.Load(g.ConfigPath)
    if err != nil { return cfg, err }
    if g.Store != "" { cfg.Store = g.Store }
    if g.LogFormat != "" { cfg.LogFormat = g.LogFormat }
    if g.LogLevel != "" { cfg.LogLevel = g.LogLevel }
    if g.MgmtAddr != "" { cfg.MgmtAddr = g.MgmtAddr }
    if g.MgmtProto != "" { cfg.MgmtProto = g.MgmtProto }
    if g.Trace { cfg.Tracing = true }
    return cfg, cfg.Validate()
}

func (g *Globals) open(ctx context.Context, mutate func(*bootstrap.Config)) (*bootstrap.Env, error) {
    cfg, err := g.Config()
    if err != nil { return nil, err }
    if mutate != nil { mutate(&cfg) }
    return bootstrap.Run(ctx, cfg, nil)
}

// signalContext ends on SIGINT/SIGTERM or when parent ends.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
    if parent == nil { parent = context.Background() }
    return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
