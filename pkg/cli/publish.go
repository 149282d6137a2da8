package cli

import (
    "fmt"

    "github.com/spf13/cobra"
    "go.uber.org/zap"
    "golang.org/x/sync/errgroup"

    "github.com/amirimatin/go-coord/pkg/bootstrap"
    "github.com/amirimatin/go-coord/pkg/node"
)

// NewPublishCmd keeps ephemeral nodes alive until interrupted.
func NewPublishCmd(g *Globals) *cobra.Command {
    var (
        connect, namespace string
        sequential         bool
        descs              []string
    )
    cmd := &cobra.Command{
        Use:   "publish -n path[=data|@file] ...",
        Short: "Create ephemeral nodes and keep them alive until interrupted",
        RunE: func(cmd *cobra.Command, args []string) error {
            if len(descs) == 0 { return fmt.Errorf("at least one -n is required") }
            parsed := make([]node.Descriptor, 0, len(descs))
            for _, d := range descs {
                p, err := node.ParseDescriptor(d)
                if err != nil { return err }
                parsed = append(parsed, p)
            }
            ctx, cancel := signalContext(cmd.Context())
            defer cancel()
            env, err := g.open(ctx, func(c *bootstrap.Config) {
                if connect != "" { c.ConnectString = connect }
                if namespace != "" { c.Namespace = namespace }
            })
            if err != nil { return err }
            defer env.Close()

            eg, ectx := errgroup.WithContext(ctx)
            for _, d := range parsed {
                d := d
                eg.Go(func() error {
                    n, err := node.New(node.Options{
                        Client:    env.Client,
                        Path:      d.Path,
                        Data:      d.Data,
                        Mode:      node.ModeFor(sequential),
                        RetryBase: env.Config.Retry.BaseSleep,
                        RetryMax:  env.Config.Retry.MaxSleep,
                        Logger:    env.Log,
                    })
                    if err != nil { return fmt.Errorf("%s: %w", d.Path, err) }
                    env.TrackNode(n)
                    if err := n.Wait(ectx); err != nil { return fmt.Errorf("%s: %w", d.Path, err) }
                    fmt.Fprintln(cmd.OutOrStdout(), n.ActualPath())
                    return nil
                })
            }
            if err := eg.Wait(); err != nil {
                if ctx.Err() != nil { return nil }
                return err
            }
            env.Log.Info("nodes published; waiting for interrupt", zap.Int("count", len(parsed)))
            <-ctx.Done()
            return env.Close()
        },
    }
    cmd.Flags().StringVarP(&connect, "connect", "z", "", "comma-separated store endpoints")
    cmd.Flags().StringVarP(&namespace, "namespace", "N", "", "namespace prefixed to every path")
    cmd.Flags().BoolVarP(&sequential, "sequential", "s", false, "create ephemeral sequential nodes")
    cmd.Flags().StringArrayVarP(&descs, "node", "n", nil, "node to publish as path[=data] or path=@file (repeatable)")
    return cmd
}

