package cli

import (
    "context"
    "fmt"
    "time"

    "github.com/spf13/cobra"
    "go.uber.org/zap"

    "github.com/amirimatin/go-coord/pkg/leader"
    "github.com/amirimatin/go-coord/pkg/service"
)

// NewLeaderCmd joins an election and, while leading, runs a heartbeat that
// prints a line every interval.
func NewLeaderCmd(g *Globals) *cobra.Command {
    var (
        path, id        string
        delay, interval time.Duration
    )
    cmd := &cobra.Command{
        Use:   "leader",
        Short: "Take part in a leader election and run a heartbeat while leading",
        RunE: func(cmd *cobra.Command, args []string) error {
            if path == "" { return fmt.Errorf("missing --path") }
            ctx, cancel := signalContext(cmd.Context())
            defer cancel()
            env, err := g.open(ctx, nil)
            if err != nil { return err }
            defer env.Close()

            out := cmd.OutOrStdout()
            var svc *leader.Service
            svc, err = leader.New(leader.Options{
                Client:         env.Client,
                Path:           path,
                ID:             id,
                ReacquireDelay: delay,
                Logger:         env.Log,
                Supplier: func() service.Service {
                    term := time.Now()
                    return service.NewScheduled("heartbeat", interval, func(context.Context) error {
                        fmt.Fprintf(out, "%s leading %s for %s\n", svc.ID(), path, time.Since(term).Truncate(time.Millisecond))
                        return nil
                    })
                },
            })
            if err != nil { return err }
            env.TrackLeader(svc)
            if err := svc.Start(ctx); err != nil { return err }
            env.Log.Info("joined election", zap.String("path", path), zap.String("id", svc.ID()))
            <-ctx.Done()
            return env.Close()
        },
    }
    cmd.Flags().StringVar(&path, "path", "", "election path (required)")
    cmd.Flags().StringVar(&id, "id", "", "participant id; random when empty")
    cmd.Flags().DurationVar(&delay, "delay", time.Second, "wait after a term before competing again")
    cmd.Flags().DurationVar(&interval, "interval", time.Second, "heartbeat interval while leading")
    return cmd
}
