package cli

import (
    "encoding/json"
    "fmt"
    "sync"
    "time"

    "github.com/spf13/cobra"

    "github.com/amirimatin/go-coord/pkg/coord"
    "github.com/amirimatin/go-coord/pkg/membership"
)

type memberEvent struct {
    Time  time.Time `json:"time"`
    Event string    `json:"event"`
    Path  string    `json:"path,omitempty"`
    Data  string    `json:"data,omitempty"`
    State string    `json:"state,omitempty"`
}

// NewMembersCmd watches the children of a path and prints one JSON line
// per change.
func NewMembersCmd(g *Globals) *cobra.Command {
    var path string
    cmd := &cobra.Command{
        Use:   "members",
        Short: "Watch the children of a path and print changes as JSON lines",
        RunE: func(cmd *cobra.Command, args []string) error {
            if path == "" { return fmt.Errorf("missing --path") }
            ctx, cancel := signalContext(cmd.Context())
            defer cancel()
            env, err := g.open(ctx, nil)
            if err != nil { return err }
            defer env.Close()

            cache, err := membership.NewCache(membership.Options[string]{
                Client: env.Client,
                Path:   path,
                Parser: membership.StringParser,
                Logger: env.Log,
            })
            if err != nil { return err }
            env.TrackMembers(cache)

            var mu sync.Mutex
            enc := json.NewEncoder(cmd.OutOrStdout())
            emit := func(ev memberEvent) {
                ev.Time = time.Now().UTC()
                mu.Lock()
                defer mu.Unlock()
                _ = enc.Encode(ev)
            }
            cache.AddListener(&membership.ListenerFuncs[string]{
                Added:   func(p, v string) { emit(memberEvent{Event: string(membership.EventAdded), Path: p, Data: v}) },
                Removed: func(p, v string) { emit(memberEvent{Event: string(membership.EventRemoved), Path: p, Data: v}) },
                Updated: func(p, v string) { emit(memberEvent{Event: string(membership.EventUpdated), Path: p, Data: v}) },
                StateChanged: func(s coord.ConnectionState) {
                    emit(memberEvent{Event: "state", State: s.String()})
                },
            })
            if err := cache.Start(ctx); err != nil { return err }
            for p, v := range cache.Members() {
                emit(memberEvent{Event: "initial", Path: p, Data: v})
            }
            <-ctx.Done()
            return env.Close()
        },
    }
    cmd.Flags().StringVar(&path, "path", "", "parent path to watch (required)")
    return cmd
}
