package cli

import (
    "context"
    "encoding/json"
    "fmt"
    "time"

    "github.com/spf13/cobra"

    tlsx "github.com/amirimatin/go-coord/pkg/security/tlsconfig"
    "github.com/amirimatin/go-coord/pkg/transport"
    mgmtgrpc "github.com/amirimatin/go-coord/pkg/transport/grpc"
    "github.com/amirimatin/go-coord/pkg/transport/httpjson"
)

// NewStatusCmd fetches /status from a running coordctl or embedding
// service and prints it.
func NewStatusCmd() *cobra.Command {
    var (
        addr    string
        proto   string
        timeout time.Duration
        health  bool
        topts   tlsx.Options
    )
    cmd := &cobra.Command{
        Use:   "status",
        Short: "Fetch management status as JSON",
        RunE: func(cmd *cobra.Command, args []string) error {
            ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
            defer cancel()
            var client transport.ManagementClient
            cliTLS, err := topts.Client()
            if err != nil { return fmt.Errorf("tls client config: %w", err) }
            switch proto {
            case "grpc":
                c := mgmtgrpc.NewClient(timeout).UseTLS(cliTLS)
                defer c.Close()
                client = c
            case "http":
                client = httpjson.NewClient(timeout).UseTLS(cliTLS)
            default:
                return fmt.Errorf("unknown protocol %q", proto)
            }
            if health {
                if err := client.Healthz(ctx, addr); err != nil { return fmt.Errorf("unhealthy: %w", err) }
                fmt.Fprintln(cmd.OutOrStdout(), "ok")
                return nil
            }
            st, err := client.GetStatus(ctx, addr)
            if err != nil { return fmt.Errorf("status error: %w", err) }
            enc := json.NewEncoder(cmd.OutOrStdout())
            enc.SetIndent("", "  ")
            return enc.Encode(st)
        },
    }
    cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:17946", "management address (host:port)")
    cmd.Flags().StringVar(&proto, "proto", "http", "management protocol: http|grpc")
    cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Second, "request timeout")
    cmd.Flags().BoolVar(&health, "health", false, "check /healthz instead of printing /status")
    cmd.Flags().BoolVar(&topts.Enable, "tls-enable", false, "use HTTPS")
    cmd.Flags().StringVar(&topts.CAFile, "tls-ca", "", "path to CA cert (PEM)")
    cmd.Flags().StringVar(&topts.CertFile, "tls-cert", "", "path to client certificate (PEM)")
    cmd.Flags().StringVar(&topts.KeyFile, "tls-key", "", "path to client private key (PEM)")
    cmd.Flags().BoolVar(&topts.InsecureSkipVerify, "tls-skip-verify", false, "skip server cert verification (DEV ONLY)")
    cmd.Flags().StringVar(&topts.ServerName, "tls-server-name", "", "expected server name")
    return cmd
}
