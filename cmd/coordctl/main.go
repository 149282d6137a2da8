package main

import (
    "fmt"
    "os"

    "github.com/spf13/cobra"

    coordcli "github.com/amirimatin/go-coord/pkg/cli"
)

func main() {
    if err := newRoot().Execute(); err != nil {
        fmt.Fprintln(os.Stderr, "coordctl:", err)
        os.Exit(1)
    }
}

func newRoot() *cobra.Command {
    root := &cobra.Command{
        Use:           "coordctl",
        Short:         "go-coord coordination CLI",
        SilenceUsage:  true,
        SilenceErrors: true,
    }
    coordcli.AddAll(root)
    return root
}
