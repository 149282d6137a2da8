// Package health reports whether the coordination client can serve.
package health

import (
    "context"
    "fmt"

    "github.com/amirimatin/go-coord/pkg/coord"
)

// Checker is anything that can report its own health, such as a
// membership cache.
type Checker interface {
    Healthy() error
}

// Check is healthy iff the client is connected.
func Check(c coord.Client) error {
    if s := c.State(); !s.IsConnected() { return fmt.Errorf("health: store connection is %s", s) }
    return nil
}

// Func combines the client check with extra checkers into a function the
// management server can call.
func Func(c coord.Client, extra ...Checker) func(context.Context) error {
    return func(context.Context) error {
        if err := Check(c); err != nil { return err }
        for _, x := range extra {
            if err := x.Healthy(); err != nil { return err }
        }
        return nil
    }
}
