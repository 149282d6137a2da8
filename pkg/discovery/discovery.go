// Package discovery resolves the store endpoints a client dials.
package discovery

import "strings"

// Resolver returns the current endpoint list, host:port each.
type Resolver interface {
    Endpoints() []string
}

// Join renders endpoints as a connect string.
func Join(endpoints []string) string { return strings.Join(endpoints, ",") }
