// Package static serves a fixed connect string.
package static

import (
    "strings"

    "github.com/amirimatin/go-coord/pkg/discovery"
)

type endpoints []string

func (e endpoints) Endpoints() []string { return append([]string(nil), e...) }

// New returns a Resolver for the given endpoints. Each argument may itself
// be a comma-separated connect string.
func New(connect ...string) discovery.Resolver {
    var out endpoints
    for _, c := range connect { out = append(out, Parse(c)...) }
    return out
}

// Parse splits a connect string such as "h1:2379, h2:2379" into endpoints.
func Parse(connect string) []string {
    var out []string
    for _, p := range strings.Split(connect, ",") {
        if p = strings.TrimSpace(p); p != "" { out = append(out, p) }
    }
    return out
}
