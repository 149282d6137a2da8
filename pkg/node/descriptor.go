package node

import (
    "fmt"
    "os"
    "strings"

    "github.com/amirimatin/go-coord/pkg/coord"
)

// Descriptor is a parsed "path[=data]" node description.
type Descriptor struct {
    Path string
    Data []byte
}

// ParseDescriptor splits desc on its first '='. Data starting with '@'
// names a file whose contents become the payload; no '=' means empty data.
func ParseDescriptor(desc string) (Descriptor, error) {
    path, data, ok := strings.Cut(desc, "=")
    if err := coord.ValidatePath(path); err != nil { return Descriptor{}, fmt.Errorf("node descriptor %q: %w", desc, err) }
    d := Descriptor{Path: path, Data: []byte{}}
    switch {
    case !ok:
    case strings.HasPrefix(data, "@"):
        b, err := os.ReadFile(data[1:])
        if err != nil { return Descriptor{}, fmt.Errorf("node descriptor %q: %w", desc, err) }
        d.Data = b
    default:
        d.Data = []byte(data)
    }
    return d, nil
}

// ModeFor is the create mode used for published nodes.
func ModeFor(sequential bool) coord.CreateMode {
    if sequential { return coord.EphemeralSequential }
    return coord.Ephemeral
}
