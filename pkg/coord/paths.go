package coord

import (
    "fmt"
    "strings"
)

// ValidatePath checks that p is an absolute slash-separated path without
// empty, "." or ".." components and without a trailing slash.
func ValidatePath(p string) error {
    if p == "" { return fmt.Errorf("%w: empty", ErrInvalidPath) }
    if p[0] != '/' { return fmt.Errorf("%w: %q must start with /", ErrInvalidPath, p) }
    if p == "/" { return nil }
    if strings.HasSuffix(p, "/") { return fmt.Errorf("%w: %q must not end with /", ErrInvalidPath, p) }
    for _, part := range strings.Split(p[1:], "/") {
        switch part {
        case "":
            return fmt.Errorf("%w: %q has an empty component", ErrInvalidPath, p)
        case ".", "..":
            return fmt.Errorf("%w: %q has a relative component", ErrInvalidPath, p)
        }
        if strings.ContainsRune(part, 0) {
            return fmt.Errorf("%w: %q contains a NUL byte", ErrInvalidPath, p)
        }
    }
    return nil
}

// JoinPath joins a parent path and a child name.
func JoinPath(parent, child string) string {
    child = strings.TrimPrefix(child, "/")
    if parent == "/" || parent == "" { return "/" + child }
    return parent + "/" + child
}

// ParentPath returns the parent of p, "/" for top-level nodes.
func ParentPath(p string) string {
    i := strings.LastIndexByte(p, '/')
    if i <= 0 { return "/" }
    return p[:i]
}

// BaseName returns the last component of p.
func BaseName(p string) string {
    return p[strings.LastIndexByte(p, '/')+1:]
}

// IsDirectChild reports whether p is an immediate child of parent.
func IsDirectChild(parent, p string) bool {
    prefix := parent + "/"
    if parent == "/" { prefix = "/" }
    if !strings.HasPrefix(p, prefix) || len(p) == len(prefix) { return false }
    return !strings.Contains(p[len(prefix):], "/")
}

// NormalizeNamespace turns a configured namespace into the form used as a
// key prefix. "", "/" mean no namespace. Anything else must be a valid path
// and is returned without the leading slash.
func NormalizeNamespace(ns string) (string, error) {
    if ns == "" || ns == "/" { return "", nil }
    if !strings.HasPrefix(ns, "/") { ns = "/" + ns }
    if err := ValidatePath(ns); err != nil { return "", fmt.Errorf("namespace: %w", err) }
    return ns[1:], nil
}
