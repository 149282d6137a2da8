// Package file reads endpoints from an environment variable or from files
// holding one endpoint (or a comma-separated list) per line.
package file

import (
    "bufio"
    "os"
    "path/filepath"
    "sort"
    "strings"
    "sync"
    "time"

    "github.com/amirimatin/go-coord/pkg/discovery"
    "github.com/amirimatin/go-coord/pkg/discovery/static"
)

type Options struct {
    // Path is a file or a glob; matches are merged.
    Path string
    // Env names a variable that takes precedence over Path when set.
    Env string
    // Refresh forces a re-read after this long even if mtime is unchanged.
    Refresh time.Duration
}

type resolver struct {
    opts  Options
    mu    sync.Mutex
    last  time.Time
    mtime time.Time
    cache []string
}

func New(opts Options) discovery.Resolver {
    if opts.Refresh <= 0 { opts.Refresh = 5 * time.Second }
    return &resolver{opts: opts}
}

func (r *resolver) Endpoints() []string {
    r.mu.Lock()
    defer r.mu.Unlock()
    if r.opts.Env != "" {
        if v := strings.TrimSpace(os.Getenv(r.opts.Env)); v != "" { return normalize(static.Parse(v)) }
    }
    if r.opts.Path == "" { return nil }
    now := time.Now()
    if st, err := os.Stat(r.opts.Path); err == nil {
        if st.ModTime().After(r.mtime) || now.Sub(r.last) >= r.opts.Refresh {
            r.cache = normalize(readFile(r.opts.Path))
            r.last, r.mtime = now, st.ModTime()
        }
        return append([]string(nil), r.cache...)
    }
    if matches, _ := filepath.Glob(r.opts.Path); len(matches) > 0 {
        var all []string
        for _, m := range matches { all = append(all, readFile(m)...) }
        r.cache = normalize(all)
        r.last = now
    }
    return append([]string(nil), r.cache...)
}

func readFile(path string) []string {
    f, err := os.Open(path)
    if err != nil { return nil }
    defer f.Close()
    var out []string
    sc := bufio.NewScanner(f)
    for sc.Scan() {
        line := strings.TrimSpace(sc.Text())
        if line == "" || strings.HasPrefix(line, "#") { continue }
        out = append(out, static.Parse(line)...)
    }
    if sc.Err() != nil { return nil }
    return out
}

func normalize(in []string) []string {
    set := make(map[string]struct{}, len(in))
    out := make([]string, 0, len(in))
    for _, s := range in {
        if _, dup := set[s]; dup { continue }
        set[s] = struct{}{}
        out = append(out, s)
    }
    sort.Strings(out)
    return out
}
