// Package memory is an in-process coordination store. A Server plays the
// role of the store ensemble and every Client the role of one process with
// its own session. It backs unit tests and the CLI's memory mode.
package memory

import (
    "context"
    "fmt"
    "sort"
    "sync"

    "github.com/amirimatin/go-coord/pkg/coord"
)

type znode struct {
    data []byte
    stat coord.Stat
}

type existWatch struct {
    ch    chan coord.NodeEvent
    fired bool
}

type childWatch struct {
    box *mailbox[coord.ChildEvent]
}

// Server holds the shared tree.
type Server struct {
    mu          sync.Mutex
    nodes       map[string]*znode
    seq         map[string]int64
    rev         int64
    sessions    map[int64]bool
    nextSession int64
    existWatch  map[string][]*existWatch
    childWatch  map[string][]*childWatch
    elections   map[string]*election
}

// NewServer returns an empty store containing only the root node.
func NewServer() *Server {
    return &Server{
        nodes:      map[string]*znode{"/": {}},
        seq:        make(map[string]int64),
        sessions:   make(map[int64]bool),
        existWatch: make(map[string][]*existWatch),
        childWatch: make(map[string][]*childWatch),
        elections:  make(map[string]*election),
    }
}

func (s *Server) openSession() int64 {
    s.mu.Lock()
    defer s.mu.Unlock()
    s.nextSession++
    s.sessions[s.nextSession] = true
    return s.nextSession
}

// expireSession drops every ephemeral node and election candidate owned by id.
func (s *Server) expireSession(id int64) {
    s.mu.Lock()
    defer s.mu.Unlock()
    if !s.sessions[id] { return }
    delete(s.sessions, id)
    var owned []string
    for p, n := range s.nodes {
        if n.stat.Owner == id { owned = append(owned, p) }
    }
    sort.Strings(owned)
    for _, p := range owned { s.deleteLocked(p) }
    for _, e := range s.elections { e.dropSession(id) }
}

func (s *Server) create(path string, data []byte, mode coord.CreateMode, session int64) (string, error) {
    s.mu.Lock()
    defer s.mu.Unlock()
    if mode.IsEphemeral() && !s.sessions[session] { return "", coord.ErrSessionExpired }
    parent := coord.ParentPath(path)
    pn, ok := s.nodes[parent]
    if !ok { return "", fmt.Errorf("%w: %s", coord.ErrNoParent, parent) }
    if pn.stat.Owner != 0 { return "", coord.ErrEphemeralParent }
    actual := path
    if mode.IsSequential() {
        n := s.seq[parent]
        s.seq[parent] = n + 1
        actual = path + fmt.Sprintf(coord.SequenceFormat, n)
    }
    if _, exists := s.nodes[actual]; exists { return "", fmt.Errorf("%w: %s", coord.ErrNodeExists, actual) }
    s.rev++
    st := coord.Stat{CreateRevision: s.rev, ModRevision: s.rev}
    if mode.IsEphemeral() { st.Owner = session }
    n := &znode{data: clone(data), stat: st}
    s.nodes[actual] = n
    s.fireExistLocked(actual, coord.NodeCreated)
    s.fireChildLocked(parent, coord.ChildAdded, actual, n)
    return actual, nil
}

func (s *Server) delete(path string) error {
    s.mu.Lock()
    defer s.mu.Unlock()
    if path == "/" { return fmt.Errorf("%w: cannot delete root", coord.ErrInvalidPath) }
    if _, ok := s.nodes[path]; !ok { return fmt.Errorf("%w: %s", coord.ErrNoNode, path) }
    for p := range s.nodes {
        if coord.IsDirectChild(path, p) { return fmt.Errorf("%w: %s", coord.ErrNotEmpty, path) }
    }
    s.deleteLocked(path)
    return nil
}

func (s *Server) deleteLocked(path string) {
    n, ok := s.nodes[path]
    if !ok { return }
    delete(s.nodes, path)
    s.rev++
    s.fireExistLocked(path, coord.NodeDeleted)
    s.fireChildLocked(coord.ParentPath(path), coord.ChildRemoved, path, n)
}

func (s *Server) setData(path string, data []byte) (*coord.Stat, error) {
    s.mu.Lock()
    defer s.mu.Unlock()
    n, ok := s.nodes[path]
    if !ok { return nil, fmt.Errorf("%w: %s", coord.ErrNoNode, path) }
    s.rev++
    n.data = clone(data)
    n.stat.Version++
    n.stat.ModRevision = s.rev
    s.fireExistLocked(path, coord.NodeDataChanged)
    if path != "/" { s.fireChildLocked(coord.ParentPath(path), coord.ChildUpdated, path, n) }
    st := n.stat
    return &st, nil
}

func (s *Server) get(path string) ([]byte, *coord.Stat, error) {
    s.mu.Lock()
    defer s.mu.Unlock()
    n, ok := s.nodes[path]
    if !ok { return nil, nil, fmt.Errorf("%w: %s", coord.ErrNoNode, path) }
    st := n.stat
    return clone(n.data), &st, nil
}

func (s *Server) exists(path string) *coord.Stat {
    s.mu.Lock()
    defer s.mu.Unlock()
    return s.statLocked(path)
}

func (s *Server) statLocked(path string) *coord.Stat {
    n, ok := s.nodes[path]
    if !ok { return nil }
    st := n.stat
    return &st
}

func (s *Server) existsW(ctx context.Context, path string) (*coord.Stat, <-chan coord.NodeEvent) {
    s.mu.Lock()
    st := s.statLocked(path)
    w := &existWatch{ch: make(chan coord.NodeEvent, 1)}
    s.existWatch[path] = append(s.existWatch[path], w)
    s.mu.Unlock()
    go func() {
        <-ctx.Done()
        s.mu.Lock()
        defer s.mu.Unlock()
        if w.fired { return }
        w.fired = true
        close(w.ch)
        ws := s.existWatch[path]
        for i, x := range ws {
            if x == w {
                s.existWatch[path] = append(ws[:i:i], ws[i+1:]...)
                break
            }
        }
        if len(s.existWatch[path]) == 0 { delete(s.existWatch, path) }
    }()
    return st, w.ch
}

func (s *Server) children(path string) ([]coord.ChildEntry, error) {
    s.mu.Lock()
    defer s.mu.Unlock()
    return s.childrenLocked(path)
}

func (s *Server) childrenLocked(path string) ([]coord.ChildEntry, error) {
    if _, ok := s.nodes[path]; !ok { return nil, fmt.Errorf("%w: %s", coord.ErrNoNode, path) }
    var out []coord.ChildEntry
    for p, n := range s.nodes {
        if coord.IsDirectChild(path, p) {
            out = append(out, coord.ChildEntry{Path: p, Data: clone(n.data), Stat: n.stat})
        }
    }
    sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
    return out, nil
}

func (s *Server) childrenW(ctx context.Context, path string) ([]coord.ChildEntry, <-chan coord.ChildEvent, error) {
    s.mu.Lock()
    snap, err := s.childrenLocked(path)
    if err != nil {
        s.mu.Unlock()
        return nil, nil, err
    }
    w := &childWatch{box: newMailbox[coord.ChildEvent](ctx)}
    s.childWatch[path] = append(s.childWatch[path], w)
    s.mu.Unlock()
    go func() {
        <-ctx.Done()
        s.mu.Lock()
        defer s.mu.Unlock()
        ws := s.childWatch[path]
        for i, x := range ws {
            if x == w {
                s.childWatch[path] = append(ws[:i:i], ws[i+1:]...)
                break
            }
        }
        if len(s.childWatch[path]) == 0 { delete(s.childWatch, path) }
    }()
    return snap, w.box.out, nil
}

// BreakWatches closes every children stream on path, the way a real store
// drops a watch that fell behind compaction.
func (s *Server) BreakWatches(path string) {
    s.mu.Lock()
    ws := s.childWatch[path]
    delete(s.childWatch, path)
    s.mu.Unlock()
    for _, w := range ws { w.box.close() }
}

func (s *Server) fireExistLocked(path string, t coord.NodeEventType) {
    ws := s.existWatch[path]
    if len(ws) == 0 { return }
    delete(s.existWatch, path)
    for _, w := range ws {
        if w.fired { continue }
        w.fired = true
        w.ch <- coord.NodeEvent{Type: t, Path: path}
        close(w.ch)
    }
}

func (s *Server) fireChildLocked(parent string, t coord.ChildEventType, path string, n *znode) {
    ws := s.childWatch[parent]
    if len(ws) == 0 { return }
    ev := coord.ChildEvent{Type: t, Entry: coord.ChildEntry{Path: path, Data: clone(n.data), Stat: n.stat}}
    for _, w := range ws { w.box.push(ev) }
}

func clone(b []byte) []byte {
    if b == nil { return []byte{} }
    return append([]byte(nil), b...)
}
