//go:build integration

package etcd_test

import (
    "context"
    "errors"
    "os"
    "strings"
    "sync/atomic"
    "testing"
    "time"

    "github.com/google/uuid"
    clientv3 "go.etcd.io/etcd/client/v3"
    "go.uber.org/zap"

    "github.com/amirimatin/go-coord/pkg/coord"
    "github.com/amirimatin/go-coord/pkg/coord/etcd"
    "github.com/amirimatin/go-coord/pkg/leader"
    "github.com/amirimatin/go-coord/pkg/membership"
    "github.com/amirimatin/go-coord/pkg/node"
    "github.com/amirimatin/go-coord/pkg/service"
)

var errNotYet = errors.New("not yet")

// newClient connects to COORD_ETCD_ENDPOINTS under a fresh namespace.
func newClient(t *testing.T, ns string) *etcd.Client {
    t.Helper()
    eps := os.Getenv("COORD_ETCD_ENDPOINTS")
    if eps == "" { t.Skip("COORD_ETCD_ENDPOINTS not set") }
    ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
    defer cancel()
    c, err := etcd.New(ctx, etcd.Options{Endpoints: strings.Split(eps, ","), Namespace: ns, SessionTTL: 2 * time.Second, Logger: zap.NewNop()})
    if err != nil { t.Fatalf("connect: %v", err) }
    t.Cleanup(func() { _ = c.Close() })
    return c
}

func waitUntil(t *testing.T, d time.Duration, fn func() error) {
    t.Helper()
    deadline := time.Now().Add(d)
    var err error
    for time.Now().Before(deadline) {
        if err = fn(); err == nil { return }
        time.Sleep(50 * time.Millisecond)
    }
    t.Fatalf("condition not met within %s: %v", d, err)
}

func revoke(t *testing.T, c *etcd.Client) {
    t.Helper()
    ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
    defer cancel()
    if _, err := c.Raw().Revoke(ctx, clientv3.LeaseID(c.SessionID())); err != nil { t.Fatalf("revoke: %v", err) }
}

func TestNodeSurvivesSessionLoss(t *testing.T) {
    ns := "it-" + uuid.NewString()
    c := newClient(t, ns)
    n, err := node.New(node.Options{Client: c, Path: "/svc/a", Data: []byte("x"), Mode: coord.Ephemeral})
    if err != nil { t.Fatalf("new: %v", err) }
    defer n.Close(5 * time.Second)
    ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
    defer cancel()
    if err := n.Wait(ctx); err != nil { t.Fatalf("wait: %v", err) }

    old := c.SessionID()
    revoke(t, c)
    waitUntil(t, 15*time.Second, func() error {
        if c.SessionID() == old { return errNotYet }
        st, err := c.Exists(ctx, "/svc/a")
        if err != nil { return err }
        if st == nil || st.Owner != c.SessionID() { return errNotYet }
        return nil
    })
}

func TestMembershipSeesOtherClient(t *testing.T) {
    ns := "it-" + uuid.NewString()
    a, b := newClient(t, ns), newClient(t, ns)
    cache, err := membership.NewCache(membership.Options[string]{Client: a, Path: "/group", Parser: membership.StringParser})
    if err != nil { t.Fatalf("cache: %v", err) }
    defer cache.Close()
    if err := cache.Start(context.Background()); err != nil { t.Fatalf("start: %v", err) }

    n, err := node.New(node.Options{Client: b, Path: "/group/m-", Data: []byte("b"), Mode: coord.EphemeralSequential})
    if err != nil { t.Fatalf("node: %v", err) }
    waitUntil(t, 10*time.Second, func() error {
        if cache.Len() != 1 { return errNotYet }
        return nil
    })
    if err := n.Close(5 * time.Second); err != nil { t.Fatalf("close: %v", err) }
    waitUntil(t, 10*time.Second, func() error {
        if cache.Len() != 0 { return errNotYet }
        return nil
    })
}

func TestLeaderHandsOver(t *testing.T) {
    ns := "it-" + uuid.NewString()
    var active atomic.Int32
    var maxActive atomic.Int32
    supplier := func() service.Service {
        return service.NewIdle("delegate",
            func(context.Context) error {
                if v := active.Add(1); v > maxActive.Load() { maxActive.Store(v) }
                return nil
            },
            func(context.Context) error { active.Add(-1); return nil })
    }
    var svcs []*leader.Service
    for i := 0; i < 3; i++ {
        s, err := leader.New(leader.Options{Client: newClient(t, ns), Path: "/lead", ReacquireDelay: 100 * time.Millisecond, Supplier: supplier})
        if err != nil { t.Fatalf("leader: %v", err) }
        if err := s.Start(context.Background()); err != nil { t.Fatalf("start: %v", err) }
        svcs = append(svcs, s)
    }
    waitUntil(t, 10*time.Second, func() error {
        if active.Load() != 1 { return errNotYet }
        return nil
    })
    for _, s := range svcs {
        if s.HasLeadership() {
            _ = s.Close()
            break
        }
    }
    waitUntil(t, 10*time.Second, func() error {
        n := 0
        for _, s := range svcs {
            if s.HasLeadership() { n++ }
        }
        if n != 1 || active.Load() != 1 { return errNotYet }
        return nil
    })
    for _, s := range svcs { _ = s.Close() }
    if maxActive.Load() > 1 { t.Fatalf("%d delegates ran at once", maxActive.Load()) }
}
