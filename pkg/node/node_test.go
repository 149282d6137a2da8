package node

import (
    "context"
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/amirimatin/go-coord/pkg/coord"
    "github.com/amirimatin/go-coord/pkg/coord/memory"
)

const waitFor = 5 * time.Second
const tick = 10 * time.Millisecond

func exists(t *testing.T, c coord.Client, path string) bool {
    t.Helper()
    st, err := c.Exists(context.Background(), path)
    require.NoError(t, err)
    return st != nil
}

func newNode(t *testing.T, c coord.Client, path string, mode coord.CreateMode) *Node {
    t.Helper()
    n, err := New(Options{Client: c, Path: path, Data: []byte("payload"), Mode: mode, RetryBase: 5 * time.Millisecond, RetryMax: 50 * time.Millisecond})
    require.NoError(t, err)
    t.Cleanup(func() { _ = n.Close(time.Second) })
    ctx, cancel := context.WithTimeout(context.Background(), waitFor)
    defer cancel()
    require.NoError(t, n.Wait(ctx))
    return n
}

func TestNewValidation(t *testing.T) {
    c := memory.NewServer().NewClient(nil)
    defer c.Close()
    cases := []struct {
        name string
        opts Options
        want error
    }{
        {"nil client", Options{Path: "/x", Data: []byte{}, Mode: coord.Ephemeral}, ErrNilClient},
        {"relative path", Options{Client: c, Path: "x", Data: []byte{}, Mode: coord.Ephemeral}, coord.ErrInvalidPath},
        {"root", Options{Client: c, Path: "/", Data: []byte{}, Mode: coord.Ephemeral}, coord.ErrInvalidPath},
        {"nil data", Options{Client: c, Path: "/x", Mode: coord.Ephemeral}, ErrNilData},
        {"persistent", Options{Client: c, Path: "/x", Data: []byte{}, Mode: coord.Persistent}, ErrBadMode},
        {"persistent sequential", Options{Client: c, Path: "/x", Data: []byte{}, Mode: coord.PersistentSequential}, ErrBadMode},
    }
    for _, tc := range cases {
        t.Run(tc.name, func(t *testing.T) {
            n, err := New(tc.opts)
            assert.ErrorIs(t, err, tc.want)
            assert.Nil(t, n)
        })
    }
}

func TestEphemeralCreatedAtExactPath(t *testing.T) {
    srv := memory.NewServer()
    c := srv.NewClient(nil)
    defer c.Close()

    n := newNode(t, c, "/x", coord.Ephemeral)
    assert.Equal(t, "/x", n.ActualPath())
    data, st, err := c.GetData(context.Background(), "/x")
    require.NoError(t, err)
    assert.Equal(t, "payload", string(data))
    assert.Equal(t, c.SessionID(), st.Owner)
}

func TestRecreatedAfterSessionExpiry(t *testing.T) {
    srv := memory.NewServer()
    c := srv.NewClient(nil)
    defer c.Close()
    observer := srv.NewClient(nil)
    defer observer.Close()

    n := newNode(t, c, "/x", coord.Ephemeral)
    old := c.SessionID()
    c.ExpireSession()
    require.NotEqual(t, old, c.SessionID())

    require.Eventually(t, func() bool {
        st, err := observer.Exists(context.Background(), "/x")
        return err == nil && st != nil && st.Owner == c.SessionID()
    }, waitFor, tick)
    assert.Equal(t, "/x", n.ActualPath())
}

func TestRecreatedAfterExternalDelete(t *testing.T) {
    srv := memory.NewServer()
    c := srv.NewClient(nil)
    defer c.Close()
    other := srv.NewClient(nil)
    defer other.Close()

    newNode(t, c, "/x", coord.Ephemeral)
    first, err := other.Exists(context.Background(), "/x")
    require.NoError(t, err)
    require.NotNil(t, first)
    require.NoError(t, other.Delete(context.Background(), "/x"))

    require.Eventually(t, func() bool {
        st, err := other.Exists(context.Background(), "/x")
        return err == nil && st != nil && st.CreateRevision > first.CreateRevision
    }, waitFor, tick)
}

func TestSequentialNodesAreDistinct(t *testing.T) {
    srv := memory.NewServer()
    c := srv.NewClient(nil)
    defer c.Close()

    a := newNode(t, c, "/seq-", coord.EphemeralSequential)
    b := newNode(t, c, "/seq-", coord.EphemeralSequential)
    assert.NotEqual(t, a.ActualPath(), b.ActualPath())
    assert.Regexp(t, `^/seq-\d{10}$`, a.ActualPath())
    assert.True(t, exists(t, c, a.ActualPath()))
    assert.True(t, exists(t, c, b.ActualPath()))
}

func TestCloseDeletesAndIsIdempotent(t *testing.T) {
    srv := memory.NewServer()
    c := srv.NewClient(nil)
    defer c.Close()

    n := newNode(t, c, "/x", coord.Ephemeral)
    require.True(t, exists(t, c, "/x"))
    require.NoError(t, n.Close(time.Second))
    assert.False(t, exists(t, c, "/x"))
    assert.Equal(t, "", n.ActualPath())
    assert.NoError(t, n.Close(time.Second))

    time.Sleep(50 * time.Millisecond)
    assert.False(t, exists(t, c, "/x"), "closed node must not be recreated")
}

func TestCloseWhileDisconnectedIsBestEffort(t *testing.T) {
    srv := memory.NewServer()
    c := srv.NewClient(nil)
    defer c.Close()

    n := newNode(t, c, "/x", coord.Ephemeral)
    c.Suspend()
    require.Eventually(t, func() bool { return !c.State().IsConnected() }, waitFor, tick)
    assert.NoError(t, n.Close(50*time.Millisecond))
}

func TestCreateDeferredUntilReconnect(t *testing.T) {
    srv := memory.NewServer()
    c := srv.NewClient(nil)
    defer c.Close()
    observer := srv.NewClient(nil)
    defer observer.Close()

    c.Suspend()
    n, err := New(Options{Client: c, Path: "/x", Data: []byte{}, Mode: coord.Ephemeral})
    require.NoError(t, err)
    defer n.Close(time.Second)

    time.Sleep(50 * time.Millisecond)
    assert.Equal(t, "", n.ActualPath())
    assert.False(t, exists(t, observer, "/x"))

    c.Resume()
    require.Eventually(t, func() bool { return exists(t, observer, "/x") }, waitFor, tick)
}

func TestWaitsForForeignOwnerToGoAway(t *testing.T) {
    srv := memory.NewServer()
    owner := srv.NewClient(nil)
    c := srv.NewClient(nil)
    defer c.Close()

    _, err := owner.Create(context.Background(), "/x", []byte("theirs"), coord.Ephemeral)
    require.NoError(t, err)

    n, err := New(Options{Client: c, Path: "/x", Data: []byte("ours"), Mode: coord.Ephemeral})
    require.NoError(t, err)
    defer n.Close(time.Second)

    time.Sleep(50 * time.Millisecond)
    assert.Equal(t, "", n.ActualPath())

    require.NoError(t, owner.Close())
    require.Eventually(t, func() bool { return n.ActualPath() == "/x" }, waitFor, tick)
    data, _, err := c.GetData(context.Background(), "/x")
    require.NoError(t, err)
    assert.Equal(t, "ours", string(data))
}

func TestMissingParentsAreCreated(t *testing.T) {
    c := memory.NewServer().NewClient(nil)
    defer c.Close()

    n := newNode(t, c, "/services/api/host-1", coord.Ephemeral)
    assert.Equal(t, "/services/api/host-1", n.ActualPath())
    st, err := c.Exists(context.Background(), "/services/api")
    require.NoError(t, err)
    require.NotNil(t, st)
    assert.Zero(t, st.Owner)
}

func TestDataChangeKeepsNode(t *testing.T) {
    srv := memory.NewServer()
    c := srv.NewClient(nil)
    defer c.Close()
    other := srv.NewClient(nil)
    defer other.Close()

    n := newNode(t, c, "/seq-", coord.EphemeralSequential)
    first := n.ActualPath()
    _, err := other.SetData(context.Background(), first, []byte("touched"))
    require.NoError(t, err)
    _, err = other.SetData(context.Background(), first, []byte("touched again"))
    require.NoError(t, err)

    time.Sleep(100 * time.Millisecond)
    assert.Equal(t, first, n.ActualPath())
    assert.True(t, exists(t, other, first))
    kids, err := other.Children(context.Background(), "/")
    require.NoError(t, err)
    assert.Len(t, kids, 1)

    require.NoError(t, other.Delete(context.Background(), first))
    require.Eventually(t, func() bool {
        p := n.ActualPath()
        return p != first && exists(t, other, p)
    }, waitFor, tick)
}
