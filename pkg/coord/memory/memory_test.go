package memory

import (
    "context"
    "sync"
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/amirimatin/go-coord/pkg/coord"
)

func TestCreateModes(t *testing.T) {
    c := NewServer().NewClient(nil)
    defer c.Close()
    ctx := context.Background()

    p, err := c.Create(ctx, "/a", []byte("x"), coord.Persistent)
    require.NoError(t, err)
    assert.Equal(t, "/a", p)
    _, err = c.Create(ctx, "/a", nil, coord.Persistent)
    assert.ErrorIs(t, err, coord.ErrNodeExists)
    _, err = c.Create(ctx, "/missing/child", nil, coord.Persistent)
    assert.ErrorIs(t, err, coord.ErrNoParent)

    s1, err := c.Create(ctx, "/a/n-", nil, coord.EphemeralSequential)
    require.NoError(t, err)
    s2, err := c.Create(ctx, "/a/n-", nil, coord.EphemeralSequential)
    require.NoError(t, err)
    assert.Equal(t, "/a/n-0000000000", s1)
    assert.Equal(t, "/a/n-0000000001", s2)

    _, err = c.Create(ctx, s1+"/child", nil, coord.Persistent)
    assert.ErrorIs(t, err, coord.ErrEphemeralParent)
    assert.ErrorIs(t, c.Delete(ctx, "/a"), coord.ErrNotEmpty)
}

func TestDataRoundTrip(t *testing.T) {
    c := NewServer().NewClient(nil)
    defer c.Close()
    ctx := context.Background()

    _, err := c.Create(ctx, "/a", []byte("v1"), coord.Persistent)
    require.NoError(t, err)
    st, err := c.SetData(ctx, "/a", []byte("v2"))
    require.NoError(t, err)
    assert.Equal(t, int64(1), st.Version)
    data, st2, err := c.GetData(ctx, "/a")
    require.NoError(t, err)
    assert.Equal(t, "v2", string(data))
    assert.Equal(t, *st, *st2)
    _, _, err = c.GetData(ctx, "/nope")
    assert.ErrorIs(t, err, coord.ErrNoNode)
}

func TestExpireSessionDropsEphemerals(t *testing.T) {
    srv := NewServer()
    c := srv.NewClient(nil)
    defer c.Close()
    other := srv.NewClient(nil)
    defer other.Close()
    ctx := context.Background()

    var mu sync.Mutex
    var states []coord.ConnectionState
    c.AddStateListener(func(s coord.ConnectionState) {
        mu.Lock()
        states = append(states, s)
        mu.Unlock()
    })

    _, err := c.Create(ctx, "/e", nil, coord.Ephemeral)
    require.NoError(t, err)
    st, ch, err := other.ExistsW(ctx, "/e")
    require.NoError(t, err)
    require.NotNil(t, st)
    assert.Equal(t, c.SessionID(), st.Owner)

    c.ExpireSession()
    ev := <-ch
    assert.Equal(t, coord.NodeDeleted, ev.Type)
    require.Eventually(t, func() bool {
        mu.Lock()
        defer mu.Unlock()
        return len(states) == 2
    }, time.Second, 5*time.Millisecond)
    assert.Equal(t, []coord.ConnectionState{coord.StateLost, coord.StateReconnected}, states)
}

func TestSuspendFailsCalls(t *testing.T) {
    c := NewServer().NewClient(nil)
    defer c.Close()
    c.Suspend()
    _, err := c.Exists(context.Background(), "/")
    assert.ErrorIs(t, err, coord.ErrConnectionLoss)
    assert.True(t, coord.IsRetryable(err))
    c.Resume()
    _, err = c.Exists(context.Background(), "/")
    assert.NoError(t, err)

    require.NoError(t, c.Close())
    _, err = c.Exists(context.Background(), "/")
    assert.ErrorIs(t, err, coord.ErrClosed)
}

func TestChildrenWatch(t *testing.T) {
    srv := NewServer()
    c := srv.NewClient(nil)
    defer c.Close()
    ctx, cancel := context.WithCancel(context.Background())
    defer cancel()

    _, err := c.Create(ctx, "/p", nil, coord.Persistent)
    require.NoError(t, err)
    _, err = c.Create(ctx, "/p/a", []byte("a"), coord.Persistent)
    require.NoError(t, err)
    kids, ch, err := c.ChildrenW(ctx, "/p")
    require.NoError(t, err)
    require.Len(t, kids, 1)

    _, err = c.Create(ctx, "/p/b", []byte("b"), coord.Persistent)
    require.NoError(t, err)
    _, err = c.SetData(ctx, "/p/a", []byte("a2"))
    require.NoError(t, err)
    require.NoError(t, c.Delete(ctx, "/p/b"))

    var got []coord.ChildEventType
    for i := 0; i < 3; i++ { got = append(got, (<-ch).Type) }
    assert.Equal(t, []coord.ChildEventType{coord.ChildAdded, coord.ChildUpdated, coord.ChildRemoved}, got)

    srv.BreakWatches("/p")
    _, open := <-ch
    assert.False(t, open)
}

type electionListener struct {
    terms chan context.Context
}

func (l *electionListener) TakeLeadership(ctx context.Context) {
    l.terms <- ctx
    <-ctx.Done()
}

func (l *electionListener) StateChanged(coord.ConnectionState) {}

func TestLeadershipHandsOver(t *testing.T) {
    srv := NewServer()
    a, b := srv.NewClient(nil), srv.NewClient(nil)
    defer a.Close()
    defer b.Close()

    la := &electionListener{terms: make(chan context.Context, 1)}
    lb := &electionListener{terms: make(chan context.Context, 1)}
    ma, err := a.NewLeadershipMutex("/lead", "a", la)
    require.NoError(t, err)
    mb, err := b.NewLeadershipMutex("/lead", "b", lb)
    require.NoError(t, err)
    require.NoError(t, ma.Start())
    <-la.terms
    require.NoError(t, mb.Start())
    assert.ErrorIs(t, mb.Start(), coord.ErrMutexStarted)

    require.Eventually(t, func() bool {
        ps, _ := ma.Participants(context.Background())
        return len(ps) == 2
    }, time.Second, 5*time.Millisecond)
    ps, err := ma.Participants(context.Background())
    require.NoError(t, err)
    assert.Equal(t, []coord.Participant{{ID: "a", Leader: true}, {ID: "b"}}, ps)

    a.ExpireSession()
    select {
    case <-lb.terms:
    case <-time.After(time.Second):
        t.Fatal("b did not take over")
    }
    assert.True(t, mb.HasLeadership())
    l, err := mb.Leader(context.Background())
    require.NoError(t, err)
    assert.Equal(t, "b", l.ID)

    require.NoError(t, mb.Close())
    require.NoError(t, ma.Close())
}
