package grpc

import (
    "context"
    "errors"
    "sync/atomic"
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/amirimatin/go-coord/pkg/transport"
)

func TestStatusAndHealth(t *testing.T) {
    var healthy atomic.Bool
    healthy.Store(true)
    status := func(context.Context) (transport.Status, error) {
        return transport.Status{
            Store:   "memory",
            Session: 3,
            State:   "CONNECTED",
            Leaders: []transport.LeaderStatus{{Path: "/lead", ID: "a", HasLeadership: true, Leader: "a", State: "RUNNING"}},
        }, nil
    }
    health := func(context.Context) error {
        if healthy.Load() { return nil }
        return errors.New("not connected")
    }

    ctx, cancel := context.WithCancel(context.Background())
    defer cancel()
    srv := NewServer("127.0.0.1:0", nil)
    srv.HealthInterval = 10 * time.Millisecond
    require.NoError(t, srv.Start(ctx, status, health))
    defer srv.Stop(context.Background())

    c := NewClient(2 * time.Second)
    defer c.Close()
    st, err := c.GetStatus(ctx, srv.Addr())
    require.NoError(t, err)
    assert.Equal(t, int64(3), st.Session)
    require.Len(t, st.Leaders, 1)
    assert.True(t, st.Leaders[0].HasLeadership)

    require.NoError(t, c.Healthz(ctx, srv.Addr()))
    healthy.Store(false)
    require.Eventually(t, func() bool { return c.Healthz(ctx, srv.Addr()) != nil }, 2*time.Second, 10*time.Millisecond)
    assert.Equal(t, 1, c.cm.Len())
}

func TestStatusErrorPropagates(t *testing.T) {
    ctx, cancel := context.WithCancel(context.Background())
    defer cancel()
    srv := NewServer("127.0.0.1:0", nil)
    require.NoError(t, srv.Start(ctx, func(context.Context) (transport.Status, error) {
        return transport.Status{}, errors.New("boom")
    }, nil))
    defer srv.Stop(context.Background())

    c := NewClient(time.Second)
    defer c.Close()
    _, err := c.GetStatus(ctx, srv.Addr())
    assert.ErrorContains(t, err, "boom")
}

func TestConnManagerEvictsIdle(t *testing.T) {
    ctx, cancel := context.WithCancel(context.Background())
    defer cancel()
    srv := NewServer("127.0.0.1:0", nil)
    require.NoError(t, srv.Start(ctx, func(context.Context) (transport.Status, error) { return transport.Status{}, nil }, nil))
    defer srv.Stop(context.Background())

    c := &Client{timeout: time.Second}
    c.cm = NewConnManager(40*time.Millisecond, c.dial)
    defer c.Close()
    _, err := c.GetStatus(ctx, srv.Addr())
    require.NoError(t, err)
    assert.Equal(t, 1, c.cm.Len())
    require.Eventually(t, func() bool { return c.cm.Len() == 0 }, 2*time.Second, 10*time.Millisecond)

    c.cm.Close()
    _, err = c.GetStatus(ctx, srv.Addr())
    assert.ErrorIs(t, err, errPoolClosed)
}
