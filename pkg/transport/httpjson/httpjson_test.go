package httpjson

import (
    "context"
    "errors"
    "io"
    "net/http"
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
            Session: 7,
            State:   "CONNECTED",
            Nodes:   []transport.NodeStatus{{Path: "/svc/a", Actual: "/svc/a"}},
            Members: []transport.MembersStatus{{Path: "/svc", Count: 1}},
        }, nil
    }
    health := func(context.Context) error {
        if healthy.Load() { return nil }
        return errors.New("not connected")
    }

    ctx, cancel := context.WithCancel(context.Background())
    defer cancel()
    srv := NewServer("127.0.0.1:0", nil)
    require.NoError(t, srv.Start(ctx, status, health))
    defer srv.Stop(context.Background())

    c := NewClient(time.Second)
    st, err := c.GetStatus(ctx, srv.Addr())
    require.NoError(t, err)
    assert.Equal(t, int64(7), st.Session)
    assert.Equal(t, "/svc/a", st.Nodes[0].Actual)
    assert.Equal(t, 1, st.Members[0].Count)

    require.NoError(t, c.Healthz(ctx, srv.Addr()))
    healthy.Store(false)
    assert.Error(t, c.Healthz(ctx, srv.Addr()))

    resp, err := http.Get("http://" + srv.Addr() + "/metrics")
    require.NoError(t, err)
    defer resp.Body.Close()
    _, _ = io.ReadAll(resp.Body)
    assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStatusRejectsPost(t *testing.T) {
    ctx, cancel := context.WithCancel(context.Background())
    defer cancel()
    srv := NewServer("127.0.0.1:0", nil)
    require.NoError(t, srv.Start(ctx, func(context.Context) (transport.Status, error) { return transport.Status{}, nil }, nil))
    defer srv.Stop(context.Background())

    resp, err := http.Post("http://"+srv.Addr()+"/status", "application/json", nil)
    require.NoError(t, err)
    resp.Body.Close()
    assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
