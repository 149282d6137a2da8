package serial

import (
    "sync"
    "testing"
    "time"

    "github.com/stretchr/testify/require"
)

func TestQueueRunsInOrder(t *testing.T) {
    q := New("order", nil)
    defer q.Close()

    var mu sync.Mutex
    var got []int
    done := make(chan struct{})
    for i := 0; i < 100; i++ {
        i := i
        require.True(t, q.Submit(func() {
            mu.Lock()
            got = append(got, i)
            mu.Unlock()
            if i == 99 { close(done) }
        }))
    }
    select {
    case <-done:
    case <-time.After(5 * time.Second):
        t.Fatal("tasks did not run")
    }
    mu.Lock()
    defer mu.Unlock()
    for i, v := range got { require.Equal(t, i, v) }
}

func TestQueueSurvivesPanic(t *testing.T) {
    q := New("panic", nil)
    defer q.Close()
    q.Submit(func() { panic("boom") })
    ran := make(chan struct{})
    q.Submit(func() { close(ran) })
    select {
    case <-ran:
    case <-time.After(5 * time.Second):
        t.Fatal("queue stopped after panic")
    }
}

func TestQueueClose(t *testing.T) {
    q := New("close", nil)
    block := make(chan struct{})
    started := make(chan struct{})
    q.Submit(func() { close(started); <-block })
    <-started
    var ranAfter bool
    q.Submit(func() { ranAfter = true })
    q.Close()
    q.Close()
    require.False(t, q.Submit(func() {}))
    close(block)
    select {
    case <-q.Done():
    case <-time.After(5 * time.Second):
        t.Fatal("queue did not exit")
    }
    require.False(t, ranAfter)
}
