// Package membership mirrors the children of a store path into a local map
// and reports member changes to listeners in the order they happened.
package membership

import (
    "encoding/json"

    "github.com/amirimatin/go-coord/pkg/coord"
)

// Parser decodes a child payload. A failing parser still yields a member,
// stored with T's zero value.
type Parser[T any] func(path string, data []byte) (T, error)

// BytesParser keeps raw payloads.
func BytesParser(_ string, data []byte) ([]byte, error) { return data, nil }

// StringParser keeps payloads as strings.
func StringParser(_ string, data []byte) (string, error) { return string(data), nil }

// JSONParser decodes each payload into a new *T.
func JSONParser[T any]() Parser[*T] {
    return func(_ string, data []byte) (*T, error) {
        v := new(T)
        if err := json.Unmarshal(data, v); err != nil { return nil, err }
        return v, nil
    }
}

type EventType string

const (
    EventAdded   EventType = "added"
    EventRemoved EventType = "removed"
    EventUpdated EventType = "updated"
)

// Listener observes a Cache. Callbacks run one at a time on the cache's
// event goroutine; they may read the cache but must not block for long.
type Listener[T any] interface {
    OnNodeAdded(path string, v T)
    OnNodeRemoved(path string, v T)
    OnNodeUpdated(path string, v T)
    // OnConnectionStateChanged reports SUSPENDED, LOST and RECONNECTED.
    // Entries are kept across interruptions; members that vanished meanwhile
    // are reported through OnNodeRemoved once the watch catches up.
    OnConnectionStateChanged(s coord.ConnectionState)
}

// ListenerFuncs adapts optional funcs to a Listener. Register it by pointer
// so that RemoveListener can find it.
type ListenerFuncs[T any] struct {
    Added        func(path string, v T)
    Removed      func(path string, v T)
    Updated      func(path string, v T)
    StateChanged func(s coord.ConnectionState)
}

func (f *ListenerFuncs[T]) OnNodeAdded(path string, v T) {
    if f.Added != nil { f.Added(path, v) }
}

func (f *ListenerFuncs[T]) OnNodeRemoved(path string, v T) {
    if f.Removed != nil { f.Removed(path, v) }
}

func (f *ListenerFuncs[T]) OnNodeUpdated(path string, v T) {
    if f.Updated != nil { f.Updated(path, v) }
}

func (f *ListenerFuncs[T]) OnConnectionStateChanged(s coord.ConnectionState) {
    if f.StateChanged != nil { f.StateChanged(s) }
}
