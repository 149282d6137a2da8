// Package coord defines the coordination store client consumed by the
// node, leader and membership primitives. Backends live in subpackages
// (etcd for production, memory for tests and local development).
package coord

import (
    "context"
    "time"
)

// CreateMode selects the lifetime and naming of a created node.
type CreateMode int

const (
    Persistent CreateMode = iota
    PersistentSequential
    Ephemeral
    EphemeralSequential
)

// IsEphemeral reports whether nodes created in this mode are bound to the session.
func (m CreateMode) IsEphemeral() bool { return m == Ephemeral || m == EphemeralSequential }

// IsSequential reports whether the store appends a monotonic suffix to the path.
func (m CreateMode) IsSequential() bool { return m == PersistentSequential || m == EphemeralSequential }

func (m CreateMode) String() string {
    switch m {
    case Persistent:
        return "PERSISTENT"
    case PersistentSequential:
        return "PERSISTENT_SEQUENTIAL"
    case Ephemeral:
        return "EPHEMERAL"
    case EphemeralSequential:
        return "EPHEMERAL_SEQUENTIAL"
    default:
        return "UNKNOWN"
    }
}

// SequenceFormat is appended to the requested path by sequential creates.
const SequenceFormat = "%010d"

// ConnectionState is a transition of the client's connection to the store.
type ConnectionState int

const (
    StateConnected ConnectionState = iota + 1
    StateSuspended
    StateLost
    StateReconnected
)

func (s ConnectionState) String() string {
    switch s {
    case StateConnected:
        return "CONNECTED"
    case StateSuspended:
        return "SUSPENDED"
    case StateLost:
        return "LOST"
    case StateReconnected:
        return "RECONNECTED"
    default:
        return "UNKNOWN"
    }
}

// IsConnected is true for CONNECTED and RECONNECTED.
func (s ConnectionState) IsConnected() bool { return s == StateConnected || s == StateReconnected }

// Stat describes a node.
type Stat struct {
    Version        int64
    CreateRevision int64
    ModRevision    int64
    // Owner is the session that owns an ephemeral node, 0 for persistent nodes.
    Owner int64
}

// ChildEntry is a child path with its payload.
type ChildEntry struct {
    Path string
    Data []byte
    Stat Stat
}

type NodeEventType int

const (
    NodeCreated NodeEventType = iota + 1
    NodeDeleted
    NodeDataChanged
)

func (t NodeEventType) String() string {
    switch t {
    case NodeCreated:
        return "created"
    case NodeDeleted:
        return "deleted"
    case NodeDataChanged:
        return "data_changed"
    default:
        return "unknown"
    }
}

// NodeEvent is delivered by an existence watch.
type NodeEvent struct {
    Type NodeEventType
    Path string
}

type ChildEventType int

const (
    ChildAdded ChildEventType = iota + 1
    ChildUpdated
    ChildRemoved
)

func (t ChildEventType) String() string {
    switch t {
    case ChildAdded:
        return "added"
    case ChildUpdated:
        return "updated"
    case ChildRemoved:
        return "removed"
    default:
        return "unknown"
    }
}

// ChildEvent is delivered by a children watch. For removals Entry carries
// the last known payload.
type ChildEvent struct {
    Type  ChildEventType
    Entry ChildEntry
}

// StateListener receives connection state transitions. It is invoked from
// the client's notification goroutine and must not block.
type StateListener func(ConnectionState)

// Client is the store surface used by the primitives.
type Client interface {
    // Create makes a node and returns its actual path, which differs from
    // path for sequential modes.
    Create(ctx context.Context, path string, data []byte, mode CreateMode) (string, error)
    Delete(ctx context.Context, path string) error
    // Exists returns nil, nil when the node does not exist.
    Exists(ctx context.Context, path string) (*Stat, error)
    // ExistsW is Exists plus a one-shot watch. The channel yields at most
    // one event and is closed afterwards or when ctx ends.
    ExistsW(ctx context.Context, path string) (*Stat, <-chan NodeEvent, error)
    GetData(ctx context.Context, path string) ([]byte, *Stat, error)
    SetData(ctx context.Context, path string, data []byte) (*Stat, error)
    Children(ctx context.Context, path string) ([]ChildEntry, error)
    // ChildrenW returns the current children and a stream of changes that
    // happened after the snapshot. The stream is closed when ctx ends or
    // when the watch breaks; callers re-list to recover.
    ChildrenW(ctx context.Context, path string) ([]ChildEntry, <-chan ChildEvent, error)

    State() ConnectionState
    // SessionID identifies the current session; it changes after LOST.
    SessionID() int64
    AddStateListener(l StateListener) (remove func())

    NewLeadershipMutex(path, id string, l LeadershipListener) (LeadershipMutex, error)

    Close() error
}

// DefaultOpTimeout bounds single store calls issued from background loops.
const DefaultOpTimeout = 10 * time.Second
