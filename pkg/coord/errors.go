package coord

import (
    "context"
    "errors"

    "google.golang.org/grpc/codes"
    "google.golang.org/grpc/status"
)

var (
    ErrNoNode          = errors.New("coord: node does not exist")
    ErrNodeExists      = errors.New("coord: node already exists")
    ErrNotEmpty        = errors.New("coord: node has children")
    ErrNoParent        = errors.New("coord: parent node does not exist")
    ErrEphemeralParent = errors.New("coord: ephemeral nodes cannot have children")
    ErrConnectionLoss  = errors.New("coord: connection to store lost")
    ErrSessionExpired  = errors.New("coord: session expired")
    ErrClosed          = errors.New("coord: client closed")
    ErrInvalidPath     = errors.New("coord: invalid path")
    ErrMutexStarted    = errors.New("coord: leadership mutex already started")
)

// IsRetryable reports whether err is a transient connectivity failure that
// the caller should retry once the connection recovers.
func IsRetryable(err error) bool {
    if err == nil { return false }
    if errors.Is(err, ErrConnectionLoss) || errors.Is(err, ErrSessionExpired) { return true }
    if errors.Is(err, context.DeadlineExceeded) { return true }
    if s, ok := status.FromError(err); ok {
        switch s.Code() {
        case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
            return true
        }
    }
    return false
}
