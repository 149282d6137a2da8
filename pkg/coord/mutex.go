package coord

import "context"

// Participant is a candidate in a leadership election.
type Participant struct {
    ID     string `json:"id"`
    Leader bool   `json:"leader"`
}

// LeadershipListener is notified by a LeadershipMutex.
type LeadershipListener interface {
    // TakeLeadership is called while this instance holds leadership and
    // leadership is held until it returns. ctx is cancelled when the
    // session backing the term is invalidated or the mutex is closed.
    TakeLeadership(ctx context.Context)
    // StateChanged forwards client connection transitions. It is called
    // from a different goroutine than TakeLeadership and must not block.
    StateChanged(state ConnectionState)
}

// LeadershipMutex grants mutual exclusion among competing instances. After
// Start the instance requeues itself whenever TakeLeadership returns, until
// Close.
type LeadershipMutex interface {
    Start() error
    Close() error
    ID() string
    // HasLeadership is the locally cached view.
    HasLeadership() bool
    // Participants polls the store; ordered by queue position, leader first.
    Participants(ctx context.Context) ([]Participant, error)
    // Leader returns the zero Participant when nobody holds leadership.
    Leader(ctx context.Context) (Participant, error)
}
