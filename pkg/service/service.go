// Package service models the lifecycle of a unit of work that is started
// once and stopped once. State moves forward only:
//
//  NEW -> STARTING -> RUNNING -> STOPPING -> TERMINATED
//
// with FAILED reachable from STARTING, RUNNING and STOPPING.
package service

import (
    "context"
    "errors"
    "fmt"
    "sync"
    "time"
)

// State is a lifecycle phase.
type State int

const (
    New State = iota
    Starting
    Running
    Stopping
    Terminated
    Failed
)

func (s State) String() string {
    switch s {
    case New:
        return "NEW"
    case Starting:
        return "STARTING"
    case Running:
        return "RUNNING"
    case Stopping:
        return "STOPPING"
    case Terminated:
        return "TERMINATED"
    case Failed:
        return "FAILED"
    default:
        return "UNKNOWN"
    }
}

// IsTerminal reports whether no further transitions are possible.
func (s State) IsTerminal() bool { return s == Terminated || s == Failed }

var ErrIllegalState = errors.New("service: illegal state transition")

// Service is implemented by tasks run under leadership.
type Service interface {
    // Start blocks until the service is RUNNING or FAILED.
    Start(ctx context.Context) error
    // Stop blocks until the service is TERMINATED or FAILED. Stopping a
    // service that was never started moves it straight to TERMINATED.
    Stop(ctx context.Context) error
    State() State
    // Done is closed when the service reaches a terminal state.
    Done() <-chan struct{}
    // Err is the failure cause once FAILED.
    Err() error
}

// Hooks are the pieces of behavior a Runner composes. All are optional.
type Hooks struct {
    StartUp func(ctx context.Context) error
    // Run executes in its own goroutine once RUNNING. Its ctx is cancelled
    // by Stop. Returning ends the service.
    Run      func(ctx context.Context) error
    ShutDown func(ctx context.Context) error
}

// Listener observes transitions. It runs synchronously and must not call
// back into the Runner.
type Listener func(from, to State)

// Runner is a Service driven by Hooks.
type Runner struct {
    name  string
    hooks Hooks

    mu        sync.Mutex
    state     State
    err       error
    done      chan struct{}
    started   chan struct{} // closed when leaving STARTING
    runCancel context.CancelFunc
    listeners []Listener
}

// NewRunner returns a Runner in state NEW.
func NewRunner(name string, hooks Hooks) *Runner {
    return &Runner{name: name, hooks: hooks, done: make(chan struct{}), started: make(chan struct{})}
}

// NewIdle returns a service with no work of its own between start and stop.
func NewIdle(name string, startUp, shutDown func(ctx context.Context) error) *Runner {
    return NewRunner(name, Hooks{StartUp: startUp, ShutDown: shutDown})
}

// NewScheduled returns a service that calls fn every interval while
// running. An error from fn fails the service.
func NewScheduled(name string, interval time.Duration, fn func(ctx context.Context) error) *Runner {
    return NewRunner(name, Hooks{Run: func(ctx context.Context) error {
        t := time.NewTicker(interval)
        defer t.Stop()
        for {
            if err := fn(ctx); err != nil { return err }
            select {
            case <-ctx.Done():
                return nil
            case <-t.C:
            }
        }
    }})
}

func (r *Runner) Name() string { return r.name }

func (r *Runner) String() string { return fmt.Sprintf("%s [%s]", r.name, r.State()) }

// OnTransition registers l for subsequent transitions.
func (r *Runner) OnTransition(l Listener) {
    r.mu.Lock()
    r.listeners = append(r.listeners, l)
    r.mu.Unlock()
}

func (r *Runner) State() State {
    r.mu.Lock()
    defer r.mu.Unlock()
    return r.state
}

// IsRunning is shorthand for State() == Running.
func (r *Runner) IsRunning() bool { return r.State() == Running }

func (r *Runner) Done() <-chan struct{} { return r.done }

func (r *Runner) Err() error {
    r.mu.Lock()
    defer r.mu.Unlock()
    return r.err
}

// transition must be called with r.mu held; the returned func notifies
// listeners and must be called after unlocking.
func (r *Runner) transition(to State, err error) func() {
    from := r.state
    r.state = to
    if to == Failed { r.err = err }
    if from == Starting { close(r.started) }
    if to.IsTerminal() { close(r.done) }
    ls := append([]Listener(nil), r.listeners...)
    return func() {
        for _, l := range ls { l(from, to) }
    }
}

func (r *Runner) Start(ctx context.Context) error {
    r.mu.Lock()
    if r.state != New {
        s := r.state
        r.mu.Unlock()
        return fmt.Errorf("%w: %s cannot start from %s", ErrIllegalState, r.name, s)
    }
    notify := r.transition(Starting, nil)
    r.mu.Unlock()
    notify()

    if r.hooks.StartUp != nil {
        if err := safeCall(ctx, r.hooks.StartUp); err != nil {
            err = fmt.Errorf("%s: start up: %w", r.name, err)
            r.mu.Lock()
            notify := r.transition(Failed, err)
            r.mu.Unlock()
            notify()
            return err
        }
    }

    r.mu.Lock()
    notify = r.transition(Running, nil)
    if r.hooks.Run != nil {
        runCtx, cancel := context.WithCancel(context.Background())
        r.runCancel = cancel
        go r.run(runCtx)
    }
    r.mu.Unlock()
    notify()
    return nil
}

func (r *Runner) run(ctx context.Context) {
    err := safeCall(ctx, r.hooks.Run)
    if errors.Is(err, context.Canceled) && ctx.Err() != nil { err = nil }
    r.mu.Lock()
    notify := func() {}
    if r.state == Running { notify = r.transition(Stopping, nil) }
    r.mu.Unlock()
    notify()
    r.finish(context.Background(), err)
}

// finish runs ShutDown and moves from STOPPING to a terminal state.
func (r *Runner) finish(ctx context.Context, runErr error) {
    var err error
    if runErr != nil { err = fmt.Errorf("%s: run: %w", r.name, runErr) }
    if r.hooks.ShutDown != nil {
        if sErr := safeCall(ctx, r.hooks.ShutDown); sErr != nil && err == nil {
            err = fmt.Errorf("%s: shut down: %w", r.name, sErr)
        }
    }
    r.mu.Lock()
    var notify func()
    if err != nil {
        notify = r.transition(Failed, err)
    } else {
        notify = r.transition(Terminated, nil)
    }
    r.mu.Unlock()
    notify()
}

func (r *Runner) Stop(ctx context.Context) error {
    r.mu.Lock()
    switch r.state {
    case New:
        notify := r.transition(Terminated, nil)
        r.mu.Unlock()
        notify()
        return nil
    case Starting:
        started := r.started
        r.mu.Unlock()
        select {
        case <-started:
        case <-ctx.Done():
            return ctx.Err()
        }
        return r.Stop(ctx)
    case Running:
        notify := r.transition(Stopping, nil)
        cancel := r.runCancel
        r.mu.Unlock()
        notify()
        if cancel != nil {
            // the run goroutine finishes the service
            cancel()
        } else {
            r.finish(ctx, nil)
        }
    default:
        r.mu.Unlock()
    }
    select {
    case <-r.done:
    case <-ctx.Done():
        return ctx.Err()
    }
    return r.Err()
}

func safeCall(ctx context.Context, fn func(context.Context) error) (err error) {
    defer func() {
        if p := recover(); p != nil { err = fmt.Errorf("panic: %v", p) }
    }()
    return fn(ctx)
}
