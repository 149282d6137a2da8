// Package transport defines the management API shared by the HTTP server
// and the client used by coordctl.
package transport

import "context"

type NodeStatus struct {
    Path   string `json:"path"`
    Actual string `json:"actual,omitempty"`
}

type LeaderStatus struct {
    Path          string `json:"path"`
    ID            string `json:"id"`
    HasLeadership bool   `json:"hasLeadership"`
    Leader        string `json:"leader,omitempty"`
    State         string `json:"state"`
}

type MembersStatus struct {
    Path  string `json:"path"`
    Count int    `json:"count"`
}

// Status is the /status document.
type Status struct {
    Store     string          `json:"store"`
    Endpoints []string        `json:"endpoints,omitempty"`
    Session   int64           `json:"session"`
    State     string          `json:"state"`
    Nodes     []NodeStatus    `json:"nodes,omitempty"`
    Leaders   []LeaderStatus  `json:"leaders,omitempty"`
    Members   []MembersStatus `json:"members,omitempty"`
}

// StatusFunc assembles the current status.
type StatusFunc func(ctx context.Context) (Status, error)

// HealthFunc returns nil when the process is healthy.
type HealthFunc func(ctx context.Context) error

// ManagementServer serves status, health and metrics.
type ManagementServer interface {
    Start(ctx context.Context, status StatusFunc, health HealthFunc) error
    Addr() string
    Stop(ctx context.Context) error
}

// ManagementClient queries a ManagementServer.
type ManagementClient interface {
    GetStatus(ctx context.Context, addr string) (Status, error)
    Healthz(ctx context.Context, addr string) error
}
