package metrics

import (
    "sync"

    "github.com/prometheus/client_golang/prometheus"
)

var (
    once sync.Once

    ConnectionState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
        Namespace: "go_coord",
        Name:      "connection_state",
        Help:      "1 for the current store connection state, 0 for the others",
    }, []string{"state"})

    NodeCreates = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "go_coord",
        Subsystem: "node",
        Name:      "creates_total",
        Help:      "Persistent node create attempts by result",
    }, []string{"result"})

    NodesActive = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: "go_coord",
        Subsystem: "node",
        Name:      "active",
        Help:      "Persistent nodes currently bound to a live store node",
    })

    IsLeader = prometheus.NewGaugeVec(prometheus.GaugeOpts{
        Namespace: "go_coord",
        Name:      "is_leader",
        Help:      "1 if this process runs the delegate for the election path, else 0",
    }, []string{"path"})

    LeaderTerms = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "go_coord",
        Name:      "leader_terms_total",
        Help:      "Leadership terms in which a delegate task was started",
    }, []string{"path"})

    DelegateFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "go_coord",
        Name:      "delegate_failures_total",
        Help:      "Delegate tasks that failed to start, stop or run",
    }, []string{"path"})

    Members = prometheus.NewGaugeVec(prometheus.GaugeOpts{
        Namespace: "go_coord",
        Subsystem: "membership",
        Name:      "members",
        Help:      "Current number of entries in a membership cache",
    }, []string{"path"})

    MembershipEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "go_coord",
        Subsystem: "membership",
        Name:      "events_total",
        Help:      "Membership events delivered to listeners by type",
    }, []string{"path", "type"})

    ParseErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "go_coord",
        Subsystem: "membership",
        Name:      "parse_errors_total",
        Help:      "Child payloads the parser rejected",
    }, []string{"path"})

    // gRPC management client connection pool
    GRPCConnDials = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "go_coord",
        Subsystem: "mgmt_grpc",
        Name:      "conn_dials_total",
        Help:      "Management connections dialed",
    })
    GRPCConnReuse = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "go_coord",
        Subsystem: "mgmt_grpc",
        Name:      "conn_reuse_total",
        Help:      "Dials discarded in favour of a connection cached concurrently",
    })
    GRPCConnEvictions = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "go_coord",
        Subsystem: "mgmt_grpc",
        Name:      "conn_evictions_total",
        Help:      "Idle management connections closed",
    })
    GRPCConnActive = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: "go_coord",
        Subsystem: "mgmt_grpc",
        Name:      "conn_active",
        Help:      "Cached management connections",
    })
)

// Register registers metrics into the default Prometheus registry (idempotent).
func Register() {
    once.Do(func() {
        prometheus.MustRegister(ConnectionState)
        prometheus.MustRegister(NodeCreates)
        prometheus.MustRegister(NodesActive)
        prometheus.MustRegister(IsLeader)
        prometheus.MustRegister(LeaderTerms)
        prometheus.MustRegister(DelegateFailures)
        prometheus.MustRegister(Members)
        prometheus.MustRegister(MembershipEvents)
        prometheus.MustRegister(ParseErrors)
        prometheus.MustRegister(GRPCConnDials, GRPCConnReuse, GRPCConnEvictions, GRPCConnActive)
    })
}

// SetConnectionState flags state as the current one.
func SetConnectionState(state string) {
    for _, s := range []string{"CONNECTED", "SUSPENDED", "LOST", "RECONNECTED"} {
        v := 0.0
        if s == state { v = 1 }
        ConnectionState.WithLabelValues(s).Set(v)
    }
}
