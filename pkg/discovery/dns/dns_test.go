package dns

import (
    "context"
    "errors"
    "net"
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
)

type fakeLookup struct {
    hosts map[string][]string
    srv   map[string][]*net.SRV
    calls int
}

func (f *fakeLookup) LookupHost(_ context.Context, host string) ([]string, error) {
    f.calls++
    if ips, ok := f.hosts[host]; ok { return ips, nil }
    return nil, &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
}

func (f *fakeLookup) LookupSRV(_ context.Context, service, proto, name string) (string, []*net.SRV, error) {
    f.calls++
    key := "_" + service + "._" + proto + "." + name
    if recs, ok := f.srv[key]; ok { return key, recs, nil }
    return "", nil, errors.New("no srv")
}

func TestParseSRVName(t *testing.T) {
    s, p, n, ok := parseSRVName("_etcd-client._tcp.example.com")
    assert.True(t, ok)
    assert.Equal(t, []string{"etcd-client", "tcp", "example.com"}, []string{s, p, n})
    _, _, _, ok = parseSRVName("bad.srv")
    assert.False(t, ok)
    _, _, _, ok = parseSRVName("_x.example.com")
    assert.False(t, ok)
}

func TestExpandSortsAndKeepsUnresolvable(t *testing.T) {
    l := &fakeLookup{hosts: map[string][]string{
        "zk.example.com": {"10.0.0.2", "10.0.0.1"},
    }}
    r := New(Options{
        Names:  []string{"zk.example.com:2181", "unknown.example.com:2181", "10.0.0.1:2181", "zk.example.com"},
        Lookup: l,
    })
    assert.Equal(t, []string{
        "10.0.0.1:2181",
        "10.0.0.1:2379",
        "10.0.0.2:2181",
        "10.0.0.2:2379",
        "unknown.example.com:2181",
    }, r.Endpoints())
}

func TestSRV(t *testing.T) {
    l := &fakeLookup{srv: map[string][]*net.SRV{
        "_etcd-client._tcp.example.com": {{Target: "e1.example.com.", Port: 2379}, {Target: "e2.example.com.", Port: 2379}},
    }}
    r := New(Options{Names: []string{"_etcd-client._tcp.example.com"}, Lookup: l})
    assert.Equal(t, []string{"e1.example.com:2379", "e2.example.com:2379"}, r.Endpoints())
}

func TestCachedForRefresh(t *testing.T) {
    l := &fakeLookup{hosts: map[string][]string{"h": {"10.0.0.1"}}}
    r := New(Options{Names: []string{"h:1"}, Lookup: l, Refresh: time.Hour})
    r.Endpoints()
    r.Endpoints()
    assert.Equal(t, 1, l.calls)
}
