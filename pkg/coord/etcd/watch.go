package etcd

import (
    "context"

    clientv3 "go.etcd.io/etcd/client/v3"
    "go.uber.org/zap"

    "github.com/amirimatin/go-coord/pkg/coord"
)

func (c *Client) ExistsW(ctx context.Context, path string) (*coord.Stat, <-chan coord.NodeEvent, error) {
    if err := coord.ValidatePath(path); err != nil { return nil, nil, err }
    if err := c.checkOpen(); err != nil { return nil, nil, err }
    resp, err := c.cli.Get(ctx, c.key(path))
    if err != nil { return nil, nil, mapErr(err) }
    var st *coord.Stat
    if len(resp.Kvs) > 0 { st = statOf(resp.Kvs[0]) }

    wctx, cancel := context.WithCancel(clientv3.WithRequireLeader(ctx))
    wch := c.cli.Watch(wctx, c.key(path), clientv3.WithRev(resp.Header.Revision+1))
    out := make(chan coord.NodeEvent, 1)
    go func() {
        defer cancel()
        defer close(out)
        for wr := range wch {
            if err := wr.Err(); err != nil {
                c.log.Debug("exists watch ended", zap.String("path", path), zap.Error(err))
                return
            }
            for _, ev := range wr.Events {
                t := coord.NodeDataChanged
                switch {
                case ev.Type == clientv3.EventTypeDelete:
                    t = coord.NodeDeleted
                case ev.IsCreate():
                    t = coord.NodeCreated
                }
                out <- coord.NodeEvent{Type: t, Path: path}
                return
            }
        }
    }()
    return st, out, nil
}

func (c *Client) ChildrenW(ctx context.Context, path string) ([]coord.ChildEntry, <-chan coord.ChildEvent, error) {
    kids, rev, err := c.listChildren(ctx, path)
    if err != nil { return nil, nil, err }

    wctx, cancel := context.WithCancel(clientv3.WithRequireLeader(ctx))
    wch := c.cli.Watch(wctx, c.key(path)+"/", clientv3.WithPrefix(), clientv3.WithRev(rev+1), clientv3.WithPrevKV())
    out := make(chan coord.ChildEvent)
    go func() {
        defer cancel()
        defer close(out)
        for wr := range wch {
            if err := wr.Err(); err != nil {
                c.log.Warn("children watch broken", zap.String("path", path), zap.Error(err))
                return
            }
            for _, ev := range wr.Events {
                p := c.pathOf(string(ev.Kv.Key))
                if !coord.IsDirectChild(path, p) { continue }
                var ce coord.ChildEvent
                switch {
                case ev.Type == clientv3.EventTypeDelete:
                    ce.Type = coord.ChildRemoved
                    ce.Entry = coord.ChildEntry{Path: p}
                    if ev.PrevKv != nil {
                        ce.Entry.Data = ev.PrevKv.Value
                        ce.Entry.Stat = *statOf(ev.PrevKv)
                    }
                case ev.IsCreate():
                    ce.Type = coord.ChildAdded
                    ce.Entry = coord.ChildEntry{Path: p, Data: ev.Kv.Value, Stat: *statOf(ev.Kv)}
                default:
                    ce.Type = coord.ChildUpdated
                    ce.Entry = coord.ChildEntry{Path: p, Data: ev.Kv.Value, Stat: *statOf(ev.Kv)}
                }
                select {
                case out <- ce:
                case <-ctx.Done():
                    return
                }
            }
        }
    }()
    return kids, out, nil
}
