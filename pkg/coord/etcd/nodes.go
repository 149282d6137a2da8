package etcd

import (
    "context"
    "fmt"
    "sort"

    "go.etcd.io/etcd/api/v3/mvccpb"
    clientv3 "go.etcd.io/etcd/client/v3"

    "github.com/amirimatin/go-coord/pkg/coord"
    "github.com/amirimatin/go-coord/pkg/observability/tracing"
)

func statOf(kv *mvccpb.KeyValue) *coord.Stat {
    return &coord.Stat{
        Version:        kv.Version,
        CreateRevision: kv.CreateRevision,
        ModRevision:    kv.ModRevision,
        Owner:          kv.Lease,
    }
}

func (c *Client) checkOpen() error {
    if c.isClosed() { return coord.ErrClosed }
    return nil
}

func (c *Client) Create(ctx context.Context, path string, data []byte, mode coord.CreateMode) (string, error) {
    if err := coord.ValidatePath(path); err != nil { return "", err }
    if path == "/" { return "", fmt.Errorf("%w: %s", coord.ErrNodeExists, path) }
    if err := c.checkOpen(); err != nil { return "", err }
    ctx, end := tracing.StartSpan(ctx, "coord.etcd.create")
    defer end()

    var putOpts []clientv3.OpOption
    if mode.IsEphemeral() {
        s, err := c.currentSession()
        if err != nil { return "", err }
        putOpts = append(putOpts, clientv3.WithLease(s.Lease()))
    }
    parent := coord.ParentPath(path)
    for {
        var cmps []clientv3.Cmp
        var elseOps []clientv3.Op
        if parent != "/" {
            cmps = append(cmps, clientv3.Compare(clientv3.CreateRevision(c.key(parent)), ">", 0))
            elseOps = append(elseOps, clientv3.OpGet(c.key(parent)))
        }
        actual := path
        var seq int64
        if mode.IsSequential() {
            resp, err := c.cli.Get(ctx, c.seqKey(parent))
            if err != nil { return "", mapErr(err) }
            if len(resp.Kvs) > 0 { seq = resp.Kvs[0].Version }
            actual = path + fmt.Sprintf(coord.SequenceFormat, seq)
            cmps = append(cmps, clientv3.Compare(clientv3.Version(c.seqKey(parent)), "=", seq))
            elseOps = append(elseOps, clientv3.OpGet(c.seqKey(parent)))
        }
        cmps = append(cmps, clientv3.Compare(clientv3.CreateRevision(c.key(actual)), "=", 0))
        thenOps := []clientv3.Op{clientv3.OpPut(c.key(actual), string(data), putOpts...)}
        if mode.IsSequential() { thenOps = append(thenOps, clientv3.OpPut(c.seqKey(parent), "")) }

        resp, err := c.cli.Txn(ctx).If(cmps...).Then(thenOps...).Else(elseOps...).Commit()
        if err != nil { return "", mapErr(err) }
        if resp.Succeeded { return actual, nil }

        i := 0
        if parent != "/" {
            pr := resp.Responses[i].GetResponseRange()
            if len(pr.Kvs) == 0 { return "", fmt.Errorf("%w: %s", coord.ErrNoParent, parent) }
            if pr.Kvs[0].Lease != 0 { return "", fmt.Errorf("%w: %s", coord.ErrEphemeralParent, parent) }
            i++
        }
        if mode.IsSequential() {
            sr := resp.Responses[i].GetResponseRange()
            var now int64
            if len(sr.Kvs) > 0 { now = sr.Kvs[0].Version }
            if now != seq { continue }
        }
        return "", fmt.Errorf("%w: %s", coord.ErrNodeExists, actual)
    }
}

func (c *Client) Delete(ctx context.Context, path string) error {
    if err := coord.ValidatePath(path); err != nil { return err }
    if path == "/" { return fmt.Errorf("%w: cannot delete root", coord.ErrInvalidPath) }
    if err := c.checkOpen(); err != nil { return err }
    ctx, end := tracing.StartSpan(ctx, "coord.etcd.delete")
    defer end()

    kids, err := c.cli.Get(ctx, c.key(path)+"/", clientv3.WithPrefix(), clientv3.WithCountOnly())
    if err != nil { return mapErr(err) }
    if kids.Count > 0 { return fmt.Errorf("%w: %s", coord.ErrNotEmpty, path) }
    resp, err := c.cli.Txn(ctx).
        If(clientv3.Compare(clientv3.CreateRevision(c.key(path)), ">", 0)).
        Then(clientv3.OpDelete(c.key(path)), clientv3.OpDelete(c.seqKey(path))).
        Commit()
    if err != nil { return mapErr(err) }
    if !resp.Succeeded { return fmt.Errorf("%w: %s", coord.ErrNoNode, path) }
    return nil
}

func (c *Client) Exists(ctx context.Context, path string) (*coord.Stat, error) {
    if err := coord.ValidatePath(path); err != nil { return nil, err }
    if err := c.checkOpen(); err != nil { return nil, err }
    if path == "/" { return &coord.Stat{}, nil }
    resp, err := c.cli.Get(ctx, c.key(path))
    if err != nil { return nil, mapErr(err) }
    if len(resp.Kvs) == 0 { return nil, nil }
    return statOf(resp.Kvs[0]), nil
}

func (c *Client) GetData(ctx context.Context, path string) ([]byte, *coord.Stat, error) {
    if err := coord.ValidatePath(path); err != nil { return nil, nil, err }
    if err := c.checkOpen(); err != nil { return nil, nil, err }
    resp, err := c.cli.Get(ctx, c.key(path))
    if err != nil { return nil, nil, mapErr(err) }
    if len(resp.Kvs) == 0 { return nil, nil, fmt.Errorf("%w: %s", coord.ErrNoNode, path) }
    return resp.Kvs[0].Value, statOf(resp.Kvs[0]), nil
}

// SetData rewrites the payload, keeping an ephemeral node bound to its lease.
func (c *Client) SetData(ctx context.Context, path string, data []byte) (*coord.Stat, error) {
    if err := coord.ValidatePath(path); err != nil { return nil, err }
    if err := c.checkOpen(); err != nil { return nil, err }
    for {
        cur, err := c.cli.Get(ctx, c.key(path))
        if err != nil { return nil, mapErr(err) }
        if len(cur.Kvs) == 0 { return nil, fmt.Errorf("%w: %s", coord.ErrNoNode, path) }
        kv := cur.Kvs[0]
        var opts []clientv3.OpOption
        if kv.Lease != 0 { opts = append(opts, clientv3.WithLease(clientv3.LeaseID(kv.Lease))) }
        resp, err := c.cli.Txn(ctx).
            If(clientv3.Compare(clientv3.ModRevision(c.key(path)), "=", kv.ModRevision)).
            Then(clientv3.OpPut(c.key(path), string(data), opts...), clientv3.OpGet(c.key(path))).
            Commit()
        if err != nil { return nil, mapErr(err) }
        if !resp.Succeeded { continue }
        got := resp.Responses[1].GetResponseRange()
        if len(got.Kvs) == 0 { return nil, fmt.Errorf("%w: %s", coord.ErrNoNode, path) }
        return statOf(got.Kvs[0]), nil
    }
}

func (c *Client) Children(ctx context.Context, path string) ([]coord.ChildEntry, error) {
    kids, _, err := c.listChildren(ctx, path)
    return kids, err
}

// listChildren returns direct children and the revision of the snapshot.
func (c *Client) listChildren(ctx context.Context, path string) ([]coord.ChildEntry, int64, error) {
    if err := coord.ValidatePath(path); err != nil { return nil, 0, err }
    if err := c.checkOpen(); err != nil { return nil, 0, err }
    prefix := c.key(path) + "/"
    ops := []clientv3.Op{clientv3.OpGet(prefix, clientv3.WithPrefix())}
    if path != "/" { ops = append(ops, clientv3.OpGet(c.key(path), clientv3.WithCountOnly())) }
    resp, err := c.cli.Txn(ctx).Then(ops...).Commit()
    if err != nil { return nil, 0, mapErr(err) }
    if path != "/" && resp.Responses[1].GetResponseRange().Count == 0 {
        return nil, 0, fmt.Errorf("%w: %s", coord.ErrNoNode, path)
    }
    var out []coord.ChildEntry
    for _, kv := range resp.Responses[0].GetResponseRange().Kvs {
        p := c.pathOf(string(kv.Key))
        if !coord.IsDirectChild(path, p) { continue }
        out = append(out, coord.ChildEntry{Path: p, Data: kv.Value, Stat: *statOf(kv)})
    }
    sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
    return out, resp.Header.Revision, nil
}
