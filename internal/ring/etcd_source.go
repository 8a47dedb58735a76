package ring

import (
	"context"
	"encoding/json"
	"fmt"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// wireSnapshot is the JSON shape the placement service publishes at a
// single known key; EtcdSource decodes it into a Snapshot.
type wireSnapshot struct {
	Version      int64             `json:"version"`
	Algorithm    string            `json:"algorithm"`
	HashInterval uint64            `json:"hash_interval"`
	VnodeToPnode map[string]string `json:"vnode_to_pnode"`
}

// EtcdSource fetches ring snapshots from the upstream placement
// service's published key, as named in SPEC_FULL §4.1/§3 DOMAIN STACK.
type EtcdSource struct {
	Client *clientv3.Client
	Key    string
}

func (s *EtcdSource) Fetch(ctx context.Context) (*Snapshot, error) {
	resp, err := s.Client.Get(ctx, s.Key)
	if err != nil {
		return nil, fmt.Errorf("ring: etcd get %q: %w", s.Key, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, fmt.Errorf("ring: no placement data published at %q", s.Key)
	}

	var wire wireSnapshot
	if err := json.Unmarshal(resp.Kvs[0].Value, &wire); err != nil {
		return nil, fmt.Errorf("ring: decode placement snapshot: %w", err)
	}
	if wire.HashInterval == 0 {
		return nil, fmt.Errorf("ring: published snapshot has zero hash_interval")
	}

	snap := &Snapshot{
		Version:       wire.Version,
		Algorithm:     wire.Algorithm,
		HashInterval:  wire.HashInterval,
		VnodeToPnode:  make(map[uint64]string, len(wire.VnodeToPnode)),
		PnodeToVnodes: make(map[string][]uint64),
	}
	for vnodeStr, pnode := range wire.VnodeToPnode {
		var vnode uint64
		if _, err := fmt.Sscanf(vnodeStr, "%d", &vnode); err != nil {
			return nil, fmt.Errorf("ring: invalid vnode key %q: %w", vnodeStr, err)
		}
		snap.VnodeToPnode[vnode] = pnode
		snap.PnodeToVnodes[pnode] = append(snap.PnodeToVnodes[pnode], vnode)
	}
	return snap, nil
}
