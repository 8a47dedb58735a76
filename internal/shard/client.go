// Package shard is the RPC client pool fronting the metadata shard
// servers. Construction happens once at startup from the pnodes
// present in the initial ring snapshot; a lookup for a pnode dialed at
// startup is an O(1) map read, and a pnode missing from the pool is
// dialed on demand by Get.
package shard

import (
	"context"
	"fmt"
	"sync"

	"github.com/synapsestore/objectgw/internal/model"
)

// PageResult is one page of a shard listing RPC.
type PageResult struct {
	Records []ListEntry
	Full    bool // true iff the page returned exactly the requested limit
}

// ListEntry is a single record returned by a shard listing RPC, prior
// to merge/group processing.
type ListEntry struct {
	Name     string
	IsBucket bool
	Bucket   model.Bucket
	Object   model.Object
}

// Client is the RPC surface the gateway needs from one metadata shard.
// The wire protocol itself is an external collaborator (SPEC_FULL §1);
// this interface is what the pipeline depends on.
type Client interface {
	GetBucket(ctx context.Context, owner, name string) (model.Bucket, error)
	CreateBucket(ctx context.Context, owner, name string) (model.Bucket, error)
	DeleteBucket(ctx context.Context, owner, bucketID string) error
	ListBucketsPage(ctx context.Context, owner, marker string, limit int) (PageResult, error)

	GetObject(ctx context.Context, bucketID, name string, cond model.Conditions) (model.Object, error)
	CreateObject(ctx context.Context, obj model.Object, cond model.Conditions) (model.Object, error)
	DeleteObject(ctx context.Context, bucketID, objectID string) error
	UpdateObject(ctx context.Context, bucketID, objectID string, headers map[string]string) (model.Object, error)
	ListObjectsPage(ctx context.Context, bucketID, prefix, marker string, limit int) (PageResult, error)
}

// Pool holds one long-lived client per pnode, keyed by pnode id.
type Pool struct {
	mu      sync.RWMutex
	clients map[string]Client
	dial    func(pnode string) (Client, error)
}

// NewPool builds a pool by dialing every pnode in pnodes up front. A
// dial failure for any single pnode does not prevent the pool from
// starting; Get dials that pnode again on each request for it, and
// surfaces a per-request error until one of those dials succeeds.
func NewPool(pnodes []string, dial func(pnode string) (Client, error)) *Pool {
	p := &Pool{clients: make(map[string]Client, len(pnodes)), dial: dial}
	for _, pnode := range pnodes {
		if c, err := dial(pnode); err == nil {
			p.clients[pnode] = c
		}
	}
	return p
}

// Get returns the client for pnode, dialing lazily if it was not
// reachable at startup. No client creation occurs once warm.
func (p *Pool) Get(pnode string) (Client, error) {
	p.mu.RLock()
	c, ok := p.clients[pnode]
	p.mu.RUnlock()
	if ok {
		return c, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.clients[pnode]; ok {
		return c, nil
	}
	c, err := p.dial(pnode)
	if err != nil {
		return nil, fmt.Errorf("shard: pnode %q unreachable: %w", pnode, err)
	}
	p.clients[pnode] = c
	return c, nil
}
