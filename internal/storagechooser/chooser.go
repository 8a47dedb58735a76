// Package storagechooser is a minimal static implementation of
// pipeline.StorageChooser (spec.md §1 Out of scope: "storage-node
// inventory/health is an external collaborator"). It rotates through a
// fixed node list to build failover candidate sets, grounded in
// minio's own round-robin disk-set construction shape.
package storagechooser

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/synapsestore/objectgw/internal/apierrors"
	"github.com/synapsestore/objectgw/internal/model"
	"github.com/synapsestore/objectgw/internal/shark"
)

// Static holds a fixed storage-node inventory and rotates through it.
type Static struct {
	nodes []shark.Descriptor
	next  atomic.Uint64
}

// ParseNodes parses the "datacenter,storage_id,base_url" entries
// internal/config.Config.StorageNodes carries.
func ParseNodes(entries []string) ([]shark.Descriptor, error) {
	out := make([]shark.Descriptor, 0, len(entries))
	for _, e := range entries {
		parts := strings.Split(e, ",")
		if len(parts) != 3 {
			return nil, fmt.Errorf("storagechooser: malformed node entry %q, want datacenter,storage_id,base_url", e)
		}
		out = append(out, shark.Descriptor{
			Datacenter: strings.TrimSpace(parts[0]),
			StorageID:  strings.TrimSpace(parts[1]),
			BaseURL:    strings.TrimSpace(parts[2]),
		})
	}
	return out, nil
}

// New builds a Static chooser over nodes.
func New(nodes []shark.Descriptor) *Static {
	return &Static{nodes: nodes}
}

// Choose returns up to 3 candidate sets of replicas nodes each, rotated
// so repeated calls spread load and a caller can fail over to the next
// set if the first set can't satisfy the write.
func (s *Static) Choose(ctx context.Context, replicas int) ([][]shark.Descriptor, error) {
	if replicas <= 0 || len(s.nodes) < replicas {
		return nil, fmt.Errorf("storagechooser: need %d nodes, have %d", replicas, len(s.nodes))
	}
	const maxSets = 3
	sets := make([][]shark.Descriptor, 0, maxSets)
	for i := 0; i < maxSets; i++ {
		start := int(s.next.Add(uint64(replicas))) % len(s.nodes)
		set := make([]shark.Descriptor, 0, replicas)
		seen := map[string]bool{}
		for j := 0; len(set) < replicas && j < len(s.nodes); j++ {
			n := s.nodes[(start+j)%len(s.nodes)]
			if seen[n.StorageID] {
				continue
			}
			seen[n.StorageID] = true
			set = append(set, n)
		}
		if len(set) == replicas {
			sets = append(sets, set)
		}
	}
	if len(sets) == 0 {
		return nil, fmt.Errorf("storagechooser: could not assemble a candidate set")
	}
	return sets, nil
}

// Resolve looks up the current Descriptor for a previously-written
// model.Shark by storage id.
func (s *Static) Resolve(ctx context.Context, sh model.Shark) (shark.Descriptor, error) {
	for _, n := range s.nodes {
		if n.StorageID == sh.StorageID && n.Datacenter == sh.Datacenter {
			return n, nil
		}
	}
	return shark.Descriptor{}, apierrors.Internal(fmt.Errorf("storagechooser: unknown storage node %s/%s", sh.Datacenter, sh.StorageID))
}
