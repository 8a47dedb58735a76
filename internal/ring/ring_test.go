package ring

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func testSnapshot() *Snapshot {
	return &Snapshot{
		Version:      1,
		Algorithm:    "xxhash",
		HashInterval: ^uint64(0)/3 + 1, // three vnodes cover the whole 64-bit hash space
		VnodeToPnode: map[uint64]string{
			0: "pnode-a",
			1: "pnode-b",
			2: "pnode-c",
		},
		PnodeToVnodes: map[string][]uint64{
			"pnode-a": {0},
			"pnode-b": {1},
			"pnode-c": {2},
		},
	}
}

func TestLocateIsStable(t *testing.T) {
	snap := testSnapshot()
	key := "owner1:bucket1"
	first, err := snap.Locate(key)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 100; i++ {
		again, err := snap.Locate(key)
		if err != nil {
			t.Fatal(err)
		}
		if again != first {
			t.Fatalf("locate(%q) not stable: %v != %v", key, again, first)
		}
	}
}

func TestLocateUnknownVnodeErrors(t *testing.T) {
	snap := testSnapshot()
	snap.HashInterval = 1 << 10 // small interval pushes most keys out of range
	delete(snap.VnodeToPnode, 0)
	delete(snap.VnodeToPnode, 1)
	delete(snap.VnodeToPnode, 2)
	if _, err := snap.Locate("owner1:bucket1"); err == nil {
		t.Fatal("expected error for vnode with no owning pnode")
	}
}

func TestObjectRoutingKeyUsesNameHash(t *testing.T) {
	k1 := ObjectRoutingKey("owner1", "bucket-id", "same-name")
	k2 := ObjectRoutingKey("owner1", "bucket-id", "same-name")
	if k1 != k2 {
		t.Fatal("routing key must be reproducible for the same inputs")
	}
	k3 := ObjectRoutingKey("owner1", "bucket-id", "different-name")
	if k1 == k3 {
		t.Fatal("distinct object names must not collide trivially")
	}
}

func TestAllVnodesEnumeratesEveryPair(t *testing.T) {
	snap := testSnapshot()
	locs := snap.AllVnodes()
	if len(locs) != len(snap.VnodeToPnode) {
		t.Fatalf("expected %d locations, got %d", len(snap.VnodeToPnode), len(locs))
	}
}

type fakeSource struct {
	fetches atomic.Int64
	snap    *Snapshot
	err     error
}

func (f *fakeSource) Fetch(ctx context.Context) (*Snapshot, error) {
	f.fetches.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.snap, nil
}

func TestNewFailsWhenInitialFetchFails(t *testing.T) {
	src := &fakeSource{err: errors.New("etcd unreachable")}
	if _, err := New(context.Background(), src, zap.NewNop()); err == nil {
		t.Fatal("expected error when the initial placement fetch fails")
	}
}

func TestRunRetainsPreviousSnapshotOnRefreshFailure(t *testing.T) {
	good := testSnapshot()
	src := &fakeSource{snap: good}
	r, err := New(context.Background(), src, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if r.Current() != good {
		t.Fatal("expected the initial snapshot to be live")
	}

	src.err = errors.New("etcd unreachable")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx, 5*time.Millisecond)
		close(done)
	}()

	deadline := time.Now().Add(500 * time.Millisecond)
	for src.fetches.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	if r.Current() != good {
		t.Fatal("expected the previous snapshot to be retained after refresh failures")
	}
}
