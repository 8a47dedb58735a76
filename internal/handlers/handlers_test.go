package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/synapsestore/objectgw/internal/config"
	"github.com/synapsestore/objectgw/internal/metrics"
	"github.com/synapsestore/objectgw/internal/model"
	"github.com/synapsestore/objectgw/internal/pipeline"
	"github.com/synapsestore/objectgw/internal/ring"
	"github.com/synapsestore/objectgw/internal/shard"
	"github.com/synapsestore/objectgw/internal/shark"
	"github.com/synapsestore/objectgw/internal/throttle"
)

type fakeShardClient struct {
	getBucket    func(ctx context.Context, owner, name string) (model.Bucket, error)
	createBucket func(ctx context.Context, owner, name string) (model.Bucket, error)
	deleteBucket func(ctx context.Context, owner, bucketID string) error
	getObject    func(ctx context.Context, bucketID, name string, cond model.Conditions) (model.Object, error)
	createObject func(ctx context.Context, obj model.Object, cond model.Conditions) (model.Object, error)
	deleteObject func(ctx context.Context, bucketID, objectID string) error
	updateObject func(ctx context.Context, bucketID, objectID string, headers map[string]string) (model.Object, error)
	listBuckets  func(ctx context.Context, owner, marker string, limit int) (shard.PageResult, error)
	listObjects  func(ctx context.Context, bucketID, prefix, marker string, limit int) (shard.PageResult, error)
}

func (f *fakeShardClient) GetBucket(ctx context.Context, owner, name string) (model.Bucket, error) {
	return f.getBucket(ctx, owner, name)
}
func (f *fakeShardClient) CreateBucket(ctx context.Context, owner, name string) (model.Bucket, error) {
	return f.createBucket(ctx, owner, name)
}
func (f *fakeShardClient) DeleteBucket(ctx context.Context, owner, bucketID string) error {
	return f.deleteBucket(ctx, owner, bucketID)
}
func (f *fakeShardClient) ListBucketsPage(ctx context.Context, owner, marker string, limit int) (shard.PageResult, error) {
	return f.listBuckets(ctx, owner, marker, limit)
}
func (f *fakeShardClient) GetObject(ctx context.Context, bucketID, name string, cond model.Conditions) (model.Object, error) {
	return f.getObject(ctx, bucketID, name, cond)
}
func (f *fakeShardClient) CreateObject(ctx context.Context, obj model.Object, cond model.Conditions) (model.Object, error) {
	return f.createObject(ctx, obj, cond)
}
func (f *fakeShardClient) DeleteObject(ctx context.Context, bucketID, objectID string) error {
	return f.deleteObject(ctx, bucketID, objectID)
}
func (f *fakeShardClient) UpdateObject(ctx context.Context, bucketID, objectID string, headers map[string]string) (model.Object, error) {
	return f.updateObject(ctx, bucketID, objectID, headers)
}
func (f *fakeShardClient) ListObjectsPage(ctx context.Context, bucketID, prefix, marker string, limit int) (shard.PageResult, error) {
	return f.listObjects(ctx, bucketID, prefix, marker, limit)
}

type catchAllSource struct{ pnode string }

func (c catchAllSource) Fetch(ctx context.Context) (*ring.Snapshot, error) {
	return &ring.Snapshot{
		Version:       1,
		Algorithm:     "xxhash",
		HashInterval:  1 << 63,
		VnodeToPnode:  map[uint64]string{0: c.pnode, 1: c.pnode},
		PnodeToVnodes: map[string][]uint64{c.pnode: {0, 1}},
	}, nil
}

type fixedChooser struct{ baseURL string }

func (c fixedChooser) Choose(ctx context.Context, replicas int) ([][]shark.Descriptor, error) {
	set := make([]shark.Descriptor, replicas)
	for i := range set {
		set[i] = shark.Descriptor{Datacenter: "dc1", StorageID: "node-" + string(rune('a'+i)), BaseURL: c.baseURL}
	}
	return [][]shark.Descriptor{set}, nil
}

func (c fixedChooser) Resolve(ctx context.Context, sh model.Shark) (shark.Descriptor, error) {
	return shark.Descriptor{Datacenter: sh.Datacenter, StorageID: sh.StorageID, BaseURL: c.baseURL}, nil
}

func newTestRouter(t *testing.T, client shard.Client, chooser fixedChooser) http.Handler {
	t.Helper()
	const pnode = "shard-0"
	r, err := ring.New(context.Background(), catchAllSource{pnode: pnode}, zap.NewNop())
	if err != nil {
		t.Fatalf("ring.New: %v", err)
	}
	pool := shard.NewPool([]string{pnode}, func(string) (shard.Client, error) { return client, nil })

	m := metrics.New()
	th := throttle.New(8, 8, m.AsThrottleObserver())
	pc := &pipeline.Context{
		Log:            zap.NewNop(),
		Ring:           r,
		Shards:         pool,
		StorageChooser: chooser,
		StorageAgent:   shark.NewClient(),
		Config: &config.Config{
			MaxObjectSize:          1 << 30,
			MaxDurabilityLevel:     6,
			CheckStreamIdleTimeout: 5 * time.Second,
			StorageLayoutVersion:   2,
		},
		Probes: throttle.NopObserver{},
	}
	return NewRouter(pc, th, m)
}

func TestPutAndGetZeroByteObject(t *testing.T) {
	stored := map[string]model.Object{}
	client := &fakeShardClient{
		getBucket: func(ctx context.Context, owner, name string) (model.Bucket, error) {
			return model.Bucket{ID: "b1", Name: name, Owner: owner}, nil
		},
		createObject: func(ctx context.Context, obj model.Object, cond model.Conditions) (model.Object, error) {
			obj.Created = time.Now()
			obj.Modified = obj.Created
			stored[obj.Name] = obj
			return obj, nil
		},
		getObject: func(ctx context.Context, bucketID, name string, cond model.Conditions) (model.Object, error) {
			o, ok := stored[name]
			if !ok {
				return model.Object{}, &fakeNamedError{"ObjectNotFound"}
			}
			return o, nil
		},
	}
	router := newTestRouter(t, client, fixedChooser{})

	putReq := httptest.NewRequest(http.MethodPut, "/alice/buckets/mybucket/objects/empty.txt", strings.NewReader(""))
	putReq.ContentLength = 0
	putRec := httptest.NewRecorder()
	router.ServeHTTP(putRec, putReq)
	if putRec.Code != http.StatusNoContent {
		t.Fatalf("PUT: got status %d body %q", putRec.Code, putRec.Body.String())
	}

	getReq := httptest.NewRequest(http.MethodGet, "/alice/buckets/mybucket/objects/empty.txt", nil)
	getRec := httptest.NewRecorder()
	router.ServeHTTP(getRec, getReq)
	if getRec.Code != http.StatusOK {
		t.Fatalf("GET: got status %d body %q", getRec.Code, getRec.Body.String())
	}
	if getRec.Body.Len() != 0 {
		t.Fatalf("GET: expected empty body, got %d bytes", getRec.Body.Len())
	}
	if getRec.Header().Get("Content-MD5") != model.ZeroByteMD5 {
		t.Fatalf("GET: got Content-MD5 %q", getRec.Header().Get("Content-MD5"))
	}
}

func TestPutObjectStreamsBodyAndGetReadsItBack(t *testing.T) {
	const body = "the quick brown fox"
	storage := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPut:
			_, _ = io.ReadAll(r.Body)
			w.WriteHeader(http.StatusOK)
		case http.MethodGet:
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(body))
		}
	}))
	defer storage.Close()

	var stored model.Object
	client := &fakeShardClient{
		getBucket: func(ctx context.Context, owner, name string) (model.Bucket, error) {
			return model.Bucket{ID: "b1", Name: name, Owner: owner}, nil
		},
		createObject: func(ctx context.Context, obj model.Object, cond model.Conditions) (model.Object, error) {
			obj.Created = time.Now()
			obj.Modified = obj.Created
			stored = obj
			return obj, nil
		},
		getObject: func(ctx context.Context, bucketID, name string, cond model.Conditions) (model.Object, error) {
			return stored, nil
		},
	}
	router := newTestRouter(t, client, fixedChooser{baseURL: storage.URL})

	putReq := httptest.NewRequest(http.MethodPut, "/alice/buckets/mybucket/objects/hello.txt", strings.NewReader(body))
	putReq.ContentLength = int64(len(body))
	putReq.Header.Set("Durability-Level", "1")
	putRec := httptest.NewRecorder()
	router.ServeHTTP(putRec, putReq)
	if putRec.Code != http.StatusNoContent {
		t.Fatalf("PUT: got status %d body %q", putRec.Code, putRec.Body.String())
	}
	if putRec.Header().Get("Durability-Level") != "1" {
		t.Fatalf("PUT: expected Durability-Level echo, got %q", putRec.Header().Get("Durability-Level"))
	}

	getReq := httptest.NewRequest(http.MethodGet, "/alice/buckets/mybucket/objects/hello.txt", nil)
	getRec := httptest.NewRecorder()
	router.ServeHTTP(getRec, getReq)
	if getRec.Code != http.StatusOK {
		t.Fatalf("GET: got status %d body %q", getRec.Code, getRec.Body.String())
	}
	if getRec.Body.String() != body {
		t.Fatalf("GET: got body %q, want %q", getRec.Body.String(), body)
	}
}

func TestGetObjectAbortsOnChecksumMismatch(t *testing.T) {
	storage := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("corrupted bytes"))
	}))
	defer storage.Close()

	stored := model.Object{
		ID:            "o1",
		Name:          "hello.txt",
		ContentLength: 20,
		ContentMD5:    "not-the-md5-of-corrupted-bytes",
		Sharks:        []model.Shark{{Datacenter: "dc1", StorageID: "n1"}},
	}
	client := &fakeShardClient{
		getBucket: func(ctx context.Context, owner, name string) (model.Bucket, error) {
			return model.Bucket{ID: "b1", Name: name, Owner: owner}, nil
		},
		getObject: func(ctx context.Context, bucketID, name string, cond model.Conditions) (model.Object, error) {
			return stored, nil
		},
	}
	router := newTestRouter(t, client, fixedChooser{baseURL: storage.URL})

	req := httptest.NewRequest(http.MethodGet, "/alice/buckets/mybucket/objects/hello.txt", nil)
	rec := httptest.NewRecorder()

	defer func() {
		r := recover()
		if r != http.ErrAbortHandler {
			t.Fatalf("expected a panic(http.ErrAbortHandler) on checksum mismatch, got %v", r)
		}
	}()
	router.ServeHTTP(rec, req)
	t.Fatal("expected ServeHTTP to panic before returning")
}

func TestGetObjectNotFound(t *testing.T) {
	client := &fakeShardClient{
		getBucket: func(ctx context.Context, owner, name string) (model.Bucket, error) {
			return model.Bucket{ID: "b1", Name: name, Owner: owner}, nil
		},
		getObject: func(ctx context.Context, bucketID, name string, cond model.Conditions) (model.Object, error) {
			return model.Object{}, &fakeNamedError{"ObjectNotFound"}
		},
	}
	router := newTestRouter(t, client, fixedChooser{})

	req := httptest.NewRequest(http.MethodGet, "/alice/buckets/mybucket/objects/missing.txt", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("got status %d body %q", rec.Code, rec.Body.String())
	}
	var body errorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if body.Code != "ObjectNotFound" {
		t.Fatalf("got code %q", body.Code)
	}
}

func TestCreateBucketThenHeadBucket(t *testing.T) {
	buckets := map[string]model.Bucket{}
	client := &fakeShardClient{
		createBucket: func(ctx context.Context, owner, name string) (model.Bucket, error) {
			b := model.Bucket{ID: "b1", Name: name, Owner: owner}
			buckets[name] = b
			return b, nil
		},
		getBucket: func(ctx context.Context, owner, name string) (model.Bucket, error) {
			b, ok := buckets[name]
			if !ok {
				return model.Bucket{}, &fakeNamedError{"BucketNotFound"}
			}
			return b, nil
		},
	}
	router := newTestRouter(t, client, fixedChooser{})

	putRec := httptest.NewRecorder()
	router.ServeHTTP(putRec, httptest.NewRequest(http.MethodPut, "/alice/buckets/mybucket", nil))
	if putRec.Code != http.StatusNoContent {
		t.Fatalf("PUT bucket: got %d", putRec.Code)
	}

	headRec := httptest.NewRecorder()
	router.ServeHTTP(headRec, httptest.NewRequest(http.MethodHead, "/alice/buckets/mybucket", nil))
	if headRec.Code != http.StatusNoContent {
		t.Fatalf("HEAD bucket: got %d", headRec.Code)
	}

	headMissingRec := httptest.NewRecorder()
	router.ServeHTTP(headMissingRec, httptest.NewRequest(http.MethodHead, "/alice/buckets/absent", nil))
	if headMissingRec.Code != http.StatusNotFound {
		t.Fatalf("HEAD missing bucket: got %d", headMissingRec.Code)
	}
}

func TestDeleteBucketHandler(t *testing.T) {
	buckets := map[string]model.Bucket{"mybucket": {ID: "b1", Name: "mybucket", Owner: "alice"}}
	client := &fakeShardClient{
		getBucket: func(ctx context.Context, owner, name string) (model.Bucket, error) {
			b, ok := buckets[name]
			if !ok {
				return model.Bucket{}, &fakeNamedError{"BucketNotFound"}
			}
			return b, nil
		},
		deleteBucket: func(ctx context.Context, owner, bucketID string) error {
			delete(buckets, "mybucket")
			return nil
		},
	}
	router := newTestRouter(t, client, fixedChooser{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/alice/buckets/mybucket", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("DELETE bucket: got %d body %q", rec.Code, rec.Body.String())
	}
	if _, ok := buckets["mybucket"]; ok {
		t.Fatal("expected bucket to be removed from the fake backing store")
	}
}

func TestDeleteBucketHandlerPropagatesNotEmpty(t *testing.T) {
	client := &fakeShardClient{
		getBucket: func(ctx context.Context, owner, name string) (model.Bucket, error) {
			return model.Bucket{ID: "b1", Name: name, Owner: owner}, nil
		},
		deleteBucket: func(ctx context.Context, owner, bucketID string) error {
			return &fakeNamedError{"BucketNotEmpty"}
		},
	}
	router := newTestRouter(t, client, fixedChooser{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/alice/buckets/mybucket", nil))
	if rec.Code != http.StatusConflict {
		t.Fatalf("got status %d body %q", rec.Code, rec.Body.String())
	}
	var body errorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if body.Code != "BucketNotEmpty" {
		t.Fatalf("got code %q", body.Code)
	}
}

func TestOptionsHandlerAnswersPreflight(t *testing.T) {
	router := newTestRouter(t, &fakeShardClient{}, fixedChooser{})

	req := httptest.NewRequest(http.MethodOptions, "/alice/buckets", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("got status %d body %q", rec.Code, rec.Body.String())
	}
}

func TestDeleteObjectHandler(t *testing.T) {
	stored := map[string]model.Object{"hello.txt": {ID: "o1", Name: "hello.txt"}}
	client := &fakeShardClient{
		getBucket: func(ctx context.Context, owner, name string) (model.Bucket, error) {
			return model.Bucket{ID: "b1", Name: name, Owner: owner}, nil
		},
		getObject: func(ctx context.Context, bucketID, name string, cond model.Conditions) (model.Object, error) {
			o, ok := stored[name]
			if !ok {
				return model.Object{}, &fakeNamedError{"ObjectNotFound"}
			}
			return o, nil
		},
		deleteObject: func(ctx context.Context, bucketID, objectID string) error {
			delete(stored, "hello.txt")
			return nil
		},
	}
	router := newTestRouter(t, client, fixedChooser{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/alice/buckets/mybucket/objects/hello.txt", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("DELETE object: got %d body %q", rec.Code, rec.Body.String())
	}
	if _, ok := stored["hello.txt"]; ok {
		t.Fatal("expected object to be removed from the fake backing store")
	}
}

func TestUpdateObjectMetadataHandler(t *testing.T) {
	var lastHeaders map[string]string
	client := &fakeShardClient{
		getBucket: func(ctx context.Context, owner, name string) (model.Bucket, error) {
			return model.Bucket{ID: "b1", Name: name, Owner: owner}, nil
		},
		updateObject: func(ctx context.Context, bucketID, objectID string, headers map[string]string) (model.Object, error) {
			lastHeaders = headers
			return model.Object{ID: objectID, Name: "hello.txt", Headers: headers}, nil
		},
		getObject: func(ctx context.Context, bucketID, name string, cond model.Conditions) (model.Object, error) {
			return model.Object{ID: "o1", Name: name}, nil
		},
	}
	router := newTestRouter(t, client, fixedChooser{})

	req := httptest.NewRequest(http.MethodPut, "/alice/buckets/mybucket/objects/hello.txt/metadata", nil)
	req.Header.Set("M-Owner", "alice")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("PUT metadata: got %d body %q", rec.Code, rec.Body.String())
	}
	if lastHeaders["M-Owner"] != "alice" {
		t.Fatalf("expected stored header to reach UpdateObject, got %+v", lastHeaders)
	}
}

func TestListObjectsHandlerStreamsNDJSON(t *testing.T) {
	objects := []shard.ListEntry{
		{Name: "a.txt", Object: model.Object{ID: "o1", Name: "a.txt"}},
		{Name: "b.txt", Object: model.Object{ID: "o2", Name: "b.txt"}},
	}
	client := &fakeShardClient{
		getBucket: func(ctx context.Context, owner, name string) (model.Bucket, error) {
			return model.Bucket{ID: "b1", Name: name, Owner: owner}, nil
		},
		listObjects: func(ctx context.Context, bucketID, prefix, marker string, limit int) (shard.PageResult, error) {
			if marker != "" {
				return shard.PageResult{}, nil
			}
			return shard.PageResult{Records: objects, Full: false}, nil
		},
	}
	router := newTestRouter(t, client, fixedChooser{})

	req := httptest.NewRequest(http.MethodGet, "/alice/buckets/mybucket/objects", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d body %q", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("Content-Type") != "application/x-ndjson" {
		t.Fatalf("got Content-Type %q", rec.Header().Get("Content-Type"))
	}
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 2 entries plus a page-boundary line, got %d: %q", len(lines), rec.Body.String())
	}
	var first listEntryDoc
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("decode first line: %v", err)
	}
	if first.Name != "a.txt" || first.Object == nil || first.Object.ID != "o1" {
		t.Fatalf("got %+v", first)
	}
	var boundary listEntryDoc
	if err := json.Unmarshal([]byte(lines[2]), &boundary); err != nil {
		t.Fatalf("decode page-boundary line: %v", err)
	}
	if boundary.Page == nil || !boundary.Page.Finished || boundary.Page.NextMarker != "" {
		t.Fatalf("expected a finished page boundary with no next marker, got %+v", boundary.Page)
	}
}

func TestListBucketsHandlerStreamsNDJSON(t *testing.T) {
	client := &fakeShardClient{
		listBuckets: func(ctx context.Context, owner, marker string, limit int) (shard.PageResult, error) {
			if marker != "" {
				return shard.PageResult{}, nil
			}
			return shard.PageResult{
				Records: []shard.ListEntry{
					{Name: "logs", IsBucket: true, Bucket: model.Bucket{ID: "b1", Name: "logs", Owner: "alice"}},
				},
			}, nil
		},
	}
	router := newTestRouter(t, client, fixedChooser{})

	req := httptest.NewRequest(http.MethodGet, "/alice/buckets", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d body %q", rec.Code, rec.Body.String())
	}
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 1 entry plus a page-boundary line, got %d: %q", len(lines), rec.Body.String())
	}
	var doc listEntryDoc
	if err := json.Unmarshal([]byte(lines[0]), &doc); err != nil {
		t.Fatalf("decode NDJSON line: %v", err)
	}
	if doc.Name != "logs" || doc.Bucket == nil || doc.Bucket.Name != "logs" {
		t.Fatalf("got %+v", doc)
	}
}

type fakeNamedError struct{ name string }

func (e *fakeNamedError) Error() string { return e.name }
func (e *fakeNamedError) Name() string  { return e.name }
