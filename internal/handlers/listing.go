package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/synapsestore/objectgw/internal/apierrors"
	"github.com/synapsestore/objectgw/internal/model"
	"github.com/synapsestore/objectgw/internal/pagination"
	"github.com/synapsestore/objectgw/internal/pipeline"
	"github.com/synapsestore/objectgw/internal/ring"
	"github.com/synapsestore/objectgw/internal/shard"
)

const (
	defaultListLimit = 1024
	maxListLimit     = 1024
)

// listParams parses the query parameters spec.md §6 "List query
// parameters" names.
type listParams struct {
	limit     int
	marker    string
	prefix    string
	delimiter string
}

func parseListParams(r *http.Request) (listParams, *apierrors.Error) {
	q := r.URL.Query()
	p := listParams{
		limit:     defaultListLimit,
		marker:    q.Get("marker"),
		prefix:    q.Get("prefix"),
		delimiter: q.Get("delimiter"),
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxListLimit {
			return p, apierrors.BadRequest("limit must be an integer between 1 and 1024")
		}
		p.limit = n
	}
	if len(p.delimiter) > 1 {
		return p, apierrors.BadRequest("delimiter must be a single character")
	}
	return p, nil
}

// listEntryDoc is one NDJSON line of a listing response. A line
// carrying Page is a page boundary rather than an entry: NextMarker is
// set iff Finished is false, so a client reading the stream line by
// line can resume from NextMarker without ever inspecting a header.
type listEntryDoc struct {
	Name      string        `json:"name,omitempty"`
	CommonPfx bool          `json:"common_prefix,omitempty"`
	Bucket    *model.Bucket `json:"bucket,omitempty"`
	Object    *model.Object `json:"object,omitempty"`
	Page      *pageBoundary `json:"page,omitempty"`
}

type pageBoundary struct {
	NextMarker string `json:"next_marker,omitempty"`
	Finished   bool   `json:"finished"`
}

// writeListing asks mp for exactly one page capped at the caller's
// limit (spec.md §4.5 step 5 "Stop when limit reached") and
// NDJSON-encodes it as one HTTP response. A client asking for more
// resumes with the page boundary's next_marker as its own marker
// parameter, rather than this handler draining every page itself. By
// the time the response reaches its first entry an HTTP header can no
// longer be set (the first Encode call already commits status and
// headers), so the cursor rides in-band as a page-boundary line
// instead of a Next-Marker header (spec.md §6 "List response headers":
// Next-Marker present iff the page's finished is false).
func writeListing(w http.ResponseWriter, r *http.Request, mp *pagination.MergePaginator) {
	w.Header().Set("Content-Type", "application/x-ndjson")
	enc := json.NewEncoder(w)

	page, err := mp.Next(r.Context())
	if err != nil {
		return
	}
	for _, e := range page.Entries {
		doc := listEntryDoc{Name: e.Name, CommonPfx: e.CommonPfx}
		if !e.CommonPfx {
			switch v := e.Payload.(type) {
			case model.Bucket:
				doc.Bucket = &v
			case model.Object:
				doc.Object = &v
			}
		}
		_ = enc.Encode(doc)
	}
	_ = enc.Encode(listEntryDoc{Page: &pageBoundary{NextMarker: page.NextMarker, Finished: page.Finished}})
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
}

// distinctPnodes returns one pnode per shard present in the ring,
// deduping the vnode fan-out (spec.md §2's read data flow: "placement
// ring (enumerate vnodes)") since a listing RPC already returns every
// record a pnode owns for the given scope.
func distinctPnodes(pc *pipeline.Context) []string {
	snap := pc.Ring.Current()
	out := make([]string, 0, len(snap.PnodeToVnodes))
	for pnode := range snap.PnodeToVnodes {
		out = append(out, pnode)
	}
	return out
}

func errName(err error) string {
	type named interface{ Name() string }
	if n, ok := err.(named); ok {
		return n.Name()
	}
	return err.Error()
}

// errOverloaded extracts the shard's own backpressure hint, matching
// internal/pipeline's helper of the same name, so NoDatabasePeers maps
// to ServiceUnavailable instead of a generic InternalError here too.
func errOverloaded(err error) bool {
	type overloaded interface{ Overloaded() bool }
	o, ok := err.(overloaded)
	return ok && o.Overloaded()
}

// ListBucketsHandler streams every bucket an owner has (spec.md §6
// `GET /:login/buckets`).
func (a *apiHandlers) ListBucketsHandler(w http.ResponseWriter, r *http.Request) {
	login := pathVars(r)["login"]
	params, apiErr := parseListParams(r)
	if apiErr != nil {
		writeAPIError(w, apiErr)
		return
	}
	if a.pc.Authz != nil {
		if err := a.pc.Authz.Authorize(r.Context(), login, "bucket:GET", login, nil); err != nil {
			writeAPIError(w, apierrors.AuthorizationFailed("bucket:GET", login))
			return
		}
	}

	var streams []*pagination.LimitMarkerStream
	for _, pnode := range distinctPnodes(a.pc) {
		pnode := pnode
		openPage := func(ctx context.Context, marker string, limit int) (pagination.Page, error) {
			client, err := a.pc.Shards.Get(pnode)
			if err != nil {
				return pagination.Page{}, err
			}
			res, err := client.ListBucketsPage(ctx, login, marker, limit)
			if err != nil {
				return pagination.Page{}, err
			}
			return pageFromShard(res), nil
		}
		streams = append(streams, pagination.New(openPage, params.limit, params.marker))
	}

	mp := pagination.NewMergePaginator(streams, params.prefix, params.delimiter, params.limit)
	writeListing(w, r, mp)
}

// ListObjectsHandler streams every object in a bucket (spec.md §6
// `GET /:login/buckets/:bucket_name/objects`).
func (a *apiHandlers) ListObjectsHandler(w http.ResponseWriter, r *http.Request) {
	vars := pathVars(r)
	login, bucketName := vars["login"], vars["bucket_name"]
	params, apiErr := parseListParams(r)
	if apiErr != nil {
		writeAPIError(w, apiErr)
		return
	}

	bucket, apiErr := a.lookupBucket(r.Context(), login, bucketName)
	if apiErr != nil {
		writeAPIError(w, apiErr)
		return
	}
	if a.pc.Authz != nil {
		resource := login + "/" + bucketName
		if err := a.pc.Authz.Authorize(r.Context(), login, "object:GET", resource, nil); err != nil {
			writeAPIError(w, apierrors.AuthorizationFailed("object:GET", resource))
			return
		}
	}

	var streams []*pagination.LimitMarkerStream
	for _, pnode := range distinctPnodes(a.pc) {
		pnode := pnode
		openPage := func(ctx context.Context, marker string, limit int) (pagination.Page, error) {
			client, err := a.pc.Shards.Get(pnode)
			if err != nil {
				return pagination.Page{}, err
			}
			res, err := client.ListObjectsPage(ctx, bucket.ID, params.prefix, marker, limit)
			if err != nil {
				return pagination.Page{}, err
			}
			return pageFromShard(res), nil
		}
		streams = append(streams, pagination.New(openPage, params.limit, params.marker))
	}

	mp := pagination.NewMergePaginator(streams, params.prefix, params.delimiter, params.limit)
	writeListing(w, r, mp)
}

func (a *apiHandlers) lookupBucket(ctx context.Context, login, bucketName string) (model.Bucket, *apierrors.Error) {
	snap := a.pc.Ring.Current()
	loc, err := snap.Locate(ring.BucketRoutingKey(login, bucketName))
	if err != nil {
		return model.Bucket{}, apierrors.Internal(err)
	}
	client, err := a.pc.Shards.Get(loc.Pnode)
	if err != nil {
		return model.Bucket{}, apierrors.Internal(err)
	}
	bucket, err := client.GetBucket(ctx, login, bucketName)
	if err != nil {
		return model.Bucket{}, apierrors.FromShardError(errName(err), errOverloaded(err), err)
	}
	return bucket, nil
}

func pageFromShard(res shard.PageResult) pagination.Page {
	records := make([]pagination.Record, 0, len(res.Records))
	for _, e := range res.Records {
		var payload interface{}
		if e.IsBucket {
			payload = e.Bucket
		} else {
			payload = e.Object
		}
		records = append(records, pagination.Record{Name: e.Name, IsBucket: e.IsBucket, Payload: payload})
	}
	return pagination.Page{Records: records, Full: res.Full}
}
