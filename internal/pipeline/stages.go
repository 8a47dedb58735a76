package pipeline

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/synapsestore/objectgw/internal/apierrors"
	"github.com/synapsestore/objectgw/internal/checkstream"
	"github.com/synapsestore/objectgw/internal/condition"
	"github.com/synapsestore/objectgw/internal/model"
	"github.com/synapsestore/objectgw/internal/ring"
	"github.com/synapsestore/objectgw/internal/shark"
)

// loadRequest validates the already-parsed URL components and decides
// the authorize action name (spec.md §4.6 loadRequest; header parsing
// into req.Conditions happens in the HTTP handler via
// internal/condition.ParseHeaders before the stage chain runs, since
// that's a pure function of the request and not collaborator I/O).
func loadRequest(ctx context.Context, pc *Context, req *Request) Result {
	if req.BucketName != "" {
		if err := ValidateBucketName(req.BucketName); err != nil {
			return fail(err)
		}
	}
	if req.ObjectName != "" {
		if err := ValidateObjectName(req.ObjectName); err != nil {
			return fail(err)
		}
	}
	req.ActionName = actionName(req.HTTP.Method, req.RequestType)
	return ok()
}

func actionName(method, requestType string) string {
	return requestType + ":" + method
}

// nameHash is the md5 hex of an object name, stored on the object
// record per spec.md §3 so a storage-node path can be reverse-derived
// without scanning shards.
func nameHash(name string) string {
	sum := md5.Sum([]byte(name))
	return hex.EncodeToString(sum[:])
}

// getBucketIfExists looks the bucket up at the vnode its name hashes
// to and fails with BucketNotFound if absent (spec.md §4.6).
func getBucketIfExists(ctx context.Context, pc *Context, req *Request) Result {
	snap := pc.Ring.Current()
	loc, err := snap.Locate(ring.BucketRoutingKey(req.Login, req.BucketName))
	if err != nil {
		return fail(apierrors.Internal(err))
	}
	client, err := pc.Shards.Get(loc.Pnode)
	if err != nil {
		return fail(apierrors.Internal(err))
	}
	bucket, err := client.GetBucket(ctx, req.Login, req.BucketName)
	if err != nil {
		return fail(apierrors.FromShardError(errName(err), errOverloaded(err), err))
	}
	req.Bucket = bucket
	return ok()
}

// errName extracts the upstream error's name field, falling back to
// the error's own message when the collaborator didn't provide one
// (spec.md §4.7: errors are "identified by a name field").
func errName(err error) string {
	type named interface{ Name() string }
	if n, ok := err.(named); ok {
		return n.Name()
	}
	return err.Error()
}

// errOverloaded extracts the shard's own backpressure hint, so
// NoDatabasePeers maps to ServiceUnavailable instead of a generic
// InternalError when the shard is signaling it's overloaded rather
// than genuinely broken (spec.md §4.7).
func errOverloaded(err error) bool {
	type overloaded interface{ Overloaded() bool }
	o, ok := err.(overloaded)
	return ok && o.Overloaded()
}

// authorize calls the external authorization collaborator with the
// action name decided by loadRequest (spec.md §4.6 authorize).
func authorize(ctx context.Context, pc *Context, req *Request) Result {
	if pc.Authz == nil {
		return ok()
	}
	resource := req.Login + "/" + req.BucketName
	if req.ObjectName != "" {
		resource += "/" + req.ObjectName
	}
	if err := pc.Authz.Authorize(ctx, req.Login, req.ActionName, resource, req.Roles); err != nil {
		return fail(apierrors.AuthorizationFailed(req.ActionName, resource))
	}
	return ok()
}

// createBucket issues the metadata-tier create RPC for a new bucket
// (spec.md §4.6 createBucket; one bucket per owner/name pair).
func createBucket(ctx context.Context, pc *Context, req *Request) Result {
	snap := pc.Ring.Current()
	loc, err := snap.Locate(ring.BucketRoutingKey(req.Login, req.BucketName))
	if err != nil {
		return fail(apierrors.Internal(err))
	}
	client, err := pc.Shards.Get(loc.Pnode)
	if err != nil {
		return fail(apierrors.Internal(err))
	}
	bucket, err := client.CreateBucket(ctx, req.Login, req.BucketName)
	if err != nil {
		return fail(apierrors.FromShardError(errName(err), errOverloaded(err), err))
	}
	req.Bucket = bucket
	return ok()
}

// deleteBucket issues the metadata-tier delete RPC; the shard rejects
// the delete with BucketNotEmpty if any object remains (spec.md §4.6
// deleteBucket, §7 ordering guarantee).
func deleteBucket(ctx context.Context, pc *Context, req *Request) Result {
	snap := pc.Ring.Current()
	loc, err := snap.Locate(ring.BucketRoutingKey(req.Login, req.BucketName))
	if err != nil {
		return fail(apierrors.Internal(err))
	}
	client, err := pc.Shards.Get(loc.Pnode)
	if err != nil {
		return fail(apierrors.Internal(err))
	}
	if err := client.DeleteBucket(ctx, req.Login, req.Bucket.ID); err != nil {
		return fail(apierrors.FromShardError(errName(err), errOverloaded(err), err))
	}
	return ok()
}

// maybeGetObject issues the conditional peek spec.md §4.6 requires
// before a create when any If-* header is present. A PreconditionFailed
// from the metadata tier is surfaced; ObjectNotFound is swallowed so
// the create can proceed.
func maybeGetObject(ctx context.Context, pc *Context, req *Request) Result {
	if req.Conditions.Empty() {
		return ok()
	}
	snap := pc.Ring.Current()
	loc, err := snap.Locate(ring.ObjectRoutingKey(req.Login, req.Bucket.ID, req.ObjectName))
	if err != nil {
		return fail(apierrors.Internal(err))
	}
	client, err := pc.Shards.Get(loc.Pnode)
	if err != nil {
		return fail(apierrors.Internal(err))
	}
	peekCond := req.Conditions.MetadataSubsetForPeek()
	existing, err := client.GetObject(ctx, req.Bucket.ID, req.ObjectName, peekCond)
	if err != nil {
		apiErr := apierrors.FromShardError(errName(err), errOverloaded(err), err)
		if apiErr.Code == apierrors.CodeObjectNotFound {
			return ok()
		}
		return fail(apiErr)
	}
	if apiErr := condition.EvaluatePeek(peekCond, existing); apiErr != nil {
		return fail(apiErr)
	}
	return ok()
}

// parseArguments derives size, durability level, and a fresh object id
// from the request (spec.md §4.6 parseArguments).
func parseArguments(ctx context.Context, pc *Context, req *Request) Result {
	if req.ContentLength < 0 {
		return fail(apierrors.MissingContentLength())
	}
	if req.ContentLength > pc.Config.MaxObjectSize {
		return fail(apierrors.EntityTooLarge(pc.Config.MaxObjectSize))
	}
	req.DurabilityLevel = pc.Config.ClampDurabilityLevel(req.DurabilityLevel)
	req.Object.ID = uuid.NewString()
	req.Object.Name = req.ObjectName
	req.Object.NameHash = nameHash(req.ObjectName)
	req.Object.BucketID = req.Bucket.ID
	req.Object.Owner = req.Login
	req.Object.ContentLength = req.ContentLength
	req.Object.StorageLayoutVersion = pc.Config.StorageLayoutVersion

	if req.ContentLength == 0 {
		req.Object.ContentMD5 = model.ZeroByteMD5
		req.Object.Sharks = nil
		req.Object.DurabilityLevel = 0
	}
	return ok()
}

// findSharks asks the external storage-node chooser for candidate
// replica sets (spec.md §4.6 findSharks). Skipped for the zero-byte
// fast path, which never touches storage nodes.
func findSharks(ctx context.Context, pc *Context, req *Request) Result {
	if req.ContentLength == 0 {
		return ok()
	}
	if pc.StorageChooser == nil {
		return fail(apierrors.Internal(nil))
	}
	sets, err := pc.StorageChooser.Choose(ctx, req.DurabilityLevel)
	if err != nil || len(sets) == 0 {
		return fail(apierrors.SharksExhausted())
	}
	req.CandidateSets = sets
	return ok()
}

// sharkStreamResult is one storage node's outcome from a fan-out PUT.
type sharkStreamResult struct {
	shark model.Shark
	md5   string
	err   *apierrors.Error
}

// startSharkStreams opens parallel PUTs to every node in the first
// candidate set, falling back to later sets on partial failure, and
// runs the Check Stream + MD5 comparison barrier described by spec.md
// §4.6 startSharkStreams/sharkStreams as a single stage since both are
// driven by the same client-body read.
//
// The client body can only be read once, but a failed candidate set
// has to retry against the next one with the same bytes. The first
// attempt tees the Check Stream to the storage nodes live (so upload
// starts as bytes arrive, never waiting on a full read) while a
// replay buffer captures the same bytes as a side effect; any later
// attempt replays from that buffer instead of the now-drained body.
func startSharkStreams(ctx context.Context, pc *Context, req *Request) Result {
	if req.ContentLength == 0 {
		return ok()
	}

	body := req.Body
	if body == nil {
		return fail(apierrors.Internal(nil))
	}

	cs := checkstream.New(body, pc.Config.MaxObjectSize)
	stop := checkstream.WatchIdle(cs, pc.Config.CheckStreamIdleTimeout, func() {
		pc.Probes.OnSocketTimeout()
	})
	defer stop()

	var replay bytes.Buffer
	tee := io.TeeReader(cs, &replay)

	var lastErr *apierrors.Error
	for i, set := range req.CandidateSets {
		var source io.Reader
		var clientMD5 string
		if i == 0 {
			// The digest isn't known until this stream drains to EOF,
			// so the first attempt can't hand it to the nodes upfront.
			source = tee
		} else {
			// cs finished draining during attempt 0, so its digest is
			// final here and can ride along for the node's own check.
			source = bytes.NewReader(replay.Bytes())
			clientMD5 = cs.Digest()
		}

		results, streamErr := fanOutPut(ctx, pc, req, set, source, req.ContentLength, clientMD5)
		if streamErr != nil {
			lastErr = streamErr
			continue
		}
		if mismatch := mismatchedDigest(results, cs.Digest()); mismatch != nil {
			lastErr = mismatch
			continue
		}

		req.Object.Sharks = shardsFromResults(results)
		req.Object.ContentMD5 = cs.Digest()
		req.Object.DurabilityLevel = len(results)
		return ok()
	}
	if lastErr == nil {
		lastErr = apierrors.SharksExhausted()
	}
	return fail(lastErr)
}

// fanOutPut tees source to every node in set concurrently: a single
// goroutine copies source into an io.MultiWriter fanning out to one
// io.Pipe per node, so each node's PUT starts consuming bytes as they
// arrive rather than after the whole body has been buffered, mirroring
// spec.md §4.6 sharkStreams' "tee the client body ... in parallel to
// every open storage-node stream." A node whose PUT returns before its
// pipe is drained (e.g. a connection error) has its pipe drained in
// the background so the single upstream copy never blocks on it.
func fanOutPut(ctx context.Context, pc *Context, req *Request, set []shark.Descriptor, source io.Reader, size int64, clientMD5 string) ([]sharkStreamResult, *apierrors.Error) {
	pipeReaders := make([]*io.PipeReader, len(set))
	writers := make([]io.Writer, len(set))
	for i := range set {
		pr, pw := io.Pipe()
		pipeReaders[i] = pr
		writers[i] = pw
	}

	copyErrCh := make(chan error, 1)
	go func() {
		_, err := io.Copy(io.MultiWriter(writers...), source)
		for _, w := range writers {
			w.(*io.PipeWriter).Close()
		}
		copyErrCh <- err
	}()

	outcomes := make([]sharkStreamResult, len(set))
	errs := make([]*apierrors.Error, len(set))
	g, gctx := errgroup.WithContext(ctx)
	path := ObjectStoragePath(req.Object)
	for i, node := range set {
		i, node, pr := i, node, pipeReaders[i]
		g.Go(func() error {
			res, err := pc.StorageAgent.Put(gctx, node, path, pr, size, clientMD5)
			io.Copy(io.Discard, pr) //nolint:errcheck // drain so the shared copy goroutine never blocks on this node
			if err != nil {
				errs[i] = translateSharkError(err)
				return nil
			}
			outcomes[i] = sharkStreamResult{
				shark: model.Shark{Datacenter: node.Datacenter, StorageID: node.StorageID},
				md5:   res.ReportedMD5,
			}
			return nil
		})
	}
	_ = g.Wait()

	copyErr := <-copyErrCh
	if copyErr != nil {
		switch copyErr {
		case checkstream.ErrLengthExceeded:
			return nil, apierrors.EntityTooLarge(pc.Config.MaxObjectSize)
		case checkstream.ErrTimeout:
			return nil, apierrors.UploadTimeout()
		default:
			pc.Probes.OnClientClose()
			return nil, apierrors.UploadAbandoned()
		}
	}

	results := make([]sharkStreamResult, 0, len(set))
	var firstErr *apierrors.Error
	for i := range set {
		if errs[i] != nil {
			if firstErr == nil {
				firstErr = errs[i]
			}
			continue
		}
		results = append(results, outcomes[i])
	}
	if firstErr != nil || len(results) < len(set) {
		if firstErr == nil {
			firstErr = apierrors.SharksExhausted()
		}
		return nil, firstErr
	}
	return results, nil
}

// mismatchedDigest flags a set whose reported MD5s disagree with the
// gateway's own running digest, so the caller retries the next
// candidate set rather than committing an object with a node whose
// copy may have been corrupted in transit.
func mismatchedDigest(results []sharkStreamResult, want string) *apierrors.Error {
	for _, r := range results {
		if r.md5 != "" && r.md5 != want {
			return apierrors.Internal(nil)
		}
	}
	return nil
}

func translateSharkError(err error) *apierrors.Error {
	if err == shark.ErrChecksum {
		return apierrors.ChecksumError()
	}
	if err == shark.ErrBadDigest {
		return apierrors.BadRequest("storage node rejected the request's Content-MD5")
	}
	return apierrors.Internal(err)
}

func shardsFromResults(results []sharkStreamResult) []model.Shark {
	out := make([]model.Shark, 0, len(results))
	for _, r := range results {
		out = append(out, r.shark)
	}
	return out
}

// ObjectStoragePath derives the on-disk path a storage node PUT/GET
// targets, following whichever storage_layout_version the object
// carries (spec.md §9 Open Questions: v1 name-derived subdirectories,
// v2 object-id prefix plus objectId,nameHash leaf).
func ObjectStoragePath(obj model.Object) string {
	if obj.StorageLayoutVersion == 1 {
		return "/v1/" + obj.NameHash[:2] + "/" + obj.NameHash + "/" + obj.ID
	}
	return "/v2/" + obj.ID[:2] + "/" + obj.ID + "," + obj.NameHash
}

// verifyClientDigest rejects the write with BadDigest if the client
// supplied a Content-MD5 header that doesn't match what the gateway
// actually computed while streaming the body (spec.md §6 Create-object
// request headers: "Content-MD5 (verified if present)"). Runs after
// startSharkStreams/parseArguments have settled req.Object.ContentMD5,
// before the metadata tier ever sees the object.
func verifyClientDigest(ctx context.Context, pc *Context, req *Request) Result {
	given := req.HTTP.Header.Get("Content-MD5")
	if given == "" {
		return ok()
	}
	if given != req.Object.ContentMD5 {
		return fail(apierrors.BadDigest(given, req.Object.ContentMD5))
	}
	return ok()
}

// createObject issues the metadata-tier commit, which must happen
// strictly after every storage node has acknowledged (spec.md §5
// ordering guarantee, §4.6 createObject).
func createObject(ctx context.Context, pc *Context, req *Request) Result {
	snap := pc.Ring.Current()
	loc, err := snap.Locate(ring.ObjectRoutingKey(req.Login, req.Bucket.ID, req.ObjectName))
	if err != nil {
		return fail(apierrors.Internal(err))
	}
	client, err := pc.Shards.Get(loc.Pnode)
	if err != nil {
		return fail(apierrors.Internal(err))
	}
	created, err := client.CreateObject(ctx, req.Object, req.Conditions)
	if err != nil {
		return fail(apierrors.FromShardError(errName(err), errOverloaded(err), err))
	}
	req.Object = created
	return ok()
}

// getObject / headObject issue the read-side metadata RPC.
func getObject(ctx context.Context, pc *Context, req *Request) Result {
	snap := pc.Ring.Current()
	loc, err := snap.Locate(ring.ObjectRoutingKey(req.Login, req.Bucket.ID, req.ObjectName))
	if err != nil {
		return fail(apierrors.Internal(err))
	}
	client, err := pc.Shards.Get(loc.Pnode)
	if err != nil {
		return fail(apierrors.Internal(err))
	}
	obj, err := client.GetObject(ctx, req.Bucket.ID, req.ObjectName, model.Conditions{})
	if err != nil {
		return fail(apierrors.FromShardError(errName(err), errOverloaded(err), err))
	}
	req.Object = obj
	return ok()
}

func headObject(ctx context.Context, pc *Context, req *Request) Result {
	return getObject(ctx, pc, req)
}

// deleteObject looks the object up, then issues the delete RPC by its id.
func deleteObject(ctx context.Context, pc *Context, req *Request) Result {
	if res := getObject(ctx, pc, req); res.Decision == Failed {
		return res
	}
	snap := pc.Ring.Current()
	loc, err := snap.Locate(ring.ObjectRoutingKey(req.Login, req.Bucket.ID, req.ObjectName))
	if err != nil {
		return fail(apierrors.Internal(err))
	}
	client, err := pc.Shards.Get(loc.Pnode)
	if err != nil {
		return fail(apierrors.Internal(err))
	}
	if err := client.DeleteObject(ctx, req.Bucket.ID, req.Object.ID); err != nil {
		return fail(apierrors.FromShardError(errName(err), errOverloaded(err), err))
	}
	return ok()
}

// updateObject re-validates the metadata cap and issues the metadata
// update RPC without touching sharks or content (SPEC_FULL §5
// supplemental feature).
func updateObject(ctx context.Context, pc *Context, req *Request) Result {
	const maxMetadataBytes = 4 * 1024
	var total int
	for k, v := range req.Object.Headers {
		total += len(k) + len(v)
	}
	if total > maxMetadataBytes {
		return fail(apierrors.BadRequest("user metadata exceeds 4 KiB"))
	}
	newHeaders := req.Object.Headers
	if res := getObject(ctx, pc, req); res.Decision == Failed {
		return res
	}
	snap := pc.Ring.Current()
	loc, err := snap.Locate(ring.ObjectRoutingKey(req.Login, req.Bucket.ID, req.ObjectName))
	if err != nil {
		return fail(apierrors.Internal(err))
	}
	client, err := pc.Shards.Get(loc.Pnode)
	if err != nil {
		return fail(apierrors.Internal(err))
	}
	obj, err := client.UpdateObject(ctx, req.Bucket.ID, req.Object.ID, newHeaders)
	if err != nil {
		return fail(apierrors.FromShardError(errName(err), errOverloaded(err), err))
	}
	req.Object = obj
	return ok()
}

// conditionalHandler converts a GET/HEAD response to 304 when the
// request's conditions say the object hasn't changed (spec.md §4.6
// conditionalHandler).
func conditionalHandler(ctx context.Context, pc *Context, req *Request) Result {
	if condition.ShouldRespond304(req.Conditions, req.Object) {
		return respond(304)
	}
	return ok()
}

