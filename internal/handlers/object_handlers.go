package handlers

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/synapsestore/objectgw/internal/apierrors"
	"github.com/synapsestore/objectgw/internal/checkstream"
	"github.com/synapsestore/objectgw/internal/condition"
	"github.com/synapsestore/objectgw/internal/pipeline"
)

// apiHandlers holds the per-process collaborators every handler method
// needs, mirroring the objectAPIHandlers shape in api-router.go,
// generalized from a lazily-resolved ObjectLayer to this gateway's
// eagerly-built pipeline.Context.
type apiHandlers struct {
	pc *pipeline.Context
}

func pathVars(r *http.Request) map[string]string { return mux.Vars(r) }

// newRequest builds the common pipeline.Request fields every handler
// shares; callers fill in RequestType, Body, and anything verb-specific.
func newRequest(r *http.Request) *pipeline.Request {
	vars := pathVars(r)
	return &pipeline.Request{
		HTTP:            r,
		Login:           vars["login"],
		BucketName:      vars["bucket_name"],
		ObjectName:      vars["object_name"],
		Conditions:      condition.ParseHeaders(r),
		ContentLength:   r.ContentLength,
		ResponseHeaders: make(http.Header),
	}
}

// isStoredHeader reports whether h is one of the stored-header
// prefixes spec.md §6 Create-object request headers names: m-* user
// metadata, or the pass-through Cache-Control/Surrogate-Key/
// access-control-* set (SPEC_FULL §5 CORS replay supplement).
func isStoredHeader(h string) bool {
	lower := strings.ToLower(h)
	switch lower {
	case "cache-control", "surrogate-key":
		return true
	}
	return strings.HasPrefix(lower, "m-") || strings.HasPrefix(lower, "access-control-")
}

func collectStoredHeaders(r *http.Request) map[string]string {
	out := map[string]string{}
	for k, v := range r.Header {
		if len(v) == 0 || !isStoredHeader(k) {
			continue
		}
		out[k] = v[0]
	}
	return out
}

func (a *apiHandlers) runAndRespond(ctx context.Context, req *pipeline.Request, stages []pipeline.Stage, onSuccess func(http.ResponseWriter, *pipeline.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res := pipeline.Run(ctx, a.pc, req, stages)
		switch res.Decision {
		case pipeline.Failed:
			writeAPIError(w, res.Err)
		case pipeline.Respond:
			if res.Status == http.StatusNotModified {
				writeConditionalHeaders(w, req.Object)
			}
			w.WriteHeader(res.Status)
			if res.Body != nil {
				_, _ = io.Copy(w, res.Body)
			}
		default:
			onSuccess(w, req)
		}
	}
}

// PutObjectHandler creates or overwrites one object (spec.md §6
// `PUT .../objects/:object_name`).
func (a *apiHandlers) PutObjectHandler(w http.ResponseWriter, r *http.Request) {
	req := newRequest(r)
	req.RequestType = "object"
	req.Body = r.Body
	req.Object.Headers = collectStoredHeaders(r)
	if dl := r.Header.Get("Durability-Level"); dl != "" {
		if n, err := strconv.Atoi(dl); err == nil {
			req.DurabilityLevel = n
		}
	}
	if req.ContentLength < 0 {
		if max := r.Header.Get("Max-Content-Length"); max != "" {
			if n, err := strconv.ParseInt(max, 10, 64); err == nil {
				req.ContentLength = n
			}
		}
	}
	req.Object.ContentType = r.Header.Get("Content-Type")

	handler := a.runAndRespond(r.Context(), req, pipeline.CreateObjectStages, func(w http.ResponseWriter, req *pipeline.Request) {
		w.Header().Set("Etag", req.Object.Etag())
		w.Header().Set("Computed-MD5", req.Object.ContentMD5)
		w.Header().Set("Durability-Level", strconv.Itoa(req.Object.DurabilityLevel))
		w.WriteHeader(http.StatusNoContent)
	})
	handler(w, r)
}

// GetObjectHandler streams one object's body back to the client
// (spec.md §6 `GET .../objects/:object_name`).
func (a *apiHandlers) GetObjectHandler(w http.ResponseWriter, r *http.Request) {
	req := newRequest(r)
	req.RequestType = "object"

	handler := a.runAndRespond(r.Context(), req, pipeline.GetObjectStages, func(w http.ResponseWriter, req *pipeline.Request) {
		writeObjectHeaders(w, req.Object)
		w.Header().Set("Content-Length", strconv.FormatInt(req.Object.ContentLength, 10))
		if req.Object.ContentLength == 0 || len(req.Object.Sharks) == 0 {
			w.WriteHeader(http.StatusOK)
			return
		}
		a.streamObjectBody(w, r.Context(), req)
	})
	handler(w, r)
}

// streamObjectBody opens a read stream against the first storage node
// that answers, failing over to the next replica on error (spec.md §2
// read data flow: "storage-node clients (streaming GET with
// failover)"), verifying what it streams through a Check Stream
// against the digest recorded at write time (spec.md §1 item 5: "stream
// through a checksum verifier to the client").
func (a *apiHandlers) streamObjectBody(w http.ResponseWriter, ctx context.Context, req *pipeline.Request) {
	path := pipeline.ObjectStoragePath(req.Object)
	var lastErr error
	for _, sh := range req.Object.Sharks {
		node, err := a.pc.StorageChooser.Resolve(ctx, sh)
		if err != nil {
			lastErr = err
			continue
		}
		body, err := a.pc.StorageAgent.Get(ctx, node, path)
		if err != nil {
			lastErr = err
			continue
		}
		w.WriteHeader(http.StatusOK)
		cs := checkstream.New(body, 0)
		_, copyErr := io.Copy(w, cs)
		body.Close()
		if copyErr != nil {
			return
		}
		if cs.Digest() != req.Object.ContentMD5 {
			// The 200 and every body byte are already on the wire, so
			// there's no status code left to flip; hang up instead of
			// letting the client believe a corrupted replica's bytes
			// are the real object.
			panic(http.ErrAbortHandler)
		}
		return
	}
	if lastErr != nil {
		writeAPIError(w, apierrors.Internal(lastErr))
		return
	}
	writeAPIError(w, apierrors.Internal(nil))
}

// HeadObjectHandler returns only the read-response headers, no body
// (spec.md §6 `HEAD .../objects/:object_name`).
func (a *apiHandlers) HeadObjectHandler(w http.ResponseWriter, r *http.Request) {
	req := newRequest(r)
	req.RequestType = "object"

	handler := a.runAndRespond(r.Context(), req, pipeline.HeadObjectStages, func(w http.ResponseWriter, req *pipeline.Request) {
		writeObjectHeaders(w, req.Object)
		w.Header().Set("Content-Length", strconv.FormatInt(req.Object.ContentLength, 10))
		w.WriteHeader(http.StatusOK)
	})
	handler(w, r)
}

// DeleteObjectHandler removes one object (spec.md §6
// `DELETE .../objects/:object_name`).
func (a *apiHandlers) DeleteObjectHandler(w http.ResponseWriter, r *http.Request) {
	req := newRequest(r)
	req.RequestType = "object"

	handler := a.runAndRespond(r.Context(), req, pipeline.DeleteObjectStages, func(w http.ResponseWriter, req *pipeline.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	handler(w, r)
}

// UpdateObjectMetadataHandler rewrites stored headers without touching
// content (spec.md §6 `PUT .../objects/:object_name/metadata`,
// SPEC_FULL §5 supplemental feature).
func (a *apiHandlers) UpdateObjectMetadataHandler(w http.ResponseWriter, r *http.Request) {
	req := newRequest(r)
	req.RequestType = "metadata"
	req.Object.Headers = collectStoredHeaders(r)

	handler := a.runAndRespond(r.Context(), req, pipeline.UpdateObjectMetadataStages, func(w http.ResponseWriter, req *pipeline.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	handler(w, r)
}
