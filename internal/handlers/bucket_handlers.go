package handlers

import (
	"net/http"

	"github.com/synapsestore/objectgw/internal/pipeline"
)

// OptionsHandler answers a CORS preflight with the same headers the
// rs/cors middleware would compute for the real request (SPEC_FULL §5
// supplemental feature), so a browser's preflight and its follow-up
// request agree.
func (a *apiHandlers) OptionsHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

// CreateBucketHandler creates a bucket (spec.md §6
// `PUT .../buckets/:bucket_name`).
func (a *apiHandlers) CreateBucketHandler(w http.ResponseWriter, r *http.Request) {
	req := newRequest(r)
	req.RequestType = "bucket"

	handler := a.runAndRespond(r.Context(), req, pipeline.CreateBucketStages, func(w http.ResponseWriter, req *pipeline.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	handler(w, r)
}

// HeadBucketHandler reports whether a bucket exists (spec.md §6
// `HEAD .../buckets/:bucket_name`).
func (a *apiHandlers) HeadBucketHandler(w http.ResponseWriter, r *http.Request) {
	req := newRequest(r)
	req.RequestType = "bucket"

	handler := a.runAndRespond(r.Context(), req, pipeline.HeadBucketStages, func(w http.ResponseWriter, req *pipeline.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	handler(w, r)
}

// DeleteBucketHandler removes an empty bucket (spec.md §6
// `DELETE .../buckets/:bucket_name`); a non-empty bucket fails with
// BucketNotEmpty (spec.md §7 ordering guarantee).
func (a *apiHandlers) DeleteBucketHandler(w http.ResponseWriter, r *http.Request) {
	req := newRequest(r)
	req.RequestType = "bucket"

	handler := a.runAndRespond(r.Context(), req, pipeline.DeleteBucketStages, func(w http.ResponseWriter, req *pipeline.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	handler(w, r)
}
