// Package handlers wires the HTTP surface spec.md §6 names onto the
// request pipeline, grounded in bucket-handlers.go's and
// object-handlers.go's verb dispatch and gorilla/mux routing shape.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/synapsestore/objectgw/internal/apierrors"
	"github.com/synapsestore/objectgw/internal/model"
)

// errorBody is the stable error envelope spec.md §6 names.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeAPIError(w http.ResponseWriter, err *apierrors.Error) {
	w.Header().Set("Content-Type", "application/json")
	if err.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(err.RetryAfter))
	}
	w.WriteHeader(err.Status)
	_ = json.NewEncoder(w).Encode(errorBody{Code: string(err.Code), Message: err.Message})
}

// writeObjectHeaders sets the read-response headers spec.md §6 names.
func writeObjectHeaders(w http.ResponseWriter, obj model.Object) {
	h := w.Header()
	h.Set("Etag", obj.Etag())
	h.Set("Content-MD5", obj.ContentMD5)
	h.Set("Content-Type", obj.ContentType)
	h.Set("Last-Modified", obj.Modified.UTC().Format(http.TimeFormat))
	h.Set("Accept-Ranges", "bytes")
	h.Set("Durability-Level", strconv.Itoa(obj.DurabilityLevel))
}

// writeConditionalHeaders sets only the headers spec.md §6 allows on a
// 304 response: Etag and Last-Modified.
func writeConditionalHeaders(w http.ResponseWriter, obj model.Object) {
	h := w.Header()
	h.Set("Etag", obj.Etag())
	h.Set("Last-Modified", obj.Modified.UTC().Format(http.TimeFormat))
}
