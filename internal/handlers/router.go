package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/synapsestore/objectgw/internal/metrics"
	"github.com/synapsestore/objectgw/internal/pipeline"
	"github.com/synapsestore/objectgw/internal/throttle"
)

// commonExposedHeaders mirrors the setCorsHandler allowlist in
// generic-handlers.go, generalized to this gateway's own response
// header set.
var commonExposedHeaders = []string{
	"Etag",
	"Content-MD5",
	"Content-Type",
	"Content-Length",
	"Last-Modified",
	"Durability-Level",
	"Accept-Ranges",
}

var allowedMethods = []string{
	http.MethodGet,
	http.MethodHead,
	http.MethodPut,
	http.MethodDelete,
	http.MethodOptions,
}

// NewRouter builds the full URL surface spec.md §6 names, wrapped in
// CORS and the throttle/metrics middleware (spec.md §4.8, §6
// Observability).
func NewRouter(pc *pipeline.Context, th *throttle.Throttle, m *metrics.Metrics) http.Handler {
	api := &apiHandlers{pc: pc}

	router := mux.NewRouter().SkipClean(true)
	sub := router.PathPrefix("/{login}/buckets").Subrouter()

	sub.Methods(http.MethodOptions).Path("").HandlerFunc(api.OptionsHandler)
	sub.Methods(http.MethodGet).Path("").HandlerFunc(api.ListBucketsHandler)
	sub.Methods(http.MethodPut).Path("/{bucket_name}").HandlerFunc(api.CreateBucketHandler)
	sub.Methods(http.MethodHead).Path("/{bucket_name}").HandlerFunc(api.HeadBucketHandler)
	sub.Methods(http.MethodDelete).Path("/{bucket_name}").HandlerFunc(api.DeleteBucketHandler)
	sub.Methods(http.MethodGet).Path("/{bucket_name}/objects").HandlerFunc(api.ListObjectsHandler)
	sub.Methods(http.MethodPut).Path("/{bucket_name}/objects/{object_name:.+}/metadata").HandlerFunc(api.UpdateObjectMetadataHandler)
	sub.Methods(http.MethodPut).Path("/{bucket_name}/objects/{object_name:.+}").HandlerFunc(api.PutObjectHandler)
	sub.Methods(http.MethodGet).Path("/{bucket_name}/objects/{object_name:.+}").HandlerFunc(api.GetObjectHandler)
	sub.Methods(http.MethodHead).Path("/{bucket_name}/objects/{object_name:.+}").HandlerFunc(api.HeadObjectHandler)
	sub.Methods(http.MethodDelete).Path("/{bucket_name}/objects/{object_name:.+}").HandlerFunc(api.DeleteObjectHandler)

	var h http.Handler = router
	h = activeTimeMiddleware(m, h)
	h = th.Middleware(h)
	h = totalTimeMiddleware(h)
	h = corsMiddleware(h)
	return h
}

func corsMiddleware(h http.Handler) http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   allowedMethods,
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   commonExposedHeaders,
		AllowCredentials: true,
	})
	return c.Handler(h)
}

type totalStartKey struct{}

// totalTimeMiddleware stamps the request's arrival time before it
// enters the throttle's admission queue, so activeTimeMiddleware can
// later report both end-to-end latency (including queueing) and active
// handling time (spec.md §6 http_request_latency_ms vs
// http_request_time_ms).
func totalTimeMiddleware(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), totalStartKey{}, time.Now())
		h.ServeHTTP(w, r.WithContext(ctx))
	})
}

// activeTimeMiddleware records spec.md §6's completed-request counter
// and both latency histograms, mirroring the collectAPIStats wrapper
// shape in api-router.go. It runs inside the throttle, so its own
// start time is the moment admission was granted.
func activeTimeMiddleware(m *metrics.Metrics, h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		activeStart := time.Now()
		totalStart, _ := r.Context().Value(totalStartKey{}).(time.Time)
		if totalStart.IsZero() {
			totalStart = activeStart
		}
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		h.ServeHTTP(sw, r)
		activeMs := float64(time.Since(activeStart).Milliseconds())
		latencyMs := float64(time.Since(totalStart).Milliseconds())
		m.ObserveRequest(r.Method, strconv.Itoa(sw.status), latencyMs, activeMs)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
