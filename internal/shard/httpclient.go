package shard

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/synapsestore/objectgw/internal/model"
)

// HTTPClient is the production Client: a thin JSON-over-HTTP RPC
// client to one metadata shard, the same shape as a controller-rpc
// client, generalized to the shard RPC surface named in SPEC_FULL §4.2.
type HTTPClient struct {
	BaseURL string
	HTTP    *http.Client
}

func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		BaseURL: baseURL,
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *HTTPClient) call(ctx context.Context, method, path string, body, out interface{}) error {
	var rdr bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&rdr).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, &rdr)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var e struct {
			Name       string `json:"name"`
			Overloaded bool   `json:"overloaded"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return &RPCError{Code: e.Name, Status: resp.StatusCode, IsOverloaded: e.Overloaded}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// RPCError is the shape of an error surfaced by a shard RPC, carrying
// the source error name apierrors.FromShardError translates, plus the
// shard's own backpressure hint.
type RPCError struct {
	Code         string
	Status       int
	IsOverloaded bool
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("shard rpc error %q (status %d)", e.Code, e.Status)
}

// Name satisfies the interface internal/pipeline and internal/handlers
// use to recover the source error name from an opaque error value.
func (e *RPCError) Name() string { return e.Code }

// Overloaded satisfies the interface internal/pipeline and
// internal/handlers use to recover the shard's backpressure hint,
// which disambiguates NoDatabasePeers into ServiceUnavailable instead
// of a generic InternalError (spec.md §4.7).
func (e *RPCError) Overloaded() bool { return e.IsOverloaded }

func (c *HTTPClient) GetBucket(ctx context.Context, owner, name string) (model.Bucket, error) {
	var b model.Bucket
	err := c.call(ctx, http.MethodGet, fmt.Sprintf("/buckets/%s/%s", owner, name), nil, &b)
	return b, err
}

func (c *HTTPClient) CreateBucket(ctx context.Context, owner, name string) (model.Bucket, error) {
	var b model.Bucket
	err := c.call(ctx, http.MethodPut, fmt.Sprintf("/buckets/%s/%s", owner, name), nil, &b)
	return b, err
}

func (c *HTTPClient) DeleteBucket(ctx context.Context, owner, bucketID string) error {
	return c.call(ctx, http.MethodDelete, fmt.Sprintf("/buckets/%s/%s", owner, bucketID), nil, nil)
}

func (c *HTTPClient) ListBucketsPage(ctx context.Context, owner, marker string, limit int) (PageResult, error) {
	var r PageResult
	err := c.call(ctx, http.MethodGet, fmt.Sprintf("/buckets/%s?marker=%s&limit=%d", owner, marker, limit), nil, &r)
	return r, err
}

func (c *HTTPClient) GetObject(ctx context.Context, bucketID, name string, cond model.Conditions) (model.Object, error) {
	var o model.Object
	err := c.call(ctx, http.MethodGet, fmt.Sprintf("/objects/%s/%s", bucketID, name), cond, &o)
	return o, err
}

func (c *HTTPClient) CreateObject(ctx context.Context, obj model.Object, cond model.Conditions) (model.Object, error) {
	var o model.Object
	payload := struct {
		Object     model.Object      `json:"object"`
		Conditions model.Conditions `json:"conditions"`
	}{obj, cond}
	err := c.call(ctx, http.MethodPut, fmt.Sprintf("/objects/%s/%s", obj.BucketID, obj.Name), payload, &o)
	return o, err
}

func (c *HTTPClient) DeleteObject(ctx context.Context, bucketID, objectID string) error {
	return c.call(ctx, http.MethodDelete, fmt.Sprintf("/objects/%s/%s", bucketID, objectID), nil, nil)
}

func (c *HTTPClient) UpdateObject(ctx context.Context, bucketID, objectID string, headers map[string]string) (model.Object, error) {
	var o model.Object
	err := c.call(ctx, http.MethodPut, fmt.Sprintf("/objects/%s/%s/metadata", bucketID, objectID), headers, &o)
	return o, err
}

func (c *HTTPClient) ListObjectsPage(ctx context.Context, bucketID, prefix, marker string, limit int) (PageResult, error) {
	var r PageResult
	err := c.call(ctx, http.MethodGet, fmt.Sprintf("/objects/%s?prefix=%s&marker=%s&limit=%d", bucketID, prefix, marker, limit), nil, &r)
	return r, err
}
