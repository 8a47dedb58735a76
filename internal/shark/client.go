// Package shark is the per-storage-node HTTP client used to PUT and
// GET object bodies. It retries connection-time errors up to a small
// budget but never retries once a body has started streaming, per
// SPEC_FULL §4.3 / spec.md §7.
package shark

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// Descriptor identifies one storage node candidate, as handed out by
// the external storage-node chooser.
type Descriptor struct {
	Datacenter string
	StorageID  string
	BaseURL    string
}

// PutResult is what a storage node reports back after accepting a PUT.
type PutResult struct {
	StatusCode  int
	ReportedMD5 string
}

// ErrChecksum is returned when the node rejects the upload with its
// checksum-mismatch status code (469 per spec.md §4.6 sharkStreams).
var ErrChecksum = fmt.Errorf("shark: storage node rejected upload on checksum mismatch")

// ErrBadDigest is returned when the node rejects the upload with 400
// and the request carried a Content-MD5 header, distinguishing a
// client-supplied bad digest from a generic node failure (spec.md
// §4.6 sharkStreams).
var ErrBadDigest = fmt.Errorf("shark: storage node rejected the request's Content-MD5")

// Client talks to one storage node.
type Client struct {
	HTTP        *http.Client
	RetryBudget int
}

func NewClient() *Client {
	return &Client{
		HTTP: &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
			},
		},
		RetryBudget: 2,
	}
}

// Put streams body to the node at path. It retries connection-time
// failures (the request never reached the server) up to RetryBudget
// times; once any byte of the response has started arriving, the
// caller owns recovery.
func (c *Client) Put(ctx context.Context, node Descriptor, path string, body io.Reader, size int64, clientMD5 string) (PutResult, error) {
	var lastErr error
	for attempt := 0; attempt <= c.RetryBudget; attempt++ {
		res, err := c.put(ctx, node, path, body, size, clientMD5)
		if err == nil {
			return res, nil
		}
		var opErr *net.OpError
		if !errors.As(err, &opErr) || opErr.Op != "dial" {
			return res, err
		}
		lastErr = err
		if attempt < c.RetryBudget {
			continue
		}
	}
	return PutResult{}, lastErr
}

func (c *Client) put(ctx context.Context, node Descriptor, path string, body io.Reader, size int64, clientMD5 string) (PutResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, node.BaseURL+path, body)
	if err != nil {
		return PutResult{}, err
	}
	req.ContentLength = size
	if clientMD5 != "" {
		req.Header.Set("Content-MD5", clientMD5)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return PutResult{}, err
	}
	defer resp.Body.Close()

	result := PutResult{StatusCode: resp.StatusCode, ReportedMD5: resp.Header.Get("X-Storage-MD5")}
	if resp.StatusCode == 469 {
		return result, ErrChecksum
	}
	if resp.StatusCode == http.StatusBadRequest && clientMD5 != "" {
		return result, ErrBadDigest
	}
	if resp.StatusCode >= 400 {
		return result, fmt.Errorf("shark: storage node %s returned status %d", node.StorageID, resp.StatusCode)
	}
	return result, nil
}

// Get opens a read stream from the node at path.
func (c *Client) Get(ctx context.Context, node Descriptor, path string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, node.BaseURL+path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		resp.Body.Close()
		return nil, fmt.Errorf("shark: storage node %s returned status %d", node.StorageID, resp.StatusCode)
	}
	return resp.Body, nil
}
