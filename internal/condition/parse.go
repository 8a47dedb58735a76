// Package condition parses If-* request headers into model.Conditions
// and evaluates them against object metadata, generalized from the
// checkPreconditions/checkCopyObjectPreconditions pair in
// object-handlers-common.go into a single reusable engine (spec.md
// §4.6 loadRequest / conditionalHandler, SPEC_FULL §4.8).
package condition

import (
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/synapsestore/objectgw/internal/model"
)

var quoted = regexp.MustCompile(`^\s*W/`)

// ParseHeaders builds a model.Conditions from the If-* headers on r.
func ParseHeaders(r *http.Request) model.Conditions {
	var c model.Conditions
	if v := r.Header.Get("If-Match"); v != "" {
		c.IfMatch = splitETagList(v)
	}
	if v := r.Header.Get("If-None-Match"); v != "" {
		c.IfNoneMatch = splitETagList(v)
	}
	if v := r.Header.Get("If-Modified-Since"); v != "" {
		if t, err := time.Parse(http.TimeFormat, v); err == nil {
			c.IfModifiedSince = t
			c.HasIfModified = true
		}
	}
	if v := r.Header.Get("If-Unmodified-Since"); v != "" {
		if t, err := time.Parse(http.TimeFormat, v); err == nil {
			c.IfUnmodifiedSince = t
			c.HasIfUnmodified = true
		}
	}
	return c
}

// splitETagList splits a comma-separated list of etags, stripping the
// weak-validator W/ prefix and surrounding quotes from each.
func splitETagList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, canonicalizeETag(p))
	}
	return out
}

// canonicalizeETag strips a leading weak-validator prefix and any
// surrounding whitespace/quotes from a single etag token.
func canonicalizeETag(etag string) string {
	etag = strings.TrimSpace(etag)
	etag = quoted.ReplaceAllString(etag, "")
	etag = strings.TrimSpace(etag)
	etag = strings.Trim(etag, `"`)
	return etag
}

func etagMatches(candidates []string, etag string) bool {
	for _, c := range candidates {
		if c == "*" || c == etag {
			return true
		}
	}
	return false
}
