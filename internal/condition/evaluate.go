package condition

import (
	"time"

	"github.com/synapsestore/objectgw/internal/apierrors"
	"github.com/synapsestore/objectgw/internal/model"
)

// EvaluatePeek checks the metadata-tier subset of conditions
// (If-Match, If-None-Match, If-Unmodified-Since) against an object
// retrieved during maybeGetObject, returning PreconditionFailed if any
// fails (spec.md §4.6 maybeGetObject).
func EvaluatePeek(c model.Conditions, obj model.Object) *apierrors.Error {
	etag := obj.Etag()
	if len(c.IfMatch) > 0 && !etagMatches(c.IfMatch, etag) {
		return apierrors.PreconditionFailed()
	}
	if len(c.IfNoneMatch) > 0 && etagMatches(c.IfNoneMatch, etag) {
		return apierrors.PreconditionFailed()
	}
	if c.HasIfUnmodified && objectModifiedSince(obj.Modified, c.IfUnmodifiedSince) {
		return apierrors.PreconditionFailed()
	}
	return nil
}

// ShouldRespond304 reports whether a GET/HEAD response should be
// converted to 304 Not Modified: If-None-Match matched, or the object's
// last-modified is no more than one second after If-Modified-Since (so
// an If-Modified-Since equal to, or up to one second before,
// last-modified also yields 304) (spec.md §4.6 conditionalHandler).
func ShouldRespond304(c model.Conditions, obj model.Object) bool {
	etag := obj.Etag()
	if len(c.IfNoneMatch) > 0 && etagMatches(c.IfNoneMatch, etag) {
		return true
	}
	if c.HasIfModified && !objectModifiedSince(obj.Modified, c.IfModifiedSince) {
		return true
	}
	return false
}

// objectModifiedSince reports whether objTime is more than one second
// after givenTime; the one-second tolerance absorbs HTTP-date headers
// carrying no sub-second precision (grounded in
// object-handlers-common.go's ifModifiedSince).
func objectModifiedSince(objTime, givenTime time.Time) bool {
	return objTime.After(givenTime.Add(time.Second))
}
