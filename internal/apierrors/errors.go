// Package apierrors is the gateway's stable externally-visible error
// taxonomy. Every pipeline stage returns a *Error instead of a bare
// error so that handlers never have to re-derive an HTTP status from a
// collaborator's error string.
package apierrors

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/dustin/go-humanize"
)

// Code is a stable, externally-visible error code string.
type Code string

const (
	CodeBucketAlreadyExists  Code = "BucketAlreadyExists"
	CodeBucketNotFound       Code = "BucketNotFound"
	CodeBucketNotEmpty       Code = "BucketNotEmpty"
	CodeInvalidBucketName    Code = "InvalidBucketName"
	CodeObjectNotFound       Code = "ObjectNotFound"
	CodeInvalidObjectName    Code = "InvalidObjectName"
	CodePreconditionFailed   Code = "PreconditionFailed"
	CodeConcurrentRequest    Code = "ConcurrentRequest"
	CodeRangeNotSatisfiable  Code = "RequestedRangeNotSatisfiable"
	CodeServiceUnavailable   Code = "ServiceUnavailable"
	CodeThrottled            Code = "Throttled"
	CodeInternalError        Code = "InternalError"
	CodeBadRequest           Code = "BadRequest"
	CodeMissingContentLength Code = "MissingContentLength"
	CodeEntityTooLarge       Code = "EntityTooLarge"
	CodeInvalidDigest        Code = "InvalidDigest"
	CodeBadDigest            Code = "BadDigest"
	CodeChecksumError        Code = "ChecksumError"
	CodeSharksExhausted      Code = "SharksExhausted"
	CodeUploadTimeout        Code = "UploadTimeout"
	CodeUploadAbandoned      Code = "UploadAbandoned"
	CodeAuthorizationFailed  Code = "AuthorizationFailed"
	CodeNotAuthenticated     Code = "NotAuthenticated"
	CodeStorageFull          Code = "StorageFull"
	CodeRequestTimeout       Code = "RequestTimeout"
	CodeClientClosedRequest  Code = "ClientClosedRequest"
)

// Error is the taxonomy value every mapped gateway error carries.
type Error struct {
	Code       Code
	Status     int
	Message    string
	RetryAfter int // seconds, 0 when absent
	Detail     map[string]string
	Cause      error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func newErr(code Code, status int, msg string) *Error {
	return &Error{Code: code, Status: status, Message: msg}
}

func BucketAlreadyExists(bucket string) *Error {
	e := newErr(CodeBucketAlreadyExists, http.StatusConflict, "bucket already exists")
	e.Detail = map[string]string{"bucket": bucket}
	return e
}

func BucketNotFound(bucket string) *Error {
	e := newErr(CodeBucketNotFound, http.StatusNotFound, "the specified bucket does not exist")
	e.Detail = map[string]string{"bucket": bucket}
	return e
}

func BucketNotEmpty(bucket string) *Error {
	e := newErr(CodeBucketNotEmpty, http.StatusConflict, "the bucket you tried to delete is not empty")
	e.Detail = map[string]string{"bucket": bucket}
	return e
}

func InvalidBucketName(name string) *Error {
	e := newErr(CodeInvalidBucketName, http.StatusUnprocessableEntity, "the specified bucket name is not valid")
	e.Detail = map[string]string{"name": name}
	return e
}

func ObjectNotFound(bucket, object string) *Error {
	e := newErr(CodeObjectNotFound, http.StatusNotFound, "the specified object does not exist")
	e.Detail = map[string]string{"bucket": bucket, "object": object}
	return e
}

func InvalidObjectName(name string) *Error {
	e := newErr(CodeInvalidObjectName, http.StatusUnprocessableEntity, "the specified object name is not valid")
	e.Detail = map[string]string{"name": name}
	return e
}

func PreconditionFailed() *Error {
	return newErr(CodePreconditionFailed, http.StatusPreconditionFailed, "a conditional request header was not satisfied")
}

func ConcurrentRequest() *Error {
	return newErr(CodeConcurrentRequest, http.StatusConflict, "the resource was concurrently modified, retry")
}

func RangeNotSatisfiable(contentRange string) *Error {
	e := newErr(CodeRangeNotSatisfiable, http.StatusRequestedRangeNotSatisfiable, "the requested range is not satisfiable")
	e.Detail = map[string]string{"content-range": contentRange}
	return e
}

func ServiceUnavailable(cause error) *Error {
	e := newErr(CodeServiceUnavailable, http.StatusServiceUnavailable, "the service is temporarily overloaded")
	e.Cause = cause
	return e
}

func Throttled() *Error {
	return newErr(CodeThrottled, http.StatusServiceUnavailable, "too many concurrent requests")
}

func Internal(cause error) *Error {
	e := newErr(CodeInternalError, http.StatusInternalServerError, "an internal error occurred")
	e.Cause = cause
	return e
}

func BadRequest(msg string) *Error {
	return newErr(CodeBadRequest, http.StatusBadRequest, msg)
}

func MissingContentLength() *Error {
	return newErr(CodeMissingContentLength, http.StatusLengthRequired, "Content-Length or max-content-length is required")
}

func EntityTooLarge(max int64) *Error {
	e := newErr(CodeEntityTooLarge, http.StatusRequestEntityTooLarge, fmt.Sprintf("object exceeds the maximum allowed size of %s", humanize.IBytes(uint64(max))))
	e.Detail = map[string]string{"max": fmt.Sprint(max)}
	return e
}

func InvalidDigest(md5 string) *Error {
	e := newErr(CodeInvalidDigest, http.StatusBadRequest, "the Content-MD5 you specified was invalid")
	e.Detail = map[string]string{"content-md5": md5}
	return e
}

func BadDigest(expected, got string) *Error {
	e := newErr(CodeBadDigest, http.StatusBadRequest, "the Content-MD5 you specified did not match what we received")
	e.Detail = map[string]string{"expected": expected, "computed": got}
	return e
}

func ChecksumError() *Error {
	return newErr(CodeChecksumError, http.StatusBadRequest, "a storage node rejected the upload on checksum mismatch")
}

func SharksExhausted() *Error {
	e := newErr(CodeSharksExhausted, http.StatusServiceUnavailable, "no candidate storage node set could satisfy the durability level")
	e.RetryAfter = 30
	return e
}

func UploadTimeout() *Error {
	return newErr(CodeUploadTimeout, http.StatusRequestTimeout, "no bytes observed on the upload stream before the idle timeout")
}

func UploadAbandoned() *Error {
	return newErr(CodeUploadAbandoned, http.StatusBadRequest, "the client disconnected before the upload completed")
}

func AuthorizationFailed(action, resource string) *Error {
	e := newErr(CodeAuthorizationFailed, http.StatusForbidden, "not authorized to perform this action")
	e.Detail = map[string]string{"action": action, "resource": resource}
	return e
}

func NotAuthenticated() *Error {
	return newErr(CodeNotAuthenticated, http.StatusUnauthorized, "request could not be authenticated")
}

func StorageFull() *Error {
	return newErr(CodeStorageFull, http.StatusInsufficientStorage, "storage backend has reached its minimum free threshold")
}

func RequestTimeout() *Error {
	return newErr(CodeRequestTimeout, http.StatusRequestTimeout, "socket idle timeout")
}

func ClientClosedRequest() *Error {
	return newErr(CodeClientClosedRequest, 499, "client closed the connection")
}

// FromShardError translates an error name returned by a shard or
// storage-node RPC into a gateway Error, per the mapping table.
// overloaded is the collaborator-supplied backpressure hint that
// disambiguates otherwise identical source names.
func FromShardError(name string, overloaded bool, cause error) *Error {
	switch name {
	case "BucketAlreadyExists":
		return &Error{Code: CodeBucketAlreadyExists, Status: http.StatusConflict, Message: name, Cause: cause}
	case "BucketNotFound":
		return &Error{Code: CodeBucketNotFound, Status: http.StatusNotFound, Message: name, Cause: cause}
	case "BucketNotEmpty":
		return &Error{Code: CodeBucketNotEmpty, Status: http.StatusConflict, Message: name, Cause: cause}
	case "ObjectNotFound":
		return &Error{Code: CodeObjectNotFound, Status: http.StatusNotFound, Message: name, Cause: cause}
	case "PreconditionFailed":
		return &Error{Code: CodePreconditionFailed, Status: http.StatusPreconditionFailed, Message: name, Cause: cause}
	case "EtagConflict", "UniqueAttribute":
		return &Error{Code: CodeConcurrentRequest, Status: http.StatusConflict, Message: name, Cause: cause}
	case "RequestedRangeNotSatisfiable":
		return &Error{Code: CodeRangeNotSatisfiable, Status: http.StatusRequestedRangeNotSatisfiable, Message: name, Cause: cause}
	case "NoDatabasePeers":
		if overloaded {
			return &Error{Code: CodeServiceUnavailable, Status: http.StatusServiceUnavailable, Message: name, Cause: cause}
		}
		return &Error{Code: CodeInternalError, Status: http.StatusInternalServerError, Message: name, Cause: cause}
	case "Throttled":
		return &Error{Code: CodeThrottled, Status: http.StatusServiceUnavailable, Message: name, Cause: cause}
	default:
		return Internal(cause)
	}
}

// As reports whether err is (or wraps) an *Error, mirroring errors.As
// without forcing every call site to declare the target variable.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
