package pipeline

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/synapsestore/objectgw/internal/apierrors"
)

var bucketLabel = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?$`)

// ValidateBucketName enforces spec.md §3's bucket-name grammar: 3-63
// chars, dot-separated lowercase labels, no NUL byte, and must not
// resemble an IPv4 address (grounded in the IsValidBucketName shape in
// object-api-datatypes.go, generalized to this core's rules).
func ValidateBucketName(name string) *apierrors.Error {
	if len(name) < 3 || len(name) > 63 {
		return apierrors.InvalidBucketName(name)
	}
	if strings.Contains(name, "\x00") {
		return apierrors.InvalidBucketName(name)
	}
	for _, label := range strings.Split(name, ".") {
		if !bucketLabel.MatchString(label) {
			return apierrors.InvalidBucketName(name)
		}
	}
	if looksLikeIPv4(name) {
		return apierrors.InvalidBucketName(name)
	}
	return nil
}

func looksLikeIPv4(name string) bool {
	parts := strings.Split(name, ".")
	if len(parts) != 4 {
		return false
	}
	for _, p := range parts {
		if len(p) == 0 || len(p) > 3 {
			return false
		}
		if _, err := strconv.Atoi(p); err != nil {
			return false
		}
	}
	return true
}

// ValidateObjectName enforces spec.md §3: 1-1024 UTF-8 bytes, no NUL.
func ValidateObjectName(name string) *apierrors.Error {
	if len(name) < 1 || len(name) > 1024 {
		return apierrors.InvalidObjectName(name)
	}
	if strings.Contains(name, "\x00") {
		return apierrors.InvalidObjectName(name)
	}
	return nil
}
