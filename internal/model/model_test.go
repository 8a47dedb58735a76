package model

import (
	"testing"
	"time"
)

func TestObjectEtagIsID(t *testing.T) {
	o := Object{ID: "abc-123"}
	if o.Etag() != "abc-123" {
		t.Fatalf("got %q", o.Etag())
	}
}

func TestConditionsEmpty(t *testing.T) {
	if !(Conditions{}).Empty() {
		t.Fatal("zero-value Conditions must be Empty")
	}
	if (Conditions{IfMatch: []string{"x"}}).Empty() {
		t.Fatal("If-Match present must not be Empty")
	}
	if (Conditions{HasIfModified: true}).Empty() {
		t.Fatal("If-Modified-Since present must not be Empty")
	}
}

func TestMetadataSubsetForPeekDropsIfModifiedSince(t *testing.T) {
	c := Conditions{
		IfMatch:           []string{"etag1"},
		IfNoneMatch:       []string{"etag2"},
		IfModifiedSince:   time.Unix(1000, 0),
		HasIfModified:     true,
		IfUnmodifiedSince: time.Unix(2000, 0),
		HasIfUnmodified:   true,
	}
	sub := c.MetadataSubsetForPeek()
	if len(sub.IfMatch) != 1 || len(sub.IfNoneMatch) != 1 {
		t.Fatalf("expected If-Match/If-None-Match to carry over, got %+v", sub)
	}
	if !sub.HasIfUnmodified || sub.IfUnmodifiedSince != c.IfUnmodifiedSince {
		t.Fatalf("expected If-Unmodified-Since to carry over, got %+v", sub)
	}
	if sub.HasIfModified || !sub.IfModifiedSince.IsZero() {
		t.Fatalf("the metadata peek must not see If-Modified-Since, got %+v", sub)
	}
}
