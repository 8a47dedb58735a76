// Package model holds the wire-level data types shared by the gateway's
// pipeline, shard clients, and handlers: buckets, objects, and the
// conditions a request can attach to them.
package model

import "time"

// ZeroByteMD5 is the canonical base64 MD5 of an empty body.
const ZeroByteMD5 = "1B2M2Y8AsgTpgAmY7PhCfg=="

// Bucket is an owner-scoped flat keyspace of objects.
type Bucket struct {
	ID    string    `json:"id"`
	Name  string    `json:"name"`
	Owner string    `json:"owner"`
	Mtime time.Time `json:"mtime"`
	Type  string    `json:"type"`
}

// Shark identifies one storage node holding a replica of an object body.
type Shark struct {
	Datacenter string `json:"datacenter"`
	StorageID  string `json:"storage_id"`
}

// Object is a bucket object's metadata record.
type Object struct {
	ID                   string            `json:"id"`
	Name                 string            `json:"name"`
	NameHash             string            `json:"name_hash"`
	BucketID             string            `json:"bucket_id"`
	Owner                string            `json:"owner"`
	ContentLength        int64             `json:"content_length"`
	ContentMD5           string            `json:"content_md5"`
	ContentType          string            `json:"content_type"`
	Headers              map[string]string `json:"headers"`
	Sharks               []Shark           `json:"sharks"`
	StorageLayoutVersion int               `json:"storage_layout_version"`
	DurabilityLevel      int               `json:"durability_level"`
	Created              time.Time         `json:"created"`
	Modified             time.Time         `json:"modified"`
	Roles                []string          `json:"roles"`
}

// Etag returns the object's entity tag, which is its UUID.
func (o Object) Etag() string { return o.ID }

// Conditions is the parsed set of If-* headers attached to a request.
// Etag values have already had weak prefixes and surrounding quotes
// stripped.
type Conditions struct {
	IfMatch           []string
	IfNoneMatch       []string
	IfModifiedSince   time.Time
	IfUnmodifiedSince time.Time
	HasIfModified     bool
	HasIfUnmodified   bool
}

// Empty reports whether no conditional header was present on the request.
func (c Conditions) Empty() bool {
	return len(c.IfMatch) == 0 && len(c.IfNoneMatch) == 0 && !c.HasIfModified && !c.HasIfUnmodified
}

// MetadataSubsetForPeek returns the subset of conditions the metadata
// tier accepts on the conditional peek issued before a create
// (If-Match, If-None-Match, If-Unmodified-Since per spec).
func (c Conditions) MetadataSubsetForPeek() Conditions {
	return Conditions{
		IfMatch:           c.IfMatch,
		IfNoneMatch:       c.IfNoneMatch,
		IfUnmodifiedSince: c.IfUnmodifiedSince,
		HasIfUnmodified:   c.HasIfUnmodified,
	}
}
