// Package pipeline is the request-handling core: a chain of
// explicit stages, each of which continues, short-circuits with a
// response, or fails with a taxonomy error (spec.md §4.6, DESIGN NOTES
// "Callback-chained pipeline → explicit stage interface").
package pipeline

import (
	"context"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/synapsestore/objectgw/internal/apierrors"
	"github.com/synapsestore/objectgw/internal/config"
	"github.com/synapsestore/objectgw/internal/model"
	"github.com/synapsestore/objectgw/internal/ring"
	"github.com/synapsestore/objectgw/internal/shard"
	"github.com/synapsestore/objectgw/internal/shark"
	"github.com/synapsestore/objectgw/internal/throttle"
)

// Observer is the single probe interface every stage reports through;
// it is throttle.Observer's own shape (DESIGN NOTES: "a single observer
// interface"), reused rather than duplicated.
type Observer = throttle.Observer

// Authorizer is the external authorization collaborator (spec.md §1
// Out of scope, §4.6 authorize).
type Authorizer interface {
	Authorize(ctx context.Context, owner, action, resource string, roles []string) error
}

// StorageChooser is the external storage-node inventory/chooser
// collaborator (spec.md §1 Out of scope, §4.6 findSharks). It returns
// one or more ordered candidate sets, each containing exactly replicas
// storage-node descriptors, for failover between sets, and resolves a
// previously-written model.Shark back to a dialable Descriptor for
// reads (its BaseURL may have moved since the write).
type StorageChooser interface {
	Choose(ctx context.Context, replicas int) ([][]shark.Descriptor, error)
	Resolve(ctx context.Context, sh model.Shark) (shark.Descriptor, error)
}

// Context is the per-process collaborator bundle threaded through
// every stage by pointer (spec.md DESIGN NOTES: "a context object
// threaded through every stage").
type Context struct {
	Log            *zap.Logger
	Ring           *ring.Ring
	Shards         *shard.Pool
	StorageChooser StorageChooser
	StorageAgent   *shark.Client
	Authz          Authorizer
	Config         *config.Config
	Probes         Observer
}

// Request carries everything one HTTP request accumulates as it moves
// through the stage chain.
type Request struct {
	HTTP *http.Request

	Login       string
	BucketName  string
	ObjectName  string
	RequestType string // "bucket" | "object" | "metadata"
	ActionName  string

	Conditions model.Conditions

	Bucket model.Bucket
	Object model.Object

	DurabilityLevel int
	ContentLength   int64
	Roles           []string

	Body io.Reader

	ResponseHeaders http.Header

	// CandidateSets is set by findSharks and consumed by
	// startSharkStreams; each inner slice has exactly DurabilityLevel
	// storage-node descriptors, ordered for failover across sets.
	CandidateSets [][]shark.Descriptor
}

// Decision is what a stage tells the driver to do next.
type Decision int

const (
	// Continue advances to the next stage in the chain.
	Continue Decision = iota
	// Respond short-circuits with a final response.
	Respond
	// Failed short-circuits with a taxonomy error.
	Failed
)

// Result is what a stage returns.
type Result struct {
	Decision Decision

	Status int
	Body   io.Reader

	Err *apierrors.Error
}

func ok() Result                       { return Result{Decision: Continue} }
func fail(err *apierrors.Error) Result { return Result{Decision: Failed, Err: err} }
func respond(status int) Result { return Result{Decision: Respond, Status: status} }

// Stage is one unit of the request pipeline.
type Stage func(ctx context.Context, pc *Context, req *Request) Result

// Run drives req through stages in order, stopping at the first stage
// that doesn't return Continue.
func Run(ctx context.Context, pc *Context, req *Request, stages []Stage) Result {
	for _, stage := range stages {
		res := stage(ctx, pc, req)
		if res.Decision != Continue {
			return res
		}
	}
	return ok()
}
