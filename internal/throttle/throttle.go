// Package throttle bounds concurrent in-flight requests behind a
// fixed number of slots and a FIFO wait queue, in the style of the
// rate-limiting middleware in generic-handlers.go (rateLimit /
// setRateLimitHandler), generalized from a token-bucket limiter to an
// admission-slot + queue model with observable probes (spec.md §4.8).
package throttle

import (
	"net/http"
	"strconv"

	"github.com/synapsestore/objectgw/internal/apierrors"
)

// Observer is notified of throttle lifecycle events so metrics and
// tests can observe admission behavior without coupling to it.
type Observer interface {
	OnClientClose()
	OnSocketTimeout()
	OnThrottle()
	OnQueueEnter()
	OnQueueLeave()
}

// NopObserver implements Observer with no-ops.
type NopObserver struct{}

func (NopObserver) OnClientClose()   {}
func (NopObserver) OnSocketTimeout() {}
func (NopObserver) OnThrottle()      {}
func (NopObserver) OnQueueEnter()    {}
func (NopObserver) OnQueueLeave()    {}

// Throttle admits up to slots concurrent callers; callers beyond that
// wait in a FIFO queue up to queueSize deep. A caller that cannot even
// enter the queue is rejected immediately.
type Throttle struct {
	slots    chan struct{}
	queue    chan struct{}
	observer Observer
}

// New builds a Throttle with slots concurrent admissions and a wait
// queue queueSize deep.
func New(slots, queueSize int, observer Observer) *Throttle {
	if observer == nil {
		observer = NopObserver{}
	}
	return &Throttle{
		slots:    make(chan struct{}, slots),
		queue:    make(chan struct{}, queueSize),
		observer: observer,
	}
}

// Acquire blocks until a slot is available or the request's context is
// canceled. ok is false if admission was refused outright because the
// wait queue itself was full.
func (t *Throttle) Acquire(r *http.Request) (release func(), ok bool, err *apierrors.Error) {
	select {
	case t.slots <- struct{}{}:
		return func() { <-t.slots }, true, nil
	default:
	}

	select {
	case t.queue <- struct{}{}:
	default:
		t.observer.OnThrottle()
		return nil, false, apierrors.Throttled()
	}
	t.observer.OnQueueEnter()
	defer func() {
		<-t.queue
		t.observer.OnQueueLeave()
	}()

	select {
	case t.slots <- struct{}{}:
		return func() { <-t.slots }, true, nil
	case <-r.Context().Done():
		t.observer.OnClientClose()
		return nil, false, apierrors.ClientClosedRequest()
	}
}

// Middleware wraps h, admitting requests through t before they reach
// the handler and rejecting with ThrottledError when the queue is also
// full (spec.md §4.8).
func (t *Throttle) Middleware(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		release, ok, apiErr := t.Acquire(r)
		if !ok {
			writeThrottleError(w, apiErr)
			return
		}
		defer release()
		h.ServeHTTP(w, r)
	})
}

func writeThrottleError(w http.ResponseWriter, apiErr *apierrors.Error) {
	if apiErr == nil {
		apiErr = apierrors.Internal(nil)
	}
	if apiErr.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(apiErr.RetryAfter))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apiErr.Status)
	_, _ = w.Write([]byte(`{"code":"` + string(apiErr.Code) + `","message":"` + apiErr.Message + `"}`))
}
