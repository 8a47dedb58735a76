package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestObserveRequestAppearsInScrape(t *testing.T) {
	m := New()
	m.ObserveRequest("GET", "200", 12.5, 4.0)
	m.AddInboundBytes(1024)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	if !strings.Contains(body, "http_requests_completed") {
		t.Fatalf("expected http_requests_completed in scrape output, got:\n%s", body)
	}
	if !strings.Contains(body, "inbound_streamed_bytes 1024") {
		t.Fatalf("expected inbound_streamed_bytes 1024 in scrape output, got:\n%s", body)
	}
}

func TestThrottleObserverAdjustsQueueGauge(t *testing.T) {
	m := New()
	obs := m.AsThrottleObserver()
	obs.OnQueueEnter()
	obs.OnThrottle()

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	if !strings.Contains(body, "throttle_queue_depth 1") {
		t.Fatalf("expected throttle_queue_depth 1, got:\n%s", body)
	}
	if !strings.Contains(body, "throttle_rejections_total 1") {
		t.Fatalf("expected throttle_rejections_total 1, got:\n%s", body)
	}
}
