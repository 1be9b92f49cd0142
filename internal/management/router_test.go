package management_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/amq-core/brokerqueue/internal/dedup/deduptest"
	"github.com/amq-core/brokerqueue/internal/limiter/limitertest"
	"github.com/amq-core/brokerqueue/internal/management"
	"github.com/amq-core/brokerqueue/internal/monitor"
	"github.com/amq-core/brokerqueue/internal/persister/memory"
	"github.com/amq-core/brokerqueue/internal/queue"
	"github.com/amq-core/brokerqueue/internal/registry"
)

func newTestRouter(t *testing.T) (*management.Deps, http.Handler) {
	t.Helper()
	reg := registry.New(queue.Config{}, memory.New(), limitertest.New(), zap.NewNop())
	deps := &management.Deps{
		Registry: reg,
		Monitor:  monitor.New(),
		Dedup:    deduptest.New(),
		Logger:   zap.NewNop(),
	}
	return deps, management.NewRouter(deps)
}

func declareQueue(t *testing.T, router http.Handler, name string) {
	t.Helper()
	body, _ := json.Marshal(map[string]any{"name": name})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/queues", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("declare %s: expected 201, got %d: %s", name, rec.Code, rec.Body.String())
	}
}

func TestHealthHandlerOKWithoutDependencies(t *testing.T) {
	_, router := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestDeclareListGetDeleteQueueLifecycle(t *testing.T) {
	_, router := newTestRouter(t)

	body, _ := json.Marshal(map[string]any{"name": "orders"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/queues", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 from declare, got %d: %s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/queues", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from list, got %d", rec.Code)
	}
	var listResp struct {
		Queues []queue.Stats `json:"queues"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &listResp); err != nil {
		t.Fatalf("decode list response: %v", err)
	}
	if len(listResp.Queues) != 1 || listResp.Queues[0].Name != "orders" {
		t.Fatalf("expected orders in queue list, got %+v", listResp.Queues)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/queues/orders", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from get, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/queues/missing", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for a missing queue, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodDelete, "/api/v1/queues/orders", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from delete, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestPublishHandlerRoutesToDeclaredQueue(t *testing.T) {
	_, router := newTestRouter(t)
	declareQueue(t, router, "orders")

	publishBody, _ := json.Marshal(map[string]any{
		"body":    []byte("hello"),
		"headers": map[string]any{"x-origin": "router-test"},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/queues/orders/publish", bytes.NewReader(publishBody))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from publish, got %d: %s", rec.Code, rec.Body.String())
	}

	// No consumer is attached, so the message is buffered; purge drains it.
	req = httptest.NewRequest(http.MethodPost, "/api/v1/queues/orders/purge", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from purge, got %d", rec.Code)
	}
	var purgeResp struct {
		MessagesPurged int `json:"messages_purged"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &purgeResp); err != nil {
		t.Fatalf("decode purge response: %v", err)
	}
	if purgeResp.MessagesPurged != 1 {
		t.Fatalf("expected purge to drain the buffered message, got %d", purgeResp.MessagesPurged)
	}
}

// The same dedup key publishes once; the retry is acknowledged but
// skipped.
func TestPublishDeduplicatesByKey(t *testing.T) {
	_, router := newTestRouter(t)
	declareQueue(t, router, "orders")

	publish := func() string {
		t.Helper()
		body, _ := json.Marshal(map[string]any{"body": []byte("hello"), "dedup_key": "confirm-1"})
		req := httptest.NewRequest(http.MethodPost, "/api/v1/queues/orders/publish", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("publish: expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		var resp struct {
			Outcome string `json:"outcome"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode publish response: %v", err)
		}
		return resp.Outcome
	}

	if outcome := publish(); outcome == "duplicate_skipped" {
		t.Fatalf("expected the first publish to go through, got %q", outcome)
	}
	if outcome := publish(); outcome != "duplicate_skipped" {
		t.Fatalf("expected the retry to be skipped as a duplicate, got %q", outcome)
	}
}

func TestClaimQueueEndpoint(t *testing.T) {
	_, router := newTestRouter(t)
	declareQueue(t, router, "orders")

	claim := func(channelID string) *httptest.ResponseRecorder {
		t.Helper()
		target := "/api/v1/queues/orders/claim"
		if channelID != "" {
			target += "?channel_id=" + channelID
		}
		req := httptest.NewRequest(http.MethodPost, target, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	if rec := claim(""); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without channel_id, got %d", rec.Code)
	}
	if rec := claim("ch1"); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from first claim, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec := claim("ch1"); rec.Code != http.StatusOK {
		t.Fatalf("expected re-claim by the owner to succeed, got %d", rec.Code)
	}
	if rec := claim("ch2"); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for a competing claim, got %d: %s", rec.Code, rec.Body.String())
	}
}
