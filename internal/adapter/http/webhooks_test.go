package http

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/forgeapp/forgeapp/internal/dispatch"
	"github.com/forgeapp/forgeapp/internal/domain"
	"github.com/forgeapp/forgeapp/internal/domain/delivery"
	"github.com/forgeapp/forgeapp/internal/service"
	"github.com/forgeapp/forgeapp/internal/signature"
)

const testSecret = "s3cr3t"

type memDeliveryStore struct {
	records map[string]*delivery.WebhookDelivery
}

func newMemDeliveryStore() *memDeliveryStore {
	return &memDeliveryStore{records: map[string]*delivery.WebhookDelivery{}}
}

func (s *memDeliveryStore) Get(_ context.Context, id string) (*delivery.WebhookDelivery, error) {
	if d, ok := s.records[id]; ok {
		return d, nil
	}
	return nil, domain.ErrNotFound
}

func (s *memDeliveryStore) Save(_ context.Context, d *delivery.WebhookDelivery) error {
	if _, ok := s.records[d.DeliveryID]; ok {
		return domain.ErrConflict
	}
	s.records[d.DeliveryID] = d
	return nil
}

func (s *memDeliveryStore) List(_ context.Context, limit int, _ time.Time) ([]delivery.WebhookDelivery, error) {
	out := make([]delivery.WebhookDelivery, 0, len(s.records))
	for _, d := range s.records {
		if len(out) == limit {
			break
		}
		out = append(out, *d)
	}
	return out, nil
}

type memIdemStore struct{ claimed map[string]bool }

func newMemIdemStore() *memIdemStore { return &memIdemStore{claimed: map[string]bool{}} }

func (s *memIdemStore) TryAcquire(_ context.Context, key string, _ time.Duration) (bool, error) {
	if s.claimed[key] {
		return false, nil
	}
	s.claimed[key] = true
	return true, nil
}

func (s *memIdemStore) Exists(_ context.Context, key string) (bool, error) { return s.claimed[key], nil }

func (s *memIdemStore) Release(_ context.Context, key string) error {
	delete(s.claimed, key)
	return nil
}

func (s *memIdemStore) CleanupExpired(_ context.Context) (int64, error) { return 0, nil }

type captureQueue struct {
	enqueued []delivery.ReplayCommand
}

func (q *captureQueue) Enqueue(_ context.Context, cmd delivery.ReplayCommand) error {
	q.enqueued = append(q.enqueued, cmd)
	return nil
}

type fixture struct {
	router http.Handler
	store  *memDeliveryStore
	queue  *captureQueue
	secret string
}

func newFixture(t *testing.T, secret string) *fixture {
	t.Helper()
	store := newMemDeliveryStore()
	queue := &captureQueue{}
	proc := service.NewProcessService(secret, store, newMemIdemStore(), dispatch.NewRouter(), nil, slog.Default(), time.Hour)
	h := NewHandlers(proc, store, queue, secret, slog.Default())

	r := chi.NewRouter()
	MountRoutes(r, h, nil)
	return &fixture{router: r, store: store, queue: queue, secret: secret}
}

func (f *fixture) postWebhook(t *testing.T, deliveryID string, body []byte, sig string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/github", bytes.NewReader(body))
	req.Header.Set("X-GitHub-Delivery", deliveryID)
	req.Header.Set("X-GitHub-Event", "issues")
	req.Header.Set("X-Hub-Signature-256", sig)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestWebhookAccepted(t *testing.T) {
	f := newFixture(t, testSecret)
	body := []byte(`{"action":"opened","installation":{"id":42}}`)

	rec := f.postWebhook(t, "d-1", body, signature.Sign(body, testSecret))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}

	var ack ackResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &ack); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if ack.DeliveryID != "d-1" || ack.Duplicate {
		t.Fatalf("ack %+v", ack)
	}

	stored, ok := f.store.records["d-1"]
	if !ok {
		t.Fatal("delivery not persisted")
	}
	if stored.Action != "opened" || stored.InstallationID != 42 {
		t.Fatalf("payload metadata not extracted: %+v", stored)
	}
}

func TestWebhookDuplicateStillAccepted(t *testing.T) {
	f := newFixture(t, testSecret)
	body := []byte(`{"action":"opened"}`)
	sig := signature.Sign(body, testSecret)

	if rec := f.postWebhook(t, "d-1", body, sig); rec.Code != http.StatusAccepted {
		t.Fatalf("first post: %d", rec.Code)
	}
	rec := f.postWebhook(t, "d-1", body, sig)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("duplicate post: %d", rec.Code)
	}

	var ack ackResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &ack)
	if !ack.Duplicate {
		t.Fatal("duplicate not flagged")
	}
}

func TestWebhookBadSignature(t *testing.T) {
	f := newFixture(t, testSecret)
	body := []byte(`{"action":"opened"}`)

	rec := f.postWebhook(t, "d-1", body, "sha256=deadbeef")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status %d", rec.Code)
	}

	var resp errorResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Code != domain.CodeSignatureInvalid {
		t.Fatalf("error code %q", resp.Code)
	}
	if len(f.store.records) != 0 {
		t.Fatal("rejected delivery was persisted")
	}
}

func TestWebhookMissingSecret(t *testing.T) {
	f := newFixture(t, "")
	body := []byte(`{}`)

	rec := f.postWebhook(t, "d-1", body, signature.Sign(body, "anything"))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestWebhookMissingDeliveryID(t *testing.T) {
	f := newFixture(t, testSecret)
	body := []byte(`{}`)

	rec := f.postWebhook(t, "", body, signature.Sign(body, testSecret))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestGetDelivery(t *testing.T) {
	f := newFixture(t, testSecret)
	body := []byte(`{"action":"opened"}`)
	f.postWebhook(t, "d-1", body, signature.Sign(body, testSecret))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/deliveries/d-1", nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/deliveries/absent", nil)
	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status %d for absent delivery", rec.Code)
	}
}

func TestListDeliveries(t *testing.T) {
	f := newFixture(t, testSecret)
	for _, id := range []string{"d-1", "d-2"} {
		body := []byte(`{"action":"opened"}`)
		f.postWebhook(t, id, body, signature.Sign(body, testSecret))
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/deliveries?limit=10", nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}

	var out struct {
		Deliveries []delivery.WebhookDelivery `json:"deliveries"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Deliveries) != 2 {
		t.Fatalf("expected 2 deliveries, got %d", len(out.Deliveries))
	}
}

func TestReplayDelivery(t *testing.T) {
	f := newFixture(t, testSecret)
	body := []byte(`{"action":"opened","installation":{"id":42}}`)
	f.postWebhook(t, "d-1", body, signature.Sign(body, testSecret))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/deliveries/d-1/replay", nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	if len(f.queue.enqueued) != 1 {
		t.Fatalf("expected one enqueued replay, got %d", len(f.queue.enqueued))
	}

	cmd := f.queue.enqueued[0].Command
	if cmd.DeliveryID != "d-1" || cmd.InstallationID != 42 {
		t.Fatalf("replay command %+v", cmd)
	}
	if !signature.Validate(cmd.RawBody, cmd.SignatureHeader, testSecret) {
		t.Fatal("replay command is not validly signed")
	}
}
