package http

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/forgeapp/forgeapp/internal/domain"
	"github.com/forgeapp/forgeapp/internal/domain/delivery"
	"github.com/forgeapp/forgeapp/internal/port/deliverystore"
	"github.com/forgeapp/forgeapp/internal/port/replayqueue"
	"github.com/forgeapp/forgeapp/internal/service"
	"github.com/forgeapp/forgeapp/internal/signature"
)

// maxWebhookBody bounds inbound payload size. GitHub caps payloads at 25 MB.
const maxWebhookBody = 25 << 20

// Handlers bundles the HTTP endpoints and their service dependencies.
type Handlers struct {
	processor  *service.ProcessService
	deliveries deliverystore.Store
	queue      replayqueue.Queue
	secret     string
	log        *slog.Logger
}

// NewHandlers creates the endpoint set. secret is used to re-sign stored
// payloads for operator-triggered replays.
func NewHandlers(processor *service.ProcessService, deliveries deliverystore.Store, queue replayqueue.Queue, secret string, log *slog.Logger) *Handlers {
	if log == nil {
		log = slog.Default()
	}
	return &Handlers{
		processor:  processor,
		deliveries: deliveries,
		queue:      queue,
		secret:     secret,
		log:        log,
	}
}

type ackResponse struct {
	DeliveryID string `json:"delivery_id"`
	Duplicate  bool   `json:"duplicate,omitempty"`
}

// HandleGitHubWebhook receives one provider delivery, runs it through the
// processing pipeline and acknowledges per the pipeline outcome. Duplicates
// and handler failures still acknowledge with 202 so the provider does not
// resend an already-durable delivery.
func (h *Handlers) HandleGitHubWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "", "request body too large")
		return
	}

	cmd := delivery.ProcessCommand{
		DeliveryID:      r.Header.Get("X-GitHub-Delivery"),
		EventName:       r.Header.Get("X-GitHub-Event"),
		RawBody:         body,
		SignatureHeader: r.Header.Get("X-Hub-Signature-256"),
		DeliveredAt:     time.Now().UTC(),
	}

	// Action and installation id live in the payload, not headers. A parse
	// failure is fine here; signature validation still runs over raw bytes.
	var meta struct {
		Action       string `json:"action"`
		Installation struct {
			ID int64 `json:"id"`
		} `json:"installation"`
	}
	if err := json.Unmarshal(body, &meta); err == nil {
		cmd.Action = meta.Action
		cmd.InstallationID = meta.Installation.ID
	}

	res, err := h.processor.Process(r.Context(), cmd)
	if err != nil {
		h.writeProcessError(w, cmd.DeliveryID, err)
		return
	}
	writeJSON(w, http.StatusAccepted, ackResponse{DeliveryID: res.DeliveryID, Duplicate: res.Duplicate})
}

func (h *Handlers) writeProcessError(w http.ResponseWriter, deliveryID string, err error) {
	code := domain.Code(err)
	switch code {
	case domain.CodeSignatureInvalid:
		writeError(w, http.StatusUnauthorized, code, "signature verification failed")
	case domain.CodeSecretMissing:
		writeError(w, http.StatusServiceUnavailable, code, "webhook secret not configured")
	case domain.CodeStorageError:
		writeError(w, http.StatusServiceUnavailable, code, "delivery could not be stored")
	case domain.CodeDeliveryInvalid:
		writeError(w, http.StatusBadRequest, code, "delivery is malformed")
	default:
		h.log.Error("webhook processing failed", "delivery_id", deliveryID, "error", err)
		writeError(w, http.StatusInternalServerError, "", "internal server error")
	}
}

// ListDeliveries returns stored deliveries, newest first.
func (h *Handlers) ListDeliveries(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			writeError(w, http.StatusBadRequest, "", "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	var before time.Time
	if v := r.URL.Query().Get("before"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "", "before must be RFC 3339")
			return
		}
		before = t
	}

	items, err := h.deliveries.List(r.Context(), limit, before)
	if err != nil {
		h.log.Error("list deliveries failed", "error", err)
		writeError(w, http.StatusInternalServerError, "", "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deliveries": items})
}

// GetDelivery returns one stored delivery by id.
func (h *Handlers) GetDelivery(w http.ResponseWriter, r *http.Request) {
	d, err := h.deliveries.Get(r.Context(), urlParam(r, "id"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "", "delivery not found")
			return
		}
		h.log.Error("get delivery failed", "error", err)
		writeError(w, http.StatusInternalServerError, "", "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// ReplayDelivery requeues a stored delivery for reprocessing. The stored raw
// body is re-signed with the current secret so the pipeline's validation
// still holds.
func (h *Handlers) ReplayDelivery(w http.ResponseWriter, r *http.Request) {
	d, err := h.deliveries.Get(r.Context(), urlParam(r, "id"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "", "delivery not found")
			return
		}
		h.log.Error("load delivery for replay failed", "error", err)
		writeError(w, http.StatusInternalServerError, "", "internal server error")
		return
	}

	cmd := delivery.ReplayCommand{
		Command: delivery.ProcessCommand{
			DeliveryID:      d.DeliveryID,
			EventName:       d.EventName,
			Action:          d.Action,
			RawBody:         d.Payload,
			SignatureHeader: signature.Sign(d.Payload, h.secret),
			InstallationID:  d.InstallationID,
			DeliveredAt:     d.DeliveredAt,
		},
	}
	if err := h.queue.Enqueue(r.Context(), cmd); err != nil {
		h.log.Error("replay enqueue failed", "delivery_id", d.DeliveryID, "error", err)
		writeError(w, http.StatusServiceUnavailable, domain.CodeReplayEnqueueFailed, "replay could not be queued")
		return
	}
	writeJSON(w, http.StatusAccepted, ackResponse{DeliveryID: d.DeliveryID})
}

// Healthz is the liveness probe.
func (h *Handlers) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
