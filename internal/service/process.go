// Package service implements the core use cases: processing inbound webhook
// deliveries, replaying failed ones, and caching installation tokens.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	cfotel "github.com/forgeapp/forgeapp/internal/adapter/otel"
	"github.com/forgeapp/forgeapp/internal/dispatch"
	"github.com/forgeapp/forgeapp/internal/domain"
	"github.com/forgeapp/forgeapp/internal/domain/delivery"
	"github.com/forgeapp/forgeapp/internal/port/deliverystore"
	"github.com/forgeapp/forgeapp/internal/port/idempotency"
	"github.com/forgeapp/forgeapp/internal/signature"
)

// DefaultIdempotencyTTL bounds how long a claimed delivery key blocks
// re-processing when nothing releases it.
const DefaultIdempotencyTTL = 24 * time.Hour

// ProcessResult is the outcome of a successfully processed delivery.
// Duplicate means the delivery was already persisted and nothing ran again.
type ProcessResult struct {
	DeliveryID string `json:"delivery_id"`
	Duplicate  bool   `json:"duplicate"`
}

// Pipeline stages. Each type wraps the previous one so a later stage cannot
// be constructed without passing through the earlier checks.
type validatedDelivery struct {
	cmd delivery.ProcessCommand
}

type uniqueDelivery struct {
	validatedDelivery
}

type persistedDelivery struct {
	uniqueDelivery
	stored *delivery.WebhookDelivery
}

// ProcessService drives a raw inbound delivery through signature validation,
// duplicate detection, durable persistence and handler dispatch.
type ProcessService struct {
	secret     string
	deliveries deliverystore.Store
	keys       idempotency.Store
	router     *dispatch.Router
	metrics    *cfotel.Metrics
	log        *slog.Logger
	ttl        time.Duration
	now        func() time.Time
}

// NewProcessService creates a ProcessService. A zero ttl falls back to
// DefaultIdempotencyTTL; metrics may be nil.
func NewProcessService(secret string, deliveries deliverystore.Store, keys idempotency.Store, router *dispatch.Router, metrics *cfotel.Metrics, log *slog.Logger, ttl time.Duration) *ProcessService {
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	if log == nil {
		log = slog.Default()
	}
	return &ProcessService{
		secret:     secret,
		deliveries: deliveries,
		keys:       keys,
		router:     router,
		metrics:    metrics,
		log:        log,
		ttl:        ttl,
		now:        time.Now,
	}
}

// Process runs the full pipeline for one inbound delivery. Idempotent
// re-delivery returns success with Duplicate set; handler failures inside
// routing never fail the pipeline because the delivery is already durable.
func (s *ProcessService) Process(ctx context.Context, cmd delivery.ProcessCommand) (*ProcessResult, error) {
	if s.metrics != nil {
		s.metrics.DeliveriesReceived.Add(ctx, 1)
	}

	validated, err := s.validate(cmd)
	if err != nil {
		return nil, err
	}

	unique, duplicate, err := s.checkDuplicate(ctx, validated)
	if err != nil {
		return nil, err
	}
	if duplicate {
		if s.metrics != nil {
			s.metrics.DeliveriesDuplicate.Add(ctx, 1)
		}
		s.log.Info("duplicate delivery skipped", "delivery_id", cmd.DeliveryID)
		return &ProcessResult{DeliveryID: cmd.DeliveryID, Duplicate: true}, nil
	}

	persisted, duplicate, err := s.persist(ctx, unique)
	if err != nil {
		return nil, err
	}
	if duplicate {
		if s.metrics != nil {
			s.metrics.DeliveriesDuplicate.Add(ctx, 1)
		}
		s.log.Info("delivery persisted concurrently elsewhere", "delivery_id", cmd.DeliveryID)
		return &ProcessResult{DeliveryID: cmd.DeliveryID, Duplicate: true}, nil
	}

	if err := s.route(ctx, persisted); err != nil {
		return nil, err
	}

	return &ProcessResult{DeliveryID: cmd.DeliveryID}, nil
}

func (s *ProcessService) validate(cmd delivery.ProcessCommand) (validatedDelivery, error) {
	if s.secret == "" {
		return validatedDelivery{}, domain.NewCoded(domain.CodeSecretMissing, "webhook secret is not configured")
	}
	if !signature.Validate(cmd.RawBody, cmd.SignatureHeader, s.secret) {
		return validatedDelivery{}, domain.NewCoded(domain.CodeSignatureInvalid, "signature mismatch for delivery %s", cmd.DeliveryID)
	}
	return validatedDelivery{cmd: cmd}, nil
}

func (s *ProcessService) checkDuplicate(ctx context.Context, v validatedDelivery) (uniqueDelivery, bool, error) {
	_, err := s.deliveries.Get(ctx, v.cmd.DeliveryID)
	switch {
	case err == nil:
		return uniqueDelivery{}, true, nil
	case errors.Is(err, domain.ErrNotFound):
		return uniqueDelivery{validatedDelivery: v}, false, nil
	default:
		return uniqueDelivery{}, false, domain.WrapCoded(domain.CodeStorageError, err, "duplicate check for delivery %s", v.cmd.DeliveryID)
	}
}

func (s *ProcessService) persist(ctx context.Context, u uniqueDelivery) (persistedDelivery, bool, error) {
	d, err := delivery.New(u.cmd, s.now().UTC())
	if err != nil {
		return persistedDelivery{}, false, err
	}

	if err := s.deliveries.Save(ctx, d); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			// Another instance won the race; their copy is as good as ours.
			return persistedDelivery{}, true, nil
		}
		return persistedDelivery{}, false, domain.WrapCoded(domain.CodeStorageError, err, "save delivery %s", d.DeliveryID)
	}

	// Secondary guard against the check-then-persist race. Best effort: the
	// durable save above is the source of truth.
	key := delivery.IdempotencyKey(d.DeliveryID)
	if _, err := s.keys.TryAcquire(ctx, key, s.ttl); err != nil {
		s.log.Warn("idempotency claim failed after persist", "delivery_id", d.DeliveryID, "error", err)
	}

	if s.metrics != nil {
		s.metrics.DeliveriesPersisted.Add(ctx, 1)
	}
	return persistedDelivery{uniqueDelivery: u, stored: d}, false, nil
}

// route hands the persisted delivery to the router. Routing problems are
// logged and metered but never propagate; the delivery is already durable and
// must be acknowledged. Cancellation is the one exception.
func (s *ProcessService) route(ctx context.Context, p persistedDelivery) error {
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("routing panicked: %v", r)
			}
		}()
		ectx := dispatch.NewContext(p.stored, s.log)
		return s.router.Dispatch(ctx, ectx)
	}()
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if s.metrics != nil {
		s.metrics.RoutingFailures.Add(ctx, 1)
	}
	s.log.Error("routing failed after persist", "delivery_id", p.stored.DeliveryID, "error", err)
	return nil
}
