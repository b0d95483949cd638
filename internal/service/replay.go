package service

import (
	"context"
	"errors"
	"log/slog"

	cfotel "github.com/forgeapp/forgeapp/internal/adapter/otel"
	"github.com/forgeapp/forgeapp/internal/domain"
	"github.com/forgeapp/forgeapp/internal/domain/delivery"
	"github.com/forgeapp/forgeapp/internal/port/replayqueue"
)

// DefaultMaxReplayAttempts is used when the configured limit is zero or
// negative, so a misconfiguration cannot silently disable retries.
const DefaultMaxReplayAttempts = 3

// ReplayService re-drives failed deliveries through the processing pipeline,
// requeueing on failure until the attempt limit is reached.
type ReplayService struct {
	processor   *ProcessService
	queue       replayqueue.Queue
	metrics     *cfotel.Metrics
	log         *slog.Logger
	maxAttempts int
}

// NewReplayService creates a ReplayService. maxAttempts <= 0 selects
// DefaultMaxReplayAttempts.
func NewReplayService(processor *ProcessService, queue replayqueue.Queue, metrics *cfotel.Metrics, log *slog.Logger, maxAttempts int) *ReplayService {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxReplayAttempts
	}
	if log == nil {
		log = slog.Default()
	}
	return &ReplayService{
		processor:   processor,
		queue:       queue,
		metrics:     metrics,
		log:         log,
		maxAttempts: maxAttempts,
	}
}

// Replay processes one replay command. Already-persisted deliveries succeed
// immediately via the pipeline's duplicate check. On pipeline failure the
// command is requeued with the attempt count incremented and a
// replay_retry_scheduled soft failure is returned, until the attempt limit
// turns the failure terminal.
func (s *ReplayService) Replay(ctx context.Context, cmd delivery.ReplayCommand) (*ProcessResult, error) {
	res, err := s.processor.Process(ctx, cmd.Command)
	if err == nil {
		return res, nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil, err
	}

	next := cmd.Attempt + 1
	if next >= s.maxAttempts {
		if s.metrics != nil {
			s.metrics.ReplaysExhausted.Add(ctx, 1)
		}
		s.log.Error("replay attempts exhausted",
			"delivery_id", cmd.Command.DeliveryID, "attempt", cmd.Attempt, "max_attempts", s.maxAttempts, "error", err)
		return nil, domain.WrapCoded(domain.CodeReplayMaxAttempts, err,
			"delivery %s failed after %d attempts", cmd.Command.DeliveryID, next)
	}

	requeued := delivery.ReplayCommand{Command: cmd.Command, Attempt: next}
	if qerr := s.queue.Enqueue(ctx, requeued); qerr != nil {
		s.log.Error("replay enqueue failed",
			"delivery_id", cmd.Command.DeliveryID, "attempt", next, "error", qerr)
		return nil, domain.WrapCoded(domain.CodeReplayEnqueueFailed, qerr,
			"requeue delivery %s at attempt %d", cmd.Command.DeliveryID, next)
	}

	if s.metrics != nil {
		s.metrics.ReplaysScheduled.Add(ctx, 1)
	}
	s.log.Warn("replay scheduled",
		"delivery_id", cmd.Command.DeliveryID, "attempt", next, "error", err)
	return nil, domain.WrapCoded(domain.CodeReplayScheduled, err,
		"delivery %s requeued at attempt %d", cmd.Command.DeliveryID, next)
}
