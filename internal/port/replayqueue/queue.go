// Package replayqueue defines the port for requeueing failed deliveries.
package replayqueue

import (
	"context"

	"github.com/forgeapp/forgeapp/internal/domain/delivery"
)

// Queue accepts replay commands for out-of-band re-processing.
type Queue interface {
	Enqueue(ctx context.Context, cmd delivery.ReplayCommand) error
}
