// Package nats implements the replay queue port using NATS JetStream.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/forgeapp/forgeapp/internal/domain/delivery"
)

const (
	streamName    = "FORGEAPP"
	replaySubject = "deliveries.replay"
)

// Queue implements replayqueue.Queue on a JetStream stream so requeued
// deliveries survive a process restart.
type Queue struct {
	nc *nats.Conn
	js jetstream.JetStream
}

// Connect establishes a connection to NATS and ensures the JetStream stream exists.
func Connect(ctx context.Context, url string) (*Queue, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     streamName,
		Subjects: []string{"deliveries.>"},
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream stream create: %w", err)
	}

	slog.Info("nats connected", "url", url, "stream", streamName)
	return &Queue{nc: nc, js: js}, nil
}

// Enqueue publishes a replay command for out-of-band reprocessing.
func (q *Queue) Enqueue(ctx context.Context, cmd delivery.ReplayCommand) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal replay command: %w", err)
	}
	if _, err := q.js.Publish(ctx, replaySubject, data); err != nil {
		return fmt.Errorf("nats publish %s: %w", replaySubject, err)
	}
	return nil
}

// ConsumeReplays registers handler for queued replay commands on a durable
// consumer. Handler errors NAK the message so JetStream redelivers it.
func (q *Queue) ConsumeReplays(ctx context.Context, handler func(ctx context.Context, cmd delivery.ReplayCommand) error) (func(), error) {
	consumer, err := q.js.CreateOrUpdateConsumer(ctx, streamName, jetstream.ConsumerConfig{
		Durable:       "forgeapp-replay",
		FilterSubject: replaySubject,
		AckPolicy:     jetstream.AckExplicitPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("nats consumer create: %w", err)
	}

	cons, err := consumer.Consume(func(msg jetstream.Msg) {
		var cmd delivery.ReplayCommand
		if err := json.Unmarshal(msg.Data(), &cmd); err != nil {
			slog.Error("replay message malformed, dropping", "error", err)
			if termErr := msg.Term(); termErr != nil {
				slog.Error("nats term failed", "error", termErr)
			}
			return
		}
		if err := handler(ctx, cmd); err != nil {
			slog.Error("replay handler failed", "delivery_id", cmd.Command.DeliveryID, "attempt", cmd.Attempt, "error", err)
			if nakErr := msg.Nak(); nakErr != nil {
				slog.Error("nats nak failed", "error", nakErr)
			}
			return
		}
		if ackErr := msg.Ack(); ackErr != nil {
			slog.Error("nats ack failed", "error", ackErr)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("nats consume: %w", err)
	}

	return cons.Stop, nil
}

// Close shuts down the NATS connection.
func (q *Queue) Close() error {
	q.nc.Close()
	return nil
}
