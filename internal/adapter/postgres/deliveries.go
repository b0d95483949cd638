package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/forgeapp/forgeapp/internal/domain"
	"github.com/forgeapp/forgeapp/internal/domain/delivery"
)

// uniqueViolation is the SQLSTATE for a unique-constraint violation.
const uniqueViolation = "23505"

// DeliveryStore implements deliverystore.Store using PostgreSQL.
type DeliveryStore struct {
	pool *pgxpool.Pool
}

// NewDeliveryStore creates a DeliveryStore backed by the given pool.
func NewDeliveryStore(pool *pgxpool.Pool) *DeliveryStore {
	return &DeliveryStore{pool: pool}
}

func (s *DeliveryStore) Get(ctx context.Context, deliveryID string) (*delivery.WebhookDelivery, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT delivery_id, event_name, action, payload, installation_id, delivered_at, received_at
		 FROM deliveries WHERE delivery_id = $1`, deliveryID)

	d, err := scanDelivery(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get delivery %s: %w", deliveryID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get delivery %s: %w", deliveryID, err)
	}
	return &d, nil
}

func (s *DeliveryStore) Save(ctx context.Context, d *delivery.WebhookDelivery) error {
	var installationID *int64
	if d.InstallationID != 0 {
		installationID = &d.InstallationID
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO deliveries (delivery_id, event_name, action, payload, installation_id, delivered_at, received_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		d.DeliveryID, d.EventName, d.Action, d.Payload, installationID, d.DeliveredAt, d.ReceivedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("save delivery %s: %w", d.DeliveryID, domain.ErrConflict)
		}
		return fmt.Errorf("save delivery %s: %w", d.DeliveryID, err)
	}
	return nil
}

func (s *DeliveryStore) List(ctx context.Context, limit int, before time.Time) ([]delivery.WebhookDelivery, error) {
	if before.IsZero() {
		before = time.Now()
	}
	rows, err := s.pool.Query(ctx,
		`SELECT delivery_id, event_name, action, payload, installation_id, delivered_at, received_at
		 FROM deliveries WHERE received_at < $1 ORDER BY received_at DESC LIMIT $2`, before, limit)
	if err != nil {
		return nil, fmt.Errorf("list deliveries: %w", err)
	}
	defer rows.Close()

	var deliveries []delivery.WebhookDelivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		deliveries = append(deliveries, d)
	}
	return deliveries, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDelivery(row rowScanner) (delivery.WebhookDelivery, error) {
	var d delivery.WebhookDelivery
	var installationID *int64
	if err := row.Scan(&d.DeliveryID, &d.EventName, &d.Action, &d.Payload, &installationID, &d.DeliveredAt, &d.ReceivedAt); err != nil {
		return delivery.WebhookDelivery{}, err
	}
	if installationID != nil {
		d.InstallationID = *installationID
	}
	return d, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
