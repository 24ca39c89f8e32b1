package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"wagate/internal/models"
)

// SaveWebhook inserts or updates a webhook. The unique (tenant_id,
// phone_number) pair means re-registering replaces the URL and resets the
// failure counter.
func (d *Database) SaveWebhook(ctx context.Context, wh *models.Webhook) error {
	return retryableDBOperation(ctx, func() error {
		_, err := d.db.ExecContext(ctx, UpsertWebhookQuery,
			wh.ID,
			wh.TenantID,
			wh.PhoneNumber,
			wh.URL,
			wh.IsActive,
			string(wh.Status),
			wh.MaxRetries,
		)
		if err != nil {
			return fmt.Errorf("failed to save webhook: %w", err)
		}
		return nil
	}, "save webhook")
}

func (d *Database) GetWebhookByID(ctx context.Context, id string) (*models.Webhook, error) {
	return d.scanWebhook(d.db.QueryRowContext(ctx, SelectWebhookByIDQuery, id))
}

// GetActiveWebhook returns the active webhook for a tenant/phone pair, or
// (nil, nil) when none is registered or the registration is disabled.
func (d *Database) GetActiveWebhook(ctx context.Context, tenantID int64, phoneNumber string) (*models.Webhook, error) {
	return d.scanWebhook(d.db.QueryRowContext(ctx, SelectActiveWebhookQuery, tenantID, phoneNumber))
}

func (d *Database) ListWebhooks(ctx context.Context, tenantID int64) ([]*models.Webhook, error) {
	rows, err := d.db.QueryContext(ctx, SelectWebhooksByTenantQuery, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhooks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var webhooks []*models.Webhook
	for rows.Next() {
		wh, err := d.scanWebhookRows(rows)
		if err != nil {
			return nil, err
		}
		webhooks = append(webhooks, wh)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate webhooks: %w", err)
	}
	return webhooks, nil
}

// SetWebhookActive toggles a webhook on or off for its owning tenant.
func (d *Database) SetWebhookActive(ctx context.Context, id string, tenantID int64, active bool) error {
	return retryableDBOperation(ctx, func() error {
		result, err := d.db.ExecContext(ctx, UpdateWebhookActiveQuery, active, id, tenantID)
		if err != nil {
			return fmt.Errorf("failed to toggle webhook: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get affected rows: %w", err)
		}
		if rows == 0 {
			return fmt.Errorf("no webhook found with ID: %s", id)
		}
		return nil
	}, "toggle webhook")
}

func (d *Database) DeleteWebhook(ctx context.Context, id string, tenantID int64) error {
	return retryableDBOperation(ctx, func() error {
		result, err := d.db.ExecContext(ctx, DeleteWebhookQuery, id, tenantID)
		if err != nil {
			return fmt.Errorf("failed to delete webhook: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get affected rows: %w", err)
		}
		if rows == 0 {
			return fmt.Errorf("no webhook found with ID: %s", id)
		}
		return nil
	}, "delete webhook")
}

// RecordWebhookSuccess resets the consecutive failure counter and clears a
// previous failed status.
func (d *Database) RecordWebhookSuccess(ctx context.Context, id string) error {
	return retryableDBOperation(ctx, func() error {
		_, err := d.db.ExecContext(ctx, RecordWebhookSuccessQuery, id)
		if err != nil {
			return fmt.Errorf("failed to record webhook success: %w", err)
		}
		return nil
	}, "record webhook success")
}

// RecordWebhookFailure bumps the failure counter and flips the webhook to
// failed once the counter reaches the threshold.
func (d *Database) RecordWebhookFailure(ctx context.Context, id string, errText string, failureThreshold int) error {
	return retryableDBOperation(ctx, func() error {
		_, err := d.db.ExecContext(ctx, RecordWebhookFailureQuery, errText, failureThreshold, id)
		if err != nil {
			return fmt.Errorf("failed to record webhook failure: %w", err)
		}
		return nil
	}, "record webhook failure")
}

// ReactivateWebhook clears a failed status so delivery can resume.
func (d *Database) ReactivateWebhook(ctx context.Context, id string) error {
	return retryableDBOperation(ctx, func() error {
		_, err := d.db.ExecContext(ctx, ReactivateWebhookQuery, id)
		if err != nil {
			return fmt.Errorf("failed to reactivate webhook: %w", err)
		}
		return nil
	}, "reactivate webhook")
}

// Webhook event operations

func (d *Database) SaveWebhookEvent(ctx context.Context, ev *models.WebhookEvent) error {
	return retryableDBOperation(ctx, func() error {
		_, err := d.db.ExecContext(ctx, InsertWebhookEventQuery,
			ev.ID,
			ev.WebhookID,
			ev.MessageID,
			ev.From,
			ev.To,
			ev.MessageType,
			ev.Payload,
			string(ev.Status),
		)
		if err != nil {
			return fmt.Errorf("failed to save webhook event: %w", err)
		}
		return nil
	}, "save webhook event")
}

func (d *Database) GetWebhookEvent(ctx context.Context, id string) (*models.WebhookEvent, error) {
	return d.scanWebhookEvent(d.db.QueryRowContext(ctx, SelectWebhookEventByIDQuery, id))
}

func (d *Database) MarkWebhookEventDelivered(ctx context.Context, id string, attemptCount, httpStatus int, response string) error {
	return retryableDBOperation(ctx, func() error {
		_, err := d.db.ExecContext(ctx, MarkWebhookEventDeliveredQuery, attemptCount, httpStatus, response, id)
		if err != nil {
			return fmt.Errorf("failed to mark webhook event delivered: %w", err)
		}
		return nil
	}, "mark webhook event delivered")
}

// MarkWebhookEventFailure records one failed attempt. A nil nextRetryAt
// with failed status means the event is dead and waits for a manual retry.
func (d *Database) MarkWebhookEventFailure(ctx context.Context, id string, status models.WebhookEventStatus, attemptCount int, httpStatus *int, errText string, nextRetryAt *time.Time) error {
	return retryableDBOperation(ctx, func() error {
		_, err := d.db.ExecContext(ctx, MarkWebhookEventFailureQuery,
			string(status), attemptCount, httpStatus, errText, nextRetryAt, id)
		if err != nil {
			return fmt.Errorf("failed to mark webhook event failure: %w", err)
		}
		return nil
	}, "mark webhook event failure")
}

// ResetWebhookEvent puts an event back to pending with a zeroed attempt
// counter, for operator-driven retries.
func (d *Database) ResetWebhookEvent(ctx context.Context, id string) error {
	return retryableDBOperation(ctx, func() error {
		result, err := d.db.ExecContext(ctx, ResetWebhookEventQuery, id)
		if err != nil {
			return fmt.Errorf("failed to reset webhook event: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get affected rows: %w", err)
		}
		if rows == 0 {
			return fmt.Errorf("no webhook event found with ID: %s", id)
		}
		return nil
	}, "reset webhook event")
}

func (d *Database) ListWebhookEvents(ctx context.Context, tenantID int64, limit, offset int) ([]*models.WebhookEvent, error) {
	rows, err := d.db.QueryContext(ctx, SelectWebhookEventsQuery, tenantID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhook events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []*models.WebhookEvent
	for rows.Next() {
		ev := &models.WebhookEvent{}
		err := rows.Scan(
			&ev.ID,
			&ev.WebhookID,
			&ev.MessageID,
			&ev.From,
			&ev.To,
			&ev.MessageType,
			&ev.Payload,
			&ev.Status,
			&ev.AttemptCount,
			&ev.HTTPStatus,
			&ev.Response,
			&ev.Error,
			&ev.NextRetryAt,
			&ev.CreatedAt,
			&ev.DeliveredAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan webhook event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate webhook events: %w", err)
	}
	return events, nil
}

func (d *Database) scanWebhook(row *sql.Row) (*models.Webhook, error) {
	wh := &models.Webhook{}
	err := row.Scan(
		&wh.ID,
		&wh.TenantID,
		&wh.PhoneNumber,
		&wh.URL,
		&wh.IsActive,
		&wh.Status,
		&wh.FailureCount,
		&wh.MaxRetries,
		&wh.LastError,
		&wh.LastSuccessAt,
		&wh.LastAttemptAt,
		&wh.CreatedAt,
		&wh.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan webhook: %w", err)
	}
	return wh, nil
}

func (d *Database) scanWebhookRows(rows *sql.Rows) (*models.Webhook, error) {
	wh := &models.Webhook{}
	err := rows.Scan(
		&wh.ID,
		&wh.TenantID,
		&wh.PhoneNumber,
		&wh.URL,
		&wh.IsActive,
		&wh.Status,
		&wh.FailureCount,
		&wh.MaxRetries,
		&wh.LastError,
		&wh.LastSuccessAt,
		&wh.LastAttemptAt,
		&wh.CreatedAt,
		&wh.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan webhook: %w", err)
	}
	return wh, nil
}

func (d *Database) scanWebhookEvent(row *sql.Row) (*models.WebhookEvent, error) {
	ev := &models.WebhookEvent{}
	err := row.Scan(
		&ev.ID,
		&ev.WebhookID,
		&ev.MessageID,
		&ev.From,
		&ev.To,
		&ev.MessageType,
		&ev.Payload,
		&ev.Status,
		&ev.AttemptCount,
		&ev.HTTPStatus,
		&ev.Response,
		&ev.Error,
		&ev.NextRetryAt,
		&ev.CreatedAt,
		&ev.DeliveredAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan webhook event: %w", err)
	}
	return ev, nil
}
