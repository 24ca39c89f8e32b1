package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"wagate/internal/models"
)

// SaveMessage inserts a new message record in pending status. The unique
// constraint on message_id is what makes inbound dedup work; callers treat a
// UNIQUE violation as "already seen".
func (d *Database) SaveMessage(ctx context.Context, msg *models.Message) error {
	content, err := json.Marshal(msg.Content)
	if err != nil {
		return fmt.Errorf("failed to marshal message content: %w", err)
	}

	return retryableDBOperation(ctx, func() error {
		_, err := d.db.ExecContext(ctx, InsertMessageQuery,
			msg.ID,
			msg.MessageID,
			msg.SessionID,
			msg.From,
			msg.To,
			string(msg.Type),
			string(content),
			string(msg.Status),
			msg.CorrelationID,
		)
		if err != nil {
			return fmt.Errorf("failed to save message: %w", err)
		}
		return nil
	}, "save message")
}

// GetMessageByMessageID retrieves a message by its protocol-level id.
// Returns (nil, nil) when not found.
func (d *Database) GetMessageByMessageID(ctx context.Context, messageID string) (*models.Message, error) {
	return d.scanMessage(d.db.QueryRowContext(ctx, SelectMessageByMessageIDQuery, messageID))
}

func (d *Database) GetMessageByID(ctx context.Context, id string) (*models.Message, error) {
	return d.scanMessage(d.db.QueryRowContext(ctx, SelectMessageByIDQuery, id))
}

// MarkMessageSent records a successful send, storing the provider's message
// id and stamping sent_at on the first transition only.
func (d *Database) MarkMessageSent(ctx context.Context, id string, providerMessageID string, status models.MessageStatus) error {
	return retryableDBOperation(ctx, func() error {
		result, err := d.db.ExecContext(ctx, UpdateMessageSentQuery, string(status), providerMessageID, id)
		if err != nil {
			return fmt.Errorf("failed to mark message sent: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get affected rows: %w", err)
		}
		if rows == 0 {
			return fmt.Errorf("no message found with ID: %s", id)
		}
		return nil
	}, "mark message sent")
}

func (d *Database) MarkMessageDelivered(ctx context.Context, id string) error {
	return retryableDBOperation(ctx, func() error {
		_, err := d.db.ExecContext(ctx, UpdateMessageDeliveredQuery, id)
		if err != nil {
			return fmt.Errorf("failed to mark message delivered: %w", err)
		}
		return nil
	}, "mark message delivered")
}

func (d *Database) MarkMessageRead(ctx context.Context, id string) error {
	return retryableDBOperation(ctx, func() error {
		_, err := d.db.ExecContext(ctx, UpdateMessageReadQuery, id)
		if err != nil {
			return fmt.Errorf("failed to mark message read: %w", err)
		}
		return nil
	}, "mark message read")
}

// UpdateMessageStatus sets status and optional error text. Used for failed
// and deleted terminal states.
func (d *Database) UpdateMessageStatus(ctx context.Context, id string, status models.MessageStatus, errText *string) error {
	return retryableDBOperation(ctx, func() error {
		result, err := d.db.ExecContext(ctx, UpdateMessageStatusQuery, string(status), errText, id)
		if err != nil {
			return fmt.Errorf("failed to update message status: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get affected rows: %w", err)
		}
		if rows == 0 {
			return fmt.Errorf("no message found with ID: %s", id)
		}
		return nil
	}, "update message status")
}

// ListMessagesByParty returns messages sent by or addressed to a phone
// number, newest first, with a total count for pagination.
func (d *Database) ListMessagesByParty(ctx context.Context, phoneNumber string, limit, offset int) ([]*models.Message, int, error) {
	var total int
	if err := d.db.QueryRowContext(ctx, CountMessagesByPartyQuery, phoneNumber, phoneNumber).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count messages: %w", err)
	}

	rows, err := d.db.QueryContext(ctx, SelectMessagesByPartyQuery, phoneNumber, phoneNumber, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var messages []*models.Message
	for rows.Next() {
		msg, err := d.scanMessageRows(rows)
		if err != nil {
			return nil, 0, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate messages: %w", err)
	}
	return messages, total, nil
}

func (d *Database) scanMessage(row *sql.Row) (*models.Message, error) {
	msg := &models.Message{}
	var content string

	err := row.Scan(
		&msg.ID,
		&msg.MessageID,
		&msg.SessionID,
		&msg.From,
		&msg.To,
		&msg.Type,
		&content,
		&msg.Status,
		&msg.ProviderMessageID,
		&msg.CorrelationID,
		&msg.Error,
		&msg.CreatedAt,
		&msg.UpdatedAt,
		&msg.SentAt,
		&msg.DeliveredAt,
		&msg.ReadAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan message: %w", err)
	}

	if err := json.Unmarshal([]byte(content), &msg.Content); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message content: %w", err)
	}
	return msg, nil
}

func (d *Database) scanMessageRows(rows *sql.Rows) (*models.Message, error) {
	msg := &models.Message{}
	var content string

	err := rows.Scan(
		&msg.ID,
		&msg.MessageID,
		&msg.SessionID,
		&msg.From,
		&msg.To,
		&msg.Type,
		&content,
		&msg.Status,
		&msg.ProviderMessageID,
		&msg.CorrelationID,
		&msg.Error,
		&msg.CreatedAt,
		&msg.UpdatedAt,
		&msg.SentAt,
		&msg.DeliveredAt,
		&msg.ReadAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan message: %w", err)
	}

	if err := json.Unmarshal([]byte(content), &msg.Content); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message content: %w", err)
	}
	return msg, nil
}
