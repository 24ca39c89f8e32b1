package database

import (
	"context"
	"database/sql"
	"fmt"

	"wagate/internal/models"
)

// SaveSession inserts or replaces a session row. Material is encrypted at
// rest when encryption is enabled.
func (d *Database) SaveSession(ctx context.Context, session *models.Session) error {
	encryptedMaterial, err := d.encryptor.EncryptIfEnabled(session.Material)
	if err != nil {
		return fmt.Errorf("failed to encrypt session material: %w", err)
	}

	return retryableDBOperation(ctx, func() error {
		_, err := d.db.ExecContext(ctx, UpsertSessionQuery,
			session.ID,
			session.TenantID,
			session.PhoneNumber,
			string(session.State),
			encryptedMaterial,
			session.QR,
			session.LastError,
		)
		if err != nil {
			return fmt.Errorf("failed to save session: %w", err)
		}
		return nil
	}, "save session")
}

// GetSession retrieves a tenant's session for a phone number. Returns
// (nil, nil) when no session exists.
func (d *Database) GetSession(ctx context.Context, tenantID int64, phoneNumber string) (*models.Session, error) {
	return d.scanSession(d.db.QueryRowContext(ctx, SelectSessionQuery, tenantID, phoneNumber))
}

// GetSessionByPhone retrieves a session by phone number alone. Used for
// inbound intake where only the receiving number is known.
func (d *Database) GetSessionByPhone(ctx context.Context, phoneNumber string) (*models.Session, error) {
	return d.scanSession(d.db.QueryRowContext(ctx, SelectSessionByPhoneQuery, phoneNumber))
}

func (d *Database) UpdateSessionState(ctx context.Context, sessionID string, state models.SessionState, lastError *string) error {
	return retryableDBOperation(ctx, func() error {
		result, err := d.db.ExecContext(ctx, UpdateSessionStateQuery, string(state), lastError, sessionID)
		if err != nil {
			return fmt.Errorf("failed to update session state: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get affected rows: %w", err)
		}
		if rows == 0 {
			return fmt.Errorf("no session found with ID: %s", sessionID)
		}
		return nil
	}, "update session state")
}

// UpdateSessionMaterial persists fresh credential material and the current
// pairing QR for a session.
func (d *Database) UpdateSessionMaterial(ctx context.Context, sessionID, material, qr string) error {
	encryptedMaterial, err := d.encryptor.EncryptIfEnabled(material)
	if err != nil {
		return fmt.Errorf("failed to encrypt session material: %w", err)
	}

	return retryableDBOperation(ctx, func() error {
		_, err := d.db.ExecContext(ctx, UpdateSessionMaterialQuery, encryptedMaterial, qr, sessionID)
		if err != nil {
			return fmt.Errorf("failed to update session material: %w", err)
		}
		return nil
	}, "update session material")
}

// ClearSession wipes material and QR after a logout or teardown, keeping the
// row so the tenant/phone pairing history survives.
func (d *Database) ClearSession(ctx context.Context, sessionID string, lastError *string) error {
	return retryableDBOperation(ctx, func() error {
		_, err := d.db.ExecContext(ctx, ClearSessionQuery, lastError, sessionID)
		if err != nil {
			return fmt.Errorf("failed to clear session: %w", err)
		}
		return nil
	}, "clear session")
}

// ListSessionsWithMaterial returns every session holding credential
// material, for reconnect on startup.
func (d *Database) ListSessionsWithMaterial(ctx context.Context) ([]*models.Session, error) {
	rows, err := d.db.QueryContext(ctx, SelectSessionsWithMaterialQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []*models.Session
	for rows.Next() {
		session, err := d.scanSessionRows(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %w", err)
	}
	return sessions, nil
}

func (d *Database) scanSession(row *sql.Row) (*models.Session, error) {
	session := &models.Session{}
	var encryptedMaterial string

	err := row.Scan(
		&session.ID,
		&session.TenantID,
		&session.PhoneNumber,
		&session.State,
		&encryptedMaterial,
		&session.QR,
		&session.LastError,
		&session.CreatedAt,
		&session.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}

	session.Material, err = d.encryptor.DecryptIfEnabled(encryptedMaterial)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt session material: %w", err)
	}
	return session, nil
}

func (d *Database) scanSessionRows(rows *sql.Rows) (*models.Session, error) {
	session := &models.Session{}
	var encryptedMaterial string

	err := rows.Scan(
		&session.ID,
		&session.TenantID,
		&session.PhoneNumber,
		&session.State,
		&encryptedMaterial,
		&session.QR,
		&session.LastError,
		&session.CreatedAt,
		&session.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}

	session.Material, err = d.encryptor.DecryptIfEnabled(encryptedMaterial)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt session material: %w", err)
	}
	return session, nil
}
