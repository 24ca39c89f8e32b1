package database

// Tenant queries
const (
	InsertTenantQuery = `
		INSERT INTO tenants (name, token, status)
		VALUES (?, ?, ?)
	`

	SelectTenantByTokenQuery = `
		SELECT id, name, token, status, created_at, updated_at
		FROM tenants
		WHERE token = ?
	`

	SelectTenantByIDQuery = `
		SELECT id, name, token, status, created_at, updated_at
		FROM tenants
		WHERE id = ?
	`
)

// Session queries
const (
	UpsertSessionQuery = `
		INSERT INTO sessions (id, tenant_id, phone_number, state, material, qr, last_error)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, phone_number) DO UPDATE SET
			state = excluded.state,
			material = excluded.material,
			qr = excluded.qr,
			last_error = excluded.last_error,
			updated_at = CURRENT_TIMESTAMP
	`

	SelectSessionQuery = `
		SELECT id, tenant_id, phone_number, state, material, qr, last_error, created_at, updated_at
		FROM sessions
		WHERE tenant_id = ? AND phone_number = ?
	`

	SelectSessionByPhoneQuery = `
		SELECT id, tenant_id, phone_number, state, material, qr, last_error, created_at, updated_at
		FROM sessions
		WHERE phone_number = ?
	`

	UpdateSessionStateQuery = `
		UPDATE sessions
		SET state = ?, last_error = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`

	UpdateSessionMaterialQuery = `
		UPDATE sessions
		SET material = ?, qr = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`

	ClearSessionQuery = `
		UPDATE sessions
		SET state = 'disconnected', material = '', qr = '', last_error = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`

	SelectSessionsWithMaterialQuery = `
		SELECT id, tenant_id, phone_number, state, material, qr, last_error, created_at, updated_at
		FROM sessions
		WHERE material != ''
	`
)

// Message queries
const (
	InsertMessageQuery = `
		INSERT INTO messages (
			id, message_id, session_id, sender, recipient,
			type, content, status, correlation_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	SelectMessageByMessageIDQuery = `
		SELECT id, message_id, session_id, sender, recipient, type, content, status,
			   provider_message_id, correlation_id, error,
			   created_at, updated_at, sent_at, delivered_at, read_at
		FROM messages
		WHERE message_id = ?
	`

	SelectMessageByIDQuery = `
		SELECT id, message_id, session_id, sender, recipient, type, content, status,
			   provider_message_id, correlation_id, error,
			   created_at, updated_at, sent_at, delivered_at, read_at
		FROM messages
		WHERE id = ?
	`

	UpdateMessageSentQuery = `
		UPDATE messages
		SET status = ?, provider_message_id = ?, error = NULL,
			sent_at = COALESCE(sent_at, CURRENT_TIMESTAMP),
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`

	UpdateMessageDeliveredQuery = `
		UPDATE messages
		SET status = 'delivered', delivered_at = CURRENT_TIMESTAMP,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`

	UpdateMessageReadQuery = `
		UPDATE messages
		SET status = 'read', read_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`

	UpdateMessageStatusQuery = `
		UPDATE messages
		SET status = ?, error = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`

	SelectMessagesByPartyQuery = `
		SELECT id, message_id, session_id, sender, recipient, type, content, status,
			   provider_message_id, correlation_id, error,
			   created_at, updated_at, sent_at, delivered_at, read_at
		FROM messages
		WHERE sender = ? OR recipient = ?
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`

	CountMessagesByPartyQuery = `
		SELECT COUNT(*)
		FROM messages
		WHERE sender = ? OR recipient = ?
	`
)

// Webhook queries
const (
	UpsertWebhookQuery = `
		INSERT INTO webhooks (id, tenant_id, phone_number, url, is_active, status, max_retries)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, phone_number) DO UPDATE SET
			url = excluded.url,
			is_active = excluded.is_active,
			status = excluded.status,
			max_retries = excluded.max_retries,
			failure_count = 0,
			last_error = NULL,
			updated_at = CURRENT_TIMESTAMP
	`

	SelectWebhookByIDQuery = `
		SELECT id, tenant_id, phone_number, url, is_active, status, failure_count,
			   max_retries, last_error, last_success_at, last_attempt_at,
			   created_at, updated_at
		FROM webhooks
		WHERE id = ?
	`

	SelectActiveWebhookQuery = `
		SELECT id, tenant_id, phone_number, url, is_active, status, failure_count,
			   max_retries, last_error, last_success_at, last_attempt_at,
			   created_at, updated_at
		FROM webhooks
		WHERE tenant_id = ? AND phone_number = ? AND is_active = 1 AND status = 'active'
	`

	SelectWebhooksByTenantQuery = `
		SELECT id, tenant_id, phone_number, url, is_active, status, failure_count,
			   max_retries, last_error, last_success_at, last_attempt_at,
			   created_at, updated_at
		FROM webhooks
		WHERE tenant_id = ?
		ORDER BY created_at
	`

	UpdateWebhookActiveQuery = `
		UPDATE webhooks
		SET is_active = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND tenant_id = ?
	`

	DeleteWebhookQuery = `
		DELETE FROM webhooks
		WHERE id = ? AND tenant_id = ?
	`

	RecordWebhookSuccessQuery = `
		UPDATE webhooks
		SET failure_count = 0, status = 'active', last_error = NULL,
			last_success_at = CURRENT_TIMESTAMP, last_attempt_at = CURRENT_TIMESTAMP,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`

	RecordWebhookFailureQuery = `
		UPDATE webhooks
		SET failure_count = failure_count + 1,
			last_error = ?, last_attempt_at = CURRENT_TIMESTAMP,
			status = CASE WHEN failure_count + 1 >= ? THEN 'failed' ELSE status END,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`

	ReactivateWebhookQuery = `
		UPDATE webhooks
		SET status = 'active', failure_count = 0, last_error = NULL,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`
)

// Webhook event queries
const (
	InsertWebhookEventQuery = `
		INSERT INTO webhook_events (
			id, webhook_id, message_id, sender, recipient, message_type, payload, status
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	SelectWebhookEventByIDQuery = `
		SELECT id, webhook_id, message_id, sender, recipient, message_type, payload,
			   status, attempt_count, http_status, response, error, next_retry_at,
			   created_at, delivered_at
		FROM webhook_events
		WHERE id = ?
	`

	MarkWebhookEventDeliveredQuery = `
		UPDATE webhook_events
		SET status = 'delivered', attempt_count = ?, http_status = ?, response = ?,
			error = NULL, next_retry_at = NULL, delivered_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`

	MarkWebhookEventFailureQuery = `
		UPDATE webhook_events
		SET status = ?, attempt_count = ?, http_status = ?, error = ?, next_retry_at = ?
		WHERE id = ?
	`

	ResetWebhookEventQuery = `
		UPDATE webhook_events
		SET status = 'pending', attempt_count = 0, http_status = NULL,
			response = NULL, error = NULL, next_retry_at = NULL
		WHERE id = ?
	`

	SelectWebhookEventsQuery = `
		SELECT e.id, e.webhook_id, e.message_id, e.sender, e.recipient, e.message_type,
			   e.payload, e.status, e.attempt_count, e.http_status, e.response, e.error,
			   e.next_retry_at, e.created_at, e.delivered_at
		FROM webhook_events e
		JOIN webhooks w ON w.id = e.webhook_id
		WHERE w.tenant_id = ?
		ORDER BY e.created_at DESC
		LIMIT ? OFFSET ?
	`
)
