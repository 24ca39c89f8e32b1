package models

// JobKind names one durable queue. Each kind has exactly one handler.
type JobKind string

const (
	JobKindSend           JobKind = "send"
	JobKindDelete         JobKind = "delete"
	JobKindReceive        JobKind = "receive"
	JobKindWebhookDeliver JobKind = "webhook_deliver"
)

// SendJob carries everything the outbound worker needs. The session was
// resolved at enqueue time; the worker never re-resolves it.
type SendJob struct {
	MessageID     string         `json:"messageId"`
	Recipient     string         `json:"recipient"`
	Type          MessageType    `json:"type"`
	Content       MessageContent `json:"content"`
	SessionPhone  string         `json:"sessionPhone"`
	CorrelationID string         `json:"correlationId"`
}

// DeleteJob requests a best-effort upstream deletion of an already-sent
// message. Local deleted status is never reverted on failure.
type DeleteJob struct {
	MessageID         string `json:"messageId"`
	ProviderMessageID string `json:"providerMessageId"`
	SessionPhone      string `json:"sessionPhone"`
	CorrelationID     string `json:"correlationId"`
}

// ReceiveJob triggers post-intake processing of a persisted inbound message,
// which notifies the matching webhook.
type ReceiveJob struct {
	MessageID     string `json:"messageId"`
	TenantID      int64  `json:"tenantId"`
	From          string `json:"from"`
	To            string `json:"to"`
	CorrelationID string `json:"correlationId"`
}

// WebhookDeliverJob references a persisted WebhookEvent to POST.
type WebhookDeliverJob struct {
	EventID       string `json:"eventId"`
	WebhookID     string `json:"webhookId"`
	CorrelationID string `json:"correlationId"`
}
