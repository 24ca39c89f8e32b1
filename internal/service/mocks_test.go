package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"wagate/internal/models"
	"wagate/internal/queue"
	sockettypes "wagate/pkg/wasocket/types"
)

// Mock session store backed by in-memory maps.
type mockSessionStore struct {
	mu       sync.Mutex
	byPhone  map[string]*models.Session
	saveErr  error
	stateErr error
}

func newMockSessionStore() *mockSessionStore {
	return &mockSessionStore{byPhone: map[string]*models.Session{}}
}

func (m *mockSessionStore) SaveSession(ctx context.Context, session *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	cp := *session
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	cp.UpdatedAt = time.Now().UTC()
	m.byPhone[cp.PhoneNumber] = &cp
	return nil
}

func (m *mockSessionStore) GetSession(ctx context.Context, tenantID int64, phoneNumber string) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byPhone[phoneNumber]
	if !ok || s.TenantID != tenantID {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (m *mockSessionStore) GetSessionByPhone(ctx context.Context, phoneNumber string) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byPhone[phoneNumber]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (m *mockSessionStore) UpdateSessionState(ctx context.Context, sessionID string, state models.SessionState, lastError *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stateErr != nil {
		return m.stateErr
	}
	for _, s := range m.byPhone {
		if s.ID == sessionID {
			s.State = state
			s.LastError = lastError
			return nil
		}
	}
	return fmt.Errorf("no session found with ID %s", sessionID)
}

func (m *mockSessionStore) UpdateSessionMaterial(ctx context.Context, sessionID, material, qr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.byPhone {
		if s.ID == sessionID {
			s.Material = material
			s.QR = qr
			return nil
		}
	}
	return fmt.Errorf("no session found with ID %s", sessionID)
}

func (m *mockSessionStore) ClearSession(ctx context.Context, sessionID string, lastError *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.byPhone {
		if s.ID == sessionID {
			s.State = models.SessionStateDisconnected
			s.Material = ""
			s.QR = ""
			s.LastError = lastError
			return nil
		}
	}
	return fmt.Errorf("no session found with ID %s", sessionID)
}

func (m *mockSessionStore) ListSessionsWithMaterial(ctx context.Context) ([]*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Session
	for _, s := range m.byPhone {
		if s.Material != "" {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockSessionStore) session(phoneNumber string) *models.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byPhone[phoneNumber]
	if !ok {
		return nil
	}
	cp := *s
	return &cp
}

// Mock message store; also satisfies OutboundStore.
type mockMessageStore struct {
	mu        sync.Mutex
	byID      map[string]*models.Message
	saveErr   error
	saveCalls int
}

func newMockMessageStore() *mockMessageStore {
	return &mockMessageStore{byID: map[string]*models.Message{}}
}

func (m *mockMessageStore) SaveMessage(ctx context.Context, msg *models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveCalls++
	if m.saveErr != nil {
		return m.saveErr
	}
	for _, existing := range m.byID {
		if existing.MessageID == msg.MessageID {
			return fmt.Errorf("UNIQUE constraint failed: messages.message_id")
		}
	}
	cp := *msg
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	m.byID[cp.ID] = &cp
	return nil
}

func (m *mockMessageStore) GetMessageByMessageID(ctx context.Context, messageID string) (*models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range m.byID {
		if msg.MessageID == messageID {
			cp := *msg
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *mockMessageStore) GetMessageByID(ctx context.Context, id string) (*models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.byID[id]
	if !ok {
		return nil, nil
	}
	cp := *msg
	return &cp, nil
}

func (m *mockMessageStore) UpdateMessageStatus(ctx context.Context, id string, status models.MessageStatus, errText *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.byID[id]
	if !ok {
		return fmt.Errorf("no message found with ID %s", id)
	}
	msg.Status = status
	msg.Error = errText
	return nil
}

func (m *mockMessageStore) ListMessagesByParty(ctx context.Context, phoneNumber string, limit, offset int) ([]*models.Message, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []*models.Message
	for _, msg := range m.byID {
		if msg.From == phoneNumber || msg.To == phoneNumber {
			cp := *msg
			all = append(all, &cp)
		}
	}
	total := len(all)
	if offset >= len(all) {
		return nil, total, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], total, nil
}

func (m *mockMessageStore) MarkMessageSent(ctx context.Context, id string, providerMessageID string, status models.MessageStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.byID[id]
	if !ok {
		return fmt.Errorf("no message found with ID %s", id)
	}
	now := time.Now().UTC()
	msg.Status = status
	msg.ProviderMessageID = &providerMessageID
	msg.SentAt = &now
	return nil
}

func (m *mockMessageStore) MarkMessageDelivered(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.byID[id]
	if !ok {
		return fmt.Errorf("no message found with ID %s", id)
	}
	now := time.Now().UTC()
	msg.Status = models.MessageStatusDelivered
	msg.DeliveredAt = &now
	return nil
}

func (m *mockMessageStore) message(id string) *models.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.byID[id]
	if !ok {
		return nil
	}
	cp := *msg
	return &cp
}

func (m *mockMessageStore) put(msg *models.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *msg
	m.byID[cp.ID] = &cp
}

// Mock webhook store; satisfies WebhookStore and WebhookEventStore.
type mockWebhookStore struct {
	mu              sync.Mutex
	webhooks        map[string]*models.Webhook
	events          map[string]*models.WebhookEvent
	successCalls    int
	failureCalls    int
	lastFailureText string
}

func newMockWebhookStore() *mockWebhookStore {
	return &mockWebhookStore{
		webhooks: map[string]*models.Webhook{},
		events:   map[string]*models.WebhookEvent{},
	}
}

func (m *mockWebhookStore) SaveWebhook(ctx context.Context, wh *models.Webhook) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.webhooks {
		if existing.TenantID == wh.TenantID && existing.PhoneNumber == wh.PhoneNumber {
			existing.URL = wh.URL
			existing.IsActive = wh.IsActive
			existing.Status = models.WebhookStatusActive
			existing.FailureCount = 0
			existing.MaxRetries = wh.MaxRetries
			return nil
		}
	}
	cp := *wh
	cp.CreatedAt = time.Now().UTC()
	m.webhooks[cp.ID] = &cp
	return nil
}

func (m *mockWebhookStore) GetWebhookByID(ctx context.Context, id string) (*models.Webhook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wh, ok := m.webhooks[id]
	if !ok {
		return nil, nil
	}
	cp := *wh
	return &cp, nil
}

func (m *mockWebhookStore) GetActiveWebhook(ctx context.Context, tenantID int64, phoneNumber string) (*models.Webhook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, wh := range m.webhooks {
		if wh.TenantID == tenantID && wh.PhoneNumber == phoneNumber && wh.IsActive && wh.Status == models.WebhookStatusActive {
			cp := *wh
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *mockWebhookStore) ListWebhooks(ctx context.Context, tenantID int64) ([]*models.Webhook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Webhook
	for _, wh := range m.webhooks {
		if wh.TenantID == tenantID {
			cp := *wh
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockWebhookStore) SetWebhookActive(ctx context.Context, id string, tenantID int64, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	wh, ok := m.webhooks[id]
	if !ok || wh.TenantID != tenantID {
		return fmt.Errorf("no webhook found with id %s", id)
	}
	wh.IsActive = active
	return nil
}

func (m *mockWebhookStore) DeleteWebhook(ctx context.Context, id string, tenantID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	wh, ok := m.webhooks[id]
	if !ok || wh.TenantID != tenantID {
		return fmt.Errorf("no webhook found with id %s", id)
	}
	delete(m.webhooks, id)
	return nil
}

func (m *mockWebhookStore) ReactivateWebhook(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	wh, ok := m.webhooks[id]
	if !ok {
		return fmt.Errorf("no webhook found with id %s", id)
	}
	wh.Status = models.WebhookStatusActive
	wh.FailureCount = 0
	return nil
}

func (m *mockWebhookStore) RecordWebhookSuccess(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.successCalls++
	wh, ok := m.webhooks[id]
	if !ok {
		return fmt.Errorf("no webhook found with id %s", id)
	}
	wh.FailureCount = 0
	wh.Status = models.WebhookStatusActive
	return nil
}

func (m *mockWebhookStore) RecordWebhookFailure(ctx context.Context, id string, errText string, failureThreshold int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failureCalls++
	m.lastFailureText = errText
	wh, ok := m.webhooks[id]
	if !ok {
		return fmt.Errorf("no webhook found with id %s", id)
	}
	wh.FailureCount++
	wh.LastError = &errText
	if wh.FailureCount >= failureThreshold {
		wh.Status = models.WebhookStatusFailed
	}
	return nil
}

func (m *mockWebhookStore) SaveWebhookEvent(ctx context.Context, ev *models.WebhookEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *ev
	cp.CreatedAt = time.Now().UTC()
	m.events[cp.ID] = &cp
	return nil
}

func (m *mockWebhookStore) GetWebhookEvent(ctx context.Context, id string) (*models.WebhookEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.events[id]
	if !ok {
		return nil, nil
	}
	cp := *ev
	return &cp, nil
}

func (m *mockWebhookStore) MarkWebhookEventDelivered(ctx context.Context, id string, attemptCount, httpStatus int, response string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.events[id]
	if !ok {
		return fmt.Errorf("no webhook event found with id %s", id)
	}
	now := time.Now().UTC()
	ev.Status = models.WebhookEventStatusDelivered
	ev.AttemptCount = attemptCount
	ev.HTTPStatus = &httpStatus
	ev.Response = &response
	ev.DeliveredAt = &now
	return nil
}

func (m *mockWebhookStore) MarkWebhookEventFailure(ctx context.Context, id string, status models.WebhookEventStatus, attemptCount int, httpStatus *int, errText string, nextRetryAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.events[id]
	if !ok {
		return fmt.Errorf("no webhook event found with id %s", id)
	}
	ev.Status = status
	ev.AttemptCount = attemptCount
	ev.HTTPStatus = httpStatus
	ev.Error = &errText
	ev.NextRetryAt = nextRetryAt
	return nil
}

func (m *mockWebhookStore) ResetWebhookEvent(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.events[id]
	if !ok {
		return fmt.Errorf("no webhook event found with id %s", id)
	}
	ev.Status = models.WebhookEventStatusPending
	ev.AttemptCount = 0
	ev.Error = nil
	ev.NextRetryAt = nil
	return nil
}

func (m *mockWebhookStore) ListWebhookEvents(ctx context.Context, tenantID int64, limit, offset int) ([]*models.WebhookEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.WebhookEvent
	for _, ev := range m.events {
		wh, ok := m.webhooks[ev.WebhookID]
		if !ok || wh.TenantID != tenantID {
			continue
		}
		cp := *ev
		out = append(out, &cp)
	}
	return out, nil
}

func (m *mockWebhookStore) event(id string) *models.WebhookEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.events[id]
	if !ok {
		return nil
	}
	cp := *ev
	return &cp
}

func (m *mockWebhookStore) webhook(id string) *models.Webhook {
	m.mu.Lock()
	defer m.mu.Unlock()
	wh, ok := m.webhooks[id]
	if !ok {
		return nil
	}
	cp := *wh
	return &cp
}

// enqueuedJob is one recorded Enqueue call.
type enqueuedJob struct {
	Kind    models.JobKind
	Key     string
	Payload interface{}
	Opts    queue.Options
}

// Mock queue: records enqueues instead of dispatching.
type mockQueue struct {
	mu         sync.Mutex
	jobs       []enqueuedJob
	handlers   map[models.JobKind]queue.Handler
	deadLetter queue.DeadLetterFunc
	enqueueErr error
}

func newMockQueue() *mockQueue {
	return &mockQueue{handlers: map[models.JobKind]queue.Handler{}}
}

func (m *mockQueue) Enqueue(ctx context.Context, kind models.JobKind, key string, payload interface{}, opts queue.Options) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.enqueueErr != nil {
		return m.enqueueErr
	}
	m.jobs = append(m.jobs, enqueuedJob{Kind: kind, Key: key, Payload: payload, Opts: opts})
	return nil
}

func (m *mockQueue) Subscribe(kind models.JobKind, handler queue.Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[kind] = handler
}

func (m *mockQueue) OnDeadLetter(fn queue.DeadLetterFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deadLetter = fn
}

func (m *mockQueue) Start(ctx context.Context) error { return nil }
func (m *mockQueue) Stop()                           {}

func (m *mockQueue) enqueued() []enqueuedJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]enqueuedJob, len(m.jobs))
	copy(out, m.jobs)
	return out
}

// Mock socket with a buffered event channel the test drives directly.
type mockSocket struct {
	mu         sync.Mutex
	events     chan sockettypes.Event
	sendResult *sockettypes.SendResult
	sendErr    error
	deleteErr  error
	sendCalls  []*sockettypes.OutboundPayload
	deletes    [][2]string
	logouts    int
	closed     bool
}

func newMockSocket() *mockSocket {
	return &mockSocket{
		events:     make(chan sockettypes.Event, 16),
		sendResult: &sockettypes.SendResult{MessageID: "provider-1", Status: "sent"},
	}
}

func (m *mockSocket) Events() <-chan sockettypes.Event { return m.events }

func (m *mockSocket) Send(ctx context.Context, payload *sockettypes.OutboundPayload) (*sockettypes.SendResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendCalls = append(m.sendCalls, payload)
	if m.sendErr != nil {
		return nil, m.sendErr
	}
	return m.sendResult, nil
}

func (m *mockSocket) Delete(ctx context.Context, chatID, providerMessageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletes = append(m.deletes, [2]string{chatID, providerMessageID})
	return m.deleteErr
}

func (m *mockSocket) Logout(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logouts++
	return nil
}

func (m *mockSocket) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.events)
	}
	return nil
}

func (m *mockSocket) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *mockSocket) emit(ev sockettypes.Event) {
	m.events <- ev
}

// Mock dialer handing out pre-built sockets in order.
type mockDialer struct {
	mu      sync.Mutex
	sockets []*mockSocket
	dialErr error
	dials   []string
}

func (m *mockDialer) Dial(ctx context.Context, session, material string) (sockettypes.Socket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dials = append(m.dials, material)
	if m.dialErr != nil {
		return nil, m.dialErr
	}
	if len(m.sockets) == 0 {
		return nil, fmt.Errorf("mock dialer has no sockets left")
	}
	s := m.sockets[0]
	m.sockets = m.sockets[1:]
	return s, nil
}

func (m *mockDialer) dialCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.dials)
}

// Recording lifecycle sink.
type recordingSink struct {
	mu           sync.Mutex
	pairing      []string
	connected    []string
	disconnected []string
}

func (r *recordingSink) SessionPairing(ctx context.Context, sessionID, phoneNumber, qr string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pairing = append(r.pairing, phoneNumber)
}

func (r *recordingSink) SessionConnected(ctx context.Context, sessionID, phoneNumber string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connected = append(r.connected, phoneNumber)
}

func (r *recordingSink) SessionDisconnected(ctx context.Context, sessionID, phoneNumber, reason string, loggedOut bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disconnected = append(r.disconnected, reason)
}

func (r *recordingSink) connectedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.connected)
}

func (r *recordingSink) disconnectReasons() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.disconnected))
	copy(out, r.disconnected)
	return out
}

// Recording inbound notifier.
type mockNotifier struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (m *mockNotifier) NotifyInbound(ctx context.Context, tenantID int64, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, messageID)
	return m.err
}
