package service

import (
	"context"
	"testing"
	"time"

	apperrors "wagate/internal/errors"
	"wagate/internal/models"
	"wagate/internal/queue"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type messageEnv struct {
	svc      *MessageService
	messages *mockMessageStore
	sessions *mockSessionStore
	registry *Registry
	queue    *mockQueue
}

func newMessageEnv(t *testing.T, opts MessageServiceOptions) *messageEnv {
	t.Helper()
	env := &messageEnv{
		messages: newMockMessageStore(),
		sessions: newMockSessionStore(),
		registry: NewRegistry(),
		queue:    newMockQueue(),
	}
	env.svc = NewMessageService(env.messages, env.sessions, env.registry, env.queue, testLogger(), opts)
	return env
}

// liveSession stores a connected session and publishes its handle.
func (e *messageEnv) liveSession(t *testing.T, tenantID int64, phoneNumber string) *SessionHandle {
	t.Helper()
	session := &models.Session{
		ID:          "sess-" + phoneNumber,
		TenantID:    tenantID,
		PhoneNumber: phoneNumber,
		State:       models.SessionStateConnected,
		Material:    "cred-" + phoneNumber,
	}
	require.NoError(t, e.sessions.SaveSession(context.Background(), session))
	handle := &SessionHandle{Session: session, Socket: newMockSocket(), Cancel: func() {}}
	e.registry.Put(phoneNumber, handle)
	return handle
}

func TestSendPersistsPendingAndEnqueues(t *testing.T) {
	env := newMessageEnv(t, MessageServiceOptions{})
	env.liveSession(t, 1, "15551234567")

	msg, err := env.svc.Send(context.Background(), 1, &SendRequest{
		To:      "15559876543",
		Type:    models.MessageTypeText,
		Content: models.MessageContent{Text: "hello"},
	})
	require.NoError(t, err)
	assert.Equal(t, models.MessageStatusPending, msg.Status)
	assert.Equal(t, "15551234567", msg.From)
	assert.Equal(t, "15559876543", msg.To)
	assert.NotEmpty(t, msg.CorrelationID)

	jobs := env.queue.enqueued()
	require.Len(t, jobs, 1)
	assert.Equal(t, models.JobKindSend, jobs[0].Kind)
	assert.Equal(t, "15551234567", jobs[0].Key)
	assert.Equal(t, 3, jobs[0].Opts.MaxAttempts)
	assert.Equal(t, 2, jobs[0].Opts.BackoffSec)

	payload, ok := jobs[0].Payload.(models.SendJob)
	require.True(t, ok)
	assert.Equal(t, msg.ID, payload.MessageID)
	assert.Equal(t, "hello", payload.Content.Text)
}

func TestSendRejectsInvalidRecipient(t *testing.T) {
	env := newMessageEnv(t, MessageServiceOptions{})
	env.liveSession(t, 1, "15551234567")

	_, err := env.svc.Send(context.Background(), 1, &SendRequest{To: "nope", Type: models.MessageTypeText})
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeValidation, apperrors.GetCode(err))
	assert.Empty(t, env.queue.enqueued())
}

func TestSendRejectsUnknownType(t *testing.T) {
	env := newMessageEnv(t, MessageServiceOptions{})
	env.liveSession(t, 1, "15551234567")

	_, err := env.svc.Send(context.Background(), 1, &SendRequest{To: "15559876543", Type: "carrier-pigeon"})
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeValidation, apperrors.GetCode(err))
}

func TestSendWithoutLiveSession(t *testing.T) {
	env := newMessageEnv(t, MessageServiceOptions{})

	_, err := env.svc.Send(context.Background(), 1, &SendRequest{To: "15559876543", Type: models.MessageTypeText})
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeNotFound, apperrors.GetCode(err))
}

func TestSendExplicitSessionMustBelongToTenant(t *testing.T) {
	env := newMessageEnv(t, MessageServiceOptions{})
	env.liveSession(t, 2, "15551234567")

	_, err := env.svc.Send(context.Background(), 1, &SendRequest{
		To:           "15559876543",
		Type:         models.MessageTypeText,
		SessionPhone: "15551234567",
	})
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeNotFound, apperrors.GetCode(err))
}

func TestSendEnqueueFailureMarksMessageFailed(t *testing.T) {
	env := newMessageEnv(t, MessageServiceOptions{})
	env.liveSession(t, 1, "15551234567")
	env.queue.enqueueErr = assert.AnError

	_, err := env.svc.Send(context.Background(), 1, &SendRequest{
		To:   "15559876543",
		Type: models.MessageTypeText,
	})
	require.Error(t, err)

	// the persisted row is flipped to failed so nothing is silently lost
	var failed int
	env.messages.mu.Lock()
	for _, m := range env.messages.byID {
		if m.Status == models.MessageStatusFailed {
			failed++
		}
	}
	env.messages.mu.Unlock()
	assert.Equal(t, 1, failed)
}

func TestReceiveAcceptsAndEnqueues(t *testing.T) {
	env := newMessageEnv(t, MessageServiceOptions{})
	env.liveSession(t, 1, "15551234567")

	result, err := env.svc.Receive(context.Background(), &InboundMessage{
		MessageID: "wamid.abc123",
		From:      "15559876543@c.us",
		To:        "15551234567",
		Type:      models.MessageTypeText,
		Content:   models.MessageContent{Text: "hi"},
	})
	require.NoError(t, err)
	assert.Equal(t, ReceiveStatusAccepted, result.Status)

	stored := env.messages.message(result.MessageID)
	require.NotNil(t, stored)
	assert.Equal(t, models.MessageStatusDelivered, stored.Status)
	assert.Equal(t, "15559876543", stored.From)

	jobs := env.queue.enqueued()
	require.Len(t, jobs, 1)
	assert.Equal(t, models.JobKindReceive, jobs[0].Kind)
	payload, ok := jobs[0].Payload.(models.ReceiveJob)
	require.True(t, ok)
	assert.Equal(t, int64(1), payload.TenantID)
}

func TestReceiveDuplicateIsIdempotent(t *testing.T) {
	env := newMessageEnv(t, MessageServiceOptions{})
	env.liveSession(t, 1, "15551234567")

	inbound := &InboundMessage{
		MessageID: "wamid.abc123",
		From:      "15559876543",
		To:        "15551234567",
		Content:   models.MessageContent{Text: "hi"},
	}
	first, err := env.svc.Receive(context.Background(), inbound)
	require.NoError(t, err)

	second, err := env.svc.Receive(context.Background(), inbound)
	require.NoError(t, err)
	assert.Equal(t, ReceiveStatusDuplicated, second.Status)
	assert.Equal(t, first.MessageID, second.MessageID)

	// only the first intake produced a processing job
	assert.Len(t, env.queue.enqueued(), 1)
}

func TestReceiveUnknownSessionPhone(t *testing.T) {
	env := newMessageEnv(t, MessageServiceOptions{})

	_, err := env.svc.Receive(context.Background(), &InboundMessage{
		MessageID: "wamid.abc123",
		From:      "15559876543",
		To:        "15551234567",
	})
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeNotFound, apperrors.GetCode(err))
}

func TestReceiveDefaultsToTextType(t *testing.T) {
	env := newMessageEnv(t, MessageServiceOptions{})
	env.liveSession(t, 1, "15551234567")

	result, err := env.svc.Receive(context.Background(), &InboundMessage{
		MessageID: "wamid.notype",
		From:      "15559876543",
		To:        "15551234567",
	})
	require.NoError(t, err)
	assert.Equal(t, models.MessageTypeText, env.messages.message(result.MessageID).Type)
}

func TestForwardFansOutToRecipientsWithMarker(t *testing.T) {
	env := newMessageEnv(t, MessageServiceOptions{})
	env.liveSession(t, 1, "15551234567")
	env.messages.put(&models.Message{
		ID:        "m1",
		MessageID: "wamid.original",
		From:      "15559876543",
		To:        "15551234567",
		Type:      models.MessageTypeText,
		Content:   models.MessageContent{Text: "original text"},
		Status:    models.MessageStatusDelivered,
	})

	forwarded, err := env.svc.Forward(context.Background(), 1, "m1", []string{"15550001111", "15550002222"})
	require.NoError(t, err)
	require.Len(t, forwarded, 2)
	assert.Equal(t, "[Forwarded] original text", forwarded[0].Content.Text)
	assert.Equal(t, "15550001111", forwarded[0].To)
	assert.Equal(t, "15550002222", forwarded[1].To)
	assert.NotEqual(t, "m1", forwarded[0].ID)

	// one outbound job per recipient
	assert.Len(t, env.queue.enqueued(), 2)
}

func TestForwardPrefixesCaptionForMedia(t *testing.T) {
	env := newMessageEnv(t, MessageServiceOptions{})
	env.liveSession(t, 1, "15551234567")
	env.messages.put(&models.Message{
		ID:        "m1",
		MessageID: "wamid.media",
		From:      "15559876543",
		To:        "15551234567",
		Type:      models.MessageTypeImage,
		Content:   models.MessageContent{MediaURL: "https://cdn.example.com/p.jpg", Caption: "sunset"},
		Status:    models.MessageStatusDelivered,
	})

	forwarded, err := env.svc.Forward(context.Background(), 1, "m1", []string{"15550001111"})
	require.NoError(t, err)
	require.Len(t, forwarded, 1)
	assert.Equal(t, "[Forwarded] sunset", forwarded[0].Content.Caption)
	assert.Equal(t, "https://cdn.example.com/p.jpg", forwarded[0].Content.MediaURL)
}

func TestForwardRequiresRecipients(t *testing.T) {
	env := newMessageEnv(t, MessageServiceOptions{})
	env.liveSession(t, 1, "15551234567")

	_, err := env.svc.Forward(context.Background(), 1, "m1", nil)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeValidation, apperrors.GetCode(err))
}

func TestForwardStopsOnInvalidRecipient(t *testing.T) {
	env := newMessageEnv(t, MessageServiceOptions{})
	env.liveSession(t, 1, "15551234567")
	env.messages.put(&models.Message{
		ID:        "m1",
		MessageID: "wamid.original",
		From:      "15559876543",
		To:        "15551234567",
		Type:      models.MessageTypeText,
		Content:   models.MessageContent{Text: "original text"},
		Status:    models.MessageStatusDelivered,
	})

	forwarded, err := env.svc.Forward(context.Background(), 1, "m1", []string{"15550001111", "nope"})
	require.Error(t, err)

	// the first recipient was accepted before the bad one stopped the fan-out
	require.Len(t, forwarded, 1)
	assert.Equal(t, "15550001111", forwarded[0].To)
	assert.Len(t, env.queue.enqueued(), 1)
}

func TestSendSkipsSessionStillPairing(t *testing.T) {
	env := newMessageEnv(t, MessageServiceOptions{})
	session := &models.Session{
		ID:          "sess-pairing",
		TenantID:    1,
		PhoneNumber: "15551234567",
		State:       models.SessionStateReconnecting,
	}
	require.NoError(t, env.sessions.SaveSession(context.Background(), session))
	env.registry.Put("15551234567", &SessionHandle{Session: session, Socket: newMockSocket(), Cancel: func() {}})

	_, err := env.svc.Send(context.Background(), 1, &SendRequest{To: "15559876543", Type: models.MessageTypeText})
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeNotFound, apperrors.GetCode(err))
	assert.Empty(t, env.queue.enqueued())

	_, err = env.svc.Send(context.Background(), 1, &SendRequest{
		To:           "15559876543",
		Type:         models.MessageTypeText,
		SessionPhone: "15551234567",
	})
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeNotFound, apperrors.GetCode(err))
}

func TestGetEnforcesOwnership(t *testing.T) {
	env := newMessageEnv(t, MessageServiceOptions{})
	env.liveSession(t, 1, "15551234567")
	env.messages.put(&models.Message{
		ID: "m1", MessageID: "wamid.x",
		From: "15550009999", To: "15550008888",
		Type: models.MessageTypeText, Status: models.MessageStatusDelivered,
	})

	_, err := env.svc.Get(context.Background(), 1, "m1")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeForbidden, apperrors.GetCode(err))
}

func TestGetResolvesByProtocolMessageID(t *testing.T) {
	env := newMessageEnv(t, MessageServiceOptions{})
	env.liveSession(t, 1, "15551234567")
	env.messages.put(&models.Message{
		ID: "m1", MessageID: "wamid.lookup",
		From: "15559876543", To: "15551234567",
		Type: models.MessageTypeText, Status: models.MessageStatusDelivered,
	})

	msg, err := env.svc.Get(context.Background(), 1, "wamid.lookup")
	require.NoError(t, err)
	assert.Equal(t, "m1", msg.ID)
}

func TestDeleteRequiresProviderID(t *testing.T) {
	env := newMessageEnv(t, MessageServiceOptions{})
	env.liveSession(t, 1, "15551234567")
	env.messages.put(&models.Message{
		ID: "m1", MessageID: "wamid.x",
		From: "15551234567", To: "15559876543",
		Type: models.MessageTypeText, Status: models.MessageStatusPending,
	})

	_, err := env.svc.Delete(context.Background(), 1, "m1")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeForbidden, apperrors.GetCode(err))
}

func TestDeleteOutsideWindowForbidden(t *testing.T) {
	env := newMessageEnv(t, MessageServiceOptions{})
	env.liveSession(t, 1, "15551234567")
	providerID := "prov-1"
	sentAt := time.Now().Add(-5 * time.Hour)
	env.messages.put(&models.Message{
		ID: "m1", MessageID: "wamid.x",
		From: "15551234567", To: "15559876543",
		Type: models.MessageTypeText, Status: models.MessageStatusSent,
		ProviderMessageID: &providerID, SentAt: &sentAt,
	})

	_, err := env.svc.Delete(context.Background(), 1, "m1")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeForbidden, apperrors.GetCode(err))
}

func TestDeleteWithinWindowMarksDeletedAndEnqueues(t *testing.T) {
	env := newMessageEnv(t, MessageServiceOptions{})
	env.liveSession(t, 1, "15551234567")
	providerID := "prov-1"
	sentAt := time.Now().Add(-time.Hour)
	env.messages.put(&models.Message{
		ID: "m1", MessageID: "wamid.x",
		From: "15551234567", To: "15559876543",
		Type: models.MessageTypeText, Status: models.MessageStatusDelivered,
		ProviderMessageID: &providerID, SentAt: &sentAt,
		CorrelationID: "corr-1",
	})

	msg, err := env.svc.Delete(context.Background(), 1, "m1")
	require.NoError(t, err)
	assert.Equal(t, models.MessageStatusDeleted, msg.Status)
	assert.Equal(t, models.MessageStatusDeleted, env.messages.message("m1").Status)

	jobs := env.queue.enqueued()
	require.Len(t, jobs, 1)
	assert.Equal(t, models.JobKindDelete, jobs[0].Kind)
	payload, ok := jobs[0].Payload.(models.DeleteJob)
	require.True(t, ok)
	assert.Equal(t, "prov-1", payload.ProviderMessageID)
	assert.Equal(t, "corr-1", payload.CorrelationID)
}

func TestDeleteSurvivesEnqueueFailure(t *testing.T) {
	env := newMessageEnv(t, MessageServiceOptions{})
	env.liveSession(t, 1, "15551234567")
	providerID := "prov-1"
	sentAt := time.Now()
	env.messages.put(&models.Message{
		ID: "m1", MessageID: "wamid.x",
		From: "15551234567", To: "15559876543",
		Type: models.MessageTypeText, Status: models.MessageStatusSent,
		ProviderMessageID: &providerID, SentAt: &sentAt,
	})
	env.queue.enqueueErr = assert.AnError

	// local deletion stands even when upstream retraction cannot be queued
	msg, err := env.svc.Delete(context.Background(), 1, "m1")
	require.NoError(t, err)
	assert.Equal(t, models.MessageStatusDeleted, msg.Status)
}

func TestDeleteAlreadyDeletedConflicts(t *testing.T) {
	env := newMessageEnv(t, MessageServiceOptions{})
	env.liveSession(t, 1, "15551234567")
	providerID := "prov-1"
	sentAt := time.Now()
	env.messages.put(&models.Message{
		ID: "m1", MessageID: "wamid.x",
		From: "15551234567", To: "15559876543",
		Type: models.MessageTypeText, Status: models.MessageStatusDeleted,
		ProviderMessageID: &providerID, SentAt: &sentAt,
	})

	_, err := env.svc.Delete(context.Background(), 1, "m1")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeConflict, apperrors.GetCode(err))
}

func TestHistoryScopedToTenantSession(t *testing.T) {
	env := newMessageEnv(t, MessageServiceOptions{})
	env.liveSession(t, 1, "15551234567")
	env.messages.put(&models.Message{
		ID: "m1", MessageID: "wamid.1",
		From: "15559876543", To: "15551234567",
		Type: models.MessageTypeText, Status: models.MessageStatusDelivered,
	})
	env.messages.put(&models.Message{
		ID: "m2", MessageID: "wamid.2",
		From: "15551234567", To: "15559876543",
		Type: models.MessageTypeText, Status: models.MessageStatusSent,
	})

	msgs, total, err := env.svc.History(context.Background(), 1, "15551234567", 50, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, msgs, 2)

	_, _, err = env.svc.History(context.Background(), 2, "15551234567", 50, 0)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeNotFound, apperrors.GetCode(err))
}

// queue.Options is part of the service contract; a zero MaxAttempts would
// silently disable retries.
func TestDeleteJobOptions(t *testing.T) {
	env := newMessageEnv(t, MessageServiceOptions{DeleteMaxAttempts: 2, DeleteBackoffSec: 1})
	env.liveSession(t, 1, "15551234567")
	providerID := "prov-1"
	sentAt := time.Now()
	env.messages.put(&models.Message{
		ID: "m1", MessageID: "wamid.x",
		From: "15551234567", To: "15559876543",
		Type: models.MessageTypeText, Status: models.MessageStatusSent,
		ProviderMessageID: &providerID, SentAt: &sentAt,
	})

	_, err := env.svc.Delete(context.Background(), 1, "m1")
	require.NoError(t, err)

	jobs := env.queue.enqueued()
	require.Len(t, jobs, 1)
	assert.Equal(t, queue.Options{MaxAttempts: 2, BackoffSec: 1}, jobs[0].Opts)
}
