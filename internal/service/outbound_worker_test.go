package service

import (
	"context"
	"encoding/json"
	"testing"

	apperrors "wagate/internal/errors"
	"wagate/internal/models"
	"wagate/internal/queue"
	"wagate/pkg/wasocket"
	sockettypes "wagate/pkg/wasocket/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeJob(t *testing.T, kind models.JobKind, payload interface{}) *queue.Job {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return &queue.Job{
		ID:          "job-1",
		Kind:        kind,
		Payload:     raw,
		Attempt:     1,
		MaxAttempts: 3,
	}
}

type workerEnv struct {
	worker   *OutboundWorker
	messages *mockMessageStore
	registry *Registry
	notifier *mockNotifier
	queue    *mockQueue
}

func newWorkerEnv(t *testing.T) *workerEnv {
	t.Helper()
	env := &workerEnv{
		messages: newMockMessageStore(),
		registry: NewRegistry(),
		notifier: &mockNotifier{},
		queue:    newMockQueue(),
	}
	env.worker = NewOutboundWorker(env.messages, env.registry, env.notifier, testLogger())
	env.worker.Register(env.queue)
	return env
}

func (e *workerEnv) liveSocket(phoneNumber string) *mockSocket {
	socket := newMockSocket()
	session := &models.Session{ID: "sess-1", TenantID: 1, PhoneNumber: phoneNumber, State: models.SessionStateConnected}
	e.registry.Put(phoneNumber, &SessionHandle{Session: session, Socket: socket, Cancel: func() {}})
	return socket
}

func TestHandleSendMarksSentAndDelivered(t *testing.T) {
	env := newWorkerEnv(t)
	socket := env.liveSocket("15551234567")
	env.messages.put(&models.Message{ID: "m1", MessageID: "wamid.x", Status: models.MessageStatusPending})

	job := makeJob(t, models.JobKindSend, models.SendJob{
		MessageID:    "m1",
		Recipient:    "15559876543",
		Type:         models.MessageTypeText,
		Content:      models.MessageContent{Text: "hello"},
		SessionPhone: "15551234567",
	})
	require.NoError(t, env.queue.handlers[models.JobKindSend](context.Background(), job))

	socket.mu.Lock()
	require.Len(t, socket.sendCalls, 1)
	assert.Equal(t, "15559876543", socket.sendCalls[0].ChatID)
	assert.Equal(t, "hello", socket.sendCalls[0].Text)
	socket.mu.Unlock()

	msg := env.messages.message("m1")
	assert.Equal(t, models.MessageStatusDelivered, msg.Status)
	require.NotNil(t, msg.ProviderMessageID)
	assert.Equal(t, "provider-1", *msg.ProviderMessageID)
	assert.NotNil(t, msg.SentAt)
	assert.NotNil(t, msg.DeliveredAt)
}

func TestHandleSendEmptyProviderIDIsTransient(t *testing.T) {
	env := newWorkerEnv(t)
	socket := env.liveSocket("15551234567")
	socket.sendResult = &sockettypes.SendResult{Status: "sent"}
	env.messages.put(&models.Message{ID: "m1", Status: models.MessageStatusPending})

	job := makeJob(t, models.JobKindSend, models.SendJob{MessageID: "m1", SessionPhone: "15551234567"})
	err := env.queue.handlers[models.JobKindSend](context.Background(), job)
	require.Error(t, err)
	assert.True(t, apperrors.IsRetryable(err))

	// an ack without a provider id never confirms the message
	msg := env.messages.message("m1")
	assert.Equal(t, models.MessageStatusPending, msg.Status)
	assert.Nil(t, msg.ProviderMessageID)
}

func TestHandleSendMissingSessionIsTransient(t *testing.T) {
	env := newWorkerEnv(t)
	env.messages.put(&models.Message{ID: "m1", Status: models.MessageStatusPending})

	job := makeJob(t, models.JobKindSend, models.SendJob{MessageID: "m1", SessionPhone: "15551234567"})
	err := env.queue.handlers[models.JobKindSend](context.Background(), job)
	require.Error(t, err)
	assert.True(t, apperrors.IsRetryable(err))

	// message stays pending for the retry
	assert.Equal(t, models.MessageStatusPending, env.messages.message("m1").Status)
}

func TestHandleSendEngineRejectionIsTerminal(t *testing.T) {
	env := newWorkerEnv(t)
	socket := env.liveSocket("15551234567")
	socket.sendErr = &wasocket.EngineError{StatusCode: 422, Message: "unknown recipient"}
	env.messages.put(&models.Message{ID: "m1", Status: models.MessageStatusPending})

	job := makeJob(t, models.JobKindSend, models.SendJob{MessageID: "m1", SessionPhone: "15551234567"})
	err := env.queue.handlers[models.JobKindSend](context.Background(), job)
	require.Error(t, err)
	assert.False(t, apperrors.IsRetryable(err))
	assert.Equal(t, apperrors.ErrCodeTerminalFailure, apperrors.GetCode(err))
}

func TestHandleSendEngineOutageIsTransient(t *testing.T) {
	env := newWorkerEnv(t)
	socket := env.liveSocket("15551234567")
	socket.sendErr = &wasocket.EngineError{StatusCode: 502, Message: "bad gateway"}
	env.messages.put(&models.Message{ID: "m1", Status: models.MessageStatusPending})

	job := makeJob(t, models.JobKindSend, models.SendJob{MessageID: "m1", SessionPhone: "15551234567"})
	err := env.queue.handlers[models.JobKindSend](context.Background(), job)
	require.Error(t, err)
	assert.True(t, apperrors.IsRetryable(err))
}

func TestHandleDeleteCallsSocket(t *testing.T) {
	env := newWorkerEnv(t)
	socket := env.liveSocket("15551234567")

	job := makeJob(t, models.JobKindDelete, models.DeleteJob{
		MessageID:         "m1",
		ProviderMessageID: "prov-1",
		SessionPhone:      "15551234567",
	})
	require.NoError(t, env.queue.handlers[models.JobKindDelete](context.Background(), job))

	socket.mu.Lock()
	require.Len(t, socket.deletes, 1)
	assert.Equal(t, "prov-1", socket.deletes[0][1])
	socket.mu.Unlock()
}

func TestHandleReceiveDelegatesToNotifier(t *testing.T) {
	env := newWorkerEnv(t)

	job := makeJob(t, models.JobKindReceive, models.ReceiveJob{MessageID: "m1", TenantID: 1})
	require.NoError(t, env.queue.handlers[models.JobKindReceive](context.Background(), job))

	env.notifier.mu.Lock()
	assert.Equal(t, []string{"m1"}, env.notifier.calls)
	env.notifier.mu.Unlock()
}

func TestHandleReceiveNoWebhookIsNotRetried(t *testing.T) {
	env := newWorkerEnv(t)
	env.notifier.err = apperrors.NewNoActiveWebhook("15551234567")

	job := makeJob(t, models.JobKindReceive, models.ReceiveJob{MessageID: "m1", TenantID: 1})
	require.NoError(t, env.queue.handlers[models.JobKindReceive](context.Background(), job))
}

func TestHandleReceiveNotifierFailurePropagates(t *testing.T) {
	env := newWorkerEnv(t)
	env.notifier.err = apperrors.NewTransientDelivery(assert.AnError, "dispatch enqueue failed")

	job := makeJob(t, models.JobKindReceive, models.ReceiveJob{MessageID: "m1", TenantID: 1})
	err := env.queue.handlers[models.JobKindReceive](context.Background(), job)
	require.Error(t, err)
	assert.True(t, apperrors.IsRetryable(err))
}

func TestDeadLetterMarksSendFailed(t *testing.T) {
	env := newWorkerEnv(t)
	env.messages.put(&models.Message{ID: "m1", Status: models.MessageStatusPending})

	job := makeJob(t, models.JobKindSend, models.SendJob{MessageID: "m1", SessionPhone: "15551234567"})
	env.queue.deadLetter(context.Background(), job, assert.AnError)

	msg := env.messages.message("m1")
	assert.Equal(t, models.MessageStatusFailed, msg.Status)
	require.NotNil(t, msg.Error)
}

func TestDeadLetterDeleteLeavesMessageAlone(t *testing.T) {
	env := newWorkerEnv(t)
	env.messages.put(&models.Message{ID: "m1", Status: models.MessageStatusDeleted})

	job := makeJob(t, models.JobKindDelete, models.DeleteJob{MessageID: "m1"})
	env.queue.deadLetter(context.Background(), job, assert.AnError)

	assert.Equal(t, models.MessageStatusDeleted, env.messages.message("m1").Status)
}

func TestHandleSendUndecodableJobIsTerminal(t *testing.T) {
	env := newWorkerEnv(t)

	job := &queue.Job{ID: "job-1", Kind: models.JobKindSend, Payload: json.RawMessage(`{`)}
	err := env.queue.handlers[models.JobKindSend](context.Background(), job)
	require.Error(t, err)
	assert.False(t, apperrors.IsRetryable(err))
}
