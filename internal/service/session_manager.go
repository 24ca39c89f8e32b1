package service

import (
	"context"
	"encoding/base64"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	apperrors "wagate/internal/errors"
	"wagate/internal/models"
	"wagate/internal/retry"
	"wagate/internal/validation"
	sockettypes "wagate/pkg/wasocket/types"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	qrcode "github.com/skip2/go-qrcode"
)

// SessionStore is the session persistence surface the manager needs.
type SessionStore interface {
	SaveSession(ctx context.Context, session *models.Session) error
	GetSession(ctx context.Context, tenantID int64, phoneNumber string) (*models.Session, error)
	GetSessionByPhone(ctx context.Context, phoneNumber string) (*models.Session, error)
	UpdateSessionState(ctx context.Context, sessionID string, state models.SessionState, lastError *string) error
	UpdateSessionMaterial(ctx context.Context, sessionID, material, qr string) error
	ClearSession(ctx context.Context, sessionID string, lastError *string) error
	ListSessionsWithMaterial(ctx context.Context) ([]*models.Session, error)
}

// SessionStatus is the API view of one session, with the pairing QR
// rendered as an embeddable PNG data URL.
type SessionStatus struct {
	SessionID   string              `json:"sessionId"`
	PhoneNumber string              `json:"phoneNumber"`
	State       models.SessionState `json:"state"`
	QRCode      string              `json:"qrCode,omitempty"`
	LastError   *string             `json:"lastError,omitempty"`
	UpdatedAt   time.Time           `json:"updatedAt"`
}

// SessionManager owns the full session lifecycle: pairing, connection
// supervision, reconnect with bounded backoff, and teardown. Exactly one
// event loop goroutine runs per live session; all state transitions for a
// session happen on that goroutine.
type SessionManager struct {
	store    SessionStore
	dialer   sockettypes.Dialer
	registry *Registry
	sink     LifecycleSink
	logger   *logrus.Logger

	connectTimeout       time.Duration
	reconnectBaseDelay   time.Duration
	maxReconnectAttempts int

	wg      sync.WaitGroup
	mu      sync.Mutex
	stopped bool
}

type SessionManagerOptions struct {
	ConnectTimeout       time.Duration
	ReconnectBaseDelay   time.Duration
	MaxReconnectAttempts int
}

func NewSessionManager(store SessionStore, dialer sockettypes.Dialer, registry *Registry, sink LifecycleSink, logger *logrus.Logger, opts SessionManagerOptions) *SessionManager {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 120 * time.Second
	}
	if opts.ReconnectBaseDelay <= 0 {
		opts.ReconnectBaseDelay = 2 * time.Second
	}
	if opts.MaxReconnectAttempts <= 0 {
		opts.MaxReconnectAttempts = 3
	}
	return &SessionManager{
		store:                store,
		dialer:               dialer,
		registry:             registry,
		sink:                 sink,
		logger:               logger,
		connectTimeout:       opts.ConnectTimeout,
		reconnectBaseDelay:   opts.ReconnectBaseDelay,
		maxReconnectAttempts: opts.MaxReconnectAttempts,
	}
}

// connectOutcome is the first observable result of a dial: the pairing QR,
// a connected confirmation, or the error that ended the attempt.
type connectOutcome struct {
	state models.SessionState
	qr    string
	err   error
}

// Connect brings up a session for the tenant's phone number. The session row
// is persisted in reconnecting state before the socket opens, and the call
// blocks until the socket produces a pairing QR or a connected confirmation,
// bounded by the establishment timeout. A live session is rejected; a stored
// session that is not running is resumed from its material.
func (m *SessionManager) Connect(ctx context.Context, tenantID int64, phoneNumber string) (*SessionStatus, error) {
	phoneNumber = validation.NormalizePhoneNumber(phoneNumber)
	if err := validation.ValidatePhoneNumber(phoneNumber); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid phone number")
	}

	if _, ok := m.registry.Get(phoneNumber); ok {
		return nil, apperrors.NewSessionExists(phoneNumber)
	}

	session, err := m.store.GetSession(ctx, tenantID, phoneNumber)
	if err != nil {
		return nil, err
	}
	if session == nil {
		session = &models.Session{
			ID:          uuid.New().String(),
			TenantID:    tenantID,
			PhoneNumber: phoneNumber,
			State:       models.SessionStateReconnecting,
		}
		if err := m.store.SaveSession(ctx, session); err != nil {
			return nil, err
		}
		// re-read so the stored row id wins if an earlier registration existed
		session, err = m.store.GetSession(ctx, tenantID, phoneNumber)
		if err != nil {
			return nil, err
		}
	} else {
		if err := m.store.UpdateSessionState(ctx, session.ID, models.SessionStateReconnecting, nil); err != nil {
			return nil, err
		}
	}
	session.State = models.SessionStateReconnecting

	ready := make(chan connectOutcome, 1)
	if err := m.startSession(ctx, session, ready); err != nil {
		reason := err.Error()
		_ = m.store.UpdateSessionState(ctx, session.ID, models.SessionStateDisconnected, &reason)
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, apperrors.Wrap(ctx.Err(), apperrors.ErrCodeTimeout, "connect cancelled")
	case outcome := <-ready:
		if outcome.err != nil {
			return nil, outcome.err
		}
		status := &SessionStatus{
			SessionID:   session.ID,
			PhoneNumber: session.PhoneNumber,
			State:       outcome.state,
			UpdatedAt:   time.Now().UTC(),
		}
		if outcome.qr != "" {
			image, renderErr := renderQRDataURL(outcome.qr)
			if renderErr != nil {
				m.logger.WithError(renderErr).Warn("Failed to render pairing QR")
			} else {
				status.QRCode = image
			}
		}
		return status, nil
	}
}

// startSession dials the socket and publishes the handle. The caller must
// have verified no live handle exists. The first QR, connected confirmation
// or terminal error is delivered on ready, which may be nil.
func (m *SessionManager) startSession(ctx context.Context, session *models.Session, ready chan<- connectOutcome) error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return apperrors.New(apperrors.ErrCodeInternalError, "session manager is shutting down")
	}
	m.mu.Unlock()

	socket, err := m.dialer.Dial(ctx, session.PhoneNumber, session.Material)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeSocketAPI, "failed to open session socket")
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	handle := &SessionHandle{Session: session, Socket: socket, Cancel: cancel}
	m.registry.Put(session.PhoneNumber, handle)

	m.wg.Add(1)
	go m.runEventLoop(loopCtx, handle, ready)
	return nil
}

// runEventLoop consumes socket events for one session until the socket
// closes or the handle is cancelled. It owns reconnects: the loop re-dials
// with linear backoff and replaces the registry handle each time.
func (m *SessionManager) runEventLoop(ctx context.Context, handle *SessionHandle, ready chan<- connectOutcome) {
	defer m.wg.Done()

	session := handle.Session
	socket := handle.Socket
	log := m.logger.WithFields(logrus.Fields{
		"sessionId":   session.ID,
		"phoneNumber": session.PhoneNumber,
	})

	// a Connect caller waits on ready for the first QR, connected
	// confirmation or terminal error; later outcomes are loop-internal
	signal := func(outcome connectOutcome) {
		if ready != nil {
			ready <- outcome
			ready = nil
		}
	}

	connectTimer := time.NewTimer(m.connectTimeout)
	defer connectTimer.Stop()
	connected := false
	reconnectAttempts := 0

	for {
		select {
		case <-ctx.Done():
			signal(connectOutcome{err: apperrors.New(apperrors.ErrCodeInternalError, "session manager is shutting down")})
			_ = socket.Close()
			return

		case <-connectTimer.C:
			if connected {
				continue
			}
			log.Warn("Session did not connect within the timeout, tearing down")
			_ = socket.Close()
			timeoutErr := apperrors.NewConnectTimeout(session.PhoneNumber)
			signal(connectOutcome{err: timeoutErr})
			reason := timeoutErr.Message
			_ = m.store.UpdateSessionState(context.Background(), session.ID, models.SessionStateDisconnected, &reason)
			m.registry.Remove(session.PhoneNumber, handle)
			m.sink.SessionDisconnected(context.Background(), session.ID, session.PhoneNumber, reason, false)
			return

		case event, ok := <-socket.Events():
			if !ok {
				// socket closed without a terminal event
				if ctx.Err() != nil {
					return
				}
				event = sockettypes.Event{Kind: sockettypes.EventClosed, Session: session.PhoneNumber, Reason: "socket closed"}
			}

			switch event.Kind {
			case sockettypes.EventQR:
				log.Info("Pairing QR received")
				if err := m.store.UpdateSessionMaterial(context.Background(), session.ID, session.Material, event.QR); err != nil {
					log.WithError(err).Warn("Failed to persist pairing QR")
				}
				signal(connectOutcome{state: models.SessionStateReconnecting, qr: event.QR})
				m.sink.SessionPairing(context.Background(), session.ID, session.PhoneNumber, event.QR)

			case sockettypes.EventConnected:
				connected = true
				reconnectAttempts = 0
				// handles are immutable: publish a fresh one carrying the
				// connected session so concurrent readers never see a tear
				next := *session
				next.Material = event.Material
				next.State = models.SessionStateConnected
				session = &next
				handle = m.replaceHandle(handle, session, socket)
				if err := m.store.UpdateSessionMaterial(context.Background(), session.ID, event.Material, ""); err != nil {
					log.WithError(err).Error("Failed to persist session material")
				}
				if err := m.store.UpdateSessionState(context.Background(), session.ID, models.SessionStateConnected, nil); err != nil {
					log.WithError(err).Error("Failed to persist connected state")
				}
				log.Info("Session connected")
				signal(connectOutcome{state: models.SessionStateConnected})
				m.sink.SessionConnected(context.Background(), session.ID, session.PhoneNumber)

			case sockettypes.EventClosed:
				_ = socket.Close()

				if event.LoggedOut {
					log.WithField("reason", event.Reason).Info("Session logged out, clearing credentials")
					fatal := apperrors.NewProtocolFatal(stderrors.New(event.Reason), session.PhoneNumber)
					signal(connectOutcome{err: fatal})
					reason := event.Reason
					_ = m.store.ClearSession(context.Background(), session.ID, &reason)
					m.registry.Remove(session.PhoneNumber, handle)
					m.sink.SessionDisconnected(context.Background(), session.ID, session.PhoneNumber, event.Reason, true)
					return
				}

				if session.Material == "" {
					// never paired: do not loop on a failing pairing
					signal(connectOutcome{err: apperrors.New(apperrors.ErrCodeSocketAPI,
						fmt.Sprintf("pairing failed for %s: %s", session.PhoneNumber, event.Reason))})
					reason := event.Reason
					_ = m.store.UpdateSessionState(context.Background(), session.ID, models.SessionStateDisconnected, &reason)
					m.registry.Remove(session.PhoneNumber, handle)
					m.sink.SessionDisconnected(context.Background(), session.ID, session.PhoneNumber, event.Reason, false)
					return
				}

				reconnectAttempts++
				if reconnectAttempts > m.maxReconnectAttempts {
					log.WithField("attempts", reconnectAttempts-1).Warn("Reconnect attempts exhausted")
					reason := fmt.Sprintf("reconnect failed after %d attempts: %s", m.maxReconnectAttempts, event.Reason)
					signal(connectOutcome{err: apperrors.New(apperrors.ErrCodeSocketAPI, reason)})
					_ = m.store.UpdateSessionState(context.Background(), session.ID, models.SessionStateDisconnected, &reason)
					m.registry.Remove(session.PhoneNumber, handle)
					m.sink.SessionDisconnected(context.Background(), session.ID, session.PhoneNumber, reason, false)
					return
				}

				delay := retry.LinearDelay(reconnectAttempts, m.reconnectBaseDelay)
				log.WithFields(logrus.Fields{
					"attempt": reconnectAttempts,
					"delay":   delay.String(),
				}).Info("Session dropped, reconnecting")
				next := *session
				next.State = models.SessionStateReconnecting
				session = &next
				_ = m.store.UpdateSessionState(context.Background(), session.ID, models.SessionStateReconnecting, nil)

				select {
				case <-ctx.Done():
					return
				case <-time.After(delay):
				}

				newSocket, err := m.dialer.Dial(ctx, session.PhoneNumber, session.Material)
				if err != nil {
					log.WithError(err).Warn("Reconnect dial failed")
					// feed a synthetic close back through the loop
					socket = closedSocket(session.PhoneNumber, err.Error())
					handle = m.replaceHandle(handle, session, socket)
					connected = false
					continue
				}

				socket = newSocket
				handle = m.replaceHandle(handle, session, socket)
				connected = false
				connectTimer.Reset(m.connectTimeout)
			}
		}
	}
}

// replaceHandle publishes a fresh handle carrying the session and socket.
func (m *SessionManager) replaceHandle(old *SessionHandle, session *models.Session, socket sockettypes.Socket) *SessionHandle {
	handle := &SessionHandle{Session: session, Socket: socket, Cancel: old.Cancel}
	m.registry.Put(session.PhoneNumber, handle)
	return handle
}

// Disconnect tears a session down: best-effort logout of the device,
// credentials cleared, state set to disconnected. keepMaterial skips the
// logout and keeps the stored material so the session can be resumed later.
func (m *SessionManager) Disconnect(ctx context.Context, tenantID int64, phoneNumber string, keepMaterial bool) error {
	phoneNumber = validation.NormalizePhoneNumber(phoneNumber)

	session, err := m.store.GetSession(ctx, tenantID, phoneNumber)
	if err != nil {
		return err
	}
	if session == nil {
		return apperrors.NewSessionNotFound(phoneNumber)
	}

	handle, live := m.registry.Get(phoneNumber)
	if live {
		if !keepMaterial {
			if err := handle.Socket.Logout(ctx); err != nil {
				m.logger.WithError(err).Warn("Engine logout failed, clearing local credentials anyway")
			}
		}
		handle.Cancel()
		_ = handle.Socket.Close()
		m.registry.Remove(phoneNumber, handle)
	}

	if keepMaterial {
		return m.store.UpdateSessionState(ctx, session.ID, models.SessionStateDisconnected, nil)
	}
	reason := "disconnected by request"
	return m.store.ClearSession(ctx, session.ID, &reason)
}

// Status reports the stored session state plus the live pairing QR, if any.
func (m *SessionManager) Status(ctx context.Context, tenantID int64, phoneNumber string) (*SessionStatus, error) {
	phoneNumber = validation.NormalizePhoneNumber(phoneNumber)

	session, err := m.store.GetSession(ctx, tenantID, phoneNumber)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, apperrors.NewSessionNotFound(phoneNumber)
	}

	status := &SessionStatus{
		SessionID:   session.ID,
		PhoneNumber: session.PhoneNumber,
		State:       session.State,
		LastError:   session.LastError,
		UpdatedAt:   session.UpdatedAt,
	}

	if session.QR != "" && session.State != models.SessionStateConnected {
		image, err := renderQRDataURL(session.QR)
		if err != nil {
			m.logger.WithError(err).Warn("Failed to render pairing QR")
		} else {
			status.QRCode = image
		}
	}
	return status, nil
}

// RehydrateAll resumes every session that still holds credential material.
// Called once on startup.
func (m *SessionManager) RehydrateAll(ctx context.Context) error {
	sessions, err := m.store.ListSessionsWithMaterial(ctx)
	if err != nil {
		return err
	}

	for _, session := range sessions {
		if _, live := m.registry.Get(session.PhoneNumber); live {
			continue
		}
		if err := m.startSession(ctx, session, nil); err != nil {
			m.logger.WithError(err).WithField("phoneNumber", session.PhoneNumber).Warn("Failed to rehydrate session")
			reason := err.Error()
			_ = m.store.UpdateSessionState(ctx, session.ID, models.SessionStateDisconnected, &reason)
		}
	}

	m.logger.WithField("sessions", m.registry.Len()).Info("Session rehydration complete")
	return nil
}

// Stop cancels all event loops and waits for them to drain.
func (m *SessionManager) Stop() {
	m.mu.Lock()
	m.stopped = true
	m.mu.Unlock()

	for _, handle := range m.registry.List() {
		handle.Cancel()
	}
	m.wg.Wait()
}

func renderQRDataURL(qr string) (string, error) {
	png, err := qrcode.Encode(qr, qrcode.Medium, 256)
	if err != nil {
		return "", fmt.Errorf("failed to encode QR: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}

// closedSocket builds a socket whose event channel already delivered a
// close, so a failed re-dial flows through the normal retry path.
func closedSocket(session, reason string) sockettypes.Socket {
	events := make(chan sockettypes.Event, 1)
	events <- sockettypes.Event{Kind: sockettypes.EventClosed, Session: session, Reason: reason}
	close(events)
	return &staticSocket{events: events}
}

type staticSocket struct {
	events chan sockettypes.Event
}

func (s *staticSocket) Events() <-chan sockettypes.Event { return s.events }
func (s *staticSocket) Send(ctx context.Context, payload *sockettypes.OutboundPayload) (*sockettypes.SendResult, error) {
	return nil, fmt.Errorf("socket is closed")
}
func (s *staticSocket) Delete(ctx context.Context, chatID, providerMessageID string) error {
	return fmt.Errorf("socket is closed")
}
func (s *staticSocket) Logout(ctx context.Context) error { return nil }
func (s *staticSocket) Close() error                     { return nil }
