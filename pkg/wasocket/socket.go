package wasocket

import (
	"context"
	"sync"
	"time"

	"wagate/pkg/wasocket/types"
)

// engineSocket watches one engine session and surfaces its transitions as
// typed events. Status polling is the engine's only notification channel.
type engineSocket struct {
	client       *Client
	session      string
	pollInterval time.Duration

	events chan types.Event

	closeOnce sync.Once
	closed    chan struct{}
	done      chan struct{}

	lastStatus types.EngineSessionStatus
	lastQR     string
}

// Dialer opens engine-backed sockets.
type Dialer struct {
	client       *Client
	pollInterval time.Duration
}

func NewDialer(client *Client, pollInterval time.Duration) *Dialer {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &Dialer{client: client, pollInterval: pollInterval}
}

// Dial starts the engine session and begins watching it. The returned
// socket emits qr, connected and closed events until Close.
func (d *Dialer) Dial(ctx context.Context, session, material string) (types.Socket, error) {
	if err := d.client.StartSession(ctx, session, material); err != nil {
		return nil, err
	}

	s := &engineSocket{
		client:       d.client,
		session:      session,
		pollInterval: d.pollInterval,
		events:       make(chan types.Event, 16),
		closed:       make(chan struct{}),
		done:         make(chan struct{}),
	}
	go s.watch()
	return s, nil
}

func (s *engineSocket) Events() <-chan types.Event {
	return s.events
}

func (s *engineSocket) Send(ctx context.Context, payload *types.OutboundPayload) (*types.SendResult, error) {
	payload.Session = s.session
	return s.client.SendMessage(ctx, payload)
}

func (s *engineSocket) Delete(ctx context.Context, chatID, providerMessageID string) error {
	return s.client.DeleteMessage(ctx, s.session, chatID, providerMessageID)
}

func (s *engineSocket) Logout(ctx context.Context) error {
	return s.client.LogoutSession(ctx, s.session)
}

// Close stops the watch loop and the engine session. Idempotent.
func (s *engineSocket) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		<-s.done

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err = s.client.StopSession(ctx, s.session)
	})
	return err
}

func (s *engineSocket) watch() {
	defer close(s.done)
	defer close(s.events)

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.closed:
			return
		case <-ticker.C:
			if s.poll() {
				return
			}
		}
	}
}

// poll fetches status once and emits events for transitions. Returns true
// when the session reached a terminal state and the loop should end.
func (s *engineSocket) poll() bool {
	ctx, cancel := context.WithTimeout(context.Background(), s.pollInterval*2)
	defer cancel()

	engineSession, err := s.client.GetSession(ctx, s.session)
	if err != nil {
		if engineErr, ok := err.(*EngineError); ok && engineErr.Fatal() {
			s.emit(types.Event{
				Kind:    types.EventClosed,
				Session: s.session,
				Reason:  engineErr.Message,
			})
			return true
		}
		// transient engine unavailability, keep polling
		return false
	}

	switch engineSession.Status {
	case types.EngineStatusScanQR:
		if engineSession.QR != "" && engineSession.QR != s.lastQR {
			s.lastQR = engineSession.QR
			s.emit(types.Event{
				Kind:    types.EventQR,
				Session: s.session,
				QR:      engineSession.QR,
			})
		}
	case types.EngineStatusWorking:
		if s.lastStatus != types.EngineStatusWorking {
			s.emit(types.Event{
				Kind:     types.EventConnected,
				Session:  s.session,
				Material: engineSession.Material,
			})
		}
	case types.EngineStatusFailed, types.EngineStatusStopped:
		s.emit(types.Event{
			Kind:      types.EventClosed,
			Session:   s.session,
			Reason:    engineSession.Reason,
			LoggedOut: engineSession.LoggedOut,
		})
		s.lastStatus = engineSession.Status
		return true
	}

	s.lastStatus = engineSession.Status
	return false
}

func (s *engineSocket) emit(event types.Event) {
	select {
	case s.events <- event:
	case <-s.closed:
	}
}
