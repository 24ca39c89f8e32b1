package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"wagate/internal/constants"
	apperrors "wagate/internal/errors"
	"wagate/internal/service"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

type connectRequest struct {
	PhoneNumber string `json:"phoneNumber"`
}

type forwardRequest struct {
	Recipients []string `json:"recipients"`
}

type toggleWebhookRequest struct {
	IsActive bool `json:"isActive"`
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := contextWithTimeout(r, constants.DefaultSessionStatusTimeoutSec)
		defer cancel()

		status := "ok"
		code := http.StatusOK
		if err := s.db.HealthCheck(ctx); err != nil {
			status = "degraded"
			code = http.StatusServiceUnavailable
			s.logger.WithError(err).Error("Database health check failed")
		}

		s.writeJSON(w, code, map[string]interface{}{
			"status":   status,
			"version":  Version,
			"breakers": s.whWorker.BreakerStats(),
		})
	}
}

func (s *Server) handleConnect() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req connectRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, r, apperrors.New(apperrors.ErrCodeValidation, "invalid request body"))
			return
		}

		tenant := tenantFrom(r)
		status, err := s.sessions.Connect(r.Context(), tenant.ID, req.PhoneNumber)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusCreated, status)
	}
}

func (s *Server) handleSessionStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenant := tenantFrom(r)
		status, err := s.sessions.Status(r.Context(), tenant.ID, mux.Vars(r)["phoneNumber"])
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, status)
	}
}

func (s *Server) handleDisconnect() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenant := tenantFrom(r)
		keepMaterial := r.URL.Query().Get("keepMaterial") == "true"

		if err := s.sessions.Disconnect(r.Context(), tenant.ID, mux.Vars(r)["phoneNumber"], keepMaterial); err != nil {
			s.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleSend() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req service.SendRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, r, apperrors.New(apperrors.ErrCodeValidation, "invalid request body"))
			return
		}

		tenant := tenantFrom(r)
		msg, err := s.messages.Send(r.Context(), tenant.ID, &req)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusAccepted, msg)
	}
}

func (s *Server) handleReceive() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var inbound service.InboundMessage
		if err := json.NewDecoder(r.Body).Decode(&inbound); err != nil {
			s.writeError(w, r, apperrors.New(apperrors.ErrCodeValidation, "invalid request body"))
			return
		}

		result, err := s.messages.Receive(r.Context(), &inbound)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, result)
	}
}

func (s *Server) handleHistory() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		phoneNumber := r.URL.Query().Get("phoneNumber")
		if phoneNumber == "" {
			s.writeError(w, r, apperrors.New(apperrors.ErrCodeValidation, "phoneNumber query parameter is required"))
			return
		}
		limit, offset := listParams(r)

		tenant := tenantFrom(r)
		msgs, total, err := s.messages.History(r.Context(), tenant.ID, phoneNumber, limit, offset)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]interface{}{
			"messages": msgs,
			"total":    total,
			"limit":    limit,
			"offset":   offset,
		})
	}
}

func (s *Server) handleGetMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenant := tenantFrom(r)
		msg, err := s.messages.Get(r.Context(), tenant.ID, mux.Vars(r)["id"])
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, msg)
	}
}

func (s *Server) handleDeleteMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenant := tenantFrom(r)
		msg, err := s.messages.Delete(r.Context(), tenant.ID, mux.Vars(r)["id"])
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, msg)
	}
}

func (s *Server) handleForward() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req forwardRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, r, apperrors.New(apperrors.ErrCodeValidation, "invalid request body"))
			return
		}

		tenant := tenantFrom(r)
		msgs, err := s.messages.Forward(r.Context(), tenant.ID, mux.Vars(r)["id"], req.Recipients)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusAccepted, msgs)
	}
}

func (s *Server) handleRegisterWebhook() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req service.RegisterWebhookRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, r, apperrors.New(apperrors.ErrCodeValidation, "invalid request body"))
			return
		}

		tenant := tenantFrom(r)
		wh, err := s.webhooks.Register(r.Context(), tenant.ID, &req)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusCreated, wh)
	}
}

func (s *Server) handleListWebhooks() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenant := tenantFrom(r)
		hooks, err := s.webhooks.List(r.Context(), tenant.ID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, hooks)
	}
}

func (s *Server) handleToggleWebhook() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req toggleWebhookRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, r, apperrors.New(apperrors.ErrCodeValidation, "invalid request body"))
			return
		}

		tenant := tenantFrom(r)
		if err := s.webhooks.SetActive(r.Context(), tenant.ID, mux.Vars(r)["id"], req.IsActive); err != nil {
			s.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleDeleteWebhook() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenant := tenantFrom(r)
		if err := s.webhooks.Delete(r.Context(), tenant.ID, mux.Vars(r)["id"]); err != nil {
			s.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleListWebhookEvents() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, offset := listParams(r)

		tenant := tenantFrom(r)
		events, err := s.webhooks.ListEvents(r.Context(), tenant.ID, limit, offset)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, events)
	}
}

func (s *Server) handleRetryWebhookEvent() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenant := tenantFrom(r)
		if err := s.webhooks.RetryEvent(r.Context(), tenant.ID, mux.Vars(r)["id"]); err != nil {
			s.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	message := "internal server error"

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		message = appErr.Message
		switch appErr.Code {
		case apperrors.ErrCodeValidation:
			status = http.StatusBadRequest
		case apperrors.ErrCodeAuthentication:
			status = http.StatusUnauthorized
		case apperrors.ErrCodeForbidden:
			status = http.StatusForbidden
		case apperrors.ErrCodeNotFound:
			status = http.StatusNotFound
		case apperrors.ErrCodeConflict:
			status = http.StatusConflict
		case apperrors.ErrCodeTimeout:
			status = http.StatusGatewayTimeout
		}
	}

	if status >= 500 {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
		}).Error("Request failed")
	}

	s.writeJSON(w, status, map[string]string{"error": message})
}

func apperrorUnauthorized(message string) *apperrors.AppError {
	return apperrors.New(apperrors.ErrCodeAuthentication, message)
}

func listParams(r *http.Request) (limit, offset int) {
	limit = constants.DefaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			limit = v
		}
	}
	if limit > constants.MaxListLimit {
		limit = constants.MaxListLimit
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v >= 0 {
			offset = v
		}
	}
	return limit, offset
}

func contextWithTimeout(r *http.Request, seconds int) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), time.Duration(seconds)*time.Second)
}
