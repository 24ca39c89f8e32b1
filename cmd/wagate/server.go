package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"wagate/internal/constants"
	"wagate/internal/database"
	"wagate/internal/middleware"
	"wagate/internal/models"
	"wagate/internal/service"

	"github.com/gorilla/mux"
	gocache "github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
)

type contextKey string

const tenantContextKey contextKey = "tenant"

// Server is the HTTP surface: tenant API plus the engine intake endpoint.
type Server struct {
	router *mux.Router
	logger *logrus.Logger
	server *http.Server

	cfg       *models.Config
	db        *database.Database
	sessions  *service.SessionManager
	messages  *service.MessageService
	webhooks  *service.WebhookService
	whWorker  *service.WebhookWorker
	authCache *gocache.Cache
}

func NewServer(cfg *models.Config, db *database.Database, sessions *service.SessionManager, messages *service.MessageService, webhooks *service.WebhookService, whWorker *service.WebhookWorker, logger *logrus.Logger) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		logger:   logger,
		cfg:      cfg,
		db:       db,
		sessions: sessions,
		messages: messages,
		webhooks: webhooks,
		whWorker: whWorker,
		authCache: gocache.New(
			time.Duration(constants.DefaultAuthCacheTTLSec)*time.Second,
			time.Duration(constants.DefaultAuthCacheTTLSec)*time.Second,
		),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Observability(s.logger))

	s.router.HandleFunc("/health", s.handleHealth()).Methods(http.MethodGet)

	// engine intake is authenticated by shared secret, not tenant token
	s.router.HandleFunc("/api/intake/messages", s.requireIntakeSecret(s.handleReceive())).Methods(http.MethodPost)

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(s.authMiddleware)

	api.HandleFunc("/sessions", s.handleConnect()).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{phoneNumber}/status", s.handleSessionStatus()).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{phoneNumber}", s.handleDisconnect()).Methods(http.MethodDelete)

	api.HandleFunc("/messages", s.handleSend()).Methods(http.MethodPost)
	api.HandleFunc("/messages", s.handleHistory()).Methods(http.MethodGet)
	api.HandleFunc("/messages/{id}", s.handleGetMessage()).Methods(http.MethodGet)
	api.HandleFunc("/messages/{id}", s.handleDeleteMessage()).Methods(http.MethodDelete)
	api.HandleFunc("/messages/{id}/forward", s.handleForward()).Methods(http.MethodPost)

	api.HandleFunc("/webhooks", s.handleRegisterWebhook()).Methods(http.MethodPost)
	api.HandleFunc("/webhooks", s.handleListWebhooks()).Methods(http.MethodGet)
	api.HandleFunc("/webhooks/{id}", s.handleToggleWebhook()).Methods(http.MethodPatch)
	api.HandleFunc("/webhooks/{id}", s.handleDeleteWebhook()).Methods(http.MethodDelete)
	api.HandleFunc("/webhooks/events", s.handleListWebhookEvents()).Methods(http.MethodGet)
	api.HandleFunc("/webhooks/events/{id}/retry", s.handleRetryWebhookEvent()).Methods(http.MethodPost)
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(s.cfg.Server.WriteTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(s.cfg.Server.IdleTimeoutSec) * time.Second,
	}

	s.logger.Infof("Starting server on port %d", s.cfg.Server.Port)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// authMiddleware resolves the bearer token to a tenant. Lookups are cached
// so a steady client costs one database read per TTL window.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			s.writeError(w, r, apperrorUnauthorized("missing bearer token"))
			return
		}
		token := strings.TrimPrefix(header, "Bearer ")

		tenant, err := s.resolveTenant(r.Context(), token)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		ctx := context.WithValue(r.Context(), tenantContextKey, tenant)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) resolveTenant(ctx context.Context, token string) (*models.Tenant, error) {
	if cached, ok := s.authCache.Get(token); ok {
		return cached.(*models.Tenant), nil
	}

	tenant, err := s.db.GetTenantByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if tenant == nil || !tenant.Active() {
		return nil, apperrorUnauthorized("invalid or revoked token")
	}

	s.authCache.SetDefault(token, tenant)
	return tenant, nil
}

// requireIntakeSecret guards the engine callback endpoint. An empty
// configured secret disables the check; config validation forbids that in
// production.
func (s *Server) requireIntakeSecret(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		secret := s.cfg.Socket.IntakeSecret
		if secret != "" && r.Header.Get("X-Intake-Secret") != secret {
			s.writeError(w, r, apperrorUnauthorized("invalid intake secret"))
			return
		}
		next(w, r)
	}
}

func tenantFrom(r *http.Request) *models.Tenant {
	tenant, _ := r.Context().Value(tenantContextKey).(*models.Tenant)
	return tenant
}
