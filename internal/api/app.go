// Package api serves the REST endpoints and the websocket upgrade.
package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/npezzotti/securechat/internal/config"
	"github.com/npezzotti/securechat/internal/filestore"
	"github.com/npezzotti/securechat/internal/server"
	"github.com/npezzotti/securechat/internal/service"
	"github.com/npezzotti/securechat/internal/types"
)

// Service is the domain API the handlers call into.
type Service interface {
	Ping(ctx context.Context) error

	Register(ctx context.Context, p service.RegisterParams) (types.User, error)
	Authenticate(ctx context.Context, email, password string) (types.User, error)
	GetUser(ctx context.Context, userId int) (types.User, error)
	ListUsers(ctx context.Context, search string) ([]types.User, error)
	UpdateProfile(ctx context.Context, userId int, upd service.ProfileUpdate) (types.User, error)
	SetPresence(ctx context.Context, userId int, online bool) (types.User, error)

	IsAdmin(ctx context.Context, userId int) (bool, error)
	ListAllUsers(ctx context.Context) ([]types.User, error)
	PromoteAdmin(ctx context.Context, targetId int) (types.User, error)
	DemoteAdmin(ctx context.Context, requesterId, targetId int) (types.User, error)
	RegistrationEnabled(ctx context.Context) (bool, error)
	SetRegistrationEnabled(ctx context.Context, enabled bool) error
	Stats(ctx context.Context) (types.AdminStats, error)

	CreatePersonalChat(ctx context.Context, requesterId, targetId int) (types.Chat, bool, error)
	CreateGroupChat(ctx context.Context, requesterId int, name string, participantIds []int) (types.Chat, error)
	ListChats(ctx context.Context, userId int) ([]types.Chat, error)
	GetChat(ctx context.Context, userId int, externalId string) (types.Chat, error)
	UpdateSettings(ctx context.Context, userId int, externalId string, patch service.SettingsPatch) (types.Chat, error)

	SendMessage(ctx context.Context, p service.SendParams) (types.Message, bool, error)
	ListMessages(ctx context.Context, userId int, externalId string, page, limit int) ([]types.Message, error)
	MarkRead(ctx context.Context, userId int, messageId int64) (service.ReadResult, error)
	ExpiryInfo(ctx context.Context, userId int, messageId int64) (types.ExpiryInfo, error)
}

type SecureChatApp struct {
	log            *log.Logger
	svc            Service
	files          filestore.Store
	srv            *http.Server
	cs             *server.ChatServer
	signingKey     []byte
	tokenTTL       time.Duration
	allowedOrigins []string
	maxUploadBytes int64
}

func NewSecureChatApp(router *mux.Router, logger *log.Logger, cs *server.ChatServer, svc Service, files filestore.Store, cfg *config.Config) *SecureChatApp {
	s := &SecureChatApp{
		log:            logger,
		svc:            svc,
		files:          files,
		cs:             cs,
		signingKey:     cfg.SigningKey,
		tokenTTL:       cfg.TokenTTL,
		allowedOrigins: cfg.AllowedOrigins,
		maxUploadBytes: cfg.MaxUploadBytes,
	}
	if s.tokenTTL <= 0 {
		s.tokenTTL = config.DefaultTokenTTL
	}
	if s.maxUploadBytes <= 0 {
		s.maxUploadBytes = config.DefaultMaxUploadBytes
	}

	s.routes(router)

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", "Authorization"}),
		handlers.AllowCredentials(),
	)(router)

	h = handlers.CombinedLoggingHandler(logger.Writer(), h)
	h = s.errorHandler(h)

	s.srv = &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	return s
}

func (s *SecureChatApp) routes(r *mux.Router) {
	r.HandleFunc("/healthz", s.healthCheck).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.wsAuthMiddleware(s.serveWs)).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/auth/register", s.register).Methods(http.MethodPost)
	api.HandleFunc("/auth/login", s.login).Methods(http.MethodPost)
	api.HandleFunc("/auth/registration-status", s.registrationStatus).Methods(http.MethodGet)
	api.HandleFunc("/auth/session", s.authMiddleware(s.session)).Methods(http.MethodGet)
	api.HandleFunc("/auth/logout", s.authMiddleware(s.logout)).Methods(http.MethodGet, http.MethodPost)

	api.HandleFunc("/users", s.authMiddleware(s.listUsers)).Methods(http.MethodGet)
	api.HandleFunc("/users/profile", s.authMiddleware(s.profile)).Methods(http.MethodGet)
	api.HandleFunc("/users/profile", s.authMiddleware(s.updateProfile)).Methods(http.MethodPut)
	api.HandleFunc("/users/status", s.authMiddleware(s.updateStatus)).Methods(http.MethodPut)

	api.HandleFunc("/chats", s.authMiddleware(s.listChats)).Methods(http.MethodGet)
	api.HandleFunc("/chats/personal", s.authMiddleware(s.createPersonalChat)).Methods(http.MethodPost)
	api.HandleFunc("/chats/group", s.authMiddleware(s.createGroupChat)).Methods(http.MethodPost)
	api.HandleFunc("/chats/{id}", s.authMiddleware(s.getChat)).Methods(http.MethodGet)
	api.HandleFunc("/chats/{id}/settings", s.authMiddleware(s.updateSettings)).Methods(http.MethodPut)

	api.HandleFunc("/messages/chats/{id}/messages", s.authMiddleware(s.getMessages)).Methods(http.MethodGet)
	api.HandleFunc("/messages/chats/{id}/messages", s.authMiddleware(s.sendMessage)).Methods(http.MethodPost)
	api.HandleFunc("/messages/messages/{id}/read", s.authMiddleware(s.markRead)).Methods(http.MethodPut)
	api.HandleFunc("/messages/messages/{id}/expiry", s.authMiddleware(s.expiryInfo)).Methods(http.MethodGet)

	api.HandleFunc("/admin/status", s.authMiddleware(s.adminStatus)).Methods(http.MethodGet)
	api.HandleFunc("/admin/registration/status", s.registrationStatus).Methods(http.MethodGet)
	api.HandleFunc("/admin/users", s.adminMiddleware(s.adminListUsers)).Methods(http.MethodGet)
	api.HandleFunc("/admin/users", s.adminMiddleware(s.promoteAdmin)).Methods(http.MethodPost)
	api.HandleFunc("/admin/users/{id}", s.adminMiddleware(s.demoteAdmin)).Methods(http.MethodDelete)
	api.HandleFunc("/admin/registration/enable", s.adminMiddleware(s.setRegistration(true))).Methods(http.MethodPost)
	api.HandleFunc("/admin/registration/disable", s.adminMiddleware(s.setRegistration(false))).Methods(http.MethodPost)
	api.HandleFunc("/admin/stats", s.adminMiddleware(s.adminStats)).Methods(http.MethodGet)

	api.HandleFunc("/files/upload", s.authMiddleware(s.uploadFile)).Methods(http.MethodPost)
	api.HandleFunc("/files/info/{name}", s.authMiddleware(s.fileInfo)).Methods(http.MethodGet)
	api.HandleFunc("/files/{name}", s.serveFile).Methods(http.MethodGet)

	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		s.writeError(w, NewMethodNotAllowedError())
	})
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		s.writeError(w, NewNotFoundError())
	})
}

func (s *SecureChatApp) Start() error {
	s.log.Printf("starting server on %s\n", s.srv.Addr)
	return s.srv.ListenAndServe()
}

func (s *SecureChatApp) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
