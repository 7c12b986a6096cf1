package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/handlers"
	"go.uber.org/zap"

	"github.com/wellnesshub/wellness-chat/internal/config"
	"github.com/wellnesshub/wellness-chat/internal/presence"
	"github.com/wellnesshub/wellness-chat/internal/server"
	"github.com/wellnesshub/wellness-chat/internal/store"
)

type WellnessApp struct {
	log            *zap.Logger
	store          store.Store
	presence       presence.Presence
	mux            *http.Server
	cs             *server.ChatServer
	signingKey     []byte
	allowedOrigins []string
}

func NewWellnessApp(logger *zap.Logger, cs *server.ChatServer, st store.Store, pr presence.Presence, cfg *config.Config) *WellnessApp {
	s := &WellnessApp{
		log:            logger,
		store:          st,
		presence:       pr,
		cs:             cs,
		signingKey:     cfg.SigningKey,
		allowedOrigins: cfg.AllowedOrigins,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.healthCheck)
	mux.HandleFunc("POST /api/auth/register", s.createAccount)
	mux.HandleFunc("POST /api/auth/login", s.login)
	mux.Handle("GET /api/auth/session", s.authMiddleware(s.session))
	mux.Handle("GET /api/rooms", s.authMiddleware(s.listRooms))
	mux.Handle("POST /api/rooms", s.authMiddleware(s.createRoom))
	mux.Handle("DELETE /api/rooms", s.authMiddleware(s.deleteRoom))
	mux.Handle("GET /api/rooms/detail", s.authMiddleware(s.getRoom))
	mux.Handle("POST /api/rooms/join", s.authMiddleware(s.joinRoom))
	mux.Handle("POST /api/rooms/leave", s.authMiddleware(s.leaveRoom))
	mux.Handle("POST /api/rooms/read", s.authMiddleware(s.markRead))
	mux.Handle("GET /api/messages", s.authMiddleware(s.getMessages))
	mux.Handle("POST /api/messages", s.authMiddleware(s.createMessage))
	mux.Handle("DELETE /api/messages", s.authMiddleware(s.deleteMessage))
	mux.Handle("GET /api/online", s.authMiddleware(s.getOnlineUsers))
	mux.Handle("GET /ws/chat", s.authMiddleware(s.serveWs))
	mux.Handle("GET /ws/online", s.authMiddleware(s.serveOnlineWs))

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", "Authorization"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(h)

	srv := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	s.mux = srv
	return s
}

func (s *WellnessApp) Start() error {
	s.log.Info("starting http server", zap.String("addr", s.mux.Addr))
	return s.mux.ListenAndServe()
}

func (s *WellnessApp) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down http server")
	if err := s.mux.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
