package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/teris-io/shortid"

	"github.com/chatlink/chatlink/internal/config"
	"github.com/chatlink/chatlink/internal/database"
	"github.com/chatlink/chatlink/internal/gateway"
)

type ChatLinkApp struct {
	log            *log.Logger
	db             database.ChatRepository
	mux            *http.Server
	gw             *gateway.Gateway
	signingKey     []byte
	allowedOrigins []string

	generateShortId func() (string, error)
}

func NewChatLinkApp(mux *http.ServeMux, logger *log.Logger, gw *gateway.Gateway, db database.ChatRepository, cfg *config.Config) *ChatLinkApp {
	s := &ChatLinkApp{
		log:             logger,
		db:              db,
		gw:              gw,
		signingKey:      cfg.SigningKey,
		allowedOrigins:  cfg.AllowedOrigins,
		generateShortId: shortid.Generate,
	}

	mux.HandleFunc("GET /healthz", s.healthCheck)
	mux.HandleFunc("POST /api/auth/register", s.createAccount)
	mux.HandleFunc("POST /api/auth/login", s.login)
	mux.Handle("GET /api/auth/session", s.authMiddleware(s.session))
	mux.Handle("GET /api/auth/logout", s.authMiddleware(s.logout))
	mux.Handle("/api/account", s.authMiddleware(s.account))
	mux.Handle("GET /api/users", s.authMiddleware(s.listUsers))
	mux.Handle("POST /api/groups", s.authMiddleware(s.createGroup))
	mux.Handle("GET /api/groups", s.authMiddleware(s.listGroups))
	mux.Handle("DELETE /api/groups", s.authMiddleware(s.deleteGroup))
	mux.Handle("POST /api/groups/members", s.authMiddleware(s.addGroupMember))
	mux.Handle("DELETE /api/groups/members", s.authMiddleware(s.removeGroupMember))
	mux.Handle("GET /api/messages", s.authMiddleware(s.getMessages))
	mux.Handle("POST /api/messages", s.authMiddleware(s.sendMessage))
	mux.Handle("GET /api/rewards", s.authMiddleware(s.listRewards))
	mux.Handle("POST /api/rewards/redeem", s.authMiddleware(s.redeemReward))
	mux.Handle("GET /api/calls", s.authMiddleware(s.getCallHistory))
	mux.Handle("GET /ws", s.authMiddleware(s.serveWs))

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept"}),
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

func (s *ChatLinkApp) Start() error {
	s.log.Printf("starting server on %s\n", s.mux.Addr)
	return s.mux.ListenAndServe()
}

func (s *ChatLinkApp) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.mux.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
