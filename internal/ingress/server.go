// Package ingress accepts trading signals over HTTP and puts them on the users' command queues.
package ingress

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/sigtrader/internal/domain"
	"github.com/vadiminshakov/sigtrader/internal/queue"
)

const (
	maxBodyBytes = 64 << 10
	// Name is the worker name of the ingress server.
	Name = "signal_ingress"
)

// Server exposes the webhook endpoints.
type Server struct {
	addr   string
	pin    string
	queues *queue.Registry
	router *mux.Router
	l      *zap.Logger
}

// AcceptedResponse lists the users a command was enqueued for. Failed is set, with status 503,
// when some queues refused it; retry those through /webhook/{pin}/{user}.
type AcceptedResponse struct {
	ID     string   `json:"id"`
	Users  []string `json:"users"`
	Failed []string `json:"failed,omitempty"`
}

// ErrorResponse is returned for all errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// NewServer creates a webhook server. Requests must carry pin in their path.
func NewServer(addr, pin string, queues *queue.Registry, l *zap.Logger) *Server {
	if l == nil {
		l = zap.NewNop()
	}

	s := &Server{
		addr:   addr,
		pin:    pin,
		queues: queues,
		router: mux.NewRouter(),
		l:      l,
	}
	s.setupRoutes()

	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/webhook/{pin}", s.handleWebhook).Methods(http.MethodPost)
	s.router.HandleFunc("/webhook/{pin}/{user}", s.handleWebhook).Methods(http.MethodPost)
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
}

// Handler returns the routes, for tests and for embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Name() string {
	return Name
}

// Run is Start, so the server can be supervised like the workers.
func (s *Server) Run(ctx context.Context) error {
	return s.Start(ctx)
}

// Start runs the HTTP server (blocking) and shuts it down when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.l.Info("webhook server starting", zap.String("addr", s.addr), zap.Strings("users", s.queues.Users()))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "webhook server")
	}
	return nil
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	// unknown pins look like unknown routes
	if subtle.ConstantTimeCompare([]byte(vars["pin"]), []byte(s.pin)) != 1 {
		respondError(w, http.StatusNotFound, "not found", "")
		return
	}

	users := s.queues.Users()
	if user, ok := vars["user"]; ok {
		if _, known := s.queues.Get(user); !known {
			respondError(w, http.StatusNotFound, "not found", "")
			return
		}
		users = []string{user}
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid body", err.Error())
		return
	}

	cmd, err := domain.ParseCommand(body)
	if err != nil {
		s.l.Warn("rejected command", zap.ByteString("body", body), zap.Error(err))
		respondError(w, http.StatusBadRequest, "malformed command", err.Error())
		return
	}
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}

	msg, err := cmd.Marshal()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "encode command", err.Error())
		return
	}

	resp := AcceptedResponse{ID: cmd.ID, Users: make([]string, 0, len(users))}
	for _, user := range users {
		q, _ := s.queues.Get(user)
		if err := q.Enqueue(r.Context(), msg); err != nil {
			s.l.Error("enqueue failed", zap.String("user", user), zap.String("command_id", cmd.ID), zap.Error(err))
			resp.Failed = append(resp.Failed, user)
			continue
		}
		resp.Users = append(resp.Users, user)
	}

	status := http.StatusAccepted
	if len(resp.Failed) > 0 {
		status = http.StatusServiceUnavailable
	} else {
		s.l.Info("command accepted",
			zap.String("command_id", cmd.ID),
			zap.String("command", cmd.String()),
			zap.Strings("users", users))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: error, Message: message})
}
