// Package api provides the HTTP API and middleware for the intent service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/notewise-ai/notewise/auth"
	"github.com/notewise-ai/notewise/capability"
	"github.com/notewise-ai/notewise/config"
	"github.com/notewise-ai/notewise/intent"
	"github.com/notewise-ai/notewise/quota"
	"github.com/notewise-ai/notewise/store"
)

// Server is the HTTP API server.
type Server struct {
	store         store.Store
	authProvider  auth.Provider
	loginProvider auth.LoginProvider // nil unless builtin auth
	router        *intent.Router
	ledger        *quota.Ledger
	registry      *capability.Registry
	logger        *slog.Logger
	mux           *chi.Mux
	addr          string
	environment   string
	maxBodyBytes  int64
	tlsCert       string
	tlsKey        string
	loginRL       *rateLimiter
	rl            *rateLimiter
}

// NewServer creates the API server and wires its routes.
func NewServer(cfg *config.Config, s store.Store, ap auth.Provider, lp auth.LoginProvider, rt *intent.Router, ledger *quota.Ledger, reg *capability.Registry, logger *slog.Logger) *Server {
	srv := &Server{
		store:         s,
		authProvider:  ap,
		loginProvider: lp,
		router:        rt,
		ledger:        ledger,
		registry:      reg,
		logger:        logger.With("component", "api"),
		addr:          cfg.Server.Addr,
		environment:   cfg.Server.Environment,
		maxBodyBytes:  cfg.Server.MaxBodyBytes,
		tlsCert:       cfg.Server.TLSCert,
		tlsKey:        cfg.Server.TLSKey,
	}

	mux := chi.NewRouter()
	mux.Use(chimw.Recoverer)
	mux.Use(chimw.RealIP)
	mux.Use(securityHeadersMiddleware)
	mux.Use(makeCORSMiddleware(cfg.Server.AllowedOrigins))

	// Health check routes (unauthenticated)
	mux.Get("/healthz", srv.handleHealthz)
	mux.Get("/readyz", srv.handleReadyz)

	// Login route only registered when using builtin auth.
	if lp != nil {
		srv.loginRL = newRateLimiter(5, 10)
		mux.With(ipRateLimitMiddleware(srv.loginRL)).Post("/api/auth/login", srv.handleLogin)
	}

	// Authenticated API routes
	srv.rl = newRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	mux.Group(func(r chi.Router) {
		r.Use(srv.authMiddleware)
		// Auto-provision users when identities come from an external issuer.
		if ap.Name() == "jwks" {
			r.Use(srv.ensureUserMiddleware)
		}
		r.Use(userRateLimitMiddleware(srv.rl))

		r.Post("/api/chat/route", srv.handleRouteChat)
		r.Get("/api/capabilities", srv.handleGetCapabilities)
		r.Get("/api/quota", srv.handleGetQuota)
		r.Get("/api/notes", srv.handleListNotes)
		r.Post("/api/notes", srv.handleCreateNote)
	})

	srv.mux = mux
	return srv
}

// ServeHTTP makes the server usable directly in tests.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Run serves HTTP until the context is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	httpSrv := &http.Server{
		Addr:              s.addr,
		Handler:           http.MaxBytesHandler(s.mux, s.maxBodyBytes),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("listening", "addr", s.addr)
		var err error
		if s.tlsCert != "" && s.tlsKey != "" {
			err = httpSrv.ListenAndServeTLS(s.tlsCert, s.tlsKey)
		} else {
			s.logger.Warn("TLS not configured, running without encryption (development only)")
			err = httpSrv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		s.rl.runCleanup(ctx, 5*time.Minute, 30*time.Minute)
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	token, err := s.loginProvider.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// handleRouteChat is the router entrypoint: it classifies one chat message
// into a capability (or none) under quota.
func (s *Server) handleRouteChat(w http.ResponseWriter, r *http.Request) {
	identity := getIdentityFromContext(r.Context())
	if identity == nil {
		writeError(w, http.StatusUnauthorized, "no authenticated user")
		return
	}

	var req intent.RouteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	decision, err := s.router.Route(r.Context(), identity.UserID, req)
	if err != nil {
		s.writeRouteError(w, err)
		return
	}

	resp := map[string]any{
		"success":    true,
		"intent":     decision.Intent,
		"confidence": decision.Confidence,
		"reasoning":  decision.Reasoning,
	}
	// Extracted parameters surface as top-level fields, present only when
	// the oracle actually extracted them.
	for k, v := range decision.Parameters {
		resp[k] = v
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) writeRouteError(w http.ResponseWriter, err error) {
	var exceeded *quota.ExceededError
	switch {
	case errors.Is(err, intent.ErrNoUser):
		writeError(w, http.StatusUnauthorized, "no authenticated user")
	case errors.Is(err, intent.ErrEmptyMessage):
		writeError(w, http.StatusBadRequest, "message is required")
	case errors.As(err, &exceeded):
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"error":     "quota exceeded",
			"limit":     exceeded.Limit,
			"current":   exceeded.Current,
			"remaining": exceeded.Remaining,
		})
	default:
		// Upstream and store failures degrade to a generic payload;
		// internals are only attached outside production.
		s.logger.Error("chat routing failed", "error", err)
		body := map[string]any{
			"error":   "internal error",
			"message": "failed to process message",
		}
		if s.environment != "production" {
			body["details"] = err.Error()
		}
		writeJSON(w, http.StatusInternalServerError, body)
	}
}

func (s *Server) handleGetCapabilities(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"capabilities": s.registry.FunctionDeclarations(),
	})
}

func (s *Server) handleGetQuota(w http.ResponseWriter, r *http.Request) {
	identity := getIdentityFromContext(r.Context())
	adm, err := s.ledger.Admit(r.Context(), identity.UserID, 0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "quota unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"plan":      adm.Plan,
		"limit":     adm.Limit,
		"current":   adm.Current,
		"remaining": adm.Remaining,
	})
}

func (s *Server) handleListNotes(w http.ResponseWriter, r *http.Request) {
	identity := getIdentityFromContext(r.Context())
	notes, err := s.store.ListNotesByUser(r.Context(), identity.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list notes")
		return
	}
	if notes == nil {
		notes = []store.Note{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"notes": notes})
}

func (s *Server) handleCreateNote(w http.ResponseWriter, r *http.Request) {
	identity := getIdentityFromContext(r.Context())

	var req struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Title == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}

	now := time.Now().UTC()
	note := &store.Note{
		ID:        newID(),
		UserID:    identity.UserID,
		Title:     req.Title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateNote(r.Context(), note); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create note")
		return
	}
	writeJSON(w, http.StatusCreated, note)
}

func newID() string {
	return uuid.New().String()
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
