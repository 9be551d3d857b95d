package ledger

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Server handles HTTP requests from the capture and list screens
type Server struct {
	service   *Service
	basicAuth BasicAuth
	mux       *http.ServeMux

	mu   sync.Mutex
	http *http.Server
}

// BasicAuth holds basic authentication credentials
type BasicAuth struct {
	Username string
	Password string
}

// NewServer creates a new Server with default mux
func NewServer(service *Service, basicAuth BasicAuth) *Server {
	return NewServerWithMux(service, basicAuth, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(service *Service, basicAuth BasicAuth, mux *http.ServeMux) *Server {
	s := &Server{
		service:   service,
		basicAuth: basicAuth,
		mux:       mux,
	}
	s.registerRoutes()
	return s
}

// authenticate checks basic auth credentials
func (s *Server) authenticate(r *http.Request) bool {
	if s.basicAuth.Username == "" && s.basicAuth.Password == "" {
		return true
	}

	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Basic ") {
		return false
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(auth, "Basic "))
	if err != nil {
		return false
	}

	credentials := strings.SplitN(string(decoded), ":", 2)
	if len(credentials) != 2 {
		return false
	}

	return credentials[0] == s.basicAuth.Username && credentials[1] == s.basicAuth.Password
}

// corsMiddleware adds CORS headers and answers preflight requests
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authenticate(r) {
			w.Header().Set("WWW-Authenticate", `Basic realm="CoinCard"`)
			writeError(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// registerRoutes registers all API routes on the server's mux
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("POST /api/scan", s.requireAuth(s.handleScan))
	s.mux.HandleFunc("POST /api/analyze", s.requireAuth(s.handleAnalyze))

	s.mux.HandleFunc("GET /api/records/{id}/image", s.requireAuth(s.handleGetPhoto))
	s.mux.HandleFunc("GET /api/records/{id}", s.requireAuth(s.handleGetRecord))
	s.mux.HandleFunc("PUT /api/records/{id}", s.requireAuth(s.handleUpdateRecord))
	s.mux.HandleFunc("DELETE /api/records/{id}", s.requireAuth(s.handleDeleteRecord))
	s.mux.HandleFunc("GET /api/records", s.requireAuth(s.handleListRecords))
	s.mux.HandleFunc("POST /api/records", s.requireAuth(s.handleSaveRecord))
	s.mux.HandleFunc("DELETE /api/records", s.requireAuth(s.handleReset))

	s.mux.HandleFunc("GET /api/hashtags", s.requireAuth(s.handleListHashtags))
	s.mux.HandleFunc("POST /api/hashtags", s.requireAuth(s.handleAddHashtags))

	s.mux.HandleFunc("GET /api/export", s.requireAuth(s.handleExport))
}

// Start serves until Shutdown is called
func (s *Server) Start(addr string) error {
	slog.Info("Starting server", "address", addr)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.corsMiddleware(s.mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.http = srv
	s.mu.Unlock()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.http
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// ServeHTTP implements http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.corsMiddleware(s.mux).ServeHTTP(w, r)
}
