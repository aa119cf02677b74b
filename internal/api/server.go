package api

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"script-executor/internal/config"
	"script-executor/internal/executor"
	"script-executor/internal/monitor"
	"script-executor/internal/storage"
)

// Server is the main HTTP server for the executor API.
type Server struct {
	httpServer *http.Server
	handlers   *Handlers
	cfg        *config.Config
	store      AuditStore
	startTime  time.Time
}

// NewServer creates and configures the HTTP server with all routes and
// middleware. store and audit may be nil when no database is configured.
func NewServer(cfg *config.Config, exec *executor.Executor, store AuditStore, audit *storage.AuditWriter, metrics *monitor.Metrics) *Server {
	handlers := NewHandlers(exec,
		NewScriptResolver(cfg.Executor.ScriptRoots),
		cfg.Executor.MaxScriptBytes,
		store, audit, metrics,
	)

	s := &Server{
		handlers:  handlers,
		cfg:       cfg,
		store:     store,
		startTime: time.Now(),
	}

	// Run API, wrapped with auth
	apiMux := http.NewServeMux()
	apiMux.HandleFunc("POST /runs", handlers.HandleRun)
	apiMux.HandleFunc("POST /runs/stream", handlers.HandleRunStream)
	apiMux.HandleFunc("GET /runs", handlers.HandleGetRecord)
	apiMux.HandleFunc("GET /runs/transcript", handlers.HandleTranscript)
	apiMux.HandleFunc("GET /scripts", handlers.HandleListScripts)
	apiMux.HandleFunc("GET /audit", handlers.HandleListAudit)

	authedAPI := AuthMiddleware(cfg.Security.APIKeyHeader, cfg.Security.AllowedKeys, cfg.Security.AllowUnauthenticated)(apiMux)

	// Health and metrics bypass auth
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	if cfg.Metrics.Enabled {
		mux.Handle("GET "+cfg.Metrics.Path, promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	}
	mux.Handle("/", authedAPI)

	// Middleware chain, outermost last
	var handler http.Handler = mux
	handler = MetricsMiddleware(metrics)(handler)
	handler = MaxBodyMiddleware(cfg.Server.MaxRequestBody)(handler)
	handler = SecurityHeadersMiddleware(handler)
	handler = LoggingMiddleware(handler)
	handler = RequestIDMiddleware(handler)
	handler = RecoveryMiddleware(handler)

	s.httpServer = &http.Server{
		Addr:              cfg.Address(),
		Handler:           handler,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}

	return s
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening for requests. Uses TLS if configured.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	if s.cfg.TLS.Enabled {
		log.Info().
			Str("addr", ln.Addr().String()).
			Str("cert", s.cfg.TLS.CertFile).
			Msg("starting HTTPS server with TLS")

		s.httpServer.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
		return s.httpServer.ServeTLS(ln, s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
	}

	log.Warn().Msg("TLS not enabled, running plain HTTP")
	log.Info().
		Str("addr", ln.Addr().String()).
		Msg("starting HTTP server")
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbOK := s.store == nil || s.store.Healthy(r.Context())

	resp := HealthResponse{
		Status:   "ok",
		Engine:   s.cfg.Executor.Engine,
		Database: dbOK,
		Uptime:   time.Since(s.startTime).Round(time.Second).String(),
	}

	status := http.StatusOK
	if !dbOK {
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, resp)
}
