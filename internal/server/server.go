package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ganainy/job-app-assistant/internal/analysis"
	"github.com/ganainy/job-app-assistant/internal/config"
	"github.com/ganainy/job-app-assistant/internal/db"
	"github.com/ganainy/job-app-assistant/internal/provider"
	"github.com/ganainy/job-app-assistant/internal/resume"
	"github.com/ganainy/job-app-assistant/internal/scraper"
	"github.com/ganainy/job-app-assistant/internal/server/middleware"
	"github.com/ganainy/job-app-assistant/internal/server/ratelimit"
	"github.com/ganainy/job-app-assistant/internal/workflow"
)

const defaultStreamInterval = time.Second

// Server represents the HTTP server.
type Server struct {
	httpServer     *http.Server
	db             *db.DB
	redis          *redis.Client
	engine         *workflow.Engine
	workflows      WorkflowStarter
	runs           RunStore
	credentials    CredentialStore
	providers      *provider.Registry
	rateLimiter    *ratelimit.Limiter
	jwtService     *JWTService
	streamInterval time.Duration
}

// Config holds server configuration.
type Config struct {
	Port           int
	DatabaseURL    string
	RedisURL       string
	ScraperBaseURL string
}

// New creates a fully wired server: database, resume cache, provider
// registry, scraper client, and workflow engine.
func New(cfg Config) (*Server, error) {
	database, err := db.Connect(context.Background(), cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	redisClient := redis.NewClient(redisOpts)

	jwtConfig, err := config.NewJWTConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to create JWT config: %w", err)
	}

	registry := provider.NewRegistry()
	scraperClient := scraper.NewClient(scraper.ClientConfig{BaseURL: cfg.ScraperBaseURL})
	acquirer := scraper.NewAcquirer(scraperClient, scraperClient)
	resumeService := resume.NewService(resume.NewRedisCache(redisClient))
	stage := analysis.NewStage(database)
	engine := workflow.NewEngine(database, database, database, acquirer, resumeService, stage, registry)

	s := newServer(engine, database, database, registry, NewJWTService(jwtConfig))
	s.db = database
	s.redis = redisClient
	s.engine = engine
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 300 * time.Second, // long timeout for SSE streams
		IdleTimeout:  60 * time.Second,
	}
	return s, nil
}

// newServer assembles the request-handling core. Tests use it directly
// with fakes.
func newServer(workflows WorkflowStarter, runs RunStore, credentials CredentialStore, providers *provider.Registry, jwtService *JWTService) *Server {
	return &Server{
		workflows:      workflows,
		runs:           runs,
		credentials:    credentials,
		providers:      providers,
		jwtService:     jwtService,
		rateLimiter:    ratelimit.NewLimiter(ratelimit.LoadConfig()),
		streamInterval: defaultStreamInterval,
	}
}

// Handler builds the routed and middleware-wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	auth := middleware.Auth(s.jwtService.AsTokenValidator())

	mux := http.NewServeMux()
	mux.Handle("POST /workflows", auth(http.HandlerFunc(s.handleStartWorkflow)))
	mux.Handle("GET /workflows", auth(http.HandlerFunc(s.handleListWorkflows)))
	mux.Handle("GET /workflows/{id}", auth(http.HandlerFunc(s.handleGetWorkflow)))
	mux.Handle("POST /workflows/{id}/cancel", auth(http.HandlerFunc(s.handleCancelWorkflow)))
	mux.Handle("GET /workflows/{id}/stream", auth(http.HandlerFunc(s.handleStreamWorkflow)))
	mux.Handle("GET /providers/{name}/models", auth(http.HandlerFunc(s.handleProviderModels)))
	mux.HandleFunc("GET /health", s.handleHealth)

	return s.withRateLimit(s.withLogging(s.withCORS(mux)))
}

// Start begins listening for requests and blocks until shutdown.
func (s *Server) Start() error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Printf("Server starting on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-stop
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	// Let in-flight workflow runs finish writing their terminal state.
	if s.engine != nil {
		s.engine.Wait()
	}
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			log.Printf("Error closing redis client: %v", err)
		}
	}
	if s.db != nil {
		s.db.Close()
	}
	log.Println("Server stopped")
	return nil
}

// withCORS adds CORS headers.
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withRateLimit applies the per-client limiter.
func (s *Server) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientID := s.extractClientID(r)
		allowed, info := s.rateLimiter.Allow(clientID)
		s.setRateLimitHeaders(w, info)
		if !allowed {
			s.rateLimitResponse(w, info)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withLogging adds request logging.
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		log.Printf("[%s] %s %s", r.Method, r.URL.Path, r.RemoteAddr)
		next.ServeHTTP(w, r)
		log.Printf("[%s] %s completed in %v", r.Method, r.URL.Path, time.Since(start))
	})
}

// handleHealth returns server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

// jsonResponse writes a JSON response.
func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("Error encoding JSON response: %v", err)
	}
}

// errorResponse writes an error JSON response.
func (s *Server) errorResponse(w http.ResponseWriter, status int, message string) {
	s.jsonResponse(w, status, map[string]string{"error": message})
}

// extractClientID identifies the client by IP address. X-Forwarded-For is
// ignored until the server sits behind a trusted proxy.
func (s *Server) extractClientID(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

func (s *Server) setRateLimitHeaders(w http.ResponseWriter, info ratelimit.Info) {
	if info.Limit > 0 {
		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", info.Limit))
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", info.Remaining))
	}
}

func (s *Server) rateLimitResponse(w http.ResponseWriter, info ratelimit.Info) {
	if info.RetryAfter > 0 {
		w.Header().Set("Retry-After", fmt.Sprintf("%d", int(info.RetryAfter.Seconds())+1))
	}
	log.Printf("[rate-limit] Rate limit exceeded: Limit=%d Remaining=%d", info.Limit, info.Remaining)
	s.jsonResponse(w, http.StatusTooManyRequests, map[string]any{
		"error":   "rate_limit_exceeded",
		"message": "Rate limit exceeded. Please try again later.",
		"limit":   info.Limit,
	})
}
