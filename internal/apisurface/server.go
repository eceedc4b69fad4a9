// Package apisurface is the control surface's HTTP/WebSocket edge: the
// start/stop/trigger-analysis/status commands of spec.md §6, plus a push
// of the internal/events.Bus stream, guarded by internal/auth's
// single-operator bearer token.
package apisurface

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"doge-flow-trader/internal/auth"
	"doge-flow-trader/internal/events"
)

// StatusSnapshot is the read-only view returned by GET /api/status.
type StatusSnapshot struct {
	Symbol          string    `json:"symbol"`
	PositionState   string    `json:"position_state"`
	HeartbeatState  string    `json:"heartbeat_state"`
	CircuitState    string    `json:"circuit_state"`
	EntryPrice      float64   `json:"entry_price,omitempty"`
	SizeFraction    float64   `json:"size_fraction,omitempty"`
	Leverage        int       `json:"leverage,omitempty"`
	LastPrice       float64   `json:"last_price,omitempty"`
	LastSignalAt    time.Time `json:"last_signal_at,omitempty"`
	Running         bool      `json:"running"`
}

// Controller is the subset of the supervisor's behavior this surface
// drives. Kept narrow and interface-bound so handlers are testable
// against a fake without importing the supervisor's goroutine wiring.
type Controller interface {
	Status() StatusSnapshot
	Stop(reason string) error
	Start() error
	TriggerAnalysis() error
}

// Config holds the HTTP surface's listen/CORS settings.
type Config struct {
	Port            int
	Host            string
	AllowedOrigins  []string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// Server is the gin-backed HTTP/WebSocket edge.
type Server struct {
	cfg        Config
	router     *gin.Engine
	httpServer *http.Server
	jwtManager *auth.JWTManager
	passwords  *auth.PasswordManager
	operator   auth.Config
	controller Controller
	hub        *Hub
	rate       *rateLimiter
}

// New builds a Server wired against controller and the event bus.
func New(cfg Config, operatorCfg auth.Config, controller Controller, bus *events.Bus) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowOrigins = []string{"http://localhost:5173"}
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	corsConfig.AllowCredentials = true
	router.Use(cors.New(corsConfig))

	s := &Server{
		cfg:        cfg,
		router:     router,
		jwtManager: auth.NewJWTManager(operatorCfg.JWTSecret, operatorCfg.AccessTokenDuration, operatorCfg.RefreshTokenDuration),
		passwords:  auth.NewPasswordManager(auth.DefaultBcryptCost, auth.MinPasswordLength),
		operator:   operatorCfg,
		controller: controller,
		hub:        NewHub(),
		rate:       newRateLimiter(60, time.Minute),
	}

	bus.SubscribeAll(func(ev events.Event) {
		s.hub.Broadcast(ev)
	})

	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.POST("/api/login", s.handleLogin)

	protected := s.router.Group("/api")
	protected.Use(auth.Middleware(s.jwtManager))
	protected.Use(s.rate.middleware())
	{
		protected.GET("/status", s.handleStatus)
		protected.POST("/start", s.handleStart)
		protected.POST("/stop", s.handleStop)
		protected.POST("/trigger-analysis", s.handleTriggerAnalysis)
	}

	s.router.GET("/ws", func(c *gin.Context) {
		s.hub.ServeWS(c.Writer, c.Request)
	})
}

// Run starts the HTTP server and blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	go s.hub.Run()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

type rateLimiter struct {
	mu       sync.Mutex
	limit    int
	window   time.Duration
	requests map[string][]time.Time
}

func newRateLimiter(limit int, window time.Duration) *rateLimiter {
	return &rateLimiter{limit: limit, window: window, requests: make(map[string][]time.Time)}
}

func (r *rateLimiter) middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()
		now := time.Now()

		r.mu.Lock()
		cutoff := now.Add(-r.window)
		kept := r.requests[key][:0]
		for _, t := range r.requests[key] {
			if t.After(cutoff) {
				kept = append(kept, t)
			}
		}
		if len(kept) >= r.limit {
			r.requests[key] = kept
			r.mu.Unlock()
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		r.requests[key] = append(kept, now)
		r.mu.Unlock()
		c.Next()
	}
}
