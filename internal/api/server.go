package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"autobattle/internal/config"
	"autobattle/internal/game"
	"autobattle/internal/game/spatial"
	"autobattle/internal/observability"
)

// deathJSON is the payload of unit:killed and building:destroyed.
type deathJSON struct {
	ID     string     `json:"id" msgpack:"id"`
	Kind   string     `json:"kind" msgpack:"kind"`
	Team   string     `json:"team" msgpack:"team"`
	Pos    game.Point `json:"pos" msgpack:"pos"`
	Killer string     `json:"killer,omitempty" msgpack:"killer,omitempty"`
}

func toDeathJSON(d game.Death) deathJSON {
	return deathJSON{
		ID:     d.ID,
		Kind:   d.Kind.String(),
		Team:   d.Team.String(),
		Pos:    game.Point{X: d.Pos.X, Y: d.Pos.Y},
		Killer: d.Killer,
	}
}

// Server is the HTTP API server with WebSocket support.
// It combines the HTTP router with WebSocket hub for real-time updates.
type Server struct {
	engine      *game.Engine
	router      *chi.Mux
	wsHub       *WebSocketHub
	rateLimiter *IPRateLimiter
	logger      *zap.Logger

	startOnce  sync.Once
	httpServer *http.Server
}

// NewServer creates the API server.
//
// Background workers do NOT start until Start() is called, so tests can
// construct the server and use Router() directly.
func NewServer(engine *game.Engine, cfg config.AppConfig, logger *zap.Logger) *Server {
	logger = observability.OrNop(logger).Named("api")
	s := &Server{
		engine:      engine,
		wsHub:       NewWebSocketHub(cfg.Server.AllowedOrigins, logger),
		rateLimiter: NewIPRateLimiter(cfg.RateLimit),
		logger:      logger,
	}

	s.router = NewRouter(RouterConfig{
		Engine:      engine,
		RateLimiter: s.rateLimiter,
		CORSOrigins: cfg.Server.AllowedOrigins,
		AdminToken:  cfg.Server.AdminToken,
		Logger:      logger,
	})

	// WebSocket routes need the wsHub instance
	s.router.Get("/ws", s.wsHub.HandleWebSocket)

	s.httpServer = &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// startWorkers launches the hub, the snapshot broadcast loop and the engine
// event forwarding. Safe to call more than once.
func (s *Server) startWorkers() {
	s.startOnce.Do(func() {
		go s.wsHub.Run()
		s.wsHub.StartBroadcastLoop(s.engine)

		s.engine.SetCallbacks(
			func(d game.Death) { s.wsHub.Broadcast("unit:killed", toDeathJSON(d)) },
			func(d game.Death) { s.wsHub.Broadcast("building:destroyed", toDeathJSON(d)) },
			func(c spatial.CellChange) { s.wsHub.Broadcast("cell:changed", c) },
		)
	})
}

// Start begins the HTTP server AND starts background workers. It blocks
// until Shutdown and returns nil after a clean shutdown.
func (s *Server) Start() error {
	s.startWorkers()

	s.logger.Info("API server starting", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Router returns the HTTP handler for use with httptest.
func (s *Server) Router() http.Handler {
	return s.router
}

// Hub returns the websocket hub.
func (s *Server) Hub() *WebSocketHub {
	return s.wsHub
}

// Shutdown drains HTTP connections and stops background workers.
func (s *Server) Shutdown(ctx context.Context) error {
	s.engine.SetCallbacks(nil, nil, nil)
	err := s.httpServer.Shutdown(ctx)
	s.wsHub.Stop()
	s.rateLimiter.Stop()
	return err
}
