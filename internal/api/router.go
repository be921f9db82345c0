package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"autobattle/internal/config"
	"autobattle/internal/game"
	"autobattle/internal/game/spatial"
	"autobattle/internal/observability"
)

// Engine defines the battle engine methods used by the API.
// Keep this minimal - only include methods the API layer actually calls.
type Engine interface {
	Snapshot() game.BattleSnapshot
	Stats() game.EngineStats
	DebugPath(x, y int) (spatial.Path, spatial.SearchStats, error)

	SpawnUnit(archetype string, team game.Team, x, y int) (game.Handle, error)
	ActivateUnit(h game.Handle, active bool) error
	Unit(h game.Handle) (game.UnitSnapshot, bool)

	PlaceBuilding(kind string, team game.Team, x, y int) (game.Handle, error)
	RemoveBuilding(h game.Handle) error
	UpgradeBuilding(h game.Handle) (gold, elixir int, err error)
	Building(h game.Handle) (game.BuildingSnapshot, bool)

	SetCellBlocked(x, y int, blocked bool) error
	SetCellCost(x, y int, cost float64) error

	StartBattle()
	StopBattle()
}

// RouterConfig contains all dependencies needed to construct the HTTP router.
//
// Example usage in tests:
//
//	router := api.NewRouter(api.RouterConfig{
//	    Engine:          engine,
//	    RateLimitConfig: &config.RateLimitConfig{RequestsPerSecond: 1000, Burst: 1000},
//	    DisableLogging:  true,
//	})
//	ts := httptest.NewServer(router)
type RouterConfig struct {
	// Engine is the battle engine (required)
	Engine Engine

	// RateLimiter is an optional pre-configured rate limiter.
	// If nil, a new one will be created using RateLimitConfig.
	RateLimiter *IPRateLimiter

	// RateLimitConfig is only used if RateLimiter is nil. If both are nil,
	// config.DefaultRateLimit applies.
	RateLimitConfig *config.RateLimitConfig

	// CORSOrigins is the list of allowed CORS origins. If nil, localhost only.
	CORSOrigins []string

	// AdminToken guards mutating routes. Empty leaves them open.
	AdminToken string

	Logger *zap.Logger

	// DisableLogging disables the request logger middleware (useful for benchmarks).
	DisableLogging bool
}

// routerHandlers holds the handler functions for the router.
type routerHandlers struct {
	engine  Engine
	limiter *IPRateLimiter
	logger  *zap.Logger
}

// NewRouter constructs the HTTP router with all middleware and routes.
//
// No network listeners are opened and no workers besides the rate limiter
// cleanup are launched, so it is safe to use with httptest.NewServer.
func NewRouter(cfg RouterConfig) *chi.Mux {
	logger := observability.OrNop(cfg.Logger)
	r := chi.NewRouter()

	// Middleware - Order matters!
	r.Use(middleware.RealIP)
	if !cfg.DisableLogging {
		r.Use(requestLogger(logger))
	}
	r.Use(middleware.Recoverer)

	// Rate limiting (BEFORE CORS to reject early and save CPU)
	rateLimiter := cfg.RateLimiter
	if rateLimiter == nil {
		rateLimitCfg := config.DefaultRateLimit()
		if cfg.RateLimitConfig != nil {
			rateLimitCfg = *cfg.RateLimitConfig
		}
		rateLimiter = NewIPRateLimiter(rateLimitCfg)
	}
	r.Use(rateLimiter.Middleware)

	corsOrigins := cfg.CORSOrigins
	if corsOrigins == nil {
		corsOrigins = []string{"http://localhost:*", "http://127.0.0.1:*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", adminTokenHeader},
		AllowCredentials: true,
	}))

	h := &routerHandlers{
		engine:  cfg.Engine,
		limiter: rateLimiter,
		logger:  logger,
	}
	auth := NewAdminAuth(cfg.AdminToken)

	r.Route("/api", func(r chi.Router) {
		// Read-only
		r.Get("/health", h.handleHealth)
		r.Get("/state", h.handleGetState)
		r.Get("/stats", h.handleGetStats)
		r.Get("/grid", h.handleGetGrid)
		r.Get("/path", h.handleGetPath)
		r.Get("/archetypes", h.handleGetArchetypes)
		r.Get("/render.png", h.handleRender)

		// Mutations
		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware)

			r.Post("/units", h.handleSpawnUnit)
			r.Post("/units/{id}/activate", h.handleActivateUnit)

			r.Post("/buildings", h.handlePlaceBuilding)
			r.Delete("/buildings/{id}", h.handleRemoveBuilding)
			r.Post("/buildings/{id}/upgrade", h.handleUpgradeBuilding)

			r.Post("/cells", h.handleSetCell)

			r.Post("/battle/start", h.handleBattleStart)
			r.Post("/battle/stop", h.handleBattleStop)
		})
	})

	return r
}

// requestLogger logs each request through zap and records HTTP metrics
// against the matched route pattern, never the raw path.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			elapsed := time.Since(start)

			pattern := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				pattern = rctx.RoutePattern()
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			RecordRequest(r.Method, pattern, status, elapsed)

			logger.Debug("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", status),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("elapsed", elapsed),
				zap.String("remote", r.RemoteAddr),
			)
		})
	}
}
