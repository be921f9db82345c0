package api

import (
	"errors"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"autobattle/internal/config"
	"autobattle/internal/observability"
)

// HTTP and websocket metrics. Labels are bounded: endpoint is the route
// pattern, reason is one of a fixed set.
var (
	connectionRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "connection_rejected_total",
		Help: "Connections rejected by rate limiter, origin or auth check",
	}, []string{"reason"}) // "rate_limit", "origin", "unauthorized", "ws_total_limit", "ws_ip_limit"

	requestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint"})

	requestTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "endpoint", "status"})

	wsConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "websocket_connections_active",
		Help: "Currently active WebSocket connections",
	})

	wsMessagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "websocket_messages_total",
		Help: "Total WebSocket messages broadcast",
	})
)

// allowExternalDebugEnv opts in to binding the debug server off loopback.
const allowExternalDebugEnv = "ALLOW_DEBUG_EXTERNAL"

// StartDebugServer serves pprof and Prometheus metrics. Unless
// ALLOW_DEBUG_EXTERNAL=true it is forced onto loopback. When auth is
// enabled every debug route requires the admin token. Returns nil when
// disabled.
func StartDebugServer(cfg config.ObservabilityConfig, auth *AdminAuth, logger *zap.Logger) *http.Server {
	logger = observability.OrNop(logger)
	if !cfg.Enabled {
		logger.Info("debug server disabled")
		return nil
	}

	addr := debugAddr(cfg.DebugAddr, os.Getenv(allowExternalDebugEnv) == "true")
	if addr != cfg.DebugAddr {
		logger.Warn("debug server forced to loopback", zap.String("requested", cfg.DebugAddr), zap.String("addr", addr))
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           debugHandler(auth),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("debug server starting",
			zap.String("pprof", "http://"+addr+"/debug/pprof/"),
			zap.String("metrics", "http://"+addr+"/metrics"),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("debug server error", zap.Error(err))
		}
	}()
	return srv
}

func debugHandler(auth *AdminAuth) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	if auth.Enabled() {
		return auth.Middleware(mux)
	}
	return mux
}

// debugAddr rewrites non-loopback hosts to 127.0.0.1 unless allowExternal.
func debugAddr(addr string, allowExternal bool) string {
	if allowExternal {
		return addr
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "127.0.0.1:6060"
	}
	if host == "localhost" {
		return addr
	}
	if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
		return addr
	}
	return net.JoinHostPort("127.0.0.1", port)
}

// RecordConnectionRejected increments the rejection counter
func RecordConnectionRejected(reason string) {
	connectionRejected.WithLabelValues(reason).Inc()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, endpoint string, status int, duration time.Duration) {
	requestLatency.WithLabelValues(method, endpoint).Observe(duration.Seconds())
	requestTotal.WithLabelValues(method, endpoint, http.StatusText(status)).Inc()
}

// UpdateWSConnections updates WebSocket connection count
func UpdateWSConnections(count int) {
	wsConnectionsActive.Set(float64(count))
}

// IncrementWSMessages increments WebSocket message counter
func IncrementWSMessages() {
	wsMessagesTotal.Inc()
}
