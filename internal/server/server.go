package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"

	"perpkeeper/internal/observability"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Server hosts the keeper's HTTP API and websocket stream.
type Server struct {
	httpServer *http.Server
	log        zerolog.Logger
}

// NewServer wires the router. Health endpoints sit outside /api/v1 so
// probes don't depend on API versioning.
func NewServer(addr string, handlers *Handlers, hub *Hub, health *observability.HealthChecker, metrics *observability.Metrics, log zerolog.Logger) *Server {
	router := mux.NewRouter()
	router.Use(recoveryMiddleware(log))
	router.Use(metricsMiddleware(metrics))

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/book", handlers.GetBook).Methods("GET")
	api.HandleFunc("/funding", handlers.GetFunding).Methods("GET")
	api.HandleFunc("/trades", handlers.GetTrades).Methods("GET")
	api.HandleFunc("/candles", handlers.GetCandles).Methods("GET")
	api.HandleFunc("/traders/{address}/orders", handlers.GetOpenOrders).Methods("GET")
	api.HandleFunc("/traders/{address}/trades", handlers.GetTradeHistory).Methods("GET")
	api.HandleFunc("/traders/{address}/account", handlers.GetAccount).Methods("GET")
	api.HandleFunc("/traders/{address}/vip", handlers.GetVIPInfo).Methods("GET")
	api.HandleFunc("/vip/check-upgrade", handlers.CheckVIPUpgrade).Methods("POST")

	router.HandleFunc("/ws/stream", hub.ServeWS)
	router.HandleFunc("/healthz", health.LivenessHandler).Methods("GET")
	router.HandleFunc("/readyz", health.ReadinessHandler).Methods("GET")

	return &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      router,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		log: log,
	}
}

// ListenAndServe blocks until the server stops.
func (s *Server) ListenAndServe() error {
	s.log.Info().Str("addr", s.httpServer.Addr).Msg("API server listening")
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func metricsMiddleware(metrics *observability.Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			route := r.URL.Path
			if current := mux.CurrentRoute(r); current != nil {
				if tpl, err := current.GetPathTemplate(); err == nil {
					route = tpl
				}
			}

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()
			next.ServeHTTP(rec, r)

			metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
			metrics.HTTPDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		})
	}
}

func recoveryMiddleware(log zerolog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					log.Error().Interface("panic", rec).Str("path", r.URL.Path).Msg("handler panicked")
					http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
