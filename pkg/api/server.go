package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cuemby/burrow/pkg/bridge"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// maxPayload bounds request bodies
const maxPayload = 1 << 20

// Config configures the API server
type Config struct {
	Listen        string
	JWTKey        []byte
	RatePerSecond float64
	Burst         int

	// SampleInterval is how often instance gauges are refreshed
	SampleInterval time.Duration

	Version string
}

// Server is the network-facing HTTP API. It authenticates and throttles
// callers, validates payloads and forwards actions to the bridge.
type Server struct {
	cfg       Config
	forwarder Forwarder
	limiter   *clientLimiter
	router    *mux.Router
	collector *metrics.Collector
	server    *http.Server
	logger    zerolog.Logger
}

// NewServer creates an API server
func NewServer(cfg Config, forwarder Forwarder) (*Server, error) {
	if len(cfg.JWTKey) == 0 {
		return nil, fmt.Errorf("api.jwt_key is not configured")
	}
	if forwarder == nil {
		return nil, fmt.Errorf("no forwarder")
	}

	s := &Server{
		cfg:       cfg,
		forwarder: forwarder,
		limiter:   newClientLimiter(cfg.RatePerSecond, cfg.Burst),
		router:    mux.NewRouter(),
		logger:    log.WithComponent("api"),
	}
	s.routes()
	s.collector = metrics.NewCollector(s.sample, cfg.SampleInterval)
	return s, nil
}

func (s *Server) routes() {
	s.router.Use(s.instrument)

	s.router.HandleFunc("/healthz", s.healthHandler).Methods(http.MethodGet)
	s.router.HandleFunc("/readyz", s.readyHandler).Methods(http.MethodGet)
	s.router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	v1 := s.router.PathPrefix("/api/v1").Subrouter()
	v1.Use(s.throttle, s.authorize)
	v1.HandleFunc("/instances", s.listInstances).Methods(http.MethodGet)
	v1.HandleFunc("/actions/{action}", s.runAction).Methods(http.MethodPost)
}

// Handler returns the full handler chain: access log, panic recovery, routes
func (s *Server) Handler() http.Handler {
	recovery := handlers.RecoveryHandler(
		handlers.RecoveryLogger(recoveryLogger{s.logger}),
		handlers.PrintRecoveryStack(false),
	)
	return handlers.CombinedLoggingHandler(log.Writer("api"), recovery(s.router))
}

// Start serves until Shutdown. It returns http.ErrServerClosed after a
// clean shutdown.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Forwarded operations can include certificate issuance
		WriteTimeout: 15 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	s.collector.Start()
	metrics.UpdateComponent("api", true, "")
	s.logger.Info().Str("listen", s.cfg.Listen).Msg("API listening")
	return s.server.ListenAndServe()
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	metrics.UpdateComponent("api", false, "shutting down")
	s.collector.Stop()
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

type ctxKey int

const claimsKey ctxKey = 0

func claimsFrom(r *http.Request) *Claims {
	c, _ := r.Context().Value(claimsKey).(*Claims)
	return c
}

func (s *Server) throttle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow(clientAddress(r)) {
			metrics.APIRateLimited.Inc()
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := authenticate(s.cfg.JWTKey, r)
		if err != nil {
			s.logger.Debug().Err(err).Str("remote", clientAddress(r)).Msg("Rejected request")
			w.Header().Set("WWW-Authenticate", `Bearer realm="burrow"`)
			msg := errInvalidToken.Error()
			if errors.Is(err, errMissingToken) {
				msg = errMissingToken.Error()
			}
			writeError(w, http.StatusUnauthorized, msg)
			return
		}
		ctx := context.WithValue(r.Context(), claimsKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// statusRecorder captures the response status for metrics
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		timer := metrics.NewTimer()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		route := "unknown"
		if current := mux.CurrentRoute(r); current != nil {
			if tpl, err := current.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		metrics.APIRequestsTotal.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		timer.ObserveDurationVec(metrics.APIRequestDuration, route)
	})
}

func (s *Server) listInstances(w http.ResponseWriter, r *http.Request) {
	s.forward(w, r, "list", nil)
}

func (s *Server) runAction(w http.ResponseWriter, r *http.Request) {
	action := mux.Vars(r)["action"]

	claims := claimsFrom(r)
	if claims == nil || !allowed(claims.Scope, action) {
		writeError(w, http.StatusForbidden, fmt.Sprintf("token scope does not allow %s", action))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxPayload+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if len(body) > maxPayload {
		writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}

	// Validate the shape here so malformed requests never reach the bridge
	if _, err := bridge.Decode(action, string(body)); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, bridge.ErrUnknownAction) {
			status = http.StatusNotFound
		}
		writeError(w, status, err.Error())
		return
	}

	s.forward(w, r, action, body)
}

func (s *Server) forward(w http.ResponseWriter, r *http.Request, action string, payload []byte) {
	timer := metrics.NewTimer()
	logger := s.logger.With().Str("action", action).Logger()
	if claims := claimsFrom(r); claims != nil {
		logger = logger.With().Str("subject", claims.Subject).Logger()
	}

	res, err := s.forwarder.Forward(r.Context(), action, payload)
	timer.ObserveDurationVec(metrics.BridgeActionDuration, action)

	if err != nil {
		metrics.BridgeActionsTotal.WithLabelValues(action, "error").Inc()
		logger.Error().Err(err).Msg("Forwarding to bridge failed")
		writeError(w, http.StatusBadGateway, "bridge unavailable")
		return
	}

	outcome, status := "success", http.StatusOK
	if !res.Success {
		outcome, status = "failure", http.StatusUnprocessableEntity
	}
	metrics.BridgeActionsTotal.WithLabelValues(action, outcome).Inc()
	logger.Info().Bool("success", res.Success).Dur("duration", timer.Duration()).Msg("Action forwarded")

	writeJSON(w, status, res)
}

// sample feeds the instance gauges through the bridge
func (s *Server) sample(ctx context.Context) ([]types.InstanceView, error) {
	res, err := s.forwarder.Forward(ctx, "list", nil)
	if err != nil {
		return nil, err
	}
	if !res.Success {
		return nil, errors.New(res.Error)
	}

	// Data arrives as generic JSON from the envelope
	raw, err := json.Marshal(res.Data)
	if err != nil {
		return nil, err
	}
	var views []types.InstanceView
	if err := json.Unmarshal(raw, &views); err != nil {
		return nil, fmt.Errorf("unexpected list data: %w", err)
	}
	return views, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, &types.Result{Success: false, Error: msg, Messages: []string{}})
}

// recoveryLogger adapts zerolog to gorilla's RecoveryHandlerLogger
type recoveryLogger struct {
	logger zerolog.Logger
}

func (l recoveryLogger) Println(v ...interface{}) {
	l.logger.Error().Msg(fmt.Sprint(v...))
}
