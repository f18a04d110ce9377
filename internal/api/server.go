// Package api is the HTTP bridge between dapp pages, the approval UI and
// the provider pipeline.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rabby-mobile/provider-core/internal/config"
	"github.com/rabby-mobile/provider-core/internal/flow"
	"github.com/rabby-mobile/provider-core/internal/logger"
	"github.com/rabby-mobile/provider-core/internal/middleware"
	"github.com/rabby-mobile/provider-core/internal/notification"
	"github.com/rabby-mobile/provider-core/internal/provider"
	"github.com/rabby-mobile/provider-core/internal/session"
	"github.com/rabby-mobile/provider-core/internal/storage"
)

// Dapp identity headers sent alongside middleware.OriginHeader
const (
	NameHeader = "X-Dapp-Name"
	IconHeader = "X-Dapp-Icon"
)

// Deps are the collaborators the bridge routes to
type Deps struct {
	Config     *config.Config
	Pipeline   *flow.Pipeline
	Controller *provider.Controller
	Approvals  *notification.Service
	Dapps      storage.DappStore
	Events     *session.Events
	Gatherer   prometheus.Gatherer
	Limiter    *middleware.RateLimiter
	// UIAuth guards the approval and wallet routes; nil refuses them all
	UIAuth *middleware.UIAuth
	// Ping reports store health; nil means always healthy
	Ping func(ctx context.Context) error
}

// Server represents the HTTP server
type Server struct {
	config     *config.Config
	pipeline   *flow.Pipeline
	controller *provider.Controller
	approvals  *notification.Service
	dapps      storage.DappStore
	events     *session.Events
	gatherer   prometheus.Gatherer
	limiter    *middleware.RateLimiter
	uiAuth     *middleware.UIAuth
	ping       func(ctx context.Context) error
	httpServer *http.Server
}

// NewServer creates a new API server
func NewServer(d Deps) *Server {
	if d.Gatherer == nil {
		d.Gatherer = prometheus.DefaultGatherer
	}
	s := &Server{
		config:     d.Config,
		pipeline:   d.Pipeline,
		controller: d.Controller,
		approvals:  d.Approvals,
		dapps:      d.Dapps,
		events:     d.Events,
		gatherer:   d.Gatherer,
		limiter:    d.Limiter,
		uiAuth:     d.UIAuth,
		ping:       d.Ping,
	}
	port := 0
	if d.Config != nil {
		port = d.Config.Port
	}
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// no WriteTimeout: rpc calls block until the user answers the approval
		IdleTimeout: 60 * time.Second,
	}
	return s
}

// Handler builds the routed handler with the middleware chain applied
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	// Dapp-facing provider endpoint
	mux.HandleFunc("POST /v1/provider/rpc", s.handleRPC)
	mux.HandleFunc("GET /v1/events", s.handleEvents)

	// Approval UI and wallet routes, wallet UI only
	ui := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, s.uiAuth.Authenticate(h))
	}
	ui("GET /v1/approvals/current", s.handleCurrentApproval)
	ui("POST /v1/approvals/reject-all", s.handleRejectAll)
	ui("GET /v1/approvals/blocked-hint", s.handleBlockedHint)
	ui("POST /v1/approvals/block", s.handleBlockDapp)
	ui("POST /v1/approvals/{id}/resolve", s.handleResolveApproval)
	ui("POST /v1/approvals/{id}/reject", s.handleRejectApproval)

	ui("POST /v1/requests/retry", s.handleRetry)
	ui("POST /v1/wallet/lock", s.handleLock)
	ui("POST /v1/wallet/unlock", s.handleUnlock)
	ui("POST /v1/wallet/revoke", s.handleRevoke)
	ui("GET /v1/dapps", s.handleListDapps)
	ui("DELETE /v1/dapps", s.handleDisconnectDapp)

	mws := []func(http.Handler) http.Handler{
		middleware.RequestID,
		middleware.AccessLog,
		middleware.LimitBody(middleware.DefaultMaxBodySize),
	}
	if s.limiter != nil {
		mws = append(mws, s.limiter.Limit)
	}
	return middleware.Chain(mux, mws...)
}

// Start starts the HTTP server
func (s *Server) Start() error {
	logger.Info(context.Background(), "starting server", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.ping != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ping(ctx); err != nil {
			logger.Error(ctx, "health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
