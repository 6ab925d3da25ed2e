// Package server exposes the vault engine over HTTP.
package server

import (
	"log/slog"
	"net/http"

	"github.com/chronoflux-labs/chronovault/pkg/api"
	"github.com/chronoflux-labs/chronovault/pkg/auth"
	"github.com/chronoflux-labs/chronovault/pkg/engine"
	"github.com/chronoflux-labs/chronovault/pkg/keeper"
	"github.com/chronoflux-labs/chronovault/pkg/observability"
)

// Server routes HTTP traffic onto the vault engine. Authenticated
// callers act as the principal named by their token subject; the
// epoch-advance trigger stays public but rate limited so any keeper can
// drive the clock.
type Server struct {
	engine    *engine.Engine
	validator *auth.JWTValidator
	limiter   keeper.LimiterStore
	policy    keeper.Policy
	obs       *observability.Provider
	logger    *slog.Logger
}

// Config assembles a Server.
type Config struct {
	Engine    *engine.Engine
	Validator *auth.JWTValidator
	Limiter   keeper.LimiterStore
	Policy    keeper.Policy
	Obs       *observability.Provider
	Logger    *slog.Logger
}

// New builds a Server. Engine is required; everything else degrades
// gracefully (nil validator fails closed at the auth middleware, nil
// limiter leaves epoch advancement unthrottled).
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	policy := cfg.Policy
	if policy.RPM == 0 {
		policy = keeper.Policy{RPM: 60, Burst: 5}
	}
	return &Server{
		engine:    cfg.Engine,
		validator: cfg.Validator,
		limiter:   cfg.Limiter,
		policy:    policy,
		obs:       cfg.Obs,
		logger:    logger,
	}
}

// Routes builds the full handler chain: rate limiting, then auth, then
// the route table.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /readiness", s.handleHealth)

	mux.HandleFunc("GET /api/epoch", s.handleGetEpoch)
	mux.HandleFunc("POST /api/epoch/advance", s.handleAdvanceEpoch)

	mux.HandleFunc("POST /api/deposit", s.handleDeposit)
	mux.HandleFunc("POST /api/withdrawals/initiate", s.handleInitiateWithdrawal)
	mux.HandleFunc("POST /api/withdrawals/complete", s.handleCompleteWithdrawal)
	mux.HandleFunc("POST /api/withdrawals/cancel", s.handleCancelWithdrawal)
	mux.HandleFunc("POST /api/early-exit", s.handleEarlyExit)
	mux.HandleFunc("POST /api/delegations", s.handleDelegate)
	mux.HandleFunc("DELETE /api/delegations/{index}", s.handleRevokeDelegate)

	mux.HandleFunc("GET /api/entries", s.handleListEntries)
	mux.HandleFunc("GET /api/entries/{owner}/{index}", s.handleGetEntry)
	mux.HandleFunc("GET /api/entries/{owner}/{index}/unlocked", s.handleIsUnlocked)
	mux.HandleFunc("GET /api/mode", s.handleGetMode)
	mux.HandleFunc("GET /api/totals/{asset}", s.handleTotals)
	mux.HandleFunc("GET /api/conditions/{id}", s.handleGetCondition)
	mux.HandleFunc("POST /api/conditions/{id}/met", s.handleSetConditionMet)
	mux.HandleFunc("POST /api/facts", s.handleAttestFact)
	mux.HandleFunc("GET /api/events", s.handleEvents)

	admin := http.NewServeMux()
	admin.HandleFunc("POST /admin/mode", s.handleSetMode)
	admin.HandleFunc("POST /admin/assets", s.handleAllowAsset)
	admin.HandleFunc("DELETE /admin/assets/{asset}", s.handleDisallowAsset)
	admin.HandleFunc("POST /admin/conditions", s.handleDefineCondition)
	admin.HandleFunc("POST /admin/epoch-duration", s.handleSetEpochDuration)
	admin.HandleFunc("POST /admin/emergency-release", s.handleEmergencyRelease)
	mux.Handle("/admin/", auth.RequireAdmin(admin))

	var handler http.Handler = mux
	handler = auth.NewMiddleware(s.validator)(handler)
	handler = api.NewGlobalRateLimiter(50, 100).Middleware(handler)
	return handler
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
