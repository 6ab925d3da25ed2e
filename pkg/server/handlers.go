package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/chronoflux-labs/chronovault/pkg/api"
	"github.com/chronoflux-labs/chronovault/pkg/auth"
	"github.com/chronoflux-labs/chronovault/pkg/contracts"
	"github.com/chronoflux-labs/chronovault/pkg/keeper"
)

const maxBodyBytes = 1 << 20 // 1MB limit

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// caller resolves the acting principal from the authenticated identity.
func caller(r *http.Request) (contracts.Principal, bool) {
	id, err := auth.GetIdentity(r.Context())
	if err != nil {
		return "", false
	}
	return id.Principal, true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		api.WriteBadRequest(w, "Invalid request body")
		return false
	}
	return true
}

// track wraps an engine call with request metrics when a provider is
// configured.
func (s *Server) track(r *http.Request, op string) func(error) {
	if s.obs == nil {
		return func(error) {}
	}
	_, done := s.obs.TrackOperation(r.Context(), "vault."+op,
		attribute.String("http.route", r.URL.Path))
	return done
}

// --- vault operations ---

// DepositRequest opens a new vault entry.
type DepositRequest struct {
	Asset          string `json:"asset"`
	Amount         uint64 `json:"amount"`
	LockUntilEpoch uint64 `json:"lock_until_epoch,omitempty"`
	ConditionID    string `json:"condition_id,omitempty"`
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	p, ok := caller(r)
	if !ok {
		api.WriteUnauthorized(w, "")
		return
	}
	var req DepositRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Asset == "" {
		api.WriteBadRequest(w, "Missing required field: asset")
		return
	}

	done := s.track(r, "deposit")
	index, err := s.engine.Deposit(r.Context(), p, req.Asset, req.Amount, req.LockUntilEpoch, req.ConditionID)
	done(err)
	if err != nil {
		api.WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"owner": p, "index": index})
}

// EntryRef identifies one entry, defaulting the owner to the caller.
type EntryRef struct {
	Owner string `json:"owner,omitempty"`
	Index uint64 `json:"index"`
}

func (e *EntryRef) owner(fallback contracts.Principal) contracts.Principal {
	if e.Owner == "" {
		return fallback
	}
	return contracts.Principal(e.Owner)
}

func (s *Server) handleEntryOp(w http.ResponseWriter, r *http.Request, op string,
	call func(caller, owner contracts.Principal, index uint64) error) {
	p, ok := caller(r)
	if !ok {
		api.WriteUnauthorized(w, "")
		return
	}
	var req EntryRef
	if !decode(w, r, &req) {
		return
	}

	done := s.track(r, op)
	err := call(p, req.owner(p), req.Index)
	done(err)
	if err != nil {
		api.WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleInitiateWithdrawal(w http.ResponseWriter, r *http.Request) {
	s.handleEntryOp(w, r, "withdrawal.initiate", func(c, o contracts.Principal, i uint64) error {
		return s.engine.InitiateWithdrawal(r.Context(), c, o, i)
	})
}

func (s *Server) handleCompleteWithdrawal(w http.ResponseWriter, r *http.Request) {
	s.handleEntryOp(w, r, "withdrawal.complete", func(c, o contracts.Principal, i uint64) error {
		return s.engine.CompleteWithdrawal(r.Context(), c, o, i)
	})
}

func (s *Server) handleCancelWithdrawal(w http.ResponseWriter, r *http.Request) {
	s.handleEntryOp(w, r, "withdrawal.cancel", func(c, o contracts.Principal, i uint64) error {
		return s.engine.CancelWithdrawal(r.Context(), c, o, i)
	})
}

func (s *Server) handleEarlyExit(w http.ResponseWriter, r *http.Request) {
	s.handleEntryOp(w, r, "early_exit", func(c, o contracts.Principal, i uint64) error {
		return s.engine.EarlyExit(r.Context(), c, o, i)
	})
}

// DelegateRequest grants entry rights to another principal.
type DelegateRequest struct {
	Index      uint64    `json:"index"`
	Delegatee  string    `json:"delegatee"`
	ValidUntil time.Time `json:"valid_until"`
}

func (s *Server) handleDelegate(w http.ResponseWriter, r *http.Request) {
	p, ok := caller(r)
	if !ok {
		api.WriteUnauthorized(w, "")
		return
	}
	var req DelegateRequest
	if !decode(w, r, &req) {
		return
	}

	done := s.track(r, "delegate")
	err := s.engine.Delegate(r.Context(), p, req.Index, contracts.Principal(req.Delegatee), req.ValidUntil)
	done(err)
	if err != nil {
		api.WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "ok"})
}

func (s *Server) handleRevokeDelegate(w http.ResponseWriter, r *http.Request) {
	p, ok := caller(r)
	if !ok {
		api.WriteUnauthorized(w, "")
		return
	}
	index, err := strconv.ParseUint(r.PathValue("index"), 10, 64)
	if err != nil {
		api.WriteBadRequest(w, "Invalid entry index")
		return
	}

	if err := s.engine.RevokeDelegate(r.Context(), p, index); err != nil {
		api.WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- epoch ---

func (s *Server) handleGetEpoch(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.EpochState())
}

func (s *Server) handleAdvanceEpoch(w http.ResponseWriter, r *http.Request) {
	actor := contracts.Principal(r.RemoteAddr)
	if p, ok := caller(r); ok {
		actor = p
	}

	if s.limiter != nil {
		if err := keeper.Check(r.Context(), s.limiter, string(actor), s.policy); err != nil {
			api.WriteTooManyRequests(w, 60/max(s.policy.RPM, 1))
			return
		}
	}

	done := s.track(r, "epoch.advance")
	current, err := s.engine.AdvanceEpoch(r.Context(), actor)
	done(err)
	if err != nil {
		api.WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"current_epoch": current})
}

// --- queries ---

func pathOwnerIndex(r *http.Request) (contracts.Principal, uint64, error) {
	index, err := strconv.ParseUint(r.PathValue("index"), 10, 64)
	if err != nil {
		return "", 0, err
	}
	return contracts.Principal(r.PathValue("owner")), index, nil
}

func (s *Server) handleListEntries(w http.ResponseWriter, r *http.Request) {
	p, ok := caller(r)
	if !ok {
		api.WriteUnauthorized(w, "")
		return
	}
	if o := r.URL.Query().Get("owner"); o != "" {
		p = contracts.Principal(o)
	}
	entries, err := s.engine.ListEntries(r.Context(), p)
	if err != nil {
		api.WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleGetEntry(w http.ResponseWriter, r *http.Request) {
	owner, index, err := pathOwnerIndex(r)
	if err != nil {
		api.WriteBadRequest(w, "Invalid entry index")
		return
	}
	e, err := s.engine.GetEntry(r.Context(), owner, index)
	if err != nil {
		api.WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleIsUnlocked(w http.ResponseWriter, r *http.Request) {
	owner, index, err := pathOwnerIndex(r)
	if err != nil {
		api.WriteBadRequest(w, "Invalid entry index")
		return
	}
	unlocked, err := s.engine.IsUnlocked(r.Context(), owner, index)
	if err != nil {
		api.WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"unlocked": unlocked})
}

func (s *Server) handleGetMode(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]contracts.Mode{"mode": s.engine.Mode()})
}

func (s *Server) handleTotals(w http.ResponseWriter, r *http.Request) {
	totals, err := s.engine.Totals(r.Context(), r.PathValue("asset"))
	if err != nil {
		api.WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, totals)
}

func (s *Server) handleGetCondition(w http.ResponseWriter, r *http.Request) {
	c, err := s.engine.GetCondition(r.PathValue("id"))
	if err != nil {
		api.WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	var after uint64
	if v := r.URL.Query().Get("after"); v != "" {
		parsed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			api.WriteBadRequest(w, "Invalid 'after' sequence number")
			return
		}
		after = parsed
	}
	writeJSON(w, http.StatusOK, s.engine.EventLog().Since(after))
}

// --- conditions and facts ---

func (s *Server) handleSetConditionMet(w http.ResponseWriter, r *http.Request) {
	p, ok := caller(r)
	if !ok {
		api.WriteUnauthorized(w, "")
		return
	}
	var req struct {
		Met bool `json:"met"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := s.engine.SetConditionMet(r.Context(), p, r.PathValue("id"), req.Met); err != nil {
		api.WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAttestFact(w http.ResponseWriter, r *http.Request) {
	p, ok := caller(r)
	if !ok {
		api.WriteUnauthorized(w, "")
		return
	}
	var req struct {
		Key   string `json:"key"`
		Value int64  `json:"value"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.Key == "" {
		api.WriteBadRequest(w, "Missing required field: key")
		return
	}
	if err := s.engine.AttestFact(r.Context(), p, req.Key, req.Value); err != nil {
		api.WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- admin ---

func (s *Server) handleSetMode(w http.ResponseWriter, r *http.Request) {
	p, ok := caller(r)
	if !ok {
		api.WriteUnauthorized(w, "")
		return
	}
	var req struct {
		Mode contracts.Mode `json:"mode"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := s.engine.SetMode(r.Context(), p, req.Mode); err != nil {
		api.WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]contracts.Mode{"mode": req.Mode})
}

func (s *Server) handleAllowAsset(w http.ResponseWriter, r *http.Request) {
	p, ok := caller(r)
	if !ok {
		api.WriteUnauthorized(w, "")
		return
	}
	var req struct {
		Asset string `json:"asset"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := s.engine.AllowAsset(r.Context(), p, req.Asset); err != nil {
		api.WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"asset": req.Asset})
}

func (s *Server) handleDisallowAsset(w http.ResponseWriter, r *http.Request) {
	p, ok := caller(r)
	if !ok {
		api.WriteUnauthorized(w, "")
		return
	}
	if err := s.engine.DisallowAsset(r.Context(), p, r.PathValue("asset")); err != nil {
		api.WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// DefineConditionRequest registers a new release condition.
type DefineConditionRequest struct {
	ID        string                   `json:"id"`
	Kind      contracts.ConditionKind  `json:"kind"`
	Threshold *contracts.ThresholdSpec `json:"threshold,omitempty"`
	Manager   string                   `json:"manager,omitempty"`
}

func (s *Server) handleDefineCondition(w http.ResponseWriter, r *http.Request) {
	p, ok := caller(r)
	if !ok {
		api.WriteUnauthorized(w, "")
		return
	}
	var req DefineConditionRequest
	if !decode(w, r, &req) {
		return
	}
	if req.ID == "" {
		api.WriteBadRequest(w, "Missing required field: id")
		return
	}
	err := s.engine.DefineCondition(r.Context(), p, req.ID, req.Kind, req.Threshold, contracts.Principal(req.Manager))
	if err != nil {
		api.WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": req.ID})
}

func (s *Server) handleSetEpochDuration(w http.ResponseWriter, r *http.Request) {
	p, ok := caller(r)
	if !ok {
		api.WriteUnauthorized(w, "")
		return
	}
	var req struct {
		Duration string `json:"duration"`
	}
	if !decode(w, r, &req) {
		return
	}
	d, err := time.ParseDuration(req.Duration)
	if err != nil {
		api.WriteBadRequest(w, "Invalid duration (expected Go duration string, e.g. '168h')")
		return
	}
	if err := s.engine.SetEpochDuration(r.Context(), p, d); err != nil {
		api.WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"duration": d.String()})
}

func (s *Server) handleEmergencyRelease(w http.ResponseWriter, r *http.Request) {
	p, ok := caller(r)
	if !ok {
		api.WriteUnauthorized(w, "")
		return
	}
	var req EntryRef
	if !decode(w, r, &req) {
		return
	}
	if req.Owner == "" {
		api.WriteBadRequest(w, "Missing required field: owner")
		return
	}

	done := s.track(r, "emergency_release")
	err := s.engine.EmergencyRelease(r.Context(), p, contracts.Principal(req.Owner), req.Index)
	done(err)
	if err != nil {
		api.WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
