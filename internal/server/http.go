// Package server exposes the accounting core over HTTP/JSON.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"dyadledger/internal/engine"
	"dyadledger/internal/observability"
	"dyadledger/internal/oracle"
	"dyadledger/internal/query"
	"dyadledger/internal/registry"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

// Server wires the lifecycle, sync and query surfaces onto one mux.
type Server struct {
	eng     *engine.Engine
	queries *query.Service
	health  *observability.HealthChecker
	metrics *observability.Metrics
	log     zerolog.Logger

	httpServer *http.Server
}

func New(addr string, eng *engine.Engine, queries *query.Service, health *observability.HealthChecker, metrics *observability.Metrics) *Server {
	s := &Server{
		eng:     eng,
		queries: queries,
		health:  health,
		metrics: metrics,
		log:     observability.NewLogger("server"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/positions", s.handleMint)
	mux.HandleFunc("POST /v1/positions/{id}/deposit", s.handleDeposit)
	mux.HandleFunc("POST /v1/positions/{id}/withdraw", s.handleWithdraw)
	mux.HandleFunc("POST /v1/positions/{id}/redeem", s.handleRedeem)
	mux.HandleFunc("POST /v1/positions/{id}/move", s.handleMove)
	mux.HandleFunc("POST /v1/positions/{id}/liquidate", s.handleLiquidate)
	mux.HandleFunc("POST /v1/sync", s.handleSync)

	mux.HandleFunc("GET /v1/positions/{id}", s.handleGetPosition)
	mux.HandleFunc("GET /v1/positions/{id}/history", s.handlePositionHistory)
	mux.HandleFunc("GET /v1/state", s.handleGetState)
	mux.HandleFunc("GET /v1/events", s.handleGetEvents)
	mux.HandleFunc("GET /v1/syncs", s.handleGetSyncs)

	if health != nil {
		mux.HandleFunc("GET /healthz", health.LivenessHandler)
		mux.HandleFunc("GET /readyz", health.ReadinessHandler)
	}

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.instrument(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		if s.metrics != nil {
			s.metrics.QueryRequests.WithLabelValues(r.URL.Path).Inc()
			s.metrics.QueryDuration.WithLabelValues(r.URL.Path).Observe(time.Since(start).Seconds())
		}
	})
}

// --- Request/response types ---

type mintRequest struct {
	Caller     string `json:"caller"`
	Owner      string `json:"owner"`
	Collateral string `json:"collateral"`
}

type amountRequest struct {
	Caller string `json:"caller"`
	Amount string `json:"amount"`
}

type moveRequest struct {
	Caller string `json:"caller"`
	ToID   uint64 `json:"to_id"`
	Amount string `json:"amount"`
}

type liquidateRequest struct {
	Caller string `json:"caller"`
	To     string `json:"to"`
}

type syncRequest struct {
	CallerID uint64 `json:"caller_id"`
}

type positionResponse struct {
	ID             uint64 `json:"id"`
	Owner          string `json:"owner"`
	Deposit        string `json:"deposit"`
	Withdrawn      string `json:"withdrawn"`
	XP             uint64 `json:"xp"`
	IsLiquidatable bool   `json:"is_liquidatable"`
}

type stateResponse struct {
	TotalSupply   string `json:"total_supply"`
	PoolBalance   string `json:"pool_balance"`
	VaultBalance  string `json:"vault_balance"`
	LiveCount     int    `json:"live_count"`
	MinXP         uint64 `json:"min_xp"`
	MaxXP         uint64 `json:"max_xp"`
	LastPrice     string `json:"last_price,omitempty"`
	LastSyncBlock uint64 `json:"last_sync_block"`
	CurrentBlock  uint64 `json:"current_block"`
	Sequence      int64  `json:"sequence"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// --- Lifecycle handlers ---

func (s *Server) handleMint(w http.ResponseWriter, r *http.Request) {
	var req mintRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("bad request body: %w", err))
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	owner, err := parseAddress(req.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	collateral, err := parseAmount(req.Collateral)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	id, err := s.eng.Mint(r.Context(), caller, owner, collateral)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]uint64{"id": id})
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	id, caller, amount, ok := s.decodeAmountOp(w, r)
	if !ok {
		return
	}
	if err := s.eng.Deposit(caller, id, amount); err != nil {
		writeEngineError(w, err)
		return
	}
	s.writePosition(w, id)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	id, caller, amount, ok := s.decodeAmountOp(w, r)
	if !ok {
		return
	}
	if err := s.eng.Withdraw(caller, id, amount); err != nil {
		writeEngineError(w, err)
		return
	}
	s.writePosition(w, id)
}

func (s *Server) handleRedeem(w http.ResponseWriter, r *http.Request) {
	id, caller, amount, ok := s.decodeAmountOp(w, r)
	if !ok {
		return
	}
	if err := s.eng.Redeem(caller, id, amount); err != nil {
		writeEngineError(w, err)
		return
	}
	s.writePosition(w, id)
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req moveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("bad request body: %w", err))
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.eng.MoveDeposit(caller, id, req.ToID, amount); err != nil {
		writeEngineError(w, err)
		return
	}
	s.writePosition(w, id)
}

func (s *Server) handleLiquidate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req liquidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("bad request body: %w", err))
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	to, err := parseAddress(req.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	newID, err := s.eng.Liquidate(caller, to, id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"old_id": id, "new_id": newID})
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("bad request body: %w", err))
		return
	}
	res, err := s.eng.Sync(r.Context(), req.CallerID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":        res.Mode.String(),
		"price":       res.Price.String(),
		"delta_bps":   res.DeltaBps,
		"total_delta": res.TotalDelta.String(),
		"min_xp":      res.MinXP,
		"max_xp":      res.MaxXP,
	})
}

// --- Read handlers ---

func (s *Server) handleGetPosition(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	s.writePosition(w, id)
}

func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	st := s.eng.StateView()
	resp := stateResponse{
		TotalSupply:   st.TotalSupply.String(),
		PoolBalance:   st.PoolBalance.String(),
		VaultBalance:  st.VaultBalance.String(),
		LiveCount:     st.LiveCount,
		MinXP:         st.MinXP,
		MaxXP:         st.MaxXP,
		LastSyncBlock: st.LastSyncBlock,
		CurrentBlock:  st.CurrentBlock,
		Sequence:      st.Sequence,
	}
	if st.LastPrice != nil {
		resp.LastPrice = st.LastPrice.String()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	if s.queries == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("event log unavailable"))
		return
	}
	from, _ := strconv.ParseInt(r.URL.Query().Get("from"), 10, 64)
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	events, err := s.queries.RecentEvents(r.Context(), from, limit)
	if err != nil {
		s.queryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) handlePositionHistory(w http.ResponseWriter, r *http.Request) {
	if s.queries == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("event log unavailable"))
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	events, err := s.queries.PositionHistory(r.Context(), id, limit)
	if err != nil {
		s.queryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) handleGetSyncs(w http.ResponseWriter, r *http.Request) {
	if s.queries == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("event log unavailable"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	events, err := s.queries.SyncHistory(r.Context(), limit)
	if err != nil {
		s.queryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"syncs": events})
}

// --- Helpers ---

func (s *Server) decodeAmountOp(w http.ResponseWriter, r *http.Request) (uint64, common.Address, *big.Int, bool) {
	id, ok := pathID(w, r)
	if !ok {
		return 0, common.Address{}, nil, false
	}
	var req amountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("bad request body: %w", err))
		return 0, common.Address{}, nil, false
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return 0, common.Address{}, nil, false
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return 0, common.Address{}, nil, false
	}
	return id, caller, amount, true
}

func (s *Server) writePosition(w http.ResponseWriter, id uint64) {
	pos, err := s.eng.Position(id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, positionResponse{
		ID:             pos.ID,
		Owner:          pos.Owner.Hex(),
		Deposit:        pos.Deposit.String(),
		Withdrawn:      pos.Withdrawn.String(),
		XP:             pos.XP,
		IsLiquidatable: pos.IsLiquidatable,
	})
}

func (s *Server) queryError(w http.ResponseWriter, r *http.Request, err error) {
	if s.metrics != nil {
		s.metrics.QueryErrors.WithLabelValues(r.URL.Path).Inc()
	}
	s.log.Error().Err(err).Str("path", r.URL.Path).Msg("query failed")
	writeError(w, http.StatusInternalServerError, errors.New("internal error"))
}

func pathID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("bad position id %q", r.PathValue("id")))
		return 0, false
	}
	return id, true
}

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("bad address %q", s)
	}
	return common.HexToAddress(s), nil
}

func parseAmount(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("bad amount %q", s)
	}
	return v, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// writeEngineError maps operation errors onto HTTP statuses.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, registry.ErrUnknownPosition):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, engine.ErrNotOwner):
		writeError(w, http.StatusForbidden, err)
	case errors.Is(err, registry.ErrCapacityExceeded),
		errors.Is(err, engine.ErrSameBlockViolation),
		errors.Is(err, engine.ErrNotLiquidatable),
		errors.Is(err, engine.ErrReentrancy):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, engine.ErrTooSoon):
		writeError(w, http.StatusTooManyRequests, err)
	case errors.Is(err, engine.ErrInvalidInput),
		errors.Is(err, engine.ErrBelowMinimum):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, engine.ErrExceedsBalance),
		errors.Is(err, engine.ErrInsufficientCollateral),
		errors.Is(err, engine.ErrExceedsAverageShare):
		writeError(w, http.StatusUnprocessableEntity, err)
	case errors.Is(err, oracle.ErrInvalidPrice),
		errors.Is(err, oracle.ErrUnavailable):
		writeError(w, http.StatusBadGateway, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}
