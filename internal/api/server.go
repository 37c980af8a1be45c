package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"stakeledger/internal/app"
	"stakeledger/internal/auth"
	"stakeledger/internal/fixedpoint"
	"stakeledger/internal/ledger"
	"stakeledger/internal/model"
)

// CallerHeader carries the address on whose behalf a mutating request is made.
// Authenticating that address is left to the deployment in front of the service.
const CallerHeader = "X-Caller"

const maxBodyBytes = 1 << 16

// WarnUnauthenticatedCaller logs a startup warning unless the service is
// declared to run behind a proxy that authenticates CallerHeader. It reports
// whether the warning was logged.
func WarnUnauthenticatedCaller(logger *zap.Logger, behindProxy bool) bool {
	if behindProxy {
		return false
	}
	logger.Warn("caller header is trusted without authentication; any client can act for any participant",
		zap.String("header", CallerHeader),
		zap.String("hint", "run behind an authenticating proxy and set behind-proxy"),
	)
	return true
}

type server struct {
	app    *app.App
	logger *zap.Logger
}

// NewRouter exposes the ledger operations over HTTP. Amounts are base-10
// integer strings in token base units.
func NewRouter(a *app.App, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &server{app: a, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(a.Metrics.Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", a.Metrics.Handler())

	r.Get("/custody", s.custody)
	r.Get("/audit", s.audit)
	r.Route("/pools", func(r chi.Router) {
		r.Get("/", s.listPools)
		r.Post("/", s.createPool)
		r.Route("/{poolID}", func(r chi.Router) {
			r.Get("/", s.getPool)
			r.Get("/positions", s.listPositions)
			r.Get("/positions/{participant}", s.getPosition)
			r.Post("/deposit", s.deposit)
			r.Post("/withdraw", s.withdraw)
			r.Post("/withdraw-all", s.withdrawAll)
			r.Post("/rewards", s.addRewards)
		})
	})
	return r
}

type amountRequest struct {
	Amount string `json:"amount"`
}

type payoutResponse struct {
	PoolID      uint64 `json:"pool_id"`
	Participant string `json:"participant"`
	Payout      string `json:"payout"`
}

type positionResponse struct {
	model.PositionRecord
	Pending string `json:"pending"`
}

func (s *server) listPools(w http.ResponseWriter, r *http.Request) {
	pools := s.app.Ledger.Pools(r.Context())
	out := make([]model.PoolRecord, 0, len(pools))
	for _, pool := range pools {
		out = append(out, pool.Record())
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *server) createPool(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	var id uint64
	err := s.app.Mutate(r.Context(), model.OpCreatePool, func(ctx context.Context) error {
		var err error
		id, err = s.app.Ledger.CreatePool(ctx, caller)
		return err
	})
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	pool, err := s.app.Ledger.Pool(r.Context(), id)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, pool.Record())
}

func (s *server) getPool(w http.ResponseWriter, r *http.Request) {
	id, ok := poolID(w, r)
	if !ok {
		return
	}
	pool, err := s.app.Ledger.Pool(r.Context(), id)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pool.Record())
}

func (s *server) listPositions(w http.ResponseWriter, r *http.Request) {
	id, ok := poolID(w, r)
	if !ok {
		return
	}
	positions, err := s.app.Ledger.Positions(r.Context(), id)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	out := make([]model.PositionRecord, 0, len(positions))
	for _, pos := range positions {
		out = append(out, pos.Record())
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *server) getPosition(w http.ResponseWriter, r *http.Request) {
	id, ok := poolID(w, r)
	if !ok {
		return
	}
	participant, err := auth.ParseAddress(chi.URLParam(r, "participant"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}
	s.writePosition(w, r, id, participant)
}

func (s *server) deposit(w http.ResponseWriter, r *http.Request) {
	id, caller, amount, ok := s.amountCall(w, r)
	if !ok {
		return
	}
	err := s.app.Mutate(r.Context(), model.OpDeposit, func(ctx context.Context) error {
		return s.app.Ledger.Deposit(ctx, id, caller, amount)
	})
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	s.writePosition(w, r, id, caller)
}

func (s *server) withdraw(w http.ResponseWriter, r *http.Request) {
	id, caller, amount, ok := s.amountCall(w, r)
	if !ok {
		return
	}
	s.doWithdraw(w, r, model.OpWithdraw, id, caller, func(ctx context.Context) (*uint256.Int, error) {
		return s.app.Ledger.Withdraw(ctx, id, caller, amount)
	})
}

func (s *server) withdrawAll(w http.ResponseWriter, r *http.Request) {
	id, ok := poolID(w, r)
	if !ok {
		return
	}
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	s.doWithdraw(w, r, model.OpWithdrawAll, id, caller, func(ctx context.Context) (*uint256.Int, error) {
		return s.app.Ledger.WithdrawAll(ctx, id, caller)
	})
}

func (s *server) doWithdraw(w http.ResponseWriter, r *http.Request, op string, id uint64, caller common.Address, fn func(context.Context) (*uint256.Int, error)) {
	var payout *uint256.Int
	err := s.app.Mutate(r.Context(), op, func(ctx context.Context) error {
		var err error
		payout, err = fn(ctx)
		return err
	})
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payoutResponse{PoolID: id, Participant: caller.Hex(), Payout: fixedpoint.String(payout)})
}

func (s *server) addRewards(w http.ResponseWriter, r *http.Request) {
	id, caller, amount, ok := s.amountCall(w, r)
	if !ok {
		return
	}
	err := s.app.Mutate(r.Context(), model.OpAddRewards, func(ctx context.Context) error {
		return s.app.Ledger.AddRewards(ctx, id, caller, amount)
	})
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	pool, err := s.app.Ledger.Pool(r.Context(), id)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pool.Record())
}

func (s *server) custody(w http.ResponseWriter, r *http.Request) {
	balance, err := s.app.Ledger.CustodyBalance(r.Context())
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"custody": s.app.Ledger.Custody().Hex(),
		"balance": fixedpoint.String(balance),
	})
}

func (s *server) audit(w http.ResponseWriter, r *http.Request) {
	violations, err := s.app.Ledger.Audit(r.Context())
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	if violations == nil {
		violations = []ledger.Violation{}
	}
	status := http.StatusOK
	if len(violations) > 0 {
		status = http.StatusConflict
	}
	writeJSON(w, status, map[string]any{"violations": violations})
}

func (s *server) writePosition(w http.ResponseWriter, r *http.Request, id uint64, participant common.Address) {
	pos, err := s.app.Ledger.Position(r.Context(), id, participant)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	pending, err := s.app.Ledger.PendingReward(r.Context(), id, participant)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, positionResponse{PositionRecord: pos.Record(), Pending: fixedpoint.String(pending)})
}

func (s *server) amountCall(w http.ResponseWriter, r *http.Request) (uint64, common.Address, *uint256.Int, bool) {
	id, ok := poolID(w, r)
	if !ok {
		return 0, common.Address{}, nil, false
	}
	caller, ok := s.caller(w, r)
	if !ok {
		return 0, common.Address{}, nil, false
	}
	var req amountRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
		return 0, common.Address{}, nil, false
	}
	if strings.TrimSpace(req.Amount) == "" {
		writeJSONError(w, http.StatusBadRequest, errors.New("amount is required"))
		return 0, common.Address{}, nil, false
	}
	amount, err := fixedpoint.ParseInt(req.Amount)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return 0, common.Address{}, nil, false
	}
	return id, caller, amount, true
}

func (s *server) caller(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	header := r.Header.Get(CallerHeader)
	if header == "" {
		writeJSONError(w, http.StatusUnauthorized, fmt.Errorf("%s header is required", CallerHeader))
		return common.Address{}, false
	}
	caller, err := auth.ParseAddress(header)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return common.Address{}, false
	}
	return caller, true
}

func poolID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "poolID"), 10, 64)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, fmt.Errorf("invalid pool id: %q", chi.URLParam(r, "poolID")))
		return 0, false
	}
	return id, true
}

func (s *server) writeLedgerError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error": err.Error(),
		"code":  ledger.ErrorCode(err),
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrTransferInDoubt):
		return http.StatusGatewayTimeout
	case errors.Is(err, ledger.ErrPoolNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrZeroAmount), errors.Is(err, ledger.ErrInsufficientBalance):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrNoStakeToDistributeRewardsTo), errors.Is(err, ledger.ErrReentrantCall):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, ledger.ErrTransferFailed):
		return http.StatusBadGateway
	case errors.Is(err, fixedpoint.ErrOverflow), errors.Is(err, fixedpoint.ErrUnderflow):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
