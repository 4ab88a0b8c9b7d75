// Package api serves the ledger over HTTP. Mutating requests are signed by
// the acting account with an EIP-191 personal signature over the raw body.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"solidgrowth/internal/ledger"
	"solidgrowth/internal/utils"
)

const (
	maxBodyBytes   = 1 << 16
	maxDeadline    = 15 * time.Minute
	replayTTL      = 24 * time.Hour
	pendingMarker  = "pending"
	requestIDField = "X-Request-ID"
)

var (
	ErrExpired    = errors.New("request expired")
	ErrBadRequest = errors.New("bad request")
	ErrForbidden  = errors.New("forbidden")
	ErrInFlight   = errors.New("request already in flight")
)

type Handler struct {
	Ledger *ledger.Ledger
	Redis  *redis.Client // nil disables replay protection
	Admin  utils.AllowList
	Log    *zap.Logger

	now func() time.Time
}

func NewHandler(l *ledger.Ledger, rdb *redis.Client, admin utils.AllowList, log *zap.Logger) *Handler {
	return &Handler{
		Ledger: l,
		Redis:  rdb,
		Admin:  admin,
		Log:    log,
		now:    time.Now,
	}
}

func (h *Handler) Router(gatherer prometheus.Gatherer) *mux.Router {
	r := mux.NewRouter()
	r.Use(h.requestID)
	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/invest", h.invest).Methods(http.MethodPost)
	v1.HandleFunc("/positions/{id:[0-9]+}", h.position).Methods(http.MethodGet)
	v1.HandleFunc("/positions/{id:[0-9]+}/uri", h.tokenURI).Methods(http.MethodGet)
	v1.HandleFunc("/accounts/{address}", h.account).Methods(http.MethodGet)
	v1.HandleFunc("/base-pointer", h.updateBasePointer).Methods(http.MethodPut)
	return r
}

func (h *Handler) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDField)
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set(requestIDField, id)
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"positions": h.Ledger.PositionCount(),
	})
}

type InvestRequest struct {
	Beneficiary string `json:"beneficiary,omitempty"`
	Referrer    string `json:"referrer"`
	Amount      string `json:"amount"`
	Deadline    int64  `json:"deadline"`
}

type InvestResponse struct {
	PositionID uint64 `json:"position_id"`
	Replayed   bool   `json:"replayed,omitempty"`
}

type BasePointerRequest struct {
	Value    string `json:"value"`
	Deadline int64  `json:"deadline"`
}

// signed reads the body, recovers its signer and checks the deadline.
func (h *Handler) signed(r *http.Request, dst any, deadline func() int64) (common.Address, []byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("%w: %w", ErrBadRequest, err)
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return common.Address{}, nil, fmt.Errorf("%w: %w", ErrBadRequest, err)
	}
	signer, err := recoverSigner(body, r.Header.Get(signatureHeader))
	if err != nil {
		return common.Address{}, nil, err
	}
	now := h.now()
	d := time.Unix(deadline(), 0)
	if d.Before(now) {
		return common.Address{}, nil, fmt.Errorf("%w: deadline %s", ErrExpired, d.UTC().Format(time.RFC3339))
	}
	if d.After(now.Add(maxDeadline)) {
		return common.Address{}, nil, fmt.Errorf("%w: deadline more than %s ahead", ErrBadRequest, maxDeadline)
	}
	return signer, body, nil
}

func parseAddress(field, v string, optional bool) (common.Address, error) {
	if v == "" && optional {
		return common.Address{}, nil
	}
	if !common.IsHexAddress(v) {
		return common.Address{}, fmt.Errorf("%w: %s is not an address", ErrBadRequest, field)
	}
	return common.HexToAddress(v), nil
}

func (h *Handler) invest(w http.ResponseWriter, r *http.Request) {
	var req InvestRequest
	caller, body, err := h.signed(r, &req, func() int64 { return req.Deadline })
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	beneficiary, err := parseAddress("beneficiary", req.Beneficiary, true)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	referrer, err := parseAddress("referrer", req.Referrer, false)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	amount, ok := new(big.Int).SetString(req.Amount, 10)
	if !ok {
		h.writeError(w, r, fmt.Errorf("%w: amount must be a base-10 integer", ErrBadRequest))
		return
	}

	ctx := r.Context()
	key := replayKey(caller, body)
	if id, replayed, err := h.claim(ctx, key); err != nil {
		h.writeError(w, r, err)
		return
	} else if replayed {
		writeJSON(w, http.StatusOK, InvestResponse{PositionID: id, Replayed: true})
		return
	}

	id, err := h.Ledger.Invest(ctx, caller, beneficiary, referrer, amount)
	guardCtx := context.WithoutCancel(ctx)
	if err != nil {
		// An unconfirmed fund pull keeps the request claimed so that a
		// resubmission cannot pull the funds again.
		if !errors.Is(err, ledger.ErrTransferPending) {
			h.release(guardCtx, key)
		}
		h.writeError(w, r, err)
		return
	}
	h.remember(guardCtx, key, id)
	writeJSON(w, http.StatusCreated, InvestResponse{PositionID: id})
}

// replayKey identifies a signed request by signer and body, so a
// re-encoded signature over the same body maps to the same key.
func replayKey(signer common.Address, body []byte) string {
	return "invest:" + crypto.Keccak256Hash(signer.Bytes(), body).Hex()
}

// claim marks a signed request as in flight. A request that already
// completed reports the position it created.
func (h *Handler) claim(ctx context.Context, key string) (uint64, bool, error) {
	if h.Redis == nil {
		return 0, false, nil
	}
	ok, err := h.Redis.SetNX(ctx, key, pendingMarker, replayTTL).Result()
	if err != nil {
		return 0, false, fmt.Errorf("replay guard: %w", err)
	}
	if ok {
		return 0, false, nil
	}
	v, err := h.Redis.Get(ctx, key).Result()
	if err != nil {
		return 0, false, fmt.Errorf("replay guard: %w", err)
	}
	if v == pendingMarker {
		return 0, false, ErrInFlight
	}
	id, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("replay guard: %w", err)
	}
	return id, true, nil
}

func (h *Handler) release(ctx context.Context, key string) {
	if h.Redis == nil {
		return
	}
	if err := h.Redis.Del(ctx, key).Err(); err != nil {
		h.Log.Warn("failed to release replay guard", zap.String("key", key), zap.Error(err))
	}
}

func (h *Handler) remember(ctx context.Context, key string, id uint64) {
	if h.Redis == nil {
		return
	}
	if err := h.Redis.Set(ctx, key, strconv.FormatUint(id, 10), replayTTL).Err(); err != nil {
		h.Log.Warn("failed to store replay guard", zap.String("key", key), zap.Error(err))
	}
}

func positionID(r *http.Request) (uint64, error) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrBadRequest, err)
	}
	return id, nil
}

type PositionResponse struct {
	ID          uint64    `json:"id"`
	Owner       string    `json:"owner"`
	Investor    string    `json:"investor"`
	Referrer    string    `json:"referrer"`
	Beneficiary string    `json:"beneficiary"`
	Amount      string    `json:"amount"`
	CreatedAt   time.Time `json:"created_at"`
}

func (h *Handler) position(w http.ResponseWriter, r *http.Request) {
	id, err := positionID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	p, err := h.Ledger.Position(id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	owner, err := h.Ledger.OwnerOf(id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, PositionResponse{
		ID:          p.ID,
		Owner:       owner.Hex(),
		Investor:    p.Investor.Hex(),
		Referrer:    p.Referrer.Hex(),
		Beneficiary: p.BeneficiaryTag.Hex(),
		Amount:      p.Amount.String(),
		CreatedAt:   p.CreatedAt,
	})
}

func (h *Handler) tokenURI(w http.ResponseWriter, r *http.Request) {
	id, err := positionID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	uri, err := h.Ledger.TokenURI(id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"uri": uri})
}

type AccountResponse struct {
	Address    string   `json:"address"`
	Registered bool     `json:"registered"`
	Root       bool     `json:"root,omitempty"`
	Referrer   string   `json:"referrer,omitempty"`
	Referrals  int      `json:"referrals"`
	Positions  []uint64 `json:"positions"`
}

func (h *Handler) account(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress("address", mux.Vars(r)["address"], false)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := AccountResponse{Address: addr.Hex(), Positions: h.Ledger.PositionsOf(addr)}
	if acc, ok := h.Ledger.Account(addr); ok {
		resp.Registered = true
		resp.Root = acc.Root
		if !acc.Root {
			resp.Referrer = acc.Referrer.Hex()
		}
		resp.Referrals = h.Ledger.ReferralCount(addr)
	}
	if resp.Positions == nil {
		resp.Positions = []uint64{}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) updateBasePointer(w http.ResponseWriter, r *http.Request) {
	if ip := utils.RemoteIP(r); !h.Admin.Contains(ip) {
		h.writeError(w, r, fmt.Errorf("%w: %s is not an admin address", ErrForbidden, ip))
		return
	}
	var req BasePointerRequest
	caller, _, err := h.signed(r, &req, func() int64 { return req.Deadline })
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.Ledger.UpdateBasePointer(r.Context(), caller, req.Value); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, ErrBadSignature), errors.Is(err, ErrExpired):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden), errors.Is(err, ledger.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, ledger.ErrPositionNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInFlight):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrReferrerNotFound), errors.Is(err, ledger.ErrAmountOutOfRange):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ledger.ErrTransferPending):
		return http.StatusGatewayTimeout
	case errors.Is(err, ledger.ErrTransferFailed):
		return http.StatusPaymentRequired
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.Log.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", w.Header().Get(requestIDField)),
			zap.Error(err))
	} else {
		h.Log.Debug("request rejected", zap.String("path", r.URL.Path), zap.Int("status", status), zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
