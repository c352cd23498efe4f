package rpc

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"tiersale/core"
	"tiersale/native/phase"
	"tiersale/native/position"
	"tiersale/native/sale"
	"tiersale/native/settle"
	"tiersale/observability"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB

	requestsPerSecond = 10
	requestBurst      = 20

	// maxRateLimitClients bounds the per-client limiter map; when full the
	// map is reset, which briefly re-grants every client a fresh burst.
	maxRateLimitClients = 4096
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
	codeRateLimited    = -32020
)

// Server exposes the sale node over JSON-RPC 2.0. Mutating methods require
// the bearer token from TIERSALE_RPC_TOKEN when one is configured.
type Server struct {
	node   *core.Node
	logger *slog.Logger

	authToken string

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewServer constructs a server bound to the node.
func NewServer(node *core.Node, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		node:      node,
		logger:    logger,
		authToken: strings.TrimSpace(os.Getenv("TIERSALE_RPC_TOKEN")),
		limiters:  make(map[string]*rate.Limiter),
	}
}

type rpcRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
}

type rpcResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *rpcError   `json:"error,omitempty"`
}

type rpcError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string) {
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	resp := rpcResponse{JSONRPC: jsonRPCVersion, ID: id, Error: &rpcError{Code: code, Message: message}}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := rpcResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) limiter(clientIP string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	limiter, ok := s.limiters[clientIP]
	if !ok {
		if len(s.limiters) >= maxRateLimitClients {
			s.limiters = make(map[string]*rate.Limiter)
		}
		limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestBurst)
		s.limiters[clientIP] = limiter
	}
	return limiter
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) authorized(r *http.Request) bool {
	if s.authToken == "" {
		return true
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) == 1
}

func mutating(method string) bool {
	switch method {
	case "sale_purchase", "sale_settle", "sale_fund", "position_activate", "position_accrue":
		return true
	}
	return false
}

// ServeHTTP handles a JSON-RPC request.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, nil, codeInvalidRequest, "POST required")
		return
	}
	if !s.limiter(clientIP(r)).Allow() {
		writeError(w, http.StatusTooManyRequests, nil, codeRateLimited, "rate limit exceeded")
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "unable to read request")
		return
	}
	if len(body) > maxRequestBytes {
		writeError(w, http.StatusRequestEntityTooLarge, nil, codeInvalidRequest, "request too large")
		return
	}
	var req rpcRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON")
		return
	}
	if req.JSONRPC != jsonRPCVersion || strings.TrimSpace(req.Method) == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "invalid request")
		return
	}
	if mutating(req.Method) && !s.authorized(r) {
		writeError(w, http.StatusUnauthorized, req.ID, codeUnauthorized, "unauthorized")
		return
	}

	start := time.Now()
	correlation := uuid.NewString()
	result, rpcErr := s.dispatch(&req)
	outcome := "ok"
	if rpcErr != nil {
		outcome = "error"
	}
	observability.ObserveRequest(req.Method, outcome, start)
	if mutating(req.Method) {
		s.logger.Info("rpc request",
			"method", req.Method,
			"outcome", outcome,
			"correlationId", correlation,
			"durationMs", time.Since(start).Milliseconds(),
		)
	}
	if rpcErr != nil {
		writeError(w, http.StatusOK, req.ID, rpcErr.Code, rpcErr.Message)
		return
	}
	writeResult(w, req.ID, result)
}

func (s *Server) dispatch(req *rpcRequest) (interface{}, *rpcError) {
	switch req.Method {
	case "sale_purchase":
		return s.handlePurchase(req)
	case "sale_settle":
		return s.handleSettle(req)
	case "sale_fund":
		return s.handleFund(req)
	case "sale_cycle":
		return s.handleCycle()
	case "phase_price":
		return s.handlePrice()
	case "phase_info":
		return s.handlePhaseInfo(req)
	case "position_activate":
		return s.handleActivate(req)
	case "position_accrue":
		return s.handleAccrue(req)
	case "position_info":
		return s.handlePositionInfo(req)
	}
	return nil, &rpcError{Code: codeMethodNotFound, Message: fmt.Sprintf("unknown method %s", req.Method)}
}

func decodeParams(req *rpcRequest, out interface{}) *rpcError {
	if len(req.Params) != 1 {
		return &rpcError{Code: codeInvalidParams, Message: "expected one parameter object"}
	}
	if err := json.Unmarshal(req.Params[0], out); err != nil {
		return &rpcError{Code: codeInvalidParams, Message: err.Error()}
	}
	return nil
}

func parseAddress(raw string) ([20]byte, *rpcError) {
	trimmed := strings.TrimSpace(raw)
	if !ethcommon.IsHexAddress(trimmed) {
		return [20]byte{}, &rpcError{Code: codeInvalidParams, Message: fmt.Sprintf("invalid address %q", raw)}
	}
	return ethcommon.HexToAddress(trimmed), nil
}

func parseAmount(raw string) (*big.Int, *rpcError) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok {
		return nil, &rpcError{Code: codeInvalidParams, Message: fmt.Sprintf("invalid amount %q", raw)}
	}
	return amount, nil
}

func mapError(err error) *rpcError {
	switch {
	case errors.Is(err, sale.ErrAssetUnknown),
		errors.Is(err, sale.ErrInvalidAmount),
		errors.Is(err, sale.ErrAmountTooSmall),
		errors.Is(err, settle.ErrBurnPercent),
		errors.Is(err, position.ErrInvalidCap),
		errors.Is(err, position.ErrInvalidAmount),
		errors.Is(err, position.ErrInvalidKind):
		return &rpcError{Code: codeInvalidParams, Message: err.Error()}
	case errors.Is(err, settle.ErrNotHolder):
		return &rpcError{Code: codeUnauthorized, Message: err.Error()}
	}
	return &rpcError{Code: codeServerError, Message: err.Error()}
}

type purchaseParams struct {
	Buyer    string `json:"buyer"`
	Asset    string `json:"asset"`
	Amount   string `json:"amount"`
	Position uint64 `json:"position"`
}

type purchaseResult struct {
	Minted   string `json:"minted"`
	Paid     string `json:"paid"`
	Price    string `json:"price"`
	Cycle    uint64 `json:"cycle,omitempty"`
	Advanced bool   `json:"advanced,omitempty"`
}

func (s *Server) handlePurchase(req *rpcRequest) (interface{}, *rpcError) {
	var params purchaseParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	buyer, rpcErr := parseAddress(params.Buyer)
	if rpcErr != nil {
		return nil, rpcErr
	}
	amount, rpcErr := parseAmount(params.Amount)
	if rpcErr != nil {
		return nil, rpcErr
	}
	receipt, err := s.node.Purchase(buyer, params.Asset, amount, params.Position)
	if err != nil {
		return nil, mapError(err)
	}
	return purchaseResult{
		Minted:   receipt.Minted.String(),
		Paid:     receipt.Paid.String(),
		Price:    receipt.Price.String(),
		Cycle:    receipt.Cycle,
		Advanced: receipt.Advanced,
	}, nil
}

type settleParams struct {
	Caller      string `json:"caller"`
	Position    uint64 `json:"position"`
	BurnPercent uint64 `json:"burnPercent"`
}

type settleResult struct {
	Burned   string `json:"burned"`
	Released string `json:"released"`
	Stable   string `json:"stable"`
	Price    string `json:"price"`
}

func (s *Server) handleSettle(req *rpcRequest) (interface{}, *rpcError) {
	var params settleParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	caller, rpcErr := parseAddress(params.Caller)
	if rpcErr != nil {
		return nil, rpcErr
	}
	receipt, err := s.node.Settle(caller, params.Position, params.BurnPercent)
	if err != nil {
		return nil, mapError(err)
	}
	return settleResult{
		Burned:   receipt.Burned.String(),
		Released: receipt.Released.String(),
		Stable:   receipt.Stable.String(),
		Price:    receipt.Price.String(),
	}, nil
}

type fundParams struct {
	Asset   string `json:"asset"`
	Address string `json:"address"`
	Amount  string `json:"amount"`
}

func (s *Server) handleFund(req *rpcRequest) (interface{}, *rpcError) {
	var params fundParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	addr, rpcErr := parseAddress(params.Address)
	if rpcErr != nil {
		return nil, rpcErr
	}
	amount, rpcErr := parseAmount(params.Amount)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.node.FundAsset(strings.ToUpper(strings.TrimSpace(params.Asset)), addr, amount); err != nil {
		return nil, mapError(err)
	}
	return map[string]bool{"ok": true}, nil
}

func (s *Server) handleCycle() (interface{}, *rpcError) {
	cycle, err := s.node.SaleCycle()
	if err != nil {
		return nil, mapError(err)
	}
	return map[string]uint64{"cycle": cycle}, nil
}

func (s *Server) handlePrice() (interface{}, *rpcError) {
	price, err := s.node.CurrentPrice()
	if err != nil {
		return nil, mapError(err)
	}
	index, err := s.node.ActivePhase()
	if err != nil {
		return nil, mapError(err)
	}
	result := map[string]string{
		"phase": fmt.Sprintf("%d", index),
		"price": price.String(),
	}
	if next, err := s.node.NextBasePrice(); err == nil {
		result["nextBasePrice"] = next.String()
	} else if !errors.Is(err, phase.ErrNoNextPhase) {
		return nil, mapError(err)
	}
	return result, nil
}

type phaseInfoParams struct {
	Index uint64 `json:"index"`
}

type phaseInfoResult struct {
	Index        uint64 `json:"index"`
	BasePrice    string `json:"basePrice"`
	CurrentPrice string `json:"currentPrice"`
	SoldVolume   string `json:"soldVolume"`
	Completed    bool   `json:"completed"`
}

func (s *Server) handlePhaseInfo(req *rpcRequest) (interface{}, *rpcError) {
	var params phaseInfoParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	info, ok, err := s.node.PhaseInfo(params.Index)
	if err != nil {
		return nil, mapError(err)
	}
	if !ok {
		return nil, &rpcError{Code: codeServerError, Message: "phase not found"}
	}
	return phaseInfoResult{
		Index:        info.Index,
		BasePrice:    info.BasePrice.String(),
		CurrentPrice: info.CurrentPrice.String(),
		SoldVolume:   info.SoldVolume.String(),
		Completed:    info.Completed,
	}, nil
}

type activateParams struct {
	Position  uint64 `json:"position"`
	Owner     string `json:"owner"`
	CapUSD    string `json:"capUsd"`
	Purchased string `json:"purchased,omitempty"`
}

func (s *Server) handleActivate(req *rpcRequest) (interface{}, *rpcError) {
	var params activateParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	owner, rpcErr := parseAddress(params.Owner)
	if rpcErr != nil {
		return nil, rpcErr
	}
	capUSD, rpcErr := parseAmount(params.CapUSD)
	if rpcErr != nil {
		return nil, rpcErr
	}
	purchased := big.NewInt(0)
	if strings.TrimSpace(params.Purchased) != "" {
		if purchased, rpcErr = parseAmount(params.Purchased); rpcErr != nil {
			return nil, rpcErr
		}
	}
	pos, err := s.node.ActivatePosition(params.Position, owner, capUSD, purchased)
	if err != nil {
		return nil, mapError(err)
	}
	return positionResult(pos), nil
}

type accrueParams struct {
	Position uint64 `json:"position"`
	Amount   string `json:"amount"`
	Kind     string `json:"kind"`
}

func (s *Server) handleAccrue(req *rpcRequest) (interface{}, *rpcError) {
	var params accrueParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	amount, rpcErr := parseAmount(params.Amount)
	if rpcErr != nil {
		return nil, rpcErr
	}
	kind := position.AllocationKind(strings.ToLower(strings.TrimSpace(params.Kind)))
	pos, err := s.node.RecordAllocation(params.Position, amount, kind)
	if err != nil {
		return nil, mapError(err)
	}
	return positionResult(pos), nil
}

type positionInfoParams struct {
	Position uint64 `json:"position"`
}

type positionInfoResult struct {
	Position    uint64 `json:"position"`
	Owner       string `json:"owner"`
	Activated   bool   `json:"activated"`
	ActivatedAt int64  `json:"activatedAt"`
	CapUSD      string `json:"capUsd"`
	Purchased   string `json:"purchased"`
	Rewarded    string `json:"rewarded"`
	Airdropped  string `json:"airdropped"`
	Total       string `json:"total"`
	Releasing   bool   `json:"releasing"`
	Invalidated bool   `json:"invalidated"`
}

func positionResult(pos *position.Position) positionInfoResult {
	return positionInfoResult{
		Position:    pos.ID,
		Owner:       ethcommon.Address(pos.Owner).Hex(),
		Activated:   pos.Activated,
		ActivatedAt: pos.ActivatedAt,
		CapUSD:      pos.CapUSD.String(),
		Purchased:   pos.Purchased.String(),
		Rewarded:    pos.Rewarded.String(),
		Airdropped:  pos.Airdropped.String(),
		Total:       pos.TotalAllocation().String(),
		Releasing:   pos.Releasing,
		Invalidated: pos.Invalidated,
	}
}

func (s *Server) handlePositionInfo(req *rpcRequest) (interface{}, *rpcError) {
	var params positionInfoParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	pos, ok, err := s.node.PositionInfo(params.Position)
	if err != nil {
		return nil, mapError(err)
	}
	if !ok {
		return nil, &rpcError{Code: codeServerError, Message: "position not found"}
	}
	return positionResult(pos), nil
}
