package rpcledger

import (
	"encoding/base64"
	"encoding/json"
	"net/http"

	"github.com/tendermint/tendermint/libs/log"

	"github.com/iov-one/claimsend"
	"github.com/iov-one/claimsend/errors"
	"github.com/iov-one/claimsend/ledger"
)

// JSON-RPC 2.0 error codes.
const (
	codeParse          = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternal       = -32603
)

type rpcRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	ID      json.RawMessage   `json:"id"`
	Method  string            `json:"method"`
	Params  map[string]string `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// Handler serves a ledger over the gateway protocol that Client speaks. It
// is used to expose a simulated ledger to other processes.
type Handler struct {
	backend ledger.Client
	logger  log.Logger
}

var _ http.Handler = (*Handler)(nil)

// NewHandler returns a handler serving the backend.
func NewHandler(backend ledger.Client, logger log.Logger) *Handler {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Handler{
		backend: backend,
		logger:  logger.With("module", "gateway"),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "JSON-RPC requests must be POST", http.StatusMethodNotAllowed)
		return
	}
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.write(w, rpcResponse{Error: &rpcError{Code: codeParse, Message: "Parse error", Data: err.Error()}})
		return
	}
	resp := rpcResponse{ID: req.ID}
	if req.Method == "" {
		resp.Error = &rpcError{Code: codeInvalidRequest, Message: "Invalid Request"}
		h.write(w, resp)
		return
	}

	res, known, err := h.dispatch(r, &req)
	switch {
	case !known:
		resp.Error = &rpcError{Code: codeMethodNotFound, Message: "Method not found", Data: req.Method}
	case err == nil:
		resp.Result = res
	case errors.IsInvalidInput(err):
		resp.Error = &rpcError{Code: codeInvalidParams, Message: "Invalid params", Data: err.Error()}
	default:
		h.logger.Error("request failed", "method", req.Method, "err", err)
		resp.Error = &rpcError{Code: codeInternal, Message: "Internal error", Data: err.Error()}
	}
	h.write(w, resp)
}

func (h *Handler) dispatch(r *http.Request, req *rpcRequest) (interface{}, bool, error) {
	res, err := h.call(r, req)
	if err == errUnknownMethod {
		return nil, false, nil
	}
	return res, true, err
}

var errUnknownMethod = errors.ErrNotFound.New("unknown method")

func (h *Handler) call(r *http.Request, req *rpcRequest) (interface{}, error) {
	ctx := r.Context()
	switch req.Method {
	case "params":
		return h.backend.Params(ctx)
	case "account":
		addr, err := claimsend.ParseAddress(req.Params["address"])
		if err != nil {
			return nil, err
		}
		return h.backend.AccountState(ctx, addr)
	case "submit":
		raw, err := base64.StdEncoding.DecodeString(req.Params["group"])
		if err != nil {
			return nil, errors.Wrap(errors.ErrInvalidInput, "group is not base64 encoded")
		}
		id, err := h.backend.Submit(ctx, raw)
		if errors.ErrLedgerRejected.Is(err) {
			return submitResult{Rejected: err.Error()}, nil
		}
		if err != nil {
			return nil, err
		}
		return submitResult{TxID: id}, nil
	case "confirmation":
		id := ledger.TxID(req.Params["txid"])
		if err := id.Validate(); err != nil {
			return nil, err
		}
		p, err := h.backend.Params(ctx)
		if err != nil {
			return nil, err
		}
		// Zero rounds only looks the operation up.
		conf, err := h.backend.AwaitConfirmation(ctx, id, 0)
		if err != nil && !errors.ErrLedgerTimeout.Is(err) {
			return nil, err
		}
		return confirmationResult{LastRound: p.LastRound, Confirmation: conf}, nil
	default:
		return nil, errUnknownMethod
	}
}

func (h *Handler) write(w http.ResponseWriter, resp rpcResponse) {
	resp.JSONRPC = "2.0"
	if len(resp.ID) == 0 {
		resp.ID = json.RawMessage("null")
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("cannot write response", "err", err)
	}
}
