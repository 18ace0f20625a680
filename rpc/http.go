// Package rpc exposes the ledger's operation surface as JSON-RPC 2.0 over
// HTTP. The host process is trusted to authenticate callers; requests name
// the acting principal explicitly.
package rpc

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"aidledger/core"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
	authTokenEnv    = "AIDLEDGER_RPC_TOKEN"
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
	codeEscrowFailure  = -32020
)

// Server routes JSON-RPC requests to the node.
type Server struct {
	node      *core.Node
	authToken string
}

// NewServer creates a server bound to the supplied node. When the
// AIDLEDGER_RPC_TOKEN environment variable is set, mutating methods require
// a matching bearer token.
func NewServer(node *core.Node) *Server {
	return &Server{
		node:      node,
		authToken: strings.TrimSpace(os.Getenv(authTokenEnv)),
	}
}

// Router returns the HTTP handler serving the RPC endpoint, health check and
// prometheus metrics.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Post("/", s.handle)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// Start serves the router on addr, blocking until the listener fails.
func (s *Server) Start(addr string) error {
	return http.ListenAndServe(addr, s.Router())
}

// RPCRequest is a JSON-RPC 2.0 request envelope.
type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      int               `json:"id"`
}

// RPCResponse is a JSON-RPC 2.0 response envelope.
type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

// RPCError carries a coded failure. For escrow failures Data holds the
// ledger's numeric error kind so callers can branch on it.
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) requireAuth(r *http.Request) *RPCError {
	if s.authToken == "" {
		return nil
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return &RPCError{Code: codeUnauthorized, Message: "missing bearer token"}
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
		return &RPCError{Code: codeUnauthorized, Message: "invalid bearer token"}
	}
	return nil
}

// handle is the main request handler that routes to specific methods.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}

	switch req.Method {
	case "escrow_create":
		s.handleEscrowCreate(w, r, req)
	case "escrow_get":
		s.handleEscrowGet(w, req)
	case "escrow_update":
		s.handleEscrowUpdate(w, r, req)
	case "escrow_release":
		s.handleEscrowRelease(w, r, req)
	case "escrow_refund":
		s.handleEscrowRefund(w, r, req)
	case "escrow_count":
		s.handleEscrowCount(w, req)
	case "escrow_status":
		s.handleEscrowStatus(w, req)
	case "escrow_getUpdate":
		s.handleEscrowGetUpdate(w, req)
	case "escrow_listByDonor":
		s.handleEscrowListByDonor(w, req)
	case "fees_setAuthority":
		s.handleFeesSetAuthority(w, r, req)
	case "fees_setFee":
		s.handleFeesSetFee(w, r, req)
	case "fees_get":
		s.handleFeesGet(w, req)
	case "bank_mint":
		s.handleBankMint(w, r, req)
	case "bank_balance":
		s.handleBankBalance(w, req)
	case "chain_height":
		s.handleChainHeight(w, req)
	case "chain_advance":
		s.handleChainAdvance(w, r, req)
	default:
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method not found", req.Method)
	}
}

func singleParam(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("exactly one parameter object expected")
	}
	return json.Unmarshal(req.Params[0], out)
}
