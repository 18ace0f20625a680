package rpc

import (
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"aidledger/core/types"
	"aidledger/native/escrow"
)

type escrowCreateParams struct {
	Caller      string `json:"caller"`
	Recipient   string `json:"recipient"`
	Amount      string `json:"amount"`
	Duration    uint64 `json:"duration"`
	Penalty     uint32 `json:"penalty"`
	Threshold   uint32 `json:"threshold"`
	EscrowType  string `json:"escrowType"`
	Interest    uint32 `json:"interest"`
	Grace       uint32 `json:"grace"`
	Location    string `json:"location"`
	Currency    string `json:"currency"`
	MinAmount   string `json:"minAmount"`
	MaxAmount   string `json:"maxAmount"`
	Condition   string `json:"condition"`
	ReleaseTime uint64 `json:"releaseTime"`
	RefundTime  uint64 `json:"refundTime"`
	Arbiter     string `json:"arbiter"`
}

type escrowIDParams struct {
	ID uint64 `json:"id"`
}

type escrowActorParams struct {
	ID     uint64 `json:"id"`
	Caller string `json:"caller"`
}

type escrowUpdateParams struct {
	ID       uint64 `json:"id"`
	Caller   string `json:"caller"`
	Amount   string `json:"amount"`
	Duration uint64 `json:"duration"`
}

type donorParams struct {
	Donor string `json:"donor"`
}

type principalParams struct {
	Principal string `json:"principal"`
}

type setAuthorityParams struct {
	Authority string `json:"authority"`
}

type setFeeParams struct {
	Fee string `json:"fee"`
}

type mintParams struct {
	To     string `json:"to"`
	Amount string `json:"amount"`
}

type advanceParams struct {
	Blocks *uint64 `json:"blocks,omitempty"`
	Height *uint64 `json:"height,omitempty"`
}

type escrowCreateResult struct {
	ID uint64 `json:"id"`
}

type escrowJSON struct {
	ID          uint64 `json:"id"`
	Donor       string `json:"donor"`
	Recipient   string `json:"recipient"`
	Arbiter     string `json:"arbiter"`
	Amount      string `json:"amount"`
	MinAmount   string `json:"minAmount"`
	MaxAmount   string `json:"maxAmount"`
	Duration    uint64 `json:"duration"`
	Penalty     uint32 `json:"penalty"`
	Threshold   uint32 `json:"threshold"`
	Interest    uint32 `json:"interest"`
	Grace       uint32 `json:"grace"`
	EscrowType  string `json:"escrowType"`
	Currency    string `json:"currency"`
	Location    string `json:"location"`
	Condition   string `json:"condition"`
	ReleaseTime uint64 `json:"releaseTime"`
	RefundTime  uint64 `json:"refundTime"`
	Timestamp   uint64 `json:"timestamp"`
	Status      string `json:"status"`
	FeePaid     bool   `json:"feePaid"`
}

type escrowUpdateJSON struct {
	Amount    string `json:"updateAmount"`
	Duration  uint64 `json:"updateDuration"`
	Timestamp uint64 `json:"updateTimestamp"`
	Updater   string `json:"updater"`
}

func formatEscrow(e *escrow.Escrow) *escrowJSON {
	if e == nil {
		return nil
	}
	return &escrowJSON{
		ID:          e.ID,
		Donor:       e.Donor.String(),
		Recipient:   e.Recipient.String(),
		Arbiter:     e.Arbiter.String(),
		Amount:      e.Amount.String(),
		MinAmount:   e.MinAmount.String(),
		MaxAmount:   e.MaxAmount.String(),
		Duration:    e.Duration,
		Penalty:     e.Penalty,
		Threshold:   e.Threshold,
		Interest:    e.Interest,
		Grace:       e.Grace,
		EscrowType:  e.EscrowType.String(),
		Currency:    e.Currency.String(),
		Location:    e.Location,
		Condition:   e.Condition,
		ReleaseTime: e.ReleaseTime,
		RefundTime:  e.RefundTime,
		Timestamp:   e.Timestamp,
		Status:      e.Status.String(),
		FeePaid:     e.FeePaid,
	}
}

func parseAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid decimal amount %q", raw)
	}
	return value, nil
}

// writeEscrowError maps a ledger failure onto the JSON-RPC envelope. Coded
// escrow failures carry their numeric kind in Data.
func writeEscrowError(w http.ResponseWriter, id interface{}, err error) {
	var kind *escrow.Error
	if errors.As(err, &kind) {
		status := http.StatusBadRequest
		switch kind.Code {
		case escrow.CodeNotFound:
			status = http.StatusNotFound
		case escrow.CodeNotAuthorized:
			status = http.StatusForbidden
		case escrow.CodeInvalidStatus, escrow.CodeUpdateNotAllowed,
			escrow.CodeCapacityExceeded, escrow.CodeAuthorityAlreadySet,
			escrow.CodeTransferFailed:
			status = http.StatusConflict
		}
		writeError(w, status, id, codeEscrowFailure, err.Error(), kind.Code)
		return
	}
	writeError(w, http.StatusInternalServerError, id, codeServerError, err.Error(), nil)
}

func (s *Server) handleEscrowCreate(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params escrowCreateParams
	if err := singleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := types.ParsePrincipal(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	recipient, err := types.ParsePrincipal(params.Recipient)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	arbiter, err := types.ParsePrincipal(params.Arbiter)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	minAmount, err := parseAmount(params.MinAmount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	maxAmount, err := parseAmount(params.MaxAmount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	id, err := s.node.CreateEscrow(caller, escrow.CreateParams{
		Recipient:   recipient,
		Amount:      amount,
		Duration:    params.Duration,
		Penalty:     params.Penalty,
		Threshold:   params.Threshold,
		EscrowType:  params.EscrowType,
		Interest:    params.Interest,
		Grace:       params.Grace,
		Location:    params.Location,
		Currency:    params.Currency,
		MinAmount:   minAmount,
		MaxAmount:   maxAmount,
		Condition:   params.Condition,
		ReleaseTime: params.ReleaseTime,
		RefundTime:  params.RefundTime,
		Arbiter:     arbiter,
	})
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, escrowCreateResult{ID: id})
}

func (s *Server) handleEscrowGet(w http.ResponseWriter, req *RPCRequest) {
	var params escrowIDParams
	if err := singleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	record, err := s.node.GetEscrow(params.ID)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatEscrow(record))
}

func (s *Server) handleEscrowUpdate(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params escrowUpdateParams
	if err := singleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := types.ParsePrincipal(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.node.UpdateEscrow(caller, params.ID, amount, params.Duration); err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleEscrowRelease(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.handleEscrowSettle(w, r, req, s.node.ReleaseEscrow)
}

func (s *Server) handleEscrowRefund(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.handleEscrowSettle(w, r, req, s.node.RefundEscrow)
}

func (s *Server) handleEscrowSettle(w http.ResponseWriter, r *http.Request, req *RPCRequest, settle func(types.Principal, uint64) error) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params escrowActorParams
	if err := singleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := types.ParsePrincipal(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := settle(caller, params.ID); err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleEscrowCount(w http.ResponseWriter, req *RPCRequest) {
	count, err := s.node.EscrowCount()
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, count)
}

func (s *Server) handleEscrowStatus(w http.ResponseWriter, req *RPCRequest) {
	var params escrowIDParams
	if err := singleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	status, err := s.node.EscrowStatus(params.ID)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, status.String())
}

func (s *Server) handleEscrowGetUpdate(w http.ResponseWriter, req *RPCRequest) {
	var params escrowIDParams
	if err := singleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	update, err := s.node.EscrowUpdate(params.ID)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, escrowUpdateJSON{
		Amount:    update.Amount.String(),
		Duration:  update.Duration,
		Timestamp: update.Timestamp,
		Updater:   update.Updater.String(),
	})
}

func (s *Server) handleEscrowListByDonor(w http.ResponseWriter, req *RPCRequest) {
	var params donorParams
	if err := singleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	donor, err := types.ParsePrincipal(params.Donor)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	ids, err := s.node.EscrowsByDonor(donor)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, ids)
}

func (s *Server) handleFeesSetAuthority(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params setAuthorityParams
	if err := singleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	authority, err := types.ParsePrincipal(params.Authority)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.node.SetAuthority(authority); err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleFeesSetFee(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params setFeeParams
	if err := singleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	fee, ok := new(big.Int).SetString(strings.TrimSpace(params.Fee), 10)
	if !ok {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", fmt.Sprintf("invalid decimal fee %q", params.Fee))
		return
	}
	if err := s.node.SetFee(fee); err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

type feesInfo struct {
	Authority string `json:"authority,omitempty"`
	Fee       string `json:"fee"`
}

func (s *Server) handleFeesGet(w http.ResponseWriter, req *RPCRequest) {
	fee, err := s.node.Fee()
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	info := feesInfo{Fee: fee.String()}
	if authority, ok, err := s.node.Authority(); err != nil {
		writeEscrowError(w, req.ID, err)
		return
	} else if ok {
		info.Authority = authority.String()
	}
	writeResult(w, req.ID, info)
}

func (s *Server) handleBankMint(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params mintParams
	if err := singleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	to, err := types.ParsePrincipal(params.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.node.Mint(to, amount); err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleBankBalance(w http.ResponseWriter, req *RPCRequest) {
	var params principalParams
	if err := singleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	principal, err := types.ParsePrincipal(params.Principal)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	balance, err := s.node.Balance(principal)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, balance.String())
}

func (s *Server) handleChainHeight(w http.ResponseWriter, req *RPCRequest) {
	writeResult(w, req.ID, s.node.Height())
}

func (s *Server) handleChainAdvance(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params advanceParams
	if err := singleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	switch {
	case params.Height != nil:
		if err := s.node.SetHeight(*params.Height); err != nil {
			writeError(w, http.StatusConflict, req.ID, codeInvalidParams, err.Error(), nil)
			return
		}
	case params.Blocks != nil:
		s.node.AdvanceHeight(*params.Blocks)
	default:
		s.node.AdvanceHeight(1)
	}
	writeResult(w, req.ID, s.node.Height())
}
