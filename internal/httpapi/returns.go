package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/shoozy/storefront/internal/domain/returns"
)

type returnItemRequest struct {
	OrderDetailID int64    `json:"order_detail_id"`
	Quantity      int      `json:"quantity"`
	Note          string   `json:"note"`
	ImageURLs     []string `json:"image_urls"`
}

type refundInfoRequest struct {
	Method         string `json:"method"`
	BankName       string `json:"bank_name"`
	AccountNumber  string `json:"account_number"`
	AccountHolder  string `json:"account_holder"`
	WalletProvider string `json:"wallet_provider"`
	WalletAccount  string `json:"wallet_account"`
}

type createReturnRequest struct {
	OrderID int64               `json:"order_id"`
	UserID  int64               `json:"user_id"`
	Reason  string              `json:"reason"`
	Note    string              `json:"note"`
	Items   []returnItemRequest `json:"items"`
	Info    refundInfoRequest   `json:"refund_info"`
}

type returnItemResponse struct {
	ID            int64    `json:"id"`
	OrderDetailID int64    `json:"order_detail_id"`
	Quantity      int      `json:"quantity"`
	Note          string   `json:"note,omitempty"`
	ImageURLs     []string `json:"image_urls,omitempty"`
}

type returnResponse struct {
	ID           int64                `json:"id"`
	OrderID      int64                `json:"order_id"`
	UserID       int64                `json:"user_id"`
	Reason       string               `json:"reason"`
	Note         string               `json:"note,omitempty"`
	Status       string               `json:"status"`
	RefundAmount decimal.Decimal      `json:"refund_amount"`
	RefundMethod string               `json:"refund_method"`
	Items        []returnItemResponse `json:"items"`
	CreatedAt    time.Time            `json:"created_at"`
}

func toReturnResponse(r *returns.Request) returnResponse {
	resp := returnResponse{
		ID:           r.ID,
		OrderID:      r.OrderID,
		UserID:       r.UserID,
		Reason:       r.Reason,
		Note:         r.Note,
		Status:       string(r.Status),
		RefundAmount: r.RefundAmount,
		RefundMethod: string(r.Info.Method),
		Items:        make([]returnItemResponse, 0, len(r.Items)),
		CreatedAt:    r.CreatedAt,
	}
	for _, item := range r.Items {
		resp.Items = append(resp.Items, returnItemResponse{
			ID:            item.ID,
			OrderDetailID: item.OrderDetailID,
			Quantity:      item.Quantity,
			Note:          item.Note,
			ImageURLs:     item.ImageURLs,
		})
	}
	return resp
}

// createReturn handles POST /api/returns.
func (s *Server) createReturn(w http.ResponseWriter, r *http.Request) {
	var req createReturnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErrorMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}

	items := make([]returns.ItemRequest, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, returns.ItemRequest{
			OrderDetailID: item.OrderDetailID,
			Quantity:      item.Quantity,
			Note:          item.Note,
			ImageURLs:     item.ImageURLs,
		})
	}

	created, err := s.returns.Create(r.Context(), returns.CreateRequest{
		OrderID: req.OrderID,
		UserID:  req.UserID,
		Reason:  req.Reason,
		Note:    req.Note,
		Items:   items,
		Info: returns.RefundInfo{
			Method:         returns.Method(req.Info.Method),
			BankName:       req.Info.BankName,
			AccountNumber:  req.Info.AccountNumber,
			AccountHolder:  req.Info.AccountHolder,
			WalletProvider: req.Info.WalletProvider,
			WalletAccount:  req.Info.WalletAccount,
		},
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, toReturnResponse(created))
}

// getReturn handles GET /api/returns/{requestID}.
func (s *Server) getReturn(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "requestID")
	if !ok {
		return
	}
	req, err := s.returns.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toReturnResponse(req))
}

type approveReturnRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// approveReturn handles POST /api/returns/{requestID}/approve. A positive
// amount overrides the refund computed at creation.
func (s *Server) approveReturn(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "requestID")
	if !ok {
		return
	}
	var req approveReturnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErrorMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.returns.Approve(r.Context(), id, req.Amount); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type rejectReturnRequest struct {
	Reason string `json:"reason"`
}

// rejectReturn handles POST /api/returns/{requestID}/reject.
func (s *Server) rejectReturn(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "requestID")
	if !ok {
		return
	}
	var req rejectReturnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErrorMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.returns.Reject(r.Context(), id, req.Reason); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type executeRefundRequest struct {
	Amount        decimal.Decimal `json:"amount"`
	Method        string          `json:"method"`
	ReferenceCode string          `json:"reference_code"`
	Note          string          `json:"note"`
	Actor         string          `json:"actor"`
}

type refundTransactionResponse struct {
	ID            int64           `json:"id"`
	RequestID     int64           `json:"return_request_id"`
	Amount        decimal.Decimal `json:"amount"`
	Method        string          `json:"method"`
	ReferenceCode string          `json:"reference_code"`
	Note          string          `json:"note,omitempty"`
	CreatedBy     string          `json:"created_by,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// executeRefund handles POST /api/returns/{requestID}/refund.
func (s *Server) executeRefund(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "requestID")
	if !ok {
		return
	}
	var req executeRefundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErrorMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}

	tx, err := s.returns.ExecuteRefund(r.Context(), id, req.Amount,
		returns.Method(req.Method), req.ReferenceCode, req.Note, req.Actor)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, refundTransactionResponse{
		ID:            tx.ID,
		RequestID:     tx.RequestID,
		Amount:        tx.Amount,
		Method:        string(tx.Method),
		ReferenceCode: tx.ReferenceCode,
		Note:          tx.Note,
		CreatedBy:     tx.CreatedBy,
		CreatedAt:     tx.CreatedAt,
	})
}
