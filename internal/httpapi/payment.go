package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/shoozy/storefront/internal/domain/order"
)

type paymentWebhookRequest struct {
	OrderID   int64           `json:"order_id"`
	Amount    decimal.Decimal `json:"amount"`
	Method    string          `json:"method"`
	Reference string          `json:"reference"`
	Status    string          `json:"status"`
	PaidAt    time.Time       `json:"paid_at"`
}

// paymentWebhook handles POST /api/payments/webhook. The gateway notifies us
// of a settled or failed charge; the record is appended to the order as-is,
// never interpreted here.
func (s *Server) paymentWebhook(w http.ResponseWriter, r *http.Request) {
	var req paymentWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErrorMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.OrderID <= 0 || req.Method == "" || req.Status == "" {
		s.writeErrorMessage(w, http.StatusBadRequest, "order_id, method and status are required")
		return
	}
	if req.PaidAt.IsZero() {
		req.PaidAt = time.Now()
	}

	rec := order.PaymentRecord{
		OrderID:   req.OrderID,
		Amount:    req.Amount,
		Method:    req.Method,
		Reference: req.Reference,
		Status:    req.Status,
		CreatedAt: req.PaidAt,
	}
	if err := s.payments.RecordPayment(r.Context(), &rec); err != nil {
		s.writeError(w, err)
		return
	}

	s.lg.Info("payment recorded",
		zap.Int64("order_id", rec.OrderID),
		zap.String("status", rec.Status),
		zap.String("reference", rec.Reference),
	)
	w.WriteHeader(http.StatusNoContent)
}
