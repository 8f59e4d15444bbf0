// Package httpapi exposes checkout, order lifecycle, and return/refund
// operations over HTTP. Handlers translate between JSON and the domain
// services; business outcomes map to status codes in errors.go.
package httpapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/shoozy/storefront/internal/domain/order"
	"github.com/shoozy/storefront/internal/domain/returns"
)

// OrderService is the slice of the order service the API consumes.
type OrderService interface {
	Checkout(ctx context.Context, req order.CheckoutRequest) (*order.Order, error)
	Transition(ctx context.Context, orderID int64, target order.Status, actorID int64, description string) (*order.Order, error)
	UpdateDraftInfo(ctx context.Context, orderID int64, fullname, phone, address, note string) error
	Get(ctx context.Context, orderID int64) (*order.Order, error)
}

// ReturnService is the slice of the return workflow the API consumes.
type ReturnService interface {
	Create(ctx context.Context, req returns.CreateRequest) (*returns.Request, error)
	Approve(ctx context.Context, requestID int64, amount decimal.Decimal) error
	Reject(ctx context.Context, requestID int64, reason string) error
	ExecuteRefund(ctx context.Context, requestID int64, amount decimal.Decimal, method returns.Method, referenceCode, note, actor string) (*returns.Transaction, error)
	Get(ctx context.Context, requestID int64) (*returns.Request, error)
}

// Server holds the HTTP handlers.
type Server struct {
	orders   OrderService
	returns  ReturnService
	payments order.PaymentRecorder
	lg       *zap.Logger
}

// NewServer creates a Server backed by the given services.
func NewServer(orders OrderService, rets ReturnService, payments order.PaymentRecorder, lg *zap.Logger) *Server {
	return &Server{orders: orders, returns: rets, payments: payments, lg: lg}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Route("/orders", func(r chi.Router) {
			r.Post("/", s.placeOrder)
			r.Get("/{orderID}", s.getOrder)
			r.Patch("/{orderID}", s.updateOrderInfo)
			r.Post("/{orderID}/status", s.transitionOrder)
		})
		r.Post("/payments/webhook", s.paymentWebhook)
		r.Route("/returns", func(r chi.Router) {
			r.Post("/", s.createReturn)
			r.Get("/{requestID}", s.getReturn)
			r.Post("/{requestID}/approve", s.approveReturn)
			r.Post("/{requestID}/reject", s.rejectReturn)
			r.Post("/{requestID}/refund", s.executeRefund)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return r
}
