package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/shoozy/storefront/internal/domain/catalog"
	"github.com/shoozy/storefront/internal/domain/coupon"
	"github.com/shoozy/storefront/internal/domain/order"
	"github.com/shoozy/storefront/internal/domain/returns"
)

type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.lg.Warn("write response", zap.Error(err))
	}
}

func (s *Server) writeErrorMessage(w http.ResponseWriter, code int, message string) {
	s.writeJSON(w, code, errorResponse{Code: code, Message: message})
}

// writeError maps a domain error to an HTTP status. Business-rule violations
// answer 422, state conflicts 409, everything unrecognized 500 with the
// detail kept out of the response body.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var (
		outOfStock     *catalog.OutOfStockError
		ineligible     *coupon.IneligibleError
		badQuantity    *order.InvalidQuantityError
		badOrderMove   *order.InvalidTransitionError
		badReturnMove  *returns.InvalidTransitionError
		overQuantity   *returns.OverReturnQuantityError
		incompleteInfo *returns.IncompleteRefundInfoError
	)

	switch {
	case errors.Is(err, order.ErrNotFound),
		errors.Is(err, returns.ErrNotFound):
		s.writeErrorMessage(w, http.StatusNotFound, err.Error())

	case errors.Is(err, returns.ErrNotOwner):
		s.writeErrorMessage(w, http.StatusForbidden, err.Error())

	case errors.As(err, &outOfStock),
		errors.As(err, &ineligible),
		errors.As(err, &badQuantity),
		errors.As(err, &overQuantity),
		errors.As(err, &incompleteInfo),
		errors.Is(err, order.ErrEmptyItems),
		errors.Is(err, coupon.ErrNotFound),
		errors.Is(err, catalog.ErrVariantNotFound),
		errors.Is(err, returns.ErrOrderNotReturnable),
		errors.Is(err, returns.ErrReturnWindowClosed),
		errors.Is(err, returns.ErrDuplicateLines),
		errors.Is(err, returns.ErrLineNotInOrder):
		s.writeErrorMessage(w, http.StatusUnprocessableEntity, err.Error())

	case errors.As(err, &badOrderMove),
		errors.As(err, &badReturnMove),
		errors.Is(err, order.ErrImmutable),
		errors.Is(err, coupon.ErrExhausted),
		errors.Is(err, returns.ErrRefundAlreadyExecuted),
		errors.Is(err, returns.ErrConflict):
		s.writeErrorMessage(w, http.StatusConflict, err.Error())

	case errors.Is(err, gobreaker.ErrOpenState),
		errors.Is(err, gobreaker.ErrTooManyRequests):
		s.writeErrorMessage(w, http.StatusServiceUnavailable, "shipping carrier unavailable")

	default:
		s.lg.Error("request failed", zap.Error(err))
		s.writeErrorMessage(w, http.StatusInternalServerError, "internal error")
	}
}
