package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/shoozy/storefront/internal/domain/order"
	"github.com/shoozy/storefront/internal/shipping"
)

type orderItemRequest struct {
	VariantID int64 `json:"variant_id"`
	Quantity  int   `json:"quantity"`
}

type placeOrderRequest struct {
	UserID      int64                 `json:"user_id"`
	Fullname    string                `json:"fullname"`
	PhoneNumber string                `json:"phone_number"`
	Address     string                `json:"address"`
	Note        string                `json:"note"`
	CouponCode  string                `json:"coupon_code"`
	Items       []orderItemRequest    `json:"items"`
	Shipment    shipping.QuoteRequest `json:"shipment"`
}

type orderLineResponse struct {
	ID                int64           `json:"id"`
	VariantID         int64           `json:"variant_id"`
	ProductName       string          `json:"product_name"`
	UnitPrice         decimal.Decimal `json:"unit_price"`
	Quantity          int             `json:"quantity"`
	TotalMoney        decimal.Decimal `json:"total_money"`
	PromotionCode     string          `json:"promotion_code,omitempty"`
	PromotionDiscount decimal.Decimal `json:"promotion_discount"`
	FinalPrice        decimal.Decimal `json:"final_price"`
	RefundStatus      string          `json:"refund_status"`
}

type orderResponse struct {
	ID             int64               `json:"id"`
	Code           string              `json:"code"`
	UserID         int64               `json:"user_id"`
	Fullname       string              `json:"fullname"`
	PhoneNumber    string              `json:"phone_number"`
	Address        string              `json:"address"`
	Note           string              `json:"note,omitempty"`
	CouponCode     string              `json:"coupon_code,omitempty"`
	CouponDiscount decimal.Decimal     `json:"coupon_discount"`
	TotalMoney     decimal.Decimal     `json:"total_money"`
	ShippingFee    decimal.Decimal     `json:"shipping_fee"`
	FinalPrice     decimal.Decimal     `json:"final_price"`
	Status         string              `json:"status"`
	Items          []orderLineResponse `json:"items"`
	CreatedAt      time.Time           `json:"created_at"`
}

func toOrderResponse(o *order.Order) orderResponse {
	resp := orderResponse{
		ID:             o.ID,
		Code:           o.Code,
		UserID:         o.UserID,
		Fullname:       o.Fullname,
		PhoneNumber:    o.PhoneNumber,
		Address:        o.Address,
		Note:           o.Note,
		CouponDiscount: o.CouponDiscount,
		TotalMoney:     o.TotalMoney,
		ShippingFee:    o.ShippingFee,
		FinalPrice:     o.FinalPrice,
		Status:         string(o.Status),
		Items:          make([]orderLineResponse, 0, len(o.Details)),
		CreatedAt:      o.CreatedAt,
	}
	if o.Coupon != nil {
		resp.CouponCode = o.Coupon.Code
	}
	for _, d := range o.Details {
		resp.Items = append(resp.Items, orderLineResponse{
			ID:                d.ID,
			VariantID:         d.VariantID,
			ProductName:       d.ProductName,
			UnitPrice:         d.UnitPrice,
			Quantity:          d.Quantity,
			TotalMoney:        d.TotalMoney,
			PromotionCode:     d.PromotionCode,
			PromotionDiscount: d.PromotionDiscount,
			FinalPrice:        d.FinalPrice,
			RefundStatus:      string(d.RefundStatus),
		})
	}
	return resp
}

// placeOrder handles POST /api/orders.
func (s *Server) placeOrder(w http.ResponseWriter, r *http.Request) {
	var req placeOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErrorMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}

	items := make([]order.CheckoutItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, order.CheckoutItem{VariantID: item.VariantID, Quantity: item.Quantity})
	}

	o, err := s.orders.Checkout(r.Context(), order.CheckoutRequest{
		UserID:      req.UserID,
		Fullname:    req.Fullname,
		PhoneNumber: req.PhoneNumber,
		Address:     req.Address,
		Note:        req.Note,
		CouponCode:  req.CouponCode,
		Items:       items,
		Shipment:    req.Shipment,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, toOrderResponse(o))
}

// getOrder handles GET /api/orders/{orderID}.
func (s *Server) getOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "orderID")
	if !ok {
		return
	}
	o, err := s.orders.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toOrderResponse(o))
}

type transitionRequest struct {
	Status      string `json:"status"`
	ActorID     int64  `json:"actor_id"`
	Description string `json:"description"`
}

// transitionOrder handles POST /api/orders/{orderID}/status.
func (s *Server) transitionOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "orderID")
	if !ok {
		return
	}
	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErrorMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}

	o, err := s.orders.Transition(r.Context(), id, order.Status(req.Status), req.ActorID, req.Description)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toOrderResponse(o))
}

type updateOrderInfoRequest struct {
	Fullname    string `json:"fullname"`
	PhoneNumber string `json:"phone_number"`
	Address     string `json:"address"`
	Note        string `json:"note"`
}

// updateOrderInfo handles PATCH /api/orders/{orderID}.
func (s *Server) updateOrderInfo(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "orderID")
	if !ok {
		return
	}
	var req updateOrderInfoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErrorMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.orders.UpdateDraftInfo(r.Context(), id, req.Fullname, req.PhoneNumber, req.Address, req.Note); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// pathID parses an int64 URL parameter, answering 400 on garbage.
func (s *Server) pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		s.writeErrorMessage(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return id, true
}
