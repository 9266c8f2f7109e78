package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/storefront/internal/model"
	"github.com/mmeshcher/storefront/internal/service"
)

type orderResponse struct {
	ID                string              `json:"id"`
	CustomerName      string              `json:"customerName"`
	CustomerEmail     string              `json:"customerEmail"`
	Items             []model.LineItem    `json:"items"`
	Subtotal          decimal.Decimal     `json:"subtotal"`
	ShippingFee       decimal.Decimal     `json:"shippingFee"`
	TotalAmount       decimal.Decimal     `json:"totalAmount"`
	PaymentMethod     model.PaymentMethod `json:"paymentMethod"`
	PaymentStatus     model.PaymentStatus `json:"paymentStatus"`
	CheckoutRequestID string              `json:"checkoutRequestId,omitempty"`
	TransactionCode   string              `json:"transactionCode,omitempty"`
	DeliveryMethod    string              `json:"deliveryMethod"`
	Status            model.OrderStatus   `json:"status"`
	TrackingNumber    string              `json:"trackingNumber,omitempty"`
	Version           int64               `json:"version"`
	Date              string              `json:"date"`
	UpdatedAt         string              `json:"updatedAt"`
}

func toOrderResponse(o *model.Order) orderResponse {
	items := o.Items
	if items == nil {
		items = []model.LineItem{}
	}
	return orderResponse{
		ID:                o.ID,
		CustomerName:      o.CustomerName,
		CustomerEmail:     o.CustomerEmail,
		Items:             items,
		Subtotal:          o.Subtotal,
		ShippingFee:       o.ShippingFee,
		TotalAmount:       o.Total,
		PaymentMethod:     o.PaymentMethod,
		PaymentStatus:     o.PaymentStatus,
		CheckoutRequestID: o.CheckoutRequestID,
		TransactionCode:   o.TransactionCode,
		DeliveryMethod:    o.DeliveryMethod,
		Status:            o.Status,
		TrackingNumber:    o.TrackingNumber,
		Version:           o.Version,
		Date:              o.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:         o.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func toOrderList(orders []model.Order) []orderResponse {
	resp := make([]orderResponse, 0, len(orders))
	for i := range orders {
		resp = append(resp, toOrderResponse(&orders[i]))
	}
	return resp
}

type createOrderRequest struct {
	ID                string              `json:"id"`
	CustomerName      string              `json:"customerName"`
	Items             []model.LineItem    `json:"items"`
	ShippingFee       decimal.Decimal     `json:"shippingFee"`
	PaymentMethod     model.PaymentMethod `json:"paymentMethod"`
	DeliveryMethod    string              `json:"deliveryMethod"`
	CheckoutRequestID string              `json:"checkoutRequestId"`
	TransactionCode   string              `json:"transactionCode"`
	Status            model.OrderStatus   `json:"status"`
}

// CreateOrder сохраняет заказ текущего пользователя. Итог пересчитывается
// на сервере.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	o, err := h.service.CreateOrder(r.Context(), currentUser(r), service.OrderInput{
		ID:                req.ID,
		CustomerName:      req.CustomerName,
		Items:             req.Items,
		ShippingFee:       req.ShippingFee,
		PaymentMethod:     req.PaymentMethod,
		DeliveryMethod:    req.DeliveryMethod,
		CheckoutRequestID: req.CheckoutRequestID,
		TransactionCode:   req.TransactionCode,
		Status:            req.Status,
	})
	if err != nil {
		h.writeError(w, r, "create order", err)
		return
	}

	writeJSON(w, http.StatusCreated, toOrderResponse(o))
}

// ListMyOrders возвращает заказы текущего пользователя.
func (h *Handler) ListMyOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.service.ListMyOrders(r.Context(), currentUser(r))
	if err != nil {
		h.writeError(w, r, "list my orders", err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderList(orders))
}

// ListAllOrders возвращает все заказы магазина.
func (h *Handler) ListAllOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.service.ListAllOrders(r.Context())
	if err != nil {
		h.writeError(w, r, "list orders", err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderList(orders))
}

// GetOrder возвращает заказ владельцу или сотруднику.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.service.GetOrder(r.Context(), currentUser(r), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, "get order", err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

type statusRequest struct {
	Status  model.OrderStatus `json:"status"`
	Version *int64            `json:"version"`
}

// UpdateOrderStatus меняет статус выполнения заказа.
func (h *Handler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	o, err := h.service.UpdateStatus(r.Context(), chi.URLParam(r, "id"), req.Status, req.Version)
	if err != nil {
		h.writeError(w, r, "update order status", err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

type trackingRequest struct {
	TrackingNumber string `json:"trackingNumber"`
	Version        *int64 `json:"version"`
}

// UpdateOrderTracking сохраняет номер отслеживания.
func (h *Handler) UpdateOrderTracking(w http.ResponseWriter, r *http.Request) {
	var req trackingRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	o, err := h.service.UpdateTracking(r.Context(), chi.URLParam(r, "id"), req.TrackingNumber, req.Version)
	if err != nil {
		h.writeError(w, r, "update order tracking", err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

type paymentStatusRequest struct {
	PaymentStatus model.PaymentStatus `json:"paymentStatus"`
	Version       *int64              `json:"version"`
}

// UpdateOrderPayment фиксирует результат сверки оплаты сотрудником.
func (h *Handler) UpdateOrderPayment(w http.ResponseWriter, r *http.Request) {
	var req paymentStatusRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	o, err := h.service.SetPaymentStatus(r.Context(), chi.URLParam(r, "id"), req.PaymentStatus, req.Version)
	if err != nil {
		h.writeError(w, r, "update order payment", err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

// DeleteOrder удаляет заказ.
func (h *Handler) DeleteOrder(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteOrder(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, "delete order", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Order deleted"})
}
