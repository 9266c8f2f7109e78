package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mmeshcher/storefront/internal/checkout"
	"github.com/mmeshcher/storefront/internal/model"
)

type startCheckoutRequest struct {
	Items    []model.LineItem   `json:"items"`
	Delivery *checkout.Delivery `json:"delivery"`
}

// StartCheckout открывает попытку оформления для корзины покупателя.
func (h *Handler) StartCheckout(w http.ResponseWriter, r *http.Request) {
	var req startCheckoutRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	v, err := h.checkout.Start(currentUser(r), req.Items, req.Delivery)
	if err != nil {
		h.writeError(w, r, "start checkout", err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

// GetCheckout возвращает текущее состояние попытки оформления.
func (h *Handler) GetCheckout(w http.ResponseWriter, r *http.Request) {
	v, err := h.checkout.Get(currentUser(r), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, "get checkout", err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// SelectDelivery меняет способ доставки.
func (h *Handler) SelectDelivery(w http.ResponseWriter, r *http.Request) {
	var req checkout.Delivery
	if !decodeJSON(w, r, &req) {
		return
	}

	v, err := h.checkout.SelectDelivery(currentUser(r), chi.URLParam(r, "id"), req)
	if err != nil {
		h.writeError(w, r, "select delivery", err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

type expressRequest struct {
	Phone string `json:"phone"`
}

// SubmitExpress отправляет запрос оплаты на телефон. Подтверждение
// отслеживается через GetCheckout.
func (h *Handler) SubmitExpress(w http.ResponseWriter, r *http.Request) {
	var req expressRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	v, err := h.checkout.SubmitExpress(r.Context(), currentUser(r), chi.URLParam(r, "id"), req.Phone)
	if err != nil {
		h.writeError(w, r, "submit express payment", err)
		return
	}
	writeJSON(w, http.StatusAccepted, v)
}

type manualRequest struct {
	Phone           string `json:"phone"`
	TransactionCode string `json:"transactionCode"`
}

// SubmitManual принимает оплату по коду транзакции.
func (h *Handler) SubmitManual(w http.ResponseWriter, r *http.Request) {
	var req manualRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	v, err := h.checkout.SubmitManual(r.Context(), currentUser(r), chi.URLParam(r, "id"), req.Phone, req.TransactionCode)
	if err != nil {
		h.writeError(w, r, "submit manual payment", err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

// RetryCheckout останавливает ожидание оплаты и возвращает к выбору способа оплаты.
func (h *Handler) RetryCheckout(w http.ResponseWriter, r *http.Request) {
	v, err := h.checkout.Retry(currentUser(r), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, "retry checkout", err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// AbandonCheckout закрывает попытку оформления.
func (h *Handler) AbandonCheckout(w http.ResponseWriter, r *http.Request) {
	if err := h.checkout.Abandon(currentUser(r), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, "abandon checkout", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
