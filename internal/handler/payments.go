package handler

import (
	"net/http"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/storefront/internal/mpesa"
)

type initiateRequest struct {
	Phone   string          `json:"phoneNumber"`
	Amount  decimal.Decimal `json:"amount"`
	OrderID string          `json:"orderId"`
}

type initiateResponse struct {
	Success           bool   `json:"success"`
	CheckoutRequestID string `json:"checkoutRequestId"`
	MerchantRequestID string `json:"merchantRequestId"`
	ResponseCode      string `json:"responseCode"`
	Message           string `json:"message"`
}

// InitiateSTK отправляет покупателю запрос оплаты на телефон.
func (h *Handler) InitiateSTK(w http.ResponseWriter, r *http.Request) {
	var req initiateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := h.service.InitiatePayment(r.Context(), req.Phone, req.Amount, req.OrderID)
	if err != nil {
		h.writeError(w, r, "initiate stk push", err)
		return
	}

	writeJSON(w, http.StatusOK, initiateResponse{
		Success:           true,
		CheckoutRequestID: res.CheckoutRequestID,
		MerchantRequestID: res.MerchantRequestID,
		ResponseCode:      res.ResponseCode,
		Message:           res.Message,
	})
}

type queryRequest struct {
	CheckoutRequestID string `json:"checkoutRequestId"`
}

// QueryStatus возвращает результат оплаты по запросу STK Push.
func (h *Handler) QueryStatus(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := h.service.QueryPayment(r.Context(), req.CheckoutRequestID)
	if err != nil {
		h.writeError(w, r, "query payment status", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type callbackAck struct {
	ResultCode int    `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
}

// Callback принимает итог оплаты от шлюза. Шлюз получает подтверждение
// приёма в любом случае, иначе он будет повторять доставку.
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	cb, err := mpesa.ParseCallback(r.Body)
	if err != nil {
		h.logger.Warn("malformed mpesa callback", zap.Error(err))
	} else if err := h.service.HandleCallback(r.Context(), cb); err != nil {
		h.logger.Error("apply mpesa callback",
			zap.String("checkout_request_id", cb.CheckoutRequestID),
			zap.Error(err),
		)
	}

	writeJSON(w, http.StatusOK, callbackAck{ResultCode: 0, ResultDesc: "Accepted"})
}
