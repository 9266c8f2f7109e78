package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/storefront/internal/apperr"
	"github.com/mmeshcher/storefront/internal/mpesa"
	"github.com/mmeshcher/storefront/internal/validation"
)

const (
	msgInvalidPhone       = "Please enter a valid M-Pesa phone number."
	msgInvalidAmount      = "Amount must be greater than zero."
	msgOrderIDRequired    = "Order id is required."
	msgCheckoutIDRequired = "Checkout request id is required."
	msgGatewayUnavailable = "Payment service is unavailable. Please try again later."
)

// Gateway — операции платёжного шлюза, используемые магазином.
type Gateway interface {
	InitiateSTKPush(ctx context.Context, phone string, amount decimal.Decimal, orderRef string) (*mpesa.STKPushResult, error)
	QueryStatus(ctx context.Context, checkoutRequestID string) (*mpesa.QueryResult, error)
}

// GatewayError приводит ошибку получения токена шлюза к ошибке инициации
// оплаты: покупатель не должен видеть её как истёкшую сессию.
func GatewayError(err error) error {
	var e *apperr.Error
	if errors.As(err, &e) && e.Kind == apperr.ErrAuthentication {
		return apperr.Wrap(apperr.ErrPaymentInitiation, msgGatewayUnavailable, err)
	}
	return err
}

// InitiatePayment проверяет телефон и сумму и отправляет покупателю запрос
// оплаты. При неверных данных шлюз не вызывается.
func (s *Service) InitiatePayment(ctx context.Context, phone string, amount decimal.Decimal, orderID string) (*mpesa.STKPushResult, error) {
	orderID = strings.TrimSpace(orderID)
	if !validation.IsPlausiblePhone(phone) {
		return nil, apperr.Validation(msgInvalidPhone)
	}
	if !amount.IsPositive() {
		return nil, apperr.Validation(msgInvalidAmount)
	}
	if orderID == "" {
		return nil, apperr.Validation(msgOrderIDRequired)
	}

	res, err := s.gateway.InitiateSTKPush(ctx, phone, amount, orderID)
	if err != nil {
		s.logger.Warn("stk push failed", zap.String("order", orderID), zap.Error(err))
		return nil, GatewayError(err)
	}
	return res, nil
}

// QueryPayment запрашивает у шлюза результат оплаты.
func (s *Service) QueryPayment(ctx context.Context, checkoutRequestID string) (*mpesa.QueryResult, error) {
	checkoutRequestID = strings.TrimSpace(checkoutRequestID)
	if checkoutRequestID == "" {
		return nil, apperr.Validation(msgCheckoutIDRequired)
	}

	res, err := s.gateway.QueryStatus(ctx, checkoutRequestID)
	if err != nil {
		return nil, GatewayError(err)
	}
	return res, nil
}

// HandleCallback применяет присланный шлюзом итог оплаты к связанному заказу.
// Адрес callback публичен, поэтому итог сверяется со шлюзом: успех, который
// шлюз не подтверждает, не применяется.
func (s *Service) HandleCallback(ctx context.Context, cb *mpesa.CallbackResult) error {
	s.logger.Info("mpesa callback received",
		zap.String("checkout_request_id", cb.CheckoutRequestID),
		zap.String("result_code", cb.ResultCode),
		zap.String("result_desc", cb.ResultDesc),
	)

	res, err := s.QueryPayment(ctx, cb.CheckoutRequestID)
	if err != nil {
		return fmt.Errorf("verify callback: %w", err)
	}

	if !res.Success && cb.Success() {
		s.logger.Warn("callback success not confirmed by gateway",
			zap.String("checkout_request_id", cb.CheckoutRequestID),
			zap.String("gateway_result_code", res.ResultCode),
		)
		return nil
	}

	_, err = s.ApplyPaymentResult(ctx, cb.CheckoutRequestID, res.Success)
	return err
}
