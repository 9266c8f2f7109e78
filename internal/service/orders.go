package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/storefront/internal/apperr"
	"github.com/mmeshcher/storefront/internal/model"
	"github.com/mmeshcher/storefront/internal/repository"
)

const (
	msgOrderNotFound     = "Order not found"
	msgOrderExists       = "Order already exists"
	msgOrderForbidden    = "Unauthorized access"
	msgEmptyOrder        = "Order must contain at least one item."
	msgInvalidItem       = "Every item needs a name, a positive quantity and a non-negative price."
	msgInvalidShipping   = "Shipping fee must not be negative."
	msgInvalidPayment    = "Invalid payment method."
	msgInvalidStatus     = "Invalid order status."
	msgInitialStatus     = "New orders must be Pending or Processing."
	msgVersionConflict   = "Order was modified by someone else. Reload and try again."
	msgUnpaidShipment    = "Payment has not been confirmed for this order."
	msgPaymentConfirmed  = "Payment for this order is already confirmed."
	msgInvalidPaymentSet = "Payment status must be confirmed or failed."
)

// errUnchanged прерывает UpdateOrder, когда сохранять нечего.
var errUnchanged = errors.New("order unchanged")

// OrderInput — данные нового заказа. Покупатель определяется по вызывающему
// пользователю, итоговая сумма всегда пересчитывается.
type OrderInput struct {
	ID                string
	CustomerName      string
	Items             []model.LineItem
	ShippingFee       decimal.Decimal
	PaymentMethod     model.PaymentMethod
	DeliveryMethod    string
	CheckoutRequestID string
	TransactionCode   string
	Status            model.OrderStatus
}

// ValidateItems проверяет позиции заказа.
func ValidateItems(items []model.LineItem) error {
	if len(items) == 0 {
		return apperr.Validation(msgEmptyOrder)
	}
	for _, it := range items {
		if strings.TrimSpace(it.Name) == "" || it.Quantity <= 0 || it.UnitPrice.IsNegative() {
			return apperr.Validation(msgInvalidItem)
		}
	}
	return nil
}

// CreateOrder сохраняет заказ от имени вызывающего пользователя.
func (s *Service) CreateOrder(ctx context.Context, caller *model.User, in OrderInput) (*model.Order, error) {
	if err := ValidateItems(in.Items); err != nil {
		return nil, err
	}
	if in.ShippingFee.IsNegative() {
		return nil, apperr.Validation(msgInvalidShipping)
	}
	if !in.PaymentMethod.Valid() {
		return nil, apperr.Validation(msgInvalidPayment)
	}

	status := in.Status
	if status == "" {
		status = model.OrderStatusPending
	}
	if status != model.OrderStatusPending && status != model.OrderStatusProcessing {
		return nil, apperr.Validation(msgInitialStatus)
	}

	name := strings.TrimSpace(in.CustomerName)
	if name == "" {
		name = caller.Name
	}

	id := in.ID
	if id == "" {
		id = model.NewOrderID()
	}

	o := &model.Order{
		ID:                id,
		CustomerID:        caller.ID,
		CustomerName:      name,
		CustomerEmail:     caller.Email,
		Items:             in.Items,
		ShippingFee:       in.ShippingFee,
		PaymentMethod:     in.PaymentMethod,
		PaymentStatus:     model.PaymentStatusPending,
		CheckoutRequestID: in.CheckoutRequestID,
		TransactionCode:   strings.TrimSpace(in.TransactionCode),
		DeliveryMethod:    in.DeliveryMethod,
		Status:            status,
	}
	o.Recalculate()

	if err := s.repo.CreateOrder(ctx, o); err != nil {
		if errors.Is(err, repository.ErrOrderExists) {
			return nil, apperr.Wrap(apperr.ErrConflict, msgOrderExists, err)
		}
		return nil, err
	}

	s.logger.Info("order created",
		zap.String("order", o.ID),
		zap.String("customer", o.CustomerEmail),
		zap.String("total", o.Total.String()),
		zap.String("payment_method", string(o.PaymentMethod)),
	)

	return o, nil
}

// GetOrder возвращает заказ владельцу или сотруднику магазина.
func (s *Service) GetOrder(ctx context.Context, caller *model.User, id string) (*model.Order, error) {
	o, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return nil, orderNotFound(err)
	}

	if o.CustomerEmail != caller.Email && !caller.Role.IsStaff() {
		return nil, apperr.New(apperr.ErrAuthorization, msgOrderForbidden)
	}

	return o, nil
}

// ListMyOrders возвращает заказы вызывающего пользователя, новые первыми.
func (s *Service) ListMyOrders(ctx context.Context, caller *model.User) ([]model.Order, error) {
	return s.repo.ListOrdersByCustomer(ctx, caller.Email)
}

// ListAllOrders возвращает все заказы, новые первыми.
func (s *Service) ListAllOrders(ctx context.Context) ([]model.Order, error) {
	return s.repo.ListOrders(ctx)
}

func checkVersion(o *model.Order, expected *int64) error {
	if expected != nil && *expected != o.Version {
		return apperr.New(apperr.ErrConflict, msgVersionConflict)
	}
	return nil
}

// updateOrder применяет mutate под блокировкой заказа. Если mutate сообщает,
// что изменений нет, возвращается текущее состояние без записи.
func (s *Service) updateOrder(ctx context.Context, id string, mutate func(o *model.Order) error) (*model.Order, error) {
	updated, err := s.repo.UpdateOrder(ctx, id, mutate)
	if errors.Is(err, errUnchanged) {
		updated, err = s.repo.GetOrder(ctx, id)
	}
	if err != nil {
		return nil, orderNotFound(err)
	}
	return updated, nil
}

// UpdateStatus меняет статус выполнения заказа. Допустимо движение вперёд по
// цепочке и отмена из неконечного статуса. Отгрузить можно только оплаченный
// заказ. Если передана версия, изменение выполняется только при совпадении.
func (s *Service) UpdateStatus(ctx context.Context, id string, status model.OrderStatus, version *int64) (*model.Order, error) {
	if !status.Valid() {
		return nil, apperr.Validation(msgInvalidStatus)
	}

	return s.updateOrder(ctx, id, func(o *model.Order) error {
		if err := checkVersion(o, version); err != nil {
			return err
		}
		if o.Status == status {
			return errUnchanged
		}
		if !o.Status.CanTransitionTo(status) {
			return apperr.New(apperr.ErrConflict,
				fmt.Sprintf("Cannot change order status from %s to %s.", o.Status, status))
		}
		if (status == model.OrderStatusShipped || status == model.OrderStatusCompleted) &&
			o.PaymentStatus != model.PaymentStatusConfirmed {
			return apperr.New(apperr.ErrConflict, msgUnpaidShipment)
		}
		o.Status = status
		return nil
	})
}

// UpdateTracking сохраняет номер отслеживания посылки.
func (s *Service) UpdateTracking(ctx context.Context, id, tracking string, version *int64) (*model.Order, error) {
	tracking = strings.TrimSpace(tracking)

	return s.updateOrder(ctx, id, func(o *model.Order) error {
		if err := checkVersion(o, version); err != nil {
			return err
		}
		if o.TrackingNumber == tracking {
			return errUnchanged
		}
		o.TrackingNumber = tracking
		return nil
	})
}

func applyPayment(o *model.Order, status model.PaymentStatus) error {
	if o.PaymentStatus == status {
		return errUnchanged
	}
	if o.PaymentStatus == model.PaymentStatusConfirmed {
		return apperr.New(apperr.ErrConflict, msgPaymentConfirmed)
	}
	o.PaymentStatus = status
	return nil
}

// SetPaymentStatus фиксирует результат проверки оплаты сотрудником, например
// после сверки кода транзакции ручного платежа.
func (s *Service) SetPaymentStatus(ctx context.Context, id string, status model.PaymentStatus, version *int64) (*model.Order, error) {
	if status != model.PaymentStatusConfirmed && status != model.PaymentStatusFailed {
		return nil, apperr.Validation(msgInvalidPaymentSet)
	}

	return s.updateOrder(ctx, id, func(o *model.Order) error {
		if err := checkVersion(o, version); err != nil {
			return err
		}
		return applyPayment(o, status)
	})
}

// ApplyPaymentResult отмечает оплату заказа, связанного с запросом оплаты,
// подтверждённой или отклонённой. Подтверждённую оплату отклонить нельзя.
func (s *Service) ApplyPaymentResult(ctx context.Context, checkoutRequestID string, success bool) (*model.Order, error) {
	o, err := s.repo.GetOrderByCheckoutRequest(ctx, checkoutRequestID)
	if err != nil {
		return nil, orderNotFound(err)
	}

	status := model.PaymentStatusFailed
	if success {
		status = model.PaymentStatusConfirmed
	}

	updated, err := s.updateOrder(ctx, o.ID, func(o *model.Order) error {
		return applyPayment(o, status)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("payment result applied",
		zap.String("order", updated.ID),
		zap.String("checkout_request_id", checkoutRequestID),
		zap.String("payment_status", string(updated.PaymentStatus)),
	)

	return updated, nil
}

// DeleteOrder безвозвратно удаляет заказ.
func (s *Service) DeleteOrder(ctx context.Context, id string) error {
	if err := s.repo.DeleteOrder(ctx, id); err != nil {
		return orderNotFound(err)
	}
	s.logger.Info("order deleted", zap.String("order", id))
	return nil
}

func orderNotFound(err error) error {
	if errors.Is(err, repository.ErrOrderNotFound) {
		return apperr.Wrap(apperr.ErrNotFound, msgOrderNotFound, err)
	}
	return err
}
