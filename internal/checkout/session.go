package checkout

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/storefront/internal/apperr"
	"github.com/mmeshcher/storefront/internal/model"
)

// State — состояние попытки оформления заказа.
type State string

const (
	StateCart                           State = "Cart"
	StateAwaitingDeliverySelection      State = "AwaitingDeliverySelection"
	StateAwaitingPaymentMethodSelection State = "AwaitingPaymentMethodSelection"
	StateExpressSending                 State = "ExpressSending"
	StateExpressConfirming              State = "ExpressConfirming"
	StateExpressSucceeded               State = "ExpressSucceeded"
	StateExpressFailed                  State = "ExpressFailed"
	StateExpressTimedOut                State = "ExpressTimedOut"
	StateManualPending                  State = "ManualPending"
	StateManualVerifying                State = "ManualVerifying"
	StateManualSucceeded                State = "ManualSucceeded"
)

// Succeeded сообщает, что оплата принята и корзина очищена.
func (s State) Succeeded() bool {
	return s == StateExpressSucceeded || s == StateManualSucceeded
}

// acceptsPayment сообщает, можно ли из состояния отправить оплату. Неудача и
// истечение ожидания возвращают покупателя к выбору способа оплаты.
func (s State) acceptsPayment() bool {
	switch s {
	case StateAwaitingPaymentMethodSelection, StateExpressFailed, StateExpressTimedOut:
		return true
	}
	return false
}

// acceptsDelivery сообщает, можно ли из состояния менять доставку.
func (s State) acceptsDelivery() bool {
	return s == StateAwaitingDeliverySelection || s.acceptsPayment()
}

// View — снимок попытки оформления для клиента.
type View struct {
	ID                string                `json:"id"`
	State             State                 `json:"state"`
	Items             []model.LineItem      `json:"items"`
	Subtotal          decimal.Decimal       `json:"subtotal"`
	ShippingFee       decimal.Decimal       `json:"shippingFee"`
	Total             decimal.Decimal       `json:"total"`
	DeliveryMethod    DeliveryMethod        `json:"deliveryMethod,omitempty"`
	PickupLocation    *model.PickupLocation `json:"pickupLocation,omitempty"`
	OrderID           string                `json:"orderId,omitempty"`
	CheckoutRequestID string                `json:"checkoutRequestId,omitempty"`
	Message           string                `json:"message,omitempty"`
	Attempts          int                   `json:"attempts"`
	MaxAttempts       int                   `json:"maxAttempts"`
	LastError         string                `json:"lastError,omitempty"`
	UpdatedAt         time.Time             `json:"updatedAt"`
}

// Session — одна попытка оформления заказа одного покупателя.
type Session struct {
	mu sync.Mutex

	id    string
	owner int64
	state State
	cart  Cart

	orderID           string
	checkoutRequestID string
	message           string
	attempts          int
	lastErr           error

	// generation растёт при каждой отправке оплаты и повторе, чтобы
	// результаты устаревшего опроса не меняли состояние.
	generation uint64
	cancelPoll context.CancelFunc
	pollDone   chan struct{}

	updatedAt time.Time
}

func (s *Session) setState(state State, now time.Time) {
	s.state = state
	s.updatedAt = now
}

func (s *Session) view(maxAttempts int) View {
	v := View{
		ID:                s.id,
		State:             s.state,
		Items:             append([]model.LineItem(nil), s.cart.Items...),
		Subtotal:          s.cart.Subtotal(),
		ShippingFee:       s.cart.ShippingFee(),
		Total:             s.cart.Total(),
		DeliveryMethod:    s.cart.Method,
		PickupLocation:    s.cart.Location,
		OrderID:           s.orderID,
		CheckoutRequestID: s.checkoutRequestID,
		Message:           s.message,
		Attempts:          s.attempts,
		MaxAttempts:       maxAttempts,
		UpdatedAt:         s.updatedAt,
	}
	if v.Items == nil {
		v.Items = []model.LineItem{}
	}
	if s.lastErr != nil {
		v.LastError = s.lastErr.Error()
	}
	return v
}

// outcome возвращает ошибку, которой завершилась последняя попытка оплаты.
func (s *Session) outcome() error {
	switch s.state {
	case StateExpressFailed, StateExpressTimedOut:
		return s.lastErr
	}
	return nil
}

// detachPoller снимает с сессии активный опрос и возвращает функции для
// его остановки. Вызывается под блокировкой сессии.
func (s *Session) detachPoller() (context.CancelFunc, chan struct{}) {
	cancel, done := s.cancelPoll, s.pollDone
	s.cancelPoll, s.pollDone = nil, nil
	return cancel, done
}

func stopPoller(cancel context.CancelFunc, done chan struct{}) {
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

var errTimeout = apperr.New(apperr.ErrPaymentTimeout, "Payment timeout. Please try again or use manual paybill.")
