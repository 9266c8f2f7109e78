package checkout

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/storefront/internal/apperr"
	"github.com/mmeshcher/storefront/internal/model"
	"github.com/mmeshcher/storefront/internal/mpesa"
	"github.com/mmeshcher/storefront/internal/service"
	"github.com/mmeshcher/storefront/internal/validation"
)

const (
	msgSessionNotFound   = "Checkout session not found"
	msgEmptyCart         = "Your cart is empty."
	msgChooseDelivery    = "Please choose a delivery option."
	msgInvalidDelivery   = "Invalid delivery method."
	msgUnknownPickup     = "Unknown pick-up location."
	msgSelectPickup      = "Please select a Pick-Up Mtaani location."
	msgExpressPhone      = "Please enter a valid M-Pesa phone number."
	msgManualPhone       = "Please enter a valid phone number (e.g., 0712345678)."
	msgManualCode        = "Please enter a valid M-PESA transaction code (10 characters)."
	msgNotAwaiting       = "Checkout is not awaiting payment."
	msgNothingToRetry    = "Nothing to retry for this checkout."
	msgInitiationFailed  = "Failed to initiate payment. Please try again."
	msgClosed            = "Checkout is unavailable. Please try again later."
	defaultPollInterval  = 2 * time.Second
	defaultMaxAttempts   = 60
	defaultRetention     = 30 * time.Minute
	defaultEvictInterval = time.Minute
)

// Gateway — операции платёжного шлюза, нужные оформлению заказа.
type Gateway interface {
	InitiateSTKPush(ctx context.Context, phone string, amount decimal.Decimal, orderRef string) (*mpesa.STKPushResult, error)
	QueryStatus(ctx context.Context, checkoutRequestID string) (*mpesa.QueryResult, error)
}

// OrderStore сохраняет заказы и результаты их оплаты.
type OrderStore interface {
	CreateOrder(ctx context.Context, caller *model.User, in service.OrderInput) (*model.Order, error)
	ApplyPaymentResult(ctx context.Context, checkoutRequestID string, success bool) (*model.Order, error)
}

// PickupDirectory ищет пункты выдачи по идентификатору.
type PickupDirectory interface {
	PickupLocation(id string) (model.PickupLocation, bool)
}

// Options задаёт параметры опроса шлюза и хранения попыток.
type Options struct {
	PollInterval time.Duration
	MaxAttempts  int
	ManualDelay  time.Duration
	Retention    time.Duration
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = defaultPollInterval
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = defaultMaxAttempts
	}
	if o.ManualDelay < 0 {
		o.ManualDelay = 0
	}
	if o.Retention <= 0 {
		o.Retention = defaultRetention
	}
	return o
}

// Manager хранит попытки оформления заказа и управляет их опросом шлюза.
// У попытки в каждый момент не больше одного активного опроса.
type Manager struct {
	gateway Gateway
	orders  OrderStore
	pickups PickupDirectory
	logger  *zap.Logger
	opts    Options

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	newID      func() string
	newOrderID func() string
	now        func() time.Time
}

// NewManager создаёт менеджер оформления заказов.
func NewManager(gateway Gateway, orders OrderStore, pickups PickupDirectory, logger *zap.Logger, opts Options) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		gateway:    gateway,
		orders:     orders,
		pickups:    pickups,
		logger:     logger,
		opts:       opts.withDefaults(),
		sessions:   make(map[string]*Session),
		baseCtx:    ctx,
		cancel:     cancel,
		newID:      uuid.NewString,
		newOrderID: model.NewOrderID,
		now:        time.Now,
	}
}

func (m *Manager) lookup(caller *model.User, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok || s.owner != caller.ID {
		return nil, apperr.New(apperr.ErrNotFound, msgSessionNotFound)
	}
	return s, nil
}

// applyDelivery меняет доставку. Вызывается под блокировкой сессии.
func (m *Manager) applyDelivery(s *Session, d Delivery) error {
	switch d.Method {
	case DeliveryStandard:
		s.cart.Location = nil
	case DeliveryPickup:
		s.cart.Location = nil
		if d.PickupLocationID != "" {
			loc, ok := m.pickups.PickupLocation(d.PickupLocationID)
			if !ok {
				return apperr.Validation(msgUnknownPickup)
			}
			s.cart.Location = &loc
		}
	default:
		return apperr.Validation(msgInvalidDelivery)
	}

	s.cart.Method = d.Method
	s.setState(StateAwaitingPaymentMethodSelection, m.now())
	return nil
}

// Start открывает попытку оформления для содержимого корзины. Если доставка
// указана сразу, попытка переходит к выбору способа оплаты.
func (m *Manager) Start(caller *model.User, items []model.LineItem, delivery *Delivery) (View, error) {
	if len(items) == 0 {
		return View{}, apperr.Validation(msgEmptyCart)
	}
	if err := service.ValidateItems(items); err != nil {
		return View{}, err
	}

	s := &Session{
		id:    m.newID(),
		owner: caller.ID,
		cart:  Cart{Items: append([]model.LineItem(nil), items...)},
	}
	s.setState(StateCart, m.now())
	s.setState(StateAwaitingDeliverySelection, m.now())

	if delivery != nil {
		if err := m.applyDelivery(s, *delivery); err != nil {
			return View{}, err
		}
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return View{}, apperr.New(apperr.ErrConflict, msgClosed)
	}
	m.sessions[s.id] = s
	m.mu.Unlock()

	return s.view(m.opts.MaxAttempts), nil
}

// Get возвращает снимок попытки оформления.
func (m *Manager) Get(caller *model.User, id string) (View, error) {
	s, err := m.lookup(caller, id)
	if err != nil {
		return View{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view(m.opts.MaxAttempts), nil
}

// SelectDelivery меняет способ доставки, пока оплата не отправлена.
func (m *Manager) SelectDelivery(caller *model.User, id string, d Delivery) (View, error) {
	s, err := m.lookup(caller, id)
	if err != nil {
		return View{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.state.acceptsDelivery() {
		return View{}, apperr.New(apperr.ErrConflict, msgNotAwaiting)
	}
	if err := m.applyDelivery(s, d); err != nil {
		return View{}, err
	}
	return s.view(m.opts.MaxAttempts), nil
}

// checkPayable проверяет, что попытка готова к оплате. Вызывается под
// блокировкой сессии.
func checkPayable(s *Session) error {
	if s.state == StateAwaitingDeliverySelection {
		return apperr.Validation(msgChooseDelivery)
	}
	if !s.state.acceptsPayment() {
		return apperr.New(apperr.ErrConflict, msgNotAwaiting)
	}
	if s.cart.Method == DeliveryPickup && s.cart.Location == nil {
		return apperr.Validation(msgSelectPickup)
	}
	return nil
}

type attempt struct {
	gen     uint64
	orderID string
	input   service.OrderInput
	amount  decimal.Decimal
}

// begin переводит сессию в новое состояние оплаты и запоминает снимок
// корзины. Вызывается под блокировкой сессии.
func (m *Manager) begin(s *Session, state State, method model.PaymentMethod) attempt {
	s.generation++
	s.orderID = m.newOrderID()
	s.checkoutRequestID = ""
	s.message = ""
	s.attempts = 0
	s.lastErr = nil
	s.setState(state, m.now())

	return attempt{
		gen:     s.generation,
		orderID: s.orderID,
		amount:  s.cart.Total(),
		input: service.OrderInput{
			ID:             s.orderID,
			Items:          append([]model.LineItem(nil), s.cart.Items...),
			ShippingFee:    s.cart.ShippingFee(),
			PaymentMethod:  method,
			DeliveryMethod: s.cart.DeliveryDescriptor(),
			Status:         model.OrderStatusProcessing,
		},
	}
}

// fail возвращает попытку к выбору способа оплаты с сохранением доставки.
func (m *Manager) fail(s *Session, gen uint64, state State, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.generation != gen {
		return
	}
	s.lastErr = err
	s.setState(state, m.now())
}

// SubmitExpress отправляет на телефон покупателя запрос оплаты, сразу создаёт
// заказ в статусе Processing и запускает опрос шлюза. Ошибки проверки
// возвращаются до обращения к шлюзу.
func (m *Manager) SubmitExpress(ctx context.Context, caller *model.User, id, phone string) (View, error) {
	s, err := m.lookup(caller, id)
	if err != nil {
		return View{}, err
	}

	s.mu.Lock()
	if err := checkPayable(s); err != nil {
		s.mu.Unlock()
		return View{}, err
	}
	if !validation.IsPlausiblePhone(phone) {
		s.mu.Unlock()
		return View{}, apperr.Validation(msgExpressPhone)
	}
	cancel, done := s.detachPoller()
	a := m.begin(s, StateExpressSending, model.PaymentMethodExpress)
	s.mu.Unlock()

	stopPoller(cancel, done)

	res, err := m.gateway.InitiateSTKPush(ctx, phone, a.amount, a.orderID)
	if err != nil {
		err = service.GatewayError(err)
		if !errors.Is(err, apperr.ErrPaymentInitiation) {
			err = apperr.Wrap(apperr.ErrPaymentInitiation, msgInitiationFailed, err)
		}
		m.logger.Warn("stk push failed", zap.String("session", id), zap.String("order", a.orderID), zap.Error(err))
		m.fail(s, a.gen, StateExpressFailed, err)
		return View{}, err
	}

	a.input.CheckoutRequestID = res.CheckoutRequestID
	if _, err := m.orders.CreateOrder(ctx, caller, a.input); err != nil {
		m.logger.Error("order not saved after stk push",
			zap.String("order", a.orderID),
			zap.String("checkout_request_id", res.CheckoutRequestID),
			zap.Error(err),
		)
		m.fail(s, a.gen, StateExpressFailed, err)
		return View{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.generation == a.gen {
		s.checkoutRequestID = res.CheckoutRequestID
		s.message = res.Message
		s.setState(StateExpressConfirming, m.now())
		m.startPoller(s, a.gen, res.CheckoutRequestID)
	}

	return s.view(m.opts.MaxAttempts), nil
}

// startPoller запускает опрос шлюза. Вызывается под блокировкой сессии.
func (m *Manager) startPoller(s *Session, gen uint64, checkoutRequestID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}

	ctx, cancel := context.WithCancel(m.baseCtx)
	done := make(chan struct{})
	s.cancelPoll, s.pollDone = cancel, done

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer close(done)
		defer cancel()
		m.poll(ctx, s, gen, checkoutRequestID)
	}()
}

// poll опрашивает шлюз с фиксированным интервалом не более MaxAttempts раз.
// Сбой отдельного запроса расходует попытку, но опрос не прерывает.
func (m *Manager) poll(ctx context.Context, s *Session, gen uint64, checkoutRequestID string) {
	ticker := time.NewTicker(m.opts.PollInterval)
	defer ticker.Stop()

	for n := 1; n <= m.opts.MaxAttempts; n++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		res, err := m.gateway.QueryStatus(ctx, checkoutRequestID)
		if ctx.Err() != nil {
			return
		}

		if !m.recordAttempt(s, gen, n) {
			return
		}

		if err != nil {
			m.logger.Warn("payment status query failed",
				zap.String("checkout_request_id", checkoutRequestID),
				zap.Int("attempt", n),
				zap.Error(err),
			)
			continue
		}

		if res.Success {
			m.confirm(ctx, s, gen, checkoutRequestID)
			return
		}
	}

	m.logger.Info("payment confirmation timed out",
		zap.String("checkout_request_id", checkoutRequestID),
		zap.Int("attempts", m.opts.MaxAttempts),
	)
	m.fail(s, gen, StateExpressTimedOut, errTimeout)
}

func (m *Manager) recordAttempt(s *Session, gen uint64, n int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.generation != gen {
		return false
	}
	s.attempts = n
	s.updatedAt = m.now()
	return true
}

// confirm записывает оплату под блокировкой попытки: Retry, пришедший во
// время записи, увидит уже оплаченную попытку, а не выбор способа оплаты.
func (m *Manager) confirm(ctx context.Context, s *Session, gen uint64, checkoutRequestID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.generation != gen {
		return
	}

	if _, err := m.orders.ApplyPaymentResult(context.WithoutCancel(ctx), checkoutRequestID, true); err != nil {
		m.logger.Error("confirm order payment",
			zap.String("checkout_request_id", checkoutRequestID),
			zap.Error(err),
		)
	}

	s.cart.Clear()
	s.lastErr = nil
	s.setState(StateExpressSucceeded, m.now())

	m.logger.Info("payment confirmed",
		zap.String("order", s.orderID),
		zap.String("checkout_request_id", checkoutRequestID),
	)
}

// SubmitManual принимает оплату по коду транзакции. Код проверяется только
// по формату; заказ создаётся после фиксированной задержки с оплатой в
// статусе pending до сверки сотрудником.
func (m *Manager) SubmitManual(ctx context.Context, caller *model.User, id, phone, code string) (View, error) {
	s, err := m.lookup(caller, id)
	if err != nil {
		return View{}, err
	}

	s.mu.Lock()
	if err := checkPayable(s); err != nil {
		s.mu.Unlock()
		return View{}, err
	}
	if !validation.IsManualPhone(phone) {
		s.mu.Unlock()
		return View{}, apperr.Validation(msgManualPhone)
	}
	if !validation.IsValidTransactionCode(code) {
		s.mu.Unlock()
		return View{}, apperr.Validation(msgManualCode)
	}
	cancel, done := s.detachPoller()
	a := m.begin(s, StateManualPending, model.PaymentMethodManual)
	a.input.TransactionCode = code
	s.mu.Unlock()

	stopPoller(cancel, done)

	s.mu.Lock()
	if s.generation == a.gen {
		s.setState(StateManualVerifying, m.now())
	}
	s.mu.Unlock()

	timer := time.NewTimer(m.opts.ManualDelay)
	select {
	case <-ctx.Done():
		timer.Stop()
		m.fail(s, a.gen, StateAwaitingPaymentMethodSelection, ctx.Err())
		return View{}, ctx.Err()
	case <-timer.C:
	}

	if _, err := m.orders.CreateOrder(ctx, caller, a.input); err != nil {
		m.logger.Error("manual order not saved", zap.String("order", a.orderID), zap.Error(err))
		m.fail(s, a.gen, StateAwaitingPaymentMethodSelection, err)
		return View{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.generation == a.gen {
		s.cart.Clear()
		s.setState(StateManualSucceeded, m.now())
	}
	return s.view(m.opts.MaxAttempts), nil
}

// Retry останавливает опрос шлюза и возвращает попытку к выбору способа
// оплаты. Выбранная доставка сохраняется. Заказ предыдущей отправки остаётся
// в статусе Processing.
func (m *Manager) Retry(caller *model.User, id string) (View, error) {
	s, err := m.lookup(caller, id)
	if err != nil {
		return View{}, err
	}

	s.mu.Lock()
	switch s.state {
	case StateExpressConfirming, StateExpressFailed, StateExpressTimedOut, StateAwaitingPaymentMethodSelection:
	default:
		s.mu.Unlock()
		return View{}, apperr.New(apperr.ErrConflict, msgNothingToRetry)
	}

	cancel, done := s.detachPoller()
	s.generation++
	s.orderID = ""
	s.checkoutRequestID = ""
	s.message = ""
	s.attempts = 0
	s.lastErr = nil
	s.setState(StateAwaitingPaymentMethodSelection, m.now())
	v := s.view(m.opts.MaxAttempts)
	s.mu.Unlock()

	stopPoller(cancel, done)

	m.logger.Info("checkout retried", zap.String("session", id))
	return v, nil
}

// Abandon закрывает попытку и останавливает её опрос.
func (m *Manager) Abandon(caller *model.User, id string) error {
	s, err := m.lookup(caller, id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	cancel, done := s.detachPoller()
	s.generation++
	s.mu.Unlock()

	stopPoller(cancel, done)

	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
	return nil
}

// Await ждёт завершения текущего опроса шлюза и возвращает итог попытки.
func (m *Manager) Await(ctx context.Context, caller *model.User, id string) (View, error) {
	s, err := m.lookup(caller, id)
	if err != nil {
		return View{}, err
	}

	s.mu.Lock()
	done := s.pollDone
	s.mu.Unlock()

	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return View{}, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view(m.opts.MaxAttempts), s.outcome()
}

// Run удаляет устаревшие попытки до отмены контекста, затем останавливает
// все опросы.
func (m *Manager) Run(ctx context.Context) error {
	interval := defaultEvictInterval
	if m.opts.Retention < interval {
		interval = m.opts.Retention
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.Close()
			return nil
		case <-ticker.C:
			m.evict()
		}
	}
}

func busy(state State) bool {
	switch state {
	case StateExpressSending, StateExpressConfirming, StateManualPending, StateManualVerifying:
		return true
	}
	return false
}

func (m *Manager) evict() {
	m.mu.Lock()
	candidates := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		candidates = append(candidates, s)
	}
	m.mu.Unlock()

	now := m.now()
	var stale []string
	for _, s := range candidates {
		s.mu.Lock()
		if !busy(s.state) && now.Sub(s.updatedAt) > m.opts.Retention {
			stale = append(stale, s.id)
		}
		s.mu.Unlock()
	}

	if len(stale) == 0 {
		return
	}

	m.mu.Lock()
	for _, id := range stale {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	m.logger.Debug("checkout sessions evicted", zap.Int("count", len(stale)))
}

// Close останавливает все опросы и ждёт их завершения.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()
}
