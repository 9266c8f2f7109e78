package checkout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mmeshcher/storefront/internal/apperr"
	"github.com/mmeshcher/storefront/internal/model"
	"github.com/mmeshcher/storefront/internal/mpesa"
	"github.com/mmeshcher/storefront/internal/service"
)

type fakeGateway struct {
	mu      sync.Mutex
	pushes  []decimal.Decimal
	phones  []string
	pushErr error
	queries map[string]int
	// result решает исход n-го запроса статуса для checkoutRequestID.
	result func(checkoutRequestID string, n int) (*mpesa.QueryResult, error)
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		queries: make(map[string]int),
		result: func(id string, _ int) (*mpesa.QueryResult, error) {
			return &mpesa.QueryResult{Success: false, ResultCode: "1", CheckoutRequestID: id}, nil
		},
	}
}

func (g *fakeGateway) InitiateSTKPush(_ context.Context, phone string, amount decimal.Decimal, orderRef string) (*mpesa.STKPushResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pushes = append(g.pushes, amount)
	g.phones = append(g.phones, phone)
	if g.pushErr != nil {
		return nil, g.pushErr
	}
	return &mpesa.STKPushResult{
		CheckoutRequestID: "ws_CO_" + orderRef,
		ResponseCode:      "0",
		Message:           "Success. Request accepted for processing",
	}, nil
}

func (g *fakeGateway) QueryStatus(_ context.Context, checkoutRequestID string) (*mpesa.QueryResult, error) {
	g.mu.Lock()
	g.queries[checkoutRequestID]++
	n := g.queries[checkoutRequestID]
	result := g.result
	g.mu.Unlock()
	return result(checkoutRequestID, n)
}

func (g *fakeGateway) pushCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pushes)
}

func (g *fakeGateway) queryCount(id string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.queries[id]
}

func (g *fakeGateway) totalQueries() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	total := 0
	for _, n := range g.queries {
		total += n
	}
	return total
}

type fakeOrders struct {
	mu      sync.Mutex
	created []service.OrderInput
	paid    map[string]bool
	err     error
	// applying и release, если заданы, задерживают запись результата оплаты.
	applying chan struct{}
	release  chan struct{}
}

func newFakeOrders() *fakeOrders {
	return &fakeOrders{paid: make(map[string]bool)}
}

func (o *fakeOrders) CreateOrder(_ context.Context, caller *model.User, in service.OrderInput) (*model.Order, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return nil, o.err
	}
	o.created = append(o.created, in)
	return &model.Order{ID: in.ID, CustomerEmail: caller.Email, Status: in.Status}, nil
}

func (o *fakeOrders) ApplyPaymentResult(_ context.Context, checkoutRequestID string, success bool) (*model.Order, error) {
	if o.applying != nil {
		close(o.applying)
		<-o.release
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.paid[checkoutRequestID] = success
	return &model.Order{}, nil
}

func (o *fakeOrders) orders() []service.OrderInput {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]service.OrderInput(nil), o.created...)
}

func (o *fakeOrders) isPaid(checkoutRequestID string) (bool, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	v, ok := o.paid[checkoutRequestID]
	return v, ok
}

type fakePickups map[string]model.PickupLocation

func (p fakePickups) PickupLocation(id string) (model.PickupLocation, bool) {
	loc, ok := p[id]
	return loc, ok
}

var testPickups = fakePickups{
	"pm_003": {ID: "pm_003", Name: "Westlands - The Mall", Region: "Westlands", Price: decimal.NewFromInt(150)},
}

var buyer = &model.User{ID: 11, Email: "jane@example.com", Name: "Jane", Role: model.RoleCustomer}

func cartItems() []model.LineItem {
	return []model.LineItem{
		{ProductID: "1", Name: "Leather Boots", UnitPrice: decimal.NewFromInt(2000), Quantity: 2},
		{ProductID: "2", Name: "Wool Socks", UnitPrice: decimal.NewFromInt(700), Quantity: 1},
	}
}

func newTestManager(t *testing.T, gw *fakeGateway, orders *fakeOrders, attempts int) *Manager {
	t.Helper()
	m := NewManager(gw, orders, testPickups, zap.NewNop(), Options{
		PollInterval: time.Millisecond,
		MaxAttempts:  attempts,
		ManualDelay:  time.Millisecond,
	})
	t.Cleanup(m.Close)
	return m
}

func startStandard(t *testing.T, m *Manager) View {
	t.Helper()
	v, err := m.Start(buyer, cartItems(), &Delivery{Method: DeliveryStandard})
	require.NoError(t, err)
	require.Equal(t, StateAwaitingPaymentMethodSelection, v.State)
	return v
}

func TestExpress_AmountIncludesShipping(t *testing.T) {
	gw := newFakeGateway()
	gw.result = func(id string, _ int) (*mpesa.QueryResult, error) {
		return &mpesa.QueryResult{Success: true, ResultCode: "0", CheckoutRequestID: id}, nil
	}
	orders := newFakeOrders()
	m := newTestManager(t, gw, orders, 60)

	v := startStandard(t, m)
	assert.True(t, v.Subtotal.Equal(decimal.NewFromInt(4700)))
	assert.True(t, v.ShippingFee.Equal(decimal.NewFromInt(300)))
	assert.True(t, v.Total.Equal(decimal.NewFromInt(5000)))

	v, err := m.SubmitExpress(context.Background(), buyer, v.ID, "0712345678")
	require.NoError(t, err)
	assert.Equal(t, StateExpressConfirming, v.State)
	assert.NotEmpty(t, v.CheckoutRequestID)

	require.Equal(t, 1, gw.pushCount())
	assert.True(t, gw.pushes[0].Equal(decimal.NewFromInt(5000)), "amount = %s", gw.pushes[0])

	created := orders.orders()
	require.Len(t, created, 1)
	assert.Equal(t, model.OrderStatusProcessing, created[0].Status)
	assert.Equal(t, model.PaymentMethodExpress, created[0].PaymentMethod)
	assert.Equal(t, "Standard Delivery", created[0].DeliveryMethod)
	assert.Equal(t, v.CheckoutRequestID, created[0].CheckoutRequestID)
	assert.Equal(t, v.OrderID, created[0].ID)

	final, err := m.Await(context.Background(), buyer, v.ID)
	require.NoError(t, err)
	assert.Equal(t, StateExpressSucceeded, final.State)
	assert.Empty(t, final.Items)
	assert.Equal(t, 1, final.Attempts)

	paid, ok := orders.isPaid(v.CheckoutRequestID)
	require.True(t, ok)
	assert.True(t, paid)
}

func TestExpress_TimesOutAfterMaxAttempts(t *testing.T) {
	gw := newFakeGateway()
	orders := newFakeOrders()
	m := newTestManager(t, gw, orders, 60)

	v := startStandard(t, m)
	v, err := m.SubmitExpress(context.Background(), buyer, v.ID, "0712345678")
	require.NoError(t, err)

	final, err := m.Await(context.Background(), buyer, v.ID)
	require.ErrorIs(t, err, apperr.ErrPaymentTimeout)
	assert.Equal(t, StateExpressTimedOut, final.State)
	assert.Equal(t, 60, final.Attempts)
	assert.Equal(t, 60, gw.queryCount(v.CheckoutRequestID))
	assert.Equal(t, DeliveryStandard, final.DeliveryMethod)
	assert.NotEmpty(t, final.Items)

	_, applied := orders.isPaid(v.CheckoutRequestID)
	assert.False(t, applied)
	assert.Equal(t, model.OrderStatusProcessing, orders.orders()[0].Status)

	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 60, gw.queryCount(v.CheckoutRequestID))
}

func TestExpress_SuccessOnLastAttemptWins(t *testing.T) {
	gw := newFakeGateway()
	gw.result = func(id string, n int) (*mpesa.QueryResult, error) {
		return &mpesa.QueryResult{Success: n == 5, CheckoutRequestID: id}, nil
	}
	m := newTestManager(t, gw, newFakeOrders(), 5)

	v := startStandard(t, m)
	v, err := m.SubmitExpress(context.Background(), buyer, v.ID, "0712345678")
	require.NoError(t, err)

	final, err := m.Await(context.Background(), buyer, v.ID)
	require.NoError(t, err)
	assert.Equal(t, StateExpressSucceeded, final.State)
}

func TestExpress_TransportErrorsAreTolerated(t *testing.T) {
	gw := newFakeGateway()
	gw.result = func(id string, n int) (*mpesa.QueryResult, error) {
		if n <= 3 {
			return nil, errors.New("connection reset by peer")
		}
		return &mpesa.QueryResult{Success: true, ResultCode: "0", CheckoutRequestID: id}, nil
	}
	m := newTestManager(t, gw, newFakeOrders(), 60)

	v := startStandard(t, m)
	v, err := m.SubmitExpress(context.Background(), buyer, v.ID, "0712345678")
	require.NoError(t, err)

	final, err := m.Await(context.Background(), buyer, v.ID)
	require.NoError(t, err)
	assert.Equal(t, StateExpressSucceeded, final.State)
	assert.Equal(t, 4, final.Attempts)
}

func TestExpress_RetryStopsPoller(t *testing.T) {
	gw := newFakeGateway()
	m := NewManager(gw, newFakeOrders(), testPickups, zap.NewNop(), Options{
		PollInterval: 2 * time.Millisecond,
		MaxAttempts:  10000,
	})
	t.Cleanup(m.Close)

	v := startStandard(t, m)
	first, err := m.SubmitExpress(context.Background(), buyer, v.ID, "0712345678")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return gw.queryCount(first.CheckoutRequestID) >= 3 },
		time.Second, time.Millisecond)

	retried, err := m.Retry(buyer, v.ID)
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingPaymentMethodSelection, retried.State)
	assert.Equal(t, DeliveryStandard, retried.DeliveryMethod)
	assert.Empty(t, retried.CheckoutRequestID)

	stopped := gw.queryCount(first.CheckoutRequestID)

	second, err := m.SubmitExpress(context.Background(), buyer, v.ID, "0712345678")
	require.NoError(t, err)
	require.NotEqual(t, first.CheckoutRequestID, second.CheckoutRequestID)

	require.Eventually(t, func() bool { return gw.queryCount(second.CheckoutRequestID) >= 3 },
		time.Second, time.Millisecond)
	assert.Equal(t, stopped, gw.queryCount(first.CheckoutRequestID))
}

func TestExpress_ValidationSkipsNetwork(t *testing.T) {
	tests := []struct {
		name     string
		delivery Delivery
		phone    string
		wantMsg  string
	}{
		{"short phone", Delivery{Method: DeliveryStandard}, "07123", msgExpressPhone},
		{"long phone", Delivery{Method: DeliveryStandard}, "2547123456789", msgExpressPhone},
		{"pickup without location", Delivery{Method: DeliveryPickup}, "0712345678", msgSelectPickup},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := newFakeGateway()
			orders := newFakeOrders()
			m := newTestManager(t, gw, orders, 60)

			v, err := m.Start(buyer, cartItems(), &tt.delivery)
			require.NoError(t, err)

			_, err = m.SubmitExpress(context.Background(), buyer, v.ID, tt.phone)
			require.ErrorIs(t, err, apperr.ErrValidation)
			assert.EqualError(t, err, tt.wantMsg)

			assert.Zero(t, gw.pushCount())
			assert.Empty(t, orders.orders())

			after, err := m.Get(buyer, v.ID)
			require.NoError(t, err)
			assert.Equal(t, StateAwaitingPaymentMethodSelection, after.State)
		})
	}
}

func TestExpress_InitiationFailureKeepsDelivery(t *testing.T) {
	gw := newFakeGateway()
	gw.pushErr = apperr.New(apperr.ErrPaymentInitiation, "Invalid PhoneNumber")
	orders := newFakeOrders()
	m := newTestManager(t, gw, orders, 60)

	v, err := m.Start(buyer, cartItems(), &Delivery{Method: DeliveryPickup, PickupLocationID: "pm_003"})
	require.NoError(t, err)
	assert.True(t, v.Total.Equal(decimal.NewFromInt(4850)))

	_, err = m.SubmitExpress(context.Background(), buyer, v.ID, "0712345678")
	require.ErrorIs(t, err, apperr.ErrPaymentInitiation)
	assert.EqualError(t, err, "Invalid PhoneNumber")
	assert.Empty(t, orders.orders())

	after, err := m.Get(buyer, v.ID)
	require.NoError(t, err)
	assert.Equal(t, StateExpressFailed, after.State)
	assert.Equal(t, "Invalid PhoneNumber", after.LastError)
	require.NotNil(t, after.PickupLocation)
	assert.Equal(t, "pm_003", after.PickupLocation.ID)

	gw.mu.Lock()
	gw.pushErr = nil
	gw.mu.Unlock()

	again, err := m.SubmitExpress(context.Background(), buyer, v.ID, "0712345678")
	require.NoError(t, err)
	assert.Equal(t, StateExpressConfirming, again.State)
	require.Len(t, orders.orders(), 1)
	assert.Equal(t, "Pick-Up: Westlands - The Mall", orders.orders()[0].DeliveryMethod)
}

func TestManual_ShortCodeRejectedLocally(t *testing.T) {
	gw := newFakeGateway()
	orders := newFakeOrders()
	m := newTestManager(t, gw, orders, 60)

	v := startStandard(t, m)

	_, err := m.SubmitManual(context.Background(), buyer, v.ID, "0712345678", "QWE123RTY")
	require.ErrorIs(t, err, apperr.ErrValidation)
	assert.EqualError(t, err, msgManualCode)

	_, err = m.SubmitManual(context.Background(), buyer, v.ID, "071234567", "QWE123RTYU")
	require.ErrorIs(t, err, apperr.ErrValidation)
	assert.EqualError(t, err, msgManualPhone)

	assert.Zero(t, gw.pushCount())
	assert.Zero(t, gw.totalQueries())
	assert.Empty(t, orders.orders())
}

func TestManual_CreatesPendingOrder(t *testing.T) {
	gw := newFakeGateway()
	orders := newFakeOrders()
	m := newTestManager(t, gw, orders, 60)

	v := startStandard(t, m)

	v, err := m.SubmitManual(context.Background(), buyer, v.ID, "0712345678", "QWE123RTYU")
	require.NoError(t, err)
	assert.Equal(t, StateManualSucceeded, v.State)
	assert.Empty(t, v.Items)

	created := orders.orders()
	require.Len(t, created, 1)
	assert.Equal(t, model.PaymentMethodManual, created[0].PaymentMethod)
	assert.Equal(t, "QWE123RTYU", created[0].TransactionCode)
	assert.True(t, created[0].ShippingFee.Equal(decimal.NewFromInt(300)))
	assert.Zero(t, gw.pushCount())
}

func TestManual_CancelledDuringDelay(t *testing.T) {
	orders := newFakeOrders()
	m := NewManager(newFakeGateway(), orders, testPickups, zap.NewNop(), Options{ManualDelay: time.Hour})
	t.Cleanup(m.Close)

	v := startStandard(t, m)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := m.SubmitManual(ctx, buyer, v.ID, "0712345678", "QWE123RTYU")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, orders.orders())

	after, err := m.Get(buyer, v.ID)
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingPaymentMethodSelection, after.State)
	assert.NotEmpty(t, after.Items)
}

func TestDeliverySelection(t *testing.T) {
	m := newTestManager(t, newFakeGateway(), newFakeOrders(), 60)

	v, err := m.Start(buyer, cartItems(), nil)
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingDeliverySelection, v.State)

	_, err = m.SubmitExpress(context.Background(), buyer, v.ID, "0712345678")
	require.ErrorIs(t, err, apperr.ErrValidation)

	_, err = m.SelectDelivery(buyer, v.ID, Delivery{Method: DeliveryPickup, PickupLocationID: "pm_404"})
	require.ErrorIs(t, err, apperr.ErrValidation)

	_, err = m.SelectDelivery(buyer, v.ID, Delivery{Method: "drone"})
	require.ErrorIs(t, err, apperr.ErrValidation)

	v, err = m.SelectDelivery(buyer, v.ID, Delivery{Method: DeliveryPickup, PickupLocationID: "pm_003"})
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingPaymentMethodSelection, v.State)
	assert.True(t, v.ShippingFee.Equal(decimal.NewFromInt(150)))

	v, err = m.SelectDelivery(buyer, v.ID, Delivery{Method: DeliveryStandard})
	require.NoError(t, err)
	assert.True(t, v.ShippingFee.Equal(decimal.NewFromInt(300)))
	assert.Nil(t, v.PickupLocation)
}

func TestSessionsAreOwnerScoped(t *testing.T) {
	m := newTestManager(t, newFakeGateway(), newFakeOrders(), 60)
	v := startStandard(t, m)

	other := &model.User{ID: 99, Email: "mallory@example.com", Role: model.RoleCustomer}
	_, err := m.Get(other, v.ID)
	require.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = m.Retry(other, v.ID)
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestStart_EmptyCart(t *testing.T) {
	m := newTestManager(t, newFakeGateway(), newFakeOrders(), 60)

	_, err := m.Start(buyer, nil, nil)
	require.ErrorIs(t, err, apperr.ErrValidation)
	assert.EqualError(t, err, msgEmptyCart)
}

func TestClose_StopsPollers(t *testing.T) {
	gw := newFakeGateway()
	m := NewManager(gw, newFakeOrders(), testPickups, zap.NewNop(), Options{
		PollInterval: time.Millisecond,
		MaxAttempts:  100000,
	})

	v := startStandard(t, m)
	v, err := m.SubmitExpress(context.Background(), buyer, v.ID, "0712345678")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return gw.queryCount(v.CheckoutRequestID) > 0 },
		time.Second, time.Millisecond)

	m.Close()
	stopped := gw.queryCount(v.CheckoutRequestID)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, stopped, gw.queryCount(v.CheckoutRequestID))

	_, err = m.Start(buyer, cartItems(), nil)
	require.ErrorIs(t, err, apperr.ErrConflict)
}

func TestEvict(t *testing.T) {
	m := newTestManager(t, newFakeGateway(), newFakeOrders(), 60)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return base }

	v := startStandard(t, m)

	m.evict()
	_, err := m.Get(buyer, v.ID)
	require.NoError(t, err)

	m.now = func() time.Time { return base.Add(defaultRetention + time.Minute) }
	m.evict()
	_, err = m.Get(buyer, v.ID)
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestAbandon(t *testing.T) {
	gw := newFakeGateway()
	m := newTestManager(t, gw, newFakeOrders(), 100000)

	v := startStandard(t, m)
	v, err := m.SubmitExpress(context.Background(), buyer, v.ID, "0712345678")
	require.NoError(t, err)

	require.NoError(t, m.Abandon(buyer, v.ID))
	stopped := gw.queryCount(v.CheckoutRequestID)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, stopped, gw.queryCount(v.CheckoutRequestID))

	_, err = m.Get(buyer, v.ID)
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestStandaloneOrderFailure(t *testing.T) {
	gw := newFakeGateway()
	orders := newFakeOrders()
	orders.err = fmt.Errorf("insert order: %w", errors.New("connection refused"))
	m := newTestManager(t, gw, orders, 60)

	v := startStandard(t, m)
	_, err := m.SubmitExpress(context.Background(), buyer, v.ID, "0712345678")
	require.Error(t, err)

	after, err := m.Get(buyer, v.ID)
	require.NoError(t, err)
	assert.Equal(t, StateExpressFailed, after.State)
	assert.Zero(t, gw.totalQueries())
}

func TestRetryDuringConfirmation(t *testing.T) {
	gw := newFakeGateway()
	gw.result = func(id string, _ int) (*mpesa.QueryResult, error) {
		return &mpesa.QueryResult{Success: true, ResultCode: "0", CheckoutRequestID: id}, nil
	}
	orders := newFakeOrders()
	orders.applying = make(chan struct{})
	orders.release = make(chan struct{})
	m := newTestManager(t, gw, orders, 60)

	v := startStandard(t, m)
	v, err := m.SubmitExpress(context.Background(), buyer, v.ID, "0712345678")
	require.NoError(t, err)

	select {
	case <-orders.applying:
	case <-time.After(5 * time.Second):
		t.Fatal("payment was not confirmed")
	}

	retried := make(chan error, 1)
	go func() {
		_, err := m.Retry(buyer, v.ID)
		retried <- err
	}()

	close(orders.release)

	select {
	case err := <-retried:
		require.ErrorIs(t, err, apperr.ErrConflict)
	case <-time.After(5 * time.Second):
		t.Fatal("retry did not return")
	}

	final, err := m.Await(context.Background(), buyer, v.ID)
	require.NoError(t, err)
	assert.Equal(t, StateExpressSucceeded, final.State)
	assert.Empty(t, final.Items)

	paid, ok := orders.isPaid(v.CheckoutRequestID)
	require.True(t, ok)
	assert.True(t, paid)
}
