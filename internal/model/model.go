// Package model содержит доменные сущности магазина.
package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Role описывает роль пользователя.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleManager  Role = "manager"
	RoleSupport  Role = "support"
	RoleCustomer Role = "customer"
)

// StaffRoles — роли с доступом к панели управления заказами.
var StaffRoles = []Role{RoleAdmin, RoleManager, RoleSupport}

// ManagementRoles — роли с доступом к каталогу, пользователям и аналитике.
var ManagementRoles = []Role{RoleAdmin, RoleManager}

// Valid сообщает, входит ли роль в фиксированный словарь.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleManager, RoleSupport, RoleCustomer:
		return true
	}
	return false
}

// IsStaff сообщает, относится ли роль к сотрудникам магазина.
func (r Role) IsStaff() bool {
	return r.In(StaffRoles...)
}

// In сообщает, входит ли роль в перечень.
func (r Role) In(roles ...Role) bool {
	for _, allowed := range roles {
		if r == allowed {
			return true
		}
	}
	return false
}

// User представляет зарегистрированного пользователя магазина.
type User struct {
	ID           int64
	Email        string
	Name         string
	PasswordHash []byte
	Role         Role
	CreatedAt    time.Time
}

// PublicUser — проекция пользователя без хеша пароля.
type PublicUser struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  Role   `json:"role"`
}

// Public возвращает публичную проекцию пользователя.
func (u *User) Public() PublicUser {
	return PublicUser{Email: u.Email, Name: u.Name, Role: u.Role}
}

// OrderStatus описывает статус выполнения заказа.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "Pending"
	OrderStatusProcessing OrderStatus = "Processing"
	OrderStatusShipped    OrderStatus = "Shipped"
	OrderStatusCompleted  OrderStatus = "Completed"
	OrderStatusCancelled  OrderStatus = "Cancelled"
)

// OrderStatuses перечисляет статусы в порядке жизненного цикла.
var OrderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusProcessing,
	OrderStatusShipped,
	OrderStatusCompleted,
	OrderStatusCancelled,
}

var statusRank = map[OrderStatus]int{
	OrderStatusPending:    0,
	OrderStatusProcessing: 1,
	OrderStatusShipped:    2,
	OrderStatusCompleted:  3,
}

// Valid сообщает, входит ли статус в словарь.
func (s OrderStatus) Valid() bool {
	_, ok := statusRank[s]
	return ok || s == OrderStatusCancelled
}

// Terminal сообщает, является ли статус конечным.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled
}

// CanTransitionTo проверяет допустимость перехода. Движение только вперёд
// по цепочке Pending→Processing→Shipped→Completed, отмена возможна из
// любого неконечного статуса.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	if !next.Valid() || s.Terminal() {
		return false
	}
	if next == OrderStatusCancelled {
		return true
	}
	return statusRank[next] > statusRank[s]
}

// PaymentMethod — способ оплаты заказа.
type PaymentMethod string

const (
	PaymentMethodExpress PaymentMethod = "express"
	PaymentMethodManual  PaymentMethod = "manual"
)

// Valid сообщает, входит ли способ оплаты в словарь.
func (m PaymentMethod) Valid() bool {
	return m == PaymentMethodExpress || m == PaymentMethodManual
}

// PaymentStatus отделяет факт подтверждения оплаты от статуса выполнения заказа.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusConfirmed PaymentStatus = "confirmed"
	PaymentStatusFailed    PaymentStatus = "failed"
)

// LineItem — позиция заказа со снимком названия и цены на момент покупки.
type LineItem struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
}

// LineTotal возвращает стоимость позиции.
func (li LineItem) LineTotal() decimal.Decimal {
	return li.UnitPrice.Mul(decimal.NewFromInt(int64(li.Quantity)))
}

// Order описывает заказ покупателя.
type Order struct {
	ID                string
	CustomerID        int64
	CustomerName      string
	CustomerEmail     string
	Items             []LineItem
	Subtotal          decimal.Decimal
	ShippingFee       decimal.Decimal
	Total             decimal.Decimal
	PaymentMethod     PaymentMethod
	PaymentStatus     PaymentStatus
	CheckoutRequestID string
	TransactionCode   string
	DeliveryMethod    string
	Status            OrderStatus
	TrackingNumber    string
	Version           int64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Valid сообщает, входит ли статус оплаты в словарь.
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusConfirmed, PaymentStatusFailed:
		return true
	}
	return false
}

// NewOrderID выпускает идентификатор заказа.
func NewOrderID() string {
	return "ORD-" + uuid.NewString()
}

// Subtotal считает сумму позиций.
func Subtotal(items []LineItem) decimal.Decimal {
	sum := decimal.Zero
	for _, it := range items {
		sum = sum.Add(it.LineTotal())
	}
	return sum
}

// Recalculate пересчитывает подытог и итог по позициям и стоимости доставки.
func (o *Order) Recalculate() {
	o.Subtotal = Subtotal(o.Items)
	o.Total = o.Subtotal.Add(o.ShippingFee)
}
