// Package checkout ведёт попытки оформления заказа: выбор доставки, оплату
// через STK Push с опросом шлюза и ручную оплату по коду транзакции.
package checkout

import (
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/storefront/internal/model"
)

// DeliveryMethod — способ доставки.
type DeliveryMethod string

const (
	DeliveryStandard DeliveryMethod = "standard"
	DeliveryPickup   DeliveryMethod = "pickup"
)

// StandardDeliveryFee — стоимость доставки до двери.
var StandardDeliveryFee = decimal.NewFromInt(300)

// Delivery — выбранный способ доставки.
type Delivery struct {
	Method           DeliveryMethod `json:"method"`
	PickupLocationID string         `json:"pickupLocationId,omitempty"`
}

// Cart — содержимое корзины и выбранная доставка.
type Cart struct {
	Items    []model.LineItem
	Method   DeliveryMethod
	Location *model.PickupLocation
}

// Subtotal возвращает стоимость позиций.
func (c *Cart) Subtotal() decimal.Decimal {
	return model.Subtotal(c.Items)
}

// ShippingFee возвращает стоимость выбранной доставки. Пока пункт выдачи
// не выбран, доставка самовывозом ничего не стоит.
func (c *Cart) ShippingFee() decimal.Decimal {
	switch c.Method {
	case DeliveryStandard:
		return StandardDeliveryFee
	case DeliveryPickup:
		if c.Location != nil {
			return c.Location.Price
		}
	}
	return decimal.Zero
}

// Total возвращает итог: подытог плюс доставка.
func (c *Cart) Total() decimal.Decimal {
	return c.Subtotal().Add(c.ShippingFee())
}

// DeliveryDescriptor возвращает описание доставки для записи заказа.
func (c *Cart) DeliveryDescriptor() string {
	if c.Method == DeliveryPickup && c.Location != nil {
		return "Pick-Up: " + c.Location.Name
	}
	return "Standard Delivery"
}

// Clear очищает позиции корзины.
func (c *Cart) Clear() {
	c.Items = nil
}
