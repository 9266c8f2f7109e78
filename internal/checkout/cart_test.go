package checkout

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/storefront/internal/model"
)

func TestCartTotals(t *testing.T) {
	westlands := &model.PickupLocation{ID: "pm_003", Name: "Westlands - The Mall", Price: decimal.NewFromInt(150)}

	tests := []struct {
		name       string
		cart       Cart
		wantFee    int64
		wantTotal  int64
		descriptor string
	}{
		{
			name:       "standard delivery",
			cart:       Cart{Items: cartItems(), Method: DeliveryStandard},
			wantFee:    300,
			wantTotal:  5000,
			descriptor: "Standard Delivery",
		},
		{
			name:       "pickup with location",
			cart:       Cart{Items: cartItems(), Method: DeliveryPickup, Location: westlands},
			wantFee:    150,
			wantTotal:  4850,
			descriptor: "Pick-Up: Westlands - The Mall",
		},
		{
			name:       "pickup without location",
			cart:       Cart{Items: cartItems(), Method: DeliveryPickup},
			wantFee:    0,
			wantTotal:  4700,
			descriptor: "Standard Delivery",
		},
		{
			name:       "no delivery chosen",
			cart:       Cart{Items: cartItems()},
			wantFee:    0,
			wantTotal:  4700,
			descriptor: "Standard Delivery",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if fee := tt.cart.ShippingFee(); !fee.Equal(decimal.NewFromInt(tt.wantFee)) {
				t.Fatalf("ShippingFee() = %s, want %d", fee, tt.wantFee)
			}
			if total := tt.cart.Total(); !total.Equal(decimal.NewFromInt(tt.wantTotal)) {
				t.Fatalf("Total() = %s, want %d", total, tt.wantTotal)
			}
			if got := tt.cart.DeliveryDescriptor(); got != tt.descriptor {
				t.Fatalf("DeliveryDescriptor() = %q, want %q", got, tt.descriptor)
			}
		})
	}
}

func TestCartClear(t *testing.T) {
	c := Cart{Items: cartItems(), Method: DeliveryStandard}
	c.Clear()

	if len(c.Items) != 0 {
		t.Fatalf("Items = %v, want empty", c.Items)
	}
	if !c.Subtotal().IsZero() {
		t.Fatalf("Subtotal() = %s, want 0", c.Subtotal())
	}
	if c.Method != DeliveryStandard {
		t.Fatalf("Method = %q, delivery must survive Clear", c.Method)
	}
}
