package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Category — категория товара.
type Category string

const (
	CategoryFootwear    Category = "Footwear"
	CategoryClothing    Category = "Clothing"
	CategoryAccessories Category = "Accessories"
)

// Valid сообщает, входит ли категория в словарь.
func (c Category) Valid() bool {
	switch c {
	case CategoryFootwear, CategoryClothing, CategoryAccessories:
		return true
	}
	return false
}

// Product описывает товар каталога.
type Product struct {
	ID            int64
	Name          string
	Category      Category
	Price         decimal.Decimal
	Image         string
	Description   string
	IsFeatured    bool
	Stock         int
	AverageRating float64
	ReviewCount   int
	CreatedAt     time.Time
}

// ProductFilter задаёт параметры поиска по каталогу.
type ProductFilter struct {
	Query    string
	Category Category
	MinPrice *decimal.Decimal
	MaxPrice *decimal.Decimal
	SortBy   string
}

// Review описывает отзыв покупателя о товаре.
type Review struct {
	ID            int64
	ProductID     int64
	CustomerEmail string
	CustomerName  string
	Rating        int
	Comment       string
	Verified      bool
	CreatedAt     time.Time
}

// PickupLocation — пункт выдачи посылок.
type PickupLocation struct {
	ID     string          `json:"id"`
	Name   string          `json:"name"`
	Region string          `json:"region"`
	Price  decimal.Decimal `json:"price"`
}
