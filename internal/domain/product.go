package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Product — позиция каталога с текущей ценой и остатком.
type Product struct {
	ID          int64
	Name        string
	Description string
	Price       decimal.Decimal
	Stock       int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Validate проверяет поля товара перед сохранением.
func (p *Product) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return ErrProductNameRequired
	}
	if p.Price.IsNegative() {
		return ErrProductPriceNegative
	}
	// NUMERIC(12,2) в postgres молча округлил бы лишние знаки.
	if !p.Price.Equal(p.Price.Truncate(MoneyScale)) {
		return ErrProductPriceScale
	}
	if p.Stock < 0 {
		return ErrProductStockNegative
	}
	return nil
}
