package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Application is a rentable game title with per-player pricing.
type Application struct {
	ID             int64           `json:"id" db:"id"`
	Name           string          `json:"name" db:"name"`
	PricePerPlayer decimal.Decimal `json:"price_per_player" db:"price_per_player"`
	IsActive       bool            `json:"is_active" db:"is_active"`
}

// Site is a physical arcade location owned by one operator.
type Site struct {
	ID         int64  `json:"id" db:"id"`
	OperatorID int64  `json:"operator_id" db:"operator_id"`
	Name       string `json:"name" db:"name"`
}

// Operator is a franchise tenant. Each operator owns exactly one Account.
type Operator struct {
	ID          int64     `json:"id" db:"id"`
	Email       string    `json:"email" db:"email"`
	PhoneNumber string    `json:"phone_number" db:"phone_number"`
	CompanyName string    `json:"company_name" db:"company_name"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}
