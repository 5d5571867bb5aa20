package models

import (
	"time"

	"github.com/uptrace/bun"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentApproved  PaymentStatus = "approved"
	PaymentCancelled PaymentStatus = "cancelled"
)

const (
	ProviderStripe  = "stripe"
	ProviderPagoTIC = "pagotic"
)

type Payment struct {
	bun.BaseModel `bun:"table:payments,alias:p"`

	ID                string        `bun:"id,pk" json:"id"`
	OrderID           string        `bun:"order_id,notnull" json:"order_id"`
	Provider          string        `bun:"provider,notnull" json:"provider"`
	ProviderPaymentID string        `bun:"provider_payment_id,notnull" json:"provider_payment_id"`
	Status            PaymentStatus `bun:"status,notnull" json:"status"`
	Amount            int64         `bun:"amount,notnull" json:"amount"`
	Currency          string        `bun:"currency,notnull" json:"currency"`
	// RawResponse keeps the last provider payload verbatim for audit.
	RawResponse string    `bun:"raw_response" json:"-"`
	CreatedAt   time.Time `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt   time.Time `bun:"updated_at,notnull" json:"updated_at"`
}
