package models

import (
	"time"

	"github.com/uptrace/bun"
)

type Ticket struct {
	bun.BaseModel `bun:"table:tickets,alias:t"`

	ID          string `bun:"id,pk" json:"id"`
	OrderID     string `bun:"order_id,notnull" json:"order_id"`
	OrderItemID string `bun:"order_item_id,notnull,unique:item_seq" json:"order_item_id"`
	Seq         int    `bun:"seq,notnull,unique:item_seq" json:"seq"`
	EventID     string `bun:"event_id,notnull" json:"event_id"`
	SeatID      string `bun:"seat_id,nullzero" json:"seat_id,omitempty"`
	CategoryID  string `bun:"category_id,nullzero" json:"category_id,omitempty"`

	QRID          string `bun:"qr_id,notnull,unique" json:"qr_id"`
	QRCodeURL     string `bun:"qr_code_url,nullzero" json:"qr_code_url,omitempty"`
	PDFURL        string `bun:"pdf_url,nullzero" json:"pdf_url,omitempty"`
	WalletPassURL string `bun:"wallet_pass_url,nullzero" json:"wallet_pass_url,omitempty"`

	IssuedAt    time.Time  `bun:"issued_at,notnull" json:"issued_at"`
	UsedAt      *time.Time `bun:"used_at" json:"used_at,omitempty"`
	ValidatorID string     `bun:"validator_id,nullzero" json:"validator_id,omitempty"`
	Device      string     `bun:"device,nullzero" json:"device,omitempty"`
}

// NeedsAssets reports whether the QR image or PDF still has to be rendered.
func (t *Ticket) NeedsAssets() bool {
	return t.QRCodeURL == "" || t.PDFURL == ""
}

type ValidationOutcome string

const (
	ValidationAccepted    ValidationOutcome = "accepted"
	ValidationAlreadyUsed ValidationOutcome = "already_used"
)

// ValidationLog is append-only; one row per scan attempt on a known ticket.
type ValidationLog struct {
	bun.BaseModel `bun:"table:validation_logs,alias:vl"`

	ID          string            `bun:"id,pk" json:"id"`
	TicketID    string            `bun:"ticket_id,notnull" json:"ticket_id"`
	ValidatorID string            `bun:"validator_id,notnull" json:"validator_id"`
	Device      string            `bun:"device" json:"device"`
	Result      ValidationOutcome `bun:"result,notnull" json:"result"`
	CreatedAt   time.Time         `bun:"created_at,notnull" json:"created_at"`
}

type ValidationResult struct {
	Status    string    `json:"status"`
	UsedAt    time.Time `json:"used_at"`
	TicketID  string    `json:"ticket_id"`
	EventName string    `json:"event_name"`
	UserEmail string    `json:"user_email"`
}
