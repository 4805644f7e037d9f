package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	InvoicePaid   = "Paid"
	InvoiceUnpaid = "Unpaid"
)

type Invoice struct {
	ID             int64     `json:"id"`
	InvoiceNo      string    `json:"invoice_no"`
	ClientName     string    `json:"client_name"`
	Amount         string    `json:"amount"` // NUMERIC(10,2) rendered as text
	Date           time.Time `json:"date"`
	Status         string    `json:"status"` // "Paid" | "Unpaid"
	Description    *string   `json:"description"`
	IsDone         bool      `json:"is_done"`
	CreatedBy      uuid.UUID `json:"created_by"`
	CreatedByEmail string    `json:"created_by_email"`
}

// InvoiceView is an invoice plus its payment-expiration presentation.
type InvoiceView struct {
	*Invoice
	ExpirationDate   string `json:"expiration_date"`
	ExpirationColor  string `json:"expiration_color"`
	ExpirationStatus string `json:"expiration_status"`
}

type InvoiceRequest struct {
	InvoiceNo   string  `json:"invoice_no" validate:"required,max=20"`
	ClientName  string  `json:"client_name" validate:"required,max=100"`
	Amount      string  `json:"amount" validate:"required,numeric"`
	Date        string  `json:"date" validate:"required,datetime=2006-01-02"`
	Status      string  `json:"status" validate:"required,oneof=Paid Unpaid"`
	Description *string `json:"description"`
	IsDone      bool    `json:"is_done"`
}
