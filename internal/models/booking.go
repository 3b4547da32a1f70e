package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "PENDING"
	BookingStatusPaid      BookingStatus = "PAID"
	BookingStatusCancelled BookingStatus = "CANCELLED"
	BookingStatusCompleted BookingStatus = "COMPLETED"
)

type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "PENDING"
	PaymentStatusCaptured PaymentStatus = "CAPTURED"
	PaymentStatusFailed   PaymentStatus = "FAILED"
	PaymentStatusRefunded PaymentStatus = "REFUNDED"
)

type Payment struct {
	ID     string          `json:"id"`
	Status PaymentStatus   `json:"status"`
	Amount decimal.Decimal `json:"amount"`
}

// Booking is a paid service engagement. An application can only be opened
// from a booking that is PAID with a CAPTURED payment.
type Booking struct {
	ID        string        `json:"id"`
	ClientID  string        `json:"clientId"`
	SchemeID  string        `json:"schemeId,omitempty"`
	Status    BookingStatus `json:"status"`
	Payment   *Payment      `json:"payment,omitempty"`
	CreatedAt time.Time     `json:"createdAt"`
}

// ReadyForApplication reports whether the booking satisfies the paid and
// captured precondition.
func (b Booking) ReadyForApplication() bool {
	return b.Status == BookingStatusPaid && b.Payment != nil && b.Payment.Status == PaymentStatusCaptured
}
