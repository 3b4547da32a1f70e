package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ClientRef is the slice of the client record the workflow needs for
// ownership and assignment checks.
type ClientRef struct {
	ID                     string `json:"id"`
	Name                   string `json:"name"`
	UserID                 string `json:"userId"`
	AssignedManagerID      string `json:"assignedManagerId,omitempty"`
	AssignedSalesID        string `json:"assignedSalesId,omitempty"`
	AssignedSalesManagerID string `json:"assignedSalesManagerId,omitempty"`
}

// Application is one funding request for one client against one scheme.
type Application struct {
	ApplicationID   string           `json:"applicationId"`
	Client          ClientRef        `json:"client"`
	SchemeID        string           `json:"schemeId"`
	BookingID       string           `json:"bookingId,omitempty"`
	AssignedTo      string           `json:"assignedTo"`
	Status          Status           `json:"status"`
	AppliedAmount   decimal.Decimal  `json:"appliedAmount"`
	ApprovedAmount  *decimal.Decimal `json:"approvedAmount,omitempty"`
	SubmissionDate  *time.Time       `json:"submissionDate,omitempty"`
	ApprovalDate    *time.Time       `json:"approvalDate,omitempty"`
	RejectionDate   *time.Time       `json:"rejectionDate,omitempty"`
	RejectionReason string           `json:"rejectionReason,omitempty"`
	Timeline        Timeline         `json:"timeline"`
	Version         int64            `json:"version"`
	CreatedAt       time.Time        `json:"createdAt"`
	UpdatedAt       time.Time        `json:"updatedAt"`
}

// Clone returns a deep copy safe to mutate independently.
func (a Application) Clone() Application {
	out := a
	out.Timeline = a.Timeline.Clone()
	if a.ApprovedAmount != nil {
		v := *a.ApprovedAmount
		out.ApprovedAmount = &v
	}
	out.SubmissionDate = cloneTime(a.SubmissionDate)
	out.ApprovalDate = cloneTime(a.ApprovalDate)
	out.RejectionDate = cloneTime(a.RejectionDate)
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
