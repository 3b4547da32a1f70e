// Package workflow implements the application approval state machine.
//
// The functions in this file are pure: they check permission, then the
// current status, then the input, and only mutate the application once all
// three pass. Service wraps them with loading, persistence and side effects.
package workflow

import (
	"fmt"
	"strings"
	"time"

	"consulting-crm/internal/access"
	"consulting-crm/internal/common/errors"
	"consulting-crm/internal/models"

	"github.com/shopspring/decimal"
)

type Action string

const (
	ActionCreate       Action = "create"
	ActionSubmit       Action = "submit"
	ActionApprove      Action = "approve"
	ActionReject       Action = "reject"
	ActionUpdateStatus Action = "update_status"
)

// Transition describes one applied change.
type Transition struct {
	Action Action               `json:"action"`
	From   models.Status        `json:"from"`
	To     models.Status        `json:"to"`
	Entry  models.TimelineEntry `json:"entry"`
}

// Override reports a generic update that left a terminal status.
func (t Transition) Override() bool {
	return t.Action == ActionUpdateStatus && t.From != t.To &&
		(t.From == models.StatusApproved || t.From == models.StatusRejected)
}

// Submit moves a DRAFT application to SUBMITTED.
func Submit(app *models.Application, actor models.Actor, now time.Time) (Transition, error) {
	if err := access.AuthorizeSubmit(actor, *app); err != nil {
		return Transition{}, err
	}
	if app.Status != models.StatusDraft {
		return Transition{}, errors.NewInvalidTransitionError("submit", string(app.Status))
	}

	return apply(app, actor, ActionSubmit, models.StatusSubmitted, now, "Application submitted for review"), nil
}

// Approve moves a SUBMITTED application to APPROVED. rawAmount may be empty,
// in which case the applied amount is approved.
func Approve(app *models.Application, actor models.Actor, rawAmount string, now time.Time) (Transition, error) {
	if err := access.AuthorizeApprove(actor, *app); err != nil {
		return Transition{}, err
	}
	if app.Status != models.StatusSubmitted {
		return Transition{}, errors.NewInvalidTransitionError("approve", string(app.Status))
	}

	amount := app.AppliedAmount
	if strings.TrimSpace(rawAmount) != "" {
		parsed, err := ParseAmount("approved_amount", rawAmount)
		if err != nil {
			return Transition{}, err
		}
		amount = parsed
	}

	app.ApprovedAmount = &amount
	note := fmt.Sprintf("Application approved for %s", amount.StringFixed(2))
	return apply(app, actor, ActionApprove, models.StatusApproved, now, note), nil
}

// Reject moves a SUBMITTED application to REJECTED with a required reason.
func Reject(app *models.Application, actor models.Actor, reason string, now time.Time) (Transition, error) {
	if err := access.AuthorizeApprove(actor, *app); err != nil {
		return Transition{}, err
	}
	if app.Status != models.StatusSubmitted {
		return Transition{}, errors.NewInvalidTransitionError("reject", string(app.Status))
	}

	reason = strings.TrimSpace(reason)
	if reason == "" {
		return Transition{}, errors.NewValidationError("reason", "A rejection reason is required")
	}

	app.RejectionReason = reason
	return apply(app, actor, ActionReject, models.StatusRejected, now, "Application rejected: "+reason), nil
}

// UpdateStatus sets any of the seven statuses. There is no transition graph:
// it is the administrative correction path.
func UpdateStatus(app *models.Application, actor models.Actor, rawStatus, notes string, now time.Time) (Transition, error) {
	if err := access.AuthorizeAct(actor, *app); err != nil {
		return Transition{}, err
	}

	next, err := models.ParseStatus(rawStatus)
	if err != nil {
		return Transition{}, errors.NewValidationError("status", fmt.Sprintf("Unknown status %q", rawStatus))
	}

	from := app.Status
	note := strings.TrimSpace(notes)
	if note == "" {
		note = fmt.Sprintf("Status changed from %s to %s", from.Label(), next.Label())
	}

	switch {
	case next == models.StatusApproved && app.ApprovedAmount == nil:
		amount := app.AppliedAmount
		app.ApprovedAmount = &amount
	case next != models.StatusApproved:
		app.ApprovedAmount = nil
	}

	switch {
	case next == models.StatusRejected && from != models.StatusRejected:
		app.RejectionReason = note
	case next != models.StatusRejected:
		app.RejectionReason = ""
	}

	return apply(app, actor, ActionUpdateStatus, next, now, note), nil
}

// apply sets the status, stamps the first-entry date and appends the entry.
func apply(app *models.Application, actor models.Actor, action Action, to models.Status, now time.Time, note string) Transition {
	from := app.Status
	today := dateOf(now)

	switch to {
	case models.StatusSubmitted:
		if app.SubmissionDate == nil {
			app.SubmissionDate = &today
		}
	case models.StatusApproved:
		if app.ApprovalDate == nil {
			app.ApprovalDate = &today
		}
	case models.StatusRejected:
		if app.RejectionDate == nil {
			app.RejectionDate = &today
		}
	}

	app.Status = to
	entry := models.TimelineEntry{
		Date:      now.UTC(),
		Status:    to,
		ActorName: actor.Name(),
		Note:      note,
	}
	app.Timeline.Append(entry)

	return Transition{Action: action, From: from, To: to, Entry: entry}
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// MaxAmount is the largest value an amount column (NUMERIC(14,2)) holds.
var MaxAmount = decimal.RequireFromString("999999999999.99")

// ParseAmount parses a strictly positive amount with at most two decimal
// places, no larger than MaxAmount.
func ParseAmount(field, raw string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Decimal{}, errors.NewValidationError(field, fmt.Sprintf("%q is not a valid amount", raw))
	}
	if !amount.IsPositive() {
		return decimal.Decimal{}, errors.NewValidationError(field, "Amount must be greater than zero")
	}
	if !amount.Equal(amount.Truncate(2)) {
		return decimal.Decimal{}, errors.NewValidationError(field, "Amount must have at most 2 decimal places")
	}
	if amount.GreaterThan(MaxAmount) {
		return decimal.Decimal{}, errors.NewValidationError(field,
			fmt.Sprintf("Amount must not exceed %s", MaxAmount.StringFixed(2)))
	}
	return amount, nil
}
