package models

import (
	"fmt"
	"strings"
)

// Status is the persisted application status code. The tokens are stored
// verbatim and shared with external reporting, so they must not change.
type Status string

const (
	StatusDraft       Status = "DRAFT"
	StatusSubmitted   Status = "SUBMITTED"
	StatusUnderReview Status = "UNDER_REVIEW"
	StatusApproved    Status = "APPROVED"
	StatusRejected    Status = "REJECTED"
	StatusWithdrawn   Status = "WITHDRAWN"
	StatusOnHold      Status = "ON_HOLD"
)

// Statuses lists every valid status in workflow order.
var Statuses = []Status{
	StatusDraft,
	StatusSubmitted,
	StatusUnderReview,
	StatusApproved,
	StatusRejected,
	StatusWithdrawn,
	StatusOnHold,
}

var statusLabels = map[Status]string{
	StatusDraft:       "Draft",
	StatusSubmitted:   "Submitted",
	StatusUnderReview: "Under Review",
	StatusApproved:    "Approved",
	StatusRejected:    "Rejected",
	StatusWithdrawn:   "Withdrawn",
	StatusOnHold:      "On Hold",
}

// Valid reports whether s is one of the seven known codes.
func (s Status) Valid() bool {
	_, ok := statusLabels[s]
	return ok
}

// Label returns the human readable name used in timeline notes and messages.
func (s Status) Label() string {
	if label, ok := statusLabels[s]; ok {
		return label
	}
	return string(s)
}

func (s Status) String() string {
	return string(s)
}

// ParseStatus accepts a status code in any case, with surrounding whitespace.
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToUpper(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", fmt.Errorf("unknown status %q", raw)
	}
	return s, nil
}
