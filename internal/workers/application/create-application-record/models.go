package createapplicationrecord

// Input opens a DRAFT application for a paid booking on behalf of actorId.
type Input struct {
	BookingID     string      `json:"bookingId"`
	ActorID       string      `json:"actorId"`
	AppliedAmount interface{} `json:"appliedAmount"`
	SchemeID      string      `json:"schemeId,omitempty"`
	Notes         string      `json:"notes,omitempty"`
}

type Output struct {
	ApplicationID     string `json:"applicationId"`
	ApplicationStatus string `json:"applicationStatus"`
	AssignedTo        string `json:"assignedTo"`
	CreatedAt         string `json:"createdAt"` // RFC 3339
}
