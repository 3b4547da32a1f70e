package applytransition

// Input drives one workflow operation from a BPMN process. approvedAmount
// may arrive as a JSON number or string.
type Input struct {
	ApplicationID  string      `json:"applicationId"`
	ActorID        string      `json:"actorId"`
	Action         string      `json:"action"`
	ApprovedAmount interface{} `json:"approvedAmount,omitempty"`
	Reason         string      `json:"reason,omitempty"`
	Status         string      `json:"status,omitempty"`
	Notes          string      `json:"notes,omitempty"`
}

type Output struct {
	ApplicationID  string `json:"applicationId"`
	Status         string `json:"status"`
	PreviousStatus string `json:"previousStatus"`
	ApprovedAmount string `json:"approvedAmount,omitempty"`
	Version        int64  `json:"version"`
	TransitionedAt string `json:"transitionedAt"`
}
