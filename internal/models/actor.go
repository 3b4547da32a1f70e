package models

import (
	"fmt"
	"strings"
)

// Role is resolved once when an actor is loaded; comparisons elsewhere use
// the constants only.
type Role string

const (
	RoleClient  Role = "CLIENT"
	RoleSales   Role = "SALES"
	RoleManager Role = "MANAGER"
	RoleAdmin   Role = "ADMIN"
	RoleOwner   Role = "OWNER"
)

func (r Role) Valid() bool {
	switch r {
	case RoleClient, RoleSales, RoleManager, RoleAdmin, RoleOwner:
		return true
	}
	return false
}

// IsStaff is true for every role that works on behalf of the business.
func (r Role) IsStaff() bool {
	return r.Valid() && r != RoleClient
}

// ParseRole normalises a stored role field. Unknown values are an error so a
// typo in the users table surfaces at load time instead of as a silent denial.
func ParseRole(raw string) (Role, error) {
	r := Role(strings.ToUpper(strings.TrimSpace(raw)))
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", raw)
	}
	return r, nil
}

// Actor is the authenticated user performing an operation.
type Actor struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email,omitempty"`
	Phone       string `json:"phone,omitempty"`
	Role        Role   `json:"role"`
	IsSuperuser bool   `json:"isSuperuser"`
	// ManagerID is set for sales staff reporting to a manager.
	ManagerID string `json:"managerId,omitempty"`
}

// HasFullAccess covers admins, owners and superusers.
func (a Actor) HasFullAccess() bool {
	return a.IsSuperuser || a.Role == RoleAdmin || a.Role == RoleOwner
}

// Name falls back to the e-mail address when no display name is stored.
func (a Actor) Name() string {
	if a.DisplayName != "" {
		return a.DisplayName
	}
	if a.Email != "" {
		return a.Email
	}
	return a.ID
}
