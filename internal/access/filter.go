// Package access decides which applications an actor may see and act on.
package access

import (
	"context"
	"fmt"

	"consulting-crm/internal/common/errors"
	"consulting-crm/internal/common/logger"
	"consulting-crm/internal/models"
	"consulting-crm/internal/storage"
)

// CanView reports read access to a single application.
func CanView(actor models.Actor, app models.Application) bool {
	if actor.HasFullAccess() {
		return true
	}
	switch actor.Role {
	case models.RoleClient:
		return app.Client.UserID != "" && app.Client.UserID == actor.ID
	case models.RoleSales:
		return app.AssignedTo == actor.ID
	case models.RoleManager:
		return managesClient(actor, app.Client)
	}
	return false
}

// CanAct reports write access for the generic status update. Clients can
// view their own applications but never change them.
func CanAct(actor models.Actor, app models.Application) bool {
	return actor.Role.IsStaff() && CanView(actor, app)
}

// CanSubmit is limited to the staff member the application is assigned to.
func CanSubmit(actor models.Actor, app models.Application) bool {
	return actor.Role.IsStaff() && app.AssignedTo != "" && app.AssignedTo == actor.ID
}

// CanApprove covers approve and reject.
func CanApprove(actor models.Actor, app models.Application) bool {
	if actor.HasFullAccess() {
		return true
	}
	return actor.Role == models.RoleManager && managesClient(actor, app.Client)
}

// CanManageClient reports whether a staff actor may open applications for client.
func CanManageClient(actor models.Actor, client models.ClientRef) bool {
	if actor.HasFullAccess() {
		return true
	}
	switch actor.Role {
	case models.RoleSales:
		return client.AssignedSalesID == actor.ID
	case models.RoleManager:
		return managesClient(actor, client)
	}
	return false
}

func managesClient(actor models.Actor, client models.ClientRef) bool {
	if actor.ID == "" {
		return false
	}
	return client.AssignedManagerID == actor.ID || client.AssignedSalesManagerID == actor.ID
}

func AuthorizeView(actor models.Actor, app models.Application) error {
	if !CanView(actor, app) {
		return denied(actor, "view", app.ApplicationID)
	}
	return nil
}

func AuthorizeAct(actor models.Actor, app models.Application) error {
	if !CanAct(actor, app) {
		return denied(actor, "update", app.ApplicationID)
	}
	return nil
}

func AuthorizeSubmit(actor models.Actor, app models.Application) error {
	if !CanSubmit(actor, app) {
		return denied(actor, "submit", app.ApplicationID)
	}
	return nil
}

func AuthorizeApprove(actor models.Actor, app models.Application) error {
	if !CanApprove(actor, app) {
		return denied(actor, "approve or reject", app.ApplicationID)
	}
	return nil
}

func denied(actor models.Actor, action, applicationID string) error {
	return errors.NewPermissionDeniedError(
		fmt.Sprintf("actor %s (%s) may not %s application %s", actor.ID, actor.Role, action, applicationID),
	).WithMetadata("actorId", actor.ID).WithMetadata("applicationId", applicationID)
}

// Filter builds list scopes. It holds no per-request state.
type Filter struct {
	logger logger.Logger
}

func NewFilter(log logger.Logger) *Filter {
	return &Filter{
		logger: log.WithFields(map[string]interface{}{"component": "access_filter"}),
	}
}

// Scope returns the listing scope for actor. An actor with an unknown role
// gets the empty scope. A manager's scope names the manager rather than a
// client list so the store resolves the team from current assignments.
func (f *Filter) Scope(_ context.Context, actor models.Actor) (storage.ListScope, error) {
	if actor.HasFullAccess() {
		return storage.ListScope{Unrestricted: true}, nil
	}

	switch actor.Role {
	case models.RoleClient:
		return storage.ListScope{ClientUserID: actor.ID}, nil
	case models.RoleSales:
		return storage.ListScope{AssignedTo: actor.ID}, nil
	case models.RoleManager:
		if actor.ID == "" {
			return storage.ListScope{}, nil
		}
		return storage.ListScope{ManagerID: actor.ID}, nil
	}
	f.logger.Debug("no listing scope for role", map[string]interface{}{
		"actorId": actor.ID,
		"role":    string(actor.Role),
	})
	return storage.ListScope{}, nil
}

// Visible drops every application actor may not view. Listing runs it over
// store results so a list never shows what a direct read would deny.
func Visible(actor models.Actor, apps []models.Application) []models.Application {
	out := apps[:0]
	for _, app := range apps {
		if CanView(actor, app) {
			out = append(out, app)
		}
	}
	return out
}
