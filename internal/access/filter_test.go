package access

import (
	"context"
	"testing"

	"consulting-crm/internal/common/errors"
	"consulting-crm/internal/common/logger"
	"consulting-crm/internal/models"
	"consulting-crm/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	clientUser   = models.Actor{ID: "user-1", Role: models.RoleClient}
	otherClient  = models.Actor{ID: "user-2", Role: models.RoleClient}
	salesRep     = models.Actor{ID: "sales-1", Role: models.RoleSales, ManagerID: "mgr-2"}
	otherSales   = models.Actor{ID: "sales-9", Role: models.RoleSales}
	directMgr    = models.Actor{ID: "mgr-1", Role: models.RoleManager}
	salesMgr     = models.Actor{ID: "mgr-2", Role: models.RoleManager}
	unrelatedMgr = models.Actor{ID: "mgr-9", Role: models.RoleManager}
	admin        = models.Actor{ID: "admin-1", Role: models.RoleAdmin}
	owner        = models.Actor{ID: "owner-1", Role: models.RoleOwner}
	superuser    = models.Actor{ID: "root", Role: models.RoleSales, IsSuperuser: true}
)

func application(status models.Status) models.Application {
	return models.Application{
		ApplicationID: "APP-1",
		Status:        status,
		AssignedTo:    "sales-1",
		Client: models.ClientRef{
			ID:                     "client-1",
			Name:                   "Acme",
			UserID:                 "user-1",
			AssignedManagerID:      "mgr-1",
			AssignedSalesID:        "sales-1",
			AssignedSalesManagerID: "mgr-2",
		},
	}
}

// ==========================
// Predicates
// ==========================

func TestCanView(t *testing.T) {
	app := application(models.StatusSubmitted)

	tests := []struct {
		name  string
		actor models.Actor
		want  bool
	}{
		{"owning client", clientUser, true},
		{"other client", otherClient, false},
		{"assigned sales", salesRep, true},
		{"unassigned sales", otherSales, false},
		{"direct manager", directMgr, true},
		{"sales person's manager", salesMgr, true},
		{"unrelated manager", unrelatedMgr, false},
		{"admin", admin, true},
		{"owner", owner, true},
		{"superuser", superuser, true},
		{"no role", models.Actor{ID: "x"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanView(tt.actor, app))
		})
	}
}

func TestOtherClientAlwaysDenied(t *testing.T) {
	for _, status := range models.Statuses {
		err := AuthorizeView(otherClient, application(status))
		assert.True(t, errors.IsPermissionDenied(err), "status %s", status)
	}
}

func TestCanAct_ClientsNeverWrite(t *testing.T) {
	app := application(models.StatusDraft)
	assert.False(t, CanAct(clientUser, app))
	assert.True(t, CanAct(salesRep, app))
	assert.True(t, CanAct(admin, app))
	assert.False(t, CanAct(otherSales, app))
}

func TestCanSubmit_OnlyAssignedStaff(t *testing.T) {
	app := application(models.StatusDraft)
	assert.True(t, CanSubmit(salesRep, app))
	assert.False(t, CanSubmit(directMgr, app))
	assert.False(t, CanSubmit(admin, app))

	app.AssignedTo = ""
	assert.False(t, CanSubmit(models.Actor{Role: models.RoleSales}, app))
}

func TestCanApprove(t *testing.T) {
	app := application(models.StatusSubmitted)
	assert.True(t, CanApprove(directMgr, app))
	assert.True(t, CanApprove(salesMgr, app))
	assert.True(t, CanApprove(admin, app))
	assert.True(t, CanApprove(owner, app))
	assert.True(t, CanApprove(superuser, app))

	assert.False(t, CanApprove(unrelatedMgr, app))
	assert.False(t, CanApprove(salesRep, app))
	assert.False(t, CanApprove(clientUser, app))

	err := AuthorizeApprove(salesRep, app)
	require.Error(t, err)
	assert.True(t, errors.IsPermissionDenied(err))
}

func TestCanManageClient(t *testing.T) {
	client := application(models.StatusDraft).Client
	assert.True(t, CanManageClient(salesRep, client))
	assert.True(t, CanManageClient(salesMgr, client))
	assert.True(t, CanManageClient(admin, client))
	assert.False(t, CanManageClient(otherSales, client))
	assert.False(t, CanManageClient(clientUser, client))
}

// ==========================
// Scope
// ==========================

func TestScope_ByRole(t *testing.T) {
	f := NewFilter(logger.NewTestLogger(t))
	ctx := context.Background()

	scope, err := f.Scope(ctx, clientUser)
	require.NoError(t, err)
	assert.Equal(t, "user-1", scope.ClientUserID)

	scope, err = f.Scope(ctx, salesRep)
	require.NoError(t, err)
	assert.Equal(t, "sales-1", scope.AssignedTo)

	scope, err = f.Scope(ctx, directMgr)
	require.NoError(t, err)
	assert.Equal(t, storage.ListScope{ManagerID: "mgr-1"}, scope)

	scope, err = f.Scope(ctx, admin)
	require.NoError(t, err)
	assert.True(t, scope.Unrestricted)

	scope, err = f.Scope(ctx, superuser)
	require.NoError(t, err)
	assert.True(t, scope.Unrestricted)

	scope, err = f.Scope(ctx, models.Actor{ID: "x"})
	require.NoError(t, err)
	assert.True(t, scope.Empty())

	scope, err = f.Scope(ctx, models.Actor{Role: models.RoleManager})
	require.NoError(t, err)
	assert.True(t, scope.Empty())
}

func TestVisible_DropsReassignedClients(t *testing.T) {
	kept := application(models.StatusSubmitted)
	moved := application(models.StatusSubmitted)
	moved.ApplicationID = "APP-2"
	moved.Client.AssignedManagerID = "mgr-9"
	moved.Client.AssignedSalesManagerID = ""

	out := Visible(directMgr, []models.Application{kept, moved})
	require.Len(t, out, 1)
	assert.Equal(t, "APP-1", out[0].ApplicationID)

	out = Visible(unrelatedMgr, []models.Application{application(models.StatusSubmitted), moved})
	require.Len(t, out, 1)
	assert.Equal(t, "APP-2", out[0].ApplicationID)

	assert.Empty(t, Visible(otherClient, []models.Application{application(models.StatusDraft)}))
}
