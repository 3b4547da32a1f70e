// Package storage defines the persistence contracts used by the workflow
// service. Implementations live in the postgres and memory subpackages.
package storage

import (
	"context"
	"errors"
	"time"

	"consulting-crm/internal/models"
)

var (
	ErrNotFound = errors.New("NOT_FOUND")
	// ErrVersionConflict means the row changed since it was read.
	ErrVersionConflict = errors.New("VERSION_CONFLICT")
	ErrDuplicate       = errors.New("DUPLICATE")
)

// ListScope narrows an application listing to what one actor may see. The
// zero value sees nothing.
type ListScope struct {
	Unrestricted bool
	ClientUserID string
	AssignedTo   string
	// ManagerID matches clients managed directly by the manager or through
	// the assigned sales person, read from current assignments.
	ManagerID string

	// Status optionally filters by current status.
	Status models.Status
}

// Empty reports whether the scope can never match a row.
func (s ListScope) Empty() bool {
	return !s.Unrestricted && s.ClientUserID == "" && s.AssignedTo == "" && s.ManagerID == ""
}

// ApplicationStore persists applications.
type ApplicationStore interface {
	GetApplication(ctx context.Context, applicationID string) (models.Application, error)
	CreateApplication(ctx context.Context, app models.Application) (models.Application, error)
	// SaveTransition writes status, derived fields and timeline in one
	// statement, guarded by expectedVersion. It returns ErrVersionConflict
	// when nothing was written.
	SaveTransition(ctx context.Context, app models.Application, expectedVersion int64) (models.Application, error)
	ListApplications(ctx context.Context, scope ListScope) ([]models.Application, error)
}

// DirectoryStore resolves users and clients.
type DirectoryStore interface {
	GetActor(ctx context.Context, id string) (models.Actor, error)
	GetClient(ctx context.Context, id string) (models.ClientRef, error)
}

type BookingStore interface {
	GetBooking(ctx context.Context, id string) (models.Booking, error)
}

type NotificationStore interface {
	CreateNotification(ctx context.Context, n models.Notification) (models.Notification, error)
	GetNotification(ctx context.Context, id string) (models.Notification, error)
	MarkNotification(ctx context.Context, id string, status models.NotificationStatus, at time.Time) error
	ListNotifications(ctx context.Context, recipientID string, limit int) ([]models.Notification, error)
}
