package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"consulting-crm/internal/models"
	"consulting-crm/internal/storage"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is intended for tests and local development.
type Store struct {
	mu            sync.RWMutex
	actors        map[string]models.Actor
	clients       map[string]models.ClientRef
	bookings      map[string]models.Booking
	applications  map[string]models.Application
	notifications map[string]models.Notification
	now           func() time.Time
}

var _ storage.ApplicationStore = (*Store)(nil)
var _ storage.DirectoryStore = (*Store)(nil)
var _ storage.BookingStore = (*Store)(nil)
var _ storage.NotificationStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		actors:        make(map[string]models.Actor),
		clients:       make(map[string]models.ClientRef),
		bookings:      make(map[string]models.Booking),
		applications:  make(map[string]models.Application),
		notifications: make(map[string]models.Notification),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Seeding ---------------------------------------------------------------------

func (s *Store) PutActor(actor models.Actor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actors[actor.ID] = actor
}

// PutClient stores a client. AssignedSalesManagerID is ignored and derived
// from the assigned sales person's manager on read.
func (s *Store) PutClient(client models.ClientRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	client.AssignedSalesManagerID = ""
	s.clients[client.ID] = client
}

func (s *Store) PutBooking(booking models.Booking) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if booking.Payment != nil {
		p := *booking.Payment
		booking.Payment = &p
	}
	s.bookings[booking.ID] = booking
}

// ApplicationStore ------------------------------------------------------------

func (s *Store) GetApplication(_ context.Context, applicationID string) (models.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	app, ok := s.applications[applicationID]
	if !ok {
		return models.Application{}, storage.ErrNotFound
	}
	return s.hydrateLocked(app), nil
}

func (s *Store) CreateApplication(_ context.Context, app models.Application) (models.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.applications[app.ApplicationID]; exists {
		return models.Application{}, storage.ErrDuplicate
	}
	if app.CreatedAt.IsZero() {
		app.CreatedAt = s.now()
	}
	app.UpdatedAt = app.CreatedAt
	app.Version = 1

	s.applications[app.ApplicationID] = app.Clone()
	return s.hydrateLocked(app), nil
}

func (s *Store) SaveTransition(_ context.Context, app models.Application, expectedVersion int64) (models.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.applications[app.ApplicationID]
	if !ok || current.Version != expectedVersion {
		return models.Application{}, storage.ErrVersionConflict
	}

	// Only the fields a transition may touch are written.
	current.Status = app.Status
	current.ApprovedAmount = app.ApprovedAmount
	current.SubmissionDate = app.SubmissionDate
	current.ApprovalDate = app.ApprovalDate
	current.RejectionDate = app.RejectionDate
	current.RejectionReason = app.RejectionReason
	current.Timeline = app.Timeline
	current.Version = expectedVersion + 1
	current.UpdatedAt = s.now()

	s.applications[app.ApplicationID] = current.Clone()
	return s.hydrateLocked(current), nil
}

func (s *Store) ListApplications(_ context.Context, scope storage.ListScope) ([]models.Application, error) {
	if scope.Empty() {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Application
	for _, app := range s.applications {
		app = s.hydrateLocked(app)
		if scope.Status != "" && app.Status != scope.Status {
			continue
		}
		if !scope.Unrestricted && !inScope(scope, app) {
			continue
		}
		out = append(out, app)
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ApplicationID < out[j].ApplicationID
	})
	return out, nil
}

func inScope(scope storage.ListScope, app models.Application) bool {
	if scope.ClientUserID != "" && app.Client.UserID == scope.ClientUserID {
		return true
	}
	if scope.AssignedTo != "" && app.AssignedTo == scope.AssignedTo {
		return true
	}
	if scope.ManagerID != "" {
		return app.Client.AssignedManagerID == scope.ManagerID || app.Client.AssignedSalesManagerID == scope.ManagerID
	}
	return false
}

// hydrateLocked returns a copy carrying the current client record, the way
// the SQL store joins it in.
func (s *Store) hydrateLocked(app models.Application) models.Application {
	out := app.Clone()
	if client, ok := s.clients[app.Client.ID]; ok {
		out.Client = s.clientLocked(client)
	}
	return out
}

func (s *Store) clientLocked(client models.ClientRef) models.ClientRef {
	if sales, ok := s.actors[client.AssignedSalesID]; ok {
		client.AssignedSalesManagerID = sales.ManagerID
	}
	return client
}

// DirectoryStore --------------------------------------------------------------

func (s *Store) GetActor(_ context.Context, id string) (models.Actor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	actor, ok := s.actors[id]
	if !ok {
		return models.Actor{}, storage.ErrNotFound
	}
	return actor, nil
}

func (s *Store) GetClient(_ context.Context, id string) (models.ClientRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	client, ok := s.clients[id]
	if !ok {
		return models.ClientRef{}, storage.ErrNotFound
	}
	return s.clientLocked(client), nil
}

// BookingStore ----------------------------------------------------------------

func (s *Store) GetBooking(_ context.Context, id string) (models.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	booking, ok := s.bookings[id]
	if !ok {
		return models.Booking{}, storage.ErrNotFound
	}
	if booking.Payment != nil {
		p := *booking.Payment
		booking.Payment = &p
	}
	return booking, nil
}

// NotificationStore -----------------------------------------------------------

func (s *Store) CreateNotification(_ context.Context, n models.Notification) (models.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.notifications[n.ID]; exists {
		return models.Notification{}, storage.ErrDuplicate
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now()
	}
	s.notifications[n.ID] = n
	return n, nil
}

func (s *Store) GetNotification(_ context.Context, id string) (models.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.notifications[id]
	if !ok {
		return models.Notification{}, storage.ErrNotFound
	}
	return n, nil
}

func (s *Store) MarkNotification(_ context.Context, id string, status models.NotificationStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.notifications[id]
	if !ok {
		return storage.ErrNotFound
	}
	n.Status = status
	if status == models.NotificationSent {
		sentAt := at
		n.SentAt = &sentAt
	}
	s.notifications[id] = n
	return nil
}

func (s *Store) ListNotifications(_ context.Context, recipientID string, limit int) ([]models.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Notification
	for _, n := range s.notifications {
		if n.RecipientID == recipientID {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
