package workflow

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"consulting-crm/internal/access"
	"consulting-crm/internal/common/errors"
	"consulting-crm/internal/common/logger"
	"consulting-crm/internal/common/metrics"
	"consulting-crm/internal/models"
	"consulting-crm/internal/notification"
	"consulting-crm/internal/storage"

	"github.com/google/uuid"
)

// Notifier queues one notification. Failures never undo a transition.
type Notifier interface {
	Notify(ctx context.Context, n models.Notification) error
}

// Indexer mirrors application state for reporting.
type Indexer interface {
	IndexApplication(ctx context.Context, app models.Application) error
}

// Result is returned by every successful mutation.
type Result struct {
	Application models.Application `json:"application"`
	Transition  Transition         `json:"transition"`
}

// CreateInput opens a DRAFT application from a booking.
type CreateInput struct {
	BookingID     string
	SchemeID      string
	AppliedAmount string
	Notes         string
}

// Command is the engine-facing form of a mutation.
type Command struct {
	Action         Action
	ApprovedAmount string
	Reason         string
	Status         string
	Notes          string
}

type ListOptions struct {
	Status string
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithIndexer(indexer Indexer) Option {
	return func(s *Service) { s.indexer = indexer }
}

func WithChannels(ch notification.Channels) Option {
	return func(s *Service) { s.channels = ch }
}

// Service loads applications, applies state machine operations, persists
// them with an optimistic version check and fires side effects.
type Service struct {
	apps      storage.ApplicationStore
	directory storage.DirectoryStore
	bookings  storage.BookingStore
	filter    *access.Filter
	notifier  Notifier
	indexer   Indexer
	channels  notification.Channels
	logger    logger.Logger
	now       func() time.Time
}

func NewService(
	apps storage.ApplicationStore,
	directory storage.DirectoryStore,
	bookings storage.BookingStore,
	filter *access.Filter,
	notifier Notifier,
	log logger.Logger,
	opts ...Option,
) *Service {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	s := &Service{
		apps:      apps,
		directory: directory,
		bookings:  bookings,
		filter:    filter,
		notifier:  notifier,
		channels:  notification.DefaultChannels(),
		logger:    log.WithFields(map[string]interface{}{"component": "workflow"}),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ResolveActor loads an actor by ID. The role is validated by the store.
func (s *Service) ResolveActor(ctx context.Context, id string) (models.Actor, error) {
	actor, err := s.directory.GetActor(ctx, id)
	if stderrors.Is(err, storage.ErrNotFound) {
		return models.Actor{}, errors.NewNotFoundError("user", id)
	}
	if err != nil {
		return models.Actor{}, errors.NewQueryExecutionFailedError("get_actor", err)
	}
	return actor, nil
}

// Get returns one application the actor may view.
func (s *Service) Get(ctx context.Context, actor models.Actor, applicationID string) (models.Application, error) {
	app, err := s.load(ctx, applicationID)
	if err != nil {
		return models.Application{}, err
	}
	if err := access.AuthorizeView(actor, app); err != nil {
		return models.Application{}, err
	}
	return app, nil
}

// List returns the applications visible to actor with stats and groups.
func (s *Service) List(ctx context.Context, actor models.Actor, opts ListOptions) (access.Listing, error) {
	scope, err := s.filter.Scope(ctx, actor)
	if err != nil {
		return access.Listing{}, err
	}

	if strings.TrimSpace(opts.Status) != "" {
		status, err := models.ParseStatus(opts.Status)
		if err != nil {
			return access.Listing{}, errors.NewValidationError("status", fmt.Sprintf("Unknown status %q", opts.Status))
		}
		scope.Status = status
	}

	apps, err := s.apps.ListApplications(ctx, scope)
	if err != nil {
		return access.Listing{}, errors.NewQueryExecutionFailedError("list_applications", err)
	}
	return access.NewListing(access.Visible(actor, apps)), nil
}

// CreateFromBooking opens a DRAFT application for the booking's client.
func (s *Service) CreateFromBooking(ctx context.Context, actor models.Actor, in CreateInput) (Result, error) {
	start := time.Now()

	result, err := s.create(ctx, actor, in)
	s.observe(ActionCreate, start, err)
	if err != nil {
		s.logOutcome(ActionCreate, actor, in.BookingID, err)
		return Result{}, err
	}

	s.logger.Info("application created", map[string]interface{}{
		"applicationId": result.Application.ApplicationID,
		"bookingId":     in.BookingID,
		"actorId":       actor.ID,
	})
	s.index(ctx, result.Application)
	return result, nil
}

func (s *Service) create(ctx context.Context, actor models.Actor, in CreateInput) (Result, error) {
	if !actor.Role.IsStaff() && !actor.IsSuperuser {
		return Result{}, errors.NewPermissionDeniedError("only staff can create applications")
	}

	booking, err := s.bookings.GetBooking(ctx, in.BookingID)
	if stderrors.Is(err, storage.ErrNotFound) {
		return Result{}, errors.NewNotFoundError("booking", in.BookingID)
	}
	if err != nil {
		return Result{}, errors.NewQueryExecutionFailedError("get_booking", err)
	}

	client, err := s.directory.GetClient(ctx, booking.ClientID)
	if stderrors.Is(err, storage.ErrNotFound) {
		return Result{}, errors.NewNotFoundError("client", booking.ClientID)
	}
	if err != nil {
		return Result{}, errors.NewQueryExecutionFailedError("get_client", err)
	}

	if !access.CanManageClient(actor, client) {
		return Result{}, errors.NewPermissionDeniedError(
			fmt.Sprintf("actor %s may not open applications for client %s", actor.ID, client.ID))
	}

	if !booking.ReadyForApplication() {
		payment := "no payment"
		if booking.Payment != nil {
			payment = "payment " + string(booking.Payment.Status)
		}
		return Result{}, errors.NewBookingNotEligibleError(booking.ID,
			fmt.Sprintf("booking %s, %s", booking.Status, payment))
	}

	if strings.TrimSpace(in.AppliedAmount) == "" {
		return Result{}, errors.NewValidationError("applied_amount", "Applied amount is required")
	}
	amount, err := ParseAmount("applied_amount", in.AppliedAmount)
	if err != nil {
		return Result{}, err
	}

	schemeID := strings.TrimSpace(in.SchemeID)
	if schemeID == "" {
		schemeID = booking.SchemeID
	}
	if schemeID == "" {
		return Result{}, errors.NewValidationError("scheme_id", "A scheme is required")
	}

	now := s.now()
	note := "Application created"
	if notes := strings.TrimSpace(in.Notes); notes != "" {
		note = note + ": " + notes
	}
	entry := models.TimelineEntry{Date: now, Status: models.StatusDraft, ActorName: actor.Name(), Note: note}

	app := models.Application{
		ApplicationID: NewApplicationID(now),
		Client:        client,
		SchemeID:      schemeID,
		BookingID:     booking.ID,
		AssignedTo:    assigneeFor(actor, client),
		Status:        models.StatusDraft,
		AppliedAmount: amount,
		Timeline:      models.NewTimeline(entry),
		CreatedAt:     now,
	}

	created, err := s.apps.CreateApplication(ctx, app)
	if err != nil {
		return Result{}, errors.NewQueryExecutionFailedError("create_application", err)
	}

	return Result{
		Application: created,
		Transition:  Transition{Action: ActionCreate, To: models.StatusDraft, Entry: entry},
	}, nil
}

// assigneeFor keeps the application with the staff member who opened it,
// unless an admin opened it on behalf of the client's sales person.
func assigneeFor(actor models.Actor, client models.ClientRef) string {
	if actor.Role == models.RoleSales || actor.Role == models.RoleManager {
		return actor.ID
	}
	if client.AssignedSalesID != "" {
		return client.AssignedSalesID
	}
	return actor.ID
}

// NewApplicationID returns an ID of the form APP-YYYYMMDD-XXXXXXXX.
func NewApplicationID(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return fmt.Sprintf("APP-%s-%s", now.UTC().Format("20060102"), suffix)
}

func (s *Service) Submit(ctx context.Context, actor models.Actor, applicationID string) (Result, error) {
	return s.transition(ctx, actor, applicationID, ActionSubmit, func(app *models.Application, now time.Time) (Transition, error) {
		return Submit(app, actor, now)
	})
}

func (s *Service) Approve(ctx context.Context, actor models.Actor, applicationID, approvedAmount string) (Result, error) {
	return s.transition(ctx, actor, applicationID, ActionApprove, func(app *models.Application, now time.Time) (Transition, error) {
		return Approve(app, actor, approvedAmount, now)
	})
}

func (s *Service) Reject(ctx context.Context, actor models.Actor, applicationID, reason string) (Result, error) {
	return s.transition(ctx, actor, applicationID, ActionReject, func(app *models.Application, now time.Time) (Transition, error) {
		return Reject(app, actor, reason, now)
	})
}

func (s *Service) UpdateStatus(ctx context.Context, actor models.Actor, applicationID, status, notes string) (Result, error) {
	return s.transition(ctx, actor, applicationID, ActionUpdateStatus, func(app *models.Application, now time.Time) (Transition, error) {
		return UpdateStatus(app, actor, status, notes, now)
	})
}

// Apply dispatches a command by action name.
func (s *Service) Apply(ctx context.Context, actor models.Actor, applicationID string, cmd Command) (Result, error) {
	switch cmd.Action {
	case ActionSubmit:
		return s.Submit(ctx, actor, applicationID)
	case ActionApprove:
		return s.Approve(ctx, actor, applicationID, cmd.ApprovedAmount)
	case ActionReject:
		return s.Reject(ctx, actor, applicationID, cmd.Reason)
	case ActionUpdateStatus:
		return s.UpdateStatus(ctx, actor, applicationID, cmd.Status, cmd.Notes)
	default:
		return Result{}, errors.NewValidationError("action", fmt.Sprintf("Unknown action %q", cmd.Action))
	}
}

type mutation func(app *models.Application, now time.Time) (Transition, error)

// transition runs one operation against a private copy so a failed check
// leaves nothing behind, then persists status and timeline together.
func (s *Service) transition(ctx context.Context, actor models.Actor, applicationID string, action Action, mutate mutation) (Result, error) {
	start := time.Now()

	result, err := s.applyAndSave(ctx, actor, applicationID, mutate)
	s.observe(action, start, err)
	if err != nil {
		s.logOutcome(action, actor, applicationID, err)
		return Result{}, err
	}

	tr := result.Transition
	fields := map[string]interface{}{
		"applicationId": applicationID,
		"action":        string(action),
		"from":          string(tr.From),
		"to":            string(tr.To),
		"actorId":       actor.ID,
		"version":       result.Application.Version,
	}
	if tr.Override() {
		metrics.StatusOverrides.WithLabelValues(string(tr.From), string(tr.To)).Inc()
		s.logger.Warn("terminal status overridden", fields)
	} else {
		s.logger.Info("application transitioned", fields)
	}

	s.notify(ctx, actor, result.Application, tr)
	s.index(ctx, result.Application)
	return result, nil
}

func (s *Service) applyAndSave(ctx context.Context, actor models.Actor, applicationID string, mutate mutation) (Result, error) {
	current, err := s.load(ctx, applicationID)
	if err != nil {
		return Result{}, err
	}
	if err := access.AuthorizeView(actor, current); err != nil {
		return Result{}, err
	}

	working := current.Clone()
	tr, err := mutate(&working, s.now())
	if err != nil {
		return Result{}, err
	}

	saved, err := s.apps.SaveTransition(ctx, working, current.Version)
	if stderrors.Is(err, storage.ErrVersionConflict) {
		return Result{}, errors.NewConcurrentModificationError(applicationID, current.Version)
	}
	if err != nil {
		return Result{}, errors.NewQueryExecutionFailedError("save_transition", err)
	}
	return Result{Application: saved, Transition: tr}, nil
}

func (s *Service) load(ctx context.Context, applicationID string) (models.Application, error) {
	app, err := s.apps.GetApplication(ctx, applicationID)
	if stderrors.Is(err, storage.ErrNotFound) {
		return models.Application{}, errors.NewApplicationNotFoundError(applicationID)
	}
	if err != nil {
		return models.Application{}, errors.NewQueryExecutionFailedError("get_application", err)
	}
	return app, nil
}

func (s *Service) notify(ctx context.Context, actor models.Actor, app models.Application, tr Transition) {
	if s.notifier == nil {
		return
	}
	for _, n := range notification.ForTransition(app, actor, tr.From, tr.To, s.channels) {
		if err := s.notifier.Notify(ctx, n); err != nil {
			metrics.NotificationsQueued.WithLabelValues(string(n.Type), "dropped").Inc()
			s.logger.Warn("notification request failed", map[string]interface{}{
				"applicationId": app.ApplicationID,
				"recipientId":   n.RecipientID,
				"type":          string(n.Type),
				"error":         err,
			})
		}
	}
}

func (s *Service) index(ctx context.Context, app models.Application) {
	if s.indexer == nil {
		return
	}
	if err := s.indexer.IndexApplication(ctx, app); err != nil {
		s.logger.Warn("reporting index update failed", map[string]interface{}{
			"applicationId": app.ApplicationID,
			"error":         err,
		})
	}
}

func (s *Service) observe(action Action, start time.Time, err error) {
	metrics.TransitionDuration.WithLabelValues(string(action)).Observe(time.Since(start).Seconds())
	metrics.TransitionsTotal.WithLabelValues(string(action), outcome(err)).Inc()
}

func outcome(err error) string {
	if err == nil {
		return "applied"
	}
	switch errors.CodeOf(err) {
	case errors.ErrCodeInvalidTransition:
		return "warning"
	case errors.ErrCodePermissionDenied:
		return "denied"
	case errors.ErrCodeValidation, errors.ErrCodeBookingNotEligible:
		return "invalid"
	case errors.ErrCodeConcurrentModification:
		return "conflict"
	default:
		return "error"
	}
}

// logOutcome logs expected refusals below Error so alerting only sees faults.
func (s *Service) logOutcome(action Action, actor models.Actor, id string, err error) {
	fields := map[string]interface{}{
		"action":  string(action),
		"target":  id,
		"actorId": actor.ID,
		"code":    string(errors.CodeOf(err)),
		"error":   err,
	}
	switch outcome(err) {
	case "warning", "denied", "invalid", "conflict":
		s.logger.Info("operation refused", fields)
	default:
		if errors.IsNotFound(err) {
			s.logger.Info("operation refused", fields)
			return
		}
		s.logger.Error("operation failed", fields)
	}
}
