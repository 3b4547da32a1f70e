package workflow

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"consulting-crm/internal/access"
	"consulting-crm/internal/common/errors"
	"consulting-crm/internal/common/logger"
	"consulting-crm/internal/models"
	"consulting-crm/internal/notification"
	"consulting-crm/internal/storage"
	"consulting-crm/internal/storage/memory"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockIndexer struct {
	mock.Mock
}

func (m *mockIndexer) IndexApplication(ctx context.Context, app models.Application) error {
	args := m.Called(ctx, app)
	return args.Error(0)
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []models.Notification
	err  error
}

func (r *recordingNotifier) Notify(_ context.Context, n models.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, n)
	return nil
}

func (r *recordingNotifier) recipients() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.sent))
	for _, n := range r.sent {
		out = append(out, n.RecipientID)
	}
	return out
}

type fixture struct {
	store    *memory.Store
	notifier *recordingNotifier
	svc      *Service
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	store := memory.New()
	store.PutActor(salesActor)
	store.PutActor(managerActor)
	store.PutActor(adminActor)
	store.PutActor(clientActor)
	store.PutActor(otherClient)
	store.PutActor(models.Actor{ID: "mgr-2", DisplayName: "Max", Role: models.RoleManager})
	store.PutClient(models.ClientRef{
		ID: "client-1", Name: "Acme", UserID: "user-1", AssignedManagerID: "mgr-1", AssignedSalesID: "sales-1",
	})
	store.PutClient(models.ClientRef{ID: "client-9", Name: "Zeta", UserID: "user-9"})

	log := logger.NewTestLogger(t)
	notifier := &recordingNotifier{}
	filter := access.NewFilter(log)
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	svc := NewService(store, store, store, filter, notifier, log, opts...)

	return &fixture{store: store, notifier: notifier, svc: svc}
}

func (f *fixture) seed(t *testing.T, status models.Status) models.Application {
	t.Helper()
	app := newApp(status)
	app.Client = models.ClientRef{ID: "client-1"}
	created, err := f.store.CreateApplication(context.Background(), app)
	require.NoError(t, err)
	return created
}

func paidBooking(id, clientID string) models.Booking {
	return models.Booking{
		ID:       id,
		ClientID: clientID,
		SchemeID: "scheme-7",
		Status:   models.BookingStatusPaid,
		Payment:  &models.Payment{ID: "pay-1", Status: models.PaymentStatusCaptured, Amount: decimal.NewFromInt(500)},
	}
}

// ==========================
// Transitions
// ==========================

func TestService_FullApprovalFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	app := f.seed(t, models.StatusDraft)

	res, err := f.svc.Submit(ctx, salesActor, app.ApplicationID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSubmitted, res.Application.Status)
	assert.Equal(t, int64(2), res.Application.Version)
	assert.ElementsMatch(t, []string{"mgr-1", "mgr-2"}, f.notifier.recipients())

	res, err = f.svc.Approve(ctx, managerActor, app.ApplicationID, "")
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, res.Application.Status)
	assert.True(t, res.Application.ApprovedAmount.Equal(decimal.NewFromInt(10)))
	assert.Equal(t, 3, res.Application.Timeline.Len())

	stored, err := f.store.GetApplication(ctx, app.ApplicationID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, stored.Status)
	assert.Equal(t, 3, stored.Timeline.Len())
	assert.Equal(t, []string{"mgr-1", "mgr-2", "sales-1", "user-1"}, f.notifier.recipients())
}

func TestService_ApproveTwiceAddsOneEntry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	app := f.seed(t, models.StatusSubmitted)

	_, err := f.svc.Approve(ctx, managerActor, app.ApplicationID, "")
	require.NoError(t, err)

	_, err = f.svc.Approve(ctx, managerActor, app.ApplicationID, "")
	assert.True(t, errors.IsInvalidTransition(err))

	stored, _ := f.store.GetApplication(ctx, app.ApplicationID)
	assert.Equal(t, 2, stored.Timeline.Len())
	assert.Equal(t, int64(2), stored.Version)
}

func TestService_RejectWithoutReasonChangesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	app := f.seed(t, models.StatusSubmitted)

	_, err := f.svc.Reject(ctx, managerActor, app.ApplicationID, "")
	assert.True(t, errors.IsValidation(err))

	stored, _ := f.store.GetApplication(ctx, app.ApplicationID)
	assert.Equal(t, models.StatusSubmitted, stored.Status)
	assert.Equal(t, int64(1), stored.Version)
	assert.Empty(t, f.notifier.recipients())
}

func TestService_ApproveDraftIsWarning(t *testing.T) {
	f := newFixture(t)
	app := f.seed(t, models.StatusDraft)

	_, err := f.svc.Approve(context.Background(), managerActor, app.ApplicationID, "")
	assert.True(t, errors.IsWarning(err))

	stored, _ := f.store.GetApplication(context.Background(), app.ApplicationID)
	assert.Equal(t, models.StatusDraft, stored.Status)
}

func TestService_OtherClientDenied(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	app := f.seed(t, models.StatusSubmitted)

	_, err := f.svc.Get(ctx, otherClient, app.ApplicationID)
	assert.True(t, errors.IsPermissionDenied(err))

	_, err = f.svc.UpdateStatus(ctx, otherClient, app.ApplicationID, "WITHDRAWN", "")
	assert.True(t, errors.IsPermissionDenied(err))

	got, err := f.svc.Get(ctx, clientActor, app.ApplicationID)
	require.NoError(t, err)
	assert.Equal(t, app.ApplicationID, got.ApplicationID)
}

func TestService_NotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Submit(context.Background(), salesActor, "APP-missing")
	stdErr, ok := errors.AsStandard(err)
	require.True(t, ok)
	assert.Equal(t, errors.ErrCodeApplicationNotFound, stdErr.Code)
}

func TestService_UpdateStatusOverride(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	app := f.seed(t, models.StatusApproved)

	res, err := f.svc.UpdateStatus(ctx, adminActor, app.ApplicationID, "on_hold", "")
	require.NoError(t, err)
	assert.True(t, res.Transition.Override())
	assert.Equal(t, models.StatusOnHold, res.Application.Status)
	assert.Equal(t, []string{"user-1"}, f.notifier.recipients())
}

func TestService_NotifierFailureDoesNotUndoTransition(t *testing.T) {
	f := newFixture(t)
	f.notifier.err = stderrors.New("queue down")
	app := f.seed(t, models.StatusDraft)

	res, err := f.svc.Submit(context.Background(), salesActor, app.ApplicationID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSubmitted, res.Application.Status)
}

func TestService_IndexerCalledAndFailureSwallowed(t *testing.T) {
	idx := new(mockIndexer)
	idx.On("IndexApplication", mock.Anything, mock.MatchedBy(func(a models.Application) bool {
		return a.Status == models.StatusSubmitted
	})).Return(stderrors.New("cluster red")).Once()

	f := newFixture(t, WithIndexer(idx))
	app := f.seed(t, models.StatusDraft)

	_, err := f.svc.Submit(context.Background(), salesActor, app.ApplicationID)
	require.NoError(t, err)
	idx.AssertExpectations(t)
}

type conflictingStore struct {
	*memory.Store
}

func (c conflictingStore) SaveTransition(context.Context, models.Application, int64) (models.Application, error) {
	return models.Application{}, storage.ErrVersionConflict
}

func TestService_VersionConflict(t *testing.T) {
	f := newFixture(t)
	app := f.seed(t, models.StatusDraft)

	log := logger.NewTestLogger(t)
	svc := NewService(conflictingStore{f.store}, f.store, f.store, access.NewFilter(log), f.notifier, log)

	_, err := svc.Submit(context.Background(), salesActor, app.ApplicationID)
	stdErr, ok := errors.AsStandard(err)
	require.True(t, ok)
	assert.Equal(t, errors.ErrCodeConcurrentModification, stdErr.Code)
	assert.Empty(t, f.notifier.recipients())
}

func TestService_ConcurrentApprovalsOneWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	app := f.seed(t, models.StatusSubmitted)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		applied int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.Approve(ctx, managerActor, app.ApplicationID, ""); err == nil {
				mu.Lock()
				applied++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, applied)
	stored, _ := f.store.GetApplication(ctx, app.ApplicationID)
	assert.Equal(t, 2, stored.Timeline.Len())
}

func TestService_Apply(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	app := f.seed(t, models.StatusSubmitted)

	res, err := f.svc.Apply(ctx, managerActor, app.ApplicationID, Command{Action: ActionReject, Reason: "incomplete"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, res.Application.Status)

	_, err = f.svc.Apply(ctx, managerActor, app.ApplicationID, Command{Action: "archive"})
	assert.True(t, errors.IsValidation(err))
}

// ==========================
// Listing
// ==========================

func TestService_ListScopedByRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, models.StatusSubmitted)

	other := newApp(models.StatusDraft)
	other.ApplicationID = "APP-20240301-OTHER001"
	other.Client = models.ClientRef{ID: "client-9"}
	other.AssignedTo = "sales-9"
	_, err := f.store.CreateApplication(ctx, other)
	require.NoError(t, err)

	listing, err := f.svc.List(ctx, adminActor, ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, listing.Stats.Total)

	listing, err = f.svc.List(ctx, clientActor, ListOptions{})
	require.NoError(t, err)
	require.Len(t, listing.Applications, 1)
	assert.Equal(t, "client-1", listing.Applications[0].Client.ID)

	listing, err = f.svc.List(ctx, managerActor, ListOptions{Status: "draft"})
	require.NoError(t, err)
	assert.Empty(t, listing.Applications)

	_, err = f.svc.List(ctx, adminActor, ListOptions{Status: "bogus"})
	assert.True(t, errors.IsValidation(err))
}

func TestService_ListFollowsClientReassignment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	app := f.seed(t, models.StatusSubmitted)

	listing, err := f.svc.List(ctx, managerActor, ListOptions{})
	require.NoError(t, err)
	require.Len(t, listing.Applications, 1)

	f.store.PutClient(models.ClientRef{
		ID: "client-1", Name: "Acme", UserID: "user-1", AssignedManagerID: "mgr-2", AssignedSalesID: "sales-1",
	})

	listing, err = f.svc.List(ctx, managerActor, ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, listing.Applications)
	assert.Equal(t, 0, listing.Stats.Total)

	_, err = f.svc.Get(ctx, managerActor, app.ApplicationID)
	assert.True(t, errors.IsPermissionDenied(err))

	listing, err = f.svc.List(ctx, models.Actor{ID: "mgr-2", Role: models.RoleManager}, ListOptions{})
	require.NoError(t, err)
	assert.Len(t, listing.Applications, 1)
}

// overbroadStore ignores the scope, standing in for a store whose listing
// lags behind the directory.
type overbroadStore struct {
	*memory.Store
}

func (o overbroadStore) ListApplications(ctx context.Context, scope storage.ListScope) ([]models.Application, error) {
	return o.Store.ListApplications(ctx, storage.ListScope{Unrestricted: true, Status: scope.Status})
}

func TestService_ListDropsRowsTheActorCannotView(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, models.StatusSubmitted)

	other := newApp(models.StatusSubmitted)
	other.ApplicationID = "APP-20240301-OTHER002"
	other.Client = models.ClientRef{ID: "client-9"}
	other.AssignedTo = "sales-9"
	_, err := f.store.CreateApplication(ctx, other)
	require.NoError(t, err)

	log := logger.NewTestLogger(t)
	svc := NewService(overbroadStore{f.store}, f.store, f.store, access.NewFilter(log), f.notifier, log)

	listing, err := svc.List(ctx, managerActor, ListOptions{})
	require.NoError(t, err)
	require.Len(t, listing.Applications, 1)
	assert.Equal(t, "client-1", listing.Applications[0].Client.ID)
	assert.Equal(t, 1, listing.Stats.Total)
}

// ==========================
// Creation from booking
// ==========================

func TestService_CreateFromBooking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.PutBooking(paidBooking("book-1", "client-1"))

	res, err := f.svc.CreateFromBooking(ctx, salesActor, CreateInput{BookingID: "book-1", AppliedAmount: "2500"})
	require.NoError(t, err)

	app := res.Application
	assert.Regexp(t, `^APP-20240315-[0-9A-F]{8}$`, app.ApplicationID)
	assert.Equal(t, models.StatusDraft, app.Status)
	assert.Equal(t, "scheme-7", app.SchemeID)
	assert.Equal(t, "book-1", app.BookingID)
	assert.Equal(t, "sales-1", app.AssignedTo)
	assert.Equal(t, int64(1), app.Version)
	assert.Equal(t, 1, app.Timeline.Len())

	first, _ := app.Timeline.Last()
	assert.Equal(t, models.StatusDraft, first.Status)
	assert.Equal(t, "Application created", first.Note)
}

func TestService_CreateByAdminAssignsClientSales(t *testing.T) {
	f := newFixture(t)
	f.store.PutBooking(paidBooking("book-1", "client-1"))

	res, err := f.svc.CreateFromBooking(context.Background(), adminActor,
		CreateInput{BookingID: "book-1", AppliedAmount: "100", SchemeID: "scheme-3"})
	require.NoError(t, err)
	assert.Equal(t, "sales-1", res.Application.AssignedTo)
	assert.Equal(t, "scheme-3", res.Application.SchemeID)
}

func TestService_CreateRejectsUnpaidBooking(t *testing.T) {
	f := newFixture(t)
	booking := paidBooking("book-2", "client-1")
	booking.Payment.Status = models.PaymentStatusPending
	f.store.PutBooking(booking)

	_, err := f.svc.CreateFromBooking(context.Background(), salesActor, CreateInput{BookingID: "book-2", AppliedAmount: "100"})
	stdErr, ok := errors.AsStandard(err)
	require.True(t, ok)
	assert.Equal(t, errors.ErrCodeBookingNotEligible, stdErr.Code)
}

func TestService_CreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.PutBooking(paidBooking("book-1", "client-1"))
	noScheme := paidBooking("book-3", "client-1")
	noScheme.SchemeID = ""
	f.store.PutBooking(noScheme)

	_, err := f.svc.CreateFromBooking(ctx, salesActor, CreateInput{BookingID: "book-1"})
	assert.True(t, errors.IsValidation(err))

	_, err = f.svc.CreateFromBooking(ctx, salesActor, CreateInput{BookingID: "book-1", AppliedAmount: "0"})
	assert.True(t, errors.IsValidation(err))

	_, err = f.svc.CreateFromBooking(ctx, salesActor, CreateInput{BookingID: "book-3", AppliedAmount: "10"})
	assert.True(t, errors.IsValidation(err))

	_, err = f.svc.CreateFromBooking(ctx, salesActor, CreateInput{BookingID: "missing", AppliedAmount: "10"})
	assert.True(t, errors.IsNotFound(err))
}

func TestService_CreatePermissions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.PutBooking(paidBooking("book-9", "client-9"))

	_, err := f.svc.CreateFromBooking(ctx, clientActor, CreateInput{BookingID: "book-9", AppliedAmount: "10"})
	assert.True(t, errors.IsPermissionDenied(err))

	_, err = f.svc.CreateFromBooking(ctx, salesActor, CreateInput{BookingID: "book-9", AppliedAmount: "10"})
	assert.True(t, errors.IsPermissionDenied(err))
}

func TestService_WithChannels(t *testing.T) {
	f := newFixture(t, WithChannels(notification.Channels{Staff: models.ChannelEmail, Client: models.ChannelSMS}))
	app := f.seed(t, models.StatusSubmitted)

	_, err := f.svc.Reject(context.Background(), managerActor, app.ApplicationID, "no budget")
	require.NoError(t, err)

	require.Len(t, f.notifier.sent, 2)
	assert.Equal(t, models.ChannelEmail, f.notifier.sent[0].Channel)
	assert.Equal(t, models.ChannelSMS, f.notifier.sent[1].Channel)
}

func TestNewApplicationID(t *testing.T) {
	a := NewApplicationID(fixedNow)
	b := NewApplicationID(fixedNow)
	assert.NotEqual(t, a, b)
	assert.Len(t, a, len("APP-20240315-")+8)
}
