package createapplicationrecord

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"consulting-crm/internal/common/errors"
	"consulting-crm/internal/common/logger"
	"consulting-crm/internal/common/validation"
	"consulting-crm/internal/models"
	"consulting-crm/internal/workflow"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// ==========================
// Mock Implementations
// ==========================

type MockCreator struct {
	mock.Mock
}

func (m *MockCreator) ResolveActor(ctx context.Context, id string) (models.Actor, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(models.Actor), args.Error(1)
}

func (m *MockCreator) CreateFromBooking(ctx context.Context, actor models.Actor, in workflow.CreateInput) (workflow.Result, error) {
	args := m.Called(ctx, actor, in)
	return args.Get(0).(workflow.Result), args.Error(1)
}

// ==========================
// Test Helper Functions
// ==========================

func createTestConfig() *Config {
	return &Config{Timeout: 5 * time.Second}
}

var salesActor = models.Actor{ID: "sales-1", Role: models.RoleSales}

func createdResult() workflow.Result {
	return workflow.Result{Application: models.Application{
		ApplicationID: "APP-20240502-0A1B2C3D",
		Status:        models.StatusDraft,
		AssignedTo:    "sales-1",
		AppliedAmount: decimal.NewFromInt(1500),
		CreatedAt:     time.Date(2024, 5, 2, 10, 0, 0, 0, time.UTC),
	}}
}

// ==========================
// Tests
// ==========================

func TestExecute_CreatesFromBooking(t *testing.T) {
	creator := new(MockCreator)
	creator.On("ResolveActor", mock.Anything, "sales-1").Return(salesActor, nil)
	creator.On("CreateFromBooking", mock.Anything, salesActor, workflow.CreateInput{
		BookingID: "book-1", AppliedAmount: "1500", SchemeID: "scheme-1",
	}).Return(createdResult(), nil)

	h := NewHandler(createTestConfig(), creator, validation.NewWorkflowValidator(), logger.NewTestLogger(t))

	input, err := h.ParseInput(`{"bookingId":"book-1","actorId":"sales-1","appliedAmount":1500,"schemeId":"scheme-1"}`)
	require.NoError(t, err)

	out, err := h.Execute(context.Background(), input)
	require.NoError(t, err)
	assert.Equal(t, "APP-20240502-0A1B2C3D", out.ApplicationID)
	assert.Equal(t, "DRAFT", out.ApplicationStatus)
	assert.Equal(t, "sales-1", out.AssignedTo)
	assert.Equal(t, "2024-05-02T10:00:00Z", out.CreatedAt)
	creator.AssertExpectations(t)
}

func TestParseInput_MissingAmount(t *testing.T) {
	h := NewHandler(createTestConfig(), new(MockCreator), validation.NewWorkflowValidator(), logger.NewTestLogger(t))

	_, err := h.ParseInput(`{"bookingId":"book-1","actorId":"sales-1"}`)
	assert.True(t, errors.IsValidation(err))
}

func TestExecute_BookingNotEligible(t *testing.T) {
	creator := new(MockCreator)
	creator.On("ResolveActor", mock.Anything, "sales-1").Return(salesActor, nil)
	creator.On("CreateFromBooking", mock.Anything, salesActor, mock.Anything).
		Return(workflow.Result{}, errors.NewBookingNotEligibleError("book-2", "booking PENDING, no payment"))

	h := NewHandler(createTestConfig(), creator, validation.NewWorkflowValidator(), logger.NewTestLogger(t))

	_, err := h.Execute(context.Background(), &Input{BookingID: "book-2", ActorID: "sales-1", AppliedAmount: "10"})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeBookingNotEligible, errors.CodeOf(err))
	assert.False(t, errors.IsRetryableErrorCode(errors.CodeOf(err)))
}

func TestExecute_ActorLookupFails(t *testing.T) {
	creator := new(MockCreator)
	creator.On("ResolveActor", mock.Anything, "sales-1").
		Return(models.Actor{}, errors.NewQueryExecutionFailedError("get_actor", stderrors.New("connection reset")))

	h := NewHandler(createTestConfig(), creator, validation.NewWorkflowValidator(), logger.NewTestLogger(t))

	_, err := h.Execute(context.Background(), &Input{BookingID: "book-1", ActorID: "sales-1", AppliedAmount: "10"})
	assert.True(t, errors.IsRetryableErrorCode(errors.CodeOf(err)))
	creator.AssertNotCalled(t, "CreateFromBooking", mock.Anything, mock.Anything, mock.Anything)
}
