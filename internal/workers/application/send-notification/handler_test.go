package sendnotification

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"consulting-crm/internal/common/errors"
	"consulting-crm/internal/common/logger"
	"consulting-crm/internal/models"
	"consulting-crm/internal/notification"
	"consulting-crm/internal/storage/memory"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// ==========================
// Mock Implementations
// ==========================

type MockMailer struct {
	mock.Mock
}

func (m *MockMailer) SendEmail(ctx context.Context, to, subject, body string) (string, error) {
	args := m.Called(ctx, to, subject, body)
	return args.String(0), args.Error(1)
}

type MockTexter struct {
	mock.Mock
}

func (m *MockTexter) SendSMS(ctx context.Context, phone, message string) (string, error) {
	args := m.Called(ctx, phone, message)
	return args.String(0), args.Error(1)
}

// ==========================
// Test Helper Functions
// ==========================

func createTestConfig() *Config {
	return &Config{
		EmailEnabled: true,
		SMSEnabled:   true,
		Timeout:      30 * time.Second,
	}
}

func setup(t *testing.T, cfg *Config, channel models.NotificationChannel) (*Handler, *memory.Store, *MockMailer, *MockTexter) {
	t.Helper()

	store := memory.New()
	store.PutActor(models.Actor{ID: "user-1", Email: "client@example.com", Phone: "+15550100", Role: models.RoleClient})
	_, err := store.CreateNotification(context.Background(), models.Notification{
		ID:                 "n-1",
		RecipientID:        "user-1",
		Channel:            channel,
		Type:               models.TypeApplicationApproved,
		Subject:            "Application APP-1 approved",
		Message:            "Application APP-1 for Acme has been approved for 10.00.",
		RelatedApplication: "APP-1",
		Status:             models.NotificationQueued,
	})
	require.NoError(t, err)

	mailer := new(MockMailer)
	texter := new(MockTexter)
	h := NewHandler(cfg, store, store, mailer, texter, logger.NewTestLogger(t))
	return h, store, mailer, texter
}

// ==========================
// Delivery
// ==========================

func TestExecute_EmailSent(t *testing.T) {
	h, store, mailer, _ := setup(t, createTestConfig(), models.ChannelEmail)
	mailer.On("SendEmail", mock.Anything, "client@example.com", "Application APP-1 approved", mock.Anything).
		Return("msg-123", nil).Once()

	out, err := h.Execute(context.Background(), &Input{NotificationID: "n-1"})
	require.NoError(t, err)

	assert.Equal(t, models.NotificationSent, out.Status)
	assert.Equal(t, "msg-123", out.MessageID)
	assert.NotEmpty(t, out.SentAt)
	mailer.AssertExpectations(t)

	n, _ := store.GetNotification(context.Background(), "n-1")
	assert.Equal(t, models.NotificationSent, n.Status)
	assert.NotNil(t, n.SentAt)
}

func TestExecute_AlreadySentIsNotResent(t *testing.T) {
	h, store, mailer, _ := setup(t, createTestConfig(), models.ChannelEmail)
	require.NoError(t, store.MarkNotification(context.Background(), "n-1", models.NotificationSent, time.Now()))

	out, err := h.Execute(context.Background(), &Input{NotificationID: "n-1"})
	require.NoError(t, err)
	assert.Equal(t, models.NotificationSent, out.Status)
	mailer.AssertNotCalled(t, "SendEmail", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestExecute_SMS(t *testing.T) {
	h, _, _, texter := setup(t, createTestConfig(), models.ChannelSMS)
	texter.On("SendSMS", mock.Anything, "+15550100", mock.Anything).Return("sms-1", nil).Once()

	out, err := h.Execute(context.Background(), &Input{NotificationID: "n-1"})
	require.NoError(t, err)
	assert.Equal(t, models.NotificationSent, out.Status)
	texter.AssertExpectations(t)
}

func TestExecute_InAppNeedsNoTransport(t *testing.T) {
	h, _, mailer, texter := setup(t, createTestConfig(), models.ChannelInApp)

	out, err := h.Execute(context.Background(), &Input{NotificationID: "n-1"})
	require.NoError(t, err)
	assert.Equal(t, models.NotificationSent, out.Status)
	mailer.AssertNotCalled(t, "SendEmail", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	texter.AssertNotCalled(t, "SendSMS", mock.Anything, mock.Anything, mock.Anything)
}

func TestExecute_EmailDisabled(t *testing.T) {
	cfg := createTestConfig()
	cfg.EmailEnabled = false
	h, store, _, _ := setup(t, cfg, models.ChannelEmail)

	out, err := h.Execute(context.Background(), &Input{NotificationID: "n-1"})
	require.NoError(t, err)
	assert.Equal(t, models.NotificationDisabled, out.Status)

	n, _ := store.GetNotification(context.Background(), "n-1")
	assert.Equal(t, models.NotificationDisabled, n.Status)
}

func TestExecute_RecipientMissing(t *testing.T) {
	h, store, _, _ := setup(t, createTestConfig(), models.ChannelEmail)
	_, err := store.CreateNotification(context.Background(), models.Notification{
		ID: "n-2", RecipientID: "ghost", Channel: models.ChannelEmail, Status: models.NotificationQueued,
	})
	require.NoError(t, err)

	out, err := h.Execute(context.Background(), &Input{NotificationID: "n-2"})
	require.NoError(t, err)
	assert.Equal(t, models.NotificationDisabled, out.Status)
}

// ==========================
// Failures
// ==========================

func TestExecute_SendFailureMarksFailedAndRetries(t *testing.T) {
	h, store, mailer, _ := setup(t, createTestConfig(), models.ChannelEmail)
	mailer.On("SendEmail", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return("", stderrors.New("throttled")).Once()

	_, err := h.Execute(context.Background(), &Input{NotificationID: "n-1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotificationSendFailed)
	assert.Equal(t, errors.ErrCodeNotificationSendFailed, errors.CodeOf(err))
	assert.True(t, errors.IsRetryableErrorCode(errors.CodeOf(err)))

	n, _ := store.GetNotification(context.Background(), "n-1")
	assert.Equal(t, models.NotificationFailed, n.Status)
}

func TestExecute_UnknownNotification(t *testing.T) {
	h, _, _, _ := setup(t, createTestConfig(), models.ChannelEmail)

	_, err := h.Execute(context.Background(), &Input{NotificationID: "missing"})
	assert.True(t, errors.IsNotFound(err))

	_, err = h.Execute(context.Background(), &Input{})
	assert.True(t, errors.IsValidation(err))
}

// ==========================
// Delivery lock
// ==========================

func newDeliveryLock(t *testing.T) (*notification.DeliveryLock, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return notification.NewDeliveryLock(client, time.Minute), mr
}

func TestExecute_HeldLockDefersDelivery(t *testing.T) {
	_, store, mailer, texter := setup(t, createTestConfig(), models.ChannelEmail)
	lock, _ := newDeliveryLock(t)
	h := NewHandler(createTestConfig(), store, store, mailer, texter, logger.NewTestLogger(t), WithDeliveryLock(lock))

	release, ok, err := lock.Acquire(context.Background(), "n-1")
	require.NoError(t, err)
	require.True(t, ok)

	_, err = h.Execute(context.Background(), &Input{NotificationID: "n-1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDeliveryInProgress)
	assert.True(t, errors.IsRetryableErrorCode(errors.CodeOf(err)))
	mailer.AssertNotCalled(t, "SendEmail", mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	n, _ := store.GetNotification(context.Background(), "n-1")
	assert.Equal(t, models.NotificationQueued, n.Status)

	release()
	mailer.On("SendEmail", mock.Anything, "client@example.com", mock.Anything, mock.Anything).
		Return("msg-1", nil).Once()

	out, err := h.Execute(context.Background(), &Input{NotificationID: "n-1"})
	require.NoError(t, err)
	assert.Equal(t, models.NotificationSent, out.Status)
	mailer.AssertExpectations(t)
}

func TestExecute_LockReleasedAfterDelivery(t *testing.T) {
	_, store, mailer, texter := setup(t, createTestConfig(), models.ChannelInApp)
	lock, mr := newDeliveryLock(t)
	h := NewHandler(createTestConfig(), store, store, mailer, texter, logger.NewTestLogger(t), WithDeliveryLock(lock))

	out, err := h.Execute(context.Background(), &Input{NotificationID: "n-1"})
	require.NoError(t, err)
	assert.Equal(t, models.NotificationSent, out.Status)
	assert.Empty(t, mr.Keys())
}

func TestExecute_LockUnavailableStillDelivers(t *testing.T) {
	_, store, mailer, texter := setup(t, createTestConfig(), models.ChannelInApp)
	lock, mr := newDeliveryLock(t)
	mr.Close()
	h := NewHandler(createTestConfig(), store, store, mailer, texter, logger.NewTestLogger(t), WithDeliveryLock(lock))

	out, err := h.Execute(context.Background(), &Input{NotificationID: "n-1"})
	require.NoError(t, err)
	assert.Equal(t, models.NotificationSent, out.Status)
}
