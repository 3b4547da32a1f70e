package sendnotification

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"consulting-crm/internal/common/errors"
	"consulting-crm/internal/common/logger"
	"consulting-crm/internal/common/metrics"
	"consulting-crm/internal/models"
	"consulting-crm/internal/storage"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const (
	TaskType = "send-notification"
)

var (
	ErrNotificationSendFailed = stderrors.New("NOTIFICATION_SEND_FAILED")
	ErrDeliveryInProgress     = stderrors.New("DELIVERY_IN_PROGRESS")
)

// EmailSender is satisfied by *aws.Mailer.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) (string, error)
}

// SMSSender is satisfied by *aws.Texter.
type SMSSender interface {
	SendSMS(ctx context.Context, phone, message string) (string, error)
}

// DeliveryLocker is satisfied by *notification.DeliveryLock.
type DeliveryLocker interface {
	Acquire(ctx context.Context, notificationID string) (release func(), ok bool, err error)
}

type Option func(*Handler)

// WithDeliveryLock serializes deliveries of the same notification across
// worker instances.
func WithDeliveryLock(lock DeliveryLocker) Option {
	return func(h *Handler) { h.lock = lock }
}

type Handler struct {
	config       *Config
	store        storage.NotificationStore
	directory    storage.DirectoryStore
	mailer       EmailSender
	texter       SMSSender
	lock         DeliveryLocker
	logger       logger.Logger
	errorHandler *errors.ErrorHandler
	now          func() time.Time
}

// NewHandler returns a handler; mailer and texter may be nil when the
// channel is disabled.
func NewHandler(
	config *Config,
	store storage.NotificationStore,
	directory storage.DirectoryStore,
	mailer EmailSender,
	texter SMSSender,
	log logger.Logger,
	opts ...Option,
) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	h := &Handler{
		config:       config,
		store:        store,
		directory:    directory,
		mailer:       mailer,
		texter:       texter,
		logger:       log,
		errorHandler: errors.NewErrorHandler(log),
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) error {
	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":      job.Key,
		"workflowKey": job.ProcessInstanceKey,
	})

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	var input Input
	if err := json.Unmarshal([]byte(job.Variables), &input); err != nil {
		err = errors.NewValidationError("variables", fmt.Sprintf("parse input: %v", err))
		h.failJob(ctx, client, job, err)
		return err
	}

	output, err := h.execute(ctx, &input)
	if err != nil {
		h.failJob(ctx, client, job, err)
		return err
	}

	h.completeJob(ctx, client, job, output)
	return nil
}

func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	if input.NotificationID == "" {
		return nil, errors.NewValidationError("notificationId", "notificationId is required")
	}

	// The lease is taken before the status read so a job that waited on it
	// sees the outcome of the holder.
	if h.lock != nil {
		release, ok, err := h.lock.Acquire(ctx, input.NotificationID)
		switch {
		case err != nil:
			h.logger.Warn("delivery lock unavailable, sending without it", map[string]interface{}{
				"notificationId": input.NotificationID,
				"error":          err,
			})
		case !ok:
			return nil, errors.NewNotificationSendFailedError("in_progress",
				fmt.Errorf("%w: notification %s", ErrDeliveryInProgress, input.NotificationID))
		}
		defer release()
	}

	n, err := h.store.GetNotification(ctx, input.NotificationID)
	if stderrors.Is(err, storage.ErrNotFound) {
		return nil, errors.NewNotFoundError("notification", input.NotificationID)
	}
	if err != nil {
		return nil, errors.NewQueryExecutionFailedError("get_notification", err)
	}

	// A retried job must not send twice.
	if n.Status == models.NotificationSent {
		return outputFor(n, ""), nil
	}

	recipient, err := h.directory.GetActor(ctx, n.RecipientID)
	if err != nil {
		if !stderrors.Is(err, storage.ErrNotFound) {
			return nil, errors.NewQueryExecutionFailedError("get_actor", err)
		}
		h.logger.Warn("recipient not found", map[string]interface{}{
			"notificationId": n.ID,
			"recipientId":    n.RecipientID,
		})
		return h.finish(ctx, n, models.NotificationDisabled, "")
	}

	messageID, sendErr := h.deliver(ctx, n, recipient)
	switch {
	case stderrors.Is(sendErr, errChannelDisabled):
		return h.finish(ctx, n, models.NotificationDisabled, "")
	case sendErr != nil:
		h.logger.Error("notification send failed", map[string]interface{}{
			"notificationId": n.ID,
			"channel":        string(n.Channel),
			"error":          sendErr,
		})
		if _, err := h.finish(ctx, n, models.NotificationFailed, ""); err != nil {
			return nil, err
		}
		return nil, errors.NewNotificationSendFailedError(string(n.Type), fmt.Errorf("%w: %v", ErrNotificationSendFailed, sendErr))
	}

	return h.finish(ctx, n, models.NotificationSent, messageID)
}

var errChannelDisabled = stderrors.New("channel disabled")

func (h *Handler) deliver(ctx context.Context, n models.Notification, recipient models.Actor) (string, error) {
	switch n.Channel {
	case models.ChannelInApp:
		return "", nil
	case models.ChannelEmail:
		if !h.config.EmailEnabled || h.mailer == nil || recipient.Email == "" {
			return "", errChannelDisabled
		}
		return h.mailer.SendEmail(ctx, recipient.Email, n.Subject, n.Message)
	case models.ChannelSMS, models.ChannelWhatsApp:
		if !h.config.SMSEnabled || h.texter == nil || recipient.Phone == "" {
			return "", errChannelDisabled
		}
		return h.texter.SendSMS(ctx, recipient.Phone, n.Message)
	default:
		return "", errChannelDisabled
	}
}

func (h *Handler) finish(ctx context.Context, n models.Notification, status models.NotificationStatus, messageID string) (*Output, error) {
	at := h.now()
	if err := h.store.MarkNotification(ctx, n.ID, status, at); err != nil {
		return nil, errors.NewQueryExecutionFailedError("mark_notification", err)
	}
	metrics.NotificationsDelivered.WithLabelValues(string(n.Channel), string(status)).Inc()

	n.Status = status
	if status == models.NotificationSent {
		n.SentAt = &at
	}
	return outputFor(n, messageID), nil
}

func outputFor(n models.Notification, messageID string) *Output {
	out := &Output{
		NotificationID: n.ID,
		Channel:        n.Channel,
		Status:         n.Status,
		MessageID:      messageID,
	}
	if n.SentAt != nil {
		out.SentAt = n.SentAt.UTC().Format(time.RFC3339)
	}
	return out
}

func (h *Handler) completeJob(ctx context.Context, client worker.JobClient, job entities.Job, output *Output) {
	cmd, err := client.NewCompleteJobCommand().
		JobKey(job.Key).
		VariablesFromObject(output)
	if err != nil {
		h.logger.Error("failed to create complete job command", map[string]interface{}{
			"error": err,
		})
		return
	}
	if _, err := cmd.Send(ctx); err != nil {
		h.logger.Error("failed to send complete job command", map[string]interface{}{
			"error": err,
		})
		return
	}
	metrics.WorkerJobsCompleted.WithLabelValues(TaskType).Inc()
}

func (h *Handler) failJob(ctx context.Context, client worker.JobClient, job entities.Job, err error) {
	metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(errors.CodeOf(err))).Inc()
	h.errorHandler.HandleJobError(ctx, client, job, err)
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input)
}
