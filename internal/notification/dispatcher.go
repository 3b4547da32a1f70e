// Package notification turns workflow transitions into queued notifications.
// Delivery happens out of band in the send-notification worker.
package notification

import (
	"context"
	"fmt"
	"time"

	"consulting-crm/internal/common/logger"
	"consulting-crm/internal/common/metrics"
	"consulting-crm/internal/models"
	"consulting-crm/internal/storage"

	"github.com/google/uuid"
)

// DeliveryProcessID is the BPMN process started for every queued notification.
const DeliveryProcessID = "notification-delivery"

// Publisher requests delivery of a stored notification.
type Publisher interface {
	Publish(ctx context.Context, notificationID string) error
}

// ProcessStarter is satisfied by *camunda.Client.
type ProcessStarter interface {
	StartProcess(ctx context.Context, bpmnProcessID string, variables map[string]interface{}) error
}

// ProcessPublisher starts one delivery process instance per notification.
type ProcessPublisher struct {
	starter ProcessStarter
}

func NewProcessPublisher(starter ProcessStarter) *ProcessPublisher {
	return &ProcessPublisher{starter: starter}
}

func (p *ProcessPublisher) Publish(ctx context.Context, notificationID string) error {
	return p.starter.StartProcess(ctx, DeliveryProcessID, map[string]interface{}{
		"notificationId": notificationID,
	})
}

// Dispatcher persists notifications. IN_APP rows are delivered by being
// stored; every other channel is queued and handed to the publisher.
type Dispatcher struct {
	store     storage.NotificationStore
	publisher Publisher
	logger    logger.Logger
	now       func() time.Time
}

// NewDispatcher returns a dispatcher; publisher may be nil, leaving queued
// rows for a later sweep.
func NewDispatcher(store storage.NotificationStore, publisher Publisher, log logger.Logger) *Dispatcher {
	return &Dispatcher{
		store:     store,
		publisher: publisher,
		logger:    log.WithFields(map[string]interface{}{"component": "notification_dispatcher"}),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (d *Dispatcher) Notify(ctx context.Context, n models.Notification) error {
	if n.RecipientID == "" {
		return fmt.Errorf("notification has no recipient")
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	n.CreatedAt = d.now()

	if n.Channel == models.ChannelInApp {
		sentAt := n.CreatedAt
		n.Status = models.NotificationSent
		n.SentAt = &sentAt
	} else {
		n.Status = models.NotificationQueued
	}

	if _, err := d.store.CreateNotification(ctx, n); err != nil {
		metrics.NotificationsQueued.WithLabelValues(string(n.Type), "error").Inc()
		return fmt.Errorf("store notification: %w", err)
	}
	metrics.NotificationsQueued.WithLabelValues(string(n.Type), "stored").Inc()

	if n.Status == models.NotificationQueued && d.publisher != nil {
		if err := d.publisher.Publish(ctx, n.ID); err != nil {
			d.logger.Warn("delivery request failed, notification stays queued", map[string]interface{}{
				"notificationId": n.ID,
				"error":          err,
			})
		}
	}

	d.logger.Debug("notification stored", map[string]interface{}{
		"notificationId":     n.ID,
		"recipientId":        n.RecipientID,
		"channel":            n.Channel,
		"type":               n.Type,
		"relatedApplication": n.RelatedApplication,
	})
	return nil
}
