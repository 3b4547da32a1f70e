package sendnotification

import "consulting-crm/internal/models"

// Input is the variable set of a notification-delivery process instance.
type Input struct {
	NotificationID string `json:"notificationId"`
}

type Output struct {
	NotificationID string                     `json:"notificationId"`
	Channel        models.NotificationChannel `json:"channel"`
	Status         models.NotificationStatus  `json:"status"`
	MessageID      string                     `json:"messageId,omitempty"`
	SentAt         string                     `json:"sentAt,omitempty"` // RFC 3339
}
