package models

import "time"

type NotificationChannel string

const (
	ChannelInApp    NotificationChannel = "IN_APP"
	ChannelEmail    NotificationChannel = "EMAIL"
	ChannelSMS      NotificationChannel = "SMS"
	ChannelWhatsApp NotificationChannel = "WHATSAPP"
)

type NotificationType string

const (
	TypeApplicationSubmitted     NotificationType = "APPLICATION_SUBMITTED"
	TypeApplicationApproved      NotificationType = "APPLICATION_APPROVED"
	TypeApplicationRejected      NotificationType = "APPLICATION_REJECTED"
	TypeApplicationStatusChanged NotificationType = "APPLICATION_STATUS_CHANGED"
)

type NotificationStatus string

const (
	NotificationQueued   NotificationStatus = "QUEUED"
	NotificationSent     NotificationStatus = "SENT"
	NotificationFailed   NotificationStatus = "FAILED"
	NotificationDisabled NotificationStatus = "DISABLED"
)

type Notification struct {
	ID                 string              `json:"id"`
	RecipientID        string              `json:"recipientId"`
	Channel            NotificationChannel `json:"channel"`
	Type               NotificationType    `json:"notificationType"`
	Subject            string              `json:"subject"`
	Message            string              `json:"message"`
	RelatedApplication string              `json:"relatedApplication,omitempty"`
	Status             NotificationStatus  `json:"status"`
	CreatedAt          time.Time           `json:"createdAt"`
	SentAt             *time.Time          `json:"sentAt,omitempty"`
}
