package notification

import (
	"fmt"

	"consulting-crm/internal/models"
)

// Channels picks the delivery channel per audience.
type Channels struct {
	Staff  models.NotificationChannel
	Client models.NotificationChannel
}

func DefaultChannels() Channels {
	return Channels{Staff: models.ChannelInApp, Client: models.ChannelEmail}
}

// ForTransition builds the notifications a status change should produce.
// SUBMITTED goes to the client's managers, APPROVED and REJECTED go to the
// assigned sales person and the client, any other change goes to the client.
func ForTransition(app models.Application, actor models.Actor, from, to models.Status, ch Channels) []models.Notification {
	if from == to {
		return nil
	}

	id := app.ApplicationID
	clientName := app.Client.Name
	if clientName == "" {
		clientName = app.Client.ID
	}

	var out []models.Notification
	add := func(recipient string, channel models.NotificationChannel, typ models.NotificationType, subject, message string) {
		if recipient == "" {
			return
		}
		for _, n := range out {
			if n.RecipientID == recipient {
				return
			}
		}
		out = append(out, models.Notification{
			RecipientID:        recipient,
			Channel:            channel,
			Type:               typ,
			Subject:            subject,
			Message:            message,
			RelatedApplication: id,
		})
	}

	switch to {
	case models.StatusSubmitted:
		subject := fmt.Sprintf("Application %s submitted for review", id)
		message := fmt.Sprintf("%s submitted application %s for %s (applied amount %s).",
			actor.Name(), id, clientName, app.AppliedAmount.StringFixed(2))
		add(app.Client.AssignedManagerID, ch.Staff, models.TypeApplicationSubmitted, subject, message)
		add(app.Client.AssignedSalesManagerID, ch.Staff, models.TypeApplicationSubmitted, subject, message)

	case models.StatusApproved:
		amount := app.AppliedAmount
		if app.ApprovedAmount != nil {
			amount = *app.ApprovedAmount
		}
		subject := fmt.Sprintf("Application %s approved", id)
		message := fmt.Sprintf("Application %s for %s has been approved for %s.", id, clientName, amount.StringFixed(2))
		add(app.AssignedTo, ch.Staff, models.TypeApplicationApproved, subject, message)
		add(app.Client.UserID, ch.Client, models.TypeApplicationApproved, subject, message)

	case models.StatusRejected:
		subject := fmt.Sprintf("Application %s rejected", id)
		message := fmt.Sprintf("Application %s for %s has been rejected. Reason: %s", id, clientName, app.RejectionReason)
		add(app.AssignedTo, ch.Staff, models.TypeApplicationRejected, subject, message)
		add(app.Client.UserID, ch.Client, models.TypeApplicationRejected, subject, message)

	default:
		subject := fmt.Sprintf("Application %s status updated", id)
		message := fmt.Sprintf("The status of application %s changed from %s to %s.", id, from.Label(), to.Label())
		add(app.Client.UserID, ch.Client, models.TypeApplicationStatusChanged, subject, message)
	}

	return out
}
