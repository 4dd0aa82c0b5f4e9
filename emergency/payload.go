package emergency

import (
	"fmt"
	"strings"

	"safemap/models"
)

const defaultSenderName = "A SafeMap user"

func buildPayload(rec *models.EmergencySession, policy Policy, task models.NotificationTask) models.NotificationPayload {
	sender := policy.SenderName
	if sender == "" {
		sender = defaultSenderName
	}

	p := models.NotificationPayload{
		SessionID:     rec.ID,
		UserID:        rec.UserID,
		SenderName:    sender,
		TriggerMethod: rec.TriggerMethod,
		Recipient:     task.Recipient,
		Title:         "Emergency Alert",
		Attempt:       task.Attempts,
		Silent:        rec.Silent,
	}
	if rec.ArmedAt != nil {
		p.ArmedAt = *rec.ArmedAt
	}
	if rec.Location != nil {
		loc := *rec.Location
		p.Location = &loc
		p.MapsURL = models.MapsURL(&loc)
	} else {
		p.LocationUnavailable = true
	}
	p.Message = alertMessage(p)
	return p
}

func alertMessage(p models.NotificationPayload) string {
	var b strings.Builder
	if p.Recipient.Kind == models.RecipientAuthority {
		fmt.Fprintf(&b, "EMERGENCY: %s has triggered an SOS alert.", p.SenderName)
	} else {
		fmt.Fprintf(&b, "Emergency alert from %s. They may be in danger and need help.", p.SenderName)
	}
	if p.LocationUnavailable {
		b.WriteString(" Location unavailable.")
	} else {
		fmt.Fprintf(&b, " Location: %s", p.MapsURL)
	}
	fmt.Fprintf(&b, " Ref: %s", shortRef(p.SessionID))
	return b.String()
}

func shortRef(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
