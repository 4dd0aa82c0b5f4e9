package services

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"safemap/models"
	"safemap/utils"
)

// PushSender is implemented by utils.NotificationService (FCM) and LogSender.
type PushSender interface {
	SendPush(ctx context.Context, deviceToken string, notification utils.PushNotification) (string, error)
}

type PushService struct {
	sender PushSender
}

func NewPushService(sender PushSender) *PushService {
	return &PushService{sender: sender}
}

func (ps *PushService) SendAlert(ctx context.Context, recipient models.Recipient, payload models.NotificationPayload) error {
	if recipient.DeviceToken == "" {
		return fmt.Errorf("recipient %s has no device token", recipient.Name)
	}

	notification := utils.PushNotification{
		Title:  payload.Title,
		Body:   payload.Message,
		Data:   payload.Data(),
		Silent: payload.Silent,
	}

	messageID, err := ps.sender.SendPush(ctx, recipient.DeviceToken, notification)
	if err != nil {
		return fmt.Errorf("push to %s: %w", recipient.Name, err)
	}

	logrus.WithFields(logrus.Fields{
		"sessionId": payload.SessionID,
		"recipient": recipient.Name,
		"messageId": messageID,
	}).Info("Emergency push sent")
	return nil
}
