package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"safemap/models"
	"safemap/utils"
)

var ErrNoDeliveryChannel = errors.New("recipient has no reachable delivery channel")

// UserNotifier delivers a frame to a connected user. It reports false when the
// user has no live connection. Implemented by the websocket hub.
type UserNotifier interface {
	SendToUser(userID string, message models.WSMessage) bool
}

// NotificationService is the emergency dispatcher. The authority is always
// reached by SMS. A contact is tried over push, then the live connection of
// their app account, then SMS, and the first channel that succeeds wins.
type NotificationService struct {
	smsService  *SMSService
	pushService *PushService
	notifier    UserNotifier
}

// NewNotificationService wires the available channels. pushService and
// notifier may be nil.
func NewNotificationService(smsService *SMSService, pushService *PushService, notifier UserNotifier) *NotificationService {
	return &NotificationService{
		smsService:  smsService,
		pushService: pushService,
		notifier:    notifier,
	}
}

func (ns *NotificationService) Dispatch(ctx context.Context, recipient models.Recipient, payload models.NotificationPayload) error {
	if recipient.Kind == models.RecipientAuthority {
		if ns.smsService == nil || recipient.Phone == "" {
			return ErrNoDeliveryChannel
		}
		return ns.smsService.SendAlert(ctx, recipient, payload)
	}

	var errs []error
	tried := false

	if ns.pushService != nil && recipient.DeviceToken != "" {
		tried = true
		err := ns.pushService.SendAlert(ctx, recipient, payload)
		if err == nil {
			return nil
		}
		errs = append(errs, err)
	}

	if ns.notifier != nil && recipient.AppUserID != "" {
		tried = true
		if ns.notifier.SendToUser(recipient.AppUserID, alertFrame(payload)) {
			logrus.WithFields(logrus.Fields{
				"sessionId": payload.SessionID,
				"recipient": recipient.Name,
			}).Info("Emergency alert delivered over websocket")
			return nil
		}
		errs = append(errs, fmt.Errorf("app user %s is offline", recipient.AppUserID))
	}

	if ns.smsService != nil && recipient.Phone != "" {
		tried = true
		err := ns.smsService.SendAlert(ctx, recipient, payload)
		if err == nil {
			return nil
		}
		errs = append(errs, err)
	}

	if !tried {
		return ErrNoDeliveryChannel
	}
	return errors.Join(errs...)
}

func alertFrame(payload models.NotificationPayload) models.WSMessage {
	return models.WSMessage{
		Type:      models.WSTypeAlert,
		Data:      payload,
		UserID:    payload.UserID,
		Timestamp: time.Now(),
	}
}

// LogSender stands in for Twilio and FCM when they are not configured. Every
// message is logged and reported as delivered.
type LogSender struct {
	logger *logrus.Entry
}

func NewLogSender(logger *logrus.Entry) *LogSender {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &LogSender{logger: logger}
}

func (ls *LogSender) SendSMS(ctx context.Context, to, body string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id := "log-" + utils.GenerateUUID()
	ls.logger.WithFields(logrus.Fields{
		"channel": "sms",
		"to":      utils.MaskPhoneNumber(to),
		"id":      id,
	}).Info(body)
	return id, nil
}

func (ls *LogSender) SendPush(ctx context.Context, deviceToken string, notification utils.PushNotification) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id := "log-" + utils.GenerateUUID()
	ls.logger.WithFields(logrus.Fields{
		"channel": "push",
		"title":   notification.Title,
		"silent":  notification.Silent,
		"id":      id,
	}).Info(notification.Body)
	return id, nil
}
