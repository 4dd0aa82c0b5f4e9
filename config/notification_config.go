package config

import (
	"context"

	"github.com/sirupsen/logrus"

	"safemap/services"
	"safemap/utils"
)

// NotificationCredentials extracts the provider settings.
func (c *Config) NotificationCredentials() utils.NotificationCredentials {
	return utils.NotificationCredentials{
		FirebaseCredentialsPath: c.FirebaseCredentialsPath,
		FirebaseProjectID:       c.FirebaseProjectID,
		TwilioAccountSID:        c.TwilioAccountSID,
		TwilioAuthToken:         c.TwilioAuthToken,
		TwilioPhoneNumber:       c.TwilioPhoneNumber,
	}
}

// InitializeNotificationServices builds the emergency dispatcher. Twilio
// falls back to a logging sender when it is not configured, so the authority
// and SMS contacts still see an attempt in the logs. Push is left out
// entirely without Firebase and contacts move on to their next channel.
func InitializeNotificationServices(ctx context.Context, cfg *Config, notifier services.UserNotifier) (*services.NotificationService, error) {
	providers, err := utils.NewNotificationService(ctx, cfg.NotificationCredentials())
	if err != nil {
		return nil, err
	}

	logSender := services.NewLogSender(logrus.WithField("component", "dispatch"))

	var smsSender services.SMSSender = logSender
	if providers.SMSEnabled() {
		smsSender = providers
		logrus.Info("Twilio SMS dispatcher enabled")
	} else {
		logrus.Warn("Twilio not configured, SMS alerts will only be logged")
	}

	var pushService *services.PushService
	if providers.PushEnabled() {
		pushService = services.NewPushService(providers)
		logrus.Info("FCM push dispatcher enabled")
	} else {
		logrus.Warn("Firebase not configured, push alerts disabled")
	}

	smsService := services.NewSMSService(smsSender, cfg.DefaultCountryCode)
	return services.NewNotificationService(smsService, pushService, notifier), nil
}
