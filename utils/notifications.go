package utils

import (
	"context"
	"errors"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
	"google.golang.org/api/option"
)

var (
	ErrPushNotConfigured = errors.New("push notifications are not configured")
	ErrSMSNotConfigured  = errors.New("sms is not configured")
)

// NotificationCredentials are the provider settings loaded from the environment.
type NotificationCredentials struct {
	FirebaseCredentialsPath string
	FirebaseProjectID       string
	TwilioAccountSID        string
	TwilioAuthToken         string
	TwilioPhoneNumber       string
}

// NotificationService wraps the FCM and Twilio clients. Either client may be
// absent; the corresponding Send method then fails with a not-configured error.
type NotificationService struct {
	fcmClient    *messaging.Client
	twilioClient *twilio.RestClient
	twilioNumber string
}

type PushNotification struct {
	Title  string            `json:"title"`
	Body   string            `json:"body"`
	Data   map[string]string `json:"data"`
	Sound  string            `json:"sound,omitempty"`
	Silent bool              `json:"silent"`
}

func NewNotificationService(ctx context.Context, creds NotificationCredentials) (*NotificationService, error) {
	ns := &NotificationService{twilioNumber: creds.TwilioPhoneNumber}

	if creds.FirebaseCredentialsPath != "" {
		opt := option.WithCredentialsFile(creds.FirebaseCredentialsPath)
		var conf *firebase.Config
		if creds.FirebaseProjectID != "" {
			conf = &firebase.Config{ProjectID: creds.FirebaseProjectID}
		}
		app, err := firebase.NewApp(ctx, conf, opt)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Firebase: %w", err)
		}

		ns.fcmClient, err = app.Messaging(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize FCM client: %w", err)
		}
	}

	if creds.TwilioAccountSID != "" && creds.TwilioAuthToken != "" && creds.TwilioPhoneNumber != "" {
		ns.twilioClient = twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: creds.TwilioAccountSID,
			Password: creds.TwilioAuthToken,
		})
	}

	return ns, nil
}

func (ns *NotificationService) PushEnabled() bool {
	return ns != nil && ns.fcmClient != nil
}

func (ns *NotificationService) SMSEnabled() bool {
	return ns != nil && ns.twilioClient != nil
}

// SendPush delivers a high-priority push. Silent pushes wake the app without
// an audible alert.
func (ns *NotificationService) SendPush(ctx context.Context, deviceToken string, notification PushNotification) (string, error) {
	if !ns.PushEnabled() {
		return "", ErrPushNotConfigured
	}

	sound := notification.Sound
	if sound == "" && !notification.Silent {
		sound = "default"
	}

	message := &messaging.Message{
		Token: deviceToken,
		Notification: &messaging.Notification{
			Title: notification.Title,
			Body:  notification.Body,
		},
		Data: notification.Data,
		Android: &messaging.AndroidConfig{
			Priority: "high",
			Notification: &messaging.AndroidNotification{
				Sound:     sound,
				Icon:      "ic_notification",
				Color:     "#D32F2F",
				ChannelID: "emergency",
			},
		},
		APNS: &messaging.APNSConfig{
			Headers: map[string]string{"apns-priority": "10"},
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{
					Alert: &messaging.ApsAlert{
						Title: notification.Title,
						Body:  notification.Body,
					},
					Sound:            sound,
					ContentAvailable: notification.Silent,
				},
			},
		},
	}

	return ns.fcmClient.Send(ctx, message)
}

// SendSMS returns the provider message SID.
func (ns *NotificationService) SendSMS(ctx context.Context, to, body string) (string, error) {
	if !ns.SMSEnabled() {
		return "", ErrSMSNotConfigured
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	params := &twilioApi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(ns.twilioNumber)
	params.SetBody(body)

	resp, err := ns.twilioClient.Api.CreateMessage(params)
	if err != nil {
		return "", err
	}
	if resp.Sid == nil {
		return "", nil
	}
	return *resp.Sid, nil
}
