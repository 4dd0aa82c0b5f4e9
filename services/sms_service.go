package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"safemap/models"
	"safemap/utils"
)

// Longer bodies are split by the carrier; keep alerts within a few segments.
const maxSMSLength = 480

// SMSSender is the transport behind SMSService. utils.NotificationService
// implements it with Twilio; LogSender stands in when Twilio is not configured.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) (string, error)
}

type SMSService struct {
	sender             SMSSender
	defaultCountryCode string
}

func NewSMSService(sender SMSSender, defaultCountryCode string) *SMSService {
	if defaultCountryCode == "" {
		defaultCountryCode = "1"
	}
	return &SMSService{
		sender:             sender,
		defaultCountryCode: strings.TrimPrefix(defaultCountryCode, "+"),
	}
}

// SendAlert texts the payload to the recipient's phone.
func (ss *SMSService) SendAlert(ctx context.Context, recipient models.Recipient, payload models.NotificationPayload) error {
	if recipient.Phone == "" {
		return fmt.Errorf("recipient %s has no phone number", recipient.Name)
	}

	to := ss.FormatPhoneNumber(recipient.Phone)
	sid, err := ss.sender.SendSMS(ctx, to, ss.formatSMSContent(payload))
	if err != nil {
		return fmt.Errorf("sms to %s: %w", utils.MaskPhoneNumber(to), err)
	}

	logrus.WithFields(logrus.Fields{
		"sessionId": payload.SessionID,
		"recipient": recipient.Name,
		"to":        utils.MaskPhoneNumber(to),
		"sid":       sid,
	}).Info("Emergency SMS sent")
	return nil
}

func (ss *SMSService) formatSMSContent(payload models.NotificationPayload) string {
	content := payload.Message
	if payload.Title != "" {
		content = fmt.Sprintf("%s: %s", strings.ToUpper(payload.Title), content)
	}

	if len(content) > maxSMSLength {
		content = content[:maxSMSLength-3] + "..."
	}
	return content
}

// FormatPhoneNumber converts a stored number to E.164. Short codes such as
// 112 are dialled as-is.
func (ss *SMSService) FormatPhoneNumber(phoneNumber string) string {
	cleaned := ""
	for _, char := range phoneNumber {
		if char >= '0' && char <= '9' {
			cleaned += string(char)
		}
	}

	if strings.HasPrefix(strings.TrimSpace(phoneNumber), "+") {
		return "+" + cleaned
	}
	if len(cleaned) <= 6 {
		return cleaned
	}
	if strings.HasPrefix(cleaned, "00") {
		return "+" + cleaned[2:]
	}
	return "+" + ss.defaultCountryCode + strings.TrimPrefix(cleaned, "0")
}
