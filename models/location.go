package models

import (
	"fmt"
	"strconv"
	"time"
)

// LocationUpdateRequest is a fix pushed by the device while location sharing is on.
type LocationUpdateRequest struct {
	Latitude   float64 `json:"latitude" validate:"latitude"`
	Longitude  float64 `json:"longitude" validate:"longitude"`
	Accuracy   float64 `json:"accuracy" validate:"min=0"`
	DeviceTime string  `json:"deviceTime,omitempty"` // RFC3339 format
}

// ToPosition converts the request, falling back to now for a missing or malformed device time.
func (r LocationUpdateRequest) ToPosition(now time.Time) Position {
	captured := now
	if r.DeviceTime != "" {
		if t, err := time.Parse(time.RFC3339, r.DeviceTime); err == nil {
			captured = t
		}
	}
	return Position{
		Latitude:   r.Latitude,
		Longitude:  r.Longitude,
		Accuracy:   r.Accuracy,
		CapturedAt: captured,
	}
}

type LocationPermissionRequest struct {
	Granted bool   `json:"granted"`
	Reason  string `json:"reason,omitempty"`
}

// MapsURL links a position on Google Maps for SMS bodies.
func MapsURL(p *Position) string {
	if p == nil {
		return ""
	}
	return fmt.Sprintf("https://maps.google.com/?q=%s,%s", formatCoordinate(p.Latitude), formatCoordinate(p.Longitude))
}

func formatCoordinate(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}
