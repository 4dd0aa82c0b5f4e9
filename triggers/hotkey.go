package triggers

import (
	"fmt"
	"strings"

	"safemap/models"
)

const DefaultHotkey = "ctrl+shift+e"

// Hotkey is a parsed key chord such as "ctrl+shift+e".
type Hotkey struct {
	Key   string
	Ctrl  bool
	Shift bool
	Alt   bool
	Meta  bool
}

func ParseHotkey(chord string) (Hotkey, error) {
	var h Hotkey
	parts := strings.Split(strings.ToLower(strings.TrimSpace(chord)), "+")
	for _, part := range parts {
		part = strings.TrimSpace(part)
		switch part {
		case "ctrl", "control":
			h.Ctrl = true
		case "shift":
			h.Shift = true
		case "alt", "option":
			h.Alt = true
		case "meta", "cmd", "super":
			h.Meta = true
		case "":
			return Hotkey{}, fmt.Errorf("invalid hotkey %q: empty segment", chord)
		default:
			if h.Key != "" {
				return Hotkey{}, fmt.Errorf("invalid hotkey %q: more than one key", chord)
			}
			h.Key = part
		}
	}
	if h.Key == "" {
		return Hotkey{}, fmt.Errorf("invalid hotkey %q: no key", chord)
	}
	return h, nil
}

// Matches compares a key event against the chord. Keys compare
// case-insensitively because browsers report "E" while shift is held.
func (h Hotkey) Matches(ev models.HotkeyTriggerRequest) bool {
	return strings.EqualFold(ev.Key, h.Key) &&
		ev.Ctrl == h.Ctrl &&
		ev.Shift == h.Shift &&
		ev.Alt == h.Alt &&
		ev.Meta == h.Meta
}

func (h Hotkey) String() string {
	var parts []string
	if h.Ctrl {
		parts = append(parts, "ctrl")
	}
	if h.Alt {
		parts = append(parts, "alt")
	}
	if h.Shift {
		parts = append(parts, "shift")
	}
	if h.Meta {
		parts = append(parts, "meta")
	}
	return strings.Join(append(parts, h.Key), "+")
}
