package triggers

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"safemap/emergency"
	"safemap/models"
)

// Sink receives the events every trigger source produces.
type Sink interface {
	Activate(ctx context.Context, userID string, method models.TriggerMethod) (emergency.CommandResult, error)
	Release(ctx context.Context, userID string) (emergency.CommandResult, error)
	Cancel(ctx context.Context, userID string) (emergency.CommandResult, error)
}

// Outcome describes what a raw input did. Matched is false when the input was
// not a trigger at all, in which case the sink was never called.
type Outcome struct {
	Matched bool
	Detail  string
	Result  emergency.CommandResult
}

type Config struct {
	VoicePhrases   []string
	Hotkey         string
	ShakeThreshold float64
	ShakeCount     int
	ShakeWindow    time.Duration
}

// Router turns raw inputs from every modality into activation events.
type Router struct {
	sink   Sink
	voice  *VoiceMatcher
	hotkey Hotkey
	shake  *ShakeDetector
}

func NewRouter(sink Sink, cfg Config) (*Router, error) {
	chord := cfg.Hotkey
	if chord == "" {
		chord = DefaultHotkey
	}
	hk, err := ParseHotkey(chord)
	if err != nil {
		return nil, err
	}
	return &Router{
		sink:   sink,
		voice:  NewVoiceMatcher(cfg.VoicePhrases),
		hotkey: hk,
		shake:  NewShakeDetector(cfg.ShakeThreshold, cfg.ShakeCount, cfg.ShakeWindow),
	}, nil
}

// Press starts a press-and-hold activation.
func (r *Router) Press(ctx context.Context, userID string) (Outcome, error) {
	return r.fire(ctx, userID, models.TriggerButtonHold, "button")
}

// Release ends a press-and-hold. Releasing after the countdown is harmless.
func (r *Router) Release(ctx context.Context, userID string) (Outcome, error) {
	res, err := r.sink.Release(ctx, userID)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Matched: true, Detail: "button", Result: res}, nil
}

// Cancel ends the episode and drops any partial shake so stray peaks left
// over from it cannot re-arm.
func (r *Router) Cancel(ctx context.Context, userID string) (Outcome, error) {
	r.shake.Reset(userID)
	res, err := r.sink.Cancel(ctx, userID)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Matched: true, Detail: "cancel", Result: res}, nil
}

func (r *Router) Voice(ctx context.Context, userID string, req models.VoiceTriggerRequest) (Outcome, error) {
	phrase, ok := r.voice.Match(req.Transcript)
	if !ok {
		return Outcome{}, nil
	}
	return r.fire(ctx, userID, models.TriggerVoice, phrase)
}

func (r *Router) Hotkey(ctx context.Context, userID string, req models.HotkeyTriggerRequest) (Outcome, error) {
	if !r.hotkey.Matches(req) {
		return Outcome{}, nil
	}
	return r.fire(ctx, userID, models.TriggerHotkey, r.hotkey.String())
}

func (r *Router) Shake(ctx context.Context, userID string, req models.ShakeTriggerRequest) (Outcome, error) {
	if !r.shake.Observe(userID, req.Samples) {
		return Outcome{}, nil
	}
	return r.fire(ctx, userID, models.TriggerShake, "shake")
}

func (r *Router) fire(ctx context.Context, userID string, method models.TriggerMethod, detail string) (Outcome, error) {
	logrus.WithFields(logrus.Fields{
		"userId": userID,
		"method": method,
		"detail": detail,
	}).Debug("Trigger matched")

	res, err := r.sink.Activate(ctx, userID, method)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Matched: true, Detail: detail, Result: res}, nil
}
