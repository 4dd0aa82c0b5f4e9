package triggers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"safemap/emergency"
	"safemap/models"
)

type mockSink struct {
	mock.Mock
}

func (m *mockSink) Activate(ctx context.Context, userID string, method models.TriggerMethod) (emergency.CommandResult, error) {
	args := m.Called(ctx, userID, method)
	return args.Get(0).(emergency.CommandResult), args.Error(1)
}

func (m *mockSink) Release(ctx context.Context, userID string) (emergency.CommandResult, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(emergency.CommandResult), args.Error(1)
}

func (m *mockSink) Cancel(ctx context.Context, userID string) (emergency.CommandResult, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(emergency.CommandResult), args.Error(1)
}

func TestVoiceMatcher(t *testing.T) {
	m := NewVoiceMatcher(nil)

	cases := []struct {
		transcript string
		phrase     string
		ok         bool
	}{
		{"Please HELP ME now", "help me", true},
		{"this is an emergency!", "emergency", true},
		{"I need help, call police", "i need help", true},
		{"I feel unsafe here", "unsafe", true},
		{"the species is endangered", "", false},
		{"helpme", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		phrase, ok := m.Match(tc.transcript)
		assert.Equal(t, tc.ok, ok, tc.transcript)
		assert.Equal(t, tc.phrase, phrase, tc.transcript)
	}

	custom := NewVoiceMatcher([]string{"  Pineapple  Express ", "!!"})
	assert.Equal(t, []string{"pineapple express"}, custom.Phrases())
	_, ok := custom.Match("code word: pineapple... express")
	assert.True(t, ok)
}

func TestParseHotkey(t *testing.T) {
	h, err := ParseHotkey("Ctrl+Shift+E")
	require.NoError(t, err)
	assert.Equal(t, Hotkey{Key: "e", Ctrl: true, Shift: true}, h)
	assert.Equal(t, "ctrl+shift+e", h.String())

	assert.True(t, h.Matches(models.HotkeyTriggerRequest{Key: "E", Ctrl: true, Shift: true}))
	assert.False(t, h.Matches(models.HotkeyTriggerRequest{Key: "E", Ctrl: true}))
	assert.False(t, h.Matches(models.HotkeyTriggerRequest{Key: "E", Ctrl: true, Shift: true, Alt: true}))
	assert.False(t, h.Matches(models.HotkeyTriggerRequest{Key: "r", Ctrl: true, Shift: true}))

	for _, bad := range []string{"", "ctrl+", "ctrl+shift", "a+b"} {
		_, err := ParseHotkey(bad)
		assert.Error(t, err, bad)
	}
}

func strong(at int64) models.AccelerationSample {
	return models.AccelerationSample{X: 20, Y: 15, Z: 9.8, RecordedAt: at}
}

func still(at int64) models.AccelerationSample {
	return models.AccelerationSample{Z: 9.8, RecordedAt: at}
}

func TestShakeDetector(t *testing.T) {
	d := NewShakeDetector(0, 0, 0)

	assert.False(t, d.Observe("dev", []models.AccelerationSample{still(0), strong(100), still(200), strong(300)}))
	assert.True(t, d.Observe("dev", []models.AccelerationSample{strong(900)}))

	// History is cleared after a detection.
	assert.False(t, d.Observe("dev", []models.AccelerationSample{strong(1000), strong(1100)}))

	// Peaks outside the window do not count.
	other := NewShakeDetector(25, 3, time.Second)
	assert.False(t, other.Observe("dev", []models.AccelerationSample{strong(0), strong(600), strong(1700), strong(2800)}))

	// Unordered samples are sorted before evaluation.
	assert.True(t, other.Observe("dev2", []models.AccelerationSample{strong(500), strong(100), strong(300)}))

	other.Observe("dev3", []models.AccelerationSample{strong(0), strong(10)})
	other.Reset("dev3")
	assert.False(t, other.Observe("dev3", []models.AccelerationSample{strong(20)}))
}

func TestRouterDispatchesMatchedInputs(t *testing.T) {
	ctx := context.Background()
	sink := &mockSink{}
	accepted := emergency.CommandResult{Accepted: true}

	sink.On("Activate", ctx, "u1", models.TriggerVoice).Return(accepted, nil).Once()
	sink.On("Activate", ctx, "u1", models.TriggerHotkey).Return(accepted, nil).Once()
	sink.On("Activate", ctx, "u1", models.TriggerButtonHold).Return(accepted, nil).Once()
	sink.On("Release", ctx, "u1").Return(emergency.CommandResult{Reason: emergency.ReasonNotHolding}, nil).Once()

	r, err := NewRouter(sink, Config{})
	require.NoError(t, err)

	out, err := r.Voice(ctx, "u1", models.VoiceTriggerRequest{Transcript: "nice weather"})
	require.NoError(t, err)
	assert.False(t, out.Matched)

	out, err = r.Voice(ctx, "u1", models.VoiceTriggerRequest{Transcript: "somebody help me"})
	require.NoError(t, err)
	assert.True(t, out.Matched)
	assert.Equal(t, "help me", out.Detail)
	assert.True(t, out.Result.Accepted)

	out, err = r.Hotkey(ctx, "u1", models.HotkeyTriggerRequest{Key: "E", Ctrl: true, Shift: true})
	require.NoError(t, err)
	assert.True(t, out.Matched)

	out, err = r.Hotkey(ctx, "u1", models.HotkeyTriggerRequest{Key: "E"})
	require.NoError(t, err)
	assert.False(t, out.Matched)

	_, err = r.Press(ctx, "u1")
	require.NoError(t, err)
	out, err = r.Release(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, emergency.ReasonNotHolding, out.Result.Reason)

	sink.AssertExpectations(t)
	sink.AssertNotCalled(t, "Activate", ctx, "u1", models.TriggerShake)
}

func TestRouterCancelDropsPartialShake(t *testing.T) {
	ctx := context.Background()
	sink := &mockSink{}
	sink.On("Cancel", ctx, "u1").Return(emergency.CommandResult{Accepted: true}, nil).Once()

	r, err := NewRouter(sink, Config{})
	require.NoError(t, err)

	out, err := r.Shake(ctx, "u1", models.ShakeTriggerRequest{Samples: []models.AccelerationSample{strong(0), strong(100)}})
	require.NoError(t, err)
	assert.False(t, out.Matched)

	out, err = r.Cancel(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, out.Matched)
	assert.Equal(t, "cancel", out.Detail)
	assert.True(t, out.Result.Accepted)

	// Two peaks were pending; without the reset this third one would fire.
	out, err = r.Shake(ctx, "u1", models.ShakeTriggerRequest{Samples: []models.AccelerationSample{strong(200)}})
	require.NoError(t, err)
	assert.False(t, out.Matched)

	sink.AssertExpectations(t)
	sink.AssertNotCalled(t, "Activate", mock.Anything, mock.Anything, mock.Anything)
}

func TestRouterPropagatesSinkErrors(t *testing.T) {
	ctx := context.Background()
	sink := &mockSink{}
	sink.On("Activate", mock.Anything, mock.Anything, models.TriggerShake).
		Return(emergency.CommandResult{}, errors.New("store down"))

	r, err := NewRouter(sink, Config{ShakeCount: 1})
	require.NoError(t, err)

	_, err = r.Shake(ctx, "u1", models.ShakeTriggerRequest{Samples: []models.AccelerationSample{strong(1)}})
	assert.EqualError(t, err, "store down")

	_, err = NewRouter(sink, Config{Hotkey: "ctrl+"})
	assert.Error(t, err)
}
