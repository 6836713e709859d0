package proctor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sentineledu/sentinel-backend/internal/model"
)

func TestClassify(t *testing.T) {
	at := time.Date(2026, 3, 9, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		sig     Signal
		kind    model.WarningKind
		prevent bool
	}{
		{"tab hidden", Signal{Kind: SignalTabHidden, At: at}, model.WarningTabSwitch, false},
		{"copy", Signal{Kind: SignalCopy, At: at}, model.WarningCopyAttempt, true},
		{"paste", Signal{Kind: SignalPaste, At: at}, model.WarningPasteAttempt, true},
		{"context menu", Signal{Kind: SignalContextMenu, At: at}, model.WarningContextMenu, true},
		{"before unload", Signal{Kind: SignalBeforeUnload, At: at}, model.WarningPageLeaveAttempt, true},
		{"resize", Signal{Kind: SignalResize, Detail: "800x600", At: at}, model.WarningWindowResize, false},
		{"blur", Signal{Kind: SignalBlur, At: at}, model.WarningFocusLost, false},
		{"devtools key", Signal{Kind: SignalKeyDown, Key: "F12", At: at}, model.WarningBlockedKey, true},
		{"refresh key", Signal{Kind: SignalKeyDown, Key: "f5", At: at}, model.WarningBlockedKey, true},
		{"inspector shortcut", Signal{Kind: SignalKeyDown, Key: "ctrl+shift+i", At: at}, model.WarningBlockedShortcut, true},
		{"shortcut modifier order", Signal{Kind: SignalKeyDown, Key: "shift+ctrl+I", At: at}, model.WarningBlockedShortcut, true},
		{"copy shortcut", Signal{Kind: SignalKeyDown, Key: "Ctrl+C", At: at}, model.WarningBlockedShortcut, true},
		{"app switch", Signal{Kind: SignalKeyDown, Key: "alt+tab", At: at}, model.WarningBlockedShortcut, true},
		{"padded key", Signal{Kind: SignalKeyDown, Key: " F12 ", At: at}, model.WarningBlockedKey, true},
		{"padded shortcut", Signal{Kind: SignalKeyDown, Key: " Ctrl+C ", At: at}, model.WarningBlockedShortcut, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cls, ok := Classify(tt.sig)
			require.True(t, ok)
			require.Equal(t, tt.kind, cls.Warning.Kind)
			require.Equal(t, tt.prevent, cls.Prevent)
			require.NotEmpty(t, cls.Warning.Message)
			require.Equal(t, at, cls.Warning.OccurredAt)
		})
	}
}

func TestClassifyIgnoresHarmlessSignals(t *testing.T) {
	harmless := []Signal{
		{Kind: SignalKeyDown, Key: "a"},
		{Kind: SignalKeyDown, Key: "Enter"},
		{Kind: SignalKeyDown, Key: "ctrl+z"},
		{Kind: SignalKind("mousemove")},
	}
	for _, sig := range harmless {
		_, ok := Classify(sig)
		require.False(t, ok, "signal %+v should not classify", sig)
	}
}

func TestSignalBusSubscribeUnsubscribe(t *testing.T) {
	bus := NewSignalBus()

	var got []Signal
	unsub, err := bus.Subscribe(func(sig Signal) { got = append(got, sig) })
	require.NoError(t, err)

	bus.Publish(Signal{Kind: SignalCopy})
	require.Len(t, got, 1)

	unsub()
	unsub() // duplicate unsubscribe is harmless

	bus.Publish(Signal{Kind: SignalPaste})
	require.Len(t, got, 1)
}
