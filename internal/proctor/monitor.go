package proctor

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sentineledu/sentinel-backend/internal/model"
)

// SignalKind identifies a raw environment signal reported by the exam
// client. Signals are classified server-side into warnings; unknown or
// non-denylisted signals produce no warning.
type SignalKind string

const (
	SignalTabHidden    SignalKind = "tab_hidden"
	SignalCopy         SignalKind = "copy"
	SignalPaste        SignalKind = "paste"
	SignalContextMenu  SignalKind = "context_menu"
	SignalKeyDown      SignalKind = "key_down"
	SignalBeforeUnload SignalKind = "before_unload"
	SignalResize       SignalKind = "resize"
	SignalBlur         SignalKind = "blur"
)

// Signal is one raw integrity event. Key carries the normalized key or
// modifier combination for key_down signals (e.g. "F12", "ctrl+shift+i");
// Detail is free-form context such as new viewport dimensions.
type Signal struct {
	Kind   SignalKind `json:"kind"`
	Key    string     `json:"key,omitempty"`
	Detail string     `json:"detail,omitempty"`
	At     time.Time  `json:"at"`
}

// SignalHandler receives classified-or-not raw signals.
type SignalHandler func(Signal)

// Monitor is the seam between the environment producing integrity
// signals and the session consuming them. The WebSocket stream is the
// production binding; tests subscribe a session to a SignalBus and
// publish synchronously.
type Monitor interface {
	// Subscribe registers a handler and returns an unsubscribe
	// function. Unsubscribing must be safe on every exit path.
	Subscribe(h SignalHandler) (func(), error)
}

// SignalBus is a trivial in-process Monitor: handlers are invoked
// synchronously, in subscription order, on the publishing goroutine.
type SignalBus struct {
	mu   sync.Mutex
	subs map[int]SignalHandler
	next int
}

// NewSignalBus returns an empty bus.
func NewSignalBus() *SignalBus {
	return &SignalBus{subs: make(map[int]SignalHandler)}
}

// Subscribe implements Monitor.
func (b *SignalBus) Subscribe(h SignalHandler) (func(), error) {
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = h
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}, nil
}

// Publish delivers a signal to every current subscriber.
func (b *SignalBus) Publish(sig Signal) {
	b.mu.Lock()
	handlers := make([]SignalHandler, 0, len(b.subs))
	for _, h := range b.subs {
		handlers = append(handlers, h)
	}
	b.mu.Unlock()

	for _, h := range handlers {
		h(sig)
	}
}

// blockedKeys are single keys the client must suppress: dev tools,
// refresh and the fullscreen toggle.
var blockedKeys = map[string]string{
	"f12": "developer tools",
	"f5":  "page refresh",
	"f11": "fullscreen toggle",
}

// blockedShortcuts are modifier combinations the client must suppress.
var blockedShortcuts = map[string]string{
	"ctrl+shift+i": "inspector",
	"ctrl+shift+j": "developer console",
	"ctrl+shift+c": "element picker",
	"ctrl+u":       "view source",
	"ctrl+s":       "save page",
	"ctrl+p":       "print",
	"ctrl+a":       "select all",
	"ctrl+c":       "copy",
	"ctrl+v":       "paste",
	"ctrl+x":       "cut",
	"ctrl+r":       "page refresh",
	"ctrl+h":       "browser history",
	"alt+tab":      "application switch",
	"meta+tab":     "application switch",
}

// Classification is the outcome of classifying one raw signal.
type Classification struct {
	Warning model.Warning
	// Prevent tells the client whether its default action should have
	// been suppressed. Tab switches, blur and resize cannot be
	// prevented; everything else can.
	Prevent bool
}

// Classify translates a raw signal into at most one warning. The
// second return is false when the signal is not a recognized
// violation (e.g. a key press outside the denylist).
func Classify(sig Signal) (Classification, bool) {
	switch sig.Kind {
	case SignalTabHidden:
		return warn(sig, model.WarningTabSwitch, "Switched away from the exam tab.", false), true
	case SignalCopy:
		return warn(sig, model.WarningCopyAttempt, "Copying exam content is not allowed.", true), true
	case SignalPaste:
		return warn(sig, model.WarningPasteAttempt, "Pasting into the exam is not allowed.", true), true
	case SignalContextMenu:
		return warn(sig, model.WarningContextMenu, "The context menu is disabled during the exam.", true), true
	case SignalBeforeUnload:
		return warn(sig, model.WarningPageLeaveAttempt, "Attempted to leave the exam page.", true), true
	case SignalResize:
		msg := "Exam window was resized."
		if sig.Detail != "" {
			msg = fmt.Sprintf("Exam window was resized (%s).", sig.Detail)
		}
		return warn(sig, model.WarningWindowResize, msg, false), true
	case SignalBlur:
		return warn(sig, model.WarningFocusLost, "Exam window lost focus.", false), true
	case SignalKeyDown:
		key := normalizeKey(sig.Key)
		if desc, ok := blockedShortcuts[key]; ok {
			return warn(sig, model.WarningBlockedShortcut,
				fmt.Sprintf("Blocked shortcut %s (%s).", key, desc), true), true
		}
		if desc, ok := blockedKeys[key]; ok {
			return warn(sig, model.WarningBlockedKey,
				fmt.Sprintf("Blocked key %s (%s).", strings.ToUpper(key), desc), true), true
		}
		return Classification{}, false
	default:
		return Classification{}, false
	}
}

func warn(sig Signal, kind model.WarningKind, msg string, prevent bool) Classification {
	return Classification{
		Warning: model.Warning{Kind: kind, Message: msg, OccurredAt: sig.At},
		Prevent: prevent,
	}
}

// normalizeKey lowercases a combination and orders its modifiers the
// way the denylist spells them (ctrl, alt, meta, shift, then the key).
func normalizeKey(raw string) string {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	parts := strings.Split(normalized, "+")
	if len(parts) <= 1 {
		return normalized
	}

	var mods []string
	var key string
	for _, p := range parts {
		switch p {
		case "ctrl", "control":
			mods = append(mods, "ctrl")
		case "alt":
			mods = append(mods, "alt")
		case "meta", "cmd", "super":
			mods = append(mods, "meta")
		case "shift":
			mods = append(mods, "shift")
		default:
			key = p
		}
	}

	order := map[string]int{"ctrl": 0, "alt": 1, "meta": 2, "shift": 3}
	for i := 0; i < len(mods); i++ {
		for j := i + 1; j < len(mods); j++ {
			if order[mods[j]] < order[mods[i]] {
				mods[i], mods[j] = mods[j], mods[i]
			}
		}
	}

	if key == "" {
		return strings.Join(mods, "+")
	}
	return strings.Join(append(mods, key), "+")
}
