// Package command maps discrete user intents to workflow actions. The
// dispatcher is the session's single key listener: a fixed set of named
// intents, each bound to one key chord, suppressed inside free-text inputs
// (save excepted) and disabled once the encounter is read-only (help
// excepted).
package command

import (
	"context"
	"errors"
	"sync"
)

// Intent names a workflow action.
type Intent string

const (
	IntentSave            Intent = "save"
	IntentAddPrescription Intent = "add-prescription"
	IntentAddLabOrder     Intent = "add-lab-order"
	IntentComplete        Intent = "complete"
	IntentHelp            Intent = "help"
)

var (
	// ErrUnbound is returned for a keystroke with no binding or an intent
	// with no registered handler.
	ErrUnbound = errors.New("command: no binding for keystroke")
	// ErrSuppressed is returned when focus is inside a free-text input and
	// the intent is not save.
	ErrSuppressed = errors.New("command: suppressed while typing")
	// ErrReadOnly is returned once the encounter is completed, for every
	// intent except help.
	ErrReadOnly = errors.New("command: encounter is read-only")
	// ErrClosed is returned after the dispatcher has been detached.
	ErrClosed = errors.New("command: dispatcher closed")
)

// Keystroke is one key event as reported by the session view.
type Keystroke struct {
	Key         string `json:"key"`
	Ctrl        bool   `json:"ctrl"`
	Alt         bool   `json:"alt"`
	InTextInput bool   `json:"in_text_input"`
}

// Binding is a key chord.
type Binding struct {
	Key  string
	Ctrl bool
	Alt  bool
}

// Handler executes one intent.
type Handler func(ctx context.Context) error

// Dispatcher routes keystrokes to handlers for one session.
type Dispatcher struct {
	readOnly func() bool

	mu       sync.Mutex
	bindings map[Binding]Intent
	handlers map[Intent]Handler
	closed   bool
}

// NewDispatcher creates a dispatcher with the default chords. readOnly is
// consulted on every dispatch.
func NewDispatcher(readOnly func() bool) *Dispatcher {
	return &Dispatcher{
		readOnly: readOnly,
		bindings: map[Binding]Intent{
			{Key: "s", Ctrl: true}:     IntentSave,
			{Key: "p", Ctrl: true}:     IntentAddPrescription,
			{Key: "l", Ctrl: true}:     IntentAddLabOrder,
			{Key: "enter", Ctrl: true}: IntentComplete,
			{Key: "?"}:                 IntentHelp,
		},
		handlers: make(map[Intent]Handler),
	}
}

// Bind registers the handler for an intent, replacing any previous one.
func (d *Dispatcher) Bind(intent Intent, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[intent] = h
}

// Dispatch resolves a keystroke and runs its handler. It returns the
// resolved intent (when any) alongside the outcome, so callers can report
// what was suppressed or blocked.
func (d *Dispatcher) Dispatch(ctx context.Context, ks Keystroke) (Intent, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return "", ErrClosed
	}
	intent, ok := d.bindings[Binding{Key: ks.Key, Ctrl: ks.Ctrl, Alt: ks.Alt}]
	if !ok {
		d.mu.Unlock()
		return "", ErrUnbound
	}
	handler := d.handlers[intent]
	d.mu.Unlock()

	// Typing must never trigger workflow actions, with the deliberate
	// exception of save-while-typing.
	if ks.InTextInput && intent != IntentSave {
		return intent, ErrSuppressed
	}
	if intent != IntentHelp && d.readOnly != nil && d.readOnly() {
		return intent, ErrReadOnly
	}
	if handler == nil {
		return intent, ErrUnbound
	}
	return intent, handler(ctx)
}

// Close detaches the dispatcher; further keystrokes are rejected.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.handlers = make(map[Intent]Handler)
}
