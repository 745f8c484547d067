// Package transport defines the boundary between the session engine and the
// messaging channel that carries events in and effects out. The engine never
// inspects an Event beyond its Kind and Name; everything else is passed
// through to the contexts that interpret it.
package transport

import (
	"context"
	"strings"
)

// ActorID identifies an independent conversation partner. It is opaque.
type ActorID string

// MessageID identifies a message previously sent or received through a
// Transport.
type MessageID string

// EventKind identifies the category of an inbound event.
type EventKind string

const (
	KindMessage  EventKind = "message"
	KindCommand  EventKind = "command"
	KindCallback EventKind = "callback"
)

// Event is a single inbound occurrence for an actor.
type Event struct {
	Kind  EventKind
	Actor ActorID
	// Name is the command name (without the leading slash) or the callback
	// identifier. Empty for messages.
	Name string
	Text string
	// MessageID refers to the message that carried the event: the actor's
	// own message for messages and commands, the keyboard message for
	// callbacks.
	MessageID MessageID
}

// Button is a single inline keyboard action.
type Button struct {
	Label    string `json:"label"`
	Callback string `json:"callback"`
}

// Keyboard is a grid of buttons attached to a message.
type Keyboard [][]Button

// Row builds a keyboard row from buttons.
func Row(buttons ...Button) []Button { return buttons }

// Outgoing is the content of a message the bot sends or edits.
type Outgoing struct {
	Text     string   `json:"text"`
	Keyboard Keyboard `json:"keyboard,omitempty"`
}

// Transport delivers outbound effects to an actor.
type Transport interface {
	SendMessage(ctx context.Context, actor ActorID, msg Outgoing) (MessageID, error)
	EditMessage(ctx context.Context, actor ActorID, id MessageID, msg Outgoing) error
	DeleteMessage(ctx context.Context, actor ActorID, id MessageID) error
}

// NewMessage builds a free-text message event.
func NewMessage(actor ActorID, id MessageID, text string) Event {
	return Event{Kind: KindMessage, Actor: actor, Text: text, MessageID: id}
}

// NewCommand builds a command event. name is given without the slash.
func NewCommand(actor ActorID, id MessageID, name string) Event {
	return Event{Kind: KindCommand, Actor: actor, Name: name, MessageID: id}
}

// NewCallback builds a callback event for a button on message id.
func NewCallback(actor ActorID, id MessageID, name string) Event {
	return Event{Kind: KindCallback, Actor: actor, Name: name, MessageID: id}
}

// ParseText turns raw user input into a command event when it starts with a
// slash and into a message event otherwise. Command arguments are kept in
// Text.
func ParseText(actor ActorID, id MessageID, text string) Event {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "/") || len(trimmed) == 1 {
		return NewMessage(actor, id, text)
	}

	name, args, _ := strings.Cut(trimmed[1:], " ")
	ev := NewCommand(actor, id, name)
	ev.Text = strings.TrimSpace(args)

	return ev
}
