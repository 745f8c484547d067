// Package console runs a bot session in the terminal. Transport turns bot
// output into bubbletea messages and Model renders them; typed lines become
// messages, /commands, or #N button presses.
package console

import (
	"context"
	"fmt"
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/germanamz/stash/pkg/transport"
)

type sentMsg struct {
	id  transport.MessageID
	out transport.Outgoing
}

type editedMsg struct {
	id  transport.MessageID
	out transport.Outgoing
}

type deletedMsg struct {
	id transport.MessageID
}

// Transport forwards bot effects to a running program.
type Transport struct {
	mu   sync.Mutex
	send func(tea.Msg)
	seq  int
}

var _ transport.Transport = (*Transport)(nil)

// Attach routes effects to p. Effects before Attach are dropped.
func (t *Transport) Attach(p *tea.Program) {
	t.attach(p.Send)
}

func (t *Transport) attach(send func(tea.Msg)) {
	t.mu.Lock()
	t.send = send
	t.mu.Unlock()
}

func (t *Transport) emit(msg tea.Msg) {
	t.mu.Lock()
	send := t.send
	t.mu.Unlock()

	if send != nil {
		send(msg)
	}
}

// SendMessage implements transport.Transport.
func (t *Transport) SendMessage(_ context.Context, _ transport.ActorID, out transport.Outgoing) (transport.MessageID, error) {
	t.mu.Lock()
	t.seq++
	id := transport.MessageID(fmt.Sprintf("b%d", t.seq))
	t.mu.Unlock()

	t.emit(sentMsg{id: id, out: out})

	return id, nil
}

// EditMessage implements transport.Transport.
func (t *Transport) EditMessage(_ context.Context, _ transport.ActorID, id transport.MessageID, out transport.Outgoing) error {
	t.emit(editedMsg{id: id, out: out})
	return nil
}

// DeleteMessage implements transport.Transport.
func (t *Transport) DeleteMessage(_ context.Context, _ transport.ActorID, id transport.MessageID) error {
	t.emit(deletedMsg{id: id})
	return nil
}
