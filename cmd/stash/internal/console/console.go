package console

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/germanamz/stash/pkg/transport"
)

// Run shows the console until the user quits. t must be the transport the
// dispatcher's sessions write to. startCommand, when set, is dispatched once
// the program runs so the session greets the user without waiting for input.
func Run(ctx context.Context, actor transport.ActorID, d Dispatcher, t *Transport, startCommand string) error {
	p := tea.NewProgram(NewModel(ctx, actor, d), tea.WithContext(ctx))
	t.Attach(p)

	if startCommand != "" {
		go func() {
			_ = d.Dispatch(ctx, transport.NewCommand(actor, "", startCommand))
		}()
	}

	_, err := p.Run()

	return err
}
