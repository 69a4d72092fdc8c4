package cli

import (
	"fmt"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/AgentOS/appmanager/internal/domain/appmanager"
)

func (a *app) watchCommand() *cobra.Command {
	var bundles []string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream lifecycle events",
		Long:  "Register an observer and print events until interrupted or the observer is unregistered.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withService(func(svc appmanager.Service) error {
				ctx := cmd.Context()
				p := newEventPrinter(a)

				regCtx, cancel := a.ctx(cmd)
				id, err := svc.RegisterObserver(regCtx, p, bundles...)
				cancel()
				if err != nil {
					return err
				}
				if a.g.output == outputTable {
					_, _ = fmt.Fprintf(a.out, "%s observer %s\n", mutedStyle.Render("watching as"), id)
				}

				select {
				case <-p.detached:
					return nil
				case <-ctx.Done():
				}

				unregCtx, cancel := a.ctx(cmd)
				defer cancel()
				_ = svc.UnregisterObserver(unregCtx, id)
				return nil
			})
		},
	}
	cmd.Flags().StringArrayVar(&bundles, "bundle", nil, "only report events for this bundle (repeatable)")
	return cmd
}

// eventPrinter is the observer behind watch.
type eventPrinter struct {
	appmanager.EventFunc

	app      *app
	mu       sync.Mutex
	once     sync.Once
	detached chan struct{}
}

func newEventPrinter(a *app) *eventPrinter {
	p := &eventPrinter{app: a, detached: make(chan struct{})}
	p.EventFunc = p.print
	return p
}

// OnDetached implements appmanager.Detacher.
func (p *eventPrinter) OnDetached() { p.once.Do(func() { close(p.detached) }) }

func (p *eventPrinter) print(ev appmanager.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := p.app.out
	switch p.app.g.output {
	case outputJSON:
		data, err := sonic.ConfigStd.Marshal(ev)
		if err == nil {
			_, _ = fmt.Fprintln(out, string(data))
		}
	case outputYAML:
		data, err := yaml.Marshal(ev)
		if err == nil {
			_, _ = fmt.Fprintf(out, "---\n%s", data)
		}
	default:
		_, _ = fmt.Fprintln(out, describe(ev))
	}
}

func describe(ev appmanager.Event) string {
	kind := headerStyle.Render(string(ev.Kind))
	switch {
	case ev.Process != nil:
		d := ev.Process
		return fmt.Sprintf("%s %s pid=%d clone=%d state=%s", kind, d.BundleName, d.PID, d.AppCloneIndex, d.State)
	case ev.App != nil:
		d := ev.App
		return fmt.Sprintf("%s %s uid=%d state=%s", kind, d.BundleName, d.UID, d.State)
	default:
		return kind
	}
}
