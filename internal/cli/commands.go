package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/AgentOS/appmanager/internal/domain/appmanager"
)

func (a *app) ctx(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), a.g.timeout)
}

func (a *app) psCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ps",
		Short: "List running processes",
		Long:  "List the running processes visible to the caller. Callers without GET_RUNNING_INFO see only their own.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withService(func(svc appmanager.Service) error {
				ctx, cancel := a.ctx(cmd)
				defer cancel()

				infos, err := svc.GetRunningProcessInformation(ctx)
				if err != nil {
					return err
				}
				if infos == nil {
					infos = []appmanager.ProcessInformation{}
				}
				if done, err := encode(a.out, a.g.output, infos); done {
					return err
				}
				if len(infos) == 0 {
					_, err := fmt.Fprintln(a.out, mutedStyle.Render("No running processes."))
					return err
				}

				rows := make([][]string, 0, len(infos))
				for _, p := range infos {
					rows = append(rows, []string{
						strconv.Itoa(int(p.PID)),
						strconv.Itoa(int(p.UID)),
						p.State.String(),
						strconv.Itoa(int(p.AppCloneIndex)),
						string(p.BundleType),
						strings.Join(p.BundleNames, ","),
						p.ProcessName,
					})
				}
				return table(a.out, []string{"PID", "UID", "STATE", "CLONE", "TYPE", "BUNDLES", "PROCESS"}, rows)
			})
		},
	}
}

func (a *app) killCommand() *cobra.Command {
	var (
		clearPageStack bool
		appIndex       int32
	)
	cmd := &cobra.Command{
		Use:   "kill BUNDLE",
		Short: "Kill the processes of a bundle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var opts []appmanager.Option
			if cmd.Flags().Changed("app-index") {
				opts = append(opts, appmanager.WithAppIndex(appIndex))
			}
			return a.withService(func(svc appmanager.Service) error {
				ctx, cancel := a.ctx(cmd)
				defer cancel()

				if err := svc.KillProcessesByBundleName(ctx, args[0], clearPageStack, opts...); err != nil {
					return err
				}
				result := map[string]any{"bundleName": args[0], "killed": true}
				if done, err := encode(a.out, a.g.output, result); done {
					return err
				}
				_, err := fmt.Fprintf(a.out, "%s %s\n", okStyle.Render("killed"), args[0])
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&clearPageStack, "clear-page-stack", false, "clear the page stack of the killed app")
	cmd.Flags().Int32Var(&appIndex, "app-index", 0, "kill only this clone")
	return cmd
}

func (a *app) runningCommand() *cobra.Command {
	var cloneIndex int32
	cmd := &cobra.Command{
		Use:   "running BUNDLE",
		Short: "Report whether a bundle is running",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var opts []appmanager.Option
			if cmd.Flags().Changed("clone-index") {
				opts = append(opts, appmanager.WithCloneIndex(cloneIndex))
			}
			return a.withService(func(svc appmanager.Service) error {
				ctx, cancel := a.ctx(cmd)
				defer cancel()

				running, err := svc.IsAppRunning(ctx, args[0], opts...)
				if err != nil {
					return err
				}
				result := map[string]any{"bundleName": args[0], "running": running}
				if done, err := encode(a.out, a.g.output, result); done {
					return err
				}
				_, err = fmt.Fprintf(a.out, "%s running: %s\n", args[0], yesNo(running))
				return err
			})
		},
	}
	cmd.Flags().Int32Var(&cloneIndex, "clone-index", 0, "check only this clone")
	return cmd
}

// deviceReport is the output of the device command.
type deviceReport struct {
	StabilityTest   bool `json:"stabilityTest" yaml:"stabilityTest"`
	RAMConstrained  bool `json:"ramConstrained" yaml:"ramConstrained"`
	AppMemorySizeMB int  `json:"appMemorySizeMB" yaml:"appMemorySizeMB"`
}

func (a *app) deviceCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "device",
		Short: "Show device facts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withService(func(svc appmanager.Service) error {
				ctx, cancel := a.ctx(cmd)
				defer cancel()

				var (
					r   deviceReport
					err error
				)
				if r.StabilityTest, err = svc.IsRunningInStabilityTest(ctx); err != nil {
					return err
				}
				if r.RAMConstrained, err = svc.IsRamConstrainedDevice(ctx); err != nil {
					return err
				}
				if r.AppMemorySizeMB, err = svc.GetAppMemorySize(ctx); err != nil {
					return err
				}
				if done, err := encode(a.out, a.g.output, r); done {
					return err
				}
				return table(a.out, []string{"STABILITY TEST", "RAM CONSTRAINED", "APP MEMORY (MB)"}, [][]string{{
					yesNo(r.StabilityTest), yesNo(r.RAMConstrained), strconv.Itoa(r.AppMemorySizeMB),
				}})
			})
		},
	}
}
