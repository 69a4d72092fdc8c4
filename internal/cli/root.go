// Package cli implements appmgrctl, the command-line client of the
// application manager.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/AgentOS/appmanager/internal/domain/appmanager"
	"github.com/GriffinCanCode/AgentOS/appmanager/internal/grpc/appmgr"
)

// globals are the persistent flags shared by every command.
type globals struct {
	addr     string
	httpAddr string
	token    string
	output   string
	timeout  time.Duration
}

// Connector opens a service for a command. The returned close func releases it.
type Connector func(g *globals) (appmanager.Service, func() error, error)

// Option customizes the root command.
type Option func(*app)

// WithConnector replaces the gRPC connection, e.g. with an in-process host.
func WithConnector(c Connector) Option {
	return func(a *app) { a.connect = c }
}

// WithOutput redirects command output.
func WithOutput(w io.Writer) Option {
	return func(a *app) { a.out = w }
}

type app struct {
	g       globals
	out     io.Writer
	connect Connector
}

func dialGRPC(g *globals) (appmanager.Service, func() error, error) {
	opts := []appmgr.ClientOption{appmgr.WithTimeout(g.timeout)}
	if g.token != "" {
		opts = append(opts, appmgr.WithToken(g.token, false))
	}
	c, err := appmgr.Dial(g.addr, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to %s: %w", g.addr, err)
	}
	return c, c.Close, nil
}

// NewRootCommand builds the appmgrctl command tree.
func NewRootCommand(opts ...Option) *cobra.Command {
	a := &app{out: os.Stdout, connect: dialGRPC}
	for _, opt := range opts {
		opt(a)
	}

	root := &cobra.Command{
		Use:           "appmgrctl",
		Short:         "Application manager client",
		Long:          "appmgrctl queries and controls an application manager host over gRPC.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			switch a.g.output {
			case outputTable, outputJSON, outputYAML:
				return nil
			default:
				return fmt.Errorf("unknown output format %q (want table, json or yaml)", a.g.output)
			}
		},
	}
	root.SetOut(a.out)

	pf := root.PersistentFlags()
	pf.StringVar(&a.g.addr, "addr", envOr("APPMGR_ADDR", "localhost:50061"), "gRPC address of the host")
	pf.StringVar(&a.g.httpAddr, "http-addr", envOr("APPMGR_HTTP_ADDR", "http://localhost:8080"), "HTTP base URL of the host")
	pf.StringVar(&a.g.token, "token", os.Getenv("APPMGR_TOKEN"), "bearer token (<caller>.<secret>)")
	pf.StringVarP(&a.g.output, "output", "o", outputTable, "output format: table, json or yaml")
	pf.DurationVar(&a.g.timeout, "timeout", 5*time.Second, "per-request timeout")

	root.AddCommand(
		a.psCommand(),
		a.killCommand(),
		a.runningCommand(),
		a.deviceCommand(),
		a.watchCommand(),
		a.healthCommand(),
	)
	return root
}

// Execute runs appmgrctl with os.Args.
func Execute(ctx context.Context) error {
	return NewRootCommand().ExecuteContext(ctx)
}

// withService connects, runs fn and closes the connection.
func (a *app) withService(fn func(svc appmanager.Service) error) error {
	svc, closeFn, err := a.connect(&a.g)
	if err != nil {
		return err
	}
	defer func() { _ = closeFn() }()
	return fn(svc)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
