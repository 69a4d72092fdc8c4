// Command appmgrctl is the command-line client of the application manager.
//
// Usage:
//
//	appmgrctl ps
//	appmgrctl kill com.example.mail --app-index 1
//	appmgrctl running com.example.mail --clone-index 1 -o json
//	appmgrctl device -o yaml
//	appmgrctl watch --bundle com.example.mail
//	appmgrctl health --http-addr http://localhost:8080
//
// The token may be given with --token or APPMGR_TOKEN.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/GriffinCanCode/AgentOS/appmanager/internal/cli"
	"github.com/GriffinCanCode/AgentOS/appmanager/internal/domain/appmanager"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.Execute(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "appmgrctl: %v\n", err)
		if code := appmanager.CodeOf(err); code != appmanager.CodeInternal {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
