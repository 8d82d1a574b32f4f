package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nupi-ai/edbridge/internal/server"
	"github.com/nupi-ai/edbridge/internal/version"
)

// versionTimeout keeps `edbridge version` fast when no daemon answers.
const versionTimeout = 3 * time.Second

// versionReport is what `edbridge version` prints. Daemon is empty when the
// daemon could not be reached; DaemonError then says why.
type versionReport struct {
	Client      string `json:"client"`
	Daemon      string `json:"daemon,omitempty"`
	Methods     int    `json:"methods,omitempty"`
	DaemonError string `json:"daemonError,omitempty"`
	Warning     string `json:"warning,omitempty"`
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show client and daemon versions",
		Args:  cobra.NoArgs,
		RunE:  runVersion,
	}
}

func runVersion(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithTimeout(commandContext(cmd), versionTimeout)
	defer cancel()

	report := newVersionReport(daemonHello(ctx, cmd))
	out := newOutputFormatter(cmd)
	if out.jsonMode {
		return out.Print(report)
	}

	fmt.Printf("Client: %s\n", version.Format(report.Client))
	switch {
	case report.DaemonError != "":
		fmt.Printf("Daemon: unavailable (%s)\n", report.DaemonError)
	default:
		fmt.Printf("Daemon: %s (%d methods)\n", version.Format(report.Daemon), report.Methods)
	}
	if report.Warning != "" {
		fmt.Println(report.Warning)
	}
	return nil
}

// daemonHello asks the selected daemon for its details.
func daemonHello(ctx context.Context, cmd *cobra.Command) (server.HelloReply, error) {
	c, err := dialDaemon(ctx, cmd)
	if err != nil {
		return server.HelloReply{}, err
	}
	defer c.Close()
	return c.Watch(ctx)
}

func newVersionReport(hello server.HelloReply, err error) versionReport {
	report := versionReport{Client: version.String()}
	if err != nil {
		report.DaemonError = err.Error()
		return report
	}
	report.Daemon = hello.Version
	if report.Daemon == "" {
		report.Daemon = "unknown"
	}
	report.Methods = len(hello.Methods)
	report.Warning = version.Mismatch(hello.Version)
	return report
}
