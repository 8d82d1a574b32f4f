package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nupi-ai/edbridge/internal/client"
	"github.com/nupi-ai/edbridge/internal/config"
	"github.com/nupi-ai/edbridge/internal/version"
)

func newStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon status from its HTTP listener",
		Long: `status reads /status from the daemon's HTTP listener. When --addr names
a socket, the instance's configured listen address is used instead.`,
		Args: cobra.NoArgs,
		RunE: runStatus,
	}
	cmd.Flags().Bool("metrics", false, "Print the raw Prometheus metrics instead")
	return cmd
}

// statusClient resolves the HTTP side of the selected daemon.
func statusClient(cmd *cobra.Command) (*client.StatusClient, error) {
	addr, _ := cmd.Flags().GetString("addr")
	instance, _ := cmd.Flags().GetString("instance")

	listen := config.DefaultListen
	if cfg, err := config.Load(config.GetInstancePaths(instance)); err == nil && cfg.Listen != "" {
		listen = cfg.Listen
	}
	target := client.ResolveTarget(addr, listen)

	tlsCfg, err := tlsSettings(cmd).ConfigFor(target)
	if err != nil {
		return nil, err
	}
	sc, err := client.NewStatusClient(target, tlsCfg)
	if errors.Is(err, client.ErrNoHTTPEndpoint) {
		return client.NewStatusClient(listen, nil)
	}
	return sc, err
}

func runStatus(cmd *cobra.Command, _ []string) error {
	out := newOutputFormatter(cmd)
	sc, err := statusClient(cmd)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(commandContext(cmd), callTimeout)
	defer cancel()

	if raw, _ := cmd.Flags().GetBool("metrics"); raw {
		metrics, err := sc.Metrics(ctx)
		if err != nil {
			return err
		}
		fmt.Print(metrics)
		return nil
	}

	st, err := sc.Status(ctx)
	if err != nil {
		return fmt.Errorf("daemon not reachable at %s: %w", sc.BaseURL(), err)
	}
	if out.jsonMode {
		return out.Print(st)
	}

	fmt.Printf("Version:   %s\n", version.Format(st.Version))
	fmt.Printf("Listen:    %s\n", st.Listen)
	fmt.Printf("Socket:    %s\n", st.Socket)
	fmt.Printf("Uptime:    %s\n", st.Uptime)
	fmt.Printf("Peers:     %d\n", st.Peers)
	if len(st.Languages) > 0 {
		fmt.Printf("Languages: %s\n", strings.Join(st.Languages, ", "))
	}
	if w := version.Mismatch(st.Version); w != "" {
		fmt.Println(w)
	}
	return nil
}
