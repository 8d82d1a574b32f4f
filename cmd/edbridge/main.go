package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nupi-ai/edbridge/internal/client"
	"github.com/nupi-ai/edbridge/internal/config"
	"github.com/nupi-ai/edbridge/internal/version"
)

// callTimeout bounds one command's round trip to the daemon.
const callTimeout = 30 * time.Second

// OutputFormatter handles output in JSON or human-readable format
type OutputFormatter struct {
	jsonMode bool
}

// newOutputFormatter creates a new formatter based on the command's --json flag
func newOutputFormatter(cmd *cobra.Command) *OutputFormatter {
	jsonMode, _ := cmd.Flags().GetBool("json")
	return &OutputFormatter{jsonMode: jsonMode}
}

// Print outputs data in the appropriate format. Strings print verbatim in
// human mode; everything else falls back to indented JSON.
func (f *OutputFormatter) Print(data any) error {
	if !f.jsonMode {
		if s, ok := data.(string); ok {
			fmt.Println(s)
			return nil
		}
	}
	jsonBytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	fmt.Println(string(jsonBytes))
	return nil
}

// Success outputs a success message
func (f *OutputFormatter) Success(message string, data map[string]any) error {
	if f.jsonMode {
		output := map[string]any{
			"success": true,
			"message": message,
		}
		for k, v := range data {
			output[k] = v
		}
		return f.Print(output)
	}
	fmt.Println(message)
	return nil
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "edbridge",
		Short: "edbridge - drive the embedded editor hosted by edbridged",
		Long: `edbridge talks to a running edbridged over its IPC socket or websocket
endpoint. It reads and writes the editor text, switches languages,
registers language services and JSON schemas, and follows editor events.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.Version = version.String()
	rootCmd.SetVersionTemplate("{{printf \"%s\\n\" .Version}}")

	flags := rootCmd.PersistentFlags()
	flags.Bool("json", false, "Output in JSON format")
	flags.String("addr", "", "Daemon address: a socket path or ws(s)/http(s) URL (env "+client.EnvAddress+")")
	flags.String("instance", config.DefaultInstance, "Instance whose socket is used when no address is given")
	flags.Bool("insecure", false, "Disable TLS verification (dangerous; testing only)")
	flags.String("ca-cert", "", "Path to custom CA certificate for TLS verification")
	flags.String("server-name", "", "Override TLS server name (advanced)")

	rootCmd.AddCommand(editorCommands()...)
	rootCmd.AddCommand(
		newWatchCommand(),
		newReplCommand(),
		newStatusCommand(),
		newVersionCommand(),
	)
	return rootCmd
}

// defaultTarget is the configured socket of the selected instance.
func defaultTarget(instance string) string {
	paths := config.GetInstancePaths(instance)
	if cfg, err := config.Load(paths); err == nil && cfg.Socket != "" {
		return cfg.Socket
	}
	return paths.Socket
}

// tlsSettings layers the TLS flags over the EDBRIDGE_TLS_* environment.
func tlsSettings(cmd *cobra.Command) client.TLSSettings {
	settings := client.TLSSettingsFromEnv()
	if cmd.Flags().Changed("insecure") {
		settings.Insecure, _ = cmd.Flags().GetBool("insecure")
	}
	if v, _ := cmd.Flags().GetString("ca-cert"); v != "" {
		settings.CACertPath = v
	}
	if v, _ := cmd.Flags().GetString("server-name"); v != "" {
		settings.ServerName = v
	}
	return settings
}

// dialDaemon connects to the daemon selected by --addr, EDBRIDGE_ADDR or
// the instance socket.
func dialDaemon(ctx context.Context, cmd *cobra.Command) (*client.Client, error) {
	addr, _ := cmd.Flags().GetString("addr")
	instance, _ := cmd.Flags().GetString("instance")
	target := client.ResolveTarget(addr, defaultTarget(instance))

	var opts []client.Option
	tlsCfg, err := tlsSettings(cmd).ConfigFor(target)
	if err != nil {
		return nil, err
	}
	if tlsCfg != nil {
		opts = append(opts, client.WithTLSConfig(tlsCfg))
	}

	c, err := client.Dial(ctx, target, opts...)
	if err != nil {
		return nil, fmt.Errorf("daemon not reachable at %s: %w", target, err)
	}
	return c, nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// withClient dials the daemon, runs fn and closes the connection.
func withClient(cmd *cobra.Command, fn func(ctx context.Context, c *client.Client) error) error {
	ctx, cancel := context.WithTimeout(commandContext(cmd), callTimeout)
	defer cancel()
	c, err := dialDaemon(ctx, cmd)
	if err != nil {
		return err
	}
	defer c.Close()
	if err := fn(ctx, c); err != nil {
		if client.IsNotReady(err) {
			return fmt.Errorf("%w (the host has not created the editor yet; run \"edbridge init\")", err)
		}
		return err
	}
	return nil
}

// readText returns arg, the named file's contents for "@path", or stdin for
// "-".
func readText(arg string) (string, error) {
	switch {
	case arg == "-":
		data, err := io.ReadAll(os.Stdin)
		return string(data), err
	case strings.HasPrefix(arg, "@"):
		data, err := os.ReadFile(config.ExpandPath(strings.TrimPrefix(arg, "@")))
		if err != nil {
			return "", fmt.Errorf("read %s: %w", strings.TrimPrefix(arg, "@"), err)
		}
		return string(data), nil
	default:
		return arg, nil
	}
}
