package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/nupi-ai/edbridge/internal/eventbus"
	"github.com/nupi-ai/edbridge/internal/server"
)

// previewLimit caps how much of a changed text is echoed per event.
const previewLimit = 60

var eventColors = map[string]*color.Color{
	server.TypeValueChanged: color.New(color.FgGreen),
	server.TypeInitDone:     color.New(color.FgCyan, color.Bold),
	server.TypeLog:          color.New(color.FgYellow),
	server.TypeMarkers:      color.New(color.FgMagenta),
	server.TypeLayout:       color.New(color.FgBlue),
}

func newWatchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Follow editor events until interrupted",
		Args:  cobra.NoArgs,
		RunE:  runWatch,
	}
}

func runWatch(cmd *cobra.Command, _ []string) error {
	out := newOutputFormatter(cmd)
	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dialCtx, cancel := context.WithTimeout(ctx, callTimeout)
	c, err := dialDaemon(dialCtx, cmd)
	if err != nil {
		cancel()
		return err
	}
	defer c.Close()
	info, err := c.Watch(dialCtx)
	cancel()
	if err != nil {
		return err
	}
	if !out.jsonMode {
		fmt.Fprintf(os.Stderr, "Watching %s (peer %s); press Ctrl+C to stop\n", c.Target(), info.Peer)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-c.Events():
			if !ok {
				return fmt.Errorf("daemon closed the connection")
			}
			if out.jsonMode {
				line, err := json.Marshal(msg)
				if err != nil {
					return err
				}
				fmt.Println(string(line))
				continue
			}
			fmt.Println(formatEvent(time.Now(), msg))
		}
	}
}

// formatEvent renders one editor notification as a single line.
func formatEvent(now time.Time, msg server.Message) string {
	tag := fmt.Sprintf("%-12s", msg.Type)
	if c, ok := eventColors[msg.Type]; ok {
		tag = c.Sprint(tag)
	}
	return fmt.Sprintf("%s %s %s", now.Format("15:04:05.000"), tag, describeEvent(msg))
}

func describeEvent(msg server.Message) string {
	switch msg.Type {
	case server.TypeValueChanged:
		var text string
		if err := server.DecodeData(msg.Data, &text); err != nil {
			return err.Error()
		}
		return fmt.Sprintf("%d bytes %q", len(text), preview(text))
	case server.TypeInitDone:
		var ev eventbus.InitDoneEvent
		if err := server.DecodeData(msg.Data, &ev); err != nil {
			return err.Error()
		}
		return fmt.Sprintf("%s editor %dx%d", ev.Mode, ev.Width, ev.Height)
	case server.TypeLog:
		var line server.LogLine
		if err := server.DecodeData(msg.Data, &line); err != nil {
			return err.Error()
		}
		return fmt.Sprintf("[%s] %s", line.Severity, line.Message)
	case server.TypeMarkers:
		var ev eventbus.MarkersEvent
		if err := server.DecodeData(msg.Data, &ev); err != nil {
			return err.Error()
		}
		return fmt.Sprintf("%d from %s on %s", ev.Count, ev.Owner, ev.URI)
	case server.TypeLayout:
		var ev eventbus.LayoutEvent
		if err := server.DecodeData(msg.Data, &ev); err != nil {
			return err.Error()
		}
		return fmt.Sprintf("%s %dx%d (%d targets)", ev.Trigger, ev.Width, ev.Height, ev.Targets)
	case server.TypeError:
		return msg.Error
	default:
		raw, _ := json.Marshal(msg.Data)
		return string(raw)
	}
}

func preview(text string) string {
	text = strings.ReplaceAll(text, "\n", "⏎")
	runes := []rune(text)
	if len(runes) <= previewLimit {
		return text
	}
	return string(runes[:previewLimit]) + "…"
}
