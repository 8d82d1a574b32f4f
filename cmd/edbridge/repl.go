package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/nupi-ai/edbridge/internal/bridge"
	"github.com/nupi-ai/edbridge/internal/config"
	"github.com/nupi-ai/edbridge/internal/version"
)

const (
	replPrompt      = "edbridge> "
	replHistoryFile = "repl_history"
)

var (
	replError = color.New(color.FgRed).SprintFunc()
	replValue = color.New(color.FgGreen).SprintFunc()
)

func newReplCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "repl",
		Short: "Call bridge methods interactively",
		Long: `Each line is a method name followed by its arguments, e.g.

  editorSetValue "hello world"
  provideCompletion 1 5
  setDiffContent left right plaintext

Arguments that parse as JSON (numbers, quoted strings, true, null, objects)
are sent as such; anything else is sent as a plain string. :methods lists
the methods and :quit leaves.`,
		Args: cobra.NoArgs,
		RunE: runRepl,
	}
}

func runRepl(cmd *cobra.Command, _ []string) error {
	ctx := commandContext(cmd)
	c, err := dialDaemon(ctx, cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	instance, _ := cmd.Flags().GetString("instance")
	histPath := filepath.Join(config.GetInstancePaths(instance).Home, replHistoryFile)

	ln := liner.NewLiner()
	defer ln.Close()
	ln.SetCtrlCAborts(true)
	ln.SetCompleter(completeMethod)

	if f, err := os.Open(histPath); err == nil {
		_, _ = ln.ReadHistory(f)
		_ = f.Close()
	}
	defer func() {
		if f, err := os.Create(histPath); err == nil {
			_, _ = ln.WriteHistory(f)
			_ = f.Close()
		}
	}()

	fmt.Printf("edbridge %s connected to %s. Type :methods for help, :quit to exit.\n", version.Format(version.String()), c.Target())
	for {
		line, err := ln.Prompt(replPrompt)
		if errors.Is(err, io.EOF) || errors.Is(err, liner.ErrPromptAborted) {
			fmt.Println()
			return nil
		}
		if err != nil {
			return err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		ln.AppendHistory(line)

		switch line {
		case ":quit", ":q", ":exit":
			return nil
		case ":methods", ":help":
			fmt.Println(strings.Join(bridge.MethodNames(), "\n"))
			continue
		}

		method, params, err := parseCallLine(line)
		if err != nil {
			fmt.Fprintln(os.Stderr, replError(err.Error()))
			continue
		}
		callCtx, cancel := context.WithTimeout(ctx, callTimeout)
		result, err := c.Call(callCtx, method, params...)
		cancel()
		if err != nil {
			fmt.Fprintln(os.Stderr, replError(err.Error()))
			continue
		}
		fmt.Println(replValue(formatResult(result)))
	}
}

func completeMethod(line string) []string {
	if strings.ContainsAny(line, " \t") {
		return nil
	}
	var out []string
	for _, name := range bridge.MethodNames() {
		if strings.HasPrefix(name, line) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func formatResult(v any) string {
	if v == nil {
		return "ok"
	}
	if s, ok := v.(string); ok {
		return s
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

// parseCallLine splits a REPL line into a method name and its arguments.
func parseCallLine(line string) (string, []any, error) {
	tokens, err := splitTokens(line)
	if err != nil {
		return "", nil, err
	}
	if len(tokens) == 0 {
		return "", nil, errors.New("empty line")
	}
	method := tokens[0]
	if _, ok := bridge.Methods[method]; !ok {
		return "", nil, fmt.Errorf("unknown method %q", method)
	}
	params := make([]any, 0, len(tokens)-1)
	for _, tok := range tokens[1:] {
		var v any
		if err := json.Unmarshal([]byte(tok), &v); err == nil {
			params = append(params, v)
			continue
		}
		params = append(params, tok)
	}
	return method, params, nil
}

// splitTokens splits on whitespace outside double quotes and JSON brackets.
// Quoted tokens keep their quotes so they decode as JSON strings.
func splitTokens(line string) ([]string, error) {
	var (
		tokens  []string
		cur     strings.Builder
		depth   int
		quoted  bool
		escaped bool
	)
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}
	for _, r := range line {
		switch {
		case escaped:
			escaped = false
		case quoted && r == '\\':
			escaped = true
		case r == '"':
			quoted = !quoted
		case !quoted && (r == '{' || r == '['):
			depth++
		case !quoted && (r == '}' || r == ']'):
			depth--
		case !quoted && depth == 0 && (r == ' ' || r == '\t'):
			flush()
			continue
		}
		cur.WriteRune(r)
	}
	if quoted {
		return nil, errors.New("unterminated string")
	}
	if depth != 0 {
		return nil, errors.New("unbalanced brackets")
	}
	flush()
	return tokens, nil
}
