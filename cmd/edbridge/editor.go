package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nupi-ai/edbridge/internal/bridge"
	"github.com/nupi-ai/edbridge/internal/client"
	"github.com/nupi-ai/edbridge/internal/editor"
)

func editorCommands() []*cobra.Command {
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Create the editor from the host's initial value, language and size",
		Long: `Without flags the editor is created from the attached host (or the
daemon's configured initial values). --value, --lang, --width and --height
create a single editor explicitly; --diff creates the diff editor.`,
		Args: cobra.NoArgs,
		RunE: runInit,
	}
	initCmd.Flags().String("value", "", "Initial text (literal, @file or - for stdin)")
	initCmd.Flags().String("lang", "", "Initial language id")
	initCmd.Flags().Int("width", 0, "Editor width in pixels")
	initCmd.Flags().Int("height", 0, "Editor height in pixels")
	initCmd.Flags().Bool("diff", false, "Create the diff editor instead")

	getCmd := &cobra.Command{
		Use:   "get",
		Short: "Print the editor text",
		Args:  cobra.NoArgs,
		RunE:  runGet,
	}

	setCmd := &cobra.Command{
		Use:   "set <text|@file|->",
		Short: "Replace the editor text",
		Args:  cobra.ExactArgs(1),
		RunE:  runSet,
	}

	langsCmd := &cobra.Command{
		Use:   "langs",
		Short: "List the languages the editor knows",
		Args:  cobra.NoArgs,
		RunE:  runLangs,
	}

	langCmd := &cobra.Command{
		Use:   "lang <language-id>",
		Short: "Switch the editor to another language",
		Args:  cobra.ExactArgs(1),
		RunE:  runLang,
	}

	registerCmd := &cobra.Command{
		Use:   "register <language-id> [context-id]",
		Short: "Register completion, hover, formatting and diagnostics for a language",
		Args:  cobra.RangeArgs(1, 2),
		RunE:  runRegister,
	}

	schemaCmd := &cobra.Command{
		Use:   "schema <json|@file|->",
		Short: "Validate the JSON document against a schema",
		Args:  cobra.ExactArgs(1),
		RunE:  runSchema,
	}

	diffCmd := &cobra.Command{
		Use:   "diff <left|@file> <right|@file>",
		Short: "Load both sides of the diff editor",
		Args:  cobra.ExactArgs(2),
		RunE:  runDiff,
	}
	diffCmd.Flags().String("lang", "plaintext", "Language id of both sides")

	completeCmd := &cobra.Command{
		Use:   "complete <line> <column>",
		Short: "Ask the language service for completions at a position",
		Args:  cobra.ExactArgs(2),
		RunE:  runComplete,
	}

	hoverCmd := &cobra.Command{
		Use:   "hover <line> <column>",
		Short: "Ask the language service for hover information at a position",
		Args:  cobra.ExactArgs(2),
		RunE:  runHover,
	}

	formatCmd := &cobra.Command{
		Use:   "format",
		Short: "Format the document with the language service",
		Args:  cobra.NoArgs,
		RunE:  runFormat,
	}

	markersCmd := &cobra.Command{
		Use:   "markers",
		Short: "List the diagnostics on the current document",
		Args:  cobra.NoArgs,
		RunE:  runMarkers,
	}

	return []*cobra.Command{
		initCmd, getCmd, setCmd, langsCmd, langCmd, registerCmd, schemaCmd,
		diffCmd, completeCmd, hoverCmd, formatCmd, markersCmd,
	}
}

func runInit(cmd *cobra.Command, _ []string) error {
	out := newOutputFormatter(cmd)
	diff, _ := cmd.Flags().GetBool("diff")
	width, _ := cmd.Flags().GetInt("width")
	height, _ := cmd.Flags().GetInt("height")
	explicit := cmd.Flags().Changed("value") || cmd.Flags().Changed("lang") ||
		cmd.Flags().Changed("width") || cmd.Flags().Changed("height")

	var (
		method string
		params []any
	)
	switch {
	case diff:
		method = bridge.MethodCreateDiff
		if width > 0 && height > 0 {
			params = []any{width, height}
		}
	case explicit:
		raw, _ := cmd.Flags().GetString("value")
		value, err := readText(raw)
		if err != nil {
			return err
		}
		lang, _ := cmd.Flags().GetString("lang")
		method = bridge.MethodCreateSingle
		params = []any{value, lang}
		if width > 0 && height > 0 {
			params = append(params, width, height)
		}
	default:
		method = bridge.MethodInit
	}

	return withClient(cmd, func(ctx context.Context, c *client.Client) error {
		if _, err := c.Call(ctx, method, params...); err != nil {
			return err
		}
		return out.Success("Editor created", map[string]any{"method": method})
	})
}

func runGet(cmd *cobra.Command, _ []string) error {
	out := newOutputFormatter(cmd)
	return withClient(cmd, func(ctx context.Context, c *client.Client) error {
		var value string
		if err := c.CallInto(ctx, &value, bridge.MethodGetValue); err != nil {
			return err
		}
		if out.jsonMode {
			return out.Print(map[string]any{"value": value})
		}
		fmt.Print(value)
		if !strings.HasSuffix(value, "\n") {
			fmt.Println()
		}
		return nil
	})
}

func runSet(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)
	text, err := readText(args[0])
	if err != nil {
		return err
	}
	return withClient(cmd, func(ctx context.Context, c *client.Client) error {
		if _, err := c.Call(ctx, bridge.MethodSetValue, text); err != nil {
			return err
		}
		return out.Success(fmt.Sprintf("Editor text set (%d bytes)", len(text)), map[string]any{"bytes": len(text)})
	})
}

func runLangs(cmd *cobra.Command, _ []string) error {
	out := newOutputFormatter(cmd)
	return withClient(cmd, func(ctx context.Context, c *client.Client) error {
		var raw string
		if err := c.CallInto(ctx, &raw, bridge.MethodGetLanguages); err != nil {
			return err
		}
		var langs []editor.LanguageExtensionPoint
		if err := json.Unmarshal([]byte(raw), &langs); err != nil {
			return fmt.Errorf("decode language list: %w", err)
		}
		if out.jsonMode {
			return out.Print(langs)
		}
		printLanguages(os.Stdout, langs)
		return nil
	})
}

func printLanguages(w io.Writer, langs []editor.LanguageExtensionPoint) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tALIASES\tEXTENSIONS")
	for _, l := range langs {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", l.ID, strings.Join(l.Aliases, ", "), strings.Join(l.Extensions, " "))
	}
	tw.Flush()
}

func runLang(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)
	return withClient(cmd, func(ctx context.Context, c *client.Client) error {
		if _, err := c.Call(ctx, bridge.MethodSetLanguage, args[0]); err != nil {
			return err
		}
		return out.Success("Language set to "+args[0], map[string]any{"language": args[0]})
	})
}

func runRegister(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)
	contextID := ""
	if len(args) > 1 {
		contextID = args[1]
	}
	return withClient(cmd, func(ctx context.Context, c *client.Client) error {
		if _, err := c.Call(ctx, bridge.MethodRegisterLanguageService, args[0], contextID); err != nil {
			return err
		}
		return out.Success("Language services registered for "+args[0], map[string]any{
			"language":  args[0],
			"contextId": contextID,
		})
	})
}

func runSchema(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)
	schema, err := readText(args[0])
	if err != nil {
		return err
	}
	if !json.Valid([]byte(schema)) {
		return fmt.Errorf("schema is not valid JSON")
	}
	return withClient(cmd, func(ctx context.Context, c *client.Client) error {
		if _, err := c.Call(ctx, bridge.MethodRegisterJSONSchema, schema); err != nil {
			return err
		}
		return out.Success("JSON schema registered", nil)
	})
}

func runDiff(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)
	left, err := readText(args[0])
	if err != nil {
		return err
	}
	right, err := readText(args[1])
	if err != nil {
		return err
	}
	lang, _ := cmd.Flags().GetString("lang")
	return withClient(cmd, func(ctx context.Context, c *client.Client) error {
		if _, err := c.Call(ctx, bridge.MethodSetDiffContent, left, right, lang); err != nil {
			return err
		}
		return out.Success("Diff content set", map[string]any{"language": lang})
	})
}

// parsePosition reads a 1-based line and column.
func parsePosition(lineArg, columnArg string) (editor.Position, error) {
	line, err := strconv.Atoi(lineArg)
	if err != nil || line < 1 {
		return editor.Position{}, fmt.Errorf("invalid line %q", lineArg)
	}
	column, err := strconv.Atoi(columnArg)
	if err != nil || column < 1 {
		return editor.Position{}, fmt.Errorf("invalid column %q", columnArg)
	}
	return editor.Position{LineNumber: line, Column: column}, nil
}

func runComplete(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)
	pos, err := parsePosition(args[0], args[1])
	if err != nil {
		return err
	}
	return withClient(cmd, func(ctx context.Context, c *client.Client) error {
		var list editor.CompletionList
		if err := c.CallInto(ctx, &list, bridge.MethodProvideCompletion, pos.LineNumber, pos.Column); err != nil {
			return err
		}
		if out.jsonMode {
			return out.Print(list)
		}
		if len(list.Suggestions) == 0 {
			fmt.Println("No completions")
			return nil
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		for _, item := range list.Suggestions {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", item.Label, completionKindName(item.Kind), item.Detail)
		}
		return tw.Flush()
	})
}

var completionKindNames = map[editor.CompletionItemKind]string{
	editor.KindMethod:   "method",
	editor.KindFunction: "function",
	editor.KindField:    "field",
	editor.KindVariable: "variable",
	editor.KindClass:    "class",
	editor.KindProperty: "property",
	editor.KindKeyword:  "keyword",
	editor.KindText:     "text",
}

func completionKindName(k editor.CompletionItemKind) string {
	if name, ok := completionKindNames[k]; ok {
		return name
	}
	return strconv.Itoa(int(k))
}

func runHover(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)
	pos, err := parsePosition(args[0], args[1])
	if err != nil {
		return err
	}
	return withClient(cmd, func(ctx context.Context, c *client.Client) error {
		var hover *editor.Hover
		if err := c.CallInto(ctx, &hover, bridge.MethodProvideHover, pos.LineNumber, pos.Column); err != nil {
			return err
		}
		if out.jsonMode {
			return out.Print(hover)
		}
		if hover == nil || len(hover.Contents) == 0 {
			fmt.Println("No hover information")
			return nil
		}
		for i, content := range hover.Contents {
			if i > 0 {
				fmt.Println("---")
			}
			fmt.Println(content.Value)
		}
		return nil
	})
}

func runFormat(cmd *cobra.Command, _ []string) error {
	out := newOutputFormatter(cmd)
	return withClient(cmd, func(ctx context.Context, c *client.Client) error {
		var outcome bridge.FormatOutcome
		if err := c.CallInto(ctx, &outcome, bridge.MethodFormatDocument); err != nil {
			return err
		}
		if out.jsonMode {
			return out.Print(outcome)
		}
		switch {
		case len(outcome.Edits) == 0:
			fmt.Println("Already formatted")
		case outcome.Applied:
			fmt.Printf("Formatted (%d edits)\n", len(outcome.Edits))
		default:
			fmt.Println("Formatting discarded: the document changed while the request was running")
		}
		return nil
	})
}

func runMarkers(cmd *cobra.Command, _ []string) error {
	out := newOutputFormatter(cmd)
	return withClient(cmd, func(ctx context.Context, c *client.Client) error {
		var markers []editor.Marker
		if err := c.CallInto(ctx, &markers, bridge.MethodGetMarkers); err != nil {
			return err
		}
		if out.jsonMode {
			return out.Print(markers)
		}
		if len(markers) == 0 {
			fmt.Println("No markers")
			return nil
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "SEVERITY\tPOSITION\tOWNER\tMESSAGE")
		for _, m := range markers {
			fmt.Fprintf(tw, "%s\t%d:%d\t%s\t%s\n", m.Severity, m.StartLineNumber, m.StartColumn, m.Owner, m.Message)
		}
		return tw.Flush()
	})
}
