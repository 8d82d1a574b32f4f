package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/nupi-ai/edbridge/internal/client"
	"github.com/nupi-ai/edbridge/internal/config"
	"github.com/nupi-ai/edbridge/internal/daemon"
	"github.com/nupi-ai/edbridge/internal/server"
	"github.com/nupi-ai/edbridge/internal/version"
)

func startDaemon(t *testing.T) string {
	t.Helper()
	t.Setenv(config.EnvHome, t.TempDir())
	t.Setenv(config.EnvListen, "")
	t.Setenv(client.EnvAddress, "")
	paths, err := config.EnsureInstanceDirs("")
	if err != nil {
		t.Fatalf("EnsureInstanceDirs() error = %v", err)
	}
	cfg := config.Default(paths)
	cfg.Listen = "127.0.0.1:0"

	d, err := daemon.New(context.Background(), daemon.Options{Config: cfg})
	if err != nil {
		t.Fatalf("daemon.New() error = %v", err)
	}
	errc := make(chan error, 1)
	go func() { errc <- d.Run(context.Background()) }()
	t.Cleanup(func() {
		d.Shutdown()
		select {
		case <-errc:
		case <-time.After(5 * time.Second):
			t.Errorf("daemon did not stop")
		}
	})

	deadline := time.Now().Add(3 * time.Second)
	for d.RuntimeInfo().Listen() == "" {
		if time.Now().After(deadline) {
			t.Fatalf("daemon did not start")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return "ws://" + d.RuntimeInfo().Listen() + "/ws"
}

func execute(t *testing.T, args ...string) error {
	t.Helper()
	cmd := newRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(new(strings.Builder))
	cmd.SetErr(new(strings.Builder))
	return cmd.ExecuteContext(context.Background())
}

func TestCommandsDriveDaemon(t *testing.T) {
	addr := startDaemon(t)

	if err := execute(t, "--addr", addr, "get"); err == nil || !strings.Contains(err.Error(), "edbridge init") {
		t.Fatalf("get before init error = %v, want init hint", err)
	}
	if err := execute(t, "--addr", addr, "init", "--value", "{}", "--lang", "json"); err != nil {
		t.Fatalf("init error = %v", err)
	}

	textFile := filepath.Join(t.TempDir(), "doc.json")
	if err := os.WriteFile(textFile, []byte(`{"name": 1}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := execute(t, "--addr", addr, "set", "@"+textFile); err != nil {
		t.Fatalf("set error = %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	c, err := client.Dial(ctx, addr)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer c.Close()
	var value string

	// Registering a schema opens a fresh, empty schema document.
	schema := `{"type":"object","properties":{"name":{"type":"string"}}}`
	if err := execute(t, "--addr", addr, "schema", schema); err != nil {
		t.Fatalf("schema error = %v", err)
	}
	if err := c.CallInto(ctx, &value, "editorGetValue"); err != nil || value != "" {
		t.Fatalf("editorGetValue after schema = %q, %v, want empty", value, err)
	}
	if err := execute(t, "--addr", addr, "set", "@"+textFile); err != nil {
		t.Fatalf("set after schema error = %v", err)
	}
	if err := execute(t, "--addr", addr, "--json", "markers"); err != nil {
		t.Fatalf("markers error = %v", err)
	}
	if err := execute(t, "--addr", addr, "lang", "plaintext"); err != nil {
		t.Fatalf("lang error = %v", err)
	}
	if err := execute(t, "--addr", addr, "complete", "1", "x"); err == nil {
		t.Fatalf("complete with bad column succeeded")
	}

	if err := c.CallInto(ctx, &value, "editorGetValue"); err != nil || value != `{"name": 1}` {
		t.Fatalf("editorGetValue = %q, %v", value, err)
	}
}

func TestStatusReadsHTTPListener(t *testing.T) {
	addr := startDaemon(t)
	for _, args := range [][]string{
		{"--addr", addr, "status"},
		{"--addr", addr, "--json", "status"},
		{"--addr", addr, "status", "--metrics"},
	} {
		if err := execute(t, args...); err != nil {
			t.Fatalf("%v: %v", args, err)
		}
	}
	if err := execute(t, "--addr", "ws://127.0.0.1:1/ws", "status"); err == nil {
		t.Fatalf("status against a closed port succeeded")
	}
}

func TestVersionWithoutDaemon(t *testing.T) {
	t.Setenv(config.EnvHome, t.TempDir())
	if err := execute(t, "--addr", filepath.Join(t.TempDir(), "none.sock"), "version"); err != nil {
		t.Fatalf("version error = %v", err)
	}
}

func TestParseCallLine(t *testing.T) {
	tests := []struct {
		line   string
		method string
		params []any
		err    string
	}{
		{line: "editorGetValue", method: "editorGetValue", params: []any{}},
		{line: `editorSetValue "hello world"`, method: "editorSetValue", params: []any{"hello world"}},
		{line: "editorSetValue plain", method: "editorSetValue", params: []any{"plain"}},
		{line: "provideCompletion 3 7", method: "provideCompletion", params: []any{float64(3), float64(7)}},
		{line: `registerJsonSchema {"type": "object"}`, method: "registerJsonSchema", params: []any{map[string]any{"type": "object"}}},
		{line: "nosuch 1", err: "unknown method"},
		{line: `editorSetValue "open`, err: "unterminated"},
		{line: `registerJsonSchema {"a": [1}`, err: "unbalanced"},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			method, params, err := parseCallLine(tt.line)
			if tt.err != "" {
				if err == nil || !strings.Contains(err.Error(), tt.err) {
					t.Fatalf("error = %v, want %q", err, tt.err)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseCallLine() error = %v", err)
			}
			if method != tt.method || !reflect.DeepEqual(params, tt.params) {
				t.Fatalf("got %s %#v, want %s %#v", method, params, tt.method, tt.params)
			}
		})
	}
}

func TestCompleteMethod(t *testing.T) {
	got := completeMethod("editorSet")
	if len(got) != 2 || got[0] != "editorSetLang" || got[1] != "editorSetValue" {
		t.Fatalf("completeMethod() = %v", got)
	}
	if got := completeMethod("editorSetValue x"); got != nil {
		t.Fatalf("completion after the method name = %v", got)
	}
}

func TestParsePosition(t *testing.T) {
	pos, err := parsePosition("2", "5")
	if err != nil || pos.LineNumber != 2 || pos.Column != 5 {
		t.Fatalf("parsePosition() = %+v, %v", pos, err)
	}
	for _, bad := range [][2]string{{"0", "1"}, {"1", "0"}, {"a", "1"}} {
		if _, err := parsePosition(bad[0], bad[1]); err == nil {
			t.Errorf("parsePosition(%q, %q) accepted", bad[0], bad[1])
		}
	}
}

func TestDescribeEvent(t *testing.T) {
	tests := []struct {
		msg  server.Message
		want string
	}{
		{server.Message{Type: server.TypeValueChanged, Data: "a\nb"}, `3 bytes "a⏎b"`},
		{server.Message{Type: server.TypeInitDone, Data: map[string]any{"mode": "single", "width": 700, "height": 500}}, "single editor 700x500"},
		{server.Message{Type: server.TypeLog, Data: server.LogLine{Severity: "warn", Message: "careful"}}, "[warn] careful"},
		{server.Message{Type: server.TypeMarkers, Data: map[string]any{"uri": "inmemory://model/1", "owner": "json", "count": 2}}, "2 from json on inmemory://model/1"},
		{server.Message{Type: server.TypeLayout, Data: map[string]any{"trigger": "resize", "width": 10, "height": 20, "targets": 1}}, "resize 10x20 (1 targets)"},
		{server.Message{Type: server.TypeError, Error: "boom"}, "boom"},
	}
	for _, tt := range tests {
		if got := describeEvent(tt.msg); got != tt.want {
			t.Errorf("describeEvent(%s) = %q, want %q", tt.msg.Type, got, tt.want)
		}
	}
	if got := preview(strings.Repeat("x", 100)); len([]rune(got)) != previewLimit+1 {
		t.Errorf("preview length = %d", len([]rune(got)))
	}
}

func TestReadText(t *testing.T) {
	if got, err := readText("literal"); err != nil || got != "literal" {
		t.Fatalf("readText(literal) = %q, %v", got, err)
	}
	path := filepath.Join(t.TempDir(), "in.txt")
	if err := os.WriteFile(path, []byte("from file"), 0o644); err != nil {
		t.Fatal(err)
	}
	if got, err := readText("@" + path); err != nil || got != "from file" {
		t.Fatalf("readText(@file) = %q, %v", got, err)
	}
	if _, err := readText("@" + filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatalf("missing file accepted")
	}
}

func TestNewVersionReport(t *testing.T) {
	t.Cleanup(version.ForTesting("1.4.0"))

	down := newVersionReport(server.HelloReply{}, errors.New("connection refused"))
	if down.Client != "1.4.0" || down.Daemon != "" || down.DaemonError != "connection refused" {
		t.Fatalf("unreachable report = %+v", down)
	}

	unknown := newVersionReport(server.HelloReply{Methods: []string{"init"}}, nil)
	if unknown.Daemon != "unknown" || unknown.Methods != 1 || unknown.Warning != "" {
		t.Fatalf("unversioned report = %+v", unknown)
	}

	stale := newVersionReport(server.HelloReply{Version: "1.3.0"}, nil)
	if stale.Daemon != "1.3.0" || !strings.Contains(stale.Warning, "restart the daemon") {
		t.Fatalf("mismatched report = %+v", stale)
	}
}
