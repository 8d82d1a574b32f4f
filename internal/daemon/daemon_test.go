package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nupi-ai/edbridge/internal/client"
	"github.com/nupi-ai/edbridge/internal/config"
	"github.com/nupi-ai/edbridge/internal/server"
)

type running struct {
	d    *Daemon
	base string
	errc chan error
}

func startDaemon(t *testing.T, mutate func(*config.Config)) *running {
	t.Helper()
	t.Setenv(config.EnvHome, t.TempDir())
	t.Setenv(config.EnvListen, "")
	paths, err := config.EnsureInstanceDirs("")
	if err != nil {
		t.Fatalf("EnsureInstanceDirs() error = %v", err)
	}
	cfg := config.Default(paths)
	cfg.Listen = "127.0.0.1:0"
	cfg.Initial.Value = "hello"
	cfg.Initial.Language = "plaintext"
	if mutate != nil {
		mutate(&cfg)
	}

	d, err := New(context.Background(), Options{Config: cfg})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	r := &running{d: d, errc: make(chan error, 1)}
	go func() { r.errc <- d.Run(context.Background()) }()

	deadline := time.Now().Add(3 * time.Second)
	for d.RuntimeInfo().Listen() == "" {
		if time.Now().After(deadline) {
			t.Fatalf("daemon did not start listening")
		}
		time.Sleep(5 * time.Millisecond)
	}
	r.base = "http://" + d.RuntimeInfo().Listen()
	t.Cleanup(func() { r.stop(t) })
	return r
}

func (r *running) stop(t *testing.T) {
	t.Helper()
	r.d.Shutdown()
	select {
	case err, ok := <-r.errc:
		if ok && err != nil {
			t.Errorf("Run() error = %v", err)
		}
		close(r.errc)
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not return after Shutdown")
	}
}

func getBody(t *testing.T, url string) string {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s status = %d: %s", url, resp.StatusCode, body)
	}
	return string(body)
}

func TestDaemonServesEditorOverWebSocketAndIPC(t *testing.T) {
	r := startDaemon(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ws, err := client.Dial(ctx, r.base)
	if err != nil {
		t.Fatalf("Dial(ws) error = %v", err)
	}
	defer ws.Close()
	// Without a host peer the configured initial values answer queries.
	if _, err := ws.Call(ctx, "init"); err != nil {
		t.Fatalf("init error = %v", err)
	}

	socket := r.d.RuntimeInfo().Socket()
	if !IsRunning(socket) {
		t.Fatalf("IsRunning(%s) = false", socket)
	}
	ipc, err := client.Dial(ctx, socket)
	if err != nil {
		t.Fatalf("Dial(ipc) error = %v", err)
	}
	defer ipc.Close()
	var value string
	if err := ipc.CallInto(ctx, &value, "editorGetValue"); err != nil || value != "hello" {
		t.Fatalf("editorGetValue over IPC = %q, %v", value, err)
	}
}

func TestStatusAndMetricsEndpoints(t *testing.T) {
	r := startDaemon(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := client.Dial(ctx, r.base)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer c.Close()
	if _, err := c.Call(ctx, "createSingle", "x", "json", 640, 480); err != nil {
		t.Fatalf("createSingle error = %v", err)
	}

	var status RuntimeSnapshot
	if err := json.Unmarshal([]byte(getBody(t, r.base+"/status")), &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.Listen != r.d.RuntimeInfo().Listen() || status.Socket == "" || status.Peers != 1 || status.Version == "" {
		t.Fatalf("status = %+v", status)
	}

	metrics := getBody(t, r.base+"/metrics")
	for _, want := range []string{
		"edbridge_server_peers 1",
		`edbridge_editor_mode{mode="single"} 1`,
		`edbridge_eventbus_events_total{topic="editor.init_done",source="session"}`,
	} {
		if !strings.Contains(metrics, want) {
			t.Errorf("metrics missing %q:\n%s", want, metrics)
		}
	}
	if got := getBody(t, r.base+"/healthz"); got != "ok\n" {
		t.Fatalf("healthz = %q", got)
	}
}

func TestScriptConsoleReachesHost(t *testing.T) {
	scripts := t.TempDir()
	src := `module.exports = { name: "greeter", onInit: function () { console.warn("greeted"); } };`
	if err := os.WriteFile(filepath.Join(scripts, "greeter.js"), []byte(src), 0o644); err != nil {
		t.Fatalf("write script: %v", err)
	}
	r := startDaemon(t, func(cfg *config.Config) { cfg.ScriptsDir = scripts })
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	host, err := client.Dial(ctx, r.base)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer host.Close()
	if _, err := host.Hello(ctx, server.Hello{Value: "", Language: "plaintext", Width: 300, Height: 200}); err != nil {
		t.Fatalf("Hello() error = %v", err)
	}
	if _, err := host.Call(ctx, "init"); err != nil {
		t.Fatalf("init error = %v", err)
	}

	for {
		select {
		case m, ok := <-host.Events():
			if !ok {
				t.Fatalf("events closed")
			}
			line, _ := m.Data.(map[string]any)
			if m.Type == server.TypeLog && line["message"] == "greeted" && line["severity"] == "warn" {
				return
			}
		case <-ctx.Done():
			t.Fatalf("script console line never reached the host")
		}
	}
}

func TestRunTwiceFails(t *testing.T) {
	r := startDaemon(t, nil)
	if err := r.d.Run(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second Run() error = %v", err)
	}
}

func TestUnavailableBackendIsSkipped(t *testing.T) {
	r := startDaemon(t, func(cfg *config.Config) {
		cfg.Backends = map[string]config.Backend{
			"csharp": {Kind: "lsp", Command: filepath.Join(t.TempDir(), "missing-language-server")},
		}
	})
	var status RuntimeSnapshot
	if err := json.Unmarshal([]byte(getBody(t, r.base+"/status")), &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if len(status.Languages) != 0 {
		t.Fatalf("languages = %v, want none routed", status.Languages)
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.Config{Backends: map[string]config.Backend{"c": {Kind: "tcp"}}}
	if _, err := New(context.Background(), Options{Config: cfg}); !errors.Is(err, config.ErrInvalid) {
		t.Fatalf("New() error = %v, want ErrInvalid", err)
	}
}

func TestIsRunningWithoutDaemon(t *testing.T) {
	if IsRunning(filepath.Join(t.TempDir(), "none.sock")) {
		t.Fatalf("IsRunning() = true without a daemon")
	}
}
