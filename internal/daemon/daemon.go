// Package daemon wires the editor loop, session, bridge, script runtime and
// peer servers into the edbridged process.
package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nupi-ai/edbridge/internal/bridge"
	"github.com/nupi-ai/edbridge/internal/config"
	"github.com/nupi-ai/edbridge/internal/constants"
	"github.com/nupi-ai/edbridge/internal/editor"
	"github.com/nupi-ai/edbridge/internal/eventbus"
	"github.com/nupi-ai/edbridge/internal/hostcap"
	"github.com/nupi-ai/edbridge/internal/langservice"
	"github.com/nupi-ai/edbridge/internal/langservice/grpcbackend"
	"github.com/nupi-ai/edbridge/internal/langservice/lspbackend"
	"github.com/nupi-ai/edbridge/internal/logrelay"
	"github.com/nupi-ai/edbridge/internal/loop"
	"github.com/nupi-ai/edbridge/internal/observability"
	"github.com/nupi-ai/edbridge/internal/scripting"
	"github.com/nupi-ai/edbridge/internal/server"
	"github.com/nupi-ai/edbridge/internal/session"
	"github.com/nupi-ai/edbridge/internal/version"
)

// ErrAlreadyRunning is returned by a second Run.
var ErrAlreadyRunning = errors.New("daemon: already running")

// snapshotTimeout bounds the loop round trip behind the editor gauges.
const snapshotTimeout = time.Second

// Options groups dependencies required to construct a Daemon.
type Options struct {
	Config config.Config
	Logger *log.Logger
	// Colored enables colored console severity tags.
	Colored bool
}

// Daemon represents the main daemon process.
type Daemon struct {
	cfg         config.Config
	logger      *log.Logger
	loop        *loop.Loop
	bus         *eventbus.Bus
	counter     *observability.EventCounter
	hosts       *hostcap.Forwarder
	router      *langservice.Router
	closers     []func(context.Context) error
	relay       *logrelay.Relay
	session     *session.Session
	bridge      *bridge.Bridge
	scripts     *scripting.Runtime
	server      *server.Server
	exporter    *observability.PrometheusExporter
	runtimeInfo *RuntimeInfo

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
}

// New builds a daemon from cfg. Language backends are started here; one
// that fails to start is logged and left unrouted so its language falls
// back to the built-in services.
func New(ctx context.Context, opts Options) (*Daemon, error) {
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	d := &Daemon{
		cfg:         cfg,
		logger:      logger,
		counter:     observability.NewEventCounter(),
		runtimeInfo: &RuntimeInfo{},
	}
	d.loop = loop.New(loop.WithLogger(logger))
	d.bus = eventbus.New(eventbus.WithLogger(logger), eventbus.WithObserver(d.counter))
	d.hosts = hostcap.NewForwarder(hostcap.Static{
		Value:    cfg.Initial.Value,
		Language: cfg.Initial.Language,
		W:        cfg.Initial.Width,
		H:        cfg.Initial.Height,
	})
	d.relay = logrelay.New(logrelay.NewNative(logger, opts.Colored), d.hosts,
		logrelay.WithLogger(logger),
		logrelay.WithEventBus(d.bus),
	)

	d.router = langservice.NewRouter(nil)
	for _, lang := range cfg.BackendLanguages() {
		backend, closer, err := d.startBackend(ctx, lang, cfg.Backends[lang])
		if err != nil {
			logger.Printf("[daemon] %s language backend unavailable: %v", lang, err)
			continue
		}
		d.router.Handle(lang, backend)
		d.closers = append(d.closers, closer)
		logger.Printf("[daemon] %s language backend ready (%s)", lang, cfg.Backends[lang].Kind)
	}

	sess, err := session.New(session.Options{
		Host:           d.hosts,
		Poster:         d.loop,
		Engine:         editor.NewEngine(editor.WithLogger(logger)),
		Backend:        d.router,
		Console:        d.relay,
		Bus:            d.bus,
		Logger:         logger,
		RequestTimeout: cfg.RequestTimeout.Std(),
	})
	if err != nil {
		d.closeBackends()
		return nil, fmt.Errorf("daemon: create session: %w", err)
	}
	d.session = sess
	d.bridge = bridge.New(d.loop, sess, bridge.WithLogger(logger))

	d.scripts, err = scripting.New(d.bridge, d.hosts,
		scripting.WithLogger(logger),
		scripting.WithEventBus(d.bus),
	)
	if err != nil {
		d.closeBackends()
		return nil, fmt.Errorf("daemon: create script runtime: %w", err)
	}
	if err := d.relay.Install(d.scripts); err != nil {
		d.closeBackends()
		return nil, fmt.Errorf("daemon: %w", err)
	}

	d.server = server.New(d.bridge, d.hosts,
		server.WithLogger(logger),
		server.WithEventBus(d.bus),
		server.WithOriginCheck(server.AllowedOrigin(cfg.AllowedOrigins)),
	)

	d.exporter = observability.NewPrometheusExporter(d.bus, d.counter)
	d.exporter.WithPeers(d.server.PeerCount)
	d.exporter.WithEditor(d.editorSnapshot)

	return d, nil
}

func (d *Daemon) startBackend(ctx context.Context, lang string, b config.Backend) (langservice.Backend, func(context.Context) error, error) {
	switch b.Kind {
	case constants.BackendKindLSP:
		startCtx, cancel := context.WithTimeout(ctx, constants.LanguageServerStartTimeout)
		defer cancel()
		opts := []lspbackend.Option{
			lspbackend.WithLogger(d.logger),
			lspbackend.WithClientInfo("edbridged", version.String()),
		}
		if b.RootDir != "" {
			opts = append(opts, lspbackend.WithRootDir(b.RootDir))
		}
		if len(b.Options) > 0 {
			opts = append(opts, lspbackend.WithInitializationOptions(b.Options))
		}
		client, err := lspbackend.Start(startCtx, b.Command, b.Args, opts...)
		if err != nil {
			return nil, nil, err
		}
		return client, client.Close, nil
	case constants.BackendKindGRPC:
		var opts []grpcbackend.Option
		if b.Token != "" {
			opts = append(opts, grpcbackend.WithToken(b.Token))
		}
		client, err := grpcbackend.Dial(b.Target, opts...)
		if err != nil {
			return nil, nil, err
		}
		return client, func(context.Context) error { return client.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown backend kind %q for %s", b.Kind, lang)
	}
}

func (d *Daemon) closeBackends() {
	ctx, cancel := context.WithTimeout(context.Background(), constants.LanguageServerShutdownTimeout)
	defer cancel()
	for _, closeFn := range d.closers {
		if err := closeFn(ctx); err != nil {
			d.logger.Printf("[daemon] close language backend: %v", err)
		}
	}
	d.closers = nil
}

// Run serves the websocket endpoint on the configured listen address and
// the IPC endpoint on the configured socket until ctx ends or Shutdown is
// called. The editor is torn down before Run returns.
func (d *Daemon) Run(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return ErrAlreadyRunning
	}
	d.running = true
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.mu.Unlock()
	defer cancel()
	d.loop.Start()
	defer d.teardown()

	ln, err := net.Listen("tcp", d.cfg.Listen)
	if err != nil {
		return fmt.Errorf("daemon: listen on %s: %w", d.cfg.Listen, err)
	}
	socketDir, socketName := splitSocket(d.cfg.Socket)
	socketPath, ipcLn, err := server.ListenIPC(socketDir, socketName)
	if err != nil {
		ln.Close()
		return fmt.Errorf("daemon: %w", err)
	}
	d.runtimeInfo.bound(ln.Addr().String(), socketPath, time.Now())

	d.loadScripts(ctx)
	d.scripts.Start(ctx)
	d.server.Start(ctx)

	httpSrv := &http.Server{
		Handler:           d.Handler(),
		ReadHeaderTimeout: constants.WebSocketWriteTimeout,
	}
	d.logger.Printf("[daemon] listening on %s (ipc %s)", ln.Addr(), socketPath)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("daemon: serve http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return d.server.ServeIPC(gctx, ipcLn)
	})
	g.Go(func() error {
		<-gctx.Done()
		d.server.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.DaemonShutdownTimeout)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("daemon: shutdown http: %w", err)
		}
		return nil
	})
	return g.Wait()
}

func splitSocket(path string) (dir, name string) {
	return filepath.Dir(path), strings.TrimSuffix(filepath.Base(path), ".sock")
}

func (d *Daemon) loadScripts(ctx context.Context) {
	if d.cfg.ScriptsDir == "" {
		return
	}
	err := d.loop.Do(ctx, func() error {
		scripts, err := d.scripts.LoadDir(d.cfg.ScriptsDir)
		for _, s := range scripts {
			d.logger.Printf("[daemon] loaded script %s (%s)", s.Name, s.FilePath)
		}
		return err
	})
	if err != nil {
		d.logger.Printf("[daemon] script loading stopped: %v", err)
	}
}

func (d *Daemon) teardown() {
	d.scripts.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), constants.DaemonShutdownTimeout)
	if err := d.bridge.Close(ctx); err != nil {
		d.logger.Printf("[daemon] close editor: %v", err)
	}
	cancel()
	d.loop.Stop()
	d.closeBackends()
	d.bus.Shutdown()
	forwarded, dropped := d.relay.Stats()
	d.logger.Printf("[daemon] stopped (%d console lines forwarded, %d dropped)", forwarded, dropped)
}

// Shutdown signals Run to return.
func (d *Daemon) Shutdown() {
	d.mu.Lock()
	cancel := d.cancel
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Handler serves the peer endpoints plus /metrics and /status.
func (d *Daemon) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", d.exporter)
	mux.HandleFunc("/status", d.handleStatus)
	mux.Handle("/", d.server.Handler())
	return mux
}

func (d *Daemon) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := d.runtimeInfo.snapshot(time.Now())
	snap.Version = version.String()
	snap.Peers = d.server.PeerCount()
	snap.Languages = d.router.Languages()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snap); err != nil {
		d.logger.Printf("[daemon] write status: %v", err)
	}
}

func (d *Daemon) editorSnapshot() observability.EditorSnapshot {
	var snap observability.EditorSnapshot
	ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
	defer cancel()
	err := d.loop.Do(ctx, func() error {
		engine := d.session.Engine()
		snap.Mode = string(d.session.Mode())
		snap.Models = len(engine.Models())
		snap.Markers = len(engine.ModelMarkers(editor.MarkerFilter{}))
		snap.Registrations = len(d.session.Registry().Languages())
		snap.Scripts = len(d.scripts.Scripts())
		return nil
	})
	if err != nil {
		return observability.EditorSnapshot{Mode: string(session.ModeNone)}
	}
	return snap
}

// RuntimeInfo returns the daemon's runtime metadata.
func (d *Daemon) RuntimeInfo() *RuntimeInfo {
	return d.runtimeInfo
}

// Bridge returns the editor bridge.
func (d *Daemon) Bridge() *bridge.Bridge {
	return d.bridge
}

// IsRunning reports whether a daemon answers on socket.
func IsRunning(socket string) bool {
	conn, err := server.DialIPC(socket)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
