package cli

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/scenebridge/internal/bridge"
	"github.com/roach88/scenebridge/internal/config"
	"github.com/roach88/scenebridge/internal/diag"
	"github.com/roach88/scenebridge/internal/hostworld"
	"github.com/roach88/scenebridge/internal/journal"
	"github.com/roach88/scenebridge/internal/pool"
	"github.com/roach88/scenebridge/internal/scene"
	"github.com/roach88/scenebridge/internal/transport/ws"
)

// ServeOptions holds flags for the serve command. Set flags override the
// config file.
type ServeOptions struct {
	*RootOptions
	Addr     string
	Database string
	DiagDir  string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve scenes to remote sandboxes over websocket",
		Long: `Accept websocket connections from scene sandboxes.

Each connection gets its own scene, reconciled into an in-memory host
world. Connect to /scene?scene=<name> for a new scene, or
/scene?resume=<id> to restore a journaled one. /healthz reports pool
and scene counters.

Examples:
  scenebridge serve
  scenebridge serve --addr :8765 --db ./scenebridge.db
  scenebridge serve --config ./scenebridge.yaml -v`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (overrides serve.addr)")
	cmd.Flags().StringVar(&opts.Database, "db", "", "journal database (overrides journal.path)")
	cmd.Flags().StringVar(&opts.DiagDir, "diag-dir", "", "failure log directory (overrides diagnostics.dir)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	if opts.Addr != "" {
		cfg.Serve.Addr = opts.Addr
	}
	if opts.Database != "" {
		cfg.Journal.Path = opts.Database
	}
	if opts.DiagDir != "" {
		cfg.Diagnostics.Dir = opts.DiagDir
	}

	rt, err := newProcess(cfg, slog.Default())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start", err)
	}
	defer rt.Close()

	ln, err := net.Listen("tcp", cfg.Serve.Addr)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to listen", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rt.Serve(ctx, ln)
}

// process is the wired server.
type process struct {
	cfg     config.Config
	logger  *slog.Logger
	pools   *pool.Registry
	mgr     *scene.Manager
	journal *journal.Journal
	diagLog *diag.JSONLSink
	server  *ws.Server
}

func newProcess(cfg config.Config, logger *slog.Logger) (*process, error) {
	rt := &process{cfg: cfg, logger: logger}
	rt.pools = pool.NewRegistry(
		pool.WithSizeClasses(cfg.Pool.MinShift, cfg.Pool.MaxShift),
		pool.WithMaxFree(cfg.Pool.MaxFree),
		pool.WithLogger(logger),
	)

	sinks := diag.Multi{diag.NewSlogSink(logger)}
	if cfg.Diagnostics.Dir != "" {
		rt.diagLog = diag.NewJSONLSink(cfg.Diagnostics.Dir, logger)
		sinks = append(sinks, rt.diagLog)
	}

	mopts := []scene.Option{
		scene.WithLogger(logger),
		scene.WithSink(sinks),
		scene.WithFailureWindow(cfg.Failures.Limit, cfg.Failures.Window),
		scene.WithBridgeOptions(
			bridge.WithAwaitApply(cfg.Bridge.AwaitApply),
			bridge.WithFinalizeTimeout(cfg.Bridge.FinalizeTimeout),
		),
	}
	if cfg.Journal.Path != "" {
		j, err := journal.Open(cfg.Journal.Path)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.journal = j
		mopts = append(mopts, scene.WithJournal(j, cfg.Journal.SnapshotEvery))
	}
	rt.mgr = scene.NewManager(rt.pools, mopts...)

	rt.server = ws.NewServer(rt.mgr,
		func(name string) bridge.HostWorld {
			return hostworld.NewMirror(logger.With("host", name))
		},
		ws.WithLogger(logger),
		ws.WithMaxFrameSize(cfg.Serve.MaxFrameSize),
	)
	return rt, nil
}

// Handler routes the websocket endpoint and the health check.
func (rt *process) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/scene", rt.server.Handler())
	mux.HandleFunc("/healthz", rt.health)
	return mux
}

// Health is the /healthz body.
type Health struct {
	Scenes    int        `json:"scenes"`
	Suspended int        `json:"suspended"`
	Pool      pool.Stats `json:"pool"`
}

func (rt *process) health(w http.ResponseWriter, r *http.Request) {
	h := Health{Pool: rt.pools.Stats()}
	for _, s := range rt.mgr.Scenes() {
		h.Scenes++
		if s.State() == scene.Suspended {
			h.Suspended++
		}
	}
	w.Header().Set("Content-Type", "application/json")
	out := &OutputFormatter{Format: "json", Writer: w}
	_ = out.Success(h)
}

// Serve runs the HTTP server on ln until ctx is done, then drains
// connections and unloads every scene.
func (rt *process) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           rt.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	rt.logger.Info("scenebridge serving", "addr", ln.Addr().String(), "journal", rt.cfg.Journal.Path)

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return WrapExitError(ExitFailure, "server failed", err)
		}
		return nil
	case <-ctx.Done():
	}

	rt.logger.Info("scenebridge shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		rt.logger.Warn("shutdown incomplete", "error", err)
	}
	return nil
}

// Close unloads every scene, checkpointing journaled ones first, and
// releases process resources.
func (rt *process) Close() {
	if rt.mgr != nil {
		for _, s := range rt.mgr.Scenes() {
			s.Checkpoint()
		}
		rt.mgr.Close()
	}
	if rt.diagLog != nil {
		if err := rt.diagLog.Close(); err != nil {
			rt.logger.Warn("failure log close", "error", err)
		}
	}
	if rt.journal != nil {
		if err := rt.journal.Close(); err != nil {
			rt.logger.Warn("journal close", "error", err)
		}
	}
	if rt.pools != nil {
		st := rt.pools.Stats()
		rt.logger.Debug("pool stats", "rents", st.Rents, "misses", st.Misses, "outstanding", st.Outstanding)
		rt.pools.Close()
	}
}
