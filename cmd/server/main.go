/*
main.go - Application entry point

PURPOSE:
  Command-line entry point of the address registry. The serve command
  runs the HTTP API; the other commands are operator tools that work
  directly on the database.

COMMANDS:
  serve                        Run the HTTP server
  ask-composition CODE...      Flag communes for composition
  pending                      List communes waiting for composition
  force-certification CODE...  Reconcile the force-certified set

GLOBAL FLAGS:
  --config     YAML config file (see config/config.go)
  --db         SQLite database path; ":memory:" for an in-memory database
  --catalog    COG catalog JSON file
  --log-level  debug | info | warn | error

STARTUP SEQUENCE (serve):
  1. Load config, apply flag overrides
  2. Build logger, register metrics
  3. Open SQLite store, load COG catalog, open composition queue
  4. Wire registry components and HTTP router
  5. Start recovery scheduler and tile cache
  6. Serve until SIGINT/SIGTERM

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop scheduler and tile cache, close queue and database
  4. Exit

EXAMPLES:
  # Run with file database
  ./server serve --db=./data/ban.db --catalog=./data/cog.json

  # Run with in-memory database on a different port
  ./server serve --db=":memory:" --port=3000

  # Ask compositions from an operator shell
  ./server ask-composition --db=./data/ban.db 01001 01004

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: Configuration keys
  - commands.go: Operator commands
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/warp/ban-registry/api"
	"github.com/warp/ban-registry/cog"
	"github.com/warp/ban-registry/config"
	"github.com/warp/ban-registry/geojson"
	"github.com/warp/ban-registry/metrics"
	"github.com/warp/ban-registry/queue"
	"github.com/warp/ban-registry/registry"
	"github.com/warp/ban-registry/store/sqlite"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Config     config.Config
}

func main() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// NewRootCommand creates the root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{Config: config.Default()}

	cmd := &cobra.Command{
		Use:           "server",
		Short:         "Address registry server and operator tools",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load(cmd.Flags())
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.ConfigPath, "config", "", "YAML config file")
	flags.StringVar(&opts.Config.DB, "db", opts.Config.DB, "SQLite database path")
	flags.StringVar(&opts.Config.Catalog, "catalog", opts.Config.Catalog, "COG catalog JSON file")
	flags.StringVar(&opts.Config.LogLevel, "log-level", opts.Config.LogLevel, "log level (debug|info|warn|error)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewAskCompositionCommand(opts))
	cmd.AddCommand(NewPendingCommand(opts))
	cmd.AddCommand(NewForceCertificationCommand(opts))

	return cmd
}

// load reads the config file, then re-applies the flags the user set so
// that flags win over file values.
func (o *RootOptions) load(flags *pflag.FlagSet) error {
	fromFlags := o.Config
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return err
	}

	overrides := map[string]func(){
		"db":                func() { cfg.DB = fromFlags.DB },
		"catalog":           func() { cfg.Catalog = fromFlags.Catalog },
		"log-level":         func() { cfg.LogLevel = fromFlags.LogLevel },
		"port":              func() { cfg.Port = fromFlags.Port },
		"queue-path":        func() { cfg.QueuePath = fromFlags.QueuePath },
		"queue-capacity":    func() { cfg.QueueCapacity = fromFlags.QueueCapacity },
		"recovery-interval": func() { cfg.RecoveryInterval = fromFlags.RecoveryInterval },
		"tile-cache-ttl":    func() { cfg.TileCacheTTL = fromFlags.TileCacheTTL },
		"reconcile-workers": func() { cfg.ReconcileWorkers = fromFlags.ReconcileWorkers },
	}
	flags.Visit(func(f *pflag.Flag) {
		if apply, ok := overrides[f.Name]; ok {
			apply()
		}
	})

	if err := cfg.Validate(); err != nil {
		return err
	}
	o.Config = cfg
	return nil
}

// =============================================================================
// SERVE
// =============================================================================

// NewServeCommand creates the serve command.
func NewServeCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(opts.Config)
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&opts.Config.Port, "port", opts.Config.Port, "HTTP server port")
	flags.StringVar(&opts.Config.QueuePath, "queue-path", opts.Config.QueuePath, "file persisting the composition queue (empty: memory only)")
	flags.IntVar(&opts.Config.QueueCapacity, "queue-capacity", opts.Config.QueueCapacity, "maximum queued compositions")
	flags.DurationVar(&opts.Config.RecoveryInterval, "recovery-interval", opts.Config.RecoveryInterval, "pending composition recovery interval (0 disables)")
	flags.DurationVar(&opts.Config.TileCacheTTL, "tile-cache-ttl", opts.Config.TileCacheTTL, "tile cache TTL (0 disables)")
	flags.IntVar(&opts.Config.ReconcileWorkers, "reconcile-workers", opts.Config.ReconcileWorkers, "concurrent recompositions on force certification changes")

	return cmd
}

func serve(cfg config.Config) error {
	log, flush, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer flush()

	metrics.Register()

	store, err := sqlite.New(cfg.DB)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()

	catalog, err := loadCatalog(cfg.Catalog, log)
	if err != nil {
		return err
	}

	jobs, err := queue.New(cfg.QueuePath, cfg.QueueCapacity)
	if err != nil {
		return fmt.Errorf("failed to open composition queue: %w", err)
	}
	defer jobs.Close()

	tracker := registry.NewTracker(store, catalog, jobs, registry.WithLogger(log.WithName("composition")))
	reconciler := registry.NewReconciler(store, tracker, cfg.ReconcileWorkers, log.WithName("certification"))
	views := registry.NewViews(store, catalog)
	extractor := registry.NewTileExtractor(store, geojson.Formatter{}, log.WithName("tiles"))

	tiles := api.NewTileCache(extractor, cfg.TileCacheTTL)
	tiles.Start()
	defer tiles.Stop()

	scheduler := api.NewRecoveryScheduler(tracker, log)
	scheduler.CheckInterval = cfg.RecoveryInterval
	scheduler.Start()
	defer scheduler.Stop()

	handler := api.NewHandler(tracker, reconciler, views, tiles, jobs, log)
	router := api.NewRouter(handler, cfg.AllowedOrigins)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: api.MaxNextWait + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("Server starting", "addr", server.Addr, "db", cfg.DB, "queued", jobs.Len())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	log.Info("Shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info("Server stopped")
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

// newLogger builds a zap-backed logr.Logger. logr V(n) maps to zap level -n.
func newLogger(level string) (logr.Logger, func(), error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return logr.Discard(), nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	zl, err := zcfg.Build()
	if err != nil {
		return logr.Discard(), nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return zapr.NewLogger(zl), func() { _ = zl.Sync() }, nil
}

func loadCatalog(path string, log logr.Logger) (*cog.Catalog, error) {
	if path == "" {
		log.Info("No COG catalog configured, every commune code will be unresolvable")
		return cog.New(nil, nil, nil), nil
	}
	catalog, err := cog.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load COG catalog: %w", err)
	}
	log.Info("COG catalog loaded", "path", path, "communes", catalog.Len())
	return catalog, nil
}
