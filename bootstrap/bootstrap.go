// Package bootstrap wires all dependencies and starts the application.
// Everything comes from the YAML config file; HYPERCHANNELS_* environment
// variables override individual settings.
package bootstrap

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/artpar/hyperchannels/adapters/clock"
	apihttp "github.com/artpar/hyperchannels/adapters/http"
	"github.com/artpar/hyperchannels/adapters/idgen"
	"github.com/artpar/hyperchannels/adapters/memory"
	"github.com/artpar/hyperchannels/adapters/metrics"
	"github.com/artpar/hyperchannels/adapters/sqlite"
	"github.com/artpar/hyperchannels/app"
	"github.com/artpar/hyperchannels/config"
	"github.com/artpar/hyperchannels/ports"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// DefaultConfigPath is used when no config path is given.
const DefaultConfigPath = "hyperchannels.yaml"

// decodeLogSize bounds the in-memory decode log used when audit is off.
const decodeLogSize = 1000

// App represents the running application.
type App struct {
	Logger     zerolog.Logger
	Config     *config.Holder
	DB         *sqlite.DB
	Metrics    *metrics.Collector
	Service    *app.ReferenceService
	HTTPServer *http.Server
}

// Config provides optional configuration for application initialization.
type Config struct {
	// ConfigPath is the YAML config file. Defaults to DefaultConfigPath.
	ConfigPath string

	// Registry receives the Prometheus collectors. Defaults to the global
	// registry.
	Registry prometheus.Registerer

	// DisableWatch turns off file and SIGHUP reloads.
	DisableWatch bool

	// LogOutput receives log lines. Defaults to stdout.
	LogOutput io.Writer
}

// New creates and initializes the application from the config at path.
func New(path string) (*App, error) {
	return NewWithConfig(Config{ConfigPath: path})
}

// NewWithConfig creates and initializes the application with custom configuration.
func NewWithConfig(bc Config) (*App, error) {
	if bc.ConfigPath == "" {
		bc.ConfigPath = DefaultConfigPath
	}

	initial, err := config.Load(bc.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if bc.LogOutput == nil {
		bc.LogOutput = os.Stdout
	}
	logger := NewLogger(initial.Logging, bc.LogOutput)
	logger.Info().Str("config", bc.ConfigPath).Msg("initializing hyperchannels")

	holder, err := config.NewHolder(bc.ConfigPath, logger)
	if err != nil {
		return nil, err
	}
	cfg := holder.Get()

	a := &App{Logger: logger, Config: holder}

	if cfg.UsesSQLite() || cfg.Database.Audit {
		if err := a.initDatabase(cfg.Database); err != nil {
			return nil, fmt.Errorf("init database: %w", err)
		}
	}

	if cfg.Metrics.Enabled {
		if bc.Registry != nil {
			a.Metrics = metrics.NewWithRegistry(bc.Registry)
		} else {
			a.Metrics = metrics.New()
		}
		logger.Info().Str("path", cfg.Metrics.Path).Msg("prometheus metrics enabled")
	}

	a.Service = app.NewReferenceService(a.stores(), logger, a.serviceOptions(cfg)...)
	if err := a.Service.Apply(cfg); err != nil {
		a.close()
		return nil, fmt.Errorf("apply config: %w", err)
	}
	if err := a.Service.Seed(context.Background(), cfg.Records); err != nil {
		a.close()
		return nil, fmt.Errorf("seed records: %w", err)
	}

	holder.AddCheck(a.Service.Check)
	holder.OnChange(a.onConfigChange)
	holder.OnReload(func(err error) {
		// Accepted configs are counted by Service.Apply.
		if err != nil && a.Metrics != nil {
			a.Metrics.ConfigReloaded(err, 0)
		}
	})
	if !bc.DisableWatch {
		if err := holder.WatchFile(); err != nil {
			logger.Warn().Err(err).Msg("config file watch unavailable")
		}
		holder.WatchSignals()
	}

	a.initHTTPServer(cfg)
	return a, nil
}

func (a *App) initDatabase(dc config.DatabaseConfig) error {
	db, err := sqlite.Open(dc.DSN)
	if err != nil {
		return err
	}

	ran, err := db.Migrate(context.Background())
	if err != nil {
		db.Close()
		return fmt.Errorf("migrate: %w", err)
	}

	a.DB = db
	a.Logger.Info().Str("dsn", dc.DSN).Strs("migrations", ran).Msg("database initialized")
	return nil
}

func (a *App) stores() map[string]ports.RecordStore {
	stores := map[string]ports.RecordStore{
		config.StoreMemory: memory.NewRecordStore(),
	}
	if a.DB != nil {
		stores[config.StoreSQLite] = sqlite.NewRecordStore(a.DB)
	}
	return stores
}

func (a *App) serviceOptions(cfg *config.Config) []app.ServiceOption {
	var decodes ports.DecodeLog = memory.NewDecodeLog(decodeLogSize)
	if cfg.Database.Audit && a.DB != nil {
		decodes = sqlite.NewDecodeLog(a.DB)
	}

	opts := []app.ServiceOption{
		app.WithAudit(decodes, idgen.TimeOrdered{}),
		app.WithIDGenerator(idgen.TimeOrdered{}),
		app.WithClock(clock.UTC{}),
	}
	if a.Metrics != nil {
		opts = append(opts, app.WithMetrics(a.Metrics))
	}
	return opts
}

// onConfigChange applies a reloaded config. Settings that need a restart
// (server, database, metrics) keep their startup values.
func (a *App) onConfigChange(cfg *config.Config) {
	if level, err := zerolog.ParseLevel(cfg.Logging.Level); err == nil {
		zerolog.SetGlobalLevel(level)
	}
	if err := a.Service.Apply(cfg); err != nil {
		return
	}
	if err := a.Service.Seed(context.Background(), cfg.Records); err != nil {
		a.Logger.Error().Err(err).Msg("seeding reloaded records failed")
	}
}

func (a *App) initHTTPServer(cfg *config.Config) {
	handler := apihttp.NewHandler(a.Service, a.Logger)
	router := apihttp.NewRouter(handler, a.Logger, apihttp.RouterConfig{
		Metrics:     a.Metrics,
		MetricsPath: cfg.Metrics.Path,
		Timeout:     cfg.Server.WriteTimeout,
	})

	a.HTTPServer = &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
}

// Reload re-reads the config file and applies it.
func (a *App) Reload() error {
	return a.Config.Reload()
}

// Run starts the HTTP server and blocks until shutdown.
func (a *App) Run() error {
	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info().
			Str("addr", a.HTTPServer.Addr).
			Msg("starting http server")
		if err := a.HTTPServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errCh:
		a.close()
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		a.Logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	return a.Shutdown()
}

// Shutdown gracefully stops the application.
func (a *App) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if a.HTTPServer != nil {
		if err := a.HTTPServer.Shutdown(ctx); err != nil {
			a.Logger.Error().Err(err).Msg("http server shutdown error")
		}
	}

	a.close()
	a.Logger.Info().Msg("shutdown complete")
	return nil
}

func (a *App) close() {
	if a.Config != nil {
		a.Config.Stop()
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("database close error")
		}
		a.DB = nil
	}
}

// NewLogger builds the process logger and sets the global level.
func NewLogger(lc config.LoggingConfig, out io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(lc.Level)
	if err != nil || lc.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if lc.Format == "console" {
		output := zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
		return zerolog.New(output).With().Timestamp().Logger()
	}

	return zerolog.New(out).With().Timestamp().Logger()
}
