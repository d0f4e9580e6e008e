package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/harun/codexmcp/internal/config"
	"github.com/harun/codexmcp/internal/logger"
	"github.com/harun/codexmcp/internal/observability"
	"github.com/harun/codexmcp/internal/tracing"
	"github.com/harun/codexmcp/pkg/codex"
	"github.com/harun/codexmcp/pkg/commandqueue"
	"github.com/harun/codexmcp/pkg/mcpserver"
	"github.com/harun/codexmcp/pkg/sandbox"
	"github.com/harun/codexmcp/pkg/session"
	"github.com/harun/codexmcp/pkg/toolexecutor"
)

// Daemon wires the codex MCP server together and owns its lifecycle
type Daemon struct {
	config *config.Config
	logger *logger.Logger
	loader *config.Loader

	// Core modules
	store        session.Store
	sandbox      *sandbox.HostSandbox
	runner       codex.Runner
	dispatcher   *codex.Dispatcher
	queue        *commandqueue.CommandQueue
	toolExecutor *toolexecutor.ToolExecutor
	mcpServer    *mcpserver.Server

	// Services
	cleanup       *session.Cleanup
	watcher       *config.Watcher
	metricsServer *http.Server
	metricsAddr   string
	eventLoop     *EventLoop

	in  io.Reader
	out io.Writer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startTime time.Time
	running   bool
	stopOnce  sync.Once
	mu        sync.RWMutex

	tracer *tracing.Provider
}

// Option customizes a Daemon.
type Option func(*Daemon)

// WithRunner replaces the sandbox-backed codex runner.
func WithRunner(runner codex.Runner) Option {
	return func(d *Daemon) {
		d.runner = runner
	}
}

// WithLoader enables config hot reload from the loader's file.
func WithLoader(loader *config.Loader) Option {
	return func(d *Daemon) {
		d.loader = loader
	}
}

// WithIO replaces stdin/stdout as the MCP transport.
func WithIO(in io.Reader, out io.Writer) Option {
	return func(d *Daemon) {
		d.in = in
		d.out = out
	}
}

// New creates a daemon, building its modules in dependency order
func New(cfg *config.Config, log *logger.Logger, opts ...Option) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Daemon{
		config: cfg,
		logger: log,
		in:     os.Stdin,
		out:    os.Stdout,
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(d)
	}

	observability.EnsureRegistered()
	if cfg.Tracing.Enabled {
		tracer, err := tracing.Setup(ctx, tracing.Config{
			ServiceName:    cfg.Tracing.ServiceName,
			ServiceVersion: cfg.Server.Version,
			Exporter:       cfg.Tracing.Exporter,
			File:           cfg.Tracing.File,
			Endpoint:       cfg.Tracing.Endpoint,
			Insecure:       cfg.Tracing.Insecure,
			SampleRatio:    cfg.Tracing.SampleRatio,
		})
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize tracing, continuing without exported spans")
		} else {
			d.tracer = tracer
			log.Debug().Str("exporter", cfg.Tracing.Exporter).Msg("Tracing initialized")
		}
	}

	if err := d.initializeCoreModules(); err != nil {
		d.teardown()
		return nil, fmt.Errorf("failed to initialize core modules: %w", err)
	}

	if err := d.initializeServices(); err != nil {
		d.teardown()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	d.eventLoop = NewEventLoop(d)
	return d, nil
}

func (d *Daemon) initializeCoreModules() error {
	if d.config.DataDir != "" {
		if err := os.MkdirAll(d.config.DataDir, 0o755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
		auditPath := filepath.Join(d.config.DataDir, "audit.log")
		if err := observability.InitAuditLogger(auditPath); err != nil {
			d.logger.Warn().Err(err).Msg("Failed to initialize audit logger, using default stderr")
		} else {
			d.logger.Debug().Str("path", auditPath).Msg("Audit logger initialized")
		}
	}

	store, err := OpenStore(d.config.Sessions)
	if err != nil {
		return fmt.Errorf("failed to open session store: %w", err)
	}
	d.store = store
	d.logger.Debug().Str("backend", d.config.Sessions.Backend).Msg("Session store initialized")

	if d.runner == nil {
		sb, err := StartSandbox(d.ctx, d.config.Codex)
		if err != nil {
			return err
		}
		d.sandbox = sb
		d.runner = codex.NewSandboxRunner(sb)
	}

	d.dispatcher = codex.New(d.store, d.runner,
		codex.WithCommand(d.config.Codex.Command),
		codex.WithDefaultModel(d.config.Codex.DefaultModel),
	)

	d.queue = commandqueue.New(
		commandqueue.WithLane(commandqueue.StatelessLane, d.config.Server.StatelessConcurrency),
		commandqueue.WithWarnAfter(d.config.Server.QueueWarnAfter()),
	)

	d.toolExecutor = toolexecutor.New()
	if timeout := d.config.Server.ToolTimeoutDuration(); timeout > 0 {
		d.toolExecutor.SetDefaultTimeout(timeout)
	}
	if err := codex.RegisterTools(d.toolExecutor, d.dispatcher, codex.ToolDeps{
		Store: d.store,
		Queue: d.queue,
	}); err != nil {
		return fmt.Errorf("failed to register tools: %w", err)
	}
	d.logger.Debug().Strs("tools", d.toolExecutor.ListTools()).Msg("Tools registered")

	d.mcpServer = mcpserver.New(mcpserver.Config{
		Name:        d.config.Server.Name,
		Version:     d.config.Server.Version,
		ToolTimeout: d.config.Server.ToolTimeoutDuration(),
	}, d.toolExecutor)

	return nil
}

func (d *Daemon) initializeServices() error {
	if maxIdle := d.config.Sessions.MaxIdleDuration(); maxIdle > 0 {
		cleanup, err := session.NewCleanup(d.store, maxIdle, d.config.Sessions.CleanupSchedule)
		if err != nil {
			return fmt.Errorf("failed to create session cleanup: %w", err)
		}
		d.cleanup = cleanup
	}

	if d.loader != nil {
		watcher, err := config.NewWatcher(d.loader, d.applyConfig)
		if err != nil {
			return fmt.Errorf("failed to create config watcher: %w", err)
		}
		d.watcher = watcher
	}

	if d.config.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", observability.MetricsHandler())
		d.metricsServer = &http.Server{
			Addr:              d.config.Metrics.Addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	return nil
}

// Run starts background services and serves MCP until ctx ends or the
// client closes the stream. It stops the daemon before returning.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.Start(); err != nil {
		return err
	}
	defer func() {
		if err := d.Stop(); err != nil {
			d.logger.Error().Err(err).Msg("Failed to stop daemon")
		}
	}()

	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(d.ctx, cancel)
	defer stop()

	return d.mcpServer.Serve(serveCtx, d.in, d.out)
}

// Start starts the background services without serving MCP
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	logger := d.logger.GetZerolog().With().Str("trace_id", tracing.NewTraceID()).Logger()
	logger.Info().
		Str("command", d.dispatcher.Command()).
		Str("default_model", d.dispatcher.DefaultModel()).
		Str("backend", d.config.Sessions.Backend).
		Msg("Starting codex MCP server")

	if d.cleanup != nil {
		if err := d.cleanup.Start(); err != nil {
			return fmt.Errorf("failed to start session cleanup: %w", err)
		}
	}

	if d.watcher != nil {
		if err := d.watcher.Start(); err != nil {
			logger.Warn().Err(err).Msg("Config hot reload disabled")
			d.watcher = nil
		}
	}

	if d.metricsServer != nil {
		ln, err := net.Listen("tcp", d.metricsServer.Addr)
		if err != nil {
			return fmt.Errorf("failed to listen for metrics: %w", err)
		}
		d.mu.Lock()
		d.metricsAddr = ln.Addr().String()
		d.mu.Unlock()

		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			if err := d.metricsServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("Metrics server failed")
			}
		}()
		logger.Info().Str("addr", d.metricsAddr).Msg("Metrics server started")
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.preflight()
	}()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.eventLoop.Run(d.ctx)
	}()

	return nil
}

// preflight checks the installed codex version; a mismatch only warns.
func (d *Daemon) preflight() {
	ctx, cancel := context.WithTimeout(d.ctx, 30*time.Second)
	defer cancel()

	v, err := codex.CheckVersion(ctx, d.runner, d.dispatcher.Command(), d.GetConfig().Codex.MinVersion)
	switch {
	case err != nil && v != nil:
		d.logger.Warn().Err(err).Str("version", v.String()).Msg("Installed codex may not support session resume")
	case err != nil:
		d.logger.Warn().Err(err).Msg("Could not determine codex version")
	default:
		d.logger.Info().Str("version", v.String()).Msg("Codex CLI detected")
	}
}

// applyConfig applies the settings that can change without a restart
func (d *Daemon) applyConfig(cfg *config.Config) {
	d.mu.Lock()
	old := d.config
	d.config = cfg
	d.mu.Unlock()

	d.logger.SetLevel(cfg.Logging.Level)
	d.dispatcher.SetDefaultModel(cfg.Codex.DefaultModel)
	if d.sandbox != nil {
		if err := d.sandbox.SetConfig(SandboxConfig(cfg.Codex)); err != nil {
			d.logger.Warn().Err(err).Msg("Failed to apply sandbox settings")
		}
	}

	observability.RecordConfigAudit(d.ctx, "config_reloaded", "watcher", map[string]interface{}{
		"log_level":     cfg.Logging.Level,
		"default_model": d.dispatcher.DefaultModel(),
	})
	d.logger.Info().
		Str("old_level", old.Logging.Level).
		Str("level", cfg.Logging.Level).
		Str("default_model", d.dispatcher.DefaultModel()).
		Msg("Config applied")
}

// Stop stops all services in reverse start order. Safe to call more than once.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is not running")
	}
	d.running = false
	d.mu.Unlock()

	d.logger.Info().Msg("Stopping codex MCP server")
	d.teardown()
	d.logger.Info().Msg("Daemon stopped")
	return nil
}

func (d *Daemon) teardown() {
	d.stopOnce.Do(func() {
		logger := d.logger

		if d.watcher != nil {
			if err := d.watcher.Stop(); err != nil {
				logger.Error().Err(err).Msg("Failed to stop config watcher")
			}
		}

		if d.cleanup != nil && d.cleanup.IsRunning() {
			if err := d.cleanup.Stop(); err != nil {
				logger.Error().Err(err).Msg("Failed to stop session cleanup")
			}
		}

		if d.queue != nil {
			d.queue.WaitForActive(5 * time.Second)
			if err := d.queue.Close(); err != nil {
				logger.Error().Err(err).Msg("Failed to close command queue")
			}
		}

		if d.metricsServer != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := d.metricsServer.Shutdown(shutdownCtx); err != nil {
				logger.Error().Err(err).Msg("Failed to stop metrics server")
			}
			cancel()
		}

		d.cancel()

		done := make(chan struct{})
		go func() {
			d.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			logger.Warn().Msg("Timeout waiting for goroutines to stop")
		}

		if d.sandbox != nil && d.sandbox.IsRunning() {
			if err := d.sandbox.Stop(context.Background()); err != nil {
				logger.Error().Err(err).Msg("Failed to stop sandbox")
			}
		}

		if d.store != nil {
			if err := d.store.Close(); err != nil {
				logger.Error().Err(err).Msg("Failed to close session store")
			}
		}

		if d.tracer != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := d.tracer.Shutdown(shutdownCtx); err != nil {
				logger.Error().Err(err).Msg("Failed to shutdown tracing")
			}
			cancel()
			d.tracer = nil
		}

		if err := observability.GetAuditLogger().Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close audit logger")
		}
	})
}

// Status reports whether the daemon is running and for how long
type Status struct {
	Running   bool
	StartTime time.Time
	Uptime    time.Duration
}

// Status returns the daemon status
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := Status{Running: d.running}
	if d.running {
		status.StartTime = d.startTime
		status.Uptime = time.Since(d.startTime)
	}
	return status
}

// GetConfig returns the active configuration
func (d *Daemon) GetConfig() *config.Config {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.config
}

// MetricsAddr returns the bound metrics address once started.
func (d *Daemon) MetricsAddr() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.metricsAddr
}

// GetDispatcher returns the codex dispatcher
func (d *Daemon) GetDispatcher() *codex.Dispatcher {
	return d.dispatcher
}

// GetStore returns the session store
func (d *Daemon) GetStore() session.Store {
	return d.store
}

// GetQueue returns the command queue
func (d *Daemon) GetQueue() *commandqueue.CommandQueue {
	return d.queue
}

// GetToolExecutor returns the tool executor
func (d *Daemon) GetToolExecutor() *toolexecutor.ToolExecutor {
	return d.toolExecutor
}

// GetMCPServer returns the MCP server
func (d *Daemon) GetMCPServer() *mcpserver.Server {
	return d.mcpServer
}
