package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/alexedwards/flow"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/enrolld/enrolld/pkg/api"
	"github.com/enrolld/enrolld/pkg/config"
	"github.com/enrolld/enrolld/pkg/delegation"
	"github.com/enrolld/enrolld/pkg/device"
	"github.com/enrolld/enrolld/pkg/engine"
	"github.com/enrolld/enrolld/pkg/history"
	"github.com/enrolld/enrolld/pkg/notify"
	"github.com/enrolld/enrolld/pkg/resume"
	diskvstorage "github.com/enrolld/enrolld/pkg/resume/storage/diskv"
	"github.com/enrolld/enrolld/pkg/service"
	"github.com/enrolld/enrolld/pkg/telemetry"
)

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the provisioning daemon",
		Long: `Start the enrolld daemon: the HTTP API, the provisioning service and
the post-reboot resume hook.

On startup the daemon checks the resume slot exactly once and restarts a
provisioning run interrupted by the encryption reboot.`,
		Example: `  # Run with defaults
  enrolld serve

  # Run with a config file
  enrolld serve --config /etc/enrolld/enrolld.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
	return cmd
}

func runServe(ctx context.Context) error {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	logger, err := telemetry.NewLogger(telemetry.LoggingConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0750); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	metrics, err := telemetry.NewMetrics(telemetry.MetricsConfig{
		Enabled:   cfg.Metrics.Enabled,
		Namespace: cfg.Metrics.Namespace,
	})
	if err != nil {
		return fmt.Errorf("failed to set up metrics: %w", err)
	}

	tracer, err := telemetry.NewTracer(telemetry.TracingConfig{
		Enabled:      cfg.Tracing.Enabled,
		Exporter:     cfg.Tracing.Exporter,
		Endpoint:     cfg.Tracing.Endpoint,
		Insecure:     cfg.Tracing.Insecure,
		SamplingRate: cfg.Tracing.SamplingRate,
	}, "enrolld", buildVersion, "production")
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tracer.Shutdown(shutdownCtx)
	}()

	store, err := history.NewSQLiteStore(history.Config{Path: cfg.HistoryPath()})
	if err != nil {
		return err
	}
	if err := store.Init(ctx); err != nil {
		return err
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		return err
	}

	dev := device.NewSim()
	disp := engine.NewDispatcher()
	defer disp.Close()

	var notifier interface {
		notify.AdminNotifier
		ShowResumeNotification(context.Context, *engine.ProvisioningRequest) error
	}
	if cfg.Notify.URL != "" {
		notifier = notify.NewWebhook(cfg.Notify.URL, logger, notify.WithTimeout(cfg.Notify.Timeout))
	} else {
		notifier = notify.Nop{}
	}

	recorder := engine.MultiRecorder(
		history.NewRecorder(store, cfg.UserID, logger),
		telemetry.NewRecorder(metrics, tracer),
	)

	// The resume launcher feeds persisted requests back into the service;
	// the service is assigned right below, before any resume can run.
	var svc *service.Service
	resumeCtrl := resume.NewController(resume.Config{
		Store:    diskvstorage.New(cfg.ResumePath()),
		Packages: dev,
		Status:   dev,
		Launcher: resume.LauncherFunc(func(_ context.Context, req *engine.ProvisioningRequest) error {
			_, err := svc.Start(context.Background(), req)
			return err
		}),
		Notifier:  notifier,
		Component: cfg.ResumeComponent,
		UserID:    cfg.UserID,
		Logger:    logger,
	})

	svc = service.New(service.Config{
		Device:     dev.Facade(),
		Dispatcher: disp,
		Resume:     resumeCtrl,
		Decider:    buildDecider(cfg, dev, logger),
		Notifier:   notifier,
		Recorder:   recorder,
		UserID:     cfg.UserID,
		Logger:     logger,
	})

	if configPath != "" {
		watcher := config.NewWatcher(configPath, logger)
		if err := watcher.Watch(ctx, func(next *config.Config) error {
			svc.SetDecider(buildDecider(next, dev, logger))
			return nil
		}); err != nil {
			logger.Warn().Err(err).Msg("Config hot reload unavailable")
		} else {
			defer watcher.Stop()
		}
	}

	// Startup hook: resume at most once per process lifetime.
	svc.Resume(ctx)

	mux := flow.New()
	api.HandleAPIv1("/v1", mux, logger, svc, store)
	api.HandleOps(mux, store, metrics.Handler())

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.ListenAddr).Msg("Serving provisioning API")
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shut down cleanly: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// buildDecider constructs the delegation decider from config, or nil when
// no role holder is configured at all.
func buildDecider(cfg *config.Config, dev *device.Sim, logger zerolog.Logger) *delegation.Decider {
	if cfg.RoleHolder.PackageName == "" && !cfg.RoleHolder.DelegationEnabled {
		return nil
	}
	return delegation.NewDecider(
		cfg.RoleHolder.PackageName,
		cfg.RoleHolder.UpdaterPackageName,
		configFlags{enabled: cfg.RoleHolder.DelegationEnabled},
		simPackages{sim: dev},
		logger,
	)
}

// configFlags adapts the static config to the decider's feature flag
// source.
type configFlags struct {
	enabled bool
}

func (f configFlags) CanDelegateToRoleHolder() bool { return f.enabled }

// simPackages adapts the device facade to the decider's package queries.
type simPackages struct {
	sim *device.Sim
}

func (p simPackages) Installed(pkg string) bool {
	installed, err := p.sim.Installed(context.Background(), pkg)
	return err == nil && installed
}
