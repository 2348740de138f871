package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/time/rate"

	"github.com/bamsammich/logsync/internal/config"
	"github.com/bamsammich/logsync/internal/engine"
	"github.com/bamsammich/logsync/internal/filter"
	"github.com/bamsammich/logsync/internal/metrics"
	"github.com/bamsammich/logsync/internal/retry"
	"github.com/bamsammich/logsync/internal/stats"
	"github.com/bamsammich/logsync/internal/update"
)

func newClientCmd(logs *logFlags) *cobra.Command {
	var (
		configPath string
		once       bool
		cliRules   []string
	)
	cmd := &cobra.Command{
		Use:   "client",
		Short: "Watch directories and upload new or modified files",
		Long: `Run the upload client. Every check_interval the watched directories are
scanned and new or modified files with an allowed extension are queued; every
upload_interval the queue is drained to the server.

With --once the client runs a single detection cycle, drains the queue and
exits. The first cycle only takes a baseline unless upload_existing_files is
set. Exit status 3 means an update was installed and the client must be
restarted.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.LoadClient(configPath)
			if err != nil {
				return configError(err)
			}
			// Command-line rules are checked before the config file's.
			cfg.Exclude = append(cliRules, cfg.Exclude...)

			logger, closeLog, err := logs.setup(cfg.LogLevel)
			if err != nil {
				return configError(err)
			}
			defer closeLog() //nolint:errcheck // best-effort on exit

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return runClient(ctx, cfg, once, logger)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "logsync-client.toml", "client config `FILE`")
	cmd.Flags().BoolVar(&once, "once", false, "run one detection cycle, upload, and exit")
	cmd.Flags().Var(&ruleFlag{rules: &cliRules}, "exclude", "skip files matching `PATTERN` (repeatable)")
	cmd.Flags().Var(&ruleFlag{rules: &cliRules, include: true}, "include", "upload files matching `PATTERN` even if a later rule excludes them")
	return cmd
}

// ruleFlag appends --exclude and --include values to one ordered rule list,
// in the form filter.ParseRules reads.
type ruleFlag struct {
	rules   *[]string
	include bool
}

var _ pflag.Value = (*ruleFlag)(nil)

func (*ruleFlag) String() string { return "" }
func (*ruleFlag) Type() string   { return "string" }

func (f *ruleFlag) Set(val string) error {
	prefix := "- "
	if f.include {
		prefix = "+ "
	}
	*f.rules = append(*f.rules, prefix+val)
	return nil
}

func runClient(ctx context.Context, cfg config.ClientConfig, once bool, logger *slog.Logger) error {
	exclude, err := filter.ParseRules(cfg.Exclude)
	if err != nil {
		return configError(fmt.Errorf("exclude: %w", err))
	}

	fs := afero.NewOsFs()
	sender := engine.NewSender(engine.SenderConfig{
		URL:     cfg.ServerURL,
		Key:     cfg.Key,
		ToolKey: cfg.ToolKey,
		Naming: engine.NamingOptions{
			RenameWithDate: cfg.RenameWithDate,
			AllTxtExt:      cfg.AllTxtExt,
		},
		FS:        fs,
		Client:    &http.Client{},
		Timeout:   cfg.RequestTimeout,
		Limiter:   limiterFor(cfg),
		Location:  cfg.Location(),
		Retries:   cfg.UploadRetries,
		RetryWait: retry.DefaultConfig().InitialWait,
		Logger:    logger,
	})

	collector := stats.NewCollector()
	eng := engine.New(engine.Config{
		Detector: engine.DetectorConfig{
			FS:             fs,
			Roots:          cfg.Watch,
			Extensions:     filter.NewExtensions(cfg.AllowedExtensions),
			Exclude:        exclude,
			UploadExisting: cfg.UploadExistingFiles,
		},
		Uploader:       sender,
		CheckInterval:  cfg.CheckInterval,
		UploadInterval: cfg.UploadInterval,
		Workers:        cfg.UploadWorkers,
		Logger:         logger,
		Stats:          collector,
	})

	if once {
		return runOnce(ctx, eng, logger)
	}

	if cfg.MetricsListen != "" {
		if err := serveMetrics(ctx, cfg.MetricsListen, logger); err != nil {
			return configError(err)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg        sync.WaitGroup
		updateErr error
	)
	if cfg.Update.URL != "" {
		checker, err := newChecker(cfg, logger)
		if err != nil {
			return configError(err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			updateErr = checker.Run(runCtx)
			if updateErr != nil {
				cancel()
			}
		}()
	}

	err = eng.Run(runCtx)
	cancel()
	wg.Wait()

	if errors.Is(updateErr, update.ErrRestartRequired) {
		logger.Info("update installed, exiting for restart")
		return &exitError{code: exitRestart}
	}
	return err
}

// runOnce detects, drains and reports. Any failed upload fails the command.
func runOnce(ctx context.Context, eng *engine.Engine, logger *slog.Logger) error {
	res, err := eng.Detect(ctx)
	if err != nil {
		return err
	}
	logger.Debug("detection complete", "queued", res.Queued, "rejected", res.Rejected)

	drained := eng.Drain(ctx)
	logger.Info("upload complete", "stats", eng.Stats().String())
	if drained.Failed > 0 {
		return &exitError{code: exitFailure, err: fmt.Errorf("%d of %d uploads failed", drained.Failed, drained.Attempted)}
	}
	return nil
}

func limiterFor(cfg config.ClientConfig) *rate.Limiter {
	n := cfg.BWLimitBytes()
	if n <= 0 {
		return nil
	}
	return engine.NewBWLimiter(n)
}

func newChecker(cfg config.ClientConfig, logger *slog.Logger) (*update.Checker, error) {
	target := cfg.Update.Target
	if target == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("locate executable for updates: %w", err)
		}
		target = exe
	}
	return update.NewChecker(update.CheckerConfig{
		URL:      cfg.Update.URL,
		Interval: cfg.Update.Interval,
		Current:  version,
		Target:   target,
		Logger:   logger,
	}), nil
}

// serveMetrics exposes the client's Prometheus registry until ctx is done.
func serveMetrics(ctx context.Context, addr string, logger *slog.Logger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("metrics listen %s: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", metrics.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server stopped", "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", ln.Addr().String())
	return nil
}
