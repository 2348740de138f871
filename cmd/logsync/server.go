package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/bamsammich/logsync/internal/config"
	"github.com/bamsammich/logsync/internal/ingest"
	"github.com/bamsammich/logsync/internal/ledger"
	"github.com/bamsammich/logsync/internal/update"
)

func newServerCmd(logs *logFlags) *cobra.Command {
	var (
		configPath string
		listen     string
	)
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Accept uploads and sort them into per-tool directories",
		Long: `Run the ingestion server. Uploads arrive on POST /upload, land in upload_dir
and are moved to upload_dir/<tool>/<subdir> according to the route table.
Every stored upload is appended to the full and small ledgers.

Relative ledger paths are resolved against upload_dir's parent directory.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadServer(configPath)
			if err != nil {
				return configError(err)
			}
			if cmd.Flags().Changed("listen") {
				cfg.Listen = listen
			}
			logger, closeLog, err := logs.setup(cfg.LogLevel)
			if err != nil {
				return configError(err)
			}
			defer closeLog() //nolint:errcheck // best-effort on exit

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return runServer(ctx, cfg, logger)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "logsync-server.toml", "server config `FILE`")
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (host:port), overrides the config file")
	return cmd
}

func runServer(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) error {
	fs := afero.NewOsFs()
	if err := fs.MkdirAll(cfg.UploadDir, 0o755); err != nil {
		return configError(fmt.Errorf("create upload dir: %w", err))
	}
	if n, err := ingest.RemoveStaleTemps(fs, cfg.UploadDir, logger); err != nil {
		logger.Warn("cannot clean stale temp files", "error", err)
	} else if n > 0 {
		logger.Info("removed stale temp files", "count", n)
	}

	base := filepath.Dir(filepath.Clean(cfg.UploadDir))
	led := ledger.New(fs, resolve(base, cfg.LedgerFull), resolve(base, cfg.LedgerSmall))

	routes := make(ingest.Routes, 0, len(cfg.Routes))
	for _, r := range cfg.Routes {
		routes = append(routes, ingest.Route{Pattern: r.Pattern, Subdir: r.Subdir})
	}

	handler := ingest.NewHandler(ingest.HandlerConfig{
		UploadDir: cfg.UploadDir,
		Naming: ingest.NamingOptions{
			RenameWithDate: cfg.RenameWithDate,
			AllTxtExt:      cfg.AllTxtExt,
		},
		Routes:         routes,
		Gate:           ingest.Gate{Primary: cfg.Key},
		MaxUploadBytes: cfg.MaxUploadBytes(),
		Location:       cfg.Location(),
		Ledger:         led,
		Mover: &ingest.Mover{
			Attempts: cfg.Move.Attempts,
			Backoff:  cfg.Move.Backoff,
		},
		FS:     fs,
		Logger: logger,
	})

	srv, err := ingest.NewServer(ingest.ServerConfig{
		ListenAddr: cfg.Listen,
		Upload:     handler,
		Release: &update.Handler{
			Version: cfg.Update.Version,
			File:    cfg.Update.File,
			FS:      fs,
			Logger:  logger,
		},
		Metrics:     cfg.Metrics,
		Version:     version,
		TLSCertFile: cfg.TLSCert,
		TLSKeyFile:  cfg.TLSKey,
		Logger:      logger,
	})
	if err != nil {
		return configError(err)
	}

	logger.Info("ledger files", "full", led.FullPath, "small", led.SmallPath, "routes", len(routes))
	return srv.Serve(ctx)
}

func resolve(base, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}
