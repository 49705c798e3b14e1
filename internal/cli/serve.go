package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/damian-maker/IA-KICK/internal/api"
	"github.com/damian-maker/IA-KICK/internal/config"
	"github.com/damian-maker/IA-KICK/internal/playback"
	"github.com/damian-maker/IA-KICK/internal/ui"
)

func newServeCmd(opts *options) *cobra.Command {
	var headless bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the run queue and the tray icon",
		Example: `  kickclip serve
  kickclip serve --headless`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts, headless)
		},
	}
	cmd.Flags().BoolVar(&headless, "headless", false, "Run without the system tray (also KICKCLIP_HEADLESS=true)")
	return cmd
}

func runServe(cmd *cobra.Command, opts *options, headless bool) error {
	startTime := time.Now()

	app, err := openApp(cmd, opts)
	if err != nil {
		return err
	}
	defer app.Close()

	logger := app.Logger
	cfg := app.Config
	logger.Info("starting kickclip", "version", config.Version, "data_dir", cfg.DataDir())

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	authToken, err := EnsureAuthToken(ctx, app.Repo)
	if err != nil {
		return fmt.Errorf("failed to ensure auth token: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out)
	fmt.Fprintf(out, "  kickclip %s\n", config.Version)
	fmt.Fprintf(out, "  API URL:    http://127.0.0.1:%d\n", cfg.Port())
	fmt.Fprintf(out, "  Auth Token: %s\n", authToken)
	fmt.Fprintf(out, "  Output:     %s\n", cfg.OutputDir())
	fmt.Fprintln(out)

	probeCtx, probeCancel := context.WithTimeout(ctx, 10*time.Second)
	caps := app.Doctor.Refresh(probeCtx)
	probeCancel()
	if !caps.OK() {
		logger.Warn("ffmpeg toolchain incomplete, runs will fail until it is installed",
			"ffmpeg", caps.FFmpeg.Error, "ffprobe", caps.FFprobe.Error)
	}

	go app.Runner.Start(ctx)

	apiServer := api.NewServer(api.ServerConfig{
		Port:       cfg.Port(),
		Version:    config.Version,
		Ledger:     app.Ledger,
		Repository: app.Repo,
		Session:    app.Session,
		Runner:     app.Runner,
		Models:     app.Models,
		Doctor:     app.Doctor,
		Playback:   playback.NewServer(logger),
		Logger:     logger,
		StartTime:  startTime,
	})

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- apiServer.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	quitCh := make(chan struct{})
	quit := func() {
		select {
		case <-quitCh:
		default:
			close(quitCh)
		}
	}

	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received shutdown signal", "signal", sig)
			quit()
		case err := <-serverErr:
			if err != nil {
				logger.Error("HTTP server error", "error", err)
			}
			quit()
		case <-quitCh:
		}
	}()

	if headless || cfg.Headless() {
		logger.Info("running in headless mode (no system tray)")
	} else {
		tray := ui.NewTray(ui.TrayConfig{
			Runner:  app.Runner,
			Session: app.Session,
			Stats:   app.Repo,
			Trainer: app.Ledger,
			Logger:  logger,
			OnQuit:  quit,
		})
		go tray.Run()
	}

	<-quitCh

	logger.Info("initiating graceful shutdown")
	app.Session.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}
