package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/e7canasta/orion-care-sensor/modules/camera-recorder/internal/daemon"
)

const (
	defaultConfigPath = "config/camerad.yaml"
	defaultHealthAddr = ":8080"
)

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	healthAddr := flag.String("health", defaultHealthAddr, "Health and metrics listen address (empty disables)")
	backend := flag.String("backend", "", "Capture backend override: gst or sim")
	storageDir := flag.String("storage-dir", "", "Recording storage directory override")
	libraryDir := flag.String("library-dir", "", "Media library directory override")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	slog.Info("starting camerad",
		"config", *configPath,
		"debug", *debug,
	)

	d, err := daemon.New(*configPath, daemon.Overrides{
		Backend:    *backend,
		StorageDir: *storageDir,
		LibraryDir: *libraryDir,
	})
	if err != nil {
		slog.Error("failed to create camerad", "error", err)
		os.Exit(1)
	}

	// A camera that failed to configure still runs and waits for reconfigure
	info := d.Camera().Session()
	if info.ConfigErr == nil {
		slog.Info("capture settings resolved",
			"requested", info.Settings.String(),
			"resolved", info.Resolved.String(),
			"width", info.Resolved.Width,
			"height", info.Resolved.Height,
			"video_device", info.VideoDevice,
			"audio", info.HasAudio,
		)
	}

	if *healthAddr != "" {
		if err := d.StartHealthServer(*healthAddr); err != nil {
			slog.Error("failed to start health server", "error", err)
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	exitCode := 0
	if err := d.Run(ctx); err != nil {
		slog.Error("camerad stopped with error", "error", err)
		exitCode = 1
	} else if ctx.Err() == nil {
		slog.Info("camerad stopped by shutdown command")
	} else {
		slog.Info("received shutdown signal")
	}

	timeout := d.ShutdownTimeout()
	slog.Info("shutting down", "timeout", timeout, "recording", d.Camera().IsRecording())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := d.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown failed", "error", err)
		exitCode = 1
	}

	os.Exit(exitCode)
}
