package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/agaabrieel/bittorrent-live/pkg/client"
	"github.com/agaabrieel/bittorrent-live/pkg/lifecycle"
	"github.com/agaabrieel/bittorrent-live/pkg/log"
)

const stopTimeout = 15 * time.Second

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	mode := flag.String("mode", "", "discovery mode: live or classic")
	trackerURL := flag.String("tracker", "", "tracker announce url")
	stream := flag.String("stream", "", "stream hash to join")
	local := flag.String("local", "", "address the tracker lists this node under, a.b.c.d:port")
	flag.Parse()

	cfg, err := client.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if *mode != "" {
		cfg.Mode = *mode
	}
	if *trackerURL != "" {
		cfg.TrackerURL = *trackerURL
	}
	if *stream != "" {
		cfg.StreamHash = *stream
	}
	if *local != "" {
		cfg.LocalAddr = *local
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := log.New(cfg.Log)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Error("streamd exited", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg client.Config, logger *zap.Logger) error {
	var lc *lifecycle.Lifecycle

	app := fx.New(
		fx.Supply(cfg, logger),
		fx.WithLogger(func(l *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: l.Named("fx")}
		}),
		Module,
		fx.Populate(&lc),
	)
	if err := app.Err(); err != nil {
		return err
	}

	startCtx, cancel := context.WithTimeout(context.Background(), app.StartTimeout())
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return err
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case <-sigCtx.Done():
		logger.Info("shutting down")
	case <-lc.Context().Done():
		logger.Warn("lifecycle cancelled, shutting down")
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
	defer stopCancel()

	return multierr.Append(app.Stop(stopCtx), lc.Wait())
}
