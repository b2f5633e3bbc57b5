package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/agaabrieel/bittorrent-live/internal/storage/candbolt"
	"github.com/agaabrieel/bittorrent-live/pkg/apperrors"
	"github.com/agaabrieel/bittorrent-live/pkg/client"
	"github.com/agaabrieel/bittorrent-live/pkg/discovery"
	"github.com/agaabrieel/bittorrent-live/pkg/lifecycle"
	"github.com/agaabrieel/bittorrent-live/pkg/log"
	"github.com/agaabrieel/bittorrent-live/pkg/messaging"
	peer "github.com/agaabrieel/bittorrent-live/pkg/peers"
	"github.com/agaabrieel/bittorrent-live/pkg/scheduler"
	"github.com/agaabrieel/bittorrent-live/pkg/tracker"
)

const routerFlushInterval = 100 * time.Millisecond

type peerID [20]byte

var Module = fx.Module("streamd",
	fx.Provide(
		provideLifecycle,
		providePeerID,
		provideRegistry,
		provideMetrics,
		provideLoop,
		provideRouter,
		provideErrorHandler,
		provideSink,
		provideDispatcher,
		provideDialer,
		provideStore,
		provideClient,
	),
	fx.Invoke(register),
)

func provideLifecycle(lc fx.Lifecycle) *lifecycle.Lifecycle {
	l := lifecycle.NewLifecycle(context.Background())
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return l.Shutdown()
		},
	})
	return l
}

func providePeerID(cfg client.Config) peerID {
	return peerID(cfg.ID())
}

func provideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func provideMetrics(reg *prometheus.Registry) *discovery.Metrics {
	return discovery.NewMetrics(reg)
}

func provideLoop(logger *zap.Logger) *scheduler.Loop {
	return scheduler.NewLoop(nil, logger)
}

func provideRouter(logger *zap.Logger) *messaging.Router {
	return messaging.NewRouter(nil, logger)
}

func provideErrorHandler(l *lifecycle.Lifecycle, logger *zap.Logger) (*apperrors.ErrorHandler, chan<- apperrors.Error) {
	return apperrors.NewErrorHandler(l.Cancel, logger)
}

func provideSink(r *messaging.Router, logger *zap.Logger) (*log.Sink, error) {
	return log.NewSink(r, logger)
}

func provideDispatcher(lc fx.Lifecycle, cfg client.Config, id peerID, loop *scheduler.Loop, logger *zap.Logger) (*tracker.Dispatcher, error) {
	tc, err := tracker.NewClient(cfg.TrackerURL, cfg.Identity(id), cfg.Discovery.AnnounceTimeout)
	if err != nil {
		return nil, err
	}
	d := tracker.NewDispatcher(tc, loop, cfg.Discovery.AnnounceTimeout, logger)
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return d.Close()
		},
	})
	return d, nil
}

func provideDialer(cfg client.Config, id peerID, loop *scheduler.Loop, logger *zap.Logger) *peer.Dialer {
	pc := peer.DefaultConfig()
	pc.InfoHash = cfg.InfoHash()
	pc.PeerID = id
	return peer.NewDialer(pc, loop, logger)
}

func provideStore(lc fx.Lifecycle, cfg client.Config) (client.CandidateStore, error) {
	if cfg.CachePath == "" {
		return nil, nil
	}
	s, err := candbolt.Open(cfg.CachePath)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return s.Close()
		},
	})
	return s, nil
}

type clientParams struct {
	fx.In

	Config     client.Config
	Router     *messaging.Router
	Errors     chan<- apperrors.Error
	Loop       *scheduler.Loop
	Dispatcher *tracker.Dispatcher
	Dialer     *peer.Dialer
	Store      client.CandidateStore
	Metrics    *discovery.Metrics
	Logger     *zap.Logger
}

func provideClient(p clientParams) (*client.Client, error) {
	return client.New(client.Deps{
		Config:    p.Config,
		Router:    p.Router,
		Errors:    p.Errors,
		Scheduler: p.Loop,
		Transport: p.Dispatcher,
		Dialer:    p.Dialer,
		Store:     p.Store,
		Logger:    p.Logger,
		Metrics:   p.Metrics,
	})
}

type registerParams struct {
	fx.In

	LC        fx.Lifecycle
	Lifecycle *lifecycle.Lifecycle
	Config    client.Config
	Loop      *scheduler.Loop
	Router    *messaging.Router
	Errors    *apperrors.ErrorHandler
	Sink      *log.Sink
	Registry  *prometheus.Registry
	Client    *client.Client
	Logger    *zap.Logger
}

// register starts the background tasks and the client. fx stops them in
// reverse order, so the client leaves the swarm while the loop still runs.
// The loop outlives a lifecycle cancellation until its own hook stops it.
func register(p registerParams) {
	spawn := p.Lifecycle.Spawner()
	loopCtx, stopLoop := context.WithCancel(context.Background())

	p.LC.Append(fx.Hook{
		OnStart: func(context.Context) error {
			spawn(func(context.Context) error {
				return p.Loop.Run(loopCtx)
			})
			spawn(func(ctx context.Context) error {
				return p.Router.Run(ctx, routerFlushInterval)
			})
			spawn(p.Sink.Run)
			spawn(p.Errors.Run)
			return nil
		},
		OnStop: func(context.Context) error {
			stopLoop()
			return nil
		},
	})

	if p.Config.MetricsAddr != "" {
		srv := &http.Server{
			Addr:              p.Config.MetricsAddr,
			Handler:           metricsHandler(p.Registry),
			ReadHeaderTimeout: 5 * time.Second,
		}
		p.LC.Append(fx.Hook{
			OnStart: func(context.Context) error {
				ln, err := net.Listen("tcp", srv.Addr)
				if err != nil {
					return err
				}
				p.Logger.Info("serving metrics", zap.String("addr", ln.Addr().String()))
				go func() {
					if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
						p.Logger.Error("metrics server failed", zap.Error(err))
					}
				}()
				return nil
			},
			OnStop: func(ctx context.Context) error {
				return srv.Shutdown(ctx)
			},
		})
	}

	p.LC.Append(fx.Hook{
		OnStart: func(context.Context) error {
			spawn(p.Client.Run)
			p.Client.Start()
			return nil
		},
		OnStop: p.Client.Stop,
	})
}

func metricsHandler(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	return mux
}
