package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/ejide/gateway/internal/backend"
	"github.com/ejide/gateway/internal/channel"
	"github.com/ejide/gateway/internal/channel/adapters/whatsapp"
	"github.com/ejide/gateway/internal/channel/inbound"
	"github.com/ejide/gateway/internal/config"
	"github.com/ejide/gateway/internal/dedup"
	"github.com/ejide/gateway/internal/handlers"
	backendchecker "github.com/ejide/gateway/internal/healthcheck/checkers/backend"
	channelchecker "github.com/ejide/gateway/internal/healthcheck/checkers/channel"
	"github.com/ejide/gateway/internal/logger"
	"github.com/ejide/gateway/internal/media"
	"github.com/ejide/gateway/internal/metrics"
	"github.com/ejide/gateway/internal/schedule"
	"github.com/ejide/gateway/internal/server"
	"github.com/ejide/gateway/internal/telemetry"
)

func runServe() {
	fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,
			provideRegistry,
			provideMetrics,
			provideBackendClient,
			provideWhatsAppAdapter,
			provideSink,
			provideStager,
			provideDedupFilter,
			provideRouter,
			provideScheduleService,
			providePublicHandler(provideHealthHandler),
			providePublicHandler(provideMetricsHandler),
			provideProtectedHandler(provideJobsHandler),
			provideProtectedHandler(provideOperatorHandler),
			provideServer,
		),
		fx.Invoke(
			startTelemetry,
			startScheduleService,
			startChannel,
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func providePublicHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

func provideProtectedHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"operator_handlers"`),
	)
}

func provideConfig() (config.Config, error) {
	return loadConfig()
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func provideMetrics(reg *prometheus.Registry) (*metrics.Metrics, error) {
	return metrics.New(reg)
}

func provideBackendClient(log *slog.Logger, cfg config.Config, m *metrics.Metrics) *backend.Client {
	return backend.NewClient(log, cfg.Backend, backend.WithRecorder(m))
}

func provideWhatsAppAdapter(log *slog.Logger, cfg config.Config) *whatsapp.Adapter {
	return whatsapp.NewAdapter(log, whatsapp.Config{
		BridgeURL:        cfg.WhatsApp.BridgeURL,
		DownloadTimeout:  cfg.WhatsApp.DownloadTimeout(),
		MaxDownloadBytes: cfg.Media.MaxUploadBytes,
	})
}

func provideSink(log *slog.Logger, cfg config.Config, adapter *whatsapp.Adapter) *channel.Sink {
	return channel.NewSink(log, adapter, cfg.WhatsApp.MaxMessageLength)
}

func provideStager(log *slog.Logger, cfg config.Config) *media.Stager {
	return media.NewStager(log, cfg.Media.TempDir, cfg.Media.MaxUploadBytes)
}

func provideDedupFilter(lc fx.Lifecycle, log *slog.Logger, cfg config.Config) (dedup.Filter, error) {
	if !cfg.Dedup.Enabled {
		return dedup.Nop{}, nil
	}
	if cfg.Dedup.RedisURL == "" {
		return dedup.NewMemoryFilter(cfg.Dedup.TTL()), nil
	}
	rdb, err := dedup.OpenRedis(context.Background(), cfg.Dedup.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("open dedup redis: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(context.Context) error { return rdb.Close() }})
	log.Info("dedup backed by redis")
	return dedup.NewRedisFilter(rdb, cfg.Dedup.TTL()), nil
}

func provideRouter(
	log *slog.Logger,
	cfg config.Config,
	client *backend.Client,
	adapter *whatsapp.Adapter,
	stager *media.Stager,
	sink *channel.Sink,
	filter dedup.Filter,
	m *metrics.Metrics,
) *inbound.Router {
	router := inbound.NewRouter(log, cfg.Router, client, adapter, stager, sink)
	router.SetDedupFilter(filter)
	router.SetRecorder(m)
	return router
}

func provideScheduleService(log *slog.Logger, cfg config.Config, client *backend.Client, sink *channel.Sink, adapter *whatsapp.Adapter, m *metrics.Metrics) (*schedule.Service, error) {
	svc, err := schedule.NewService(log, cfg.Schedule, cfg.Router.AdminNumbers, client, sink)
	if err != nil {
		return nil, err
	}
	svc.SetRecorder(m)
	svc.SetStatusReporter(adapter)
	return svc, nil
}

func provideHealthHandler(log *slog.Logger, adapter *whatsapp.Adapter, client *backend.Client) *handlers.HealthHandler {
	return handlers.NewHealthHandler(log,
		channelchecker.NewChecker(log, adapter),
		backendchecker.NewChecker(log, client, client.BaseURL()),
	)
}

func provideMetricsHandler(reg *prometheus.Registry) *handlers.MetricsHandler {
	return handlers.NewMetricsHandler(reg)
}

func provideJobsHandler(log *slog.Logger, svc *schedule.Service) *handlers.JobsHandler {
	return handlers.NewJobsHandler(log, svc)
}

func provideOperatorHandler(log *slog.Logger, cfg config.Config, sink *channel.Sink) *handlers.OperatorHandler {
	return handlers.NewOperatorHandler(log, sink, cfg.Auth.JWTSecret, cfg.Auth.ExpiresIn())
}

type serverParams struct {
	fx.In

	Logger    *slog.Logger
	Config    config.Config
	Metrics   *metrics.Metrics
	Public    []server.Handler `group:"server_handlers"`
	Protected []server.Handler `group:"operator_handlers"`
}

func provideServer(params serverParams) *server.Server {
	return server.NewServer(server.Params{
		Addr:      params.Config.Server.Addr,
		JWTSecret: params.Config.Auth.JWTSecret,
		Logger:    params.Logger,
		Metrics:   params.Metrics,
		Public:    params.Public,
		Protected: params.Protected,
	})
}

func startTelemetry(lc fx.Lifecycle, log *slog.Logger, cfg config.Config) {
	var shutdown telemetry.ShutdownFunc
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			fn, err := telemetry.Init(ctx, log, cfg.Telemetry, Version)
			if err != nil {
				return err
			}
			shutdown = fn
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if shutdown == nil {
				return nil
			}
			return shutdown(ctx)
		},
	})
}

func startScheduleService(lc fx.Lifecycle, scheduleService *schedule.Service) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error { return scheduleService.Bootstrap(ctx) },
		OnStop:  func(ctx context.Context) error { return scheduleService.Stop(ctx) },
	})
}

func startChannel(lc fx.Lifecycle, adapter *whatsapp.Adapter, router *inbound.Router) {
	var conn channel.Connection
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			c, err := adapter.Connect(ctx, router.Handle)
			if err != nil {
				return err
			}
			conn = c
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if conn == nil {
				return nil
			}
			return conn.Stop(ctx)
		},
	})
}

func startServer(lc fx.Lifecycle, logger *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner, cfg config.Config) {
	fmt.Fprintf(os.Stderr, "Starting pharmacy gateway %s\n", Version)
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			logger.Info("operator api listening", slog.String("addr", cfg.Server.Addr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Stop(ctx)
		},
	})
}
