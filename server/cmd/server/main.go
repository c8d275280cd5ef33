package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/obsidianstack/analytics/server/internal/alarms"
	"github.com/obsidianstack/analytics/server/internal/api"
	"github.com/obsidianstack/analytics/server/internal/auth"
	"github.com/obsidianstack/analytics/server/internal/config"
	"github.com/obsidianstack/analytics/server/internal/ingest"
	"github.com/obsidianstack/analytics/server/internal/metrics"
	"github.com/obsidianstack/analytics/server/internal/module"
	"github.com/obsidianstack/analytics/server/internal/oee"
	"github.com/obsidianstack/analytics/server/internal/programs"
	"github.com/obsidianstack/analytics/server/internal/rules"
	"github.com/obsidianstack/analytics/server/internal/store"
	"github.com/obsidianstack/analytics/server/internal/ws"
)

// healthCheckPeriod is how often the gRPC health status follows the store.
const healthCheckPeriod = 15 * time.Second

func main() {
	configPath := flag.String("config", "config/server.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	slog.SetDefault(newLogger(cfg.Server.Log))
	slog.Info("analytics-server starting", "config", *configPath)
	slog.Info("config loaded",
		"grpc_port", cfg.Server.GRPCPort,
		"http_port", cfg.Server.HTTPPort,
		"auth_mode", cfg.Server.Auth.Mode,
		"store", cfg.Server.Store.Driver,
		"rules", cfg.Server.Rules.Path,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, closeStore, err := openStore(ctx, cfg.Server.Store)
	if err != nil {
		slog.Error("failed to open store", "driver", cfg.Server.Store.Driver, "err", err)
		os.Exit(1)
	}
	defer closeStore()

	// Rules are loaded once here; afterwards they only change through the
	// admin reload endpoint or, when enabled, the file watcher.
	rulesReg := rules.NewRegistry(cfg.Server.Rules.Path)
	if _, err := rulesReg.Config(); err != nil {
		slog.Error("failed to load rules", "path", cfg.Server.Rules.Path, "err", err)
		os.Exit(1)
	}

	m := metrics.New()

	if cfg.Server.Rules.Watch {
		go func() {
			if err := rulesReg.Watch(ctx, m.RulesReloaded); err != nil {
				slog.Error("rules watcher stopped", "err", err)
			}
		}()
	}

	deps := module.Deps{Store: st, Rules: rulesReg}
	modules := module.NewRegistry()
	modules.Register(oee.NewAvailability(deps))
	modules.Register(oee.NewPerformance(deps))
	modules.Register(oee.New(deps))
	modules.Register(programs.New(deps))
	modules.Register(alarms.New(deps))
	slog.Info("modules registered", "modules", modules.Names())

	policy := auth.Policy{
		Mode:   cfg.Server.Auth.Mode,
		Header: cfg.Server.Auth.EffectiveHeader(),
		Key:    cfg.Server.Auth.Key(),
		Public: []string{"/api/v1/health", "/metrics"},
	}

	startIngest(ctx, cfg.Server.Ingest, &ingest.Sink{Writer: st, Metrics: m})

	// gRPC health service with optional API key authentication interceptor.
	var grpcSrv *grpc.Server
	if cfg.Server.GRPCPort > 0 {
		grpcSrv = grpc.NewServer(
			grpc.UnaryInterceptor(policy.UnaryInterceptor()),
			grpc.StreamInterceptor(policy.StreamInterceptor()),
		)
		healthSrv := health.NewServer()
		healthpb.RegisterHealthServer(grpcSrv, healthSrv)
		go trackHealth(ctx, st, healthSrv)

		lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
		if err != nil {
			slog.Error("failed to listen on gRPC port",
				"port", cfg.Server.GRPCPort, "err", err)
			os.Exit(1)
		}
		go func() {
			slog.Info("gRPC health service listening", "port", cfg.Server.GRPCPort)
			if err := grpcSrv.Serve(lis); err != nil {
				slog.Error("gRPC server stopped", "err", err)
			}
		}()
	}

	// Combined HTTP server: REST API, NDJSON streams, WebSocket streams and
	// /metrics on HTTPPort.
	dispatcher := api.NewDispatcher(modules, m, cfg.Server.Stream.MinInterval)
	httpSrv := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler: api.New(dispatcher, api.Options{
			Store:     st,
			Rules:     rulesReg,
			Metrics:   m,
			Auth:      policy,
			WebSocket: ws.New(dispatcher),
		}),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	go func() {
		slog.Info("HTTP server listening", "port", cfg.Server.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server stopped", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("analytics-server shutting down")
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	httpSrv.Shutdown(shutdownCtx) //nolint:errcheck
}

// newLogger builds the process logger: JSON by default, colored console
// output when format is text.
func newLogger(c config.LogConfig) *slog.Logger {
	if c.Format == "text" {
		return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
			Level:      c.SlogLevel(),
			TimeFormat: time.TimeOnly,
		}))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: c.SlogLevel()}))
}

// openStore opens the configured sample store and returns a func that
// releases it.
func openStore(ctx context.Context, c config.StoreConfig) (store.Store, func(), error) {
	switch c.Driver {
	case config.DriverPostgres:
		pg, err := store.OpenPostgres(c.DSN())
		if err != nil {
			return nil, nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, nil, err
		}
		return pg, func() { pg.Close() }, nil

	default:
		mem := store.NewMemory(c.Retention)
		if c.SeedFile != "" {
			if err := mem.LoadSeed(c.SeedFile); err != nil {
				return nil, nil, err
			}
			slog.Info("store: seed loaded", "path", c.SeedFile, "samples", mem.Count())
		}
		go mem.Run(ctx)
		return mem, func() {}, nil
	}
}

// startIngest launches the configured MQTT and Kafka consumers. Each runs
// until ctx is cancelled; a failure stops only that consumer.
func startIngest(ctx context.Context, c config.IngestConfig, base *ingest.Sink) {
	if c.MQTT.Enabled() {
		sink := *base
		sink.Source = "mqtt"
		opts := ingest.MQTTOptions{
			Broker:   c.MQTT.Broker,
			Topic:    c.MQTT.Topic,
			ClientID: c.MQTT.ClientID,
			QoS:      c.MQTT.QoS,
		}
		go func() {
			if err := ingest.RunMQTT(ctx, opts, &sink); err != nil {
				slog.Error("mqtt ingest stopped", "err", err)
			}
		}()
	}
	if c.Kafka.Enabled() {
		sink := *base
		sink.Source = "kafka"
		opts := ingest.KafkaOptions{
			Brokers: c.Kafka.Brokers,
			Topic:   c.Kafka.Topic,
			GroupID: c.Kafka.GroupID,
		}
		go func() {
			if err := ingest.RunKafka(ctx, opts, &sink); err != nil {
				slog.Error("kafka ingest stopped", "err", err)
			}
		}()
	}
}

// trackHealth mirrors store reachability into the gRPC health status until
// ctx is cancelled.
func trackHealth(ctx context.Context, st store.Store, srv *health.Server) {
	check := func() {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		status := healthpb.HealthCheckResponse_SERVING
		if err := st.Ping(pingCtx); err != nil {
			status = healthpb.HealthCheckResponse_NOT_SERVING
			slog.Warn("store unreachable", "err", err)
		}
		srv.SetServingStatus("", status)
	}

	check()
	t := time.NewTicker(healthCheckPeriod)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			srv.Shutdown()
			return
		case <-t.C:
			check()
		}
	}
}
