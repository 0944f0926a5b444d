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
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/VedanshGovind/FinGuard-AI/internal/api"
	"github.com/VedanshGovind/FinGuard-AI/internal/challenge"
	"github.com/VedanshGovind/FinGuard-AI/internal/circuitbreaker"
	"github.com/VedanshGovind/FinGuard-AI/internal/codematch"
	"github.com/VedanshGovind/FinGuard-AI/internal/config"
	"github.com/VedanshGovind/FinGuard-AI/internal/core"
	"github.com/VedanshGovind/FinGuard-AI/internal/decision"
	"github.com/VedanshGovind/FinGuard-AI/internal/emitter"
	"github.com/VedanshGovind/FinGuard-AI/internal/explain"
	"github.com/VedanshGovind/FinGuard-AI/internal/fusion"
	"github.com/VedanshGovind/FinGuard-AI/internal/infra"
	"github.com/VedanshGovind/FinGuard-AI/internal/middleware"
	"github.com/VedanshGovind/FinGuard-AI/internal/pipeline"
)

const grpcServiceName = "liveverify.v1.Verification"

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to YAML config (optional)")
	flag.Parse()

	// Load .env file if present (local development)
	if err := godotenv.Load(); err != nil {
		fmt.Fprintln(os.Stderr, "No .env file found, using process environment")
	}
	setupLogging(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("[Main] Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("[Main] Server stopped with error", "error", err)
		os.Exit(1)
	}
	slog.Info("[Main] Shutdown complete")
}

// setupLogging installs a JSON handler unless LOG_FORMAT=text.
func setupLogging(level, format string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler).With("service", "liveverify"))
}

func run(ctx context.Context, cfg *config.Config) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// ========================================================================
	// DECISION + FUSION
	// ========================================================================

	engine, err := decision.NewEngine(cfg.DecisionSettings())
	if err != nil {
		return err
	}
	matcher, err := codematch.NewMatcher(cfg.CodeMatch.ConfidenceThreshold)
	if err != nil {
		return err
	}

	breakers := circuitbreaker.NewManager(cfg.BreakerConfig(), reg)
	video := scoreSource(cfg, core.ModalityVideo, cfg.Pipelines.Video, breakers)
	audio := scoreSource(cfg, core.ModalityAudio, cfg.Pipelines.Audio, breakers)
	asr := transcriber(cfg, breakers)

	orch, err := fusion.NewOrchestrator(engine, matcher, video, audio, asr, cfg.FusionSettings())
	if err != nil {
		return err
	}
	orch.SetMetrics(fusion.NewMetrics(reg))

	// ========================================================================
	// STORAGE
	// ========================================================================

	var rdb *infra.GoRedisAdapter
	if cfg.Redis.Addr != "" {
		rdb, err = infra.NewGoRedisAdapter(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			slog.Warn("[Main] Redis unavailable, falling back to in-memory challenges", "addr", cfg.Redis.Addr, "error", err)
			rdb = nil
		} else {
			defer rdb.Close()
		}
	}

	var (
		store    challenge.Store
		memStore *challenge.MemoryStore
	)
	if rdb != nil {
		store = challenge.NewRedisStore(rdb)
	} else {
		memStore = challenge.NewMemoryStore()
		store = memStore
	}
	issuer, err := challenge.NewIssuer(store, cfg.Challenge.CodeLength, cfg.ChallengeTTL())
	if err != nil {
		return err
	}

	// ========================================================================
	// AUDIT EMITTER
	// ========================================================================

	explainer, err := explain.New()
	if err != nil {
		return err
	}
	bus := emitter.NewBus()
	sinks := []emitter.Sink{emitter.NewLogSink(nil), emitter.NewBusSink(bus)}

	if rdb != nil {
		sinks = append(sinks, emitter.NewRedisStreamSink(rdb, cfg.Audit.RedisStream, cfg.Audit.RedisStreamMax))
	}
	if cfg.Audit.PostgresDSN != "" {
		pg, err := openAuditDB(ctx, cfg.Audit.PostgresDSN)
		if err != nil {
			slog.Warn("[Main] Postgres audit sink disabled", "error", err)
		} else {
			defer pg.Close()
			sinks = append(sinks, pg)
		}
	}
	if cfg.Audit.WebhookURL != "" {
		sinks = append(sinks, emitter.NewWebhookSink(cfg.Audit.WebhookURL, cfg.Audit.WebhookSecret))
	}

	em := emitter.New(cfg.EmitterConfig(), explainer, sinks...)
	em.SetMetrics(emitter.NewMetrics(reg))

	// ========================================================================
	// SERVERS
	// ========================================================================

	limiter := middleware.NewRateLimiter(middleware.RateLimitConfig{
		RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		Burst:             cfg.RateLimit.Burst,
	})
	defer limiter.Stop()

	httpServer := api.NewServer(api.Deps{
		Verifier:   orch,
		Challenges: issuer,
		Publisher:  em,
		Explainer:  explainer,
		Bus:        bus,
		Breakers:   breakers,
		Limiter:    limiter,
		Gatherer:   reg,
		Mode:       cfg.Runtime.Mode,
		Offline:    cfg.Offline(),
	}).HTTPServer(":" + cfg.Server.Port)

	healthServer := health.NewServer()
	grpcServer := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(grpcServiceName, healthpb.HealthCheckResponse_SERVING)

	// The emitter outlives the HTTP server so in-flight requests can still
	// hand off their verdicts during shutdown.
	emCtx, emCancel := context.WithCancel(context.Background())
	defer emCancel()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return em.Run(emCtx)
	})

	if memStore != nil {
		g.Go(func() error {
			return memStore.Run(gctx, cfg.ChallengeTTL())
		})
	}

	g.Go(func() error {
		slog.Info("[Main] HTTP listening",
			"addr", httpServer.Addr,
			"mode", cfg.Runtime.Mode,
			"env", cfg.Server.Env,
			"sinks", len(sinks),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		lis, err := net.Listen("tcp", ":"+cfg.Server.GRPCPort)
		if err != nil {
			return fmt.Errorf("grpc listen on :%s: %w", cfg.Server.GRPCPort, err)
		}
		slog.Info("[Main] gRPC health listening", "addr", lis.Addr().String())
		return grpcServer.Serve(lis)
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("[Main] Shutting down")
		healthServer.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := httpServer.Shutdown(shutdownCtx)

		grpcServer.GracefulStop()
		emCancel()
		return err
	})

	return g.Wait()
}

func scoreSource(cfg *config.Config, m core.Modality, ep config.PipelineEndpoint, breakers *circuitbreaker.Manager) pipeline.ScoreSource {
	if ep.URL == "" {
		slog.Warn("[Main] Pipeline not configured, signals will be FAILED", "modality", m)
		return pipeline.Unconfigured()
	}
	name := strings.ToLower(string(m))
	return pipeline.NewHTTPClient(m, ep.URL, cfg.PipelineTimeout(ep), breakers.Get(name))
}

func transcriber(cfg *config.Config, breakers *circuitbreaker.Manager) pipeline.Transcriber {
	ep := cfg.Pipelines.Transcribe
	if ep.URL == "" {
		slog.Warn("[Main] Transcription pipeline not configured, CODE signals will be FAILED")
		return pipeline.UnconfiguredTranscriber()
	}
	return pipeline.NewHTTPClient(core.ModalityCode, ep.URL, cfg.PipelineTimeout(ep), breakers.Get("transcribe"))
}

func openAuditDB(ctx context.Context, dsn string) (*emitter.PostgresSink, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pg, err := emitter.OpenPostgresSink(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pg.EnsureSchema(ctx); err != nil {
		pg.Close()
		return nil, err
	}
	return pg, nil
}
