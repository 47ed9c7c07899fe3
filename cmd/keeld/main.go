package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/outrigger-io/keel/internal/config"
	"github.com/outrigger-io/keel/internal/content"
	"github.com/outrigger-io/keel/internal/cors"
	"github.com/outrigger-io/keel/internal/dispatch"
	"github.com/outrigger-io/keel/internal/executor"
	"github.com/outrigger-io/keel/internal/infrastructure"
	"github.com/outrigger-io/keel/internal/metrics"
	"github.com/outrigger-io/keel/internal/route"
	"github.com/outrigger-io/keel/internal/transport"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file (defaults to keel.yaml if present)")
	watch := flag.Bool("watch", false, "reload CORS and rate-limit settings when the config file changes")
	metricsAddr := flag.String("metrics-addr", "127.0.0.1:9090", "listen address for prometheus metrics; empty disables")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Error: failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := infrastructure.MustInitializeLogger(cfg.Logging)
	defer infrastructure.CloseLogFile() //nolint:errcheck // best effort on shutdown

	if err := run(cfg, *configPath, *watch, *metricsAddr, logger); err != nil {
		logger.Error("server exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(cfg *config.Config, configPath string, watch bool, metricsAddr string, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := route.NewRegistry(logger)
	registerRoutes(registry)

	corsEval := cors.NewEvaluator(cors.Config{
		Enabled:          cfg.CORS.Enabled,
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
		AllowedMethods:   cfg.CORS.AllowedMethods,
		AllowedHeaders:   cfg.CORS.AllowedHeaders,
		ExposedHeaders:   cfg.CORS.ExposedHeaders,
		AllowCredentials: cfg.CORS.AllowCredentials,
		MaxAge:           cfg.CORS.MaxAge,
	}, logger)

	var limiter *dispatch.RateLimiter
	if cfg.RateLimit.Enabled {
		limiter = dispatch.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst, logger)
	}

	selector := executor.NewSelector(logger)
	for name, workers := range cfg.Executors.Pools {
		selector.Add(executor.NewPool(name, workers, logger))
	}
	defer selector.StopAll(5 * time.Second) //nolint:errcheck // best effort on shutdown

	limits := content.Limits{MaxBodySize: cfg.Body.MaxSize}
	processors := content.NewFactoryRegistry()
	processors.Register(content.NewJSONFactory(limits, true))
	processors.Register(content.NewFormFactory(limits, true))

	promReg := prometheus.NewRegistry()

	d := dispatch.New(dispatch.Options{
		Router:     registry,
		Processors: processors,
		Selector:   selector,
		CORS:       corsEval,
		RateLimit:  limiter,
		Limits:     limits,
		Metrics:    metrics.NewDispatch(promReg),
		Logger:     logger,
	})

	g, ctx := errgroup.WithContext(ctx)

	if watch && configPath != "" {
		watcher := config.NewWatcher(configPath, logger, func(next *config.Config) {
			corsEval.Update(cors.Config{
				Enabled:          next.CORS.Enabled,
				AllowedOrigins:   next.CORS.AllowedOrigins,
				AllowedMethods:   next.CORS.AllowedMethods,
				AllowedHeaders:   next.CORS.AllowedHeaders,
				ExposedHeaders:   next.CORS.ExposedHeaders,
				AllowCredentials: next.CORS.AllowCredentials,
				MaxAge:           next.CORS.MaxAge,
			})
			if limiter != nil && next.RateLimit.Enabled {
				limiter.Update(next.RateLimit.RPS, next.RateLimit.Burst)
			}
		})
		g.Go(func() error {
			if err := watcher.Run(ctx); err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		})
	}

	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
		metricsServer := &http.Server{Addr: metricsAddr, Handler: mux}
		g.Go(func() error {
			logger.Info("metrics listening", slog.String("addr", metricsAddr))
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return metricsServer.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		return transport.NewServer(cfg, d, logger).Start(ctx)
	})

	return g.Wait()
}
