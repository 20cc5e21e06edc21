package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"inferd/internal/config"
	"inferd/internal/httpapi"
	"inferd/internal/logging"
	"inferd/internal/manager"
	"inferd/internal/registry"
	"inferd/internal/retry"
	"inferd/internal/stats"
)

const eventBuffer = 256

func serve(parent context.Context, cfg config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	log := logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format}, os.Stderr)
	httpapi.SetLogger(log)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := stats.NewRegistry()
	engine, err := newRetryEngine(cfg, reg, log)
	if err != nil {
		return err
	}

	rt, modelPath, err := buildRuntime(ctx, cfg, engine, log)
	if err != nil {
		return err
	}

	metricsPub := manager.NewMetricsPublisher()
	async := manager.NewAsyncPublisher(manager.Fanout{
		manager.NewLogPublisher(log.With().Str("component", "events").Logger()),
		metricsPub,
	}, eventBuffer)
	defer async.Close()

	mcfg := managerConfig(cfg)
	mcfg.Runtime = rt
	mcfg.ModelPath = modelPath
	mcfg.Publisher = async
	mcfg.Stats = reg
	mcfg.Logger = &log
	if cfg.Inference.LoadThreshold > 0 {
		probe, err := manager.NewProcLoadProbe(cfg.Inference.LoadThreshold)
		if err != nil {
			log.Warn().Err(err).Msg("host load probe unavailable; admitting without it")
		} else {
			mcfg.LoadProbe = probe
		}
	}
	mgr := manager.NewWithConfig(mcfg)

	promReg := prometheus.DefaultRegisterer
	if err := promReg.Register(metricsPub); err != nil {
		return err
	}
	if err := promReg.Register(stats.NewCollector(reg)); err != nil {
		return err
	}
	if err := mgr.RegisterMetrics(promReg); err != nil {
		return err
	}

	httpapi.SetMaxBodyBytes(cfg.HTTP.MaxBodyBytes)
	httpapi.SetCORSOptions(len(cfg.HTTP.CORSOrigins) > 0, cfg.HTTP.CORSOrigins, nil, nil)
	httpapi.SetBaseContext(ctx)

	log.Info().Str("runtime", cfg.Runtime).Str("model", modelPath).Msg("loading model")
	if err := mgr.Start(ctx); err != nil {
		return err
	}
	defer mgr.Close()

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: httpapi.NewMux(httpapi.FromManager(mgr)),
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.Addr).Int("max_concurrency", cfg.Inference.MaxConcurrency).Msg("inferd listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.HTTP.ShutdownTimeout.Std())
		defer cancel()
		log.Info().Msg("shutting down")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("graceful shutdown")
		}
		return nil
	})
	return g.Wait()
}

// managerConfig maps the inference and monitor sections onto the manager's
// tunables. The manager reads 0 as "default" and a negative value as none,
// so an explicit 0 in config becomes -1.
func managerConfig(cfg config.Config) manager.ManagerConfig {
	in := cfg.Inference
	return manager.ManagerConfig{
		LoadOptions: manager.LoadOptions{
			ContextWindow: in.ContextWindow,
			Threads:       in.Threads,
			GPULayers:     in.GPULayers,
		},
		MaxConcurrency:   in.MaxConcurrency,
		QueueSize:        noneIfZero(in.QueueSize),
		MaxQueueWait:     in.MaxQueueWait.Std(),
		InferenceTimeout: in.Timeout.Std(),
		SafetyMargin:     noneIfZero(in.SafetyMargin),
		StopTokens:       in.StopTokens,
		RepeatPenalty:    in.RepeatPenalty,
		StreamBuffer:     in.StreamBuffer,
		MonitorInterval:  cfg.Monitor.Interval.Std(),
		StuckFactor:      cfg.Monitor.StuckFactor,
	}
}

func noneIfZero(n *int) int {
	switch {
	case n == nil:
		return 0
	case *n == 0:
		return -1
	default:
		return *n
	}
}

// newRetryEngine builds the process-wide retry engine: built-in presets
// with config overrides applied.
func newRetryEngine(cfg config.Config, reg *stats.Registry, log zerolog.Logger) (*retry.Engine, error) {
	overrides := make(map[string]retry.Override, len(cfg.Retry))
	for name, rc := range cfg.Retry {
		overrides[name] = retry.Override{
			MaxAttempts:  rc.MaxAttempts,
			Strategy:     rc.Strategy,
			BaseDelay:    rc.BaseDelay.Std(),
			MaxDelay:     rc.MaxDelay.Std(),
			Multiplier:   rc.Multiplier,
			JitterFactor: rc.JitterFactor,
			Timeout:      rc.Timeout.Std(),
		}
	}
	policies, err := retry.ApplyOverrides(retry.Presets(), overrides)
	if err != nil {
		return nil, err
	}
	rlog := log.With().Str("component", "retry").Logger()
	return retry.NewEngine(
		retry.WithStats(reg),
		retry.WithLogger(rlog),
		retry.WithPolicies(policies),
		retry.OnExhausted(func(resource string, attempts int, last error) {
			rlog.Error().Str("resource", resource).Int("attempts", attempts).Err(last).Msg("retries exhausted")
		}),
	), nil
}

// buildRuntime selects the model runtime and returns it with the path or
// model name to load.
func buildRuntime(ctx context.Context, cfg config.Config, engine *retry.Engine, log zerolog.Logger) (manager.Runtime, string, error) {
	switch cfg.Runtime {
	case "server":
		rt := manager.NewServerRuntime(manager.ServerOptions{
			BaseURL: cfg.ServerURL,
			APIKey:  os.Getenv("INFERD_SERVER_API_KEY"),
			Retry:   engine,
			Logger:  log.With().Str("component", "llama_server").Logger(),
		})
		return rt, cfg.DefaultModel, nil
	default:
		// Model directories on network mounts can be briefly unavailable.
		model, err := retry.DoNamed(ctx, engine, retry.Filesystem, "model_path", func(context.Context) (registry.Model, error) {
			m, err := registry.Resolve(cfg.ModelPath, cfg.DefaultModel)
			if errors.Is(err, registry.ErrNoModels) || errors.Is(err, registry.ErrModelNotFound) {
				return m, retry.Permanent(err)
			}
			return m, err
		})
		if err != nil {
			return nil, "", err
		}
		if !manager.LlamaAvailable() {
			log.Warn().Msg("built without the llama tag; model load will fail. Rebuild with -tags=llama or use --runtime=server")
		}
		log.Info().Str("model_id", model.ID).Str("quant", model.Quant).Str("family", model.Family).Msg("resolved model")
		return manager.NewLlamaRuntime(), model.Path, nil
	}
}
