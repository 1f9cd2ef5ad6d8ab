package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/aegis-gate/aegisgate-go/internal/action"
	"github.com/aegis-gate/aegisgate-go/internal/alerting"
	"github.com/aegis-gate/aegisgate-go/internal/audit"
	"github.com/aegis-gate/aegisgate-go/internal/config"
	"github.com/aegis-gate/aegisgate-go/internal/contracts"
	"github.com/aegis-gate/aegisgate-go/internal/guard"
	"github.com/aegis-gate/aegisgate-go/internal/httpapi"
	"github.com/aegis-gate/aegisgate-go/internal/index"
	"github.com/aegis-gate/aegisgate-go/internal/llm"
	"github.com/aegis-gate/aegisgate-go/internal/logs"
	"github.com/aegis-gate/aegisgate-go/internal/multimodal"
	"github.com/aegis-gate/aegisgate-go/internal/observability"
	"github.com/aegis-gate/aegisgate-go/internal/policy"
	"github.com/aegis-gate/aegisgate-go/internal/secret"
	"github.com/aegis-gate/aegisgate-go/internal/storage"
	"github.com/aegis-gate/aegisgate-go/internal/stream"
	"github.com/aegis-gate/aegisgate-go/internal/updatecheck"
)

const shutdownTimeout = 15 * time.Second

func getServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the guard daemon and admin API",
		Long: "Run the AegisGate daemon: the guard stack, action validator, audit pipeline, " +
			"and the admin HTTP API on the configured listen address.",
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Phase one: load without secret expansion so references survive
	// until the sanitizer exists to learn their resolved values.
	cfg, err := config.Load(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if cfg.Logging == nil {
		cfg.Logging = logs.DefaultConfig()
	}
	cfg.Logging.Level = logLevel
	if cmd.Flags().Changed("log-to-file") {
		cfg.Logging.EnableFile = logToFile
	}
	if logDir != "" {
		cfg.Logging.LogDir = logDir
	}

	logger, sanitizer, err := logs.Setup(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	sugar := logger.Sugar()

	// Phase two: resolve ${env:...} and ${keyring:...} references. The
	// hook registers every resolved value with the sanitizer before it
	// can appear in any log line.
	resolver := secret.NewResolver(secret.WithResolveHook(sanitizer.RegisterResolvedSecret))
	if err := resolver.ExpandStruct(ctx, cfg); err != nil {
		return fmt.Errorf("resolve secret references: %w", err)
	}

	logger.Info("Starting aegisgate",
		zap.String("version", version),
		zap.String("listen", cfg.Listen),
		zap.String("data_dir", cfg.DataDir),
		zap.String("config", cfg.Path()),
		zap.String("log_level", logLevel))

	pol, err := loadPolicy(cfg)
	if err != nil {
		return err
	}

	return runDaemon(ctx, cfg, pol, logger, sugar)
}

// loadPolicy reads the policy file, falling back to the built-in
// default when none is configured.
func loadPolicy(cfg *config.Config) (*policy.Policy, error) {
	if cfg.PolicyPath == "" {
		return policy.Default(), nil
	}
	pol, err := policy.Load(cfg.PolicyPath)
	if err != nil {
		return nil, fmt.Errorf("load policy %s: %w", cfg.PolicyPath, err)
	}
	return pol, nil
}

func runDaemon(ctx context.Context, cfg *config.Config, pol *policy.Policy, logger *zap.Logger, sugar *zap.SugaredLogger) error {
	obs, err := observability.NewManager(sugar, obsConfig(cfg))
	if err != nil {
		return fmt.Errorf("setup observability: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = obs.Close(closeCtx)
	}()

	store, err := storage.NewStore(cfg.DataDir, sugar)
	if err != nil {
		return fmt.Errorf("open event store: %w", err)
	}
	defer store.Close()
	obs.RegisterHealthChecker(observability.NewStoreHealthChecker("event-store", store.DB()))

	var idx *index.EventIndex
	if cfg.Storage == nil || cfg.Storage.EnableIndex {
		idx, err = index.NewEventIndex(cfg.DataDir, logger)
		if err != nil {
			return fmt.Errorf("open search index: %w", err)
		}
		defer idx.Close()
		obs.RegisterHealthChecker(observability.NewIndexHealthChecker("event-index", idx.DocCount))
	}

	bus := audit.NewBus(audit.DefaultConfig(), sugar)
	defer bus.Close()
	bus.AddSink(audit.NewConsoleSink(sugar))
	bus.AddSink(audit.NewStoreSink(store, idx, sugar))
	bus.AddSink(obs.AuditSink())

	fileSink, err := audit.NewFileSink(audit.FileSinkConfig{
		Path: filepath.Join(cfg.DataDir, "audit.jsonl"),
	})
	if err != nil {
		return fmt.Errorf("open audit file sink: %w", err)
	}
	bus.AddSink(fileSink)

	if cfg.Observability != nil && cfg.Observability.Tracing.Enabled {
		bus.AddSink(audit.NewOTelSink(otel.Tracer("aegisgate/audit")))
	}

	gd, err := buildGuard(cfg, pol, bus, logger, sugar)
	if err != nil {
		return err
	}

	validator := action.New(actionConfigFromPolicy(pol), gd.Scanner(), bus, sugar)

	var watcher *policy.Watcher
	if cfg.PolicyWatch && cfg.PolicyPath != "" {
		watcher, err = policy.NewWatcher(cfg.PolicyPath, sugar, func(p *policy.Policy) {
			validator.UpdateConfig(actionConfigFromPolicy(p))
			bus.Emit(audit.Entry{
				Event:    "policy_reloaded",
				Decision: audit.DecisionInfo,
				Context:  map[string]interface{}{"path": cfg.PolicyPath},
			})
		})
		if err != nil {
			return fmt.Errorf("watch policy file: %w", err)
		}
		defer watcher.Close()
	}

	var alerts *alertingEngineHandle
	if cfg.Alerting != nil {
		alerts = startAlerting(ctx, cfg, bus, sugar)
		defer alerts.stop()
	}

	if cfg.CheckForUpdates {
		go updatecheck.New(logger, version).Start(ctx)
	}

	retention := storage.DefaultRetentionConfig()
	if cfg.Storage != nil {
		retention = cfg.Storage.Retention
	}

	apiServer := httpapi.NewServer(httpapi.Deps{
		Guard:         gd,
		Validator:     validator,
		Store:         store,
		Index:         idx,
		Alerts:        alerts.engine(),
		Observability: obs,
		Auth:          cfg.API,
		Version: contracts.VersionInfo{
			Version: version,
			Commit:  commit,
			Date:    date,
		},
	}, sugar)

	httpServer := &http.Server{
		Addr:              cfg.Listen,
		Handler:           apiServer,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Admin API listening", zap.String("addr", cfg.Listen))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("admin API: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		store.RunRetention(gctx, retention)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("Shutdown complete")
	return nil
}

// buildGuard assembles the guard stack from the configuration and the
// active policy, wiring in the judge and vision models when configured.
func buildGuard(cfg *config.Config, pol *policy.Policy, bus *audit.Bus, logger *zap.Logger, sugar *zap.SugaredLogger) (*guard.Guard, error) {
	gcfg, err := guardConfigFromPolicy(cfg.Guard, pol)
	if err != nil {
		return nil, err
	}

	opts := []guard.Option{
		guard.WithAuditBus(bus),
		guard.WithCanaryStore(stream.NewCanaryStore()),
	}

	if cfg.LLM != nil {
		judgeClient, err := llm.NewClient(*cfg.LLM, logger)
		if err != nil {
			return nil, fmt.Errorf("setup judge model client: %w", err)
		}
		opts = append(opts,
			guard.WithJudgeModel(judgeClient.Call),
			guard.WithTokenizer(llm.NewTokenizer(cfg.LLM.Model, true)),
		)
	}

	if cfg.Vision != nil {
		visionClient, err := llm.NewClient(*cfg.Vision, logger)
		if err != nil {
			return nil, fmt.Errorf("setup vision model client: %w", err)
		}
		opts = append(opts, guard.WithMediaExtractor(visionExtractor(visionClient)))
	}

	return guard.New(gcfg, sugar, opts...), nil
}

// visionExtractor adapts the vision model client to the media scanner.
// Only images are transcribed; other media types fall back to the
// scanner's metadata-only handling.
func visionExtractor(client *llm.Client) multimodal.Extractor {
	return multimodal.ExtractorFunc(func(ctx context.Context, content []byte, mediaType multimodal.MediaType) (*multimodal.Extracted, error) {
		if mediaType != multimodal.MediaImage {
			return nil, multimodal.ErrUnsupportedType
		}
		text, err := client.ExtractImageText(ctx, content, "")
		if err != nil {
			return nil, err
		}
		return &multimodal.Extracted{
			Text:       text,
			Confidence: 0.9,
			Metadata:   map[string]string{"extractor": "vision-model"},
		}, nil
	})
}

func obsConfig(cfg *config.Config) observability.Config {
	if cfg.Observability != nil {
		return *cfg.Observability
	}
	return observability.DefaultConfig("aegisgate", version)
}

// alertingEngineHandle bundles the engine with its bus subscription so
// shutdown tears both down in order.
type alertingEngineHandle struct {
	eng  *alerting.Engine
	bus  *audit.Bus
	ch   chan audit.Entry
	done chan struct{}
}

func startAlerting(ctx context.Context, cfg *config.Config, bus *audit.Bus, sugar *zap.SugaredLogger) *alertingEngineHandle {
	h := &alertingEngineHandle{
		eng:  alerting.NewEngine(*cfg.Alerting, sugar),
		bus:  bus,
		ch:   bus.Subscribe(),
		done: make(chan struct{}),
	}
	go func() {
		defer close(h.done)
		h.eng.Run(ctx, h.ch)
	}()
	return h
}

func (h *alertingEngineHandle) engine() *alerting.Engine {
	if h == nil {
		return nil
	}
	return h.eng
}

func (h *alertingEngineHandle) stop() {
	h.bus.Unsubscribe(h.ch)
	<-h.done
}
