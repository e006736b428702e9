package application

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/atelier-ai/atelier/internal/application/usecase"
	"github.com/atelier-ai/atelier/internal/domain/compaction"
	"github.com/atelier-ai/atelier/internal/domain/entity"
	"github.com/atelier-ai/atelier/internal/domain/repository"
	"github.com/atelier-ai/atelier/internal/domain/service"
	domaintool "github.com/atelier-ai/atelier/internal/domain/tool"
	"github.com/atelier-ai/atelier/internal/infrastructure/config"
	"github.com/atelier-ai/atelier/internal/infrastructure/llm"
	_ "github.com/atelier-ai/atelier/internal/infrastructure/llm/openai" // register openai provider factory
	"github.com/atelier-ai/atelier/internal/infrastructure/persistence"
	"github.com/atelier-ai/atelier/internal/infrastructure/pty"
	"github.com/atelier-ai/atelier/internal/infrastructure/snapshot"
	toolinfra "github.com/atelier-ai/atelier/internal/infrastructure/tool"
	httpserver "github.com/atelier-ai/atelier/internal/interfaces/http"
	"github.com/atelier-ai/atelier/pkg/safego"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// App is the dependency injection container.
type App struct {
	config *config.Config
	logger *zap.Logger
	db     *gorm.DB

	sessions  repository.SessionRepository
	configs   repository.ConfigRepository
	messages  repository.MessageRepository
	steps     repository.StepRepository
	toolCalls repository.ToolCallRepository
	llmCalls  repository.LLMCallRepository

	toolStore  *config.ToolStore
	watcher    *config.Watcher
	broker     *domaintool.PermissionBroker
	registry   *domaintool.Registry
	dispatcher *domaintool.Dispatcher
	ptyManager *pty.Manager
	snapshots  *snapshot.Store
	stops      *service.StopRegistry

	runtime  *usecase.SessionRuntime
	rollback *usecase.RollbackUseCase

	httpServer *httpserver.Server
	cancelBg   context.CancelFunc
}

// NewApp wires the application.
func NewApp(cfg *config.Config, logger *zap.Logger) (*App, error) {
	app := &App{config: cfg, logger: logger}

	if err := os.MkdirAll(cfg.Paths.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := persistence.NewDBConnection(&cfg.Database)
	if err != nil {
		return nil, err
	}
	app.db = db

	app.sessions = persistence.NewGormSessionRepository(db)
	app.configs = persistence.NewGormConfigRepository(db)
	app.messages = persistence.NewGormMessageRepository(db)
	app.steps = persistence.NewGormStepRepository(db)
	app.toolCalls = persistence.NewGormToolCallRepository(db)
	app.llmCalls = persistence.NewGormLLMCallRepository(db)
	permissions := persistence.NewGormPermissionRepository(db)
	snapshotRecords := persistence.NewGormSnapshotRepository(db)

	toolStore, err := config.NewToolStore(cfg.Paths.ToolsConfig, logger)
	if err != nil {
		return nil, err
	}
	app.toolStore = toolStore
	if watcher, err := config.NewWatcher(toolStore, logger); err != nil {
		logger.Warn("Tools config watcher unavailable", zap.Error(err))
	} else {
		app.watcher = watcher
	}

	app.broker = domaintool.NewPermissionBroker(permissions, logger)
	guard := domaintool.NewPolicyGuard(toolStore, app.broker, logger)
	app.registry = domaintool.NewRegistry()
	toolinfra.RegisterBuiltinTools(app.registry, toolStore, guard, logger)
	app.dispatcher = domaintool.NewDispatcher(app.registry, guard, logger)

	app.ptyManager = pty.NewManager(logger)

	archiver := snapshot.NewArchiver(cfg.Paths.SnapshotDir, logger)
	app.snapshots = snapshot.NewStore(archiver, snapshotRecords, logger)

	app.stops = service.NewStopRegistry()

	factory := app.modelClientFactory()

	truncCfg := compaction.TruncateConfig{
		Enabled:   cfg.Context.TruncateLongData,
		Threshold: cfg.Context.LongDataThreshold,
		HeadChars: cfg.Context.LongDataHeadChars,
		TailChars: cfg.Context.LongDataTailChars,
	}
	builder := compaction.NewBuilder(app.messages, app.steps, nil, truncCfg)
	compressor := compaction.NewCompressor(
		app.messages,
		app.llmCalls,
		builder,
		&lazySummarizer{configs: app.configs, factory: factory, logger: logger},
		compaction.Config{
			Enabled:         cfg.Context.CompressionEnabled,
			StartPct:        cfg.Context.CompressStartPct,
			TargetPct:       cfg.Context.CompressTargetPct,
			MinKeepMessages: cfg.Context.MinKeepMessages,
			KeepRecentCalls: cfg.Context.KeepRecentCalls,
			StepCalls:       cfg.Context.StepCalls,
			Trunc:           truncCfg,
		},
		logger,
	)

	app.runtime = usecase.NewSessionRuntime(
		app.sessions, app.configs, app.messages, app.steps, app.toolCalls, app.llmCalls,
		app.snapshots, builder, compressor, app.dispatcher, factory, app.stops,
		usecase.RuntimeConfig{
			MaxIterations: cfg.Agent.ReactMaxIterations,
			Temperature:   cfg.Agent.Temperature,
			TitleTimeout:  time.Duration(cfg.Agent.TitleTimeoutSec) * time.Second,
		},
		logger,
	)
	app.rollback = usecase.NewRollbackUseCase(app.messages, app.snapshots, logger)

	app.httpServer = httpserver.NewServer(httpserver.Config{
		Host: cfg.Gateway.Host,
		Port: cfg.Gateway.Port,
		Mode: cfg.Gateway.Mode,
	}, httpserver.Dependencies{
		Runtime:    app.runtime,
		Rollback:   app.rollback,
		Sessions:   app.sessions,
		Configs:    app.configs,
		Messages:   app.messages,
		Broker:     app.broker,
		PtyManager: app.ptyManager,
		ToolStore:  toolStore,
		Dispatcher: app.dispatcher,
	}, logger)

	return app, nil
}

// Start launches the HTTP server and background workers.
func (a *App) Start(ctx context.Context) error {
	bgCtx, cancel := context.WithCancel(context.Background())
	a.cancelBg = cancel

	if a.watcher != nil {
		safego.Go(a.logger, "tools-config-watcher", func() { a.watcher.Run(bgCtx) })
	}
	safego.Go(a.logger, "pty-sweeper", func() { a.ptyManager.RunSweeper(bgCtx, 30*time.Second) })

	return a.httpServer.Start(ctx)
}

// Stop shuts everything down.
func (a *App) Stop(ctx context.Context) error {
	if a.cancelBg != nil {
		a.cancelBg()
	}
	a.ptyManager.CloseAll()
	return a.httpServer.Stop(ctx)
}

// Logger returns the app logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// modelClientFactory builds retry-wrapped model clients from bound configs.
func (a *App) modelClientFactory() usecase.ModelClientFactory {
	policy := llm.RetryPolicy{
		MaxRetries: a.config.LLM.Retry.MaxRetries,
		BaseDelay:  time.Duration(a.config.LLM.Retry.BaseDelaySec * float64(time.Second)),
		MaxDelay:   time.Duration(a.config.LLM.Retry.MaxDelaySec * float64(time.Second)),
		Timeout:    a.config.LLM.Timeout(),
	}
	logger := a.logger
	return func(cfg *entity.ModelConfig) (service.ModelClient, error) {
		provider, err := llm.CreateProvider(llm.ProviderConfig{
			Name:        cfg.Name,
			Type:        cfg.APIType,
			BaseURL:     cfg.BaseURL,
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
		}, logger)
		if err != nil {
			return nil, err
		}
		return llm.WithRetry(provider, policy, logger), nil
	}
}

// lazySummarizer resolves the default model config at call time so that
// summaries keep working when configs change after startup.
type lazySummarizer struct {
	configs repository.ConfigRepository
	factory usecase.ModelClientFactory
	logger  *zap.Logger
}

func (s *lazySummarizer) Summarize(ctx context.Context, priorSummary string, dialogue []*entity.Message) (string, error) {
	cfg, err := s.configs.GetDefault(ctx)
	if err != nil {
		return "", err
	}
	client, err := s.factory(cfg)
	if err != nil {
		return "", err
	}
	summarizer := compaction.NewModelSummarizer(client, cfg.Model, 60*time.Second, 1000, s.logger)
	return summarizer.Summarize(ctx, priorSummary, dialogue)
}
