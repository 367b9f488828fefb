// Package app is the composition root: it wires storage, the module
// registry, the asset manager, the task orchestrator and the execution
// engine into a single Application with deterministic start/stop ordering.
package app

import (
	"context"
	"fmt"
	"os"

	goredis "github.com/go-redis/redis/v8"

	core "github.com/atomrun/kernel/internal/app/core/service"
	"github.com/atomrun/kernel/internal/app/metrics"
	"github.com/atomrun/kernel/internal/app/system"
	"github.com/atomrun/kernel/internal/assets"
	"github.com/atomrun/kernel/internal/config"
	"github.com/atomrun/kernel/internal/execution"
	"github.com/atomrun/kernel/internal/registry"
	"github.com/atomrun/kernel/internal/storage"
	"github.com/atomrun/kernel/internal/storage/memory"
	"github.com/atomrun/kernel/internal/tasks"
	"github.com/atomrun/kernel/pkg/logger"
)

// Environment exposes a lookup mechanism callers can implement to inject
// custom environment sources, primarily for testing.
type Environment interface {
	Lookup(key string) string
}

type osEnvironment struct{}

func (osEnvironment) Lookup(key string) string { return os.Getenv(key) }

// Option customises the application before it is built.
type Option func(*builderConfig)

type builderConfig struct {
	environment Environment
	metrics     *metrics.Metrics
}

// WithEnvironment overrides the environment lookup used for optional
// configuration. Passing nil retains the default (process environment).
func WithEnvironment(env Environment) Option {
	return func(b *builderConfig) {
		if env != nil {
			b.environment = env
		}
	}
}

// WithMetrics injects a pre-built metrics registry, primarily so tests can
// assert against known collectors instead of Application's private default.
func WithMetrics(m *metrics.Metrics) Option {
	return func(b *builderConfig) { b.metrics = m }
}

func resolveBuilderOptions(opts ...Option) builderConfig {
	cfg := builderConfig{environment: osEnvironment{}}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// Application ties the coordination kernel's subsystems together and
// manages their lifecycle as a single unit.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Stores storage.Stores

	Scanner     *registry.Scanner
	Environment *registry.EnvironmentManager
	Runner      *registry.Runner
	Registry    *registry.Orchestrator

	Assets     *assets.Manager
	Tasks      *tasks.Orchestrator
	Engine     *execution.Engine
	Dispatcher *execution.Dispatcher

	Metrics *metrics.Metrics

	descriptors []core.Descriptor
}

// New builds a fully wired Application from cfg and stores. A zero-value
// Stores defaults every collection to a shared in-memory backend.
func New(cfg *config.Config, stores storage.Stores, log *logger.Logger, opts ...Option) (*Application, error) {
	options := resolveBuilderOptions(opts...)
	if log == nil {
		log = logger.NewDefault("taskrund")
	}

	mem := memory.New()
	if stores.Modules == nil {
		stores.Modules = mem
	}
	if stores.Assets == nil {
		stores.Assets = mem
	}
	if stores.Tasks == nil {
		stores.Tasks = mem
	}

	m := options.metrics
	if m == nil {
		m = metrics.New()
	}

	assetManager, err := assets.New(cfg.StorageRoot, stores.Assets)
	if err != nil {
		return nil, fmt.Errorf("initialise asset manager: %w", err)
	}

	taskOrchestrator := tasks.New(stores.Modules, stores.Assets, stores.Tasks, assetManager)

	scanner := registry.NewScanner()
	envManager := registry.NewEnvironmentManager(registry.DefaultEnvConfig(), log)
	runner := registry.NewRunner()

	registryOrchestrator, err := registry.NewOrchestrator(cfg.ModulesRoot, scanner, envManager, runner, stores.Modules, log, cfg.RescanCron)
	if err != nil {
		return nil, fmt.Errorf("initialise registry orchestrator: %w", err)
	}
	registryOrchestrator.WithObservationHooks(m.RegistryHooks())

	engineOpts := []execution.Option{
		execution.WithTempRoot(cfg.StorageRoot),
		execution.WithTimeout(cfg.DefaultTimeout),
		execution.WithDispatchRate(cfg.DispatchRateHz),
		execution.WithObservationHooks(m.ExecutionHooks()),
	}
	url := cfg.RedisURL
	if url == "" {
		url = options.environment.Lookup("REDIS_URL")
	}
	if url != "" {
		if opt, err := goredis.ParseURL(url); err == nil {
			engineOpts = append(engineOpts, execution.WithClaimLock(goredis.NewClient(opt)))
		} else {
			log.WithError(err).Warn("ignoring invalid REDIS_URL")
		}
	}

	engine := execution.New(stores.Modules, stores.Tasks, assetManager, runner, taskOrchestrator, log, engineOpts...)
	dispatcher := execution.NewDispatcher(engine, cfg.Workers)

	manager := system.NewManager(registryOrchestrator, dispatcher)

	descriptors := system.CollectDescriptors(manager.DescriptorProviders())

	return &Application{
		manager:     manager,
		log:         log,
		Stores:      stores,
		Scanner:     scanner,
		Environment: envManager,
		Runner:      runner,
		Registry:    registryOrchestrator,
		Assets:      assetManager,
		Tasks:       taskOrchestrator,
		Engine:      engine,
		Dispatcher:  dispatcher,
		Metrics:     m,
		descriptors: descriptors,
	}, nil
}

// Start begins every managed background service (registry rescans,
// execution dispatch) in registration order.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops every managed service in reverse start order, collecting every
// error encountered rather than stopping at the first.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}

// Descriptors returns the advertised service descriptors for diagnostics.
func (a *Application) Descriptors() []core.Descriptor {
	out := make([]core.Descriptor, len(a.descriptors))
	copy(out, a.descriptors)
	return out
}
