// Package app wires the engine components to their infrastructure adapters.
package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/doeshing/pcpilot/internal/application/catalog"
	"github.com/doeshing/pcpilot/internal/application/command"
	configapp "github.com/doeshing/pcpilot/internal/application/config"
	"github.com/doeshing/pcpilot/internal/application/doctor"
	"github.com/doeshing/pcpilot/internal/application/learner"
	"github.com/doeshing/pcpilot/internal/application/orchestrator"
	"github.com/doeshing/pcpilot/internal/application/patterns"
	"github.com/doeshing/pcpilot/internal/application/resolver"
	"github.com/doeshing/pcpilot/internal/domain"
	"github.com/doeshing/pcpilot/internal/infrastructure/ai"
	"github.com/doeshing/pcpilot/internal/infrastructure/cache"
	"github.com/doeshing/pcpilot/internal/infrastructure/config"
	"github.com/doeshing/pcpilot/internal/infrastructure/executor"
	"github.com/doeshing/pcpilot/internal/infrastructure/security"
	"github.com/doeshing/pcpilot/internal/infrastructure/store"
	"github.com/doeshing/pcpilot/internal/pkg/logger"
	"github.com/doeshing/pcpilot/internal/ports"
)

// Options controls how the container is assembled.
type Options struct {
	ConfigPath string
	Verbose    bool
	// DryRun forces the executor into dry-run mode regardless of config.
	DryRun bool
	// Factory overrides the provider factory (tests).
	Factory ports.ProviderFactory
	// Executor overrides the local executor (tests).
	Executor ports.Executor
}

// Container holds the assembled engine.
type Container struct {
	Config       domain.Config
	ConfigLoader *config.FileLoader
	Logger       *logger.ZapLogger

	Store        *store.SQLiteStore
	Cache        *cache.FileCache
	Patterns     *patterns.Store
	Catalog      *catalog.Catalog
	Watcher      *catalog.Watcher
	Orchestrator *orchestrator.Orchestrator
	Resolver     *resolver.Resolver
	Learner      *learner.Learner
	Commands     *command.Service
	Doctor       *doctor.Service
}

// BuildContainer loads config, opens the store and builds every component.
// Call Start to launch background work and Close when done.
func BuildContainer(ctx context.Context, opts Options) (*Container, error) {
	loader := config.NewFileLoader(opts.ConfigPath)
	cfg, err := loader.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := configapp.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", loader.Path(), err)
	}
	log := logger.New(opts.Verbose)

	db, err := store.OpenSQLite(ctx, store.DefaultPath(cfg.Storage.Dir))
	if err != nil {
		return nil, err
	}
	c := &Container{
		Config:       cfg,
		ConfigLoader: loader,
		Logger:       log,
		Store:        db,
		Doctor:       &doctor.Service{ConfigProvider: loader},
	}
	if err := c.build(ctx, opts); err != nil {
		_ = db.Close()
		return nil, err
	}
	return c, nil
}

func (c *Container) build(ctx context.Context, opts Options) error {
	cfg := c.Config

	c.Patterns = patterns.NewStore(c.Store, c.Logger, patterns.Options{
		LearningRate:         cfg.Learning.LearningRate,
		PruneFloor:           cfg.Learning.PruneFloor,
		PruneMinObservations: cfg.Learning.PruneMinObservations,
		SimilarityThreshold:  cfg.Resolver.SimilarityThreshold,
		CorrectionConfidence: cfg.Resolver.TrustedConfidenceThreshold,
	})
	if _, err := c.Patterns.Load(ctx); err != nil {
		return err
	}

	c.Catalog = catalog.New(c.Store, c.Logger, catalog.Options{
		Roots:           cfg.Catalog.Roots,
		ScanDepth:       cfg.Catalog.ScanDepth,
		ScanTimeout:     cfg.Catalog.ScanTimeout,
		RefreshInterval: cfg.Catalog.RefreshInterval,
		IncludeFiles:    cfg.Catalog.IncludeFiles,
	})
	if _, err := c.Catalog.Load(ctx); err != nil {
		return err
	}

	factory := opts.Factory
	if factory == nil {
		factory = ai.NewFactory()
	}
	providers, err := c.providers(factory)
	if err != nil {
		return err
	}
	c.Orchestrator, err = orchestrator.New(c.Logger, orchestrator.Options{
		InvokeTimeout:    cfg.Orchestrator.InvokeTimeout,
		DegradedAfter:    cfg.Orchestrator.DegradedAfter,
		UnavailableAfter: cfg.Orchestrator.UnavailableAfter,
		BackoffBase:      cfg.Orchestrator.BackoffBase,
		BackoffCap:       cfg.Orchestrator.BackoffCap,
	}, providers...)
	if err != nil {
		return err
	}

	c.Cache = cache.NewFileCache(filepath.Join(cfg.Storage.Dir, "cache"), cfg.Storage.CacheTTL, cfg.Storage.CacheMaxEntries)
	c.Resolver = resolver.New(c.Patterns, c.Catalog, c.Orchestrator, c.Cache, c.Logger, resolver.Options{
		TrustedConfidence:   cfg.Resolver.TrustedConfidenceThreshold,
		SimilarityThreshold: cfg.Resolver.SimilarityThreshold,
		MinTargetScore:      cfg.Resolver.MinTargetScore,
		MaxAlternatives:     cfg.Resolver.MaxAlternatives,
		UseLanguage:         cfg.Resolver.UseLanguageFallback,
	})

	c.Learner = learner.New(c.Store, c.Patterns, c.Catalog, c.Logger, learner.Options{
		ConsolidateEvery:    cfg.Learning.ConsolidateEvery,
		ConsolidateInterval: cfg.Learning.ConsolidateInterval,
		ConsolidateWindow:   cfg.Learning.ConsolidateWindow,
	})

	exec := opts.Executor
	if exec == nil {
		exec = executor.NewLocalExecutor(executor.Options{
			DryRun:        opts.DryRun || cfg.Execution.DryRun,
			ScreenshotDir: cfg.Execution.ScreenshotDir,
		})
	}
	guard, err := security.NewGuardrail(cfg.Execution.GuardrailPath)
	if err != nil {
		return err
	}
	exec = &security.Executor{Next: exec, Guardrail: guard, Logger: c.Logger}
	c.Commands = &command.Service{
		Resolver: c.Resolver,
		Executor: exec,
		Learner:  c.Learner,
		Invoker:  c.Orchestrator,
		Logger:   c.Logger,
	}
	return nil
}

// providers builds every configured backend in priority order. A backend the
// factory cannot build is logged and left out rather than failing startup.
func (c *Container) providers(factory ports.ProviderFactory) ([]ports.CapabilityProvider, error) {
	var out []ports.CapabilityProvider
	for _, capability := range domain.Capabilities() {
		defs, err := c.Config.ProvidersFor(capability)
		if err != nil {
			return nil, err
		}
		for _, def := range defs {
			p, err := factory.ForBackend(def)
			if err != nil {
				c.Logger.Warn("backend skipped", map[string]interface{}{
					"backend": def.Name,
					"error":   err.Error(),
				})
				continue
			}
			out = append(out, p)
		}
	}
	return out, nil
}

// Start launches the periodic consolidation loop and, when enabled, the
// catalog filesystem watcher.
func (c *Container) Start(ctx context.Context) {
	c.Learner.Start(ctx)
	if !c.Config.Catalog.Watch || len(c.Config.Catalog.Roots) == 0 {
		return
	}
	w, err := catalog.NewWatcher(c.Catalog)
	if err != nil {
		c.Logger.Warn("catalog watcher unavailable", map[string]interface{}{"error": err.Error()})
		return
	}
	c.Watcher = w
	w.Start(ctx)
}

// Close stops background work, waits for it and closes the store.
func (c *Container) Close() error {
	var errs []error
	if c.Watcher != nil {
		errs = append(errs, c.Watcher.Stop())
	}
	if c.Learner != nil {
		c.Learner.Stop()
		c.Learner.Wait()
	}
	if c.Catalog != nil {
		c.Catalog.Wait()
	}
	if c.Store != nil {
		errs = append(errs, c.Store.Close())
	}
	_ = c.Logger.Sync()
	return errors.Join(errs...)
}
