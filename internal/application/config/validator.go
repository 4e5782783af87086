package config

import (
	"errors"
	"fmt"

	"github.com/doeshing/pcpilot/internal/domain"
)

// Validate ensures config structure is consistent. It expects a hydrated
// config (the loader fills zero values first).
func Validate(cfg domain.Config) error {
	var errs []error
	errs = append(errs, validateLearning(cfg.Learning)...)
	errs = append(errs, validateResolver(cfg.Resolver)...)
	errs = append(errs, validateCatalog(cfg.Catalog)...)
	errs = append(errs, validateOrchestrator(cfg.Orchestrator)...)
	errs = append(errs, validateProviders(cfg)...)
	if cfg.Storage.Dir == "" {
		errs = append(errs, errors.New("storage.dir must be set"))
	}
	if cfg.Storage.CacheTTL < 0 {
		errs = append(errs, errors.New("storage.cache_ttl must be >= 0"))
	}
	return errors.Join(errs...)
}

func validateLearning(l domain.LearningSettings) []error {
	var errs []error
	if l.LearningRate <= 0 || l.LearningRate > 1 {
		errs = append(errs, fmt.Errorf("learning.learning_rate must be in (0,1], got %v", l.LearningRate))
	}
	if l.PruneFloor < 0 || l.PruneFloor >= 1 {
		errs = append(errs, fmt.Errorf("learning.prune_floor must be in [0,1), got %v", l.PruneFloor))
	}
	if l.PruneMinObservations < 1 {
		errs = append(errs, errors.New("learning.prune_min_observations must be >= 1"))
	}
	if l.ConsolidateEvery < 0 {
		errs = append(errs, errors.New("learning.consolidate_every must be >= 0"))
	}
	return errs
}

func validateResolver(r domain.ResolverSettings) []error {
	var errs []error
	for name, v := range map[string]float64{
		"resolver.trusted_confidence_threshold": r.TrustedConfidenceThreshold,
		"resolver.similarity_threshold":         r.SimilarityThreshold,
		"resolver.min_target_score":             r.MinTargetScore,
	} {
		if v <= 0 || v > 1 {
			errs = append(errs, fmt.Errorf("%s must be in (0,1], got %v", name, v))
		}
	}
	if r.MaxAlternatives < 1 {
		errs = append(errs, errors.New("resolver.max_alternatives must be >= 1"))
	}
	return errs
}

func validateCatalog(c domain.CatalogSettings) []error {
	var errs []error
	if c.ScanDepth < 1 {
		errs = append(errs, errors.New("catalog.scan_depth must be >= 1"))
	}
	if c.ScanTimeout <= 0 {
		errs = append(errs, errors.New("catalog.scan_timeout must be > 0"))
	}
	return errs
}

func validateOrchestrator(o domain.OrchestratorSettings) []error {
	var errs []error
	if o.InvokeTimeout <= 0 {
		errs = append(errs, errors.New("orchestrator.invoke_timeout must be > 0"))
	}
	if o.DegradedAfter < 1 || o.UnavailableAfter < o.DegradedAfter {
		errs = append(errs, fmt.Errorf("orchestrator thresholds must satisfy 1 <= degraded_after (%d) <= unavailable_after (%d)",
			o.DegradedAfter, o.UnavailableAfter))
	}
	if o.BackoffBase <= 0 || o.BackoffCap < o.BackoffBase {
		errs = append(errs, fmt.Errorf("orchestrator backoff must satisfy 0 < backoff_base (%s) <= backoff_cap (%s)",
			o.BackoffBase, o.BackoffCap))
	}
	return errs
}

func validateProviders(cfg domain.Config) []error {
	var errs []error
	seen := make(map[string]bool, len(cfg.Providers))
	for _, p := range cfg.Providers {
		if p.Name == "" {
			errs = append(errs, errors.New("providers: every provider needs a name"))
			continue
		}
		if seen[p.Name] {
			errs = append(errs, fmt.Errorf("providers: %s defined twice", p.Name))
		}
		seen[p.Name] = true
		if _, ok := domain.ParseCapability(string(p.Capability)); !ok {
			errs = append(errs, fmt.Errorf("providers: %s has unknown capability %q", p.Name, p.Capability))
		}
	}
	for _, capability := range domain.Capabilities() {
		if _, err := cfg.ProvidersFor(capability); err != nil {
			errs = append(errs, fmt.Errorf("backends: %w", err))
		}
	}
	return errs
}
