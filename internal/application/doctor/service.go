// Package doctor checks that the local environment can run the engine.
package doctor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	configapp "github.com/doeshing/pcpilot/internal/application/config"
	"github.com/doeshing/pcpilot/internal/domain"
	"github.com/doeshing/pcpilot/internal/ports"
)

// Service runs environment diagnostics. LookPath and Getenv default to the
// os/exec and os versions.
type Service struct {
	ConfigProvider ports.ConfigProvider
	LookPath       func(string) (string, error)
	Getenv         func(string) string
	GOOS           string
}

// Run executes checks and returns a report. Only a config that cannot be
// loaded is returned as an error.
func (s *Service) Run(ctx context.Context) (domain.HealthReport, error) {
	var checks []domain.HealthCheck

	cfg, err := s.ConfigProvider.Load(ctx)
	if err != nil {
		checks = append(checks, fail("Config file", fmt.Sprintf("load failed: %v", err)))
		return domain.HealthReport{Checks: checks}, err
	}
	checks = append(checks, ok("Config file", fmt.Sprintf("format %s", cfg.ConfigFormatVersion)))
	if err := configapp.Validate(cfg); err != nil {
		checks = append(checks, fail("Config values", strings.ReplaceAll(err.Error(), "\n", "; ")))
	} else {
		checks = append(checks, ok("Config values", "valid"))
	}

	checks = append(checks, storageCheck(cfg.Storage.Dir))
	checks = append(checks, s.rootsCheck(cfg.Catalog.Roots))
	for _, capability := range domain.Capabilities() {
		checks = append(checks, s.capabilityCheck(cfg, capability))
	}
	checks = append(checks, s.launcherCheck())

	return domain.HealthReport{Checks: checks}, nil
}

func storageCheck(dir string) domain.HealthCheck {
	if err := os.MkdirAll(dir, domain.DirectoryPermissions); err != nil {
		return fail("Storage", err.Error())
	}
	probe, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return fail("Storage", fmt.Sprintf("%s is not writable: %v", dir, err))
	}
	name := probe.Name()
	probe.Close()
	os.Remove(name)
	return ok("Storage", dir)
}

func (s *Service) rootsCheck(roots []string) domain.HealthCheck {
	if len(roots) == 0 {
		return warn("Catalog roots", "none configured; only built-in applications are known")
	}
	var missing []string
	for _, root := range roots {
		if _, err := os.Stat(root); err != nil {
			missing = append(missing, filepath.Base(root))
		}
	}
	if len(missing) == len(roots) {
		return warn("Catalog roots", "none of the configured roots exist")
	}
	if len(missing) > 0 {
		return ok("Catalog roots", fmt.Sprintf("%d of %d present (missing: %s)", len(roots)-len(missing), len(roots), strings.Join(missing, ", ")))
	}
	return ok("Catalog roots", fmt.Sprintf("%d present", len(roots)))
}

// capabilityCheck reports how many configured backends of a capability look
// usable: API-backed ones need their key, CLI-backed ones their binary.
func (s *Service) capabilityCheck(cfg domain.Config, capability domain.Capability) domain.HealthCheck {
	name := "Backends: " + string(capability)
	defs, err := cfg.ProvidersFor(capability)
	if err != nil {
		return fail(name, err.Error())
	}
	if len(defs) == 0 {
		if capability == domain.CapabilityLanguage {
			return warn(name, "none configured; rules and learned patterns only")
		}
		return warn(name, "none configured")
	}
	var ready, problems []string
	for _, def := range defs {
		if problem := s.backendProblem(def); problem != "" {
			problems = append(problems, def.Name+": "+problem)
			continue
		}
		ready = append(ready, def.Name)
	}
	if len(ready) == 0 {
		return warn(name, strings.Join(problems, "; "))
	}
	details := "ready: " + strings.Join(ready, ", ")
	if len(problems) > 0 {
		details += " (" + strings.Join(problems, "; ") + ")"
	}
	return ok(name, details)
}

func (s *Service) backendProblem(def domain.BackendDefinition) string {
	if binary := binaryFor(def); binary != "" {
		if _, err := s.lookPath(binary); err != nil {
			return binary + " not found on PATH"
		}
		if def.ModelPath != "" {
			if _, err := os.Stat(def.ModelPath); err != nil {
				return "model " + def.ModelPath + " missing"
			}
		}
		return ""
	}
	if def.AuthEnvVar != "" && s.getenv(def.AuthEnvVar) == "" {
		return def.AuthEnvVar + " missing"
	}
	return ""
}

func binaryFor(def domain.BackendDefinition) string {
	if def.Binary != "" {
		return def.Binary
	}
	switch def.Kind {
	case domain.ProviderKindWhisper:
		return "whisper-cli"
	case domain.ProviderKindPiper:
		return "piper"
	case domain.ProviderKindEspeak:
		return "espeak-ng"
	}
	return ""
}

func (s *Service) launcherCheck() domain.HealthCheck {
	goos := s.GOOS
	if goos == "" {
		goos = runtime.GOOS
	}
	var tool string
	switch goos {
	case "darwin":
		tool = "open"
	case "windows":
		tool = "cmd"
	default:
		tool = "xdg-open"
	}
	if _, err := s.lookPath(tool); err != nil {
		return warn("Launcher", tool+" not found; launch commands will fail")
	}
	return ok("Launcher", tool)
}

func (s *Service) lookPath(name string) (string, error) {
	if s.LookPath != nil {
		return s.LookPath(name)
	}
	return exec.LookPath(name)
}

func (s *Service) getenv(key string) string {
	if s.Getenv != nil {
		return s.Getenv(key)
	}
	return os.Getenv(key)
}

func ok(name, details string) domain.HealthCheck {
	return domain.HealthCheck{Name: name, Status: domain.HealthOK, Details: details}
}

func warn(name, details string) domain.HealthCheck {
	return domain.HealthCheck{Name: name, Status: domain.HealthWarn, Details: details}
}

func fail(name, details string) domain.HealthCheck {
	return domain.HealthCheck{Name: name, Status: domain.HealthError, Details: details}
}
