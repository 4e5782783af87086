package domain

import "fmt"

// PriorityFor returns the configured provider order for a capability.
func (c *Config) PriorityFor(capability Capability) []string {
	switch capability {
	case CapabilityLanguage:
		return c.Backends.Language
	case CapabilitySpeechToText:
		return c.Backends.SpeechToText
	case CapabilitySpeechSynthesis:
		return c.Backends.SpeechSynthesis
	default:
		return nil
	}
}

// SetPriority replaces the provider order for a capability.
func (c *Config) SetPriority(capability Capability, names []string) error {
	switch capability {
	case CapabilityLanguage:
		c.Backends.Language = names
	case CapabilitySpeechToText:
		c.Backends.SpeechToText = names
	case CapabilitySpeechSynthesis:
		c.Backends.SpeechSynthesis = names
	default:
		return fmt.Errorf("unknown capability %q", capability)
	}
	return nil
}

// FindProvider searches for a provider by its name.
func (c *Config) FindProvider(name string) (BackendDefinition, bool) {
	for _, p := range c.Providers {
		if p.Name == name {
			return p, true
		}
	}
	return BackendDefinition{}, false
}

// HasProvider checks if a provider with the given name exists.
func (c *Config) HasProvider(name string) bool {
	_, ok := c.FindProvider(name)
	return ok
}

// AddProvider appends a provider definition and places it last in its capability's order.
func (c *Config) AddProvider(def BackendDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("provider name is required")
	}
	if c.HasProvider(def.Name) {
		return fmt.Errorf("provider with name %s already exists", def.Name)
	}
	capability, ok := ParseCapability(string(def.Capability))
	if !ok {
		return fmt.Errorf("provider %s has unknown capability %q", def.Name, def.Capability)
	}
	def.Capability = capability
	c.Providers = append(c.Providers, def)
	return c.SetPriority(def.Capability, append(c.PriorityFor(def.Capability), def.Name))
}

// RemoveProvider deletes a provider and drops it from every priority list.
func (c *Config) RemoveProvider(name string) error {
	idx := -1
	for i, p := range c.Providers {
		if p.Name == name {
			idx = i
			break
		}
	}
	if idx == -1 {
		return fmt.Errorf("provider %s not found", name)
	}
	c.Providers = append(c.Providers[:idx], c.Providers[idx+1:]...)
	for _, capability := range Capabilities() {
		_ = c.SetPriority(capability, without(c.PriorityFor(capability), name))
	}
	return nil
}

// ProvidersFor resolves the priority list of a capability into definitions.
// Names that are missing or registered under another capability are errors.
func (c *Config) ProvidersFor(capability Capability) ([]BackendDefinition, error) {
	names := c.PriorityFor(capability)
	defs := make([]BackendDefinition, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if seen[name] {
			return nil, fmt.Errorf("provider %s listed twice for %s", name, capability)
		}
		seen[name] = true
		def, ok := c.FindProvider(name)
		if !ok {
			return nil, fmt.Errorf("provider %s listed for %s is not defined", name, capability)
		}
		if def.Capability != capability {
			return nil, fmt.Errorf("provider %s has capability %s, not %s", name, def.Capability, capability)
		}
		defs = append(defs, def)
	}
	return defs, nil
}

func without(list []string, name string) []string {
	out := list[:0:0]
	for _, v := range list {
		if v != name {
			out = append(out, v)
		}
	}
	return out
}
