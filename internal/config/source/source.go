// Package source provides configuration source abstractions and implementations
package source

import (
	"byedpi-core/internal/config/schema"
)

// Source is the interface for configuration sources
// Each source loads configuration into a strongly-typed Root structure
type Source interface {
	// Name returns the source name for logging and error messages
	Name() string

	// Priority returns the source priority (higher = more important)
	Priority() int

	// LoadInto loads configuration into the provided config structure
	// Only values present in the source are set
	LoadInto(cfg *schema.Root) error
}

// SourcePriority constants
const (
	PriorityDefaults = 1
	PriorityYAML     = 2
	PriorityEnv      = 4
	PriorityCLI      = 5
)

// ByPriority implements sort.Interface for []Source based on Priority
type ByPriority []Source

func (a ByPriority) Len() int           { return len(a) }
func (a ByPriority) Swap(i, j int)      { a[i], a[j] = a[j], a[i] }
func (a ByPriority) Less(i, j int) bool { return a[i].Priority() < a[j].Priority() }

// OverrideSource applies programmatic overrides, typically from CLI flags
type OverrideSource struct {
	name  string
	apply func(cfg *schema.Root)
}

// NewOverrideSource creates an OverrideSource with CLI priority
func NewOverrideSource(name string, apply func(cfg *schema.Root)) *OverrideSource {
	return &OverrideSource{name: name, apply: apply}
}

// Name returns the source name
func (s *OverrideSource) Name() string {
	return s.name
}

// Priority returns the source priority
func (s *OverrideSource) Priority() int {
	return PriorityCLI
}

// LoadInto applies the override function
func (s *OverrideSource) LoadInto(cfg *schema.Root) error {
	if s.apply != nil {
		s.apply(cfg)
	}
	return nil
}
