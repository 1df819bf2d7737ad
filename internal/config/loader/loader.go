// Package loader provides multi-source configuration loading
package loader

import (
	"fmt"
	"sort"

	"byedpi-core/internal/config/schema"
	"byedpi-core/internal/config/source"
	"byedpi-core/internal/config/validator"
	coreerrors "byedpi-core/internal/core/errors"
	corelog "byedpi-core/internal/core/log"
)

// Loader loads configuration from multiple sources in priority order
type Loader struct {
	sources      []source.Source
	skipValidate bool
}

// NewLoader creates a new Loader
func NewLoader() *Loader {
	return &Loader{sources: make([]source.Source, 0)}
}

// AddSource adds a configuration source
func (l *Loader) AddSource(s source.Source) {
	l.sources = append(l.sources, s)
}

// SetSkipValidation disables the validation phase
func (l *Loader) SetSkipValidation(skip bool) {
	l.skipValidate = skip
}

// Load loads configuration from all sources in priority order
// Lower priority sources are loaded first, then higher priority sources override
func (l *Loader) Load() (*schema.Root, error) {
	if len(l.sources) == 0 {
		return nil, coreerrors.New(coreerrors.CodeInvalidParam, "no configuration sources registered")
	}

	sorted := make([]source.Source, len(l.sources))
	copy(sorted, l.sources)
	sort.Stable(source.ByPriority(sorted))

	cfg := &schema.Root{}
	for _, s := range sorted {
		corelog.Debugf("Config: loading from source %s (priority %d)", s.Name(), s.Priority())
		if err := s.LoadInto(cfg); err != nil {
			return nil, coreerrors.Wrapf(err, coreerrors.CodeConfigError,
				"failed to load configuration from source %s", s.Name())
		}
	}

	if !l.skipValidate {
		if result := validator.ValidateConfig(cfg); !result.IsValid() {
			return nil, coreerrors.Wrap(result, coreerrors.CodeConfigError, "invalid configuration")
		}
	}

	return cfg, nil
}

// LoaderBuilder helps build a Loader with common configurations
type LoaderBuilder struct {
	loader       *Loader
	prefix       string
	configFile   string
	document     []byte
	overrides    []func(cfg *schema.Root)
	skipValidate bool
	skipEnv      bool
}

// NewLoaderBuilder creates a new LoaderBuilder
func NewLoaderBuilder() *LoaderBuilder {
	return &LoaderBuilder{
		loader: NewLoader(),
		prefix: source.EnvPrefix,
	}
}

// WithPrefix sets the environment variable prefix
func (b *LoaderBuilder) WithPrefix(prefix string) *LoaderBuilder {
	b.prefix = prefix
	return b
}

// WithConfigFile sets the configuration file path
func (b *LoaderBuilder) WithConfigFile(path string) *LoaderBuilder {
	b.configFile = path
	return b
}

// WithDocument sets an in-memory YAML document, used instead of file lookup
func (b *LoaderBuilder) WithDocument(data []byte) *LoaderBuilder {
	b.document = data
	return b
}

// WithOverride adds a highest-priority override, e.g. from CLI flags
func (b *LoaderBuilder) WithOverride(fn func(cfg *schema.Root)) *LoaderBuilder {
	b.overrides = append(b.overrides, fn)
	return b
}

// WithoutEnv disables environment variable loading
func (b *LoaderBuilder) WithoutEnv() *LoaderBuilder {
	b.skipEnv = true
	return b
}

// WithSkipValidation disables validation
func (b *LoaderBuilder) WithSkipValidation(skip bool) *LoaderBuilder {
	b.skipValidate = skip
	return b
}

// Build creates the configured Loader
func (b *LoaderBuilder) Build() *Loader {
	b.loader.AddSource(source.NewDefaultSource())

	if len(b.document) > 0 {
		b.loader.AddSource(source.NewYAMLBytesSource(b.document))
	} else if configFile := source.FindConfigFile(b.configFile); configFile != "" {
		b.loader.AddSource(source.NewYAMLSource(configFile))
		corelog.Debugf("Config: using config file %s", configFile)
	}

	if !b.skipEnv {
		b.loader.AddSource(source.NewEnvSource(b.prefix))
	}

	for i, fn := range b.overrides {
		b.loader.AddSource(source.NewOverrideSource(fmt.Sprintf("cli-%d", i), fn))
	}

	b.loader.SetSkipValidation(b.skipValidate)
	return b.loader
}

// Load is a convenience function that creates a loader and loads configuration
func Load(configFile string) (*schema.Root, error) {
	return NewLoaderBuilder().WithConfigFile(configFile).Build().Load()
}

// LoadDocument loads configuration from an in-memory YAML document
func LoadDocument(data []byte) (*schema.Root, error) {
	return NewLoaderBuilder().WithDocument(data).WithoutEnv().Build().Load()
}
