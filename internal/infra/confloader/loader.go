package confloader

import (
	"fmt"
	"strings"
	"sync"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// DefaultEnvPrefix is the environment variable prefix.
const DefaultEnvPrefix = "COLO_"

// sectionSep separates sections in environment variable names.
const sectionSep = "__"

// Loader loads configuration from multiple sources.
type Loader struct {
	mu        sync.Mutex
	k         *koanf.Koanf
	envPrefix string
	filePath  string
	overrides map[string]any
	loaded    bool
}

// Option configures a Loader.
type Option func(*Loader)

// WithEnvPrefix sets the environment variable prefix.
func WithEnvPrefix(prefix string) Option {
	return func(l *Loader) {
		l.envPrefix = prefix
	}
}

// WithConfigFile sets the configuration file path.
func WithConfigFile(path string) Option {
	return func(l *Loader) {
		l.filePath = path
	}
}

// WithOverrides sets values applied after every other source, typically
// from command-line flags.
func WithOverrides(values map[string]any) Option {
	return func(l *Loader) {
		l.overrides = values
	}
}

// NewLoader creates a loader.
func NewLoader(opts ...Option) *Loader {
	l := &Loader{
		k:         koanf.New("."),
		envPrefix: DefaultEnvPrefix,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// FilePath returns the configuration file path, empty if none.
func (l *Loader) FilePath() string { return l.filePath }

// Load reads the file, the environment and the overrides, then unmarshals
// onto target. Fields of target with no configured key keep their values.
func (l *Loader) Load(target any) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.loadAll(l.k); err != nil {
		return err
	}
	if err := l.k.Unmarshal("", target); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}
	l.loaded = true
	return nil
}

// Reload re-reads every source from scratch and unmarshals onto target.
// On error the previously loaded values are kept.
func (l *Loader) Reload(target any) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	k := koanf.New(".")
	if err := l.loadAll(k); err != nil {
		return err
	}
	if err := k.Unmarshal("", target); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}
	l.k = k
	l.loaded = true
	return nil
}

func (l *Loader) loadAll(k *koanf.Koanf) error {
	if l.filePath != "" {
		if err := k.Load(file.Provider(l.filePath), yaml.Parser()); err != nil {
			return fmt.Errorf("load config file %s: %w", l.filePath, err)
		}
	}
	if err := k.Load(env.Provider(l.envPrefix, ".", l.envKey), nil); err != nil {
		return fmt.Errorf("load env: %w", err)
	}
	if len(l.overrides) > 0 {
		if err := k.Load(mapProvider(l.overrides), nil); err != nil {
			return fmt.Errorf("load overrides: %w", err)
		}
	}
	return nil
}

// envKey maps COLO_SECTION__SOME_KEY to section.some_key.
func (l *Loader) envKey(s string) string {
	s = strings.TrimPrefix(s, l.envPrefix)
	s = strings.ToLower(s)
	return strings.ReplaceAll(s, sectionSep, ".")
}

// LoadMap merges values into the loaded configuration.
func (l *Loader) LoadMap(data map[string]any) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.k.Load(mapProvider(data), nil); err != nil {
		return fmt.Errorf("load map: %w", err)
	}
	return nil
}

// Unmarshal unmarshals the loaded configuration onto target.
func (l *Loader) Unmarshal(target any) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.k.Unmarshal("", target)
}

// GetString returns a string value.
func (l *Loader) GetString(key string) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.k.String(key)
}

// IsLoaded reports whether Load or Reload has succeeded.
func (l *Loader) IsLoaded() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loaded
}

// Keys returns all loaded keys.
func (l *Loader) Keys() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.k.Keys()
}
