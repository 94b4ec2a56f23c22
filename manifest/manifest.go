// Package manifest handles tiervm.toml engine configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/chazu/tiervm/vm"
)

// FileName is the configuration file looked up by Load and FindAndLoad.
const FileName = "tiervm.toml"

// Config represents a tiervm.toml file.
type Config struct {
	JIT         JITConfig         `toml:"jit"`
	Interpreter InterpreterConfig `toml:"interpreter"`
	Cache       CacheConfig       `toml:"cache"`
	Log         LogConfig         `toml:"log"`
	Server      ServerConfig      `toml:"server"`

	// Dir is the directory containing the tiervm.toml file (set at load time).
	Dir string `toml:"-"`
}

// JITConfig configures the compiled tier.
type JITConfig struct {
	Enabled        *bool  `toml:"enabled"`
	Threshold      int    `toml:"threshold"`
	Backend        string `toml:"backend"`
	LogCompilation bool   `toml:"log-compilation"`
}

// InterpreterConfig configures the baseline tier.
type InterpreterConfig struct {
	MaxCallDepth int `toml:"max-call-depth"`
}

// CacheConfig configures the persistent code cache. An empty path
// disables it.
type CacheConfig struct {
	Path string `toml:"path"`
}

// LogConfig configures commonlog.
type LogConfig struct {
	Verbosity int    `toml:"verbosity"`
	Path      string `toml:"path"`
}

// ServerConfig configures the RPC service.
type ServerConfig struct {
	Addr string `toml:"addr"`
}

// DefaultAddr is the listen address used when none is configured.
const DefaultAddr = "127.0.0.1:8765"

// Default returns the configuration used when no file is present.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.JIT.Enabled == nil {
		on := true
		c.JIT.Enabled = &on
	}
	if c.JIT.Threshold <= 0 {
		c.JIT.Threshold = vm.DefaultHotThreshold
	}
	if c.JIT.Backend == "" {
		c.JIT.Backend = vm.BackendMock.String()
	}
	if c.Interpreter.MaxCallDepth <= 0 {
		c.Interpreter.MaxCallDepth = vm.DefaultMaxCallDepth
	}
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultAddr
	}
}

// Load parses a tiervm.toml file from the given directory.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var c Config
	if err := toml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	c.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	if _, err := vm.ParseBackend(c.JIT.Backend); err != nil {
		return nil, fmt.Errorf("%s: jit.backend: %w", path, err)
	}
	c.applyDefaults()

	// Relative cache and log paths are relative to the config file.
	if c.Cache.Path != "" && c.Cache.Path != ":memory:" && !filepath.IsAbs(c.Cache.Path) {
		c.Cache.Path = filepath.Join(c.Dir, c.Cache.Path)
	}
	if c.Log.Path != "" && !filepath.IsAbs(c.Log.Path) {
		c.Log.Path = filepath.Join(c.Dir, c.Log.Path)
	}

	return &c, nil
}

// FindAndLoad walks up from startDir to find a tiervm.toml file,
// then loads and returns it. Returns nil if no file is found.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// JITEnabled reports the effective jit.enabled value.
func (c *Config) JITEnabled() bool {
	return c.JIT.Enabled == nil || *c.JIT.Enabled
}

// Backend returns the parsed jit.backend.
func (c *Config) Backend() vm.Backend {
	b, _ := vm.ParseBackend(c.JIT.Backend)
	return b
}

// VMOptions translates the configuration into VM options. The code cache
// is not opened here; callers own its lifetime.
func (c *Config) VMOptions() []vm.Option {
	return []vm.Option{
		vm.WithHotThreshold(c.JIT.Threshold),
		vm.WithBackend(c.Backend()),
		vm.WithJIT(c.JITEnabled()),
		vm.WithLogCompilation(c.JIT.LogCompilation),
		vm.WithMaxCallDepth(c.Interpreter.MaxCallDepth),
	}
}

// Write encodes c as TOML to path.
func (c *Config) Write(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("cannot create %s: %w", path, err)
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(c); err != nil {
		return fmt.Errorf("cannot encode %s: %w", path, err)
	}
	return nil
}
