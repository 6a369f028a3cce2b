package engine

import (
	"time"

	"judgebox/internal/exec/sandbox/spec"
)

const (
	defaultKillGrace          = 2 * time.Second
	defaultOutputLimitBytes   = 1 << 20
	defaultCompileOutputLimit = 64 * 1024
	defaultMaxSourceBytes     = 64 * 1024
	defaultMemorySampleEvery  = 50 * time.Millisecond
	defaultPathEnv            = "/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"
)

// Config controls runner behavior.
type Config struct {
	// WorkRoot holds one ws-<uuid> directory per execution. Defaults to os.TempDir().
	WorkRoot string `yaml:"workRoot"`
	// HelperPath points at the sandbox-init binary. Empty runs programs directly.
	HelperPath     string `yaml:"helperPath"`
	SeccompProfile string `yaml:"seccompProfile"`
	PathEnv        string `yaml:"pathEnv"`

	KillGrace               time.Duration `yaml:"killGrace"`
	OutputLimitBytes        int64         `yaml:"outputLimitBytes"`
	CompileOutputLimitBytes int64         `yaml:"compileOutputLimitBytes"`
	MaxSourceBytes          int64         `yaml:"maxSourceBytes"`
	MemorySampleInterval    time.Duration `yaml:"memorySampleInterval"`

	// Limits apply to every spawned program; SpawnOptions may tighten them.
	Limits spec.ResourceLimit `yaml:"limits"`
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	if c.KillGrace <= 0 {
		c.KillGrace = defaultKillGrace
	}
	if c.OutputLimitBytes <= 0 {
		c.OutputLimitBytes = defaultOutputLimitBytes
	}
	if c.CompileOutputLimitBytes <= 0 {
		c.CompileOutputLimitBytes = defaultCompileOutputLimit
	}
	if c.MaxSourceBytes <= 0 {
		c.MaxSourceBytes = defaultMaxSourceBytes
	}
	if c.MemorySampleInterval <= 0 {
		c.MemorySampleInterval = defaultMemorySampleEvery
	}
	if c.PathEnv == "" {
		c.PathEnv = defaultPathEnv
	}
}
