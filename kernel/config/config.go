// Package config loads the settings that shape a kernel boot: the timer
// frequency, how much user code runs per tick, when to stop, where to log
// and which programs to start.
package config

import (
	"os"

	"gopkg.in/yaml.v3"

	"weensyos/kernel"
	"weensyos/kernel/proc"
)

var (
	errTooManyProcesses = &kernel.Error{Module: "config", Message: "more processes than process slots"}
	errZeroHz           = &kernel.Error{Module: "config", Message: "hz must be positive"}
	errZeroBudget       = &kernel.Error{Module: "config", Message: "instructions_per_tick must be positive"}
)

// Process describes a program started at boot. Processes are placed in
// slots 1, 2, ... in the order they are listed.
type Process struct {
	Program string `yaml:"program"`
	UID     int    `yaml:"uid"`
	EUID    int    `yaml:"euid"`
}

// Config holds the boot settings.
type Config struct {
	// Hz is the timer frequency in interrupts per second of simulated time.
	Hz uint64 `yaml:"hz"`

	// InstructionsPerTick is the number of user instructions executed
	// between two timer interrupts.
	InstructionsPerTick int `yaml:"instructions_per_tick"`

	// MaxTicks stops the kernel once this many ticks elapsed. Zero runs
	// forever.
	MaxTicks uint64 `yaml:"max_ticks"`

	// StopWhenIdle stops the kernel once no live process remains.
	StopWhenIdle bool `yaml:"stop_when_idle"`

	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`

	Processes []Process `yaml:"processes"`
}

// DefaultConfig returns the configuration used when no file is given: four
// allocator processes owned by root.
func DefaultConfig() *Config {
	return &Config{
		Hz:                  100,
		InstructionsPerTick: 256,
		LogLevel:            "info",
		LogFile:             "log.txt",
		Processes: []Process{
			{Program: "allocator"},
			{Program: "allocator2"},
			{Program: "allocator3"},
			{Program: "allocator4"},
		},
	}
}

// Load reads a YAML configuration file. Settings missing from the file keep
// their default values; a processes list in the file replaces the default
// one.
func Load(path string) (*Config, *kernel.Error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, kernel.Errorf("config", "failed to read config: %v", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, kernel.Errorf("config", "failed to parse config: %v", err)
	}

	if kerr := cfg.Validate(); kerr != nil {
		return nil, kerr
	}
	return cfg, nil
}

// WithProgram returns a copy of c that runs the single named program in
// slot 1 instead of the configured process list.
func (c *Config) WithProgram(name string) *Config {
	out := *c
	out.Processes = []Process{{Program: name}}
	return &out
}

// Validate checks the configuration for values the kernel cannot boot with.
func (c *Config) Validate() *kernel.Error {
	switch {
	case c.Hz == 0:
		return errZeroHz
	case c.InstructionsPerTick <= 0:
		return errZeroBudget
	case len(c.Processes) > proc.NProc-1:
		return errTooManyProcesses
	}

	for i, p := range c.Processes {
		switch {
		case p.Program == "":
			return kernel.Errorf("config", "process %d: missing program name", i+1)
		case p.UID < 0 || p.EUID < 0:
			return kernel.Errorf("config", "process %d: negative user id", i+1)
		}
	}
	return nil
}

// Save writes the configuration to path in YAML form.
func (c *Config) Save(path string) *kernel.Error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return kernel.Errorf("config", "failed to marshal config: %v", err)
	}

	if err = os.WriteFile(path, data, 0644); err != nil {
		return kernel.Errorf("config", "failed to write config: %v", err)
	}
	return nil
}
