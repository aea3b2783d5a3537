package config

import (
	"encoding/binary"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"time"

	"github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v2"

	"github.com/go-delve/tele/pkg/proc"
)

const (
	configDir  string = "tele"
	configFile string = "config.yml"
)

// Config defines all configuration options available to be set through the config file.
type Config struct {
	// Commands aliases.
	Aliases map[string][]string `yaml:"aliases"`

	// WaitTimeout is the default timeout of the continue and wait
	// commands, zero waits forever.
	WaitTimeout time.Duration `yaml:"wait-timeout,omitempty"`

	// BootHeapCandidates is the number of system calls inspected while
	// looking for the boot heap mapping.
	BootHeapCandidates *int `yaml:"boot-heap-candidates,omitempty"`
	// BootHeapMaxInstructions bounds the number of instructions stepped
	// while looking for the boot heap mapping.
	BootHeapMaxInstructions *int `yaml:"boot-heap-max-instructions,omitempty"`

	// InterceptFaults lists the faults that stop the target, if unset the
	// default set is used.
	InterceptFaults []string `yaml:"intercept-faults,omitempty"`
	// InterceptSignals lists the signal numbers that stop the target.
	InterceptSignals []int `yaml:"intercept-signals,omitempty"`
	// InterceptSyscalls stops the target at every system call entry and exit.
	InterceptSyscalls bool `yaml:"intercept-syscalls"`

	// PageCacheSize is the number of pages cached while the target is
	// stopped, a negative value disables the cache.
	PageCacheSize *int `yaml:"page-cache-size,omitempty"`

	// DisableASLR disables address space randomization of launched targets.
	DisableASLR bool `yaml:"disable-aslr"`

	// ThreadLocals describes the thread-locals list of the managed runtime
	// for images that do not publish it.
	ThreadLocals *ThreadLocalsConfig `yaml:"thread-locals,omitempty"`
}

// ThreadLocalsConfig is the configuration file form of proc.ThreadLocalsLayout.
type ThreadLocalsConfig struct {
	ListHead   uint64 `yaml:"list-head"`
	WordSize   int    `yaml:"word-size"`
	ByteOrder  string `yaml:"byte-order,omitempty"` // "little" or "big", defaults to the target's
	MaxThreads int    `yaml:"max-threads,omitempty"`

	ID        int  `yaml:"id"`
	Handle    int  `yaml:"handle"`
	StackBase int  `yaml:"stack-base"`
	StackSize int  `yaml:"stack-size"`
	Next      int  `yaml:"next"`
	Prev      *int `yaml:"prev,omitempty"`
}

// TargetConfig converts the configuration into the options of a new target.
func (c *Config) TargetConfig() (proc.TargetConfig, error) {
	cfg := proc.DefaultTargetConfig()
	if c == nil {
		return cfg, nil
	}
	if c.InterceptFaults != nil {
		faults, err := proc.ParseFaultSet(c.InterceptFaults)
		if err != nil {
			return cfg, fmt.Errorf("intercept-faults: %w", err)
		}
		cfg.Interception.Faults = faults
	}
	cfg.Interception.Signals = proc.NewSignalSet(c.InterceptSignals...)
	cfg.Interception.Syscalls = c.InterceptSyscalls
	if c.BootHeapCandidates != nil {
		if *c.BootHeapCandidates <= 0 {
			return cfg, fmt.Errorf("boot-heap-candidates must be positive, got %d", *c.BootHeapCandidates)
		}
		cfg.BootHeapCandidates = *c.BootHeapCandidates
	}
	if c.BootHeapMaxInstructions != nil {
		if *c.BootHeapMaxInstructions <= 0 {
			return cfg, fmt.Errorf("boot-heap-max-instructions must be positive, got %d", *c.BootHeapMaxInstructions)
		}
		cfg.BootHeapMaxInstructions = *c.BootHeapMaxInstructions
	}
	if c.PageCacheSize != nil {
		cfg.PageCacheSize = *c.PageCacheSize
		if cfg.PageCacheSize < 0 {
			cfg.PageCacheSize = 0
		}
	}
	return cfg, nil
}

// ThreadLocalsLayout returns the configured thread-locals layout, ok is
// false when none is configured.
func (c *Config) ThreadLocalsLayout() (layout proc.ThreadLocalsLayout, ok bool, err error) {
	if c == nil || c.ThreadLocals == nil {
		return layout, false, nil
	}
	tl := c.ThreadLocals
	layout = proc.ThreadLocalsLayout{
		ListHead:   tl.ListHead,
		WordSize:   tl.WordSize,
		MaxThreads: tl.MaxThreads,
		Slots: proc.ThreadLocalSlots{
			ID:        tl.ID,
			Handle:    tl.Handle,
			StackBase: tl.StackBase,
			StackSize: tl.StackSize,
			Next:      tl.Next,
			Prev:      -1,
		},
	}
	if tl.Prev != nil {
		layout.Slots.Prev = *tl.Prev
	}
	switch tl.ByteOrder {
	case "":
	case "little":
		layout.ByteOrder = binary.LittleEndian
	case "big":
		layout.ByteOrder = binary.BigEndian
	default:
		return layout, false, fmt.Errorf("thread-locals: unknown byte order %q", tl.ByteOrder)
	}
	if tl.WordSize != 4 && tl.WordSize != 8 {
		return layout, false, fmt.Errorf("thread-locals: word-size must be 4 or 8, got %d", tl.WordSize)
	}
	return layout, true, nil
}

// LoadConfig attempts to populate a Config object from the config.yml file.
func LoadConfig() (*Config, error) {
	err := createConfigPath()
	if err != nil {
		return &Config{}, fmt.Errorf("could not create config directory: %v", err)
	}
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		return &Config{}, fmt.Errorf("unable to get config file path: %v", err)
	}
	return loadConfigFile(fullConfigFile)
}

func loadConfigFile(fullConfigFile string) (*Config, error) {
	f, err := os.Open(fullConfigFile)
	if err != nil {
		f, err = createDefaultConfig(fullConfigFile)
		if err != nil {
			return &Config{}, fmt.Errorf("error creating default config file: %v", err)
		}
	}
	defer f.Close()

	data, err := ioutil.ReadAll(f)
	if err != nil {
		return &Config{}, fmt.Errorf("unable to read config data: %v", err)
	}

	var c Config
	err = yaml.Unmarshal(data, &c)
	if err != nil {
		return &Config{}, fmt.Errorf("unable to decode config file: %v", err)
	}

	return &c, nil
}

// SaveConfig will marshal and save the config struct
// to disk.
func SaveConfig(conf *Config) error {
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		return err
	}

	out, err := yaml.Marshal(*conf)
	if err != nil {
		return err
	}

	f, err := os.Create(fullConfigFile)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(out)
	return err
}

func createDefaultConfig(path string) (*os.File, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("unable to create config file: %v", err)
	}
	err = writeDefaultConfig(f)
	if err != nil {
		return nil, fmt.Errorf("unable to write default configuration: %v", err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		return nil, err
	}
	return f, nil
}

func writeDefaultConfig(f *os.File) error {
	_, err := f.WriteString(
		`# Configuration file for tele.

# This is the default configuration file. Available options are provided, but disabled.
# Delete the leading hash mark to enable an item.

# Provided aliases will be added to the default aliases for a given command.
aliases:
  # command: ["alias1", "alias2"]

# Default timeout of the continue and wait commands, unset waits forever.
# wait-timeout: 10s

# Faults that stop the target, the others are delivered to it.
# intercept-faults: [illegal, privileged, breakpoint, trace, stack, watchpoint]

# Signal numbers that stop the target.
# intercept-signals: [10, 12]

# Stop at every system call entry and exit.
# intercept-syscalls: false

# Number of system calls and instructions inspected by bootheap.
# boot-heap-candidates: 16
# boot-heap-max-instructions: 1048576

# Number of target pages cached while the target is stopped, -1 disables the cache.
# page-cache-size: 64

# Launch targets with address space randomization disabled.
# disable-aslr: false

# Thread-locals list of the managed runtime, used by the tls command.
# thread-locals:
#   list-head: 0x0
#   word-size: 8
#   id: 0
#   handle: 8
#   stack-base: 16
#   stack-size: 24
#   next: 32
#   prev: 40
`)
	return err
}

// createConfigPath creates the directory structure at which all config files are saved.
func createConfigPath() error {
	path, err := GetConfigFilePath("")
	if err != nil {
		return err
	}
	return os.MkdirAll(path, 0700)
}

// GetConfigFilePath gets the full path to the given config file name.
// The directory is $XDG_CONFIG_HOME/tele, or ~/.config/tele when
// XDG_CONFIG_HOME is not set.
func GetConfigFilePath(file string) (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, configDir, file), nil
	}
	userHomeDir, err := homedir.Dir()
	if err != nil {
		userHomeDir = "."
	}
	return filepath.Join(userHomeDir, ".config", configDir, file), nil
}
