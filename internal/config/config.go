// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/aibor/vcontainer/internal/protocol"
	"github.com/aibor/vcontainer/internal/sys"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// ConfigFileName is the name of the configuration file in the base
// directory.
const ConfigFileName = "config.yaml"

var instanceRE = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]*$`)

// Config is the effective configuration of a single invocation.
type Config struct {
	Runtime    Runtime
	Arch       sys.Arch
	Hypervisor Hypervisor

	// BaseDir holds the configuration file and the default state
	// directories, like "~/.vdkr".
	BaseDir string

	// StateDir is the state directory of the daemon instance.
	StateDir string
	Instance string

	BlobDir string

	// Agent is the guest agent binary added to the guest's initramfs. If
	// empty, the initramfs is expected to bring its own.
	Agent string

	Timeout     time.Duration
	IdleTimeout time.Duration

	AutoDaemon bool
	NoDaemon   bool
	Network    bool

	Registry           string
	InsecureRegistries []string
	SecureRegistries   []string

	Memory  uint64
	SMP     uint64
	NoKVM   bool
	Channel protocol.ChannelKind

	KeepLogs bool
	Verbose  bool
	Debug    bool

	// ConfigFile is the path of the configuration file in use.
	ConfigFile string
}

// Source describes where to load the configuration from.
type Source struct {
	// ProcessName is the name the binary was invoked as.
	ProcessName string

	// Flags are the parsed command line flags. Only changed flags take
	// precedence over the other layers.
	Flags *pflag.FlagSet

	// Home overrides the home directory, mainly for tests.
	Home string
}

// Load resolves the configuration once with the precedence explicit flag,
// process name, environment, configuration file and computed default.
func Load(src Source) (*Config, error) {
	if src.Flags == nil {
		src.Flags = pflag.NewFlagSet("empty", pflag.ContinueOnError)
	}

	home := src.Home
	if home == "" {
		var err error

		home, err = homedir.Dir()
		if err != nil {
			return nil, fmt.Errorf("home dir: %w", err)
		}
	}

	hint := ParseProcessName(src.ProcessName)

	cfg := &Config{
		Runtime: RuntimeDocker,
	}

	switch {
	case changed(src.Flags, KeyRuntime):
		runtime, err := ParseRuntime(src.Flags.Lookup(KeyRuntime).Value.String())
		if err != nil {
			return nil, err
		}

		cfg.Runtime = runtime
	case hint.Runtime != "":
		cfg.Runtime = hint.Runtime
	}

	cfg.BaseDir = filepath.Join(home, cfg.Runtime.BaseDirName())

	v, err := newViper(cfg, src.Flags)
	if err != nil {
		return nil, err
	}

	if err := cfg.resolve(v, src.Flags, hint); err != nil {
		return nil, err
	}

	return cfg, nil
}

func newViper(cfg *Config, flags *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()

	v.SetEnvPrefix(cfg.Runtime.EnvPrefix())
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault(KeyArch, sys.Native.String())
	v.SetDefault(KeyHypervisor, HypervisorQEMU.String())
	v.SetDefault(KeyBlobDir, filepath.Join(cfg.BaseDir, "blobs"))
	v.SetDefault(KeyTimeout, strconv.Itoa(int(DefaultTimeout.Seconds())))
	v.SetDefault(KeyIdleTimeout, strconv.Itoa(int(DefaultIdleTimeout.Seconds())))
	v.SetDefault(KeyAutoDaemon, true)
	v.SetDefault(KeyNetwork, true)
	v.SetDefault(KeyMemory, DefaultMemory)
	v.SetDefault(KeySMP, DefaultSMP)

	var bindErr error

	flags.VisitAll(func(flag *pflag.Flag) {
		bindErr = errors.Join(bindErr, v.BindPFlag(flag.Name, flag))
	})

	if bindErr != nil {
		return nil, fmt.Errorf("bind flags: %w", bindErr)
	}

	cfg.ConfigFile = v.GetString(KeyConfig)
	if cfg.ConfigFile == "" {
		cfg.ConfigFile = filepath.Join(cfg.BaseDir, ConfigFileName)
	}

	configFile, err := sys.AbsolutePath(cfg.ConfigFile)
	if err != nil {
		return nil, &ValueError{Key: KeyConfig, Value: cfg.ConfigFile, Err: err}
	}

	cfg.ConfigFile = configFile

	v.SetConfigFile(cfg.ConfigFile)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		slog.Debug("No config file", slog.String("path", cfg.ConfigFile))
	}

	return v, nil
}

func (c *Config) resolve(v *viper.Viper, flags *pflag.FlagSet, hint ProcessHint) error {
	archName := v.GetString(KeyArch)
	if !changed(flags, KeyArch) && hint.Arch != "" {
		archName = hint.Arch.String()
	}

	var errs []error

	collect := func(key string, err error) {
		if err != nil {
			errs = append(errs, &ValueError{Key: key, Value: v.GetString(key), Err: err})
		}
	}

	arch, err := sys.ParseArch(archName)
	if err != nil {
		errs = append(errs, &ValueError{Key: KeyArch, Value: archName, Err: err})
	}

	c.Arch = arch

	collect(KeyHypervisor, c.Hypervisor.Set(v.GetString(KeyHypervisor)))

	c.Timeout, err = ParseDuration(v.GetString(KeyTimeout))
	collect(KeyTimeout, err)

	c.IdleTimeout, err = ParseDuration(v.GetString(KeyIdleTimeout))
	collect(KeyIdleTimeout, err)

	c.Memory, err = memoryLimits.parse(v.GetString(KeyMemory))
	collect(KeyMemory, err)

	c.SMP, err = smpLimits.parse(v.GetString(KeySMP))
	collect(KeySMP, err)

	c.Channel, err = parseChannel(v.GetString(KeyChannel))
	collect(KeyChannel, err)

	c.Instance = v.GetString(KeyInstance)
	if c.Instance != "" && !instanceRE.MatchString(c.Instance) {
		collect(KeyInstance, ErrInvalidInstance)
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	c.AutoDaemon = v.GetBool(KeyAutoDaemon)
	c.NoDaemon = v.GetBool(KeyNoDaemon)
	c.Network = v.GetBool(KeyNetwork)
	c.NoKVM = v.GetBool(KeyNoKVM)
	c.KeepLogs = v.GetBool(KeyKeepLogs)
	c.Verbose = v.GetBool(KeyVerbose)
	c.Debug = v.GetBool(KeyDebug)
	c.Registry = strings.TrimSuffix(v.GetString(KeyRegistry), "/")
	c.InsecureRegistries = splitList(v.GetStringSlice(KeyInsecureRegistry))
	c.SecureRegistries = splitList(v.GetStringSlice(KeySecureRegistry))

	c.BlobDir, err = sys.AbsolutePath(v.GetString(KeyBlobDir))
	if err != nil {
		return &ValueError{Key: KeyBlobDir, Value: v.GetString(KeyBlobDir), Err: err}
	}

	if agent := v.GetString(KeyAgent); agent != "" {
		c.Agent, err = sys.AbsolutePath(agent)
		if err != nil {
			return &ValueError{Key: KeyAgent, Value: agent, Err: err}
		}
	}

	c.StateDir = c.DefaultStateDir(c.Arch)
	if stateDir := v.GetString(KeyStateDir); stateDir != "" {
		c.StateDir, err = sys.AbsolutePath(stateDir)
		if err != nil {
			return &ValueError{Key: KeyStateDir, Value: stateDir, Err: err}
		}
	}

	return c.Validate()
}

// Validate checks the configuration for conflicts between values.
func (c *Config) Validate() error {
	for _, secure := range c.SecureRegistries {
		for _, insecure := range c.InsecureRegistries {
			if registryHost(secure) == registryHost(insecure) {
				return fmt.Errorf("%w: %s", ErrRegistryConflict, registryHost(secure))
			}
		}
	}

	return nil
}

// DefaultStateDir returns the state directory for the given architecture
// and the configured instance.
func (c *Config) DefaultStateDir(arch sys.Arch) string {
	name := arch.KernelName()
	if c.Instance != "" {
		name += "-" + c.Instance
	}

	return filepath.Join(c.BaseDir, name)
}

// StateImage returns the path of the persistent state image.
func (c *Config) StateImage() string {
	return filepath.Join(c.StateDir, c.Runtime.StateImageName())
}

// LegacyStateImage returns the path of the persistent state image as named
// by earlier versions.
func (c *Config) LegacyStateImage() string {
	return filepath.Join(c.StateDir, LegacyStateImageName)
}

// Values returns the effective values of the persisted keys, formatted like
// they are stored.
func (c *Config) Values() map[string]string {
	return map[string]string{
		KeyArch:             c.Arch.KernelName(),
		KeyHypervisor:       c.Hypervisor.String(),
		KeyBlobDir:          c.BlobDir,
		KeyAgent:            c.Agent,
		KeyTimeout:          strconv.Itoa(int(c.Timeout.Seconds())),
		KeyIdleTimeout:      strconv.Itoa(int(c.IdleTimeout.Seconds())),
		KeyAutoDaemon:       strconv.FormatBool(c.AutoDaemon),
		KeyNetwork:          strconv.FormatBool(c.Network),
		KeyRegistry:         c.Registry,
		KeyInsecureRegistry: strings.Join(c.InsecureRegistries, ","),
		KeyMemory:           strconv.FormatUint(c.Memory, 10),
		KeySMP:              strconv.FormatUint(c.SMP, 10),
		KeyChannel:          string(c.Channel),
	}
}

// splitList splits comma separated entries as used in environment variables
// and the configuration file.
func splitList(values []string) []string {
	var list []string

	for _, value := range values {
		for _, entry := range strings.Split(value, ",") {
			if entry = strings.TrimSpace(entry); entry != "" {
				list = append(list, entry)
			}
		}
	}

	return list
}

func registryHost(registry string) string {
	host, _, _ := strings.Cut(registry, "/")
	return host
}

func changed(flags *pflag.FlagSet, name string) bool {
	flag := flags.Lookup(name)
	return flag != nil && flag.Changed
}
