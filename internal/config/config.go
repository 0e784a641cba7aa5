package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type RootConfig struct {
	ActiveConfig string             `mapstructure:"active_config" yaml:"active_config"`
	Configs      map[string]*Config `mapstructure:"configs" yaml:"configs"`
}

type Config struct {
	Audio   AudioConfig   `mapstructure:"audio" yaml:"audio"`
	Buffer  BufferConfig  `mapstructure:"buffer" yaml:"buffer"`
	Session SessionConfig `mapstructure:"session" yaml:"session"`
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`
	Input   InputConfig   `mapstructure:"input" yaml:"input"`
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Diag    DiagConfig    `mapstructure:"diag" yaml:"diag"`

	// Internal field to track inheritance information for info command
	Inheritance *InheritanceInfo `mapstructure:"-" yaml:"-"`
}

type AudioConfig struct {
	SampleRate      int           `mapstructure:"sample_rate" yaml:"sample_rate"`
	BitsPerSample   int           `mapstructure:"bits_per_sample" yaml:"bits_per_sample"`
	Channels        int           `mapstructure:"channels" yaml:"channels"`
	PlaybackDivider int           `mapstructure:"playback_divider" yaml:"playback_divider"` // trigger ticks per emitted sample
	Source          string        `mapstructure:"source" yaml:"source"`                     // "tone", "ramp", "silence"
	ToneHz          float64       `mapstructure:"tone_hz" yaml:"tone_hz"`
	Sink            string        `mapstructure:"sink" yaml:"sink"`       // "oto", "null", "auto"
	Quantum         time.Duration `mapstructure:"quantum" yaml:"quantum"` // trigger goroutine wake interval
}

type BufferConfig struct {
	PageSize        int  `mapstructure:"page_size" yaml:"page_size"`
	StrictAlignment bool `mapstructure:"strict_alignment" yaml:"strict_alignment"`
}

type SessionConfig struct {
	PageBudget int    `mapstructure:"page_budget" yaml:"page_budget"`
	FileName   string `mapstructure:"file_name" yaml:"file_name"`
}

type StorageConfig struct {
	Directory string `mapstructure:"directory" yaml:"directory"`
}

type InputConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	Keys         KeyMap        `mapstructure:"keys" yaml:"keys"`
}

// KeyMap assigns terminal keys to the three buttons.
type KeyMap struct {
	Play   string `mapstructure:"play" yaml:"play"`
	Record string `mapstructure:"record" yaml:"record"`
	Stop   string `mapstructure:"stop" yaml:"stop"`
}

type ServerConfig struct {
	Port string `mapstructure:"port" yaml:"port"`
}

type DiagConfig struct {
	OverrunInterval time.Duration `mapstructure:"overrun_interval" yaml:"overrun_interval"`
	OverrunBurst    int           `mapstructure:"overrun_burst" yaml:"overrun_burst"`
}

type InheritanceInfo struct {
	Fields map[string]string // dotted key -> "inherited" or "profile-specific"
}

var defaultConfig = Config{
	Audio: AudioConfig{
		SampleRate:      15625,
		BitsPerSample:   8,
		Channels:        1,
		PlaybackDivider: 2,
		Source:          "tone",
		ToneHz:          440,
		Sink:            "auto",
		Quantum:         time.Millisecond,
	},
	Buffer: BufferConfig{
		PageSize: 512,
	},
	Session: SessionConfig{
		PageBudget: 305, // ~10 s at 15.625 kHz
		FileName:   "EGB240.WAV",
	},
	Storage: StorageConfig{
		Directory: filepath.Join(os.Getenv("HOME"), "Audio", "PageDVR"),
	},
	Input: InputConfig{
		PollInterval: 10 * time.Millisecond,
		Keys:         KeyMap{Play: "1", Record: "2", Stop: "3"},
	},
	Server: ServerConfig{
		Port: "8080",
	},
	Diag: DiagConfig{
		OverrunInterval: time.Second,
		OverrunBurst:    3,
	},
}

// Default returns a copy of the built-in configuration.
func Default() *Config {
	c := defaultConfig
	return &c
}

func LoadWithProfile(configFile, profile string) (*Config, error) {
	if configFile == "" {
		return nil, fmt.Errorf("no config file specified, use --config flag")
	}

	rootConfig, err := ValidateConfigurationFormat(configFile)
	if err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	// Determine which config to use
	configName := profile
	if configName == "" {
		configName = rootConfig.ActiveConfig
	}
	if configName == "" {
		configName = "default"
	}

	selected, exists := rootConfig.Configs[configName]
	if !exists {
		return nil, fmt.Errorf("configuration profile '%s' not found", configName)
	}

	// Built-in values fill whatever the default profile leaves out, and the
	// default profile fills whatever the selected one leaves out.
	base := mergeConfigs(Default(), rootConfig.Configs["default"])
	if configName != "default" {
		selected = mergeConfigs(base, selected)
	} else {
		selected = base
	}

	selected.Storage.Directory = expandPath(selected.Storage.Directory)

	if err := Validate(selected); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return selected, nil
}

// UpdateActiveConfig updates the active_config field in the config file
func UpdateActiveConfig(configFile, newActiveConfig string) error {
	if configFile == "" {
		return fmt.Errorf("no config file specified")
	}

	// Create a new viper instance to avoid interfering with the global one
	v := viper.New()
	v.SetConfigFile(configFile)

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	configs := v.GetStringMap("configs")
	if _, ok := configs[newActiveConfig]; !ok {
		return fmt.Errorf("configuration profile '%s' not found", newActiveConfig)
	}

	v.Set("active_config", newActiveConfig)

	if err := v.WriteConfig(); err != nil {
		return fmt.Errorf("error writing config file %s: %w", configFile, err)
	}

	return nil
}

// mergeConfigs overlays every non-zero profile value on base and records
// which fields came from where.
func mergeConfigs(base, profile *Config) *Config {
	result := &Config{}
	if base != nil {
		*result = *base
	}
	result.Inheritance = &InheritanceInfo{Fields: make(map[string]string)}
	mark := func(key string, override bool) {
		if override {
			result.Inheritance.Fields[key] = "profile-specific"
		} else {
			result.Inheritance.Fields[key] = "inherited"
		}
	}

	if profile == nil {
		profile = &Config{}
	}

	mark("audio.sample_rate", overrideInt(&result.Audio.SampleRate, profile.Audio.SampleRate))
	mark("audio.bits_per_sample", overrideInt(&result.Audio.BitsPerSample, profile.Audio.BitsPerSample))
	mark("audio.channels", overrideInt(&result.Audio.Channels, profile.Audio.Channels))
	mark("audio.playback_divider", overrideInt(&result.Audio.PlaybackDivider, profile.Audio.PlaybackDivider))
	mark("audio.source", overrideString(&result.Audio.Source, profile.Audio.Source))
	mark("audio.sink", overrideString(&result.Audio.Sink, profile.Audio.Sink))
	mark("audio.quantum", overrideDuration(&result.Audio.Quantum, profile.Audio.Quantum))
	if profile.Audio.ToneHz != 0 {
		result.Audio.ToneHz = profile.Audio.ToneHz
	}
	mark("audio.tone_hz", profile.Audio.ToneHz != 0)

	mark("buffer.page_size", overrideInt(&result.Buffer.PageSize, profile.Buffer.PageSize))
	// Strict alignment is opt-in: a profile can only switch it on.
	if profile.Buffer.StrictAlignment {
		result.Buffer.StrictAlignment = true
	}
	mark("buffer.strict_alignment", profile.Buffer.StrictAlignment)

	mark("session.page_budget", overrideInt(&result.Session.PageBudget, profile.Session.PageBudget))
	mark("session.file_name", overrideString(&result.Session.FileName, profile.Session.FileName))
	mark("storage.directory", overrideString(&result.Storage.Directory, profile.Storage.Directory))

	mark("input.poll_interval", overrideDuration(&result.Input.PollInterval, profile.Input.PollInterval))
	mark("input.keys.play", overrideString(&result.Input.Keys.Play, profile.Input.Keys.Play))
	mark("input.keys.record", overrideString(&result.Input.Keys.Record, profile.Input.Keys.Record))
	mark("input.keys.stop", overrideString(&result.Input.Keys.Stop, profile.Input.Keys.Stop))

	mark("server.port", overrideString(&result.Server.Port, profile.Server.Port))
	mark("diag.overrun_interval", overrideDuration(&result.Diag.OverrunInterval, profile.Diag.OverrunInterval))
	mark("diag.overrun_burst", overrideInt(&result.Diag.OverrunBurst, profile.Diag.OverrunBurst))

	return result
}

func overrideInt(dst *int, v int) bool {
	if v == 0 {
		return false
	}
	*dst = v
	return true
}

func overrideString(dst *string, v string) bool {
	if v == "" {
		return false
	}
	*dst = v
	return true
}

func overrideDuration(dst *time.Duration, v time.Duration) bool {
	if v == 0 {
		return false
	}
	*dst = v
	return true
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

// Validate checks a resolved configuration.
func Validate(c *Config) error {
	if c.Audio.SampleRate <= 0 {
		return fmt.Errorf("audio.sample_rate must be > 0, got: %d", c.Audio.SampleRate)
	}
	if c.Audio.BitsPerSample != 8 {
		return fmt.Errorf("audio.bits_per_sample must be 8, got: %d", c.Audio.BitsPerSample)
	}
	if c.Audio.Channels != 1 {
		return fmt.Errorf("audio.channels must be 1, got: %d", c.Audio.Channels)
	}
	if c.Audio.PlaybackDivider < 1 {
		return fmt.Errorf("audio.playback_divider must be >= 1, got: %d", c.Audio.PlaybackDivider)
	}
	if c.Audio.Quantum <= 0 {
		return fmt.Errorf("audio.quantum must be > 0, got: %s", c.Audio.Quantum)
	}

	if c.Buffer.PageSize <= 0 {
		return fmt.Errorf("buffer.page_size must be > 0, got: %d", c.Buffer.PageSize)
	}

	if c.Session.PageBudget < 1 {
		return fmt.Errorf("session.page_budget must be >= 1, got: %d", c.Session.PageBudget)
	}
	if c.Session.FileName == "" {
		return fmt.Errorf("session.file_name is required")
	}
	if strings.ContainsAny(c.Session.FileName, `/\`) {
		return fmt.Errorf("session.file_name must be a bare file name, got: %s", c.Session.FileName)
	}

	if c.Storage.Directory == "" {
		return fmt.Errorf("storage.directory is required")
	}

	if c.Input.PollInterval <= 0 {
		return fmt.Errorf("input.poll_interval must be > 0, got: %s", c.Input.PollInterval)
	}
	keys := map[string]string{}
	for name, key := range map[string]string{"play": c.Input.Keys.Play, "record": c.Input.Keys.Record, "stop": c.Input.Keys.Stop} {
		if len(key) != 1 {
			return fmt.Errorf("input.keys.%s must be a single character, got: %q", name, key)
		}
		if other, dup := keys[key]; dup {
			return fmt.Errorf("input.keys.%s and input.keys.%s share key %q", name, other, key)
		}
		keys[key] = name
	}

	if c.Diag.OverrunBurst < 0 {
		return fmt.Errorf("diag.overrun_burst must be >= 0, got: %d", c.Diag.OverrunBurst)
	}

	return nil
}

// ValidateConfigurationFormat validates the configuration file format and returns parsed config
func ValidateConfigurationFormat(configFile string) (*RootConfig, error) {
	v := viper.New()
	v.SetConfigFile(configFile)

	v.SetEnvPrefix("PAGEDVR")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	var rootConfig RootConfig
	if err := v.Unmarshal(&rootConfig); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if len(rootConfig.Configs) == 0 {
		return nil, fmt.Errorf("configs section is required and cannot be empty")
	}
	for name, profile := range rootConfig.Configs {
		if profile == nil {
			return nil, fmt.Errorf("config '%s' is empty", name)
		}
		if profile.Session.PageBudget < 0 {
			return nil, fmt.Errorf("invalid config '%s': session.page_budget must be >= 0, got %d", name, profile.Session.PageBudget)
		}
		if profile.Buffer.PageSize < 0 {
			return nil, fmt.Errorf("invalid config '%s': buffer.page_size must be >= 0, got %d", name, profile.Buffer.PageSize)
		}
	}

	return &rootConfig, nil
}

// GetInheritance reports where a resolved field came from.
func (c *Config) GetInheritance(key string) string {
	if c.Inheritance == nil {
		return ""
	}
	return c.Inheritance.Fields[key]
}
