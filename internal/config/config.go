// Package config loads the xspressctl TOML configuration file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

var ErrInvalidConfig = errors.New("config: invalid")

// Config is the resolved configuration for every xspressctl command.
type Config struct {
	Name        string
	Endpoint    string
	HTTPAddr    string
	CorsOrigins []string
	Metrics     bool
	LogLevel    string
	// APIToken guards HTTP writes when set.
	APIToken string

	NumCards     int
	NumTF        int
	BaseIP       string
	MaxChannels  int
	MaxSpectra   int
	SettingsPath string
	RunFlags     int
	Debug        int
	DAQEndpoints []string

	NumProcessMCA  int
	NumProcessList int
	WorkerHost     string
	PollInterval   time.Duration
	RPCTimeout     time.Duration
	ConnectTimeout time.Duration
	SettleTime     time.Duration
}

func Default() Config {
	return Config{
		Name:           "xspressctl",
		Endpoint:       "127.0.0.1:12000",
		HTTPAddr:       ":8888",
		CorsOrigins:    []string{"http://localhost:3000"},
		Metrics:        true,
		LogLevel:       "info",
		NumCards:       1,
		NumTF:          16384,
		BaseIP:         "192.168.0.1",
		MaxChannels:    9,
		MaxSpectra:     4096,
		SettingsPath:   "/etc/xspress/settings",
		NumProcessMCA:  9,
		NumProcessList: 8,
		WorkerHost:     "127.0.0.1",
		PollInterval:   500 * time.Millisecond,
		RPCTimeout:     time.Second,
		ConnectTimeout: 20 * time.Second,
		SettleTime:     time.Second,
	}
}

// fileConfig mirrors the on-disk keys. Durations are Go duration strings.
type fileConfig struct {
	Name           string   `toml:"name"`
	Endpoint       string   `toml:"endpoint"`
	HTTPAddr       string   `toml:"http_addr"`
	CorsOrigins    []string `toml:"cors_origins"`
	Metrics        bool     `toml:"metrics"`
	LogLevel       string   `toml:"log_level"`
	APIToken       string   `toml:"api_token"`
	NumCards       int      `toml:"num_cards"`
	NumTF          int      `toml:"num_tf"`
	BaseIP         string   `toml:"base_ip"`
	MaxChannels    int      `toml:"max_channels"`
	MaxSpectra     int      `toml:"max_spectra"`
	SettingsPath   string   `toml:"settings_path"`
	RunFlags       int      `toml:"run_flags"`
	Debug          int      `toml:"debug"`
	DAQEndpoints   []string `toml:"daq_endpoints"`
	NumProcessMCA  int      `toml:"num_process_mca"`
	NumProcessList int      `toml:"num_process_list"`
	WorkerHost     string   `toml:"worker_host"`
	PollInterval   string   `toml:"poll_interval"`
	RPCTimeout     string   `toml:"rpc_timeout"`
	ConnectTimeout string   `toml:"connect_timeout"`
	SettleTime     string   `toml:"settle_time"`
}

// Load reads path over Default. Only keys present in the file override.
func Load(path string) (Config, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("config: load %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return Config{}, fmt.Errorf("%w: unknown keys %s", ErrInvalidConfig, strings.Join(keys, ", "))
	}

	str := func(key string, dst *string, v string) {
		if meta.IsDefined(key) {
			*dst = strings.TrimSpace(v)
		}
	}
	num := func(key string, dst *int, v int) {
		if meta.IsDefined(key) {
			*dst = v
		}
	}
	list := func(key string, dst *[]string, v []string) {
		if meta.IsDefined(key) {
			*dst = normalizeList(v)
		}
	}
	dur := func(key string, dst *time.Duration, v string) error {
		if !meta.IsDefined(key) {
			return nil
		}
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%w: parse %s: %v", ErrInvalidConfig, key, err)
		}
		*dst = d
		return nil
	}

	str("name", &cfg.Name, raw.Name)
	str("endpoint", &cfg.Endpoint, raw.Endpoint)
	str("http_addr", &cfg.HTTPAddr, raw.HTTPAddr)
	list("cors_origins", &cfg.CorsOrigins, raw.CorsOrigins)
	if meta.IsDefined("metrics") {
		cfg.Metrics = raw.Metrics
	}
	str("log_level", &cfg.LogLevel, raw.LogLevel)
	str("api_token", &cfg.APIToken, raw.APIToken)
	num("num_cards", &cfg.NumCards, raw.NumCards)
	num("num_tf", &cfg.NumTF, raw.NumTF)
	str("base_ip", &cfg.BaseIP, raw.BaseIP)
	num("max_channels", &cfg.MaxChannels, raw.MaxChannels)
	num("max_spectra", &cfg.MaxSpectra, raw.MaxSpectra)
	str("settings_path", &cfg.SettingsPath, raw.SettingsPath)
	num("run_flags", &cfg.RunFlags, raw.RunFlags)
	num("debug", &cfg.Debug, raw.Debug)
	list("daq_endpoints", &cfg.DAQEndpoints, raw.DAQEndpoints)
	num("num_process_mca", &cfg.NumProcessMCA, raw.NumProcessMCA)
	num("num_process_list", &cfg.NumProcessList, raw.NumProcessList)
	str("worker_host", &cfg.WorkerHost, raw.WorkerHost)
	if err := errors.Join(
		dur("poll_interval", &cfg.PollInterval, raw.PollInterval),
		dur("rpc_timeout", &cfg.RPCTimeout, raw.RPCTimeout),
		dur("connect_timeout", &cfg.ConnectTimeout, raw.ConnectTimeout),
		dur("settle_time", &cfg.SettleTime, raw.SettleTime),
	); err != nil {
		return Config{}, err
	}

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func Validate(cfg Config) error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
		}
	}
	check(strings.TrimSpace(cfg.Endpoint) != "", "endpoint is required")
	check(strings.TrimSpace(cfg.HTTPAddr) != "", "http_addr is required")
	check(cfg.NumCards > 0, "num_cards must be positive, got %d", cfg.NumCards)
	check(cfg.MaxChannels > 0, "max_channels must be positive, got %d", cfg.MaxChannels)
	check(cfg.MaxSpectra > 0, "max_spectra must be positive, got %d", cfg.MaxSpectra)
	check(cfg.NumProcessMCA > 0, "num_process_mca must be positive, got %d", cfg.NumProcessMCA)
	check(cfg.NumProcessList > 0, "num_process_list must be positive, got %d", cfg.NumProcessList)
	check(cfg.PollInterval >= time.Millisecond, "poll_interval must be at least 1ms, got %s", cfg.PollInterval)
	check(cfg.RPCTimeout > 0, "rpc_timeout must be positive, got %s", cfg.RPCTimeout)
	check(cfg.ConnectTimeout > 0, "connect_timeout must be positive, got %s", cfg.ConnectTimeout)
	check(cfg.SettleTime >= 0, "settle_time must not be negative, got %s", cfg.SettleTime)
	return errors.Join(errs...)
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
