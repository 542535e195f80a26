package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

const templateHeader = `# xspressctl configuration.
# Durations use Go syntax (500ms, 1s, 2m). Omitted keys keep their defaults.

`

func toFile(c Config) fileConfig {
	return fileConfig{
		Name:           c.Name,
		Endpoint:       c.Endpoint,
		HTTPAddr:       c.HTTPAddr,
		CorsOrigins:    c.CorsOrigins,
		Metrics:        c.Metrics,
		LogLevel:       c.LogLevel,
		APIToken:       c.APIToken,
		NumCards:       c.NumCards,
		NumTF:          c.NumTF,
		BaseIP:         c.BaseIP,
		MaxChannels:    c.MaxChannels,
		MaxSpectra:     c.MaxSpectra,
		SettingsPath:   c.SettingsPath,
		RunFlags:       c.RunFlags,
		Debug:          c.Debug,
		DAQEndpoints:   c.DAQEndpoints,
		NumProcessMCA:  c.NumProcessMCA,
		NumProcessList: c.NumProcessList,
		WorkerHost:     c.WorkerHost,
		PollInterval:   c.PollInterval.String(),
		RPCTimeout:     c.RPCTimeout.String(),
		ConnectTimeout: c.ConnectTimeout.String(),
		SettleTime:     c.SettleTime.String(),
	}
}

// Template renders c as a complete configuration file.
func Template(c Config) (string, error) {
	fc := toFile(c)
	if fc.DAQEndpoints == nil {
		fc.DAQEndpoints = []string{}
	}
	out, err := toml.Marshal(fc)
	if err != nil {
		return "", fmt.Errorf("config: render template: %w", err)
	}
	return templateHeader + string(out), nil
}

// WriteTemplate writes the default configuration to path.
func WriteTemplate(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config: %s already exists", path)
		}
	}
	text, err := Template(Default())
	if err != nil {
		return err
	}
	return os.WriteFile(path, []byte(text), 0o600)
}
