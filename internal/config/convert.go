package config

import (
	"github.com/danmuck/xspressctl/internal/detector"
)

// Detector returns the controller wiring for cfg.
func (c Config) Detector() detector.Config {
	d := detector.DefaultConfig()
	d.Endpoint = c.Endpoint
	d.NumProcessMCA = c.NumProcessMCA
	d.NumProcessList = c.NumProcessList
	d.PollInterval = c.PollInterval
	d.SettleMCA = c.SettleTime
	d.SettleList = c.SettleTime
	d.WorkerHost = c.WorkerHost
	d.Session.RequestTimeout = c.RPCTimeout
	d.Session.ConnectTimeout = c.ConnectTimeout
	return d
}

// ConfigureParams returns the detector topology described by cfg.
func (c Config) ConfigureParams() detector.ConfigureParams {
	return detector.ConfigureParams{
		NumCards:     c.NumCards,
		NumTF:        c.NumTF,
		BaseIP:       c.BaseIP,
		MaxChannels:  c.MaxChannels,
		MaxSpectra:   c.MaxSpectra,
		SettingsPath: c.SettingsPath,
		RunFlags:     c.RunFlags,
		Debug:        c.Debug,
		DAQEndpoints: append([]string(nil), c.DAQEndpoints...),
	}
}
