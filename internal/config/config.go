// Package config loads the daemon configuration from YAML or JSON with
// strict decoding (unknown fields are errors) and supports hot reload
// through a filesystem watcher.
package config

import (
	"time"

	"recurd/internal/dispatch"
	"recurd/internal/store"
	"recurd/pkg/logx"
)

type Config struct {
	Log       LogConfig       `json:"log"`
	Storage   StorageConfig   `json:"storage"`
	Dispatch  DispatchConfig  `json:"dispatch"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Form      FormConfig      `json:"form"`
}

type LogConfig struct {
	Level       string `json:"level"`
	Console     bool   `json:"console"`
	FileEnabled bool   `json:"file_enabled"`
	FilePath    string `json:"file_path"`
}

type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout"`
}

type DispatchConfig struct {
	Command       string   `json:"command"`
	Args          []string `json:"args"`
	Timeout       string   `json:"timeout"`
	RetryMax      int      `json:"retry_max"`
	RetryBase     string   `json:"retry_base"`
	RetryMaxDelay string   `json:"retry_max_delay"`
	RetryJitter   float64  `json:"retry_jitter"`
	RatePerSec    float64  `json:"rate_per_sec"`
}

type SchedulerConfig struct {
	AskTimeout string `json:"ask_timeout"`
}

type FormConfig struct {
	Timeout string `json:"timeout"`
}

func Default() *Config {
	return &Config{
		Log:     LogConfig{Level: "info", Console: true},
		Storage: StorageConfig{Driver: "sqlite", Path: "recurd.db", BusyTimeout: "5s"},
		Dispatch: DispatchConfig{
			RetryBase:     "500ms",
			RetryMaxDelay: "15s",
			RetryJitter:   0.2,
		},
	}
}

func (c *Config) LogOptions() logx.Config {
	return logx.Config{
		Level:   c.Log.Level,
		Console: c.Log.Console,
		File:    logx.FileConfig{Enabled: c.Log.FileEnabled, Path: c.Log.FilePath},
	}
}

func (c *Config) StoreOptions() (store.Config, error) {
	busy, err := ParseDurationOrDefault("storage.busy_timeout", c.Storage.BusyTimeout, 5*time.Second)
	if err != nil {
		return store.Config{}, err
	}
	return store.Config{
		Driver:      c.Storage.Driver,
		Path:        c.Storage.Path,
		BusyTimeout: busy,
	}, nil
}

func (c *Config) DispatchOptions() (dispatch.Config, error) {
	timeout, err := ParseDurationField("dispatch.timeout", c.Dispatch.Timeout)
	if err != nil {
		return dispatch.Config{}, err
	}
	base, err := ParseDurationOrDefault("dispatch.retry_base", c.Dispatch.RetryBase, 500*time.Millisecond)
	if err != nil {
		return dispatch.Config{}, err
	}
	maxDelay, err := ParseDurationOrDefault("dispatch.retry_max_delay", c.Dispatch.RetryMaxDelay, 15*time.Second)
	if err != nil {
		return dispatch.Config{}, err
	}
	return dispatch.Config{
		Timeout:       timeout,
		RetryMax:      c.Dispatch.RetryMax,
		RetryBase:     base,
		RetryMaxDelay: maxDelay,
		RetryJitter:   c.Dispatch.RetryJitter,
		RatePerSec:    c.Dispatch.RatePerSec,
	}, nil
}

func (c *Config) AskTimeout() (time.Duration, error) {
	if c.Scheduler.AskTimeout != "" {
		return ParseDurationField("scheduler.ask_timeout", c.Scheduler.AskTimeout)
	}
	return ParseDurationField("form.timeout", c.Form.Timeout)
}
