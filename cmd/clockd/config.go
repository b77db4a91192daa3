package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/homeclock/clockd/internal/engine"
)

// Config represents the configuration file structure
type Config struct {
	Paths struct {
		ConfigDir string `yaml:"config_dir"`
		CacheDir  string `yaml:"cache_dir"`
		SoundsDir string `yaml:"sounds_dir"`
	} `yaml:"paths"`

	Weather struct {
		BaseURL       string `yaml:"base_url"`
		IntervalHours int    `yaml:"interval_hours"`
		CheckMinutes  int    `yaml:"check_minutes"`
	} `yaml:"weather"`

	Sensor struct {
		Pin        int      `yaml:"pin"`
		ActiveLow  *bool    `yaml:"active_low"`
		Drivers    []string `yaml:"drivers"`
		Simulate   *bool    `yaml:"simulate"`
		IntervalMS int      `yaml:"interval_ms"`
	} `yaml:"sensor"`

	Audio struct {
		Devices      []string `yaml:"devices"`
		Detect       *bool    `yaml:"detect"`
		StartupSound *string  `yaml:"startup_sound"`
	} `yaml:"audio"`

	Volume struct {
		Card          string `yaml:"card"`
		Step          int    `yaml:"step"`
		ButtonUpPin   int    `yaml:"button_up_pin"`
		ButtonDownPin int    `yaml:"button_down_pin"`
	} `yaml:"volume"`

	Alarm struct {
		SnoozeMinutes int    `yaml:"snooze_minutes"`
		CheckInterval int    `yaml:"check_interval"`
		RingtoneDir   string `yaml:"ringtone_dir"`
		PopupTimeout  int    `yaml:"popup_timeout"`
	} `yaml:"alarm"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
		File   string `yaml:"file"`
	} `yaml:"logging"`
}

// loadConfig reads path. A missing file yields an empty config, so every
// engine default applies.
func loadConfig(path string) (*Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &cfg, nil
}

// engineConfig overlays the file's settings on engine.DefaultConfig
func (cfg *Config) engineConfig() engine.Config {
	ec := engine.DefaultConfig()

	if cfg.Paths.ConfigDir != "" {
		ec.ConfigDir = cfg.Paths.ConfigDir
	}
	if cfg.Paths.CacheDir != "" {
		ec.CacheDir = cfg.Paths.CacheDir
	}
	if cfg.Paths.SoundsDir != "" {
		ec.SoundsDir = cfg.Paths.SoundsDir
		ec.Alarm.RingtoneDir = filepath.Join(cfg.Paths.SoundsDir, "ringtones")
	}

	if cfg.Weather.BaseURL != "" {
		ec.WeatherBaseURL = cfg.Weather.BaseURL
	}
	if cfg.Weather.IntervalHours > 0 {
		ec.WeatherInterval = time.Duration(cfg.Weather.IntervalHours) * time.Hour
	}
	if cfg.Weather.CheckMinutes > 0 {
		ec.WeatherCheckInterval = time.Duration(cfg.Weather.CheckMinutes) * time.Minute
	}

	if cfg.Sensor.Pin > 0 {
		ec.Sensor.Pin = cfg.Sensor.Pin
	}
	if cfg.Sensor.ActiveLow != nil {
		ec.Sensor.ActiveLow = *cfg.Sensor.ActiveLow
	}
	if len(cfg.Sensor.Drivers) > 0 {
		ec.Sensor.Drivers = cfg.Sensor.Drivers
	}
	if cfg.Sensor.Simulate != nil {
		ec.Sensor.Simulate = *cfg.Sensor.Simulate
	}
	if cfg.Sensor.IntervalMS > 0 {
		ec.Sensor.Interval = time.Duration(cfg.Sensor.IntervalMS) * time.Millisecond
	}

	if len(cfg.Audio.Devices) > 0 {
		ec.AudioDevices = cfg.Audio.Devices
	}
	if cfg.Audio.Detect != nil {
		ec.DetectAudio = *cfg.Audio.Detect
	}
	if cfg.Audio.StartupSound != nil {
		ec.StartupSound = *cfg.Audio.StartupSound
	}

	ec.VolumeCard = cfg.Volume.Card
	if cfg.Volume.Step > 0 {
		ec.Volume.Step = cfg.Volume.Step
	}
	ec.Volume.ButtonUpPin = cfg.Volume.ButtonUpPin
	ec.Volume.ButtonDownPin = cfg.Volume.ButtonDownPin

	if cfg.Alarm.SnoozeMinutes > 0 {
		ec.Alarm.SnoozeMinutes = cfg.Alarm.SnoozeMinutes
	}
	if cfg.Alarm.CheckInterval > 0 {
		ec.Alarm.CheckInterval = secondsToDuration(cfg.Alarm.CheckInterval)
	}
	if cfg.Alarm.RingtoneDir != "" {
		ec.Alarm.RingtoneDir = cfg.Alarm.RingtoneDir
	}
	if cfg.Alarm.PopupTimeout > 0 {
		ec.PopupTimeout = secondsToDuration(cfg.Alarm.PopupTimeout)
	}

	return ec
}

func secondsToDuration(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}
