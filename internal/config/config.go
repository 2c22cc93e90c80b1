// Copyright ©2025 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config loads the sensortag logger configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"

	"github.com/kortschak/sensortag/sensortag"
	"github.com/kortschak/sensortag/upload"
)

// Config is the logger configuration.
type Config struct {
	AppEnv          string        `yaml:"app_env"`
	LogLevel        string        `yaml:"log_level"`
	Adapter         string        `yaml:"adapter"`
	DeviceName      string        `yaml:"device_name"`
	Sensors         []string      `yaml:"sensors"`
	MotionRange     int           `yaml:"motion_range"`
	BatteryInterval time.Duration `yaml:"battery_interval"`
	Preferences     string        `yaml:"preferences"`

	Upload  Upload            `yaml:"upload"`
	MQTT    upload.MQTTConfig `yaml:"mqtt"`
	Metrics Metrics           `yaml:"metrics"`

	// Level and Kinds are the parsed forms of LogLevel
	// and Sensors.
	Level slog.Level       `yaml:"-"`
	Kinds []sensortag.Kind `yaml:"-"`
}

type Upload struct {
	URL       string        `yaml:"url"`
	Threshold int           `yaml:"threshold"`
	Timeout   time.Duration `yaml:"timeout"`
	Timezone  string        `yaml:"timezone"`
}

type Metrics struct {
	Addr string `yaml:"addr"`
}

// Load reads the configuration at path, applying defaults and
// environment overrides. If path is empty only defaults and the
// environment are used.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		err = yaml.Unmarshal(raw, &cfg)
		if err != nil {
			return nil, fmt.Errorf("invalid config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	err := cfg.validate()
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	for _, o := range []struct {
		name string
		dst  *string
	}{
		{"APP_ENV", &c.AppEnv},
		{"LOG_LEVEL", &c.LogLevel},
		{"SENSORTAG_UPLOAD_URL", &c.Upload.URL},
		{"SENSORTAG_ADAPTER", &c.Adapter},
	} {
		if v := strings.TrimSpace(os.Getenv(o.name)); v != "" {
			*o.dst = v
		}
	}
}

func (c *Config) applyDefaults() {
	if c.AppEnv == "" {
		c.AppEnv = "dev"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Adapter == "" {
		c.Adapter = "hci0"
	}
	if c.DeviceName == "" {
		c.DeviceName = sensortag.DeviceName
	}
	if c.Sensors == nil {
		c.Sensors = []string{"humidity", "motion"}
	}
	if c.MotionRange == 0 {
		c.MotionRange = int(sensortag.Range2G)
	}
	if c.BatteryInterval == 0 {
		c.BatteryInterval = time.Minute
	}
	if c.Preferences == "" {
		c.Preferences = "sensortag-prefs.yaml"
	}
	if c.Upload.URL == "" {
		c.Upload.URL = "http://localhost:8081/data"
	}
	if c.Upload.Threshold == 0 {
		c.Upload.Threshold = upload.DefaultThreshold
	}
	if c.Upload.Timeout == 0 {
		c.Upload.Timeout = 30 * time.Second
	}
	if c.Upload.Timezone == "" {
		c.Upload.Timezone = localZone()
	}
	if c.MQTT.Port == 0 {
		c.MQTT.Port = 1883
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "sensortag-logger"
	}
	if c.MQTT.Topic == "" {
		c.MQTT.Topic = "sensortag/batches"
	}
}

func (c *Config) validate() error {
	switch c.AppEnv {
	case "dev", "prod":
	default:
		return fmt.Errorf("invalid app_env %q (allowed: dev, prod)", c.AppEnv)
	}
	var err error
	c.Level, err = parseLogLevel(c.LogLevel)
	if err != nil {
		return err
	}
	c.Kinds = c.Kinds[:0]
	for _, s := range c.Sensors {
		k, err := sensortag.ParseKind(s)
		if err != nil {
			return fmt.Errorf("invalid sensors: %w", err)
		}
		if _, ok := sensortag.ServiceFor(k); !ok {
			return fmt.Errorf("invalid sensors: %s is not a configurable sensor", k)
		}
		if !slices.Contains(c.Kinds, k) {
			c.Kinds = append(c.Kinds, k)
		}
	}
	if c.MotionRange > 255 || !sensortag.Range(c.MotionRange).Valid() {
		return fmt.Errorf("invalid motion_range %d (allowed: 2, 4, 8, 16)", c.MotionRange)
	}
	if c.BatteryInterval < 0 {
		return fmt.Errorf("battery_interval must be positive, got %v", c.BatteryInterval)
	}
	if c.Upload.Threshold < 0 {
		return fmt.Errorf("upload.threshold must be positive, got %d", c.Upload.Threshold)
	}
	if c.Upload.Timeout < 0 {
		return fmt.Errorf("upload.timeout must be positive, got %v", c.Upload.Timeout)
	}
	if _, err := time.LoadLocation(c.Upload.Timezone); err != nil {
		return fmt.Errorf("invalid upload.timezone %q: %w", c.Upload.Timezone, err)
	}
	if c.MQTT.Port <= 0 || c.MQTT.Port > 65535 {
		return fmt.Errorf("invalid mqtt.port %d", c.MQTT.Port)
	}
	return nil
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log_level %q (allowed: debug, info, warn, error)", s)
	}
}

// localtime is the system zone link used when TZ is not set.
var localtime = "/etc/localtime"

// localZone returns the IANA name of the local time zone.
func localZone() string {
	if tz := strings.TrimPrefix(os.Getenv("TZ"), ":"); tz != "" {
		return tz
	}
	target, err := os.Readlink(localtime)
	if err != nil {
		return "UTC"
	}
	target = filepath.ToSlash(target)
	_, zone, ok := strings.Cut(target, "zoneinfo/")
	if !ok || zone == "" {
		return "UTC"
	}
	return zone
}
