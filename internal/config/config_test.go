// Copyright ©2025 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kortschak/sensortag/sensortag"
)

func clearEnv(t *testing.T) {
	for _, k := range []string{"APP_ENV", "LOG_LEVEL", "SENSORTAG_UPLOAD_URL", "SENSORTAG_ADAPTER"} {
		t.Setenv(k, "")
	}
	t.Setenv("TZ", "Australia/Adelaide")
}

func writeConfig(t *testing.T, data string) string {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
	return path
}

func TestDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "dev", cfg.AppEnv)
	assert.Equal(t, slog.LevelInfo, cfg.Level)
	assert.Equal(t, "hci0", cfg.Adapter)
	assert.Equal(t, sensortag.DeviceName, cfg.DeviceName)
	assert.Equal(t, []sensortag.Kind{sensortag.KindHumidity, sensortag.KindMotion}, cfg.Kinds)
	assert.Equal(t, 2, cfg.MotionRange)
	assert.Equal(t, time.Minute, cfg.BatteryInterval)
	assert.Equal(t, "sensortag-prefs.yaml", cfg.Preferences)
	assert.Equal(t, Upload{
		URL:       "http://localhost:8081/data",
		Threshold: 20,
		Timeout:   30 * time.Second,
		Timezone:  "Australia/Adelaide",
	}, cfg.Upload)
	assert.Empty(t, cfg.MQTT.Broker)
	assert.Equal(t, 1883, cfg.MQTT.Port)
	assert.Equal(t, "sensortag-logger", cfg.MQTT.ClientID)
	assert.Equal(t, "sensortag/batches", cfg.MQTT.Topic)
	assert.Empty(t, cfg.Metrics.Addr)
}

func TestLoadFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
app_env: prod
log_level: debug
sensors: [motion, barometer, luxometer, motion]
motion_range: 8
battery_interval: 5m
upload:
  url: https://example.com/ingest
  threshold: 50
  timeout: 10s
  timezone: Europe/Berlin
mqtt:
  broker: broker.local
  topic: lab/tags
metrics:
  addr: ":9100"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "prod", cfg.AppEnv)
	assert.Equal(t, slog.LevelDebug, cfg.Level)
	assert.Equal(t, []sensortag.Kind{sensortag.KindMotion, sensortag.KindBarometer, sensortag.KindLuxometer}, cfg.Kinds)
	assert.Equal(t, 8, cfg.MotionRange)
	assert.Equal(t, 5*time.Minute, cfg.BatteryInterval)
	assert.Equal(t, "https://example.com/ingest", cfg.Upload.URL)
	assert.Equal(t, 50, cfg.Upload.Threshold)
	assert.Equal(t, 10*time.Second, cfg.Upload.Timeout)
	assert.Equal(t, "Europe/Berlin", cfg.Upload.Timezone)
	assert.Equal(t, "broker.local", cfg.MQTT.Broker)
	assert.Equal(t, 1883, cfg.MQTT.Port)
	assert.Equal(t, "lab/tags", cfg.MQTT.Topic)
	assert.Equal(t, ":9100", cfg.Metrics.Addr)
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "adapter: hci1\nlog_level: debug\n")
	t.Setenv("SENSORTAG_ADAPTER", "hci2")
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("SENSORTAG_UPLOAD_URL", "http://collector:8081/data")
	t.Setenv("APP_ENV", "prod")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "hci2", cfg.Adapter)
	assert.Equal(t, slog.LevelWarn, cfg.Level)
	assert.Equal(t, "http://collector:8081/data", cfg.Upload.URL)
	assert.Equal(t, "prod", cfg.AppEnv)
}

var invalidTests = []struct {
	name string
	data string
}{
	{name: "app_env", data: "app_env: staging"},
	{name: "log_level", data: "log_level: loud"},
	{name: "sensor", data: "sensors: [thermometer]"},
	{name: "battery_sensor", data: "sensors: [battery]"},
	{name: "motion_range", data: "motion_range: 3"},
	{name: "motion_range_wrap", data: "motion_range: 258"},
	{name: "threshold", data: "upload: {threshold: -1}"},
	{name: "timezone", data: "upload: {timezone: Mars/Olympus_Mons}"},
	{name: "mqtt_port", data: "mqtt: {port: 70000}"},
	{name: "syntax", data: "sensors: [motion"},
}

func TestInvalid(t *testing.T) {
	clearEnv(t)
	for _, test := range invalidTests {
		t.Run(test.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, test.data))
			assert.Error(t, err)
		})
	}
}

func TestMissingFile(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLocalZone(t *testing.T) {
	dir := t.TempDir()
	link := filepath.Join(dir, "localtime")
	require.NoError(t, os.Symlink("/usr/share/zoneinfo/America/Argentina/Cordoba", link))
	orig := localtime
	localtime = link
	t.Cleanup(func() { localtime = orig })

	t.Setenv("TZ", "")
	assert.Equal(t, "America/Argentina/Cordoba", localZone())
	t.Setenv("TZ", ":Asia/Tokyo")
	assert.Equal(t, "Asia/Tokyo", localZone())

	t.Setenv("TZ", "")
	localtime = filepath.Join(dir, "absent")
	assert.Equal(t, "UTC", localZone())
}
