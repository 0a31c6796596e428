package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestInitConfigDefaults(t *testing.T) {

	assert := assert.New(t)

	viper.Reset()
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("PORT", "")
	t.Setenv("COZYLIFE_PORT", "")

	cfg, err := initConfig()
	require.NoError(t, err)

	assert.Equal("cozylife", cfg.MQTT.BaseTopic)
	assert.Equal("homeassistant", cfg.MQTT.HADiscoveryTopic)
	assert.True(cfg.MQTT.HADiscoveryEnable)
	assert.Equal(uint(5555), cfg.Devices.Port)
	assert.Equal(uint32(5000), cfg.Devices.PollIntervalMillis)
	assert.Equal(uint32(5000), cfg.Devices.TimeoutMillis)
	assert.Equal(3, cfg.Devices.MaxErrors)
	assert.Equal(4, cfg.Import.WorkerLimit)
	assert.True(cfg.Features.EnablePower)
	assert.False(cfg.Features.EnableCurrent)
	assert.False(cfg.Influx.Enabled())
	assert.Equal(uint(8080), cfg.Port)
	assert.Equal(zap.WarnLevel, cfg.LogLevel)
}

func TestInitConfigFromEnv(t *testing.T) {

	assert := assert.New(t)

	viper.Reset()
	t.Setenv("CONFIG_FILE", "")
	// restored after the test, initConfig sets it from PORT
	t.Setenv("COZYLIFE_PORT", "")
	t.Setenv("PORT", "9090")
	t.Setenv("COZYLIFE_LOG_LEVEL", "debug")
	t.Setenv("COZYLIFE_MQTT_BASE_TOPIC", "Home_Plugs")
	t.Setenv("COZYLIFE_MQTT_PASSWORD", "secret")
	t.Setenv("COZYLIFE_FEATURES_ENABLE_VOLTAGE", "true")

	cfg, err := initConfig()
	require.NoError(t, err)

	assert.Equal(uint(9090), cfg.Port)
	assert.Equal(zap.DebugLevel, cfg.LogLevel)
	assert.Equal("home_plugs", cfg.MQTT.BaseTopic, "topic is lowercased")
	assert.Equal("secret", cfg.MQTT.Password)
	assert.True(cfg.Features.EnableVoltage)
}

func TestInitConfigFromFile(t *testing.T) {

	viper.Reset()
	file := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
mqtt:
  host: broker.lan
devices:
  poll_interval_millis: 10000
  timeout_millis: 3000
influx:
  url: http://influx.lan:8086
`), 0o644))
	t.Setenv("CONFIG_FILE", file)

	cfg, err := initConfig()
	require.NoError(t, err)
	assert.Equal(t, "broker.lan", cfg.MQTT.Host)
	assert.Equal(t, uint32(10000), cfg.Devices.PollIntervalMillis)
	assert.Equal(t, uint32(3000), cfg.Devices.TimeoutMillis)
	assert.True(t, cfg.Influx.Enabled())
}

func TestInitConfigValidation(t *testing.T) {

	cases := map[string]string{
		"COZYLIFE_MQTT_BASE_TOPIC":             "cozy/life",
		"COZYLIFE_MQTT_HA_DISCOVERY_TOPIC":     "home assistant",
		"COZYLIFE_DEVICES_POLL_INTERVAL_MILLIS": "500",
		"COZYLIFE_DEVICES_TIMEOUT_MILLIS":      "60000",
		"COZYLIFE_DEVICES_MAX_ERRORS":          "0",
		"COZYLIFE_IMPORT_WORKER_LIMIT":         "0",
	}
	for env, value := range cases {
		t.Run(env, func(t *testing.T) {
			viper.Reset()
			t.Setenv("CONFIG_FILE", "")
			t.Setenv(env, value)

			_, err := initConfig()
			assert.Error(t, err)
		})
	}
}
