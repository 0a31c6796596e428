package config

import (
	"errors"
	"regexp"
	"strings"

	"go.uber.org/zap/zapcore"
)

type Config struct {
	LogLevel zapcore.Level
	LogFile  string         `mapstructure:"log_file"`
	MQTT     MQTTConfig     `mapstructure:"mqtt"`
	Devices  DevicesConfig  `mapstructure:"devices"`
	Import   ImportConfig   `mapstructure:"import"`
	Features FeaturesConfig `mapstructure:"features"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Influx   InfluxConfig   `mapstructure:"influx"`
	Port     uint           `mapstructure:"port"`
	HttpLog  bool           `mapstructure:"http_log"`
}

type MQTTConfig struct {
	Host              string
	Port              int
	Username          string
	Password          string
	BaseTopic         string `mapstructure:"base_topic"`
	HADiscoveryEnable bool   `mapstructure:"ha_discovery_enable"`
	HADiscoveryTopic  string `mapstructure:"ha_discovery_topic"`
}

type DevicesConfig struct {
	Port               uint   `mapstructure:"port"`
	PollIntervalMillis uint32 `mapstructure:"poll_interval_millis"`
	TimeoutMillis      uint32 `mapstructure:"timeout_millis"`
	MaxErrors          int    `mapstructure:"max_errors"`
}

type ImportConfig struct {
	File              string `mapstructure:"file"`
	DefaultLink       string `mapstructure:"default_link"`
	LinkTimeoutMillis uint32 `mapstructure:"link_timeout_millis"`
	WorkerLimit       int    `mapstructure:"worker_limit"`
}

// FeaturesConfig enables sensor kinds per switch record and entity diagnostics logging.
type FeaturesConfig struct {
	EnablePower    bool `mapstructure:"enable_power"`
	EnableCurrent  bool `mapstructure:"enable_current"`
	EnableVoltage  bool `mapstructure:"enable_voltage"`
	LoggingEnabled bool `mapstructure:"logging_enabled"`
}

type StorageConfig struct {
	Path string `mapstructure:"path"`
}

type InfluxConfig struct {
	URL    string `mapstructure:"url"`
	Token  string `mapstructure:"token"`
	Org    string `mapstructure:"org"`
	Bucket string `mapstructure:"bucket"`
}

func (c InfluxConfig) Enabled() bool {
	return c.URL != ""
}

func DefaultFeatures() FeaturesConfig {
	return FeaturesConfig{
		EnablePower:    true,
		EnableCurrent:  false,
		EnableVoltage:  false,
		LoggingEnabled: false,
	}
}

func CheckMQTTTopic(baseTopic string) (string, error) {
	// check and fix base topic
	lowerBaseTopic := strings.ToLower(baseTopic)
	baseTopicRegexp := regexp.MustCompile("^[a-z0-9_]+$")
	matches := baseTopicRegexp.FindAllStringSubmatch(lowerBaseTopic, 1)
	if len(matches) <= 0 {
		return "", errors.New("invalid topic. can only contain letters, numbers and underscores")
	}
	return lowerBaseTopic, nil
}
