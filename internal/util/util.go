package util

import (
	"github.com/berfenger/cozylife2mqtt/internal/config"

	"go.uber.org/zap"
)

func LoadTestConfig() config.Config {
	return config.Config{
		LogLevel: zap.DebugLevel,
		MQTT: config.MQTTConfig{
			Host:             "localhost",
			Port:             1883,
			BaseTopic:        "cozylife",
			HADiscoveryTopic: "homeassistant",
		},
		Devices: config.DevicesConfig{
			Port:               5555,
			PollIntervalMillis: 5000,
			TimeoutMillis:      5000,
			MaxErrors:          3,
		},
		Import: config.ImportConfig{
			File:              "devices.json",
			DefaultLink:       "http://giare.win/cozy.json",
			LinkTimeoutMillis: 10000,
			WorkerLimit:       2,
		},
		Features: config.DefaultFeatures(),
		Storage: config.StorageConfig{
			Path: ":memory:",
		},
		Port: 8080,
	}
}
