package main

import (
	"errors"
	"log/slog"
	"os"
	"strings"

	"github.com/berfenger/cozylife2mqtt/internal/config"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

func initConfig() (*config.Config, error) {

	// alias PORT => COZYLIFE_PORT
	if port := os.Getenv("PORT"); port != "" {
		os.Setenv("COZYLIFE_PORT", port)
	}

	setConfigDefaults()

	viper.SetEnvPrefix("cozylife")
	// mqtt.base_topic => COZYLIFE_MQTT_BASE_TOPIC
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// if defined, try to load config from yaml file
	if cfgFile := os.Getenv("CONFIG_FILE"); cfgFile != "" {
		if _, err := os.Stat(cfgFile); err == nil {
			slog.Info("Using config", "file", cfgFile)
			viper.SetConfigFile(cfgFile)

			err = viper.ReadInConfig()
			if err != nil {
				slog.Error("Error reading config file", "error", err)
			}
		}
	}

	var cfg config.Config

	err := viper.Unmarshal(&cfg)
	if err != nil {
		return nil, err
	}

	cfg.LogLevel = parseLogLevel(viper.GetString("log_level"))

	// check and fix base topic
	baseTopic, err := config.CheckMQTTTopic(cfg.MQTT.BaseTopic)
	if err != nil {
		return nil, errors.New("invalid base topic. can only contain letters, numbers and underscores")
	}
	cfg.MQTT.BaseTopic = baseTopic

	// check and fix homeassistant discovery topic
	hadBaseTopic, err := config.CheckMQTTTopic(cfg.MQTT.HADiscoveryTopic)
	if err != nil {
		return nil, errors.New("invalid homeassistant discovery topic. can only contain letters, numbers and underscores")
	}
	cfg.MQTT.HADiscoveryTopic = hadBaseTopic

	// check bounds
	if cfg.Devices.PollIntervalMillis < 1000 {
		return nil, errors.New("config param devices.poll_interval_millis should be >= 1000")
	}
	if cfg.Devices.TimeoutMillis == 0 || cfg.Devices.TimeoutMillis > cfg.Devices.PollIntervalMillis {
		return nil, errors.New("config param devices.timeout_millis should be > 0 and <= devices.poll_interval_millis")
	}
	if cfg.Devices.MaxErrors <= 0 {
		return nil, errors.New("config param devices.max_errors should be > 0")
	}
	if cfg.Import.WorkerLimit <= 0 {
		return nil, errors.New("config param import.worker_limit should be > 0")
	}
	if cfg.Storage.Path == "" {
		return nil, errors.New("config param storage.path is required")
	}

	return &cfg, nil
}

func parseLogLevel(level string) zapcore.Level {
	switch level {
	case "trace":
		return zap.DebugLevel
	case "debug":
		return zap.DebugLevel
	case "info":
		return zap.InfoLevel
	case "error":
		return zap.ErrorLevel
	case "warn":
		return zap.WarnLevel
	case "fatal":
		return zap.FatalLevel
	default:
		return zap.InfoLevel
	}
}

func setConfigDefaults() {
	viper.SetDefault("log_level", "warn")
	viper.SetDefault("log_file", "")
	viper.SetDefault("mqtt.host", "localhost")
	viper.SetDefault("mqtt.port", 1883)
	viper.SetDefault("mqtt.username", "")
	viper.SetDefault("mqtt.password", "")
	viper.SetDefault("mqtt.ha_discovery_enable", true)
	viper.SetDefault("mqtt.base_topic", "cozylife")
	viper.SetDefault("mqtt.ha_discovery_topic", "homeassistant")
	viper.SetDefault("devices.port", 5555)
	viper.SetDefault("devices.poll_interval_millis", 5000)
	viper.SetDefault("devices.timeout_millis", 5000)
	viper.SetDefault("devices.max_errors", 3)
	viper.SetDefault("import.file", "devices.json")
	viper.SetDefault("import.default_link", "http://giare.win/cozy.json")
	viper.SetDefault("import.link_timeout_millis", 10000)
	viper.SetDefault("import.worker_limit", 4)
	viper.SetDefault("features.enable_power", true)
	viper.SetDefault("features.enable_current", false)
	viper.SetDefault("features.enable_voltage", false)
	viper.SetDefault("features.logging_enabled", false)
	viper.SetDefault("storage.path", "cozylife2mqtt.db")
	viper.SetDefault("influx.url", "")
	viper.SetDefault("influx.org", "")
	viper.SetDefault("influx.bucket", "cozylife")
	viper.SetDefault("influx.token", "")
	viper.SetDefault("port", 8080)
	viper.SetDefault("http_log", false)
}

func safePrintConfig(cfg config.Config) {
	cfg.MQTT.Username = "*redacted*"
	cfg.MQTT.Password = "*redacted*"
	cfg.Influx.Token = "*redacted*"
	slog.Info("Using", "config", cfg)
}

// newLogger builds the production zap logger. With log_file set, output also goes to a
// rotated file.
func newLogger(cfg *config.Config) *zap.Logger {
	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(cfg.LogLevel)

	logger := zap.Must(zapCfg.Build())
	if cfg.LogFile == "" {
		return logger
	}

	rotating := &lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    10, // megabytes
		MaxBackups: 5,
		MaxAge:     28, // days
		Compress:   true,
	}
	fileCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(zapCfg.EncoderConfig),
		zapcore.AddSync(rotating),
		zapCfg.Level,
	)
	return logger.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewTee(core, fileCore)
	}))
}
