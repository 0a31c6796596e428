package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/berfenger/cozylife2mqtt/internal/config"

	"github.com/carlmjohnson/versioninfo"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	cfg    *config.Config
	logger *zap.Logger
)

func main() {
	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      slog.LevelInfo,
		TimeFormat: time.DateTime,
	})))
	Execute()
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "cozylife2mqtt",
	Short:         "Bridge CozyLife Wi-Fi switches to MQTT and Home Assistant",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd == versionCmd {
			return nil
		}
		var err error
		cfg, err = initConfig()
		if err != nil {
			slog.Error("config errors", "error", err)
			return err
		}
		logger = newLogger(cfg)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(versioninfo.Short())
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bridge and the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}
