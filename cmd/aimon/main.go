// Package main is the CLI entry point for aimon.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/eliteGoblin/focusd/ai_mon/internal/config"
)

var (
	// Version info (set via ldflags)
	Version   = "0.1.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "aimon",
	Short: "AI usage monitor - flags AI tools on academic platforms",
	Long: `aimon is the native messaging host behind the browser extension. It
classifies visited sites and chat messages into green, yellow and red tiers
and snoozes AI tools for a while after repeated red violations.

The browser starts aimon with the extension origin as its only argument.
Every other subcommand talks to the running host over its control socket,
or works on the stored state directly when no host is running.`,
	Version:      Version,
	SilenceUsage: true,
	Args:         cobra.ArbitraryArgs,
	// Chrome passes extra flags such as --parent-window on Windows.
	FParseErrWhitelist: cobra.FParseErrWhitelist{UnknownFlags: true},
	RunE: func(cmd *cobra.Command, args []string) error {
		if isBrowserLaunch(args) {
			return runHost(cmd, args)
		}
		return cmd.Help()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Prints version, commit, and build time. Use --json for machine-readable output.`,
	Run:   runVersion,
}

var (
	configPath string
	verbose    bool
	jsonOutput bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath(), "Config file (yaml, toml or json)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log at debug level")
	versionCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version info as JSON")

	rootCmd.AddCommand(versionCmd)
}

// isBrowserLaunch reports whether args are what a browser passes when it
// launches a native messaging host. Chromium browsers pass the caller origin.
// Firefox passes the manifest path and then the extension id, which must be
// listed in that manifest.
func isBrowserLaunch(args []string) bool {
	if len(args) == 0 {
		return false
	}
	if strings.HasPrefix(args[0], "chrome-extension://") || strings.HasPrefix(args[0], "moz-extension://") {
		return true
	}
	if len(args) < 2 || !strings.HasSuffix(args[0], ".json") {
		return false
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return false
	}
	var m nativeManifest
	if err := json.Unmarshal(data, &m); err != nil || m.Type != "stdio" {
		return false
	}
	for _, id := range m.AllowedExtensions {
		if id == args[1] {
			return true
		}
	}
	return false
}

// loadConfig reads the config file and builds the file logger.
func loadConfig() (*config.Config, *zap.Logger, error) {
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return nil, nil, err
	}
	return cfg, createLogger(cfg), nil
}

// createLogger logs to the configured file. Stdout is never used: it carries
// the native messaging stream.
func createLogger(cfg *config.Config) *zap.Logger {
	zcfg := zap.NewProductionConfig()
	if level, err := zapcore.ParseLevel(cfg.Log.Level); err == nil {
		zcfg.Level = zap.NewAtomicLevelAt(level)
	}
	if verbose {
		zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	zcfg.EncoderConfig.TimeKey = "time"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logPath := cfg.LogPath()
	if err := os.MkdirAll(filepath.Dir(logPath), 0700); err == nil {
		zcfg.OutputPaths = []string{logPath}
		zcfg.ErrorOutputPaths = []string{logPath}
	}

	logger, err := zcfg.Build()
	if err != nil {
		// Fallback to stderr if file logging fails
		logger, _ = zap.NewProduction()
	}
	return logger.With(zap.Int("pid", os.Getpid()))
}

func runVersion(cmd *cobra.Command, args []string) {
	if jsonOutput {
		fmt.Printf(`{"version":"%s","commit":"%s","build_time":"%s"}`+"\n",
			Version, Commit, BuildTime)
	} else {
		fmt.Printf("aimon %s (commit: %s, built: %s)\n",
			Version, Commit, BuildTime)
	}
}
