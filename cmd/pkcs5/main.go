package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"pkcs5/internal/config"
)

const (
	toolVersion = "1.0.0"
	toolName    = "pkcs5"
)

var (
	configPath string
	logLevel   string
	cfg        *config.Config
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          toolName,
		Short:        "PKCS #5 password-based key derivation (PBKDF2, RFC 2898)",
		Version:      toolVersion,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initialize(cmd)
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to configuration file")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	root.AddCommand(newVectorCmd(), newDeriveCmd(), newSealCmd(), newOpenCmd(), newInspectCmd())
	return root
}

// initialize loads configuration and sets up logging
func initialize(cmd *cobra.Command) error {
	if configPath != "" {
		loaded, err := config.NewParser(configPath).Load()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		cfg = loaded
	} else {
		cfg = config.Default()
	}

	level := cfg.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	if err := setupLogging(level, cfg.LogFormat); err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"command":  cmd.Name(),
		"config":   configPath,
		"profiles": len(cfg.Profiles),
	}).Debug("Configuration loaded")
	return nil
}

// setupLogging configures the logging system
func setupLogging(level, format string) error {
	if format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}
	logrus.SetOutput(os.Stderr)

	parsedLevel, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %s: %w", level, err)
	}

	logrus.SetLevel(parsedLevel)
	return nil
}
