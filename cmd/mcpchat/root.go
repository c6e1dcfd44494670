package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/TimChild/mcp-chat/internal/config"
	"github.com/TimChild/mcp-chat/internal/logging"
)

// app carries global flags and the state built from them. Each command
// invocation gets its own app, so run can be called concurrently.
type app struct {
	stdout io.Writer
	stderr io.Writer

	configPath string
	logLevel   string
	output     string

	cfg       *config.Config
	logger    *slog.Logger
	logCloser io.Closer
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:   "mcpchat",
		Short: "Chat with a model that can call tools on MCP servers",
		Long: `mcpchat connects to the MCP servers listed in its config file,
offers their tools to a language model, and keeps conversation history
between runs.

Config search order:
  ./config.yaml, ~/.config/mcp-chat/config.yaml, /etc/mcp-chat/config.yaml`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "version" || cmd.Name() == "help" {
				return nil
			}
			return a.setup()
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return a.close()
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "path to config file (default: auto-discover)")
	flags.StringVar(&a.logLevel, "log-level", "", "log level: trace, debug, info, warn, error (overrides config)")
	flags.StringVarP(&a.output, "output", "o", "text", "output format: text or json")

	root.AddCommand(
		newAskCmd(a),
		newToolsCmd(a),
		newCallCmd(a),
		newServersCmd(a),
		newHistoryCmd(a),
		newVersionCmd(a),
	)
	return root
}

// setup loads configuration and builds the logger. Logs go to stderr so
// stdout carries only command output.
func (a *app) setup() error {
	if a.output != "text" && a.output != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", a.output)
	}

	cfg, cfgPath, err := loadConfig(a.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg

	level := cfg.Logging.Level
	if a.logLevel != "" {
		level = a.logLevel
	}
	if level == "" {
		level = "warn"
	}
	logger, closer, err := logging.New(a.stderr, logging.Options{
		Level:  level,
		Format: cfg.Logging.Format,
		File: logging.FileOptions{
			Path:       cfg.Logging.File.Path,
			MaxSizeMB:  cfg.Logging.File.MaxSizeMB,
			MaxBackups: cfg.Logging.File.MaxBackups,
			Compress:   cfg.Logging.File.Compress,
		},
	})
	if err != nil {
		return err
	}
	a.logger = logger
	a.logCloser = closer

	if cfgPath == "" {
		logger.Debug("no config file found, using defaults")
	} else {
		logger.Debug("config loaded", "path", cfgPath)
	}
	return nil
}

func (a *app) close() error {
	if a.logCloser == nil {
		return nil
	}
	return a.logCloser.Close()
}

func (a *app) jsonOutput() bool { return a.output == "json" }

// loadConfig locates and parses the YAML configuration file. An explicit
// path must exist. Without one, the default locations are searched and
// the built-in defaults are used when none exists; the returned path is
// then empty.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		if explicit != "" {
			return nil, "", err
		}
		return config.Default(), "", nil
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	return cfg, cfgPath, nil
}
