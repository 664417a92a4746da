package cli

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"llmd/internal/config"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

// rootOptions carries flags shared by every subcommand.
type rootOptions struct {
	configPath string
	logLevel   string
	cfg        config.Config
	log        zerolog.Logger
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	root := buildRootCmd()
	if err := root.Execute(); err != nil {
		log := zerolog.New(os.Stderr)
		log.Error().Err(err).Msg("command failed")
		return 1
	}
	return 0
}

func buildRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "llmd",
		Short:         "Serve, download and evaluate local LLMs behind one OpenAI-compatible gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", envOr("LLMD_CONFIG", ""), "Config file (yaml/json/toml)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", envOr("LLMD_LOG_LEVEL", "info"), "Log level: debug|info|warn|error")
	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if opts.configPath != "" {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			opts.cfg = cfg
		}
		lvl := opts.logLevel
		if lvl == "" {
			lvl = opts.cfg.Server.LogLevel
		}
		opts.log = newLogger(lvl)
		return nil
	}

	root.AddCommand(
		newServeCmd(opts),
		newPullCmd(opts),
		newModelsCmd(opts),
		newEvalCmd(opts),
		newVersionCmd(),
	)
	return root
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	w := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
