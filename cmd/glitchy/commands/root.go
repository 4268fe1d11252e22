// Package commands holds the glitchy command line.
package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bdobrica/glitchy/common/version"
	"github.com/bdobrica/glitchy/internal/glitchy/app"
	"github.com/bdobrica/glitchy/internal/glitchy/config"
	"github.com/bdobrica/glitchy/internal/glitchy/logging"
)

type rootOptions struct {
	logLevel    string
	logFormat   string
	personaFile string
}

// NewRootCmd builds the command tree.  Running the root command starts the
// bot; configuration comes from the environment, with a few flag overrides.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "glitchy",
		Short: "glitchy - a conversational LLM bot for Matrix rooms",
		Long: `glitchy sits in chat rooms, decides which lines are addressed to it,
and answers them through the xAI chat completions API.

Configuration is read from MATRIX_*, XAI_API_KEY and GLITCHY_* environment
variables; run "glitchy check" to validate it without connecting.`,
		Version: version.Info(),
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts)
		},
	}
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override GLITCHY_LOG_LEVEL (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "override GLITCHY_LOG_FORMAT (text, json)")
	cmd.PersistentFlags().StringVar(&opts.personaFile, "persona", "", "override GLITCHY_PERSONA_FILE")

	cmd.AddCommand(newVersionCmd(), newCheckCmd(opts))
	return cmd
}

// Execute runs the command line with SIGINT/SIGTERM cancelling the context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := NewRootCmd()
	cmd.SilenceErrors = true
	cmd.SilenceUsage = true
	return cmd.ExecuteContext(ctx)
}

// loadConfig reads the environment and applies the flag overrides.
func loadConfig(opts *rootOptions) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	if opts.logFormat != "" {
		cfg.Log.Format = opts.logFormat
	}
	if opts.personaFile != "" {
		cfg.PersonaFile = opts.personaFile
	}
	return cfg, nil
}

func run(ctx context.Context, opts *rootOptions) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	logOpts := cfg.Log
	logOpts.Secrets = cfg.Secrets()
	logger := logging.Setup(logOpts)

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	return a.Run(ctx)
}
