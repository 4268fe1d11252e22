package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/bdobrica/glitchy/internal/glitchy/llm"
	"github.com/bdobrica/glitchy/internal/glitchy/persona"
	"github.com/bdobrica/glitchy/internal/glitchy/store"
)

// newCheckCmd validates the configuration, the persona file and the store
// connection, then exits without joining any room.
func newCheckCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate configuration, persona and store without connecting to Matrix",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "config:  ok (user %s, nick %s, model %q)\n", cfg.Matrix.UserID, cfg.Router.BotNick, llm.New(cfg.LLM).Model())

			p, err := persona.Load(cfg.PersonaFile)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "persona: ok (%s, %d lead-ins, %d emote verbs)\n", p.Name, len(p.LeadIns), len(p.Emotes))

			ctx := cmd.Context()
			backend, err := store.Open(ctx, cfg.Store)
			if err != nil {
				return err
			}
			defer backend.Close()
			start := time.Now()
			if err := backend.Ping(ctx); err != nil {
				return fmt.Errorf("store: ping: %w", err)
			}
			fmt.Fprintf(out, "store:   ok (%s, %s)\n", cfg.Store.Kind, time.Since(start).Round(time.Microsecond))
			return nil
		},
	}
}
