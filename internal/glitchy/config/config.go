// Package config loads the bot's settings from the environment.
//
// Matrix credentials come from MATRIX_*, the xAI key from XAI_API_KEY and
// everything else from GLITCHY_*.  Every value except the credentials has a
// default; malformed values are reported together by Load.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"maunium.net/go/mautrix/id"

	"github.com/bdobrica/glitchy/common/environment"
	"github.com/bdobrica/glitchy/internal/glitchy/dispatch"
	"github.com/bdobrica/glitchy/internal/glitchy/llm"
	"github.com/bdobrica/glitchy/internal/glitchy/logging"
	"github.com/bdobrica/glitchy/internal/glitchy/matrix"
	"github.com/bdobrica/glitchy/internal/glitchy/memory"
	"github.com/bdobrica/glitchy/internal/glitchy/ratelimit"
	"github.com/bdobrica/glitchy/internal/glitchy/router"
	"github.com/bdobrica/glitchy/internal/glitchy/store"
)

// Defaults for values that do not belong to a single component.
const (
	DefaultDatabasePath = "./glitchy.db"
	DefaultHealthAddr   = ":8080"
)

// Config is the complete application configuration.
type Config struct {
	Log      logging.Options
	Matrix   matrix.Config
	LLM      llm.Config
	Store    store.Options
	Memory   memory.Config
	Limits   ratelimit.Config
	Dispatch dispatch.Config
	Router   router.Config

	// PersonaFile overrides parts of the embedded persona.
	PersonaFile string
	// HealthAddr is the listen address of the health/status/metrics server.
	// Empty disables it.
	HealthAddr string
}

// Load reads the configuration from the process environment.
func Load() (*Config, error) {
	return LoadFrom(os.LookupEnv)
}

// LoadFrom reads the configuration through lookup.
func LoadFrom(lookup func(string) (string, bool)) (*Config, error) {
	env := environment.NewWithLookup("GLITCHY_", lookup)
	mx := environment.NewWithLookup("MATRIX_", lookup)
	xai := environment.NewWithLookup("XAI_", lookup)

	cfg := &Config{
		Log: logging.Options{
			Level:  env.String("LOG_LEVEL", "info"),
			Format: env.String("LOG_FORMAT", "text"),
		},
		Matrix: matrix.Config{
			Homeserver:  mx.Required("HOMESERVER"),
			UserID:      mx.Required("USER_ID"),
			AccessToken: mx.Required("ACCESS_TOKEN"),
			Rooms:       mx.Strings("ROOMS", nil),
			Admins:      mx.Strings("ADMINS", nil),
			AutoJoin:    mx.Bool("AUTO_JOIN", true),
			SendRate:    mx.Float("SEND_RATE", 1),
			SendBurst:   mx.Int("SEND_BURST", 3),
		},
		LLM: llm.Config{
			APIKey:           xai.Required("API_KEY"),
			BaseURL:          env.String("LLM_BASE_URL", ""),
			Model:            env.String("MODEL", ""),
			Temperature:      env.Float("TEMPERATURE", 0),
			MaxTokens:        env.Int("MAX_TOKENS", 0),
			ConnectTimeout:   env.Duration("CONNECT_TIMEOUT", 0),
			ReadTimeout:      env.Duration("READ_TIMEOUT", 0),
			MaxSearchResults: env.Int("MAX_SEARCH_RESULTS", 0),
		},
		Store: store.Options{
			Kind:        strings.ToLower(env.String("STORE", store.KindSQLite)),
			Path:        env.String("DATABASE_PATH", DefaultDatabasePath),
			RedisURL:    env.String("REDIS_URL", ""),
			RedisPrefix: env.String("REDIS_PREFIX", ""),
		},
		Memory: memory.Config{
			Capacity:      env.Int("HISTORY_SIZE", 0),
			CoalesceBytes: env.Int("COALESCE_BYTES", 0),
		},
		Limits: ratelimit.Config{
			ChannelCooldown: env.Duration("CHANNEL_COOLDOWN", 0),
			ReviewCooldown:  env.Duration("REVIEW_COOLDOWN", 0),
			UserWindow:      env.Duration("USER_WINDOW", 0),
		},
		Dispatch: dispatch.Config{
			Workers:        env.Int("WORKERS", 0),
			QueueSize:      env.Int("QUEUE_SIZE", 0),
			MaxAttempts:    env.Int("MAX_ATTEMPTS", 0),
			InitialBackoff: env.Duration("INITIAL_BACKOFF", 0),
			MaxBackoff:     env.Duration("MAX_BACKOFF", 0),
			ChunkDelay:     env.Duration("CHUNK_DELAY", 0),
		},
		Router: router.Config{
			BotNick:           env.String("NICK", ""),
			CommandPrefix:     env.String("COMMAND_PREFIX", ""),
			DisableHeuristics: env.Bool("DISABLE_HEURISTICS", false),
			ContextTurns:      env.Int("CONTEXT_TURNS", 0),
		},
		PersonaFile: env.String("PERSONA_FILE", ""),
		HealthAddr:  env.String("HEALTH_ADDR", DefaultHealthAddr),
	}

	if cfg.Router.BotNick == "" && cfg.Matrix.UserID != "" {
		cfg.Router.BotNick = matrix.Nick(id.UserID(cfg.Matrix.UserID))
	}
	cfg.Memory.BotNick = cfg.Router.BotNick

	if err := errors.Join(env.Err(), mx.Err(), xai.Err(), cfg.validate()); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	switch c.Store.Kind {
	case store.KindSQLite:
		if c.Store.Path == "" {
			errs = append(errs, errors.New("GLITCHY_DATABASE_PATH must not be empty"))
		}
	case store.KindRedis:
		if c.Store.RedisURL == "" {
			errs = append(errs, errors.New("GLITCHY_REDIS_URL is required when GLITCHY_STORE=redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("GLITCHY_STORE=%q: want %q or %q", c.Store.Kind, store.KindSQLite, store.KindRedis))
	}

	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("GLITCHY_LOG_FORMAT=%q: want text or json", c.Log.Format))
	}

	if c.Matrix.UserID != "" && !strings.HasPrefix(c.Matrix.UserID, "@") {
		errs = append(errs, fmt.Errorf("MATRIX_USER_ID=%q: want a full user ID like @glitchy:example.org", c.Matrix.UserID))
	}
	if c.Matrix.SendRate < 0 || c.Matrix.SendBurst < 0 {
		errs = append(errs, errors.New("MATRIX_SEND_RATE and MATRIX_SEND_BURST must not be negative"))
	}
	if c.Dispatch.Workers < 0 || c.Dispatch.QueueSize < 0 || c.Dispatch.MaxAttempts < 0 {
		errs = append(errs, errors.New("GLITCHY_WORKERS, GLITCHY_QUEUE_SIZE and GLITCHY_MAX_ATTEMPTS must not be negative"))
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errs = append(errs, fmt.Errorf("GLITCHY_TEMPERATURE=%v: want a value between 0 and 2", c.LLM.Temperature))
	}
	return errors.Join(errs...)
}

// Secrets returns the credentials that must never reach the logs.
func (c *Config) Secrets() []string {
	var out []string
	for _, s := range []string{c.Matrix.AccessToken, c.LLM.APIKey} {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
