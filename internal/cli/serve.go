package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/soyeahso/wayfarer/internal/agent"
	"github.com/soyeahso/wayfarer/internal/config"
	"github.com/soyeahso/wayfarer/internal/events"
	"github.com/soyeahso/wayfarer/internal/gateway"
	"github.com/soyeahso/wayfarer/internal/hooks"
	"github.com/soyeahso/wayfarer/internal/interrupt"
	"github.com/soyeahso/wayfarer/internal/llm"
	"github.com/soyeahso/wayfarer/internal/logging"
	"github.com/soyeahso/wayfarer/internal/runs"
	"github.com/soyeahso/wayfarer/internal/session"
	"github.com/soyeahso/wayfarer/internal/store"
	"github.com/soyeahso/wayfarer/internal/travel"
	"github.com/spf13/cobra"
)

const drainTimeout = 15 * time.Second

func newServeCmd() *cobra.Command {
	var (
		port int
		bind string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the chat gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(paths.Config)
			if err != nil {
				return err
			}

			if port != 0 {
				cfg.Gateway.Port = port
			}
			if bind != "" {
				cfg.Gateway.Bind = bind
			}

			issues := config.Validate(&cfg)
			if len(issues) > 0 {
				for _, issue := range issues {
					log.Error().Str("path", issue.Path).Msg(issue.Message)
				}
				return fmt.Errorf("config validation failed with %d issue(s)", len(issues))
			}

			logger, closeLog, err := serveLogger(cfg.Logging)
			if err != nil {
				return err
			}
			defer closeLog()

			if cfg.Session.Store == "sqlite" {
				if err := paths.EnsureDirs(); err != nil {
					return fmt.Errorf("creating data directory: %w", err)
				}
			}

			a, err := newApp(cfg, paths.Database, logger)
			if err != nil {
				return err
			}
			defer a.close()

			// Block until SIGINT/SIGTERM
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			serveErr := a.server.Start(ctx)

			drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
			defer cancel()
			if err := a.coord.Shutdown(drainCtx); err != nil {
				logger.Warn().Err(err).Msg("runs still active at exit")
			}
			a.hooks.Wait()
			return serveErr
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "override gateway port")
	cmd.Flags().StringVar(&bind, "bind", "", "override bind mode (auto, lan, loopback, custom)")

	return cmd
}

// serveLogger builds the long-running logger. --log-level wins over the
// config file.
func serveLogger(cfg config.LoggingConfig) (*logging.Logger, func(), error) {
	level := logLevel
	if level == "" {
		level = cfg.Level
	}
	var w io.Writer
	closer := func() {}
	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, nil, fmt.Errorf("opening log file: %w", err)
		}
		w = f
		closer = func() { f.Close() }
	}
	return logging.NewStyled(w, level, cfg.ConsoleStyle), closer, nil
}

// app holds the wired services behind the gateway.
type app struct {
	hooks    *hooks.Manager
	hub      *events.Hub
	sessions *session.Store
	registry *runs.Registry
	coord    *interrupt.Coordinator
	server   *gateway.Server
	db       *store.DB
}

// newApp wires the services for cfg. dbPath is only opened when the session
// store is "sqlite".
func newApp(cfg config.Config, dbPath string, log *logging.Logger) (*app, error) {
	a := &app{hooks: hooks.NewManager(log)}

	if n := hooks.RegisterCommands(a.hooks, cfg.Hooks); n > 0 {
		log.Info().Int("hooks", n).Msg("command hooks registered")
	}

	a.hub = events.NewHub(cfg.Session.SubscriberBuffer, log)

	var opts []session.Option
	if cfg.Session.Store == "sqlite" {
		db, err := store.Open(dbPath, log)
		if err != nil {
			return nil, fmt.Errorf("opening database: %w", err)
		}
		a.db = db
		opts = append(opts, session.WithJournal(store.NewJournal(db)))
		log.Info().Str("path", dbPath).Msg("using SQLite session journal")
	} else {
		log.Info().Msg("using in-memory sessions")
	}
	a.sessions = session.NewStore(a.hub, log, opts...)
	a.registry = runs.NewRegistry(log)

	searcher := travel.New(cfg.Search, log)
	col := agent.Collaborators{
		Flights: searcher,
		Hotels:  searcher,
	}

	registry := llm.NewRegistryFromConfig(cfg.LLM, log)
	if providers := registry.List(); len(providers) > 0 {
		model := cfg.LLM.Model
		if model == "" {
			model = providers[0]
		}
		client := agent.NewFailoverClient(registry, model, cfg.LLM.Fallbacks, log)
		col.Classifier = agent.NewLLMClassifier(client, log)
		col.Responder = agent.NewLLMResponder(client, cfg.LLM.MaxTokens, log)
		col.Summarizer = agent.NewLLMSummarizer(client, log)
		log.Info().Strs("providers", providers).Str("model", model).Msg("LLM agents enabled")
	} else {
		log.Info().Str("provider", cfg.LLM.Provider).Msg("no LLM configured, using rule-based agents")
	}

	runner := agent.NewRunner(agent.RunnerConfig{
		RunTimeout:        cfg.Runs.RunTimeout(),
		StageTimeout:      cfg.Runs.StageTimeout(),
		CompactAfterTurns: cfg.Session.CompactAfterTurns,
		KeepRecentTurns:   cfg.Session.KeepRecentTurns,
	}, col, a.sessions, a.registry, log)

	a.coord = interrupt.New(interrupt.Config{GracePeriod: cfg.Runs.GracePeriod()},
		a.sessions, a.registry, runner, log, interrupt.WithHooks(a.hooks))

	a.server = gateway.New(cfg, a.coord, a.sessions, a.hub, log, gateway.WithHooks(a.hooks))
	return a, nil
}

func (a *app) close() error {
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}
