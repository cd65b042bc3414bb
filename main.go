package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/hay-kot/courier/internal/backend/local"
	"github.com/hay-kot/courier/internal/commands"
	"github.com/hay-kot/courier/internal/core/config"
	"github.com/hay-kot/courier/internal/courier"
	"github.com/hay-kot/courier/internal/identity"
	"github.com/hay-kot/courier/internal/printer"
	"github.com/hay-kot/courier/internal/store/jsonfile"
)

var (
	// Build information. Populated at build-time via -ldflags flag.
	version = "dev"
	commit  = "HEAD"
	date    = "now"
)

func build() string {
	short := commit
	if len(commit) > 7 {
		short = commit[:7]
	}

	return fmt.Sprintf("%s (%s) %s", version, short, date)
}

func main() {
	if err := setupLogger("info", ""); err != nil {
		panic(err)
	}

	var (
		p     = printer.New(os.Stderr)
		ctx   = printer.NewContext(context.Background(), p)
		flags = &commands.Flags{}
		stop  = func() error { return nil }
	)

	app := &cli.Command{
		Name:      "courier",
		Usage:     "Send messages between identities",
		UsageText: "courier [global options] command [command options]",
		Description: `Courier is a small messaging client. It authenticates you with an identity
provider, finds or creates the conversation with the people you name, and
tracks whether your messages were delivered and read.

Conversations and messages live in the data directory, so every courier
process pointed at the same directory sees the same state.

Run 'courier send --to <identity> <text>' to start a conversation.`,
		Version: build(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "log level (debug, info, warn, error, fatal, panic)",
				Sources:     cli.EnvVars("COURIER_LOG_LEVEL"),
				Value:       "info",
				Destination: &flags.LogLevel,
			},
			&cli.StringFlag{
				Name:        "log-file",
				Usage:       "path to log file (optional)",
				Sources:     cli.EnvVars("COURIER_LOG_FILE"),
				Destination: &flags.LogFile,
			},
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "path to config file",
				Sources:     cli.EnvVars("COURIER_CONFIG"),
				Value:       commands.DefaultConfigPath(),
				Destination: &flags.ConfigPath,
			},
			&cli.StringFlag{
				Name:        "data-dir",
				Usage:       "path to data directory",
				Sources:     cli.EnvVars("COURIER_DATA_DIR"),
				Value:       commands.DefaultDataDir(),
				Destination: &flags.DataDir,
			},
			&cli.StringFlag{
				Name:        "env-file",
				Usage:       "dotenv file with COURIER_* variables",
				Value:       ".env",
				Destination: &flags.EnvFile,
			},
			&cli.StringFlag{
				Name:        "user",
				Aliases:     []string{"u"},
				Usage:       "identity to act as",
				Sources:     cli.EnvVars("COURIER_USER"),
				Destination: &flags.User,
			},
		},
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			if err := loadEnvFile(flags.EnvFile); err != nil {
				return ctx, err
			}

			if err := setupLogger(flags.LogLevel, flags.LogFile); err != nil {
				return ctx, err
			}

			cfg, err := config.Load(flags.ConfigPath, flags.DataDir)
			if err != nil {
				return ctx, fmt.Errorf("load config: %w", err)
			}
			flags.Config = cfg

			verifier, err := identity.NewVerifier(cfg.ProviderID, cfg.AuthKey)
			if err != nil {
				return ctx, fmt.Errorf("create verifier: %w", err)
			}

			var (
				conversations = jsonfile.NewConversationStore(cfg.ConversationsFile())
				messages      = jsonfile.NewMsgStore(cfg.MessagesDir())
				outbox        = jsonfile.NewOutbox(cfg.OutboxDir()).WithMaxPending(cfg.Outbox.MaxPending)
			)

			backend, err := local.New(local.Config{
				AppID:         cfg.AppID,
				Verifier:      verifier,
				Conversations: conversations,
				Messages:      messages,
				Outbox:        outbox,
				NonceTTL:      cfg.NonceTTL,
			}, log.With().Str("component", "backend").Logger())
			if err != nil {
				return ctx, err
			}
			flags.Backend = backend

			provider, stopProvider, err := commands.NewTokenProvider(cfg, log.With().Str("component", "identity").Logger())
			if err != nil {
				return ctx, fmt.Errorf("identity provider: %w", err)
			}
			stop = stopProvider

			flags.Service = courier.New(
				backend,
				provider,
				log.With().Str("component", "courier").Logger(),
				courier.WithDisplayNames(cfg.DisplayName),
			)
			flags.Service.Configure(courier.Credentials{
				AppID:      cfg.AppID,
				ProviderID: cfg.ProviderID,
				AuthKey:    cfg.AuthKey,
			})

			return ctx, nil
		},
		After: func(ctx context.Context, c *cli.Command) error {
			if flags.Service != nil && flags.Service.Identity() != "" {
				if err := flags.Service.Deauthenticate(ctx); err != nil {
					log.Warn().Err(err).Msg("deauthenticate failed")
				}
			}
			return stop()
		},
	}

	app = commands.NewSendCmd(flags).Register(app)
	app = commands.NewLsCmd(flags).Register(app)
	app = commands.NewReadCmd(flags).Register(app)
	app = commands.NewStatusCmd(flags).Register(app)
	app = commands.NewUnreadCmd(flags).Register(app)
	app = commands.NewSyncCmd(flags).Register(app)
	app = commands.NewParticipantsCmd(flags).Register(app)
	app = commands.NewMetaCmd(flags).Register(app)
	app = commands.NewIdentityCmd(flags).Register(app)
	app = commands.NewConfigValidateCmd(flags).Register(app)

	exitCode := 0
	if err := app.Run(ctx, os.Args); err != nil {
		fmt.Println()
		printer.Ctx(ctx).FatalError(err)
		exitCode = 1
	}

	os.Exit(exitCode)
}

// loadEnvFile loads COURIER_* variables from a dotenv file. A missing file is
// not an error; variables already set in the environment win.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

func setupLogger(level string, logFile string) error {
	parsedLevel, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("failed to parse log level: %w", err)
	}

	var output io.Writer = zerolog.ConsoleWriter{Out: os.Stderr}

	if logFile != "" {
		// Create log directory if it doesn't exist
		logDir := filepath.Dir(logFile)
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}

		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}

		output = io.MultiWriter(
			zerolog.ConsoleWriter{Out: os.Stderr},
			file,
		)
	}

	log.Logger = log.Output(output).Level(parsedLevel)

	return nil
}
