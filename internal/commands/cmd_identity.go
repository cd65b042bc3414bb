package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/hay-kot/courier/internal/printer"
)

type IdentityCmd struct {
	flags  *Flags
	listen string
}

// NewIdentityCmd creates a new identity command.
func NewIdentityCmd(flags *Flags) *IdentityCmd {
	return &IdentityCmd{flags: flags}
}

// Register adds the identity command to the application.
func (cmd *IdentityCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:  "identity",
		Usage: "Identity provider commands",
		Commands: []*cli.Command{
			{
				Name:      "serve",
				Usage:     "Run the identity provider",
				UsageText: "courier identity serve [--listen addr]",
				Description: `Serves POST /identity_tokens, signing identity tokens with the configured
provider_id and auth_key. Point other machines at it with identity.url or
COURIER_IDENTITY_URL.`,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:        "listen",
						Usage:       "address to listen on (default: identity.listen from config)",
						Destination: &cmd.listen,
					},
				},
				Action: cmd.runServe,
			},
		},
	})

	return app
}

func (cmd *IdentityCmd) runServe(ctx context.Context, c *cli.Command) error {
	p := printer.Ctx(ctx)
	cfg := cmd.flags.Config

	addr := cmd.listen
	if addr == "" {
		addr = cfg.Identity.Listen
	}

	srv, err := newIdentityServer(cfg, log.With().Str("component", "identity").Logger())
	if err != nil {
		return err
	}
	srv.Addr = addr

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	p.Successf("Identity provider listening on %s", addr)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	p.Infof("Identity provider stopped")
	return nil
}
