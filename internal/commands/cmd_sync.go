package commands

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/hay-kot/courier/internal/core/push"
	"github.com/hay-kot/courier/internal/printer"
)

type SyncCmd struct {
	flags *Flags

	listen   bool
	timeout  time.Duration
	interval time.Duration
}

// NewSyncCmd creates a new sync command.
func NewSyncCmd(flags *Flags) *SyncCmd {
	return &SyncCmd{flags: flags}
}

// Register adds the sync command to the application.
func (cmd *SyncCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "sync",
		Usage:     "Receive pending push notifications",
		UsageText: "courier sync [--listen] [--timeout 30s]",
		Description: `Drains your pending push notifications, prints their alerts and marks
the referenced messages as delivered.

With --listen, keeps polling for new notifications until the timeout.`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "listen",
				Aliases:     []string{"l"},
				Usage:       "poll for new notifications instead of returning immediately",
				Destination: &cmd.listen,
			},
			&cli.DurationFlag{
				Name:        "timeout",
				Usage:       "how long --listen keeps polling",
				Value:       30 * time.Second,
				Destination: &cmd.timeout,
			},
			&cli.DurationFlag{
				Name:        "interval",
				Usage:       "poll interval for --listen",
				Value:       500 * time.Millisecond,
				Destination: &cmd.interval,
			},
		},
		Action: cmd.run,
	})

	return app
}

func (cmd *SyncCmd) run(ctx context.Context, c *cli.Command) error {
	p := printer.Ctx(ctx)

	if err := cmd.flags.Authenticate(ctx); err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}

	delivered, err := cmd.drain(ctx, c.Root().Writer)
	if err != nil {
		return err
	}

	if cmd.listen {
		n, err := cmd.poll(ctx, c.Root().Writer)
		delivered += n
		if err != nil {
			return err
		}
	}

	p.Infof("%d message(s) delivered", delivered)
	return nil
}

func (cmd *SyncCmd) poll(ctx context.Context, out io.Writer) (int, error) {
	deadline := time.Now().Add(cmd.timeout)
	ticker := time.NewTicker(cmd.interval)
	defer ticker.Stop()

	total := 0
	for {
		select {
		case <-ctx.Done():
			return total, ctx.Err()
		case <-ticker.C:
			if time.Now().After(deadline) {
				return total, nil
			}

			n, err := cmd.drain(ctx, out)
			total += n
			if err != nil {
				return total, err
			}
		}
	}
}

// drain applies all pending notifications and returns how many changed a
// message's status. Undecodable payloads are skipped.
func (cmd *SyncCmd) drain(ctx context.Context, out io.Writer) (int, error) {
	p := printer.Ctx(ctx)

	payloads, err := cmd.flags.Backend.PendingNotifications(ctx)
	if err != nil {
		return 0, fmt.Errorf("drain notifications: %w", err)
	}

	delivered := 0
	for _, payload := range payloads {
		n, err := push.Decode(payload)
		if err != nil {
			p.Warnf("skipping notification: %v", err)
			continue
		}

		changed, err := cmd.flags.Service.Synchronize(ctx, payload)
		if err != nil {
			p.Warnf("sync %s: %v", n.MessageID, err)
			continue
		}
		if changed {
			delivered++
		}

		_, _ = fmt.Fprintf(out, "%s\t%s\t%s\n", n.ConversationID, n.MessageID, n.Alert)
	}

	return delivered, nil
}
