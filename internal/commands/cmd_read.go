package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/hay-kot/courier/internal/printer"
)

type ReadCmd struct {
	flags *Flags

	last   int
	format string
	noMark bool
}

// NewReadCmd creates a new read command.
func NewReadCmd(flags *Flags) *ReadCmd {
	return &ReadCmd{flags: flags}
}

// Register adds the read command to the application.
func (cmd *ReadCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "read",
		Usage:     "Show the messages of a conversation",
		UsageText: "courier read [options] <conversation-id>",
		Description: `Prints the messages of a conversation, oldest first, and marks them
as read for you unless --no-mark is given.`,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:        "last",
				Aliases:     []string{"n"},
				Usage:       "show only the last N messages",
				Destination: &cmd.last,
			},
			&cli.StringFlag{
				Name:        "format",
				Usage:       "output format (text, json)",
				Value:       "text",
				Destination: &cmd.format,
			},
			&cli.BoolFlag{
				Name:        "no-mark",
				Usage:       "do not mark messages as read",
				Destination: &cmd.noMark,
			},
		},
		Action: cmd.run,
	})

	return app
}

func (cmd *ReadCmd) run(ctx context.Context, c *cli.Command) error {
	p := printer.Ctx(ctx)

	if c.NArg() != 1 {
		return fmt.Errorf("expected one conversation id, got %d arguments", c.NArg())
	}

	if err := cmd.flags.Authenticate(ctx); err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}

	conv, err := cmd.flags.Service.Conversation(ctx, c.Args().First())
	if err != nil {
		return fmt.Errorf("get conversation: %w", err)
	}

	comm := cmd.flags.Service.CommunicatorFor(conv)
	msgs, err := comm.Messages(ctx)
	if err != nil {
		return fmt.Errorf("list messages: %w", err)
	}

	if cmd.last > 0 && len(msgs) > cmd.last {
		msgs = msgs[len(msgs)-cmd.last:]
	}

	if cmd.format == "json" {
		enc := json.NewEncoder(c.Root().Writer)
		for _, msg := range msgs {
			if err := enc.Encode(msg); err != nil {
				return err
			}
		}
	} else {
		tracker := cmd.flags.Service.Tracker()
		w := tabwriter.NewWriter(c.Root().Writer, 0, 0, 2, ' ', 0)
		for _, msg := range msgs {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				shortTime(msg.SentAt),
				msg.Sender,
				tracker.Status(msg),
				describeMessage(msg),
			)
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}

	if cmd.noMark || len(msgs) == 0 {
		return nil
	}

	if err := comm.MarkAllRead(ctx); err != nil {
		p.Warnf("could not mark messages as read: %v", err)
	}
	return nil
}
