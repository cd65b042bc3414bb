package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/hay-kot/courier/internal/core/message"
)

type StatusCmd struct {
	flags  *Flags
	format string
}

// NewStatusCmd creates a new status command.
func NewStatusCmd(flags *Flags) *StatusCmd {
	return &StatusCmd{flags: flags}
}

// Register adds the status command to the application.
func (cmd *StatusCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:        "status",
		Usage:       "Show delivery status of a message",
		UsageText:   "courier status <conversation-id> <message-id>",
		Description: "Shows, for each recipient, whether a message is pending, sent, delivered or read.",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "format",
				Usage:       "output format (text, json)",
				Value:       "text",
				Destination: &cmd.format,
			},
		},
		Action: cmd.run,
	})

	return app
}

func (cmd *StatusCmd) run(ctx context.Context, c *cli.Command) error {
	if c.NArg() != 2 {
		return fmt.Errorf("expected conversation id and message id, got %d arguments", c.NArg())
	}

	if err := cmd.flags.Authenticate(ctx); err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}

	tracker := cmd.flags.Service.Tracker()
	msg, err := tracker.Refresh(ctx, message.Message{
		ID:             c.Args().Get(1),
		ConversationID: c.Args().Get(0),
	})
	if err != nil {
		return fmt.Errorf("get message: %w", err)
	}

	recipients := make([]string, 0, len(msg.RecipientStatus))
	for identity := range msg.RecipientStatus {
		recipients = append(recipients, identity)
	}
	slices.Sort(recipients)

	if cmd.format == "json" {
		out := struct {
			MessageID string                             `json:"message_id"`
			Sender    string                             `json:"sender"`
			Status    map[string]message.RecipientStatus `json:"status"`
		}{
			MessageID: msg.ID,
			Sender:    msg.Sender,
			Status:    msg.RecipientStatus,
		}
		enc := json.NewEncoder(c.Root().Writer)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	w := tabwriter.NewWriter(c.Root().Writer, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "RECIPIENT\tSTATUS")
	for _, identity := range recipients {
		_, _ = fmt.Fprintf(w, "%s\t%s\n", identity, tracker.StatusFor(msg, identity))
	}
	return w.Flush()
}
