package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/hay-kot/courier/internal/core/conversation"
	"github.com/hay-kot/courier/internal/printer"
)

type LsCmd struct {
	flags *Flags

	match  string
	format string
}

// NewLsCmd creates a new ls command
func NewLsCmd(flags *Flags) *LsCmd {
	return &LsCmd{flags: flags}
}

// Register adds the ls command to the application
func (cmd *LsCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "ls",
		Usage:     "List conversations",
		UsageText: "courier ls [--match <pattern>] [--format text|json]",
		Description: `Displays your conversations, most recent message first.

--match filters by participant using glob syntax, for example
'*@example.com' or 'bob*'.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "match",
				Aliases:     []string{"m"},
				Usage:       "only show conversations with a participant matching this glob",
				Destination: &cmd.match,
			},
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

func (cmd *LsCmd) run(ctx context.Context, c *cli.Command) error {
	p := printer.Ctx(ctx)

	if err := cmd.flags.Authenticate(ctx); err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}

	convs, err := cmd.flags.Service.Conversations(ctx)
	if err != nil {
		return fmt.Errorf("list conversations: %w", err)
	}

	filtered := make([]conversation.Conversation, 0, len(convs))
	for _, conv := range convs {
		ok, err := matchParticipants(cmd.match, conv.Participants)
		if err != nil {
			return err
		}
		if ok {
			filtered = append(filtered, conv)
		}
	}

	if cmd.format == "json" {
		enc := json.NewEncoder(c.Root().Writer)
		for _, conv := range filtered {
			if err := enc.Encode(conv); err != nil {
				return err
			}
		}
		return nil
	}

	if len(filtered) == 0 {
		p.Infof("No conversations found")
		return nil
	}

	w := tabwriter.NewWriter(c.Root().Writer, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tPARTICIPANTS\tTITLE\tLAST MESSAGE")

	for _, conv := range filtered {
		title := conv.Title()
		if title == "" {
			title = "-"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			conv.ID,
			strings.Join(conv.Participants, ", "),
			title,
			shortTime(conv.LastMessageAt),
		)
	}

	return w.Flush()
}
