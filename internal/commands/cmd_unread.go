package commands

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"
)

type UnreadCmd struct {
	flags *Flags
}

// NewUnreadCmd creates a new unread command.
func NewUnreadCmd(flags *Flags) *UnreadCmd {
	return &UnreadCmd{flags: flags}
}

// Register adds the unread command to the application.
func (cmd *UnreadCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:        "unread",
		Usage:       "Print the number of unread messages",
		UsageText:   "courier unread",
		Description: "Prints how many messages addressed to you have not been read yet. Errors count as zero.",
		Action:      cmd.run,
	})

	return app
}

func (cmd *UnreadCmd) run(ctx context.Context, c *cli.Command) error {
	if err := cmd.flags.Authenticate(ctx); err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}

	_, err := fmt.Fprintln(c.Root().Writer, cmd.flags.Service.UnreadCount(ctx))
	return err
}
