package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/hay-kot/courier/internal/courier"
	"github.com/hay-kot/courier/internal/printer"
)

type ParticipantsCmd struct {
	flags *Flags
}

// NewParticipantsCmd creates a new participants command.
func NewParticipantsCmd(flags *Flags) *ParticipantsCmd {
	return &ParticipantsCmd{flags: flags}
}

// Register adds the participants command to the application.
func (cmd *ParticipantsCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:  "participants",
		Usage: "Change the participants of a conversation",
		Description: `Adds or removes participants. Changing the participants of a
two-person conversation turns it into a group conversation for good.`,
		Commands: []*cli.Command{
			{
				Name:      "add",
				Usage:     "Add participants",
				UsageText: "courier participants add <conversation-id> <identity>...",
				Action: func(ctx context.Context, c *cli.Command) error {
					return cmd.run(ctx, c, "added", (*courier.Communicator).AddParticipants)
				},
			},
			{
				Name:      "remove",
				Usage:     "Remove participants",
				UsageText: "courier participants remove <conversation-id> <identity>...",
				Action: func(ctx context.Context, c *cli.Command) error {
					return cmd.run(ctx, c, "removed", (*courier.Communicator).RemoveParticipants)
				},
			},
		},
	})

	return app
}

type participantsFunc func(*courier.Communicator, context.Context, ...string) error

func (cmd *ParticipantsCmd) run(ctx context.Context, c *cli.Command, verb string, apply participantsFunc) error {
	p := printer.Ctx(ctx)

	if c.NArg() < 2 {
		return fmt.Errorf("expected a conversation id and at least one identity")
	}

	if err := cmd.flags.Authenticate(ctx); err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}

	conv, err := cmd.flags.Service.Conversation(ctx, c.Args().First())
	if err != nil {
		return fmt.Errorf("get conversation: %w", err)
	}

	ids := c.Args().Slice()[1:]
	comm := cmd.flags.Service.CommunicatorFor(conv)
	if err := apply(comm, ctx, ids...); err != nil {
		return err
	}

	p.Successf("%s %s", verb, strings.Join(ids, ", "))
	p.Infof("participants: %s", strings.Join(comm.Conversation().Participants, ", "))
	return nil
}
