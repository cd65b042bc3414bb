package commands

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/urfave/cli/v3"

	"github.com/hay-kot/courier/internal/printer"
)

type MetaCmd struct {
	flags *Flags
	clear bool
}

// NewMetaCmd creates a new meta command.
func NewMetaCmd(flags *Flags) *MetaCmd {
	return &MetaCmd{flags: flags}
}

// Register adds the meta command to the application.
func (cmd *MetaCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "meta",
		Usage:     "Show or replace conversation metadata",
		UsageText: "courier meta <conversation-id> [key=value...]",
		Description: `Without pairs, prints the metadata of a conversation. With pairs, replaces
the whole metadata map; keys that are not given are removed.

Examples:
  courier meta 6f1c...
  courier meta 6f1c... title="Release planning"
  courier meta --clear 6f1c...`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "clear",
				Usage:       "remove all metadata",
				Destination: &cmd.clear,
			},
		},
		Action: cmd.run,
	})

	return app
}

func (cmd *MetaCmd) run(ctx context.Context, c *cli.Command) error {
	p := printer.Ctx(ctx)

	if c.NArg() < 1 {
		return fmt.Errorf("expected a conversation id")
	}

	if err := cmd.flags.Authenticate(ctx); err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}

	conv, err := cmd.flags.Service.Conversation(ctx, c.Args().First())
	if err != nil {
		return fmt.Errorf("get conversation: %w", err)
	}

	pairs := c.Args().Slice()[1:]
	if len(pairs) == 0 && !cmd.clear {
		for _, key := range slices.Sorted(maps.Keys(conv.Metadata)) {
			_, _ = fmt.Fprintf(c.Root().Writer, "%s=%s\n", key, conv.Metadata[key])
		}
		return nil
	}

	if len(pairs) > 0 && cmd.clear {
		return fmt.Errorf("--clear cannot be combined with key=value pairs")
	}

	meta, err := parseMetadata(pairs)
	if err != nil {
		return err
	}

	if err := cmd.flags.Service.CommunicatorFor(conv).UpdateMetadata(ctx, meta); err != nil {
		return err
	}

	p.Successf("Updated metadata (%d key(s))", len(meta))
	return nil
}
