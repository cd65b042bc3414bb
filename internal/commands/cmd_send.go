package commands

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/hay-kot/courier/internal/core/message"
	"github.com/hay-kot/courier/internal/courier"
	"github.com/hay-kot/courier/internal/printer"
)

type SendCmd struct {
	flags *Flags

	to           []string
	conversation string
	location     string
	date         string
	imagePath    string
}

// NewSendCmd creates a new send command.
func NewSendCmd(flags *Flags) *SendCmd {
	return &SendCmd{flags: flags}
}

// Register adds the send command to the application.
func (cmd *SendCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "send",
		Usage:     "Send a message",
		UsageText: "courier send (--to <identity>... | --conversation <id>) [options] [text]",
		Description: `Sends a message to a conversation.

The conversation is resolved from --to recipients (you are always included),
or named directly with --conversation. A conversation between exactly two
people is reused; larger groups get a new conversation each time.

The message is one of:
- text from the arguments, or from stdin when it is not a terminal
- a location with --location lat,lon
- a date with --date (RFC 3339 or "now")
- an image with --image (sent as JPEG for .jpg/.jpeg files, PNG otherwise)

Examples:
  courier send --to bob@example.com "lunch?"
  echo "build finished" | courier send --to bob@example.com --to carol@example.com
  courier send --conversation 6f1c... --location 52.52,13.40`,
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:        "to",
				Aliases:     []string{"t"},
				Usage:       "recipient identity (repeatable)",
				Destination: &cmd.to,
			},
			&cli.StringFlag{
				Name:        "conversation",
				Usage:       "send to an existing conversation",
				Destination: &cmd.conversation,
			},
			&cli.StringFlag{
				Name:        "location",
				Usage:       "send a location as lat,lon",
				Destination: &cmd.location,
			},
			&cli.StringFlag{
				Name:        "date",
				Usage:       "send a date (RFC 3339 or \"now\")",
				Destination: &cmd.date,
			},
			&cli.StringFlag{
				Name:        "image",
				Usage:       "send an image file",
				Destination: &cmd.imagePath,
			},
		},
		Action: cmd.run,
	})

	return app
}

func (cmd *SendCmd) run(ctx context.Context, c *cli.Command) error {
	p := printer.Ctx(ctx)

	if len(cmd.to) == 0 && cmd.conversation == "" {
		return errors.New("either --to or --conversation is required")
	}
	if len(cmd.to) > 0 && cmd.conversation != "" {
		return errors.New("--to and --conversation cannot be combined")
	}

	send, err := cmd.sender(c)
	if err != nil {
		return err
	}

	if err := cmd.flags.Authenticate(ctx); err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}

	comm, err := cmd.communicator(ctx)
	if err != nil {
		return err
	}

	msg, err := send(ctx, comm)
	if err != nil {
		return err
	}

	p.Successf("Sent %s", msg.ID)
	_, _ = fmt.Fprintf(c.Root().Writer, "%s\t%s\n", comm.Conversation().ID, msg.ID)
	return nil
}

func (cmd *SendCmd) communicator(ctx context.Context) (*courier.Communicator, error) {
	if cmd.conversation != "" {
		conv, err := cmd.flags.Service.Conversation(ctx, cmd.conversation)
		if err != nil {
			return nil, fmt.Errorf("get conversation: %w", err)
		}
		return cmd.flags.Service.CommunicatorFor(conv), nil
	}

	comm, err := cmd.flags.Service.Communicator(ctx, cmd.to...)
	if err != nil {
		return nil, fmt.Errorf("resolve conversation: %w", err)
	}
	return comm, nil
}

type sendFunc func(context.Context, *courier.Communicator) (message.Message, error)

// sender picks what to send from the flags, reading text when no other
// payload is given.
func (cmd *SendCmd) sender(c *cli.Command) (sendFunc, error) {
	set := 0
	for _, v := range []string{cmd.location, cmd.date, cmd.imagePath} {
		if v != "" {
			set++
		}
	}
	if set > 1 || (set == 1 && c.NArg() > 0) {
		return nil, errors.New("send one of text, --location, --date or --image")
	}

	switch {
	case cmd.location != "":
		coord, err := parseCoordinate(cmd.location)
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context, comm *courier.Communicator) (message.Message, error) {
			return comm.SendLocation(ctx, coord, nil)
		}, nil

	case cmd.date != "":
		t, err := parseDate(cmd.date, time.Now())
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context, comm *courier.Communicator) (message.Message, error) {
			return comm.SendDate(ctx, t)
		}, nil

	case cmd.imagePath != "":
		img, err := loadImage(cmd.imagePath)
		if err != nil {
			return nil, err
		}
		ext := strings.ToLower(filepath.Ext(cmd.imagePath))
		return func(ctx context.Context, comm *courier.Communicator) (message.Message, error) {
			if ext == ".jpg" || ext == ".jpeg" {
				return comm.SendJPEG(ctx, img)
			}
			return comm.SendImage(ctx, img)
		}, nil
	}

	text, err := readText(c.Args().Slice(), os.Stdin)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context, comm *courier.Communicator) (message.Message, error) {
		return comm.SendText(ctx, text)
	}, nil
}

// readText joins args, or reads stdin when there are no args and stdin is
// not a terminal.
func readText(args []string, stdin *os.File) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}

	if term.IsTerminal(int(stdin.Fd())) {
		return "", errors.New("no message text: pass it as an argument or pipe it on stdin")
	}

	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}

	text := strings.TrimRight(string(data), "\n")
	if text == "" {
		return "", errors.New("no message text on stdin")
	}
	return text, nil
}

func loadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	defer f.Close() //nolint:errcheck

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode image %s: %w", path, err)
	}
	return img, nil
}
