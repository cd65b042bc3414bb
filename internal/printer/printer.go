// Package printer writes styled status output for the courier CLI.
package printer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/hay-kot/criterio"
	"golang.org/x/term"
)

// ANSI color codes (Tokyo Night palette)
const (
	ColorReset     = "\033[0m"
	ColorRed       = "\033[38;2;215;95;107m"  // #d75f6b
	ColorGreen     = "\033[38;2;158;206;106m" // #9ece6a
	ColorYellow    = "\033[38;2;224;175;104m" // #e0af68
	ColorGray      = "\033[38;2;86;95;137m"   // #565f89
	ColorBold      = "\033[1m"
	ColorUnderline = "\033[4m"
)

// Symbols
const (
	Check = "✔"
	Cross = "✘"
	Dot   = "•"
)

type ctxKey struct{}

// Printer handles formatted output with colors and styles
type Printer struct {
	writer io.Writer
	color  bool
}

// New creates a new Printer that writes to the given writer. Colors are
// enabled only when w is a terminal and NO_COLOR is unset.
func New(w io.Writer) *Printer {
	return &Printer{
		writer: w,
		color:  colorEnabled(w),
	}
}

func colorEnabled(w io.Writer) bool {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// NewContext returns a context with the printer attached
func NewContext(ctx context.Context, p *Printer) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

// Ctx retrieves the printer from context, or creates a default one
func Ctx(ctx context.Context) *Printer {
	if p, ok := ctx.Value(ctxKey{}).(*Printer); ok {
		return p
	}
	return New(os.Stderr)
}

// FatalError prints a formatted error box and does NOT exit
// Caller should handle exit code
func (p *Printer) FatalError(err error) {
	if err == nil {
		return
	}

	var fieldErrs criterio.FieldErrors
	if errors.As(err, &fieldErrs) {
		p.printBox("Validation Error", fieldContext(err, fieldErrs), fieldLines(fieldErrs))
		return
	}

	p.printBox("Error", "", []string{p.colorize(ColorGray, err.Error())})
}

// fieldContext returns the wrapping text in front of the field errors, for
// example "load config: invalid config".
func fieldContext(wrapped error, fieldErrs criterio.FieldErrors) string {
	errStr := wrapped.Error()
	if idx := strings.Index(errStr, fieldErrs.Error()); idx > 0 {
		return strings.TrimSuffix(errStr[:idx], ": ")
	}
	return ""
}

func fieldLines(fieldErrs criterio.FieldErrors) []string {
	lines := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		line := Cross + " "
		if fe.Field != "" {
			line += fe.Field + ": "
		}
		lines = append(lines, line+fe.Err.Error())
	}
	return lines
}

func (p *Printer) printBox(title, detail string, lines []string) {
	var b strings.Builder
	bar := p.colorize(ColorRed, "│")

	b.WriteString(p.colorize(ColorRed, "╭ "+title) + "\n")
	if detail != "" {
		b.WriteString(bar + " " + p.colorize(ColorGray, detail) + "\n")
		b.WriteString(bar + "\n")
	}
	for _, line := range lines {
		b.WriteString(bar + " " + line + "\n")
	}
	b.WriteString(p.colorize(ColorRed, "╵") + "\n")

	_, _ = io.WriteString(p.writer, b.String())
}

// Errorf prints an error message in red
func (p *Printer) Errorf(format string, args ...any) {
	p.line(ColorRed, Cross+" "+fmt.Sprintf(format, args...))
}

// Successf prints a success message in green
func (p *Printer) Successf(format string, args ...any) {
	p.line(ColorGreen, Check+" "+fmt.Sprintf(format, args...))
}

// Infof prints an info message in gray
func (p *Printer) Infof(format string, args ...any) {
	p.line(ColorGray, Dot+" "+fmt.Sprintf(format, args...))
}

// Warnf prints a warning message in yellow
func (p *Printer) Warnf(format string, args ...any) {
	p.line(ColorYellow, Dot+" "+fmt.Sprintf(format, args...))
}

// Printf prints a plain message without colors
func (p *Printer) Printf(format string, args ...any) {
	_, _ = fmt.Fprintf(p.writer, format+"\n", args...)
}

// Section prints a section header (bold + underlined)
func (p *Printer) Section(title string) {
	p.line(ColorBold+ColorUnderline, title)
}

// CheckItem prints an indented item with a green checkmark.
func (p *Printer) CheckItem(label, detail string) {
	p.item(ColorGreen, Check, label, detail)
}

// WarnItem prints an indented item with a yellow dot.
func (p *Printer) WarnItem(label, detail string) {
	p.item(ColorYellow, Dot, label, detail)
}

// FailItem prints an indented item with a red cross.
func (p *Printer) FailItem(label, detail string) {
	p.item(ColorRed, Cross, label, detail)
}

func (p *Printer) item(color, symbol, label, detail string) {
	line := "  " + p.colorize(color, symbol) + " " + label
	if detail != "" {
		line += ": " + detail
	}
	p.Printf("%s", line)
}

func (p *Printer) line(color, text string) {
	_, _ = io.WriteString(p.writer, p.colorize(color, text)+"\n")
}

// colorize applies ANSI color codes to text
func (p *Printer) colorize(color, text string) string {
	if !p.color {
		return text
	}
	return color + text + ColorReset
}
