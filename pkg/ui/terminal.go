package ui

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

// Banner printed at the top of interactive runs
const Banner = `
  ┌───────────────────────────────────────┐
  │  productsync · product pages → table  │
  └───────────────────────────────────────┘
`

const (
	cyan    = "\033[36m%s\033[0m"
	yellow  = "\033[33m%s\033[0m"
	red     = "\033[31m%s\033[0m"
	green   = "\033[32m%s\033[0m"
	magenta = "\033[35m%s\033[0m"
	dim     = "\033[2m%s\033[0m"
)

// Printer writes colored status lines. Color is only used when enabled.
type Printer struct {
	out   io.Writer
	color bool
	quiet bool
}

// NewPrinter creates a printer on w. Color is enabled when w is a terminal.
func NewPrinter(w io.Writer) *Printer {
	color := false
	if f, ok := w.(*os.File); ok {
		color = term.IsTerminal(int(f.Fd()))
	}
	return &Printer{out: w, color: color}
}

// SetColor forces color on or off
func (p *Printer) SetColor(on bool) { p.color = on }

// SetQuiet suppresses everything except errors
func (p *Printer) SetQuiet(on bool) { p.quiet = on }

// Writer returns the underlying writer
func (p *Printer) Writer() io.Writer { return p.out }

func (p *Printer) paint(format, text string) string {
	if !p.color {
		return text
	}
	return fmt.Sprintf(format, text)
}

func (p *Printer) Cyan(s string) string    { return p.paint(cyan, s) }
func (p *Printer) Yellow(s string) string  { return p.paint(yellow, s) }
func (p *Printer) Red(s string) string     { return p.paint(red, s) }
func (p *Printer) Green(s string) string   { return p.paint(green, s) }
func (p *Printer) Magenta(s string) string { return p.paint(magenta, s) }
func (p *Printer) Dim(s string) string     { return p.paint(dim, s) }

// PrintBanner prints the banner
func (p *Printer) PrintBanner() {
	if p.quiet {
		return
	}
	fmt.Fprint(p.out, p.Cyan(Banner))
}

// PrintError prints an error message in red
func (p *Printer) PrintError(msg string, args ...interface{}) {
	if len(args) > 0 {
		fmt.Fprintln(p.out, p.Red(msg+": "+fmt.Sprintf("%v", args[0])))
	} else {
		fmt.Fprintln(p.out, p.Red(msg))
	}
}

// PrintSuccess prints a success message in green
func (p *Printer) PrintSuccess(msg string) {
	if p.quiet {
		return
	}
	fmt.Fprintln(p.out, p.Green(msg))
}

// PrintInfo prints a label/value pair
func (p *Printer) PrintInfo(label string, value string) {
	if p.quiet {
		return
	}
	fmt.Fprintf(p.out, "%s: %s\n", p.Cyan(label), p.Yellow(value))
}

// PrintWarning prints a warning message in yellow
func (p *Printer) PrintWarning(msg string, args ...interface{}) {
	if p.quiet {
		return
	}
	if len(args) > 0 {
		fmt.Fprintln(p.out, p.Yellow(msg+": "+fmt.Sprintf("%v", args[0])))
	} else {
		fmt.Fprintln(p.out, p.Yellow(msg))
	}
}

// PrintHighlight prints a highlighted message in magenta
func (p *Printer) PrintHighlight(msg string) {
	if p.quiet {
		return
	}
	fmt.Fprintln(p.out, p.Magenta(msg))
}
