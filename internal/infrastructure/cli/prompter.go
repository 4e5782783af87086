package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/mattn/go-isatty"

	"github.com/doeshing/pcpilot/internal/domain"
	"github.com/doeshing/pcpilot/internal/ports"
)

// Prompter asks the user on stdin to pick between tied candidates.
type Prompter struct {
	in          *bufio.Reader
	out         io.Writer
	interactive bool
}

// NewPrompter constructs a prompter. A nil reader means stdin, which only
// counts as interactive when it is a terminal.
func NewPrompter(in io.Reader, out io.Writer) *Prompter {
	interactive := true
	if in == nil {
		in = os.Stdin
		interactive = isTerminal(os.Stdin)
	}
	if out == nil {
		out = os.Stderr
	}
	return &Prompter{
		in:          bufio.NewReader(in),
		out:         out,
		interactive: interactive,
	}
}

// Enabled reports whether there is someone to ask.
func (p *Prompter) Enabled() bool {
	return p.interactive
}

// Choose lists the candidates and reads a 1-based choice. An empty line, EOF
// or an out-of-range answer cancels with -1.
func (p *Prompter) Choose(query string, candidates []domain.Intent) (int, error) {
	fmt.Fprintf(p.out, "%s could mean:\n", strconv.Quote(query))
	for i, c := range candidates {
		fmt.Fprintf(p.out, "  %d) %s %s\n", i+1, c.Action, describeTarget(c.Target))
	}
	fmt.Fprintf(p.out, "Choose 1-%d (Enter to cancel): ", len(candidates))

	line, err := p.in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return -1, err
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return -1, nil
	}
	n, err := strconv.Atoi(line)
	if err != nil || n < 1 || n > len(candidates) {
		return -1, nil
	}
	return n - 1, nil
}

func describeTarget(t domain.TargetRef) string {
	if t.Resolved && t.Path != "" {
		return fmt.Sprintf("%s (%s)", t.Name, t.Path)
	}
	return t.Label()
}

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

var _ ports.Disambiguator = (*Prompter)(nil)
