package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/forest6511/devlock/pkg/crypto"
)

// Prompter reads passwords. Input from a terminal is read without echo;
// anything else (pipes, tests) is read line by line.
type Prompter struct {
	out    io.Writer
	reader *bufio.Reader
	fd     int
	isTerm bool
}

// NewPrompter creates a Prompter reading from in and writing prompts to out.
func NewPrompter(in io.Reader, out io.Writer) *Prompter {
	p := &Prompter{
		out:    out,
		reader: bufio.NewReader(in),
	}
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		p.fd = int(f.Fd())
		p.isTerm = true
	}
	return p
}

// IsTerminal reports whether input comes from an interactive terminal.
func (p *Prompter) IsTerminal() bool {
	return p.isTerm
}

// ReadPassword prints prompt and reads one password. It returns io.EOF when
// input is exhausted.
func (p *Prompter) ReadPassword(prompt string) (string, error) {
	fmt.Fprint(p.out, prompt)

	if p.isTerm {
		b, err := term.ReadPassword(p.fd)
		fmt.Fprintln(p.out) // Add newline after hidden input
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		defer crypto.SecureWipe(b)
		return string(b), nil
	}

	line, err := p.reader.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && line != "" {
			return line, nil
		}
		if errors.Is(err, io.EOF) {
			return "", io.EOF
		}
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	line = strings.TrimSuffix(line, "\n")
	return strings.TrimSuffix(line, "\r"), nil
}
