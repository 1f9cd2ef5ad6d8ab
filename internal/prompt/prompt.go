// Package prompt reads interactive input for the CLI: secret values
// that must not echo, and yes/no confirmations for approval-gated
// operations.
package prompt

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"
)

// Prompter reads interactive input from the terminal.
type Prompter struct {
	reader *bufio.Reader
}

// New creates a prompter reading from stdin.
func New() *Prompter {
	return &Prompter{reader: bufio.NewReader(os.Stdin)}
}

// String prompts for one line of input.
func (p *Prompter) String(message string) (string, error) {
	fmt.Print(message)
	input, err := p.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(input), nil
}

// Secret prompts for sensitive input. On a terminal the input is not
// echoed; piped input reads one line as usual.
func (p *Prompter) Secret(message string) (string, error) {
	fmt.Print(message)

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		input, err := p.reader.ReadString('\n')
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(input), nil
	}

	value, err := term.ReadPassword(fd)
	if err != nil {
		return "", err
	}
	fmt.Println()
	return string(value), nil
}

// Confirm prompts for a yes/no answer. Anything but y/yes is no.
func (p *Prompter) Confirm(message string) (bool, error) {
	input, err := p.String(fmt.Sprintf("%s [y/N]: ", message))
	if err != nil {
		return false, err
	}
	input = strings.ToLower(input)
	return input == "y" || input == "yes", nil
}
