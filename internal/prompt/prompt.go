// Package prompt collects migration and restore parameters from an operator
// on a terminal. It only builds options; running them is the caller's job.
package prompt

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/term"
)

// ErrAborted is returned when the operator declines a confirmation.
var ErrAborted = errors.New("aborted by operator")

// IsInteractive reports whether stdin is a terminal.
func IsInteractive() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

type Prompter struct {
	in  *bufio.Reader
	out io.Writer
}

func New(in io.Reader, out io.Writer) *Prompter {
	return &Prompter{in: bufio.NewReader(in), out: out}
}

func (p *Prompter) readLine() (string, error) {
	text, err := p.in.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && text != "" {
			return strings.TrimSpace(text), nil
		}
		if errors.Is(err, io.EOF) {
			return "", io.ErrUnexpectedEOF
		}
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// Ask prints label and returns the answer, or def for an empty answer.
func (p *Prompter) Ask(label, def string) (string, error) {
	if def != "" {
		fmt.Fprintf(p.out, "%s [%s]: ", label, def)
	} else {
		fmt.Fprintf(p.out, "%s: ", label)
	}
	answer, err := p.readLine()
	if err != nil {
		return "", err
	}
	if answer == "" {
		return def, nil
	}
	return answer, nil
}

// Confirm asks a yes/no question.
func (p *Prompter) Confirm(label string, def bool) (bool, error) {
	hint := "y/N"
	if def {
		hint = "Y/n"
	}
	for {
		fmt.Fprintf(p.out, "%s [%s]: ", label, hint)
		answer, err := p.readLine()
		if err != nil {
			return false, err
		}
		switch strings.ToLower(answer) {
		case "":
			return def, nil
		case "y", "yes":
			return true, nil
		case "n", "no":
			return false, nil
		}
		fmt.Fprintln(p.out, "please answer yes or no")
	}
}

// Int asks for a positive integer.
func (p *Prompter) Int(label string, def int) (int, error) {
	for {
		answer, err := p.Ask(label, strconv.Itoa(def))
		if err != nil {
			return 0, err
		}
		n, err := strconv.Atoi(answer)
		if err == nil && n > 0 {
			return n, nil
		}
		fmt.Fprintln(p.out, "please enter a positive number")
	}
}

// Choose prints a numbered list and returns the selected option. Options
// may be picked by number or by name.
func (p *Prompter) Choose(label string, options []string, def string) (string, error) {
	if len(options) == 0 {
		return "", fmt.Errorf("%s: nothing to choose from", label)
	}
	p.list(options)
	for {
		answer, err := p.Ask(label, def)
		if err != nil {
			return "", err
		}
		if picked, ok := pick(answer, options); ok {
			return picked, nil
		}
		fmt.Fprintf(p.out, "unknown choice %q\n", answer)
	}
}

// ChooseMany returns one or more options given as a comma separated list of
// numbers or names. An empty answer is not accepted: the operator has to
// name what they want.
func (p *Prompter) ChooseMany(label string, options []string) ([]string, error) {
	if len(options) == 0 {
		return nil, fmt.Errorf("%s: nothing to choose from", label)
	}
	p.list(options)
outer:
	for {
		answer, err := p.Ask(label+" (comma separated)", "")
		if err != nil {
			return nil, err
		}
		if answer == "" {
			fmt.Fprintln(p.out, "select at least one")
			continue
		}
		var picked []string
		seen := map[string]bool{}
		for _, part := range strings.Split(answer, ",") {
			choice, ok := pick(strings.TrimSpace(part), options)
			if !ok {
				fmt.Fprintf(p.out, "unknown choice %q\n", strings.TrimSpace(part))
				continue outer
			}
			if !seen[choice] {
				seen[choice] = true
				picked = append(picked, choice)
			}
		}
		return picked, nil
	}
}

// ConfirmTyped asks the operator to type expected verbatim before an
// irreversible action.
func (p *Prompter) ConfirmTyped(label, expected string) error {
	fmt.Fprintf(p.out, "%s\nType %q to continue: ", label, expected)
	answer, err := p.readLine()
	if err != nil {
		return err
	}
	if answer != expected {
		return ErrAborted
	}
	return nil
}

func (p *Prompter) list(options []string) {
	for i, o := range options {
		fmt.Fprintf(p.out, "  %d) %s\n", i+1, o)
	}
}

func pick(answer string, options []string) (string, bool) {
	if answer == "" {
		return "", false
	}
	if n, err := strconv.Atoi(answer); err == nil {
		if n >= 1 && n <= len(options) {
			return options[n-1], true
		}
		return "", false
	}
	for _, o := range options {
		if o == answer {
			return o, true
		}
	}
	return "", false
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
