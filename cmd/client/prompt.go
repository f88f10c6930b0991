package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

// prompter asks the user for values the flags did not supply.
type prompter struct {
	in  *bufio.Scanner
	out io.Writer
}

func newPrompter(in io.Reader, out io.Writer) *prompter {
	return &prompter{in: bufio.NewScanner(in), out: out}
}

// ask prints label and returns the trimmed answer. An empty answer is an
// error.
func (p *prompter) ask(label string) (string, error) {
	fmt.Fprintf(p.out, "%s: ", label)
	if !p.in.Scan() {
		if err := p.in.Err(); err != nil {
			return "", fmt.Errorf("read %s: %w", strings.ToLower(label), err)
		}
		return "", fmt.Errorf("no %s given", strings.ToLower(label))
	}
	answer := strings.TrimSpace(p.in.Text())
	if answer == "" {
		return "", fmt.Errorf("no %s given", strings.ToLower(label))
	}
	return answer, nil
}

// askOptional is ask without the emptiness check.
func (p *prompter) askOptional(label string) string {
	fmt.Fprintf(p.out, "%s (optional): ", label)
	if !p.in.Scan() {
		return ""
	}
	return strings.TrimSpace(p.in.Text())
}

// askNewPassword asks for a password twice.
func (p *prompter) askNewPassword() (string, error) {
	pw, err := p.ask("Password")
	if err != nil {
		return "", err
	}
	again, err := p.ask("Repeat password")
	if err != nil {
		return "", err
	}
	if pw != again {
		return "", errors.New("passwords do not match")
	}
	return pw, nil
}
