package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/cuemby/burrow/pkg/certs"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// prompter asks the operator questions on the controlling terminal. Prompts
// are written to stderr so stdout carries only command output.
type prompter struct {
	in          *bufio.Reader
	out         io.Writer
	interactive bool
	readSecret  func() (string, error)
}

func newPrompter() *prompter {
	fd := int(os.Stdin.Fd())
	return &prompter{
		in:          bufio.NewReader(os.Stdin),
		out:         os.Stderr,
		interactive: term.IsTerminal(fd),
		readSecret: func() (string, error) {
			b, err := term.ReadPassword(fd)
			return string(b), err
		},
	}
}

func (p *prompter) line(question string) (string, error) {
	fmt.Fprint(p.out, question)
	answer, err := p.in.ReadString('\n')
	if err != nil && answer == "" {
		return "", err
	}
	return strings.TrimSpace(answer), nil
}

// yesNo asks a yes/no question; anything but y or yes is no
func (p *prompter) yesNo(question string) bool {
	answer, err := p.line(question + " [y/N]: ")
	if err != nil {
		return false
	}
	answer = strings.ToLower(answer)
	return answer == "y" || answer == "yes"
}

// secret reads a value without echo
func (p *prompter) secret(question string) (string, error) {
	fmt.Fprint(p.out, question)
	value, err := p.readSecret()
	fmt.Fprintln(p.out)
	return strings.TrimSpace(value), err
}

// confirmDestructive gates data-destroying commands. On a terminal the
// operator answers a yes/no question (skipped by --yes) and then types the
// instance name (skipped only by --confirm <name>). Off a terminal both
// --yes and --confirm <name> are required.
func (p *prompter) confirmDestructive(cmd *cobra.Command, name, what string) error {
	yes, _ := cmd.Flags().GetBool("yes")
	confirm, _ := cmd.Flags().GetString("confirm")

	if confirm != "" && confirm != name {
		return fmt.Errorf("--confirm %q does not match instance %q", confirm, name)
	}

	if !p.interactive {
		if yes && confirm == name {
			return nil
		}
		return fmt.Errorf("refusing to %s without a terminal; pass --yes --confirm %s", what, name)
	}

	if !yes && !p.yesNo(fmt.Sprintf("This will %s. Continue?", what)) {
		return fmt.Errorf("aborted")
	}
	if confirm == name {
		return nil
	}

	typed, err := p.line(fmt.Sprintf("Type the instance name (%s) to confirm: ", name))
	if err != nil {
		return fmt.Errorf("aborted: %w", err)
	}
	if typed != name {
		return fmt.Errorf("aborted: %q does not match %q", typed, name)
	}
	return nil
}

// dnsDecider asks whether to request a certificate after a failed DNS check
func (p *prompter) dnsDecider() func(certs.DNSReport) bool {
	return func(r certs.DNSReport) bool {
		fmt.Fprintln(p.out, r.Message())
		return p.yesNo("Request a certificate anyway?")
	}
}

func addConfirmFlags(cmd *cobra.Command) {
	cmd.Flags().BoolP("yes", "y", false, "Skip the yes/no prompt")
	cmd.Flags().String("confirm", "", "Instance name, skips typing it at the prompt")
}
