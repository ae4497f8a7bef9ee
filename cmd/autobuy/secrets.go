package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"golang.org/x/term"

	"github.com/Franzelswarnmps/R-AutoBuy/internal/paths"
	"github.com/Franzelswarnmps/R-AutoBuy/internal/secrets"
)

// SecretsCmd groups the secret subcommands.
type SecretsCmd struct {
	Set SecretsSetCmd `cmd:"" help:"Store a secret for {{secret:NAME}} placeholders."`
}

type SecretsSetCmd struct {
	Name string `arg:"" help:"Secret name (letters, digits and _)."`
}

// Run prompts for the value on a terminal and reads one line from stdin
// otherwise.
func (c *SecretsSetCmd) Run(g *Globals) error {
	_, path, err := configPaths(g)
	if err != nil {
		// no config yet: use the default location
		if path, err = paths.SecretsPath(""); err != nil {
			return err
		}
	}
	if err := paths.EnsureParentDir(path); err != nil {
		return err
	}

	var value string
	if stdinIsTerminal() {
		var confirmValue string
		form := huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title(c.Name).
					EchoMode(huh.EchoModePassword).
					Value(&value),
				huh.NewInput().
					Title("Confirm").
					EchoMode(huh.EchoModePassword).
					Value(&confirmValue),
			),
		)
		if err := form.Run(); err != nil {
			if errors.Is(err, huh.ErrUserAborted) {
				return nil
			}
			return err
		}
		if value != confirmValue {
			return fmt.Errorf("values do not match")
		}
	} else {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("failed to read secret from stdin: %w", err)
		}
		value = strings.TrimRight(line, "\r\n")
	}

	if value == "" {
		return fmt.Errorf("empty value")
	}
	if err := secrets.Set(path, c.Name, value); err != nil {
		return err
	}
	fmt.Printf("stored %s in %s\n", c.Name, path)
	return nil
}

// confirm asks a yes/no question. Without a terminal it refuses.
func confirm(question string) (bool, error) {
	if !stdinIsTerminal() {
		return false, fmt.Errorf("not a terminal, pass --yes to confirm")
	}
	var ok bool
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(question).
				Value(&ok),
		),
	)
	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return false, nil
		}
		return false, err
	}
	return ok, nil
}

func stdinIsTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}
