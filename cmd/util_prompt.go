package cmd

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"syscall"

	"github.com/manifoldco/promptui"
	"golang.org/x/crypto/ssh/terminal"

	"github.com/segmentio/aws-assume/lib/provider"
)

var mfaTokenRegexp = regexp.MustCompile(`^[0-9]{6}$`)

func interactive() bool {
	return terminal.IsTerminal(int(os.Stdin.Fd()))
}

func validateMFAToken(s string) error {
	if !mfaTokenRegexp.MatchString(s) {
		return errors.New("MFA token must be 6 digits")
	}
	return nil
}

// mfaPrompt asks for MFA codes on the terminal. Without one it returns nil so
// the provider fails with ErrMFATokenRequired.
func mfaPrompt() provider.TokenProvider {
	if !interactive() {
		return nil
	}
	return provider.TokenFunc(func(serial string) (string, error) {
		// stdout may be evaluated by a shell
		prompt := promptui.Prompt{
			Label:    fmt.Sprintf("Enter MFA token code for %s", serial),
			Validate: validateMFAToken,
			Stdout:   os.Stderr,
		}
		return prompt.Run()
	})
}

// keyringPassword unlocks the file keyring backend.
func keyringPassword(prompt string) (string, error) {
	if !interactive() {
		return "", errors.New("keyring password required but no terminal is attached")
	}
	fmt.Fprintf(os.Stderr, "%s: ", prompt)
	defer fmt.Fprintf(os.Stderr, "\n")

	input, err := terminal.ReadPassword(int(syscall.Stdin))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(input)), nil
}
