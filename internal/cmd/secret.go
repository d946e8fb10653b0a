package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// readSecret returns arg unless it is "-", in which case the secret is read
// from the terminal without echo, or as the first line of a non-terminal stdin.
func readSecret(arg, principal string, stdin io.Reader, prompt io.Writer) (string, error) {
	if arg != "-" {
		return arg, nil
	}

	if f, ok := stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprintf(prompt, "Secret for %s: ", principal)
		secret, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(prompt)
		if err != nil {
			return "", fmt.Errorf("reading secret: %w", err)
		}
		return string(secret), nil
	}

	line, err := bufio.NewReader(stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading secret from stdin: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
