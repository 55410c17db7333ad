package vaultctl

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

// readPassword is a test seam for term.ReadPassword.
var readPassword = term.ReadPassword

var errEmptyPassword = errors.New("empty password")

// getPassword prompts on w and reads a password without echo. With
// fromStdin it reads one line from in instead, for scripts.
func getPassword(w io.Writer, in io.Reader, prompt string, fromStdin bool) ([]byte, error) {
	var (
		pw  []byte
		err error
	)
	if fromStdin {
		line, rerr := bufio.NewReader(in).ReadString('\n')
		if rerr != nil && !errors.Is(rerr, io.EOF) {
			return nil, rerr
		}
		pw = []byte(trimTrailingNewline(line))
	} else {
		if _, err := fmt.Fprint(w, prompt); err != nil {
			return nil, err
		}
		pw, err = readPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(w)
		if err != nil {
			return nil, err
		}
	}
	if len(pw) == 0 {
		return nil, errEmptyPassword
	}
	return pw, nil
}
