package shell

import (
	"context"
	"fmt"
	"os"
	"strings"

	prompt "github.com/c-bata/go-prompt"
	"golang.org/x/term"

	"github.com/xtxerr/procrank/internal/errors"
)

// Suggestions returns completions for the text before the cursor. Only the
// command word is completed.
func Suggestions(before string) []prompt.Suggest {
	if strings.Contains(before, " ") {
		return nil
	}
	suggests := make([]prompt.Suggest, 0, len(Commands))
	for _, c := range Commands {
		suggests = append(suggests, prompt.Suggest{Text: c.Name, Description: c.Description})
	}
	return prompt.FilterHasPrefix(suggests, before, true)
}

// Completer is the go-prompt completer for the shell.
func Completer(d prompt.Document) []prompt.Suggest {
	return Suggestions(d.TextBeforeCursor())
}

// Run starts the interactive shell and returns after exit or as soon as ctx
// is done. On cancellation the prompt goroutine stays blocked on stdin, so
// the terminal state is restored here and the caller is expected to exit.
func Run(ctx context.Context, e *Executor) {
	fmt.Fprintln(e.out, "procrank shell, type help for commands")

	fd := int(os.Stdin.Fd())
	if state, err := term.GetState(fd); err == nil {
		defer term.Restore(fd, state)
	}

	p := prompt.New(
		func(line string) {
			if ctx.Err() != nil {
				e.exited = true
				return
			}
			if err := e.Execute(ctx, line); err != nil && !errors.Is(err, ErrExit) {
				fmt.Fprintf(e.out, "error: %v\n", err)
			}
		},
		Completer,
		prompt.OptionPrefix("procrank> "),
		prompt.OptionTitle("procrank"),
		prompt.OptionSetExitCheckerOnInput(func(in string, breakline bool) bool {
			return ctx.Err() != nil || (breakline && e.Exited())
		}),
	)

	if !runUntil(ctx, p.Run) {
		fmt.Fprintln(e.out, "\nshell closed")
	}
}

// runUntil runs fn in its own goroutine and waits for it or for ctx. It
// reports whether fn returned.
func runUntil(ctx context.Context, fn func()) bool {
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
