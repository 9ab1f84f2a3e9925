package credential

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"pocket_archiver/internal/domain"
)

// ConsoleApprover prints the authorization URL and waits for the operator to
// confirm on the terminal. An empty line, "y" or "yes" confirms.
type ConsoleApprover struct {
	in  io.Reader
	out io.Writer

	once  sync.Once
	lines chan string // closed at end of input
}

func NewConsoleApprover(in io.Reader, out io.Writer) *ConsoleApprover {
	return &ConsoleApprover{in: in, out: out}
}

func (a *ConsoleApprover) AwaitApproval(ctx context.Context, authorizeURL string) error {
	_, _ = fmt.Fprintf(a.out, "Open this URL in your browser and approve access:\n\n  %s\n\n", authorizeURL)
	_, _ = fmt.Fprint(a.out, "Press <Enter> after approving access (n to abort) ... ")

	// A read cannot be interrupted, so one goroutine owns the input for the
	// approver's lifetime and a canceled wait leaves its line to the next call.
	a.once.Do(func() {
		a.lines = make(chan string)
		go a.readLines()
	})

	select {
	case <-ctx.Done():
		return ctx.Err()
	case line, ok := <-a.lines:
		if !ok {
			return fmt.Errorf("%w: no confirmation received", domain.ErrNotApproved)
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "", "y", "yes":
			return nil
		default:
			return domain.ErrNotApproved
		}
	}
}

func (a *ConsoleApprover) readLines() {
	defer close(a.lines)

	r := bufio.NewReader(a.in)
	for {
		line, err := r.ReadString('\n')
		if err != nil && line == "" {
			return
		}
		a.lines <- line
		if err != nil {
			return
		}
	}
}
