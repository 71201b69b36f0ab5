// Package console runs the line-oriented operator loop of the host and racer binaries.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

// ErrQuit ends Run without an error when returned by a command.
var ErrQuit = errors.New("quit")

// Handler runs one command with the words that followed it.
type Handler func(ctx context.Context, args []string) error

type command struct {
	help string
	fn   Handler
}

// Console maps command words to handlers.
type Console struct {
	in  io.Reader
	out io.Writer

	mu       sync.Mutex
	commands map[string]command
}

func New(in io.Reader, out io.Writer) *Console {
	c := &Console{in: in, out: out, commands: make(map[string]command)}
	c.Handle("help", "list commands", c.help)
	c.Handle("quit", "leave", func(context.Context, []string) error { return ErrQuit })
	return c
}

// Handle registers fn under name, replacing any earlier handler.
func (c *Console) Handle(name, help string, fn Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.commands[name] = command{help: help, fn: fn}
}

// Printf writes to the console output.
func (c *Console) Printf(format string, args ...interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

// Run executes commands until ctx is done, input ends or a command returns ErrQuit.
// A failing command is reported and the loop goes on.
func (c *Console) Run(ctx context.Context) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			return err
		case line := <-lines:
			if err := c.exec(ctx, line); err != nil {
				if errors.Is(err, ErrQuit) {
					return nil
				}
				c.Printf("error: %v\n", err)
			}
		}
	}
}

func (c *Console) exec(ctx context.Context, line string) error {
	words := strings.Fields(line)
	if len(words) == 0 {
		return nil
	}

	c.mu.Lock()
	cmd, ok := c.commands[words[0]]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown command %q, try help", words[0])
	}

	log.Debug().Str("command", words[0]).Strs("args", words[1:]).Msg("console command")
	return cmd.fn(ctx, words[1:])
}

func (c *Console) help(context.Context, []string) error {
	c.mu.Lock()
	names := make([]string, 0, len(c.commands))
	for name := range c.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	var b strings.Builder
	for _, name := range names {
		fmt.Fprintf(&b, "  %-10s %s\n", name, c.commands[name].help)
	}
	c.mu.Unlock()

	c.Printf("%s", b.String())
	return nil
}
