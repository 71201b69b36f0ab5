package console

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunDispatchesUntilQuit(t *testing.T) {
	var out bytes.Buffer
	c := New(strings.NewReader("stage\n\n  dial 10250 \nbogus\nfail\nquit\nstage\n"), &out)

	var stages int
	var dialArgs []string
	c.Handle("stage", "stage the racer", func(context.Context, []string) error {
		stages++
		return nil
	})
	c.Handle("dial", "set dial-in", func(_ context.Context, args []string) error {
		dialArgs = args
		return nil
	})
	c.Handle("fail", "always fails", func(context.Context, []string) error {
		return errors.New("not connected")
	})

	require.NoError(t, c.Run(context.Background()))
	assert.Equal(t, 1, stages)
	assert.Equal(t, []string{"10250"}, dialArgs)
	assert.Contains(t, out.String(), `unknown command "bogus"`)
	assert.Contains(t, out.String(), "error: not connected")
}

func TestHelpListsCommands(t *testing.T) {
	var out bytes.Buffer
	c := New(strings.NewReader("help\n"), &out)
	c.Handle("begin", "open the race", func(context.Context, []string) error { return nil })

	require.NoError(t, c.Run(context.Background()))
	assert.Contains(t, out.String(), "begin")
	assert.Contains(t, out.String(), "open the race")
	assert.Contains(t, out.String(), "quit")
}

func TestRunStopsWithContext(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()
	c := New(r, io.Discard)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("console did not stop")
	}
}

func TestFormatResults(t *testing.T) {
	got := FormatResults(map[int]time.Duration{
		4: -35 * time.Millisecond,
		1: 120 * time.Millisecond,
	})
	assert.Equal(t, "  racer 1: 0.120\n  host: -0.035 red light\n", got)
	assert.Equal(t, "no reaction times yet\n", FormatResults(nil))
}
