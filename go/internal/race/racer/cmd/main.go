package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mcdev12/practicetree/go/internal/race/config"
	"github.com/mcdev12/practicetree/go/internal/race/console"
	"github.com/mcdev12/practicetree/go/internal/race/events"
	"github.com/mcdev12/practicetree/go/internal/race/gateway"
	"github.com/mcdev12/practicetree/go/internal/race/participant"
	"github.com/mcdev12/practicetree/go/internal/race/scheduler"
	"github.com/mcdev12/practicetree/go/internal/race/tree"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var errNotJoined = errors.New("not joined to a host, type retry")

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	path := config.Path()
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	zerolog.SetGlobalLevel(cfg.Level())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r := &racer{
		cfg:     cfg,
		path:    path,
		console: console.New(os.Stdin, os.Stdout),
		http:    &http.Client{Timeout: 5 * time.Second},
	}
	r.registerCommands()

	if err := r.join(ctx); err != nil {
		log.Error().Err(err).Str("server_url", cfg.Join.ServerURL).Msg("failed to join host")
		r.console.Printf("could not join %s, type retry or quit\n", cfg.Join.ServerURL)
	}

	if err := r.console.Run(ctx); err != nil {
		log.Error().Err(err).Msg("console failed")
	}
	r.leave()
	log.Info().Msg("racer shutdown complete")
}

// racer is one joined session at a time; retry replaces it.
type racer struct {
	path    string
	console *console.Console
	http    *http.Client

	mu      sync.Mutex
	cfg     config.Config
	session *participant.Session
	link    *gateway.ClientLink
	cancel  context.CancelFunc
}

func (r *racer) settings() config.Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg
}

func (r *racer) join(ctx context.Context) error {
	cfg := r.settings()
	ad, err := gateway.FetchAdvertisement(ctx, r.http, cfg.Join.ServerURL)
	if err != nil {
		return err
	}
	if !ad.Accepting {
		log.Warn().Str("host", ad.Name).Int("connected", ad.Connected).Msg("host reports a full race")
	}

	bus := events.NewBus()
	notices, unsubscribe := bus.Subscribe(8, events.KindBeginRace, events.KindRaceFinished, events.KindLinkLost)

	pcfg := participant.DefaultConfig(participant.RoleClient)
	pcfg.Clients = ad.Clients
	pcfg.DialIn = cfg.Racer.DialIn()
	pcfg.Rollout = cfg.Racer.Rollout()
	session := participant.New(pcfg, bus, tree.NewLogRenderer())

	sessCtx, cancel := context.WithCancel(ctx)
	go session.Run(sessCtx)

	link, err := gateway.Dial(ctx, cfg.Join.ServerURL, cfg.Racer.Name, session.Sync(), gateway.DefaultConnectionConfig())
	if err != nil {
		cancel()
		unsubscribe()
		return err
	}
	go r.watch(sessCtx, notices, unsubscribe)

	r.mu.Lock()
	r.session = session
	r.link = link
	r.cancel = cancel
	r.mu.Unlock()

	r.console.Printf("joined %s as %s, waiting for the host to begin\n", ad.Name, cfg.Racer.Name)
	return nil
}

func (r *racer) leave() {
	r.mu.Lock()
	link, cancel := r.link, r.cancel
	r.session, r.link, r.cancel = nil, nil, nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if link != nil {
		link.Close()
	}
}

func (r *racer) current() (*participant.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session == nil {
		return nil, errNotJoined
	}
	return r.session, nil
}

func (r *racer) watch(ctx context.Context, notices <-chan events.Event, unsubscribe func()) {
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-notices:
			if !ok {
				return
			}
			switch ev := e.(type) {
			case events.BeginRace:
				r.console.Printf("race opened, stage when ready\n")
			case events.RaceFinished:
				r.console.Printf("race finished, type results\n")
			case events.LinkLost:
				r.console.Printf("link to the host lost (%s), type retry or quit\n", ev.Reason)
			}
		}
	}
}

func (r *racer) registerCommands() {
	c := r.console

	c.Handle("stage", "stage at the line", func(context.Context, []string) error {
		s, err := r.current()
		if err != nil {
			return err
		}
		return s.Stage()
	})

	c.Handle("release", "leave the line", func(context.Context, []string) error {
		s, err := r.current()
		if err != nil {
			return err
		}
		rt, raced, err := s.Release()
		if err != nil {
			return err
		}
		if raced {
			c.Printf("reaction time %s\n", scheduler.FormatReactionTime(rt))
		}
		return nil
	})

	c.Handle("results", "show reaction times", func(context.Context, []string) error {
		s, err := r.current()
		if err != nil {
			return err
		}
		c.Printf("%s", console.FormatResults(s.Results()))
		return nil
	})

	c.Handle("retry", "join the host again", func(ctx context.Context, _ []string) error {
		r.leave()
		return r.join(ctx)
	})

	c.Handle("dial", "set and save the dial-in in milliseconds", func(_ context.Context, args []string) error {
		ms, err := millisArg(args)
		if err != nil {
			return err
		}
		if err := r.update(func(cfg *config.Config) { cfg.Racer.DialInMs = ms }); err != nil {
			return err
		}
		if s, err := r.current(); err == nil {
			return s.SetDialIn(time.Duration(ms) * time.Millisecond)
		}
		return nil
	})

	c.Handle("rollout", "set and save the rollout in milliseconds, used from the next join", func(_ context.Context, args []string) error {
		ms, err := millisArg(args)
		if err != nil {
			return err
		}
		return r.update(func(cfg *config.Config) { cfg.Racer.RolloutMs = ms })
	})

	c.Handle("name", "set and save the racer name, used from the next join", func(_ context.Context, args []string) error {
		if len(args) != 1 {
			return errors.New("usage: name <name>")
		}
		return r.update(func(cfg *config.Config) { cfg.Racer.Name = args[0] })
	})
}

// update changes the settings and saves them.
func (r *racer) update(fn func(*config.Config)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	next := r.cfg
	fn(&next)
	if err := config.Save(r.path, next); err != nil {
		return err
	}
	r.cfg = next
	return nil
}

func millisArg(args []string) (int, error) {
	if len(args) != 1 {
		return 0, errors.New("expected one value in milliseconds")
	}
	ms, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, fmt.Errorf("parse %q: %w", args[0], err)
	}
	return ms, nil
}
