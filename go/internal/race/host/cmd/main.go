package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/mcdev12/practicetree/go/internal/race/config"
	"github.com/mcdev12/practicetree/go/internal/race/console"
	"github.com/mcdev12/practicetree/go/internal/race/coordinator"
	"github.com/mcdev12/practicetree/go/internal/race/events"
	"github.com/mcdev12/practicetree/go/internal/race/gateway"
	"github.com/mcdev12/practicetree/go/internal/race/participant"
	"github.com/mcdev12/practicetree/go/internal/race/publisher"
	"github.com/mcdev12/practicetree/go/internal/race/scheduler"
	"github.com/mcdev12/practicetree/go/internal/race/tree"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load(config.Path())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	zerolog.SetGlobalLevel(cfg.Level())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus := events.NewBus()

	coordCfg := coordinator.DefaultConfig()
	coordCfg.Clients = cfg.Host.Clients
	coordCfg.SettleDelay = cfg.Host.SettleDelay()
	coord := coordinator.New(coordCfg, bus)
	go func() {
		if err := coord.Run(ctx); err != nil {
			log.Error().Err(err).Msg("coordinator stopped")
		}
	}()

	if cfg.NATS.Enabled() {
		startRelay(ctx, cfg.NATS, bus)
	}

	hostCfg := participant.DefaultConfig(participant.RoleHost)
	hostCfg.Clients = cfg.Host.Clients
	hostCfg.DialIn = cfg.Racer.DialIn()
	hostCfg.Rollout = cfg.Racer.Rollout()
	session := participant.New(hostCfg, bus, tree.NewLogRenderer())
	go session.Run(ctx)

	link, err := coordinator.Attach(ctx, coord, coordinator.HostParticipant, session.Sync())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to attach host racer")
	}

	cm := gateway.NewConnectionManager(coord, gateway.DefaultConnectionConfig())
	server := gateway.NewServer(cfg.Host.Port, gateway.NewWebSocketHandler(cm, cfg.Host.Name))

	go func() {
		log.Info().
			Str("addr", server.Addr).
			Str("name", cfg.Host.Name).
			Int("clients", cfg.Host.Clients).
			Msg("hosting race")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	c := console.New(os.Stdin, os.Stdout)
	registerCommands(c, coord, session)
	c.Printf("host %q on port %d, type help for commands\n", cfg.Host.Name, cfg.Host.Port)

	consoleDone := make(chan error, 1)
	go func() { consoleDone <- c.Run(ctx) }()

	select {
	case <-ctx.Done():
		log.Info().Msg("received shutdown signal")
	case err := <-consoleDone:
		if err != nil {
			log.Error().Err(err).Msg("console failed")
		}
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	cm.Close()
	if err := link.Close(shutdownCtx); err != nil && !errors.Is(err, coordinator.ErrStopped) {
		log.Warn().Err(err).Msg("failed to detach host racer")
	}

	log.Info().Msg("host shutdown complete")
}

// startRelay copies race events to JetStream. The race runs without it when NATS is
// unreachable.
func startRelay(ctx context.Context, cfg config.NATSConfig, bus *events.Bus) {
	pub, err := publisher.NewJetStreamPublisher(ctx, cfg.JetStream())
	if err != nil {
		log.Warn().Err(err).Str("url", cfg.URL).Msg("race events will not be relayed")
		return
	}
	relay := publisher.NewRelay(bus, pub, uuid.New())
	go func() {
		defer pub.Close()
		if err := relay.Run(ctx); err != nil {
			log.Error().Err(err).Msg("race event relay stopped")
		}
	}()
}

func registerCommands(c *console.Console, coord *coordinator.Coordinator, session *participant.Session) {
	c.Handle("begin", "open the race once every racer joined", func(ctx context.Context, _ []string) error {
		if err := coord.StartRace(ctx); err != nil {
			return err
		}
		c.Printf("race opened, stage when ready\n")
		return nil
	})

	c.Handle("stage", "stage the host racer", func(context.Context, []string) error {
		return session.Stage()
	})

	c.Handle("release", "leave the line", func(context.Context, []string) error {
		rt, raced, err := session.Release()
		if err != nil {
			return err
		}
		if raced {
			c.Printf("reaction time %s\n", scheduler.FormatReactionTime(rt))
		}
		return nil
	})

	c.Handle("results", "show reaction times", func(context.Context, []string) error {
		c.Printf("%s", console.FormatResults(session.Results()))
		return nil
	})

	c.Handle("status", "show the race state", func(ctx context.Context, _ []string) error {
		s, err := coord.Snapshot(ctx)
		if err != nil {
			return err
		}
		c.Printf("%s", formatSnapshot(s))
		return nil
	})
}

func formatSnapshot(s coordinator.Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "phase %s, %d/%d connected, race %d", s.PhaseName, s.Connected, s.Clients, s.Race)
	if s.Settling {
		b.WriteString(", settling")
	}
	b.WriteString("\n")
	for _, r := range s.Racers {
		fmt.Fprintf(&b, "  racer %d connected=%t staged=%t dial=%s rt=%q\n",
			r.RacerID, r.Connected, r.Staged, r.DialIn, r.ReactionTime)
	}
	return b.String()
}
