package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/mcdev12/practicetree/go/internal/dbconfig"
	"github.com/mcdev12/practicetree/go/internal/race/config"
	"github.com/mcdev12/practicetree/go/internal/race/publisher"
	"github.com/mcdev12/practicetree/go/internal/race/results"
	"github.com/mcdev12/practicetree/go/internal/race/scheduler"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const recentOnStartup = 5

func main() {
	// load .env
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})

	cfg, err := config.Load(config.Path())
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	zerolog.SetGlobalLevel(cfg.Level())
	if !cfg.NATS.Enabled() {
		log.Fatal().Msg("NATS_URL is required to record races")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// DB config
	dbCfg := dbconfig.NewConfigFromEnv()
	db, err := results.Open(ctx, dbCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("open database")
	}
	defer db.Close()
	log.Info().
		Str("driver", dbCfg.Driver).
		Str("host", dbCfg.Host).
		Int("port", dbCfg.Port).
		Str("database", dbCfg.Database).
		Msg("connected to database")

	store := results.NewStore(db)
	if err := store.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("migrate")
	}
	logRecent(ctx, store)

	// JetStream consumer
	jsCfg := cfg.NATS.JetStream()
	nc, js, err := publisher.Connect(jsCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("connect to NATS")
	}
	defer nc.Close()
	if err := publisher.EnsureStream(ctx, js, jsCfg); err != nil {
		log.Fatal().Err(err).Msg("ensure stream")
	}

	consumer, err := results.NewConsumer(ctx, js, results.DefaultConsumerConfig(jsCfg), store)
	if err != nil {
		log.Fatal().Err(err).Msg("create consumer")
	}

	if err := consumer.Run(ctx); err != nil {
		log.Error().Err(err).Msg("consumer exited unexpectedly")
		return
	}
	log.Info().Msg("graceful shutdown complete")
}

func logRecent(ctx context.Context, store *results.Store) {
	races, err := store.Recent(ctx, recentOnStartup)
	if err != nil {
		log.Warn().Err(err).Msg("failed to list recent races")
		return
	}
	for _, race := range races {
		for _, r := range race.Results {
			log.Info().
				Str("session_id", race.SessionID.String()).
				Int("race", race.Race).
				Time("finished_at", race.FinishedAt).
				Int("racer_id", r.RacerID).
				Str("reaction_time", scheduler.FormatReactionTime(r.ReactionTime)).
				Bool("foul", r.Foul).
				Msg("recent result")
		}
	}
}
