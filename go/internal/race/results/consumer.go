package results

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/practicetree/go/internal/race/events"
	"github.com/mcdev12/practicetree/go/internal/race/publisher"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

// ErrNotFinished is returned for a stream message that is not a RaceFinished event.
var ErrNotFinished = errors.New("not a race finished event")

// Recorder stores a decoded race.
type Recorder interface {
	Record(ctx context.Context, race Race) (bool, error)
}

type ConsumerConfig struct {
	StreamName    string
	Name          string
	FilterSubject string
	MaxDeliver    int
	AckWait       time.Duration
	MaxAckPending int
	Buffer        int
}

// DefaultConsumerConfig consumes RaceFinished events from the stream described by js.
func DefaultConsumerConfig(js publisher.JetStreamConfig) ConsumerConfig {
	return ConsumerConfig{
		StreamName:    js.StreamName,
		Name:          "race-results-recorder",
		FilterSubject: js.Subject(string(events.KindRaceFinished)),
		MaxDeliver:    5,
		AckWait:       30 * time.Second,
		MaxAckPending: 100,
		Buffer:        16,
	}
}

// Consumer feeds finished races from JetStream to a Recorder.
type Consumer struct {
	cfg      ConsumerConfig
	recorder Recorder
	consumer jetstream.Consumer
}

// NewConsumer creates or reuses the durable consumer.
func NewConsumer(ctx context.Context, js jetstream.JetStream, cfg ConsumerConfig, recorder Recorder) (*Consumer, error) {
	c := &Consumer{cfg: cfg, recorder: recorder}
	if err := c.ensureConsumer(ctx, js); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Consumer) ensureConsumer(ctx context.Context, js jetstream.JetStream) error {
	stream, err := js.Stream(ctx, c.cfg.StreamName)
	if err != nil {
		return fmt.Errorf("get stream: %w", err)
	}

	consumer, err := stream.Consumer(ctx, c.cfg.Name)
	if err == nil {
		log.Info().Str("consumer", c.cfg.Name).Msg("using existing JetStream consumer")
		c.consumer = consumer
		return nil
	}

	consumer, err = stream.CreateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          c.cfg.Name,
		Durable:       c.cfg.Name,
		Description:   "Records finished races",
		FilterSubject: c.cfg.FilterSubject,
		DeliverPolicy: jetstream.DeliverAllPolicy,
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxDeliver:    c.cfg.MaxDeliver,
		AckWait:       c.cfg.AckWait,
		MaxAckPending: c.cfg.MaxAckPending,
		ReplayPolicy:  jetstream.ReplayInstantPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer: %w", err)
	}
	log.Info().Str("consumer", c.cfg.Name).Msg("created JetStream consumer")
	c.consumer = consumer
	return nil
}

// Run records races until ctx is done.
func (c *Consumer) Run(ctx context.Context) error {
	msgCh := make(chan jetstream.Msg, c.cfg.Buffer)

	consumeCtx, err := c.consumer.Consume(func(msg jetstream.Msg) {
		select {
		case msgCh <- msg:
		case <-ctx.Done():
			msg.Nak()
		}
	})
	if err != nil {
		return fmt.Errorf("start JetStream consumer: %w", err)
	}
	defer consumeCtx.Stop()

	log.Info().Str("consumer", c.cfg.Name).Msg("recording finished races")
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-msgCh:
			if err := c.process(ctx, msg.Data()); err != nil {
				if errors.Is(err, ErrNotFinished) {
					log.Warn().Err(err).Str("subject", msg.Subject()).Msg("skipping message")
					msg.Term()
					continue
				}
				log.Error().Err(err).Str("subject", msg.Subject()).Msg("failed to record race")
				msg.Nak()
				continue
			}
			msg.Ack()
		}
	}
}

func (c *Consumer) process(ctx context.Context, data []byte) error {
	race, err := decodeRace(data)
	if err != nil {
		return err
	}

	recorded, err := c.recorder.Record(ctx, race)
	if err != nil {
		return err
	}
	log.Info().
		Str("event_id", race.EventID.String()).
		Str("session_id", race.SessionID.String()).
		Int("race", race.Race).
		Bool("duplicate", !recorded).
		Msg("race recorded")
	return nil
}

// decodeRace reads a RaceFinished envelope.
func decodeRace(data []byte) (Race, error) {
	var env publisher.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Race{}, fmt.Errorf("%w: unmarshal envelope: %v", ErrNotFinished, err)
	}
	if env.EventType != string(events.KindRaceFinished) {
		return Race{}, fmt.Errorf("%w: %q", ErrNotFinished, env.EventType)
	}

	eventID, err := uuid.Parse(env.EventID)
	if err != nil {
		return Race{}, fmt.Errorf("%w: parse event id: %v", ErrNotFinished, err)
	}
	sessionID, err := uuid.Parse(env.SessionID)
	if err != nil {
		return Race{}, fmt.Errorf("%w: parse session id: %v", ErrNotFinished, err)
	}

	var finished events.RaceFinished
	if err := json.Unmarshal(env.Payload, &finished); err != nil {
		return Race{}, fmt.Errorf("%w: unmarshal payload: %v", ErrNotFinished, err)
	}

	at := finished.At
	if at.IsZero() {
		at = env.Timestamp
	}
	return Race{
		EventID:    eventID,
		SessionID:  sessionID,
		Race:       finished.Race,
		FinishedAt: at,
		Results:    finished.Results,
	}, nil
}
