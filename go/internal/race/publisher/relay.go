package publisher

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/practicetree/go/internal/race/events"
	"github.com/rs/zerolog/log"
)

const (
	relayBuffer         = 64
	defaultRelayTimeout = 5 * time.Second
)

// RelayedKinds are the coordinator events copied to the stream.
var RelayedKinds = []events.Kind{
	events.KindClientsConnected,
	events.KindStageUpdate,
	events.KindBeginRace,
	events.KindStartRace,
	events.KindRaceFinished,
}

type RelayOption func(*Relay)

// WithRelayClock stamps events from clock instead of the wall clock.
func WithRelayClock(clock clockwork.Clock) RelayOption {
	return func(r *Relay) { r.clock = clock }
}

// WithPublishTimeout bounds each publish.
func WithPublishTimeout(d time.Duration) RelayOption {
	return func(r *Relay) { r.timeout = d }
}

// Relay copies coordinator events from a bus to an EventPublisher. A failed publish is
// logged and the relay moves on; the race never waits on the stream.
type Relay struct {
	pub       EventPublisher
	sessionID uuid.UUID
	clock     clockwork.Clock
	timeout   time.Duration

	inbox  <-chan events.Event
	cancel func()
}

// NewRelay subscribes to bus right away so no event published after it returns is missed.
func NewRelay(bus *events.Bus, pub EventPublisher, sessionID uuid.UUID, opts ...RelayOption) *Relay {
	r := &Relay{
		pub:       pub,
		sessionID: sessionID,
		clock:     clockwork.NewRealClock(),
		timeout:   defaultRelayTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.inbox, r.cancel = bus.Subscribe(relayBuffer, RelayedKinds...)
	return r
}

// SessionID identifies this host run on the stream.
func (r *Relay) SessionID() uuid.UUID { return r.sessionID }

// Run publishes events until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	defer r.cancel()

	log.Info().Str("session_id", r.sessionID.String()).Msg("race event relay started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-r.inbox:
			if !ok {
				return nil
			}
			r.relay(ctx, e)
		}
	}
}

func (r *Relay) relay(ctx context.Context, e events.Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		log.Error().Err(err).Str("event_type", string(e.Kind())).Msg("failed to marshal race event")
		return
	}

	event := RaceEvent{
		ID:        uuid.New(),
		SessionID: r.sessionID,
		EventType: string(e.Kind()),
		Payload:   payload,
		CreatedAt: r.clock.Now(),
	}

	pubCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := r.pub.Publish(pubCtx, event); err != nil {
		log.Error().
			Err(err).
			Str("event_type", event.EventType).
			Str("event_id", event.ID.String()).
			Msg("failed to relay race event")
	}
}
