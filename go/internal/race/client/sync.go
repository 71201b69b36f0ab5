// Package client is the participant side of the race protocol. Sync issues every read,
// write and subscription through a transport.Queue, keeps a mirror of the values it has
// seen and turns link callbacks into events.
package client

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/practicetree/go/internal/race/events"
	"github.com/mcdev12/practicetree/go/internal/race/registry"
	"github.com/mcdev12/practicetree/go/internal/race/transport"
	"github.com/rs/zerolog/log"
)

// ErrNoRacerID is returned by operations on the participant's own cells before the
// server assigned a racer id.
var ErrNoRacerID = errors.New("racer id not assigned yet")

// Option customizes a Sync.
type Option func(*Sync)

// WithClock replaces the real clock used to stamp events.
func WithClock(clock clockwork.Clock) Option {
	return func(s *Sync) { s.clock = clock }
}

// WithLocalStage registers a hook run synchronously by SetStage, before the write is sent.
func WithLocalStage(fn func(staged bool)) Option {
	return func(s *Sync) { s.onStage = fn }
}

// Sync is one participant's view of the race.
type Sync struct {
	bus     *events.Bus
	queue   *transport.Queue
	clock   clockwork.Clock
	racers  []int
	onStage func(bool)

	mu      sync.Mutex
	racerID int
	dials   map[int]time.Duration
	rts     map[int]time.Duration
	staged  map[int]bool
}

var _ transport.Handler = (*Sync)(nil)

// New creates a Sync for a race with the given number of client racers.
func New(bus *events.Bus, clients int, opts ...Option) *Sync {
	s := &Sync{
		bus:    bus,
		queue:  transport.NewQueue(),
		clock:  clockwork.NewRealClock(),
		racers: registry.Racers(clients),
		dials:  make(map[int]time.Duration),
		rts:    make(map[int]time.Duration),
		staged: make(map[int]bool),
	}
	for _, id := range s.racers {
		s.dials[id] = registry.DefaultDialIn
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Racers returns the racer ids of the race.
func (s *Sync) Racers() []int { return append([]int(nil), s.racers...) }

// RacerID returns the assigned racer id, 0 until assigned.
func (s *Sync) RacerID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.racerID
}

// DialIns returns the mirrored dial-in of every racer.
func (s *Sync) DialIns() map[int]time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int]time.Duration, len(s.dials))
	for id, d := range s.dials {
		out[id] = d
	}
	return out
}

// ReactionTime returns a racer's mirrored reaction time.
func (s *Sync) ReactionTime(racerID int) (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rt, ok := s.rts[racerID]
	return rt, ok
}

// Staged returns a racer's mirrored stage flag.
func (s *Sync) Staged(racerID int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.staged[racerID]
}

// ClearReactionTimes forgets every mirrored reaction time.
func (s *Sync) ClearReactionTimes() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rts = make(map[int]time.Duration)
}

// Pending returns the number of commands queued or in flight.
func (s *Sync) Pending() int { return s.queue.Len() }

// OnLinkUp implements transport.Handler.
func (s *Sync) OnLinkUp(link transport.Link) {
	s.queue.Attach(link)
	s.bus.Publish(events.LinkUp{})
}

// OnLinkDown implements transport.Handler.
func (s *Sync) OnLinkDown(err error) {
	s.queue.Detach()
	s.mu.Lock()
	s.racerID = 0
	s.mu.Unlock()

	reason := transport.ErrLinkLost.Error()
	if err != nil {
		reason = err.Error()
	}
	log.Warn().Str("reason", reason).Msg("link down")
	s.bus.Publish(events.LinkLost{Reason: reason})
}

// OnCharacteristicChanged implements transport.Handler.
func (s *Sync) OnCharacteristicChanged(target uuid.UUID, value []byte) {
	switch target {
	case registry.RaceReady:
		if string(value) == registry.RaceReadyStart {
			s.bus.Publish(events.RaceReady{At: s.clock.Now()})
		}
	case registry.RaceFinished:
		if string(value) == registry.RaceFinishedYes {
			s.bus.Publish(events.RaceFinished{At: s.clock.Now()})
		}
	case registry.BeginRaceActivity:
		if string(value) == registry.BeginNow {
			s.bus.Publish(events.BeginRace{})
		}
	default:
		field, racerID, ok := registry.Lookup(target)
		if !ok || field != registry.FieldStage {
			log.Debug().Str("target", target.String()).Msg("ignoring notification")
			return
		}
		staged := registry.ParseStage(value)
		s.mu.Lock()
		s.staged[racerID] = staged
		s.mu.Unlock()
		s.bus.Publish(events.StageUpdate{RacerID: racerID, Staged: staged})
	}
}

// OnReadComplete implements transport.Handler.
func (s *Sync) OnReadComplete(target uuid.UUID, value []byte, err error) {
	s.queue.Completed(transport.Result{Kind: transport.Read, Target: target, Value: value, Err: err})
}

// OnWriteComplete implements transport.Handler.
func (s *Sync) OnWriteComplete(target uuid.UUID, err error) {
	s.queue.Completed(transport.Result{Kind: transport.Write, Target: target, Err: err})
}

// enqueue submits one command. A command the target does not permit is refused here
// and never reaches the link. The result handler only runs for successful commands;
// failures are published as CommandFailed.
func (s *Sync) enqueue(kind transport.Kind, target uuid.UUID, payload []byte, onOK func(transport.Result)) error {
	if err := registry.Check(target, required(kind)); err != nil {
		return fmt.Errorf("%s %s: %w", kind, target, err)
	}
	cmd := &transport.Command{
		Kind:    kind,
		Target:  target,
		Payload: payload,
		Done: func(res transport.Result) {
			if res.Err != nil {
				log.Debug().Err(res.Err).Str("command", res.Kind.String()).Str("target", target.String()).Msg("command failed")
				s.bus.Publish(events.CommandFailed{Command: res.Kind.String(), Target: target.String(), Error: res.Err.Error()})
				return
			}
			if onOK != nil {
				onOK(res)
			}
		},
	}
	if !s.queue.Enqueue(cmd) {
		return fmt.Errorf("%s %s: %w", kind, target, transport.ErrNoLink)
	}
	return nil
}

func required(kind transport.Kind) registry.Permission {
	switch kind {
	case transport.Write:
		return registry.Writable
	case transport.SubscribeOn, transport.SubscribeOff:
		return registry.Notifiable
	default:
		return registry.Readable
	}
}

func (s *Sync) ownCell(field registry.Field) (uuid.UUID, int, error) {
	id := s.RacerID()
	if id == 0 {
		return uuid.Nil, 0, ErrNoRacerID
	}
	cell, ok := registry.Cell(field, id)
	if !ok {
		return uuid.Nil, 0, fmt.Errorf("no %s cell for racer %d", field, id)
	}
	return cell, id, nil
}

// ReadRacerID asks the server for this participant's racer id.
func (s *Sync) ReadRacerID() error {
	return s.enqueue(transport.Read, registry.RacerID, nil, func(res transport.Result) {
		id, err := registry.ParseRacerID(res.Value)
		if err != nil {
			log.Error().Err(err).Msg("bad racer id from server")
			return
		}
		s.mu.Lock()
		s.racerID = id
		s.mu.Unlock()
		log.Info().Int("racer_id", id).Msg("racer id assigned")
		s.bus.Publish(events.RacerAssigned{RacerID: id})
	})
}

// ReadBeginActivity reads the race activity flag, publishing BeginRace when the host
// already opened the race.
func (s *Sync) ReadBeginActivity() error {
	return s.enqueue(transport.Read, registry.BeginRaceActivity, nil, func(res transport.Result) {
		if string(res.Value) == registry.BeginNow {
			s.bus.Publish(events.BeginRace{})
		}
	})
}

// ReadDialIn reads one racer's dial-in.
func (s *Sync) ReadDialIn(racerID int) error {
	cell, ok := registry.Cell(registry.FieldDial, racerID)
	if !ok {
		return fmt.Errorf("no dial cell for racer %d", racerID)
	}
	return s.enqueue(transport.Read, cell, nil, func(res transport.Result) {
		d, err := registry.ParseMillis(res.Value)
		if err != nil {
			log.Error().Err(err).Int("racer_id", racerID).Msg("bad dial-in from server")
			return
		}
		s.mu.Lock()
		s.dials[racerID] = d
		s.mu.Unlock()
		s.bus.Publish(events.DialUpdate{RacerID: racerID, Value: d})
	})
}

// ReadDialIns reads the dial-in of every other racer, one command per cell. The
// participant's own dial-in is mirrored by SendDialIn.
func (s *Sync) ReadDialIns() error {
	own := s.RacerID()
	for _, id := range s.racers {
		if id == own {
			continue
		}
		if err := s.ReadDialIn(id); err != nil {
			return err
		}
	}
	return nil
}

// ReadReactionTime reads one racer's reaction time. An empty cell leaves the mirror alone.
func (s *Sync) ReadReactionTime(racerID int) error {
	cell, ok := registry.Cell(registry.FieldReactionTime, racerID)
	if !ok {
		return fmt.Errorf("no reaction time cell for racer %d", racerID)
	}
	return s.enqueue(transport.Read, cell, nil, func(res transport.Result) {
		rt, ok, err := registry.ParseReactionTime(res.Value)
		if err != nil {
			log.Error().Err(err).Int("racer_id", racerID).Msg("bad reaction time from server")
			return
		}
		if !ok {
			return
		}
		s.mu.Lock()
		s.rts[racerID] = rt
		s.mu.Unlock()
		s.bus.Publish(events.RtUpdate{RacerID: racerID, Value: rt})
	})
}

// ReadReactionTimes reads every other racer's reaction time.
func (s *Sync) ReadReactionTimes() error {
	own := s.RacerID()
	for _, id := range s.racers {
		if id == own {
			continue
		}
		if err := s.ReadReactionTime(id); err != nil {
			return err
		}
	}
	return nil
}

// SetStage updates the local display first, then sends the stage flag.
func (s *Sync) SetStage(staged bool) error {
	cell, id, err := s.ownCell(registry.FieldStage)
	if err != nil {
		return err
	}
	if s.onStage != nil {
		s.onStage(staged)
	}
	s.mu.Lock()
	s.staged[id] = staged
	s.mu.Unlock()
	return s.enqueue(transport.Write, cell, registry.EncodeStage(staged), nil)
}

// SendDialIn writes this racer's dial-in. The mirror follows once the server accepted it.
func (s *Sync) SendDialIn(d time.Duration) error {
	cell, id, err := s.ownCell(registry.FieldDial)
	if err != nil {
		return err
	}
	return s.enqueue(transport.Write, cell, registry.EncodeMillis(d), func(transport.Result) {
		s.mu.Lock()
		s.dials[id] = d
		s.mu.Unlock()
	})
}

// SendReactionTime writes this racer's reaction time.
func (s *Sync) SendReactionTime(rt time.Duration) error {
	cell, id, err := s.ownCell(registry.FieldReactionTime)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.rts[id] = rt
	s.mu.Unlock()
	return s.enqueue(transport.Write, cell, registry.EncodeMillis(rt), nil)
}

// Subscribe enables notifications for target.
func (s *Sync) Subscribe(target uuid.UUID) error {
	return s.enqueue(transport.SubscribeOn, target, nil, nil)
}

// Unsubscribe disables notifications for target.
func (s *Sync) Unsubscribe(target uuid.UUID) error {
	return s.enqueue(transport.SubscribeOff, target, nil, nil)
}

// SubscribeRace subscribes to the other racers' stage cells, the host stage cell and the
// race finished flag.
func (s *Sync) SubscribeRace() error {
	own := s.RacerID()
	for _, id := range s.racers {
		if id == own {
			continue
		}
		if err := s.Subscribe(registry.MustCell(registry.FieldStage, id)); err != nil {
			return err
		}
	}
	return s.Subscribe(registry.RaceFinished)
}
