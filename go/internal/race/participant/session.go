// Package participant runs one racer's side of a race: the protocol flow on top of
// client.Sync, the local trees of every racer and the reaction time measurement.
package participant

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/practicetree/go/internal/race/client"
	"github.com/mcdev12/practicetree/go/internal/race/events"
	"github.com/mcdev12/practicetree/go/internal/race/registry"
	"github.com/mcdev12/practicetree/go/internal/race/scheduler"
	"github.com/mcdev12/practicetree/go/internal/race/tree"
	"github.com/rs/zerolog/log"
)

// Role is the part a session plays.
type Role int

const (
	// RoleClient joins a host over a link and learns the race state through notifications.
	RoleClient Role = iota
	// RoleHost runs next to the coordinator and receives its events directly.
	RoleHost
)

func (r Role) String() string {
	if r == RoleHost {
		return "host"
	}
	return "client"
}

var (
	// ErrNotBegun is returned by Stage before the host opened the race.
	ErrNotBegun = errors.New("race not opened yet")
	// ErrStaged is returned by SetDialIn while the local racer is staged.
	ErrStaged = errors.New("unstage before changing the dial-in")
)

// HostResultsDelay is how long the host waits after the finish before reading results.
const HostResultsDelay = 200 * time.Millisecond

// Config describes the local racer.
type Config struct {
	Role    Role
	Clients int
	DialIn  time.Duration
	Rollout time.Duration
	// ResultsDelay postpones reading the other racers' reaction times after the finish.
	ResultsDelay time.Duration
}

// DefaultConfig returns the settings of a racer who never changed them.
func DefaultConfig(role Role) Config {
	cfg := Config{
		Role:    role,
		Clients: registry.MaxClients,
		DialIn:  registry.DefaultDialIn,
	}
	if role == RoleHost {
		cfg.ResultsDelay = HostResultsDelay
	}
	return cfg
}

// Option customizes a session.
type Option func(*Session)

// WithClock replaces the real clock.
func WithClock(clock clockwork.Clock) Option {
	return func(s *Session) { s.clock = clock }
}

// Session is the local participant.
type Session struct {
	cfg      Config
	clock    clockwork.Clock
	renderer tree.Renderer

	sync   *client.Sync
	runner *scheduler.Runner
	trees  map[int]*tree.Tree

	inbox       <-chan events.Event
	unsubscribe func()

	mu        sync.Mutex
	begun     bool
	staged    map[int]bool
	allStaged bool
	racing    bool
	ownDrop   time.Time
	runCancel context.CancelFunc
}

// New creates a session subscribed to bus. Its Sync must be handed to the link as
// transport handler.
func New(cfg Config, bus *events.Bus, renderer tree.Renderer, opts ...Option) *Session {
	s := &Session{
		cfg:      cfg,
		clock:    clockwork.NewRealClock(),
		renderer: renderer,
		trees:    make(map[int]*tree.Tree),
		staged:   make(map[int]bool),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.sync = client.New(bus, cfg.Clients, client.WithClock(s.clock), client.WithLocalStage(s.localStage))
	s.runner = scheduler.NewRunner(s.clock)
	for _, id := range s.sync.Racers() {
		s.trees[id] = tree.New(id, renderer, s.clock)
	}
	s.inbox, s.unsubscribe = bus.Subscribe(64,
		events.KindLinkUp,
		events.KindLinkLost,
		events.KindRacerAssigned,
		events.KindBeginRace,
		events.KindRaceReady,
		events.KindStartRace,
		events.KindStageUpdate,
		events.KindRaceFinished,
		events.KindRtUpdate,
	)
	return s
}

// Sync returns the protocol layer of the session.
func (s *Session) Sync() *client.Sync { return s.sync }

// Tree returns the local tree of a racer.
func (s *Session) Tree(racerID int) (*tree.Tree, bool) {
	t, ok := s.trees[racerID]
	return t, ok
}

// Racing reports whether the local racer has a race in progress.
func (s *Session) Racing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.racing
}

// Results returns every reaction time known so far.
func (s *Session) Results() map[int]time.Duration {
	out := make(map[int]time.Duration)
	for _, id := range s.sync.Racers() {
		if rt, ok := s.sync.ReactionTime(id); ok {
			out[id] = rt
		}
	}
	return out
}

// Run reacts to race events until ctx is done. Events published after New returns are
// queued until Run picks them up. Run must be called at most once.
func (s *Session) Run(ctx context.Context) error {
	defer s.unsubscribe()
	defer s.stopRun()

	log.Info().Str("role", s.cfg.Role.String()).Dur("dial_in", s.cfg.DialIn).Msg("participant session started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-s.inbox:
			if !ok {
				return nil
			}
			if err := s.handle(ctx, e); err != nil {
				log.Warn().Err(err).Str("event_type", string(e.Kind())).Msg("failed to handle race event")
			}
		}
	}
}

func (s *Session) handle(ctx context.Context, e events.Event) error {
	switch ev := e.(type) {
	case events.LinkUp:
		return s.onLinkUp()
	case events.RacerAssigned:
		return s.sync.SendDialIn(s.cfg.DialIn)
	case events.BeginRace:
		s.mu.Lock()
		s.begun = true
		s.mu.Unlock()
		return s.onBeginRace()
	case events.RaceReady:
		s.startRace(ctx)
	case events.StartRace:
		s.startRace(ctx)
	case events.StageUpdate:
		if ev.RacerID != s.sync.RacerID() {
			if t, ok := s.trees[ev.RacerID]; ok {
				t.SetStage(ev.Staged)
			}
		}
		s.noteStage(ev.RacerID, ev.Staged)
	case events.RaceFinished:
		s.onRaceFinished()
	case events.RtUpdate:
		s.onReactionTime(ev.RacerID, ev.Value)
	case events.LinkLost:
		s.stopRun()
		s.mu.Lock()
		s.begun = false
		s.staged = make(map[int]bool)
		s.allStaged = false
		s.mu.Unlock()
		log.Warn().Str("reason", ev.Reason).Msg("link to the host lost")
	}
	return nil
}

func (s *Session) onLinkUp() error {
	if s.cfg.Role == RoleHost {
		return s.sync.ReadRacerID()
	}
	if err := s.sync.Subscribe(registry.BeginRaceActivity); err != nil {
		return err
	}
	if err := s.sync.Subscribe(registry.RaceReady); err != nil {
		return err
	}
	if err := s.sync.ReadRacerID(); err != nil {
		return err
	}
	return s.sync.ReadBeginActivity()
}

func (s *Session) onBeginRace() error {
	for _, t := range s.trees {
		t.SetPrestage(true)
	}
	if s.cfg.Role == RoleClient {
		if err := s.sync.SubscribeRace(); err != nil {
			return err
		}
	}
	return s.sync.ReadDialIns()
}

// startRace drops every tree from the shared schedule. The local racer's own drop
// instant is the reference for its reaction time.
func (s *Session) startRace(ctx context.Context) {
	plan := scheduler.Plan(s.sync.DialIns())
	own := s.sync.RacerID()
	delay, _ := plan.Delay(own)
	now := s.clock.Now()

	s.stopRun()
	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.runCancel = cancel
	s.racing = true
	s.ownDrop = now.Add(delay)
	s.mu.Unlock()
	s.sync.ClearReactionTimes()

	log.Info().
		Int("racer_id", own).
		Dur("delay", delay).
		Ints("order", plan.Order()).
		Msg("race started")

	go func() {
		err := s.runner.Run(runCtx, plan.Tasks(), s.fire)
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("lamp sequence stopped")
		}
	}()
}

func (s *Session) fire(task scheduler.Task) {
	if t, ok := s.trees[task.RacerID]; ok {
		t.Apply(task.Bulb, task.Effect)
	}
}

func (s *Session) stopRun() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runCancel != nil {
		s.runCancel()
		s.runCancel = nil
	}
}

func (s *Session) onRaceFinished() {
	if s.cfg.ResultsDelay <= 0 {
		s.readResults()
		return
	}
	s.clock.AfterFunc(s.cfg.ResultsDelay, s.readResults)
}

func (s *Session) readResults() {
	if err := s.sync.ReadReactionTimes(); err != nil {
		log.Warn().Err(err).Msg("failed to read reaction times")
	}
}

func (s *Session) onReactionTime(racerID int, rt time.Duration) {
	foul := scheduler.IsFoul(rt)
	if foul && racerID != s.sync.RacerID() {
		if t, ok := s.trees[racerID]; ok {
			t.GoRed()
		}
	}
	log.Info().
		Int("racer_id", racerID).
		Str("reaction_time", scheduler.FormatReactionTime(rt)).
		Bool("foul", foul).
		Msg("reaction time")
}

func (s *Session) localStage(staged bool) {
	own := s.sync.RacerID()
	if t, ok := s.trees[own]; ok {
		t.SetStage(staged)
	}
	s.noteStage(own, staged)
}

// noteStage records a racer's stage flag. When it completes the field, every dial-in is
// read again so all participants plan the start from the values the server holds.
func (s *Session) noteStage(racerID int, staged bool) {
	s.mu.Lock()
	s.staged[racerID] = staged
	complete := true
	for _, id := range s.sync.Racers() {
		if !s.staged[id] {
			complete = false
			break
		}
	}
	refresh := complete && !s.allStaged
	s.allStaged = complete
	s.mu.Unlock()

	if !refresh {
		return
	}
	log.Debug().Msg("every racer staged, refreshing dial-ins")
	if err := s.sync.ReadDialIns(); err != nil {
		log.Warn().Err(err).Msg("failed to refresh dial-ins")
	}
}

// Stage stages the local racer once the host opened the race.
func (s *Session) Stage() error {
	s.mu.Lock()
	begun := s.begun
	s.mu.Unlock()
	if !begun {
		return ErrNotBegun
	}
	return s.sync.SetStage(true)
}

// SetDialIn sends a new dial-in for the local racer. It is refused while staged.
func (s *Session) SetDialIn(d time.Duration) error {
	s.mu.Lock()
	staged := s.staged[s.sync.RacerID()]
	s.mu.Unlock()
	if staged {
		return ErrStaged
	}
	return s.sync.SendDialIn(d)
}

// Release unstages the local racer. During a race it measures the reaction time against
// the racer's own drop, shows a foul and sends the result.
func (s *Session) Release() (time.Duration, bool, error) {
	release := s.clock.Now()
	if err := s.sync.SetStage(false); err != nil {
		return 0, false, err
	}

	s.mu.Lock()
	racing := s.racing
	drop := s.ownDrop
	s.racing = false
	s.mu.Unlock()
	if !racing {
		return 0, false, nil
	}

	rt := scheduler.ReactionTime(drop, release, s.cfg.Rollout)
	if scheduler.IsFoul(rt) {
		if t, ok := s.trees[s.sync.RacerID()]; ok {
			t.GoRed()
		}
	}
	log.Info().
		Int("racer_id", s.sync.RacerID()).
		Str("reaction_time", scheduler.FormatReactionTime(rt)).
		Bool("foul", scheduler.IsFoul(rt)).
		Msg("released")
	return rt, true, s.sync.SendReactionTime(rt)
}
