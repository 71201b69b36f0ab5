package coordinator

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/practicetree/go/internal/race/events"
	"github.com/mcdev12/practicetree/go/internal/race/registry"
	"github.com/mcdev12/practicetree/go/internal/race/scheduler"
	"github.com/rs/zerolog/log"
)

// RacerState is one racer's line in a Snapshot.
type RacerState struct {
	RacerID      int           `json:"racer_id"`
	Participant  string        `json:"participant,omitempty"`
	Connected    bool          `json:"connected"`
	DialIn       time.Duration `json:"dial_in"`
	Staged       bool          `json:"staged"`
	ReactionTime string        `json:"reaction_time"`
}

// Snapshot is a point-in-time copy of the race state.
type Snapshot struct {
	Phase     Phase        `json:"-"`
	PhaseName string       `json:"phase"`
	Connected int          `json:"connected"`
	Clients   int          `json:"clients"`
	Settling  bool         `json:"settling"`
	Race      int          `json:"race"`
	Begun     bool         `json:"begun"`
	Racers    []RacerState `json:"racers"`
}

func (c *Coordinator) connect(participantID string, n Notifier) (int, error) {
	if _, ok := c.participants[participantID]; ok {
		return 0, fmt.Errorf("%w: %s", ErrAlreadyConnected, participantID)
	}

	racerID := registry.HostRacerID
	if participantID != HostParticipant {
		racerID = c.freeRacerID()
		if racerID == 0 {
			log.Warn().Str("participant", participantID).Int("clients", c.cfg.Clients).Msg("refusing participant, race is full")
			return 0, ErrRaceFull
		}
	} else if _, taken := c.byRacer[racerID]; taken {
		return 0, fmt.Errorf("%w: %s", ErrAlreadyConnected, participantID)
	}

	p := &participant{id: participantID, racerID: racerID, notifier: n}
	c.participants[participantID] = p
	c.byRacer[racerID] = p

	log.Info().Str("participant", participantID).Int("racer_id", racerID).Msg("participant connected")

	if racerID != registry.HostRacerID {
		c.connected++
		c.connectionsChanged()
	}
	return racerID, nil
}

// freeRacerID returns the lowest unassigned client racer id, or 0 when none is left.
func (c *Coordinator) freeRacerID() int {
	for id := 1; id <= c.cfg.Clients; id++ {
		if _, taken := c.byRacer[id]; !taken {
			return id
		}
	}
	return 0
}

func (c *Coordinator) disconnect(participantID string) error {
	p, ok := c.participants[participantID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownParticipant, participantID)
	}
	delete(c.participants, participantID)
	delete(c.byRacer, p.racerID)
	c.reg.DropParticipant(participantID)

	log.Info().Str("participant", participantID).Int("racer_id", p.racerID).Msg("participant disconnected")

	stage := registry.MustCell(registry.FieldStage, p.racerID)
	if registry.ParseStage(c.reg.Value(stage)) {
		_ = c.reg.Set(stage, registry.EncodeStage(false))
		c.bus.Publish(events.StageUpdate{RacerID: p.racerID, Staged: false})
		c.notify(stage, "")
	}

	if p.racerID != registry.HostRacerID {
		c.connected--
		c.connectionsChanged()
	}
	c.evaluateStaging()
	return nil
}

// connectionsChanged moves the phase after the connected count changed.
func (c *Coordinator) connectionsChanged() {
	target := connectionPhase(c.connected, c.cfg.Clients)
	quotaMet := target == PhaseAllConnected

	switch {
	case !quotaMet:
		c.setPhase(target)
	case c.phase == PhaseIdle || c.phase == PhaseConnecting:
		c.setPhase(PhaseAllConnected)
	}
	if target == PhaseIdle {
		_ = c.reg.Set(registry.BeginRaceActivity, []byte(registry.BeginWait))
	}

	c.bus.Publish(events.ClientsConnected{Connected: quotaMet, Count: c.connected})
}

func (c *Coordinator) setPhase(p Phase) {
	if c.phase == p {
		return
	}
	log.Info().Str("from", c.phase.String()).Str("to", p.String()).Msg("race phase changed")
	c.phase = p
}

func (c *Coordinator) read(participantID string, target uuid.UUID) ([]byte, error) {
	p, ok := c.participants[participantID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownParticipant, participantID)
	}
	if target == registry.RacerID {
		return registry.EncodeRacerID(p.racerID), nil
	}
	return c.reg.Read(target)
}

func (c *Coordinator) write(participantID string, target uuid.UUID, value []byte) error {
	p, ok := c.participants[participantID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownParticipant, participantID)
	}
	ch, err := c.reg.Get(target)
	if err != nil {
		return err
	}
	if !ch.Permissions.Has(registry.Writable) {
		return fmt.Errorf("%w: %s", registry.ErrNotWritable, ch.Name)
	}
	if ch.Owner != p.racerID {
		log.Warn().
			Str("participant", participantID).
			Int("racer_id", p.racerID).
			Str("characteristic", ch.Name).
			Msg("rejected write to a cell owned by another racer")
		return fmt.Errorf("%w: %s", ErrForbidden, ch.Name)
	}

	field, racerID, _ := registry.Lookup(target)
	if err := validate(field, value); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidValue, ch.Name, err)
	}
	if field == registry.FieldDial && c.dialsLocked() {
		return fmt.Errorf("%w: %s", ErrDialLocked, ch.Name)
	}
	if err := c.reg.Write(target, value); err != nil {
		return err
	}

	log.Debug().
		Int("racer_id", racerID).
		Str("characteristic", ch.Name).
		Str("value", string(value)).
		Msg("characteristic written")

	switch field {
	case registry.FieldStage:
		staged := registry.ParseStage(value)
		c.bus.Publish(events.StageUpdate{RacerID: racerID, Staged: staged})
		c.notify(target, participantID)
		if staged && (c.phase == PhaseAllConnected || c.phase == PhaseFinished) {
			c.setPhase(PhaseStaging)
		}
		c.evaluateStaging()
	case registry.FieldReactionTime:
		c.checkRaceFinished()
	}
	return nil
}

func validate(field registry.Field, value []byte) error {
	switch field {
	case registry.FieldDial:
		d, err := registry.ParseMillis(value)
		if err != nil {
			return err
		}
		if d <= 0 {
			return fmt.Errorf("dial-in must be positive, got %s", d)
		}
	case registry.FieldStage:
		if s := string(value); s != registry.StageOn && s != registry.StageOff {
			return fmt.Errorf("stage flag must be %q or %q, got %q", registry.StageOn, registry.StageOff, s)
		}
	case registry.FieldReactionTime:
		if _, _, err := registry.ParseReactionTime(value); err != nil {
			return err
		}
	}
	return nil
}

func (c *Coordinator) setNotify(participantID string, target uuid.UUID, enable bool) error {
	if _, ok := c.participants[participantID]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownParticipant, participantID)
	}
	if enable {
		return c.reg.Subscribe(target, participantID)
	}
	return c.reg.Unsubscribe(target, participantID)
}

func (c *Coordinator) startRace() error {
	if c.connected < c.cfg.Clients {
		return fmt.Errorf("%w: %d of %d", ErrNotAllConnected, c.connected, c.cfg.Clients)
	}
	_ = c.reg.Set(registry.BeginRaceActivity, []byte(registry.BeginNow))
	c.notify(registry.BeginRaceActivity, "")
	c.bus.Publish(events.BeginRace{})
	log.Info().Int("clients", c.connected).Msg("race activity started")
	return nil
}

// notify pushes the current value of target to its subscribers, skipping except.
func (c *Coordinator) notify(target uuid.UUID, except string) {
	value := c.reg.Value(target)
	for _, id := range c.reg.Subscribers(target) {
		if id == except {
			continue
		}
		p, ok := c.participants[id]
		if !ok {
			continue
		}
		p.notifier.Notify(target, value)
	}
}

// allStaged reports whether every racer of the race is staged.
func (c *Coordinator) allStaged() bool {
	for _, id := range c.reg.Racers() {
		if !registry.ParseStage(c.reg.Value(registry.MustCell(registry.FieldStage, id))) {
			return false
		}
	}
	return true
}

// dialsLocked reports whether the start schedule is being fixed: every racer is staged
// and settling, or the race is on.
func (c *Coordinator) dialsLocked() bool {
	return c.settle != nil || c.phase == PhaseRacing
}

// evaluateStaging opens a settle window when everyone just became staged and closes it
// when anyone unstaged during the window. No window opens while a race is running; the
// next attempt starts from Finished.
func (c *Coordinator) evaluateStaging() {
	staged := c.allStaged()
	switch {
	case staged && c.settle == nil && c.phase != PhaseRacing:
		c.settle = c.clock.NewTimer(c.cfg.SettleDelay)
		log.Debug().Dur("settle_delay", c.cfg.SettleDelay).Msg("all racers staged, settling")
	case !staged && c.settle != nil:
		stopAndDrainTimer(c.settle)
		c.settle = nil
		log.Debug().Msg("staging interrupted during settle window")
	}
}

func (c *Coordinator) settleExpired() {
	if !c.allStaged() {
		return
	}
	c.race++
	c.raceDone = false
	for _, id := range c.reg.Racers() {
		_ = c.reg.Set(registry.MustCell(registry.FieldReactionTime, id), nil)
	}
	c.setPhase(PhaseRacing)

	now := c.clock.Now()
	_ = c.reg.Set(registry.RaceReady, []byte(registry.RaceReadyStart))
	c.notify(registry.RaceReady, "")
	c.bus.Publish(events.StartRace{Race: c.race, At: now})
	_ = c.reg.Set(registry.RaceReady, []byte(registry.RaceReadyStop))

	log.Info().Int("race", c.race).Msg("race started")
}

// checkRaceFinished reports the end of the race once every reaction time is in.
// After the race is done the flag reads "0" again until the next start.
func (c *Coordinator) checkRaceFinished() {
	results := make([]events.RacerResult, 0, len(c.reg.Racers()))
	complete := true
	for _, id := range c.reg.Racers() {
		rt, ok, _ := registry.ParseReactionTime(c.reg.Value(registry.MustCell(registry.FieldReactionTime, id)))
		if !ok {
			complete = false
			break
		}
		dial, err := registry.ParseMillis(c.reg.Value(registry.MustCell(registry.FieldDial, id)))
		if err != nil {
			dial = registry.DefaultDialIn
		}
		results = append(results, events.RacerResult{
			RacerID:      id,
			DialIn:       dial,
			ReactionTime: rt,
			Foul:         scheduler.IsFoul(rt),
		})
	}

	if !complete || c.raceDone {
		_ = c.reg.Set(registry.RaceFinished, []byte(registry.RaceFinishedNo))
		return
	}

	_ = c.reg.Set(registry.RaceFinished, []byte(registry.RaceFinishedYes))
	c.notify(registry.RaceFinished, "")
	c.bus.Publish(events.RaceFinished{Race: c.race, At: c.clock.Now(), Results: results})
	c.raceDone = true
	c.setPhase(PhaseFinished)

	log.Info().Int("race", c.race).Msg("race finished")
}

func (c *Coordinator) snapshot() Snapshot {
	s := Snapshot{
		Phase:     c.phase,
		PhaseName: c.phase.String(),
		Connected: c.connected,
		Clients:   c.cfg.Clients,
		Settling:  c.settle != nil,
		Race:      c.race,
		Begun:     string(c.reg.Value(registry.BeginRaceActivity)) == registry.BeginNow,
	}
	for _, id := range c.reg.Racers() {
		rs := RacerState{
			RacerID:      id,
			Staged:       registry.ParseStage(c.reg.Value(registry.MustCell(registry.FieldStage, id))),
			ReactionTime: string(c.reg.Value(registry.MustCell(registry.FieldReactionTime, id))),
		}
		if d, err := registry.ParseMillis(c.reg.Value(registry.MustCell(registry.FieldDial, id))); err == nil {
			rs.DialIn = d
		}
		if p, ok := c.byRacer[id]; ok {
			rs.Participant = p.id
			rs.Connected = true
		}
		s.Racers = append(s.Racers, rs)
	}
	return s
}
