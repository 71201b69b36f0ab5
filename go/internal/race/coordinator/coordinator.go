// Package coordinator owns the authoritative race state. It applies participant reads,
// writes and subscriptions against the registry, debounces staging into a single start
// and detects the end of a race.
//
// All state lives on the goroutine running Run. The exported methods hand a request to
// that goroutine and wait for it to be applied.
package coordinator

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/practicetree/go/internal/race/events"
	"github.com/mcdev12/practicetree/go/internal/race/registry"
	"github.com/rs/zerolog/log"
)

// HostParticipant is the participant id of the in-process host racer.
const HostParticipant = "host"

var (
	ErrRaceFull             = errors.New("race is full")
	ErrForbidden            = errors.New("participant may not write this characteristic")
	ErrUnknownParticipant   = errors.New("unknown participant")
	ErrAlreadyConnected     = errors.New("participant already connected")
	ErrNotAllConnected      = errors.New("not every racer is connected")
	ErrInvalidValue         = errors.New("invalid characteristic value")
	ErrDialLocked           = errors.New("dial-ins are locked until the race is over")
	ErrStopped              = errors.New("coordinator stopped")
	ErrNotificationRequired = errors.New("participant has no notifier")
)

// Clock is the subset of clockwork the coordinator needs.
// In production, use clockwork.NewRealClock(). In tests, a FakeClock.
type Clock interface {
	Now() time.Time
	NewTimer(d time.Duration) clockwork.Timer
}

// Notifier receives value changes for the characteristics a participant subscribed to.
// Notify is called from the coordinator goroutine and must not block.
type Notifier interface {
	Notify(target uuid.UUID, value []byte)
}

// Config tunes a coordinator.
type Config struct {
	// Clients is the number of remote racers required, 1..registry.MaxClients.
	Clients int
	// SettleDelay is how long every racer must stay staged before the start.
	SettleDelay time.Duration
	// InboxSize bounds the number of requests waiting for the coordinator goroutine.
	InboxSize int
}

// DefaultConfig returns the settings for a four-way race.
func DefaultConfig() Config {
	return Config{
		Clients:     registry.MaxClients,
		SettleDelay: 1500 * time.Millisecond,
		InboxSize:   64,
	}
}

// Option customizes a coordinator.
type Option func(*Coordinator)

// WithClock replaces the real clock.
func WithClock(clock Clock) Option {
	return func(c *Coordinator) { c.clock = clock }
}

type participant struct {
	id       string
	racerID  int
	notifier Notifier
}

type call struct {
	fn   func()
	done chan struct{}
}

// Coordinator is the server role of a race.
type Coordinator struct {
	cfg   Config
	bus   *events.Bus
	clock Clock
	reg   *registry.Registry

	inbox   chan call
	stopped chan struct{}

	// owned by the Run goroutine
	participants map[string]*participant
	byRacer      map[int]*participant
	connected    int
	phase        Phase
	settle       clockwork.Timer
	race         int
	raceDone     bool
}

// New creates a coordinator publishing to bus. Run must be started before any other call.
func New(cfg Config, bus *events.Bus, opts ...Option) *Coordinator {
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = DefaultConfig().InboxSize
	}
	c := &Coordinator{
		cfg:          cfg,
		bus:          bus,
		clock:        clockwork.NewRealClock(),
		reg:          registry.New(cfg.Clients),
		inbox:        make(chan call, cfg.InboxSize),
		stopped:      make(chan struct{}),
		participants: make(map[string]*participant),
		byRacer:      make(map[int]*participant),
		phase:        PhaseIdle,
		raceDone:     true,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run applies requests until ctx is done.
func (c *Coordinator) Run(ctx context.Context) error {
	defer close(c.stopped)
	log.Info().
		Int("clients", c.cfg.Clients).
		Dur("settle_delay", c.cfg.SettleDelay).
		Msg("coordinator started")

	for {
		var settleC <-chan time.Time
		if c.settle != nil {
			settleC = c.settle.Chan()
		}

		select {
		case <-ctx.Done():
			if c.settle != nil {
				stopAndDrainTimer(c.settle)
				c.settle = nil
			}
			log.Info().Msg("coordinator stopped")
			return nil
		case req := <-c.inbox:
			req.fn()
			close(req.done)
		case <-settleC:
			c.settle = nil
			c.settleExpired()
		}
	}
}

// do runs fn on the coordinator goroutine and waits for it.
func (c *Coordinator) do(ctx context.Context, fn func()) error {
	req := call{fn: fn, done: make(chan struct{})}
	select {
	case c.inbox <- req:
	case <-c.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-req.done:
		return nil
	case <-c.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Connect admits a participant and assigns its racer id. HostParticipant always gets
// registry.HostRacerID; other participants get the lowest free client id.
func (c *Coordinator) Connect(ctx context.Context, participantID string, n Notifier) (int, error) {
	if n == nil {
		return 0, ErrNotificationRequired
	}
	var racerID int
	var err error
	if callErr := c.do(ctx, func() { racerID, err = c.connect(participantID, n) }); callErr != nil {
		return 0, callErr
	}
	return racerID, err
}

// Disconnect removes a participant, clears its stage flag and drops its subscriptions.
func (c *Coordinator) Disconnect(ctx context.Context, participantID string) error {
	var err error
	if callErr := c.do(ctx, func() { err = c.disconnect(participantID) }); callErr != nil {
		return callErr
	}
	return err
}

// Read returns the value of target as seen by participantID.
func (c *Coordinator) Read(ctx context.Context, participantID string, target uuid.UUID) ([]byte, error) {
	var value []byte
	var err error
	if callErr := c.do(ctx, func() { value, err = c.read(participantID, target) }); callErr != nil {
		return nil, callErr
	}
	return value, err
}

// Write applies a participant's write request. A rejected write mutates nothing and
// notifies no one.
func (c *Coordinator) Write(ctx context.Context, participantID string, target uuid.UUID, value []byte) error {
	var err error
	if callErr := c.do(ctx, func() { err = c.write(participantID, target, value) }); callErr != nil {
		return callErr
	}
	return err
}

// SetNotify subscribes or unsubscribes participantID to changes of target.
func (c *Coordinator) SetNotify(ctx context.Context, participantID string, target uuid.UUID, enable bool) error {
	var err error
	if callErr := c.do(ctx, func() { err = c.setNotify(participantID, target, enable) }); callErr != nil {
		return callErr
	}
	return err
}

// StartRace opens the race to every connected client.
func (c *Coordinator) StartRace(ctx context.Context) error {
	var err error
	if callErr := c.do(ctx, func() { err = c.startRace() }); callErr != nil {
		return callErr
	}
	return err
}

// Snapshot returns a copy of the current race state.
func (c *Coordinator) Snapshot(ctx context.Context) (Snapshot, error) {
	var s Snapshot
	if err := c.do(ctx, func() { s = c.snapshot() }); err != nil {
		return Snapshot{}, err
	}
	return s, nil
}

// stopAndDrainTimer stops a timer and drains its channel if it already fired.
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}
