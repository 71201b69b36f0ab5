package participant

import (
	"context"
	"testing"
	"time"

	"github.com/mcdev12/practicetree/go/internal/race/coordinator"
	"github.com/mcdev12/practicetree/go/internal/race/events"
	"github.com/mcdev12/practicetree/go/internal/race/registry"
	"github.com/mcdev12/practicetree/go/internal/race/scheduler"
	"github.com/mcdev12/practicetree/go/internal/race/tree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopRenderer struct{}

func (nopRenderer) Activate(int, tree.Bulb) {}
func (nopRenderer) Persist(int, tree.Bulb)  {}
func (nopRenderer) Reset(int, tree.Bulb)    {}

type race struct {
	ctx    context.Context
	coord  *coordinator.Coordinator
	host   *Session
	racer  *Session
	finish <-chan events.Event
}

// newRace runs a one-client race: a coordinator, the host session on the coordinator's
// bus and a client session on its own bus, both attached through local links.
func newRace(t *testing.T) *race {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	hostBus := events.NewBus()
	cfg := coordinator.DefaultConfig()
	cfg.Clients = 1
	cfg.SettleDelay = 50 * time.Millisecond
	coord := coordinator.New(cfg, hostBus)
	go coord.Run(ctx)

	hostCfg := DefaultConfig(RoleHost)
	hostCfg.Clients = 1
	hostCfg.DialIn = 10 * time.Second
	host := New(hostCfg, hostBus, nopRenderer{})
	go host.Run(ctx)

	racerBus := events.NewBus()
	finish, stop := racerBus.Subscribe(4, events.KindRaceFinished)
	t.Cleanup(stop)
	racerCfg := DefaultConfig(RoleClient)
	racerCfg.Clients = 1
	racerCfg.DialIn = 10200 * time.Millisecond
	racerCfg.Rollout = 10 * time.Millisecond
	racer := New(racerCfg, racerBus, nopRenderer{})
	go racer.Run(ctx)

	_, err := coordinator.Attach(ctx, coord, coordinator.HostParticipant, host.Sync())
	require.NoError(t, err)
	_, err = coordinator.Attach(ctx, coord, "racer-1", racer.Sync())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		s, err := coord.Snapshot(ctx)
		if err != nil {
			return false
		}
		return s.Racers[0].DialIn == racerCfg.DialIn && s.Racers[1].DialIn == hostCfg.DialIn
	}, 2*time.Second, 5*time.Millisecond, "dial-ins never reached the coordinator")

	return &race{ctx: ctx, coord: coord, host: host, racer: racer, finish: finish}
}

func idle(s *Session) func() bool {
	return func() bool { return s.Sync().Pending() == 0 }
}

func TestClientLearnsRaceAfterBegin(t *testing.T) {
	r := newRace(t)
	assert.Equal(t, 1, r.racer.Sync().RacerID())
	assert.Equal(t, registry.HostRacerID, r.host.Sync().RacerID())

	require.NoError(t, r.coord.StartRace(r.ctx))
	require.Eventually(t, func() bool {
		return r.racer.Sync().DialIns()[registry.HostRacerID] == 10*time.Second &&
			r.host.Sync().DialIns()[1] == 10200*time.Millisecond
	}, 2*time.Second, 5*time.Millisecond)

	// the client now follows the host's stage flag
	require.Eventually(t, idle(r.racer), time.Second, 5*time.Millisecond)
	require.NoError(t, r.host.Stage())
	hostTree, _ := r.racer.Tree(registry.HostRacerID)
	require.Eventually(t, func() bool { return hostTree.Lit(tree.Stage) }, time.Second, 5*time.Millisecond)
	assert.True(t, hostTree.Lit(tree.Prestage))
}

func TestFullRace(t *testing.T) {
	r := newRace(t)
	require.NoError(t, r.coord.StartRace(r.ctx))
	require.Eventually(t, func() bool {
		return idle(r.racer)() && r.racer.Sync().DialIns()[registry.HostRacerID] == 10*time.Second &&
			r.host.Sync().DialIns()[1] == 10200*time.Millisecond
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, r.host.Stage())
	require.NoError(t, r.racer.Stage())
	require.Eventually(t, func() bool { return r.host.Racing() && r.racer.Racing() }, 2*time.Second, 5*time.Millisecond)

	// the host jumps the start, the racer with the larger dial-in drops first and waits for green
	rt, raced, err := r.host.Release()
	require.NoError(t, err)
	require.True(t, raced)
	assert.Less(t, rt, time.Duration(0))
	ownTree, _ := r.host.Tree(registry.HostRacerID)
	assert.True(t, ownTree.WentRed())

	time.Sleep(1600 * time.Millisecond)
	rt, raced, err = r.racer.Release()
	require.NoError(t, err)
	require.True(t, raced)
	assert.GreaterOrEqual(t, rt, 100*time.Millisecond)

	select {
	case <-r.finish:
	case <-time.After(2 * time.Second):
		t.Fatal("race never finished")
	}

	require.Eventually(t, func() bool {
		return len(r.racer.Results()) == 2 && len(r.host.Results()) == 2
	}, 2*time.Second, 5*time.Millisecond)
	hostRT, _ := r.racer.Sync().ReactionTime(registry.HostRacerID)
	assert.Less(t, hostRT, time.Duration(0))
	hostTree, _ := r.racer.Tree(registry.HostRacerID)
	assert.True(t, hostTree.WentRed())

	s, err := r.coord.Snapshot(r.ctx)
	require.NoError(t, err)
	assert.Equal(t, coordinator.PhaseFinished, s.Phase)
	assert.Equal(t, 1, s.Race)
}

// opened begins the race and waits until both sessions know every dial-in.
func (r *race) opened(t *testing.T) {
	t.Helper()
	require.NoError(t, r.coord.StartRace(r.ctx))
	require.Eventually(t, func() bool {
		return idle(r.racer)() && r.racer.Sync().DialIns()[registry.HostRacerID] == 10*time.Second &&
			r.host.Sync().DialIns()[1] == 10200*time.Millisecond
	}, 2*time.Second, 5*time.Millisecond)
}

func TestStageWaitsForBegin(t *testing.T) {
	r := newRace(t)
	assert.ErrorIs(t, r.racer.Stage(), ErrNotBegun)
	assert.ErrorIs(t, r.host.Stage(), ErrNotBegun)

	s, err := r.coord.Snapshot(r.ctx)
	require.NoError(t, err)
	for _, racer := range s.Racers {
		assert.False(t, racer.Staged)
	}

	r.opened(t)
	require.NoError(t, r.racer.Stage())
}

func TestDialChangeAfterBeginReachesEveryone(t *testing.T) {
	r := newRace(t)
	r.opened(t)

	require.NoError(t, r.racer.SetDialIn(12*time.Second))
	require.Eventually(t, func() bool {
		s, err := r.coord.Snapshot(r.ctx)
		return err == nil && s.Racers[0].DialIn == 12*time.Second
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 10200*time.Millisecond, r.host.Sync().DialIns()[1])

	require.NoError(t, r.host.Stage())
	require.NoError(t, r.racer.Stage())
	assert.ErrorIs(t, r.racer.SetDialIn(9*time.Second), ErrStaged)

	require.Eventually(t, func() bool {
		return r.host.Sync().DialIns()[1] == 12*time.Second
	}, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return r.host.Racing() && r.racer.Racing() }, 2*time.Second, 5*time.Millisecond)

	hostPlan := scheduler.Plan(r.host.Sync().DialIns())
	racerPlan := scheduler.Plan(r.racer.Sync().DialIns())
	for _, id := range []int{1, registry.HostRacerID} {
		want, _ := racerPlan.Delay(id)
		got, _ := hostPlan.Delay(id)
		assert.Equal(t, want, got, "racer %d", id)
	}
	delay, _ := hostPlan.Delay(registry.HostRacerID)
	assert.Equal(t, 2*time.Second, delay)
}

func TestReleaseOutsideRaceOnlyUnstages(t *testing.T) {
	r := newRace(t)
	r.opened(t)
	require.NoError(t, r.racer.Stage())
	_, raced, err := r.racer.Release()
	require.NoError(t, err)
	assert.False(t, raced)
	require.Eventually(t, idle(r.racer), time.Second, 5*time.Millisecond)
	assert.Empty(t, r.racer.Results())
}
