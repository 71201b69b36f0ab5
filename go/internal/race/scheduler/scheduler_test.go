package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/practicetree/go/internal/race/tree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ms(n int64) time.Duration { return time.Duration(n) * time.Millisecond }

func TestPlanDistinctDialIns(t *testing.T) {
	dials := map[int]time.Duration{1: ms(10500), 2: ms(9800), 3: ms(11250), 4: ms(10000)}
	s := Plan(dials)

	require.Len(t, s, 4)
	assert.Equal(t, []int{3, 1, 4, 2}, s.Order())

	minDelay := s[0].Delay
	assert.Zero(t, minDelay)
	for i, a := range s {
		for _, b := range s[i+1:] {
			assert.Equal(t, dials[b.RacerID]-dials[a.RacerID], a.Delay-b.Delay,
				"racers %d and %d", a.RacerID, b.RacerID)
		}
	}

	d, ok := s.Delay(2)
	require.True(t, ok)
	assert.Equal(t, ms(1450), d)
	_, ok = s.Delay(7)
	assert.False(t, ok)
}

func TestPlanTiesShareDelayAndOrderByRacerID(t *testing.T) {
	dials := map[int]time.Duration{4: ms(10000), 2: ms(10000), 1: ms(9000), 3: ms(10000)}
	s := Plan(dials)

	assert.Equal(t, []int{2, 3, 4, 1}, s.Order())
	for _, id := range []int{2, 3, 4} {
		d, _ := s.Delay(id)
		assert.Zero(t, d)
	}
	d, _ := s.Delay(1)
	assert.Equal(t, ms(1000), d)

	for i := 0; i < 20; i++ {
		assert.Equal(t, s, Plan(dials))
	}
}

func TestPlanAllEqual(t *testing.T) {
	s := Plan(map[int]time.Duration{1: ms(10000), 2: ms(10000), 3: ms(10000), 4: ms(10000)})
	for _, st := range s {
		assert.Zero(t, st.Delay)
	}
	assert.Empty(t, Plan(nil))
}

func TestDropSequenceOffsets(t *testing.T) {
	tasks := Drop(2, ms(300))
	assert.Equal(t, []Task{
		{RacerID: 2, Bulb: tree.TopAmber, Effect: tree.Activate, At: ms(300)},
		{RacerID: 2, Bulb: tree.MidAmber, Effect: tree.Activate, At: ms(800)},
		{RacerID: 2, Bulb: tree.BottomAmber, Effect: tree.Activate, At: ms(1300)},
		{RacerID: 2, Bulb: tree.Green, Effect: tree.Persist, At: ms(1800)},
	}, tasks)
}

func TestScheduleTasksAreSorted(t *testing.T) {
	s := Plan(map[int]time.Duration{1: ms(10000), 2: ms(9750)})
	tasks := s.Tasks()
	require.Len(t, tasks, 8)
	for i := 1; i < len(tasks); i++ {
		assert.LessOrEqual(t, tasks[i-1].At, tasks[i].At)
	}
	assert.Equal(t, 1, tasks[0].RacerID)
	assert.Equal(t, ms(250), tasks[1].At)
}

func TestReactionTime(t *testing.T) {
	drop := time.Unix(0, 0)
	tests := []struct {
		name    string
		release time.Duration
		rollout time.Duration
		want    time.Duration
		foul    bool
	}{
		{"perfect", ms(1500), 0, 0, false},
		{"early", ms(1450), 0, ms(-50), true},
		{"late", ms(1537), 0, ms(37), false},
		{"rollout", ms(1500), ms(20), ms(20), false},
		{"rollout saves an early release", ms(1490), ms(15), ms(5), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt := ReactionTime(drop, drop.Add(tt.release), tt.rollout)
			assert.Equal(t, tt.want, rt)
			assert.Equal(t, tt.foul, IsFoul(rt))
		})
	}
}

func TestFormatReactionTime(t *testing.T) {
	tests := map[time.Duration]string{
		0:          "0.000",
		ms(7):      "0.007",
		ms(42):     "0.042",
		ms(512):    "0.512",
		ms(1234):   "1.234",
		ms(-50):    "-0.050",
		ms(-1003):  "-1.003",
		ms(12_001): "12.001",
	}
	for rt, want := range tests {
		assert.Equal(t, want, FormatReactionTime(rt), rt.String())
	}
}

func TestRunnerFiresTasksAtOffsets(t *testing.T) {
	clock := clockwork.NewFakeClock()
	r := NewRunner(clock)
	tasks := Drop(1, 0)

	var mu sync.Mutex
	var fired []tree.Bulb
	done := make(chan error, 1)
	go func() {
		done <- r.Run(context.Background(), tasks, func(task Task) {
			mu.Lock()
			fired = append(fired, task.Bulb)
			mu.Unlock()
		})
	}()
	count := func() int {
		mu.Lock()
		defer mu.Unlock()
		return len(fired)
	}

	require.Eventually(t, func() bool { return count() == 1 }, time.Second, time.Millisecond)
	for want := 2; want <= 4; want++ {
		require.NoError(t, clock.BlockUntilContext(context.Background(), 1))
		clock.Advance(AmberInterval)
		require.Eventually(t, func() bool { return count() == want }, time.Second, time.Millisecond)
	}
	require.NoError(t, <-done)
	assert.Equal(t, []tree.Bulb{tree.TopAmber, tree.MidAmber, tree.BottomAmber, tree.Green}, fired)
}

func TestRunnerStopsOnCancel(t *testing.T) {
	clock := clockwork.NewFakeClock()
	r := NewRunner(clock)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- r.Run(ctx, Drop(1, ms(100)), func(Task) { t.Error("task fired after cancel") })
	}()
	require.NoError(t, clock.BlockUntilContext(context.Background(), 1))
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("runner did not stop")
	}
}
