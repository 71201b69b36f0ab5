package tree

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingRenderer struct {
	mu    sync.Mutex
	calls []string
}

func (r *recordingRenderer) add(op string, racerID int, b Bulb) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, fmt.Sprintf("%s %d %s", op, racerID, b))
}

func (r *recordingRenderer) Activate(racerID int, b Bulb) { r.add("activate", racerID, b) }
func (r *recordingRenderer) Persist(racerID int, b Bulb)  { r.add("persist", racerID, b) }
func (r *recordingRenderer) Reset(racerID int, b Bulb)    { r.add("reset", racerID, b) }

func (r *recordingRenderer) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func TestActivatedBulbTurnsOffAfterFlash(t *testing.T) {
	clock := clockwork.NewFakeClock()
	tr := New(2, &recordingRenderer{}, clock)

	tr.Apply(TopAmber, Activate)
	require.True(t, tr.Lit(TopAmber))

	clock.Advance(FlashDuration - time.Millisecond)
	assert.True(t, tr.Lit(TopAmber))

	clock.Advance(time.Millisecond)
	require.Eventually(t, func() bool { return !tr.Lit(TopAmber) }, time.Second, time.Millisecond)
}

func TestPersistedBulbSurvivesFlash(t *testing.T) {
	clock := clockwork.NewFakeClock()
	tr := New(1, &recordingRenderer{}, clock)

	tr.Apply(Green, Activate)
	tr.Apply(Green, Persist)
	clock.Advance(FlashDuration)
	time.Sleep(10 * time.Millisecond)
	assert.True(t, tr.Lit(Green))
}

func TestGoRedKeepsLitAmberAndBlocksSequence(t *testing.T) {
	clock := clockwork.NewFakeClock()
	r := &recordingRenderer{}
	tr := New(3, r, clock)

	tr.Apply(TopAmber, Activate)
	clock.Advance(FlashDuration)
	require.Eventually(t, func() bool { return !tr.Lit(TopAmber) }, time.Second, time.Millisecond)
	tr.Apply(MidAmber, Activate)

	tr.GoRed()
	assert.True(t, tr.WentRed())
	assert.True(t, tr.Lit(Red))
	assert.True(t, tr.Lit(MidAmber))
	assert.False(t, tr.Lit(Green))

	// the rest of the sequence is suppressed
	tr.Apply(BottomAmber, Activate)
	tr.Apply(Green, Persist)
	assert.False(t, tr.Lit(BottomAmber))
	assert.False(t, tr.Lit(Green))

	// the persisted amber does not flash off
	clock.Advance(FlashDuration)
	time.Sleep(10 * time.Millisecond)
	assert.True(t, tr.Lit(MidAmber))

	calls := r.snapshot()
	assert.Contains(t, calls, "persist 3 red")
	assert.Contains(t, calls, "persist 3 mid_amber")
}

func TestStagingClearsPreviousRun(t *testing.T) {
	clock := clockwork.NewFakeClock()
	tr := New(4, &recordingRenderer{}, clock)

	tr.Apply(Green, Persist)
	tr.GoRed()
	require.True(t, tr.WentRed())

	tr.SetStage(true)
	assert.True(t, tr.Lit(Stage))
	assert.False(t, tr.WentRed())
	for _, b := range []Bulb{TopAmber, MidAmber, BottomAmber, Green, Red} {
		assert.False(t, tr.Lit(b), b.String())
	}

	tr.SetStage(false)
	assert.False(t, tr.Lit(Stage))
}

func TestActivateIsIgnoredWhileLit(t *testing.T) {
	clock := clockwork.NewFakeClock()
	r := &recordingRenderer{}
	tr := New(1, r, clock)

	tr.SetPrestage(true)
	tr.Apply(TopAmber, Activate)
	tr.Apply(TopAmber, Activate)
	assert.Equal(t, []string{"persist 1 prestage", "activate 1 top_amber"}, r.snapshot())
}
