// Package tree models one racer's practice tree: the bulbs, the drop sequence and the
// red-light fault state.
package tree

import (
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Bulb is one lamp of a tree.
type Bulb int

const (
	Prestage Bulb = iota
	Stage
	TopAmber
	MidAmber
	BottomAmber
	Green
	Red
)

var bulbNames = [...]string{"prestage", "stage", "top_amber", "mid_amber", "bottom_amber", "green", "red"}

func (b Bulb) String() string {
	if b < 0 || int(b) >= len(bulbNames) {
		return fmt.Sprintf("bulb(%d)", int(b))
	}
	return bulbNames[b]
}

// Effect is what happens to a bulb.
type Effect int

const (
	// Activate lights a bulb for FlashDuration unless it gets persisted meanwhile.
	Activate Effect = iota
	// Persist lights a bulb until reset.
	Persist
	// Reset turns a bulb off.
	Reset
)

func (e Effect) String() string {
	switch e {
	case Activate:
		return "activate"
	case Persist:
		return "persist"
	case Reset:
		return "reset"
	default:
		return fmt.Sprintf("effect(%d)", int(e))
	}
}

// FlashDuration is how long an activated bulb stays lit.
const FlashDuration = 500 * time.Millisecond

// Renderer is the display surface trees draw on.
type Renderer interface {
	Activate(racerID int, b Bulb)
	Persist(racerID int, b Bulb)
	Reset(racerID int, b Bulb)
}

type bulbState struct {
	lit       bool
	persisted bool
	// flash counts activations so a stale flash-off cannot turn off a newer one
	flash int
}

// Tree is the bulb state for one racer.
type Tree struct {
	racerID  int
	renderer Renderer
	clock    clockwork.Clock

	mu      sync.Mutex
	bulbs   [Red + 1]bulbState
	wentRed bool
}

// New creates an unlit tree for racerID.
func New(racerID int, renderer Renderer, clock clockwork.Clock) *Tree {
	return &Tree{racerID: racerID, renderer: renderer, clock: clock}
}

// RacerID returns the racer this tree belongs to.
func (t *Tree) RacerID() int { return t.racerID }

// SetPrestage lights or clears the prestage bulb.
func (t *Tree) SetPrestage(on bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.setLit(Prestage, on)
}

// SetStage lights or clears the stage bulb. Staging clears the previous run's
// ambers, green, red and the foul.
func (t *Tree) SetStage(staged bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.setLit(Stage, staged)
	if staged {
		t.wentRed = false
		for _, b := range []Bulb{TopAmber, MidAmber, BottomAmber, Green, Red} {
			t.reset(b)
		}
	}
}

// Apply performs one step of the drop sequence. Steps after a red light are ignored.
func (t *Tree) Apply(b Bulb, e Effect) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.wentRed {
		return
	}
	switch e {
	case Activate:
		t.activate(b)
	case Persist:
		t.persist(b)
	case Reset:
		t.reset(b)
	}
}

// GoRed shows a foul: red and the amber lit at the moment stay on, green goes off.
func (t *Tree) GoRed() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.wentRed = true
	t.persist(Red)
	t.reset(Green)
	for _, b := range []Bulb{TopAmber, MidAmber, BottomAmber} {
		if t.bulbs[b].lit {
			t.persist(b)
			break
		}
	}
}

// WentRed reports whether the tree shows a foul.
func (t *Tree) WentRed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.wentRed
}

// Lit reports whether b is on.
func (t *Tree) Lit(b Bulb) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.bulbs[b].lit
}

func (t *Tree) activate(b Bulb) {
	st := &t.bulbs[b]
	if st.lit {
		return
	}
	st.lit = true
	st.flash++
	flash := st.flash
	t.renderer.Activate(t.racerID, b)

	t.clock.AfterFunc(FlashDuration, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		st := &t.bulbs[b]
		if st.flash != flash || st.persisted || !st.lit {
			return
		}
		st.lit = false
		t.renderer.Reset(t.racerID, b)
	})
}

func (t *Tree) persist(b Bulb) {
	st := &t.bulbs[b]
	st.lit = true
	st.persisted = true
	t.renderer.Persist(t.racerID, b)
}

func (t *Tree) reset(b Bulb) {
	st := &t.bulbs[b]
	st.lit = false
	st.persisted = false
	st.flash++
	t.renderer.Reset(t.racerID, b)
}

func (t *Tree) setLit(b Bulb, on bool) {
	if on {
		t.persist(b)
		return
	}
	t.reset(b)
}
