// Package scheduler computes the staggered start of every racer's tree from their
// dial-ins, and runs the resulting lamp sequence.
//
// Every participant evaluates Plan on the same dial-ins, so all of them agree on the
// schedule without exchanging it.
package scheduler

import (
	"sort"
	"time"
)

// Start is one racer's place in the schedule.
type Start struct {
	RacerID int
	DialIn  time.Duration
	// Delay is how long after the shared start signal this racer's tree drops.
	Delay time.Duration
}

// Schedule lists racers by increasing delay, ties ordered by racer id.
type Schedule []Start

// Plan gives the racer with the largest dial-in no delay and defers everyone else by the
// difference, so equal reactions reach green at the same instant.
// Racers with the same dial-in get the same delay.
func Plan(dialIns map[int]time.Duration) Schedule {
	if len(dialIns) == 0 {
		return nil
	}

	var maxDial time.Duration
	first := true
	for _, d := range dialIns {
		if first || d > maxDial {
			maxDial = d
			first = false
		}
	}

	s := make(Schedule, 0, len(dialIns))
	for id, d := range dialIns {
		s = append(s, Start{RacerID: id, DialIn: d, Delay: maxDial - d})
	}
	sort.Slice(s, func(i, j int) bool {
		if s[i].Delay != s[j].Delay {
			return s[i].Delay < s[j].Delay
		}
		return s[i].RacerID < s[j].RacerID
	})
	return s
}

// Delay returns the delay for racerID.
func (s Schedule) Delay(racerID int) (time.Duration, bool) {
	for _, st := range s {
		if st.RacerID == racerID {
			return st.Delay, true
		}
	}
	return 0, false
}

// Order returns racer ids in start order.
func (s Schedule) Order() []int {
	out := make([]int, len(s))
	for i, st := range s {
		out[i] = st.RacerID
	}
	return out
}
