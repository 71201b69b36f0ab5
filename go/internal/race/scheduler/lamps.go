package scheduler

import (
	"context"
	"sort"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/practicetree/go/internal/race/tree"
)

// AmberInterval separates the amber steps of a drop.
const AmberInterval = 500 * time.Millisecond

// GreenOffset is the time from a tree's drop to its green bulb.
const GreenOffset = 3 * AmberInterval

// Task is one lamp effect at an offset from the shared start signal.
type Task struct {
	RacerID int
	Bulb    tree.Bulb
	Effect  tree.Effect
	At      time.Duration
}

// Drop returns the four-step sequence of one tree dropping at delay.
func Drop(racerID int, delay time.Duration) []Task {
	return []Task{
		{RacerID: racerID, Bulb: tree.TopAmber, Effect: tree.Activate, At: delay},
		{RacerID: racerID, Bulb: tree.MidAmber, Effect: tree.Activate, At: delay + AmberInterval},
		{RacerID: racerID, Bulb: tree.BottomAmber, Effect: tree.Activate, At: delay + 2*AmberInterval},
		{RacerID: racerID, Bulb: tree.Green, Effect: tree.Persist, At: delay + GreenOffset},
	}
}

// Tasks returns every tree's sequence merged in firing order.
func (s Schedule) Tasks() []Task {
	var tasks []Task
	for _, st := range s {
		tasks = append(tasks, Drop(st.RacerID, st.Delay)...)
	}
	sort.SliceStable(tasks, func(i, j int) bool {
		if tasks[i].At != tasks[j].At {
			return tasks[i].At < tasks[j].At
		}
		return tasks[i].RacerID < tasks[j].RacerID
	})
	return tasks
}

// Runner fires tasks at their offsets.
type Runner struct {
	clock clockwork.Clock
}

// NewRunner creates a runner on clock.
func NewRunner(clock clockwork.Clock) *Runner {
	return &Runner{clock: clock}
}

// Run calls fire for each task once its offset from now has elapsed. Tasks must be sorted
// by At. Run returns ctx.Err() when cancelled before the last task.
func (r *Runner) Run(ctx context.Context, tasks []Task, fire func(Task)) error {
	start := r.clock.Now()
	for _, task := range tasks {
		wait := task.At - r.clock.Since(start)
		if wait > 0 {
			timer := r.clock.NewTimer(wait)
			select {
			case <-timer.Chan():
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}
		fire(task)
	}
	return nil
}
