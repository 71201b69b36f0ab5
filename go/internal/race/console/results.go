package console

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mcdev12/practicetree/go/internal/race/registry"
	"github.com/mcdev12/practicetree/go/internal/race/scheduler"
)

// FormatResults renders reaction times one racer per line, ordered by racer id.
func FormatResults(results map[int]time.Duration) string {
	if len(results) == 0 {
		return "no reaction times yet\n"
	}
	ids := make([]int, 0, len(results))
	for id := range results {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	var b strings.Builder
	for _, id := range ids {
		rt := results[id]
		name := fmt.Sprintf("racer %d", id)
		if id == registry.HostRacerID {
			name = "host"
		}
		fmt.Fprintf(&b, "  %s: %s", name, scheduler.FormatReactionTime(rt))
		if scheduler.IsFoul(rt) {
			b.WriteString(" red light")
		}
		b.WriteString("\n")
	}
	return b.String()
}
