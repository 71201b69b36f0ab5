package tree

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogRenderer draws bulb changes as log lines.
type LogRenderer struct {
	logger zerolog.Logger
}

// NewLogRenderer returns a renderer writing to the global logger at debug level.
func NewLogRenderer() *LogRenderer {
	return &LogRenderer{logger: log.With().Str("component", "tree").Logger()}
}

func (r *LogRenderer) Activate(racerID int, b Bulb) { r.emit(racerID, b, Activate) }
func (r *LogRenderer) Persist(racerID int, b Bulb)  { r.emit(racerID, b, Persist) }
func (r *LogRenderer) Reset(racerID int, b Bulb)    { r.emit(racerID, b, Reset) }

func (r *LogRenderer) emit(racerID int, b Bulb, e Effect) {
	ev := r.logger.Debug()
	if (b == Green || b == Red) && e != Reset {
		ev = r.logger.Info()
	}
	ev.Int("racer_id", racerID).Str("bulb", b.String()).Str("effect", e.String()).Msg("bulb")
}
