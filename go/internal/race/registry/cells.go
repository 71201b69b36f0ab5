package registry

import (
	"fmt"

	"github.com/google/uuid"
)

// Field is the kind of per-racer state a characteristic carries.
type Field int

const (
	FieldDial Field = iota + 1
	FieldStage
	FieldReactionTime
)

func (f Field) String() string {
	switch f {
	case FieldDial:
		return "dial"
	case FieldStage:
		return "stage"
	case FieldReactionTime:
		return "rt"
	default:
		return fmt.Sprintf("field(%d)", int(f))
	}
}

type racerCells struct {
	dial, stage, rt uuid.UUID
}

var cellsByRacer = map[int]racerCells{
	1:           {dial: Racer1Dial, stage: Racer1Stage, rt: Racer1RT},
	2:           {dial: Racer2Dial, stage: Racer2Stage, rt: Racer2RT},
	3:           {dial: Racer3Dial, stage: Racer3Stage, rt: Racer3RT},
	HostRacerID: {dial: HostDial, stage: HostStage, rt: HostRT},
}

// Cell returns the characteristic holding field for racerID.
func Cell(field Field, racerID int) (uuid.UUID, bool) {
	cells, ok := cellsByRacer[racerID]
	if !ok {
		return uuid.Nil, false
	}
	switch field {
	case FieldDial:
		return cells.dial, true
	case FieldStage:
		return cells.stage, true
	case FieldReactionTime:
		return cells.rt, true
	}
	return uuid.Nil, false
}

// MustCell is Cell for racer ids known to be valid.
func MustCell(field Field, racerID int) uuid.UUID {
	id, ok := Cell(field, racerID)
	if !ok {
		panic(fmt.Sprintf("registry: no %s cell for racer %d", field, racerID))
	}
	return id
}

// Lookup reports which racer field a characteristic carries.
// ok is false for the shared cells (racerId, raceReady, raceFinished, beginRaceActivity).
func Lookup(id uuid.UUID) (field Field, racerID int, ok bool) {
	for racer, cells := range cellsByRacer {
		switch id {
		case cells.dial:
			return FieldDial, racer, true
		case cells.stage:
			return FieldStage, racer, true
		case cells.rt:
			return FieldReactionTime, racer, true
		}
	}
	return 0, 0, false
}

// Racers returns the racer ids taking part in a race with the given number of clients,
// clients first and the host last.
func Racers(clients int) []int {
	if clients > MaxClients {
		clients = MaxClients
	}
	ids := make([]int, 0, clients+1)
	for i := 1; i <= clients; i++ {
		ids = append(ids, i)
	}
	return append(ids, HostRacerID)
}

var fieldPermissions = map[Field]Permission{
	FieldDial:         Readable | Writable,
	FieldStage:        Readable | Writable | Notifiable,
	FieldReactionTime: Readable | Writable,
}

var sharedPermissions = map[uuid.UUID]Permission{
	BeginRaceActivity: Readable | Notifiable,
	RacerID:           Readable,
	RaceReady:         Readable | Notifiable,
	RaceFinished:      Readable | Notifiable,
}

// PermissionsOf returns the fixed permissions of a characteristic.
func PermissionsOf(id uuid.UUID) (Permission, bool) {
	if p, ok := sharedPermissions[id]; ok {
		return p, true
	}
	if field, _, ok := Lookup(id); ok {
		return fieldPermissions[field], true
	}
	return 0, false
}

// Check reports whether id allows every operation in want, so a participant can refuse
// a command before it reaches the link.
func Check(id uuid.UUID, want Permission) error {
	p, ok := PermissionsOf(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCharacteristic, id)
	}
	switch {
	case want.Has(Readable) && !p.Has(Readable):
		return ErrNotReadable
	case want.Has(Writable) && !p.Has(Writable):
		return ErrNotWritable
	case want.Has(Notifiable) && !p.Has(Notifiable):
		return ErrNotNotifiable
	}
	return nil
}
