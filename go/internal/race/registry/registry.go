// Package registry holds the server-owned characteristics shared by every racer:
// their values, permissions and subscriber sets.
//
// A Registry is not safe for concurrent use. The coordinator owns it and mutates it
// from a single goroutine.
package registry

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

var (
	ErrUnknownCharacteristic = errors.New("unknown characteristic")
	ErrNotReadable           = errors.New("characteristic is not readable")
	ErrNotWritable           = errors.New("characteristic is not writable")
	ErrNotNotifiable         = errors.New("characteristic is not notifiable")
)

// Permission is a bit set of the operations a characteristic allows.
type Permission uint8

const (
	Readable Permission = 1 << iota
	Writable
	Notifiable
)

// Has reports whether every bit of o is set in p.
func (p Permission) Has(o Permission) bool { return p&o == o }

func (p Permission) String() string {
	var b []byte
	for _, f := range []struct {
		bit  Permission
		flag byte
	}{{Readable, 'r'}, {Writable, 'w'}, {Notifiable, 'n'}} {
		if p.Has(f.bit) {
			b = append(b, f.flag)
		} else {
			b = append(b, '-')
		}
	}
	return string(b)
}

// Characteristic is one addressable state cell.
type Characteristic struct {
	UUID        uuid.UUID
	Name        string
	Permissions Permission
	// Owner is the racer allowed to write the cell, 0 for cells only the server mutates.
	Owner int

	value       []byte
	subscribers map[string]struct{}
}

// Value returns a copy of the current value.
func (c *Characteristic) Value() []byte {
	return bytes.Clone(c.value)
}

// Registry is the fixed set of characteristics for one race.
type Registry struct {
	clients int
	cells   map[uuid.UUID]*Characteristic
	order   []uuid.UUID
}

// New builds the registry for a race with the given number of client racers plus the host.
func New(clients int) *Registry {
	if clients < 1 || clients > MaxClients {
		panic(fmt.Sprintf("registry: clients must be between 1 and %d, got %d", MaxClients, clients))
	}
	r := &Registry{
		clients: clients,
		cells:   make(map[uuid.UUID]*Characteristic),
	}

	r.add(BeginRaceActivity, "beginRaceActivity", 0, BeginWait)
	r.add(RacerID, "racerId", 0, "0")
	for _, id := range Racers(clients) {
		name := fmt.Sprintf("racer%d", id)
		if id == HostRacerID {
			name = "host"
		}
		r.add(MustCell(FieldDial, id), name+"Dial", id, string(EncodeMillis(DefaultDialIn)))
		r.add(MustCell(FieldStage, id), name+"Stage", id, StageOff)
		r.add(MustCell(FieldReactionTime, id), name+"Rt", id, "")
	}
	r.add(RaceReady, "raceReady", 0, RaceReadyStop)
	r.add(RaceFinished, "raceFinished", 0, RaceFinishedNo)
	return r
}

func (r *Registry) add(id uuid.UUID, name string, owner int, initial string) {
	perms, _ := PermissionsOf(id)
	r.cells[id] = &Characteristic{
		UUID:        id,
		Name:        name,
		Permissions: perms,
		Owner:       owner,
		value:       []byte(initial),
		subscribers: make(map[string]struct{}),
	}
	r.order = append(r.order, id)
}

// Len returns the number of characteristics.
func (r *Registry) Len() int { return len(r.order) }

// Racers returns the racer ids that have cells in this registry.
func (r *Registry) Racers() []int { return Racers(r.clients) }

// Characteristics returns every characteristic in declaration order.
func (r *Registry) Characteristics() []*Characteristic {
	out := make([]*Characteristic, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.cells[id])
	}
	return out
}

// Get returns the characteristic with the given UUID.
func (r *Registry) Get(id uuid.UUID) (*Characteristic, error) {
	c, ok := r.cells[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCharacteristic, id)
	}
	return c, nil
}

// Read returns the value of a readable characteristic.
func (r *Registry) Read(id uuid.UUID) ([]byte, error) {
	c, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	if !c.Permissions.Has(Readable) {
		return nil, fmt.Errorf("%w: %s", ErrNotReadable, c.Name)
	}
	return c.Value(), nil
}

// Write stores a client-requested value. Nothing is mutated when the cell is not writable.
func (r *Registry) Write(id uuid.UUID, value []byte) error {
	c, err := r.Get(id)
	if err != nil {
		return err
	}
	if !c.Permissions.Has(Writable) {
		return fmt.Errorf("%w: %s", ErrNotWritable, c.Name)
	}
	c.value = bytes.Clone(value)
	return nil
}

// Set stores a server-computed value regardless of client permissions.
func (r *Registry) Set(id uuid.UUID, value []byte) error {
	c, err := r.Get(id)
	if err != nil {
		return err
	}
	c.value = bytes.Clone(value)
	return nil
}

// Value returns the current value, or nil for an unknown characteristic.
func (r *Registry) Value(id uuid.UUID) []byte {
	c, ok := r.cells[id]
	if !ok {
		return nil
	}
	return c.Value()
}

// Subscribe registers participant for change notifications on a notifiable characteristic.
func (r *Registry) Subscribe(id uuid.UUID, participant string) error {
	c, err := r.Get(id)
	if err != nil {
		return err
	}
	if !c.Permissions.Has(Notifiable) {
		return fmt.Errorf("%w: %s", ErrNotNotifiable, c.Name)
	}
	c.subscribers[participant] = struct{}{}
	return nil
}

// Unsubscribe removes participant from a characteristic's subscribers.
func (r *Registry) Unsubscribe(id uuid.UUID, participant string) error {
	c, err := r.Get(id)
	if err != nil {
		return err
	}
	delete(c.subscribers, participant)
	return nil
}

// Subscribers returns the participants subscribed to a characteristic, sorted.
func (r *Registry) Subscribers(id uuid.UUID) []string {
	c, ok := r.cells[id]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(c.subscribers))
	for p := range c.subscribers {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// DropParticipant removes participant from every subscriber set.
func (r *Registry) DropParticipant(participant string) {
	for _, c := range r.cells {
		delete(c.subscribers, participant)
	}
}
