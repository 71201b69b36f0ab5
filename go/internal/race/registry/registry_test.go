package registry

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBuildsEveryCharacteristicForFourRacers(t *testing.T) {
	r := New(3)
	require.Equal(t, 16, r.Len())
	assert.Equal(t, []int{1, 2, 3, HostRacerID}, r.Racers())

	assert.Equal(t, BeginWait, string(r.Value(BeginRaceActivity)))
	assert.Equal(t, RaceReadyStop, string(r.Value(RaceReady)))
	assert.Equal(t, RaceFinishedNo, string(r.Value(RaceFinished)))
	for _, id := range r.Racers() {
		assert.Equal(t, "10000", string(r.Value(MustCell(FieldDial, id))))
		assert.Equal(t, StageOff, string(r.Value(MustCell(FieldStage, id))))
		assert.Empty(t, r.Value(MustCell(FieldReactionTime, id)))
	}
}

func TestNewWithFewerClientsOmitsTheirCells(t *testing.T) {
	r := New(2)
	assert.Equal(t, 13, r.Len())
	_, err := r.Get(Racer3Stage)
	assert.ErrorIs(t, err, ErrUnknownCharacteristic)
}

func TestPermissions(t *testing.T) {
	tests := []struct {
		name  string
		id    uuid.UUID
		perms Permission
		owner int
	}{
		{"racer id", RacerID, Readable, 0},
		{"dial", Racer2Dial, Readable | Writable, 2},
		{"stage", HostStage, Readable | Writable | Notifiable, HostRacerID},
		{"reaction time", Racer1RT, Readable | Writable, 1},
		{"race ready", RaceReady, Readable | Notifiable, 0},
		{"race finished", RaceFinished, Readable | Notifiable, 0},
		{"begin", BeginRaceActivity, Readable | Notifiable, 0},
	}
	r := New(3)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := r.Get(tt.id)
			require.NoError(t, err)
			assert.Equal(t, tt.perms, c.Permissions)
			assert.Equal(t, tt.owner, c.Owner)
		})
	}
}

func TestWriteRejectsReadOnlyCellWithoutMutation(t *testing.T) {
	r := New(3)
	err := r.Write(RaceFinished, []byte(RaceFinishedYes))
	require.ErrorIs(t, err, ErrNotWritable)
	assert.Equal(t, RaceFinishedNo, string(r.Value(RaceFinished)))

	require.NoError(t, r.Set(RaceFinished, []byte(RaceFinishedYes)))
	assert.Equal(t, RaceFinishedYes, string(r.Value(RaceFinished)))
}

func TestWriteCopiesValue(t *testing.T) {
	r := New(3)
	buf := []byte("9500")
	require.NoError(t, r.Write(Racer1Dial, buf))
	buf[0] = '1'
	assert.Equal(t, "9500", string(r.Value(Racer1Dial)))
}

func TestSubscribe(t *testing.T) {
	r := New(3)

	require.ErrorIs(t, r.Subscribe(Racer1Dial, "a"), ErrNotNotifiable)
	require.ErrorIs(t, r.Subscribe(uuid.New(), "a"), ErrUnknownCharacteristic)

	require.NoError(t, r.Subscribe(Racer1Stage, "b"))
	require.NoError(t, r.Subscribe(Racer1Stage, "a"))
	require.NoError(t, r.Subscribe(RaceFinished, "a"))
	assert.Equal(t, []string{"a", "b"}, r.Subscribers(Racer1Stage))

	require.NoError(t, r.Unsubscribe(Racer1Stage, "b"))
	assert.Equal(t, []string{"a"}, r.Subscribers(Racer1Stage))

	r.DropParticipant("a")
	assert.Empty(t, r.Subscribers(Racer1Stage))
	assert.Empty(t, r.Subscribers(RaceFinished))
}

func TestLookup(t *testing.T) {
	field, racer, ok := Lookup(Racer3RT)
	require.True(t, ok)
	assert.Equal(t, FieldReactionTime, field)
	assert.Equal(t, 3, racer)

	field, racer, ok = Lookup(HostDial)
	require.True(t, ok)
	assert.Equal(t, FieldDial, field)
	assert.Equal(t, HostRacerID, racer)

	_, _, ok = Lookup(RaceReady)
	assert.False(t, ok)
}

func TestCodec(t *testing.T) {
	assert.Equal(t, "10000", string(EncodeMillis(DefaultDialIn)))

	d, err := ParseMillis([]byte("-50"))
	require.NoError(t, err)
	assert.Equal(t, -50*time.Millisecond, d)

	_, err = ParseMillis([]byte("fast"))
	assert.Error(t, err)

	_, ok, err := ParseReactionTime(nil)
	require.NoError(t, err)
	assert.False(t, ok)

	rt, ok, err := ParseReactionTime([]byte("37"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 37*time.Millisecond, rt)

	assert.True(t, ParseStage(EncodeStage(true)))
	assert.False(t, ParseStage([]byte("49")))

	id, err := ParseRacerID(EncodeRacerID(2))
	require.NoError(t, err)
	assert.Equal(t, 2, id)
}

func TestPermissionString(t *testing.T) {
	assert.Equal(t, "rwn", (Readable | Writable | Notifiable).String())
	assert.Equal(t, "r-n", (Readable | Notifiable).String())
}

func TestCheck(t *testing.T) {
	assert.NoError(t, Check(Racer2Stage, Readable|Writable|Notifiable))
	assert.NoError(t, Check(RacerID, Readable))
	assert.ErrorIs(t, Check(RacerID, Writable), ErrNotWritable)
	assert.ErrorIs(t, Check(RaceReady, Writable), ErrNotWritable)
	assert.ErrorIs(t, Check(HostRT, Notifiable), ErrNotNotifiable)
	assert.ErrorIs(t, Check(uuid.New(), Readable), ErrUnknownCharacteristic)
}
