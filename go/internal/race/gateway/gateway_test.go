package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mcdev12/practicetree/go/internal/race/client"
	"github.com/mcdev12/practicetree/go/internal/race/coordinator"
	"github.com/mcdev12/practicetree/go/internal/race/events"
	"github.com/mcdev12/practicetree/go/internal/race/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type host struct {
	ctx    context.Context
	coord  *coordinator.Coordinator
	server *httptest.Server
}

func newHost(t *testing.T, clients int) *host {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	cfg := coordinator.DefaultConfig()
	cfg.Clients = clients
	coord := coordinator.New(cfg, events.NewBus())
	go coord.Run(ctx)

	cm := NewConnectionManager(coord, DefaultConnectionConfig())
	server := httptest.NewServer(NewHandler(NewWebSocketHandler(cm, "test-host")))
	t.Cleanup(func() {
		cm.Close()
		server.Close()
	})
	return &host{ctx: ctx, coord: coord, server: server}
}

func (h *host) snapshot(t *testing.T) coordinator.Snapshot {
	t.Helper()
	// also polled from Eventually, so failures show up as a zero snapshot
	s, _ := h.coord.Snapshot(h.ctx)
	return s
}

type racer struct {
	sync   *client.Sync
	link   *ClientLink
	events <-chan events.Event
}

func (h *host) join(t *testing.T, clients int, name string) *racer {
	t.Helper()
	bus := events.NewBus()
	ch, cancel := bus.Subscribe(32)
	t.Cleanup(cancel)

	s := client.New(bus, clients)
	link, err := Dial(h.ctx, h.server.URL, name, s, DefaultConnectionConfig())
	require.NoError(t, err)
	t.Cleanup(func() { link.Close() })
	return &racer{sync: s, link: link, events: ch}
}

func next(t *testing.T, ch <-chan events.Event, kind events.Kind) events.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case e := <-ch:
			if e.Kind() == kind {
				return e
			}
		case <-deadline:
			t.Fatalf("no %s event", kind)
			return nil
		}
	}
}

func TestAdvertisement(t *testing.T) {
	h := newHost(t, 2)
	ad, err := FetchAdvertisement(h.ctx, h.server.Client(), h.server.URL)
	require.NoError(t, err)
	assert.Equal(t, registry.ServiceUUID, ad.Service)
	assert.Equal(t, "test-host", ad.Name)
	assert.Equal(t, 2, ad.Clients)
	assert.True(t, ad.Accepting)
	assert.Equal(t, "idle", ad.Phase)
}

func TestAdvertisementFromOtherService(t *testing.T) {
	other := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"service":"00000000-0000-0000-0000-000000000001","name":"printer"}`)
	}))
	defer other.Close()

	_, err := FetchAdvertisement(context.Background(), other.Client(), other.URL)
	assert.ErrorIs(t, err, ErrWrongService)
}

func TestHealth(t *testing.T) {
	h := newHost(t, 1)
	resp, err := h.server.Client().Get(h.server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", string(body))
}

func TestRacerJoinsAndWrites(t *testing.T) {
	h := newHost(t, 1)
	r := h.join(t, 1, "alice")
	next(t, r.events, events.KindLinkUp)

	require.NoError(t, r.sync.ReadRacerID())
	assigned := next(t, r.events, events.KindRacerAssigned).(events.RacerAssigned)
	assert.Equal(t, 1, assigned.RacerID)

	require.NoError(t, r.sync.SendDialIn(10250*time.Millisecond))
	require.NoError(t, r.sync.SetStage(true))
	require.Eventually(t, func() bool {
		s := h.snapshot(t)
		return s.Racers[0].Staged && s.Racers[0].DialIn == 10250*time.Millisecond
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, 1, h.snapshot(t).Connected)

	resp, err := h.server.Client().Get(h.server.URL + "/ws/stats")
	require.NoError(t, err)
	defer resp.Body.Close()
	var stats struct {
		Total  int            `json:"total_connections"`
		Racers map[string]int `json:"racers"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, map[string]int{"alice": 1}, stats.Racers)
}

func TestNotificationsReachRemoteRacer(t *testing.T) {
	h := newHost(t, 1)
	r := h.join(t, 1, "bob")
	require.NoError(t, r.sync.ReadRacerID())
	next(t, r.events, events.KindRacerAssigned)

	hostSync := client.New(events.NewBus(), 1)
	_, err := coordinator.Attach(h.ctx, h.coord, coordinator.HostParticipant, hostSync)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hostSync.Pending() == 0 }, time.Second, time.Millisecond)
	require.NoError(t, hostSync.ReadRacerID())
	require.Eventually(t, func() bool { return hostSync.RacerID() == registry.HostRacerID }, time.Second, time.Millisecond)

	require.NoError(t, r.sync.Subscribe(registry.HostStage))
	require.Eventually(t, func() bool { return r.sync.Pending() == 0 }, time.Second, time.Millisecond)

	require.NoError(t, hostSync.SetStage(true))
	update := next(t, r.events, events.KindStageUpdate).(events.StageUpdate)
	assert.Equal(t, events.StageUpdate{RacerID: registry.HostRacerID, Staged: true}, update)
}

func TestRefusedRequestIsReported(t *testing.T) {
	h := newHost(t, 1)
	r := h.join(t, 1, "carol")

	require.NoError(t, r.sync.ReadRacerID())
	next(t, r.events, events.KindRacerAssigned)

	require.NoError(t, r.sync.SendDialIn(-time.Second))
	require.NoError(t, r.sync.SetStage(true))
	failed := next(t, r.events, events.KindCommandFailed).(events.CommandFailed)
	assert.Equal(t, "write", failed.Command)
	assert.Contains(t, failed.Error, coordinator.ErrInvalidValue.Error())

	// the stage write queued behind the refused one still went through
	require.Eventually(t, func() bool { return h.snapshot(t).Racers[0].Staged }, time.Second, 5*time.Millisecond)
	assert.Equal(t, registry.DefaultDialIn, h.snapshot(t).Racers[0].DialIn)
}

func TestFullRaceRefusesRacer(t *testing.T) {
	h := newHost(t, 1)
	h.join(t, 1, "dave")
	require.Eventually(t, func() bool { return h.snapshot(t).Connected == 1 }, time.Second, 5*time.Millisecond)

	late := h.join(t, 1, "erin")
	lost := next(t, late.events, events.KindLinkLost).(events.LinkLost)
	assert.Contains(t, lost.Reason, coordinator.ErrRaceFull.Error())
	assert.Equal(t, 1, h.snapshot(t).Connected)
}

func TestClosingLinkDisconnectsRacer(t *testing.T) {
	h := newHost(t, 1)
	r := h.join(t, 1, "frank")
	require.Eventually(t, func() bool { return h.snapshot(t).Connected == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, r.link.Close())
	require.Eventually(t, func() bool { return h.snapshot(t).Connected == 0 }, 2*time.Second, 5*time.Millisecond)
	next(t, r.events, events.KindLinkLost)

	select {
	case <-r.link.Done():
	case <-time.After(time.Second):
		t.Fatal("link not done")
	}
}
