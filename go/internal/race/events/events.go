package events

import (
	"time"
)

// Event variants shared by the coordinator, the participant sync layer and the relay.

// Kind names an event variant. It doubles as the subject suffix when events are relayed.
type Kind string

const (
	KindClientsConnected Kind = "ClientsConnected"
	KindStageUpdate      Kind = "StageUpdate"
	KindRaceReady        Kind = "RaceReady"
	KindStartRace        Kind = "StartRace"
	KindRaceFinished     Kind = "RaceFinished"
	KindDialUpdate       Kind = "DialUpdate"
	KindRtUpdate         Kind = "RtUpdate"
	KindBeginRace        Kind = "BeginRace"
	KindRacerAssigned    Kind = "RacerAssigned"
	KindLinkUp           Kind = "LinkUp"
	KindLinkLost         Kind = "LinkLost"
	KindCommandFailed    Kind = "CommandFailed"
)

// Event is implemented by every variant below.
type Event interface {
	Kind() Kind
}

// ClientsConnected reports whether the client quota is met
type ClientsConnected struct {
	Connected bool `json:"connected"`
	Count     int  `json:"count"`
}

// StageUpdate reports a racer's stage flag
type StageUpdate struct {
	RacerID int  `json:"racer_id"`
	Staged  bool `json:"staged"`
}

// RaceReady is the start pulse as seen by a client
type RaceReady struct {
	At time.Time `json:"at"`
}

// StartRace is the start signal delivered locally to the host
type StartRace struct {
	Race int       `json:"race"`
	At   time.Time `json:"at"`
}

// RacerResult is one racer's line in a finished race
type RacerResult struct {
	RacerID      int           `json:"racer_id"`
	DialIn       time.Duration `json:"dial_in"`
	ReactionTime time.Duration `json:"reaction_time"`
	Foul         bool          `json:"foul"`
}

// RaceFinished reports that every racer sent a reaction time. Results are only
// filled in by the coordinator.
type RaceFinished struct {
	Race    int           `json:"race"`
	At      time.Time     `json:"at"`
	Results []RacerResult `json:"results,omitempty"`
}

// DialUpdate reports a racer's dial-in
type DialUpdate struct {
	RacerID int           `json:"racer_id"`
	Value   time.Duration `json:"value"`
}

// RtUpdate reports a racer's reaction time
type RtUpdate struct {
	RacerID int           `json:"racer_id"`
	Value   time.Duration `json:"value"`
}

// BeginRace reports that the host opened the race
type BeginRace struct{}

// RacerAssigned reports the racer id the server gave this participant
type RacerAssigned struct {
	RacerID int `json:"racer_id"`
}

// LinkUp reports that a transport link is available
type LinkUp struct{}

// LinkLost reports that the transport link went away
type LinkLost struct {
	Reason string `json:"reason"`
}

// CommandFailed reports a transport command that completed with an error
type CommandFailed struct {
	Command string `json:"command"`
	Target  string `json:"target"`
	Error   string `json:"error"`
}

func (ClientsConnected) Kind() Kind { return KindClientsConnected }
func (StageUpdate) Kind() Kind      { return KindStageUpdate }
func (RaceReady) Kind() Kind        { return KindRaceReady }
func (StartRace) Kind() Kind        { return KindStartRace }
func (RaceFinished) Kind() Kind     { return KindRaceFinished }
func (DialUpdate) Kind() Kind       { return KindDialUpdate }
func (RtUpdate) Kind() Kind         { return KindRtUpdate }
func (BeginRace) Kind() Kind        { return KindBeginRace }
func (RacerAssigned) Kind() Kind    { return KindRacerAssigned }
func (LinkUp) Kind() Kind           { return KindLinkUp }
func (LinkLost) Kind() Kind         { return KindLinkLost }
func (CommandFailed) Kind() Kind    { return KindCommandFailed }
