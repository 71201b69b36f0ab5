package registry

import "github.com/google/uuid"

// HostRacerID is the racer id reserved for the participant running the server.
const HostRacerID = 4

// MaxClients is the number of client racer slots in the characteristic table.
const MaxClients = 3

var (
	// ServiceUUID identifies a practice tree host to joining racers
	ServiceUUID = uuid.MustParse("5b4a0066-4038-4786-be23-e5bbefecebf1")

	// BeginRaceActivity flips from "wait" to "begin" when the host opens the race view
	BeginRaceActivity = uuid.MustParse("5b4a0066-4038-4786-be23-e5bbefecebf3")
	// RacerID holds the racer id assigned to the reading participant
	RacerID = uuid.MustParse("5b4a0066-4038-4786-be23-e5bbefecebf4")

	Racer1Dial  = uuid.MustParse("5b4a0066-4038-4786-be23-e5bbefecebf5")
	Racer1Stage = uuid.MustParse("5b4a0066-4038-4786-be23-e5bbefecebf6")
	Racer1RT    = uuid.MustParse("5b4a0066-4038-4786-be23-e5bbefecebf7")

	Racer2Dial  = uuid.MustParse("5b4a0066-4038-4786-be23-e5bbefecebf8")
	Racer2Stage = uuid.MustParse("5b4a0066-4038-4786-be23-e5bbefecebf9")
	Racer2RT    = uuid.MustParse("5b4a0066-4038-4786-be23-e5bbefecebfa")

	Racer3Dial  = uuid.MustParse("5b4a0066-4038-4786-be23-e5bbefecebfb")
	Racer3Stage = uuid.MustParse("5b4a0066-4038-4786-be23-e5bbefecebfc")
	Racer3RT    = uuid.MustParse("5b4a0066-4038-4786-be23-e5bbefecebfd")

	HostDial  = uuid.MustParse("5b4a0066-4038-4786-be23-e5bbefecebfe")
	HostStage = uuid.MustParse("5b4a0066-4038-4786-be23-e5bbefecebff")
	HostRT    = uuid.MustParse("5b4a0066-4038-4786-be23-e5bbefecec00")

	// RaceReady pulses "start" once every racer has stayed staged through the settle delay
	RaceReady = uuid.MustParse("5b4a0066-4038-4786-be23-e5bbefecec01")
	// RaceFinished reads "1" once every racer has reported a reaction time
	RaceFinished = uuid.MustParse("5b4a0066-4038-4786-be23-e5bbefecec02")
)
