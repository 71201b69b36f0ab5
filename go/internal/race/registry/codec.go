package registry

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Textual values carried by the shared cells.
const (
	StageOn  = "1"
	StageOff = "0"

	RaceReadyStart = "start"
	RaceReadyStop  = "stop"

	RaceFinishedYes = "1"
	RaceFinishedNo  = "0"

	BeginWait = "wait"
	BeginNow  = "begin"
)

// DefaultDialIn is the dial-in a racer reports before choosing one.
const DefaultDialIn = 10 * time.Second

// EncodeMillis encodes d as a decimal count of milliseconds.
func EncodeMillis(d time.Duration) []byte {
	return []byte(strconv.FormatInt(d.Milliseconds(), 10))
}

// ParseMillis decodes a decimal count of milliseconds.
func ParseMillis(value []byte) (time.Duration, error) {
	ms, err := strconv.ParseInt(strings.TrimSpace(string(value)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse milliseconds %q: %w", value, err)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

// ParseReactionTime decodes a reaction time cell. ok is false while the cell is empty.
func ParseReactionTime(value []byte) (rt time.Duration, ok bool, err error) {
	if len(value) == 0 {
		return 0, false, nil
	}
	rt, err = ParseMillis(value)
	if err != nil {
		return 0, false, err
	}
	return rt, true, nil
}

// EncodeStage encodes a stage flag.
func EncodeStage(staged bool) []byte {
	if staged {
		return []byte(StageOn)
	}
	return []byte(StageOff)
}

// ParseStage decodes a stage flag; anything but "1" is unstaged.
func ParseStage(value []byte) bool {
	return string(value) == StageOn
}

// EncodeRacerID encodes an assigned racer id.
func EncodeRacerID(id int) []byte {
	return []byte(strconv.Itoa(id))
}

// ParseRacerID decodes an assigned racer id.
func ParseRacerID(value []byte) (int, error) {
	id, err := strconv.Atoi(strings.TrimSpace(string(value)))
	if err != nil {
		return 0, fmt.Errorf("parse racer id %q: %w", value, err)
	}
	return id, nil
}
