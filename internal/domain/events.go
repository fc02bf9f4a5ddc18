package domain

import (
	"fmt"
	"sort"
	"time"
)

type Status int

const (
	StatusUnknown Status = iota
	StatusDispatching
	StatusDispatched
	StatusProcessing
	StatusProcessed
	StatusError
)

var statusNames = [...]string{"Unknown", "Dispatching", "Dispatched", "Processing", "Processed", "Error"}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return statusNames[0]
	}
	return statusNames[s]
}

// Terminality ranks statuses so that events recorded in the same instant
// resolve toward the more final one.
func (s Status) Terminality() int {
	if s < 0 || int(s) >= len(statusNames) {
		return 0
	}
	return int(s)
}

// InFlight reports whether a command with this latest status is still expected to progress.
func (s Status) InFlight() bool {
	return s == StatusDispatching || s == StatusDispatched || s == StatusProcessing
}

func ParseStatus(v string) (Status, error) {
	for i, name := range statusNames {
		if name == v {
			return Status(i), nil
		}
	}
	return StatusUnknown, fmt.Errorf("unknown status %q", v)
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Status) UnmarshalText(b []byte) error {
	v, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Event is an append-only lifecycle record of a command.
type Event struct {
	CommandID string
	Command   Command
	Status    Status
	Timestamp time.Time
	Err       string
}

func NewEvent(cmd Command, status Status, err error) Event {
	ev := Event{Command: cmd, Status: status, Timestamp: time.Now().UTC()}
	if cmd != nil {
		ev.CommandID = cmd.CommandID()
	}
	if err != nil {
		ev.Err = err.Error()
	}
	return ev
}

// SortEvents orders events newest first, more terminal first on ties.
func SortEvents(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.After(b.Timestamp)
		}
		return a.Status.Terminality() > b.Status.Terminality()
	})
}
