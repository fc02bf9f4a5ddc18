package events

import (
	"time"

	"cmdflow/internal/domain"
	"cmdflow/internal/serializer"
)

// stored is the persisted shape of an event. The command is kept in its
// serialized form, or as plain text when it could not be serialized.
type stored struct {
	CommandID   string        `json:"command_id"`
	CommandType string        `json:"command_type"`
	Command     string        `json:"command"`
	Status      domain.Status `json:"status"`
	Timestamp   time.Time     `json:"timestamp"`
	Err         string        `json:"error,omitempty"`
}

func encode(s serializer.Serializer, ev domain.Event) stored {
	rec := stored{CommandID: ev.CommandID, Status: ev.Status, Timestamp: ev.Timestamp, Err: ev.Err}
	if ev.Command == nil {
		return rec
	}
	rec.CommandType = ev.Command.CommandType()
	if rec.CommandID == "" {
		rec.CommandID = ev.Command.CommandID()
	}
	data, err := s.Serialize(ev.Command)
	if err != nil {
		data = domain.Describe(ev.Command)
	}
	rec.Command = data
	return rec
}

// decode never fails: an unreadable command leaves Event.Command nil.
func (rec stored) decode(s serializer.Serializer) domain.Event {
	ev := domain.Event{CommandID: rec.CommandID, Status: rec.Status, Timestamp: rec.Timestamp, Err: rec.Err}
	if rec.Command != "" {
		if cmd, err := s.Deserialize(rec.Command); err == nil {
			ev.Command = cmd
		}
	}
	return ev
}
