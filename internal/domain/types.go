package domain

import (
	"encoding/base64"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Command is a unit of work submitted for asynchronous execution.
// CommandType is the discriminator used to resolve handlers and to
// deserialize payloads, so it must be stable across releases.
type Command interface {
	CommandID() string
	CommandTime() time.Time
	CommandType() string
}

// Base carries the identity of a command. Embed it in concrete command
// structs and build it with NewBase.
type Base struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
}

func NewBase() Base {
	return Base{ID: NewID(), Timestamp: time.Now().UTC()}
}

func (b Base) CommandID() string      { return b.ID }
func (b Base) CommandTime() time.Time { return b.Timestamp }

// NewID returns a 22 character url-safe id derived from a random uuid.
func NewID() string {
	u := uuid.New()
	enc := base64.StdEncoding.EncodeToString(u[:])
	enc = strings.NewReplacer("/", "_", "+", "-").Replace(enc)
	return enc[:22]
}

// Describe renders a command as "<type> <id>".
func Describe(cmd Command) string {
	if cmd == nil {
		return "<nil>"
	}
	return cmd.CommandType() + " " + cmd.CommandID()
}
