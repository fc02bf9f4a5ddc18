package shell

import (
	"context"
	"fmt"
	"os/exec"

	"cmdflow/internal/domain"
)

// Command runs a local program.
type Command struct {
	domain.Base
	Program string   `json:"program"`
	Args    []string `json:"args,omitempty"`
	Dir     string   `json:"dir,omitempty"`
}

func (Command) CommandType() string { return "shell" }

type Handler struct{}

func (Handler) Handle(ctx context.Context, cmd Command) error {
	if cmd.Program == "" {
		return fmt.Errorf("program is required")
	}
	c := exec.CommandContext(ctx, cmd.Program, cmd.Args...)
	c.Dir = cmd.Dir
	out, err := c.CombinedOutput()
	if err != nil {
		return fmt.Errorf("shell error: %v; out=%s", err, string(out))
	}
	return nil
}
