package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"cmdflow/internal/dispatcher"
	"cmdflow/internal/domain"
)

// Factory builds the command dispatched on each run of a schedule.
type Factory func() (domain.Command, error)

type entry struct {
	name     string
	expr     string
	schedule cron.Schedule
	factory  Factory
	next     time.Time
}

// Service dispatches commands on cron schedules.
type Service struct {
	dispatcher dispatcher.Dispatcher
	interval   time.Duration

	mu      sync.Mutex
	entries []*entry
}

func NewService(d dispatcher.Dispatcher, checkInterval time.Duration) *Service {
	if checkInterval <= 0 {
		checkInterval = time.Second
	}
	return &Service{dispatcher: d, interval: checkInterval}
}

// Add registers a schedule. The first run is the next cron tick after now.
func (s *Service) Add(name, expr string, factory Factory) error {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, &entry{
		name:     name,
		expr:     expr,
		schedule: sched,
		factory:  factory,
		next:     sched.Next(time.Now()),
	})
	return nil
}

// Run checks for due schedules until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	log.Info().Dur("interval", s.interval).Int("schedules", s.Len()).Msg("schedule service started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			s.processDue(ctx, now)
		}
	}
}

type Info struct {
	Name string    `json:"name"`
	Expr string    `json:"cron_expr"`
	Next time.Time `json:"next_run"`
}

func (s *Service) List() []Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Info, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, Info{Name: e.name, Expr: e.expr, Next: e.next})
	}
	return out
}

func (s *Service) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *Service) processDue(ctx context.Context, now time.Time) {
	s.mu.Lock()
	var due []*entry
	for _, e := range s.entries {
		if !e.next.After(now) {
			due = append(due, e)
			e.next = e.schedule.Next(now)
		}
	}
	s.mu.Unlock()

	for _, e := range due {
		if err := s.dispatch(ctx, e); err != nil {
			log.Error().Err(err).Str("schedule", e.name).Msg("failed to dispatch scheduled command")
		}
	}
}

func (s *Service) dispatch(ctx context.Context, e *entry) error {
	cmd, err := e.factory()
	if err != nil {
		return fmt.Errorf("build command: %w", err)
	}
	if err := s.dispatcher.Dispatch(ctx, cmd); err != nil {
		return err
	}
	log.Info().
		Str("schedule", e.name).
		Str("command_id", cmd.CommandID()).
		Str("command_type", cmd.CommandType()).
		Msg("scheduled command dispatched")
	return nil
}

// ParseSpec splits "<cron>|<command type>|<json fields>" and returns a
// factory that builds the command through build.
func ParseSpec(spec string, build func(typ string, body []byte) (domain.Command, error)) (expr, typ string, factory Factory, err error) {
	parts := strings.SplitN(spec, "|", 3)
	if len(parts) < 2 {
		return "", "", nil, fmt.Errorf("invalid schedule %q: want <cron>|<type>|<json>", spec)
	}
	expr, typ = strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
	var body []byte
	if len(parts) == 3 {
		body = []byte(strings.TrimSpace(parts[2]))
	}
	if err := ValidateCronExpression(expr); err != nil {
		return "", "", nil, err
	}
	// Fail at startup rather than on the first tick.
	if _, err := build(typ, body); err != nil {
		return "", "", nil, err
	}
	return expr, typ, func() (domain.Command, error) { return build(typ, body) }, nil
}

// ValidateCronExpression validates a cron expression
func ValidateCronExpression(expr string) error {
	_, err := cron.ParseStandard(expr)
	return err
}
