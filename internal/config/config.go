package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"cmdflow/internal/worker"
)

type Config struct {
	HTTPAddr string `env:"CMDFLOW_HTTP_ADDR" envDefault:":8080"`
	LogLevel string `env:"CMDFLOW_LOG_LEVEL" envDefault:"info"`

	// Queue selects the transport: memory, sqlite or azure.
	Queue      string `env:"CMDFLOW_QUEUE" envDefault:"sqlite"`
	QueueName  string `env:"CMDFLOW_QUEUE_NAME" envDefault:"commands"`
	SQLitePath string `env:"CMDFLOW_SQLITE_PATH" envDefault:"cmdflow.db"`

	AzureConnectionString string `env:"CMDFLOW_AZURE_CONNECTION_STRING"`
	AzureTable            string `env:"CMDFLOW_AZURE_TABLE" envDefault:"commandevents"`

	// EventStore selects the event repository: memory, redis, table or sqlite.
	EventStore    string        `env:"CMDFLOW_EVENT_STORE" envDefault:"memory"`
	EventTTL      time.Duration `env:"CMDFLOW_EVENT_TTL" envDefault:"24h"`
	EventCapacity int           `env:"CMDFLOW_EVENT_CAPACITY" envDefault:"100000"`
	RedisURL      string        `env:"CMDFLOW_REDIS_URL" envDefault:"redis://localhost:6379/0"`
	PreDispatch   bool          `env:"CMDFLOW_PRE_DISPATCH_EVENT" envDefault:"false"`

	MessageTTL time.Duration `env:"CMDFLOW_MESSAGE_TTL"`

	Worker WorkerConfig `envPrefix:"CMDFLOW_WORKER_"`

	// Schedules are "<cron>|<command type>|<json body>" entries separated by ';'.
	Schedules []string `env:"CMDFLOW_SCHEDULES" envSeparator:";"`
}

type WorkerConfig struct {
	DegreeOfParallelism           int           `env:"PARALLELISM"`
	MessagesBatchSize             int           `env:"BATCH_SIZE"`
	PollingFrequency              time.Duration `env:"POLLING_FREQUENCY" envDefault:"1s"`
	MaxHandlerRuntime             time.Duration `env:"MAX_HANDLER_RUNTIME" envDefault:"15m"`
	HandlerCancellationGraceDelay time.Duration `env:"CANCELLATION_GRACE" envDefault:"30s"`
	ShutdownTimeout               time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"1m"`
}

// Load reads the existing files among envFiles, then the environment.
func Load(envFiles ...string) (Config, error) {
	existing := make([]string, 0, len(envFiles))
	for _, f := range envFiles {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) > 0 {
		if err := godotenv.Load(existing...); err != nil {
			return Config{}, fmt.Errorf("load env files: %w", err)
		}
	}

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	switch c.Queue {
	case "memory", "sqlite":
	case "azure":
		if c.AzureConnectionString == "" {
			errs = append(errs, errors.New("azure queue requires CMDFLOW_AZURE_CONNECTION_STRING"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown queue %q", c.Queue))
	}
	switch c.EventStore {
	case "memory", "redis":
	case "sqlite":
		if c.Queue != "sqlite" {
			errs = append(errs, errors.New("sqlite event store shares the sqlite queue database"))
		}
	case "table":
		if c.AzureConnectionString == "" {
			errs = append(errs, errors.New("table event store requires CMDFLOW_AZURE_CONNECTION_STRING"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown event store %q", c.EventStore))
	}
	if c.Worker.MaxHandlerRuntime <= 0 {
		errs = append(errs, errors.New("max handler runtime must be positive"))
	}
	return errors.Join(errs...)
}

// WorkerOptions maps the worker settings, falling back to the CPU count.
func (c Config) WorkerOptions() worker.Options {
	opts := worker.DefaultOptions()
	opts.DegreeOfParallelism = orDefault(c.Worker.DegreeOfParallelism, runtime.NumCPU())
	opts.MessagesBatchSize = orDefault(c.Worker.MessagesBatchSize, runtime.NumCPU())
	if c.Worker.PollingFrequency > 0 {
		opts.PollingFrequency = c.Worker.PollingFrequency
	}
	opts.MaxHandlerRuntime = c.Worker.MaxHandlerRuntime
	opts.HandlerCancellationGraceDelay = c.Worker.HandlerCancellationGraceDelay
	return opts
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}
