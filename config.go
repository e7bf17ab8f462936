package shmpipe

import (
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/metric"
)

const (
	// DefaultCount is the number of items moved when no count is given.
	DefaultCount = 5000

	// DefaultCapacity is the number of slots in the shared queue.
	DefaultCapacity = 10

	// DefaultMaxDelay bounds the random pause taken when Sleep is set.
	DefaultMaxDelay = time.Second

	// SleepArg is the literal second argument that enables random delays.
	SleepArg = "sleep"
)

// Environment variables read by ApplyEnv.
const (
	EnvCapacity  = "SHMPIPE_CAPACITY"
	EnvOwnerRole = "SHMPIPE_OWNER_ROLE"
	EnvSeed      = "SHMPIPE_SEED"
)

// Config controls one run of the pipeline.
type Config struct {
	// Count is the number of items the producer enqueues and the consumer
	// dequeues. Both processes receive the same value.
	Count int

	// Sleep enables a random pause after every operation, outside the
	// critical section.
	Sleep bool

	// MaxDelay bounds the random pause. Zero means DefaultMaxDelay.
	MaxDelay time.Duration

	// Capacity is the number of queue slots.
	Capacity int

	// OwnerRole is the role of the originating process. The spawned process
	// takes the other one.
	OwnerRole Role

	// Key is the System V key of the region. KeyPrivate requests a fresh,
	// unnamed region.
	Key int

	// Seed seeds value generation and delays. Zero picks one from the clock.
	Seed uint64

	// Stdout receives progress lines from both processes.
	Stdout io.Writer

	// Stderr receives the spawned process's diagnostics.
	Stderr io.Writer

	// Logger receives the owner's diagnostics.
	Logger *log.Logger

	// MeterProvider receives loop metrics. Nil records nothing.
	MeterProvider metric.MeterProvider

	// Executable and Args start the spawned process. An empty Executable
	// re-executes the running binary.
	Executable string
	Args       []string
}

// DefaultConfig returns a Config with the documented defaults.
func DefaultConfig() Config {
	return Config{
		Count:     DefaultCount,
		MaxDelay:  DefaultMaxDelay,
		Capacity:  DefaultCapacity,
		OwnerRole: RoleProducer,
		Key:       KeyPrivate,
	}
}

// Usage returns the one-line usage message for prog.
func Usage(prog string) string {
	return fmt.Sprintf("Usage: %s numbersToProduce %s[optional]", prog, SleepArg)
}

// ParseArgs parses the command-line arguments that follow the program name:
// an optional item count and an optional literal "sleep".
func ParseArgs(args []string) (Config, error) {
	cfg := DefaultConfig()
	if len(args) > 2 {
		return cfg, fmt.Errorf("%w: too many arguments", ErrUsage)
	}
	if len(args) >= 1 {
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return cfg, fmt.Errorf("%w: count %q is not a number", ErrUsage, args[0])
		}
		if n < 0 {
			return cfg, fmt.Errorf("%w: count %d is negative", ErrUsage, n)
		}
		cfg.Count = n
	}
	if len(args) == 2 {
		if args[1] != SleepArg {
			return cfg, fmt.Errorf("%w: unexpected argument %q", ErrUsage, args[1])
		}
		cfg.Sleep = true
	}
	return cfg, nil
}

// ApplyEnv overrides capacity, owner role and seed from the environment.
// lookup is normally os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvCapacity); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvCapacity, err)
		}
		c.Capacity = n
	}
	if v, ok := lookup(EnvOwnerRole); ok {
		r, err := ParseRole(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvOwnerRole, err)
		}
		c.OwnerRole = r
	}
	if v, ok := lookup(EnvSeed); ok {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvSeed, err)
		}
		c.Seed = n
	}
	return nil
}

// Validate reports the first invalid field.
func (c *Config) Validate() error {
	if c.Count < 0 {
		return fmt.Errorf("count must not be negative, got %d", c.Count)
	}
	if c.Capacity < 1 {
		return fmt.Errorf("capacity must be positive, got %d", c.Capacity)
	}
	if c.MaxDelay < 0 {
		return fmt.Errorf("max delay must not be negative, got %v", c.MaxDelay)
	}
	if c.OwnerRole != RoleProducer && c.OwnerRole != RoleConsumer {
		return fmt.Errorf("owner role must be producer or consumer, got %v", c.OwnerRole)
	}
	if c.Key < 0 {
		return fmt.Errorf("key must not be negative, got %d", c.Key)
	}
	return nil
}

// withDefaults fills unset output and timing fields.
func (c Config) withDefaults() Config {
	if c.Stdout == nil {
		c.Stdout = os.Stdout
	}
	if c.Stderr == nil {
		c.Stderr = os.Stderr
	}
	if c.Logger == nil {
		c.Logger = newLogger(c.Stderr)
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = DefaultMaxDelay
	}
	if c.Seed == 0 {
		c.Seed = uint64(time.Now().UnixNano())
	}
	return c
}

// newLogger returns the package's diagnostic logger, tagged with the pid so
// lines from the two processes can be told apart.
func newLogger(w io.Writer) *log.Logger {
	return log.New(w, fmt.Sprintf("shmpipe[%d]: ", os.Getpid()), log.LstdFlags|log.Lmsgprefix)
}

// hooksFor builds the loop collaborators for role.
func hooksFor(role Role, stdout io.Writer, sleep bool, maxDelay time.Duration, seed uint64) Hooks {
	h := Hooks{Progress: ProgressLines(stdout)}
	if role == RoleProducer {
		h.Values = RandomValues(seed)
	}
	if sleep {
		h.Delay = RandomDelay(seed+uint64(role), maxDelay)
	}
	return h
}
