// Package circuitbreaker guards remote template and resource fetches with
// Sony's gobreaker, one breaker per upstream host.
package circuitbreaker

import (
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"kumascript/internal/common/errors"
	"kumascript/internal/common/logging"
)

// Config holds the configuration for a circuit breaker
type Config struct {
	// MaxFailures is the number of consecutive failures that opens the circuit
	MaxFailures int
	// Timeout is how long the circuit stays open before going half-open
	Timeout time.Duration
	// MaxConcurrentRequests is the number of requests allowed while half-open
	MaxConcurrentRequests int
}

// DefaultConfig suits HTTP fetches that should fail fast
func DefaultConfig() Config {
	return Config{
		MaxFailures:           3,
		Timeout:               30 * time.Second,
		MaxConcurrentRequests: 2,
	}
}

// Validate checks if the configuration is valid
func (c Config) Validate() error {
	if c.MaxFailures <= 0 {
		return fmt.Errorf("MaxFailures must be positive, got %d", c.MaxFailures)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("Timeout must be positive, got %v", c.Timeout)
	}
	if c.MaxConcurrentRequests <= 0 {
		return fmt.Errorf("MaxConcurrentRequests must be positive, got %d", c.MaxConcurrentRequests)
	}
	return nil
}

// Breaker wraps a gobreaker.CircuitBreaker
type Breaker struct {
	name    string
	breaker *gobreaker.CircuitBreaker
}

// New creates a breaker. An invalid config falls back to DefaultConfig.
func New(name string, config Config, logger logging.Logger) *Breaker {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	if err := config.Validate(); err != nil {
		logger.Warn("Invalid circuit breaker config, using defaults",
			logging.Err(err),
			logging.String("name", name),
		)
		config = DefaultConfig()
	}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: uint32(config.MaxConcurrentRequests),
		Interval:    time.Minute,
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(config.MaxFailures)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Info("Circuit breaker state changed",
				logging.String("breaker", name),
				logging.String("from", from.String()),
				logging.String("to", to.String()),
			)
		},
		IsSuccessful: isSuccessful,
	}

	return &Breaker{
		name:    name,
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

// A missing template is an answer, not an outage.
func isSuccessful(err error) bool {
	if err == nil {
		return true
	}
	switch errors.GetType(err) {
	case errors.ErrTypeValidation, errors.ErrTypeNotFound:
		return true
	}
	return false
}

// Execute runs fn through the breaker. An open circuit fails without
// calling fn.
func (b *Breaker) Execute(fn func() error) error {
	_, err := b.breaker.Execute(func() (interface{}, error) {
		return nil, fn()
	})

	if stderrors.Is(err, gobreaker.ErrOpenState) {
		return errors.ConnectionError(fmt.Sprintf("circuit breaker '%s' is open", b.name), err)
	}
	if stderrors.Is(err, gobreaker.ErrTooManyRequests) {
		return errors.ConnectionError(fmt.Sprintf("circuit breaker '%s' has too many requests", b.name), err)
	}
	return err
}

// Name returns the breaker name
func (b *Breaker) Name() string {
	return b.name
}

// State returns the gobreaker state
func (b *Breaker) State() gobreaker.State {
	return b.breaker.State()
}

// IsOpen returns true if the circuit is open
func (b *Breaker) IsOpen() bool {
	return b.breaker.State() == gobreaker.StateOpen
}

// Counts returns the current counts from gobreaker
func (b *Breaker) Counts() gobreaker.Counts {
	return b.breaker.Counts()
}

// Manager keeps one breaker per name
type Manager struct {
	config   Config
	logger   logging.Logger
	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewManager creates a manager whose breakers share config
func NewManager(config Config, logger logging.Logger) *Manager {
	return &Manager{
		config:   config,
		logger:   logger,
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker for name, creating it on first use
func (m *Manager) Get(name string) *Breaker {
	m.mu.Lock()
	defer m.mu.Unlock()

	if b, ok := m.breakers[name]; ok {
		return b
	}
	b := New(name, m.config, m.logger)
	m.breakers[name] = b
	return b
}

// Execute runs fn through the breaker for name
func (m *Manager) Execute(name string, fn func() error) error {
	return m.Get(name).Execute(fn)
}
