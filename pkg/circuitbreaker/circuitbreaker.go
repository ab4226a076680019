// Package circuitbreaker wraps sony/gobreaker with the settings the brokers use.
package circuitbreaker

import (
	"errors"
	"time"

	"github.com/sony/gobreaker"
)

type Settings struct {
	Name string
	// MaxFailures is the number of consecutive failures that opens the circuit.
	MaxFailures uint32
	// Interval is the cyclic period of the closed state after which failure
	// counts are cleared. Zero never clears them.
	Interval time.Duration
	// Timeout is how long the circuit stays open before letting a probe through.
	Timeout       time.Duration
	OnStateChange func(name, from, to string)
}

type CircuitBreaker struct {
	cb *gobreaker.CircuitBreaker
}

func NewCircuitBreaker(settings Settings) *CircuitBreaker {
	maxFailures := settings.MaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}

	st := gobreaker.Settings{
		Name:        settings.Name,
		MaxRequests: 1,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
	}
	if settings.OnStateChange != nil {
		st.OnStateChange = func(name string, from, to gobreaker.State) {
			settings.OnStateChange(name, from.String(), to.String())
		}
	}

	return &CircuitBreaker{cb: gobreaker.NewCircuitBreaker(st)}
}

func (c *CircuitBreaker) Execute(fn func() error) error {
	_, err := c.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	return err
}

// State is one of "closed", "half-open" or "open".
func (c *CircuitBreaker) State() string {
	return c.cb.State().String()
}

// IsOpen reports whether err was returned without calling fn because the
// circuit rejected the request.
func IsOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
