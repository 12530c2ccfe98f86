package archive

import (
	"fmt"
	"log"

	"github.com/sony/gobreaker"
)

// breaker wraps sony/gobreaker's non-generic (interface{}-returning)
// v1.0.0 API with state-change logging.
type breaker struct {
	cb   *gobreaker.CircuitBreaker
	name string
}

func newBreaker(name string, cfg Config, logger *log.Logger) *breaker {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.BreakerMaxRequests,
		Interval:    cfg.BreakerInterval,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && (counts.ConsecutiveFailures >= cfg.BreakerMaxFailures || failureRatio >= 0.6)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Printf("archive: circuit %s changed state %s -> %s", name, from, to)
		},
	}
	return &breaker{cb: gobreaker.NewCircuitBreaker(settings), name: name}
}

// execute runs fn with circuit-breaker protection, returning the raw byte
// payload on success.
func (b *breaker) execute(fn func() ([]byte, error)) ([]byte, error) {
	result, err := b.cb.Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		return nil, fmt.Errorf("circuit breaker %s: %w", b.name, err)
	}
	body, _ := result.([]byte)
	return body, nil
}

