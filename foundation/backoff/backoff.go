// Package backoff provides a bounded exponential backoff retry loop.
package backoff

import (
	"errors"
	"fmt"
	"log"
	"time"
)

// DefaultMaxAttempts is the number of attempts made when a Retrier is
// created with a non-positive attempt count.
const DefaultMaxAttempts = 3

// permanentError wraps an error that should not be retried
type permanentError struct {
	err error
}

func (p *permanentError) Error() string {
	return p.err.Error()
}

func (p *permanentError) Unwrap() error {
	return p.err
}

// Permanent marks err as non-transient so a Retrier stops immediately
// instead of running further attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Retrier runs operations with exponential backoff between failed attempts.
// The sleep between attempt k and k+1 is 2^k seconds.
type Retrier struct {
	log         *log.Logger
	maxAttempts int
	//sleep is replaceable for testing
	sleep func(time.Duration)
}

// NewRetrier creates a Retrier with maxAttempts attempts.
func NewRetrier(log *log.Logger, maxAttempts int) *Retrier {
	if maxAttempts < 1 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Retrier{
		log:         log,
		maxAttempts: maxAttempts,
		sleep:       time.Sleep,
	}
}

// WithSleep replaces the sleep function, used by tests to observe the
// backoff schedule without waiting it out.
func (r *Retrier) WithSleep(sleep func(time.Duration)) *Retrier {
	r.sleep = sleep
	return r
}

// Run invokes op up to the configured number of attempts, sleeping 2^attempt
// seconds after each failure. It returns nil on the first success, the
// wrapped error immediately if op returns a Permanent error, and the last
// error once attempts are exhausted.
func (r *Retrier) Run(description string, op func() error) error {
	var err error
	for attempt := 0; attempt < r.maxAttempts; attempt++ {
		err = op()
		if err == nil {
			return nil
		}
		var pe *permanentError
		if errors.As(err, &pe) {
			return pe.err
		}
		if attempt+1 < r.maxAttempts {
			wait := time.Duration(1<<uint(attempt)) * time.Second
			r.log.Printf("%s failed on attempt %d of %d, retrying in %s, error:%v",
				description, attempt+1, r.maxAttempts, wait, err)
			r.sleep(wait)
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", description, r.maxAttempts, err)
}
