package circuitbreaker

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrOpen is matched by every error returned while a breaker rejects calls.
var ErrOpen = errors.New("circuit breaker is open")

// OpenError is returned by Execute when the breaker is OPEN and its cool-down
// has not elapsed.
type OpenError struct {
	Name       string
	RetryAfter time.Duration
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit breaker '%s' is OPEN, try again in %s", e.Name, e.RetryAfter.Round(time.Millisecond))
}

// Is makes errors.Is(err, ErrOpen) true for any *OpenError.
func (e *OpenError) Is(target error) bool {
	return target == ErrOpen
}

// MatchesAny reports whether err, or any error it wraps, has a type name or
// message containing one of the patterns.
func MatchesAny(err error, patterns []string) bool {
	if err == nil || len(patterns) == 0 {
		return false
	}

	message := err.Error()

	for e := err; e != nil; e = errors.Unwrap(e) {
		typeName := fmt.Sprintf("%T", e)
		for _, p := range patterns {
			if p == "" {
				continue
			}
			if strings.Contains(typeName, p) || strings.Contains(message, p) {
				return true
			}
		}
	}

	return false
}
