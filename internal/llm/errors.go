package llm

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMissingCredential is a configuration error; it is never retried.
	ErrMissingCredential = errors.New("llm: api key not configured")
	// ErrInvalidRequest is returned for requests without messages.
	ErrInvalidRequest = errors.New("llm: completion request has no messages")
	// ErrServiceUnavailable matches the aggregate error raised once every
	// candidate model has failed.
	ErrServiceUnavailable = errors.New("llm: service unavailable")
	// ErrEmptyCompletion marks a 2xx response without usable content.
	ErrEmptyCompletion = errors.New("empty completion")
)

// ProviderError is a non-2xx answer from the completion endpoint.
type ProviderError struct {
	Model      string
	StatusCode int
	Body       string
}

func (e *ProviderError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("model %s: upstream status %d", e.Model, e.StatusCode)
	}
	return fmt.Sprintf("model %s: upstream status %d: %s", e.Model, e.StatusCode, e.Body)
}

// Attempt records the failure of one candidate model.
type Attempt struct {
	Model string
	Err   error
}

// ExhaustedError is raised when all candidates failed. It matches
// ErrServiceUnavailable and unwraps to the last underlying cause.
type ExhaustedError struct {
	Attempts []Attempt
}

func (e *ExhaustedError) Error() string {
	if len(e.Attempts) == 0 {
		return ErrServiceUnavailable.Error() + ": no candidate models"
	}
	models := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		models = append(models, a.Model)
	}
	return fmt.Sprintf("%s: all candidates failed (%s); last error: %v",
		ErrServiceUnavailable.Error(), strings.Join(models, ", "), e.Last())
}

// Last returns the cause reported by the final candidate.
func (e *ExhaustedError) Last() error {
	if len(e.Attempts) == 0 {
		return nil
	}
	return e.Attempts[len(e.Attempts)-1].Err
}

func (e *ExhaustedError) Unwrap() []error {
	if last := e.Last(); last != nil {
		return []error{ErrServiceUnavailable, last}
	}
	return []error{ErrServiceUnavailable}
}
