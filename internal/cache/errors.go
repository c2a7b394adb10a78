package cache

import (
	"errors"
	"fmt"

	"github.com/bobarin/kanjivoice/internal/models"
)

var (
	// ErrEmptyText is returned when nothing is left to speak after normalization.
	ErrEmptyText = errors.New("reading text is empty")

	ErrSynthesisFailed   = errors.New("synthesis failed")
	ErrSynthesisTimedOut = errors.New("synthesis timed out")
	ErrStorageFailed     = errors.New("storing synthesized audio failed")
)

// ResolveError is what Resolve returns when a miss could not be materialized.
// errors.Is matches Kind (one of ErrSynthesisFailed, ErrSynthesisTimedOut,
// ErrStorageFailed) as well as anything in the wrapped chain.
type ResolveError struct {
	Kind error
	Hash models.ContentHash
	Err  error
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("%v (hash %s): %v", e.Kind, e.Hash, e.Err)
}

func (e *ResolveError) Is(target error) bool {
	return target == e.Kind
}

func (e *ResolveError) Unwrap() error {
	return e.Err
}
