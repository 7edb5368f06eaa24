package domain

import "errors"

var (
	// ErrValidation marks caller input that fails domain validation.
	ErrValidation = errors.New("validation error")

	// ErrNotFound marks a missing persisted entity.
	ErrNotFound = errors.New("not found")

	// ErrConflict marks an operation rejected by the current entity state.
	ErrConflict = errors.New("conflict")

	// ErrCircuitOpen marks a call rejected by an open circuit before any
	// provider attempt was made.
	ErrCircuitOpen = errors.New("circuit open")

	// ErrNoProviderConfig marks a tenant+channel with no resolvable
	// active provider configuration.
	ErrNoProviderConfig = errors.New("no provider config")

	// ErrChaosForbidden marks a chaos enable attempt in a production
	// environment.
	ErrChaosForbidden = errors.New("chaos mode forbidden in production")
)
