package models

import "errors"

// Error categories shared by every stage. Stages wrap these with context via
// fmt.Errorf and %w; callers branch with errors.Is.
var (
	// ErrSchemaViolation marks a payload that fails structural validation at
	// a component boundary.
	ErrSchemaViolation = errors.New("schema violation")

	// ErrMissingDependency marks a stage input artifact that was never
	// produced.
	ErrMissingDependency = errors.New("missing dependency")

	// ErrDataUnavailable marks a required data window that the source cannot
	// serve, in full or in part.
	ErrDataUnavailable = errors.New("data unavailable")

	// ErrExternalCall marks a failed interaction with an execution venue or
	// other external system.
	ErrExternalCall = errors.New("external call failure")
)
