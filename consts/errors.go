// Package consts holds the sentinel errors shared across the pipeline.
// Callers classify failures with errors.Is against these.
package consts

import "errors"

var (
	// Resolution. All three are terminal for a message: the pipeline maps
	// them to the unresolved state rather than guessing a tenant.
	ErrDomainMalformed   = errors.New("malformed domain")
	ErrTenantNotFound    = errors.New("no tenant matches domain")
	ErrAmbiguousMatch    = errors.New("multiple tenants match with identical confidence")
	ErrSnapshotNotLoaded = errors.New("tenant registry snapshot not loaded")

	// Registry validation
	ErrDuplicateTenantID  = errors.New("duplicate tenant id")
	ErrDomainOwnedTwice   = errors.New("domain claimed by more than one tenant")
	ErrInvalidTimezone    = errors.New("invalid tenant timezone")
	ErrInvalidHoursWindow = errors.New("invalid business hours window")

	// Classification (internal to the classifier, never escapes Classify)
	ErrMalformedAIResponse = errors.New("malformed classifier response")
	ErrCategoryNotDeclared = errors.New("category not declared by tenant")

	// Routing
	ErrNoDefaultDestination = errors.New("tenant has no default destination configured")
)
