package domain

import "errors"

// Sentinel errors for customer registration.
var (
	// ErrCustomerNotFound indicates no customer matches the lookup key.
	// HTTP Status: 404 Not Found
	ErrCustomerNotFound = errors.New("customer not found")

	// ErrDuplicateEmail indicates a customer with the same email already exists.
	// HTTP Status: 409 Conflict
	ErrDuplicateEmail = errors.New("email already registered")

	// ErrDuplicatePhone indicates a customer with the same phone number already exists.
	// HTTP Status: 409 Conflict
	ErrDuplicatePhone = errors.New("phone number already registered")

	// ErrValidation indicates the registration payload failed field validation.
	// HTTP Status: 400 Bad Request
	ErrValidation = errors.New("validation failed")

	// ErrUnknownField indicates a per-field validation request named no known field.
	// HTTP Status: 400 Bad Request
	ErrUnknownField = errors.New("unknown field")

	// ErrSessionNotFound indicates the form session does not exist or has expired.
	// HTTP Status: 404 Not Found
	ErrSessionNotFound = errors.New("form session not found")

	// ErrSubmissionInProgress indicates the session already has an outstanding submission.
	// HTTP Status: 409 Conflict
	ErrSubmissionInProgress = errors.New("submission already in progress")

	// ErrNoCandidate indicates auto-fill was requested without a matched customer.
	// HTTP Status: 409 Conflict
	ErrNoCandidate = errors.New("no candidate customer to auto-fill from")
)
