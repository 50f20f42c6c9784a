package domain

import "context"

// CustomerRepository defines the storage collaborator for customer records.
// Find methods return (nil, nil) when nothing matches.
// Create returns ErrDuplicateEmail or ErrDuplicatePhone (wrapped) when a storage
// uniqueness constraint rejects the record.
type CustomerRepository interface {
	Create(ctx context.Context, record *CustomerRecord) error
	FindUniqueByEmail(ctx context.Context, email string) (*CustomerRecord, error)
	FindFirstByPhone(ctx context.Context, phone string) (*CustomerRecord, error)
}

// LookupCache holds redacted lookup results keyed by email or phone.
// A miss is reported as (nil, nil).
type LookupCache interface {
	GetByEmail(ctx context.Context, email string) (*CustomerRecord, error)
	GetByPhone(ctx context.Context, phone string) (*CustomerRecord, error)
	Put(ctx context.Context, record *CustomerRecord) error
}

// EventPublisher announces registrations to downstream consumers.
type EventPublisher interface {
	PublishRegistered(ctx context.Context, event RegisteredEvent) error
}
