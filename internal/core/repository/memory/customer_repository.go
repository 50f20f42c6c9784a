package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/duynhne/registration-service/internal/core/domain"
)

// CustomerRepository keeps customers in process memory.
// It is used when no database is configured and by tests. Email and phone
// uniqueness are enforced atomically under the write lock, like the Postgres constraints.
type CustomerRepository struct {
	mu      sync.RWMutex
	byID    map[string]domain.CustomerRecord
	byEmail map[string]string
	byPhone map[string]string
}

// NewCustomerRepository creates an empty in-memory repository
func NewCustomerRepository() *CustomerRepository {
	return &CustomerRepository{
		byID:    make(map[string]domain.CustomerRecord),
		byEmail: make(map[string]string),
		byPhone: make(map[string]string),
	}
}

func (r *CustomerRepository) Create(_ context.Context, record *domain.CustomerRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byEmail[record.Email]; ok {
		return fmt.Errorf("insert customer %q: %w", record.ID, domain.ErrDuplicateEmail)
	}
	if _, ok := r.byPhone[record.PhoneNumber]; ok {
		return fmt.Errorf("insert customer %q: %w", record.ID, domain.ErrDuplicatePhone)
	}

	r.byID[record.ID] = *record
	r.byEmail[record.Email] = record.ID
	r.byPhone[record.PhoneNumber] = record.ID
	return nil
}

func (r *CustomerRepository) FindUniqueByEmail(_ context.Context, email string) (*domain.CustomerRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lookup(r.byEmail, email), nil
}

func (r *CustomerRepository) FindFirstByPhone(_ context.Context, phone string) (*domain.CustomerRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lookup(r.byPhone, phone), nil
}

// Len reports how many customers are stored.
func (r *CustomerRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

func (r *CustomerRepository) lookup(index map[string]string, key string) *domain.CustomerRecord {
	id, ok := index[key]
	if !ok {
		return nil
	}
	c := r.byID[id]
	return &c
}
