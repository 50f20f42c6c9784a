package v1

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/duynhne/registration-service/internal/core/domain"
)

type mockRepository struct {
	mock.Mock
}

func (m *mockRepository) Create(ctx context.Context, record *domain.CustomerRecord) error {
	return m.Called(ctx, record).Error(0)
}

func (m *mockRepository) FindUniqueByEmail(ctx context.Context, email string) (*domain.CustomerRecord, error) {
	args := m.Called(ctx, email)
	record, _ := args.Get(0).(*domain.CustomerRecord)
	return record, args.Error(1)
}

func (m *mockRepository) FindFirstByPhone(ctx context.Context, phone string) (*domain.CustomerRecord, error) {
	args := m.Called(ctx, phone)
	record, _ := args.Get(0).(*domain.CustomerRecord)
	return record, args.Error(1)
}

type mockCache struct {
	mock.Mock
}

func (m *mockCache) GetByEmail(ctx context.Context, email string) (*domain.CustomerRecord, error) {
	args := m.Called(ctx, email)
	record, _ := args.Get(0).(*domain.CustomerRecord)
	return record, args.Error(1)
}

func (m *mockCache) GetByPhone(ctx context.Context, phone string) (*domain.CustomerRecord, error) {
	args := m.Called(ctx, phone)
	record, _ := args.Get(0).(*domain.CustomerRecord)
	return record, args.Error(1)
}

func (m *mockCache) Put(ctx context.Context, record *domain.CustomerRecord) error {
	return m.Called(ctx, record).Error(0)
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) PublishRegistered(ctx context.Context, event domain.RegisteredEvent) error {
	return m.Called(ctx, event).Error(0)
}

func existingCustomer() *domain.CustomerRecord {
	return &domain.CustomerRecord{
		ID:          "cust-1",
		Name:        "Jane Doe",
		Email:       "jane@example.com",
		PhoneNumber: "5551234567",
		Gender:      domain.GenderFemale,
		DateOfBirth: "1990-04-12",
		Address:     "12 Market Street, Springfield",
		Password:    "$2a$04$hash",
		Latitude:    "12.9716",
		Longitude:   "77.5946",
	}
}
