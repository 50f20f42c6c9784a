package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"github.com/duynhne/registration-service/internal/core/domain"
)

type CustomerRepositorySuite struct {
	suite.Suite
	repo *CustomerRepository
}

func TestCustomerRepositorySuite(t *testing.T) {
	suite.Run(t, new(CustomerRepositorySuite))
}

func (s *CustomerRepositorySuite) SetupTest() {
	s.repo = NewCustomerRepository()
}

func newRecord(email, phone string) *domain.CustomerRecord {
	return &domain.CustomerRecord{
		ID:          uuid.NewString(),
		Name:        "Jane Doe",
		Email:       email,
		PhoneNumber: phone,
		Gender:      domain.GenderFemale,
		DateOfBirth: "1990-04-12",
		Address:     "12 Market Street, Springfield",
		Password:    "hash",
		CreatedAt:   time.Now().UTC(),
	}
}

func (s *CustomerRepositorySuite) TestLookupBehavior() {
	ctx := context.Background()
	rec := newRecord("jane@example.com", "5551234567")
	s.Require().NoError(s.repo.Create(ctx, rec))

	s.Run("finds by email", func() {
		found, err := s.repo.FindUniqueByEmail(ctx, "jane@example.com")
		s.Require().NoError(err)
		s.Require().NotNil(found)
		s.Equal(rec.ID, found.ID)
	})

	s.Run("email lookup is case sensitive", func() {
		found, err := s.repo.FindUniqueByEmail(ctx, "JANE@example.com")
		s.Require().NoError(err)
		s.Nil(found)
	})

	s.Run("finds by phone", func() {
		found, err := s.repo.FindFirstByPhone(ctx, "5551234567")
		s.Require().NoError(err)
		s.Require().NotNil(found)
		s.Equal(rec.Email, found.Email)
	})

	s.Run("returns nil when absent", func() {
		found, err := s.repo.FindFirstByPhone(ctx, "0000000000")
		s.Require().NoError(err)
		s.Nil(found)
	})

	s.Run("returned records are copies", func() {
		found, err := s.repo.FindFirstByPhone(ctx, "5551234567")
		s.Require().NoError(err)
		found.Name = "Mutated"

		again, err := s.repo.FindFirstByPhone(ctx, "5551234567")
		s.Require().NoError(err)
		s.Equal("Jane Doe", again.Name)
	})
}

func (s *CustomerRepositorySuite) TestUniqueness() {
	ctx := context.Background()
	s.Require().NoError(s.repo.Create(ctx, newRecord("a@x.com", "9999999999")))

	s.Run("duplicate email", func() {
		err := s.repo.Create(ctx, newRecord("a@x.com", "1111111111"))
		s.Require().ErrorIs(err, domain.ErrDuplicateEmail)
	})

	s.Run("duplicate phone", func() {
		err := s.repo.Create(ctx, newRecord("b@x.com", "9999999999"))
		s.Require().ErrorIs(err, domain.ErrDuplicatePhone)
	})

	s.Equal(1, s.repo.Len())
}

func (s *CustomerRepositorySuite) TestConcurrentCreateSamePhone() {
	ctx := context.Background()
	const goroutines = 20

	var wg sync.WaitGroup
	var created atomic.Int32
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec := newRecord(uuid.NewString()+"@example.com", "5550000000")
			if err := s.repo.Create(ctx, rec); err == nil {
				created.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), created.Load())
	s.Equal(1, s.repo.Len())
}
