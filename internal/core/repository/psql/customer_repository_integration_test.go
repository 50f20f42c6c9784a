//go:build integration

package psql_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/suite"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	database "github.com/duynhne/registration-service/internal/core"
	"github.com/duynhne/registration-service/internal/core/domain"
	"github.com/duynhne/registration-service/internal/core/repository/psql"
)

type CustomerRepositorySuite struct {
	suite.Suite
	container *tcpostgres.PostgresContainer
	pool      *pgxpool.Pool
	repo      *psql.CustomerRepository
}

func TestCustomerRepositorySuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(CustomerRepositorySuite))
}

func (s *CustomerRepositorySuite) SetupSuite() {
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("registration"),
		tcpostgres.WithUsername("registration"),
		tcpostgres.WithPassword("registration"),
		tcpostgres.BasicWaitStrategies(),
	)
	s.Require().NoError(err)
	s.container = container

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	s.Require().NoError(err)

	pool, err := pgxpool.New(ctx, dsn)
	s.Require().NoError(err)
	s.pool = pool

	s.Require().NoError(database.EnsureSchema(ctx, pool))
	s.repo = psql.NewCustomerRepository(pool)
}

func (s *CustomerRepositorySuite) TearDownSuite() {
	if s.pool != nil {
		s.pool.Close()
	}
	if s.container != nil {
		_ = s.container.Terminate(context.Background())
	}
}

func (s *CustomerRepositorySuite) SetupTest() {
	_, err := s.pool.Exec(context.Background(), "TRUNCATE customers")
	s.Require().NoError(err)
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
		Password:    "$2a$10$hash",
		CreatedAt:   time.Now().UTC().Truncate(time.Microsecond),
	}
}

func (s *CustomerRepositorySuite) TestCreateAndFind() {
	ctx := context.Background()
	rec := newRecord("jane@example.com", "5551234567")
	rec.Latitude = "12.9716"
	s.Require().NoError(s.repo.Create(ctx, rec))

	byEmail, err := s.repo.FindUniqueByEmail(ctx, rec.Email)
	s.Require().NoError(err)
	s.Require().NotNil(byEmail)
	s.Equal(rec.ID, byEmail.ID)
	s.Equal("12.9716", byEmail.Latitude)
	s.Equal("", byEmail.Longitude)
	s.True(rec.CreatedAt.Equal(byEmail.CreatedAt))

	byPhone, err := s.repo.FindFirstByPhone(ctx, rec.PhoneNumber)
	s.Require().NoError(err)
	s.Require().NotNil(byPhone)
	s.Equal(rec.Email, byPhone.Email)

	missing, err := s.repo.FindFirstByPhone(ctx, "0000000000")
	s.Require().NoError(err)
	s.Nil(missing)
}

func (s *CustomerRepositorySuite) TestUniqueConstraintsMapToDomainErrors() {
	ctx := context.Background()
	s.Require().NoError(s.repo.Create(ctx, newRecord("a@x.com", "9999999999")))

	err := s.repo.Create(ctx, newRecord("a@x.com", "1111111111"))
	s.Require().ErrorIs(err, domain.ErrDuplicateEmail)

	err = s.repo.Create(ctx, newRecord("b@x.com", "9999999999"))
	s.Require().ErrorIs(err, domain.ErrDuplicatePhone)
}

// TestConcurrentRegistrationsSamePhone verifies the storage constraint closes the
// race the workflow pre-check leaves open: exactly one insert wins.
func (s *CustomerRepositorySuite) TestConcurrentRegistrationsSamePhone() {
	ctx := context.Background()
	const goroutines = 20

	var wg sync.WaitGroup
	var created, duplicates atomic.Int32
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.repo.Create(ctx, newRecord(uuid.NewString()+"@example.com", "5550000000"))
			switch {
			case err == nil:
				created.Add(1)
			case errors.Is(err, domain.ErrDuplicatePhone):
				duplicates.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), created.Load())
	s.Equal(int32(goroutines-1), duplicates.Load())
}
