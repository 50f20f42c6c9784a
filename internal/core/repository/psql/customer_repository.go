package psql

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	database "github.com/duynhne/registration-service/internal/core"
	"github.com/duynhne/registration-service/internal/core/domain"
)

// uniqueViolation is the SQLSTATE for unique_violation.
const uniqueViolation = "23505"

const customerColumns = `id, name, email, phone_number, gender, date_of_birth, address, password, latitude, longitude, created_at`

// CustomerRepository implements domain.CustomerRepository using PostgreSQL
type CustomerRepository struct {
	db *pgxpool.Pool
}

// NewCustomerRepository creates a new PostgreSQL customer repository
func NewCustomerRepository(db *pgxpool.Pool) *CustomerRepository {
	return &CustomerRepository{db: db}
}

// Create inserts a customer record.
// Unique violations are reported as domain.ErrDuplicateEmail / domain.ErrDuplicatePhone.
func (r *CustomerRepository) Create(ctx context.Context, record *domain.CustomerRecord) error {
	if r.db == nil {
		return errors.New("database connection not available")
	}

	query := `INSERT INTO customers (` + customerColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := r.db.Exec(ctx, query,
		record.ID,
		record.Name,
		record.Email,
		record.PhoneNumber,
		record.Gender,
		record.DateOfBirth,
		record.Address,
		record.Password,
		record.Latitude,
		record.Longitude,
		record.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			switch pgErr.ConstraintName {
			case database.EmailUniqueConstraint:
				return fmt.Errorf("insert customer %q: %w", record.ID, domain.ErrDuplicateEmail)
			case database.PhoneUniqueConstraint:
				return fmt.Errorf("insert customer %q: %w", record.ID, domain.ErrDuplicatePhone)
			}
		}
		return fmt.Errorf("insert customer: %w", err)
	}
	return nil
}

// FindUniqueByEmail returns the customer with the given email, or nil if none exists
func (r *CustomerRepository) FindUniqueByEmail(ctx context.Context, email string) (*domain.CustomerRecord, error) {
	query := `SELECT ` + customerColumns + ` FROM customers WHERE email = $1`
	record, err := r.queryOne(ctx, query, email)
	if err != nil {
		return nil, fmt.Errorf("find customer by email: %w", err)
	}
	return record, nil
}

// FindFirstByPhone returns the oldest customer with the given phone number, or nil if none exists
func (r *CustomerRepository) FindFirstByPhone(ctx context.Context, phone string) (*domain.CustomerRecord, error) {
	query := `SELECT ` + customerColumns + ` FROM customers WHERE phone_number = $1 ORDER BY created_at LIMIT 1`
	record, err := r.queryOne(ctx, query, phone)
	if err != nil {
		return nil, fmt.Errorf("find customer by phone: %w", err)
	}
	return record, nil
}

func (r *CustomerRepository) queryOne(ctx context.Context, query string, arg string) (*domain.CustomerRecord, error) {
	if r.db == nil {
		return nil, errors.New("database connection not available")
	}

	var c domain.CustomerRecord
	err := r.db.QueryRow(ctx, query, arg).Scan(
		&c.ID,
		&c.Name,
		&c.Email,
		&c.PhoneNumber,
		&c.Gender,
		&c.DateOfBirth,
		&c.Address,
		&c.Password,
		&c.Latitude,
		&c.Longitude,
		&c.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // not found is not an error for lookups
		}
		return nil, err
	}
	return &c, nil
}
