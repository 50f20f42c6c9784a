package v1

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/duynhne/registration-service/internal/core/domain"
	"github.com/duynhne/registration-service/internal/core/validation"
	"github.com/duynhne/registration-service/middleware"
)

// Rejection reasons reported in RegistrationResult.Reason.
const (
	ReasonValidation     = "validation"
	ReasonDuplicateEmail = "duplicateEmail"
	ReasonDuplicatePhone = "duplicatePhone"
	ReasonServerError    = "serverError"
)

const (
	duplicateEmailMessage = "This email is already registered"
	duplicatePhoneMessage = "This phone number is already registered"
)

// RegistrationResult is the outcome of one submission.
// Success carries Record; a rejection carries Reason and, for field-level
// problems, FieldErrors keyed by JSON field name.
type RegistrationResult struct {
	Success     bool                   `json:"success"`
	Record      *domain.CustomerRecord `json:"record,omitempty"`
	Reason      string                 `json:"reason,omitempty"`
	FieldErrors map[string]string      `json:"fieldErrors,omitempty"`
}

// RegistrationService runs the registration workflow:
// validate, email uniqueness, phone uniqueness, hash, create, announce.
type RegistrationService struct {
	rules         *validation.Rules
	repo          domain.CustomerRepository
	directory     *Directory
	events        domain.EventPublisher
	logger        *zap.Logger
	bcryptCost    int
	submitTimeout time.Duration
	now           func() time.Time
	newID         func() string
}

// ServiceOption customizes a RegistrationService.
type ServiceOption func(*RegistrationService)

// WithBcryptCost overrides the password hashing cost.
func WithBcryptCost(cost int) ServiceOption {
	return func(s *RegistrationService) {
		if cost > 0 {
			s.bcryptCost = cost
		}
	}
}

// WithSubmitTimeout bounds a whole submission, storage round trips included.
func WithSubmitTimeout(d time.Duration) ServiceOption {
	return func(s *RegistrationService) { s.submitTimeout = d }
}

// WithServiceClock sets the clock used for CreatedAt.
func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *RegistrationService) { s.now = now }
}

// NewRegistrationService wires the workflow. events may be nil.
func NewRegistrationService(
	rules *validation.Rules,
	repo domain.CustomerRepository,
	directory *Directory,
	events domain.EventPublisher,
	logger *zap.Logger,
	opts ...ServiceOption,
) *RegistrationService {
	s := &RegistrationService{
		rules:      rules,
		repo:       repo,
		directory:  directory,
		events:     events,
		logger:     logger,
		bcryptCost: bcrypt.DefaultCost,
		now:        func() time.Time { return time.Now().UTC() },
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register validates and persists a new customer and returns the redacted record.
//
// Errors: *validation.Errors (matches domain.ErrValidation), domain.ErrDuplicateEmail,
// domain.ErrDuplicatePhone, or a wrapped storage failure.
func (s *RegistrationService) Register(ctx context.Context, in domain.RegistrationInput) (*domain.CustomerRecord, error) {
	ctx, span := middleware.StartSpan(ctx, "customer.register", trace.WithAttributes(
		attribute.String("layer", "logic"),
	))
	defer span.End()

	normalized, err := s.rules.Validate(in)
	if err != nil {
		span.SetAttributes(attribute.Bool("registration.valid", false))
		return nil, err
	}

	existing, err := s.directory.FindByEmail(ctx, normalized.Email)
	if err != nil {
		return nil, s.storageFailure(ctx, "check email uniqueness", err)
	}
	if existing != nil {
		return nil, fmt.Errorf("register %q: %w", normalized.Email, domain.ErrDuplicateEmail)
	}

	existing, err = s.directory.FindByPhone(ctx, normalized.PhoneNumber)
	if err != nil {
		return nil, s.storageFailure(ctx, "check phone uniqueness", err)
	}
	if existing != nil {
		return nil, fmt.Errorf("register %q: %w", normalized.PhoneNumber, domain.ErrDuplicatePhone)
	}

	hash, err := HashPassword(normalized.Password, s.bcryptCost)
	if err != nil {
		return nil, s.storageFailure(ctx, "hash password", err)
	}

	record := &domain.CustomerRecord{
		ID:          s.newID(),
		Name:        normalized.Name,
		Email:       normalized.Email,
		PhoneNumber: normalized.PhoneNumber,
		Gender:      normalized.Gender,
		DateOfBirth: normalized.DateOfBirth,
		Address:     normalized.Address,
		Password:    hash,
		Latitude:    normalized.Latitude,
		Longitude:   normalized.Longitude,
		CreatedAt:   s.now(),
	}

	if err := s.repo.Create(ctx, record); err != nil {
		// Lost the race against a concurrent registration; the storage constraint decided.
		if errors.Is(err, domain.ErrDuplicateEmail) || errors.Is(err, domain.ErrDuplicatePhone) {
			return nil, err
		}
		return nil, s.storageFailure(ctx, "create customer", err)
	}

	span.SetAttributes(attribute.String("customer.id", record.ID))
	s.directory.Remember(ctx, record)
	s.announce(ctx, record)

	return record.Redacted(), nil
}

// Submit runs Register and folds its outcome into a RegistrationResult.
// It never returns an error; storage failures become ReasonServerError.
func (s *RegistrationService) Submit(ctx context.Context, in domain.RegistrationInput) RegistrationResult {
	if s.submitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.submitTimeout)
		defer cancel()
	}

	record, err := s.Register(ctx, in)
	result := resultFor(record, err)
	outcome := result.Reason
	if result.Success {
		outcome = "accepted"
	}
	registrationsTotal.WithLabelValues(outcome).Inc()
	return result
}

func resultFor(record *domain.CustomerRecord, err error) RegistrationResult {
	var fieldErrs *validation.Errors
	switch {
	case err == nil:
		return RegistrationResult{Success: true, Record: record}
	case errors.As(err, &fieldErrs):
		return RegistrationResult{Reason: ReasonValidation, FieldErrors: fieldErrs.Fields}
	case errors.Is(err, domain.ErrDuplicateEmail):
		return RegistrationResult{Reason: ReasonDuplicateEmail, FieldErrors: map[string]string{"email": duplicateEmailMessage}}
	case errors.Is(err, domain.ErrDuplicatePhone):
		return RegistrationResult{Reason: ReasonDuplicatePhone, FieldErrors: map[string]string{"phoneNumber": duplicatePhoneMessage}}
	default:
		return RegistrationResult{Reason: ReasonServerError}
	}
}

func (s *RegistrationService) storageFailure(ctx context.Context, step string, err error) error {
	middleware.RecordError(ctx, err)
	s.logger.Error("Registration failed", zap.String("step", step), zap.Error(err))
	return fmt.Errorf("%s: %w", step, err)
}

func (s *RegistrationService) announce(ctx context.Context, record *domain.CustomerRecord) {
	if s.events == nil {
		return
	}
	event := domain.RegisteredEvent{
		CustomerID:  record.ID,
		Email:       record.Email,
		PhoneNumber: record.PhoneNumber,
		CreatedAt:   record.CreatedAt,
	}
	if err := s.events.PublishRegistered(ctx, event); err != nil {
		s.logger.Warn("Failed to publish registration event", zap.String("customer_id", record.ID), zap.Error(err))
	}
}
