// Package validation implements the registration field rules on top of
// go-playground/validator. Rules are declared as struct tags on
// domain.RegistrationInput; this package registers the custom tags, maps
// validator failures to user-facing messages and normalizes the phone number.
package validation

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/duynhne/registration-service/internal/core/domain"
)

// MinimumAge is the youngest age, in whole years, allowed to register.
const MinimumAge = 13

var (
	namePattern  = regexp.MustCompile(`^[A-Za-z\s]+$`)
	emailPattern = regexp.MustCompile(`^[a-zA-Z0-9.!#$%&'*+/=?^_\x60{|}~-]+@[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(?:\.[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)*$`)
	nonDigits    = regexp.MustCompile(`\D`)
)

// birthDateLayouts are tried in order when parsing a date of birth.
var birthDateLayouts = []string{"2006-01-02", time.RFC3339}

// messages maps "<json field>.<tag>" to the message shown next to the field.
var messages = map[string]string{
	"name.min":                  "Full name must be at least 2 characters",
	"name.max":                  "Full name must not exceed 100 characters",
	"name.alpha_space":          "Full name can only contain letters and spaces",
	"email.required":            "Email is required",
	"email.max":                 "Email must not exceed 254 characters",
	"email.email_shape":         "Please enter a valid email address",
	"phoneNumber.required":      "Phone number must be exactly 10 digits",
	"phoneNumber.len":           "Phone number must be exactly 10 digits",
	"gender.required":           "Invalid gender selected",
	"gender.oneof":              "Invalid gender selected",
	"dateOfBirth.required":      "Date of birth is required",
	"dateOfBirth.birth_date":    "Please enter a valid date of birth",
	"dateOfBirth.min_age":       "Must be at least 13 years old",
	"address.min":               "Address must be at least 10 characters",
	"address.max":               "Address must not exceed 500 characters",
	"password.min":              "Password must be at least 6 characters",
	"password.max":              "Password must not exceed 128 characters",
	"confirmPassword.required":  "Please confirm your password",
	"confirmPassword.eqfield":   "Passwords do not match",
	"latitude.latitude_range":   "Invalid latitude",
	"longitude.longitude_range": "Invalid longitude",
}

// Errors carries every field error found in one validation pass, keyed by JSON field name.
type Errors struct {
	Fields map[string]string
}

func (e *Errors) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return fmt.Sprintf("%s: %s", domain.ErrValidation, strings.Join(keys, ", "))
}

// Is makes errors.Is(err, domain.ErrValidation) true for *Errors.
func (e *Errors) Is(target error) bool {
	return target == domain.ErrValidation
}

// Rules validates registration payloads.
type Rules struct {
	validate *validator.Validate
	now      func() time.Time
	// fields maps JSON field names to struct field names for partial validation.
	fields map[string]string
}

// Option configures Rules.
type Option func(*Rules)

// WithClock overrides the clock used for age checks.
func WithClock(now func() time.Time) Option {
	return func(r *Rules) {
		if now != nil {
			r.now = now
		}
	}
}

// New builds the registration rules with all custom tags registered.
func New(opts ...Option) *Rules {
	r := &Rules{
		validate: validator.New(validator.WithRequiredStructEnabled()),
		now:      time.Now,
		fields:   make(map[string]string),
	}
	for _, opt := range opts {
		opt(r)
	}

	r.validate.RegisterTagNameFunc(jsonFieldName)

	// Registration only fails on an empty tag name, and every name below is a literal.
	_ = r.validate.RegisterValidation("alpha_space", func(fl validator.FieldLevel) bool {
		return namePattern.MatchString(fl.Field().String())
	})
	_ = r.validate.RegisterValidation("email_shape", func(fl validator.FieldLevel) bool {
		return emailPattern.MatchString(fl.Field().String())
	})
	_ = r.validate.RegisterValidation("birth_date", func(fl validator.FieldLevel) bool {
		_, ok := parseBirthDate(fl.Field().String())
		return ok
	})
	_ = r.validate.RegisterValidation("min_age", r.minAge)
	_ = r.validate.RegisterValidation("latitude_range", coordinateWithin(90))
	_ = r.validate.RegisterValidation("longitude_range", coordinateWithin(180))

	t := reflect.TypeOf(domain.RegistrationInput{})
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		r.fields[jsonFieldName(f)] = f.Name
	}

	return r
}

// Validate checks the whole payload and returns the normalized input.
// On failure the error is an *Errors holding every failing field.
func (r *Rules) Validate(in domain.RegistrationInput) (domain.RegistrationInput, error) {
	in.PhoneNumber = NormalizePhone(in.PhoneNumber)
	if err := r.validate.Struct(in); err != nil {
		return in, r.translate(err)
	}
	return in, nil
}

// ValidateField checks a single field against the current form values.
// It returns the field's error message, or "" when the value is acceptable.
// confirmPassword is compared against current.Password.
func (r *Rules) ValidateField(field, value string, current domain.RegistrationInput) (string, error) {
	structField, ok := r.fields[field]
	if !ok {
		return "", fmt.Errorf("validate field %q: %w", field, domain.ErrUnknownField)
	}

	in := current
	reflect.ValueOf(&in).Elem().FieldByName(structField).SetString(value)
	in.PhoneNumber = NormalizePhone(in.PhoneNumber)

	if err := r.validate.StructPartial(in, structField); err != nil {
		var fieldErrs *Errors
		if errors.As(r.translate(err), &fieldErrs) {
			return fieldErrs.Fields[field], nil
		}
		return "", err
	}
	return "", nil
}

// NormalizePhone strips every non-digit character.
func NormalizePhone(phone string) string {
	return nonDigits.ReplaceAllString(phone, "")
}

// AgeOn returns the age in whole years at now for someone born on birth.
func AgeOn(birth, now time.Time) int {
	age := now.Year() - birth.Year()
	if now.Month() < birth.Month() || (now.Month() == birth.Month() && now.Day() < birth.Day()) {
		age--
	}
	return age
}

func (r *Rules) translate(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate registration: %w", err)
	}
	out := &Errors{Fields: make(map[string]string, len(verrs))}
	for _, fe := range verrs {
		msg, ok := messages[fe.Field()+"."+fe.Tag()]
		if !ok {
			msg = "Invalid value"
		}
		out.Fields[fe.Field()] = msg
	}
	return out
}

func (r *Rules) minAge(fl validator.FieldLevel) bool {
	birth, ok := parseBirthDate(fl.Field().String())
	if !ok {
		return false
	}
	minimum := MinimumAge
	if p := fl.Param(); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			minimum = n
		}
	}
	return AgeOn(birth, r.now()) >= minimum
}

func coordinateWithin(limit float64) validator.Func {
	return func(fl validator.FieldLevel) bool {
		v, err := strconv.ParseFloat(strings.TrimSpace(fl.Field().String()), 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
		return math.Abs(v) <= limit
	}
}

func parseBirthDate(s string) (time.Time, bool) {
	for _, layout := range birthDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func jsonFieldName(f reflect.StructField) string {
	name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
	if name == "-" || name == "" {
		return f.Name
	}
	return name
}
