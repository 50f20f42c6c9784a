package domain

import "time"

// Gender values accepted on the registration form.
const (
	GenderMale   = "male"
	GenderFemale = "female"
	GenderOther  = "other"
)

// RegistrationInput is the payload submitted by a field agent.
// Validation tags are evaluated by the validation package, not by gin binding,
// so every field error is collected in a single pass.
type RegistrationInput struct {
	Name            string `json:"name" validate:"min=2,max=100,alpha_space"`
	Email           string `json:"email" validate:"required,max=254,email_shape"`
	PhoneNumber     string `json:"phoneNumber" validate:"required,len=10"`
	Gender          string `json:"gender" validate:"required,oneof=male female other"`
	DateOfBirth     string `json:"dateOfBirth" validate:"required,birth_date,min_age=13"`
	Address         string `json:"address" validate:"min=10,max=500"`
	Password        string `json:"password" validate:"min=6,max=128"`
	ConfirmPassword string `json:"confirmPassword" validate:"required,eqfield=Password"`
	Latitude        string `json:"latitude,omitempty" validate:"omitempty,latitude_range"`
	Longitude       string `json:"longitude,omitempty" validate:"omitempty,longitude_range"`
}

// CustomerRecord is a persisted customer.
// Password holds a bcrypt hash and is blanked on every lookup result.
type CustomerRecord struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Email       string    `json:"email"`
	PhoneNumber string    `json:"phoneNumber"`
	Gender      string    `json:"gender"`
	DateOfBirth string    `json:"dateOfBirth"`
	Address     string    `json:"address"`
	Password    string    `json:"password"`
	Latitude    string    `json:"latitude"`
	Longitude   string    `json:"longitude"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Redacted returns a copy with password material removed.
func (r *CustomerRecord) Redacted() *CustomerRecord {
	if r == nil {
		return nil
	}
	c := *r
	c.Password = ""
	return &c
}

// AutofillInput copies the record into a form payload.
// Password and confirmation are left empty so a fresh password is required.
func (r *CustomerRecord) AutofillInput() RegistrationInput {
	return RegistrationInput{
		Name:        r.Name,
		Email:       r.Email,
		PhoneNumber: r.PhoneNumber,
		Gender:      r.Gender,
		DateOfBirth: r.DateOfBirth,
		Address:     r.Address,
		Latitude:    r.Latitude,
		Longitude:   r.Longitude,
	}
}

// FormPatch is a partial form update. Nil fields are left unchanged.
type FormPatch struct {
	Name            *string `json:"name"`
	Email           *string `json:"email"`
	PhoneNumber     *string `json:"phoneNumber"`
	Gender          *string `json:"gender"`
	DateOfBirth     *string `json:"dateOfBirth"`
	Address         *string `json:"address"`
	Password        *string `json:"password"`
	ConfirmPassword *string `json:"confirmPassword"`
	Latitude        *string `json:"latitude"`
	Longitude       *string `json:"longitude"`
}

// Apply writes the non-nil fields of p into in and reports whether the phone changed.
func (p FormPatch) Apply(in *RegistrationInput) (phoneChanged bool) {
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	set(&in.Name, p.Name)
	set(&in.Email, p.Email)
	set(&in.Gender, p.Gender)
	set(&in.DateOfBirth, p.DateOfBirth)
	set(&in.Address, p.Address)
	set(&in.Password, p.Password)
	set(&in.ConfirmPassword, p.ConfirmPassword)
	set(&in.Latitude, p.Latitude)
	set(&in.Longitude, p.Longitude)
	if p.PhoneNumber != nil && *p.PhoneNumber != in.PhoneNumber {
		in.PhoneNumber = *p.PhoneNumber
		return true
	}
	return false
}

// RegisteredEvent is published after a customer record is created.
type RegisteredEvent struct {
	CustomerID  string    `json:"customer_id"`
	Email       string    `json:"email"`
	PhoneNumber string    `json:"phone_number"`
	CreatedAt   time.Time `json:"created_at"`
}
