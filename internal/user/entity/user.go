package entity

import "time"

const (
	RoleBeneficiary = "beneficiary"

	ProfileIncomplete = "incomplete"
	ProfileComplete   = "complete"

	dateLayout = "2006-01-02"
)

// User represents an account row in the `users` table.
// A user has a password hash or a google subject id; google-only accounts
// are created with email_verified already set.
type User struct {
	ID                      string     `db:"id"`
	Email                   string     `db:"email"`
	Name                    string     `db:"name"`
	PhoneNumber             string     `db:"phone_number"`
	CPF                     *string    `db:"cpf"`
	BirthDate               *time.Time `db:"birth_date"`
	CEP                     *string    `db:"cep"`
	Street                  *string    `db:"street"`
	Number                  *string    `db:"number"`
	Complement              *string    `db:"complement"`
	Neighborhood            *string    `db:"neighborhood"`
	City                    *string    `db:"city"`
	State                   *string    `db:"state"`
	PasswordHash            *string    `db:"password_hash"`
	GoogleID                *string    `db:"google_id"`
	Role                    string     `db:"role"`
	EmailVerified           bool       `db:"email_verified"`
	EmailVerifiedAt         *time.Time `db:"email_verified_at"`
	PhoneVerified           bool       `db:"phone_verified"`
	PhoneVerifiedAt         *time.Time `db:"phone_verified_at"`
	ProfileCompletionStatus string     `db:"profile_completion_status"`
	LastLoginAt             *time.Time `db:"last_login_at"`
	CreatedAt               time.Time  `db:"created_at"`
	UpdatedAt               time.Time  `db:"updated_at"`
	DeletedAt               *time.Time `db:"deleted_at"`
}

// HasPassword reports whether the account can log in with a password.
func (u *User) HasPassword() bool {
	return u.PasswordHash != nil && *u.PasswordHash != ""
}

// Address holds the optional postal fields collected at registration or
// profile completion.
type Address struct {
	CEP          *string
	Street       *string
	Number       *string
	Complement   *string
	Neighborhood *string
	City         *string
	State        *string
}

// Profile is the set of fields written by profile completion.
type Profile struct {
	CPF         string
	PhoneNumber string
	BirthDate   *time.Time
	Address
}

// UserView is the public projection returned with token pairs and by /auth/me.
type UserView struct {
	ID                      string    `json:"id"`
	Email                   string    `json:"email"`
	Name                    string    `json:"name"`
	PhoneNumber             string    `json:"phone_number"`
	CPF                     *string   `json:"cpf"`
	BirthDate               *string   `json:"birth_date"`
	Role                    string    `json:"role"`
	IsEmailVerified         bool      `json:"is_email_verified"`
	IsPhoneVerified         bool      `json:"is_phone_verified"`
	ProfileCompletionStatus string    `json:"profile_completion_status"`
	CreatedAt               time.Time `json:"created_at"`
}

// View builds the public projection of u.
func (u *User) View() UserView {
	v := UserView{
		ID:                      u.ID,
		Email:                   u.Email,
		Name:                    u.Name,
		PhoneNumber:             u.PhoneNumber,
		CPF:                     u.CPF,
		Role:                    u.Role,
		IsEmailVerified:         u.EmailVerified,
		IsPhoneVerified:         u.PhoneVerified,
		ProfileCompletionStatus: u.ProfileCompletionStatus,
		CreatedAt:               u.CreatedAt.UTC(),
	}
	if v.Role == "" {
		v.Role = RoleBeneficiary
	}
	if v.ProfileCompletionStatus == "" {
		v.ProfileCompletionStatus = ProfileIncomplete
	}
	if u.BirthDate != nil {
		s := u.BirthDate.Format(dateLayout)
		v.BirthDate = &s
	}
	return v
}

// ParseBirthDate parses a YYYY-MM-DD date. An empty string yields nil.
func ParseBirthDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
