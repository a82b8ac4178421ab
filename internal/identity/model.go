package identity

import "time"

// Role gates what an account may do.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleWorker   Role = "worker"
	RoleAdmin    Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleCustomer, RoleWorker, RoleAdmin:
		return true
	}
	return false
}

// Account is a durable identity record. At least one of Phone or Email is
// set. PasswordHash is empty for accounts that only sign in through OTP or
// federation.
type Account struct {
	ID            string
	Phone         string
	Email         string
	PasswordHash  string
	FullName      string
	AvatarURL     string
	PhoneVerified bool
	EmailVerified bool
	Role          Role
	Active        bool
	TokenVersion  int
	CreatedAt     time.Time
	LastLoginAt   time.Time
}

func (a Account) HasPassword() bool { return a.PasswordHash != "" }

// Session is a minted bearer credential pair.
type Session struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	ExpiresIn    int64
}
