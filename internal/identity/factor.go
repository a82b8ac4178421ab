package identity

// Factor is a proof of identity presented to the Resolver. The concrete
// variants below are the only implementations.
type Factor interface {
	factorName() string
}

// PhoneOTP proves control of a phone number through a one-time code.
type PhoneOTP struct {
	Phone string
	Code  string
}

// EmailPassword proves knowledge of an account's password by email.
type EmailPassword struct {
	Email    string
	Password string
}

// PhonePassword is the legacy login: phone number plus password on the
// same account that phone OTP resolves to.
type PhonePassword struct {
	Phone    string
	Password string
}

// FederatedCode is an authorization code returned by the identity
// provider's consent screen.
type FederatedCode struct {
	Code string
}

func (PhoneOTP) factorName() string      { return "phone_otp" }
func (EmailPassword) factorName() string { return "email_password" }
func (PhonePassword) factorName() string { return "phone_password" }
func (FederatedCode) factorName() string { return "federation" }
