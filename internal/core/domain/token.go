package domain

// TokenPurpose scopes a single-use lifecycle token. Each user holds at most
// one outstanding token per purpose; issuing a new one overwrites the prior.
type TokenPurpose string

const (
	PurposeEmailVerification TokenPurpose = "email-verification"
	PurposePasswordReset     TokenPurpose = "password-reset"
)
