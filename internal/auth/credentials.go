package auth

import (
	"crypto/subtle"
	"errors"
)

var (
	// ErrBadCredentials is returned for a wrong username or password
	ErrBadCredentials = errors.New("invalid username or password")
	// ErrBadTOTP is returned for a missing or wrong one-time code
	ErrBadTOTP = errors.New("invalid TOTP code")
)

// Credentials is the single panel administrator
type Credentials struct {
	Username     string
	PasswordHash string
	TOTPSecret   string // empty disables the second factor
}

// Verify checks a login attempt
func (c Credentials) Verify(username, password, code string) error {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(c.Username)) == 1
	// Always run bcrypt so a wrong username costs the same as a wrong password
	passOK := VerifyPassword(password, c.PasswordHash)
	if !userOK || !passOK {
		return ErrBadCredentials
	}

	if c.TOTPSecret != "" && !ValidateTOTP(c.TOTPSecret, code) {
		return ErrBadTOTP
	}

	return nil
}
