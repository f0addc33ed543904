package panel

import (
	"errors"

	"github.com/adamscao/ovpnpanel/internal/easyrsa"
)

// IsNotFound reports whether err means the client, its profile or its
// certificate does not exist
func IsNotFound(err error) bool {
	return errors.Is(err, ErrClientNotFound) ||
		errors.Is(err, easyrsa.ErrConfigNotFound) ||
		errors.Is(err, easyrsa.ErrCertNotFound)
}

// IsConflict reports whether err means the client already exists
func IsConflict(err error) bool {
	return errors.Is(err, easyrsa.ErrClientExists)
}

// IsInvalid reports whether err is a rejected request
func IsInvalid(err error) bool {
	return errors.Is(err, ErrInvalid)
}
