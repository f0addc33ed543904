package policy

import (
	"errors"
	"fmt"
	"strings"

	"github.com/adamscao/ovpnpanel/internal/config"
)

// ErrEmptyName is returned when a client name is blank
var ErrEmptyName = errors.New("client name is required")

// Validator validates client administration requests against policy
type Validator struct {
	defaultDays int
	maxDays     int
}

// NewValidator creates a new policy validator
func NewValidator(cfg config.PolicyConfig) *Validator {
	return &Validator{
		defaultDays: cfg.DefaultExpiryDays,
		maxDays:     cfg.MaxExpiryDays,
	}
}

// SanitizeName trims name and replaces every character outside
// [0-9A-Za-z_-] with an underscore
func SanitizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrEmptyName
	}

	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}

	return b.String(), nil
}

// ExpiryDays resolves a requested certificate lifetime. Zero means the
// policy default.
func (v *Validator) ExpiryDays(requested int) (int, error) {
	if requested == 0 {
		return v.defaultDays, nil
	}

	if requested < 1 || requested > v.maxDays {
		return 0, fmt.Errorf("expiry days must be between 1 and %d", v.maxDays)
	}

	return requested, nil
}
