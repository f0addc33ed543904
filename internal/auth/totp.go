package auth

import (
	"bytes"
	"fmt"
	"image/png"

	"github.com/pquerna/otp/totp"
)

const (
	totpIssuer = "OpenVPN-Panel"
	qrSize     = 256
)

// TOTPKey is a freshly generated TOTP enrolment
type TOTPKey struct {
	Secret string
	URL    string
	QRCode []byte // PNG
}

// GenerateTOTP generates a new TOTP secret for account together with its
// otpauth URL and a PNG QR code of that URL
func GenerateTOTP(account string) (*TOTPKey, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      totpIssuer,
		AccountName: account,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate TOTP secret: %w", err)
	}

	img, err := key.Image(qrSize, qrSize)
	if err != nil {
		return nil, fmt.Errorf("failed to render QR code: %w", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode QR code: %w", err)
	}

	return &TOTPKey{
		Secret: key.Secret(),
		URL:    key.URL(),
		QRCode: buf.Bytes(),
	}, nil
}

// ValidateTOTP validates a TOTP code against a secret.
// totp.Validate accepts one period of clock skew either side.
func ValidateTOTP(secret, code string) bool {
	if secret == "" || code == "" {
		return false
	}
	return totp.Validate(code, secret)
}
