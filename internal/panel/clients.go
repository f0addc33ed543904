package panel

import (
	"context"
	"errors"
	"fmt"

	"github.com/adamscao/ovpnpanel/internal/models"
	"github.com/adamscao/ovpnpanel/internal/openvpn"
	"github.com/adamscao/ovpnpanel/internal/policy"
	"github.com/adamscao/ovpnpanel/pkg/certutil"
)

var (
	// ErrInvalid marks requests rejected before anything was changed
	ErrInvalid = errors.New("invalid request")
	// ErrClientNotFound is returned for names missing from the PKI index
	ErrClientNotFound = errors.New("client not found")
)

func sanitize(name string) (string, error) {
	clean, err := policy.SanitizeName(name)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return clean, nil
}

func (p *Panel) requireClient(name string) error {
	exists, err := p.clients.ClientExists(name)
	if err != nil {
		return err
	}
	if !exists {
		return ErrClientNotFound
	}
	return nil
}

// AddClient issues a certificate and profile for name. It returns the
// sanitised name.
func (p *Panel) AddClient(ctx context.Context, actor Actor, name string, days int, allowDuplicate bool) (string, error) {
	clean, err := sanitize(name)
	if err != nil {
		return "", err
	}

	days, err = p.validate.ExpiryDays(days)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	err = p.clients.AddClient(ctx, clean, days, allowDuplicate)
	p.record(ctx, actor, models.ActionClientAdd, clean, err, map[string]any{"days": days, "allow_duplicate": allowDuplicate})
	return clean, err
}

// RevokeClient revokes the certificate of name
func (p *Panel) RevokeClient(ctx context.Context, actor Actor, name string) (string, error) {
	clean, err := sanitize(name)
	if err != nil {
		return "", err
	}
	if err := p.requireClient(clean); err != nil {
		return clean, err
	}

	err = p.clients.RevokeClient(ctx, clean)
	p.record(ctx, actor, models.ActionClientRevoke, clean, err, nil)
	return clean, err
}

// DeleteClient removes name from the PKI and forgets its usage
func (p *Panel) DeleteClient(ctx context.Context, actor Actor, name string) (string, error) {
	clean, err := sanitize(name)
	if err != nil {
		return "", err
	}

	err = p.clients.DeleteClient(ctx, clean)
	if err == nil {
		err = p.ledger.Forget(ctx, clean)
	}
	p.record(ctx, actor, models.ActionClientDelete, clean, err, nil)
	return clean, err
}

// EditClient toggles concurrent sessions for name
func (p *Panel) EditClient(ctx context.Context, actor Actor, name string, allowDuplicate bool) (string, error) {
	clean, err := sanitize(name)
	if err != nil {
		return "", err
	}

	err = p.clients.SetDuplicateCN(clean, allowDuplicate)
	p.record(ctx, actor, models.ActionClientEdit, clean, err, map[string]any{"allow_duplicate": allowDuplicate})
	return clean, err
}

// ExtendClient renews the certificate of name for days
func (p *Panel) ExtendClient(ctx context.Context, actor Actor, name string, days int) (string, error) {
	clean, err := sanitize(name)
	if err != nil {
		return "", err
	}

	days, err = p.validate.ExpiryDays(days)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := p.requireClient(clean); err != nil {
		return clean, err
	}

	err = p.clients.ExtendClient(ctx, clean, days)
	p.record(ctx, actor, models.ActionClientExtend, clean, err, map[string]any{"days": days})
	return clean, err
}

// ResetUsage deletes the stored usage of name
func (p *Panel) ResetUsage(ctx context.Context, actor Actor, name string) error {
	err := p.ledger.Forget(ctx, name)
	p.record(ctx, actor, models.ActionUsageReset, name, err, nil)
	return err
}

// RestartServer restarts the OpenVPN service
func (p *Panel) RestartServer(ctx context.Context, actor Actor) error {
	err := p.clients.RestartService(ctx)
	p.record(ctx, actor, models.ActionServerRestart, "", err, nil)
	return err
}

// ClientInfo is the detail view of one client
type ClientInfo struct {
	Name           string             `json:"name"`
	Status         openvpn.CertStatus `json:"status"`
	Expiry         string             `json:"expiry"`
	Serial         string             `json:"serial"`
	RevokedAt      string             `json:"revoked_at,omitempty"`
	DuplicateCN    bool               `json:"duplicate_cn"`
	HasConfig      bool               `json:"has_config"`
	Fingerprint    string             `json:"fingerprint,omitempty"`
	KeyFingerprint string             `json:"key_fingerprint,omitempty"`
}

// CertInspector reads issued certificates. The easyrsa manager implements it.
type CertInspector interface {
	CertInfo(name string) (*certutil.CertInfo, error)
}

// ClientInfo describes name from the index, its profile and its certificate
func (p *Panel) ClientInfo(ctx context.Context, name string) (*ClientInfo, error) {
	clean, err := sanitize(name)
	if err != nil {
		return nil, err
	}

	records, _, err := openvpn.ReadIndexFile(p.cfg.IndexFile())
	if err != nil {
		return nil, fmt.Errorf("failed to read PKI index: %w", err)
	}

	var info *ClientInfo
	for _, rec := range openvpn.Latest(records) {
		if rec.Name == clean {
			info = &ClientInfo{
				Name:      rec.Name,
				Status:    rec.Status,
				Expiry:    rec.ExpiryDate(),
				Serial:    rec.Serial,
				RevokedAt: rec.RevokedAt,
			}
			break
		}
	}
	if info == nil {
		return nil, ErrClientNotFound
	}

	dup, err := p.clients.HasDuplicateCN(clean)
	switch {
	case err == nil:
		info.HasConfig = true
		info.DuplicateCN = dup
	case !IsNotFound(err):
		return nil, err
	}

	if inspector, ok := p.clients.(CertInspector); ok {
		cert, err := inspector.CertInfo(clean)
		if err == nil {
			info.Fingerprint = cert.Fingerprint
			info.KeyFingerprint = cert.KeyFingerprint
		} else if !IsNotFound(err) {
			p.log.WithError(err).WithField("client", clean).Warn("failed to inspect certificate")
		}
	}

	return info, nil
}

// Profile returns the .ovpn profile of name together with the sanitised name
func (p *Panel) Profile(name string) (string, []byte, error) {
	clean, err := sanitize(name)
	if err != nil {
		return "", nil, err
	}
	data, err := p.clients.Profile(clean)
	return clean, data, err
}
