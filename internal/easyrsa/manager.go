package easyrsa

import (
	"bufio"
	"bytes"
	"context"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/adamscao/ovpnpanel/internal/config"
	"github.com/adamscao/ovpnpanel/internal/openvpn"
	"github.com/adamscao/ovpnpanel/pkg/certutil"
	"github.com/sirupsen/logrus"
)

var (
	// ErrConfigNotFound is returned when a client has no .ovpn profile
	ErrConfigNotFound = errors.New("config file not found")
	// ErrClientExists is returned when adding a name already in the index
	ErrClientExists = errors.New("client already exists")
	// ErrCertNotFound is returned when a client has no issued certificate
	ErrCertNotFound = errors.New("certificate not found")
)

const duplicateCN = "duplicate-cn"

// Manager drives easyrsa, the client profiles and the OpenVPN service
type Manager struct {
	cfg    config.OpenVPNConfig
	runner Runner
	log    logrus.FieldLogger
}

// NewManager creates a new manager
func NewManager(cfg config.OpenVPNConfig, runner Runner, log logrus.FieldLogger) *Manager {
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Manager{
		cfg:    cfg,
		runner: runner,
		log:    log,
	}
}

func (m *Manager) pki(parts ...string) string {
	return filepath.Join(append([]string{m.cfg.EasyRSADir, "pki"}, parts...)...)
}

// ProfilePath returns the path of a client's .ovpn profile
func (m *Manager) ProfilePath(name string) string {
	return filepath.Join(m.cfg.ClientConfigDir, name+".ovpn")
}

func (m *Manager) easyrsa(ctx context.Context, args ...string) error {
	_, err := m.runner.Run(ctx, m.cfg.EasyRSADir, "./easyrsa", append([]string{"--batch"}, args...)...)
	return err
}

// ClientExists reports whether the index already has a certificate for name
func (m *Manager) ClientExists(name string) (bool, error) {
	data, err := os.ReadFile(m.cfg.IndexFile())
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read index: %w", err)
	}
	return openvpn.HasName(string(data), name), nil
}

// AddClient issues a certificate valid for days and writes the profile
func (m *Manager) AddClient(ctx context.Context, name string, days int, allowDuplicate bool) error {
	exists, err := m.ClientExists(name)
	if err != nil {
		return err
	}
	if exists {
		return ErrClientExists
	}

	if err := m.easyrsa(ctx, "--days="+strconv.Itoa(days), "build-client-full", name, "nopass"); err != nil {
		return fmt.Errorf("failed to build client certificate: %w", err)
	}

	if err := m.WriteProfile(name, allowDuplicate); err != nil {
		return err
	}

	m.log.WithFields(logrus.Fields{"client": name, "days": days}).Info("client certificate issued")
	return nil
}

// RevokeClient revokes the certificate of name and publishes a new CRL
func (m *Manager) RevokeClient(ctx context.Context, name string) error {
	if err := m.easyrsa(ctx, "revoke", name); err != nil {
		return fmt.Errorf("failed to revoke certificate: %w", err)
	}

	if err := m.GenerateCRL(ctx); err != nil {
		return err
	}

	m.log.WithField("client", name).Info("client certificate revoked")
	return nil
}

// GenerateCRL regenerates the CRL and copies it where OpenVPN reads it
func (m *Manager) GenerateCRL(ctx context.Context) error {
	if err := m.easyrsa(ctx, "--days="+strconv.Itoa(m.cfg.CRLDays), "gen-crl"); err != nil {
		return fmt.Errorf("failed to generate CRL: %w", err)
	}

	data, err := os.ReadFile(m.pki("crl.pem"))
	if err != nil {
		return fmt.Errorf("failed to read CRL: %w", err)
	}

	dst := filepath.Join(m.cfg.OpenVPNDir, "crl.pem")
	if err := writeFileAtomic(dst, data, 0o644); err != nil {
		return fmt.Errorf("failed to install CRL: %w", err)
	}

	// OpenVPN drops privileges before it rereads the CRL
	if err := chownNobody(dst); err != nil {
		m.log.WithError(err).Debug("could not hand crl.pem to nobody")
	}

	return nil
}

// DeleteClient revokes name if possible and removes every trace of it from
// the PKI and the profile directory
func (m *Manager) DeleteClient(ctx context.Context, name string) error {
	// Already revoked or half-created clients are still deleted
	if err := m.easyrsa(ctx, "revoke", name); err != nil {
		m.log.WithError(err).WithField("client", name).Debug("revoke before delete failed")
	}

	if err := m.GenerateCRL(ctx); err != nil {
		return err
	}

	files := []string{
		m.pki("issued", name+".crt"),
		m.pki("private", name+".key"),
		m.pki("reqs", name+".req"),
		m.pki("inline", name+".inline"),
		m.ProfilePath(name),
	}
	for _, f := range files {
		if err := os.Remove(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove %s: %w", f, err)
		}
	}

	index := m.cfg.IndexFile()
	data, err := os.ReadFile(index)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to read index: %w", err)
	}
	if err == nil {
		if err := writeFileAtomic(index, []byte(openvpn.RemoveFromIndex(string(data), name)), 0o600); err != nil {
			return fmt.Errorf("failed to rewrite index: %w", err)
		}
	}

	m.log.WithField("client", name).Info("client deleted")
	return nil
}

// ExtendClient renews the certificate of name for days and rebuilds its
// profile, keeping the duplicate-cn setting
func (m *Manager) ExtendClient(ctx context.Context, name string, days int) error {
	dup, err := m.HasDuplicateCN(name)
	if err != nil && !errors.Is(err, ErrConfigNotFound) {
		return err
	}

	if err := m.easyrsa(ctx, "--days="+strconv.Itoa(days), "renew", name, "nopass"); err != nil {
		return fmt.Errorf("failed to renew certificate: %w", err)
	}

	if err := m.WriteProfile(name, dup); err != nil {
		return err
	}

	m.log.WithFields(logrus.Fields{"client": name, "days": days}).Info("client certificate renewed")
	return nil
}

// WriteProfile assembles the .ovpn profile of name from client-common.txt and
// either the easyrsa inline file or the separate ca, cert, key and tls-crypt
// files
func (m *Manager) WriteProfile(name string, allowDuplicate bool) error {
	common, err := os.ReadFile(filepath.Join(m.cfg.OpenVPNDir, "client-common.txt"))
	if err != nil {
		return fmt.Errorf("failed to read client-common.txt: %w", err)
	}

	var profile bytes.Buffer

	inline, err := os.ReadFile(m.pki("inline", name+".inline"))
	switch {
	case err == nil:
		writeUncommented(&profile, common)
		writeUncommented(&profile, inline)

	case errors.Is(err, os.ErrNotExist):
		profile.Write(ensureNewline(common))
		if err := m.writePieces(&profile, name); err != nil {
			return err
		}

	default:
		return fmt.Errorf("failed to read inline file: %w", err)
	}

	if allowDuplicate {
		profile.WriteString(duplicateCN + "\n")
	}

	if err := os.MkdirAll(m.cfg.ClientConfigDir, 0o700); err != nil {
		return fmt.Errorf("failed to create profile directory: %w", err)
	}
	if err := writeFileAtomic(m.ProfilePath(name), profile.Bytes(), 0o600); err != nil {
		return fmt.Errorf("failed to write profile: %w", err)
	}

	return nil
}

func (m *Manager) writePieces(w *bytes.Buffer, name string) error {
	ca, err := os.ReadFile(filepath.Join(m.cfg.OpenVPNDir, "ca.crt"))
	if err != nil {
		return fmt.Errorf("failed to read ca.crt: %w", err)
	}
	certFile, err := os.ReadFile(m.pki("issued", name+".crt"))
	if err != nil {
		return fmt.Errorf("failed to read client certificate: %w", err)
	}
	key, err := os.ReadFile(m.pki("private", name+".key"))
	if err != nil {
		return fmt.Errorf("failed to read client key: %w", err)
	}
	tc, err := os.ReadFile(filepath.Join(m.cfg.OpenVPNDir, "tc.key"))
	if err != nil {
		return fmt.Errorf("failed to read tc.key: %w", err)
	}

	cert, err := certutil.ParsePEM(certFile)
	if err != nil {
		return fmt.Errorf("failed to parse client certificate: %w", err)
	}

	writeSection(w, "ca", ca)
	writeSection(w, "cert", pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw}))
	writeSection(w, "key", key)
	writeSection(w, "tls-crypt", tc)
	return nil
}

// Profile returns the .ovpn profile of name
func (m *Manager) Profile(name string) ([]byte, error) {
	data, err := os.ReadFile(m.ProfilePath(name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrConfigNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read profile: %w", err)
	}
	return data, nil
}

// HasDuplicateCN reports whether the profile of name allows concurrent sessions
func (m *Manager) HasDuplicateCN(name string) (bool, error) {
	data, err := m.Profile(name)
	if err != nil {
		return false, err
	}
	return bytes.Contains(data, []byte(duplicateCN)), nil
}

// SetDuplicateCN adds or removes the duplicate-cn line of a profile
func (m *Manager) SetDuplicateCN(name string, allow bool) error {
	data, err := m.Profile(name)
	if err != nil {
		return err
	}

	var out bytes.Buffer
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		if strings.Contains(scanner.Text(), duplicateCN) {
			continue
		}
		out.WriteString(scanner.Text())
		out.WriteByte('\n')
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read profile: %w", err)
	}

	if allow {
		out.WriteString(duplicateCN + "\n")
	}

	if err := writeFileAtomic(m.ProfilePath(name), out.Bytes(), 0o600); err != nil {
		return fmt.Errorf("failed to write profile: %w", err)
	}
	return nil
}

// CertInfo inspects the issued certificate of name
func (m *Manager) CertInfo(name string) (*certutil.CertInfo, error) {
	path := m.pki("issued", name+".crt")
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, ErrCertNotFound
	}
	return certutil.InspectFile(path)
}

// ServiceState returns the systemd state of the OpenVPN unit. is-active
// exits non-zero for every state but "active", so the printed state is
// used whenever there is one; no output reads as "inactive".
func (m *Manager) ServiceState(ctx context.Context) string {
	out, err := m.runner.Run(ctx, "", "systemctl", "is-active", m.cfg.ServiceName)
	state := strings.TrimSpace(out)
	if state == "" {
		if err != nil {
			m.log.WithError(err).Debug("systemctl is-active failed")
		}
		return "inactive"
	}
	return state
}

// RestartService restarts the OpenVPN unit
func (m *Manager) RestartService(ctx context.Context) error {
	if _, err := m.runner.Run(ctx, "", "systemctl", "restart", m.cfg.ServiceName); err != nil {
		return fmt.Errorf("failed to restart %s: %w", m.cfg.ServiceName, err)
	}
	m.log.WithField("service", m.cfg.ServiceName).Warn("OpenVPN service restarted")
	return nil
}

func writeUncommented(w *bytes.Buffer, data []byte) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "#") {
			continue
		}
		w.WriteString(line)
		w.WriteByte('\n')
	}
}

func writeSection(w *bytes.Buffer, tag string, body []byte) {
	fmt.Fprintf(w, "<%s>\n", tag)
	w.Write(ensureNewline(body))
	fmt.Fprintf(w, "</%s>\n", tag)
}

func ensureNewline(b []byte) []byte {
	if len(b) == 0 || b[len(b)-1] == '\n' {
		return b
	}
	return append(b, '\n')
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func chownNobody(path string) error {
	u, err := user.Lookup("nobody")
	if err != nil {
		return err
	}
	gid := u.Gid
	for _, group := range []string{"nogroup", "nobody"} {
		if g, err := user.LookupGroup(group); err == nil {
			gid = g.Gid
			break
		}
	}

	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return err
	}
	g, err := strconv.Atoi(gid)
	if err != nil {
		return err
	}
	return os.Chown(path, uid, g)
}
