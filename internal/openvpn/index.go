package openvpn

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"regexp"
	"strings"
	"time"
)

// CertStatus is the state of a certificate in the PKI index
type CertStatus string

// Certificate states
const (
	CertActive  CertStatus = "Active"
	CertRevoked CertStatus = "Revoked"
)

// indexTimeLayout is the compact UTCTime layout used by easyrsa (YYMMDDHHMMSSZ)
const indexTimeLayout = "060102150405Z"

// minIndexFields is the number of tab separated fields a usable index row has
const minIndexFields = 6

var commonNamePattern = regexp.MustCompile(`CN=([^/]+)`)

// CertificateRecord represents one row of the easyrsa index.txt file
type CertificateRecord struct {
	Name      string     `json:"name"`
	Status    CertStatus `json:"status"`
	Expiry    time.Time  `json:"-"` // zero when ExpiryRaw could not be parsed
	ExpiryRaw string     `json:"expiry_raw"`
	RevokedAt string     `json:"revoked_at,omitempty"`
	Serial    string     `json:"serial"`
	Subject   string     `json:"subject"`
}

// ExpiryDate returns the expiry formatted as YYYY-MM-DD, or the raw index
// value when it could not be parsed.
func (c CertificateRecord) ExpiryDate() string {
	if c.Expiry.IsZero() {
		return c.ExpiryRaw
	}
	return c.Expiry.Format("2006-01-02")
}

// ParseIndexTime parses an index timestamp such as 260101000000Z
func ParseIndexTime(s string) (time.Time, bool) {
	t, err := time.Parse(indexTimeLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// CommonName extracts the CN value from a certificate subject like
// /C=US/CN=alice/emailAddress=x. It returns false when no CN is present.
func CommonName(subject string) (string, bool) {
	m := commonNamePattern.FindStringSubmatch(subject)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// ParseIndex parses the contents of an easyrsa index.txt. Rows are returned in
// file order and duplicates are kept; use Latest for a current-state view.
func ParseIndex(r io.Reader) ([]CertificateRecord, []Diagnostic) {
	var (
		records []CertificateRecord
		diags   diagnostics
		lineNo  int
	)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		parts := strings.Split(line, "\t")
		if len(parts) < minIndexFields {
			diags.add(lineNo, "expected %d fields, got %d", minIndexFields, len(parts))
			continue
		}

		name, ok := CommonName(parts[5])
		if !ok {
			diags.add(lineNo, "subject %q has no common name", parts[5])
			continue
		}

		status := CertRevoked
		if parts[0] == "V" {
			status = CertActive
		}

		expiry, ok := ParseIndexTime(parts[1])
		if !ok {
			diags.add(lineNo, "unparsable expiry %q", parts[1])
		}

		records = append(records, CertificateRecord{
			Name:      name,
			Status:    status,
			Expiry:    expiry,
			ExpiryRaw: parts[1],
			RevokedAt: parts[2],
			Serial:    parts[3],
			Subject:   parts[5],
		})
	}
	if err := scanner.Err(); err != nil {
		diags.add(lineNo, "read stopped: %v", err)
	}

	return records, diags
}

// ReadIndexFile parses the index file at path. A missing file yields no
// records and no error.
func ReadIndexFile(path string) ([]CertificateRecord, []Diagnostic, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open index file: %w", err)
	}
	defer f.Close()

	records, diags := ParseIndex(f)
	return records, diags, nil
}

// Latest collapses records to one per name. The last row for a name wins,
// which matches how easyrsa appends a new row when a certificate is reissued.
// Names keep the position of their first appearance.
func Latest(records []CertificateRecord) []CertificateRecord {
	pos := make(map[string]int, len(records))
	out := make([]CertificateRecord, 0, len(records))
	for _, rec := range records {
		if i, ok := pos[rec.Name]; ok {
			out[i] = rec
			continue
		}
		pos[rec.Name] = len(out)
		out = append(out, rec)
	}
	return out
}

// WithoutIdentity drops records whose name equals identity, typically the
// server's own certificate.
func WithoutIdentity(records []CertificateRecord, identity string) []CertificateRecord {
	if identity == "" {
		return records
	}
	out := make([]CertificateRecord, 0, len(records))
	for _, rec := range records {
		if rec.Name == identity {
			continue
		}
		out = append(out, rec)
	}
	return out
}

// HasName reports whether any row of the index contents belongs to name
func HasName(contents, name string) bool {
	records, _ := ParseIndex(strings.NewReader(contents))
	for _, rec := range records {
		if rec.Name == name {
			return true
		}
	}
	return false
}

// RemoveFromIndex returns contents without the rows whose common name is
// exactly name. Rows that cannot be parsed are kept untouched.
func RemoveFromIndex(contents, name string) string {
	var b strings.Builder
	lines := strings.SplitAfter(contents, "\n")
	for _, line := range lines {
		if line == "" {
			continue
		}
		parts := strings.Split(strings.TrimSpace(line), "\t")
		if len(parts) >= minIndexFields {
			if cn, ok := CommonName(parts[5]); ok && cn == name {
				continue
			}
		}
		b.WriteString(line)
	}
	return b.String()
}
