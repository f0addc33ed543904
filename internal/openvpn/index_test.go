package openvpn

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleIndex = "V\t260101000000Z\t\t1000\tunknown\t/CN=alice\n" +
	"R\t240101000000Z\t231201000000Z\t1001\tunknown\t/CN=bob\n"

func TestParseIndexScenario(t *testing.T) {
	records, diags := ParseIndex(strings.NewReader(sampleIndex))
	if len(diags) != 0 {
		t.Fatalf("unexpected diagnostics: %v", diags)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}

	alice := records[0]
	if alice.Name != "alice" || alice.Status != CertActive {
		t.Fatalf("unexpected first record: %+v", alice)
	}
	want := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if !alice.Expiry.Equal(want) {
		t.Fatalf("expected expiry %v, got %v", want, alice.Expiry)
	}
	if alice.ExpiryDate() != "2026-01-01" {
		t.Fatalf("expected 2026-01-01, got %s", alice.ExpiryDate())
	}

	bob := records[1]
	if bob.Name != "bob" || bob.Status != CertRevoked {
		t.Fatalf("unexpected second record: %+v", bob)
	}
	if bob.RevokedAt != "231201000000Z" || bob.Serial != "1001" {
		t.Fatalf("unexpected revoke fields: %+v", bob)
	}
}

func TestParseIndexStatusLetter(t *testing.T) {
	cases := map[string]CertStatus{
		"V": CertActive,
		"R": CertRevoked,
		"E": CertRevoked,
		"v": CertRevoked,
		"X": CertRevoked,
	}
	for letter, want := range cases {
		line := letter + "\t260101000000Z\t\t01\tunknown\t/CN=carol\n"
		records, _ := ParseIndex(strings.NewReader(line))
		if len(records) != 1 {
			t.Fatalf("letter %q: expected 1 record, got %d", letter, len(records))
		}
		if records[0].Status != want {
			t.Errorf("letter %q: expected %s, got %s", letter, want, records[0].Status)
		}
	}
}

func TestParseIndexSkipsMalformedRows(t *testing.T) {
	input := "garbage line\n" +
		"V\t260101000000Z\t\t02\tunknown\t/O=NoName\n" +
		"\n" +
		"V\t260101000000Z\t\t03\tunknown\t/C=US/CN=dave/emailAddress=d@example.com\n"

	records, diags := ParseIndex(strings.NewReader(input))
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if records[0].Name != "dave" {
		t.Fatalf("expected CN to stop at the next slash, got %q", records[0].Name)
	}
	if len(diags) != 2 {
		t.Fatalf("expected 2 diagnostics, got %v", diags)
	}
}

func TestParseIndexBadExpiryKeepsRaw(t *testing.T) {
	records, diags := ParseIndex(strings.NewReader("V\tnot-a-date\t\t04\tunknown\t/CN=erin\n"))
	if len(records) != 1 {
		t.Fatalf("expected the row to survive, got %d records", len(records))
	}
	if got := records[0].ExpiryDate(); got != "not-a-date" {
		t.Fatalf("expected raw expiry, got %q", got)
	}
	if len(diags) != 1 {
		t.Fatalf("expected one diagnostic, got %v", diags)
	}
}

func TestLatestAndWithoutIdentity(t *testing.T) {
	input := "V\t260101000000Z\t\t01\tunknown\t/CN=server\n" +
		"R\t250101000000Z\t240101000000Z\t02\tunknown\t/CN=alice\n" +
		"V\t270101000000Z\t\t03\tunknown\t/CN=bob\n" +
		"V\t280101000000Z\t\t04\tunknown\t/CN=alice\n"

	records, _ := ParseIndex(strings.NewReader(input))
	if len(records) != 4 {
		t.Fatalf("parser must not deduplicate, got %d", len(records))
	}

	latest := WithoutIdentity(Latest(records), "server")
	if len(latest) != 2 {
		t.Fatalf("expected 2 clients, got %+v", latest)
	}
	if latest[0].Name != "alice" || latest[0].Status != CertActive || latest[0].Serial != "04" {
		t.Fatalf("expected reissued alice to win, got %+v", latest[0])
	}
	if latest[1].Name != "bob" {
		t.Fatalf("expected bob second, got %+v", latest[1])
	}
}

func TestRemoveFromIndex(t *testing.T) {
	input := "V\t260101000000Z\t\t01\tunknown\t/CN=alice\n" +
		"V\t260101000000Z\t\t02\tunknown\t/CN=alice2\n" +
		"R\t260101000000Z\t250101000000Z\t03\tunknown\t/CN=alice\n"

	out := RemoveFromIndex(input, "alice")
	if out != "V\t260101000000Z\t\t02\tunknown\t/CN=alice2\n" {
		t.Fatalf("unexpected index after removal: %q", out)
	}
	if HasName(out, "alice") {
		t.Fatal("alice should be gone")
	}
	if !HasName(out, "alice2") {
		t.Fatal("alice2 must be kept")
	}
}

func TestReadIndexFileMissing(t *testing.T) {
	records, diags, err := ReadIndexFile(filepath.Join(t.TempDir(), "index.txt"))
	if err != nil {
		t.Fatalf("missing index must not be an error: %v", err)
	}
	if len(records) != 0 || len(diags) != 0 {
		t.Fatalf("expected empty result, got %v %v", records, diags)
	}
}

func TestReadIndexFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.txt")
	if err := os.WriteFile(path, []byte(sampleIndex), 0o600); err != nil {
		t.Fatalf("write index: %v", err)
	}
	records, _, err := ReadIndexFile(path)
	if err != nil {
		t.Fatalf("ReadIndexFile error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
}
