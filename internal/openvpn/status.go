package openvpn

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"strings"
)

// UndefinedName is the common name OpenVPN reports for a peer that has not
// finished authentication yet.
const UndefinedName = "UNDEF"

// ConnectionRecord represents one connected client from the status log
type ConnectionRecord struct {
	Name           string `json:"name"`
	RealAddress    string `json:"real_address"`
	VirtualAddress string `json:"virtual_address,omitempty"`
	BytesReceived  uint64 `json:"bytes_received"`
	BytesSent      uint64 `json:"bytes_sent"`
	ConnectedSince string `json:"connected_since,omitempty"`
	LastRef        string `json:"last_ref,omitempty"`
	Sessions       int    `json:"sessions"`

	// FromRoutingTable is set when the peer was only seen in the routing
	// table, so the byte counters are unknown.
	FromRoutingTable bool `json:"from_routing_table"`
}

type section int

const (
	sectionNone section = iota
	sectionClients
	sectionRouting
)

// Column labels shared by every status-version
const (
	labelCommonName     = "Common Name"
	labelRealAddress    = "Real Address"
	labelVirtualAddress = "Virtual Address"
	labelBytesReceived  = "Bytes Received"
	labelBytesSent      = "Bytes Sent"
	labelConnectedSince = "Connected Since"
	labelLastRef        = "Last Ref"
)

// columns maps field meaning to position within a data row (tag removed)
type columns struct {
	name, real, virtual, received, sent, since, lastRef int
}

// Defaults used when no header row has been seen
var (
	defaultClientColumnsV1 = columns{name: 0, real: 1, virtual: -1, received: 2, sent: 3, since: 4, lastRef: -1}
	defaultClientColumnsV2 = columns{name: 0, real: 1, virtual: 2, received: 4, sent: 5, since: 6, lastRef: -1}
	// OpenVPN 2.3 tagged rows have no IPv6 column
	defaultClientColumnsV23 = columns{name: 0, real: 1, virtual: 2, received: 3, sent: 4, since: 5, lastRef: -1}
	defaultRoutingColumns   = columns{name: 1, real: 2, virtual: 0, received: -1, sent: -1, since: -1, lastRef: 3}
)

// columnsFromLabels builds a column map from a header row
func columnsFromLabels(labels []string, fallback columns) columns {
	c := columns{name: -1, real: -1, virtual: -1, received: -1, sent: -1, since: -1, lastRef: -1}
	for i, l := range labels {
		switch strings.TrimSpace(l) {
		case labelCommonName:
			c.name = i
		case labelRealAddress:
			c.real = i
		case labelVirtualAddress:
			c.virtual = i
		case labelBytesReceived:
			c.received = i
		case labelBytesSent:
			c.sent = i
		case labelConnectedSince:
			c.since = i
		case labelLastRef:
			c.lastRef = i
		}
	}
	if c.name < 0 {
		return fallback
	}
	return c
}

// width returns the minimum number of fields a row needs for the required columns
func (c columns) width(required ...int) int {
	w := 0
	for _, i := range required {
		if i < 0 {
			return -1
		}
		if i+1 > w {
			w = i + 1
		}
	}
	return w
}

func field(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// statusTags are the first fields of status-version 2 and 3 rows
var statusTags = map[string]bool{
	"TITLE": true, "TIME": true, "HEADER": true, "CLIENT_LIST": true,
	"ROUTING_TABLE": true, "GLOBAL_STATS": true, "END": true,
}

// splitStatusLine splits a status row. Version 3 separates fields with tabs,
// the others with commas.
func splitStatusLine(line string) []string {
	if i := strings.IndexByte(line, '\t'); i > 0 && statusTags[line[:i]] {
		return strings.Split(line, "\t")
	}
	return strings.Split(line, ",")
}

// StripPort removes the port from host:port addresses. Bare IPv6 addresses
// are returned unchanged.
func StripPort(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	if strings.Count(addr, ":") == 1 {
		return addr[:strings.IndexByte(addr, ':')]
	}
	return addr
}

// statusParser holds the state of a single scan. Untagged version 1 rows
// and tagged CLIENT_LIST rows keep separate column maps because both can
// appear in one file.
type statusParser struct {
	section section
	clients columns
	tagged  columns
	// taggedHeader is set once a HEADER,CLIENT_LIST row fixed the tagged columns
	taggedHeader bool
	routing      columns
	out          map[string]ConnectionRecord
	diags        diagnostics
}

// ParseStatus parses an OpenVPN status file (status-version 1, 2 or 3) into
// a map keyed by common name. Malformed rows are skipped and reported as
// diagnostics; they never abort the scan.
func ParseStatus(r io.Reader) (map[string]ConnectionRecord, []Diagnostic) {
	p := &statusParser{
		clients: defaultClientColumnsV1,
		tagged:  defaultClientColumnsV2,
		routing: defaultRoutingColumns,
		out:     make(map[string]ConnectionRecord),
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		p.line(lineNo, strings.TrimRight(scanner.Text(), "\r"))
	}
	if err := scanner.Err(); err != nil {
		p.diags.add(lineNo, "read stopped: %v", err)
	}

	return p.out, p.diags
}

func (p *statusParser) line(n int, line string) {
	if strings.TrimSpace(line) == "" {
		return
	}

	// Version 1 section markers
	switch {
	case strings.HasPrefix(line, "OpenVPN CLIENT LIST"):
		p.section, p.clients = sectionClients, defaultClientColumnsV1
		return
	case strings.HasPrefix(line, "ROUTING TABLE"):
		p.section, p.routing = sectionRouting, defaultRoutingColumns
		return
	case strings.HasPrefix(line, "GLOBAL STATS"), line == "END":
		p.section = sectionNone
		return
	}

	fields := splitStatusLine(line)
	switch fields[0] {
	case "HEADER":
		if len(fields) < 2 {
			return
		}
		switch fields[1] {
		case "CLIENT_LIST":
			p.section = sectionClients
			p.tagged = columnsFromLabels(fields[2:], defaultClientColumnsV2)
			p.taggedHeader = true
		case "ROUTING_TABLE":
			p.section = sectionRouting
			p.routing = columnsFromLabels(fields[2:], defaultRoutingColumns)
		default:
			p.section = sectionNone
		}
		return
	case "GLOBAL_STATS", "END":
		p.section = sectionNone
		return
	case "TITLE", "TIME":
		return
	case "CLIENT_LIST":
		row := fields[1:]
		c := p.tagged
		if !p.taggedHeader {
			c = guessTaggedColumns(row)
		}
		p.client(n, row, c)
		return
	case "ROUTING_TABLE":
		p.route(n, fields[1:])
		return
	}

	// Untagged rows only carry data inside a version 1 section
	switch p.section {
	case sectionClients:
		if fields[0] == labelCommonName {
			p.clients = columnsFromLabels(fields, defaultClientColumnsV1)
			return
		}
		if fields[0] == "Updated" {
			return
		}
		p.client(n, fields, p.clients)
	case sectionRouting:
		if fields[0] == labelVirtualAddress || fields[0] == labelCommonName {
			p.routing = columnsFromLabels(fields, defaultRoutingColumns)
			return
		}
		p.route(n, fields)
	}
}

// guessTaggedColumns picks the layout of a tagged client row seen without a
// HEADER row: 2.4+ when its counter columns hold integers, else 2.3 when
// those do, else 2.4+ so the row is reported against the current layout.
func guessTaggedColumns(row []string) columns {
	for _, c := range []columns{defaultClientColumnsV2, defaultClientColumnsV23} {
		if _, ok := parseCounter(field(row, c.received)); !ok {
			continue
		}
		if _, ok := parseCounter(field(row, c.sent)); ok {
			return c
		}
	}
	return defaultClientColumnsV2
}

func (p *statusParser) client(n int, row []string, c columns) {
	w := c.width(c.name, c.real, c.received, c.sent, c.since)
	if w < 0 || len(row) < w {
		p.diags.add(n, "client row has %d fields, need %d", len(row), w)
		return
	}

	name := field(row, c.name)
	if name == labelCommonName || field(row, c.received) == labelBytesReceived {
		// label row repeated inside the section
		return
	}
	if name == "" || name == UndefinedName {
		p.diags.add(n, "skipping unauthenticated peer")
		return
	}

	received, ok := parseCounter(field(row, c.received))
	if !ok {
		p.diags.add(n, "bytes received %q defaulted to 0", field(row, c.received))
	}
	sent, ok := parseCounter(field(row, c.sent))
	if !ok {
		p.diags.add(n, "bytes sent %q defaulted to 0", field(row, c.sent))
	}

	rec := ConnectionRecord{
		Name:           name,
		RealAddress:    StripPort(field(row, c.real)),
		VirtualAddress: field(row, c.virtual),
		BytesReceived:  received,
		BytesSent:      sent,
		ConnectedSince: field(row, c.since),
		Sessions:       1,
	}

	// duplicate-cn peers share a name; the last row wins
	if prev, ok := p.out[name]; ok && !prev.FromRoutingTable {
		rec.Sessions = prev.Sessions + 1
	}
	p.out[name] = rec
}

func (p *statusParser) route(n int, row []string) {
	c := p.routing
	w := c.width(c.name)
	if w < 0 || len(row) < w {
		p.diags.add(n, "routing row has %d fields, need %d", len(row), w)
		return
	}

	name := field(row, c.name)
	if name == labelCommonName || field(row, c.virtual) == labelVirtualAddress {
		return
	}
	if name == "" || name == UndefinedName {
		return
	}

	if rec, ok := p.out[name]; ok {
		// Never overwrite what the client list reported, only fill gaps
		if rec.VirtualAddress == "" {
			rec.VirtualAddress = field(row, c.virtual)
		}
		if rec.LastRef == "" {
			rec.LastRef = field(row, c.lastRef)
		}
		p.out[name] = rec
		return
	}

	p.out[name] = ConnectionRecord{
		Name:             name,
		RealAddress:      StripPort(field(row, c.real)),
		VirtualAddress:   field(row, c.virtual),
		LastRef:          field(row, c.lastRef),
		Sessions:         1,
		FromRoutingTable: true,
	}
}

// ReadStatusFile parses the status log at path. A missing file means the
// server is not writing status yet and yields an empty map without error.
func ReadStatusFile(path string) (map[string]ConnectionRecord, []Diagnostic, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]ConnectionRecord{}, nil, nil
	}
	if err != nil {
		return map[string]ConnectionRecord{}, nil, fmt.Errorf("failed to open status log: %w", err)
	}
	defer f.Close()

	live, diags := ParseStatus(f)
	return live, diags, nil
}
