// Package report joins certificates, live connections and cumulative usage
// into the views served by the panel.
package report

import (
	"github.com/adamscao/ovpnpanel/internal/models"
	"github.com/adamscao/ovpnpanel/internal/openvpn"
)

// ClientReport is the per-client row of the panel
type ClientReport struct {
	Name           string             `json:"name"`
	Status         openvpn.CertStatus `json:"status"`
	Expiry         string             `json:"expiry"`
	Serial         string             `json:"serial"`
	Connected      bool               `json:"connected"`
	IP             string             `json:"ip"`
	VirtualAddress string             `json:"virtual_address,omitempty"`
	ConnectedSince string             `json:"connected_since,omitempty"`

	BytesSent              uint64 `json:"bytes_sent"`
	BytesReceived          uint64 `json:"bytes_received"`
	BytesSentFormatted     string `json:"bytes_sent_formatted"`
	BytesReceivedFormatted string `json:"bytes_received_formatted"`

	TotalSent              uint64 `json:"total_sent"`
	TotalReceived          uint64 `json:"total_received"`
	TotalSentFormatted     string `json:"total_sent_formatted"`
	TotalReceivedFormatted string `json:"total_received_formatted"`
}

// Build joins the three record sets by client name, one report per
// certificate in the given order. A certificate without a live connection is
// reported disconnected with zero session bytes.
func Build(certs []openvpn.CertificateRecord, live map[string]openvpn.ConnectionRecord, usage map[string]models.CumulativeUsage) []ClientReport {
	reports := make([]ClientReport, 0, len(certs))

	for _, cert := range certs {
		r := ClientReport{
			Name:   cert.Name,
			Status: cert.Status,
			Expiry: cert.ExpiryDate(),
			Serial: cert.Serial,
		}

		conn, connected := live[cert.Name]
		if connected {
			r.Connected = true
			r.IP = conn.RealAddress
			r.VirtualAddress = conn.VirtualAddress
			r.ConnectedSince = conn.ConnectedSince
			r.BytesSent = conn.BytesSent
			r.BytesReceived = conn.BytesReceived
		}

		if u, ok := usage[cert.Name]; ok {
			r.TotalSent = u.LifetimeSent()
			r.TotalReceived = u.LifetimeReceived()
		} else {
			r.TotalSent = r.BytesSent
			r.TotalReceived = r.BytesReceived
		}

		r.BytesSentFormatted = FormatBytes(r.BytesSent)
		r.BytesReceivedFormatted = FormatBytes(r.BytesReceived)
		r.TotalSentFormatted = FormatBytes(r.TotalSent)
		r.TotalReceivedFormatted = FormatBytes(r.TotalReceived)

		reports = append(reports, r)
	}

	return reports
}

// ServerSnapshot is the server-wide summary shown on the dashboard
type ServerSnapshot struct {
	TotalClients     int    `json:"total_clients"`
	ActiveClients    int    `json:"active_clients"`
	RevokedClients   int    `json:"revoked_clients"`
	ConnectedClients int    `json:"connected_clients"`
	ServerRunning    bool   `json:"server_running"`
	ServiceState     string `json:"service_state"`
	Port             string `json:"port"`
	Protocol         string `json:"protocol"`
	Subnet           string `json:"subnet"`

	// Current-session bytes of every connected peer
	TotalSent              uint64 `json:"total_sent"`
	TotalReceived          uint64 `json:"total_received"`
	TotalSentFormatted     string `json:"total_sent_formatted"`
	TotalReceivedFormatted string `json:"total_received_formatted"`

	// Lifetime bytes across all reported clients
	LifetimeSent              uint64 `json:"lifetime_sent"`
	LifetimeReceived          uint64 `json:"lifetime_received"`
	LifetimeSentFormatted     string `json:"lifetime_sent_formatted"`
	LifetimeReceivedFormatted string `json:"lifetime_received_formatted"`
}

// Summarize aggregates reports and the live snapshot into a ServerSnapshot.
// serviceState is the systemd state of the OpenVPN unit.
func Summarize(reports []ClientReport, live map[string]openvpn.ConnectionRecord, info openvpn.ServerInfo, serviceState string) ServerSnapshot {
	s := ServerSnapshot{
		TotalClients:     len(reports),
		ConnectedClients: len(live),
		ServerRunning:    serviceState == "active",
		ServiceState:     serviceState,
		Port:             info.Port,
		Protocol:         info.Protocol,
		Subnet:           info.Subnet,
	}

	for _, r := range reports {
		switch r.Status {
		case openvpn.CertActive:
			s.ActiveClients++
		default:
			s.RevokedClients++
		}
		s.LifetimeSent += r.TotalSent
		s.LifetimeReceived += r.TotalReceived
	}

	for _, conn := range live {
		s.TotalSent += conn.BytesSent
		s.TotalReceived += conn.BytesReceived
	}

	s.TotalSentFormatted = FormatBytes(s.TotalSent)
	s.TotalReceivedFormatted = FormatBytes(s.TotalReceived)
	s.LifetimeSentFormatted = FormatBytes(s.LifetimeSent)
	s.LifetimeReceivedFormatted = FormatBytes(s.LifetimeReceived)

	return s
}
