// Package bandwidth folds live per-session counters from the status log into
// lifetime traffic totals.
package bandwidth

import (
	"github.com/adamscao/ovpnpanel/internal/models"
	"github.com/adamscao/ovpnpanel/internal/openvpn"
)

// Reconcile merges one live snapshot into the cumulative usage rows and
// returns the updated rows. Neither input is modified.
//
// A counter that went down since the last observation means the client
// reconnected, so the previous session's last value is added to the total.
// Rising counters inside one session never touch the totals. Clients missing
// from live keep their row unchanged.
//
// Peers seen only in the routing table have unknown counters. They get a
// zeroed row on first sighting; an existing row is left alone.
func Reconcile(live map[string]openvpn.ConnectionRecord, store map[string]models.CumulativeUsage) map[string]models.CumulativeUsage {
	out := make(map[string]models.CumulativeUsage, len(store)+len(live))
	for name, u := range store {
		out[name] = u
	}

	for name, conn := range live {
		if conn.FromRoutingTable {
			if _, ok := out[name]; !ok {
				out[name] = models.CumulativeUsage{Name: name}
			}
			continue
		}
		out[name] = observe(out[name], name, conn)
	}

	return out
}

// observe applies a single live sample to a usage row
func observe(u models.CumulativeUsage, name string, conn openvpn.ConnectionRecord) models.CumulativeUsage {
	u.Name = name

	if conn.BytesSent < u.LastSent {
		u.TotalSent += u.LastSent
	}
	if conn.BytesReceived < u.LastReceived {
		u.TotalReceived += u.LastReceived
	}

	u.LastSent = conn.BytesSent
	u.LastReceived = conn.BytesReceived
	return u
}

// Observed returns the rows Reconcile may have changed: clients with usable
// counters in live, plus routing-only peers that had no stored row.
func Observed(live map[string]openvpn.ConnectionRecord, stored, usage map[string]models.CumulativeUsage) map[string]models.CumulativeUsage {
	out := make(map[string]models.CumulativeUsage, len(live))
	for name, conn := range live {
		if conn.FromRoutingTable {
			if _, known := stored[name]; known {
				continue
			}
		}
		if u, ok := usage[name]; ok {
			out[name] = u
		}
	}
	return out
}
