package models

import "time"

// CumulativeUsage is the persisted traffic ledger of one VPN client.
//
// TotalSent/TotalReceived hold the bytes of sessions that have ended.
// LastSent/LastReceived hold the latest counters of the current (or most
// recent) session and are used to notice when a new session has started.
type CumulativeUsage struct {
	Name          string    `json:"name"`
	TotalSent     uint64    `json:"total_sent"`
	TotalReceived uint64    `json:"total_received"`
	LastSent      uint64    `json:"last_sent"`
	LastReceived  uint64    `json:"last_received"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// LifetimeSent returns completed sessions plus the open session
func (u CumulativeUsage) LifetimeSent() uint64 {
	return u.TotalSent + u.LastSent
}

// LifetimeReceived returns completed sessions plus the open session
func (u CumulativeUsage) LifetimeReceived() uint64 {
	return u.TotalReceived + u.LastReceived
}
