package models

import "time"

// AuditLog represents an audit log entry
type AuditLog struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	Username  string    `json:"username,omitempty"`
	Client    string    `json:"client,omitempty"` // VPN client the action targeted
	ClientIP  string    `json:"client_ip"`
	UserAgent string    `json:"user_agent,omitempty"`
	Success   bool      `json:"success"`
	ErrorMsg  string    `json:"error_msg,omitempty"`
	Details   string    `json:"details,omitempty"` // JSON
}

// Audit action constants
const (
	ActionLogin         = "login"
	ActionAuthFailed    = "auth_failed"
	ActionClientAdd     = "client_add"
	ActionClientRevoke  = "client_revoke"
	ActionClientDelete  = "client_delete"
	ActionClientEdit    = "client_edit"
	ActionClientExtend  = "client_extend"
	ActionServerRestart = "server_restart"
	ActionUsageReset    = "usage_reset"
)
