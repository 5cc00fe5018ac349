// Package models defines the database row types shared by the repositories
// and handlers. Fields carry both json tags (API responses) and db tags
// (sqlx struct scanning).
package models

import "time"

// License is one row of the license/device-binding ledger. A row exists from
// the moment a key is provisioned; device binding is recorded on the same row
// by setting DeviceID exactly once. Rows are never deleted — revocation is a
// flag, not a deletion.
type License struct {
	LicenseKey       string     `json:"license_key" db:"license_key"`
	Revoked          bool       `json:"revoked" db:"revoked"`
	DeviceID         *string    `json:"device_id" db:"device_id"`
	BoundAt          *time.Time `json:"bound_at" db:"bound_at"`
	CreditsRemaining int        `json:"credits_remaining" db:"credits_remaining"`
	TotalCreditsUsed int        `json:"total_credits_used" db:"total_credits_used"`
	LastSeen         *time.Time `json:"last_seen" db:"last_seen"`
	LastIP           *string    `json:"last_ip" db:"last_ip"`
	LastUserAgent    *string    `json:"last_user_agent" db:"last_user_agent"`
	LastEndpoint     *string    `json:"last_endpoint" db:"last_endpoint"`
	LastCreditUsage  *time.Time `json:"last_credit_usage" db:"last_credit_usage"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
}

// Bound reports whether the license has been bound to a device.
func (l *License) Bound() bool {
	return l.DeviceID != nil && *l.DeviceID != ""
}

// KeyHint returns a truncated form of the license key safe for display and
// for embedding in session-token claims.
func KeyHint(key string) string {
	if len(key) <= 8 {
		return key
	}
	return key[:8] + "..."
}
