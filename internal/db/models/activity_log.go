package models

import "time"

// ActivityLog is one append-only record of a metered API attempt. Writes are
// best-effort relative to the credit deduction they describe: a failed write
// never rolls back or fails the deduction.
type ActivityLog struct {
	ID          string    `json:"id" db:"id"`
	LicenseKey  string    `json:"license_key" db:"license_key"`
	DeviceID    string    `json:"device_id" db:"device_id"`
	Endpoint    string    `json:"endpoint" db:"endpoint"`
	CreditsUsed int       `json:"credits_used" db:"credits_used"`
	IP          *string   `json:"ip" db:"ip"`
	UserAgent   *string   `json:"user_agent" db:"user_agent"`
	StatusCode  int       `json:"status_code" db:"status_code"`
	Success     bool      `json:"success" db:"success"`
	ErrorReason *string   `json:"error_reason" db:"error_reason"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}
