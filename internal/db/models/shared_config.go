package models

import (
	"encoding/json"
	"time"
)

// SharedConfig is a user-uploaded extension configuration, optionally made
// visible to other users. The owner is identified by the device id recovered
// from a verified session token, never from raw request input.
type SharedConfig struct {
	ID             string          `json:"id" db:"id"`
	DeviceID       string          `json:"-" db:"device_id"`
	DisplayName    string          `json:"display_name" db:"display_name"`
	Description    string          `json:"description" db:"description"`
	IsPublic       bool            `json:"is_public" db:"is_public"`
	ConfigData     json.RawMessage `json:"config_data,omitempty" db:"config_data"`
	AdminCount     int             `json:"admin_count" db:"admin_count"`
	TweetCount     int             `json:"tweet_count" db:"tweet_count"`
	BlacklistCount int             `json:"blacklist_count" db:"blacklist_count"`
	SizeBytes      int64           `json:"size_bytes" db:"size_bytes"`
	ViewCount      int             `json:"view_count" db:"view_count"`
	CopyCount      int             `json:"copy_count" db:"copy_count"`
	LastCopiedAt   *time.Time      `json:"last_copied_at" db:"last_copied_at"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
}

// OwnedBy reports whether deviceID owns the config.
func (s *SharedConfig) OwnedBy(deviceID string) bool {
	return s.DeviceID == deviceID
}

// VisibleTo reports whether deviceID may read the config: owners always,
// everyone else only when the config is public.
func (s *SharedConfig) VisibleTo(deviceID string) bool {
	return s.IsPublic || s.OwnedBy(deviceID)
}
