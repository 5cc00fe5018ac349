package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyHint(t *testing.T) {
	assert.Equal(t, "KG-ABCDE...", KeyHint("KG-ABCDEFGH12345678"))
	assert.Equal(t, "short", KeyHint("short"), "keys at or under 8 chars pass through")
	assert.Equal(t, "12345678", KeyHint("12345678"))
	assert.Equal(t, "", KeyHint(""))
}

func TestLicense_Bound(t *testing.T) {
	lic := &License{LicenseKey: "KG-AAA"}
	assert.False(t, lic.Bound())

	empty := ""
	lic.DeviceID = &empty
	assert.False(t, lic.Bound(), "empty device id is not a binding")

	device := "device-1"
	lic.DeviceID = &device
	assert.True(t, lic.Bound())
}

func TestSharedConfig_OwnedBy(t *testing.T) {
	cfg := &SharedConfig{DeviceID: "device-1"}
	assert.True(t, cfg.OwnedBy("device-1"))
	assert.False(t, cfg.OwnedBy("device-2"))
}

func TestSharedConfig_VisibleTo(t *testing.T) {
	private := &SharedConfig{DeviceID: "device-1", IsPublic: false}
	assert.True(t, private.VisibleTo("device-1"), "owners always see their configs")
	assert.False(t, private.VisibleTo("device-2"))

	public := &SharedConfig{DeviceID: "device-1", IsPublic: true}
	assert.True(t, public.VisibleTo("device-2"))
}
