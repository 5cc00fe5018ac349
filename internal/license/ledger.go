// Package license implements the validation and metering core: deciding
// whether a key/device pair is entitled to service, binding keys to devices on
// first use, and charging credits for metered calls. All state lives in the
// database so any number of stateless instances can serve the same ledger.
package license

import (
	"context"
	"log/slog"

	"github.com/keygate/keygate/internal/db/models"
	"github.com/keygate/keygate/internal/telemetry"
)

// Store is the ledger's view of the license table. *repositories.LicenseRepository
// satisfies it.
type Store interface {
	GetLicense(ctx context.Context, key string) (*models.License, error)
	BindDevice(ctx context.Context, key, deviceID string) (bound bool, err error)
	TouchLastSeen(ctx context.Context, key, ip, userAgent string) error
	DeductCredits(ctx context.Context, key, deviceID string, cost int, endpoint, ip, userAgent string) (deducted bool, err error)
}

// Validation outcome reasons, stable strings exposed in API responses.
const (
	ReasonMaintenance    = "maintenance"
	ReasonInvalidRequest = "invalid_request"
	ReasonInvalidKey     = "invalid_key"
	ReasonRevoked        = "revoked"
	ReasonDeviceMismatch = "device_mismatch"
)

// Result is the outcome of a validation attempt.
type Result struct {
	Valid   bool
	Reason  string // empty when Valid
	Message string // human-readable explanation for the extension UI
	// NewDevice reports that this call performed the first-use binding.
	NewDevice bool
	// License is the row backing a valid result; nil otherwise.
	License *models.License
}

// Ledger validates key/device pairs against the license table.
type Ledger struct {
	store       Store
	maintenance bool
}

// NewLedger creates a Ledger. maintenance is latched at startup; flipping it
// requires a restart, which keeps the kill switch trivially consistent across
// instances sharing a config source.
func NewLedger(store Store, maintenance bool) *Ledger {
	return &Ledger{store: store, maintenance: maintenance}
}

// Validate runs the full validation decision chain for a key/device pair.
// The checks run in a fixed order so each request gets exactly one reason:
// maintenance, request shape, key existence, revocation, then device binding.
// A database error fails the validation rather than failing open.
func (l *Ledger) Validate(ctx context.Context, key, deviceID, ip, userAgent string) (*Result, error) {
	if l.maintenance {
		return l.deny(ReasonMaintenance, "Service is temporarily down for maintenance. Please try again later."), nil
	}

	if key == "" || deviceID == "" {
		return l.deny(ReasonInvalidRequest, "A license key and device id are both required."), nil
	}

	lic, err := l.store.GetLicense(ctx, key)
	if err != nil {
		telemetry.ValidationsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	if lic == nil {
		return l.deny(ReasonInvalidKey, "This license key is not recognized."), nil
	}

	if lic.Revoked {
		return l.deny(ReasonRevoked, "This license key has been revoked."), nil
	}

	if !lic.Bound() {
		bound, err := l.store.BindDevice(ctx, key, deviceID)
		if err != nil {
			telemetry.ValidationsTotal.WithLabelValues("error").Inc()
			return nil, err
		}
		if bound {
			slog.Info("license bound to device",
				"key_hint", models.KeyHint(key),
				"device_id", deviceID)
			d := deviceID
			lic.DeviceID = &d
			return l.allow(lic, true), nil
		}

		// Lost the cross-instance binding race: some other request bound the
		// key between our read and our update. Re-read and fall through to the
		// normal bound-key comparison.
		lic, err = l.store.GetLicense(ctx, key)
		if err != nil {
			telemetry.ValidationsTotal.WithLabelValues("error").Inc()
			return nil, err
		}
		if lic == nil || !lic.Bound() {
			// Row vanished or binding still absent; treat as invalid rather
			// than retrying indefinitely.
			return l.deny(ReasonInvalidKey, "This license key is not recognized."), nil
		}
	}

	if *lic.DeviceID != deviceID {
		return l.deny(ReasonDeviceMismatch, "This license key is already in use on another device."), nil
	}

	if err := l.store.TouchLastSeen(ctx, key, ip, userAgent); err != nil {
		// Last-seen stamping is best effort; a valid license stays valid.
		slog.Warn("failed to stamp last seen", "key_hint", models.KeyHint(key), "error", err)
	}

	return l.allow(lic, false), nil
}

func (l *Ledger) allow(lic *models.License, newDevice bool) *Result {
	telemetry.ValidationsTotal.WithLabelValues("valid").Inc()
	return &Result{
		Valid:     true,
		NewDevice: newDevice,
		License:   lic,
	}
}

func (l *Ledger) deny(reason, message string) *Result {
	telemetry.ValidationsTotal.WithLabelValues(reason).Inc()
	return &Result{
		Valid:   false,
		Reason:  reason,
		Message: message,
	}
}
