// license_repository.go implements LicenseRepository, providing database queries for the
// license/device-binding ledger: lookup, first-use binding, atomic credit deduction, and
// administrative provisioning, revocation, and refills.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"
	"github.com/keygate/keygate/internal/db/models"
)

// ErrDuplicateKey is returned when provisioning a license key that already exists.
var ErrDuplicateKey = errors.New("license key already exists")

// LicenseRepository handles license ledger database operations
type LicenseRepository struct {
	db *sql.DB
}

// NewLicenseRepository creates a new LicenseRepository
func NewLicenseRepository(db *sql.DB) *LicenseRepository {
	return &LicenseRepository{db: db}
}

const licenseColumns = `
	license_key, revoked, device_id, bound_at, credits_remaining, total_credits_used,
	last_seen, last_ip, last_user_agent, last_endpoint, last_credit_usage, created_at
`

func scanLicense(row *sql.Row) (*models.License, error) {
	lic := &models.License{}
	err := row.Scan(
		&lic.LicenseKey,
		&lic.Revoked,
		&lic.DeviceID,
		&lic.BoundAt,
		&lic.CreditsRemaining,
		&lic.TotalCreditsUsed,
		&lic.LastSeen,
		&lic.LastIP,
		&lic.LastUserAgent,
		&lic.LastEndpoint,
		&lic.LastCreditUsage,
		&lic.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	return lic, nil
}

// GetLicense retrieves a license row by key. Returns (nil, nil) when the key
// is not in the allowlist.
func (r *LicenseRepository) GetLicense(ctx context.Context, key string) (*models.License, error) {
	query := `
		SELECT ` + licenseColumns + `
		FROM licenses
		WHERE license_key = $1
	`

	return scanLicense(r.db.QueryRowContext(ctx, query, key))
}

// CreateLicense provisions a new license key with an initial credit balance.
func (r *LicenseRepository) CreateLicense(ctx context.Context, key string, credits int) error {
	query := `
		INSERT INTO licenses (license_key, credits_remaining, created_at)
		VALUES ($1, $2, $3)
	`

	_, err := r.db.ExecContext(ctx, query, key, credits, time.Now())
	if isUniqueViolation(err) {
		return ErrDuplicateKey
	}
	return err
}

// BindDevice records the first-use device binding. The WHERE device_id IS NULL
// clause makes the database the arbiter of the cross-instance race: exactly one
// concurrent caller observes bound=true; losers must re-read the row and
// re-evaluate as a match or mismatch.
func (r *LicenseRepository) BindDevice(ctx context.Context, key, deviceID string) (bound bool, err error) {
	query := `
		UPDATE licenses
		SET device_id = $2, bound_at = $3, last_seen = $3
		WHERE license_key = $1 AND device_id IS NULL
	`

	res, err := r.db.ExecContext(ctx, query, key, deviceID, time.Now())
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// TouchLastSeen stamps the last-seen metadata on a successful validation of an
// already-bound license. Credit fields are untouched.
func (r *LicenseRepository) TouchLastSeen(ctx context.Context, key, ip, userAgent string) error {
	query := `
		UPDATE licenses
		SET last_seen = $2, last_ip = $3, last_user_agent = $4
		WHERE license_key = $1
	`

	_, err := r.db.ExecContext(ctx, query, key, time.Now(), ip, userAgent)
	return err
}

// DeductCredits atomically deducts cost from the balance and stamps the usage
// metadata. The conditional WHERE clause enforces the no-overdraft invariant:
// deducted=false means the balance was insufficient (or the binding did not
// match) and nothing was mutated — the caller re-reads to distinguish the two.
func (r *LicenseRepository) DeductCredits(ctx context.Context, key, deviceID string, cost int, endpoint, ip, userAgent string) (deducted bool, err error) {
	query := `
		UPDATE licenses
		SET credits_remaining = credits_remaining - $3,
		    total_credits_used = total_credits_used + $3,
		    last_seen = $6, last_ip = $4, last_user_agent = $5,
		    last_endpoint = $7, last_credit_usage = $6
		WHERE license_key = $1 AND device_id = $2 AND credits_remaining >= $3
	`

	res, err := r.db.ExecContext(ctx, query, key, deviceID, cost, ip, userAgent, time.Now(), endpoint)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// SetRevoked flips the revocation flag. Returns found=false when the key does
// not exist.
func (r *LicenseRepository) SetRevoked(ctx context.Context, key string, revoked bool) (found bool, err error) {
	query := `UPDATE licenses SET revoked = $2 WHERE license_key = $1`

	res, err := r.db.ExecContext(ctx, query, key, revoked)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// AddCredits adds amount (> 0) to the remaining balance.
func (r *LicenseRepository) AddCredits(ctx context.Context, key string, amount int) (found bool, err error) {
	query := `
		UPDATE licenses
		SET credits_remaining = credits_remaining + $2
		WHERE license_key = $1
	`

	res, err := r.db.ExecContext(ctx, query, key, amount)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// SetCredits sets the remaining balance to an absolute value (>= 0).
func (r *LicenseRepository) SetCredits(ctx context.Context, key string, amount int) (found bool, err error) {
	query := `
		UPDATE licenses
		SET credits_remaining = $2
		WHERE license_key = $1
	`

	res, err := r.db.ExecContext(ctx, query, key, amount)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// isUniqueViolation reports whether err is a Postgres unique-constraint
// violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
