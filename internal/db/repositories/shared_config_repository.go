// shared_config_repository.go implements SharedConfigRepository over sqlx, providing
// CRUD, visibility toggling, and read-side counters for shared extension configs.
package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/keygate/keygate/internal/db/models"
)

// SharedConfigRepository handles shared-config database operations
type SharedConfigRepository struct {
	db *sqlx.DB
}

// NewSharedConfigRepository creates a new SharedConfigRepository
func NewSharedConfigRepository(db *sqlx.DB) *SharedConfigRepository {
	return &SharedConfigRepository{db: db}
}

// summaryColumns excludes config_data so browse pages never drag multi-megabyte
// payloads out of the database.
const summaryColumns = `
	id, device_id, display_name, description, is_public,
	admin_count, tweet_count, blacklist_count, size_bytes,
	view_count, copy_count, last_copied_at, created_at
`

// Create inserts a new shared config. ID and CreatedAt are assigned here.
func (r *SharedConfigRepository) Create(ctx context.Context, cfg *models.SharedConfig) error {
	cfg.ID = uuid.New().String()
	cfg.CreatedAt = time.Now()

	query := `
		INSERT INTO shared_configs (
			id, device_id, display_name, description, is_public, config_data,
			admin_count, tweet_count, blacklist_count, size_bytes, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := r.db.ExecContext(ctx, query,
		cfg.ID,
		cfg.DeviceID,
		cfg.DisplayName,
		cfg.Description,
		cfg.IsPublic,
		[]byte(cfg.ConfigData),
		cfg.AdminCount,
		cfg.TweetCount,
		cfg.BlacklistCount,
		cfg.SizeBytes,
		cfg.CreatedAt,
	)

	return err
}

// GetByID retrieves a shared config including its payload. Returns (nil, nil)
// when the id does not exist. A malformed id can never match the UUID column,
// so it reads as not found instead of surfacing a cast error from Postgres.
func (r *SharedConfigRepository) GetByID(ctx context.Context, id string) (*models.SharedConfig, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}

	query := `
		SELECT id, device_id, display_name, description, is_public, config_data,
		       admin_count, tweet_count, blacklist_count, size_bytes,
		       view_count, copy_count, last_copied_at, created_at
		FROM shared_configs
		WHERE id = $1
	`

	cfg := &models.SharedConfig{}
	err := r.db.GetContext(ctx, cfg, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// ListFilter selects which configs a browse call returns.
type ListFilter string

const (
	// FilterMine returns the caller's own configs, public or not.
	FilterMine ListFilter = "mine"
	// FilterPublic returns other users' public configs.
	FilterPublic ListFilter = "public"
)

// List returns a page of config summaries (payload omitted), newest first,
// plus the total row count for the filter.
func (r *SharedConfigRepository) List(ctx context.Context, deviceID string, filter ListFilter, limit, offset int) ([]*models.SharedConfig, int, error) {
	var where string
	switch filter {
	case FilterMine:
		where = `WHERE device_id = $1`
	case FilterPublic:
		where = `WHERE is_public = TRUE AND device_id <> $1`
	default:
		return nil, 0, fmt.Errorf("unknown list filter: %s", filter)
	}

	var total int
	countQuery := `SELECT COUNT(*) FROM shared_configs ` + where
	if err := r.db.GetContext(ctx, &total, countQuery, deviceID); err != nil {
		return nil, 0, err
	}

	query := `
		SELECT ` + summaryColumns + `
		FROM shared_configs
		` + where + `
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	configs := make([]*models.SharedConfig, 0)
	if err := r.db.SelectContext(ctx, &configs, query, deviceID, limit, offset); err != nil {
		return nil, 0, err
	}

	return configs, total, nil
}

// IncrementViewCount bumps view_count as a side effect of a successful preview.
func (r *SharedConfigRepository) IncrementViewCount(ctx context.Context, id string) error {
	query := `UPDATE shared_configs SET view_count = view_count + 1 WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id)
	return err
}

// IncrementCopyCount bumps copy_count and stamps last_copied_at as a side
// effect of a successful copy.
func (r *SharedConfigRepository) IncrementCopyCount(ctx context.Context, id string) error {
	query := `UPDATE shared_configs SET copy_count = copy_count + 1, last_copied_at = $2 WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id, time.Now())
	return err
}

// SetVisibility toggles is_public. The WHERE clause carries the owner check so
// "not found" and "not yours" are indistinguishable to the caller. The update
// is idempotent: re-applying the same value still reports found=true.
func (r *SharedConfigRepository) SetVisibility(ctx context.Context, id, deviceID string, isPublic bool) (found bool, err error) {
	if _, err := uuid.Parse(id); err != nil {
		return false, nil
	}

	query := `UPDATE shared_configs SET is_public = $3 WHERE id = $1 AND device_id = $2`

	res, err := r.db.ExecContext(ctx, query, id, deviceID, isPublic)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Delete removes a config owned by deviceID. Same owner-check conflation as
// SetVisibility.
func (r *SharedConfigRepository) Delete(ctx context.Context, id, deviceID string) (found bool, err error) {
	if _, err := uuid.Parse(id); err != nil {
		return false, nil
	}

	query := `DELETE FROM shared_configs WHERE id = $1 AND device_id = $2`

	res, err := r.db.ExecContext(ctx, query, id, deviceID)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
