// activity_repository.go implements ActivityRepository, providing database queries for
// writing and retrieving activity log entries with support for filtered queries across
// license keys and endpoints.
package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/keygate/keygate/internal/db/models"
)

// ActivityRepository handles activity log database operations
type ActivityRepository struct {
	db *sqlx.DB
}

// NewActivityRepository creates a new ActivityRepository
func NewActivityRepository(db *sqlx.DB) *ActivityRepository {
	return &ActivityRepository{db: db}
}

// ActivityFilters contains filters for querying activity logs
type ActivityFilters struct {
	LicenseKey *string
	DeviceID   *string
	Endpoint   *string
	Success    *bool
	StartDate  *time.Time
	EndDate    *time.Time
}

// CreateActivityLog creates a new activity log entry
func (r *ActivityRepository) CreateActivityLog(ctx context.Context, log *models.ActivityLog) error {
	log.ID = uuid.New().String()
	log.CreatedAt = time.Now()

	query := `
		INSERT INTO activity_logs (id, license_key, device_id, endpoint, credits_used, ip, user_agent, status_code, success, error_reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := r.db.ExecContext(ctx, query,
		log.ID,
		log.LicenseKey,
		log.DeviceID,
		log.Endpoint,
		log.CreditsUsed,
		log.IP,
		log.UserAgent,
		log.StatusCode,
		log.Success,
		log.ErrorReason,
		log.CreatedAt,
	)

	return err
}

// ListActivityLogs retrieves activity logs with optional filters and pagination
func (r *ActivityRepository) ListActivityLogs(ctx context.Context, filters ActivityFilters, limit, offset int) ([]*models.ActivityLog, int, error) {
	countQuery := `SELECT COUNT(*) FROM activity_logs WHERE 1=1`
	query := `
		SELECT id, license_key, device_id, endpoint, credits_used, ip, user_agent, status_code, success, error_reason, created_at
		FROM activity_logs
		WHERE 1=1
	`

	args := make([]interface{}, 0)
	paramIndex := 1

	if filters.LicenseKey != nil {
		countQuery += fmt.Sprintf(` AND license_key = $%d`, paramIndex)
		query += fmt.Sprintf(` AND license_key = $%d`, paramIndex)
		args = append(args, *filters.LicenseKey)
		paramIndex++
	}

	if filters.DeviceID != nil {
		countQuery += fmt.Sprintf(` AND device_id = $%d`, paramIndex)
		query += fmt.Sprintf(` AND device_id = $%d`, paramIndex)
		args = append(args, *filters.DeviceID)
		paramIndex++
	}

	if filters.Endpoint != nil {
		countQuery += fmt.Sprintf(` AND endpoint = $%d`, paramIndex)
		query += fmt.Sprintf(` AND endpoint = $%d`, paramIndex)
		args = append(args, *filters.Endpoint)
		paramIndex++
	}

	if filters.Success != nil {
		countQuery += fmt.Sprintf(` AND success = $%d`, paramIndex)
		query += fmt.Sprintf(` AND success = $%d`, paramIndex)
		args = append(args, *filters.Success)
		paramIndex++
	}

	if filters.StartDate != nil {
		countQuery += fmt.Sprintf(` AND created_at >= $%d`, paramIndex)
		query += fmt.Sprintf(` AND created_at >= $%d`, paramIndex)
		args = append(args, *filters.StartDate)
		paramIndex++
	}

	if filters.EndDate != nil {
		countQuery += fmt.Sprintf(` AND created_at <= $%d`, paramIndex)
		query += fmt.Sprintf(` AND created_at <= $%d`, paramIndex)
		args = append(args, *filters.EndDate)
		paramIndex++
	}

	var total int
	err := r.db.GetContext(ctx, &total, countQuery, args...)
	if err != nil {
		return nil, 0, err
	}

	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, paramIndex, paramIndex+1)
	args = append(args, limit, offset)

	logs := make([]*models.ActivityLog, 0)
	if err := r.db.SelectContext(ctx, &logs, query, args...); err != nil {
		return nil, 0, err
	}

	return logs, total, nil
}
