package repositories

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/keygate/keygate/internal/db/models"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func newSharedConfigRepo(t *testing.T) (*SharedConfigRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewSharedConfigRepository(sqlx.NewDb(db, "sqlmock")), mock
}

// Ids must be well-formed UUIDs or the repository short-circuits to not-found
// without touching the database.
const (
	cfgID     = "2a9f1c55-8c7d-4f1e-9f3a-6b2d8e4c0a17"
	missingID = "e3b7a8d2-4c5f-4a6b-8d9e-1f2a3b4c5d6e"
)

var sharedConfigCols = []string{
	"id", "device_id", "display_name", "description", "is_public", "config_data",
	"admin_count", "tweet_count", "blacklist_count", "size_bytes",
	"view_count", "copy_count", "last_copied_at", "created_at",
}

var sharedConfigSummaryCols = []string{
	"id", "device_id", "display_name", "description", "is_public",
	"admin_count", "tweet_count", "blacklist_count", "size_bytes",
	"view_count", "copy_count", "last_copied_at", "created_at",
}

func sampleSharedConfigRow() *sqlmock.Rows {
	return sqlmock.NewRows(sharedConfigCols).
		AddRow(cfgID, "device-1", "My Filters", "a few blocked accounts", true,
			[]byte(`{"admins":[],"tweets":[],"blacklist":["spam"]}`),
			0, 0, 1, int64(46), 3, 1, time.Now(), time.Now())
}

func sampleSummaryRow() *sqlmock.Rows {
	return sqlmock.NewRows(sharedConfigSummaryCols).
		AddRow(cfgID, "device-1", "My Filters", "a few blocked accounts", true,
			0, 0, 1, int64(46), 3, 1, time.Now(), time.Now())
}

// ---------------------------------------------------------------------------
// Create
// ---------------------------------------------------------------------------

func TestSharedConfigCreate_Success(t *testing.T) {
	repo, mock := newSharedConfigRepo(t)
	mock.ExpectExec("INSERT INTO shared_configs").
		WillReturnResult(sqlmock.NewResult(1, 1))

	cfg := &models.SharedConfig{
		DeviceID:       "device-1",
		DisplayName:    "My Filters",
		IsPublic:       false,
		ConfigData:     []byte(`{"admins":[],"tweets":[],"blacklist":[]}`),
		BlacklistCount: 0,
		SizeBytes:      41,
	}
	if err := repo.Create(context.Background(), cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ID == "" {
		t.Error("expected ID to be assigned")
	}
	if cfg.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be assigned")
	}
}

func TestSharedConfigCreate_Error(t *testing.T) {
	repo, mock := newSharedConfigRepo(t)
	mock.ExpectExec("INSERT INTO shared_configs").
		WillReturnError(errDB)

	cfg := &models.SharedConfig{DeviceID: "device-1", ConfigData: []byte(`{}`)}
	if err := repo.Create(context.Background(), cfg); err == nil {
		t.Error("expected error, got nil")
	}
}

// ---------------------------------------------------------------------------
// GetByID
// ---------------------------------------------------------------------------

func TestSharedConfigGetByID_Found(t *testing.T) {
	repo, mock := newSharedConfigRepo(t)
	mock.ExpectQuery("SELECT.*FROM shared_configs.*WHERE id").
		WillReturnRows(sampleSharedConfigRow())

	cfg, err := repo.GetByID(context.Background(), cfgID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg == nil {
		t.Fatal("expected config, got nil")
	}
	if !cfg.OwnedBy("device-1") {
		t.Error("expected device-1 to own the config")
	}
	if len(cfg.ConfigData) == 0 {
		t.Error("expected payload to be loaded")
	}
}

func TestSharedConfigGetByID_NotFound(t *testing.T) {
	repo, mock := newSharedConfigRepo(t)
	mock.ExpectQuery("SELECT.*FROM shared_configs.*WHERE id").
		WillReturnRows(sqlmock.NewRows(sharedConfigCols))

	cfg, err := repo.GetByID(context.Background(), missingID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg != nil {
		t.Errorf("expected nil, got %v", cfg)
	}
}

func TestSharedConfigGetByID_MalformedID(t *testing.T) {
	// No query expectation: a non-UUID id must not reach the database, where
	// it would raise a cast error against the UUID column.
	repo, mock := newSharedConfigRepo(t)

	cfg, err := repo.GetByID(context.Background(), "abc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg != nil {
		t.Errorf("expected nil for a malformed id, got %v", cfg)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unexpected database access: %v", err)
	}
}

func TestSharedConfigGetByID_Error(t *testing.T) {
	repo, mock := newSharedConfigRepo(t)
	mock.ExpectQuery("SELECT.*FROM shared_configs.*WHERE id").
		WillReturnError(errDB)

	_, err := repo.GetByID(context.Background(), cfgID)
	if err == nil {
		t.Error("expected error, got nil")
	}
}

// ---------------------------------------------------------------------------
// List
// ---------------------------------------------------------------------------

func TestSharedConfigList_Mine(t *testing.T) {
	repo, mock := newSharedConfigRepo(t)
	mock.ExpectQuery("SELECT COUNT.*FROM shared_configs").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery("SELECT.*FROM shared_configs.*ORDER BY created_at DESC").
		WillReturnRows(sampleSummaryRow())

	configs, total, err := repo.List(context.Background(), "device-1", FilterMine, 20, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 1 {
		t.Errorf("total = %d, want 1", total)
	}
	if len(configs) != 1 {
		t.Fatalf("len(configs) = %d, want 1", len(configs))
	}
	if len(configs[0].ConfigData) != 0 {
		t.Error("list must not include the payload")
	}
}

func TestSharedConfigList_Public(t *testing.T) {
	repo, mock := newSharedConfigRepo(t)
	mock.ExpectQuery("SELECT COUNT.*FROM shared_configs").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery("SELECT.*FROM shared_configs.*ORDER BY created_at DESC").
		WillReturnRows(sqlmock.NewRows(sharedConfigSummaryCols))

	configs, total, err := repo.List(context.Background(), "device-2", FilterPublic, 20, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 0 {
		t.Errorf("total = %d, want 0", total)
	}
	if len(configs) != 0 {
		t.Errorf("len(configs) = %d, want 0", len(configs))
	}
}

func TestSharedConfigList_UnknownFilter(t *testing.T) {
	repo, _ := newSharedConfigRepo(t)

	_, _, err := repo.List(context.Background(), "device-1", ListFilter("everything"), 20, 0)
	if err == nil {
		t.Error("expected error, got nil")
	}
}

func TestSharedConfigList_CountError(t *testing.T) {
	repo, mock := newSharedConfigRepo(t)
	mock.ExpectQuery("SELECT COUNT.*FROM shared_configs").
		WillReturnError(errDB)

	_, _, err := repo.List(context.Background(), "device-1", FilterMine, 20, 0)
	if err == nil {
		t.Error("expected error, got nil")
	}
}

// ---------------------------------------------------------------------------
// Counters
// ---------------------------------------------------------------------------

func TestIncrementViewCount(t *testing.T) {
	repo, mock := newSharedConfigRepo(t)
	mock.ExpectExec("UPDATE shared_configs SET view_count").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.IncrementViewCount(context.Background(), cfgID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestIncrementCopyCount(t *testing.T) {
	repo, mock := newSharedConfigRepo(t)
	mock.ExpectExec("UPDATE shared_configs SET copy_count").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.IncrementCopyCount(context.Background(), cfgID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// ---------------------------------------------------------------------------
// SetVisibility / Delete
// ---------------------------------------------------------------------------

func TestSetVisibility_Owner(t *testing.T) {
	repo, mock := newSharedConfigRepo(t)
	mock.ExpectExec("UPDATE shared_configs SET is_public").
		WillReturnResult(sqlmock.NewResult(0, 1))

	found, err := repo.SetVisibility(context.Background(), cfgID, "device-1", true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !found {
		t.Error("expected found=true")
	}
}

func TestSetVisibility_NotOwner(t *testing.T) {
	repo, mock := newSharedConfigRepo(t)
	mock.ExpectExec("UPDATE shared_configs SET is_public").
		WillReturnResult(sqlmock.NewResult(0, 0))

	found, err := repo.SetVisibility(context.Background(), cfgID, "device-2", true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found {
		t.Error("expected found=false for a non-owner")
	}
}

func TestSetVisibility_MalformedID(t *testing.T) {
	repo, mock := newSharedConfigRepo(t)

	found, err := repo.SetVisibility(context.Background(), "abc", "device-1", true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found {
		t.Error("expected found=false for a malformed id")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unexpected database access: %v", err)
	}
}

func TestDelete_Owner(t *testing.T) {
	repo, mock := newSharedConfigRepo(t)
	mock.ExpectExec("DELETE FROM shared_configs").
		WillReturnResult(sqlmock.NewResult(0, 1))

	found, err := repo.Delete(context.Background(), cfgID, "device-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !found {
		t.Error("expected found=true")
	}
}

func TestDelete_NotOwner(t *testing.T) {
	repo, mock := newSharedConfigRepo(t)
	mock.ExpectExec("DELETE FROM shared_configs").
		WillReturnResult(sqlmock.NewResult(0, 0))

	found, err := repo.Delete(context.Background(), cfgID, "device-2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found {
		t.Error("expected found=false for a non-owner")
	}
}

func TestDelete_MalformedID(t *testing.T) {
	repo, mock := newSharedConfigRepo(t)

	found, err := repo.Delete(context.Background(), "abc", "device-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found {
		t.Error("expected found=false for a malformed id")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unexpected database access: %v", err)
	}
}

func TestDelete_Error(t *testing.T) {
	repo, mock := newSharedConfigRepo(t)
	mock.ExpectExec("DELETE FROM shared_configs").
		WillReturnError(errDB)

	_, err := repo.Delete(context.Background(), cfgID, "device-1")
	if err == nil {
		t.Error("expected error, got nil")
	}
}
