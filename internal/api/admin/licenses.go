// Package admin implements the operator-facing license management API:
// provisioning keys, revoking them, adjusting credit balances, and inspecting
// a key's state and activity history. Every route is gated by the admin token
// middleware; none of these endpoints are reachable by the extension.
package admin

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/keygate/keygate/internal/db/models"
	"github.com/keygate/keygate/internal/db/repositories"
)

// LicenseHandlers handles admin license management requests.
type LicenseHandlers struct {
	licenses *repositories.LicenseRepository
	activity *repositories.ActivityRepository
}

// NewLicenseHandlers creates admin license handlers.
func NewLicenseHandlers(licenses *repositories.LicenseRepository, activity *repositories.ActivityRepository) *LicenseHandlers {
	return &LicenseHandlers{licenses: licenses, activity: activity}
}

// provisionRequest is the body for creating a license key.
type provisionRequest struct {
	// LicenseKey is optional; when empty a key is generated.
	LicenseKey string `json:"licenseKey"`
	// Credits is a pointer so an explicit 0 is distinguishable from absent.
	Credits *int `json:"credits" binding:"required"`
}

// creditsRequest is the body for adjusting a balance.
type creditsRequest struct {
	// Mode is "add" (increase by amount) or "set" (absolute value).
	Mode   string `json:"mode" binding:"required"`
	Amount int    `json:"amount"`
}

// @Summary      Provision a license key
// @Description  Creates a new license key with an initial credit balance. A key is generated when none is supplied.
// @Tags         Admin
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Success      201  {object}  map[string]interface{}
// @Failure      409  {object}  map[string]interface{}  "Key already exists"
// @Router       /api/v1/admin/licenses [post]
func (h *LicenseHandlers) Provision(c *gin.Context) {
	var req provisionRequest
	if err := c.ShouldBindJSON(&req); err != nil || *req.Credits < 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "credits (>= 0) is required",
		})
		return
	}

	key := strings.TrimSpace(req.LicenseKey)
	if key == "" {
		key = generateLicenseKey()
	}

	if err := h.licenses.CreateLicense(c.Request.Context(), key, *req.Credits); err != nil {
		if errors.Is(err, repositories.ErrDuplicateKey) {
			c.JSON(http.StatusConflict, gin.H{"error": "License key already exists"})
			return
		}
		slog.Error("failed to provision license", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to provision license"})
		return
	}

	slog.Info("license provisioned", "key_hint", models.KeyHint(key), "credits", *req.Credits)
	c.JSON(http.StatusCreated, gin.H{
		"licenseKey": key,
		"credits":    *req.Credits,
	})
}

// @Summary      Get a license
// @Description  Returns the full ledger row for a key, including binding and usage metadata.
// @Tags         Admin
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  models.License
// @Failure      404  {object}  map[string]interface{}
// @Router       /api/v1/admin/licenses/{key} [get]
func (h *LicenseHandlers) Get(c *gin.Context) {
	key := c.Param("key")

	lic, err := h.licenses.GetLicense(c.Request.Context(), key)
	if err != nil {
		slog.Error("failed to load license", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load license"})
		return
	}
	if lic == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "License key not found"})
		return
	}

	c.JSON(http.StatusOK, lic)
}

// Revoke flags a key as revoked. Revocation takes effect on the key's next
// validation; existing session tokens age out within their TTL.
func (h *LicenseHandlers) Revoke(c *gin.Context) {
	h.setRevoked(c, true)
}

// Unrevoke clears the revocation flag.
func (h *LicenseHandlers) Unrevoke(c *gin.Context) {
	h.setRevoked(c, false)
}

func (h *LicenseHandlers) setRevoked(c *gin.Context, revoked bool) {
	key := c.Param("key")

	found, err := h.licenses.SetRevoked(c.Request.Context(), key, revoked)
	if err != nil {
		slog.Error("failed to update revocation", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update license"})
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "License key not found"})
		return
	}

	slog.Info("license revocation updated", "key_hint", models.KeyHint(key), "revoked", revoked)
	c.JSON(http.StatusOK, gin.H{"licenseKey": key, "revoked": revoked})
}

// @Summary      Adjust a credit balance
// @Description  Adds credits to, or sets the absolute balance of, a license key.
// @Tags         Admin
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Failure      404  {object}  map[string]interface{}
// @Router       /api/v1/admin/licenses/{key}/credits [post]
// UpdateCredits applies a balance adjustment. Mode "add" requires amount > 0;
// mode "set" requires amount >= 0. There is deliberately no negative-amount
// shorthand: revocation is the tool for cutting a key off, not a zeroed
// balance.
func (h *LicenseHandlers) UpdateCredits(c *gin.Context) {
	key := c.Param("key")

	var req creditsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "mode and amount are required"})
		return
	}

	var (
		found bool
		err   error
	)
	switch req.Mode {
	case "add":
		if req.Amount <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "amount must be > 0 for mode add"})
			return
		}
		found, err = h.licenses.AddCredits(c.Request.Context(), key, req.Amount)
	case "set":
		if req.Amount < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "amount must be >= 0 for mode set"})
			return
		}
		found, err = h.licenses.SetCredits(c.Request.Context(), key, req.Amount)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "mode must be add or set"})
		return
	}

	if err != nil {
		slog.Error("failed to adjust credits", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to adjust credits"})
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "License key not found"})
		return
	}

	lic, err := h.licenses.GetLicense(c.Request.Context(), key)
	if err != nil || lic == nil {
		// The adjustment landed; report it without the fresh balance.
		c.JSON(http.StatusOK, gin.H{"licenseKey": key, "mode": req.Mode, "amount": req.Amount})
		return
	}

	slog.Info("license credits adjusted",
		"key_hint", models.KeyHint(key), "mode", req.Mode, "amount", req.Amount,
		"remaining", lic.CreditsRemaining)
	c.JSON(http.StatusOK, gin.H{
		"licenseKey":       key,
		"mode":             req.Mode,
		"amount":           req.Amount,
		"creditsRemaining": lic.CreditsRemaining,
	})
}

// @Summary      List license activity
// @Description  Returns the paginated activity log for a key, optionally filtered by endpoint, success, and date range.
// @Tags         Admin
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Router       /api/v1/admin/licenses/{key}/activity [get]
func (h *LicenseHandlers) ListActivity(c *gin.Context) {
	key := c.Param("key")

	filters := repositories.ActivityFilters{LicenseKey: &key}
	if endpoint := c.Query("endpoint"); endpoint != "" {
		filters.Endpoint = &endpoint
	}
	if success := c.Query("success"); success != "" {
		b, err := strconv.ParseBool(success)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "success must be true or false"})
			return
		}
		filters.Success = &b
	}
	if start := c.Query("start"); start != "" {
		ts, err := time.Parse(time.RFC3339, start)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "start must be RFC3339"})
			return
		}
		filters.StartDate = &ts
	}
	if end := c.Query("end"); end != "" {
		ts, err := time.Parse(time.RFC3339, end)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "end must be RFC3339"})
			return
		}
		filters.EndDate = &ts
	}

	limit := 50
	if v, err := strconv.Atoi(c.Query("limit")); err == nil && v > 0 && v <= 500 {
		limit = v
	}
	offset := 0
	if v, err := strconv.Atoi(c.Query("offset")); err == nil && v > 0 {
		offset = v
	}

	logs, total, err := h.activity.ListActivityLogs(c.Request.Context(), filters, limit, offset)
	if err != nil {
		slog.Error("failed to list activity", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list activity"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"activity": logs,
		"total":    total,
		"limit":    limit,
		"offset":   offset,
	})
}

// generateLicenseKey produces a new key in the KG-XXXX... format. UUIDs give
// enough entropy that provisioning collisions are practically impossible; the
// unique constraint catches the rest.
func generateLicenseKey() string {
	return "KG-" + strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", ""))
}
