// Package community implements the shared-config endpoints: upload, browse,
// preview, copy, delete, and visibility toggling. All routes require a session
// token; the owner identity is the device id from the verified token claims.
//
// The surface is dispatched by HTTP method plus an `action` query parameter on
// a single path, mirroring the extension's existing wire protocol:
//
//	POST   /api/v1/community/configs?action=upload       upload (default action)
//	POST   /api/v1/community/configs?action=copy         full config, bumps copy_count
//	GET    /api/v1/community/configs?action=browse       list summaries
//	GET    /api/v1/community/configs?action=preview&id=  full config, bumps view_count
//	PATCH  /api/v1/community/configs?action=visibility   toggle is_public
//	DELETE /api/v1/community/configs?id=                 delete own config
package community

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/keygate/keygate/internal/config"
	"github.com/keygate/keygate/internal/db/models"
	"github.com/keygate/keygate/internal/db/repositories"
	"github.com/keygate/keygate/internal/middleware"
	"github.com/keygate/keygate/internal/safego"
)

// notFoundMessage is shared by every path that hides a config from a caller.
// "Does not exist", "not public", and "not yours" are deliberately
// indistinguishable so config ids cannot be probed.
const notFoundMessage = "Config not found"

// Handler serves the shared-config endpoints.
type Handler struct {
	repo *repositories.SharedConfigRepository
	cfg  *config.CommunityConfig
}

// NewHandler creates a community handler.
func NewHandler(repo *repositories.SharedConfigRepository, cfg *config.CommunityConfig) *Handler {
	return &Handler{repo: repo, cfg: cfg}
}

// configPayload is the user-controlled portion of an uploaded config.
type configPayload struct {
	Admins    []json.RawMessage `json:"admins"`
	Tweets    []json.RawMessage `json:"tweets"`
	Blacklist []json.RawMessage `json:"blacklist"`
}

// uploadRequest is the body for the upload action.
type uploadRequest struct {
	DisplayName string          `json:"displayName" binding:"required"`
	Description string          `json:"description"`
	IsPublic    bool            `json:"isPublic"`
	ConfigData  json.RawMessage `json:"configData" binding:"required"`
}

// visibilityRequest is the body for the visibility action.
type visibilityRequest struct {
	ID       string `json:"id" binding:"required"`
	IsPublic *bool  `json:"isPublic" binding:"required"`
}

// copyRequest is the body for the copy action.
type copyRequest struct {
	ID string `json:"id" binding:"required"`
}

// Post dispatches the write-side actions: upload (the default) and copy.
func (h *Handler) Post(c *gin.Context) {
	switch c.Query("action") {
	case "upload", "":
		h.Upload(c)
	case "copy":
		h.copy(c)
	default:
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Unknown action; expected upload or copy",
		})
	}
}

// @Summary      Upload a shared config
// @Description  Stores a config owned by the calling device. Item counts and size are derived server-side.
// @Tags         Community
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Success      201  {object}  map[string]interface{}  "success: true, config: stored row"
// @Failure      400  {object}  map[string]interface{}  "Missing fields or payload too large"
// @Router       /api/v1/community/configs [post]
// Upload validates and stores a new shared config. The size limit is enforced
// on the raw payload before any database work.
func (h *Handler) Upload(c *gin.Context) {
	deviceID := c.GetString(middleware.DeviceIDKey)

	var req uploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "displayName and configData are required",
		})
		return
	}

	if int64(len(req.ConfigData)) > h.cfg.MaxConfigBytes {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":    "Config exceeds the maximum allowed size",
			"maxBytes": h.cfg.MaxConfigBytes,
		})
		return
	}

	// Counts are derived from the payload, never taken from the client. A
	// payload that is valid JSON but not the expected shape just yields zero
	// counts.
	var payload configPayload
	if err := json.Unmarshal(req.ConfigData, &payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "configData must be a JSON object",
		})
		return
	}

	cfg := &models.SharedConfig{
		DeviceID:       deviceID,
		DisplayName:    req.DisplayName,
		Description:    req.Description,
		IsPublic:       req.IsPublic,
		ConfigData:     req.ConfigData,
		AdminCount:     len(payload.Admins),
		TweetCount:     len(payload.Tweets),
		BlacklistCount: len(payload.Blacklist),
		SizeBytes:      int64(len(req.ConfigData)),
	}

	if err := h.repo.Create(c.Request.Context(), cfg); err != nil {
		slog.Error("failed to store shared config", "device_id", deviceID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store config"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"success": true, "config": cfg})
}

// Get dispatches the read-side actions: browse and preview.
func (h *Handler) Get(c *gin.Context) {
	switch c.Query("action") {
	case "browse", "":
		h.browse(c)
	case "preview":
		id := c.Query("id")
		if id == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "id is required"})
			return
		}
		h.fetch(c, id, false)
	default:
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Unknown action; expected browse or preview",
		})
	}
}

// copy returns a full config for import into the caller's own extension.
func (h *Handler) copy(c *gin.Context) {
	var req copyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required"})
		return
	}
	h.fetch(c, req.ID, true)
}

// browse lists config summaries, either the caller's own or other users'
// public ones.
func (h *Handler) browse(c *gin.Context) {
	deviceID := c.GetString(middleware.DeviceIDKey)

	filter := repositories.FilterPublic
	if c.Query("filter") == "mine" {
		filter = repositories.FilterMine
	}

	page := queryInt(c, "page", 1)
	if page < 1 {
		page = 1
	}
	pageSize := queryInt(c, "pageSize", h.cfg.PageSize)
	if pageSize < 1 {
		pageSize = h.cfg.PageSize
	}
	if pageSize > h.cfg.MaxPageSize {
		pageSize = h.cfg.MaxPageSize
	}

	configs, total, err := h.repo.List(c.Request.Context(), deviceID, filter, pageSize, (page-1)*pageSize)
	if err != nil {
		slog.Error("failed to list shared configs", "device_id", deviceID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list configs"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"configs":  configs,
		"total":    total,
		"page":     page,
		"pageSize": pageSize,
	})
}

// fetch returns a full config for preview or copy. Both bump their respective
// counter asynchronously; a failed bump never fails the read.
func (h *Handler) fetch(c *gin.Context, id string, isCopy bool) {
	deviceID := c.GetString(middleware.DeviceIDKey)

	cfg, err := h.repo.GetByID(c.Request.Context(), id)
	if err != nil {
		slog.Error("failed to load shared config", "config_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load config"})
		return
	}
	if cfg == nil || !cfg.VisibleTo(deviceID) {
		c.JSON(http.StatusNotFound, gin.H{"error": notFoundMessage})
		return
	}

	// Counter bumps are fire-and-forget; the 5-second timeout prevents leaked
	// goroutines if the database becomes unreachable.
	repo := h.repo
	safego.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		var err error
		if isCopy {
			err = repo.IncrementCopyCount(ctx, id)
		} else {
			err = repo.IncrementViewCount(ctx, id)
		}
		if err != nil {
			slog.Warn("failed to bump config counter", "config_id", id, "error", err)
		}
	})

	c.JSON(http.StatusOK, gin.H{"success": true, "config": cfg})
}

// @Summary      Toggle config visibility
// @Description  Sets is_public on a config owned by the calling device. Idempotent.
// @Tags         Community
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Failure      404  {object}  map[string]interface{}  "Not found or not owned"
// @Router       /api/v1/community/configs [patch]
func (h *Handler) SetVisibility(c *gin.Context) {
	if c.Query("action") != "visibility" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown action; expected visibility"})
		return
	}

	deviceID := c.GetString(middleware.DeviceIDKey)

	var req visibilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id and isPublic are required"})
		return
	}

	found, err := h.repo.SetVisibility(c.Request.Context(), req.ID, deviceID, *req.IsPublic)
	if err != nil {
		slog.Error("failed to toggle visibility", "config_id", req.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update config"})
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": notFoundMessage})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "id": req.ID, "isPublic": *req.IsPublic})
}

// @Summary      Delete a shared config
// @Description  Deletes a config owned by the calling device.
// @Tags         Community
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Failure      404  {object}  map[string]interface{}  "Not found or not owned"
// @Router       /api/v1/community/configs [delete]
func (h *Handler) Delete(c *gin.Context) {
	deviceID := c.GetString(middleware.DeviceIDKey)

	id := c.Query("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required"})
		return
	}

	found, err := h.repo.Delete(c.Request.Context(), id, deviceID)
	if err != nil {
		slog.Error("failed to delete shared config", "config_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete config"})
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": notFoundMessage})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "deleted": true, "id": id})
}

// queryInt parses an integer query parameter with a fallback.
func queryInt(c *gin.Context, name string, fallback int) int {
	v := c.Query(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
