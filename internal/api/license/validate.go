// Package license implements the public license validation endpoint the
// browser extension calls on startup and before metered work. A successful
// validation returns a short-lived session token the extension uses for the
// community endpoints.
package license

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/keygate/keygate/internal/auth"
	"github.com/keygate/keygate/internal/config"
	"github.com/keygate/keygate/internal/db/models"
	corelicense "github.com/keygate/keygate/internal/license"
)

// Handler serves license validation requests.
type Handler struct {
	ledger *corelicense.Ledger
	cfg    *config.LicenseConfig
}

// NewHandler creates a validation handler.
func NewHandler(ledger *corelicense.Ledger, cfg *config.LicenseConfig) *Handler {
	return &Handler{ledger: ledger, cfg: cfg}
}

// ValidateResponse is the response body for the validate endpoint.
type ValidateResponse struct {
	Valid   bool   `json:"valid"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`

	DeviceID         string `json:"deviceId,omitempty"`
	NewDevice        bool   `json:"newDevice,omitempty"`
	CreditsRemaining *int   `json:"creditsRemaining,omitempty"`

	// Token is a session token for the community endpoints, present only on
	// valid results.
	Token string `json:"token,omitempty"`

	// UpdateNotification is an operator-configured message shown by the
	// extension, independent of the validation outcome.
	UpdateNotification string `json:"updateNotification,omitempty"`
}

// @Summary      Validate a license key
// @Description  Validates a key/device pair, binding the key to the device on first use. Returns a session token when valid.
// @Tags         License
// @Produce      json
// @Param        key       query  string  true  "License key"
// @Param        deviceId  query  string  true  "Stable device identifier"
// @Success      200  {object}  ValidateResponse
// @Failure      400  {object}  ValidateResponse  "Missing key or deviceId"
// @Router       /api/v1/license/validate [get]
// Validate runs the validation decision chain and mints a session token on
// success. Business denials (revoked, mismatch, maintenance) are 200 responses
// with valid=false so the extension can branch on the reason without
// special-casing status codes; a request missing its parameters is malformed
// and gets a 400 with the same body shape.
func (h *Handler) Validate(c *gin.Context) {
	key := c.Query("key")
	deviceID := c.Query("deviceId")

	result, err := h.ledger.Validate(c.Request.Context(), key, deviceID, c.ClientIP(), c.Request.UserAgent())
	if err != nil {
		slog.Error("license validation failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Validation temporarily unavailable",
		})
		return
	}

	resp := ValidateResponse{
		Valid:              result.Valid,
		Reason:             result.Reason,
		Message:            result.Message,
		UpdateNotification: h.cfg.UpdateNotification,
	}

	if result.Valid {
		resp.DeviceID = deviceID
		resp.NewDevice = result.NewDevice
		remaining := result.License.CreditsRemaining
		resp.CreditsRemaining = &remaining

		token, err := auth.GenerateSessionToken(deviceID, models.KeyHint(key), h.cfg.TokenTTL)
		if err != nil {
			slog.Error("failed to mint session token", "key_hint", models.KeyHint(key), "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Validation temporarily unavailable",
			})
			return
		}
		resp.Token = token
	}

	status := http.StatusOK
	if result.Reason == corelicense.ReasonInvalidRequest {
		status = http.StatusBadRequest
	}
	c.JSON(status, resp)
}
