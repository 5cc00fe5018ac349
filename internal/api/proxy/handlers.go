// Package proxy implements the credit-gated pass-through to the upstream
// social-data API. Each request is validated against the license ledger,
// relayed upstream, and charged only when the upstream call succeeds. Every
// attempt, charged or not, is recorded in the activity log.
package proxy

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/keygate/keygate/internal/activity"
	"github.com/keygate/keygate/internal/db/models"
	"github.com/keygate/keygate/internal/license"
	"github.com/keygate/keygate/internal/provider"
)

// CreditsRemainingHeader carries the post-charge balance on successful
// responses so the extension can update its UI without an extra call.
const CreditsRemainingHeader = "X-Credits-Remaining"

// Handler serves the metered proxy endpoints.
type Handler struct {
	meter    *license.Meter
	client   *provider.Client
	recorder *activity.Recorder
}

// NewHandler creates a proxy handler.
func NewHandler(meter *license.Meter, client *provider.Client, recorder *activity.Recorder) *Handler {
	return &Handler{meter: meter, client: client, recorder: recorder}
}

// @Summary      Fetch a user profile
// @Description  Relays a profile lookup to the upstream provider, charging one credit on success.
// @Tags         Proxy
// @Produce      json
// @Param        key         query  string  true   "License key"
// @Param        deviceId    query  string  true   "Device identifier"
// @Param        screenname  query  string  true   "Profile to fetch"
// @Success      200  {object}  map[string]interface{}  "Raw upstream JSON"
// @Failure      402  {object}  map[string]interface{}  "Insufficient credits"
// @Failure      502  {object}  map[string]interface{}  "Upstream failure (not charged)"
// @Router       /api/v1/proxy/user [get]
func (h *Handler) GetUser(c *gin.Context) {
	h.proxy(c, license.EndpointUser, func(screenName string) ([]byte, error) {
		return h.client.GetUser(c.Request.Context(), screenName)
	})
}

// @Summary      Fetch a user timeline
// @Description  Relays a timeline fetch to the upstream provider, charging one credit on success.
// @Tags         Proxy
// @Produce      json
// @Param        key         query  string  true   "License key"
// @Param        deviceId    query  string  true   "Device identifier"
// @Param        screenname  query  string  true   "Profile whose timeline to fetch"
// @Param        cursor      query  string  false  "Pagination cursor from a previous response"
// @Param        count       query  int     false  "Number of tweets to fetch"
// @Success      200  {object}  map[string]interface{}  "Raw upstream JSON"
// @Failure      402  {object}  map[string]interface{}  "Insufficient credits"
// @Failure      502  {object}  map[string]interface{}  "Upstream failure (not charged)"
// @Router       /api/v1/proxy/tweets [get]
func (h *Handler) GetUserTweets(c *gin.Context) {
	cursor := c.Query("cursor")
	count, _ := strconv.Atoi(c.Query("count"))

	h.proxy(c, license.EndpointTweets, func(screenName string) ([]byte, error) {
		return h.client.GetUserTweets(c.Request.Context(), screenName, cursor, count)
	})
}

// proxy runs the shared metered flow: pre-flight balance check, upstream call,
// post-success charge, activity record, raw JSON relay.
func (h *Handler) proxy(c *gin.Context, endpoint string, fetch func(screenName string) ([]byte, error)) {
	key := c.Query("key")
	deviceID := c.Query("deviceId")
	screenName := c.Query("screenname")

	if key == "" || deviceID == "" || screenName == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "key, deviceId and screenname are required",
		})
		return
	}

	ctx := c.Request.Context()
	cost := license.Cost(endpoint)

	// Pre-flight check so an out-of-credits caller costs us no upstream call.
	// The charge after the upstream call is still conditional, so a race here
	// can never overdraft; it just wastes one upstream request.
	remaining, ok, err := h.meter.Balance(ctx, key, deviceID)
	if err != nil {
		slog.Error("balance check failed", "key_hint", models.KeyHint(key), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Service temporarily unavailable"})
		return
	}
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": "License key is not valid for this device",
		})
		return
	}
	if remaining < cost {
		c.JSON(http.StatusPaymentRequired, gin.H{
			"error":         "insufficient_credits",
			"message":       "Not enough credits remaining for this request.",
			"creditsNeeded": cost,
		})
		return
	}

	body, err := fetch(screenName)
	if err != nil {
		h.record(c, key, deviceID, endpoint, 0, http.StatusBadGateway, false, "upstream error")
		if !errors.Is(err, provider.ErrUpstream) {
			slog.Error("unexpected proxy error", "endpoint", endpoint, "error", err)
		}
		c.JSON(http.StatusBadGateway, gin.H{
			"error": "Upstream data provider is unavailable. You have not been charged.",
		})
		return
	}

	charge, err := h.meter.Charge(ctx, key, deviceID, endpoint, c.ClientIP(), c.Request.UserAgent())
	if err != nil {
		slog.Error("charge failed after successful upstream call",
			"key_hint", models.KeyHint(key), "endpoint", endpoint, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Service temporarily unavailable"})
		return
	}

	switch charge.Outcome {
	case license.Charged:
		h.record(c, key, deviceID, endpoint, charge.Cost, http.StatusOK, true, "")
		c.Header(CreditsRemainingHeader, strconv.Itoa(charge.Remaining))
		c.Data(http.StatusOK, "application/json", body)

	case license.InsufficientCredits:
		// A concurrent request drained the balance between pre-flight and
		// charge. The upstream call is spent but the user is not billed.
		h.record(c, key, deviceID, endpoint, 0, http.StatusPaymentRequired, false, "insufficient credits")
		c.JSON(http.StatusPaymentRequired, gin.H{
			"error":         "insufficient_credits",
			"message":       "Not enough credits remaining for this request.",
			"creditsNeeded": charge.Cost,
		})

	case license.BindingNotFound:
		h.record(c, key, deviceID, endpoint, 0, http.StatusUnauthorized, false, "binding not found")
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": "License key is not valid for this device",
		})
	}
}

// record queues an activity entry; activity logging never affects the response.
func (h *Handler) record(c *gin.Context, key, deviceID, endpoint string, credits, status int, success bool, reason string) {
	entry := &models.ActivityLog{
		LicenseKey:  key,
		DeviceID:    deviceID,
		Endpoint:    endpoint,
		CreditsUsed: credits,
		StatusCode:  status,
		Success:     success,
	}
	if ip := c.ClientIP(); ip != "" {
		entry.IP = &ip
	}
	if ua := c.Request.UserAgent(); ua != "" {
		entry.UserAgent = &ua
	}
	if reason != "" {
		entry.ErrorReason = &reason
	}
	h.recorder.Record(entry)
}
