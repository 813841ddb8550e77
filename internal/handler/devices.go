package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shrimpsizemoose/trekker/logger"

	"activity/internal/auth"
)

func (h *Handler) registerDevice(c *gin.Context) {
	var req struct {
		DeviceID string `json:"device_id" binding:"required,max=64"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ctx := c.Request.Context()
	if err := h.Devices.UpsertDevice(ctx, req.DeviceID); err != nil {
		fail(c, err)
		return
	}
	h.issueDeviceTokens(c, req.DeviceID, http.StatusCreated)
}

func (h *Handler) refreshDevice(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	claims, err := h.Signer.ParseRefresh(req.RefreshToken)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}
	ctx := c.Request.Context()
	deviceID, err := h.Devices.RefreshTokenDevice(ctx, req.RefreshToken, time.Now())
	if err != nil || deviceID != claims.Subject {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "refresh token revoked or unknown"})
		return
	}
	revoked, err := h.Devices.RevokeRefreshToken(ctx, req.RefreshToken)
	if err != nil {
		fail(c, err)
		return
	}
	if !revoked {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "refresh token revoked or unknown"})
		return
	}
	h.issueDeviceTokens(c, deviceID, http.StatusOK)
}

func (h *Handler) issueDeviceTokens(c *gin.Context, deviceID string, status int) {
	tokens, err := h.Signer.Issue(deviceID, auth.RoleScanner)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}
	if err := h.Devices.SaveRefreshToken(c.Request.Context(), deviceID, tokens.RefreshToken, tokens.RefreshExp); err != nil {
		fail(c, err)
		return
	}
	logger.Info.Printf("issued scanner tokens for device %s", deviceID)
	c.JSON(status, gin.H{
		"access_token":  tokens.AccessToken,
		"refresh_token": tokens.RefreshToken,
		"expires_at":    tokens.AccessExp.Unix(),
	})
}
