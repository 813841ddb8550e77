// Package handler exposes the attendance and certificate operations over
// HTTP with gin.
package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shrimpsizemoose/trekker/logger"

	"activity/internal/apperr"
	"activity/internal/attendance"
	"activity/internal/auth"
	"activity/internal/credential"
	"activity/internal/render"
	"activity/internal/roster"
	"activity/internal/session"
)

// Deps are the collaborators the handlers call into.
type Deps struct {
	Sessions   *session.Registry
	Attendance *attendance.Validator
	Devices    *attendance.Repository
	Issuer     *credential.Issuer
	Students   *roster.Repository
	Signer     *auth.Signer
	// Evidence stores images uploaded by scanners. Optional.
	Evidence render.Store
}

// Handler serves the /v1 API.
type Handler struct {
	Deps
}

// New creates a handler.
func New(d Deps) *Handler {
	return &Handler{Deps: d}
}

// Register mounts every route on r.
func (h *Handler) Register(r gin.IRouter) {
	v1 := r.Group("/v1")
	v1.POST("/devices/register", h.registerDevice)
	v1.POST("/devices/refresh", h.refreshDevice)
	v1.GET("/verify/:number", h.verifyCertificate)

	authed := v1.Group("", auth.Authenticate(h.Signer))

	scanners := authed.Group("", auth.RequireRole(auth.RoleScanner, auth.RoleAdmin))
	scanners.POST("/scans", h.recordScan)
	scanners.POST("/uploads", h.uploadEvidence)

	admin := authed.Group("", auth.RequireRole(auth.RoleAdmin))
	admin.POST("/sessions", h.createSession)
	admin.GET("/sessions", h.listSessions)
	admin.GET("/sessions/:token", h.getSession)
	admin.POST("/sessions/:token/active", h.setSessionActive)
	admin.POST("/sessions/:token/image", h.regenerateSessionImage)
	admin.DELETE("/sessions/:token", h.deleteSession)

	admin.POST("/attendance/manual", h.recordManual)
	admin.GET("/attendance/manual", h.listManual)
	admin.GET("/attendance", h.listAttendance)
	admin.GET("/attendance/export", h.exportAttendance)

	admin.POST("/certificates", h.issueCertificate)
	admin.POST("/certificates/batch", h.issueBatch)
	admin.GET("/certificates", h.listCertificates)
	admin.GET("/certificates/:id", h.getCertificate)
	admin.PATCH("/certificates/:id", h.updateCertificate)
	admin.POST("/certificates/:id/status", h.setCertificateStatus)
	admin.DELETE("/certificates/:id", h.deleteCertificate)

	admin.POST("/students", h.upsertStudent)
	admin.GET("/students", h.listStudents)
	admin.GET("/students/:id", h.getStudent)
}

// fail writes err as {"error", "reason"} with a status matching its kind.
func fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		status = http.StatusBadRequest
	case apperr.KindNotFound:
		status = http.StatusNotFound
	case apperr.KindConflict:
		status = http.StatusConflict
	case apperr.KindAllocationExhausted:
		status = http.StatusServiceUnavailable
	}
	msg := err.Error()
	if status == http.StatusInternalServerError {
		logger.Error.Printf("%s %s: %v", c.Request.Method, c.FullPath(), err)
		msg = "internal error"
	}
	c.AbortWithStatusJSON(status, gin.H{"error": msg, "reason": apperr.ReasonOf(err)})
}

func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error(), "reason": apperr.ReasonInvalidInput})
}

func queryInt(c *gin.Context, key string, fallback int) int {
	if v := c.Query(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}

func queryBool(c *gin.Context, key string) *bool {
	v := c.Query(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return nil
	}
	return &b
}

func subject(c *gin.Context) string {
	claims, _ := auth.ClaimsFrom(c)
	return claims.Subject
}
