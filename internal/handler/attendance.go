package handler

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shrimpsizemoose/trekker/logger"

	"activity/internal/attendance"
	"activity/internal/auth"
	"activity/internal/session"
)

const maxEvidenceBytes = 5 << 20

type scanRequest struct {
	Token string `json:"token"`
	// Payload is the raw scanned QR content; its token is used when Token
	// is empty.
	Payload     string               `json:"payload"`
	StudentID   string               `json:"student_id" binding:"required"`
	Method      attendance.Method    `json:"method"`
	Location    string               `json:"location"`
	Overrides   attendance.Overrides `json:"overrides"`
	EvidenceURL string               `json:"evidence_url"`
	Notes       string               `json:"notes"`
}

func (h *Handler) recordScan(c *gin.Context) {
	var req scanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if req.Token == "" && req.Payload != "" {
		var p session.Payload
		if err := json.Unmarshal([]byte(req.Payload), &p); err != nil {
			badRequest(c, fmt.Errorf("unreadable scan payload: %w", err))
			return
		}
		req.Token = p.Token
	}
	// only administrators may set overrides
	if claims, _ := auth.ClaimsFrom(c); claims.Role != auth.RoleAdmin && req.Overrides != (attendance.Overrides{}) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "overrides require the admin role"})
		return
	}
	rec, err := h.Attendance.RecordScan(c.Request.Context(), attendance.ScanRequest{
		Token:       req.Token,
		StudentID:   req.StudentID,
		Method:      req.Method,
		Location:    req.Location,
		Overrides:   req.Overrides,
		EvidenceURL: req.EvidenceURL,
		Notes:       req.Notes,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

func (h *Handler) uploadEvidence(c *gin.Context) {
	if h.Evidence == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "image storage not configured"})
		return
	}
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		badRequest(c, errors.New("file field required"))
		return
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, maxEvidenceBytes+1))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "read file failed"})
		return
	}
	if len(data) > maxEvidenceBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
		return
	}
	ext := strings.ToLower(filepath.Ext(header.Filename))
	if ext == "" {
		ext = ".jpg"
	}
	art, err := h.Evidence.Put(c.Request.Context(), "evidence/"+uuid.NewString()+ext, data)
	if err != nil {
		logger.Error.Printf("evidence upload failed: %v", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "image upload failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"url": art.URL, "id": art.ID})
}

func (h *Handler) recordManual(c *gin.Context) {
	var req struct {
		EventRef  string                  `json:"event_ref" binding:"required"`
		StudentID string                  `json:"student_id" binding:"required"`
		Status    attendance.ManualStatus `json:"status" binding:"required"`
		CheckIn   *time.Time              `json:"check_in"`
		CheckOut  *time.Time              `json:"check_out"`
		Notes     string                  `json:"notes"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	m, err := h.Attendance.RecordManualAttendance(c.Request.Context(), attendance.ManualRequest{
		EventRef:   req.EventRef,
		StudentID:  req.StudentID,
		Status:     req.Status,
		CheckIn:    req.CheckIn,
		CheckOut:   req.CheckOut,
		Notes:      req.Notes,
		RecordedBy: subject(c),
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

func (h *Handler) listManual(c *gin.Context) {
	eventRef := c.Query("event_ref")
	if eventRef == "" {
		badRequest(c, errors.New("event_ref is required"))
		return
	}
	entries, err := h.Devices.ListManual(c.Request.Context(), eventRef)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func attendanceFilter(c *gin.Context) attendance.Filter {
	validOnly := queryBool(c, "valid_only")
	return attendance.Filter{
		EventRef:  c.Query("event_ref"),
		Token:     c.Query("token"),
		StudentID: c.Query("student_id"),
		ValidOnly: validOnly != nil && *validOnly,
		Limit:     queryInt(c, "limit", 50),
		Offset:    queryInt(c, "offset", 0),
	}
}

func (h *Handler) listAttendance(c *gin.Context) {
	records, err := h.Attendance.ListRecords(c.Request.Context(), attendanceFilter(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}

func (h *Handler) exportAttendance(c *gin.Context) {
	f := attendanceFilter(c)
	rows, err := h.Attendance.Export(c.Request.Context(), f)
	if err != nil {
		fail(c, err)
		return
	}

	name := "attendance.csv"
	if f.EventRef != "" {
		name = "attendance-" + f.EventRef + ".csv"
	}
	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	c.Status(http.StatusOK)

	w := csv.NewWriter(c.Writer)
	_ = w.Write([]string{"student_id", "student_name", "event_ref", "token", "scan_timestamp", "scan_method", "scan_location", "status", "is_valid"})
	for _, r := range rows {
		_ = w.Write([]string{
			r.StudentID,
			r.StudentName,
			r.EventRef,
			r.Token,
			r.ScanTimestamp.UTC().Format(time.RFC3339),
			r.ScanMethod,
			r.ScanLocation,
			r.Status,
			strconv.FormatBool(r.IsValid),
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		logger.Error.Printf("export attendance: %v", err)
	}
}
