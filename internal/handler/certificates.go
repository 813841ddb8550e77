package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"activity/internal/credential"
)

func (h *Handler) issueCertificate(c *gin.Context) {
	var req credential.IssueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	cert, err := h.Issuer.Issue(c.Request.Context(), req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, cert)
}

func (h *Handler) issueBatch(c *gin.Context) {
	var req credential.BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	res, err := h.Issuer.IssueBatch(c.Request.Context(), req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"issued":       res.Issued,
		"failed":       res.Failed,
		"issued_count": len(res.Issued),
		"failed_count": len(res.Failed),
	})
}

func (h *Handler) listCertificates(c *gin.Context) {
	certs, err := h.Issuer.List(c.Request.Context(), credential.Filter{
		StudentID: c.Query("student_id"),
		EventRef:  c.Query("event_ref"),
		Status:    credential.Status(c.Query("status")),
		Type:      credential.Type(c.Query("type")),
		Limit:     queryInt(c, "limit", 50),
		Offset:    queryInt(c, "offset", 0),
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"certificates": certs})
}

func (h *Handler) getCertificate(c *gin.Context) {
	cert, err := h.Issuer.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, cert)
}

func (h *Handler) updateCertificate(c *gin.Context) {
	var req credential.UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	cert, err := h.Issuer.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, cert)
}

func (h *Handler) setCertificateStatus(c *gin.Context) {
	var req struct {
		Status credential.Status `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	cert, err := h.Issuer.SetStatus(c.Request.Context(), c.Param("id"), req.Status)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, cert)
}

func (h *Handler) deleteCertificate(c *gin.Context) {
	if err := h.Issuer.Delete(c.Request.Context(), c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// verifyCertificate is public: it answers only for active certificates and
// exposes no more than a printed certificate already shows.
func (h *Handler) verifyCertificate(c *gin.Context) {
	cert, err := h.Issuer.VerifyByNumber(c.Request.Context(), c.Param("number"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"certificate_number": cert.Number,
		"student_id":         cert.StudentID,
		"title":              cert.Title,
		"type":               cert.Type,
		"event_ref":          cert.EventRef,
		"issue_date":         cert.IssueDate,
		"status":             cert.Status,
	})
}
