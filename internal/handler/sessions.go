package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"activity/internal/civil"
	"activity/internal/session"
)

func (h *Handler) createSession(c *gin.Context) {
	var req struct {
		EventRef  string           `json:"event_ref" binding:"required"`
		ValidFrom civil.Date       `json:"valid_from"`
		ValidTo   civil.Date       `json:"valid_to"`
		Metadata  session.Metadata `json:"metadata"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	s, err := h.Sessions.CreateSession(c.Request.Context(), session.CreateInput{
		EventRef:  req.EventRef,
		ValidFrom: req.ValidFrom,
		ValidTo:   req.ValidTo,
		Metadata:  req.Metadata,
		CreatedBy: subject(c),
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, s)
}

func (h *Handler) listSessions(c *gin.Context) {
	sessions, err := h.Sessions.List(c.Request.Context(), session.Filter{
		EventRef: c.Query("event_ref"),
		Active:   queryBool(c, "active"),
		Limit:    queryInt(c, "limit", 50),
		Offset:   queryInt(c, "offset", 0),
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

func (h *Handler) getSession(c *gin.Context) {
	s, err := h.Sessions.Get(c.Request.Context(), c.Param("token"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

func (h *Handler) setSessionActive(c *gin.Context) {
	var req struct {
		Active *bool `json:"active" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	s, err := h.Sessions.SetActive(c.Request.Context(), c.Param("token"), *req.Active)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

func (h *Handler) regenerateSessionImage(c *gin.Context) {
	s, err := h.Sessions.RegenerateImage(c.Request.Context(), c.Param("token"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

func (h *Handler) deleteSession(c *gin.Context) {
	if err := h.Sessions.Delete(c.Request.Context(), c.Param("token")); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
