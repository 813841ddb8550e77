package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"activity/internal/roster"
)

func (h *Handler) upsertStudent(c *gin.Context) {
	var req struct {
		StudentID  string `json:"student_id" binding:"required,max=64"`
		Name       string `json:"name" binding:"required"`
		Email      string `json:"email" binding:"omitempty,email"`
		Department string `json:"department"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	st, err := h.Students.Upsert(c.Request.Context(), roster.Student{
		StudentID:  req.StudentID,
		Name:       req.Name,
		Email:      req.Email,
		Department: req.Department,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *Handler) listStudents(c *gin.Context) {
	students, err := h.Students.List(c.Request.Context(), queryInt(c, "limit", 50), queryInt(c, "offset", 0))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"students": students})
}

func (h *Handler) getStudent(c *gin.Context) {
	st, err := h.Students.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}
