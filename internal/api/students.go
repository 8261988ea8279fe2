package api

import (
	"net/http"
	"strings"

	"mindleap-provisioning/internal/model"

	"github.com/gin-gonic/gin"
)

type renameRequest struct {
	Name string `json:"name" binding:"required"`
}

// CreateStudent provisions a single student synchronously. The response
// carries the one-time password.
func (h *Handler) CreateStudent(c *gin.Context) {
	var in model.StudentInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	in.Row = 0
	in.StateCode = strings.ToUpper(strings.TrimSpace(in.StateCode))
	if err := checkState(c, in.StateCode); err != nil {
		h.respondError(c, err)
		return
	}
	in.CreatedBy = operatorID(c)

	outcome := h.provisioner.Provision(c.Request.Context(), in)
	if outcome.Status != model.OutcomeSuccess {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": outcome.Error, "outcome": outcome})
		return
	}

	h.log.Info().
		Str("student_id", outcome.StudentID).
		Str("operator", in.CreatedBy).
		Msg("Student created")
	c.JSON(http.StatusCreated, gin.H{"outcome": outcome})
}

func (h *Handler) GetStudent(c *gin.Context) {
	student, ok := h.loadStudent(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, student)
}

func (h *Handler) RenameStudent(c *gin.Context) {
	var req renameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	student, ok := h.loadStudent(c)
	if !ok {
		return
	}

	updated, err := h.provisioner.RenameStudent(c.Request.Context(), student.StudentID, req.Name)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (h *Handler) DeleteStudent(c *gin.Context) {
	student, ok := h.loadStudent(c)
	if !ok {
		return
	}
	if err := h.provisioner.DeleteStudent(c.Request.Context(), student.StudentID); err != nil {
		h.respondError(c, err)
		return
	}

	h.log.Info().
		Str("student_id", student.StudentID).
		Str("operator", operatorID(c)).
		Msg("Student deleted")
	c.Status(http.StatusNoContent)
}

// loadStudent resolves :id and checks the operator may see it. Students in
// other states look like missing ones.
func (h *Handler) loadStudent(c *gin.Context) (*model.Student, bool) {
	student, err := h.provisioner.GetStudent(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return nil, false
	}
	if checkState(c, student.StateCode) != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Student not found"})
		return nil, false
	}
	return student, true
}
