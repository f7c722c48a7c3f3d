package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/clinical-report-engine/internal/domain"
)

type openReportRequest struct {
	PatientID  string    `json:"patient_id" binding:"required"`
	TemplateID uuid.UUID `json:"template_id" binding:"required"`
}

// handleOpenReport opens a draft report for a patient against the active
// version of a template
func (s *Server) handleOpenReport(c *gin.Context) {
	var req openReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err.Error())
		return
	}

	view, err := s.coordinator.OpenReport(c.Request.Context(), req.PatientID, req.TemplateID)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, view)
}

// handleGetReport returns a report instance with its pinned version and
// current rule evaluation
func (s *Server) handleGetReport(c *gin.Context) {
	id, ok := s.pathUUID(c, "id")
	if !ok {
		return
	}

	view, err := s.coordinator.GetReport(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, view)
}

// handleListPatientReports lists a patient's reports with pagination
func (s *Server) handleListPatientReports(c *gin.Context) {
	patientID := c.Param("patientId")
	limit, offset := pagination(c)

	reports, err := s.coordinator.ListReports(c.Request.Context(), patientID, limit, offset)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"reports": reports, "count": len(reports)})
}

type updateAnswersRequest struct {
	Answers domain.AnswerMap `json:"answers" binding:"required"`
	Author  string           `json:"author" binding:"required"`
}

// handleUpdateAnswers merges manual edits into a report and re-runs the rules
func (s *Server) handleUpdateAnswers(c *gin.Context) {
	id, ok := s.pathUUID(c, "id")
	if !ok {
		return
	}

	var req updateAnswersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err.Error())
		return
	}

	view, err := s.coordinator.UpdateAnswers(c.Request.Context(), id, req.Answers, req.Author)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, view)
}

type generateContentRequest struct {
	FieldPath   domain.FieldPath   `json:"field_path" binding:"required"`
	ContentType domain.ContentType `json:"content_type" binding:"required"`
	Disciplines []string           `json:"disciplines"`
	Force       bool               `json:"force"`
}

// handleGenerateContent fills a narrative field from the content cache or
// the AI backend
func (s *Server) handleGenerateContent(c *gin.Context) {
	id, ok := s.pathUUID(c, "id")
	if !ok {
		return
	}

	var req generateContentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err.Error())
		return
	}

	generated, err := s.coordinator.GenerateContent(c.Request.Context(), id, req.FieldPath, req.ContentType, req.Disciplines, req.Force)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, generated)
}

// handleCompleteReport closes a report after the required-field and
// validation gates pass
func (s *Server) handleCompleteReport(c *gin.Context) {
	id, ok := s.pathUUID(c, "id")
	if !ok {
		return
	}

	view, err := s.coordinator.CompleteReport(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, view)
}

type reopenReportRequest struct {
	Reason string `json:"reason"`
}

// handleReopenReport returns a completed report to in-progress
func (s *Server) handleReopenReport(c *gin.Context) {
	id, ok := s.pathUUID(c, "id")
	if !ok {
		return
	}

	var req reopenReportRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			s.badRequest(c, err.Error())
			return
		}
	}

	instance, err := s.coordinator.ReopenReport(c.Request.Context(), id, req.Reason)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, instance)
}

type revertFieldRequest struct {
	FieldPath domain.FieldPath `json:"field_path" binding:"required"`
	Author    string           `json:"author" binding:"required"`
}

// handleRevertField restores a field to its previous audited value
func (s *Server) handleRevertField(c *gin.Context) {
	id, ok := s.pathUUID(c, "id")
	if !ok {
		return
	}

	var req revertFieldRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err.Error())
		return
	}

	reverted, err := s.coordinator.RevertField(c.Request.Context(), id, req.FieldPath, req.Author)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, reverted)
}

// handleFieldHistory returns the audit trail of one field, newest first
func (s *Server) handleFieldHistory(c *gin.Context) {
	id, ok := s.pathUUID(c, "id")
	if !ok {
		return
	}

	fieldPath := domain.FieldPath(c.Query("field_path"))
	if fieldPath == "" {
		s.badRequest(c, "field_path query parameter is required")
		return
	}

	history, err := s.coordinator.FieldHistory(c.Request.Context(), id, fieldPath)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"history": history, "count": len(history)})
}

// handleInvalidateContent drops cached AI content for a patient
func (s *Server) handleInvalidateContent(c *gin.Context) {
	patientID := c.Param("patientId")

	var contentType *domain.ContentType
	if raw := c.Query("content_type"); raw != "" {
		ct := domain.ContentType(raw)
		contentType = &ct
	}

	if err := s.coordinator.InvalidateContent(c.Request.Context(), patientID, contentType); err != nil {
		s.respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
