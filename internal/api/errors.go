package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/clinical-report-engine/internal/domain"
)

// respondError maps domain errors to HTTP status codes and a uniform error
// body. Structured errors carry their detail payloads through untouched.
func (s *Server) respondError(c *gin.Context, err error) {
	requestID := c.GetString("correlation_id")

	var (
		schemaErr     *domain.SchemaError
		stateErr      *domain.VersionStateError
		notApproved   *domain.VersionNotApprovedError
		fieldErr      *domain.FieldValidationError
		incomplete    *domain.IncompleteRequiredFieldsError
		validationErr *domain.ValidationFailedError
		genErr        *domain.ContentGenerationError
		raceErr       *domain.CacheRaceTimeoutError
	)

	switch {
	case errors.As(err, &schemaErr):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":    domain.NewEngineError(domain.ErrCodeSchema, "template schema rejected", err.Error(), requestID),
			"problems": schemaErr.Problems,
		})
	case errors.As(err, &fieldErr):
		c.JSON(http.StatusBadRequest, gin.H{
			"error": domain.NewEngineError(domain.ErrCodeValidation, fieldErr.Message, err.Error(), requestID),
			"field": fieldErr.FieldPath,
		})
	case errors.As(err, &notApproved):
		c.JSON(http.StatusConflict, gin.H{
			"error":  domain.NewEngineError(domain.ErrCodeVersionNotApproved, "only approved versions may be activated", err.Error(), requestID),
			"status": notApproved.Status,
		})
	case errors.As(err, &stateErr):
		c.JSON(http.StatusConflict, gin.H{
			"error": domain.NewEngineError(domain.ErrCodeVersionState, "illegal version state transition", err.Error(), requestID),
			"from":  stateErr.From,
		})
	case errors.As(err, &incomplete):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":   domain.NewEngineError(domain.ErrCodeIncompleteRequired, "required fields are unanswered", err.Error(), requestID),
			"missing": incomplete.Missing,
		})
	case errors.As(err, &validationErr):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":  domain.NewEngineError(domain.ErrCodeValidation, "report failed validation", err.Error(), requestID),
			"errors": validationErr.Errors,
		})
	case errors.As(err, &genErr):
		c.JSON(http.StatusBadGateway, gin.H{
			"error": domain.NewEngineError(domain.ErrCodeGenerationFailed, "content generation failed", err.Error(), requestID),
		})
	case errors.As(err, &raceErr):
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": domain.NewEngineError(domain.ErrCodeCacheRaceTimeout, "generation already in flight, retry shortly", err.Error(), requestID),
		})
	case errors.Is(err, domain.ErrNoActiveVersion):
		c.JSON(http.StatusConflict, gin.H{
			"error": domain.NewEngineError(domain.ErrCodeNoActiveVersion, "template has no active version", err.Error(), requestID),
		})
	case errors.Is(err, domain.ErrReportCompleted):
		c.JSON(http.StatusConflict, gin.H{
			"error": domain.NewEngineError(domain.ErrCodeVersionState, "completed reports must be reopened before editing", err.Error(), requestID),
		})
	case errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrTemplateNotFound),
		errors.Is(err, domain.ErrVersionNotFound),
		errors.Is(err, domain.ErrInstanceNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error": domain.NewEngineError(domain.ErrCodeNotFound, "resource not found", err.Error(), requestID),
		})
	default:
		s.logger.WithError(err).WithField("path", c.Request.URL.Path).Error("Unhandled error")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": domain.NewEngineError(domain.ErrCodeInternal, "internal server error", "", requestID),
		})
	}
}

// badRequest reports a malformed request body or parameter
func (s *Server) badRequest(c *gin.Context, detail string) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error": domain.NewEngineError(domain.ErrCodeValidation, "invalid request", detail, c.GetString("correlation_id")),
	})
}
