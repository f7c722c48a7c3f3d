package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/clinical-report-engine/internal/domain"
	"github.com/clinical-report-engine/internal/registry"
)

type fieldTypeView struct {
	Name     string              `json:"name"`
	Category string              `json:"category"`
	Hint     registry.RenderHint `json:"hint"`
}

// handleListFieldTypes returns the registered field types
func (s *Server) handleListFieldTypes(c *gin.Context) {
	names := s.fieldTypes.Names()
	views := make([]fieldTypeView, 0, len(names))
	for _, name := range names {
		def, ok := s.fieldTypes.Lookup(name)
		if !ok {
			continue
		}
		views = append(views, fieldTypeView{Name: def.Name, Category: def.Category, Hint: def.Hint})
	}
	c.JSON(http.StatusOK, gin.H{"field_types": views})
}

type registerFieldTypeRequest struct {
	Name       string              `json:"name" binding:"required"`
	Category   string              `json:"category" binding:"required"`
	Hint       registry.RenderHint `json:"hint"`
	Primitives []string            `json:"primitives" binding:"required,min=1"`
}

// handleRegisterFieldType registers a composite field type built from
// existing primitives
func (s *Server) handleRegisterFieldType(c *gin.Context) {
	var req registerFieldTypeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err.Error())
		return
	}

	if err := s.fieldTypes.RegisterComposite(req.Name, req.Category, req.Hint, req.Primitives...); err != nil {
		s.badRequest(c, err.Error())
		return
	}

	c.JSON(http.StatusCreated, fieldTypeView{Name: req.Name, Category: req.Category, Hint: req.Hint})
}

type createTemplateRequest struct {
	Name       string               `json:"name" binding:"required"`
	Type       domain.TemplateType  `json:"type" binding:"required"`
	Scope      domain.TemplateScope `json:"scope" binding:"required"`
	PracticeID string               `json:"practice_id"`
}

// handleCreateTemplate creates a template shell with no versions yet
func (s *Server) handleCreateTemplate(c *gin.Context) {
	var req createTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err.Error())
		return
	}

	tmpl := &domain.Template{
		Name:       req.Name,
		Type:       req.Type,
		Scope:      req.Scope,
		PracticeID: req.PracticeID,
	}
	if err := s.templates.CreateTemplate(c.Request.Context(), tmpl); err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, tmpl)
}

// handleListTemplates lists templates, optionally filtered by scope
func (s *Server) handleListTemplates(c *gin.Context) {
	scope := domain.TemplateScope(c.Query("scope"))
	limit, offset := pagination(c)

	templates, err := s.templates.ListTemplates(c.Request.Context(), scope, limit, offset)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"templates": templates, "count": len(templates)})
}

// handleGetTemplate retrieves a single template
func (s *Server) handleGetTemplate(c *gin.Context) {
	id, ok := s.pathUUID(c, "id")
	if !ok {
		return
	}

	tmpl, err := s.templates.GetTemplate(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, tmpl)
}

// handleDeleteTemplate removes a template and its version history
func (s *Server) handleDeleteTemplate(c *gin.Context) {
	id, ok := s.pathUUID(c, "id")
	if !ok {
		return
	}

	if err := s.templates.DeleteTemplate(c.Request.Context(), id); err != nil {
		s.respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

type createVersionRequest struct {
	Schema domain.TemplateSchema    `json:"schema" binding:"required"`
	Rules  []domain.ConditionalRule `json:"rules"`
}

// handleCreateDraftVersion adds a new draft version to a template. The
// schema and rules are validated before anything is stored.
func (s *Server) handleCreateDraftVersion(c *gin.Context) {
	id, ok := s.pathUUID(c, "id")
	if !ok {
		return
	}

	var req createVersionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err.Error())
		return
	}

	version, err := s.templates.CreateDraftVersion(c.Request.Context(), id, req.Schema, req.Rules)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, version)
}

// handleListVersions lists a template's versions newest first
func (s *Server) handleListVersions(c *gin.Context) {
	id, ok := s.pathUUID(c, "id")
	if !ok {
		return
	}

	versions, err := s.templates.ListVersions(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"versions": versions, "count": len(versions)})
}

type fieldView struct {
	domain.Field
	Rules []domain.ConditionalRule `json:"rules"`
}

type sectionView struct {
	Name   string      `json:"name"`
	Title  string      `json:"title"`
	Order  int         `json:"order"`
	Fields []fieldView `json:"fields"`
}

type versionView struct {
	*domain.TemplateVersion
	Schema struct {
		Sections []sectionView `json:"sections"`
	} `json:"schema"`
}

// versionWithFieldRules projects each rule onto its trigger field, so a
// renderer reads a field's behaviour without joining the version-level list.
func versionWithFieldRules(version *domain.TemplateVersion) versionView {
	byTrigger := make(map[domain.FieldPath][]domain.ConditionalRule)
	for _, rule := range version.Rules {
		byTrigger[rule.TriggerFieldPath] = append(byTrigger[rule.TriggerFieldPath], rule)
	}

	view := versionView{TemplateVersion: version}
	for _, section := range version.Schema.Sections {
		sv := sectionView{Name: section.Name, Title: section.Title, Order: section.Order}
		for _, field := range section.Fields {
			rules := byTrigger[section.Name+"."+field.Name]
			if rules == nil {
				rules = []domain.ConditionalRule{}
			}
			sv.Fields = append(sv.Fields, fieldView{Field: field, Rules: rules})
		}
		view.Schema.Sections = append(view.Schema.Sections, sv)
	}
	return view
}

// handleGetActiveVersion returns the currently active version of a template,
// its rules attached to the fields that trigger them
func (s *Server) handleGetActiveVersion(c *gin.Context) {
	id, ok := s.pathUUID(c, "id")
	if !ok {
		return
	}

	version, err := s.templates.GetActive(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, versionWithFieldRules(version))
}

// handleGetVersion retrieves a single template version
func (s *Server) handleGetVersion(c *gin.Context) {
	id, ok := s.pathUUID(c, "id")
	if !ok {
		return
	}

	version, err := s.templates.GetVersion(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, version)
}

// handleSubmitVersion moves a draft version into review
func (s *Server) handleSubmitVersion(c *gin.Context) {
	s.transitionVersion(c, func(id uuid.UUID) error {
		return s.templates.SubmitForApproval(c.Request.Context(), id)
	})
}

type approveRequest struct {
	Approver string `json:"approver" binding:"required"`
}

// handleApproveVersion approves a pending version
func (s *Server) handleApproveVersion(c *gin.Context) {
	var req approveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err.Error())
		return
	}

	s.transitionVersion(c, func(id uuid.UUID) error {
		return s.templates.Approve(c.Request.Context(), id, req.Approver)
	})
}

type rejectRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// handleRejectVersion rejects a pending version with a reason
func (s *Server) handleRejectVersion(c *gin.Context) {
	var req rejectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err.Error())
		return
	}

	s.transitionVersion(c, func(id uuid.UUID) error {
		return s.templates.Reject(c.Request.Context(), id, req.Reason)
	})
}

// handleActivateVersion makes an approved version the active one, swapping
// out any previously active version atomically
func (s *Server) handleActivateVersion(c *gin.Context) {
	s.transitionVersion(c, func(id uuid.UUID) error {
		return s.templates.Activate(c.Request.Context(), id)
	})
}

// transitionVersion runs a state transition and returns the updated version
func (s *Server) transitionVersion(c *gin.Context, transition func(uuid.UUID) error) {
	id, ok := s.pathUUID(c, "id")
	if !ok {
		return
	}

	if err := transition(id); err != nil {
		s.respondError(c, err)
		return
	}

	version, err := s.templates.GetVersion(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, version)
}

// pathUUID parses a UUID path parameter, responding with 400 on failure
func (s *Server) pathUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		s.badRequest(c, "invalid "+name+": must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}

// pagination reads limit/offset query parameters with sane defaults
func pagination(c *gin.Context) (int, int) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 || limit > 200 {
		limit = 50
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		offset = 0
	}
	return limit, offset
}
