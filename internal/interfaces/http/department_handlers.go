package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/procure-approval/pkg/utils"
)

// CreateDepartmentRequest represents POST /api/v1/departments
type CreateDepartmentRequest struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// CreateDepartment handles POST /api/v1/departments
func (h *Handlers) CreateDepartment(c *gin.Context) {
	var req CreateDepartmentRequest
	if !h.bindJSON(c, "create department", &req) {
		return
	}
	dept, err := h.services.Departments.Create(c.Request.Context(), strings.TrimSpace(req.ID), utils.SanitizeString(req.Name))
	if err != nil {
		h.respondError(c, "create department", err)
		return
	}
	respondOK(c, http.StatusCreated, dept)
}

// ListDepartments handles GET /api/v1/departments
func (h *Handlers) ListDepartments(c *gin.Context) {
	params, ok := h.listParams(c, "list departments")
	if !ok {
		return
	}
	page, err := h.services.Departments.List(c.Request.Context(), params)
	if err != nil {
		h.respondError(c, "list departments", err)
		return
	}
	respondPage(c, page)
}

// GetDepartment handles GET /api/v1/departments/:id
func (h *Handlers) GetDepartment(c *gin.Context) {
	dept, err := h.services.Departments.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, "get department", err)
		return
	}
	respondOK(c, http.StatusOK, dept)
}
