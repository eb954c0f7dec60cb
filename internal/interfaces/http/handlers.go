package http

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/procure-approval/internal/domain/entity"
	"github.com/garyjia/procure-approval/pkg/metrics"
	"github.com/garyjia/procure-approval/pkg/utils"
)

// Handlers contains all HTTP request handlers
type Handlers struct {
	services Services
	health   HealthFunc
	logger   Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(services Services, health HealthFunc, logger Logger) *Handlers {
	return &Handlers{
		services: services,
		health:   health,
		logger:   logger,
	}
}

// Response represents a standard JSON response.
// On failure Error carries the error kind and Message the reason.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

// ListResponse is the envelope of paginated list endpoints
type ListResponse struct {
	Success    bool        `json:"success"`
	Data       interface{} `json:"data"`
	Total      int         `json:"total"`
	Page       int         `json:"page"`
	Limit      int         `json:"limit"`
	TotalPages int         `json:"total_pages"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status     string      `json:"status"`
	Timestamp  string      `json:"timestamp"`
	Version    string      `json:"version"`
	Components interface{} `json:"components,omitempty"`
}

// Version is reported by /health
var Version = "1.0.0"

// ListQuery represents the paging query parameters shared by list endpoints
type ListQuery struct {
	Page           int    `form:"page"`
	Limit          int    `form:"limit"`
	Search         string `form:"search"`
	IncludeDeleted string `form:"include_deleted"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	healthy := true
	var components interface{}
	if h.health != nil {
		healthy, components = h.health(c.Request.Context())
	}

	response := HealthResponse{
		Status:     "healthy",
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Version:    Version,
		Components: components,
	}
	status := http.StatusOK
	if !healthy {
		response.Status = "unhealthy"
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, Response{
		Success: healthy,
		Data:    response,
	})
}

// statusFor maps an error kind to its HTTP status
func statusFor(kind entity.ErrorKind) int {
	switch kind {
	case entity.KindNotFound:
		return http.StatusNotFound
	case entity.KindAlreadyDeleted:
		return http.StatusGone
	case entity.KindValidation:
		return http.StatusUnprocessableEntity
	case entity.KindForbidden:
		return http.StatusForbidden
	case entity.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes the error envelope. Internal errors are logged and
// their details withheld from the client.
func (h *Handlers) respondError(c *gin.Context, op string, err error) {
	kind := entity.KindOf(err)
	metrics.ApprovalErrorsTotal.WithLabelValues(string(kind)).Inc()

	message := reason(err)
	if kind == entity.KindInternal {
		h.logger.Error("Request failed", "op", op, "path", c.Request.URL.Path, "error", err)
		message = "internal error"
	} else {
		h.logger.Info("Request refused", "op", op, "kind", string(kind), "reason", message)
	}

	c.JSON(statusFor(kind), Response{
		Success: false,
		Error:   string(kind),
		Message: message,
	})
}

// reason strips the category prefix added by the entity error helpers
func reason(err error) string {
	msg := err.Error()
	for _, sentinel := range []error{
		entity.ErrNotFound, entity.ErrAlreadyDeleted, entity.ErrValidation,
		entity.ErrForbidden, entity.ErrConflict,
	} {
		if errors.Is(err, sentinel) {
			return strings.TrimPrefix(msg, sentinel.Error()+": ")
		}
	}
	return msg
}

// bindJSON decodes the request body; malformed bodies are validation errors
func (h *Handlers) bindJSON(c *gin.Context, op string, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		h.respondError(c, op, entity.Validationf("invalid request body: %v", err))
		return false
	}
	return true
}

// listParams reads ListQuery from the query string
func (h *Handlers) listParams(c *gin.Context, op string) (entity.ListParams, bool) {
	var q ListQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		h.respondError(c, op, entity.Validationf("invalid query parameters: %v", err))
		return entity.ListParams{}, false
	}

	params := entity.ListParams{
		Page:   q.Page,
		Limit:  q.Limit,
		Search: utils.SanitizeString(strings.TrimSpace(q.Search)),
	}
	if q.IncludeDeleted != "" {
		include, err := utils.ParseFlexibleBool(q.IncludeDeleted)
		if err != nil {
			h.respondError(c, op, entity.Validationf("include_deleted: %v", err))
			return entity.ListParams{}, false
		}
		params.IncludeDeleted = include
	}
	return params, true
}

func respondPage[T any](c *gin.Context, page entity.Page[T]) {
	c.JSON(http.StatusOK, ListResponse{
		Success:    true,
		Data:       page.Data,
		Total:      page.Total,
		Page:       page.Page,
		Limit:      page.Limit,
		TotalPages: page.TotalPages,
	})
}

func respondOK(c *gin.Context, status int, data interface{}) {
	c.JSON(status, Response{Success: true, Data: data})
}
