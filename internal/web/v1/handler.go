package v1

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/duynhne/registration-service/internal/core/domain"
	"github.com/duynhne/registration-service/internal/core/validation"
	logicv1 "github.com/duynhne/registration-service/internal/logic/v1"
	"github.com/duynhne/registration-service/middleware"
)

// CustomerHandler serves registration, lookup and per-field validation.
type CustomerHandler struct {
	service   *logicv1.RegistrationService
	directory *logicv1.Directory
	rules     *validation.Rules
}

// NewCustomerHandler creates a customer handler
func NewCustomerHandler(service *logicv1.RegistrationService, directory *logicv1.Directory, rules *validation.Rules) *CustomerHandler {
	return &CustomerHandler{
		service:   service,
		directory: directory,
		rules:     rules,
	}
}

// RegisterRoutes mounts the customer and validation endpoints under api.
func (h *CustomerHandler) RegisterRoutes(api *gin.RouterGroup) {
	api.POST("/customers", h.Register)
	api.GET("/customers/lookup", h.Lookup)
	api.POST("/validation/:field", h.ValidateField)
}

func startRequest(c *gin.Context) (context.Context, trace.Span, *zap.Logger) {
	ctx, span := middleware.StartSpan(c.Request.Context(), "http.request", trace.WithAttributes(
		attribute.String("layer", "web"),
		attribute.String("method", c.Request.Method),
		attribute.String("path", c.FullPath()),
	))
	return ctx, span, middleware.GetLoggerFromGinContext(c)
}

// statusFor maps a registration outcome to an HTTP status.
func statusFor(result logicv1.RegistrationResult) int {
	switch {
	case result.Success:
		return http.StatusCreated
	case result.Reason == logicv1.ReasonValidation:
		return http.StatusBadRequest
	case result.Reason == logicv1.ReasonDuplicateEmail, result.Reason == logicv1.ReasonDuplicatePhone:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Register handles POST /api/v1/customers
func (h *CustomerHandler) Register(c *gin.Context) {
	ctx, span, logger := startRequest(c)
	defer span.End()

	var in domain.RegistrationInput
	if err := c.ShouldBindJSON(&in); err != nil {
		span.SetAttributes(attribute.Bool("request.valid", false))
		logger.Warn("Invalid registration request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"reason":  logicv1.ReasonValidation,
			"error":   sanitizeValidationError(err),
		})
		return
	}

	result := h.service.Submit(ctx, in)
	span.SetAttributes(attribute.Bool("registration.success", result.Success))
	if result.Success {
		logger.Info("Customer registered", zap.String("customer_id", result.Record.ID))
	} else {
		logger.Info("Registration rejected", zap.String("reason", result.Reason))
	}
	c.JSON(statusFor(result), result)
}

// Lookup handles GET /api/v1/customers/lookup?phone=... or ?email=...
func (h *CustomerHandler) Lookup(c *gin.Context) {
	ctx, span, logger := startRequest(c)
	defer span.End()

	phone, email := c.Query("phone"), c.Query("email")
	if (phone == "") == (email == "") {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Exactly one of phone or email is required"})
		return
	}

	var (
		record *domain.CustomerRecord
		err    error
	)
	if phone != "" {
		record, err = h.directory.FindByPhone(ctx, phone)
	} else {
		record, err = h.directory.FindByEmail(ctx, email)
	}
	if err != nil {
		span.RecordError(err)
		logger.Error("Customer lookup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Server error"})
		return
	}

	middleware.AddSpanAttributes(ctx, attribute.Bool("customer.found", record != nil))
	c.JSON(http.StatusOK, gin.H{"success": true, "record": record})
}

type validateFieldRequest struct {
	Value string                   `json:"value"`
	Form  domain.RegistrationInput `json:"form"`
}

// ValidateField handles POST /api/v1/validation/:field
func (h *CustomerHandler) ValidateField(c *gin.Context) {
	_, span, logger := startRequest(c)
	defer span.End()

	field := c.Param("field")
	var req validateFieldRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": sanitizeValidationError(err)})
		return
	}

	msg, err := h.rules.ValidateField(field, req.Value, req.Form)
	if err != nil {
		if errors.Is(err, domain.ErrUnknownField) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown field"})
			return
		}
		span.RecordError(err)
		logger.Error("Field validation failed", zap.String("field", field), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	resp := gin.H{"valid": msg == ""}
	if msg != "" {
		resp["error"] = msg
	}
	if field == "password" && req.Value != "" {
		resp["strength"] = validation.PasswordStrength(req.Value)
	}
	c.JSON(http.StatusOK, resp)
}

// SessionHandler serves server-side form sessions with live phone lookup.
type SessionHandler struct {
	sessions *logicv1.SessionStore
}

// NewSessionHandler creates a session handler
func NewSessionHandler(sessions *logicv1.SessionStore) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

// RegisterRoutes mounts the session endpoints under api.
func (h *SessionHandler) RegisterRoutes(api *gin.RouterGroup) {
	sessions := api.Group("/sessions")
	{
		sessions.POST("", h.Create)
		sessions.GET("/:id", h.Get)
		sessions.DELETE("/:id", h.Delete)
		sessions.PATCH("/:id/form", h.UpdateForm)
		sessions.GET("/:id/events", h.Events)
		sessions.POST("/:id/autofill", h.AcceptAutofill)
		sessions.DELETE("/:id/autofill", h.DeclineAutofill)
		sessions.POST("/:id/submit", h.Submit)
	}
}

// writeSessionError maps session errors to HTTP responses.
func writeSessionError(c *gin.Context, logger *zap.Logger, err error) {
	switch {
	case errors.Is(err, domain.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
	case errors.Is(err, domain.ErrNoCandidate):
		c.JSON(http.StatusConflict, gin.H{"error": "No existing customer to auto-fill from"})
	case errors.Is(err, domain.ErrSubmissionInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": "Submission already in progress"})
	default:
		logger.Error("Session request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

// Create handles POST /api/v1/sessions
func (h *SessionHandler) Create(c *gin.Context) {
	_, span, logger := startRequest(c)
	defer span.End()

	snap := h.sessions.Create()
	logger.Debug("Form session opened", zap.String("session_id", snap.ID))
	c.JSON(http.StatusCreated, snap)
}

// Get handles GET /api/v1/sessions/:id
func (h *SessionHandler) Get(c *gin.Context) {
	_, span, logger := startRequest(c)
	defer span.End()

	snap, err := h.sessions.Get(c.Param("id"))
	if err != nil {
		writeSessionError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// Delete handles DELETE /api/v1/sessions/:id
func (h *SessionHandler) Delete(c *gin.Context) {
	_, span, logger := startRequest(c)
	defer span.End()

	if err := h.sessions.Delete(c.Param("id")); err != nil {
		writeSessionError(c, logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// UpdateForm handles PATCH /api/v1/sessions/:id/form
func (h *SessionHandler) UpdateForm(c *gin.Context) {
	_, span, logger := startRequest(c)
	defer span.End()

	var patch domain.FormPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": sanitizeValidationError(err)})
		return
	}

	snap, err := h.sessions.Update(c.Param("id"), patch)
	if err != nil {
		writeSessionError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// Events handles GET /api/v1/sessions/:id/events as a server-sent event stream.
// The current state is sent first, then every transition until the client leaves
// or the session is closed.
func (h *SessionHandler) Events(c *gin.Context) {
	logger := middleware.GetLoggerFromGinContext(c)
	id := c.Param("id")

	events, unsubscribe, err := h.sessions.Subscribe(id)
	if err != nil {
		writeSessionError(c, logger, err)
		return
	}
	defer unsubscribe()

	snap, err := h.sessions.Get(id)
	if err != nil {
		writeSessionError(c, logger, err)
		return
	}

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.SSEvent("lookup", snap.Lookup)
	c.Writer.Flush()

	done := c.Request.Context().Done()
	c.Stream(func(io.Writer) bool {
		select {
		case ev, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent("lookup", ev)
			return true
		case <-done:
			return false
		}
	})
}

// AcceptAutofill handles POST /api/v1/sessions/:id/autofill
func (h *SessionHandler) AcceptAutofill(c *gin.Context) {
	_, span, logger := startRequest(c)
	defer span.End()

	snap, err := h.sessions.AcceptAutofill(c.Param("id"))
	if err != nil {
		writeSessionError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// DeclineAutofill handles DELETE /api/v1/sessions/:id/autofill
func (h *SessionHandler) DeclineAutofill(c *gin.Context) {
	_, span, logger := startRequest(c)
	defer span.End()

	snap, err := h.sessions.DeclineAutofill(c.Param("id"))
	if err != nil {
		writeSessionError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// Submit handles POST /api/v1/sessions/:id/submit
func (h *SessionHandler) Submit(c *gin.Context) {
	ctx, span, logger := startRequest(c)
	defer span.End()

	result, err := h.sessions.Submit(ctx, c.Param("id"))
	if err != nil {
		writeSessionError(c, logger, err)
		return
	}
	span.SetAttributes(attribute.Bool("registration.success", result.Success))
	c.JSON(statusFor(result), result)
}
