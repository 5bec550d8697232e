package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/execledger/execledger/internal/domain/metadata"
	"github.com/execledger/execledger/internal/publisher/app/service"
	"github.com/execledger/execledger/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
)

// ReadinessCheck reports whether a dependency can serve requests
type ReadinessCheck func(ctx context.Context) error

type PublisherHandlers struct {
	service *service.Publisher
	checks  map[string]ReadinessCheck
	logger  logger.Logger
}

func NewPublisherHandlers(svc *service.Publisher, checks map[string]ReadinessCheck, logger logger.Logger) *PublisherHandlers {
	return &PublisherHandlers{
		service: svc,
		checks:  checks,
		logger:  logger,
	}
}

type RegisterExecutionRequest struct {
	ExecutionType  *metadata.ExecutionType   `json:"executionType" binding:"required"`
	Contexts       []*metadata.Context       `json:"contexts"`
	InputArtifacts metadata.ArtifactMultiMap `json:"inputArtifacts"`
	ExecProperties map[string]interface{}    `json:"execProperties"`
	LastKnownState metadata.ExecutionState   `json:"lastKnownState"`
}

type PublishSucceededRequest struct {
	Contexts        []*metadata.Context       `json:"contexts"`
	OutputArtifacts metadata.ArtifactMultiMap `json:"outputArtifacts"`
	ExecutorOutput  *metadata.ExecutorOutput  `json:"executorOutput"`
	Task            *metadata.NodeTask        `json:"task"`
}

type PublishFailedRequest struct {
	Contexts       []*metadata.Context      `json:"contexts"`
	ExecutorOutput *metadata.ExecutorOutput `json:"executorOutput"`
}

type PublishInternalRequest struct {
	Contexts        []*metadata.Context       `json:"contexts"`
	OutputArtifacts metadata.ArtifactMultiMap `json:"outputArtifacts"`
}

type PublishCachedRequest struct {
	Contexts            []*metadata.Context         `json:"contexts"`
	Executions          []*metadata.Execution       `json:"executions" binding:"required"`
	OutputArtifactsMaps []metadata.ArtifactMultiMap `json:"outputArtifactsMaps"`
}

// RegisterRoutes mounts the execution endpoints under r
func (h *PublisherHandlers) RegisterRoutes(r gin.IRouter) {
	executions := r.Group("/executions")
	{
		executions.POST("", h.RegisterExecution)
		executions.POST("/cached", h.PublishCached)
		executions.GET("/:id", h.GetExecution)
		executions.POST("/:id/succeeded", h.PublishSucceeded)
		executions.POST("/:id/failed", h.PublishFailed)
		executions.POST("/:id/internal", h.PublishInternal)
	}
}

func (h *PublisherHandlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (h *PublisherHandlers) Ready(c *gin.Context) {
	for name, check := range h.checks {
		if err := check(c.Request.Context()); err != nil {
			h.logger.Warn("Readiness check failed", "dependency", name, "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "dependency": name})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (h *PublisherHandlers) RegisterExecution(c *gin.Context) {
	var req RegisterExecutionRequest
	if err := bindJSON(c, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	execution, err := h.service.RegisterExecution(c.Request.Context(), service.RegisterExecutionRequest{
		ExecutionType:  req.ExecutionType,
		Contexts:       req.Contexts,
		InputArtifacts: req.InputArtifacts,
		ExecProperties: req.ExecProperties,
		LastKnownState: req.LastKnownState,
	})
	if err != nil {
		h.respondError(c, "Failed to register execution", err)
		return
	}

	c.JSON(http.StatusCreated, execution)
}

func (h *PublisherHandlers) GetExecution(c *gin.Context) {
	id, ok := executionID(c)
	if !ok {
		return
	}

	execution, err := h.service.GetExecution(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, "Failed to get execution", err)
		return
	}

	c.JSON(http.StatusOK, execution)
}

func (h *PublisherHandlers) PublishSucceeded(c *gin.Context) {
	id, ok := executionID(c)
	if !ok {
		return
	}

	var req PublishSucceededRequest
	if err := bindJSON(c, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	published, execution, err := h.service.PublishSucceededExecution(
		c.Request.Context(), id, req.Contexts, req.OutputArtifacts, req.ExecutorOutput, req.Task)
	if err != nil {
		h.respondError(c, "Failed to publish succeeded execution", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"execution":          execution,
		"publishedArtifacts": published,
	})
}

func (h *PublisherHandlers) PublishFailed(c *gin.Context) {
	id, ok := executionID(c)
	if !ok {
		return
	}

	var req PublishFailedRequest
	if err := bindJSON(c, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	execution, err := h.service.PublishFailedExecution(c.Request.Context(), req.Contexts, id, req.ExecutorOutput)
	if err != nil {
		h.respondError(c, "Failed to publish failed execution", err)
		return
	}

	c.JSON(http.StatusOK, execution)
}

func (h *PublisherHandlers) PublishInternal(c *gin.Context) {
	id, ok := executionID(c)
	if !ok {
		return
	}

	var req PublishInternalRequest
	if err := bindJSON(c, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.service.PublishInternalExecution(c.Request.Context(), req.Contexts, id, req.OutputArtifacts); err != nil {
		h.respondError(c, "Failed to publish internal execution", err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *PublisherHandlers) PublishCached(c *gin.Context) {
	var req PublishCachedRequest
	if err := bindJSON(c, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := h.service.PublishCachedExecutions(c.Request.Context(), req.Contexts, req.Executions, req.OutputArtifactsMaps)
	if err != nil {
		h.respondError(c, "Failed to publish cached executions", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"executions": req.Executions})
}

func (h *PublisherHandlers) respondError(c *gin.Context, msg string, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(msg, "error", err)
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// StatusFor maps publisher errors onto HTTP status codes
func StatusFor(err error) int {
	switch {
	case errors.Is(err, metadata.ErrMerge):
		return http.StatusUnprocessableEntity
	case errors.Is(err, metadata.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, metadata.ErrDuplicateRegistration), errors.Is(err, metadata.ErrAlreadyTerminal):
		return http.StatusConflict
	case errors.Is(err, service.ErrExecutionTypeRequired), errors.Is(err, service.ErrInvalidRequest):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func executionID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid execution id"})
		return 0, false
	}
	return id, true
}

// bindJSON decodes the body keeping integral numbers as json.Number so
// exec properties like {"epochs": 10} stay INT values.
func bindJSON(c *gin.Context, obj interface{}) error {
	dec := json.NewDecoder(c.Request.Body)
	dec.UseNumber()
	if err := dec.Decode(obj); err != nil {
		return err
	}
	return binding.Validator.ValidateStruct(obj)
}
