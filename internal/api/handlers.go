// Package api exposes the dataset and the pipeline over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"immopipe/internal/filter"
	"immopipe/internal/models"
	"immopipe/internal/pipeline"
	"immopipe/internal/store"
)

type Handler struct {
	store  *store.Store
	runner *pipeline.Runner
	logger *logrus.Logger
}

// propertyQuery carries either a raw filter expression or the structured
// parameters it is built from. A non-empty filter wins.
type propertyQuery struct {
	Filter    string   `form:"filter"`
	Cities    []string `form:"city"`
	MinPrice  *int     `form:"min_price"`
	MaxPrice  *int     `form:"max_price"`
	StartDate string   `form:"start_date"`
	EndDate   string   `form:"end_date"`
}

func (q propertyQuery) expression() string {
	if q.Filter != "" {
		return q.Filter
	}
	return filter.Conditions{
		Cities:    q.Cities,
		MinPrice:  q.MinPrice,
		MaxPrice:  q.MaxPrice,
		StartDate: q.StartDate,
		EndDate:   q.EndDate,
	}.Build()
}

func NewHandler(st *store.Store, runner *pipeline.Runner, logger *logrus.Logger) *Handler {
	if logger == nil {
		logger = logrus.New()
	}
	return &Handler{
		store:  st,
		runner: runner,
		logger: logger,
	}
}

func (h *Handler) GetProperties(c *gin.Context) {
	var q propertyQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid query parameters"})
		return
	}

	properties, err := h.store.Query(q.expression())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if properties == nil {
		properties = []models.PropertyRecord{}
	}
	c.JSON(http.StatusOK, properties)
}

func (h *Handler) DeleteProperties(c *gin.Context) {
	expr := c.Query("filter")
	if expr == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "filter parameter is required"})
		return
	}

	result, err := h.store.Delete(expr)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) GetSummary(c *gin.Context) {
	c.JSON(http.StatusOK, h.store.Summary())
}

func (h *Handler) GetStats(c *gin.Context) {
	var q propertyQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid query parameters"})
		return
	}

	properties, err := h.store.Query(q.expression())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, computeStats(properties))
}

// RunPipeline starts a full run in the background. The response only
// acknowledges the start; progress is visible via the status endpoint.
func (h *Handler) RunPipeline(c *gin.Context) {
	if h.runner.Status().Running {
		c.JSON(http.StatusConflict, gin.H{"error": pipeline.ErrRunActive.Error()})
		return
	}

	go func() {
		if _, err := h.runner.Run(context.Background()); err != nil && !errors.Is(err, pipeline.ErrRunActive) {
			h.logger.WithError(err).Error("Pipeline run failed")
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{"status": "started"})
}

func (h *Handler) PipelineStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.runner.Status())
}
