package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/cafeops/replenish/internal/domain"
	"github.com/cafeops/replenish/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const defaultForecastHorizonDays = 7

type EngineHandler struct {
	engine *service.Engine
}

func NewEngineHandler(engine *service.Engine) *EngineHandler {
	return &EngineHandler{engine: engine}
}

// GetForecast handles GET /api/v1/forecast/:item_id?horizon_days=N
func (h *EngineHandler) GetForecast(c *gin.Context) {
	itemID := c.Param("item_id")

	horizon, err := strconv.Atoi(c.DefaultQuery("horizon_days", strconv.Itoa(defaultForecastHorizonDays)))
	if err != nil || horizon <= 0 || horizon > 90 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "horizon_days must be between 1 and 90"})
		return
	}

	result, err := h.engine.GetForecast(c.Request.Context(), itemID, horizon)
	if err != nil {
		log.Error().Err(err).Str("item_id", itemID).Msg("forecast request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compute forecast"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"forecast": result})
}

// GetRecommendation handles GET /api/v1/recommendations/:item_id
//
// A forecast that breaks its own invariants withholds the recommendation;
// the client gets an explicit no-recommendation payload rather than a
// number we cannot stand behind.
func (h *EngineHandler) GetRecommendation(c *gin.Context) {
	itemID := c.Param("item_id")

	rec, err := h.engine.GetRecommendation(c.Request.Context(), itemID)
	if err != nil {
		var violation *domain.InvariantViolationError
		if errors.As(err, &violation) {
			c.JSON(http.StatusNotFound, gin.H{
				"recommendation": nil,
				"status":         "no_recommendation",
				"reason":         violation.Invariant,
			})
			return
		}
		log.Error().Err(err).Str("item_id", itemID).Msg("recommendation request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compute recommendation"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"recommendation": rec,
		"status":         "ok",
	})
}

// Reconcile handles POST /api/v1/reconcile/:item_id
func (h *EngineHandler) Reconcile(c *gin.Context) {
	itemID := c.Param("item_id")

	accuracy, err := h.engine.ReconcileNow(c.Request.Context(), itemID)
	if err != nil {
		log.Error().Err(err).Str("item_id", itemID).Msg("reconciliation failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to reconcile item"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"accuracy": accuracy})
}

// GetAccuracy handles GET /api/v1/accuracy/:item_id
func (h *EngineHandler) GetAccuracy(c *gin.Context) {
	itemID := c.Param("item_id")

	accuracy, err := h.engine.Accuracy(c.Request.Context(), itemID)
	if err != nil {
		log.Error().Err(err).Str("item_id", itemID).Msg("accuracy lookup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load accuracy"})
		return
	}
	if accuracy == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no reconciled forecasts for item"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"accuracy": accuracy})
}
