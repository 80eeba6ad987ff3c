package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/acadly/remedial-api/internal/middleware"
	"github.com/acadly/remedial-api/internal/service"
	appErrors "github.com/acadly/remedial-api/pkg/errors"
	"github.com/acadly/remedial-api/pkg/response"
)

// InsightHandler wires HTTP endpoints to the insight service.
type InsightHandler struct {
	service *service.InsightService
}

// NewInsightHandler creates a new handler.
func NewInsightHandler(svc *service.InsightService) *InsightHandler {
	return &InsightHandler{service: svc}
}

// Prediction godoc
// @Summary Predict turnout
// @Description Heuristic attendance estimate for a prospective session slot
// @Tags Insights
// @Produce json
// @Security BearerAuth
// @Param id path string true "Course ID"
// @Param date query string true "Slot date (YYYY-MM-DD)"
// @Param start_time query string true "Slot start time (HH:MM)"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /courses/{id}/insights/prediction [get]
func (h *InsightHandler) Prediction(c *gin.Context) {
	claims, ok := middleware.CurrentUser(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	prediction, err := h.service.PredictTurnout(c.Request.Context(), claims.UserID, c.Param("id"), c.Query("date"), c.Query("start_time"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, prediction, nil)
}

// Slots godoc
// @Summary Recommend session slots
// @Description Best-scoring weekday slots over the next two weeks
// @Tags Insights
// @Produce json
// @Security BearerAuth
// @Param id path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /courses/{id}/insights/slots [get]
func (h *InsightHandler) Slots(c *gin.Context) {
	claims, ok := middleware.CurrentUser(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	slots, err := h.service.RecommendSlots(c.Request.Context(), claims.UserID, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, slots, nil)
}

// Patterns godoc
// @Summary Analyze attendance patterns
// @Description Best day, trend and turnout warnings from completed sessions
// @Tags Insights
// @Produce json
// @Security BearerAuth
// @Param id path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /courses/{id}/insights/patterns [get]
func (h *InsightHandler) Patterns(c *gin.Context) {
	claims, ok := middleware.CurrentUser(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	analysis, err := h.service.AnalyzePatterns(c.Request.Context(), claims.UserID, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, analysis, nil)
}
