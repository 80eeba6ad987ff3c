package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/acadly/remedial-api/internal/middleware"
	"github.com/acadly/remedial-api/internal/service"
	appErrors "github.com/acadly/remedial-api/pkg/errors"
	"github.com/acadly/remedial-api/pkg/response"
)

// AttendanceHandler wires HTTP endpoints to the attendance service.
type AttendanceHandler struct {
	service *service.AttendanceService
}

// NewAttendanceHandler creates a new handler.
func NewAttendanceHandler(svc *service.AttendanceService) *AttendanceHandler {
	return &AttendanceHandler{service: svc}
}

// Redeem godoc
// @Summary Redeem attendance code
// @Description Mark the calling student present using the session's active code
// @Tags Attendance
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body service.RedeemRequest true "Redemption payload"
// @Success 201 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /attendance/redeem [post]
func (h *AttendanceHandler) Redeem(c *gin.Context) {
	claims, ok := middleware.CurrentUser(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req service.RedeemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid redemption payload"))
		return
	}

	record, err := h.service.Redeem(c.Request.Context(), claims.UserID, c.ClientIP(), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, record)
}

// MarkManual godoc
// @Summary Manually mark attendance
// @Description Faculty record a student who attended without redeeming the code
// @Tags Attendance
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Session ID"
// @Param payload body service.MarkManualRequest true "Manual marking payload"
// @Success 201 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /sessions/{id}/attendance [post]
func (h *AttendanceHandler) MarkManual(c *gin.Context) {
	claims, ok := middleware.CurrentUser(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req service.MarkManualRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid manual marking payload"))
		return
	}

	record, err := h.service.MarkManual(c.Request.Context(), claims.UserID, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, record)
}

// Mine godoc
// @Summary My attendance history
// @Description List the calling student's attendance records
// @Tags Attendance
// @Produce json
// @Security BearerAuth
// @Param course_id query string false "Filter by course"
// @Success 200 {object} response.Envelope
// @Router /attendance/mine [get]
func (h *AttendanceHandler) Mine(c *gin.Context) {
	claims, ok := middleware.CurrentUser(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	records, err := h.service.ListMine(c.Request.Context(), claims.UserID, c.Query("course_id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, records, nil)
}
