package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/unitrack/attendance-api/internal/models"
	"github.com/unitrack/attendance-api/internal/service"
	appErrors "github.com/unitrack/attendance-api/pkg/errors"
	"github.com/unitrack/attendance-api/pkg/response"
)

type attendanceService interface {
	Validate(ctx context.Context, req service.ScanRequest) (*service.ScanResult, error)
	ListForUser(ctx context.Context, userID string, from, to *time.Time, refresh bool) (*service.UserAttendance, *models.Pagination, error)
	Override(ctx context.Context, req service.OverrideRequest) (*models.AttendanceRecord, error)
	Delete(ctx context.Context, recordID, adminID string) error
}

// AttendanceHandler exposes scan validation and record management endpoints.
type AttendanceHandler struct {
	service attendanceService
}

// NewAttendanceHandler constructs the handler.
func NewAttendanceHandler(service attendanceService) *AttendanceHandler {
	return &AttendanceHandler{service: service}
}

// Scan godoc
// @Summary Submit a scanned QR token to mark attendance
// @Tags Attendance
// @Accept json
// @Produce json
// @Param payload body service.ScanRequest true "Scan payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 410 {object} response.Envelope
// @Router /attendance [post]
func (h *AttendanceHandler) Scan(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req service.ScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid request body"))
		return
	}
	req.UserID = claims.UserID
	req.IP = c.ClientIP()
	req.UserAgent = c.Request.UserAgent()

	result, err := h.service.Validate(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// List godoc
// @Summary List a user's attendance records with their summary
// @Tags Attendance
// @Produce json
// @Param userId query string false "User ID (admins and faculty only)"
// @Param dateFrom query string false "From date (YYYY-MM-DD)"
// @Param dateTo query string false "To date (YYYY-MM-DD)"
// @Param refresh query bool false "Recompute the summary from records"
// @Success 200 {object} response.Envelope
// @Router /attendance [get]
func (h *AttendanceHandler) List(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	userID := c.Query("userId")
	if userID == "" {
		userID = claims.UserID
	}
	// Students can only read their own records.
	if claims.Role == models.RoleStudent && userID != claims.UserID {
		response.Error(c, appErrors.ErrForbidden)
		return
	}

	from, err := parseDateParam(c.Query("dateFrom"))
	if err != nil {
		response.Error(c, err)
		return
	}
	to, err := parseDateParam(c.Query("dateTo"))
	if err != nil {
		response.Error(c, err)
		return
	}
	refresh := c.Query("refresh") == "true"

	result, pagination, err := h.service.ListForUser(c.Request.Context(), userID, from, to, refresh)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, pagination)
}

// Override godoc
// @Summary Correct a stored attendance record
// @Tags Attendance
// @Accept json
// @Produce json
// @Param id path string true "Record ID"
// @Param payload body service.OverrideRequest true "New status"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /attendance/{id} [patch]
func (h *AttendanceHandler) Override(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req service.OverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid request body"))
		return
	}
	req.RecordID = c.Param("id")
	req.AdminID = claims.UserID

	record, err := h.service.Override(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, record, nil)
}

// Delete godoc
// @Summary Remove an attendance record
// @Tags Attendance
// @Produce json
// @Param id path string true "Record ID"
// @Success 204 "No Content"
// @Failure 404 {object} response.Envelope
// @Router /attendance/{id} [delete]
func (h *AttendanceHandler) Delete(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	if err := h.service.Delete(c.Request.Context(), c.Param("id"), claims.UserID); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
