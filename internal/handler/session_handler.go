package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/unitrack/attendance-api/internal/models"
	"github.com/unitrack/attendance-api/internal/service"
	appErrors "github.com/unitrack/attendance-api/pkg/errors"
	"github.com/unitrack/attendance-api/pkg/response"
)

type sessionService interface {
	Create(ctx context.Context, req service.CreateSessionRequest) (*models.AttendanceSession, error)
	Get(ctx context.Context, id string) (*models.AttendanceSession, error)
	List(ctx context.Context, filter models.SessionFilter) ([]models.AttendanceSession, *models.Pagination, error)
	IssueToken(ctx context.Context, req service.IssueTokenRequest) (*service.IssueTokenResponse, error)
	Close(ctx context.Context, sessionID, facultyID string) (*models.AttendanceSession, error)
}

// SessionHandler exposes session lifecycle and QR issuance endpoints.
type SessionHandler struct {
	service sessionService
}

// NewSessionHandler constructs the handler.
func NewSessionHandler(service sessionService) *SessionHandler {
	return &SessionHandler{service: service}
}

// Create godoc
// @Summary Schedule an attendance session
// @Tags Sessions
// @Accept json
// @Produce json
// @Param payload body service.CreateSessionRequest true "Session details"
// @Success 201 {object} response.Envelope
// @Router /sessions [post]
func (h *SessionHandler) Create(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req service.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid request body"))
		return
	}
	req.FacultyID = claims.UserID

	session, err := h.service.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, session)
}

// List godoc
// @Summary List attendance sessions
// @Tags Sessions
// @Produce json
// @Param subjectId query string false "Subject ID"
// @Param status query string false "Session status (scheduled/active/closed)"
// @Param dateFrom query string false "From date (YYYY-MM-DD)"
// @Param dateTo query string false "To date (YYYY-MM-DD)"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /sessions [get]
func (h *SessionHandler) List(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	filter := models.SessionFilter{
		SubjectID: c.Query("subjectId"),
		Page:      parseQueryInt(c, "page", 1),
		PageSize:  parseQueryInt(c, "limit", 50),
	}
	// Faculty only see their own sessions; admins see everything.
	if claims.Role == models.RoleFaculty {
		filter.FacultyID = claims.UserID
	}
	if raw := c.Query("status"); raw != "" {
		status := models.SessionStatus(raw)
		if !status.Valid() {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid session status"))
			return
		}
		filter.Status = &status
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
	filter.DateFrom = from
	filter.DateTo = to

	sessions, pagination, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, sessions, pagination)
}

// Get godoc
// @Summary Fetch a single session
// @Tags Sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /sessions/{id} [get]
func (h *SessionHandler) Get(c *gin.Context) {
	session, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, session, nil)
}

// IssueQR godoc
// @Summary Issue or reissue the session QR token
// @Tags Sessions
// @Accept json
// @Produce json
// @Param id path string true "Session ID"
// @Param payload body service.IssueTokenRequest false "Issuance options"
// @Success 201 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /sessions/{id}/qr [post]
func (h *SessionHandler) IssueQR(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req service.IssueTokenRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid request body"))
			return
		}
	}
	req.SessionID = c.Param("id")
	req.FacultyID = claims.UserID
	req.IP = c.ClientIP()
	req.UserAgent = c.Request.UserAgent()

	result, err := h.service.IssueToken(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// Close godoc
// @Summary Close a session
// @Tags Sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /sessions/{id}/close [post]
func (h *SessionHandler) Close(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	session, err := h.service.Close(c.Request.Context(), c.Param("id"), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, session, nil)
}
