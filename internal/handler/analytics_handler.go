package handler

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/unitrack/attendance-api/internal/models"
	"github.com/unitrack/attendance-api/internal/service"
	appErrors "github.com/unitrack/attendance-api/pkg/errors"
	"github.com/unitrack/attendance-api/pkg/response"
)

type analyticsService interface {
	Cohort(ctx context.Context, filter models.CohortFilter, threshold float64, bypass bool) (*models.CohortReport, bool, error)
	Summarize(ctx context.Context, userID string) (*models.AttendanceSummary, error)
	Threshold() float64
}

type exportService interface {
	Export(ctx context.Context, filter models.CohortFilter, format service.ExportFormat) (*service.ExportResult, error)
}

// AnalyticsHandler exposes cohort statistics and report export endpoints.
type AnalyticsHandler struct {
	analytics analyticsService
	exports   exportService
}

// NewAnalyticsHandler constructs the handler.
func NewAnalyticsHandler(analytics analyticsService, exports exportService) *AnalyticsHandler {
	return &AnalyticsHandler{analytics: analytics, exports: exports}
}

func cohortFilterFromQuery(c *gin.Context) (models.CohortFilter, error) {
	filter := models.CohortFilter{
		Department: c.Query("department"),
		SubjectID:  c.Query("subjectId"),
	}
	if raw := c.Query("semester"); raw != "" {
		semester := parseQueryInt(c, "semester", 0)
		if semester <= 0 {
			return filter, appErrors.Clone(appErrors.ErrValidation, "invalid semester")
		}
		filter.Semester = &semester
	}
	from, err := parseDateParam(c.Query("dateFrom"))
	if err != nil {
		return filter, err
	}
	to, err := parseDateParam(c.Query("dateTo"))
	if err != nil {
		return filter, err
	}
	filter.DateFrom = from
	filter.DateTo = to
	return filter, nil
}

// Cohort godoc
// @Summary Cohort attendance statistics with shortage list
// @Tags Analytics
// @Produce json
// @Param department query string false "Department"
// @Param semester query int false "Semester"
// @Param subjectId query string false "Subject ID"
// @Param dateFrom query string false "From date (YYYY-MM-DD)"
// @Param dateTo query string false "To date (YYYY-MM-DD)"
// @Param threshold query number false "Shortage threshold percentage"
// @Param refresh query bool false "Bypass the cached report"
// @Success 200 {object} response.Envelope
// @Router /analytics/attendance [get]
func (h *AnalyticsHandler) Cohort(c *gin.Context) {
	filter, err := cohortFilterFromQuery(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	threshold := parseQueryFloat(c, "threshold", h.analytics.Threshold())
	bypass := c.Query("refresh") == "true"

	start := time.Now()
	report, cacheHit, err := h.analytics.Cohort(c.Request.Context(), filter, threshold, bypass)
	if err != nil {
		response.Error(c, err)
		return
	}
	meta := map[string]interface{}{
		"cache_hit":          cacheHit,
		"processing_time_ms": time.Since(start).Milliseconds(),
	}
	response.JSON(c, http.StatusOK, report, nil, meta)
}

// Summary godoc
// @Summary On-demand per-user summary computed from records
// @Tags Analytics
// @Produce json
// @Param id path string true "User ID"
// @Success 200 {object} response.Envelope
// @Router /analytics/attendance/users/{id} [get]
func (h *AnalyticsHandler) Summary(c *gin.Context) {
	summary, err := h.analytics.Summarize(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, summary, nil)
}

// Export godoc
// @Summary Export the cohort attendance report
// @Tags Analytics
// @Produce text/csv
// @Produce application/pdf
// @Param department query string false "Department"
// @Param semester query int false "Semester"
// @Param subjectId query string false "Subject ID"
// @Param dateFrom query string false "From date (YYYY-MM-DD)"
// @Param dateTo query string false "To date (YYYY-MM-DD)"
// @Param format query string false "Export format (csv or pdf)" default(csv)
// @Success 200 {file} file
// @Router /analytics/attendance/export [get]
func (h *AnalyticsHandler) Export(c *gin.Context) {
	filter, err := cohortFilterFromQuery(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	format := service.ExportFormat(c.DefaultQuery("format", string(service.FormatCSV)))

	result, err := h.exports.Export(c.Request.Context(), filter, format)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	c.Data(http.StatusOK, result.ContentType, result.Content)
}
