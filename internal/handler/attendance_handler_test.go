package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/unitrack/attendance-api/internal/middleware"
	"github.com/unitrack/attendance-api/internal/models"
	"github.com/unitrack/attendance-api/internal/service"
	appErrors "github.com/unitrack/attendance-api/pkg/errors"
)

type attendanceServiceMock struct {
	scanErr error
}

func (m *attendanceServiceMock) Validate(_ context.Context, req service.ScanRequest) (*service.ScanResult, error) {
	if m.scanErr != nil {
		return nil, m.scanErr
	}
	return &service.ScanResult{
		Record:  &models.AttendanceRecord{ID: "rec-1", UserID: req.UserID, Status: models.AttendanceStatusPresent},
		Summary: &models.AttendanceSummary{UserID: req.UserID, TotalClasses: 1, PresentCount: 1, Percentage: 100},
	}, nil
}

func (m *attendanceServiceMock) ListForUser(_ context.Context, userID string, _, _ *time.Time, _ bool) (*service.UserAttendance, *models.Pagination, error) {
	return &service.UserAttendance{Summary: &models.AttendanceSummary{UserID: userID}}, &models.Pagination{Page: 1, PageSize: 50}, nil
}

func (m *attendanceServiceMock) Override(_ context.Context, req service.OverrideRequest) (*models.AttendanceRecord, error) {
	return &models.AttendanceRecord{ID: req.RecordID, Status: models.AttendanceStatus(req.Status)}, nil
}

func (m *attendanceServiceMock) Delete(_ context.Context, _, _ string) error {
	return nil
}

func scanContext(t *testing.T, w *httptest.ResponseRecorder, body string, claims *models.JWTClaims) *gin.Context {
	t.Helper()
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(w)
	req, err := http.NewRequest(http.MethodPost, "/attendance", strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	if claims != nil {
		c.Set(middleware.ContextUserKey, claims)
	}
	return c
}

func TestScanHandlerAccepted(t *testing.T) {
	handler := NewAttendanceHandler(&attendanceServiceMock{})
	w := httptest.NewRecorder()
	c := scanContext(t, w, `{"token":"sess-1.123.abc"}`, &models.JWTClaims{UserID: "stu-1", Role: models.RoleStudent})

	handler.Scan(c)
	require.Equal(t, http.StatusCreated, w.Code)
}

func TestScanHandlerStatusMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"invalid token", appErrors.ErrInvalidToken, http.StatusNotFound},
		{"expired token", appErrors.ErrTokenExpired, http.StatusGone},
		{"duplicate attendance", appErrors.ErrDuplicateAttendance, http.StatusBadRequest},
		{"geofence violation", appErrors.ErrGeofenceViolation, http.StatusBadRequest},
		{"store unavailable", appErrors.ErrStoreUnavailable, http.StatusServiceUnavailable},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			handler := NewAttendanceHandler(&attendanceServiceMock{scanErr: tc.err})
			w := httptest.NewRecorder()
			c := scanContext(t, w, `{"token":"sess-1.123.abc"}`, &models.JWTClaims{UserID: "stu-1", Role: models.RoleStudent})

			handler.Scan(c)
			require.Equal(t, tc.wantStatus, w.Code)
		})
	}
}

func TestScanHandlerRequiresClaims(t *testing.T) {
	handler := NewAttendanceHandler(&attendanceServiceMock{})
	w := httptest.NewRecorder()
	c := scanContext(t, w, `{"token":"sess-1.123.abc"}`, nil)

	handler.Scan(c)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestListHandlerStudentCannotReadOthers(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewAttendanceHandler(&attendanceServiceMock{})
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodGet, "/attendance?userId=stu-2", nil)
	c.Request = req
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "stu-1", Role: models.RoleStudent})

	handler.List(c)
	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestListHandlerDefaultsToSelf(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewAttendanceHandler(&attendanceServiceMock{})
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodGet, "/attendance", nil)
	c.Request = req
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "stu-1", Role: models.RoleStudent})

	handler.List(c)
	require.Equal(t, http.StatusOK, w.Code)
}
