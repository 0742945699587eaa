package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/unitrack/attendance-api/internal/models"
	"github.com/unitrack/attendance-api/internal/repository"
	appErrors "github.com/unitrack/attendance-api/pkg/errors"
)

type sessionResolver interface {
	GetByToken(ctx context.Context, token string) (*models.AttendanceSession, error)
}

type attendanceRepository interface {
	Insert(ctx context.Context, record *models.AttendanceRecord) (*models.AttendanceRecord, error)
	Exists(ctx context.Context, userID, sessionID string) (bool, error)
	GetByID(ctx context.Context, id string) (*models.AttendanceRecord, error)
	List(ctx context.Context, filter models.AttendanceFilter) ([]models.AttendanceRecord, int, error)
	UpdateStatus(ctx context.Context, id string, status models.AttendanceStatus) (*models.AttendanceRecord, error)
	Delete(ctx context.Context, id string) (string, error)
	RecomputeSummary(ctx context.Context, userID string) (*models.AttendanceSummary, error)
	GetSummary(ctx context.Context, userID string) (*models.AttendanceSummary, error)
}

type cacheInvalidator interface {
	Invalidate(ctx context.Context, pattern string) error
}

type scanRecorder interface {
	RecordScan(outcome string)
}

const analyticsCachePattern = "analytics:*"

// AttendanceService validates scanned tokens and owns every write to
// attendance_records and attendance_summary.
type AttendanceService struct {
	sessions  sessionResolver
	records   attendanceRepository
	audit     auditWriter
	cache     cacheInvalidator
	metrics   scanRecorder
	validator *validator.Validate
	logger    *zap.Logger
	lateAfter time.Duration
}

// NewAttendanceService constructs the validator.
func NewAttendanceService(sessions sessionResolver, records attendanceRepository, audit auditWriter, cache cacheInvalidator, metrics scanRecorder, validate *validator.Validate, logger *zap.Logger, lateAfter time.Duration) *AttendanceService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if lateAfter <= 0 {
		lateAfter = 15 * time.Minute
	}
	return &AttendanceService{
		sessions:  sessions,
		records:   records,
		audit:     audit,
		cache:     cache,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		lateAfter: lateAfter,
	}
}

// ScanRequest is a student's attempt to mark attendance from a scanned token.
type ScanRequest struct {
	Token             string           `json:"token" validate:"required"`
	UserID            string           `json:"-"`
	Location          *models.Location `json:"location" validate:"omitempty"`
	DeviceFingerprint *string          `json:"device_fingerprint"`
	IP                string           `json:"-"`
	UserAgent         string           `json:"-"`
}

// ScanResult is returned on an accepted scan.
type ScanResult struct {
	Record  *models.AttendanceRecord  `json:"record"`
	Summary *models.AttendanceSummary `json:"summary"`
}

// Validate decides accept/reject for a scan. Checks run in a fixed order and
// each one short-circuits to its own error: token lookup, expiry, duplicate,
// geofence, then the constrained insert and a synchronous summary recompute.
func (s *AttendanceService) Validate(ctx context.Context, req ScanRequest) (*ScanResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid scan payload")
	}

	now := time.Now().UTC()

	session, err := s.sessions.GetByToken(ctx, req.Token)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, s.reject(ctx, req, nil, appErrors.ErrInvalidToken)
		}
		return nil, storeFailure(err, "failed to resolve token")
	}

	if session.Status == models.SessionStatusClosed {
		return nil, s.reject(ctx, req, session, appErrors.ErrTokenExpired)
	}
	if session.QRExpiresAt == nil || !now.Before(*session.QRExpiresAt) {
		return nil, s.reject(ctx, req, session, appErrors.ErrTokenExpired)
	}

	// Pre-read so a duplicate scan reports DUPLICATE_ATTENDANCE ahead of any
	// geofence complaint. The uniqueness constraint behind Insert is what
	// actually serialises concurrent scans; this read is only for ordering.
	exists, err := s.records.Exists(ctx, req.UserID, session.ID)
	if err != nil {
		return nil, storeFailure(err, "failed to check existing record")
	}
	if exists {
		return nil, s.reject(ctx, req, session, appErrors.ErrDuplicateAttendance)
	}

	geofenceVerified := false
	if session.LocationRequired {
		if req.Location == nil || session.LocationLat == nil || session.LocationLng == nil || session.LocationRadiusM == nil {
			return nil, s.reject(ctx, req, session, appErrors.ErrGeofenceViolation)
		}
		distance := haversineMeters(*session.LocationLat, *session.LocationLng, req.Location.Latitude, req.Location.Longitude)
		if distance > *session.LocationRadiusM {
			// Policy: out-of-geofence scans are rejected outright and leave
			// no attendance row; the attempt lands in the audit trail only.
			return nil, s.reject(ctx, req, session, appErrors.Clone(appErrors.ErrGeofenceViolation, "scan location outside the allowed radius"))
		}
		geofenceVerified = true
	}

	status := models.AttendanceStatusPresent
	if now.After(session.ScheduledStart.Add(s.lateAfter)) {
		status = models.AttendanceStatusLate
	}

	record := &models.AttendanceRecord{
		UserID:            req.UserID,
		SessionID:         session.ID,
		SubjectID:         session.SubjectID,
		Status:            status,
		MarkedAt:          now,
		DeviceFingerprint: req.DeviceFingerprint,
		GeofenceVerified:  geofenceVerified,
	}
	if req.Location != nil {
		record.Latitude = &req.Location.Latitude
		record.Longitude = &req.Location.Longitude
	}

	stored, err := s.records.Insert(ctx, record)
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateRecord) {
			// Lost the race to a concurrent scan for the same pair.
			return nil, s.reject(ctx, req, session, appErrors.ErrDuplicateAttendance)
		}
		return nil, storeFailure(err, "failed to record attendance")
	}

	summary, err := s.records.RecomputeSummary(ctx, req.UserID)
	if err != nil {
		return nil, storeFailure(err, "failed to recompute summary")
	}

	if s.metrics != nil {
		s.metrics.RecordScan("accepted")
	}
	writeAudit(ctx, s.audit, s.logger, &models.AuditLog{
		UserID:     &req.UserID,
		Action:     models.AuditActionAttendanceMark,
		Resource:   "attendance_record",
		ResourceID: &stored.ID,
		IPAddress:  req.IP,
		UserAgent:  req.UserAgent,
	}, map[string]interface{}{"session_id": session.ID, "status": stored.Status, "marked_at": stored.MarkedAt})

	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, analyticsCachePattern); err != nil {
			s.logger.Warn("analytics cache invalidation failed", zap.Error(err))
		}
	}

	return &ScanResult{Record: stored, Summary: summary}, nil
}

// reject audit-logs the failed attempt and passes the protocol error through.
func (s *AttendanceService) reject(ctx context.Context, req ScanRequest, session *models.AttendanceSession, cause *appErrors.Error) error {
	if s.metrics != nil {
		s.metrics.RecordScan(cause.Code)
	}
	var resourceID *string
	payload := map[string]interface{}{"reason": cause.Code}
	if session != nil {
		resourceID = &session.ID
		payload["session_id"] = session.ID
	}
	writeAudit(ctx, s.audit, s.logger, &models.AuditLog{
		UserID:     &req.UserID,
		Action:     models.AuditActionAttendanceReject,
		Resource:   "attendance_record",
		ResourceID: resourceID,
		IPAddress:  req.IP,
		UserAgent:  req.UserAgent,
	}, payload)
	return cause
}

// UserAttendance bundles a user's records with their summary.
type UserAttendance struct {
	Records []models.AttendanceRecord `json:"records"`
	Summary *models.AttendanceSummary `json:"summary"`
}

// ListForUser returns a user's records plus their summary. A missing summary
// row is recomputed on the fly, as is any request that bypasses the cached
// row.
func (s *AttendanceService) ListForUser(ctx context.Context, userID string, from, to *time.Time, refresh bool) (*UserAttendance, *models.Pagination, error) {
	if userID == "" {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "user id required")
	}
	filter := models.AttendanceFilter{UserID: userID, DateFrom: from, DateTo: to, Page: 1, PageSize: 200}
	records, total, err := s.records.List(ctx, filter)
	if err != nil {
		return nil, nil, storeFailure(err, "failed to list attendance")
	}

	var summary *models.AttendanceSummary
	if refresh {
		summary, err = s.records.RecomputeSummary(ctx, userID)
	} else {
		summary, err = s.records.GetSummary(ctx, userID)
		if err != nil && errors.Is(err, sql.ErrNoRows) {
			summary, err = s.records.RecomputeSummary(ctx, userID)
		}
	}
	if err != nil {
		return nil, nil, storeFailure(err, "failed to load summary")
	}

	pagination := &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}
	return &UserAttendance{Records: records, Summary: summary}, pagination, nil
}

// OverrideRequest is an admin correction to a stored record.
type OverrideRequest struct {
	RecordID string `json:"-"`
	AdminID  string `json:"-"`
	Status   string `json:"status" validate:"required"`
}

// Override applies an authorized correction and recomputes the owner's
// summary from source.
func (s *AttendanceService) Override(ctx context.Context, req OverrideRequest) (*models.AttendanceRecord, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid override payload")
	}
	status := models.AttendanceStatus(req.Status)
	if !status.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "status must be present, late or absent")
	}

	record, err := s.records.GetByID(ctx, req.RecordID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "attendance record not found")
		}
		return nil, storeFailure(err, "failed to load record")
	}

	updated, err := s.records.UpdateStatus(ctx, req.RecordID, status)
	if err != nil {
		return nil, storeFailure(err, "failed to update record")
	}
	if _, err := s.records.RecomputeSummary(ctx, updated.UserID); err != nil {
		return nil, storeFailure(err, "failed to recompute summary")
	}

	writeAudit(ctx, s.audit, s.logger, &models.AuditLog{
		UserID:     &req.AdminID,
		Action:     models.AuditActionRecordOverride,
		Resource:   "attendance_record",
		ResourceID: &updated.ID,
	}, map[string]interface{}{"from": record.Status, "to": updated.Status})

	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, analyticsCachePattern); err != nil {
			s.logger.Warn("analytics cache invalidation failed", zap.Error(err))
		}
	}
	return updated, nil
}

// Delete removes a record by admin action and recomputes the owner's summary.
func (s *AttendanceService) Delete(ctx context.Context, recordID, adminID string) error {
	userID, err := s.records.Delete(ctx, recordID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "attendance record not found")
		}
		return storeFailure(err, "failed to delete record")
	}
	if _, err := s.records.RecomputeSummary(ctx, userID); err != nil {
		return storeFailure(err, "failed to recompute summary")
	}

	writeAudit(ctx, s.audit, s.logger, &models.AuditLog{
		UserID:     &adminID,
		Action:     models.AuditActionRecordDelete,
		Resource:   "attendance_record",
		ResourceID: &recordID,
	}, map[string]interface{}{"owner": userID})

	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, analyticsCachePattern); err != nil {
			s.logger.Warn("analytics cache invalidation failed", zap.Error(err))
		}
	}
	return nil
}
