package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/unitrack/attendance-api/internal/models"
	"github.com/unitrack/attendance-api/internal/repository"
	appErrors "github.com/unitrack/attendance-api/pkg/errors"
)

type stubAudit struct {
	entries []*models.AuditLog
}

func (s *stubAudit) Create(_ context.Context, entry *models.AuditLog) error {
	s.entries = append(s.entries, entry)
	return nil
}

func (s *stubAudit) lastAction() string {
	if len(s.entries) == 0 {
		return ""
	}
	return s.entries[len(s.entries)-1].Action
}

type stubSessions struct {
	byToken map[string]*models.AttendanceSession
}

func (s *stubSessions) GetByToken(_ context.Context, token string) (*models.AttendanceSession, error) {
	session, ok := s.byToken[token]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return session, nil
}

type stubRecords struct {
	existing   map[string]bool
	insertErr  error
	inserted   []*models.AttendanceRecord
	recomputed []string
	summary    *models.AttendanceSummary
}

func pairKey(userID, sessionID string) string { return userID + "/" + sessionID }

func (s *stubRecords) Insert(_ context.Context, record *models.AttendanceRecord) (*models.AttendanceRecord, error) {
	if s.insertErr != nil {
		return nil, s.insertErr
	}
	if s.existing[pairKey(record.UserID, record.SessionID)] {
		return nil, repository.ErrDuplicateRecord
	}
	record.ID = "rec-1"
	s.inserted = append(s.inserted, record)
	if s.existing == nil {
		s.existing = make(map[string]bool)
	}
	s.existing[pairKey(record.UserID, record.SessionID)] = true
	return record, nil
}

func (s *stubRecords) Exists(_ context.Context, userID, sessionID string) (bool, error) {
	return s.existing[pairKey(userID, sessionID)], nil
}

func (s *stubRecords) GetByID(_ context.Context, id string) (*models.AttendanceRecord, error) {
	for _, record := range s.inserted {
		if record.ID == id {
			return record, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s *stubRecords) List(_ context.Context, filter models.AttendanceFilter) ([]models.AttendanceRecord, int, error) {
	var rows []models.AttendanceRecord
	for _, record := range s.inserted {
		if filter.UserID == "" || record.UserID == filter.UserID {
			rows = append(rows, *record)
		}
	}
	return rows, len(rows), nil
}

func (s *stubRecords) UpdateStatus(_ context.Context, id string, status models.AttendanceStatus) (*models.AttendanceRecord, error) {
	record, err := s.GetByID(context.Background(), id)
	if err != nil {
		return nil, err
	}
	record.Status = status
	return record, nil
}

func (s *stubRecords) Delete(_ context.Context, id string) (string, error) {
	for i, record := range s.inserted {
		if record.ID == id {
			s.inserted = append(s.inserted[:i], s.inserted[i+1:]...)
			return record.UserID, nil
		}
	}
	return "", sql.ErrNoRows
}

func (s *stubRecords) RecomputeSummary(_ context.Context, userID string) (*models.AttendanceSummary, error) {
	s.recomputed = append(s.recomputed, userID)
	total, present, late := 0, 0, 0
	for _, record := range s.inserted {
		if record.UserID != userID {
			continue
		}
		total++
		switch record.Status {
		case models.AttendanceStatusPresent:
			present++
		case models.AttendanceStatusLate:
			late++
		}
	}
	percentage := 0.0
	if total > 0 {
		percentage = float64(present) / float64(total) * 100
	}
	s.summary = &models.AttendanceSummary{
		UserID:       userID,
		TotalClasses: total,
		PresentCount: present,
		LateCount:    late,
		AbsentCount:  total - present - late,
		Percentage:   percentage,
		UpdatedAt:    time.Now().UTC(),
	}
	return s.summary, nil
}

func (s *stubRecords) GetSummary(_ context.Context, userID string) (*models.AttendanceSummary, error) {
	if s.summary == nil || s.summary.UserID != userID {
		return nil, sql.ErrNoRows
	}
	return s.summary, nil
}

type stubScanMetrics struct {
	outcomes []string
}

func (s *stubScanMetrics) RecordScan(outcome string) {
	s.outcomes = append(s.outcomes, outcome)
}

func liveSession(token string) *models.AttendanceSession {
	issued := time.Now().UTC().Add(-time.Minute)
	expires := issued.Add(30 * time.Minute)
	return &models.AttendanceSession{
		ID:             "sess-1",
		SubjectID:      "subj-1",
		FacultyID:      "fac-1",
		ScheduledStart: time.Now().UTC().Add(-5 * time.Minute),
		Status:         models.SessionStatusActive,
		QRToken:        &token,
		QRIssuedAt:     &issued,
		QRExpiresAt:    &expires,
	}
}

func newAttendanceService(sessions *stubSessions, records *stubRecords, audit *stubAudit, metrics *stubScanMetrics) *AttendanceService {
	return NewAttendanceService(sessions, records, audit, nil, metrics, nil, zap.NewNop(), 15*time.Minute)
}

func TestValidateAcceptsFreshScan(t *testing.T) {
	session := liveSession("tok-1")
	sessions := &stubSessions{byToken: map[string]*models.AttendanceSession{"tok-1": session}}
	records := &stubRecords{}
	audit := &stubAudit{}
	metrics := &stubScanMetrics{}
	svc := newAttendanceService(sessions, records, audit, metrics)

	result, err := svc.Validate(context.Background(), ScanRequest{Token: "tok-1", UserID: "stu-1"})
	require.NoError(t, err)
	assert.Equal(t, models.AttendanceStatusPresent, result.Record.Status)
	require.NotNil(t, result.Summary)
	assert.Equal(t, 1, result.Summary.TotalClasses)
	assert.Equal(t, []string{"stu-1"}, records.recomputed)
	assert.Equal(t, models.AuditActionAttendanceMark, audit.lastAction())
	assert.Equal(t, []string{"accepted"}, metrics.outcomes)
}

func TestValidateMarksLateAfterWindow(t *testing.T) {
	session := liveSession("tok-1")
	session.ScheduledStart = time.Now().UTC().Add(-20 * time.Minute)
	sessions := &stubSessions{byToken: map[string]*models.AttendanceSession{"tok-1": session}}
	records := &stubRecords{}
	svc := newAttendanceService(sessions, records, &stubAudit{}, &stubScanMetrics{})

	result, err := svc.Validate(context.Background(), ScanRequest{Token: "tok-1", UserID: "stu-1"})
	require.NoError(t, err)
	assert.Equal(t, models.AttendanceStatusLate, result.Record.Status)
}

func TestValidateRejectsUnknownToken(t *testing.T) {
	sessions := &stubSessions{byToken: map[string]*models.AttendanceSession{}}
	records := &stubRecords{}
	audit := &stubAudit{}
	metrics := &stubScanMetrics{}
	svc := newAttendanceService(sessions, records, audit, metrics)

	_, err := svc.Validate(context.Background(), ScanRequest{Token: "stale", UserID: "stu-1"})
	require.Error(t, err)
	assert.Equal(t, "INVALID_TOKEN", appErrors.FromError(err).Code)
	assert.Empty(t, records.inserted)
	assert.Equal(t, models.AuditActionAttendanceReject, audit.lastAction())
	assert.Equal(t, []string{"INVALID_TOKEN"}, metrics.outcomes)
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	session := liveSession("tok-1")
	expired := time.Now().UTC().Add(-time.Second)
	session.QRExpiresAt = &expired
	sessions := &stubSessions{byToken: map[string]*models.AttendanceSession{"tok-1": session}}
	svc := newAttendanceService(sessions, &stubRecords{}, &stubAudit{}, &stubScanMetrics{})

	_, err := svc.Validate(context.Background(), ScanRequest{Token: "tok-1", UserID: "stu-1"})
	require.Error(t, err)
	assert.Equal(t, "TOKEN_EXPIRED", appErrors.FromError(err).Code)
}

func TestValidateRejectsClosedSession(t *testing.T) {
	session := liveSession("tok-1")
	session.Status = models.SessionStatusClosed
	sessions := &stubSessions{byToken: map[string]*models.AttendanceSession{"tok-1": session}}
	svc := newAttendanceService(sessions, &stubRecords{}, &stubAudit{}, &stubScanMetrics{})

	_, err := svc.Validate(context.Background(), ScanRequest{Token: "tok-1", UserID: "stu-1"})
	require.Error(t, err)
	assert.Equal(t, "TOKEN_EXPIRED", appErrors.FromError(err).Code)
}

func TestValidateDuplicateBeatsGeofence(t *testing.T) {
	// A student who already holds a record gets DUPLICATE_ATTENDANCE even when
	// their reported location would also fail the geofence.
	session := liveSession("tok-1")
	session.LocationRequired = true
	lat, lng, radius := 12.9716, 77.5946, 50.0
	session.LocationLat, session.LocationLng, session.LocationRadiusM = &lat, &lng, &radius
	sessions := &stubSessions{byToken: map[string]*models.AttendanceSession{"tok-1": session}}
	records := &stubRecords{existing: map[string]bool{pairKey("stu-1", "sess-1"): true}}
	svc := newAttendanceService(sessions, records, &stubAudit{}, &stubScanMetrics{})

	_, err := svc.Validate(context.Background(), ScanRequest{
		Token:    "tok-1",
		UserID:   "stu-1",
		Location: &models.Location{Latitude: 13.0, Longitude: 78.0},
	})
	require.Error(t, err)
	assert.Equal(t, "DUPLICATE_ATTENDANCE", appErrors.FromError(err).Code)
}

func TestValidateDuplicateInsertRace(t *testing.T) {
	session := liveSession("tok-1")
	sessions := &stubSessions{byToken: map[string]*models.AttendanceSession{"tok-1": session}}
	records := &stubRecords{insertErr: repository.ErrDuplicateRecord}
	svc := newAttendanceService(sessions, records, &stubAudit{}, &stubScanMetrics{})

	_, err := svc.Validate(context.Background(), ScanRequest{Token: "tok-1", UserID: "stu-1"})
	require.Error(t, err)
	assert.Equal(t, "DUPLICATE_ATTENDANCE", appErrors.FromError(err).Code)
}

func TestValidateGeofence(t *testing.T) {
	lat, lng, radius := 12.9716, 77.5946, 50.0

	tests := []struct {
		name     string
		location *models.Location
		wantCode string
	}{
		{
			// 0.0002 degrees of latitude is roughly 22 meters.
			name:     "inside radius",
			location: &models.Location{Latitude: 12.9718, Longitude: 77.5946},
		},
		{
			// 0.0008 degrees is roughly 89 meters, outside the 50m radius.
			name:     "outside radius",
			location: &models.Location{Latitude: 12.9724, Longitude: 77.5946},
			wantCode: "GEOFENCE_VIOLATION",
		},
		{
			name:     "missing location",
			location: nil,
			wantCode: "GEOFENCE_VIOLATION",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			session := liveSession("tok-1")
			session.LocationRequired = true
			session.LocationLat, session.LocationLng, session.LocationRadiusM = &lat, &lng, &radius
			sessions := &stubSessions{byToken: map[string]*models.AttendanceSession{"tok-1": session}}
			records := &stubRecords{}
			audit := &stubAudit{}
			svc := newAttendanceService(sessions, records, audit, &stubScanMetrics{})

			result, err := svc.Validate(context.Background(), ScanRequest{Token: "tok-1", UserID: "stu-1", Location: tc.location})
			if tc.wantCode == "" {
				require.NoError(t, err)
				assert.True(t, result.Record.GeofenceVerified)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tc.wantCode, appErrors.FromError(err).Code)
			// Rejections leave no attendance row, only an audit entry.
			assert.Empty(t, records.inserted)
			assert.Equal(t, models.AuditActionAttendanceReject, audit.lastAction())
		})
	}
}

func TestListForUserRecomputesMissingSummary(t *testing.T) {
	records := &stubRecords{}
	svc := newAttendanceService(&stubSessions{}, records, &stubAudit{}, &stubScanMetrics{})

	result, _, err := svc.ListForUser(context.Background(), "stu-1", nil, nil, false)
	require.NoError(t, err)
	require.NotNil(t, result.Summary)
	assert.Equal(t, []string{"stu-1"}, records.recomputed)
}

func TestOverrideRecomputesOwnerSummary(t *testing.T) {
	session := liveSession("tok-1")
	sessions := &stubSessions{byToken: map[string]*models.AttendanceSession{"tok-1": session}}
	records := &stubRecords{}
	audit := &stubAudit{}
	svc := newAttendanceService(sessions, records, audit, &stubScanMetrics{})

	_, err := svc.Validate(context.Background(), ScanRequest{Token: "tok-1", UserID: "stu-1"})
	require.NoError(t, err)

	updated, err := svc.Override(context.Background(), OverrideRequest{RecordID: "rec-1", AdminID: "adm-1", Status: "absent"})
	require.NoError(t, err)
	assert.Equal(t, models.AttendanceStatusAbsent, updated.Status)
	assert.Equal(t, []string{"stu-1", "stu-1"}, records.recomputed)
	assert.Equal(t, models.AuditActionRecordOverride, audit.lastAction())
}

func TestOverrideRejectsUnknownStatus(t *testing.T) {
	svc := newAttendanceService(&stubSessions{}, &stubRecords{}, &stubAudit{}, &stubScanMetrics{})

	_, err := svc.Override(context.Background(), OverrideRequest{RecordID: "rec-1", AdminID: "adm-1", Status: "excused"})
	require.Error(t, err)
	assert.Equal(t, "VALIDATION_ERROR", appErrors.FromError(err).Code)
}

func TestDeleteRecomputesOwnerSummary(t *testing.T) {
	session := liveSession("tok-1")
	sessions := &stubSessions{byToken: map[string]*models.AttendanceSession{"tok-1": session}}
	records := &stubRecords{}
	svc := newAttendanceService(sessions, records, &stubAudit{}, &stubScanMetrics{})

	_, err := svc.Validate(context.Background(), ScanRequest{Token: "tok-1", UserID: "stu-1"})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(context.Background(), "rec-1", "adm-1"))
	assert.Equal(t, []string{"stu-1", "stu-1"}, records.recomputed)
	assert.Equal(t, 0, records.summary.TotalClasses)
}
