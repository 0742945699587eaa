package service

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/unitrack/attendance-api/internal/models"
	appErrors "github.com/unitrack/attendance-api/pkg/errors"
)

type stubSessionRepo struct {
	sessions map[string]*models.AttendanceSession
}

func newStubSessionRepo(sessions ...*models.AttendanceSession) *stubSessionRepo {
	repo := &stubSessionRepo{sessions: make(map[string]*models.AttendanceSession)}
	for _, s := range sessions {
		repo.sessions[s.ID] = s
	}
	return repo
}

func (r *stubSessionRepo) Create(_ context.Context, session *models.AttendanceSession) (*models.AttendanceSession, error) {
	if session.ID == "" {
		session.ID = "sess-1"
	}
	session.Status = models.SessionStatusScheduled
	r.sessions[session.ID] = session
	return session, nil
}

func (r *stubSessionRepo) GetByID(_ context.Context, id string) (*models.AttendanceSession, error) {
	session, ok := r.sessions[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return session, nil
}

func (r *stubSessionRepo) List(_ context.Context, _ models.SessionFilter) ([]models.AttendanceSession, int, error) {
	var rows []models.AttendanceSession
	for _, s := range r.sessions {
		rows = append(rows, *s)
	}
	return rows, len(rows), nil
}

func (r *stubSessionRepo) SetQRToken(_ context.Context, sessionID, token string, issuedAt, expiresAt time.Time, geofence *models.Geofence) (*models.AttendanceSession, error) {
	session, ok := r.sessions[sessionID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	session.QRToken = &token
	session.QRIssuedAt = &issuedAt
	session.QRExpiresAt = &expiresAt
	session.Status = models.SessionStatusActive
	if geofence != nil {
		session.LocationRequired = true
		session.LocationLat = &geofence.Latitude
		session.LocationLng = &geofence.Longitude
		session.LocationRadiusM = &geofence.RadiusM
	}
	return session, nil
}

func (r *stubSessionRepo) Close(_ context.Context, sessionID string) (*models.AttendanceSession, error) {
	session, ok := r.sessions[sessionID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	session.Status = models.SessionStatusClosed
	return session, nil
}

func scheduledSession(id, facultyID string) *models.AttendanceSession {
	return &models.AttendanceSession{
		ID:             id,
		SubjectID:      "subj-1",
		SubjectName:    "Distributed Systems",
		FacultyID:      facultyID,
		ScheduledStart: time.Now().UTC().Add(time.Hour),
		Status:         models.SessionStatusScheduled,
	}
}

func TestIssueTokenMintsAndActivates(t *testing.T) {
	repo := newStubSessionRepo(scheduledSession("sess-1", "fac-1"))
	svc := NewSessionService(repo, &stubAudit{}, nil, zap.NewNop(), 30*time.Minute)

	before := time.Now().UTC()
	result, err := svc.IssueToken(context.Background(), IssueTokenRequest{SessionID: "sess-1", FacultyID: "fac-1"})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(result.Token, "sess-1."))
	assert.Len(t, strings.Split(result.Token, "."), 3)
	assert.WithinDuration(t, before.Add(30*time.Minute), result.ExpiresAt, 5*time.Second)
	assert.Equal(t, models.SessionStatusActive, repo.sessions["sess-1"].Status)
}

func TestIssueTokenCustomExpiryAndGeofence(t *testing.T) {
	repo := newStubSessionRepo(scheduledSession("sess-1", "fac-1"))
	svc := NewSessionService(repo, &stubAudit{}, nil, zap.NewNop(), 30*time.Minute)

	result, err := svc.IssueToken(context.Background(), IssueTokenRequest{
		SessionID:     "sess-1",
		FacultyID:     "fac-1",
		ExpiryMinutes: 5,
		Geofence:      &models.Geofence{Latitude: 12.9716, Longitude: 77.5946, RadiusM: 50},
	})
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().UTC().Add(5*time.Minute), result.ExpiresAt, 5*time.Second)
	assert.True(t, repo.sessions["sess-1"].LocationRequired)
}

func TestIssueTokenReissueReplacesToken(t *testing.T) {
	repo := newStubSessionRepo(scheduledSession("sess-1", "fac-1"))
	audit := &stubAudit{}
	svc := NewSessionService(repo, audit, nil, zap.NewNop(), 30*time.Minute)
	ctx := context.Background()

	first, err := svc.IssueToken(ctx, IssueTokenRequest{SessionID: "sess-1", FacultyID: "fac-1"})
	require.NoError(t, err)
	second, err := svc.IssueToken(ctx, IssueTokenRequest{SessionID: "sess-1", FacultyID: "fac-1"})
	require.NoError(t, err)

	assert.NotEqual(t, first.Token, second.Token)
	// Only the latest token remains resolvable through the session row.
	require.NotNil(t, repo.sessions["sess-1"].QRToken)
	assert.Equal(t, second.Token, *repo.sessions["sess-1"].QRToken)
	assert.Equal(t, models.AuditActionQRIssue, audit.lastAction())
}

func TestIssueTokenHidesForeignSessions(t *testing.T) {
	repo := newStubSessionRepo(scheduledSession("sess-1", "fac-1"))
	svc := NewSessionService(repo, &stubAudit{}, nil, zap.NewNop(), 30*time.Minute)

	// Wrong owner and missing session collapse into the same answer.
	_, err := svc.IssueToken(context.Background(), IssueTokenRequest{SessionID: "sess-1", FacultyID: "fac-2"})
	require.Error(t, err)
	assert.Equal(t, "NOT_FOUND_OR_FORBIDDEN", appErrors.FromError(err).Code)

	_, err = svc.IssueToken(context.Background(), IssueTokenRequest{SessionID: "missing", FacultyID: "fac-1"})
	require.Error(t, err)
	assert.Equal(t, "NOT_FOUND_OR_FORBIDDEN", appErrors.FromError(err).Code)
}

func TestIssueTokenRejectsClosedSession(t *testing.T) {
	session := scheduledSession("sess-1", "fac-1")
	session.Status = models.SessionStatusClosed
	repo := newStubSessionRepo(session)
	svc := NewSessionService(repo, &stubAudit{}, nil, zap.NewNop(), 30*time.Minute)

	_, err := svc.IssueToken(context.Background(), IssueTokenRequest{SessionID: "sess-1", FacultyID: "fac-1"})
	require.Error(t, err)
	assert.Equal(t, "SESSION_CLOSED", appErrors.FromError(err).Code)
}

func TestCloseRequiresOwnership(t *testing.T) {
	repo := newStubSessionRepo(scheduledSession("sess-1", "fac-1"))
	svc := NewSessionService(repo, &stubAudit{}, nil, zap.NewNop(), 30*time.Minute)

	_, err := svc.Close(context.Background(), "sess-1", "fac-2")
	require.Error(t, err)
	assert.Equal(t, "NOT_FOUND_OR_FORBIDDEN", appErrors.FromError(err).Code)

	closed, err := svc.Close(context.Background(), "sess-1", "fac-1")
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusClosed, closed.Status)
}

func TestMintTokenUniquePerIssue(t *testing.T) {
	issuedAt := time.Now().UTC()
	first, err := mintToken("sess-1", issuedAt)
	require.NoError(t, err)
	second, err := mintToken("sess-1", issuedAt)
	require.NoError(t, err)
	// Even with an identical timestamp the random suffix keeps tokens distinct.
	assert.NotEqual(t, first, second)
}
