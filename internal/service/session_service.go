package service

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/unitrack/attendance-api/internal/models"
	appErrors "github.com/unitrack/attendance-api/pkg/errors"
)

type sessionRepository interface {
	Create(ctx context.Context, session *models.AttendanceSession) (*models.AttendanceSession, error)
	GetByID(ctx context.Context, id string) (*models.AttendanceSession, error)
	List(ctx context.Context, filter models.SessionFilter) ([]models.AttendanceSession, int, error)
	SetQRToken(ctx context.Context, sessionID, token string, issuedAt, expiresAt time.Time, geofence *models.Geofence) (*models.AttendanceSession, error)
	Close(ctx context.Context, sessionID string) (*models.AttendanceSession, error)
}

// SessionService owns the session lifecycle and QR token issuance.
type SessionService struct {
	repo          sessionRepository
	audit         auditWriter
	validator     *validator.Validate
	logger        *zap.Logger
	defaultExpiry time.Duration
}

// NewSessionService constructs the session service.
func NewSessionService(repo sessionRepository, audit auditWriter, validate *validator.Validate, logger *zap.Logger, defaultExpiry time.Duration) *SessionService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if defaultExpiry <= 0 {
		defaultExpiry = 30 * time.Minute
	}
	return &SessionService{repo: repo, audit: audit, validator: validate, logger: logger, defaultExpiry: defaultExpiry}
}

// CreateSessionRequest describes the payload for scheduling a class instance.
type CreateSessionRequest struct {
	SubjectID      string    `json:"subject_id" validate:"required"`
	SubjectName    string    `json:"subject_name" validate:"required"`
	FacultyID      string    `json:"-"`
	ScheduledStart time.Time `json:"scheduled_start" validate:"required"`
}

// IssueTokenRequest describes the QR issuance payload.
type IssueTokenRequest struct {
	SessionID     string           `json:"-"`
	FacultyID     string           `json:"faculty_id" validate:"required"`
	ExpiryMinutes int              `json:"expiry_minutes" validate:"omitempty,gt=0,lte=1440"`
	Geofence      *models.Geofence `json:"geofence" validate:"omitempty"`
	IP            string           `json:"-"`
	UserAgent     string           `json:"-"`
}

// IssueTokenResponse carries the minted token back to the faculty client.
type IssueTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Create schedules a new attendance session owned by the requesting faculty.
func (s *SessionService) Create(ctx context.Context, req CreateSessionRequest) (*models.AttendanceSession, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid session payload")
	}
	session := &models.AttendanceSession{
		SubjectID:      req.SubjectID,
		SubjectName:    req.SubjectName,
		FacultyID:      req.FacultyID,
		ScheduledStart: req.ScheduledStart.UTC(),
	}
	stored, err := s.repo.Create(ctx, session)
	if err != nil {
		return nil, storeFailure(err, "failed to create session")
	}
	writeAudit(ctx, s.audit, s.logger, &models.AuditLog{
		UserID:     &req.FacultyID,
		Action:     models.AuditActionSessionCreate,
		Resource:   "attendance_session",
		ResourceID: &stored.ID,
	}, map[string]interface{}{"subject_id": stored.SubjectID, "scheduled_start": stored.ScheduledStart})
	return stored, nil
}

// Get returns a single session.
func (s *SessionService) Get(ctx context.Context, id string) (*models.AttendanceSession, error) {
	session, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "session not found")
		}
		return nil, storeFailure(err, "failed to load session")
	}
	return session, nil
}

// List returns sessions matching the filter.
func (s *SessionService) List(ctx context.Context, filter models.SessionFilter) ([]models.AttendanceSession, *models.Pagination, error) {
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 50
	}
	filter.Page = page
	filter.PageSize = size
	rows, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, storeFailure(err, "failed to list sessions")
	}
	return rows, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// IssueToken mints a fresh QR token for the session and persists it together
// with its expiry and optional geofence. Reissuing invalidates the previous
// token: validation only ever compares against the session's current stored
// value.
func (s *SessionService) IssueToken(ctx context.Context, req IssueTokenRequest) (*IssueTokenResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid issuance payload")
	}

	session, err := s.repo.GetByID(ctx, req.SessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFoundOrForbidden
		}
		return nil, storeFailure(err, "failed to load session")
	}
	// Ownership and existence collapse into one answer so the API does not
	// reveal which session ids exist.
	if session.FacultyID != req.FacultyID {
		return nil, appErrors.ErrNotFoundOrForbidden
	}
	if session.Status == models.SessionStatusClosed {
		return nil, appErrors.ErrSessionClosed
	}

	expiry := s.defaultExpiry
	if req.ExpiryMinutes > 0 {
		expiry = time.Duration(req.ExpiryMinutes) * time.Minute
	}

	issuedAt := time.Now().UTC()
	token, err := mintToken(session.ID, issuedAt)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mint token")
	}
	expiresAt := issuedAt.Add(expiry)

	stored, err := s.repo.SetQRToken(ctx, session.ID, token, issuedAt, expiresAt, req.Geofence)
	if err != nil {
		return nil, storeFailure(err, "failed to store token")
	}

	writeAudit(ctx, s.audit, s.logger, &models.AuditLog{
		UserID:     &req.FacultyID,
		Action:     models.AuditActionQRIssue,
		Resource:   "attendance_session",
		ResourceID: &stored.ID,
		IPAddress:  req.IP,
		UserAgent:  req.UserAgent,
	}, map[string]interface{}{
		"issued_at":        issuedAt,
		"expires_at":       expiresAt,
		"geofence":         req.Geofence,
		"previous_revoked": session.QRToken != nil,
	})

	return &IssueTokenResponse{Token: token, ExpiresAt: expiresAt}, nil
}

// Close ends the session explicitly. Scans against its token fail afterwards
// regardless of the stored expiry.
func (s *SessionService) Close(ctx context.Context, sessionID, facultyID string) (*models.AttendanceSession, error) {
	session, err := s.repo.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFoundOrForbidden
		}
		return nil, storeFailure(err, "failed to load session")
	}
	if session.FacultyID != facultyID {
		return nil, appErrors.ErrNotFoundOrForbidden
	}

	stored, err := s.repo.Close(ctx, sessionID)
	if err != nil {
		return nil, storeFailure(err, "failed to close session")
	}
	writeAudit(ctx, s.audit, s.logger, &models.AuditLog{
		UserID:     &facultyID,
		Action:     models.AuditActionSessionClose,
		Resource:   "attendance_session",
		ResourceID: &stored.ID,
	}, nil)
	return stored, nil
}

// mintToken concatenates the session id, a nanosecond issue timestamp, and a
// crypto-random suffix. Tokens stay unique even when reissued for the same
// session within the same clock tick, and the suffix keeps them unguessable.
func mintToken(sessionID string, issuedAt time.Time) (string, error) {
	buf := make([]byte, 18)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("token entropy: %w", err)
	}
	return fmt.Sprintf("%s.%d.%s", sessionID, issuedAt.UnixNano(), base64.RawURLEncoding.EncodeToString(buf)), nil
}

// storeFailure maps infrastructure errors to the retriable-by-caller store
// taxonomy. Domain outcomes never pass through here.
func storeFailure(err error, message string) error {
	return appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, message)
}
