package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/unitrack/attendance-api/internal/models"
)

// SessionRepository handles persistence for attendance sessions.
type SessionRepository struct {
	db *sqlx.DB
}

// NewSessionRepository constructs the repository.
func NewSessionRepository(db *sqlx.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

const sessionColumns = `id, subject_id, subject_name, faculty_id, scheduled_start, status,
qr_token, qr_issued_at, qr_expires_at,
location_required, location_lat, location_lng, location_radius_m,
created_at, updated_at`

// Create inserts a new session in the scheduled state.
func (r *SessionRepository) Create(ctx context.Context, session *models.AttendanceSession) (*models.AttendanceSession, error) {
	now := time.Now().UTC()
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	if session.Status == "" {
		session.Status = models.SessionStatusScheduled
	}
	session.CreatedAt = now
	session.UpdatedAt = now

	query := fmt.Sprintf(`INSERT INTO attendance_sessions (id, subject_id, subject_name, faculty_id, scheduled_start, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING %s`, sessionColumns)
	var stored models.AttendanceSession
	if err := r.db.GetContext(ctx, &stored, query,
		session.ID, session.SubjectID, session.SubjectName, session.FacultyID,
		session.ScheduledStart, session.Status, session.CreatedAt, session.UpdatedAt); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return &stored, nil
}

// GetByID returns a session by its identifier.
func (r *SessionRepository) GetByID(ctx context.Context, id string) (*models.AttendanceSession, error) {
	query := fmt.Sprintf("SELECT %s FROM attendance_sessions WHERE id = $1", sessionColumns)
	var session models.AttendanceSession
	if err := r.db.GetContext(ctx, &session, query, id); err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &session, nil
}

// GetByToken resolves the session whose current stored token equals the
// provided value. Superseded tokens are unreachable here because reissuing
// overwrites the column.
func (r *SessionRepository) GetByToken(ctx context.Context, token string) (*models.AttendanceSession, error) {
	query := fmt.Sprintf("SELECT %s FROM attendance_sessions WHERE qr_token = $1", sessionColumns)
	var session models.AttendanceSession
	if err := r.db.GetContext(ctx, &session, query, token); err != nil {
		return nil, fmt.Errorf("get session by token: %w", err)
	}
	return &session, nil
}

// List returns sessions matching the provided filter.
func (r *SessionRepository) List(ctx context.Context, filter models.SessionFilter) ([]models.AttendanceSession, int, error) {
	where := []string{"1=1"}
	args := []interface{}{}
	if filter.FacultyID != "" {
		where = append(where, fmt.Sprintf("faculty_id = $%d", len(args)+1))
		args = append(args, filter.FacultyID)
	}
	if filter.SubjectID != "" {
		where = append(where, fmt.Sprintf("subject_id = $%d", len(args)+1))
		args = append(args, filter.SubjectID)
	}
	if filter.Status != nil && filter.Status.Valid() {
		where = append(where, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, *filter.Status)
	}
	if filter.DateFrom != nil {
		where = append(where, fmt.Sprintf("scheduled_start >= $%d", len(args)+1))
		args = append(args, *filter.DateFrom)
	}
	if filter.DateTo != nil {
		where = append(where, fmt.Sprintf("scheduled_start <= $%d", len(args)+1))
		args = append(args, *filter.DateTo)
	}
	whereClause := strings.Join(where, " AND ")

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 200 {
		size = 50
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT %s FROM attendance_sessions WHERE %s
ORDER BY scheduled_start DESC LIMIT %d OFFSET %d`, sessionColumns, whereClause, size, offset)
	var rows []models.AttendanceSession
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list sessions: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM attendance_sessions WHERE %s", whereClause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count sessions: %w", err)
	}
	return rows, total, nil
}

// SetQRToken overwrites the session's token, expiry, and geofence fields and
// moves the session to active. Issuance races (faculty double-clicking
// generate) are last-write-wins: after this update the previous token value no
// longer matches any row.
func (r *SessionRepository) SetQRToken(ctx context.Context, sessionID, token string, issuedAt, expiresAt time.Time, geofence *models.Geofence) (*models.AttendanceSession, error) {
	var lat, lng, radius *float64
	required := false
	if geofence != nil {
		required = true
		lat = &geofence.Latitude
		lng = &geofence.Longitude
		radius = &geofence.RadiusM
	}

	query := fmt.Sprintf(`UPDATE attendance_sessions
SET qr_token = $2, qr_issued_at = $3, qr_expires_at = $4, status = $5,
    location_required = $6, location_lat = $7, location_lng = $8, location_radius_m = $9,
    updated_at = $10
WHERE id = $1
RETURNING %s`, sessionColumns)
	var stored models.AttendanceSession
	if err := r.db.GetContext(ctx, &stored, query,
		sessionID, token, issuedAt, expiresAt, models.SessionStatusActive,
		required, lat, lng, radius, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("set qr token: %w", err)
	}
	return &stored, nil
}

// Close transitions the session to closed.
func (r *SessionRepository) Close(ctx context.Context, sessionID string) (*models.AttendanceSession, error) {
	query := fmt.Sprintf(`UPDATE attendance_sessions SET status = $2, updated_at = $3 WHERE id = $1 RETURNING %s`, sessionColumns)
	var stored models.AttendanceSession
	if err := r.db.GetContext(ctx, &stored, query, sessionID, models.SessionStatusClosed, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("close session: %w", err)
	}
	return &stored, nil
}
