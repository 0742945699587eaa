package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/unitrack/attendance-api/internal/models"
)

// ErrDuplicateRecord signals the (user_id, session_id) uniqueness constraint
// rejected an insert. The constraint, not a pre-read, is what makes concurrent
// scans race safely.
var ErrDuplicateRecord = errors.New("attendance record already exists")

// AttendanceRepository handles persistence for attendance records and the
// derived per-user summary.
type AttendanceRepository struct {
	db *sqlx.DB
}

// NewAttendanceRepository constructs the repository.
func NewAttendanceRepository(db *sqlx.DB) *AttendanceRepository {
	return &AttendanceRepository{db: db}
}

const recordColumns = `id, user_id, session_id, subject_id, status, marked_at,
latitude, longitude, device_fingerprint, geofence_verified, created_at, updated_at`

// Insert writes a new attendance record. The insert is constrained: under
// concurrent scans for the same user and session exactly one succeeds and the
// others observe ErrDuplicateRecord.
func (r *AttendanceRepository) Insert(ctx context.Context, record *models.AttendanceRecord) (*models.AttendanceRecord, error) {
	now := time.Now().UTC()
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	record.CreatedAt = now
	record.UpdatedAt = now

	query := fmt.Sprintf(`INSERT INTO attendance_records (id, user_id, session_id, subject_id, status, marked_at, latitude, longitude, device_fingerprint, geofence_verified, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (user_id, session_id) DO NOTHING
RETURNING %s`, recordColumns)
	var stored models.AttendanceRecord
	err := r.db.GetContext(ctx, &stored, query,
		record.ID, record.UserID, record.SessionID, record.SubjectID, record.Status,
		record.MarkedAt, record.Latitude, record.Longitude, record.DeviceFingerprint,
		record.GeofenceVerified, record.CreatedAt, record.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDuplicateRecord
		}
		return nil, fmt.Errorf("insert attendance record: %w", err)
	}
	return &stored, nil
}

// Exists reports whether a record already exists for the pair. Callers use it
// to short-circuit with a precise error; correctness still rests on Insert's
// constraint.
func (r *AttendanceRepository) Exists(ctx context.Context, userID, sessionID string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM attendance_records WHERE user_id = $1 AND session_id = $2)`
	if err := r.db.GetContext(ctx, &exists, query, userID, sessionID); err != nil {
		return false, fmt.Errorf("check attendance record: %w", err)
	}
	return exists, nil
}

// GetByID returns a record by its identifier.
func (r *AttendanceRepository) GetByID(ctx context.Context, id string) (*models.AttendanceRecord, error) {
	query := fmt.Sprintf("SELECT %s FROM attendance_records WHERE id = $1", recordColumns)
	var record models.AttendanceRecord
	if err := r.db.GetContext(ctx, &record, query, id); err != nil {
		return nil, fmt.Errorf("get attendance record: %w", err)
	}
	return &record, nil
}

// List returns records matching the provided filter.
func (r *AttendanceRepository) List(ctx context.Context, filter models.AttendanceFilter) ([]models.AttendanceRecord, int, error) {
	where := []string{"1=1"}
	args := []interface{}{}
	if filter.UserID != "" {
		where = append(where, fmt.Sprintf("user_id = $%d", len(args)+1))
		args = append(args, filter.UserID)
	}
	if filter.SessionID != "" {
		where = append(where, fmt.Sprintf("session_id = $%d", len(args)+1))
		args = append(args, filter.SessionID)
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
		where = append(where, fmt.Sprintf("marked_at >= $%d", len(args)+1))
		args = append(args, *filter.DateFrom)
	}
	if filter.DateTo != nil {
		where = append(where, fmt.Sprintf("marked_at <= $%d", len(args)+1))
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

	query := fmt.Sprintf(`SELECT %s FROM attendance_records WHERE %s
ORDER BY marked_at DESC LIMIT %d OFFSET %d`, recordColumns, whereClause, size, offset)
	var rows []models.AttendanceRecord
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list attendance records: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM attendance_records WHERE %s", whereClause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count attendance records: %w", err)
	}
	return rows, total, nil
}

// UpdateStatus applies an authorized correction to a record's status.
func (r *AttendanceRepository) UpdateStatus(ctx context.Context, id string, status models.AttendanceStatus) (*models.AttendanceRecord, error) {
	query := fmt.Sprintf(`UPDATE attendance_records SET status = $2, updated_at = $3 WHERE id = $1 RETURNING %s`, recordColumns)
	var stored models.AttendanceRecord
	if err := r.db.GetContext(ctx, &stored, query, id, status, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("update attendance record: %w", err)
	}
	return &stored, nil
}

// Delete removes a record and returns the owning user id so the caller can
// recompute that user's summary.
func (r *AttendanceRepository) Delete(ctx context.Context, id string) (string, error) {
	var userID string
	query := `DELETE FROM attendance_records WHERE id = $1 RETURNING user_id`
	if err := r.db.GetContext(ctx, &userID, query, id); err != nil {
		return "", fmt.Errorf("delete attendance record: %w", err)
	}
	return userID, nil
}

// RecomputeSummary rebuilds the user's summary row from the full current
// record set. Deriving from source rather than incrementing counters keeps the
// summary a pure function of stored records even after corrections or deletes.
func (r *AttendanceRepository) RecomputeSummary(ctx context.Context, userID string) (*models.AttendanceSummary, error) {
	query := `INSERT INTO attendance_summary (user_id, total_classes, present_count, late_count, absent_count, percentage, updated_at)
SELECT $1,
       COUNT(*),
       COUNT(*) FILTER (WHERE status = 'present'),
       COUNT(*) FILTER (WHERE status = 'late'),
       COUNT(*) FILTER (WHERE status = 'absent'),
       CASE WHEN COUNT(*) = 0 THEN 0
            ELSE ROUND(COUNT(*) FILTER (WHERE status = 'present') * 100.0 / COUNT(*))
       END,
       $2
FROM attendance_records WHERE user_id = $1
ON CONFLICT (user_id) DO UPDATE SET
    total_classes = EXCLUDED.total_classes,
    present_count = EXCLUDED.present_count,
    late_count = EXCLUDED.late_count,
    absent_count = EXCLUDED.absent_count,
    percentage = EXCLUDED.percentage,
    updated_at = EXCLUDED.updated_at
RETURNING user_id, total_classes, present_count, late_count, absent_count, percentage, updated_at`
	var summary models.AttendanceSummary
	if err := r.db.GetContext(ctx, &summary, query, userID, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("recompute attendance summary: %w", err)
	}
	return &summary, nil
}

// GetSummary returns the stored summary row for a user.
func (r *AttendanceRepository) GetSummary(ctx context.Context, userID string) (*models.AttendanceSummary, error) {
	query := `SELECT user_id, total_classes, present_count, late_count, absent_count, percentage, updated_at
FROM attendance_summary WHERE user_id = $1`
	var summary models.AttendanceSummary
	if err := r.db.GetContext(ctx, &summary, query, userID); err != nil {
		return nil, fmt.Errorf("get attendance summary: %w", err)
	}
	return &summary, nil
}
