package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unitrack/attendance-api/internal/models"
)

func newMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	sqlxdb := sqlx.NewDb(db, "sqlmock")
	return sqlxdb, mock, func() {
		db.Close()
	}
}

func recordRows(now time.Time) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "user_id", "session_id", "subject_id", "status", "marked_at",
		"latitude", "longitude", "device_fingerprint", "geofence_verified", "created_at", "updated_at"}).
		AddRow("rec-1", "stu-1", "sess-1", "subj-1", "present", now, nil, nil, nil, false, now, now)
}

func TestInsertRecord(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAttendanceRepository(db)

	now := time.Now()
	mock.ExpectQuery("INSERT INTO attendance_records").
		WillReturnRows(recordRows(now))

	record, err := repo.Insert(context.Background(), &models.AttendanceRecord{
		UserID:    "stu-1",
		SessionID: "sess-1",
		SubjectID: "subj-1",
		Status:    models.AttendanceStatusPresent,
		MarkedAt:  now,
	})
	require.NoError(t, err)
	assert.Equal(t, "rec-1", record.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertRecordDuplicate(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAttendanceRepository(db)

	// ON CONFLICT DO NOTHING returns no rows when the pair already exists.
	mock.ExpectQuery("INSERT INTO attendance_records").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.Insert(context.Background(), &models.AttendanceRecord{
		UserID:    "stu-1",
		SessionID: "sess-1",
		SubjectID: "subj-1",
		Status:    models.AttendanceStatusPresent,
		MarkedAt:  time.Now(),
	})
	assert.ErrorIs(t, err, ErrDuplicateRecord)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExistsRecord(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAttendanceRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS(SELECT 1 FROM attendance_records WHERE user_id = $1 AND session_id = $2)")).
		WithArgs("stu-1", "sess-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	exists, err := repo.Exists(context.Background(), "stu-1", "sess-1")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecomputeSummary(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAttendanceRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"user_id", "total_classes", "present_count", "late_count", "absent_count", "percentage", "updated_at"}).
		AddRow("stu-1", 10, 8, 1, 1, 80.0, now)
	mock.ExpectQuery("INSERT INTO attendance_summary").
		WillReturnRows(rows)

	summary, err := repo.RecomputeSummary(context.Background(), "stu-1")
	require.NoError(t, err)
	assert.Equal(t, 10, summary.TotalClasses)
	assert.Equal(t, 80.0, summary.Percentage)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteRecordReturnsOwner(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAttendanceRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("DELETE FROM attendance_records WHERE id = $1 RETURNING user_id")).
		WithArgs("rec-1").
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow("stu-1"))

	userID, err := repo.Delete(context.Background(), "rec-1")
	require.NoError(t, err)
	assert.Equal(t, "stu-1", userID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
