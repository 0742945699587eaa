package repository

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unitrack/attendance-api/internal/models"
)

func TestAggregate(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAnalyticsRepository(db)

	rows := sqlmock.NewRows([]string{"total_records", "present_count", "late_count", "absent_count"}).
		AddRow(40, 30, 6, 4)
	mock.ExpectQuery("FROM attendance_records ar").
		WithArgs("CSE").
		WillReturnRows(rows)

	agg, err := repo.Aggregate(context.Background(), models.CohortFilter{Department: "CSE"})
	require.NoError(t, err)
	assert.Equal(t, 40, agg.TotalRecords)
	assert.Equal(t, 75.0, agg.Percentage)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAggregateEmptyCohort(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAnalyticsRepository(db)

	rows := sqlmock.NewRows([]string{"total_records", "present_count", "late_count", "absent_count"}).
		AddRow(0, 0, 0, 0)
	mock.ExpectQuery("FROM attendance_records ar").WillReturnRows(rows)

	agg, err := repo.Aggregate(context.Background(), models.CohortFilter{})
	require.NoError(t, err)
	assert.Equal(t, 0.0, agg.Percentage)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBelowThreshold(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAnalyticsRepository(db)

	semester := 5
	rows := sqlmock.NewRows([]string{"user_id", "full_name", "department", "total_classes", "present_count", "percentage"}).
		AddRow("stu-2", "Student Two", "CSE", 10, 5, 50.0)
	mock.ExpectQuery("HAVING COUNT").
		WithArgs("CSE", semester, 75.0).
		WillReturnRows(rows)

	shortage, err := repo.BelowThreshold(context.Background(), models.CohortFilter{Department: "CSE", Semester: &semester}, 75)
	require.NoError(t, err)
	require.Len(t, shortage, 1)
	assert.Equal(t, "stu-2", shortage[0].UserID)
	assert.Equal(t, 50.0, shortage[0].Percentage)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserSummaryComputedFromRecords(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAnalyticsRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"user_id", "total_classes", "present_count", "late_count", "absent_count", "percentage", "updated_at"}).
		AddRow("stu-1", 12, 9, 2, 1, 75.0, now)
	mock.ExpectQuery("FROM attendance_records WHERE user_id = ").
		WithArgs("stu-1").
		WillReturnRows(rows)

	summary, err := repo.UserSummary(context.Background(), "stu-1")
	require.NoError(t, err)
	assert.Equal(t, 12, summary.TotalClasses)
	assert.Equal(t, 75.0, summary.Percentage)
	assert.NoError(t, mock.ExpectationsWereMet())
}
