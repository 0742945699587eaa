package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/unitrack/attendance-api/internal/models"
)

// AnalyticsRepository derives cohort statistics from raw attendance records.
// It is read-only: the Validator owns all writes to attendance_summary.
type AnalyticsRepository struct {
	db *sqlx.DB
}

// NewAnalyticsRepository constructs the repository.
func NewAnalyticsRepository(db *sqlx.DB) *AnalyticsRepository {
	return &AnalyticsRepository{db: db}
}

func cohortWhere(filter models.CohortFilter) (string, []interface{}) {
	where := []string{"1=1"}
	args := []interface{}{}
	if filter.Department != "" {
		where = append(where, fmt.Sprintf("u.department = $%d", len(args)+1))
		args = append(args, filter.Department)
	}
	if filter.Semester != nil {
		where = append(where, fmt.Sprintf("u.semester = $%d", len(args)+1))
		args = append(args, *filter.Semester)
	}
	if filter.SubjectID != "" {
		where = append(where, fmt.Sprintf("ar.subject_id = $%d", len(args)+1))
		args = append(args, filter.SubjectID)
	}
	if filter.DateFrom != nil {
		where = append(where, fmt.Sprintf("ar.marked_at >= $%d", len(args)+1))
		args = append(args, *filter.DateFrom)
	}
	if filter.DateTo != nil {
		where = append(where, fmt.Sprintf("ar.marked_at <= $%d", len(args)+1))
		args = append(args, *filter.DateTo)
	}
	return strings.Join(where, " AND "), args
}

// Aggregate sums attendance outcomes across all records matching the cohort.
func (r *AnalyticsRepository) Aggregate(ctx context.Context, filter models.CohortFilter) (*models.CohortAggregate, error) {
	whereClause, args := cohortWhere(filter)
	query := fmt.Sprintf(`SELECT
    COUNT(*) AS total_records,
    COUNT(*) FILTER (WHERE ar.status = 'present') AS present_count,
    COUNT(*) FILTER (WHERE ar.status = 'late') AS late_count,
    COUNT(*) FILTER (WHERE ar.status = 'absent') AS absent_count
FROM attendance_records ar
JOIN users u ON u.id = ar.user_id
WHERE %s`, whereClause)

	var agg models.CohortAggregate
	if err := r.db.GetContext(ctx, &agg, query, args...); err != nil {
		return nil, fmt.Errorf("cohort aggregate: %w", err)
	}
	if agg.TotalRecords > 0 {
		agg.Percentage = float64(agg.PresentCount) / float64(agg.TotalRecords) * 100
	}
	return &agg, nil
}

// UserSummary computes a user's summary on the fly from raw records without
// touching the attendance_summary table.
func (r *AnalyticsRepository) UserSummary(ctx context.Context, userID string) (*models.AttendanceSummary, error) {
	query := `SELECT $1 AS user_id,
    COUNT(*) AS total_classes,
    COUNT(*) FILTER (WHERE status = 'present') AS present_count,
    COUNT(*) FILTER (WHERE status = 'late') AS late_count,
    COUNT(*) FILTER (WHERE status = 'absent') AS absent_count,
    CASE WHEN COUNT(*) = 0 THEN 0
         ELSE ROUND(COUNT(*) FILTER (WHERE status = 'present') * 100.0 / COUNT(*))
    END AS percentage,
    NOW() AS updated_at
FROM attendance_records WHERE user_id = $1`
	var summary models.AttendanceSummary
	if err := r.db.GetContext(ctx, &summary, query, userID); err != nil {
		return nil, fmt.Errorf("user summary: %w", err)
	}
	return &summary, nil
}

// PerUserSummaries returns one row per student in the cohort.
func (r *AnalyticsRepository) PerUserSummaries(ctx context.Context, filter models.CohortFilter) ([]models.ShortageRow, error) {
	whereClause, args := cohortWhere(filter)
	query := fmt.Sprintf(`SELECT u.id AS user_id, u.full_name, u.department,
    COUNT(*) AS total_classes,
    COUNT(*) FILTER (WHERE ar.status = 'present') AS present_count,
    ROUND(COUNT(*) FILTER (WHERE ar.status = 'present') * 100.0 / COUNT(*)) AS percentage
FROM attendance_records ar
JOIN users u ON u.id = ar.user_id
WHERE %s
GROUP BY u.id, u.full_name, u.department
ORDER BY u.full_name ASC`, whereClause)

	var rows []models.ShortageRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("cohort per-user summaries: %w", err)
	}
	return rows, nil
}

// BelowThreshold lists students whose attendance percentage within the cohort
// falls under the provided threshold.
func (r *AnalyticsRepository) BelowThreshold(ctx context.Context, filter models.CohortFilter, threshold float64) ([]models.ShortageRow, error) {
	whereClause, args := cohortWhere(filter)
	args = append(args, threshold)
	query := fmt.Sprintf(`SELECT u.id AS user_id, u.full_name, u.department,
    COUNT(*) AS total_classes,
    COUNT(*) FILTER (WHERE ar.status = 'present') AS present_count,
    ROUND(COUNT(*) FILTER (WHERE ar.status = 'present') * 100.0 / COUNT(*)) AS percentage
FROM attendance_records ar
JOIN users u ON u.id = ar.user_id
WHERE %s
GROUP BY u.id, u.full_name, u.department
HAVING COUNT(*) FILTER (WHERE ar.status = 'present') * 100.0 / COUNT(*) < $%d
ORDER BY percentage ASC`, whereClause, len(args))

	var rows []models.ShortageRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("cohort shortage breakdown: %w", err)
	}
	return rows, nil
}
