package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/unitrack/attendance-api/internal/models"
)

type analyticsRepository interface {
	Aggregate(ctx context.Context, filter models.CohortFilter) (*models.CohortAggregate, error)
	BelowThreshold(ctx context.Context, filter models.CohortFilter, threshold float64) ([]models.ShortageRow, error)
	PerUserSummaries(ctx context.Context, filter models.CohortFilter) ([]models.ShortageRow, error)
	UserSummary(ctx context.Context, userID string) (*models.AttendanceSummary, error)
}

// AnalyticsService derives cohort and per-user statistics from raw records.
// It is strictly read-only: it never writes attendance_summary.
type AnalyticsService struct {
	repo      analyticsRepository
	cache     *CacheService
	logger    *zap.Logger
	threshold float64
}

// NewAnalyticsService constructs the analytics service.
func NewAnalyticsService(repo analyticsRepository, cache *CacheService, logger *zap.Logger, threshold float64) *AnalyticsService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if threshold <= 0 || threshold > 100 {
		threshold = 75
	}
	return &AnalyticsService{repo: repo, cache: cache, logger: logger, threshold: threshold}
}

// Threshold returns the configured shortage threshold.
func (s *AnalyticsService) Threshold() float64 {
	return s.threshold
}

// Summarize computes a user's summary as a pure function of the stored record
// set, bypassing the attendance_summary cache entirely.
func (s *AnalyticsService) Summarize(ctx context.Context, userID string) (*models.AttendanceSummary, error) {
	summary, err := s.repo.UserSummary(ctx, userID)
	if err != nil {
		return nil, storeFailure(err, "failed to summarise attendance")
	}
	return summary, nil
}

// Cohort aggregates attendance across the filtered population and lists
// students under the shortage threshold. Results are cached; bypass skips the
// cache read (the fresh result is still written back).
func (s *AnalyticsService) Cohort(ctx context.Context, filter models.CohortFilter, threshold float64, bypass bool) (*models.CohortReport, bool, error) {
	if threshold <= 0 || threshold > 100 {
		threshold = s.threshold
	}

	key := cohortCacheKey(filter, threshold)
	if !bypass {
		var cached models.CohortReport
		hit, err := s.cache.Get(ctx, key, &cached)
		if err == nil && hit {
			return &cached, true, nil
		}
	}

	aggregate, err := s.repo.Aggregate(ctx, filter)
	if err != nil {
		return nil, false, storeFailure(err, "failed to aggregate cohort")
	}
	shortage, err := s.repo.BelowThreshold(ctx, filter, threshold)
	if err != nil {
		return nil, false, storeFailure(err, "failed to compute shortage breakdown")
	}

	report := &models.CohortReport{
		Aggregate:      *aggregate,
		BelowThreshold: shortage,
		Threshold:      threshold,
	}

	if err := s.cache.Set(ctx, key, report, 0); err != nil {
		s.logger.Warn("cohort report cache write failed", zap.Error(err))
	}
	return report, false, nil
}

// PerUser returns one summary row per student in the cohort, for reporting.
func (s *AnalyticsService) PerUser(ctx context.Context, filter models.CohortFilter) ([]models.ShortageRow, error) {
	rows, err := s.repo.PerUserSummaries(ctx, filter)
	if err != nil {
		return nil, storeFailure(err, "failed to load per-user summaries")
	}
	return rows, nil
}

func cohortCacheKey(filter models.CohortFilter, threshold float64) string {
	semester := ""
	if filter.Semester != nil {
		semester = fmt.Sprintf("%d", *filter.Semester)
	}
	from, to := "", ""
	if filter.DateFrom != nil {
		from = filter.DateFrom.UTC().Format(time.RFC3339)
	}
	if filter.DateTo != nil {
		to = filter.DateTo.UTC().Format(time.RFC3339)
	}
	return fmt.Sprintf("analytics:cohort:%s:%s:%s:%s:%s:%.0f",
		filter.Department, semester, filter.SubjectID, from, to, threshold)
}
