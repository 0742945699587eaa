package models

import "time"

// CohortFilter selects the population for cohort analytics.
type CohortFilter struct {
	Department string
	Semester   *int
	SubjectID  string
	DateFrom   *time.Time
	DateTo     *time.Time
}

// CohortAggregate summarises attendance across all matching records.
type CohortAggregate struct {
	TotalRecords int     `db:"total_records" json:"total_records"`
	PresentCount int     `db:"present_count" json:"present_count"`
	LateCount    int     `db:"late_count" json:"late_count"`
	AbsentCount  int     `db:"absent_count" json:"absent_count"`
	Percentage   float64 `json:"percentage"`
}

// ShortageRow identifies a student below the shortage threshold.
type ShortageRow struct {
	UserID       string  `db:"user_id" json:"user_id"`
	FullName     string  `db:"full_name" json:"full_name"`
	Department   *string `db:"department" json:"department,omitempty"`
	TotalClasses int     `db:"total_classes" json:"total_classes"`
	PresentCount int     `db:"present_count" json:"present_count"`
	Percentage   float64 `db:"percentage" json:"percentage"`
}

// CohortReport is the full analytics payload for a cohort.
type CohortReport struct {
	Aggregate      CohortAggregate `json:"aggregate"`
	BelowThreshold []ShortageRow   `json:"below_threshold"`
	Threshold      float64         `json:"threshold"`
}
