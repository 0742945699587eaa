package models

import "time"

// AttendanceStatus represents the outcome recorded for a scan.
type AttendanceStatus string

const (
	AttendanceStatusPresent AttendanceStatus = "present"
	AttendanceStatusLate    AttendanceStatus = "late"
	AttendanceStatusAbsent  AttendanceStatus = "absent"
)

// Valid returns true when the status is a supported value.
func (s AttendanceStatus) Valid() bool {
	switch s {
	case AttendanceStatusPresent, AttendanceStatusLate, AttendanceStatusAbsent:
		return true
	default:
		return false
	}
}

// AttendanceRecord is one student's attendance outcome for one session. The
// (user_id, session_id) pair is unique at the store level; that constraint is
// the concurrency-control primitive for duplicate scans.
type AttendanceRecord struct {
	ID                string           `db:"id" json:"id"`
	UserID            string           `db:"user_id" json:"user_id"`
	SessionID         string           `db:"session_id" json:"session_id"`
	SubjectID         string           `db:"subject_id" json:"subject_id"`
	Status            AttendanceStatus `db:"status" json:"status"`
	MarkedAt          time.Time        `db:"marked_at" json:"marked_at"`
	Latitude          *float64         `db:"latitude" json:"latitude,omitempty"`
	Longitude         *float64         `db:"longitude" json:"longitude,omitempty"`
	DeviceFingerprint *string          `db:"device_fingerprint" json:"device_fingerprint,omitempty"`
	GeofenceVerified  bool             `db:"geofence_verified" json:"geofence_verified"`
	CreatedAt         time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time        `db:"updated_at" json:"updated_at"`
}

// AttendanceSummary is the per-user rolling aggregate. It is a derived cache
// recomputed from attendance_records, never an independent source of truth.
type AttendanceSummary struct {
	UserID       string    `db:"user_id" json:"user_id"`
	TotalClasses int       `db:"total_classes" json:"total_classes"`
	PresentCount int       `db:"present_count" json:"present_count"`
	LateCount    int       `db:"late_count" json:"late_count"`
	AbsentCount  int       `db:"absent_count" json:"absent_count"`
	Percentage   float64   `db:"percentage" json:"percentage"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// Location is a scanning device's claimed position.
type Location struct {
	Latitude  float64 `json:"latitude" validate:"min=-90,max=90"`
	Longitude float64 `json:"longitude" validate:"min=-180,max=180"`
}

// AttendanceFilter scopes record listing queries.
type AttendanceFilter struct {
	UserID    string
	SessionID string
	SubjectID string
	Status    *AttendanceStatus
	DateFrom  *time.Time
	DateTo    *time.Time
	Page      int
	PageSize  int
}
