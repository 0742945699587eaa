package models

import "time"

// SessionStatus represents the lifecycle state of an attendance session.
type SessionStatus string

const (
	SessionStatusScheduled SessionStatus = "scheduled"
	SessionStatusActive    SessionStatus = "active"
	SessionStatusClosed    SessionStatus = "closed"
)

// Valid returns true when the status is a supported value.
func (s SessionStatus) Valid() bool {
	switch s {
	case SessionStatusScheduled, SessionStatusActive, SessionStatusClosed:
		return true
	default:
		return false
	}
}

// AttendanceSession is one scheduled class instance for which attendance may
// be collected. QR fields hold at most one live token: reissuing overwrites
// them, which is what invalidates the previous token.
type AttendanceSession struct {
	ID             string        `db:"id" json:"id"`
	SubjectID      string        `db:"subject_id" json:"subject_id"`
	SubjectName    string        `db:"subject_name" json:"subject_name"`
	FacultyID      string        `db:"faculty_id" json:"faculty_id"`
	ScheduledStart time.Time     `db:"scheduled_start" json:"scheduled_start"`
	Status         SessionStatus `db:"status" json:"status"`

	QRToken     *string    `db:"qr_token" json:"qr_token,omitempty"`
	QRIssuedAt  *time.Time `db:"qr_issued_at" json:"qr_issued_at,omitempty"`
	QRExpiresAt *time.Time `db:"qr_expires_at" json:"qr_expires_at,omitempty"`

	LocationRequired bool     `db:"location_required" json:"location_required"`
	LocationLat      *float64 `db:"location_lat" json:"location_lat,omitempty"`
	LocationLng      *float64 `db:"location_lng" json:"location_lng,omitempty"`
	LocationRadiusM  *float64 `db:"location_radius_m" json:"location_radius_m,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Geofence describes the proximity constraint attached to a session's token.
type Geofence struct {
	Latitude  float64 `json:"latitude" validate:"min=-90,max=90"`
	Longitude float64 `json:"longitude" validate:"min=-180,max=180"`
	RadiusM   float64 `json:"radius_m" validate:"gt=0"`
}

// SessionFilter scopes session listing queries.
type SessionFilter struct {
	FacultyID string
	SubjectID string
	Status    *SessionStatus
	DateFrom  *time.Time
	DateTo    *time.Time
	Page      int
	PageSize  int
}
