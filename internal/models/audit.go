package models

import "time"

// AuditAction constants represent actions to be logged.
const (
	AuditActionLogin            = "LOGIN"
	AuditActionSessionCreate    = "SESSION_CREATE"
	AuditActionSessionClose     = "SESSION_CLOSE"
	AuditActionQRIssue          = "QR_ISSUE"
	AuditActionAttendanceMark   = "ATTENDANCE_MARK"
	AuditActionAttendanceReject = "ATTENDANCE_REJECT"
	AuditActionRecordOverride   = "RECORD_OVERRIDE"
	AuditActionRecordDelete     = "RECORD_DELETE"
)

// AuditLog represents an append-only audit trail record. Rows are written for
// rejected attempts as well as accepted ones, so security review is never
// blocked by the error path.
type AuditLog struct {
	ID         string    `db:"id" json:"id"`
	UserID     *string   `db:"user_id" json:"user_id,omitempty"`
	Action     string    `db:"action" json:"action"`
	Resource   string    `db:"resource" json:"resource"`
	ResourceID *string   `db:"resource_id" json:"resource_id,omitempty"`
	NewValues  []byte    `db:"new_values" json:"new_values,omitempty"`
	IPAddress  string    `db:"ip_address" json:"ip_address"`
	UserAgent  string    `db:"user_agent" json:"user_agent"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
