// Package attendance decides whether a scan yields a valid attendance record
// and keeps the manual back-fill path used by administrators.
package attendance

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Method is how the student was identified at the scanner.
type Method string

const (
	MethodQRScan      Method = "qr_scan"
	MethodManualEntry Method = "manual_entry"
	MethodBiometric   Method = "biometric"
	MethodRFID        Method = "rfid"
)

func (m Method) Valid() bool {
	switch m {
	case MethodQRScan, MethodManualEntry, MethodBiometric, MethodRFID:
		return true
	}
	return false
}

// Scan outcomes stored on a Record.
const (
	StatusPresent            = "present"
	StatusInvalidTime        = "invalid_time"
	StatusIdentityUnverified = "identity_unverified"
)

// Overrides are the validations an operator bypassed for one scan. They are
// stored exactly as received.
type Overrides struct {
	TimeValid     bool `json:"time_valid"`
	LocationValid bool `json:"location_valid"`
	ForcePresent  bool `json:"force_present"`
}

func (o Overrides) Value() (driver.Value, error) {
	b, err := json.Marshal(o)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (o *Overrides) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*o = Overrides{}
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("attendance: cannot scan %T into Overrides", src)
	}
	return json.Unmarshal(raw, o)
}

// Record is one accepted scan. At most one exists per (token, student).
type Record struct {
	ID            string    `db:"id" json:"id"`
	Token         string    `db:"token" json:"token"`
	StudentID     string    `db:"student_id" json:"student_id"`
	EventRef      string    `db:"event_ref" json:"event_ref"`
	ScanTimestamp time.Time `db:"scan_timestamp" json:"scan_timestamp"`
	ScanLocation  string    `db:"scan_location" json:"scan_location,omitempty"`
	ScanMethod    Method    `db:"scan_method" json:"scan_method"`
	Status        string    `db:"status" json:"status"`
	IsValid       bool      `db:"is_valid" json:"is_valid"`
	Notes         string    `db:"notes" json:"notes,omitempty"`
	Overrides     Overrides `db:"overrides_json" json:"overrides"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// ManualStatus is the status an administrator assigns by hand.
type ManualStatus string

const (
	ManualPresent ManualStatus = "present"
	ManualAbsent  ManualStatus = "absent"
	ManualLate    ManualStatus = "late"
	ManualExcused ManualStatus = "excused"
	ManualOnLeave ManualStatus = "on_leave"
)

func (s ManualStatus) Valid() bool {
	switch s {
	case ManualPresent, ManualAbsent, ManualLate, ManualExcused, ManualOnLeave:
		return true
	}
	return false
}

// ManualRecord is an administrator's entry for an (event, student) pair.
// A later entry for the same pair replaces the earlier one.
type ManualRecord struct {
	ID         string       `db:"id" json:"id"`
	EventRef   string       `db:"event_ref" json:"event_ref"`
	StudentID  string       `db:"student_id" json:"student_id"`
	Status     ManualStatus `db:"status" json:"status"`
	CheckIn    *time.Time   `db:"check_in" json:"check_in,omitempty"`
	CheckOut   *time.Time   `db:"check_out" json:"check_out,omitempty"`
	Notes      string       `db:"notes" json:"notes,omitempty"`
	RecordedBy string       `db:"recorded_by" json:"recorded_by,omitempty"`
	CreatedAt  time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time    `db:"updated_at" json:"updated_at"`
}

// Filter narrows record listings and exports.
type Filter struct {
	EventRef  string
	Token     string
	StudentID string
	ValidOnly bool
	Limit     int
	Offset    int
}

// ExportRow is a scan record joined with the student's name.
type ExportRow struct {
	StudentID     string    `db:"student_id" json:"student_id"`
	StudentName   string    `db:"student_name" json:"student_name"`
	EventRef      string    `db:"event_ref" json:"event_ref"`
	Token         string    `db:"token" json:"token"`
	ScanTimestamp time.Time `db:"scan_timestamp" json:"scan_timestamp"`
	ScanMethod    string    `db:"scan_method" json:"scan_method"`
	ScanLocation  string    `db:"scan_location" json:"scan_location"`
	Status        string    `db:"status" json:"status"`
	IsValid       bool      `db:"is_valid" json:"is_valid"`
}
