package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"activity/internal/store"
)

// Repository persists attendance data.
type Repository struct {
	db *store.DB
}

// NewRepository creates a repo.
func NewRepository(db *store.DB) *Repository {
	return &Repository{db: db}
}

const recordColumns = `id, token, student_id, event_ref, scan_timestamp, scan_location, scan_method, status, is_valid, notes, overrides_json, created_at`

// Exists reports whether a scan record already exists for (token, studentID).
func (r *Repository) Exists(ctx context.Context, token, studentID string) (bool, error) {
	var one int
	err := r.db.Client.GetContext(ctx, &one, r.db.Client.Rebind(`
		SELECT 1 FROM attendance_records WHERE token = ? AND student_id = ?
	`), token, studentID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check attendance: %w", err)
	}
	return true, nil
}

// InsertRecord writes a new scan record. A (token, student) clash is returned
// as the raw driver error for store.IsUniqueViolation.
func (r *Repository) InsertRecord(ctx context.Context, rec Record) (Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = rec.ScanTimestamp
	}
	_, err := r.db.Client.NamedExecContext(ctx, `
		INSERT INTO attendance_records (`+recordColumns+`)
		VALUES (:id, :token, :student_id, :event_ref, :scan_timestamp, :scan_location, :scan_method, :status, :is_valid, :notes, :overrides_json, :created_at)
	`, rec)
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

// GetRecord returns the scan record for (token, studentID).
func (r *Repository) GetRecord(ctx context.Context, token, studentID string) (Record, error) {
	var rec Record
	err := r.db.Client.GetContext(ctx, &rec, r.db.Client.Rebind(`
		SELECT `+recordColumns+` FROM attendance_records WHERE token = ? AND student_id = ?
	`), token, studentID)
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

// ListRecords returns scan records newest first.
func (r *Repository) ListRecords(ctx context.Context, f Filter) ([]Record, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	where, args := f.clauses("")
	query := `SELECT ` + recordColumns + ` FROM attendance_records` + where +
		` ORDER BY scan_timestamp DESC, id LIMIT ? OFFSET ?`
	args = append(args, f.Limit, f.Offset)

	var res []Record
	if err := r.db.Client.SelectContext(ctx, &res, r.db.Client.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list attendance: %w", err)
	}
	return res, nil
}

// Export returns every matching scan record joined with the student name,
// oldest first. Limit and Offset are ignored.
func (r *Repository) Export(ctx context.Context, f Filter) ([]ExportRow, error) {
	where, args := f.clauses("a.")
	query := `
		SELECT a.student_id, COALESCE(s.name, '') AS student_name, a.event_ref, a.token,
			a.scan_timestamp, a.scan_method, a.scan_location, a.status, a.is_valid
		FROM attendance_records a
		LEFT JOIN students s ON s.student_id = a.student_id` + where + `
		ORDER BY a.event_ref, a.scan_timestamp, a.student_id`

	var rows []ExportRow
	if err := r.db.Client.SelectContext(ctx, &rows, r.db.Client.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to export attendance: %w", err)
	}
	return rows, nil
}

func (f Filter) clauses(alias string) (string, []any) {
	args := []any{}
	clauses := []string{}
	if f.EventRef != "" {
		clauses = append(clauses, alias+"event_ref = ?")
		args = append(args, f.EventRef)
	}
	if f.Token != "" {
		clauses = append(clauses, alias+"token = ?")
		args = append(args, f.Token)
	}
	if f.StudentID != "" {
		clauses = append(clauses, alias+"student_id = ?")
		args = append(args, f.StudentID)
	}
	if f.ValidOnly {
		clauses = append(clauses, alias+"is_valid = ?")
		args = append(args, true)
	}
	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// UpsertManual stores the administrator's entry for (event, student),
// replacing any earlier one.
func (r *Repository) UpsertManual(ctx context.Context, m ManualRecord) (ManualRecord, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	_, err := r.db.Client.NamedExecContext(ctx, `
		INSERT INTO manual_attendance (id, event_ref, student_id, status, check_in, check_out, notes, recorded_by, created_at, updated_at)
		VALUES (:id, :event_ref, :student_id, :status, :check_in, :check_out, :notes, :recorded_by, :created_at, :updated_at)
		ON CONFLICT (event_ref, student_id) DO UPDATE SET
			status = excluded.status,
			check_in = excluded.check_in,
			check_out = excluded.check_out,
			notes = excluded.notes,
			recorded_by = excluded.recorded_by,
			updated_at = excluded.updated_at
	`, m)
	if err != nil {
		return ManualRecord{}, fmt.Errorf("failed to save manual attendance: %w", err)
	}
	return r.GetManual(ctx, m.EventRef, m.StudentID)
}

// GetManual returns the manual entry for (eventRef, studentID).
func (r *Repository) GetManual(ctx context.Context, eventRef, studentID string) (ManualRecord, error) {
	var m ManualRecord
	err := r.db.Client.GetContext(ctx, &m, r.db.Client.Rebind(`
		SELECT id, event_ref, student_id, status, check_in, check_out, notes, recorded_by, created_at, updated_at
		FROM manual_attendance WHERE event_ref = ? AND student_id = ?
	`), eventRef, studentID)
	if err != nil {
		return ManualRecord{}, fmt.Errorf("failed to get manual attendance: %w", err)
	}
	return m, nil
}

// ListManual returns manual entries for an event, ordered by student.
func (r *Repository) ListManual(ctx context.Context, eventRef string) ([]ManualRecord, error) {
	var res []ManualRecord
	err := r.db.Client.SelectContext(ctx, &res, r.db.Client.Rebind(`
		SELECT id, event_ref, student_id, status, check_in, check_out, notes, recorded_by, created_at, updated_at
		FROM manual_attendance WHERE event_ref = ? ORDER BY student_id
	`), eventRef)
	if err != nil {
		return nil, fmt.Errorf("failed to list manual attendance: %w", err)
	}
	return res, nil
}

// UpsertDevice ensures a scanner device record exists.
func (r *Repository) UpsertDevice(ctx context.Context, deviceID string) error {
	if deviceID == "" {
		return errors.New("device id required")
	}
	_, err := r.db.Client.ExecContext(ctx, r.db.Client.Rebind(`
		INSERT INTO devices (device_id, created_at)
		VALUES (?, ?)
		ON CONFLICT (device_id) DO NOTHING
	`), deviceID, time.Now().UTC())
	return err
}

// SaveRefreshToken stores a refresh token for rotation checks.
func (r *Repository) SaveRefreshToken(ctx context.Context, deviceID, token string, expiresAt time.Time) error {
	_, err := r.db.Client.ExecContext(ctx, r.db.Client.Rebind(`
		INSERT INTO refresh_tokens (device_id, token, expires_at, revoked, created_at)
		VALUES (?, ?, ?, ?, ?)
	`), deviceID, token, expiresAt.UTC(), false, time.Now().UTC())
	return err
}

// RefreshTokenDevice returns the device owning an unrevoked, unexpired token.
func (r *Repository) RefreshTokenDevice(ctx context.Context, token string, now time.Time) (string, error) {
	var row struct {
		DeviceID  string    `db:"device_id"`
		ExpiresAt time.Time `db:"expires_at"`
		Revoked   bool      `db:"revoked"`
	}
	err := r.db.Client.GetContext(ctx, &row, r.db.Client.Rebind(`
		SELECT device_id, expires_at, revoked FROM refresh_tokens WHERE token = ?
	`), token)
	if errors.Is(err, sql.ErrNoRows) {
		return "", errors.New("refresh token not found")
	}
	if err != nil {
		return "", err
	}
	if row.Revoked || !now.Before(row.ExpiresAt) {
		return "", errors.New("refresh token expired or revoked")
	}
	return row.DeviceID, nil
}

// RevokeRefreshToken marks a token revoked. It reports false when the token
// was unknown or already revoked, so of two concurrent rotations only one
// wins.
func (r *Repository) RevokeRefreshToken(ctx context.Context, token string) (bool, error) {
	res, err := r.db.Client.ExecContext(ctx, r.db.Client.Rebind(`
		UPDATE refresh_tokens SET revoked = ? WHERE token = ? AND revoked = ?
	`), true, token, false)
	if err != nil {
		return false, fmt.Errorf("failed to revoke refresh token: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
