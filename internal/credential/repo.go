package credential

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"activity/internal/apperr"
	"activity/internal/store"
)

// Repository persists certificates.
type Repository struct {
	db *store.DB
}

// NewRepository creates a repo.
func NewRepository(db *store.DB) *Repository {
	return &Repository{db: db}
}

const certificateColumns = `id, certificate_number, student_id, event_ref, title, type, status, issue_date, template_id, signatures, additional_info, artifact_url, artifact_id, created_at, updated_at`

// Insert writes a new certificate. A number clash is returned as the raw
// driver error for store.IsUniqueViolation.
func (r *Repository) Insert(ctx context.Context, c Certificate) error {
	_, err := r.db.Client.NamedExecContext(ctx, `
		INSERT INTO certificates (`+certificateColumns+`)
		VALUES (:id, :certificate_number, :student_id, :event_ref, :title, :type, :status, :issue_date, :template_id, :signatures, :additional_info, :artifact_url, :artifact_id, :created_at, :updated_at)
	`, c)
	return err
}

// Get returns a certificate by id, whatever its status.
func (r *Repository) Get(ctx context.Context, id string) (Certificate, error) {
	return r.getBy(ctx, "id", id)
}

// GetByNumber returns a certificate by number, whatever its status.
func (r *Repository) GetByNumber(ctx context.Context, number string) (Certificate, error) {
	return r.getBy(ctx, "certificate_number", number)
}

func (r *Repository) getBy(ctx context.Context, column, value string) (Certificate, error) {
	var c Certificate
	err := r.db.Client.GetContext(ctx, &c, r.db.Client.Rebind(`SELECT `+certificateColumns+` FROM certificates WHERE `+column+` = ?`), value)
	if errors.Is(err, sql.ErrNoRows) {
		return Certificate{}, apperr.ErrCertificateNotFound
	}
	if err != nil {
		return Certificate{}, fmt.Errorf("failed to get certificate: %w", err)
	}
	return c, nil
}

// Save writes the editable fields of c. Number, student, status, artifact
// and creation time are left untouched; status only moves through SetStatus.
func (r *Repository) Save(ctx context.Context, c Certificate) error {
	res, err := r.db.Client.NamedExecContext(ctx, `
		UPDATE certificates SET
			event_ref = :event_ref,
			title = :title,
			type = :type,
			issue_date = :issue_date,
			template_id = :template_id,
			signatures = :signatures,
			additional_info = :additional_info,
			updated_at = :updated_at
		WHERE id = :id
	`, c)
	if err != nil {
		return fmt.Errorf("failed to update certificate: %w", err)
	}
	return expectRow(res)
}

// SetStatus changes the status only.
func (r *Repository) SetStatus(ctx context.Context, id string, status Status, at time.Time) error {
	res, err := r.db.Client.ExecContext(ctx, r.db.Client.Rebind(`
		UPDATE certificates SET status = ?, updated_at = ? WHERE id = ?
	`), status, at, id)
	if err != nil {
		return fmt.Errorf("failed to update certificate status: %w", err)
	}
	return expectRow(res)
}

// SetArtifact records where the rendered artifact lives.
func (r *Repository) SetArtifact(ctx context.Context, id, url, artifactID string, at time.Time) error {
	res, err := r.db.Client.ExecContext(ctx, r.db.Client.Rebind(`
		UPDATE certificates SET artifact_url = ?, artifact_id = ?, updated_at = ? WHERE id = ?
	`), url, artifactID, at, id)
	if err != nil {
		return fmt.Errorf("failed to store certificate artifact: %w", err)
	}
	return expectRow(res)
}

// Delete removes the certificate row.
func (r *Repository) Delete(ctx context.Context, id string) error {
	res, err := r.db.Client.ExecContext(ctx, r.db.Client.Rebind(`DELETE FROM certificates WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("failed to delete certificate: %w", err)
	}
	return expectRow(res)
}

// List returns certificates newest first.
func (r *Repository) List(ctx context.Context, f Filter) ([]Certificate, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	query := `SELECT ` + certificateColumns + ` FROM certificates`
	args := []any{}
	clauses := []string{}
	if f.StudentID != "" {
		clauses = append(clauses, "student_id = ?")
		args = append(args, f.StudentID)
	}
	if f.EventRef != "" {
		clauses = append(clauses, "event_ref = ?")
		args = append(args, f.EventRef)
	}
	if f.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, f.Status)
	}
	if f.Type != "" {
		clauses = append(clauses, "type = ?")
		args = append(args, f.Type)
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC, certificate_number DESC LIMIT ? OFFSET ?"
	args = append(args, f.Limit, f.Offset)

	var res []Certificate
	if err := r.db.Client.SelectContext(ctx, &res, r.db.Client.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list certificates: %w", err)
	}
	return res, nil
}

func expectRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.ErrCertificateNotFound
	}
	return nil
}
