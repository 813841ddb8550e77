// Package roster resolves student references. Student records themselves are
// maintained by the wider platform; this package only reads and upserts them.
package roster

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"activity/internal/apperr"
	"activity/internal/store"
)

// Student is a registered student.
type Student struct {
	StudentID  string    `db:"student_id" json:"student_id"`
	Name       string    `db:"name" json:"name"`
	Email      string    `db:"email" json:"email,omitempty"`
	Department string    `db:"department" json:"department,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// Repository persists students.
type Repository struct {
	db  *store.DB
	now func() time.Time
}

// NewRepository creates a repo.
func NewRepository(db *store.DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

// Get returns a student or apperr.ErrStudentNotFound.
func (r *Repository) Get(ctx context.Context, studentID string) (Student, error) {
	var st Student
	err := r.db.Client.GetContext(ctx, &st, r.db.Client.Rebind(`
		SELECT student_id, name, email, department, created_at, updated_at
		FROM students WHERE student_id = ?
	`), studentID)
	if errors.Is(err, sql.ErrNoRows) {
		return Student{}, apperr.ErrStudentNotFound
	}
	if err != nil {
		return Student{}, fmt.Errorf("failed to get student: %w", err)
	}
	return st, nil
}

// Exists reports whether the student is known.
func (r *Repository) Exists(ctx context.Context, studentID string) (bool, error) {
	_, err := r.Get(ctx, studentID)
	if apperr.Is(err, apperr.ReasonStudentNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Upsert creates or updates a student.
func (r *Repository) Upsert(ctx context.Context, st Student) (Student, error) {
	if st.StudentID == "" {
		return Student{}, apperr.Validation("student id required")
	}
	now := r.now().UTC()
	_, err := r.db.Client.ExecContext(ctx, r.db.Client.Rebind(`
		INSERT INTO students (student_id, name, email, department, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (student_id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			department = excluded.department,
			updated_at = excluded.updated_at
	`), st.StudentID, st.Name, st.Email, st.Department, now, now)
	if err != nil {
		return Student{}, fmt.Errorf("failed to upsert student: %w", err)
	}
	return r.Get(ctx, st.StudentID)
}

// List returns students ordered by id.
func (r *Repository) List(ctx context.Context, limit, offset int) ([]Student, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	var students []Student
	err := r.db.Client.SelectContext(ctx, &students, r.db.Client.Rebind(`
		SELECT student_id, name, email, department, created_at, updated_at
		FROM students ORDER BY student_id LIMIT ? OFFSET ?
	`), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list students: %w", err)
	}
	return students, nil
}
