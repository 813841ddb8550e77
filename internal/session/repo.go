package session

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"activity/internal/apperr"
	"activity/internal/civil"
	"activity/internal/store"
)

// Metadata is free-form data embedded in the scan payload.
type Metadata map[string]string

func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (m *Metadata) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*m = Metadata{}
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("session: cannot scan %T into Metadata", src)
	}
	out := Metadata{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("session: decode metadata: %w", err)
	}
	*m = out
	return nil
}

// Session is a tokenized attendance-collection window tied to an event.
type Session struct {
	Token     string     `db:"token" json:"token"`
	EventRef  string     `db:"event_ref" json:"event_ref"`
	ValidFrom civil.Date `db:"valid_from" json:"valid_from"`
	ValidTo   civil.Date `db:"valid_to" json:"valid_to"`
	Active    bool       `db:"active" json:"active"`
	Metadata  Metadata   `db:"metadata" json:"metadata"`
	ImageURL  string     `db:"image_url" json:"image_url,omitempty"`
	ImageID   string     `db:"image_id" json:"-"`
	CreatedBy string     `db:"created_by" json:"created_by,omitempty"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
}

// Filter narrows List results.
type Filter struct {
	EventRef string
	Active   *bool
	Limit    int
	Offset   int
}

// Repository persists sessions.
type Repository struct {
	db *store.DB
}

// NewRepository creates a repo.
func NewRepository(db *store.DB) *Repository {
	return &Repository{db: db}
}

const sessionColumns = `token, event_ref, valid_from, valid_to, active, metadata, image_url, image_id, created_by, created_at`

// Insert writes a new session. A duplicate token surfaces as the raw driver error
// so callers can test it with store.IsUniqueViolation.
func (r *Repository) Insert(ctx context.Context, s Session) error {
	_, err := r.db.Client.NamedExecContext(ctx, `
		INSERT INTO qr_sessions (`+sessionColumns+`)
		VALUES (:token, :event_ref, :valid_from, :valid_to, :active, :metadata, :image_url, :image_id, :created_by, :created_at)
	`, s)
	return err
}

// Get returns the session with token, active or not.
func (r *Repository) Get(ctx context.Context, token string) (Session, error) {
	var s Session
	err := r.db.Client.GetContext(ctx, &s, r.db.Client.Rebind(`SELECT `+sessionColumns+` FROM qr_sessions WHERE token = ?`), token)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, apperr.ErrSessionNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("failed to get session: %w", err)
	}
	return s, nil
}

// SetActive flips the active flag.
func (r *Repository) SetActive(ctx context.Context, token string, active bool) error {
	res, err := r.db.Client.ExecContext(ctx, r.db.Client.Rebind(`UPDATE qr_sessions SET active = ? WHERE token = ?`), active, token)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	return expectRow(res)
}

// SetImage records the cached image location.
func (r *Repository) SetImage(ctx context.Context, token, url, id string) error {
	res, err := r.db.Client.ExecContext(ctx, r.db.Client.Rebind(`UPDATE qr_sessions SET image_url = ?, image_id = ? WHERE token = ?`), url, id, token)
	if err != nil {
		return fmt.Errorf("failed to store session image: %w", err)
	}
	return expectRow(res)
}

// Delete removes the session row only.
func (r *Repository) Delete(ctx context.Context, token string) error {
	res, err := r.db.Client.ExecContext(ctx, r.db.Client.Rebind(`DELETE FROM qr_sessions WHERE token = ?`), token)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return expectRow(res)
}

// List returns sessions newest first.
func (r *Repository) List(ctx context.Context, f Filter) ([]Session, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	query := `SELECT ` + sessionColumns + ` FROM qr_sessions`
	args := []any{}
	clauses := []string{}
	if f.EventRef != "" {
		clauses = append(clauses, "event_ref = ?")
		args = append(args, f.EventRef)
	}
	if f.Active != nil {
		clauses = append(clauses, "active = ?")
		args = append(args, *f.Active)
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC, token LIMIT ? OFFSET ?"
	args = append(args, f.Limit, f.Offset)

	var res []Session
	if err := r.db.Client.SelectContext(ctx, &res, r.db.Client.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return res, nil
}

func expectRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.ErrSessionNotFound
	}
	return nil
}
