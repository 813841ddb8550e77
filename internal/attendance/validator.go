package attendance

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shrimpsizemoose/trekker/logger"

	"activity/internal/apperr"
	"activity/internal/civil"
	"activity/internal/faceclient"
	"activity/internal/metrics"
	"activity/internal/roster"
	"activity/internal/session"
	"activity/internal/store"
)

// SessionLookup resolves scannable sessions.
type SessionLookup interface {
	LookupActive(ctx context.Context, token string) (session.Session, error)
}

// StudentDirectory resolves student references.
type StudentDirectory interface {
	Get(ctx context.Context, studentID string) (roster.Student, error)
}

// FaceVerifier confirms a biometric capture belongs to the student.
type FaceVerifier interface {
	Verify(ctx context.Context, studentID, imageURL string) (*faceclient.VerifyResult, error)
}

// ScanRequest is one scan attempt from a scanner device or operator.
type ScanRequest struct {
	Token       string
	StudentID   string
	Method      Method
	Location    string
	Overrides   Overrides
	EvidenceURL string
	Notes       string
}

// ManualRequest back-fills attendance for an event without a session.
type ManualRequest struct {
	EventRef   string
	StudentID  string
	Status     ManualStatus
	CheckIn    *time.Time
	CheckOut   *time.Time
	Notes      string
	RecordedBy string
}

// Validator is the scan-time decision engine.
type Validator struct {
	repo     *Repository
	sessions SessionLookup
	students StudentDirectory
	face     FaceVerifier
	loc      *time.Location
	now      func() time.Time
}

// Option configures a Validator.
type Option func(*Validator)

// WithFaceVerifier enables identity checks for biometric scans.
func WithFaceVerifier(f FaceVerifier) Option {
	return func(v *Validator) { v.face = f }
}

// WithLocation sets the timezone that decides the calendar day of a scan.
func WithLocation(loc *time.Location) Option {
	return func(v *Validator) {
		if loc != nil {
			v.loc = loc
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(v *Validator) { v.now = now }
}

// NewValidator creates a validator.
func NewValidator(repo *Repository, sessions SessionLookup, students StudentDirectory, opts ...Option) *Validator {
	v := &Validator{repo: repo, sessions: sessions, students: students, loc: time.UTC, now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// RecordScan evaluates a scan and stores the resulting record. A record is
// stored whether or not the scan is valid; rejections (unknown session,
// unknown student, duplicate) store nothing.
func (v *Validator) RecordScan(ctx context.Context, req ScanRequest) (Record, error) {
	req.Token = strings.TrimSpace(req.Token)
	req.StudentID = strings.TrimSpace(req.StudentID)
	if req.Method == "" {
		req.Method = MethodQRScan
	}
	if req.Token == "" || req.StudentID == "" {
		return Record{}, apperr.Validation("token and student id are required")
	}
	if !req.Method.Valid() {
		return Record{}, apperr.Validation("unknown scan method %q", req.Method)
	}

	sess, err := v.sessions.LookupActive(ctx, req.Token)
	if err != nil {
		v.reject(req.Method, err)
		return Record{}, err
	}
	if _, err := v.students.Get(ctx, req.StudentID); err != nil {
		v.reject(req.Method, err)
		return Record{}, err
	}
	exists, err := v.repo.Exists(ctx, req.Token, req.StudentID)
	if err != nil {
		return Record{}, err
	}
	if exists {
		v.reject(req.Method, apperr.ErrDuplicateAttendance)
		return Record{}, apperr.ErrDuplicateAttendance
	}

	now := v.now()
	today := civil.Of(now.In(v.loc))
	valid, status := true, StatusPresent
	if !today.Within(sess.ValidFrom, sess.ValidTo) {
		valid, status = false, StatusInvalidTime
	}
	// location_valid is kept for audit only: no location rule exists to bypass.
	if req.Overrides.TimeValid || req.Overrides.ForcePresent {
		valid, status = true, StatusPresent
	}

	if req.Method == MethodBiometric && v.face != nil && req.EvidenceURL != "" {
		res, err := v.face.Verify(ctx, req.StudentID, req.EvidenceURL)
		if err != nil {
			return Record{}, fmt.Errorf("failed to verify identity: %w", err)
		}
		if !res.Verified && !req.Overrides.ForcePresent {
			valid, status = false, StatusIdentityUnverified
			logger.Debug.Printf("biometric mismatch for %s on %s (similarity %.2f < %.2f)", req.StudentID, req.Token, res.Similarity, res.Threshold)
		}
	}

	rec, err := v.repo.InsertRecord(ctx, Record{
		ID:            uuid.NewString(),
		Token:         req.Token,
		StudentID:     req.StudentID,
		EventRef:      sess.EventRef,
		ScanTimestamp: now.UTC(),
		ScanLocation:  req.Location,
		ScanMethod:    req.Method,
		Status:        status,
		IsValid:       valid,
		Notes:         req.Notes,
		Overrides:     req.Overrides,
	})
	if store.IsUniqueViolation(err) {
		v.reject(req.Method, apperr.ErrDuplicateAttendance)
		return Record{}, apperr.ErrDuplicateAttendance
	}
	if err != nil {
		return Record{}, fmt.Errorf("failed to record attendance: %w", err)
	}

	metrics.ScansTotal.WithLabelValues(string(req.Method), status).Inc()
	logger.Info.Printf("attendance %s for %s on %s (%s)", status, req.StudentID, req.Token, req.Method)
	return rec, nil
}

func (v *Validator) reject(method Method, err error) {
	reason := apperr.ReasonOf(err)
	if reason == "" {
		reason = "error"
	}
	metrics.ScansTotal.WithLabelValues(string(method), reason).Inc()
}

// RecordManualAttendance stores an administrator's entry for an event and
// student. It is keyed independently of scan records and never checked
// against them.
func (v *Validator) RecordManualAttendance(ctx context.Context, req ManualRequest) (ManualRecord, error) {
	req.EventRef = strings.TrimSpace(req.EventRef)
	req.StudentID = strings.TrimSpace(req.StudentID)
	if req.EventRef == "" || req.StudentID == "" {
		return ManualRecord{}, apperr.Validation("event reference and student id are required")
	}
	if !req.Status.Valid() {
		return ManualRecord{}, apperr.Validation("unknown attendance status %q", req.Status)
	}
	if req.CheckIn != nil && req.CheckOut != nil && req.CheckOut.Before(*req.CheckIn) {
		return ManualRecord{}, apperr.Validation("check out is before check in")
	}
	if _, err := v.students.Get(ctx, req.StudentID); err != nil {
		return ManualRecord{}, err
	}

	now := v.now().UTC()
	m, err := v.repo.UpsertManual(ctx, ManualRecord{
		EventRef:   req.EventRef,
		StudentID:  req.StudentID,
		Status:     req.Status,
		CheckIn:    utcPtr(req.CheckIn),
		CheckOut:   utcPtr(req.CheckOut),
		Notes:      req.Notes,
		RecordedBy: req.RecordedBy,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	if err != nil {
		return ManualRecord{}, err
	}
	metrics.ManualAttendanceTotal.WithLabelValues(string(req.Status)).Inc()
	return m, nil
}

// ListRecords returns scan records matching f.
func (v *Validator) ListRecords(ctx context.Context, f Filter) ([]Record, error) {
	return v.repo.ListRecords(ctx, f)
}

// Export returns the attendance projection used for downloads.
func (v *Validator) Export(ctx context.Context, f Filter) ([]ExportRow, error) {
	return v.repo.Export(ctx, f)
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
