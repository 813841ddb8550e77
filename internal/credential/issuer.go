package credential

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
	"github.com/google/uuid"
	"github.com/shrimpsizemoose/trekker/logger"

	"activity/internal/apperr"
	"activity/internal/civil"
	"activity/internal/metrics"
	"activity/internal/queue"
	"activity/internal/roster"
	"activity/internal/sequence"
	"activity/internal/store"
)

// NumberAllocator hands out certificate numbers.
type NumberAllocator interface {
	NextCertificateNumber(ctx context.Context, prefix string, year int) (string, error)
	Reseed(ctx context.Context, prefix string, year int) error
}

// StudentDirectory resolves student references.
type StudentDirectory interface {
	Get(ctx context.Context, studentID string) (roster.Student, error)
}

// Publisher enqueues artifact jobs.
type Publisher interface {
	Publish(ctx context.Context, msg queue.Message) error
}

// IssueRequest describes one certificate.
type IssueRequest struct {
	StudentID      string     `json:"student_id" validate:"required,max=64"`
	Title          string     `json:"title" validate:"required,notblank,max=200"`
	Type           Type       `json:"type" validate:"required,oneof=participation achievement excellence completion merit appreciation leadership volunteer"`
	EventRef       string     `json:"event_ref" validate:"max=64"`
	IssueDate      civil.Date `json:"issue_date"`
	TemplateID     string     `json:"template_id" validate:"max=64"`
	Signatures     Signatures `json:"signatures"`
	AdditionalInfo string     `json:"additional_info"`
}

// BatchRequest issues the same certificate to several students.
type BatchRequest struct {
	EventRef       string     `json:"event_ref" validate:"max=64"`
	Title          string     `json:"title" validate:"required,notblank,max=200"`
	Type           Type       `json:"type" validate:"required,oneof=participation achievement excellence completion merit appreciation leadership volunteer"`
	IssueDate      civil.Date `json:"issue_date"`
	TemplateID     string     `json:"template_id" validate:"max=64"`
	Signatures     Signatures `json:"signatures"`
	AdditionalInfo string     `json:"additional_info"`
	StudentIDs     []string   `json:"student_ids" validate:"required,min=1,dive,required"`
}

// BatchFailure explains why one student of a batch got no certificate.
type BatchFailure struct {
	StudentID string `json:"student_id"`
	Reason    string `json:"reason"`
	Message   string `json:"message"`
}

// BatchResult reports partial success of a batch.
type BatchResult struct {
	Issued []Certificate  `json:"issued"`
	Failed []BatchFailure `json:"failed"`
}

// UpdateRequest carries field changes; nil fields are left as they are.
type UpdateRequest struct {
	Title          *string     `json:"title" validate:"omitempty,notblank,max=200"`
	Type           *Type       `json:"type" validate:"omitempty,oneof=participation achievement excellence completion merit appreciation leadership volunteer"`
	EventRef       *string     `json:"event_ref" validate:"omitempty,max=64"`
	IssueDate      *civil.Date `json:"issue_date"`
	TemplateID     *string     `json:"template_id" validate:"omitempty,max=64"`
	Signatures     Signatures  `json:"signatures"`
	AdditionalInfo *string     `json:"additional_info"`
}

// RenderJob asks the worker to draw a certificate's artifact.
type RenderJob struct {
	CertificateID string `json:"certificate_id"`
}

// DiscardJob asks the worker to drop a stored artifact.
type DiscardJob struct {
	ArtifactID string `json:"artifact_id"`
}

var validate = newValidate()

func newValidate() *validator.Validate {
	v := validator.New()
	if err := v.RegisterValidation("notblank", validators.NotBlank); err != nil {
		panic(err)
	}
	return v
}

// Issuer issues and manages certificates.
type Issuer struct {
	repo     *Repository
	numbers  NumberAllocator
	students StudentDirectory
	jobs     Publisher
	prefix   string
	retries  int
	now      func() time.Time
}

// NewIssuer creates an issuer numbering certificates under prefix. jobs may
// be nil, in which case no artifacts are produced.
func NewIssuer(repo *Repository, numbers NumberAllocator, students StudentDirectory, jobs Publisher, prefix string, retries int) (*Issuer, error) {
	prefix = strings.ToUpper(prefix)
	if err := sequence.ValidatePrefix(prefix); err != nil {
		return nil, err
	}
	if retries <= 0 {
		retries = 5
	}
	return &Issuer{repo: repo, numbers: numbers, students: students, jobs: jobs, prefix: prefix, retries: retries, now: time.Now}, nil
}

// Issue validates req, allocates a number and stores an active certificate.
// Duplicate titles for the same student are allowed.
func (i *Issuer) Issue(ctx context.Context, req IssueRequest) (Certificate, error) {
	if err := check(req, req.IssueDate); err != nil {
		return Certificate{}, err
	}
	return i.issue(ctx, req)
}

func (i *Issuer) issue(ctx context.Context, req IssueRequest) (Certificate, error) {
	if _, err := i.students.Get(ctx, req.StudentID); err != nil {
		i.count(req.Type, apperr.ReasonOf(err))
		return Certificate{}, err
	}

	now := i.now().UTC()
	c := Certificate{
		StudentID:      req.StudentID,
		EventRef:       req.EventRef,
		Title:          strings.TrimSpace(req.Title),
		Type:           req.Type,
		Status:         StatusActive,
		IssueDate:      req.IssueDate,
		TemplateID:     req.TemplateID,
		Signatures:     req.Signatures,
		AdditionalInfo: req.AdditionalInfo,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if c.Signatures == nil {
		c.Signatures = Signatures{}
	}

	year := req.IssueDate.Year
	var lastErr error
	for attempt := 0; attempt < i.retries; attempt++ {
		number, err := i.numbers.NextCertificateNumber(ctx, i.prefix, year)
		if err != nil {
			return Certificate{}, err
		}
		c.ID = uuid.NewString()
		c.Number = number
		lastErr = i.repo.Insert(ctx, c)
		if lastErr == nil {
			i.count(c.Type, "issued")
			logger.Info.Printf("issued certificate %s to %s", c.Number, c.StudentID)
			i.enqueue(ctx, queue.TypeCertificateRender, RenderJob{CertificateID: c.ID})
			return c, nil
		}
		if !store.IsUniqueViolation(lastErr) {
			return Certificate{}, fmt.Errorf("failed to store certificate: %w", lastErr)
		}
		lastErr = &apperr.Error{Kind: apperr.KindConflict, Reason: apperr.ReasonNumberCollision,
			Message: "certificate number " + number + " already taken", Err: lastErr}
		metrics.NumberCollisionsTotal.Inc()
		logger.Error.Printf("certificate number %s already taken, reseeding (attempt %d)", number, attempt+1)
		if err := i.numbers.Reseed(ctx, i.prefix, year); err != nil {
			return Certificate{}, err
		}
	}
	i.count(c.Type, apperr.ReasonAllocationExhausted)
	return Certificate{}, apperr.AllocationExhausted(
		fmt.Sprintf("no free certificate number in %s-%04d after %d attempts", i.prefix, year, i.retries), lastErr)
}

// IssueBatch issues one certificate per student. A failing student is
// reported in Failed and does not stop the rest; only an invalid request as
// a whole is rejected up front.
func (i *Issuer) IssueBatch(ctx context.Context, req BatchRequest) (BatchResult, error) {
	if err := check(req, req.IssueDate); err != nil {
		return BatchResult{}, err
	}

	res := BatchResult{Issued: []Certificate{}, Failed: []BatchFailure{}}
	for _, studentID := range req.StudentIDs {
		c, err := i.issue(ctx, IssueRequest{
			StudentID:      strings.TrimSpace(studentID),
			Title:          req.Title,
			Type:           req.Type,
			EventRef:       req.EventRef,
			IssueDate:      req.IssueDate,
			TemplateID:     req.TemplateID,
			Signatures:     req.Signatures,
			AdditionalInfo: req.AdditionalInfo,
		})
		if err != nil {
			reason := apperr.ReasonOf(err)
			if reason == "" {
				reason = "internal"
			}
			res.Failed = append(res.Failed, BatchFailure{StudentID: studentID, Reason: reason, Message: err.Error()})
			continue
		}
		res.Issued = append(res.Issued, c)
	}
	logger.Info.Printf("batch %q: %d issued, %d failed", req.Title, len(res.Issued), len(res.Failed))
	return res, nil
}

// SetStatus moves a certificate to any status.
func (i *Issuer) SetStatus(ctx context.Context, id string, status Status) (Certificate, error) {
	if !status.Valid() {
		return Certificate{}, apperr.Validation("unknown certificate status %q", status)
	}
	if err := i.repo.SetStatus(ctx, id, status, i.now().UTC()); err != nil {
		return Certificate{}, err
	}
	return i.repo.Get(ctx, id)
}

// Revoke marks a certificate revoked.
func (i *Issuer) Revoke(ctx context.Context, id string) (Certificate, error) {
	return i.SetStatus(ctx, id, StatusRevoked)
}

// Update applies field changes. The number is never changed, even when the
// issue date moves to another year.
func (i *Issuer) Update(ctx context.Context, id string, req UpdateRequest) (Certificate, error) {
	if err := validate.Struct(req); err != nil {
		return Certificate{}, validationError(err)
	}
	c, err := i.repo.Get(ctx, id)
	if err != nil {
		return Certificate{}, err
	}
	if req.Title != nil {
		c.Title = strings.TrimSpace(*req.Title)
	}
	if req.Type != nil {
		c.Type = *req.Type
	}
	if req.EventRef != nil {
		c.EventRef = *req.EventRef
	}
	if req.IssueDate != nil {
		if req.IssueDate.IsZero() {
			return Certificate{}, apperr.Validation("issue date cannot be cleared")
		}
		c.IssueDate = *req.IssueDate
	}
	if req.TemplateID != nil {
		c.TemplateID = *req.TemplateID
	}
	if req.Signatures != nil {
		c.Signatures = req.Signatures
	}
	if req.AdditionalInfo != nil {
		c.AdditionalInfo = *req.AdditionalInfo
	}
	if c.Title == "" {
		return Certificate{}, apperr.Validation("title is required")
	}
	c.UpdatedAt = i.now().UTC()
	if err := i.repo.Save(ctx, c); err != nil {
		return Certificate{}, err
	}
	// status may have moved since the read above
	return i.repo.Get(ctx, id)
}

// Delete removes the certificate and queues removal of its artifact.
func (i *Issuer) Delete(ctx context.Context, id string) error {
	c, err := i.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := i.repo.Delete(ctx, id); err != nil {
		return err
	}
	logger.Info.Printf("deleted certificate %s", c.Number)
	if c.ArtifactID != "" {
		i.enqueue(ctx, queue.TypeCertificateDiscard, DiscardJob{ArtifactID: c.ArtifactID})
	}
	return nil
}

// Get returns a certificate for administrators, whatever its status.
func (i *Issuer) Get(ctx context.Context, id string) (Certificate, error) {
	return i.repo.Get(ctx, id)
}

// List returns certificates matching f.
func (i *Issuer) List(ctx context.Context, f Filter) ([]Certificate, error) {
	return i.repo.List(ctx, f)
}

// VerifyByNumber returns the certificate only while it is active. Inactive
// and revoked certificates look exactly like unknown numbers.
func (i *Issuer) VerifyByNumber(ctx context.Context, number string) (Certificate, error) {
	number = strings.ToUpper(strings.TrimSpace(number))
	if number == "" {
		return Certificate{}, apperr.ErrCertificateNotFound
	}
	c, err := i.repo.GetByNumber(ctx, number)
	if err != nil {
		return Certificate{}, err
	}
	if c.Status != StatusActive {
		return Certificate{}, apperr.ErrCertificateNotFound
	}
	return c, nil
}

// RecordArtifact stores the rendered artifact location.
func (i *Issuer) RecordArtifact(ctx context.Context, id, url, artifactID string) error {
	return i.repo.SetArtifact(ctx, id, url, artifactID, i.now().UTC())
}

func (i *Issuer) enqueue(ctx context.Context, typ string, body any) {
	if i.jobs == nil {
		return
	}
	msg, err := queue.NewMessage(typ, body)
	if err == nil {
		err = i.jobs.Publish(ctx, msg)
	}
	if err != nil {
		metrics.ArtifactFailuresTotal.WithLabelValues("enqueue").Inc()
		logger.Error.Printf("enqueue %s: %v", typ, err)
	}
}

func (i *Issuer) count(t Type, outcome string) {
	if outcome == "" {
		outcome = "error"
	}
	metrics.CertificatesTotal.WithLabelValues(string(t), outcome).Inc()
}

func check(req any, issueDate civil.Date) error {
	if err := validate.Struct(req); err != nil {
		return validationError(err)
	}
	if issueDate.IsZero() {
		return apperr.Validation("issue_date is required")
	}
	return nil
}

func validationError(err error) error {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return apperr.Validation("invalid input: %v", err)
	}
	fields := make([]string, 0, len(ve))
	for _, fe := range ve {
		fields = append(fields, fmt.Sprintf("%s (%s)", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return apperr.Validation("invalid fields: %s", strings.Join(fields, ", "))
}
