// Package credential issues numbered certificates and answers public
// verification lookups.
package credential

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"activity/internal/civil"
)

// Type is the kind of recognition a certificate records.
type Type string

const (
	TypeParticipation Type = "participation"
	TypeAchievement   Type = "achievement"
	TypeExcellence    Type = "excellence"
	TypeCompletion    Type = "completion"
	TypeMerit         Type = "merit"
	TypeAppreciation  Type = "appreciation"
	TypeLeadership    Type = "leadership"
	TypeVolunteer     Type = "volunteer"
)

// Status is a free-form lifecycle tag. Any status may follow any other.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusRevoked  Status = "revoked"
)

func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusRevoked:
		return true
	}
	return false
}

// Signatures maps a signer role to the printed name.
type Signatures map[string]string

func (s Signatures) Value() (driver.Value, error) {
	if s == nil {
		return "{}", nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (s *Signatures) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*s = Signatures{}
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("credential: cannot scan %T into Signatures", src)
	}
	out := Signatures{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("credential: decode signatures: %w", err)
	}
	*s = out
	return nil
}

// Certificate is an issued credential. Number never changes once assigned.
type Certificate struct {
	ID             string     `db:"id" json:"id"`
	Number         string     `db:"certificate_number" json:"certificate_number"`
	StudentID      string     `db:"student_id" json:"student_id"`
	EventRef       string     `db:"event_ref" json:"event_ref,omitempty"`
	Title          string     `db:"title" json:"title"`
	Type           Type       `db:"type" json:"type"`
	Status         Status     `db:"status" json:"status"`
	IssueDate      civil.Date `db:"issue_date" json:"issue_date"`
	TemplateID     string     `db:"template_id" json:"template_id,omitempty"`
	Signatures     Signatures `db:"signatures" json:"signatures"`
	AdditionalInfo string     `db:"additional_info" json:"additional_info,omitempty"`
	ArtifactURL    string     `db:"artifact_url" json:"artifact_url,omitempty"`
	ArtifactID     string     `db:"artifact_id" json:"-"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

// Filter narrows List results.
type Filter struct {
	StudentID string
	EventRef  string
	Status    Status
	Type      Type
	Limit     int
	Offset    int
}
