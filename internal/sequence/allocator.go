// Package sequence hands out session tokens and certificate numbers.
//
// Certificate numbers come from a counter row per (prefix, year) bucket that is
// bumped in a single upsert statement, so concurrent issuers never read the same
// value. The certificates table keeps a unique index on the number as well;
// Reseed repairs the counter when rows were written outside the allocator.
package sequence

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"time"

	"activity/internal/apperr"
	"activity/internal/store"
)

var prefixPattern = regexp.MustCompile(`^[A-Z0-9]{1,16}$`)

// Allocator produces collision-free identifiers.
type Allocator struct {
	db   *store.DB
	now  func() time.Time
	rand io.Reader
}

// Option customises an Allocator.
type Option func(*Allocator)

// WithClock overrides the time source used for session tokens.
func WithClock(now func() time.Time) Option {
	return func(a *Allocator) { a.now = now }
}

// WithRandom overrides the entropy source used for session tokens.
func WithRandom(r io.Reader) Option {
	return func(a *Allocator) { a.rand = r }
}

// New creates an allocator backed by db.
func New(db *store.DB, opts ...Option) *Allocator {
	a := &Allocator{db: db, now: time.Now, rand: rand.Reader}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// NewSessionToken returns a hex nanosecond timestamp followed by 64 random bits.
// Storage enforces uniqueness; callers re-roll on a key conflict.
func (a *Allocator) NewSessionToken() (string, error) {
	suffix := make([]byte, 8)
	if _, err := io.ReadFull(a.rand, suffix); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return strconv.FormatInt(a.now().UnixNano(), 16) + "-" + hex.EncodeToString(suffix), nil
}

// ValidatePrefix checks a certificate number prefix.
func ValidatePrefix(prefix string) error {
	if !prefixPattern.MatchString(prefix) {
		return apperr.Validation("certificate prefix %q must be 1-16 upper-case letters or digits", prefix)
	}
	return nil
}

// NextCertificateNumber atomically advances the (prefix, year) counter and
// formats the result as PREFIX-YYYY-NNNN.
func (a *Allocator) NextCertificateNumber(ctx context.Context, prefix string, year int) (string, error) {
	if err := checkBucket(prefix, year); err != nil {
		return "", err
	}
	query := a.db.Client.Rebind(`
		INSERT INTO certificate_sequences (prefix, year, last_value)
		VALUES (?, ?, 1)
		ON CONFLICT (prefix, year) DO UPDATE SET last_value = certificate_sequences.last_value + 1
		RETURNING last_value
	`)
	var next int64
	if err := a.db.Client.GetContext(ctx, &next, query, prefix, year); err != nil {
		return "", fmt.Errorf("failed to advance sequence %s-%04d: %w", prefix, year, err)
	}
	return Format(prefix, year, next), nil
}

// Reseed raises the bucket counter to the highest suffix already present in
// the certificates table.
func (a *Allocator) Reseed(ctx context.Context, prefix string, year int) error {
	if err := checkBucket(prefix, year); err != nil {
		return err
	}
	var numbers []string
	query := a.db.Client.Rebind(`SELECT certificate_number FROM certificates WHERE certificate_number LIKE ?`)
	if err := a.db.Client.SelectContext(ctx, &numbers, query, fmt.Sprintf("%s-%04d-%%", prefix, year)); err != nil {
		return fmt.Errorf("failed to read numbers for %s-%04d: %w", prefix, year, err)
	}

	highest := MaxSuffix(numbers, prefix, year)
	if highest == 0 {
		return nil
	}
	_, err := a.db.Client.ExecContext(ctx, a.db.Client.Rebind(`
		INSERT INTO certificate_sequences (prefix, year, last_value)
		VALUES (?, ?, ?)
		ON CONFLICT (prefix, year) DO UPDATE SET last_value = excluded.last_value
		WHERE certificate_sequences.last_value < excluded.last_value
	`), prefix, year, highest)
	if err != nil {
		return fmt.Errorf("failed to reseed %s-%04d: %w", prefix, year, err)
	}
	return nil
}

// Format renders a certificate number.
func Format(prefix string, year int, n int64) string {
	return fmt.Sprintf("%s-%04d-%04d", prefix, year, n)
}

// MaxSuffix returns the largest numeric suffix among numbers that belong to the
// bucket. Numbers from other buckets or with malformed suffixes are ignored.
func MaxSuffix(numbers []string, prefix string, year int) int64 {
	re := regexp.MustCompile(`^` + regexp.QuoteMeta(fmt.Sprintf("%s-%04d-", prefix, year)) + `(\d+)$`)
	var highest int64
	for _, n := range numbers {
		m := re.FindStringSubmatch(n)
		if len(m) != 2 {
			continue
		}
		v, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			continue
		}
		if v > highest {
			highest = v
		}
	}
	return highest
}

func checkBucket(prefix string, year int) error {
	if err := ValidatePrefix(prefix); err != nil {
		return err
	}
	if year < 1 || year > 9999 {
		return apperr.Validation("year %d out of range", year)
	}
	return nil
}
