package attendance

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"activity/internal/apperr"
	"activity/internal/civil"
	"activity/internal/faceclient"
	"activity/internal/roster"
	"activity/internal/sequence"
	"activity/internal/session"
	"activity/internal/store"
)

type MockVerifier struct {
	mock.Mock
}

func (m *MockVerifier) Verify(ctx context.Context, studentID, imageURL string) (*faceclient.VerifyResult, error) {
	args := m.Called(studentID, imageURL)
	res, _ := args.Get(0).(*faceclient.VerifyResult)
	return res, args.Error(1)
}

type fixture struct {
	db        *store.DB
	repo      *Repository
	sessions  *session.Registry
	validator *Validator
	clock     time.Time
	token     string
}

func setup(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	db, err := store.NewMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	ctx := context.Background()

	students := roster.NewRepository(db)
	for _, st := range []roster.Student{
		{StudentID: "s-1", Name: "Ada"},
		{StudentID: "s-2", Name: "Grace"},
		{StudentID: "s-3", Name: "Linus"},
	} {
		_, err := students.Upsert(ctx, st)
		require.NoError(t, err)
	}

	f := &fixture{db: db, repo: NewRepository(db), clock: day("2024-01-15")}
	f.sessions = session.NewRegistry(session.NewRepository(db), sequence.New(db), nil, 3)
	s, err := f.sessions.CreateSession(ctx, session.CreateInput{
		EventRef:  "evt-1",
		ValidFrom: civil.MustParse("2024-01-01"),
		ValidTo:   civil.MustParse("2024-01-31"),
	})
	require.NoError(t, err)
	f.token = s.Token

	opts = append([]Option{WithClock(func() time.Time { return f.clock })}, opts...)
	f.validator = NewValidator(f.repo, f.sessions, students, opts...)
	return f
}

func day(s string) time.Time {
	return civil.MustParse(s).In(time.UTC).Add(12 * time.Hour)
}

func TestRecordScanDateWindow(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	cases := []struct {
		name      string
		student   string
		at        time.Time
		overrides Overrides
		valid     bool
		status    string
	}{
		{"inside window", "s-1", day("2024-01-15"), Overrides{}, true, StatusPresent},
		{"after window", "s-2", day("2024-02-01"), Overrides{}, false, StatusInvalidTime},
		{"after window with time override", "s-3", day("2024-02-01"), Overrides{TimeValid: true}, true, StatusPresent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f.clock = tc.at
			rec, err := f.validator.RecordScan(ctx, ScanRequest{Token: f.token, StudentID: tc.student, Overrides: tc.overrides})
			require.NoError(t, err)
			assert.Equal(t, tc.valid, rec.IsValid)
			assert.Equal(t, tc.status, rec.Status)
			assert.Equal(t, "evt-1", rec.EventRef)
			assert.Equal(t, MethodQRScan, rec.ScanMethod)

			stored, err := f.repo.GetRecord(ctx, f.token, tc.student)
			require.NoError(t, err)
			assert.Equal(t, tc.overrides, stored.Overrides)
			assert.Equal(t, tc.status, stored.Status)
		})
	}
}

func TestRecordScanWindowIsInclusive(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.clock = day("2024-01-01")
	rec, err := f.validator.RecordScan(ctx, ScanRequest{Token: f.token, StudentID: "s-1"})
	require.NoError(t, err)
	assert.True(t, rec.IsValid)

	f.clock = civil.MustParse("2024-01-31").In(time.UTC).Add(23*time.Hour + 59*time.Minute)
	rec, err = f.validator.RecordScan(ctx, ScanRequest{Token: f.token, StudentID: "s-2"})
	require.NoError(t, err)
	assert.True(t, rec.IsValid)

	f.clock = day("2023-12-31")
	rec, err = f.validator.RecordScan(ctx, ScanRequest{Token: f.token, StudentID: "s-3"})
	require.NoError(t, err)
	assert.Equal(t, StatusInvalidTime, rec.Status)
}

func TestRecordScanUsesConfiguredTimezone(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	f := setup(t, WithLocation(ny))

	// 02:00 UTC on Feb 1 is still Jan 31 in New York.
	f.clock = time.Date(2024, 2, 1, 2, 0, 0, 0, time.UTC)
	rec, err := f.validator.RecordScan(context.Background(), ScanRequest{Token: f.token, StudentID: "s-1"})
	require.NoError(t, err)
	assert.True(t, rec.IsValid)
	assert.Equal(t, f.clock, rec.ScanTimestamp)
}

func TestRecordScanOpenEndedSession(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	s, err := f.sessions.CreateSession(ctx, session.CreateInput{EventRef: "evt-2", ValidFrom: civil.MustParse("2024-01-01")})
	require.NoError(t, err)

	f.clock = day("2031-06-01")
	rec, err := f.validator.RecordScan(ctx, ScanRequest{Token: s.Token, StudentID: "s-1"})
	require.NoError(t, err)
	assert.True(t, rec.IsValid)
	assert.Equal(t, StatusPresent, rec.Status)
}

func TestRecordScanOverrideSemantics(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.clock = day("2024-03-01")

	rec, err := f.validator.RecordScan(ctx, ScanRequest{Token: f.token, StudentID: "s-1", Overrides: Overrides{ForcePresent: true}})
	require.NoError(t, err)
	assert.True(t, rec.IsValid)
	assert.Equal(t, StatusPresent, rec.Status)

	rec, err = f.validator.RecordScan(ctx, ScanRequest{Token: f.token, StudentID: "s-2", Overrides: Overrides{LocationValid: true}})
	require.NoError(t, err)
	assert.False(t, rec.IsValid)
	assert.Equal(t, StatusInvalidTime, rec.Status)
	assert.True(t, rec.Overrides.LocationValid)
}

func TestRecordScanRejections(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.validator.RecordScan(ctx, ScanRequest{Token: "missing", StudentID: "s-1"})
	assert.ErrorIs(t, err, apperr.ErrSessionInvalid)

	_, err = f.validator.RecordScan(ctx, ScanRequest{Token: f.token, StudentID: "ghost"})
	assert.ErrorIs(t, err, apperr.ErrStudentNotFound)

	_, err = f.validator.RecordScan(ctx, ScanRequest{Token: f.token, StudentID: "s-1", Method: "telepathy"})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = f.validator.RecordScan(ctx, ScanRequest{Token: "", StudentID: "s-1"})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = f.sessions.SetActive(ctx, f.token, false)
	require.NoError(t, err)
	_, err = f.validator.RecordScan(ctx, ScanRequest{Token: f.token, StudentID: "s-1"})
	assert.ErrorIs(t, err, apperr.ErrSessionInvalid)

	recs, err := f.repo.ListRecords(ctx, Filter{})
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestRecordScanAtMostOnce(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.validator.RecordScan(ctx, ScanRequest{Token: f.token, StudentID: "s-1"})
	require.NoError(t, err)

	_, err = f.validator.RecordScan(ctx, ScanRequest{Token: f.token, StudentID: "s-1", Method: MethodRFID})
	assert.ErrorIs(t, err, apperr.ErrDuplicateAttendance)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
}

func TestRecordScanConcurrentDuplicates(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	const n = 10
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.validator.RecordScan(ctx, ScanRequest{Token: f.token, StudentID: "s-1"})
		}(i)
	}
	wg.Wait()

	ok, dup := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, apperr.ErrDuplicateAttendance):
			dup++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, dup)
}

func TestDeletingSessionKeepsRecords(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.validator.RecordScan(ctx, ScanRequest{Token: f.token, StudentID: "s-1"})
	require.NoError(t, err)
	require.NoError(t, f.sessions.Delete(ctx, f.token))

	rec, err := f.repo.GetRecord(ctx, f.token, "s-1")
	require.NoError(t, err)
	assert.True(t, rec.IsValid)
	assert.Equal(t, "evt-1", rec.EventRef)

	_, err = f.validator.RecordScan(ctx, ScanRequest{Token: f.token, StudentID: "s-2"})
	assert.ErrorIs(t, err, apperr.ErrSessionInvalid)
}

func TestRecordScanBiometric(t *testing.T) {
	face := new(MockVerifier)
	face.On("Verify", "s-1", "https://img/s1.jpg").Return(&faceclient.VerifyResult{StudentID: "s-1", Verified: true}, nil)
	face.On("Verify", "s-2", "https://img/s2.jpg").Return(&faceclient.VerifyResult{StudentID: "s-2", Verified: false, Similarity: 0.1, Threshold: 0.45}, nil)
	face.On("Verify", "s-3", "https://img/s3.jpg").Return(nil, errors.New("face service down"))
	f := setup(t, WithFaceVerifier(face))
	ctx := context.Background()

	rec, err := f.validator.RecordScan(ctx, ScanRequest{Token: f.token, StudentID: "s-1", Method: MethodBiometric, EvidenceURL: "https://img/s1.jpg"})
	require.NoError(t, err)
	assert.Equal(t, StatusPresent, rec.Status)

	rec, err = f.validator.RecordScan(ctx, ScanRequest{Token: f.token, StudentID: "s-2", Method: MethodBiometric, EvidenceURL: "https://img/s2.jpg", Overrides: Overrides{TimeValid: true}})
	require.NoError(t, err)
	assert.False(t, rec.IsValid)
	assert.Equal(t, StatusIdentityUnverified, rec.Status)

	_, err = f.validator.RecordScan(ctx, ScanRequest{Token: f.token, StudentID: "s-3", Method: MethodBiometric, EvidenceURL: "https://img/s3.jpg"})
	require.Error(t, err)
	exists, err := f.repo.Exists(ctx, f.token, "s-3")
	require.NoError(t, err)
	assert.False(t, exists)

	// without evidence the verifier is not consulted
	rec, err = f.validator.RecordScan(ctx, ScanRequest{Token: f.token, StudentID: "s-3", Method: MethodBiometric})
	require.NoError(t, err)
	assert.True(t, rec.IsValid)
}

func TestRecordScanBiometricForcePresent(t *testing.T) {
	face := new(MockVerifier)
	face.On("Verify", "s-1", "https://img/s1.jpg").Return(&faceclient.VerifyResult{Verified: false}, nil)
	f := setup(t, WithFaceVerifier(face))

	rec, err := f.validator.RecordScan(context.Background(), ScanRequest{
		Token: f.token, StudentID: "s-1", Method: MethodBiometric, EvidenceURL: "https://img/s1.jpg",
		Overrides: Overrides{ForcePresent: true},
	})
	require.NoError(t, err)
	assert.True(t, rec.IsValid)
	assert.Equal(t, StatusPresent, rec.Status)
}

func TestRecordManualAttendance(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	// a scan record for the same student does not block a manual entry
	_, err := f.validator.RecordScan(ctx, ScanRequest{Token: f.token, StudentID: "s-1"})
	require.NoError(t, err)

	in := day("2024-01-15")
	out := in.Add(2 * time.Hour)
	m, err := f.validator.RecordManualAttendance(ctx, ManualRequest{
		EventRef: "evt-1", StudentID: "s-1", Status: ManualLate, CheckIn: &in, CheckOut: &out, RecordedBy: "admin",
	})
	require.NoError(t, err)
	assert.Equal(t, ManualLate, m.Status)
	require.NotNil(t, m.CheckIn)
	assert.True(t, in.Equal(*m.CheckIn))

	f.clock = f.clock.Add(time.Hour)
	again, err := f.validator.RecordManualAttendance(ctx, ManualRequest{EventRef: "evt-1", StudentID: "s-1", Status: ManualExcused, Notes: "doctor"})
	require.NoError(t, err)
	assert.Equal(t, m.ID, again.ID)
	assert.Equal(t, ManualExcused, again.Status)
	assert.Nil(t, again.CheckIn)
	assert.Equal(t, "doctor", again.Notes)

	entries, err := f.repo.ListManual(ctx, "evt-1")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestRecordManualAttendanceValidation(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	in := day("2024-01-15")
	before := in.Add(-time.Hour)

	_, err := f.validator.RecordManualAttendance(ctx, ManualRequest{EventRef: "evt-1", StudentID: "s-1", Status: "sleeping"})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = f.validator.RecordManualAttendance(ctx, ManualRequest{EventRef: "evt-1", StudentID: "s-1", Status: ManualPresent, CheckIn: &in, CheckOut: &before})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = f.validator.RecordManualAttendance(ctx, ManualRequest{EventRef: "", StudentID: "s-1", Status: ManualPresent})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = f.validator.RecordManualAttendance(ctx, ManualRequest{EventRef: "evt-1", StudentID: "ghost", Status: ManualAbsent})
	assert.ErrorIs(t, err, apperr.ErrStudentNotFound)
}

func TestListAndExport(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.validator.RecordScan(ctx, ScanRequest{Token: f.token, StudentID: "s-1"})
	require.NoError(t, err)
	f.clock = day("2024-02-02")
	_, err = f.validator.RecordScan(ctx, ScanRequest{Token: f.token, StudentID: "s-2", Location: "Hall B"})
	require.NoError(t, err)

	all, err := f.validator.ListRecords(ctx, Filter{EventRef: "evt-1"})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	valid, err := f.validator.ListRecords(ctx, Filter{ValidOnly: true})
	require.NoError(t, err)
	require.Len(t, valid, 1)
	assert.Equal(t, "s-1", valid[0].StudentID)

	rows, err := f.validator.Export(ctx, Filter{EventRef: "evt-1"})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Ada", rows[0].StudentName)
	assert.Equal(t, "Grace", rows[1].StudentName)
	assert.Equal(t, "Hall B", rows[1].ScanLocation)
	assert.False(t, rows[1].IsValid)
}

func TestDeviceRefreshTokens(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, f.repo.UpsertDevice(ctx, "scanner-1"))
	require.NoError(t, f.repo.UpsertDevice(ctx, "scanner-1"))
	assert.Error(t, f.repo.UpsertDevice(ctx, ""))

	require.NoError(t, f.repo.SaveRefreshToken(ctx, "scanner-1", "rt-1", now.Add(time.Hour)))
	dev, err := f.repo.RefreshTokenDevice(ctx, "rt-1", now)
	require.NoError(t, err)
	assert.Equal(t, "scanner-1", dev)

	_, err = f.repo.RefreshTokenDevice(ctx, "rt-1", now.Add(2*time.Hour))
	assert.Error(t, err)

	revoked, err := f.repo.RevokeRefreshToken(ctx, "rt-1")
	require.NoError(t, err)
	assert.True(t, revoked)
	_, err = f.repo.RefreshTokenDevice(ctx, "rt-1", now)
	assert.Error(t, err)

	// a second revocation of the same token loses
	revoked, err = f.repo.RevokeRefreshToken(ctx, "rt-1")
	require.NoError(t, err)
	assert.False(t, revoked)
	revoked, err = f.repo.RevokeRefreshToken(ctx, "unknown")
	require.NoError(t, err)
	assert.False(t, revoked)
}

func TestRevokeRefreshTokenConcurrent(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	require.NoError(t, f.repo.UpsertDevice(ctx, "scanner-1"))
	require.NoError(t, f.repo.SaveRefreshToken(ctx, "scanner-1", "rt-1", time.Now().Add(time.Hour)))

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := f.repo.RevokeRefreshToken(ctx, "rt-1")
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}
