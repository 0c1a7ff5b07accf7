package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/MeKo-Tech/idscan/internal/errors"
	"github.com/MeKo-Tech/idscan/internal/geometry"
	"github.com/MeKo-Tech/idscan/internal/scan"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestNew_CreatesDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	_, err := os.Stat(path)
	require.True(t, os.IsNotExist(err))

	s, err := New(path)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	_, err = os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, path, s.Path())
}

func TestNew_MigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := New(path)
	require.NoError(t, err)
	require.NoError(t, s.Record(context.Background(), Record{ID: "a", Document: scan.DocumentPassport, Side: scan.SideFront, Outcome: OutcomeCaptured}))
	require.NoError(t, s.Close())

	s, err = New(path)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	got, err := s.Get(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, scan.DocumentPassport, got.Document)
}

func TestInMemory(t *testing.T) {
	s, err := New(":memory:")
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	ctx := context.Background()
	require.NoError(t, s.Record(ctx, Record{ID: "m", Document: scan.DocumentEmiratesID, Side: scan.SideBack, Outcome: OutcomeFailed}))
	list, err := s.List(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestFromOutcome(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	quad := geometry.FullFrame(100, 50)

	t.Run("captured", func(t *testing.T) {
		r := FromOutcome(scan.Outcome{
			SessionID: "s1", Document: scan.DocumentEmiratesID, Side: scan.SideFront,
			Image:    &scan.CapturedImage{Side: scan.SideFront, Quad: quad, BlurScore: 42.5, CapturedAt: at},
			Duration: 1500 * time.Millisecond,
		})
		assert.Equal(t, OutcomeCaptured, r.Outcome)
		assert.False(t, r.Forced)
		assert.Equal(t, quad.String(), r.Quad)
		assert.InDelta(t, 42.5, r.BlurScore, 1e-9)
		assert.Equal(t, int64(1500), r.DurationMS)
		assert.Equal(t, at, r.CreatedAt)
		assert.Empty(t, r.ErrorKind)
	})

	t.Run("forced", func(t *testing.T) {
		r := FromOutcome(scan.Outcome{SessionID: "s2", Image: &scan.CapturedImage{Forced: true, Quad: quad}})
		assert.Equal(t, OutcomeForced, r.Outcome)
		assert.True(t, r.Forced)
	})

	t.Run("failed", func(t *testing.T) {
		r := FromOutcome(scan.Outcome{SessionID: "s3", Err: apperrors.NewInvalidGeometry("zero area")})
		assert.Equal(t, OutcomeFailed, r.Outcome)
		assert.Equal(t, apperrors.KindInvalidGeometry, r.ErrorKind)
		assert.Contains(t, r.ErrorMessage, "zero area")
		assert.False(t, r.CreatedAt.IsZero())
	})

	t.Run("cancelled", func(t *testing.T) {
		r := FromOutcome(scan.Outcome{SessionID: "s4", Err: apperrors.ErrCancelled})
		assert.Equal(t, apperrors.KindCancelled, r.ErrorKind)
	})
}

func TestRecordAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	in := Record{
		ID: "abc", Document: scan.DocumentPhilippineID, Side: scan.SideBack, Outcome: OutcomeForced,
		Forced: true, Quad: "0,0,10,0,10,10,0,10", BlurScore: 12.25, DurationMS: 6000, CreatedAt: at,
	}
	require.NoError(t, s.Record(ctx, in))

	got, err := s.Get(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, in.Document, got.Document)
	assert.Equal(t, in.Side, got.Side)
	assert.Equal(t, in.Outcome, got.Outcome)
	assert.True(t, got.Forced)
	assert.Equal(t, in.Quad, got.Quad)
	assert.InDelta(t, in.BlurScore, got.BlurScore, 1e-9)
	assert.Equal(t, in.DurationMS, got.DurationMS)
	assert.True(t, at.Equal(got.CreatedAt))
}

func TestRecord_Replace(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Record(ctx, Record{ID: "x", Document: scan.DocumentPassport, Side: scan.SideFront, Outcome: OutcomeFailed}))
	require.NoError(t, s.Record(ctx, Record{ID: "x", Document: scan.DocumentPassport, Side: scan.SideFront, Outcome: OutcomeCaptured}))

	got, err := s.Get(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, OutcomeCaptured, got.Outcome)

	list, err := s.List(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestRecord_RequiresID(t *testing.T) {
	s := newTestStore(t)
	require.Error(t, s.Record(context.Background(), Record{Side: scan.SideFront}))
}

func TestGet_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestList_NewestFirstWithLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"first", "second", "third"} {
		require.NoError(t, s.Record(ctx, Record{
			ID: id, Document: scan.DocumentEmiratesID, Side: scan.SideFront,
			Outcome: OutcomeCaptured, CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	list, err := s.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "third", list[0].ID)
	assert.Equal(t, "second", list[1].ID)

	all, err := s.List(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestRecordOutcome(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	err := s.RecordOutcome(ctx, scan.Outcome{
		SessionID: "o1", Document: scan.DocumentEmiratesID, Side: scan.SideFront,
		Err: &apperrors.CameraUnavailableError{Reason: apperrors.ReasonPermission},
	})
	require.NoError(t, err)

	got, err := s.Get(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, got.Outcome)
	assert.Equal(t, apperrors.KindCameraUnavailable, got.ErrorKind)
}

func TestRecordOutcome_SkipsSessionless(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.RecordOutcome(ctx, scan.Outcome{Err: apperrors.ErrCancelled}))

	list, err := s.List(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	empty, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, empty.Total)
	assert.Zero(t, empty.AvgDurationMS)

	records := []Record{
		{ID: "1", Outcome: OutcomeCaptured, BlurScore: 40, DurationMS: 1000},
		{ID: "2", Outcome: OutcomeForced, Forced: true, BlurScore: 20, DurationMS: 6000},
		{ID: "3", Outcome: OutcomeFailed, ErrorKind: apperrors.KindCancelled, DurationMS: 500},
		{ID: "4", Outcome: OutcomeFailed, ErrorKind: apperrors.KindCancelled, DurationMS: 500},
	}
	for _, r := range records {
		r.Document = scan.DocumentEmiratesID
		r.Side = scan.SideFront
		require.NoError(t, s.Record(ctx, r))
	}

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, st.Total)
	assert.Equal(t, 1, st.Captured)
	assert.Equal(t, 1, st.Forced)
	assert.Equal(t, 2, st.Failed)
	assert.Equal(t, map[string]int{"cancelled": 2}, st.ByErrorKind)
	assert.InDelta(t, 2000, st.AvgDurationMS, 1e-9)
	assert.InDelta(t, 30, st.AvgBlurScore, 1e-9)
}

func TestPrune(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	old := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	recent := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.Record(ctx, Record{ID: "old", Document: scan.DocumentPassport, Side: scan.SideFront, Outcome: OutcomeCaptured, CreatedAt: old}))
	require.NoError(t, s.Record(ctx, Record{ID: "new", Document: scan.DocumentPassport, Side: scan.SideFront, Outcome: OutcomeCaptured, CreatedAt: recent}))

	n, err := s.Prune(ctx, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = s.Get(ctx, "old")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Get(ctx, "new")
	assert.NoError(t, err)
}
