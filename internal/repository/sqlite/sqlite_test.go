package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"spacegraph/internal/codec"
	"spacegraph/internal/core"
	"spacegraph/internal/domain"
	"spacegraph/internal/gc"
)

// ============================================================================
// Test Helpers
// ============================================================================

var t0 = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// newTestRepo creates an in-memory SQLite repository for testing
func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test repository: %v", err)
	}
	t.Cleanup(func() {
		repo.Close()
	})
	return repo
}

// assertNoError fails the test if err is not nil
func assertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// assertEqual fails the test if expected != actual
func assertEqual(t *testing.T, expected, actual interface{}) {
	t.Helper()
	if !reflect.DeepEqual(expected, actual) {
		t.Fatalf("expected %v, got %v", expected, actual)
	}
}

func incoming(src string, seq uint64, sec int, d domain.Delta) domain.Incoming {
	return domain.Incoming{
		Source: domain.NodeKey(src),
		Seq:    seq,
		At:     t0.Add(time.Duration(sec) * time.Second),
		Delta:  d,
	}
}

// ============================================================================
// Helper Tests
// ============================================================================

func TestNullToInt64(t *testing.T) {
	tests := []struct {
		name     string
		input    sql.NullInt64
		expected int64
	}{
		{"valid", sql.NullInt64{Int64: 42, Valid: true}, 42},
		{"null", sql.NullInt64{Valid: false}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertEqual(t, tt.expected, nullToInt64(tt.input))
		})
	}
}

func TestNanosRoundTrip(t *testing.T) {
	at := time.Date(2025, 3, 4, 5, 6, 7, 891011, time.FixedZone("x", 3600))
	got := nanosToTime(timeToNanos(at))
	if !got.Equal(at) {
		t.Fatalf("expected %v, got %v", at, got)
	}
	assertEqual(t, time.UTC, got.Location())
}

// ============================================================================
// Trace Tests
// ============================================================================

func TestRecordAndBatches(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	assertNoError(t, repo.Record(ctx, 1, []domain.Incoming{
		incoming("h", 0, 0, domain.UpsertNode{ID: "p", Kind: domain.NodeKindProcess, Attrs: map[string]string{"exe": "/bin/sh"}}),
		incoming("h", 1, 0, domain.UpsertNode{ID: "f", Kind: domain.NodeKindFile}),
	}))
	assertNoError(t, repo.Record(ctx, 2, nil))
	assertNoError(t, repo.Record(ctx, 3, []domain.Incoming{
		incoming("h", 2, 1, domain.UpsertEdge{From: "p", To: "f", Kind: domain.EdgeKindOpens}),
	}))

	var ticks []uint64
	var sizes []int
	err := repo.Batches(ctx, func(tick uint64, batch []domain.Incoming) error {
		ticks = append(ticks, tick)
		sizes = append(sizes, len(batch))
		return nil
	})
	assertNoError(t, err)
	assertEqual(t, []uint64{1, 3}, ticks)
	assertEqual(t, []int{2, 1}, sizes)

	var first domain.Incoming
	err = repo.Batches(ctx, func(tick uint64, batch []domain.Incoming) error {
		first = batch[0]
		return errStop
	})
	if !errors.Is(err, errStop) {
		t.Fatalf("expected errStop, got %v", err)
	}
	assertEqual(t, domain.NodeKey("h"), first.Source)
	if !first.At.Equal(t0) {
		t.Fatalf("expected %v, got %v", t0, first.At)
	}
	up, ok := first.Delta.(domain.UpsertNode)
	if !ok {
		t.Fatalf("expected UpsertNode, got %T", first.Delta)
	}
	assertEqual(t, "/bin/sh", up.Attrs["exe"])

	st, err := repo.Stats(ctx)
	assertNoError(t, err)
	assertEqual(t, TraceStats{Records: 3, Ticks: 2, LastTick: 3}, st)
}

var errStop = errors.New("stop")

func TestRecordsOrder(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	// ticks may arrive out of order from a merged trace
	assertNoError(t, repo.Record(ctx, 5, []domain.Incoming{incoming("b", 0, 2, domain.RemoveNode{ID: "x"})}))
	assertNoError(t, repo.Record(ctx, 4, []domain.Incoming{incoming("a", 0, 1, domain.RemoveNode{ID: "y"})}))

	var got []codec.TraceRecord
	assertNoError(t, repo.Records(ctx, func(rec codec.TraceRecord) error {
		got = append(got, rec)
		return nil
	}))
	if len(got) != 2 {
		t.Fatalf("expected 2 records, got %d", len(got))
	}
	assertEqual(t, uint64(4), got[0].Tick)
	assertEqual(t, domain.NodeKey("a"), got[0].Source)
}

func TestStatsEmpty(t *testing.T) {
	repo := newTestRepo(t)
	st, err := repo.Stats(context.Background())
	assertNoError(t, err)
	assertEqual(t, TraceStats{}, st)

	called := false
	assertNoError(t, repo.Batches(context.Background(), func(uint64, []domain.Incoming) error {
		called = true
		return nil
	}))
	assertEqual(t, false, called)
}

func TestTruncate(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	assertNoError(t, repo.Record(ctx, 1, []domain.Incoming{incoming("h", 0, 0, domain.RemoveNode{ID: "x"})}))
	assertNoError(t, repo.Truncate(ctx))

	st, err := repo.Stats(ctx)
	assertNoError(t, err)
	assertEqual(t, 0, st.Records)
}

func TestFileDatabasePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.db")
	ctx := context.Background()

	repo, err := New(path)
	assertNoError(t, err)
	assertNoError(t, repo.Record(ctx, 1, []domain.Incoming{incoming("h", 0, 0, domain.UpsertNode{ID: "u", Kind: domain.NodeKindUser})}))
	assertNoError(t, repo.Close())

	repo, err = New(path)
	assertNoError(t, err)
	defer repo.Close()
	st, err := repo.Stats(ctx)
	assertNoError(t, err)
	assertEqual(t, 1, st.Records)
}

// TestReplayMatchesLive records a live core and replays the stored trace
// into a fresh one.
func TestReplayMatchesLive(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	opts := core.Options{
		GC:               gc.Policy{TTL: 10 * time.Second, Grace: 5 * time.Second},
		TimelineCapacity: 1000,
		QueueCapacity:    1024,
	}
	now := func() time.Time { return t0.Add(time.Minute) }

	live := core.New(opts, core.Deps{Recorder: repo, Now: now})
	q := live.Registry().Queue("h")
	for _, d := range []domain.Delta{
		domain.UpsertNode{ID: "p", Kind: domain.NodeKindProcess},
		domain.UpsertNode{ID: "f", Kind: domain.NodeKindFile},
		domain.UpsertEdge{From: "p", To: "f", Kind: domain.EdgeKindOpens},
	} {
		_, err := q.Push(ctx, t0, d)
		assertNoError(t, err)
	}
	live.Tick(ctx, t0)
	_, err := q.Push(ctx, t0.Add(time.Second), domain.RemoveNode{ID: "f"})
	assertNoError(t, err)
	live.Tick(ctx, t0.Add(time.Second))

	replay := core.New(opts, core.Deps{Now: now})
	assertNoError(t, repo.Batches(ctx, func(tick uint64, batch []domain.Incoming) error {
		replay.Apply(ctx, batch[len(batch)-1].At, batch)
		return nil
	}))
	assertEqual(t, live.Digest(), replay.Digest())
}
