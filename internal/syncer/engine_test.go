package syncer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"in-house-gis/internal/gis"
	"in-house-gis/internal/models"
)

func TestMain(m *testing.M) {
	zerolog.SetGlobalLevel(zerolog.Disabled)
	os.Exit(m.Run())
}

type fetchCall struct {
	offset, limit int
}

// fakeSource serves synthetic features with offset pagination. When
// features is set it overrides the generated records.
type fakeSource struct {
	total    int
	countErr error
	errAt    map[int]error
	features func(offset, limit int) []gis.Feature
	calls    []fetchCall
}

func (s *fakeSource) Count(ctx context.Context) (int, error) {
	if s.countErr != nil {
		return 0, s.countErr
	}
	return s.total, nil
}

func (s *fakeSource) FetchPage(ctx context.Context, offset, limit int) ([]gis.Feature, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	s.calls = append(s.calls, fetchCall{offset, limit})
	if err := s.errAt[offset]; err != nil {
		return nil, err
	}
	if s.features != nil {
		return s.features(offset, limit), nil
	}

	n := s.total - offset
	if n > limit {
		n = limit
	}
	if n <= 0 {
		return nil, nil
	}
	out := make([]gis.Feature, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, feature(fmt.Sprintf("APN-%05d", offset+i)))
	}
	return out, nil
}

func feature(apn string, kv ...string) gis.Feature {
	attrs := map[string]interface{}{}
	if apn != "" {
		attrs["PARCEL_ID"] = apn
	}
	for i := 0; i+1 < len(kv); i += 2 {
		attrs[kv[i]] = kv[i+1]
	}
	return gis.Feature{Attrs: attrs}
}

// fakeSink records writes in memory. unmatched apns report as not
// written, failAPNs error on the per-record path.
type fakeSink struct {
	batchErr  error
	failAPNs  map[string]bool
	unmatched map[string]bool
	batches   [][]*models.Parcel
	singles   []string
	rows      map[string]*models.Parcel
}

func newFakeSink() *fakeSink {
	return &fakeSink{rows: make(map[string]*models.Parcel)}
}

func (s *fakeSink) WriteBatch(parcels []*models.Parcel) (int, error) {
	s.batches = append(s.batches, parcels)
	if s.batchErr != nil {
		return 0, s.batchErr
	}
	written := 0
	for _, p := range parcels {
		if s.unmatched[p.APN] {
			continue
		}
		s.rows[p.APN] = p
		written++
	}
	return written, nil
}

func (s *fakeSink) WriteOne(p *models.Parcel) (bool, error) {
	s.singles = append(s.singles, p.APN)
	if s.failAPNs[p.APN] {
		return false, errors.New("write failed")
	}
	if s.unmatched[p.APN] {
		return false, nil
	}
	s.rows[p.APN] = p
	return true, nil
}

func testTransformer() *Transformer {
	return NewTransformer([]FieldMap{
		{Column: "apn", Fields: []string{"PARCEL_ID"}},
		{Column: "address", Fields: []string{"ADDR"}},
	}, false)
}

func TestRunPaginatesToCount(t *testing.T) {
	src := &fakeSource{total: 250}
	sink := newFakeSink()

	prog, err := New(src, sink, testTransformer(), Options{SourceName: "test", PageSize: 100}).Run(context.Background())
	require.NoError(t, err)

	// Three fetches, the last page coming back short from the server
	assert.Equal(t, []fetchCall{{0, 100}, {100, 100}, {200, 100}}, src.calls)
	require.Len(t, sink.batches, 3)
	assert.Len(t, sink.batches[0], 100)
	assert.Len(t, sink.batches[1], 100)
	assert.Len(t, sink.batches[2], 50)

	assert.Equal(t, 250, prog.Total)
	assert.Equal(t, 250, prog.Processed)
	assert.Equal(t, 250, prog.Succeeded)
	assert.Equal(t, 3, prog.Pages)
	assert.Zero(t, prog.Failed)
	assert.Zero(t, prog.Skipped)
	assert.Len(t, sink.rows, 250)
}

func TestRunHonorsLimit(t *testing.T) {
	src := &fakeSource{total: 250}
	sink := newFakeSink()

	prog, err := New(src, sink, testTransformer(), Options{PageSize: 100, Limit: 120}).Run(context.Background())
	require.NoError(t, err)

	// The second fetch asks only for the remainder, so no record past
	// the limit is ever pulled
	assert.Equal(t, []fetchCall{{0, 100}, {100, 20}}, src.calls)
	assert.Equal(t, 120, prog.Total)
	assert.Equal(t, 120, prog.Processed)
	assert.Equal(t, 120, prog.Succeeded)
	assert.Len(t, sink.rows, 120)
}

func TestRunLimitBeyondCount(t *testing.T) {
	src := &fakeSource{total: 30}
	sink := newFakeSink()

	prog, err := New(src, sink, testTransformer(), Options{PageSize: 100, Limit: 1000}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []fetchCall{{0, 100}}, src.calls)
	assert.Equal(t, 30, prog.Total)
	assert.Equal(t, 30, prog.Succeeded)
}

func TestRunCountFailureAborts(t *testing.T) {
	src := &fakeSource{countErr: errors.New("503 service unavailable")}
	sink := newFakeSink()

	prog, err := New(src, sink, testTransformer(), Options{PageSize: 100}).Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSourceUnavailable)
	assert.Empty(t, src.calls)
	assert.Zero(t, prog.Processed)
}

func TestRunStopsOnFetchError(t *testing.T) {
	src := &fakeSource{
		total: 300,
		errAt: map[int]error{100: errors.New("timeout")},
	}
	sink := newFakeSink()

	prog, err := New(src, sink, testTransformer(), Options{PageSize: 100}).Run(context.Background())
	require.NoError(t, err, "a mid-run fetch failure ends the run, it does not fail it")

	assert.Equal(t, []fetchCall{{0, 100}, {100, 100}}, src.calls)
	assert.Equal(t, 100, prog.Processed)
	assert.Equal(t, 100, prog.Succeeded)
	assert.Len(t, sink.rows, 100, "records before the failure stay written")
}

func TestRunStopsOnEmptyPage(t *testing.T) {
	src := &fakeSource{
		total: 500,
		features: func(offset, limit int) []gis.Feature {
			if offset >= 40 {
				return nil
			}
			out := make([]gis.Feature, 0, 40)
			for i := 0; i < 40; i++ {
				out = append(out, feature(fmt.Sprintf("APN-%05d", offset+i)))
			}
			return out
		},
	}
	sink := newFakeSink()

	prog, err := New(src, sink, testTransformer(), Options{PageSize: 40}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 40, prog.Processed)
	assert.Equal(t, 1, prog.Pages)
}

func TestRunDedupesWithinPage(t *testing.T) {
	src := &fakeSource{
		total: 5,
		features: func(offset, limit int) []gis.Feature {
			if offset > 0 {
				return nil
			}
			return []gis.Feature{
				feature("A", "ADDR", "FIRST A"),
				feature("B"),
				feature("A", "ADDR", "SECOND A"),
				feature("C"),
				feature("B"),
			}
		},
	}
	sink := newFakeSink()

	prog, err := New(src, sink, testTransformer(), Options{PageSize: 10}).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, sink.batches, 1)
	apns := make([]string, 0, len(sink.batches[0]))
	for _, p := range sink.batches[0] {
		apns = append(apns, p.APN)
	}
	assert.Equal(t, []string{"A", "B", "C"}, apns)
	assert.Equal(t, 2, prog.Duplicates)
	assert.Equal(t, 3, prog.Succeeded)

	// First record wins
	require.NotNil(t, sink.rows["A"].Address)
	assert.Equal(t, "FIRST A", *sink.rows["A"].Address)
}

func TestRunSkipsFeaturesWithoutParcelID(t *testing.T) {
	src := &fakeSource{
		total: 3,
		features: func(offset, limit int) []gis.Feature {
			if offset > 0 {
				return nil
			}
			return []gis.Feature{
				feature("A"),
				feature(""),
				feature("B"),
			}
		},
	}
	sink := newFakeSink()

	prog, err := New(src, sink, testTransformer(), Options{PageSize: 10}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, prog.Processed)
	assert.Equal(t, 2, prog.Succeeded)
	assert.Equal(t, 1, prog.Skipped)
	assert.Zero(t, prog.Failed)
}

func TestRunFallsBackPerRecord(t *testing.T) {
	src := &fakeSource{total: 10}
	sink := newFakeSink()
	sink.batchErr = errors.New("batch exploded")
	sink.failAPNs = map[string]bool{"APN-00003": true}

	prog, err := New(src, sink, testTransformer(), Options{PageSize: 10}).Run(context.Background())
	require.NoError(t, err)

	assert.Len(t, sink.singles, 10, "every record is retried individually")
	assert.Equal(t, 9, prog.Succeeded)
	assert.Equal(t, 1, prog.Failed)
	assert.Len(t, sink.rows, 9)
}

func TestRunCountsUnmatchedAsSkipped(t *testing.T) {
	src := &fakeSource{total: 10}
	sink := newFakeSink()
	sink.unmatched = map[string]bool{
		"APN-00002": true,
		"APN-00005": true,
		"APN-00008": true,
	}

	prog, err := New(src, sink, testTransformer(), Options{PageSize: 10}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 7, prog.Succeeded)
	assert.Equal(t, 3, prog.Skipped)
	assert.Zero(t, prog.Failed)
}

func TestRunDryRunWritesNothing(t *testing.T) {
	src := &fakeSource{total: 50}
	sink := newFakeSink()

	prog, err := New(src, sink, testTransformer(), Options{PageSize: 25, DryRun: true}).Run(context.Background())
	require.NoError(t, err)

	assert.Empty(t, sink.batches)
	assert.Empty(t, sink.singles)
	assert.Empty(t, sink.rows)
	assert.True(t, prog.DryRun)
	assert.Equal(t, 50, prog.Succeeded, "dry run counts what it would write")
}

func TestRunCancelled(t *testing.T) {
	src := &fakeSource{total: 100}
	sink := newFakeSink()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(src, sink, testTransformer(), Options{PageSize: 10}).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunTwiceIsIdempotent(t *testing.T) {
	sink := newFakeSink()

	for i := 0; i < 2; i++ {
		src := &fakeSource{total: 80}
		prog, err := New(src, sink, testTransformer(), Options{PageSize: 50}).Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 80, prog.Succeeded)
	}

	assert.Len(t, sink.rows, 80, "re-running the same source keeps one row per apn")
}

func TestProgressSyncRun(t *testing.T) {
	prog := &Progress{
		RunID:      "d8f3b6a0-0000-0000-0000-000000000001",
		Source:     "davis",
		DryRun:     true,
		Total:      100,
		Processed:  90,
		Succeeded:  80,
		Failed:     4,
		Skipped:    6,
		Duplicates: 2,
	}
	run := prog.SyncRun()
	assert.Equal(t, prog.RunID, run.ID)
	assert.Equal(t, "davis", run.Source)
	assert.True(t, run.DryRun)
	assert.Equal(t, 90, run.Processed)
	assert.Equal(t, 80, run.Succeeded)
	assert.Equal(t, 4, run.Failed)
	assert.Equal(t, 6, run.Skipped)
	assert.Equal(t, 2, run.Duplicates)
}
