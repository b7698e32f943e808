package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"in-house-gis/internal/gis"
	"in-house-gis/internal/models"
)

// ErrSourceUnavailable wraps count failures, which abort a run before
// any page is fetched. Mid-run fetch failures stop the run instead.
var ErrSourceUnavailable = errors.New("source unavailable")

// Source provides raw features with offset pagination
type Source interface {
	Count(ctx context.Context) (int, error)
	FetchPage(ctx context.Context, offset, limit int) ([]gis.Feature, error)
}

// Sink writes transformed records to the destination. WriteBatch
// reports how many records it wrote; fewer than the batch size means
// the rest had no matching row. When WriteBatch errors the engine
// retries each record through WriteOne, so one bad record cannot sink
// a whole page.
type Sink interface {
	WriteBatch(parcels []*models.Parcel) (int, error)
	WriteOne(p *models.Parcel) (bool, error)
}

// Options tune one sync run
type Options struct {
	SourceName string
	Limit      int           // stop after this many records, 0 for all
	PageSize   int
	Delay      time.Duration // pause between pages
	DryRun     bool          // fetch and transform but write nothing
}

// Progress is the outcome of a run
type Progress struct {
	RunID      string
	Source     string
	DryRun     bool
	Total      int // records the source reports, clamped to the limit
	Processed  int // features fetched
	Succeeded  int
	Failed     int
	Skipped    int
	Duplicates int
	Pages      int
	StartedAt  time.Time
	FinishedAt time.Time
}

// SyncRun converts run progress to its audit row
func (p *Progress) SyncRun() *models.SyncRun {
	return &models.SyncRun{
		ID:         p.RunID,
		Source:     p.Source,
		DryRun:     p.DryRun,
		Total:      p.Total,
		Processed:  p.Processed,
		Succeeded:  p.Succeeded,
		Failed:     p.Failed,
		Skipped:    p.Skipped,
		Duplicates: p.Duplicates,
		StartedAt:  p.StartedAt,
		FinishedAt: p.FinishedAt,
	}
}

// Engine drives one source-to-sink sync. It is strictly sequential:
// one page in flight, one batch written, a pause, then the next page.
type Engine struct {
	source    Source
	sink      Sink
	transform *Transformer
	opts      Options
	log       zerolog.Logger
}

// New creates an engine for one run
func New(source Source, sink Sink, transform *Transformer, opts Options) *Engine {
	if opts.PageSize <= 0 {
		opts.PageSize = 1000
	}
	return &Engine{
		source:    source,
		sink:      sink,
		transform: transform,
		opts:      opts,
		log:       log.With().Str("source", opts.SourceName).Logger(),
	}
}

// Run fetches, transforms and writes until the feed is exhausted, the
// limit is reached or ctx is cancelled. Partial progress is returned
// alongside any error.
func (e *Engine) Run(ctx context.Context) (*Progress, error) {
	prog := &Progress{
		RunID:     uuid.New().String(),
		Source:    e.opts.SourceName,
		DryRun:    e.opts.DryRun,
		StartedAt: time.Now().UTC(),
	}
	defer func() { prog.FinishedAt = time.Now().UTC() }()

	total, err := e.source.Count(ctx)
	if err != nil {
		return prog, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}
	e.log.Info().Str("run_id", prog.RunID).Int("available", total).Bool("dry_run", e.opts.DryRun).Msg("starting sync")

	if e.opts.Limit > 0 && e.opts.Limit < total {
		e.log.Info().Int("limit", e.opts.Limit).Msg("limiting run")
		total = e.opts.Limit
	}
	prog.Total = total

	offset := 0
	for offset < total {
		want := e.opts.PageSize
		if e.opts.Limit > 0 && offset+want > e.opts.Limit {
			want = e.opts.Limit - offset
		}

		features, err := e.source.FetchPage(ctx, offset, want)
		if err != nil {
			if ctx.Err() != nil {
				return prog, ctx.Err()
			}
			// A bad page ends the run; everything before it stays
			e.log.Warn().Err(err).Int("offset", offset).Msg("fetch failed, stopping run")
			break
		}
		if len(features) == 0 {
			e.log.Info().Int("offset", offset).Msg("no more features")
			break
		}

		prog.Pages++
		prog.Processed += len(features)

		batch := e.buildBatch(features, prog)

		if e.opts.DryRun {
			prog.Succeeded += len(batch)
			if offset == 0 && len(batch) > 0 {
				e.logSample(batch[0])
			}
		} else if len(batch) > 0 {
			e.writeBatch(batch, prog)
		}

		offset += len(features)
		e.log.Debug().Int("offset", offset).Int("page", prog.Pages).Int("records", len(features)).Msg("page done")

		if offset < total && e.opts.Delay > 0 {
			select {
			case <-ctx.Done():
				return prog, ctx.Err()
			case <-time.After(e.opts.Delay):
			}
		}
	}

	e.log.Info().
		Int("processed", prog.Processed).
		Int("succeeded", prog.Succeeded).
		Int("failed", prog.Failed).
		Int("skipped", prog.Skipped).
		Int("duplicates", prog.Duplicates).
		Int("pages", prog.Pages).
		Msg("sync complete")
	return prog, nil
}

// buildBatch transforms a page and drops in-page duplicates, keeping
// the first record for each apn
func (e *Engine) buildBatch(features []gis.Feature, prog *Progress) []*models.Parcel {
	batch := make([]*models.Parcel, 0, len(features))
	seen := make(map[string]struct{}, len(features))
	for _, f := range features {
		p, err := e.transform.Transform(f)
		if err != nil {
			prog.Skipped++
			if !errors.Is(err, ErrNoParcelID) {
				e.log.Warn().Err(err).Msg("skipping feature")
			}
			continue
		}
		if _, dup := seen[p.APN]; dup {
			prog.Duplicates++
			continue
		}
		seen[p.APN] = struct{}{}
		batch = append(batch, p)
	}
	return batch
}

// writeBatch writes one batch, falling back to record-by-record when
// the batch write fails
func (e *Engine) writeBatch(batch []*models.Parcel, prog *Progress) {
	written, err := e.sink.WriteBatch(batch)
	if err == nil {
		prog.Succeeded += written
		prog.Skipped += len(batch) - written
		return
	}

	e.log.Warn().Err(err).Int("size", len(batch)).Msg("batch write failed, retrying records individually")
	for _, p := range batch {
		ok, err := e.sink.WriteOne(p)
		switch {
		case err != nil:
			prog.Failed++
			e.log.Warn().Err(err).Str("apn", p.APN).Msg("record write failed")
		case ok:
			prog.Succeeded++
		default:
			prog.Skipped++
		}
	}
}

// logSample shows what the first transformed record looks like, so a
// dry run gives something concrete to eyeball
func (e *Engine) logSample(p *models.Parcel) {
	ev := e.log.Info().Str("apn", p.APN)
	if p.Address != nil {
		ev.Str("address", *p.Address)
	}
	if p.OwnerName != nil {
		ev.Str("owner_name", *p.OwnerName)
	}
	if p.PropClass != nil {
		ev.Str("prop_class", *p.PropClass)
	}
	if p.BldgSqft != nil {
		ev.Float64("bldg_sqft", *p.BldgSqft)
	}
	if p.BuiltYr != nil {
		ev.Int("built_yr", *p.BuiltYr)
	}
	if p.TotalMktValue != nil {
		ev.Float64("total_mkt_value", *p.TotalMktValue)
	}
	if p.SizeAcres != nil {
		ev.Float64("size_acres", *p.SizeAcres)
	}
	if p.ParcelAcres != nil {
		ev.Float64("parcel_acres", *p.ParcelAcres)
	}
	ev.Bool("has_geometry", p.GeomJSON != nil).Msg("sample record")
}
