package db

import (
	"in-house-gis/internal/models"
)

// UpsertSink writes full parcel records with INSERT ... ON CONFLICT,
// creating rows as needed.
type UpsertSink struct {
	db       *DB
	cols     []string
	withGeom bool
}

// NewUpsertSink returns a sink upserting the given column set
func NewUpsertSink(db *DB, cols []string, withGeom bool) *UpsertSink {
	return &UpsertSink{db: db, cols: cols, withGeom: withGeom}
}

func (s *UpsertSink) WriteBatch(parcels []*models.Parcel) (int, error) {
	if err := s.db.UpsertParcels(parcels, s.cols, s.withGeom); err != nil {
		return 0, err
	}
	return len(parcels), nil
}

func (s *UpsertSink) WriteOne(p *models.Parcel) (bool, error) {
	if err := s.db.UpsertParcel(p, s.cols, s.withGeom); err != nil {
		return false, err
	}
	return true, nil
}

// MergeSink overwrites the column set on rows that already exist and
// leaves everything else alone. Records with no matching row are
// reported as unwritten, not as errors.
type MergeSink struct {
	db   *DB
	cols []string
}

// NewMergeSink returns a sink merging the given column set by apn
func NewMergeSink(db *DB, cols []string) *MergeSink {
	return &MergeSink{db: db, cols: cols}
}

func (s *MergeSink) WriteBatch(parcels []*models.Parcel) (int, error) {
	matched, err := s.db.MergeParcels(parcels, s.cols)
	return int(matched), err
}

func (s *MergeSink) WriteOne(p *models.Parcel) (bool, error) {
	return s.db.MergeParcel(p, s.cols)
}

// FuncMergeSink is MergeSink routed through the batch_update_lir_fields
// database function, trading SQL size for one round trip per batch.
type FuncMergeSink struct {
	db   *DB
	cols []string
}

// NewFuncMergeSink returns a sink merging through the database function
func NewFuncMergeSink(db *DB, cols []string) *FuncMergeSink {
	return &FuncMergeSink{db: db, cols: cols}
}

func (s *FuncMergeSink) WriteBatch(parcels []*models.Parcel) (int, error) {
	matched, err := s.db.MergeParcelsFunc(parcels, s.cols)
	return int(matched), err
}

func (s *FuncMergeSink) WriteOne(p *models.Parcel) (bool, error) {
	return s.db.MergeParcel(p, s.cols)
}
