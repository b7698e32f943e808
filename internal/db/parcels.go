package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"in-house-gis/internal/models"
)

// selectColumns is the full parcel column list for reads, with geometry
// rendered back to GeoJSON.
const selectColumns = `
	id, apn, address, city, zip_code, county, fips,
	owner_type, owner_name, owner_address, owner_city, owner_state, owner_zip,
	size_acres, prop_class, taxexempt_type, primary_res,
	bldg_sqft, bldg_sqft_info, floors_cnt, floors_info,
	built_yr, effbuilt_yr, const_material,
	total_mkt_value, land_mkt_value, parcel_acres,
	house_cnt, subdiv_name, tax_dist, recorder_phone, property_url,
	ST_AsGeoJSON(geom) AS geom_json, created_at, updated_at`

// ParcelFilter contains all filter parameters for parcel queries
type ParcelFilter struct {
	County      string
	PropClass   string
	OwnerName   string
	MinAcres    *float64
	MaxAcres    *float64
	HasBuilding *bool
	// Map bounds
	SWLat *float64
	SWLng *float64
	NELat *float64
	NELng *float64
	// Pagination
	Limit  int
	Offset int
}

// ListParcels returns parcels matching the given filters
func (db *DB) ListParcels(f ParcelFilter) ([]models.Parcel, error) {
	query := "SELECT " + selectColumns + " FROM parcels WHERE 1=1"

	args := make([]interface{}, 0)
	argIndex := 1

	if f.County != "" {
		query += fmt.Sprintf(" AND county ILIKE $%d", argIndex)
		args = append(args, f.County)
		argIndex++
	}
	if f.PropClass != "" {
		query += fmt.Sprintf(" AND prop_class ILIKE $%d", argIndex)
		args = append(args, f.PropClass)
		argIndex++
	}
	if f.OwnerName != "" {
		query += fmt.Sprintf(" AND owner_name ILIKE $%d", argIndex)
		args = append(args, "%"+f.OwnerName+"%")
		argIndex++
	}

	// Acreage comes from the assessment feed when present, otherwise
	// from the county portal feed
	if f.MinAcres != nil {
		query += fmt.Sprintf(" AND COALESCE(parcel_acres, size_acres) >= $%d", argIndex)
		args = append(args, *f.MinAcres)
		argIndex++
	}
	if f.MaxAcres != nil {
		query += fmt.Sprintf(" AND COALESCE(parcel_acres, size_acres) <= $%d", argIndex)
		args = append(args, *f.MaxAcres)
		argIndex++
	}

	if f.HasBuilding != nil {
		if *f.HasBuilding {
			query += " AND bldg_sqft > 0"
		} else {
			query += " AND (bldg_sqft IS NULL OR bldg_sqft = 0)"
		}
	}

	// Map bounds filter
	if f.SWLat != nil && f.SWLng != nil && f.NELat != nil && f.NELng != nil {
		query += fmt.Sprintf(" AND geom && ST_MakeEnvelope($%d, $%d, $%d, $%d, 4326)",
			argIndex, argIndex+1, argIndex+2, argIndex+3)
		args = append(args, *f.SWLng, *f.SWLat, *f.NELng, *f.NELat)
		argIndex += 4
	}

	query += " ORDER BY apn"

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(" LIMIT %d", limit)

	if f.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", f.Offset)
	}

	var parcels []models.Parcel
	if err := db.Select(&parcels, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list parcels: %w", err)
	}
	return parcels, nil
}

// GetParcelByAPN returns a single parcel, or nil when not found
func (db *DB) GetParcelByAPN(apn string) (*models.Parcel, error) {
	query := "SELECT " + selectColumns + " FROM parcels WHERE apn = $1"

	var p models.Parcel
	err := db.Get(&p, query, apn)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get parcel: %w", err)
	}
	return &p, nil
}

// CountParcels returns total number of parcels
func (db *DB) CountParcels() (int, error) {
	var count int
	err := db.Get(&count, "SELECT COUNT(*) FROM parcels")
	return count, err
}

// SampleParcels returns the most recently updated parcels
func (db *DB) SampleParcels(limit int) ([]models.Parcel, error) {
	if limit <= 0 {
		limit = 5
	}
	query := fmt.Sprintf("SELECT %s FROM parcels ORDER BY updated_at DESC LIMIT %d", selectColumns, limit)

	var parcels []models.Parcel
	if err := db.Select(&parcels, query); err != nil {
		return nil, fmt.Errorf("failed to sample parcels: %w", err)
	}
	return parcels, nil
}

// CountyCount is one row of the per-county breakdown
type CountyCount struct {
	County  string `db:"county" json:"county"`
	Parcels int    `db:"parcels" json:"parcels"`
}

// ParcelStats summarizes the state of the parcels table
type ParcelStats struct {
	Total        int           `db:"total" json:"total"`
	WithGeometry int           `db:"with_geometry" json:"with_geometry"`
	WithBuilding int           `db:"with_building" json:"with_building"`
	Counties     []CountyCount `db:"-" json:"counties"`
	LastSync     *time.Time    `db:"-" json:"last_sync,omitempty"`
}

// GetStats returns table totals, a per-county breakdown and the time of
// the last completed (non dry-run) sync
func (db *DB) GetStats() (*ParcelStats, error) {
	var stats ParcelStats
	err := db.Get(&stats, `
		SELECT
			COUNT(*) AS total,
			COUNT(geom) AS with_geometry,
			COUNT(*) FILTER (WHERE bldg_sqft > 0) AS with_building
		FROM parcels`)
	if err != nil {
		return nil, fmt.Errorf("failed to get parcel stats: %w", err)
	}

	err = db.Select(&stats.Counties, `
		SELECT county, COUNT(*) AS parcels
		FROM parcels
		WHERE county IS NOT NULL
		GROUP BY county
		ORDER BY parcels DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to get county breakdown: %w", err)
	}

	err = db.Get(&stats.LastSync, "SELECT MAX(finished_at) FROM sync_runs WHERE NOT dry_run")
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to get last sync time: %w", err)
	}

	return &stats, nil
}

// buildUpsert builds a multi-row INSERT ... ON CONFLICT statement. cols
// is the mapped column set excluding apn; only those columns are
// updated on conflict, so columns owned by other feeds keep their
// values.
func buildUpsert(parcels []*models.Parcel, cols []string, withGeom bool) (string, []interface{}, error) {
	insertCols := append([]string{"apn"}, cols...)
	if withGeom {
		insertCols = append(insertCols, "geom")
	}

	var sb strings.Builder
	sb.WriteString("INSERT INTO parcels (")
	sb.WriteString(strings.Join(insertCols, ", "))
	sb.WriteString(") VALUES ")

	args := make([]interface{}, 0, len(parcels)*len(insertCols))
	argIndex := 1
	for i, p := range parcels {
		row := make([]string, 0, len(insertCols))

		row = append(row, fmt.Sprintf("$%d", argIndex))
		args = append(args, p.APN)
		argIndex++

		for _, c := range cols {
			v, ok := p.Value(c)
			if !ok {
				return "", nil, fmt.Errorf("unknown column %q", c)
			}
			row = append(row, fmt.Sprintf("$%d", argIndex))
			args = append(args, v)
			argIndex++
		}

		if withGeom {
			row = append(row, fmt.Sprintf("ST_SetSRID(ST_GeomFromGeoJSON($%d), 4326)", argIndex))
			args = append(args, p.GeomJSON)
			argIndex++
		}

		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(")
		sb.WriteString(strings.Join(row, ", "))
		sb.WriteString(")")
	}

	sets := make([]string, 0, len(cols)+2)
	for _, c := range cols {
		sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", c, c))
	}
	if withGeom {
		sets = append(sets, "geom = EXCLUDED.geom")
	}
	sets = append(sets, "updated_at = now()")

	sb.WriteString(" ON CONFLICT (apn) DO UPDATE SET ")
	sb.WriteString(strings.Join(sets, ", "))

	return sb.String(), args, nil
}

// UpsertParcels inserts a batch in one statement, updating the mapped
// columns when the apn already exists
func (db *DB) UpsertParcels(parcels []*models.Parcel, cols []string, withGeom bool) error {
	if len(parcels) == 0 {
		return nil
	}
	query, args, err := buildUpsert(parcels, cols, withGeom)
	if err != nil {
		return err
	}
	if _, err := db.Exec(query, args...); err != nil {
		return fmt.Errorf("failed to upsert parcels: %w", err)
	}
	return nil
}

// UpsertParcel inserts or updates a single parcel
func (db *DB) UpsertParcel(p *models.Parcel, cols []string, withGeom bool) error {
	return db.UpsertParcels([]*models.Parcel{p}, cols, withGeom)
}

// castFor returns the explicit cast a VALUES column needs. Text needs
// none; numerics and integers must be cast because a VALUES list gives
// the parameter no type context.
func castFor(col string) string {
	switch models.ColumnType(col) {
	case models.TypeNumeric:
		return "::numeric"
	case models.TypeInteger:
		return "::integer"
	default:
		return ""
	}
}

// buildMergeUpdate builds an UPDATE ... FROM (VALUES ...) statement
// that overwrites cols on rows whose apn matches. Rows with no match
// are left alone, as are columns outside the set.
func buildMergeUpdate(parcels []*models.Parcel, cols []string) (string, []interface{}, error) {
	var sb strings.Builder
	sb.WriteString("UPDATE parcels SET ")

	sets := make([]string, 0, len(cols)+1)
	for _, c := range cols {
		sets = append(sets, fmt.Sprintf("%s = v.%s", c, c))
	}
	sets = append(sets, "updated_at = now()")
	sb.WriteString(strings.Join(sets, ", "))

	sb.WriteString(" FROM (VALUES ")
	args := make([]interface{}, 0, len(parcels)*(len(cols)+1))
	argIndex := 1
	for i, p := range parcels {
		row := make([]string, 0, len(cols)+1)

		row = append(row, fmt.Sprintf("$%d", argIndex))
		args = append(args, p.APN)
		argIndex++

		for _, c := range cols {
			v, ok := p.Value(c)
			if !ok {
				return "", nil, fmt.Errorf("unknown column %q", c)
			}
			row = append(row, fmt.Sprintf("$%d%s", argIndex, castFor(c)))
			args = append(args, v)
			argIndex++
		}

		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(")
		sb.WriteString(strings.Join(row, ", "))
		sb.WriteString(")")
	}

	sb.WriteString(") AS v (apn")
	for _, c := range cols {
		sb.WriteString(", ")
		sb.WriteString(c)
	}
	sb.WriteString(") WHERE parcels.apn = v.apn")

	return sb.String(), args, nil
}

// MergeParcels updates existing rows from a batch and returns how many
// matched. Parcels with no existing row are not created.
func (db *DB) MergeParcels(parcels []*models.Parcel, cols []string) (int64, error) {
	if len(parcels) == 0 {
		return 0, nil
	}
	query, args, err := buildMergeUpdate(parcels, cols)
	if err != nil {
		return 0, err
	}
	res, err := db.Exec(query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to merge parcels: %w", err)
	}
	matched, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read merge row count: %w", err)
	}
	return matched, nil
}

// MergeParcel updates a single existing row. Returns false when no row
// has the parcel's apn.
func (db *DB) MergeParcel(p *models.Parcel, cols []string) (bool, error) {
	sets := make([]string, 0, len(cols)+1)
	args := make([]interface{}, 0, len(cols)+1)
	args = append(args, p.APN)
	argIndex := 2
	for _, c := range cols {
		v, ok := p.Value(c)
		if !ok {
			return false, fmt.Errorf("unknown column %q", c)
		}
		sets = append(sets, fmt.Sprintf("%s = $%d", c, argIndex))
		args = append(args, v)
		argIndex++
	}
	sets = append(sets, "updated_at = now()")

	query := fmt.Sprintf("UPDATE parcels SET %s WHERE apn = $1", strings.Join(sets, ", "))
	res, err := db.Exec(query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to merge parcel: %w", err)
	}
	matched, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read merge row count: %w", err)
	}
	return matched > 0, nil
}

// buildMergePayload encodes a batch as the JSON array of row objects
// that batch_update_lir_fields expects
func buildMergePayload(parcels []*models.Parcel, cols []string) ([]byte, error) {
	rows := make([]map[string]interface{}, 0, len(parcels))
	for _, p := range parcels {
		row := map[string]interface{}{"apn": p.APN}
		for _, c := range cols {
			v, ok := p.Value(c)
			if !ok {
				return nil, fmt.Errorf("unknown column %q", c)
			}
			row[c] = v
		}
		rows = append(rows, row)
	}
	return json.Marshal(rows)
}

// MergeParcelsFunc merges a batch through the batch_update_lir_fields
// database function, one round trip per batch
func (db *DB) MergeParcelsFunc(parcels []*models.Parcel, cols []string) (int64, error) {
	if len(parcels) == 0 {
		return 0, nil
	}
	payload, err := buildMergePayload(parcels, cols)
	if err != nil {
		return 0, fmt.Errorf("failed to encode updates: %w", err)
	}

	var updated int64
	if err := db.Get(&updated, "SELECT batch_update_lir_fields($1::jsonb)", string(payload)); err != nil {
		return 0, fmt.Errorf("failed to merge parcels: %w", err)
	}
	return updated, nil
}

// Clear empties the parcels table before a full reload. The fast path
// is the truncate_parcels() helper; when that function is missing the
// fallback deletes rows instead, which is slow on large tables.
func (db *DB) Clear() error {
	_, err := db.Exec("SELECT truncate_parcels()")
	if err == nil {
		return nil
	}
	if !isMissingFunction(err) {
		return fmt.Errorf("failed to clear parcels: %w", err)
	}

	log.Warn().Msg("truncate_parcels() not found, falling back to DELETE (slow on large tables)")
	if _, err := db.Exec("DELETE FROM parcels"); err != nil {
		return fmt.Errorf("failed to clear parcels: %w", err)
	}
	return nil
}

// isMissingFunction reports whether err is Postgres undefined_function
func isMissingFunction(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "42883"
	}
	return false
}

// IsAuthError reports whether err is a database authentication failure,
// as opposed to a bad query or an unreachable host
func IsAuthError(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "28000" || pqErr.Code == "28P01"
	}
	return false
}

// RecordSyncRun stores the outcome of a sync invocation
func (db *DB) RecordSyncRun(run *models.SyncRun) error {
	query := `
		INSERT INTO sync_runs (
			id, source, dry_run, total, processed,
			succeeded, failed, skipped, duplicates,
			started_at, finished_at
		) VALUES (
			:id, :source, :dry_run, :total, :processed,
			:succeeded, :failed, :skipped, :duplicates,
			:started_at, :finished_at
		)`
	if _, err := db.NamedExec(query, run); err != nil {
		return fmt.Errorf("failed to record sync run: %w", err)
	}
	return nil
}

// LatestSyncRuns returns the most recent sync runs, newest first
func (db *DB) LatestSyncRuns(limit int) ([]models.SyncRun, error) {
	if limit <= 0 {
		limit = 20
	}
	query := fmt.Sprintf(`
		SELECT id, source, dry_run, total, processed,
		       succeeded, failed, skipped, duplicates,
		       started_at, finished_at
		FROM sync_runs
		ORDER BY started_at DESC
		LIMIT %d`, limit)

	var runs []models.SyncRun
	if err := db.Select(&runs, query); err != nil {
		return nil, fmt.Errorf("failed to list sync runs: %w", err)
	}
	return runs, nil
}
