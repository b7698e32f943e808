package models

import (
	"time"
)

// Parcel represents one row of the parcels table, keyed by APN.
// Nullable columns use pointers so a missing source value maps to NULL
// instead of a zero value. Geometry travels as a GeoJSON string
// (MultiPolygon); the store converts it to and from PostGIS.
type Parcel struct {
	ID      int64   `db:"id" json:"id"`
	APN     string  `db:"apn" json:"apn"`
	Address *string `db:"address" json:"address,omitempty"`
	City    *string `db:"city" json:"city,omitempty"`
	ZipCode *string `db:"zip_code" json:"zip_code,omitempty"`
	County  *string `db:"county" json:"county,omitempty"`
	FIPS    *string `db:"fips" json:"fips,omitempty"`

	// Owner information from the county GIS portal feed
	OwnerType    *string `db:"owner_type" json:"owner_type,omitempty"`
	OwnerName    *string `db:"owner_name" json:"owner_name,omitempty"`
	OwnerAddress *string `db:"owner_address" json:"owner_address,omitempty"`
	OwnerCity    *string `db:"owner_city" json:"owner_city,omitempty"`
	OwnerState   *string `db:"owner_state" json:"owner_state,omitempty"`
	OwnerZip     *string `db:"owner_zip" json:"owner_zip,omitempty"`

	SizeAcres *float64 `db:"size_acres" json:"size_acres,omitempty"`

	// Property classification from the LIR feed
	PropClass     *string `db:"prop_class" json:"prop_class,omitempty"`
	TaxexemptType *string `db:"taxexempt_type" json:"taxexempt_type,omitempty"`
	PrimaryRes    *string `db:"primary_res" json:"primary_res,omitempty"`

	// Building details from the LIR feed
	BldgSqft      *float64 `db:"bldg_sqft" json:"bldg_sqft,omitempty"`
	BldgSqftInfo  *string  `db:"bldg_sqft_info" json:"bldg_sqft_info,omitempty"`
	FloorsCnt     *float64 `db:"floors_cnt" json:"floors_cnt,omitempty"`
	FloorsInfo    *string  `db:"floors_info" json:"floors_info,omitempty"`
	BuiltYr       *int     `db:"built_yr" json:"built_yr,omitempty"`
	EffbuiltYr    *int     `db:"effbuilt_yr" json:"effbuilt_yr,omitempty"`
	ConstMaterial *string  `db:"const_material" json:"const_material,omitempty"`

	// Market values from the LIR feed
	TotalMktValue *float64 `db:"total_mkt_value" json:"total_mkt_value,omitempty"`
	LandMktValue  *float64 `db:"land_mkt_value" json:"land_mkt_value,omitempty"`

	ParcelAcres *float64 `db:"parcel_acres" json:"parcel_acres,omitempty"`
	HouseCnt    *string  `db:"house_cnt" json:"house_cnt,omitempty"`
	SubdivName  *string  `db:"subdiv_name" json:"subdiv_name,omitempty"`
	TaxDist     *string  `db:"tax_dist" json:"tax_dist,omitempty"`

	RecorderPhone *string `db:"recorder_phone" json:"recorder_phone,omitempty"`
	PropertyURL   *string `db:"property_url" json:"property_url,omitempty"`

	// GeoJSON MultiPolygon, or nil when the source carries no geometry
	GeomJSON *string `db:"geom_json" json:"geometry,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Column types used when a SQL statement needs an explicit cast.
const (
	TypeText    = "text"
	TypeNumeric = "numeric"
	TypeInteger = "integer"
)

// parcelColumns maps every syncable destination column to its SQL type.
// This is the single schema table shared by the transform layer and the
// SQL builders; id, geometry and timestamps are handled separately.
var parcelColumns = map[string]string{
	"apn":             TypeText,
	"address":         TypeText,
	"city":            TypeText,
	"zip_code":        TypeText,
	"county":          TypeText,
	"fips":            TypeText,
	"owner_type":      TypeText,
	"owner_name":      TypeText,
	"owner_address":   TypeText,
	"owner_city":      TypeText,
	"owner_state":     TypeText,
	"owner_zip":       TypeText,
	"size_acres":      TypeNumeric,
	"prop_class":      TypeText,
	"taxexempt_type":  TypeText,
	"primary_res":     TypeText,
	"bldg_sqft":       TypeNumeric,
	"bldg_sqft_info":  TypeText,
	"floors_cnt":      TypeNumeric,
	"floors_info":     TypeText,
	"built_yr":        TypeInteger,
	"effbuilt_yr":     TypeInteger,
	"const_material":  TypeText,
	"total_mkt_value": TypeNumeric,
	"land_mkt_value":  TypeNumeric,
	"parcel_acres":    TypeNumeric,
	"house_cnt":       TypeText,
	"subdiv_name":     TypeText,
	"tax_dist":        TypeText,
	"recorder_phone":  TypeText,
	"property_url":    TypeText,
}

// HasColumn reports whether name is a known syncable destination column.
func HasColumn(name string) bool {
	_, ok := parcelColumns[name]
	return ok
}

// ColumnType returns the SQL type of a known column ("" if unknown).
func ColumnType(name string) string {
	return parcelColumns[name]
}

// stringField returns the *string field backing a text column.
func (p *Parcel) stringField(column string) **string {
	switch column {
	case "address":
		return &p.Address
	case "city":
		return &p.City
	case "zip_code":
		return &p.ZipCode
	case "county":
		return &p.County
	case "fips":
		return &p.FIPS
	case "owner_type":
		return &p.OwnerType
	case "owner_name":
		return &p.OwnerName
	case "owner_address":
		return &p.OwnerAddress
	case "owner_city":
		return &p.OwnerCity
	case "owner_state":
		return &p.OwnerState
	case "owner_zip":
		return &p.OwnerZip
	case "prop_class":
		return &p.PropClass
	case "taxexempt_type":
		return &p.TaxexemptType
	case "primary_res":
		return &p.PrimaryRes
	case "bldg_sqft_info":
		return &p.BldgSqftInfo
	case "floors_info":
		return &p.FloorsInfo
	case "const_material":
		return &p.ConstMaterial
	case "house_cnt":
		return &p.HouseCnt
	case "subdiv_name":
		return &p.SubdivName
	case "tax_dist":
		return &p.TaxDist
	case "recorder_phone":
		return &p.RecorderPhone
	case "property_url":
		return &p.PropertyURL
	}
	return nil
}

// floatField returns the *float64 field backing a numeric column.
func (p *Parcel) floatField(column string) **float64 {
	switch column {
	case "size_acres":
		return &p.SizeAcres
	case "bldg_sqft":
		return &p.BldgSqft
	case "floors_cnt":
		return &p.FloorsCnt
	case "total_mkt_value":
		return &p.TotalMktValue
	case "land_mkt_value":
		return &p.LandMktValue
	case "parcel_acres":
		return &p.ParcelAcres
	}
	return nil
}

// intField returns the *int field backing an integer column.
func (p *Parcel) intField(column string) **int {
	switch column {
	case "built_yr":
		return &p.BuiltYr
	case "effbuilt_yr":
		return &p.EffbuiltYr
	}
	return nil
}

// SetString assigns a text column. Returns false for unknown columns.
func (p *Parcel) SetString(column, value string) bool {
	if column == "apn" {
		p.APN = value
		return true
	}
	f := p.stringField(column)
	if f == nil {
		return false
	}
	*f = &value
	return true
}

// SetFloat assigns a numeric column. Returns false for unknown columns.
func (p *Parcel) SetFloat(column string, value float64) bool {
	f := p.floatField(column)
	if f == nil {
		return false
	}
	*f = &value
	return true
}

// SetInt assigns an integer column. Returns false for unknown columns.
func (p *Parcel) SetInt(column string, value int) bool {
	f := p.intField(column)
	if f == nil {
		return false
	}
	*f = &value
	return true
}

// Value returns the column's current value as a database argument
// (a possibly-nil pointer, which database/sql turns into NULL).
// The second return is false for unknown columns.
func (p *Parcel) Value(column string) (any, bool) {
	if column == "apn" {
		return p.APN, true
	}
	if f := p.stringField(column); f != nil {
		return *f, true
	}
	if f := p.floatField(column); f != nil {
		return *f, true
	}
	if f := p.intField(column); f != nil {
		return *f, true
	}
	return nil, false
}

// SyncRun records the outcome of one sync invocation.
type SyncRun struct {
	ID         string    `db:"id" json:"id"`
	Source     string    `db:"source" json:"source"`
	DryRun     bool      `db:"dry_run" json:"dry_run"`
	Total      int       `db:"total" json:"total"`
	Processed  int       `db:"processed" json:"processed"`
	Succeeded  int       `db:"succeeded" json:"succeeded"`
	Failed     int       `db:"failed" json:"failed"`
	Skipped    int       `db:"skipped" json:"skipped"`
	Duplicates int       `db:"duplicates" json:"duplicates"`
	StartedAt  time.Time `db:"started_at" json:"started_at"`
	FinishedAt time.Time `db:"finished_at" json:"finished_at"`
}
