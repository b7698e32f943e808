package syncer

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"in-house-gis/internal/gis"
)

func TestSafeString(t *testing.T) {
	tests := []struct {
		name string
		in   interface{}
		want *string
	}{
		{"nil", nil, nil},
		{"empty", "", nil},
		{"whitespace only", "   ", nil},
		{"trimmed", "  123 MAIN ST  ", strPtr("123 MAIN ST")},
		{"integral float keeps no decimal", 84025.0, strPtr("84025")},
		{"fractional float", 2.5, strPtr("2.5")},
		{"bool", true, strPtr("true")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := safeString(tt.in)
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, *tt.want, *got)
		})
	}
}

func TestSafeFloat(t *testing.T) {
	tests := []struct {
		name string
		in   interface{}
		want *float64
	}{
		{"nil", nil, nil},
		{"float", 2.5, floatPtr(2.5)},
		{"int", 42, floatPtr(42)},
		{"numeric string", "2.5", floatPtr(2.5)},
		{"string with commas", " 1,234.5 ", floatPtr(1234.5)},
		{"empty string", "", nil},
		{"garbage", "N/A", nil},
		{"bool", true, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := safeFloat(tt.in)
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, *tt.want, *got)
		})
	}
}

func TestSafeInt(t *testing.T) {
	tests := []struct {
		name string
		in   interface{}
		want *int
	}{
		{"nil", nil, nil},
		{"float", 1995.0, intPtr(1995)},
		{"fraction truncates", 1995.7, intPtr(1995)},
		{"numeric string", "1995", intPtr(1995)},
		{"garbage", "unknown", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := safeInt(tt.in)
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, *tt.want, *got)
		})
	}
}

func TestTransformCandidateChain(t *testing.T) {
	tr := NewTransformer([]FieldMap{
		{Column: "apn", Fields: []string{"PARCEL_ID", "PARCELID", "APN"}},
	}, false)

	t.Run("first candidate wins", func(t *testing.T) {
		p, err := tr.Transform(gis.Feature{Attrs: map[string]interface{}{
			"PARCEL_ID": "01-001-0001",
			"PARCELID":  "other",
		}})
		require.NoError(t, err)
		assert.Equal(t, "01-001-0001", p.APN)
	})

	t.Run("falls through missing and empty candidates", func(t *testing.T) {
		p, err := tr.Transform(gis.Feature{Attrs: map[string]interface{}{
			"PARCEL_ID": "",
			"APN":       "01-001-0002",
		}})
		require.NoError(t, err)
		assert.Equal(t, "01-001-0002", p.APN)
	})

	t.Run("numeric id becomes string", func(t *testing.T) {
		p, err := tr.Transform(gis.Feature{Attrs: map[string]interface{}{
			"PARCEL_ID": 110010003.0,
		}})
		require.NoError(t, err)
		assert.Equal(t, "110010003", p.APN)
	})
}

func TestTransformNoParcelID(t *testing.T) {
	tr := NewTransformer([]FieldMap{
		{Column: "apn", Fields: []string{"PARCEL_ID"}},
		{Column: "address", Fields: []string{"PARCEL_ADD"}},
	}, false)

	_, err := tr.Transform(gis.Feature{Attrs: map[string]interface{}{
		"PARCEL_ADD": "123 MAIN ST",
	}})
	assert.ErrorIs(t, err, ErrNoParcelID)
}

func TestTransformJoin(t *testing.T) {
	tr := NewTransformer([]FieldMap{
		{Column: "apn", Fields: []string{"PARCEL_ID"}},
		{Column: "owner_address", Join: []string{"MailLine1", "MailLine2", "MailLine3"}},
	}, false)

	t.Run("joins present parts", func(t *testing.T) {
		p, err := tr.Transform(gis.Feature{Attrs: map[string]interface{}{
			"PARCEL_ID": "01-001-0001",
			"MailLine1": "PO BOX 618",
			"MailLine3": "FARMINGTON UT 84025",
		}})
		require.NoError(t, err)
		require.NotNil(t, p.OwnerAddress)
		assert.Equal(t, "PO BOX 618, FARMINGTON UT 84025", *p.OwnerAddress)
	})

	t.Run("all parts missing leaves null", func(t *testing.T) {
		p, err := tr.Transform(gis.Feature{Attrs: map[string]interface{}{
			"PARCEL_ID": "01-001-0001",
		}})
		require.NoError(t, err)
		assert.Nil(t, p.OwnerAddress)
	})
}

func TestTransformConst(t *testing.T) {
	tr := NewTransformer([]FieldMap{
		{Column: "apn", Fields: []string{"PARCEL_ID"}},
		{Column: "county", Const: "Davis"},
		{Column: "property_url", Fields: []string{"CoParcel_URL"}, Const: "https://example.test/search"},
	}, false)

	t.Run("const fills fixed value", func(t *testing.T) {
		p, err := tr.Transform(gis.Feature{Attrs: map[string]interface{}{
			"PARCEL_ID": "01-001-0001",
		}})
		require.NoError(t, err)
		require.NotNil(t, p.County)
		assert.Equal(t, "Davis", *p.County)
		require.NotNil(t, p.PropertyURL)
		assert.Equal(t, "https://example.test/search", *p.PropertyURL)
	})

	t.Run("field beats const fallback", func(t *testing.T) {
		p, err := tr.Transform(gis.Feature{Attrs: map[string]interface{}{
			"PARCEL_ID":    "01-001-0001",
			"CoParcel_URL": "https://county.test/p/01-001-0001",
		}})
		require.NoError(t, err)
		require.NotNil(t, p.PropertyURL)
		assert.Equal(t, "https://county.test/p/01-001-0001", *p.PropertyURL)
	})
}

func TestTransformNumericCoercion(t *testing.T) {
	tr := NewTransformer([]FieldMap{
		{Column: "apn", Fields: []string{"PARCEL_ID"}},
		{Column: "bldg_sqft", Type: "float", Fields: []string{"BLDG_SQFT"}},
		{Column: "built_yr", Type: "int", Fields: []string{"BUILT_YR"}},
		{Column: "total_mkt_value", Type: "float", Fields: []string{"TOTAL_MKT_VALUE"}},
	}, false)

	p, err := tr.Transform(gis.Feature{Attrs: map[string]interface{}{
		"PARCEL_ID":       "01-001-0001",
		"BLDG_SQFT":       "2,150",
		"BUILT_YR":        1995.0,
		"TOTAL_MKT_VALUE": "not assessed",
	}})
	require.NoError(t, err)

	require.NotNil(t, p.BldgSqft)
	assert.Equal(t, 2150.0, *p.BldgSqft)
	require.NotNil(t, p.BuiltYr)
	assert.Equal(t, 1995, *p.BuiltYr)
	assert.Nil(t, p.TotalMktValue, "unparseable values load as NULL")
}

func TestTransformGeometry(t *testing.T) {
	mapping := []FieldMap{{Column: "apn", Fields: []string{"PARCEL_ID"}}}
	attrs := map[string]interface{}{"PARCEL_ID": "01-001-0001"}
	poly := &gis.Geometry{Type: "Polygon", Coordinates: json.RawMessage(`[[[0,0],[1,0],[1,1],[0,0]]]`)}

	t.Run("polygon wrapped to multipolygon", func(t *testing.T) {
		p, err := NewTransformer(mapping, true).Transform(gis.Feature{Attrs: attrs, Geometry: poly})
		require.NoError(t, err)
		require.NotNil(t, p.GeomJSON)

		var g gis.Geometry
		require.NoError(t, json.Unmarshal([]byte(*p.GeomJSON), &g))
		assert.Equal(t, "MultiPolygon", g.Type)
	})

	t.Run("multipolygon kept as is", func(t *testing.T) {
		mp := &gis.Geometry{Type: "MultiPolygon", Coordinates: json.RawMessage(`[[[[0,0],[1,0],[1,1],[0,0]]]]`)}
		p, err := NewTransformer(mapping, true).Transform(gis.Feature{Attrs: attrs, Geometry: mp})
		require.NoError(t, err)
		require.NotNil(t, p.GeomJSON)
		assert.Contains(t, *p.GeomJSON, `"MultiPolygon"`)
	})

	t.Run("unsupported type dropped", func(t *testing.T) {
		pt := &gis.Geometry{Type: "Point", Coordinates: json.RawMessage(`[0,0]`)}
		p, err := NewTransformer(mapping, true).Transform(gis.Feature{Attrs: attrs, Geometry: pt})
		require.NoError(t, err)
		assert.Nil(t, p.GeomJSON)
	})

	t.Run("geometry ignored when source does not carry it", func(t *testing.T) {
		p, err := NewTransformer(mapping, false).Transform(gis.Feature{Attrs: attrs, Geometry: poly})
		require.NoError(t, err)
		assert.Nil(t, p.GeomJSON)
	})
}

func strPtr(s string) *string { return &s }

func floatPtr(f float64) *float64 { return &f }

func intPtr(n int) *int { return &n }
