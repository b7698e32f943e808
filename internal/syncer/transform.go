package syncer

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"in-house-gis/internal/gis"
	"in-house-gis/internal/models"
)

// ErrNoParcelID marks features with no usable parcel number. They
// cannot be keyed, so callers count them as skipped rather than failed.
var ErrNoParcelID = errors.New("feature has no parcel id")

// FieldMap maps one destination column to source attributes. Exactly
// one extraction mode applies per column:
//   - Fields: candidate attribute names, first usable value wins
//   - Join: attribute values joined with ", ", empty parts dropped
//   - Const alone: a fixed value
//
// Const combined with Fields acts as the fallback when no candidate
// yields a value.
type FieldMap struct {
	Column string   `yaml:"column"`
	Type   string   `yaml:"type,omitempty"`
	Fields []string `yaml:"fields,omitempty"`
	Join   []string `yaml:"join,omitempty"`
	Const  string   `yaml:"const,omitempty"`
}

// Transformer builds parcel records from raw features using a source's
// field mappings.
type Transformer struct {
	mappings []FieldMap
	geometry bool
}

// NewTransformer returns a transformer for the given mappings. When
// geometry is set, feature geometry is normalized to MultiPolygon and
// carried on the record.
func NewTransformer(mappings []FieldMap, geometry bool) *Transformer {
	return &Transformer{mappings: mappings, geometry: geometry}
}

// Transform converts one raw feature into a parcel record. Features
// without a parcel number return ErrNoParcelID.
func (t *Transformer) Transform(f gis.Feature) (*models.Parcel, error) {
	p := &models.Parcel{}
	for _, m := range t.mappings {
		t.apply(p, m, f.Attrs)
	}
	if p.APN == "" {
		return nil, ErrNoParcelID
	}

	if t.geometry {
		if mp := gis.EnsureMultiPolygon(f.Geometry); mp != nil {
			s, err := mp.ToJSON()
			if err != nil {
				return nil, fmt.Errorf("encoding geometry for %s: %w", p.APN, err)
			}
			p.GeomJSON = &s
		}
	}
	return p, nil
}

func (t *Transformer) apply(p *models.Parcel, m FieldMap, attrs map[string]interface{}) {
	if len(m.Join) > 0 {
		parts := make([]string, 0, len(m.Join))
		for _, name := range m.Join {
			if s := safeString(attrs[name]); s != nil {
				parts = append(parts, *s)
			}
		}
		if len(parts) > 0 {
			p.SetString(m.Column, strings.Join(parts, ", "))
		}
		return
	}

	for _, name := range m.Fields {
		v, ok := attrs[name]
		if !ok || v == nil {
			continue
		}
		switch m.Type {
		case "float":
			if f := safeFloat(v); f != nil {
				p.SetFloat(m.Column, *f)
				return
			}
		case "int":
			if n := safeInt(v); n != nil {
				p.SetInt(m.Column, *n)
				return
			}
		default:
			if s := safeString(v); s != nil {
				p.SetString(m.Column, *s)
				return
			}
		}
	}

	if m.Const != "" {
		p.SetString(m.Column, m.Const)
	}
}

// safeString renders an attribute as a trimmed string. Nil and empty
// values become nil so they load as NULL. Integral numbers render
// without a decimal point, keeping zip codes and ids intact.
func safeString(v interface{}) *string {
	if v == nil {
		return nil
	}
	var s string
	switch t := v.(type) {
	case string:
		s = strings.TrimSpace(t)
	case float64:
		if t == math.Trunc(t) && !math.IsInf(t, 0) {
			s = strconv.FormatInt(int64(t), 10)
		} else {
			s = strconv.FormatFloat(t, 'f', -1, 64)
		}
	case bool:
		s = strconv.FormatBool(t)
	default:
		s = strings.TrimSpace(fmt.Sprintf("%v", t))
	}
	if s == "" {
		return nil
	}
	return &s
}

// safeFloat parses an attribute as a float. Unparseable values become
// nil rather than zero, so bad source data loads as NULL.
func safeFloat(v interface{}) *float64 {
	switch t := v.(type) {
	case float64:
		f := t
		return &f
	case int:
		f := float64(t)
		return &f
	case string:
		s := strings.ReplaceAll(strings.TrimSpace(t), ",", "")
		if s == "" {
			return nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil
		}
		return &f
	}
	return nil
}

// safeInt parses an attribute as an int, truncating fractions
func safeInt(v interface{}) *int {
	f := safeFloat(v)
	if f == nil {
		return nil
	}
	n := int(*f)
	return &n
}
