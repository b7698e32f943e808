package syncer

import (
	_ "embed"
	"fmt"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"in-house-gis/internal/gis"
	"in-house-gis/internal/models"
)

//go:embed sources.yaml
var sourcesYAML []byte

// Sync strategies
const (
	StrategyUpsert = "upsert" // insert or update by apn, creating rows
	StrategyMerge  = "merge"  // update existing rows only
)

// SourceDef is one feed definition from the registry
type SourceDef struct {
	Name        string     `yaml:"-"`
	Description string     `yaml:"description"`
	ServiceURL  string     `yaml:"service_url"`
	Where       string     `yaml:"where,omitempty"`
	Strategy    string     `yaml:"strategy"`
	Geometry    bool       `yaml:"geometry"`
	PageSize    int        `yaml:"page_size"`
	DelayMS     int        `yaml:"delay_ms"`
	Mappings    []FieldMap `yaml:"mappings"`
}

type registryFile struct {
	Sources map[string]SourceDef `yaml:"sources"`
}

// LoadSources parses and validates the built-in feed registry
func LoadSources() (map[string]SourceDef, error) {
	return parseSources(sourcesYAML)
}

func parseSources(data []byte) (map[string]SourceDef, error) {
	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing source registry: %w", err)
	}
	if len(file.Sources) == 0 {
		return nil, fmt.Errorf("source registry is empty")
	}

	for name, def := range file.Sources {
		def.Name = name
		if def.PageSize <= 0 {
			def.PageSize = 1000
		}
		if def.DelayMS <= 0 {
			def.DelayMS = 500
		}
		if err := def.validate(); err != nil {
			return nil, fmt.Errorf("source %q: %w", name, err)
		}
		file.Sources[name] = def
	}
	return file.Sources, nil
}

// GetSource returns one source definition by name
func GetSource(name string) (SourceDef, error) {
	sources, err := LoadSources()
	if err != nil {
		return SourceDef{}, err
	}
	def, ok := sources[name]
	if !ok {
		return SourceDef{}, fmt.Errorf("unknown source %q (have: %v)", name, sourceNames(sources))
	}
	return def, nil
}

func sourceNames(sources map[string]SourceDef) []string {
	names := make([]string, 0, len(sources))
	for name := range sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s SourceDef) validate() error {
	if s.ServiceURL == "" {
		return fmt.Errorf("service_url is required")
	}
	if s.Strategy != StrategyUpsert && s.Strategy != StrategyMerge {
		return fmt.Errorf("unknown strategy %q", s.Strategy)
	}
	if len(s.Mappings) == 0 {
		return fmt.Errorf("no mappings defined")
	}

	seen := make(map[string]bool, len(s.Mappings))
	hasAPN := false
	for _, m := range s.Mappings {
		if m.Column == "" {
			return fmt.Errorf("mapping with empty column")
		}
		if m.Column != "apn" && !models.HasColumn(m.Column) {
			return fmt.Errorf("unknown column %q", m.Column)
		}
		if seen[m.Column] {
			return fmt.Errorf("column %q mapped twice", m.Column)
		}
		seen[m.Column] = true

		switch m.Type {
		case "", "string", "float", "int":
		default:
			return fmt.Errorf("column %q: unknown type %q", m.Column, m.Type)
		}
		if len(m.Join) > 0 && (len(m.Fields) > 0 || m.Const != "") {
			return fmt.Errorf("column %q: join cannot be combined with fields or const", m.Column)
		}
		if len(m.Fields) == 0 && len(m.Join) == 0 && m.Const == "" {
			return fmt.Errorf("column %q: no fields, join or const", m.Column)
		}
		if m.Column == "apn" {
			hasAPN = true
			if m.Type != "" && m.Type != "string" {
				return fmt.Errorf("apn mapping must be a string")
			}
		}
	}
	if !hasAPN {
		return fmt.Errorf("no apn mapping")
	}
	return nil
}

// Columns returns the mapped destination columns excluding apn, in
// mapping order. This is the column set the sinks write.
func (s SourceDef) Columns() []string {
	cols := make([]string, 0, len(s.Mappings))
	for _, m := range s.Mappings {
		if m.Column == "apn" {
			continue
		}
		cols = append(cols, m.Column)
	}
	return cols
}

// Delay returns the pause between page fetches
func (s SourceDef) Delay() time.Duration {
	return time.Duration(s.DelayMS) * time.Millisecond
}

// ClientConfig returns the feature layer config for this source
func (s SourceDef) ClientConfig(timeout time.Duration) gis.ClientConfig {
	return gis.ClientConfig{
		ServiceURL:     s.ServiceURL,
		Where:          s.Where,
		ReturnGeometry: s.Geometry,
		Timeout:        timeout,
	}
}

// Transformer builds the transformer for this source's mappings
func (s SourceDef) Transformer() *Transformer {
	return NewTransformer(s.Mappings, s.Geometry)
}
