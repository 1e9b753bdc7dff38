package domain

// CollectorPack is one parsed YAML file under <drivers_root>/<db_type>/.
// A pack without SupportedVersions never loads.
type CollectorPack struct {
	DBType            string                         `yaml:"-"`
	SourceFile        string                         `yaml:"-"`
	SupportedVersions *VersionRange                  `yaml:"supported_versions"`
	Collectors        map[string]CollectorDefinition `yaml:"collectors"`
}

// PackID is the pack's stable identifier: the source file name with its
// .yaml/.yml extension stripped. collector_ref is "<pack_id>:<collector_id>".
func (p *CollectorPack) PackID() string {
	name := p.SourceFile
	for _, ext := range []string{".yaml", ".yml"} {
		if n := len(name) - len(ext); n > 0 && name[n:] == ext {
			return name[:n]
		}
	}
	return name
}

// VersionRange bounds the server versions a pack applies to, as dotted
// numeric tuples compared component-wise with missing components read as 0.
type VersionRange struct {
	Min string `yaml:"min"`
	Max string `yaml:"max"`
}

// CollectorDefinition is a named bundle of ordered layers and/or standalone
// queries. An empty definition yields an empty result.
type CollectorDefinition struct {
	Layers  map[string]LayerConfig `yaml:"layers"`
	Queries map[string]QueryConfig `yaml:"queries"`
}

// LayerConfig is one SQL statement within a collector. Layers run ordered by
// Order ascending with nil sorting last, ties broken by layer id.
type LayerConfig struct {
	Order      *int           `yaml:"order"`
	RenderHint map[string]any `yaml:"render_hint"`
	SQL        string         `yaml:"sql"`
	SingleRow  bool           `yaml:"single_row"`
}

// QueryConfig is a standalone named SQL statement within a collector.
type QueryConfig struct {
	Description string `yaml:"description"`
	SQL         string `yaml:"sql"`
	SingleRow   bool   `yaml:"single_row"`
}

// LayerResult is the captured output of a single layer run.
type LayerResult struct {
	Order      *int           `json:"order,omitempty"`
	RenderHint map[string]any `json:"render_hint,omitempty"`
	Rows       []Row          `json:"rows"`
}

// CollectorResult is the whole-collector capture. Failed layers are absent
// from Layers; queries map raw row lists by query id.
type CollectorResult struct {
	DBType      string                 `json:"db_type"`
	CollectorID string                 `json:"collector_id"`
	SourceFile  string                 `json:"source_file"`
	Layers      map[string]LayerResult `json:"layers,omitempty"`
	Queries     map[string][]Row       `json:"queries,omitempty"`
	IntervalSec int                    `json:"interval_sec,omitempty"`
}

// QueryResult is the single-query capture, carrying the full ExecuteResponse.
type QueryResult struct {
	DBType      string          `json:"db_type"`
	CollectorID string          `json:"collector_id"`
	SourceFile  string          `json:"source_file"`
	QueryID     string          `json:"query_id"`
	Description string          `json:"description,omitempty"`
	RenderHint  map[string]any  `json:"render_hint,omitempty"`
	Result      ExecuteResponse `json:"result"`
}

// CollectorInfo is one catalog entry for listing endpoints.
type CollectorInfo struct {
	CollectorID  string `json:"collector_id"`
	CollectorRef string `json:"collector_ref"`
	SourceFile   string `json:"source_file"`
	LayerCount   int    `json:"layer_count"`
	QueryCount   int    `json:"query_count"`
}

// QueryInfo is one runnable-query catalog entry.
type QueryInfo struct {
	QueryID      string `json:"query_id"`
	CollectorID  string `json:"collector_id"`
	CollectorRef string `json:"collector_ref"`
	Description  string `json:"description,omitempty"`
	SingleRow    bool   `json:"single_row"`
}
