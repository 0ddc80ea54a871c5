package ir

// DefaultDriver is used when a service configuration names no driver.
const DefaultDriver = "soap"

// DefaultPrimaryKey is the local primary key column when a target omits one.
const DefaultPrimaryKey = "id"

// ServiceConfig identifies an external data source.
// Two configs with equal canonical form share one driver instance.
type ServiceConfig struct {
	Driver   string         `json:"driver" yaml:"driver" toml:"driver"`
	Endpoint *string        `json:"endpoint,omitempty" yaml:"endpoint,omitempty" toml:"endpoint,omitempty"`
	Options  map[string]any `json:"options,omitempty" yaml:"options,omitempty" toml:"options,omitempty"`
}

// EndpointValue returns the endpoint or "" when unset.
func (c ServiceConfig) EndpointValue() string {
	if c.Endpoint == nil {
		return ""
	}
	return *c.Endpoint
}

// Option returns the driver option stored under key.
func (c ServiceConfig) Option(key string) (any, bool) {
	v, ok := c.Options[key]
	return v, ok
}

// CanonicalObject flattens the config into the object used for identity:
// {"driver": d, "endpoint": e or null, options...}. driver and endpoint win over
// options with the same key.
func (c ServiceConfig) CanonicalObject() map[string]any {
	obj := make(map[string]any, len(c.Options)+2)
	for k, v := range c.Options {
		obj[k] = v
	}
	obj["driver"] = c.Driver
	if c.Endpoint == nil {
		obj["endpoint"] = nil
	} else {
		obj["endpoint"] = *c.Endpoint
	}
	return obj
}

// StringPtr is a helper for building configs in code and tests.
func StringPtr(s string) *string {
	return &s
}

// FetchSpec describes one call against a driver.
type FetchSpec struct {
	Method     string         `json:"method" yaml:"method" toml:"method"`
	Options    map[string]any `json:"options,omitempty" yaml:"options,omitempty" toml:"options,omitempty"`
	StartPoint string         `json:"start_point,omitempty" yaml:"start_point,omitempty" toml:"start_point,omitempty"`
	Result     string         `json:"result,omitempty" yaml:"result,omitempty" toml:"result,omitempty"`

	// OptionTypes declares type tags for filter options. Declared options
	// are normalised with the same coercion used for stored fields.
	OptionTypes map[string]string `json:"option_types,omitempty" yaml:"option_types,omitempty" toml:"option_types,omitempty"`
}

// TargetSpec describes the local table records are merged into.
type TargetSpec struct {
	Table       string            `json:"table" yaml:"table" toml:"table"`
	PrimaryKey  string            `json:"primary_key,omitempty" yaml:"primary_key,omitempty" toml:"primary_key,omitempty"`
	ForeignKey  string            `json:"foreign_key" yaml:"foreign_key" toml:"foreign_key"`
	AllowUpdate bool              `json:"allow_update" yaml:"allow_update" toml:"allow_update"`
	Fields      map[string]string `json:"fields,omitempty" yaml:"fields,omitempty" toml:"fields,omitempty"`
}

// PrimaryKeyOrDefault returns PrimaryKey, falling back to DefaultPrimaryKey.
func (t TargetSpec) PrimaryKeyOrDefault() string {
	if t.PrimaryKey == "" {
		return DefaultPrimaryKey
	}
	return t.PrimaryKey
}

// MappingRule is one declarative field transformation.
//
// With Match empty the resolved From template is copied to To. With
// Expression false, Value is written when the resolved template equals
// Match exactly. With Expression true, Match is an expression whose
// result is written unless it is the no-result sentinel.
type MappingRule struct {
	From       string `json:"from" yaml:"from" toml:"from"`
	To         string `json:"to" yaml:"to" toml:"to"`
	Value      any    `json:"value,omitempty" yaml:"value,omitempty" toml:"value,omitempty"`
	Match      string `json:"match,omitempty" yaml:"match,omitempty" toml:"match,omitempty"`
	Expression bool   `json:"expression,omitempty" yaml:"expression,omitempty" toml:"expression,omitempty"`
}

// IsLiteral reports whether the rule gates a constant on a literal match.
func (r MappingRule) IsLiteral() bool {
	return r.Match != "" && !r.Expression
}

// IsExpression reports whether the rule evaluates Match as an expression.
func (r MappingRule) IsExpression() bool {
	return r.Match != "" && r.Expression
}

// Definition is a complete sync job: where to fetch, how to map and where
// to store.
type Definition struct {
	Name    string        `json:"name" yaml:"name" toml:"name"`
	Service ServiceConfig `json:"service" yaml:"service" toml:"service"`
	Fetch   FetchSpec     `json:"fetch" yaml:"fetch" toml:"fetch"`
	Target  TargetSpec    `json:"target" yaml:"target" toml:"target"`
	Rules   []MappingRule `json:"map" yaml:"map" toml:"map"`
}

// Record is one raw record returned by a driver. Its structure is opaque
// to the engine; rules address fields by name or dotted path.
type Record map[string]any

// MappedRecord holds local field values produced by the mapper.
type MappedRecord map[string]any

// Clone returns a shallow copy.
func (r MappedRecord) Clone() MappedRecord {
	out := make(MappedRecord, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Index maps a foreign key value to the local primary key that holds it.
// Built once per batch before any record is processed.
type Index map[string]int64

// Lookup returns the primary key for fk. Empty fk never matches.
func (idx Index) Lookup(fk string) (int64, bool) {
	if fk == "" {
		return 0, false
	}
	pk, ok := idx[fk]
	return pk, ok
}

// Counts tallies one reconcile pass.
type Counts struct {
	Added   int `json:"added"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// Add returns the element-wise sum of c and o.
func (c Counts) Add(o Counts) Counts {
	return Counts{
		Added:   c.Added + o.Added,
		Updated: c.Updated + o.Updated,
		Skipped: c.Skipped + o.Skipped,
		Failed:  c.Failed + o.Failed,
	}
}

// Written is the number of records handed to the sink.
func (c Counts) Written() int {
	return c.Added + c.Updated
}
