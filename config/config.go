// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/artpar/hyperchannels/domain/lookup"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Store backends a stream can use for its records.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
)

// Config is the root configuration structure.
type Config struct {
	Server      ServerConfig       `yaml:"server"`
	Database    DatabaseConfig     `yaml:"database"`
	Logging     LoggingConfig      `yaml:"logging"`
	Metrics     MetricsConfig      `yaml:"metrics"`
	Types       []TypeConfig       `yaml:"types"`
	Streams     []StreamConfig     `yaml:"streams"`
	Identity    LinkConfig         `yaml:"identity"`
	Serializers []SerializerConfig `yaml:"serializers"`
	Records     []RecordConfig     `yaml:"records"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// DatabaseConfig configures the database used by sqlite-backed streams.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // only "sqlite"
	DSN    string `yaml:"dsn"`
	Audit  bool   `yaml:"audit"` // record every decode in decode_log
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "console"
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"` // default: /metrics
}

// TypeConfig declares a model type and its ordered supertypes.
type TypeConfig struct {
	Name       string   `yaml:"name"`
	Supertypes []string `yaml:"supertypes"`
}

// StreamConfig declares a stream. List order is registry order, which
// breaks ties in type resolution.
type StreamConfig struct {
	Name    string         `yaml:"name"`
	Type    string         `yaml:"type"`
	Store   string         `yaml:"store"` // "memory" or "sqlite"
	Actions []ActionConfig `yaml:"actions"`
}

// ActionConfig declares an allowed action and how its payload selects
// records. Match maps payload keys to record paths and then names every
// key the action accepts. Without Match each payload key is read as a
// record path.
type ActionConfig struct {
	Name  string  `yaml:"name"`
	Many  bool    `yaml:"many"`
	Match Lookups `yaml:"match"`
}

// UnmarshalYAML accepts either a bare action name or a mapping.
func (a *ActionConfig) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		a.Name = node.Value
		return nil
	}
	type plain ActionConfig
	return node.Decode((*plain)(a))
}

// ActionNames returns the declared action names in order.
func (s StreamConfig) ActionNames() []string {
	names := make([]string, len(s.Actions))
	for i, a := range s.Actions {
		names[i] = a.Name
	}
	return names
}

// LinkConfig configures identity and collection references.
type LinkConfig struct {
	Stream  string  `yaml:"stream"`
	Action  string  `yaml:"action"`
	Lookups Lookups `yaml:"lookups"`
}

// SerializerConfig configures how records of a stream are rendered.
type SerializerConfig struct {
	Stream   string        `yaml:"stream"`
	Identity *LinkConfig   `yaml:"identity"` // overrides the root identity
	Fields   []FieldConfig `yaml:"fields"`
	Many     LinkConfig    `yaml:"many"`
}

// Field returns the serializer field with the given name.
func (s SerializerConfig) Field(name string) (FieldConfig, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldConfig{}, false
}

// FieldConfig configures one rendered field. A bare name is a plain
// attribute copied from the record; a mapping is a reference field.
type FieldConfig struct {
	Name      string  `yaml:"name"`
	Attribute bool    `yaml:"-"`
	Stream    string  `yaml:"stream"`
	Action    string  `yaml:"action"`
	Lookups   Lookups `yaml:"lookups"`
	Target    string  `yaml:"target"` // stream for bare pk values on decode
	Many      bool    `yaml:"many"`
	Type      string  `yaml:"type"`    // element type for many fields
	Compute   string  `yaml:"compute"` // Expr expression over the record's members
}

// UnmarshalYAML accepts either a bare attribute name or a mapping.
func (f *FieldConfig) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		*f = FieldConfig{Name: node.Value, Attribute: true}
		return nil
	}
	type plain FieldConfig
	return node.Decode((*plain)(f))
}

// RecordConfig is a seed record loaded into its stream's store at startup.
// Related records are nested as {type: ..., fields: {...}}.
type RecordConfig struct {
	Type   string         `yaml:"type"`
	Fields map[string]any `yaml:"fields"`
}

// Lookup is one payload key and the attribute path it is read from.
type Lookup struct {
	Key  string
	Path string
}

// Lookups is an ordered key -> path mapping. Order is taken from the YAML
// document and becomes payload key order.
type Lookups []Lookup

// UnmarshalYAML decodes a YAML mapping while keeping key order.
func (l *Lookups) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: lookups must be a mapping", node.Line)
	}
	out := make(Lookups, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		k, v := node.Content[i], node.Content[i+1]
		if v.Kind != yaml.ScalarNode {
			return fmt.Errorf("line %d: lookup %q must be a path string", v.Line, k.Value)
		}
		out = append(out, Lookup{Key: k.Value, Path: v.Value})
	}
	*l = out
	return nil
}

// MarshalYAML writes lookups back as an ordered mapping.
func (l Lookups) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, lk := range l {
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: lk.Key},
			&yaml.Node{Kind: yaml.ScalarNode, Value: lk.Path},
		)
	}
	return node, nil
}

// Mappings parses the lookups. nil lookups yield nil so callers apply
// their own default.
func (l Lookups) Mappings() (lookup.Mappings, error) {
	if l == nil {
		return nil, nil
	}
	pairs := make([]string, 0, len(l)*2)
	for _, lk := range l {
		pairs = append(pairs, lk.Key, lk.Path)
	}
	return lookup.ParseMappings(pairs...)
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse builds configuration from YAML bytes.
func Parse(data []byte) (*Config, error) {
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// Stream returns the stream with the given name.
func (c *Config) Stream(name string) (StreamConfig, bool) {
	for _, s := range c.Streams {
		if s.Name == name {
			return s, true
		}
	}
	return StreamConfig{}, false
}

// Serializer returns the serializer configured for a stream.
func (c *Config) Serializer(stream string) (SerializerConfig, bool) {
	for _, s := range c.Serializers {
		if s.Stream == stream {
			return s, true
		}
	}
	return SerializerConfig{}, false
}

// UsesSQLite reports whether any stream stores its records in SQLite.
func (c *Config) UsesSQLite() bool {
	for _, s := range c.Streams {
		if s.Store == StoreSQLite {
			return true
		}
	}
	return false
}

// applyEnvOverrides applies HYPERCHANNELS_* environment variables to the
// config. Environment variables always override file-based configuration.
//
//	HYPERCHANNELS_SERVER_HOST          - Server host (default: 0.0.0.0)
//	HYPERCHANNELS_SERVER_PORT          - Server port (default: 8080)
//	HYPERCHANNELS_SERVER_READ_TIMEOUT  - e.g. 30s
//	HYPERCHANNELS_SERVER_WRITE_TIMEOUT - e.g. 60s
//	HYPERCHANNELS_DATABASE_DSN         - Database path (default: hyperchannels.db)
//	HYPERCHANNELS_DATABASE_AUDIT       - Record decodes in decode_log
//	HYPERCHANNELS_LOG_LEVEL            - debug, info, warn, error (default: info)
//	HYPERCHANNELS_LOG_FORMAT           - json or console (default: json)
//	HYPERCHANNELS_METRICS_ENABLED      - Enable /metrics endpoint
//	HYPERCHANNELS_METRICS_PATH         - Metrics path (default: /metrics)
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("HYPERCHANNELS_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("HYPERCHANNELS_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("HYPERCHANNELS_SERVER_READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.ReadTimeout = d
		}
	}
	if v := os.Getenv("HYPERCHANNELS_SERVER_WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.WriteTimeout = d
		}
	}

	if v := os.Getenv("HYPERCHANNELS_DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("HYPERCHANNELS_DATABASE_AUDIT"); v != "" {
		cfg.Database.Audit = parseBool(v)
	}

	if v := os.Getenv("HYPERCHANNELS_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("HYPERCHANNELS_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	if v := os.Getenv("HYPERCHANNELS_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = parseBool(v)
	}
	if v := os.Getenv("HYPERCHANNELS_METRICS_PATH"); v != "" {
		cfg.Metrics.Path = v
	}
}

// parseBool parses a boolean from common string values.
func parseBool(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "true" || v == "1" || v == "yes" || v == "on"
}

func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 60 * time.Second
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.DSN == "" {
		cfg.Database.DSN = "hyperchannels.db"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	for i := range cfg.Streams {
		s := &cfg.Streams[i]
		if s.Store == "" {
			s.Store = StoreMemory
		}
		if len(s.Actions) == 0 {
			s.Actions = []ActionConfig{{Name: "retrieve"}}
		}
	}
}

func validate(cfg *Config) error {
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 0 and 65535, got %d", cfg.Server.Port)
	}
	if cfg.Database.Driver != "sqlite" {
		return fmt.Errorf("database.driver must be 'sqlite', got %q", cfg.Database.Driver)
	}
	if _, err := zerolog.ParseLevel(cfg.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[cfg.Logging.Format] {
		return fmt.Errorf("logging.format must be 'json' or 'console', got %q", cfg.Logging.Format)
	}

	types := make(map[string]bool, len(cfg.Types))
	for i, t := range cfg.Types {
		if t.Name == "" {
			return fmt.Errorf("types[%d].name is required", i)
		}
		if types[t.Name] {
			return fmt.Errorf("types[%d]: duplicate type %q", i, t.Name)
		}
		types[t.Name] = true
	}
	for i, t := range cfg.Types {
		for _, st := range t.Supertypes {
			if !types[st] {
				return fmt.Errorf("types[%d] %s: unknown supertype %q", i, t.Name, st)
			}
		}
	}

	streams := make(map[string]bool, len(cfg.Streams))
	for i, s := range cfg.Streams {
		if s.Name == "" {
			return fmt.Errorf("streams[%d].name is required", i)
		}
		if streams[s.Name] {
			return fmt.Errorf("streams[%d]: duplicate stream %q", i, s.Name)
		}
		streams[s.Name] = true

		if s.Store != StoreMemory && s.Store != StoreSQLite {
			return fmt.Errorf("streams[%d] %s: store must be 'memory' or 'sqlite', got %q", i, s.Name, s.Store)
		}
		actions := make(map[string]bool, len(s.Actions))
		for j, a := range s.Actions {
			if a.Name == "" {
				return fmt.Errorf("streams[%d].actions[%d].name is required", i, j)
			}
			if actions[a.Name] {
				return fmt.Errorf("streams[%d] %s: duplicate action %q", i, s.Name, a.Name)
			}
			actions[a.Name] = true
			if _, err := a.Match.Mappings(); err != nil {
				return fmt.Errorf("streams[%d] %s action %s: match: %w", i, s.Name, a.Name, err)
			}
		}
	}

	if err := validateLink("identity", cfg.Identity, streams); err != nil {
		return err
	}

	seen := make(map[string]bool, len(cfg.Serializers))
	for i, ser := range cfg.Serializers {
		where := fmt.Sprintf("serializers[%d]", i)
		if !streams[ser.Stream] {
			return fmt.Errorf("%s: unknown stream %q", where, ser.Stream)
		}
		if seen[ser.Stream] {
			return fmt.Errorf("%s: duplicate serializer for stream %q", where, ser.Stream)
		}
		seen[ser.Stream] = true

		if ser.Identity != nil {
			if err := validateLink(where+".identity", *ser.Identity, streams); err != nil {
				return err
			}
		}
		if err := validateLink(where+".many", ser.Many, streams); err != nil {
			return err
		}

		names := make(map[string]bool, len(ser.Fields))
		for j, f := range ser.Fields {
			fwhere := fmt.Sprintf("%s.fields[%d]", where, j)
			if f.Name == "" {
				return fmt.Errorf("%s.name is required", fwhere)
			}
			if f.Name == "@id" || names[f.Name] {
				return fmt.Errorf("%s: duplicate field %q", fwhere, f.Name)
			}
			names[f.Name] = true
			if f.Attribute {
				continue
			}
			if f.Compute != "" {
				if f.Many || f.Stream != "" || f.Action != "" || f.Target != "" || len(f.Lookups) > 0 {
					return fmt.Errorf("%s: compute cannot be combined with reference settings", fwhere)
				}
				continue
			}
			if f.Stream != "" && !streams[f.Stream] {
				return fmt.Errorf("%s: unknown stream %q", fwhere, f.Stream)
			}
			if f.Many && f.Type == "" && f.Stream == "" {
				return fmt.Errorf("%s: many fields need a type or a stream", fwhere)
			}
			if f.Target != "" && !streams[f.Target] {
				return fmt.Errorf("%s: unknown target stream %q", fwhere, f.Target)
			}
			if f.Type != "" && len(types) > 0 && !types[f.Type] && !streamType(cfg, f.Type) {
				return fmt.Errorf("%s: unknown type %q", fwhere, f.Type)
			}
			if _, err := f.Lookups.Mappings(); err != nil {
				return fmt.Errorf("%s: lookups: %w", fwhere, err)
			}
		}
	}

	for i, r := range cfg.Records {
		if r.Type == "" {
			return fmt.Errorf("records[%d].type is required", i)
		}
		if _, ok := r.Fields["pk"]; !ok {
			return fmt.Errorf("records[%d] %s: fields.pk is required", i, r.Type)
		}
	}

	return nil
}

func validateLink(where string, l LinkConfig, streams map[string]bool) error {
	if l.Stream != "" && !streams[l.Stream] {
		return fmt.Errorf("%s: unknown stream %q", where, l.Stream)
	}
	if _, err := l.Lookups.Mappings(); err != nil {
		return fmt.Errorf("%s: lookups: %w", where, err)
	}
	return nil
}

func streamType(cfg *Config, typ string) bool {
	for _, s := range cfg.Streams {
		if s.Type == typ {
			return true
		}
	}
	return false
}
