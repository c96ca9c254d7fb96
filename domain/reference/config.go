package reference

import (
	"github.com/artpar/hyperchannels/domain/lookup"
	"github.com/artpar/hyperchannels/pkg/hyperref"
)

// DefaultManyAction is the action used for collection references.
const DefaultManyAction = "list"

// FieldConfig configures a single-object reference field.
type FieldConfig struct {
	// Action written into encoded payloads. Defaults to "retrieve".
	Action string

	// Stream forces the target stream. Empty resolves by the subject's type.
	Stream string

	// Lookups maps payload keys to attribute paths. Defaults to {pk: pk}.
	Lookups lookup.Mappings

	// Target is the stream used to resolve bare primary keys on decode.
	// Falls back to Stream when empty.
	Target string
}

// FieldOption customises a FieldConfig.
type FieldOption func(*FieldConfig)

// WithAction sets the encoded action.
func WithAction(action string) FieldOption {
	return func(c *FieldConfig) { c.Action = action }
}

// WithStream forces the target stream.
func WithStream(name string) FieldOption {
	return func(c *FieldConfig) { c.Stream = name }
}

// WithLookups replaces the lookup mappings.
func WithLookups(m lookup.Mappings) FieldOption {
	return func(c *FieldConfig) { c.Lookups = m }
}

// WithTarget sets the stream used for bare primary keys.
func WithTarget(name string) FieldOption {
	return func(c *FieldConfig) { c.Target = name }
}

// NewFieldConfig returns a FieldConfig with defaults applied.
func NewFieldConfig(opts ...FieldOption) FieldConfig {
	var c FieldConfig
	for _, opt := range opts {
		opt(&c)
	}
	return c.withDefaults()
}

func (c FieldConfig) withDefaults() FieldConfig {
	if c.Action == "" {
		c.Action = hyperref.DefaultAction
	}
	if c.Lookups == nil {
		c.Lookups = lookup.DefaultMappings()
	}
	return c
}

func (c FieldConfig) target() string {
	if c.Target != "" {
		return c.Target
	}
	return c.Stream
}

// ManyConfig configures collection-level references. It is independent of
// the singular field configuration of the collection's elements.
type ManyConfig struct {
	// Action defaults to "list" for aggregate references and to "retrieve"
	// for per-item list rendering.
	Action  string
	Stream  string
	Lookups lookup.Mappings
}

// IdentityConfig configures an object's reference to itself.
type IdentityConfig struct {
	// Action defaults to "retrieve".
	Action string
	// Stream forces the stream; empty resolves by the subject's type.
	Stream string
	// Lookups default to {pk: pk}, read from the subject itself.
	Lookups lookup.Mappings
}
