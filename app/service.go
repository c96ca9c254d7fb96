// Package app provides application services that orchestrate domain logic.
package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/artpar/hyperchannels/config"
	"github.com/artpar/hyperchannels/domain/model"
	"github.com/artpar/hyperchannels/domain/reference"
	"github.com/artpar/hyperchannels/domain/stream"
	"github.com/artpar/hyperchannels/pkg/hyperref"
	"github.com/artpar/hyperchannels/ports"
	"github.com/rs/zerolog"
)

// Service errors.
var (
	ErrNoSnapshot       = errors.New("reference service has no configuration applied")
	ErrUnknownStream    = errors.New("unknown stream")
	ErrNoSerializer     = errors.New("no serializer configured for stream")
	ErrUnknownField     = errors.New("unknown field")
	ErrStoreUnavailable = errors.New("record store unavailable")
)

// Snapshot is one immutable build of the configuration: type hierarchy,
// stream registry, codec and compiled serializers. A reload replaces the
// whole snapshot.
type Snapshot struct {
	Hierarchy   *model.Hierarchy
	Registry    *stream.Registry
	Codec       *reference.Codec
	Streams     map[string]config.StreamConfig
	Serializers map[string]*Serializer
	BuiltAt     time.Time
}

// ReferenceService encodes, decodes and renders references against the
// snapshot currently in effect.
type ReferenceService struct {
	stores   map[string]ports.RecordStore // by store kind
	audit    ports.DecodeLog
	auditIDs ports.IDGenerator
	ids      ports.IDGenerator // record keys
	metrics  ports.ReferenceMetrics
	clock    ports.Clock
	logger   zerolog.Logger

	snap atomic.Pointer[Snapshot]
}

// ServiceOption customises a ReferenceService.
type ServiceOption func(*ReferenceService)

// WithAudit records every decode in log, using ids for entry ids.
func WithAudit(log ports.DecodeLog, ids ports.IDGenerator) ServiceOption {
	return func(s *ReferenceService) {
		s.audit = log
		s.auditIDs = ids
	}
}

// WithMetrics reports encode/decode outcomes to m.
func WithMetrics(m ports.ReferenceMetrics) ServiceOption {
	return func(s *ReferenceService) { s.metrics = m }
}

// WithIDGenerator sets the generator used for new record keys.
func WithIDGenerator(ids ports.IDGenerator) ServiceOption {
	return func(s *ReferenceService) { s.ids = ids }
}

// WithClock sets the clock used for snapshot and audit timestamps.
func WithClock(c ports.Clock) ServiceOption {
	return func(s *ReferenceService) { s.clock = c }
}

// NewReferenceService creates a service over the given stores, keyed by
// store kind ("memory", "sqlite").
func NewReferenceService(stores map[string]ports.RecordStore, logger zerolog.Logger, opts ...ServiceOption) *ReferenceService {
	s := &ReferenceService{
		stores: stores,
		logger: logger.With().Str("service", "reference").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *ReferenceService) now() time.Time {
	if s.clock == nil {
		return time.Now().UTC()
	}
	return s.clock.Now()
}

// Build compiles cfg into a snapshot without applying it.
func (s *ReferenceService) Build(cfg *config.Config) (*Snapshot, error) {
	h := model.NewHierarchy()
	for _, t := range cfg.Types {
		bases := make([]model.TypeID, len(t.Supertypes))
		for i, b := range t.Supertypes {
			bases[i] = model.TypeID(b)
		}
		if err := h.Declare(model.TypeID(t.Name), bases...); err != nil {
			return nil, fmt.Errorf("types: %w", err)
		}
	}
	for _, sc := range cfg.Streams {
		if sc.Type != "" && !h.Known(model.TypeID(sc.Type)) {
			if err := h.Declare(model.TypeID(sc.Type)); err != nil {
				return nil, fmt.Errorf("stream %s: %w", sc.Name, err)
			}
		}
	}

	descs := make([]stream.Descriptor, 0, len(cfg.Streams))
	streams := make(map[string]config.StreamConfig, len(cfg.Streams))
	for _, sc := range cfg.Streams {
		desc, err := s.descriptor(sc)
		if err != nil {
			return nil, err
		}
		descs = append(descs, desc)
		streams[sc.Name] = sc
	}

	reg, err := stream.NewRegistry(descs...)
	if err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}
	codec, err := reference.NewCodec(reg, h)
	if err != nil {
		return nil, err
	}

	sers := make(map[string]*Serializer, len(cfg.Serializers))
	for _, sc := range cfg.Serializers {
		ser, err := CompileSerializer(sc, cfg.Identity)
		if err != nil {
			return nil, fmt.Errorf("serializer %s: %w", sc.Stream, err)
		}
		sers[sc.Stream] = ser
	}

	return &Snapshot{
		Hierarchy:   h,
		Registry:    reg,
		Codec:       codec,
		Streams:     streams,
		Serializers: sers,
		BuiltAt:     s.now(),
	}, nil
}

func (s *ReferenceService) descriptor(sc config.StreamConfig) (stream.Descriptor, error) {
	store, ok := s.stores[sc.Store]
	if !ok || store == nil {
		return stream.Descriptor{}, fmt.Errorf("stream %s: %w: %s", sc.Name, ErrStoreUnavailable, sc.Store)
	}

	queries := make([]ActionQuery, 0, len(sc.Actions))
	for _, a := range sc.Actions {
		match, err := a.Match.Mappings()
		if err != nil {
			return stream.Descriptor{}, fmt.Errorf("stream %s action %s: %w", sc.Name, a.Name, err)
		}
		queries = append(queries, ActionQuery{Name: a.Name, Many: a.Many, Match: match})
	}

	return stream.Descriptor{
		Name:      sc.Name,
		OwnedType: model.TypeID(sc.Type),
		Actions:   stream.NewActionSet(sc.ActionNames()...),
		Resolver:  NewStoreResolver(store, model.TypeID(sc.Type), queries...),
	}, nil
}

// Apply builds cfg and swaps it in atomically. On error the previous
// snapshot stays in effect.
func (s *ReferenceService) Apply(cfg *config.Config) error {
	snap, err := s.Build(cfg)
	if s.metrics != nil {
		n := 0
		if snap != nil {
			n = snap.Registry.Len()
		}
		s.metrics.ConfigReloaded(err, n)
	}
	if err != nil {
		s.logger.Error().Err(err).Msg("configuration rejected")
		return err
	}

	s.snap.Store(snap)
	s.logger.Info().
		Int("types", len(snap.Hierarchy.Types())).
		Strs("streams", snap.Registry.Names()).
		Int("serializers", len(snap.Serializers)).
		Msg("stream registry applied")
	return nil
}

// Check reports whether cfg would build. It is registered as a config
// reload check so broken configs never replace a working one.
func (s *ReferenceService) Check(cfg *config.Config) error {
	_, err := s.Build(cfg)
	return err
}

// Snapshot returns the snapshot in effect, or nil before the first Apply.
func (s *ReferenceService) Snapshot() *Snapshot {
	return s.snap.Load()
}

// Registry implements ports.RegistrySupplier.
func (s *ReferenceService) Registry() *stream.Registry {
	if snap := s.snap.Load(); snap != nil {
		return snap.Registry
	}
	return nil
}

func (s *ReferenceService) current() (*Snapshot, error) {
	snap := s.snap.Load()
	if snap == nil {
		return nil, ErrNoSnapshot
	}
	return snap, nil
}

// -----------------------------------------------------------------------------
// Decode
// -----------------------------------------------------------------------------

// Decode resolves raw for the given serializer field. serializer and field
// may be empty, in which case bare primary keys cannot be resolved.
func (s *ReferenceService) Decode(ctx context.Context, serializer, field string, raw any) (any, error) {
	snap, err := s.current()
	if err != nil {
		return nil, err
	}

	fc, err := snap.fieldConfig(serializer, field)
	if err != nil {
		return nil, err
	}

	raw = normalizeRaw(raw)
	name, action, payload := describeRaw(raw, fc)

	start := time.Now()
	obj, err := snap.Codec.Decode(ctx, raw, fc)
	elapsed := time.Since(start)

	outcome := outcomeOf(err)
	if err != nil {
		if e := (*reference.Error)(nil); errors.As(err, &e) && e.Stream != "" {
			name = e.Stream
		}
		ev := s.logger.Debug()
		if reference.CodeOf(err) == "" || reference.CodeOf(err) == reference.CodeConfiguration {
			ev = s.logger.Warn()
		}
		ev.Err(err).
			Str("code", outcome).
			Str("stream", name).
			Str("action", action).
			Str("request_id", RequestIDFrom(ctx)).
			Msg("decode failed")
	}
	if s.metrics != nil {
		s.metrics.ObserveDecode(name, outcome, elapsed)
	}
	s.record(ctx, name, action, payload, outcome)

	return obj, err
}

func (s *ReferenceService) record(ctx context.Context, name, action string, payload map[string]any, outcome string) {
	if s.audit == nil {
		return
	}
	entry := ports.DecodeEntry{
		RequestID: RequestIDFrom(ctx),
		Stream:    name,
		Action:    action,
		Payload:   payload,
		Outcome:   outcome,
		CreatedAt: s.now(),
	}
	if s.auditIDs != nil {
		entry.ID = s.auditIDs.New()
	}
	// audit failures are logged, never returned
	if err := s.audit.Append(context.WithoutCancel(ctx), entry); err != nil {
		s.logger.Error().Err(err).Str("stream", name).Msg("decode audit write failed")
	}
}

// RecentDecodes returns the newest audited decodes.
func (s *ReferenceService) RecentDecodes(ctx context.Context, stream string, limit int) ([]ports.DecodeEntry, error) {
	if s.audit == nil {
		return []ports.DecodeEntry{}, nil
	}
	return s.audit.Recent(ctx, stream, limit)
}

func (snap *Snapshot) fieldConfig(serializer, field string) (reference.FieldConfig, error) {
	if field == "" {
		return reference.FieldConfig{}, nil
	}
	ser, ok := snap.Serializers[serializer]
	if !ok {
		return reference.FieldConfig{}, fmt.Errorf("%w: %s", ErrNoSerializer, serializer)
	}
	f, ok := ser.field(field)
	if !ok || f.attribute {
		return reference.FieldConfig{}, fmt.Errorf("%w: %s.%s", ErrUnknownField, serializer, field)
	}
	return f.single, nil
}

// normalizeRaw parses JSON bytes up front so the stream can be reported
// even when decoding fails later.
func normalizeRaw(raw any) any {
	var data []byte
	switch v := raw.(type) {
	case json.RawMessage:
		data = v
	case []byte:
		data = v
	default:
		return raw
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return raw
	}
	return out
}

func describeRaw(raw any, fc reference.FieldConfig) (name, action string, payload map[string]any) {
	switch v := raw.(type) {
	case hyperref.Reference:
		return v.Stream, v.Payload.Action, v.Payload.Map()
	case *hyperref.Reference:
		if v != nil {
			return v.Stream, v.Payload.Action, v.Payload.Map()
		}
	case map[string]any:
		name, _ = v[hyperref.StreamKey].(string)
		if p, ok := v[hyperref.PayloadKey].(map[string]any); ok {
			action, _ = p[hyperref.ActionKey].(string)
			payload = p
		}
		return name, action, payload
	}
	target := fc.Target
	if target == "" {
		target = fc.Stream
	}
	return target, hyperref.DefaultAction, map[string]any{"pk": raw}
}

func outcomeOf(err error) string {
	if err == nil {
		return "ok"
	}
	if code := reference.CodeOf(err); code != "" {
		return string(code)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "cancelled"
	}
	return "error"
}

// -----------------------------------------------------------------------------
// Encode and render
// -----------------------------------------------------------------------------

// Encode builds a reference for subject with the snapshot's codec.
func (s *ReferenceService) Encode(subject any, fc reference.FieldConfig, parent any) (hyperref.Reference, bool, error) {
	snap, err := s.current()
	if err != nil {
		return hyperref.Reference{}, false, err
	}
	ref, ok, err := snap.Codec.Encode(subject, fc, parent)
	s.observeEncode(ref.Stream, ok, err)
	return ref, ok, err
}

func (s *ReferenceService) observeEncode(name string, ok bool, err error) {
	if s.metrics == nil {
		return
	}
	outcome := "ok"
	switch {
	case err != nil:
		outcome = outcomeOf(err)
		if outcome == "error" {
			outcome = "lookup_error"
		}
	case !ok:
		outcome = "omitted"
	}
	s.metrics.ObserveEncode(name, outcome)
}

// Get retrieves a record of stream by primary key.
func (s *ReferenceService) Get(ctx context.Context, streamName string, pk any) (model.Record, error) {
	snap, err := s.current()
	if err != nil {
		return model.Record{}, err
	}
	sc, store, err := s.streamStore(snap, streamName)
	if err != nil {
		return model.Record{}, err
	}
	return store.Get(ctx, model.TypeID(sc.Type), pk)
}

// Render retrieves a record and renders it with its stream's serializer.
func (s *ReferenceService) Render(ctx context.Context, streamName string, pk any) (*Document, error) {
	snap, err := s.current()
	if err != nil {
		return nil, err
	}
	rec, err := s.Get(ctx, streamName, pk)
	if err != nil {
		return nil, err
	}
	ser, ok := snap.Serializers[streamName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSerializer, streamName)
	}
	doc, err := ser.Render(snap.Codec, rec)
	if err != nil {
		return nil, err
	}
	s.observeEncode(streamName, true, nil)
	return doc, nil
}

// RenderList renders every record of a stream as a list of references
// using the serializer's many configuration.
func (s *ReferenceService) RenderList(ctx context.Context, streamName string) ([]hyperref.Reference, error) {
	snap, err := s.current()
	if err != nil {
		return nil, err
	}
	sc, store, err := s.streamStore(snap, streamName)
	if err != nil {
		return nil, err
	}
	records, err := store.List(ctx, model.TypeID(sc.Type))
	if err != nil {
		return nil, err
	}

	var cfg reference.ManyConfig
	if ser, ok := snap.Serializers[streamName]; ok {
		cfg = ser.many
	}
	items := make([]any, len(records))
	for i := range records {
		items[i] = records[i]
	}
	refs, err := snap.Codec.EncodeList(items, cfg)
	if err != nil {
		return nil, err
	}
	for _, ref := range refs {
		s.observeEncode(ref.Stream, true, nil)
	}
	return refs, nil
}

// Create stores a new record in a stream. A missing pk is generated.
func (s *ReferenceService) Create(ctx context.Context, streamName string, fields map[string]any) (model.Record, error) {
	snap, err := s.current()
	if err != nil {
		return model.Record{}, err
	}
	sc, store, err := s.streamStore(snap, streamName)
	if err != nil {
		return model.Record{}, err
	}

	rec := model.NewRecord(model.TypeID(sc.Type), fields)
	if pk, ok := rec.PK(); !ok || pk == nil || pk == "" {
		if s.ids == nil {
			return model.Record{}, errors.New("record has no pk and no id generator is configured")
		}
		rec.Fields["pk"] = s.ids.New()
	}
	if err := store.Put(ctx, rec); err != nil {
		return model.Record{}, err
	}
	s.logger.Debug().Str("stream", streamName).Interface("pk", rec.Fields["pk"]).Msg("record created")
	return rec, nil
}

// Seed loads records into the stores of the streams that own their types.
// Records whose type no stream owns go to the memory store.
func (s *ReferenceService) Seed(ctx context.Context, records []config.RecordConfig) error {
	snap, err := s.current()
	if err != nil {
		return err
	}
	for i, rc := range records {
		store := s.storeForType(snap, model.TypeID(rc.Type))
		if store == nil {
			return fmt.Errorf("records[%d] %s: %w", i, rc.Type, ErrStoreUnavailable)
		}
		if err := store.Put(ctx, model.NewRecord(model.TypeID(rc.Type), rc.Fields)); err != nil {
			return fmt.Errorf("records[%d] %s: %w", i, rc.Type, err)
		}
	}
	if len(records) > 0 {
		s.logger.Info().Int("records", len(records)).Msg("seed records loaded")
	}
	return nil
}

func (s *ReferenceService) storeForType(snap *Snapshot, typ model.TypeID) ports.RecordStore {
	for _, d := range snap.Registry.Entries() {
		if d.OwnedType == typ {
			return s.stores[snap.Streams[d.Name].Store]
		}
	}
	return s.stores[config.StoreMemory]
}

func (s *ReferenceService) streamStore(snap *Snapshot, name string) (config.StreamConfig, ports.RecordStore, error) {
	sc, ok := snap.Streams[name]
	if !ok {
		return config.StreamConfig{}, nil, fmt.Errorf("%w: %s", ErrUnknownStream, name)
	}
	store, ok := s.stores[sc.Store]
	if !ok || store == nil {
		return config.StreamConfig{}, nil, fmt.Errorf("stream %s: %w", name, ErrStoreUnavailable)
	}
	return sc, store, nil
}

// Ensure interface compliance.
var _ ports.RegistrySupplier = (*ReferenceService)(nil)
