package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/artpar/hyperchannels/adapters/clock"
	"github.com/artpar/hyperchannels/adapters/idgen"
	"github.com/artpar/hyperchannels/adapters/memory"
	"github.com/artpar/hyperchannels/app"
	"github.com/artpar/hyperchannels/config"
	"github.com/artpar/hyperchannels/domain/model"
	"github.com/artpar/hyperchannels/domain/reference"
	"github.com/artpar/hyperchannels/ports"
	"github.com/rs/zerolog"
)

const serviceConfig = `
types:
  - name: Model
  - name: User
    supertypes: [Model]
  - name: Team
    supertypes: [Model]

streams:
  - name: users
    type: User
    actions:
      - retrieve
      - name: by_email
        match:
          email: email
      - name: list
        many: true
        match:
          team_pk: team.pk
  - name: teams
    type: Team

serializers:
  - stream: users
    fields:
      - name
      - email
      - name: team
        target: teams
  - stream: teams
    fields:
      - name
      - name: members
        many: true
        type: User
        lookups:
          team_pk: pk

records:
  - type: Team
    fields: {pk: 1, name: core}
  - type: User
    fields:
      pk: 7
      name: bob
      email: bob@example.com
      team: {type: Team, fields: {pk: 1, name: core}}
  - type: User
    fields: {pk: 8, name: alice, email: alice@example.com}
  - type: Invoice
    fields: {pk: 100, total: 12}
`

// fakeMetrics implements ports.ReferenceMetrics for testing.
type fakeMetrics struct {
	mu      sync.Mutex
	encodes []string
	decodes []string
	reloads []error
}

func (m *fakeMetrics) ObserveEncode(stream, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.encodes = append(m.encodes, stream+":"+outcome)
}

func (m *fakeMetrics) ObserveDecode(stream, outcome string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decodes = append(m.decodes, stream+":"+outcome)
}

func (m *fakeMetrics) ConfigReloaded(err error, streams int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reloads = append(m.reloads, err)
}

var _ ports.ReferenceMetrics = (*fakeMetrics)(nil)

func parseConfig(t *testing.T, yaml string) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	return cfg
}

func memoryStores() map[string]ports.RecordStore {
	return map[string]ports.RecordStore{config.StoreMemory: memory.NewRecordStore()}
}

func newTestService(t *testing.T, opts ...app.ServiceOption) (*app.ReferenceService, map[string]ports.RecordStore) {
	t.Helper()
	stores := memoryStores()
	svc := app.NewReferenceService(stores, zerolog.Nop(), opts...)
	cfg := parseConfig(t, serviceConfig)
	if err := svc.Apply(cfg); err != nil {
		t.Fatalf("Apply error: %v", err)
	}
	if err := svc.Seed(context.Background(), cfg.Records); err != nil {
		t.Fatalf("Seed error: %v", err)
	}
	return svc, stores
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}
	return string(data)
}

func TestReferenceService_NoSnapshot(t *testing.T) {
	svc := app.NewReferenceService(memoryStores(), zerolog.Nop())
	ctx := context.Background()

	if svc.Registry() != nil {
		t.Error("Registry should be nil before Apply")
	}
	if _, err := svc.Decode(ctx, "", "", 7); !errors.Is(err, app.ErrNoSnapshot) {
		t.Errorf("Decode error = %v, want ErrNoSnapshot", err)
	}
	if _, err := svc.Render(ctx, "users", 7); !errors.Is(err, app.ErrNoSnapshot) {
		t.Errorf("Render error = %v, want ErrNoSnapshot", err)
	}
}

func TestReferenceService_Apply(t *testing.T) {
	svc, _ := newTestService(t)

	snap := svc.Snapshot()
	if snap == nil {
		t.Fatal("Snapshot is nil after Apply")
	}
	if got := snap.Registry.Names(); len(got) != 2 || got[0] != "users" || got[1] != "teams" {
		t.Errorf("registry names = %v, want [users teams]", got)
	}
	if !snap.Hierarchy.IsSubtype("User", "Model") {
		t.Error("User should be a subtype of Model")
	}
	if len(snap.Serializers) != 2 {
		t.Errorf("serializers = %d, want 2", len(snap.Serializers))
	}
}

func TestReferenceService_ApplyKeepsPreviousOnError(t *testing.T) {
	m := &fakeMetrics{}
	svc, _ := newTestService(t, app.WithMetrics(m))
	before := svc.Snapshot()

	broken := parseConfig(t, `
streams:
  - name: invoices
    type: Invoice
    store: sqlite
`)
	err := svc.Apply(broken)
	if !errors.Is(err, app.ErrStoreUnavailable) {
		t.Fatalf("Apply error = %v, want ErrStoreUnavailable", err)
	}
	if svc.Check(broken) == nil {
		t.Error("Check should reject the same config")
	}
	if svc.Snapshot() != before {
		t.Error("snapshot replaced by a rejected config")
	}
	if len(m.reloads) != 2 || m.reloads[0] != nil || m.reloads[1] == nil {
		t.Errorf("reloads = %v, want [nil, error]", m.reloads)
	}
}

func TestReferenceService_Reload(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	next := parseConfig(t, `
types:
  - name: Team
streams:
  - name: squads
    type: Team
`)
	if err := svc.Apply(next); err != nil {
		t.Fatalf("Apply error: %v", err)
	}

	_, err := svc.Decode(ctx, "", "", map[string]any{
		"stream":  "teams",
		"payload": map[string]any{"action": "retrieve", "pk": 1},
	})
	if !errors.Is(err, reference.ErrUnknownStream) {
		t.Errorf("old stream error = %v, want ErrUnknownStream", err)
	}

	obj, err := svc.Decode(ctx, "", "", map[string]any{
		"stream":  "squads",
		"payload": map[string]any{"action": "retrieve", "pk": 1},
	})
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if rec := obj.(model.Record); rec.Type != "Team" {
		t.Errorf("decoded type = %s, want Team", rec.Type)
	}
}

func TestReferenceService_Render(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		stream string
		pk     any
		want   string
	}{
		{
			"users", 7,
			`{"@id":{"stream":"users","payload":{"action":"retrieve","pk":7}},` +
				`"name":"bob","email":"bob@example.com",` +
				`"team":{"stream":"teams","payload":{"action":"retrieve","pk":1}}}`,
		},
		{
			"users", "8",
			`{"@id":{"stream":"users","payload":{"action":"retrieve","pk":8}},` +
				`"name":"alice","email":"alice@example.com"}`,
		},
		{
			"teams", json.Number("1"),
			`{"@id":{"stream":"teams","payload":{"action":"retrieve","pk":1}},` +
				`"name":"core",` +
				`"members":{"stream":"users","payload":{"action":"list","team_pk":1}}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.stream, func(t *testing.T) {
			doc, err := svc.Render(ctx, tt.stream, tt.pk)
			if err != nil {
				t.Fatalf("Render error: %v", err)
			}
			if got := mustJSON(t, doc); got != tt.want {
				t.Errorf("Render =\n%s\nwant\n%s", got, tt.want)
			}
		})
	}
}

func TestReferenceService_RenderErrors(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Render(ctx, "nope", 1); !errors.Is(err, app.ErrUnknownStream) {
		t.Errorf("unknown stream error = %v", err)
	}
	if _, err := svc.Render(ctx, "users", 99); !errors.Is(err, ports.ErrNotFound) {
		t.Errorf("missing record error = %v", err)
	}
}

func TestReferenceService_RenderList(t *testing.T) {
	svc, _ := newTestService(t)

	refs, err := svc.RenderList(context.Background(), "users")
	if err != nil {
		t.Fatalf("RenderList error: %v", err)
	}
	want := `[{"stream":"users","payload":{"action":"retrieve","pk":7}},` +
		`{"stream":"users","payload":{"action":"retrieve","pk":8}}]`
	if got := mustJSON(t, refs); got != want {
		t.Errorf("RenderList = %s, want %s", got, want)
	}
}

func TestReferenceService_Decode(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name       string
		serializer string
		field      string
		raw        any
		want       string
	}{
		{"bare pk on field", "users", "team", 1, "core"},
		{"bare json number", "users", "team", json.Number("1"), "core"},
		{"reference map", "", "", map[string]any{
			"stream":  "users",
			"payload": map[string]any{"action": "retrieve", "pk": 8},
		}, "alice"},
		{"json bytes", "", "", []byte(`{"stream":"users","payload":{"action":"by_email","email":"bob@example.com"}}`), "bob"},
		{"raw message", "", "", json.RawMessage(`{"stream":"teams","payload":{"action":"retrieve","pk":"1"}}`), "core"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obj, err := svc.Decode(ctx, tt.serializer, tt.field, tt.raw)
			if err != nil {
				t.Fatalf("Decode error: %v", err)
			}
			if got := nameOf(t, obj); got != tt.want {
				t.Errorf("decoded %q, want %q", got, tt.want)
			}
		})
	}
}

func TestReferenceService_DecodeCollection(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	doc, err := svc.Render(ctx, "teams", 1)
	if err != nil {
		t.Fatalf("Render error: %v", err)
	}
	members, _ := doc.Get("members")

	obj, err := svc.Decode(ctx, "", "", []byte(mustJSON(t, members)))
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	records, ok := obj.([]model.Record)
	if !ok || len(records) != 1 || nameOf(t, records[0]) != "bob" {
		t.Errorf("members = %#v, want [bob]", obj)
	}
}

func TestReferenceService_DecodeErrors(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name       string
		serializer string
		field      string
		raw        any
		want       error
	}{
		{"no serializer", "invoices", "owner", 1, app.ErrNoSerializer},
		{"unknown field", "users", "nickname", 1, app.ErrUnknownField},
		{"attribute field", "users", "name", 1, app.ErrUnknownField},
		{"malformed", "", "", map[string]any{"stream": "users"}, reference.ErrMalformedReference},
		{"missing action", "", "", map[string]any{"stream": "users", "payload": map[string]any{"pk": 7}}, reference.ErrMissingAction},
		{"unknown stream", "", "", []byte(`{"stream":"nope","payload":{"action":"retrieve","pk":1}}`), reference.ErrUnknownStream},
		{"action not allowed", "", "", map[string]any{"stream": "teams", "payload": map[string]any{"action": "list", "pk": 1}}, reference.ErrActionNotAllowed},
		{"not found", "users", "team", 42, reference.ErrNotFound},
		{"invalid arguments", "", "", map[string]any{"stream": "users", "payload": map[string]any{"action": "by_email", "name": "bob"}}, reference.ErrInvalidLookupArguments},
		{"bare pk without target", "", "", 7, &reference.Error{Code: reference.CodeConfiguration}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Decode(ctx, tt.serializer, tt.field, tt.raw)
			if !errors.Is(err, tt.want) {
				t.Errorf("Decode error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestReferenceService_DecodeAudit(t *testing.T) {
	log := memory.NewDecodeLog(10)
	start := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	svc, _ := newTestService(t,
		app.WithAudit(log, idgen.NewSequential("dec-")),
		app.WithClock(clock.NewStepping(start, time.Second)),
	)
	ctx := app.WithRequestID(context.Background(), "req-1")

	if built := svc.Snapshot().BuiltAt; !built.Equal(start) {
		t.Errorf("BuiltAt = %v, want %v", built, start)
	}

	if _, err := svc.Decode(ctx, "users", "team", 1); err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	_, _ = svc.Decode(ctx, "", "", []byte(`{"stream":"nope","payload":{"action":"retrieve","pk":1}}`))

	entries, err := svc.RecentDecodes(ctx, "", 10)
	if err != nil {
		t.Fatalf("RecentDecodes error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}

	failed, resolved := entries[0], entries[1]
	if failed.Stream != "nope" || failed.Outcome != string(reference.CodeUnknownStream) {
		t.Errorf("failed entry = %+v", failed)
	}
	if resolved.Stream != "teams" || resolved.Action != "retrieve" || resolved.Outcome != "ok" {
		t.Errorf("resolved entry = %+v", resolved)
	}
	if resolved.ID != "dec-1" || resolved.RequestID != "req-1" {
		t.Errorf("resolved entry id = %q, request id = %q", resolved.ID, resolved.RequestID)
	}
	if resolved.Payload["pk"] != 1 {
		t.Errorf("resolved entry payload = %v", resolved.Payload)
	}
	if !resolved.CreatedAt.Equal(start.Add(time.Second)) || !failed.CreatedAt.Equal(start.Add(2*time.Second)) {
		t.Errorf("created at = %v, %v", resolved.CreatedAt, failed.CreatedAt)
	}

	filtered, err := svc.RecentDecodes(ctx, "teams", 10)
	if err != nil {
		t.Fatalf("RecentDecodes error: %v", err)
	}
	if len(filtered) != 1 {
		t.Errorf("filtered entries = %d, want 1", len(filtered))
	}
}

func TestReferenceService_RecentDecodesWithoutAudit(t *testing.T) {
	svc, _ := newTestService(t)

	entries, err := svc.RecentDecodes(context.Background(), "", 10)
	if err != nil {
		t.Fatalf("RecentDecodes error: %v", err)
	}
	if entries == nil || len(entries) != 0 {
		t.Errorf("entries = %#v, want empty", entries)
	}
}

func TestReferenceService_Metrics(t *testing.T) {
	m := &fakeMetrics{}
	svc, _ := newTestService(t, app.WithMetrics(m))
	ctx := context.Background()

	_, _ = svc.Decode(ctx, "users", "team", 1)
	_, _ = svc.Decode(ctx, "users", "team", 42)

	user, err := svc.Get(ctx, "users", 7)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if _, ok, err := svc.Encode(user, reference.FieldConfig{}, nil); !ok || err != nil {
		t.Fatalf("Encode = %v, %v", ok, err)
	}
	if _, ok, _ := svc.Encode(model.NewRecord("Invoice", map[string]any{"pk": 1}), reference.FieldConfig{}, nil); ok {
		t.Error("Invoice should not encode")
	}

	wantDecodes := []string{"teams:ok", "teams:not_found"}
	if len(m.decodes) != len(wantDecodes) {
		t.Fatalf("decodes = %v, want %v", m.decodes, wantDecodes)
	}
	for i := range wantDecodes {
		if m.decodes[i] != wantDecodes[i] {
			t.Errorf("decodes[%d] = %q, want %q", i, m.decodes[i], wantDecodes[i])
		}
	}

	wantEncodes := []string{"users:ok", ":omitted"}
	if len(m.encodes) != len(wantEncodes) {
		t.Fatalf("encodes = %v, want %v", m.encodes, wantEncodes)
	}
	for i := range wantEncodes {
		if m.encodes[i] != wantEncodes[i] {
			t.Errorf("encodes[%d] = %q, want %q", i, m.encodes[i], wantEncodes[i])
		}
	}
}

func TestReferenceService_Create(t *testing.T) {
	svc, _ := newTestService(t, app.WithIDGenerator(idgen.NewSequential("u")))
	ctx := context.Background()

	rec, err := svc.Create(ctx, "users", map[string]any{"name": "carol"})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if pk, _ := rec.PK(); pk != "u1" {
		t.Errorf("generated pk = %v, want u1", pk)
	}

	got, err := svc.Get(ctx, "users", "u1")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if name, _ := got.Attr("name"); name != "carol" {
		t.Errorf("name = %v, want carol", name)
	}

	rec, err = svc.Create(ctx, "users", map[string]any{"pk": 20, "name": "dave"})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if pk, _ := rec.PK(); pk != 20 {
		t.Errorf("explicit pk = %v, want 20", pk)
	}

	if _, err := svc.Create(ctx, "nope", map[string]any{}); !errors.Is(err, app.ErrUnknownStream) {
		t.Errorf("unknown stream error = %v", err)
	}
}

func TestReferenceService_CreateWithoutIDGenerator(t *testing.T) {
	svc, _ := newTestService(t)

	if _, err := svc.Create(context.Background(), "users", map[string]any{"name": "erin"}); err == nil {
		t.Error("expected error without pk or id generator")
	}
}

func TestReferenceService_SeedUnownedType(t *testing.T) {
	_, stores := newTestService(t)

	rec, err := stores[config.StoreMemory].Get(context.Background(), "Invoice", 100)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if total, _ := rec.Attr("total"); total != 12 {
		t.Errorf("total = %v, want 12", total)
	}
}
