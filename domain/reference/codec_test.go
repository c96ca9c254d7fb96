package reference_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/artpar/hyperchannels/domain/lookup"
	"github.com/artpar/hyperchannels/domain/model"
	"github.com/artpar/hyperchannels/domain/reference"
	"github.com/artpar/hyperchannels/domain/stream"
	"github.com/artpar/hyperchannels/pkg/hyperref"
)

type fixture struct {
	codec   *reference.Codec
	users   map[int64]model.Record
	lastCtx context.Context
	calls   []string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{users: map[int64]model.Record{
		7: model.NewRecord("User", map[string]any{"pk": int64(7), "username": "bob"}),
		8: model.NewRecord("User", map[string]any{"pk": int64(8), "username": "alice"}),
	}}

	h := model.NewHierarchy()
	mustDeclare(t, h, "Model")
	mustDeclare(t, h, "User", "Model")
	mustDeclare(t, h, "UserProfile", "Model")

	userResolver := stream.ResolverFunc(func(ctx context.Context, action string, params map[string]any) (any, error) {
		f.lastCtx = ctx
		f.calls = append(f.calls, "users/"+action)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		switch action {
		case "retrieve":
			pk, ok := toInt(params["pk"])
			if !ok {
				return nil, reference.ErrInvalidLookupArguments
			}
			rec, found := f.users[pk]
			if !found {
				return nil, nil
			}
			return rec, nil
		case "active_users":
			name, _ := params["username"].(string)
			for _, rec := range f.users {
				if rec.Fields["username"] == name {
					return rec, nil
				}
			}
			return nil, fmt.Errorf("user %s: %w", name, reference.ErrNotFound)
		}
		return nil, reference.ErrInvalidLookupArguments
	})
	profileResolver := stream.ResolverFunc(func(ctx context.Context, action string, params map[string]any) (any, error) {
		f.calls = append(f.calls, "profiles/"+action)
		return []model.Record{}, nil
	})

	reg, err := stream.NewRegistry(
		stream.Descriptor{Name: "users", OwnedType: "User", Actions: stream.NewActionSet("retrieve", "active_users"), Resolver: userResolver},
		stream.Descriptor{Name: "profiles", OwnedType: "UserProfile", Actions: stream.NewActionSet("retrieve", "friends_with_profiles", "list"), Resolver: profileResolver},
		stream.Descriptor{Name: "empty", OwnedType: "Empty", Actions: stream.NewActionSet("retrieve")},
	)
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}

	f.codec, err = reference.NewCodec(reg, h)
	if err != nil {
		t.Fatalf("NewCodec failed: %v", err)
	}
	return f
}

func mustDeclare(t *testing.T, h *model.Hierarchy, id model.TypeID, bases ...model.TypeID) {
	t.Helper()
	if err := h.Declare(id, bases...); err != nil {
		t.Fatalf("Declare(%s) failed: %v", id, err)
	}
}

func toInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	}
	return 0, false
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	return string(b)
}

func TestNewCodec_NoRegistry(t *testing.T) {
	_, err := reference.NewCodec(nil, nil)
	if !errors.Is(err, reference.ErrNoRegistry) {
		t.Errorf("NewCodec(nil) error = %v, want ErrNoRegistry", err)
	}
	if reference.CodeOf(err) != reference.CodeConfiguration {
		t.Errorf("CodeOf = %s, want %s", reference.CodeOf(err), reference.CodeConfiguration)
	}
}

func TestEncode_Identity(t *testing.T) {
	f := newFixture(t)

	ref, ok, err := f.codec.EncodeIdentity(f.users[7], reference.IdentityConfig{})
	if err != nil {
		t.Fatalf("EncodeIdentity failed: %v", err)
	}
	if !ok {
		t.Fatal("EncodeIdentity ok = false, want true")
	}

	got := mustJSON(t, ref)
	want := `{"stream":"users","payload":{"action":"retrieve","pk":7}}`
	if got != want {
		t.Errorf("EncodeIdentity = %s, want %s", got, want)
	}
}

func TestEncode_Field(t *testing.T) {
	f := newFixture(t)
	parent := model.NewRecord("UserProfile", map[string]any{
		"pk":   int64(3),
		"team": map[string]any{"pk": int64(1)},
		"user": f.users[7],
	})

	tests := []struct {
		name string
		cfg  reference.FieldConfig
		want string
	}{
		{
			name: "defaults",
			cfg:  reference.FieldConfig{},
			want: `{"stream":"users","payload":{"action":"retrieve","pk":7}}`,
		},
		{
			name: "custom action and lookups",
			cfg: reference.NewFieldConfig(
				reference.WithAction("active_users"),
				reference.WithLookups(lookup.MustMappings("username", "username", "profile_pk", "self.pk", "team_pk", "self.team.pk")),
			),
			want: `{"stream":"users","payload":{"action":"active_users","username":"bob","profile_pk":3,"team_pk":1}}`,
		},
		{
			name: "explicit stream",
			cfg:  reference.NewFieldConfig(reference.WithStream("profiles")),
			want: `{"stream":"profiles","payload":{"action":"retrieve","pk":7}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref, ok, err := f.codec.Encode(f.users[7], tt.cfg, parent)
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}
			if !ok {
				t.Fatal("Encode ok = false, want true")
			}
			if got := mustJSON(t, ref); got != tt.want {
				t.Errorf("Encode = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestEncode_Omitted(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name    string
		subject any
	}{
		{"nil subject", nil},
		{"untyped subject", map[string]any{"pk": 1}},
		{"no owning stream", model.NewRecord("Invoice", map[string]any{"pk": 1})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok, err := f.codec.Encode(tt.subject, reference.FieldConfig{}, nil)
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}
			if ok {
				t.Error("Encode ok = true, want false")
			}
		})
	}
}

func TestEncode_Errors(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.codec.Encode(f.users[7], reference.NewFieldConfig(reference.WithStream("nope")), nil)
	if reference.CodeOf(err) != reference.CodeConfiguration {
		t.Errorf("unknown explicit stream error = %v, want configuration error", err)
	}

	cfg := reference.NewFieldConfig(reference.WithLookups(lookup.MustMappings("profile_pk", "self.pk")))
	_, _, err = f.codec.Encode(f.users[7], cfg, nil)
	if !errors.Is(err, lookup.ErrNoParent) {
		t.Errorf("self lookup without parent error = %v, want ErrNoParent", err)
	}

	cfg = reference.NewFieldConfig(reference.WithLookups(lookup.MustMappings("email", "email")))
	_, _, err = f.codec.Encode(f.users[7], cfg, nil)
	if !errors.Is(err, lookup.ErrMissingAttribute) {
		t.Errorf("missing attribute error = %v, want ErrMissingAttribute", err)
	}
}

func TestEncode_Deterministic(t *testing.T) {
	f := newFixture(t)
	cfg := reference.NewFieldConfig(reference.WithLookups(lookup.MustMappings("username", "username", "pk", "pk")))

	first, _, err := f.codec.Encode(f.users[8], cfg, nil)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, _, _ := f.codec.Encode(f.users[8], cfg, nil)
		if mustJSON(t, again) != mustJSON(t, first) {
			t.Fatalf("Encode #%d = %s, want %s", i, mustJSON(t, again), mustJSON(t, first))
		}
	}
}

func TestEncodeCollection(t *testing.T) {
	f := newFixture(t)
	parent := model.NewRecord("UserProfile", map[string]any{"pk": int64(3), "user": f.users[7]})

	cfg := reference.ManyConfig{
		Action:  "friends_with_profiles",
		Lookups: lookup.MustMappings("user_pk", "self.user.pk"),
	}
	ref, ok, err := f.codec.EncodeCollection("UserProfile", cfg, parent)
	if err != nil {
		t.Fatalf("EncodeCollection failed: %v", err)
	}
	if !ok {
		t.Fatal("EncodeCollection ok = false, want true")
	}
	want := `{"stream":"profiles","payload":{"action":"friends_with_profiles","user_pk":7}}`
	if got := mustJSON(t, ref); got != want {
		t.Errorf("EncodeCollection = %s, want %s", got, want)
	}

	ref, _, err = f.codec.EncodeCollection("UserProfile", reference.ManyConfig{}, parent)
	if err != nil {
		t.Fatalf("EncodeCollection defaults failed: %v", err)
	}
	want = `{"stream":"profiles","payload":{"action":"list","pk":3}}`
	if got := mustJSON(t, ref); got != want {
		t.Errorf("EncodeCollection defaults = %s, want %s", got, want)
	}

	if _, ok, _ := f.codec.EncodeCollection("", reference.ManyConfig{}, parent); ok {
		t.Error("EncodeCollection with no type and no stream ok = true, want false")
	}
}

func TestEncodeCollectionEach(t *testing.T) {
	f := newFixture(t)
	parent := model.NewRecord("UserProfile", map[string]any{"pk": int64(3), "user": f.users[7]})
	friends := []any{
		model.NewRecord("UserProfile", map[string]any{"pk": int64(10)}),
		model.NewRecord("UserProfile", map[string]any{"pk": int64(11)}),
	}
	cfg := reference.ManyConfig{
		Action:  "friends_with_profiles",
		Lookups: lookup.MustMappings("user_pk", "self.user.pk"),
	}

	refs, err := f.codec.EncodeCollectionEach(friends, "", cfg, parent)
	if err != nil {
		t.Fatalf("EncodeCollectionEach failed: %v", err)
	}
	if len(refs) != 2 {
		t.Fatalf("len(refs) = %d, want 2", len(refs))
	}
	for i, ref := range refs {
		if !hyperref.Equal(ref, refs[0]) {
			t.Errorf("refs[%d] = %v, want %v", i, ref, refs[0])
		}
	}

	refs, err = f.codec.EncodeCollectionEach(nil, "UserProfile", cfg, parent)
	if err != nil || len(refs) != 0 {
		t.Errorf("EncodeCollectionEach(nil) = (%v, %v), want empty", refs, err)
	}
}

func TestEncodeList(t *testing.T) {
	f := newFixture(t)
	items := []any{f.users[7], model.NewRecord("Invoice", map[string]any{"pk": 1}), f.users[8]}

	cfg := reference.ManyConfig{
		Action:  "active_users",
		Lookups: lookup.MustMappings("username", "username"),
	}
	refs, err := f.codec.EncodeList(items, cfg)
	if err != nil {
		t.Fatalf("EncodeList failed: %v", err)
	}

	got := mustJSON(t, refs)
	want := `[{"stream":"users","payload":{"action":"active_users","username":"bob"}},` +
		`{"stream":"users","payload":{"action":"active_users","username":"alice"}}]`
	if got != want {
		t.Errorf("EncodeList = %s, want %s", got, want)
	}
}

func TestDecode_RoundTrip(t *testing.T) {
	f := newFixture(t)

	ref, _, err := f.codec.EncodeIdentity(f.users[8], reference.IdentityConfig{})
	if err != nil {
		t.Fatalf("EncodeIdentity failed: %v", err)
	}

	inputs := map[string]any{
		"typed":   ref,
		"pointer": &ref,
		"json":    json.RawMessage(mustJSON(t, ref)),
		"map":     map[string]any{"stream": "users", "payload": map[string]any{"action": "retrieve", "pk": json.Number("8")}},
	}

	for name, raw := range inputs {
		t.Run(name, func(t *testing.T) {
			obj, err := f.codec.Decode(context.Background(), raw, reference.FieldConfig{})
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			rec, ok := obj.(model.Record)
			if !ok {
				t.Fatalf("Decode returned %T, want model.Record", obj)
			}
			if rec.Fields["username"] != "alice" {
				t.Errorf("username = %v, want alice", rec.Fields["username"])
			}
		})
	}
}

func TestDecode_CustomAction(t *testing.T) {
	f := newFixture(t)

	raw := `{"stream":"users","payload":{"action":"active_users","username":"bob"}}`
	obj, err := f.codec.Decode(context.Background(), []byte(raw), reference.FieldConfig{})
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if rec := obj.(model.Record); rec.Fields["pk"] != int64(7) {
		t.Errorf("pk = %v, want 7", rec.Fields["pk"])
	}
}

func TestDecode_BarePK(t *testing.T) {
	f := newFixture(t)
	field := reference.NewFieldConfig(reference.WithTarget("users"))

	for _, raw := range []any{7, int64(7), float64(7), json.Number("7"), uint8(7)} {
		t.Run(fmt.Sprintf("%T", raw), func(t *testing.T) {
			obj, err := f.codec.Decode(context.Background(), raw, field)
			if err != nil {
				t.Fatalf("Decode(%v) failed: %v", raw, err)
			}
			if rec := obj.(model.Record); rec.Fields["username"] != "bob" {
				t.Errorf("username = %v, want bob", rec.Fields["username"])
			}
		})
	}

	if _, err := f.codec.Decode(context.Background(), 7, reference.FieldConfig{}); reference.CodeOf(err) != reference.CodeConfiguration {
		t.Errorf("bare pk without target error = %v, want configuration error", err)
	}
}

func TestDecode_Errors(t *testing.T) {
	f := newFixture(t)
	field := reference.NewFieldConfig(reference.WithTarget("users"))

	tests := []struct {
		name     string
		raw      any
		wantErr  error
		wantText string
	}{
		{
			name:     "unknown stream",
			raw:      map[string]any{"stream": "nope", "payload": map[string]any{"action": "retrieve", "pk": 1}},
			wantErr:  reference.ErrUnknownStream,
			wantText: "stream nope not found.",
		},
		{
			name:     "action not allowed",
			raw:      map[string]any{"stream": "users", "payload": map[string]any{"action": "destroy", "pk": 7}},
			wantErr:  reference.ErrActionNotAllowed,
			wantText: "action destroy not supported on users.",
		},
		{
			name:    "missing action",
			raw:     map[string]any{"stream": "users", "payload": map[string]any{"pk": 7}},
			wantErr: reference.ErrMissingAction,
		},
		{
			name:    "payload not an object",
			raw:     map[string]any{"stream": "users", "payload": 7},
			wantErr: reference.ErrMalformedReference,
		},
		{
			name:    "missing stream",
			raw:     map[string]any{"payload": map[string]any{"action": "retrieve"}},
			wantErr: reference.ErrMalformedReference,
		},
		{
			name:    "list is not a reference",
			raw:     []any{1, 2},
			wantErr: reference.ErrMalformedReference,
		},
		{
			name:    "fractional pk",
			raw:     7.5,
			wantErr: reference.ErrMalformedReference,
		},
		{
			name:    "invalid json",
			raw:     []byte(`{"stream":`),
			wantErr: reference.ErrMalformedReference,
		},
		{
			name:    "empty string pk",
			raw:     "",
			wantErr: reference.ErrMalformedReference,
		},
		{
			name:    "object not found",
			raw:     map[string]any{"stream": "users", "payload": map[string]any{"action": "retrieve", "pk": 99}},
			wantErr: reference.ErrNotFound,
		},
		{
			name:    "resolver rejects arguments",
			raw:     map[string]any{"stream": "users", "payload": map[string]any{"action": "retrieve", "id": 7}},
			wantErr: reference.ErrInvalidLookupArguments,
		},
		{
			name:     "wrapped not found keeps resolver wording",
			raw:      map[string]any{"stream": "users", "payload": map[string]any{"action": "active_users", "username": "carol"}},
			wantErr:  reference.ErrNotFound,
			wantText: "user carol: Not found",
		},
		{
			name:    "stream without resolver",
			raw:     map[string]any{"stream": "empty", "payload": map[string]any{"action": "retrieve", "pk": 1}},
			wantErr: &reference.Error{Code: reference.CodeConfiguration},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.codec.Decode(context.Background(), tt.raw, field)
			if err == nil {
				t.Fatal("Decode succeeded, want error")
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v (%s), want code %s", err, reference.CodeOf(err), reference.CodeOf(tt.wantErr))
			}
			if tt.wantText != "" && err.Error() != tt.wantText {
				t.Errorf("Error() = %q, want %q", err.Error(), tt.wantText)
			}
		})
	}
}

func TestDecode_ValidatesBeforeResolving(t *testing.T) {
	f := newFixture(t)

	raw := map[string]any{"stream": "users", "payload": map[string]any{"action": "destroy", "pk": 7}}
	if _, err := f.codec.Decode(context.Background(), raw, reference.FieldConfig{}); err == nil {
		t.Fatal("Decode succeeded, want error")
	}
	if len(f.calls) != 0 {
		t.Errorf("resolver calls = %v, want none", f.calls)
	}
}

func TestDecode_ContextPassthrough(t *testing.T) {
	f := newFixture(t)

	type ctxKey struct{}
	ctx := context.WithValue(context.Background(), ctxKey{}, "req-1")
	raw := map[string]any{"stream": "users", "payload": map[string]any{"action": "retrieve", "pk": 7}}
	if _, err := f.codec.Decode(ctx, raw, reference.FieldConfig{}); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if f.lastCtx == nil || f.lastCtx.Value(ctxKey{}) != "req-1" {
		t.Error("resolver did not receive the caller's context")
	}

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.codec.Decode(cancelled, raw, reference.FieldConfig{})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
	if reference.IsValidation(err) {
		t.Error("cancellation classified as validation error")
	}
}

func TestIsValidation(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{reference.ErrNotFound, true},
		{reference.ErrUnknownStream, true},
		{fmt.Errorf("wrapped: %w", reference.ErrMissingAction), true},
		{reference.ErrNoRegistry, false},
		{errors.New("boom"), false},
		{nil, false},
	}

	for _, tt := range tests {
		if got := reference.IsValidation(tt.err); got != tt.want {
			t.Errorf("IsValidation(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
