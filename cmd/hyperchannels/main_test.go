package main

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const cliConfig = `
logging:
  level: error
types:
  - name: Team
  - name: User
streams:
  - name: users
    type: User
  - name: teams
    type: Team
serializers:
  - stream: users
    fields:
      - name
      - name: team
        target: teams
records:
  - type: Team
    fields: {pk: 1, name: core}
  - type: User
    fields:
      pk: 7
      name: bob
      team: {type: Team, fields: {pk: 1}}
`

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return runWith(t, cliConfig, args...)
}

func runWith(t *testing.T, content string, args ...string) (string, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hyperchannels.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(append([]string{"--config", path}, args...))
	err := rootCmd.Execute()
	return out.String(), err
}

func TestValidateCommand(t *testing.T) {
	out, err := run(t, "validate")
	if err != nil {
		t.Fatalf("validate error: %v", err)
	}
	for _, want := range []string{"Stream registry compiles", "Streams: [users teams]", "Seed records: 2", "Configuration is valid."} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestValidateCommand_MissingFile(t *testing.T) {
	rootCmd.SetOut(io.Discard)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs([]string{"validate", "--config", filepath.Join(t.TempDir(), "nope.yaml")})
	if err := rootCmd.Execute(); err == nil {
		t.Error("expected error for missing config")
	}
}

func TestStreamsCommand(t *testing.T) {
	out, err := run(t, "streams")
	if err != nil {
		t.Fatalf("streams error: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 4 {
		t.Fatalf("lines = %d, want 4:\n%s", len(lines), out)
	}
	if f := strings.Fields(lines[2]); len(f) != 4 || f[0] != "users" || f[1] != "User" || f[2] != "memory" || f[3] != "retrieve" {
		t.Errorf("users row = %q", lines[2])
	}
}

func TestEncodeCommand(t *testing.T) {
	out, err := run(t, "encode", "users", "7")
	if err != nil {
		t.Fatalf("encode error: %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal([]byte(out), &doc); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, out)
	}
	if doc["name"] != "bob" {
		t.Errorf("name = %v", doc["name"])
	}
	team, _ := doc["team"].(map[string]any)
	if team["stream"] != "teams" {
		t.Errorf("team = %v", doc["team"])
	}
}

func TestEncodeCommand_UnknownStream(t *testing.T) {
	if _, err := run(t, "encode", "ghosts", "1"); err == nil {
		t.Error("expected error for unknown stream")
	}
}

func TestDecodeCommand(t *testing.T) {
	out, err := run(t, "decode", "--serializer", "", "--field", "", `{"stream":"users","payload":{"action":"retrieve","pk":7}}`)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	var obj struct {
		Type   string         `json:"type"`
		Fields map[string]any `json:"fields"`
	}
	if err := json.Unmarshal([]byte(out), &obj); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, out)
	}
	if obj.Type != "User" || obj.Fields["name"] != "bob" {
		t.Errorf("decoded = %+v", obj)
	}

	out, err = run(t, "decode", "--serializer", "users", "--field", "team", "1")
	if err != nil {
		t.Fatalf("decode field error: %v", err)
	}
	if !strings.Contains(out, `"type": "Team"`) {
		t.Errorf("decoded = %s", out)
	}
}

func TestDecodeCommand_HelpExample(t *testing.T) {
	const profilesConfig = `
logging:
  level: error
types:
  - name: Team
  - name: UserProfile
streams:
  - name: profiles
    type: UserProfile
  - name: teams
    type: Team
serializers:
  - stream: profiles
    fields:
      - bio
      - name: team
        target: teams
records:
  - type: Team
    fields: {pk: 1, name: core}
`
	var example []string
	for _, line := range strings.Split(decodeCmd.Long, "\n") {
		if strings.Contains(line, "--serializer") {
			example = strings.Fields(line)
		}
	}
	if len(example) < 2 || example[0] != "hyperchannels" {
		t.Fatalf("no --serializer example in decode help:\n%s", decodeCmd.Long)
	}

	out, err := runWith(t, profilesConfig, example[1:]...)
	if err != nil {
		t.Fatalf("%s: %v", strings.Join(example, " "), err)
	}
	if !strings.Contains(out, `"type": "Team"`) {
		t.Errorf("decoded = %s", out)
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "version")
	if err != nil {
		t.Fatalf("version error: %v", err)
	}
	if !strings.HasPrefix(out, "hyperchannels dev") {
		t.Errorf("output = %q", out)
	}
}

// Runs last: --check-database stays set on the shared command.
func TestValidateCommand_CheckDatabase(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "refs.db")
	content := "database:\n  dsn: " + dsn + "\n" + cliConfig

	out, err := runWith(t, content, "validate", "--check-database")
	if err != nil {
		t.Fatalf("validate error: %v", err)
	}
	for _, want := range []string{"Database writable (" + dsn + ")", "Migrations: [001_records 002_stream_audit]"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}
