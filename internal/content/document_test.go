package content

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestValidPath(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"data/home.json", true},
		{"content/pages/about.json", true},
		{"home.json", true},
		{"", false},
		{".json", false},
		{"/data/home.json", false},
		{"data/../home.json", false},
		{"./data/home.json", false},
		{"data\\home.json", false},
		{"data/home.json\x00", false},
		{"data/home.yaml", false},
	}
	for _, tt := range tests {
		if got := ValidPath(tt.path); got != tt.want {
			t.Errorf("ValidPath(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestParseDocument(t *testing.T) {
	raw := []byte(`{"title": "Hello", "count": 12345678901234567890, "draft": false, "tags": ["a"]}`)
	doc, err := ParseDocument("data/home.json", raw, SourceDisk)
	if err != nil {
		t.Fatalf("ParseDocument: %v", err)
	}
	if doc.Path != "data/home.json" || doc.Source != SourceDisk {
		t.Fatalf("doc = %+v", doc)
	}
	if len(doc.SHA) != 64 {
		t.Fatalf("SHA = %q, want sha256 hex", doc.SHA)
	}
	// numbers keep their exact text
	if doc.String("count") != "12345678901234567890" {
		t.Fatalf("count = %q", doc.String("count"))
	}
	if doc.String("draft") != "false" {
		t.Fatalf("draft = %q", doc.String("draft"))
	}
	if doc.String("tags") != `["a"]` {
		t.Fatalf("tags = %q", doc.String("tags"))
	}
	if doc.String("missing") != "" {
		t.Fatal("missing field should be empty")
	}
}

func TestParseDocument_Errors(t *testing.T) {
	tests := []struct {
		name string
		path string
		raw  string
	}{
		{"invalid path", "../x.json", `{}`},
		{"not json", "data/home.json", `title: Hello`},
		{"array", "data/home.json", `[]`},
		{"null", "data/home.json", `null`},
		{"too large", "data/home.json", `{"x": "` + strings.Repeat("a", int(MaxDocumentSize)) + `"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseDocument(tt.path, []byte(tt.raw), SourceSeed); err == nil {
				t.Fatal("expected error")
			}
		})
	}
	if _, err := ParseDocument("/abs.json", []byte(`{}`), SourceSeed); !errors.Is(err, ErrInvalidPath) {
		t.Fatalf("err = %v, want ErrInvalidPath", err)
	}
}

func TestDocument_EncodeRoundTrip(t *testing.T) {
	doc, err := ParseDocument("data/home.json", []byte(`{"title":"<b>Hi</b>","n":1.50}`), SourceSeed)
	if err != nil {
		t.Fatalf("ParseDocument: %v", err)
	}
	raw, err := doc.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	want := "{\n  \"n\": 1.50,\n  \"title\": \"<b>Hi</b>\"\n}\n"
	if string(raw) != want {
		t.Fatalf("Encode = %q, want %q", raw, want)
	}
}

func TestDocument_CloneIsDeep(t *testing.T) {
	doc, _ := ParseDocument("data/home.json", []byte(`{"nested": {"a": [1, {"b": "c"}]}}`), SourceSeed)
	cp := doc.Clone()

	cp.Data["nested"].(map[string]any)["a"].([]any)[1].(map[string]any)["b"] = "changed"
	if got := doc.Data["nested"].(map[string]any)["a"].([]any)[1].(map[string]any)["b"]; got != "c" {
		t.Fatalf("original mutated through clone: %v", got)
	}
	if (*Document)(nil).Clone() != nil {
		t.Fatal("nil Clone should be nil")
	}
	if empty := (&Document{Path: "x.json"}).Clone(); empty.Data == nil {
		t.Fatal("Clone should give documents without data an empty map")
	}
}

func TestDocument_JSONShape(t *testing.T) {
	doc := &Document{Path: "content/home.json", Data: map[string]any{"title": "x"}, SHA: "abc", Source: SourceGitHub}
	b, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	for _, key := range []string{`"fileRelativePath":"content/home.json"`, `"data":{"title":"x"}`, `"sha":"abc"`, `"source":"github"`} {
		if !strings.Contains(string(b), key) {
			t.Fatalf("json %s missing %s", b, key)
		}
	}
}

func TestSource_Local(t *testing.T) {
	for _, s := range []Source{SourceSeed, SourceDisk, SourceS3} {
		if !s.Local() {
			t.Errorf("%s should be local", s)
		}
	}
	for _, s := range []Source{SourceGitHub, SourceUnknown} {
		if s.Local() {
			t.Errorf("%s should not be local", s)
		}
	}
}
