package content

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/keithlinneman/linnemanlabs-editor/internal/cryptoutil"
	"github.com/keithlinneman/linnemanlabs-editor/internal/pathutil"
)

// MaxDocumentSize caps a single JSON document from any source
const MaxDocumentSize int64 = 1 << 20 // 1MB

// Errors returned by remote stores. Resolver and the save handler switch on these.
var (
	ErrUnauthorized = errors.New("content: remote store rejected credentials")
	ErrNotFound     = errors.New("content: document not found")
	ErrConflict     = errors.New("content: document changed since it was read")
	ErrInvalidPath  = errors.New("content: invalid document path")
)

// Document is a JSON object addressed by a relative path.
// Shape is the same for local and remote documents.
type Document struct {
	Path   string         `json:"fileRelativePath"`
	Data   map[string]any `json:"data"`
	SHA    string         `json:"sha,omitempty"`
	Source Source         `json:"source"`
}

// ValidPath reports whether p is a clean relative path to a .json file
func ValidPath(p string) bool {
	if p == "" || p[0] == '/' || pathutil.HasDotSegments(p) {
		return false
	}
	if strings.ContainsAny(p, "\\\x00") {
		return false
	}
	return len(p) > len(".json") && strings.HasSuffix(p, ".json")
}

// ParseDocument decodes raw into a Document. The top level value must be a JSON object.
// For local sources SHA is the hex sha256 of raw; remote stores overwrite it with the blob sha.
func ParseDocument(path string, raw []byte, src Source) (*Document, error) {
	if !ValidPath(path) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	if int64(len(raw)) > MaxDocumentSize {
		return nil, fmt.Errorf("content: %s exceeds max size (%d bytes, limit %d)", path, len(raw), MaxDocumentSize)
	}
	var data map[string]any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&data); err != nil {
		return nil, fmt.Errorf("content: decode %s: %w", path, err)
	}
	if data == nil {
		return nil, fmt.Errorf("content: %s is not a JSON object", path)
	}
	return &Document{
		Path:   path,
		Data:   data,
		SHA:    cryptoutil.SHA256Hex(raw),
		Source: src,
	}, nil
}

// Encode renders the document data the way it is committed: two space indent, trailing newline
func (d *Document) Encode() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(d.Data); err != nil {
		return nil, fmt.Errorf("content: encode %s: %w", d.Path, err)
	}
	return buf.Bytes(), nil
}

// String returns the string form of a top level field, "" when absent
func (d *Document) String(field string) string {
	if d == nil {
		return ""
	}
	switch v := d.Data[field].(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	case bool:
		if v {
			return "true"
		}
		return "false"
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// Clone returns a deep copy
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	cp := *d
	cp.Data, _ = cloneValue(d.Data).(map[string]any)
	if cp.Data == nil {
		cp.Data = map[string]any{}
	}
	return &cp
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, vv := range t {
			m[k] = cloneValue(vv)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, vv := range t {
			s[i] = cloneValue(vv)
		}
		return s
	default:
		return t
	}
}
