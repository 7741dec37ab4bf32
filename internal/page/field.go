package page

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/keithlinneman/linnemanlabs-editor/internal/content"
)

// Field describes one editable top level value of a document.
// Implementations are TextField, TextareaField, NumberField and ToggleField.
type Field interface {
	Key() string
	Title() string
	Help() string
	// Format returns the form value for a document value
	Format(v any) string
	// Parse converts a submitted form value into the value stored in the document
	Parse(raw string) (any, error)
	kind() string
}

var (
	errRequired = errors.New("is required")
	errNotBool  = errors.New("must be on or off")
)

// TextField is a single line string
type TextField struct {
	Name        string
	Label       string
	Description string
	Required    bool
	MaxLen      int
}

func (f TextField) Key() string         { return f.Name }
func (f TextField) Title() string       { return labelOr(f.Label, f.Name) }
func (f TextField) Help() string        { return f.Description }
func (f TextField) Format(v any) string { return formatValue(v) }
func (f TextField) kind() string        { return "text" }

// single line inputs fold every line break into a space
var foldLines = strings.NewReplacer("\r\n", " ", "\r", " ", "\n", " ")

// \r\n listed first so it becomes one \n, not two
var normalizeLines = strings.NewReplacer("\r\n", "\n", "\r", "\n")

func (f TextField) Parse(raw string) (any, error) {
	s := strings.TrimSpace(foldLines.Replace(raw))
	return checkString(s, f.Required, f.MaxLen)
}

// TextareaField is a multi line string, line endings are normalized to \n
type TextareaField struct {
	Name        string
	Label       string
	Description string
	Required    bool
	MaxLen      int
}

func (f TextareaField) Key() string         { return f.Name }
func (f TextareaField) Title() string       { return labelOr(f.Label, f.Name) }
func (f TextareaField) Help() string        { return f.Description }
func (f TextareaField) Format(v any) string { return formatValue(v) }
func (f TextareaField) kind() string        { return "textarea" }

func (f TextareaField) Parse(raw string) (any, error) {
	s := normalizeLines.Replace(raw)
	return checkString(s, f.Required, f.MaxLen)
}

// NumberField is stored as a JSON number. Min and Max are inclusive when set.
type NumberField struct {
	Name        string
	Label       string
	Description string
	Min         *float64
	Max         *float64
}

func (f NumberField) Key() string         { return f.Name }
func (f NumberField) Title() string       { return labelOr(f.Label, f.Name) }
func (f NumberField) Help() string        { return f.Description }
func (f NumberField) Format(v any) string { return formatValue(v) }
func (f NumberField) kind() string        { return "number" }

func (f NumberField) Parse(raw string) (any, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, errRequired
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, errors.New("must be a number")
	}
	if f.Min != nil && n < *f.Min {
		return nil, fmt.Errorf("must be at least %s", strconv.FormatFloat(*f.Min, 'f', -1, 64))
	}
	if f.Max != nil && n > *f.Max {
		return nil, fmt.Errorf("must be at most %s", strconv.FormatFloat(*f.Max, 'f', -1, 64))
	}
	return json.Number(strconv.FormatFloat(n, 'f', -1, 64)), nil
}

// ToggleField is stored as a JSON boolean
type ToggleField struct {
	Name        string
	Label       string
	Description string
}

func (f ToggleField) Key() string   { return f.Name }
func (f ToggleField) Title() string { return labelOr(f.Label, f.Name) }
func (f ToggleField) Help() string  { return f.Description }
func (f ToggleField) kind() string  { return "toggle" }

func (f ToggleField) Format(v any) string {
	if b, ok := v.(bool); ok && b {
		return "true"
	}
	return "false"
}

func (f ToggleField) Parse(raw string) (any, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "on", "1", "yes":
		return true, nil
	case "false", "off", "0", "no", "":
		return false, nil
	}
	return nil, errNotBool
}

func checkString(s string, required bool, maxLen int) (any, error) {
	if required && strings.TrimSpace(s) == "" {
		return nil, errRequired
	}
	if maxLen > 0 && utf8.RuneCountInString(s) > maxLen {
		return nil, fmt.Errorf("must be at most %d characters", maxLen)
	}
	return s, nil
}

func labelOr(label, name string) string {
	if label != "" {
		return label
	}
	return name
}

func formatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// Form is the ordered set of fields a page lets the editor change
type Form struct {
	Fields []Field
}

// FieldView is what the template needs to render one input
type FieldView struct {
	Name        string
	Label       string
	Description string
	Kind        string
	Value       string
	Error       string
}

// Apply parses the submitted values of every declared field onto a copy of doc.
// Keys that are not declared are ignored in values and kept unchanged in doc;
// declared fields missing from values keep their current value.
// Returns the per-field messages when any value fails to parse, the copy is nil then.
func (f Form) Apply(doc *content.Document, values url.Values) (*content.Document, map[string]string) {
	out := doc.Clone()
	if out == nil {
		out = &content.Document{}
	}
	if out.Data == nil {
		out.Data = map[string]any{}
	}
	errs := map[string]string{}
	for _, fld := range f.Fields {
		vs, ok := values[fld.Key()]
		if !ok || len(vs) == 0 {
			continue
		}
		// a checkbox posts after its hidden default, the last value wins
		v, err := fld.Parse(vs[len(vs)-1])
		if err != nil {
			errs[fld.Key()] = fld.Title() + " " + err.Error()
			continue
		}
		out.Data[fld.Key()] = v
	}
	if len(errs) > 0 {
		return nil, errs
	}
	return out, nil
}

// Views returns the field views with initial values from doc, overridden by
// submitted values when given so a failed save keeps what the editor typed.
func (f Form) Views(doc *content.Document, submitted url.Values, errs map[string]string) []FieldView {
	out := make([]FieldView, 0, len(f.Fields))
	for _, fld := range f.Fields {
		v := FieldView{
			Name:        fld.Key(),
			Label:       fld.Title(),
			Description: fld.Help(),
			Kind:        fld.kind(),
			Error:       errs[fld.Key()],
		}
		if vs, ok := submitted[fld.Key()]; ok && len(vs) > 0 {
			v.Value = vs[len(vs)-1]
			if v.Kind == "toggle" {
				if b, err := fld.Parse(v.Value); err == nil {
					v.Value = fld.Format(b)
				}
			}
		} else if doc != nil {
			v.Value = fld.Format(doc.Data[fld.Key()])
		}
		out = append(out, v)
	}
	return out
}
