package record

import (
	"encoding/json"
	"fmt"
	"strings"
)

// keySeparator joins the values of a composite key.
const keySeparator = "|"

// keyEscaper escapes the separator and the escape character inside composite key parts,
// so distinct value tuples never join to the same key.
var keyEscaper = strings.NewReplacer(`\`, `\\`, keySeparator, `\`+keySeparator)

// KeySpec projects a record onto its identity key.
type KeySpec struct {
	fields []string
}

// NewKeySpec builds a projection over the given fields, in order.
func NewKeySpec(fields []string) (KeySpec, error) {
	cleaned := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f != "" {
			cleaned = append(cleaned, f)
		}
	}
	if len(cleaned) == 0 {
		return KeySpec{}, fmt.Errorf("key spec requires at least one field")
	}
	return KeySpec{fields: cleaned}, nil
}

// Fields returns the projected field names.
func (k KeySpec) Fields() []string {
	return append([]string(nil), k.fields...)
}

// Key returns the identity key of r. Every projected field must be present and non-empty.
// A single-field key is the trimmed value itself; composite parts are escaped before joining.
func (k KeySpec) Key(r Record) (string, error) {
	if len(k.fields) == 0 {
		return "", fmt.Errorf("key spec has no fields")
	}
	parts := make([]string, 0, len(k.fields))
	for _, f := range k.fields {
		v, ok := r[f]
		if !ok || v == nil {
			return "", fmt.Errorf("record missing key field %q", f)
		}
		s := strings.TrimSpace(stringify(v))
		if s == "" {
			return "", fmt.Errorf("record has empty key field %q", f)
		}
		parts = append(parts, s)
	}
	if len(parts) == 1 {
		return parts[0], nil
	}
	for i, p := range parts {
		parts[i] = keyEscaper.Replace(p)
	}
	return strings.Join(parts, keySeparator), nil
}

func stringify(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case json.Number:
		return x.String()
	case bool:
		if x {
			return "true"
		}
		return "false"
	case map[string]any, []any:
		// Objects are not identities.
		return ""
	default:
		return fmt.Sprint(x)
	}
}
