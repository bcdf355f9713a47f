package tomledit

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Table is an ordered TOML table. Values are strings, integers, booleans,
// time.Time, []any or nested Tables.
type Table []Field

type Field struct {
	Key   string
	Value any
}

// Get returns the value stored under key.
func (t Table) Get(key string) (any, bool) {
	for _, f := range t {
		if f.Key == key {
			return f.Value, true
		}
	}
	return nil, false
}

// Render returns the canonical inline TOML spelling of v.
func Render(v any) (string, error) {
	switch v := v.(type) {
	case Table:
		if len(v) == 0 {
			return "{}", nil
		}
		parts := make([]string, 0, len(v))
		for _, f := range v {
			s, err := Render(f.Value)
			if err != nil {
				return "", err
			}
			k, err := renderKey([]string{f.Key})
			if err != nil {
				return "", err
			}
			parts = append(parts, k+" = "+s)
		}
		return "{ " + strings.Join(parts, ", ") + " }", nil

	case []any:
		parts := make([]string, 0, len(v))
		for _, it := range v {
			s, err := Render(it)
			if err != nil {
				return "", err
			}
			parts = append(parts, s)
		}
		return "[" + strings.Join(parts, ", ") + "]", nil

	case string, bool, int, int64, uint64, float64:
		return renderScalar(v)

	case time.Time:
		return renderScalar(v.UTC())
	}
	return "", fmt.Errorf("unsupported TOML value type %T", v)
}

func renderScalar(v any) (string, error) {
	b, err := toml.Marshal(map[string]any{"v": v})
	if err != nil {
		return "", fmt.Errorf("encoding %v: %w", v, err)
	}
	b = bytes.TrimSuffix(b, []byte("\n"))
	if !bytes.HasPrefix(b, []byte("v = ")) {
		return "", fmt.Errorf("encoding %v: unexpected output %q", v, b)
	}
	return string(b[len("v = "):]), nil
}

// renderKey spells a dotted key, quoting the parts that are not bare keys.
func renderKey(path []string) (string, error) {
	parts := make([]string, len(path))
	for i, k := range path {
		b, err := toml.Marshal(map[string]int{k: 0})
		if err != nil {
			return "", fmt.Errorf("encoding key %q: %w", k, err)
		}
		parts[i] = strings.TrimSuffix(string(b), " = 0\n")
	}
	return strings.Join(parts, "."), nil
}
