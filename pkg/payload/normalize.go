package payload

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	apperrors "github.com/nrhinela/zoltag-sub001/pkg/errors"
)

// trueWords/falseWords mirror introspection.py's _TRUE_VALUES/
// _FALSE_VALUES: the exact string spellings _coerce_bool accepts for a
// queue payload's flag-typed fields.
var (
	trueWords  = map[string]bool{"1": true, "true": true, "yes": true, "y": true, "on": true}
	falseWords = map[string]bool{"0": true, "false": true, "no": true, "n": true, "off": true}
)

// Normalize validates rawPayload against schema and returns the
// canonical payload: unknown keys rejected, missing-but-defaulted keys
// filled in, values coerced to their declared type, required keys
// checked last (spec §6.3, ported from
// introspection.py::normalize_queue_payload's CLI-param coercion).
//
// The same (schema, rawPayload) pair always yields a byte-identical
// CanonicalJSON encoding (property P9: deterministic dedupe-key
// hashing depends on this).
func Normalize(schema *Schema, rawPayload map[string]interface{}) (map[string]interface{}, error) {
	if rawPayload == nil {
		rawPayload = map[string]interface{}{}
	}

	var unknown []string
	for key := range rawPayload {
		if _, ok := schema.Properties[key]; !ok {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, apperrors.NewError().WithCode(apperrors.CodeValidation).
			WithMessagef("unsupported payload fields: %v", unknown)
	}

	normalized := map[string]interface{}{}
	for name, field := range schema.Properties {
		raw, present := rawPayload[name]
		if !present {
			if field.Default != nil {
				normalized[name] = field.Default
			}
			continue
		}
		coerced, err := coerce(name, field, raw)
		if err != nil {
			return nil, apperrors.NewError().WithCode(apperrors.CodeValidation).
				WithMessagef("field %s: %v", name, err)
		}
		if err := checkBounds(name, field, coerced); err != nil {
			return nil, apperrors.NewError().WithCode(apperrors.CodeValidation).
				WithMessagef("field %s: %v", name, err)
		}
		normalized[name] = coerced
	}

	for _, name := range schema.Required {
		if _, ok := normalized[name]; !ok {
			return nil, apperrors.NewError().WithCode(apperrors.CodeValidation).
				WithMessagef("missing required field: %s", name)
		}
	}

	return normalized, nil
}

func coerce(name string, field Field, raw interface{}) (interface{}, error) {
	switch field.Type {
	case TypeString:
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("must be a string")
		}
		return checkEnum(field, s)
	case TypeBoolean:
		b, ok := asBool(raw)
		if !ok {
			return nil, fmt.Errorf("must be a boolean")
		}
		return b, nil
	case TypeInteger:
		f, ok := asFloat(raw)
		if !ok || f != float64(int64(f)) {
			return nil, fmt.Errorf("must be an integer")
		}
		return checkEnum(field, int64(f))
	case TypeNumber:
		f, ok := asFloat(raw)
		if !ok {
			return nil, fmt.Errorf("must be a number")
		}
		return checkEnum(field, f)
	default:
		return nil, fmt.Errorf("unsupported field type %q", field.Type)
	}
}

// asBool coerces a raw payload value to bool the way _coerce_bool does:
// a native bool passes through, otherwise the value's trimmed,
// lowercased string form is checked against the same true/false
// spellings the CLI accepts (spec §4.2: `"true"` -> bool).
func asBool(raw interface{}) (bool, bool) {
	if b, ok := raw.(bool); ok {
		return b, true
	}
	s, ok := raw.(string)
	if !ok {
		return false, false
	}
	text := strings.ToLower(strings.TrimSpace(s))
	if trueWords[text] {
		return true, true
	}
	if falseWords[text] {
		return false, true
	}
	return false, false
}

// asFloat coerces a raw payload value to float64. A numeric JSON type
// passes through directly; a string is parsed the way click's INT/
// FLOAT param types parse a CLI argument (spec §4.2: `"12"` -> int).
func asFloat(raw interface{}) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func checkEnum(field Field, value interface{}) (interface{}, error) {
	if len(field.Enum) == 0 {
		return value, nil
	}
	for _, allowed := range field.Enum {
		if fmt.Sprint(allowed) == fmt.Sprint(value) {
			return value, nil
		}
	}
	return nil, fmt.Errorf("value %v not in enum %v", value, field.Enum)
}

func checkBounds(name string, field Field, value interface{}) error {
	f, ok := asFloat(value)
	if !ok {
		return nil
	}
	if field.Minimum != nil && f < *field.Minimum {
		return fmt.Errorf("%v below minimum %v", value, *field.Minimum)
	}
	if field.Maximum != nil && f > *field.Maximum {
		return fmt.Errorf("%v above maximum %v", value, *field.Maximum)
	}
	return nil
}

// CanonicalJSON renders a normalized payload with sorted keys so two
// equal payloads always hash identically for dedupe-key derivation.
func CanonicalJSON(normalized map[string]interface{}) ([]byte, error) {
	keys := make([]string, 0, len(normalized))
	for k := range normalized {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b []byte
	b = append(b, '{')
	for i, k := range keys {
		if i > 0 {
			b = append(b, ',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(normalized[k])
		if err != nil {
			return nil, err
		}
		b = append(b, kb...)
		b = append(b, ':')
		b = append(b, vb...)
	}
	b = append(b, '}')
	return b, nil
}
