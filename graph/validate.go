package graph

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

var (
	labelPattern   = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	relTypePattern = regexp.MustCompile(`^[A-Z_][A-Z0-9_]*$`)
)

// ValidateID checks that a node id is non-empty.
func ValidateID(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: id cannot be empty", ErrInvalidID)
	}
	return nil
}

// NormalizeLabels validates labels and returns them as a sorted,
// de-duplicated set.
func NormalizeLabels(labels []string) ([]string, error) {
	if len(labels) == 0 {
		return nil, fmt.Errorf("%w: at least one label is required", ErrInvalidLabel)
	}
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		if !labelPattern.MatchString(l) {
			return nil, fmt.Errorf("%w: %q must match %s", ErrInvalidLabel, l, labelPattern)
		}
		out = append(out, l)
	}
	slices.Sort(out)
	return slices.Compact(out), nil
}

// ValidateRelationshipType checks a relationship type against [A-Z_][A-Z0-9_]*.
func ValidateRelationshipType(relType string) error {
	if !relTypePattern.MatchString(relType) {
		return fmt.Errorf("%w: %q must match %s", ErrInvalidRelationshipType, relType, relTypePattern)
	}
	return nil
}

// maxExactInteger is the largest magnitude up to which every integer has an
// exact float64 representation.
const maxExactInteger = 1 << 53

// maxCheckDepth bounds the integer range walk over nested values.
const maxCheckDepth = 64

// CanonicalProperties validates that every value is JSON-representable and
// returns the properties in decoded JSON form. A nil map yields an empty map.
// Integers beyond ±2^53 are rejected, since decoded JSON numbers are float64.
func CanonicalProperties(props map[string]any) (map[string]any, error) {
	if len(props) == 0 {
		return map[string]any{}, nil
	}
	for k, v := range props {
		if strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("%w: property key cannot be empty", ErrInvalidProperty)
		}
		if err := checkIntegers(reflect.ValueOf(v), 0); err != nil {
			return nil, fmt.Errorf("%w: property %q: %v", ErrInvalidProperty, k, err)
		}
	}
	data, err := json.Marshal(props)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProperty, err)
	}
	out := make(map[string]any, len(props))
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProperty, err)
	}
	return out, nil
}

// canonicalValue converts a single value to its decoded JSON form.
func canonicalValue(v any) (any, error) {
	if err := checkIntegers(reflect.ValueOf(v), 0); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProperty, err)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProperty, err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProperty, err)
	}
	return out, nil
}

// checkIntegers reports an integer, at any nesting level, whose magnitude
// exceeds 2^53. Such a value would change on its way through float64.
func checkIntegers(v reflect.Value, depth int) error {
	if !v.IsValid() || depth > maxCheckDepth {
		return nil
	}
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if n := v.Int(); n > maxExactInteger || n < -maxExactInteger {
			return fmt.Errorf("integer %d exceeds ±2^53", n)
		}
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		if n := v.Uint(); n > maxExactInteger {
			return fmt.Errorf("integer %d exceeds ±2^53", n)
		}
	case reflect.String:
		if num, ok := v.Interface().(json.Number); ok {
			return checkNumberLiteral(num)
		}
	case reflect.Interface, reflect.Pointer:
		if v.IsNil() {
			return nil
		}
		return checkIntegers(v.Elem(), depth+1)
	case reflect.Slice, reflect.Array:
		if v.Kind() == reflect.Slice && v.Type().Elem().Kind() == reflect.Uint8 {
			// []byte encodes as a base64 string.
			return nil
		}
		for i := 0; i < v.Len(); i++ {
			if err := checkIntegers(v.Index(i), depth+1); err != nil {
				return err
			}
		}
	case reflect.Map:
		iter := v.MapRange()
		for iter.Next() {
			if err := checkIntegers(iter.Value(), depth+1); err != nil {
				return err
			}
		}
	case reflect.Struct:
		t := v.Type()
		for i := 0; i < v.NumField(); i++ {
			if !t.Field(i).IsExported() {
				continue
			}
			if err := checkIntegers(v.Field(i), depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}

// checkNumberLiteral applies the integer range rule to an integral
// json.Number literal.
func checkNumberLiteral(num json.Number) error {
	lit := num.String()
	if strings.ContainsAny(lit, ".eE") {
		return nil
	}
	n, err := strconv.ParseInt(lit, 10, 64)
	if err != nil || n > maxExactInteger || n < -maxExactInteger {
		return fmt.Errorf("integer %s exceeds ±2^53", lit)
	}
	return nil
}

// propertyKey builds the by-property index key. Keys are case-insensitive;
// string values are compared case-insensitively after trimming.
func propertyKey(key string, value any) string {
	return strings.ToLower(strings.TrimSpace(key)) + ":" + normalizeValue(value)
}

// normalizeValue renders a canonical JSON value as an index string.
//   - string: lowercase and trimmed
//   - float64: integral values without a fraction, others in shortest form
//   - bool: "true" or "false"
//   - nil: "null"
//   - arrays and objects: JSON
func normalizeValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return strings.ToLower(strings.TrimSpace(val))
	case float64:
		if val == math.Trunc(val) && math.Abs(val) < 1e15 {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(data)
	}
}

// cloneProperties deep-copies a canonical property map.
func cloneProperties(props map[string]any) map[string]any {
	if props == nil {
		return nil
	}
	out := make(map[string]any, len(props))
	for k, v := range props {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return cloneProperties(val)
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return val
	}
}
