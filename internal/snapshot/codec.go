package snapshot

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/fastygo/journal/domain"
)

const dateLayout = "2006-01-02"

var datetimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
}

// Take builds the journaled snapshot of an entity from its raw attributes and
// the caller-supplied association state.
func Take(schema *domain.Schema, entity domain.Journable, assocs domain.Associations) (domain.Snapshot, error) {
	if entity == nil {
		return domain.Snapshot{}, domain.Malformed("entity", "is nil")
	}
	raw := entity.JournalAttributes()

	for name := range raw {
		if domain.IsTechnical(name) {
			continue
		}
		if _, ok := schema.Field(name); !ok {
			return domain.Snapshot{}, domain.Malformed(name, "not declared for %s", schema.Kind)
		}
	}

	attrs := make(map[string]any, len(schema.Fields))
	for _, field := range schema.JournaledFields() {
		v, err := Coerce(field.Type, raw[field.Name])
		if err != nil {
			return domain.Snapshot{}, domain.Malformed(field.Name, "%v", err)
		}
		if v == nil && field.Required {
			return domain.Snapshot{}, domain.Malformed(field.Name, "required value is null")
		}
		attrs[field.Name] = v
	}

	associations, err := takeAssociations(schema, assocs)
	if err != nil {
		return domain.Snapshot{}, err
	}
	return domain.Snapshot{Attributes: attrs, Associations: associations}, nil
}

func takeAssociations(schema *domain.Schema, assocs domain.Associations) (domain.Associations, error) {
	for name := range assocs {
		if _, ok := schema.Association(name); !ok {
			return nil, domain.Malformed(name, "association not declared for %s", schema.Kind)
		}
	}
	if len(schema.Associations) == 0 {
		return nil, nil
	}

	out := make(domain.Associations, len(schema.Associations))
	for _, spec := range schema.Associations {
		items := assocs[spec.Name]
		seen := make(map[int64]struct{}, len(items))
		members := make([]domain.AssociationItem, 0, len(items))
		for _, item := range items {
			if _, dup := seen[item.Key]; dup {
				if spec.Keyed {
					return nil, domain.Malformed(spec.Name, "duplicate key %d", item.Key)
				}
				continue
			}
			seen[item.Key] = struct{}{}
			members = append(members, item)
		}
		sort.Slice(members, func(i, j int) bool { return members[i].Key < members[j].Key })
		out[spec.Name] = members
	}
	return out, nil
}

// Coerce converts a raw attribute value into the canonical representation of
// its semantic type: int64, float64, string, bool or nil. Dates are stored as
// YYYY-MM-DD strings, datetimes as RFC3339 UTC strings, decimals as strings.
func Coerce(t domain.FieldType, v any) (any, error) {
	v, err := deref(v)
	if err != nil || v == nil {
		return nil, err
	}

	switch t {
	case domain.FieldString, domain.FieldText:
		switch s := v.(type) {
		case string:
			return s, nil
		case []byte:
			return string(s), nil
		}
	case domain.FieldInteger, domain.FieldReference:
		return toInt(v)
	case domain.FieldFloat:
		return toFloat(v)
	case domain.FieldDecimal:
		return toDecimal(v)
	case domain.FieldBoolean:
		return toBool(v)
	case domain.FieldDate:
		return toDate(v)
	case domain.FieldDateTime:
		return toDateTime(v)
	default:
		return nil, fmt.Errorf("unknown field type %q", t)
	}
	return nil, fmt.Errorf("cannot use %T as %s", v, t)
}

func deref(v any) (any, error) {
	if valuer, ok := v.(driver.Valuer); ok {
		rv := reflect.ValueOf(v)
		if rv.Kind() == reflect.Ptr && rv.IsNil() {
			return nil, nil
		}
		return valuer.Value()
	}
	rv := reflect.ValueOf(v)
	for rv.IsValid() && rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil, nil
		}
		rv = rv.Elem()
	}
	if !rv.IsValid() {
		return nil, nil
	}
	return rv.Interface(), nil
}

func toInt(v any) (any, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int8:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case uint:
		return int64(n), nil
	case uint8:
		return int64(n), nil
	case uint16:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case uint64:
		if n > math.MaxInt64 {
			return nil, fmt.Errorf("integer %d overflows", n)
		}
		return int64(n), nil
	case float32:
		return toInt(float64(n))
	case float64:
		if n != math.Trunc(n) {
			return nil, fmt.Errorf("%v is not an integer", n)
		}
		return int64(n), nil
	case json.Number:
		return toInt(string(n))
	case []byte:
		return toInt(string(n))
	case string:
		if strings.TrimSpace(n) == "" {
			return nil, nil
		}
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not an integer", n)
		}
		return i, nil
	}
	return nil, fmt.Errorf("cannot use %T as integer", v)
}

func toFloat(v any) (any, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case json.Number:
		return toFloat(string(n))
	case []byte:
		return toFloat(string(n))
	case string:
		if strings.TrimSpace(n) == "" {
			return nil, nil
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not a number", n)
		}
		return f, nil
	}
	i, err := toInt(v)
	if err != nil {
		return nil, fmt.Errorf("cannot use %T as float", v)
	}
	return float64(i.(int64)), nil
}

func toDecimal(v any) (any, error) {
	switch n := v.(type) {
	case string, []byte, json.Number:
		s := strings.TrimSpace(stringOf(n))
		if s == "" {
			return nil, nil
		}
		if _, err := strconv.ParseFloat(s, 64); err != nil {
			return nil, fmt.Errorf("%q is not a decimal", s)
		}
		return s, nil
	}
	f, err := toFloat(v)
	if err != nil || f == nil {
		return nil, err
	}
	return strconv.FormatFloat(f.(float64), 'f', -1, 64), nil
}

func stringOf(v any) string {
	switch s := v.(type) {
	case []byte:
		return string(s)
	case json.Number:
		return string(s)
	case string:
		return s
	}
	return fmt.Sprint(v)
}

func toBool(v any) (any, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case []byte:
		return toBool(string(b))
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "t", "true", "1", "yes":
			return true, nil
		case "f", "false", "0", "no":
			return false, nil
		case "":
			return nil, nil
		}
		return nil, fmt.Errorf("%q is not a boolean", b)
	}
	i, err := toInt(v)
	if err != nil {
		return nil, fmt.Errorf("cannot use %T as boolean", v)
	}
	return i.(int64) != 0, nil
}

func toDate(v any) (any, error) {
	switch d := v.(type) {
	case time.Time:
		if d.IsZero() {
			return nil, nil
		}
		return d.Format(dateLayout), nil
	case []byte:
		return toDate(string(d))
	case string:
		s := strings.TrimSpace(d)
		if s == "" {
			return nil, nil
		}
		if t, err := time.Parse(dateLayout, s); err == nil {
			return t.Format(dateLayout), nil
		}
		if t, err := parseDateTime(s); err == nil {
			return t.Format(dateLayout), nil
		}
		return nil, fmt.Errorf("%q is not a date", d)
	}
	return nil, fmt.Errorf("cannot use %T as date", v)
}

func toDateTime(v any) (any, error) {
	switch d := v.(type) {
	case time.Time:
		if d.IsZero() {
			return nil, nil
		}
		return d.UTC().Format(time.RFC3339Nano), nil
	case []byte:
		return toDateTime(string(d))
	case string:
		s := strings.TrimSpace(d)
		if s == "" {
			return nil, nil
		}
		t, err := parseDateTime(s)
		if err != nil {
			return nil, fmt.Errorf("%q is not a datetime", d)
		}
		return t.UTC().Format(time.RFC3339Nano), nil
	}
	return nil, fmt.Errorf("cannot use %T as datetime", v)
}

func parseDateTime(s string) (time.Time, error) {
	var lastErr error
	for _, layout := range datetimeLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// Encode serializes a snapshot for storage.
func Encode(s domain.Snapshot) ([]byte, error) {
	if s.Attributes == nil {
		s.Attributes = map[string]any{}
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return data, nil
}

// Decode restores a stored snapshot, re-coercing every declared attribute so
// integers never come back as floats. Attributes no longer declared are kept
// with numbers decoded generically.
func Decode(schema *domain.Schema, data []byte) (domain.Snapshot, error) {
	var raw struct {
		Attributes   map[string]any      `json:"attributes"`
		Associations domain.Associations `json:"associations"`
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return domain.Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}

	attrs := make(map[string]any, len(raw.Attributes))
	for name, v := range raw.Attributes {
		value, err := decodeValue(schema, name, v)
		if err != nil {
			return domain.Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
		}
		attrs[name] = value
	}
	return domain.Snapshot{Attributes: attrs, Associations: raw.Associations}, nil
}

// EncodeChangeSet serializes a change set for storage.
func EncodeChangeSet(cs domain.ChangeSet) ([]byte, error) {
	if cs == nil {
		cs = domain.ChangeSet{}
	}
	data, err := json.Marshal(cs)
	if err != nil {
		return nil, fmt.Errorf("encode details: %w", err)
	}
	return data, nil
}

// DecodeChangeSet restores stored details with schema-typed values.
func DecodeChangeSet(schema *domain.Schema, data []byte) (domain.ChangeSet, error) {
	var raw map[string][2]any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode details: %w", err)
	}

	cs := make(domain.ChangeSet, len(raw))
	for key, pair := range raw {
		oldValue, err := decodeValue(schema, key, pair[0])
		if err != nil {
			return nil, fmt.Errorf("decode details: %w", err)
		}
		newValue, err := decodeValue(schema, key, pair[1])
		if err != nil {
			return nil, fmt.Errorf("decode details: %w", err)
		}
		cs[key] = domain.Change{Old: oldValue, New: newValue}
	}
	return cs, nil
}

func decodeValue(schema *domain.Schema, name string, v any) (any, error) {
	if schema != nil {
		if field, ok := schema.Field(name); ok {
			return Coerce(field.Type, v)
		}
	}
	n, ok := v.(json.Number)
	if !ok {
		return v, nil
	}
	if i, err := n.Int64(); err == nil {
		return i, nil
	}
	f, err := n.Float64()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return f, nil
}
