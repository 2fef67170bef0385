package model

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"
	"time"
)

// TimePrecision is the timestamp resolution every backend can round-trip
const TimePrecision = time.Millisecond

// Now returns the current time at TimePrecision
func Now() time.Time {
	return time.Now().UTC().Truncate(TimePrecision)
}

// Sentinel is a field value resolved by the backend at commit time
type Sentinel interface {
	sentinelName() string
}

type serverTimestamp struct{}

func (serverTimestamp) sentinelName() string { return "ServerTimestamp" }

type deleteField struct{}

func (deleteField) sentinelName() string { return "DeleteField" }

// IncrementTransform adds By to the current numeric value, treating a missing
// or non-numeric value as zero.
type IncrementTransform struct {
	By interface{}
}

func (IncrementTransform) sentinelName() string { return "Increment" }

var (
	// ServerTimestamp resolves to the commit time
	ServerTimestamp Sentinel = serverTimestamp{}
	// DeleteField removes the field. Only valid in merge sets.
	DeleteField Sentinel = deleteField{}
)

// Increment returns a sentinel adding n to a field
func Increment(n interface{}) Sentinel {
	v, err := Normalize(n)
	if err != nil {
		v = int64(0)
	}
	return IncrementTransform{By: v}
}

// ContainsSentinel reports whether any value in data, at any depth, is a sentinel
func ContainsSentinel(data map[string]interface{}) bool {
	for _, v := range data {
		switch t := v.(type) {
		case Sentinel:
			return true
		case map[string]interface{}:
			if ContainsSentinel(t) {
				return true
			}
		}
	}
	return false
}

// Normalize converts a Go value into the canonical document representation:
// int64, float64, bool, string, []byte, UTC time.Time at TimePrecision,
// []interface{} and map[string]interface{}. Sentinels pass through.
func Normalize(v interface{}) (interface{}, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case bool, string, int64, float64:
		return t, nil
	case int:
		return int64(t), nil
	case int8:
		return int64(t), nil
	case int16:
		return int64(t), nil
	case int32:
		return int64(t), nil
	case uint8:
		return int64(t), nil
	case uint16:
		return int64(t), nil
	case uint32:
		return int64(t), nil
	case uint:
		if uint64(t) > math.MaxInt64 {
			return nil, fmt.Errorf("integer %d overflows int64", t)
		}
		return int64(t), nil
	case uint64:
		if t > math.MaxInt64 {
			return nil, fmt.Errorf("integer %d overflows int64", t)
		}
		return int64(t), nil
	case float32:
		return float64(t), nil
	case []byte:
		return append([]byte{}, t...), nil
	case time.Time:
		return t.UTC().Truncate(TimePrecision), nil
	case *time.Time:
		if t == nil {
			return nil, nil
		}
		return t.UTC().Truncate(TimePrecision), nil
	case Sentinel:
		return t, nil
	case map[string]interface{}:
		return NormalizeData(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			n, err := normalizeElement(e)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		out := make([]interface{}, rv.Len())
		for i := range out {
			n, err := normalizeElement(rv.Index(i).Interface())
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, fmt.Errorf("map keys must be strings, got %s", rv.Type().Key())
		}
		out := make(map[string]interface{}, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			n, err := Normalize(iter.Value().Interface())
			if err != nil {
				return nil, fmt.Errorf("%s: %w", iter.Key().String(), err)
			}
			out[iter.Key().String()] = n
		}
		return out, nil
	case reflect.Ptr:
		if rv.IsNil() {
			return nil, nil
		}
		return Normalize(rv.Elem().Interface())
	case reflect.String:
		return rv.String(), nil
	case reflect.Bool:
		return rv.Bool(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Float32, reflect.Float64:
		return rv.Float(), nil
	}
	return nil, fmt.Errorf("unsupported value type %T", v)
}

// normalizeElement rejects sentinels inside arrays
func normalizeElement(v interface{}) (interface{}, error) {
	if _, ok := v.(Sentinel); ok {
		return nil, fmt.Errorf("sentinel values cannot be used inside arrays")
	}
	return Normalize(v)
}

// NormalizeData normalizes every value of a document payload
func NormalizeData(data map[string]interface{}) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(data))
	for k, v := range data {
		n, err := Normalize(v)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		out[k] = n
	}
	return out, nil
}

// CloneData deep copies a normalized payload
func CloneData(data map[string]interface{}) map[string]interface{} {
	if data == nil {
		return nil
	}
	out := make(map[string]interface{}, len(data))
	for k, v := range data {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return CloneData(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []byte:
		return append([]byte{}, t...)
	default:
		return v
	}
}

// Type ranks in Firestore's cross-type ordering
const (
	rankNull = iota
	rankBool
	rankNumber
	rankTimestamp
	rankString
	rankBytes
	rankArray
	rankMap
	rankUnknown
)

func typeRank(v interface{}) int {
	switch v.(type) {
	case nil:
		return rankNull
	case bool:
		return rankBool
	case int64, float64:
		return rankNumber
	case time.Time:
		return rankTimestamp
	case string:
		return rankString
	case []byte:
		return rankBytes
	case []interface{}:
		return rankArray
	case map[string]interface{}:
		return rankMap
	default:
		return rankUnknown
	}
}

// SameTypeClass reports whether two normalized values order within the same type class
func SameTypeClass(a, b interface{}) bool {
	return typeRank(a) == typeRank(b)
}

// CompareValues orders two normalized values. Values of different types order
// by type class: null, bool, number, timestamp, string, bytes, array, map.
func CompareValues(a, b interface{}) int {
	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		return compareInts(int64(ra), int64(rb))
	}

	switch av := a.(type) {
	case nil:
		return 0
	case bool:
		bv := b.(bool)
		switch {
		case av == bv:
			return 0
		case !av:
			return -1
		default:
			return 1
		}
	case int64, float64:
		return compareNumbers(a, b)
	case time.Time:
		bv := b.(time.Time)
		switch {
		case av.Before(bv):
			return -1
		case av.After(bv):
			return 1
		default:
			return 0
		}
	case string:
		return strings.Compare(av, b.(string))
	case []byte:
		return strings.Compare(string(av), string(b.([]byte)))
	case []interface{}:
		bv := b.([]interface{})
		for i := 0; i < len(av) && i < len(bv); i++ {
			if c := CompareValues(av[i], bv[i]); c != 0 {
				return c
			}
		}
		return compareInts(int64(len(av)), int64(len(bv)))
	case map[string]interface{}:
		bv := b.(map[string]interface{})
		ak, bk := sortedKeys(av), sortedKeys(bv)
		for i := 0; i < len(ak) && i < len(bk); i++ {
			if c := strings.Compare(ak[i], bk[i]); c != 0 {
				return c
			}
			if c := CompareValues(av[ak[i]], bv[bk[i]]); c != 0 {
				return c
			}
		}
		return compareInts(int64(len(ak)), int64(len(bk)))
	}
	return 0
}

// ValuesEqual reports equality under CompareValues, so int64(1) equals float64(1)
func ValuesEqual(a, b interface{}) bool {
	return CompareValues(a, b) == 0
}

// compareNumbers orders NaN before every other number. Mixed int64 and
// float64 operands are compared exactly, without rounding the integer.
func compareNumbers(a, b interface{}) int {
	ai, aInt := a.(int64)
	bi, bInt := b.(int64)
	switch {
	case aInt && bInt:
		return compareInts(ai, bi)
	case aInt:
		return compareIntFloat(ai, toFloat(b))
	case bInt:
		return -compareIntFloat(bi, toFloat(a))
	}

	af, bf := toFloat(a), toFloat(b)
	switch {
	case math.IsNaN(af) && math.IsNaN(bf):
		return 0
	case math.IsNaN(af):
		return -1
	case math.IsNaN(bf):
		return 1
	case af < bf:
		return -1
	case af > bf:
		return 1
	default:
		return 0
	}
}

// compareIntFloat compares i with f by the integral part of f first, and
// by its fraction when the integral parts are equal
func compareIntFloat(i int64, f float64) int {
	switch {
	case math.IsNaN(f):
		return 1
	case f >= math.MaxInt64:
		// float64(MaxInt64) rounds up to 2^63, beyond every int64
		return -1
	case f < math.MinInt64:
		return 1
	}
	whole := math.Trunc(f)
	if c := compareInts(i, int64(whole)); c != 0 {
		return c
	}
	switch {
	case f > whole:
		return -1
	case f < whole:
		return 1
	default:
		return 0
	}
}

func toFloat(v interface{}) float64 {
	switch t := v.(type) {
	case int64:
		return float64(t)
	case float64:
		return t
	}
	return math.NaN()
}

func compareInts(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// AddNumbers implements increment arithmetic, staying in int64 when both sides are integers
func AddNumbers(cur, by interface{}) interface{} {
	ci, cInt := cur.(int64)
	bi, bInt := by.(int64)
	if cInt && bInt {
		return ci + bi
	}
	if typeRank(cur) != rankNumber {
		if bInt {
			return bi
		}
		return toFloat(by)
	}
	return toFloat(cur) + toFloat(by)
}
