// Package wire converts between the document model and the Firestore REST
// JSON representation spoken by the gateway and the client driver.
package wire

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"firestore-driver/internal/firestore/domain/model"
	resource "firestore-driver/internal/shared/firestore"
)

// Value is one Firestore typed value, e.g. {"integerValue": "42"}
type Value = map[string]interface{}

// EncodeValue renders a normalized value as a typed value
func EncodeValue(v interface{}) (Value, error) {
	switch t := v.(type) {
	case nil:
		return Value{"nullValue": nil}, nil
	case bool:
		return Value{"booleanValue": t}, nil
	case int64:
		return Value{"integerValue": strconv.FormatInt(t, 10)}, nil
	case float64:
		switch {
		case math.IsNaN(t):
			return Value{"doubleValue": "NaN"}, nil
		case math.IsInf(t, 1):
			return Value{"doubleValue": "Infinity"}, nil
		case math.IsInf(t, -1):
			return Value{"doubleValue": "-Infinity"}, nil
		}
		return Value{"doubleValue": t}, nil
	case string:
		return Value{"stringValue": t}, nil
	case time.Time:
		return Value{"timestampValue": t.UTC().Format(time.RFC3339Nano)}, nil
	case []byte:
		return Value{"bytesValue": base64.StdEncoding.EncodeToString(t)}, nil
	case []interface{}:
		values := make([]interface{}, len(t))
		for i, e := range t {
			ev, err := EncodeValue(e)
			if err != nil {
				return nil, err
			}
			values[i] = ev
		}
		return Value{"arrayValue": map[string]interface{}{"values": values}}, nil
	case map[string]interface{}:
		fields, err := EncodeFields(t)
		if err != nil {
			return nil, err
		}
		return Value{"mapValue": map[string]interface{}{"fields": fields}}, nil
	case model.Sentinel:
		return nil, fmt.Errorf("sentinel values cannot be sent over the wire")
	}
	return nil, fmt.Errorf("cannot encode value of type %T", v)
}

// EncodeFields renders a document payload
func EncodeFields(data map[string]interface{}) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(data))
	for k, v := range data {
		ev, err := EncodeValue(v)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		out[k] = ev
	}
	return out, nil
}

// DecodeValue parses a typed value back into its normalized form. A
// referenceValue decodes to the referenced document ID.
func DecodeValue(raw interface{}) (interface{}, error) {
	m, ok := raw.(map[string]interface{})
	if !ok || len(m) != 1 {
		return nil, fmt.Errorf("typed value must be an object with exactly one key, got %v", raw)
	}
	for kind, v := range m {
		switch kind {
		case "nullValue":
			return nil, nil
		case "booleanValue":
			b, ok := v.(bool)
			if !ok {
				return nil, fmt.Errorf("booleanValue: not a boolean")
			}
			return b, nil
		case "integerValue":
			return decodeInteger(v)
		case "doubleValue":
			return decodeDouble(v)
		case "stringValue":
			s, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("stringValue: not a string")
			}
			return s, nil
		case "referenceValue":
			s, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("referenceValue: not a string")
			}
			return resource.DocumentIDFromName(s), nil
		case "timestampValue":
			s, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("timestampValue: not a string")
			}
			ts, err := time.Parse(time.RFC3339Nano, s)
			if err != nil {
				return nil, fmt.Errorf("timestampValue: %w", err)
			}
			return ts.UTC().Truncate(model.TimePrecision), nil
		case "bytesValue":
			s, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("bytesValue: not a string")
			}
			b, err := base64.StdEncoding.DecodeString(s)
			if err != nil {
				return nil, fmt.Errorf("bytesValue: %w", err)
			}
			return b, nil
		case "arrayValue":
			return decodeArray(v)
		case "mapValue":
			inner, ok := v.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("mapValue: not an object")
			}
			fields, _ := inner["fields"].(map[string]interface{})
			return DecodeFields(fields)
		default:
			return nil, fmt.Errorf("unsupported value kind %q", kind)
		}
	}
	return nil, nil
}

// DecodeFields parses a document payload
func DecodeFields(fields map[string]interface{}) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(fields))
	for k, raw := range fields {
		v, err := DecodeValue(raw)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		out[k] = v
	}
	return out, nil
}

func decodeArray(v interface{}) ([]interface{}, error) {
	inner, ok := v.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("arrayValue: not an object")
	}
	raw, _ := inner["values"].([]interface{})
	out := make([]interface{}, len(raw))
	for i, e := range raw {
		d, err := DecodeValue(e)
		if err != nil {
			return nil, fmt.Errorf("arrayValue[%d]: %w", i, err)
		}
		out[i] = d
	}
	return out, nil
}

func decodeInteger(v interface{}) (int64, error) {
	switch t := v.(type) {
	case string:
		n, err := strconv.ParseInt(t, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("integerValue: %w", err)
		}
		return n, nil
	case float64:
		if t != math.Trunc(t) {
			return 0, fmt.Errorf("integerValue: %v is not an integer", t)
		}
		return int64(t), nil
	case json.Number:
		return t.Int64()
	}
	return 0, fmt.Errorf("integerValue: unexpected %T", v)
}

func decodeDouble(v interface{}) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case json.Number:
		return t.Float64()
	case string:
		switch t {
		case "NaN":
			return math.NaN(), nil
		case "Infinity":
			return math.Inf(1), nil
		case "-Infinity":
			return math.Inf(-1), nil
		}
		return strconv.ParseFloat(t, 64)
	}
	return 0, fmt.Errorf("doubleValue: unexpected %T", v)
}
