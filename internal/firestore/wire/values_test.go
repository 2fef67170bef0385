package wire

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"firestore-driver/internal/firestore/domain/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// roundTrip pushes fields through real JSON, as the gateway does
func roundTrip(t *testing.T, data map[string]interface{}) map[string]interface{} {
	t.Helper()
	fields, err := EncodeFields(data)
	require.NoError(t, err)
	raw, err := json.Marshal(fields)
	require.NoError(t, err)
	var back map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &back))
	out, err := DecodeFields(back)
	require.NoError(t, err)
	return out
}

func TestFields_RoundTrip(t *testing.T) {
	ts := time.Date(2024, 5, 6, 7, 8, 9, 123000000, time.UTC)
	data := map[string]interface{}{
		"null":   nil,
		"bool":   true,
		"int":    int64(math.MaxInt64),
		"double": 1.5,
		"string": "hello",
		"time":   ts,
		"bytes":  []byte{0, 1, 2},
		"array":  []interface{}{int64(1), "two", map[string]interface{}{"k": "v"}},
		"map":    map[string]interface{}{"nested": map[string]interface{}{"deep": false}},
	}
	assert.Equal(t, data, roundTrip(t, data))
}

func TestEncodeValue_SpecialDoubles(t *testing.T) {
	out := roundTrip(t, map[string]interface{}{
		"nan": math.NaN(),
		"inf": math.Inf(1),
		"neg": math.Inf(-1),
	})
	assert.True(t, math.IsNaN(out["nan"].(float64)))
	assert.True(t, math.IsInf(out["inf"].(float64), 1))
	assert.True(t, math.IsInf(out["neg"].(float64), -1))
}

func TestEncodeValue_IntegersAreStrings(t *testing.T) {
	v, err := EncodeValue(int64(42))
	require.NoError(t, err)
	assert.Equal(t, Value{"integerValue": "42"}, v)
}

func TestEncodeValue_RejectsSentinels(t *testing.T) {
	_, err := EncodeValue(model.ServerTimestamp)
	assert.Error(t, err)
	_, err = EncodeFields(map[string]interface{}{"n": model.Increment(1)})
	assert.Error(t, err)
}

func TestDecodeValue(t *testing.T) {
	tests := []struct {
		name    string
		raw     interface{}
		want    interface{}
		wantErr bool
	}{
		{name: "reference", raw: map[string]interface{}{"referenceValue": "projects/p/databases/(default)/documents/items/a"}, want: "a"},
		{name: "integer as number", raw: map[string]interface{}{"integerValue": float64(7)}, want: int64(7)},
		{name: "fractional integer", raw: map[string]interface{}{"integerValue": 1.5}, wantErr: true},
		{name: "timestamp truncated", raw: map[string]interface{}{"timestampValue": "2024-01-01T00:00:00.123456789Z"},
			want: time.Date(2024, 1, 1, 0, 0, 0, 123000000, time.UTC)},
		{name: "two keys", raw: map[string]interface{}{"stringValue": "a", "booleanValue": true}, wantErr: true},
		{name: "unknown kind", raw: map[string]interface{}{"geoPointValue": map[string]interface{}{}}, wantErr: true},
		{name: "not an object", raw: "plain", wantErr: true},
		{name: "bad bytes", raw: map[string]interface{}{"bytesValue": "***"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeValue(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDocument_RoundTrip(t *testing.T) {
	now := time.Date(2024, 1, 2, 3, 4, 5, 6000000, time.UTC)
	doc := &model.Document{
		ID:         "a b",
		Collection: "items",
		Data:       map[string]interface{}{"value": int64(1)},
		CreateTime: now,
		UpdateTime: now,
		Version:    3,
	}
	enc, err := EncodeDocument(DocumentName("projects/p/databases/d/documents", "items", doc.ID), doc)
	require.NoError(t, err)
	assert.Equal(t, "projects/p/databases/d/documents/items/a%20b", enc.Name)

	raw, err := json.Marshal(enc)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"version":"3"`)

	var back Document
	require.NoError(t, json.Unmarshal(raw, &back))
	dec, err := DecodeDocument(&back)
	require.NoError(t, err)
	assert.Equal(t, doc, dec)
}
