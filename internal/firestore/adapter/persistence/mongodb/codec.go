package mongodb

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"firestore-driver/internal/firestore/domain/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Stored document layout. Field values live under "fields" so the top level
// only carries bookkeeping.
const (
	idKey         = "_id"
	fieldsKey     = "fields"
	versionKey    = "version"
	createTimeKey = "createTime"
	updateTimeKey = "updateTime"
	// verifyKey is rewritten by verify writes so the document takes part in
	// write conflict detection without changing its version
	verifyKey = "verifiedBy"
)

// storedDocument is the decoded form of one mongo document
type storedDocument struct {
	ID         string    `bson:"_id"`
	Fields     bson.M    `bson:"fields"`
	Version    int64     `bson:"version"`
	CreateTime time.Time `bson:"createTime"`
	UpdateTime time.Time `bson:"updateTime"`
}

// encodeDocument renders a document in the stored layout
func encodeDocument(doc *model.Document) (bson.D, error) {
	fields, err := encodeMap(doc.Data)
	if err != nil {
		return nil, fmt.Errorf("document %q: %w", doc.ID, err)
	}
	return bson.D{
		{Key: idKey, Value: doc.ID},
		{Key: fieldsKey, Value: fields},
		{Key: versionKey, Value: doc.Version},
		{Key: createTimeKey, Value: doc.CreateTime},
		{Key: updateTimeKey, Value: doc.UpdateTime},
	}, nil
}

// encodeMap emits keys in sorted order so equal maps encode identically
func encodeMap(m map[string]interface{}) (bson.D, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		if strings.HasPrefix(k, "$") {
			return nil, fmt.Errorf("field name %q cannot start with '$'", k)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(bson.D, 0, len(keys))
	for _, k := range keys {
		v, err := encodeValue(m[k])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		out = append(out, bson.E{Key: k, Value: v})
	}
	return out, nil
}

// encodeValue maps a normalized value to its BSON form
func encodeValue(v interface{}) (interface{}, error) {
	switch t := v.(type) {
	case nil, bool, int64, float64, string:
		return t, nil
	case time.Time:
		return primitive.NewDateTimeFromTime(t), nil
	case []byte:
		return primitive.Binary{Subtype: 0x00, Data: t}, nil
	case []interface{}:
		out := make(bson.A, len(t))
		for i, e := range t {
			ev, err := encodeValue(e)
			if err != nil {
				return nil, err
			}
			out[i] = ev
		}
		return out, nil
	case map[string]interface{}:
		return encodeMap(t)
	}
	return nil, fmt.Errorf("cannot store value of type %T", v)
}

// decodeDocument turns a stored document back into the normalized model
func decodeDocument(collection string, raw bson.Raw) (*model.Document, error) {
	var sd storedDocument
	if err := bson.Unmarshal(raw, &sd); err != nil {
		return nil, fmt.Errorf("decode stored document: %w", err)
	}
	data := make(map[string]interface{}, len(sd.Fields))
	for k, v := range sd.Fields {
		data[k] = decodeValue(v)
	}
	return &model.Document{
		ID:         sd.ID,
		Collection: collection,
		Data:       data,
		CreateTime: sd.CreateTime.UTC(),
		UpdateTime: sd.UpdateTime.UTC(),
		Version:    sd.Version,
	}, nil
}

func decodeValue(v interface{}) interface{} {
	switch t := v.(type) {
	case int32:
		return int64(t)
	case primitive.DateTime:
		return t.Time().UTC()
	case time.Time:
		return t.UTC()
	case primitive.Binary:
		return append([]byte{}, t.Data...)
	case primitive.Null, primitive.Undefined:
		return nil
	case bson.A:
		return decodeSlice(t)
	case []interface{}:
		return decodeSlice(t)
	case bson.M:
		return decodeMap(t)
	case map[string]interface{}:
		return decodeMap(t)
	case bson.D:
		m := make(map[string]interface{}, len(t))
		for _, e := range t {
			m[e.Key] = decodeValue(e.Value)
		}
		return m
	}
	return v
}

func decodeSlice(in []interface{}) []interface{} {
	out := make([]interface{}, len(in))
	for i, e := range in {
		out[i] = decodeValue(e)
	}
	return out
}

func decodeMap(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, e := range in {
		out[k] = decodeValue(e)
	}
	return out
}
