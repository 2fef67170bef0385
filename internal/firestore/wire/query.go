package wire

import (
	"fmt"
	"strings"

	"firestore-driver/internal/firestore/domain/model"
)

// StructuredQuery is the REST form of a collection query
type StructuredQuery struct {
	From    []CollectionSelector `json:"from"`
	Where   *Filter              `json:"where,omitempty"`
	OrderBy []Order              `json:"orderBy,omitempty"`
	StartAt *Cursor              `json:"startAt,omitempty"`
	EndAt   *Cursor              `json:"endAt,omitempty"`
	Limit   int                  `json:"limit,omitempty"`
}

type CollectionSelector struct {
	CollectionID string `json:"collectionId"`
}

// Filter holds exactly one of its members
type Filter struct {
	FieldFilter     *FieldFilter     `json:"fieldFilter,omitempty"`
	CompositeFilter *CompositeFilter `json:"compositeFilter,omitempty"`
}

type FieldFilter struct {
	Field FieldReference `json:"field"`
	Op    string         `json:"op"`
	Value Value          `json:"value"`
}

// CompositeFilter only supports the AND operator
type CompositeFilter struct {
	Op      string   `json:"op"`
	Filters []Filter `json:"filters"`
}

type FieldReference struct {
	FieldPath string `json:"fieldPath"`
}

type Order struct {
	Field     FieldReference `json:"field"`
	Direction string         `json:"direction"`
}

// Cursor is a position in the ordered result. Before reports whether the
// position sits just before the given values: startAt with before=false is
// "start after", endAt with before=true is "end before".
type Cursor struct {
	Values []Value `json:"values"`
	Before bool    `json:"before"`
}

var operatorNames = map[model.Operator]string{
	model.OperatorEqual:              "EQUAL",
	model.OperatorNotEqual:           "NOT_EQUAL",
	model.OperatorLessThan:           "LESS_THAN",
	model.OperatorLessThanOrEqual:    "LESS_THAN_OR_EQUAL",
	model.OperatorGreaterThan:        "GREATER_THAN",
	model.OperatorGreaterThanOrEqual: "GREATER_THAN_OR_EQUAL",
	model.OperatorArrayContains:      "ARRAY_CONTAINS",
	model.OperatorArrayContainsAny:   "ARRAY_CONTAINS_ANY",
	model.OperatorIn:                 "IN",
	model.OperatorNotIn:              "NOT_IN",
}

func operatorFromName(name string) (model.Operator, bool) {
	for op, n := range operatorNames {
		if n == name {
			return op, true
		}
	}
	return "", false
}

// EncodeStructuredQuery renders spec as a structured query over collection.
// Document ID values become reference values under documentsRoot. Only value
// cursors can be encoded; document cursors must be resolved first.
func EncodeStructuredQuery(documentsRoot, collection string, spec model.QuerySpec) (*StructuredQuery, error) {
	sq := &StructuredQuery{
		From:  []CollectionSelector{{CollectionID: collection}},
		Limit: spec.Limit,
	}
	ref := func(field string, v interface{}) (Value, error) {
		if field == model.DocumentIDField {
			return encodeReference(documentsRoot, collection, v)
		}
		return EncodeValue(v)
	}

	filters := make([]Filter, 0, len(spec.Filters))
	for _, f := range spec.Filters {
		name, ok := operatorNames[f.Operator]
		if !ok {
			return nil, fmt.Errorf("unknown operator %q", f.Operator)
		}
		v, err := model.Normalize(f.Value)
		if err != nil {
			return nil, fmt.Errorf("filter on %s: %w", f.Field, err)
		}
		value, err := ref(f.Field, v)
		if err != nil {
			return nil, fmt.Errorf("filter on %s: %w", f.Field, err)
		}
		filters = append(filters, Filter{FieldFilter: &FieldFilter{
			Field: FieldReference{FieldPath: f.Field},
			Op:    name,
			Value: value,
		}})
	}
	switch len(filters) {
	case 0:
	case 1:
		sq.Where = &filters[0]
	default:
		sq.Where = &Filter{CompositeFilter: &CompositeFilter{Op: "AND", Filters: filters}}
	}

	for _, o := range spec.OrderBy {
		dir := o.Direction
		if dir == "" {
			dir = model.Ascending
		}
		sq.OrderBy = append(sq.OrderBy, Order{Field: FieldReference{FieldPath: o.Field}, Direction: string(dir)})
	}

	encodeCursor := func(c *model.Cursor, before bool) (*Cursor, error) {
		if c == nil {
			return nil, nil
		}
		if c.DocumentID != "" {
			return nil, fmt.Errorf("document cursors must be resolved to values before encoding")
		}
		cur := &Cursor{Before: before, Values: make([]Value, len(c.Values))}
		for i, v := range c.Values {
			field := ""
			if i < len(spec.OrderBy) {
				field = spec.OrderBy[i].Field
			}
			nv, err := model.Normalize(v)
			if err != nil {
				return nil, err
			}
			if cur.Values[i], err = ref(field, nv); err != nil {
				return nil, err
			}
		}
		return cur, nil
	}
	var err error
	if sq.StartAt, err = encodeCursor(spec.StartAfter, false); err != nil {
		return nil, fmt.Errorf("startAt: %w", err)
	}
	if sq.EndAt, err = encodeCursor(spec.EndBefore, true); err != nil {
		return nil, fmt.Errorf("endAt: %w", err)
	}
	return sq, nil
}

// encodeReference renders document ID values, or lists of them, as references
func encodeReference(root, collection string, v interface{}) (Value, error) {
	switch t := v.(type) {
	case string:
		return Value{"referenceValue": DocumentName(root, collection, t)}, nil
	case []interface{}:
		values := make([]interface{}, len(t))
		for i, e := range t {
			ev, err := encodeReference(root, collection, e)
			if err != nil {
				return nil, err
			}
			values[i] = ev
		}
		return Value{"arrayValue": map[string]interface{}{"values": values}}, nil
	}
	// let the translator report the type mismatch
	return EncodeValue(v)
}

// DecodeStructuredQuery parses a structured query into the collection it
// targets and a QuerySpec
func DecodeStructuredQuery(sq *StructuredQuery) (string, model.QuerySpec, error) {
	var spec model.QuerySpec
	if sq == nil {
		return "", spec, fmt.Errorf("structuredQuery is required")
	}
	if len(sq.From) != 1 || sq.From[0].CollectionID == "" {
		return "", spec, fmt.Errorf("structuredQuery must select exactly one collection")
	}
	if sq.Limit < 0 {
		return "", spec, fmt.Errorf("limit must not be negative")
	}
	spec.Limit = sq.Limit

	if sq.Where != nil {
		filters, err := decodeFilter(sq.Where)
		if err != nil {
			return "", spec, err
		}
		spec.Filters = filters
	}
	for _, o := range sq.OrderBy {
		dir := model.Direction(strings.ToUpper(o.Direction))
		switch dir {
		case "", "DIRECTION_UNSPECIFIED":
			dir = model.Ascending
		case model.Ascending, model.Descending:
		default:
			return "", spec, fmt.Errorf("unknown direction %q", o.Direction)
		}
		spec.OrderBy = append(spec.OrderBy, model.OrderBy(o.Field.FieldPath, dir))
	}

	var err error
	if sq.StartAt != nil {
		if sq.StartAt.Before {
			return "", spec, fmt.Errorf("inclusive startAt cursors are not supported")
		}
		if spec.StartAfter, err = decodeCursor(sq.StartAt); err != nil {
			return "", spec, fmt.Errorf("startAt: %w", err)
		}
	}
	if sq.EndAt != nil {
		if !sq.EndAt.Before {
			return "", spec, fmt.Errorf("inclusive endAt cursors are not supported")
		}
		if spec.EndBefore, err = decodeCursor(sq.EndAt); err != nil {
			return "", spec, fmt.Errorf("endAt: %w", err)
		}
	}
	return sq.From[0].CollectionID, spec, nil
}

func decodeFilter(f *Filter) ([]model.Filter, error) {
	switch {
	case f.FieldFilter != nil && f.CompositeFilter != nil:
		return nil, fmt.Errorf("filter must set exactly one of fieldFilter and compositeFilter")
	case f.FieldFilter != nil:
		op, ok := operatorFromName(f.FieldFilter.Op)
		if !ok {
			return nil, fmt.Errorf("unknown operator %q", f.FieldFilter.Op)
		}
		v, err := DecodeValue(map[string]interface{}(f.FieldFilter.Value))
		if err != nil {
			return nil, fmt.Errorf("filter on %s: %w", f.FieldFilter.Field.FieldPath, err)
		}
		return []model.Filter{model.Where(f.FieldFilter.Field.FieldPath, op, v)}, nil
	case f.CompositeFilter != nil:
		if f.CompositeFilter.Op != "AND" {
			return nil, fmt.Errorf("composite operator %q is not supported", f.CompositeFilter.Op)
		}
		var out []model.Filter
		for i := range f.CompositeFilter.Filters {
			inner, err := decodeFilter(&f.CompositeFilter.Filters[i])
			if err != nil {
				return nil, err
			}
			out = append(out, inner...)
		}
		return out, nil
	}
	return nil, fmt.Errorf("empty filter")
}

func decodeCursor(c *Cursor) (*model.Cursor, error) {
	values := make([]interface{}, len(c.Values))
	for i, raw := range c.Values {
		v, err := DecodeValue(map[string]interface{}(raw))
		if err != nil {
			return nil, err
		}
		values[i] = v
	}
	return &model.Cursor{Values: values}, nil
}
