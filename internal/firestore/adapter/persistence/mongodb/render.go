package mongodb

import (
	"time"

	"firestore-driver/internal/firestore/domain/model"
	"firestore-driver/internal/firestore/query"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// renderedQuery is a plan rendered for Find. When Exact is false the filter
// is only a superset of the plan, so cursors, sorting and the limit are left
// to the caller, which re-applies the plan to the fetched documents.
type renderedQuery struct {
	Filter  bson.D
	Options *options.FindOptions
	Exact   bool
}

// renderQuery translates a plan into a mongo filter and find options
func renderQuery(plan *query.Plan) renderedQuery {
	var clauses bson.A
	exact := true

	for _, f := range plan.Filters {
		clause, ok := renderFilter(f)
		clauses = append(clauses, clause)
		exact = exact && ok
	}
	for _, o := range plan.Orders {
		if o.Field == model.DocumentIDField {
			continue
		}
		clauses = append(clauses, bson.D{{Key: fieldPath(o.Field), Value: bson.D{{Key: "$exists", Value: true}}}})
		// mongo orders mixed types differently, so the order is only pushed
		// down when a filter pins the field to one type class
		exact = exact && pinnedToComparableClass(plan.Filters, o.Field)
	}

	opts := options.Find()
	if exact {
		if plan.StartAfter != nil {
			clauses = append(clauses, renderCursor(plan.Orders, plan.StartAfter, true))
		}
		if plan.EndBefore != nil {
			clauses = append(clauses, renderCursor(plan.Orders, plan.EndBefore, false))
		}
		sort := make(bson.D, 0, len(plan.Orders))
		for _, o := range plan.Orders {
			dir := 1
			if o.Direction == model.Descending {
				dir = -1
			}
			sort = append(sort, bson.E{Key: fieldPath(o.Field), Value: dir})
		}
		opts.SetSort(sort)
		if plan.Limit > 0 {
			opts.SetLimit(int64(plan.Limit))
		}
	}

	filter := bson.D{}
	switch len(clauses) {
	case 0:
	case 1:
		filter = clauses[0].(bson.D)
	default:
		filter = bson.D{{Key: "$and", Value: clauses}}
	}
	return renderedQuery{Filter: filter, Options: opts, Exact: exact}
}

// fieldPath maps a document field path to its stored location
func fieldPath(field string) string {
	if field == model.DocumentIDField {
		return idKey
	}
	return fieldsKey + "." + field
}

// renderFilter renders one filter. The boolean reports whether the clause
// matches exactly what the filter matches; otherwise it is a superset.
func renderFilter(f model.Filter) (bson.D, bool) {
	path := fieldPath(f.Field)
	if f.Field == model.DocumentIDField {
		return bson.D{{Key: path, Value: bson.D{{Key: operatorKeyword(f.Operator), Value: f.Value}}}}, true
	}

	exists := bson.E{Key: "$exists", Value: true}
	notArray := bson.E{Key: "$not", Value: bson.D{{Key: "$type", Value: "array"}}}
	superset := bson.D{{Key: path, Value: bson.D{exists}}}

	switch f.Operator {
	case model.OperatorEqual:
		if !isPlainScalar(f.Value) {
			return superset, false
		}
		return bson.D{{Key: path, Value: bson.D{exists, {Key: "$eq", Value: encodeScalar(f.Value)}, notArray}}}, true

	case model.OperatorNotEqual:
		if !isPlainScalar(f.Value) {
			return superset, false
		}
		// arrays never equal a scalar, but $ne alone would test their elements
		return bson.D{{Key: "$or", Value: bson.A{
			bson.D{{Key: path, Value: bson.D{{Key: "$type", Value: "array"}}}},
			bson.D{{Key: path, Value: bson.D{exists, {Key: "$ne", Value: encodeScalar(f.Value)}}}},
		}}}, true

	case model.OperatorLessThan, model.OperatorLessThanOrEqual,
		model.OperatorGreaterThan, model.OperatorGreaterThanOrEqual:
		if !isOrderedScalar(f.Value) {
			return superset, false
		}
		// mongo comparison operators only match values of the same type bracket
		return bson.D{{Key: path, Value: bson.D{{Key: operatorKeyword(f.Operator), Value: encodeScalar(f.Value)}, notArray}}}, true

	case model.OperatorIn:
		list, ok := scalarList(f.Value)
		if !ok {
			return superset, false
		}
		return bson.D{{Key: path, Value: bson.D{exists, {Key: "$in", Value: list}, notArray}}}, true

	case model.OperatorNotIn:
		list, ok := scalarList(f.Value)
		if !ok {
			return superset, false
		}
		return bson.D{{Key: "$or", Value: bson.A{
			bson.D{{Key: path, Value: bson.D{{Key: "$type", Value: "array"}}}},
			bson.D{{Key: path, Value: bson.D{exists, {Key: "$ne", Value: nil}, {Key: "$nin", Value: list}}}},
		}}}, true

	case model.OperatorArrayContains:
		if !isPlainScalar(f.Value) {
			return bson.D{{Key: path, Value: bson.D{{Key: "$type", Value: "array"}}}}, false
		}
		return bson.D{{Key: path, Value: bson.D{{Key: "$elemMatch", Value: bson.D{{Key: "$eq", Value: encodeScalar(f.Value)}}}}}}, true

	case model.OperatorArrayContainsAny:
		list, ok := scalarList(f.Value)
		if !ok {
			return bson.D{{Key: path, Value: bson.D{{Key: "$type", Value: "array"}}}}, false
		}
		return bson.D{{Key: path, Value: bson.D{{Key: "$elemMatch", Value: bson.D{{Key: "$in", Value: list}}}}}}, true
	}
	return superset, false
}

// renderCursor builds the lexicographic predicate "strictly after" (or
// before) the cursor values over the leading order keys:
// (k0 > v0) OR (k0 == v0 AND k1 > v1) OR ...
func renderCursor(orders []model.Order, values []interface{}, after bool) bson.D {
	var branches bson.A
	for i := range values {
		branch := make(bson.D, 0, i+1)
		for j := 0; j < i; j++ {
			branch = append(branch, bson.E{Key: fieldPath(orders[j].Field), Value: encodeScalar(values[j])})
		}
		op := "$gt"
		if (orders[i].Direction == model.Descending) == after {
			op = "$lt"
		}
		branch = append(branch, bson.E{Key: fieldPath(orders[i].Field), Value: bson.D{{Key: op, Value: encodeScalar(values[i])}}})
		branches = append(branches, branch)
	}
	return bson.D{{Key: "$or", Value: branches}}
}

func operatorKeyword(op model.Operator) string {
	switch op {
	case model.OperatorEqual:
		return "$eq"
	case model.OperatorNotEqual:
		return "$ne"
	case model.OperatorLessThan:
		return "$lt"
	case model.OperatorLessThanOrEqual:
		return "$lte"
	case model.OperatorGreaterThan:
		return "$gt"
	case model.OperatorGreaterThanOrEqual:
		return "$gte"
	case model.OperatorIn:
		return "$in"
	case model.OperatorNotIn:
		return "$nin"
	}
	return "$eq"
}

// isPlainScalar reports values whose mongo equality agrees with ours
func isPlainScalar(v interface{}) bool {
	switch v.(type) {
	case nil, bool, int64, float64, string, time.Time, []byte:
		return true
	}
	return false
}

// isOrderedScalar reports values whose mongo ordering agrees with ours.
// Binary data is excluded because mongo compares its length first.
func isOrderedScalar(v interface{}) bool {
	switch v.(type) {
	case bool, int64, float64, string, time.Time:
		return true
	}
	return false
}

func scalarList(v interface{}) (bson.A, bool) {
	list, ok := v.([]interface{})
	if !ok {
		return nil, false
	}
	out := make(bson.A, len(list))
	for i, e := range list {
		if !isPlainScalar(e) {
			return nil, false
		}
		out[i] = encodeScalar(e)
	}
	return out, true
}

func encodeScalar(v interface{}) interface{} {
	enc, err := encodeValue(v)
	if err != nil {
		return v
	}
	return enc
}

// pinnedToComparableClass reports whether an equality or range filter fixes
// field to a single type class that mongo orders the way we do
func pinnedToComparableClass(filters []model.Filter, field string) bool {
	for _, f := range filters {
		if f.Field != field {
			continue
		}
		switch f.Operator {
		case model.OperatorEqual, model.OperatorLessThan, model.OperatorLessThanOrEqual,
			model.OperatorGreaterThan, model.OperatorGreaterThanOrEqual:
			if isOrderedScalar(f.Value) {
				return true
			}
		}
	}
	return false
}
