package query

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"firestore-driver/internal/firestore/domain/model"
	apperrors "firestore-driver/internal/shared/errors"
)

// Plan is a validated, normalized query. Orders always end with the document
// ID so results are totally ordered. Cursor values are aligned with Orders
// and may cover a prefix of them.
type Plan struct {
	Filters    []model.Filter
	Orders     []model.Order
	Limit      int
	StartAfter []interface{}
	EndBefore  []interface{}
}

// DocumentLookup reads the document a key cursor points at. It returns nil
// without error when the document does not exist.
type DocumentLookup func(ctx context.Context, id string) (*model.Document, error)

// Translate validates spec against caps and normalizes it into a Plan.
// Combinations the backend cannot express fail with UnsupportedQuery rather
// than being silently relaxed.
func Translate(ctx context.Context, spec model.QuerySpec, caps Capabilities, lookup DocumentLookup) (*Plan, error) {
	ve := apperrors.NewValidationErrors()

	filters := make([]model.Filter, 0, len(spec.Filters))
	var inequality []string
	seenInequality := map[string]bool{}
	arrayOps, notIns := 0, 0
	hasNotEqual := false

	for i, f := range spec.Filters {
		at := fmt.Sprintf("filters[%d]", i)
		fp, err := model.NewFieldPath(f.Field)
		if err != nil {
			ve.Add(at+".field", err.Error(), f.Field)
			continue
		}
		if !f.Operator.IsValid() {
			ve.Add(at+".op", fmt.Sprintf("unknown operator %q", f.Operator), f.Operator)
			continue
		}
		value, err := model.Normalize(f.Value)
		if err != nil {
			ve.Add(at+".value", err.Error(), f.Value)
			continue
		}
		if _, ok := value.(model.Sentinel); ok {
			ve.Add(at+".value", "sentinel values cannot be used in filters", nil)
			continue
		}

		switch f.Operator {
		case model.OperatorIn, model.OperatorNotIn, model.OperatorArrayContainsAny:
			list, ok := value.([]interface{})
			if !ok || len(list) == 0 {
				ve.Add(at+".value", fmt.Sprintf("%s requires a non-empty list", f.Operator), f.Value)
				continue
			}
			if caps.MaxDisjunctionValues > 0 && len(list) > caps.MaxDisjunctionValues {
				ve.Add(at+".value", fmt.Sprintf("%s supports at most %d values, got %d", f.Operator, caps.MaxDisjunctionValues, len(list)), len(list))
			}
			if fp.IsDocumentID() && !allStrings(list) {
				ve.Add(at+".value", "document ID filters take string values", f.Value)
			}
		case model.OperatorLessThan, model.OperatorLessThanOrEqual, model.OperatorGreaterThan, model.OperatorGreaterThanOrEqual:
			if value == nil || isNaN(value) {
				ve.Add(at+".value", "range filters need a non-null, non-NaN value", f.Value)
			}
			if _, isStr := value.(string); fp.IsDocumentID() && !isStr {
				ve.Add(at+".value", "document ID filters take string values", f.Value)
			}
		default:
			if _, isStr := value.(string); fp.IsDocumentID() && !isStr {
				ve.Add(at+".value", "document ID filters take string values", f.Value)
			}
		}

		switch f.Operator {
		case model.OperatorArrayContains, model.OperatorArrayContainsAny:
			arrayOps++
		case model.OperatorNotIn:
			notIns++
		case model.OperatorNotEqual:
			hasNotEqual = true
		}
		if f.Operator.IsInequality() && !seenInequality[f.Field] {
			seenInequality[f.Field] = true
			inequality = append(inequality, f.Field)
		}
		filters = append(filters, model.Filter{Field: f.Field, Operator: f.Operator, Value: value})
	}

	if arrayOps > 1 {
		ve.Add("filters", "at most one array-contains or array-contains-any filter is allowed", arrayOps)
	}
	if notIns > 1 {
		ve.Add("filters", "at most one not-in filter is allowed", notIns)
	}
	if notIns > 0 && hasNotEqual {
		ve.Add("filters", "not-in cannot be combined with !=", nil)
	}
	if caps.MaxInequalityFields > 0 && len(inequality) > caps.MaxInequalityFields {
		ve.Add("filters", fmt.Sprintf("inequality filters on %d fields (%s) but the backend supports %d",
			len(inequality), strings.Join(inequality, ", "), caps.MaxInequalityFields), inequality)
	}
	if spec.Limit < 0 {
		ve.Add("limit", "limit cannot be negative", spec.Limit)
	}

	orders := make([]model.Order, 0, len(spec.OrderBy)+1)
	seenOrder := map[string]bool{}
	for i, o := range spec.OrderBy {
		at := fmt.Sprintf("orderBy[%d]", i)
		if _, err := model.NewFieldPath(o.Field); err != nil {
			ve.Add(at+".field", err.Error(), o.Field)
			continue
		}
		dir := o.Direction
		if dir == "" {
			dir = model.Ascending
		}
		if dir != model.Ascending && dir != model.Descending {
			ve.Add(at+".direction", fmt.Sprintf("unknown direction %q", o.Direction), o.Direction)
			continue
		}
		if seenOrder[o.Field] {
			ve.Add(at+".field", fmt.Sprintf("field %q is ordered twice", o.Field), o.Field)
			continue
		}
		seenOrder[o.Field] = true
		orders = append(orders, model.Order{Field: o.Field, Direction: dir})
	}

	if caps.MaxInequalityFields == 1 && len(inequality) == 1 && len(orders) > 0 && orders[0].Field != inequality[0] {
		ve.Add("orderBy[0].field", fmt.Sprintf("the first ordering must be on the inequality field %q", inequality[0]), orders[0].Field)
	}

	if ve.HasErrors() {
		return nil, ve.ToAppError(apperrors.CodeUnsupportedQuery).WithComponent("query")
	}

	if len(orders) == 0 && len(inequality) > 0 {
		// Without explicit orders a range query, and any cursor over it, is
		// ordered by its inequality fields. Cursors on other queries fall back
		// to the trailing document ID order below.
		implicit := append([]string(nil), inequality...)
		sort.Strings(implicit)
		for _, field := range implicit {
			orders = append(orders, model.Order{Field: field, Direction: model.Ascending})
		}
	}
	if !hasOrder(orders, model.DocumentIDField) {
		orders = append(orders, model.Order{Field: model.DocumentIDField, Direction: model.Ascending})
	}

	plan := &Plan{Filters: filters, Orders: orders, Limit: spec.Limit}

	var err error
	if plan.StartAfter, err = resolveCursor(ctx, "startAfter", spec.StartAfter, plan, lookup); err != nil {
		return nil, err
	}
	if plan.EndBefore, err = resolveCursor(ctx, "endBefore", spec.EndBefore, plan, lookup); err != nil {
		return nil, err
	}
	return plan, nil
}

func resolveCursor(ctx context.Context, name string, c *model.Cursor, plan *Plan, lookup DocumentLookup) ([]interface{}, error) {
	if c == nil {
		return nil, nil
	}
	if c.DocumentID != "" && len(c.Values) > 0 {
		return nil, apperrors.NewUnsupportedQueryError(name + " takes either a document ID or values, not both").WithComponent("query")
	}

	if c.DocumentID != "" {
		if lookup == nil {
			return nil, apperrors.NewUnsupportedQueryError(name + " document cursors are not supported here").WithComponent("query")
		}
		doc, err := lookup(ctx, c.DocumentID)
		if err != nil {
			return nil, err
		}
		if doc == nil {
			return nil, apperrors.NewInvalidArgumentError(fmt.Sprintf("%s document %q does not exist", name, c.DocumentID)).WithComponent("query")
		}
		values := make([]interface{}, len(plan.Orders))
		for i, o := range plan.Orders {
			v, ok := doc.Field(o.Field)
			if !ok {
				return nil, apperrors.NewUnsupportedQueryError(fmt.Sprintf("%s document %q has no value for ordering field %q", name, c.DocumentID, o.Field)).WithComponent("query")
			}
			values[i] = v
		}
		return values, nil
	}

	if len(c.Values) == 0 {
		return nil, apperrors.NewUnsupportedQueryError(name + " is empty").WithComponent("query")
	}
	if len(c.Values) > len(plan.Orders) {
		return nil, apperrors.NewUnsupportedQueryError(fmt.Sprintf("%s has %d values but the query has %d ordering keys", name, len(c.Values), len(plan.Orders))).WithComponent("query")
	}
	values := make([]interface{}, len(c.Values))
	for i, raw := range c.Values {
		v, err := model.Normalize(raw)
		if err != nil {
			return nil, apperrors.NewUnsupportedQueryError(fmt.Sprintf("%s value %d: %v", name, i, err)).WithComponent("query")
		}
		field := plan.Orders[i].Field
		if field == model.DocumentIDField {
			if _, ok := v.(string); !ok {
				return nil, apperrors.NewUnsupportedQueryError(fmt.Sprintf("%s value %d orders by document ID and must be a string", name, i)).WithComponent("query")
			}
		} else if want, ok := comparableFilterValue(plan.Filters, field); ok && !model.SameTypeClass(want, v) {
			return nil, apperrors.NewUnsupportedQueryError(fmt.Sprintf("%s value %d does not match the type of ordering field %q", name, i, field)).WithComponent("query")
		}
		values[i] = v
	}
	return values, nil
}

// comparableFilterValue returns the value of a scalar comparison filter on
// field, which fixes the type class of that field for the query.
func comparableFilterValue(filters []model.Filter, field string) (interface{}, bool) {
	for _, f := range filters {
		if f.Field != field || f.Value == nil {
			continue
		}
		switch f.Operator {
		case model.OperatorEqual, model.OperatorLessThan, model.OperatorLessThanOrEqual,
			model.OperatorGreaterThan, model.OperatorGreaterThanOrEqual:
			return f.Value, true
		}
	}
	return nil, false
}

func hasOrder(orders []model.Order, field string) bool {
	for _, o := range orders {
		if o.Field == field {
			return true
		}
	}
	return false
}

func allStrings(list []interface{}) bool {
	for _, v := range list {
		if _, ok := v.(string); !ok {
			return false
		}
	}
	return true
}

func isNaN(v interface{}) bool {
	f, ok := v.(float64)
	return ok && math.IsNaN(f)
}
