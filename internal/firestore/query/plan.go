package query

import (
	"fmt"
	"sort"
	"strings"

	"firestore-driver/internal/firestore/domain/model"
)

// Matches reports whether doc satisfies the filters, has every ordering field
// and lies inside the cursor window.
func (p *Plan) Matches(doc *model.Document) bool {
	for _, f := range p.Filters {
		if !matchFilter(doc, f) {
			return false
		}
	}
	for _, o := range p.Orders {
		if _, ok := doc.Field(o.Field); !ok {
			return false
		}
	}
	if p.StartAfter != nil && p.compareToCursor(doc, p.StartAfter) <= 0 {
		return false
	}
	if p.EndBefore != nil && p.compareToCursor(doc, p.EndBefore) >= 0 {
		return false
	}
	return true
}

// Compare orders two documents by the plan's ordering keys
func (p *Plan) Compare(a, b *model.Document) int {
	for _, o := range p.Orders {
		av, _ := a.Field(o.Field)
		bv, _ := b.Field(o.Field)
		c := model.CompareValues(av, bv)
		if o.Direction == model.Descending {
			c = -c
		}
		if c != 0 {
			return c
		}
	}
	return 0
}

// Apply evaluates the plan over an unordered document set
func (p *Plan) Apply(docs []*model.Document) []*model.Document {
	out := make([]*model.Document, 0, len(docs))
	for _, d := range docs {
		if p.Matches(d) {
			out = append(out, d)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return p.Compare(out[i], out[j]) < 0
	})
	if p.Limit > 0 && len(out) > p.Limit {
		out = out[:p.Limit]
	}
	return out
}

// Relevant reports whether a changed document belongs to the query result
func (p *Plan) Relevant(doc *model.Document) bool {
	return doc != nil && p.Matches(doc)
}

func (p *Plan) compareToCursor(doc *model.Document, values []interface{}) int {
	for i, v := range values {
		o := p.Orders[i]
		dv, _ := doc.Field(o.Field)
		c := model.CompareValues(dv, v)
		if o.Direction == model.Descending {
			c = -c
		}
		if c != 0 {
			return c
		}
	}
	return 0
}

func matchFilter(doc *model.Document, f model.Filter) bool {
	v, exists := doc.Field(f.Field)

	switch f.Operator {
	case model.OperatorEqual:
		return exists && scalarEqual(v, f.Value)
	case model.OperatorNotEqual:
		return exists && !scalarEqual(v, f.Value)
	case model.OperatorLessThan:
		return exists && model.SameTypeClass(v, f.Value) && model.CompareValues(v, f.Value) < 0
	case model.OperatorLessThanOrEqual:
		return exists && model.SameTypeClass(v, f.Value) && model.CompareValues(v, f.Value) <= 0
	case model.OperatorGreaterThan:
		return exists && model.SameTypeClass(v, f.Value) && model.CompareValues(v, f.Value) > 0
	case model.OperatorGreaterThanOrEqual:
		return exists && model.SameTypeClass(v, f.Value) && model.CompareValues(v, f.Value) >= 0
	case model.OperatorArrayContains:
		arr, ok := v.([]interface{})
		return exists && ok && containsValue(arr, f.Value)
	case model.OperatorArrayContainsAny:
		arr, ok := v.([]interface{})
		if !exists || !ok {
			return false
		}
		for _, want := range f.Value.([]interface{}) {
			if containsValue(arr, want) {
				return true
			}
		}
		return false
	case model.OperatorIn:
		return exists && containsScalar(f.Value.([]interface{}), v)
	case model.OperatorNotIn:
		return exists && v != nil && !containsScalar(f.Value.([]interface{}), v)
	}
	return false
}

// scalarEqual compares within a type class only, so 1 == 1.0 but 1 != "1"
func scalarEqual(a, b interface{}) bool {
	return model.SameTypeClass(a, b) && model.ValuesEqual(a, b)
}

func containsValue(arr []interface{}, want interface{}) bool {
	for _, e := range arr {
		if scalarEqual(e, want) {
			return true
		}
	}
	return false
}

func containsScalar(list []interface{}, v interface{}) bool {
	return containsValue(list, v)
}

// String renders the plan for logs
func (p *Plan) String() string {
	var b strings.Builder
	for i, f := range p.Filters {
		if i > 0 {
			b.WriteString(" AND ")
		}
		fmt.Fprintf(&b, "%s %s %v", f.Field, f.Operator, f.Value)
	}
	b.WriteString(" ORDER BY ")
	for i, o := range p.Orders {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s %s", o.Field, o.Direction)
	}
	if p.StartAfter != nil {
		fmt.Fprintf(&b, " START AFTER %v", p.StartAfter)
	}
	if p.EndBefore != nil {
		fmt.Fprintf(&b, " END BEFORE %v", p.EndBefore)
	}
	if p.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", p.Limit)
	}
	return strings.TrimSpace(b.String())
}

// Spec renders the plan back into an equivalent QuerySpec with explicit
// orders and value cursors. Translating the result yields the same plan.
func (p *Plan) Spec() model.QuerySpec {
	spec := model.QuerySpec{
		Filters: append([]model.Filter(nil), p.Filters...),
		OrderBy: append([]model.Order(nil), p.Orders...),
		Limit:   p.Limit,
	}
	if p.StartAfter != nil {
		spec.StartAfter = &model.Cursor{Values: append([]interface{}(nil), p.StartAfter...)}
	}
	if p.EndBefore != nil {
		spec.EndBefore = &model.Cursor{Values: append([]interface{}(nil), p.EndBefore...)}
	}
	return spec
}
