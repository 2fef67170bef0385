package model

// QuerySpec is the backend-agnostic description of a collection query
type QuerySpec struct {
	Filters    []Filter `json:"filters,omitempty"`
	OrderBy    []Order  `json:"orderBy,omitempty"`
	Limit      int      `json:"limit,omitempty"` // 0 means no limit
	StartAfter *Cursor  `json:"startAfter,omitempty"`
	EndBefore  *Cursor  `json:"endBefore,omitempty"`
}

// Filter represents a single where clause
type Filter struct {
	Field    string      `json:"field"`
	Operator Operator    `json:"op"`
	Value    interface{} `json:"value"`
}

// Order represents a single ordering key
type Order struct {
	Field     string    `json:"field"`
	Direction Direction `json:"direction"`
}

// Cursor positions pagination either at an existing document (DocumentID) or
// at explicit values aligned with the ordering keys.
type Cursor struct {
	DocumentID string        `json:"documentId,omitempty"`
	Values     []interface{} `json:"values,omitempty"`
}

// Direction of an ordering key
type Direction string

const (
	Ascending  Direction = "ASCENDING"
	Descending Direction = "DESCENDING"
)

// Operator of a filter
type Operator string

const (
	OperatorEqual              Operator = "=="
	OperatorNotEqual           Operator = "!="
	OperatorLessThan           Operator = "<"
	OperatorLessThanOrEqual    Operator = "<="
	OperatorGreaterThan        Operator = ">"
	OperatorGreaterThanOrEqual Operator = ">="
	OperatorArrayContains      Operator = "array-contains"
	OperatorArrayContainsAny   Operator = "array-contains-any"
	OperatorIn                 Operator = "in"
	OperatorNotIn              Operator = "not-in"
)

// IsInequality reports operators that restrict a range on their field
func (o Operator) IsInequality() bool {
	switch o {
	case OperatorLessThan, OperatorLessThanOrEqual, OperatorGreaterThan, OperatorGreaterThanOrEqual,
		OperatorNotEqual, OperatorNotIn:
		return true
	}
	return false
}

// IsValid reports whether o is a known operator
func (o Operator) IsValid() bool {
	switch o {
	case OperatorEqual, OperatorNotEqual, OperatorLessThan, OperatorLessThanOrEqual,
		OperatorGreaterThan, OperatorGreaterThanOrEqual, OperatorArrayContains,
		OperatorArrayContainsAny, OperatorIn, OperatorNotIn:
		return true
	}
	return false
}

// Where is a small builder helper: Where("value", ">", 0)
func Where(field string, op Operator, value interface{}) Filter {
	return Filter{Field: field, Operator: op, Value: value}
}

// OrderBy is a small builder helper
func OrderBy(field string, dir Direction) Order {
	return Order{Field: field, Direction: dir}
}
