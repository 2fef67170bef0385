package fixture

// MockItem is the canonical document of fixture collections
type MockItem struct {
	ID    string
	Value int64
	Name  string
	Tags  []string
}

// Data returns the stored fields. Value is always present; Name and Tags
// only when set.
func (m MockItem) Data() map[string]interface{} {
	data := map[string]interface{}{"value": m.Value}
	if m.Name != "" {
		data["name"] = m.Name
	}
	if m.Tags != nil {
		tags := make([]interface{}, len(m.Tags))
		for i, t := range m.Tags {
			tags[i] = t
		}
		data["tags"] = tags
	}
	return data
}

// StandardItems is the fixed data set most assertions run against. Two
// items share a value so orderings must fall back to the document ID.
func StandardItems() []MockItem {
	return []MockItem{
		{ID: "a", Value: 1, Name: "alpha", Tags: []string{"red"}},
		{ID: "b", Value: 3, Name: "bravo", Tags: []string{"blue"}},
		{ID: "c", Value: 2, Name: "charlie", Tags: []string{"red", "blue"}},
		{ID: "d", Value: 2, Name: "delta", Tags: []string{}},
		{ID: "e", Value: 0, Name: "echo"},
	}
}
