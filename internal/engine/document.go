package engine

import "strings"

// Field is one named value of a Document. Repeat > 1 indexes the value
// that many times, raising its term frequency.
type Field struct {
	Name   string `json:"name" msgpack:"name"`
	Value  string `json:"value" msgpack:"value"`
	Repeat int    `json:"repeat,omitempty" msgpack:"repeat,omitempty"`
}

// Document is the flat field list submitted to the engine for one record.
// It holds only plain values so it can cross process boundaries.
type Document struct {
	ID        string  `json:"id" msgpack:"id"`
	ClassName string  `json:"class_name,omitempty" msgpack:"class_name,omitempty"`
	Fields    []Field `json:"fields" msgpack:"fields"`
}

// Value returns the first value of the named field.
func (d Document) Value(name string) (string, bool) {
	for _, f := range d.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}

// Key returns the engine document id.
func (d Document) Key(shared bool) string {
	return DocKey(d.ClassName, d.ID, shared)
}

// DocKey builds the engine document id for a record. Shared indexes
// prefix the class name so equal ids of different models do not collide.
func DocKey(className, id string, shared bool) string {
	if shared && className != "" {
		return className + ":" + id
	}
	return id
}

// SplitKey is the inverse of DocKey for shared keys.
func SplitKey(key string) (className, id string) {
	if i := strings.IndexByte(key, ':'); i > 0 {
		return key[:i], key[i+1:]
	}
	return "", key
}

func (d Document) data(s Schema) map[string]interface{} {
	m := make(map[string]interface{}, len(d.Fields)+2)
	m[IDField] = d.ID
	if s.StoreClassName && d.ClassName != "" {
		m[ClassNameField] = d.ClassName
	}
	for _, f := range d.Fields {
		if f.Repeat > 1 {
			vals := make([]string, f.Repeat)
			for i := range vals {
				vals[i] = f.Value
			}
			m[f.Name] = vals
			continue
		}
		m[f.Name] = f.Value
	}
	return m
}
