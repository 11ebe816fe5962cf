package fields

import (
	"log/slog"

	"github.com/Aman-CERP/ferretbind/internal/engine"
)

// Set is the merged field configuration of one index. Several models
// sharing an index register into the same Set. Not safe for concurrent
// registration.
type Set struct {
	order  []string
	fields map[string]Config
	pinned []string
}

// NewSet returns an empty Set.
func NewSet() *Set {
	return &Set{fields: make(map[string]Config)}
}

// Register merges a model's fields. A field already present keeps its
// first definition; a differing redefinition is logged and ignored.
func (s *Set) Register(model string, cfgs []Config) {
	for _, c := range cfgs {
		existing, ok := s.fields[c.Name]
		if !ok {
			s.fields[c.Name] = c
			s.order = append(s.order, c.Name)
			continue
		}
		if existing != c {
			slog.Info("field_redefinition_ignored",
				slog.String("model", model),
				slog.String("field", c.Name))
		}
	}
}

// Pin fixes the default search fields instead of deriving them.
func (s *Set) Pin(names []string) {
	s.pinned = append([]string(nil), names...)
}

// Get returns the named field.
func (s *Set) Get(name string) (Config, bool) {
	c, ok := s.fields[name]
	return c, ok
}

// Fields returns every field in registration order.
func (s *Set) Fields() []Config {
	out := make([]Config, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.fields[name])
	}
	return out
}

// DefaultSearchFields returns the pinned list, or every tokenized field.
func (s *Set) DefaultSearchFields() []string {
	if len(s.pinned) > 0 {
		return append([]string(nil), s.pinned...)
	}
	var out []string
	for _, name := range s.order {
		if s.fields[name].Tokenized() {
			out = append(out, name)
		}
	}
	return out
}

// Boosts returns the static query-time boost of every field not at 1.
func (s *Set) Boosts() map[string]float64 {
	out := make(map[string]float64)
	for name, c := range s.fields {
		if c.Boost != 0 && c.Boost != 1 {
			out[name] = c.Boost
		}
	}
	return out
}

// HighlightFields lists fields excerpts can be produced for.
func (s *Set) HighlightFields() []string {
	var out []string
	for _, name := range s.order {
		if s.fields[name].Highlightable() {
			out = append(out, name)
		}
	}
	return out
}

// SimilarityFields lists fields keeping term vectors.
func (s *Set) SimilarityFields() []string {
	var out []string
	for _, name := range s.order {
		if s.fields[name].TermVector != TermVectorNo {
			out = append(out, name)
		}
	}
	return out
}

// StoredFields lists fields whose values the engine keeps.
func (s *Set) StoredFields() []string {
	var out []string
	for _, name := range s.order {
		c := s.fields[name]
		if c.Store || c.TermVector != TermVectorNo || c.Highlightable() {
			out = append(out, name)
		}
	}
	return out
}

// Schema returns the engine schema for the merged fields.
func (s *Set) Schema(storeClassName bool) engine.Schema {
	schema := engine.Schema{StoreClassName: storeClassName}
	for _, c := range s.Fields() {
		schema.Fields = append(schema.Fields, c.Schema())
	}
	return schema
}
