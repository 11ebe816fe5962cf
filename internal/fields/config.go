// Package fields turns a model's declared field list into engine schema
// and per-record documents.
package fields

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/Aman-CERP/ferretbind/internal/engine"
	ferrors "github.com/Aman-CERP/ferretbind/internal/errors"
)

// TermVector selects how much term position data a field keeps.
type TermVector string

const (
	TermVectorNo                   TermVector = "no"
	TermVectorYes                  TermVector = "yes"
	TermVectorWithPositions        TermVector = "with_positions"
	TermVectorWithOffsets          TermVector = "with_offsets"
	TermVectorWithPositionsOffsets TermVector = "with_positions_offsets"
)

// MaxDynamicBoost caps how often a dynamically boosted value is repeated.
const MaxDynamicBoost = 10

// Config is the indexing policy of one field.
type Config struct {
	Name       string
	Store      bool
	Index      engine.IndexMode
	TermVector TermVector
	// Boost is the static query-time weight. Zero means 1.
	Boost float64
	// BoostField names a record attribute holding a per-record boost,
	// applied at index time only.
	BoostField string
	Highlight  bool
	// Via names the record attribute to read when it differs from Name.
	Via string
}

// Default returns the policy applied to a field declared by name only.
func Default(name string) Config {
	return Config{
		Name:       name,
		Store:      false,
		Index:      engine.Tokenized,
		TermVector: TermVectorWithPositionsOffsets,
		Boost:      1,
		Highlight:  true,
	}
}

// Attr returns the record attribute the field reads.
func (c Config) Attr() string {
	if c.Via != "" {
		return c.Via
	}
	return c.Name
}

// Tokenized reports whether the field is analyzed into terms.
func (c Config) Tokenized() bool {
	return c.Index == engine.Tokenized
}

// Highlightable reports whether excerpts can be produced for the field.
func (c Config) Highlightable() bool {
	return c.Highlight && c.Store && c.Tokenized()
}

// Schema returns the engine view of the field.
func (c Config) Schema() engine.FieldSchema {
	return engine.FieldSchema{
		Name:       c.Name,
		Store:      c.Store,
		Index:      c.Index,
		TermVector: c.TermVector != TermVectorNo,
		Highlight:  c.Highlightable(),
		Boost:      c.Boost,
	}
}

// Build validates and defaults a field declaration. decl is either a
// list of names or a map of name to option map, as decoded from YAML.
func Build(decl any) ([]Config, error) {
	switch s := decl.(type) {
	case nil:
		return nil, nil
	case []string:
		out := make([]Config, 0, len(s))
		for _, name := range s {
			out = append(out, Default(name))
		}
		return out, nil
	case []any:
		names := make([]string, 0, len(s))
		for _, v := range s {
			name, ok := v.(string)
			if !ok {
				return nil, ferrors.ConfigError(fmt.Sprintf("field list entry %v is not a name", v), nil)
			}
			names = append(names, name)
		}
		return Build(names)
	case map[string]map[string]any:
		generic := make(map[string]any, len(s))
		for k, v := range s {
			generic[k] = v
		}
		return Build(generic)
	case map[string]any:
		names := make([]string, 0, len(s))
		for name := range s {
			names = append(names, name)
		}
		sort.Strings(names)

		out := make([]Config, 0, len(s))
		for _, name := range names {
			opts, err := optionMap(s[name])
			if err != nil {
				return nil, ferrors.ConfigError(fmt.Sprintf("field %s: %v", name, err), nil)
			}
			cfg, err := apply(Default(name), opts)
			if err != nil {
				return nil, err
			}
			out = append(out, cfg)
		}
		return out, nil
	default:
		return nil, ferrors.ConfigError(fmt.Sprintf("unsupported field declaration %T", decl), nil)
	}
}

func optionMap(v any) (map[string]any, error) {
	switch o := v.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return o, nil
	case map[any]any:
		out := make(map[string]any, len(o))
		for k, val := range o {
			out[fmt.Sprint(k)] = val
		}
		return out, nil
	default:
		return nil, fmt.Errorf("options must be a map, got %T", v)
	}
}

func apply(cfg Config, opts map[string]any) (Config, error) {
	for key, raw := range opts {
		var err error
		switch key {
		case "store":
			cfg.Store, err = yesNo(raw, "compressed")
		case "index":
			cfg.Index, err = indexMode(raw)
		case "term_vector":
			cfg.TermVector, err = termVector(raw)
		case "boost":
			cfg.Boost, cfg.BoostField, err = boost(raw)
		case "highlight":
			cfg.Highlight, err = yesNo(raw)
		case "via":
			cfg.Via, err = str(raw)
		default:
			return cfg, ferrors.New(ferrors.ErrCodeUnknownOption,
				fmt.Sprintf("field %s: unknown option %q", cfg.Name, key), nil).
				WithSuggestion("valid options are store, index, term_vector, boost, highlight, via")
		}
		if err != nil {
			return cfg, ferrors.ConfigError(fmt.Sprintf("field %s: option %s: %v", cfg.Name, key, err), nil)
		}
	}
	if cfg.Index == engine.NotIndexed {
		cfg.TermVector = TermVectorNo
		cfg.Highlight = false
	}
	return cfg, nil
}

func str(v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("expected a string, got %v", v)
	}
	return s, nil
}

// yesNo accepts booleans and yes/no strings. Extra strings count as yes.
func yesNo(v any, alsoYes ...string) (bool, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		switch strings.ToLower(t) {
		case "yes", "true":
			return true, nil
		case "no", "false":
			return false, nil
		}
		for _, y := range alsoYes {
			if t == y {
				return true, nil
			}
		}
	}
	return false, fmt.Errorf("expected yes or no, got %v", v)
}

func indexMode(v any) (engine.IndexMode, error) {
	if b, ok := v.(bool); ok {
		if b {
			return engine.Tokenized, nil
		}
		return engine.NotIndexed, nil
	}
	s, err := str(v)
	if err != nil {
		return "", err
	}
	switch s {
	case "yes", "tokenized", "omit_norms":
		return engine.Tokenized, nil
	case "untokenized", "untokenized_omit_norms":
		return engine.Untokenized, nil
	case "no":
		return engine.NotIndexed, nil
	}
	return "", fmt.Errorf("unknown index mode %q", s)
}

func termVector(v any) (TermVector, error) {
	if b, ok := v.(bool); ok {
		if b {
			return TermVectorYes, nil
		}
		return TermVectorNo, nil
	}
	s, err := str(v)
	if err != nil {
		return "", err
	}
	switch tv := TermVector(s); tv {
	case TermVectorNo, TermVectorYes, TermVectorWithPositions, TermVectorWithOffsets, TermVectorWithPositionsOffsets:
		return tv, nil
	}
	return "", fmt.Errorf("unknown term vector mode %q", s)
}

func boost(v any) (float64, string, error) {
	switch t := v.(type) {
	case int:
		return float64(t), "", nil
	case int64:
		return float64(t), "", nil
	case float64:
		return t, "", nil
	case string:
		if f, err := strconv.ParseFloat(t, 64); err == nil {
			return f, "", nil
		}
		if t == "" {
			return 0, "", fmt.Errorf("empty boost attribute")
		}
		return 1, t, nil
	}
	return 0, "", fmt.Errorf("boost must be a number or an attribute name, got %v", v)
}
