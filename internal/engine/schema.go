package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/lang/en"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/unicode"
	"github.com/blevesearch/bleve/v2/mapping"

	ferrors "github.com/Aman-CERP/ferretbind/internal/errors"
)

const (
	// IDField holds the record primary key. Always stored and indexed exact.
	IDField = "id"

	// ClassNameField holds the model type for shared indexes.
	ClassNameField = "class_name"

	// MarkerFile is the file whose presence marks a directory as a valid index.
	MarkerFile = "segments"

	// TextAnalyzerName is the analyzer applied to tokenized fields.
	TextAnalyzerName = "ferret_text"
)

// IndexMode controls how a field is indexed.
type IndexMode string

const (
	// Tokenized fields are analyzed into lowercase terms without stop words.
	Tokenized IndexMode = "tokenized"
	// Untokenized fields are indexed as a single exact-match term.
	Untokenized IndexMode = "untokenized"
	// NotIndexed fields are only stored.
	NotIndexed IndexMode = "no"
)

// FieldSchema is the engine-level policy for one field.
type FieldSchema struct {
	Name       string    `json:"name"`
	Store      bool      `json:"store"`
	Index      IndexMode `json:"index"`
	TermVector bool      `json:"term_vector"`
	Highlight  bool      `json:"highlight"`
	Boost      float64   `json:"boost,omitempty"`
}

// Schema describes every field of an index. The id and class_name
// fields are implicit and never listed.
type Schema struct {
	Fields         []FieldSchema `json:"fields"`
	StoreClassName bool          `json:"store_class_name"`
}

// Field returns the named field schema.
func (s Schema) Field(name string) (FieldSchema, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSchema{}, false
}

// Validate rejects duplicate names, reserved names and term vectors on
// fields that are not indexed.
func (s Schema) Validate() error {
	seen := make(map[string]bool, len(s.Fields))
	for _, f := range s.Fields {
		switch {
		case f.Name == "":
			return ferrors.ConfigError("field without a name", nil)
		case f.Name == IDField || f.Name == ClassNameField:
			return ferrors.ConfigError("field name is reserved: "+f.Name, nil)
		case seen[f.Name]:
			return ferrors.ConfigError("duplicate field: "+f.Name, nil)
		case f.Index == NotIndexed && f.TermVector:
			return ferrors.ConfigError("term vectors need an indexed field: "+f.Name, nil)
		}
		switch f.Index {
		case Tokenized, Untokenized, NotIndexed:
		default:
			return ferrors.ConfigError(fmt.Sprintf("field %s: unknown index mode %q", f.Name, f.Index), nil)
		}
		seen[f.Name] = true
	}
	return nil
}

// buildMapping translates a Schema into a bleve index mapping.
// Fields carrying term vectors or highlighting are stored too: the
// adapter re-analyzes stored values to produce term vectors and the
// highlighter needs the original text.
func buildMapping(s Schema) (*mapping.IndexMappingImpl, error) {
	im := bleve.NewIndexMapping()
	err := im.AddCustomAnalyzer(TextAnalyzerName, map[string]interface{}{
		"type":      custom.Name,
		"tokenizer": unicode.Name,
		"token_filters": []string{
			lowercase.Name,
			en.StopName,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add text analyzer: %w", err)
	}
	im.DefaultAnalyzer = TextAnalyzerName

	doc := bleve.NewDocumentStaticMapping()
	doc.AddFieldMappingsAt(IDField, exactField(true))
	doc.AddFieldMappingsAt(ClassNameField, exactField(true))

	for _, f := range s.Fields {
		var fm *mapping.FieldMapping
		switch f.Index {
		case Untokenized:
			fm = exactField(f.Store)
		default:
			fm = bleve.NewTextFieldMapping()
			fm.Analyzer = TextAnalyzerName
			fm.Store = f.Store
		}
		fm.IncludeInAll = false
		if f.Index == NotIndexed {
			fm.Index = false
			fm.IncludeTermVectors = false
		} else {
			fm.IncludeTermVectors = f.TermVector || f.Highlight
		}
		if f.TermVector || f.Highlight {
			fm.Store = true
		}
		doc.AddFieldMappingsAt(f.Name, fm)
	}

	im.DefaultMapping = doc
	im.StoreDynamic = false
	im.IndexDynamic = false
	return im, nil
}

func exactField(store bool) *mapping.FieldMapping {
	fm := bleve.NewKeywordFieldMapping()
	fm.Analyzer = keyword.Name
	fm.Store = store
	fm.IncludeInAll = false
	return fm
}

// Marker is the content of the segments marker file.
type Marker struct {
	Schema   Schema    `json:"schema"`
	Created  time.Time `json:"created"`
	Updated  time.Time `json:"updated"`
	DocCount uint64    `json:"doc_count"`
}

// HasMarker reports whether dir holds a valid index marker.
func HasMarker(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, MarkerFile))
	return err == nil && !info.IsDir() && info.Size() > 0
}

// ReadMarker loads the marker of the index at dir.
func ReadMarker(dir string) (*Marker, error) {
	data, err := os.ReadFile(filepath.Join(dir, MarkerFile))
	if os.IsNotExist(err) {
		return nil, ferrors.IndexNotFoundError(dir)
	}
	if err != nil {
		return nil, ferrors.StorageError("cannot read index marker", err)
	}
	var m Marker
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, ferrors.New(ferrors.ErrCodeIndexNotFound, "index marker is corrupt at "+dir, err)
	}
	return &m, nil
}

func writeMarker(dir string, m *Marker) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return ferrors.StorageError("cannot encode index marker", err)
	}
	tmp := filepath.Join(dir, MarkerFile+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return ferrors.StorageError("cannot write index marker", err)
	}
	if err := os.Rename(tmp, filepath.Join(dir, MarkerFile)); err != nil {
		return ferrors.StorageError("cannot write index marker", err)
	}
	return nil
}
