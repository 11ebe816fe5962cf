package index

import (
	"context"
	"math"
	"sort"
	"unicode/utf8"

	"github.com/Aman-CERP/ferretbind/internal/engine"
)

// MLTOptions tunes MoreLikeThis. Zero values take the defaults.
type MLTOptions struct {
	// Fields to draw terms from. Empty means every field with term vectors.
	Fields        []string `json:"fields,omitempty" msgpack:"fields,omitempty"`
	MinTermFreq   int      `json:"min_term_freq,omitempty" msgpack:"min_term_freq,omitempty"`
	MinDocFreq    int      `json:"min_doc_freq,omitempty" msgpack:"min_doc_freq,omitempty"`
	MinWordLength int      `json:"min_word_length,omitempty" msgpack:"min_word_length,omitempty"`
	MaxWordLength int      `json:"max_word_length,omitempty" msgpack:"max_word_length,omitempty"`
	MaxQueryTerms int      `json:"max_query_terms,omitempty" msgpack:"max_query_terms,omitempty"`
	// AppendToQuery further restricts similar documents.
	AppendToQuery string        `json:"append_to_query,omitempty" msgpack:"append_to_query,omitempty"`
	Search        SearchOptions `json:"search" msgpack:"search"`
}

const (
	defaultMinTermFreq   = 2
	defaultMinDocFreq    = 5
	defaultMaxQueryTerms = 25
)

func (o MLTOptions) withDefaults() MLTOptions {
	if o.MinTermFreq <= 0 {
		o.MinTermFreq = defaultMinTermFreq
	}
	if o.MinDocFreq <= 0 {
		o.MinDocFreq = defaultMinDocFreq
	}
	if o.MaxQueryTerms <= 0 {
		o.MaxQueryTerms = defaultMaxQueryTerms
	}
	return o
}

type scoredTerm struct {
	field string
	term  string
	score float64
}

// MoreLikeThis finds documents similar to a record by OR-ing its most
// characteristic terms, each boosted by tf*idf. The record itself is
// excluded.
func (l *LocalIndex) MoreLikeThis(ctx context.Context, id, className string, opts MLTOptions) (*IDResult, error) {
	opts = opts.withDefaults()
	opts.Search = opts.Search.Normalize()

	eng, release, err := l.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	docID, err := l.resolve(ctx, eng, id, className)
	if err != nil {
		return nil, err
	}
	numDocs, err := eng.NumDocs()
	if err != nil {
		return nil, err
	}

	fieldNames := opts.Fields
	if len(fieldNames) == 0 {
		fieldNames = l.def.Fields().SimilarityFields()
	}

	terms, err := l.interestingTerms(ctx, eng, docID, fieldNames, numDocs, opts)
	if err != nil {
		return nil, err
	}
	if len(terms) == 0 {
		return &IDResult{}, nil
	}

	clauses := make([]engine.Query, 0, len(terms))
	for _, t := range terms {
		clauses = append(clauses, engine.BoostedTerm(t.field, t.term, t.score))
	}
	q := engine.Not(engine.Or(clauses...), engine.DocKeys(docID))

	if opts.AppendToQuery != "" {
		extra, err := eng.ParseQuery(opts.AppendToQuery, l.parseOptions(opts.Search))
		if err != nil {
			return nil, err
		}
		q = engine.And(q, extra)
	}
	if l.def.StoreClassName {
		q = restrict(q, opts.Search.modelFilter())
	}

	res, err := eng.Search(ctx, q, l.engineOptions(opts.Search))
	if err != nil {
		return nil, err
	}
	out := &IDResult{Total: res.Total, Hits: make([]IDHit, 0, len(res.Hits))}
	lazy := opts.Search.lazy(l.def)
	for _, h := range res.Hits {
		hit := IDHit{Model: l.hitModel(h), ID: h.ID, Score: h.Score}
		if lazy {
			hit.Data = h.Fields
		}
		out.Hits = append(out.Hits, hit)
	}
	return out, nil
}

func (l *LocalIndex) interestingTerms(ctx context.Context, eng *engine.Engine, docID string, fieldNames []string, numDocs int, opts MLTOptions) ([]scoredTerm, error) {
	var terms []scoredTerm
	for _, field := range fieldNames {
		tv, err := eng.TermVector(ctx, docID, field)
		if err != nil {
			return nil, err
		}
		for _, tf := range tv {
			if tf.Freq < opts.MinTermFreq || !wordLengthOK(tf.Term, opts) {
				continue
			}
			df, err := eng.DocFrequency(ctx, field, tf.Term)
			if err != nil {
				return nil, err
			}
			if df < opts.MinDocFreq {
				continue
			}
			idf := math.Log(float64(numDocs)/float64(df+1)) + 1
			terms = append(terms, scoredTerm{field: field, term: tf.Term, score: float64(tf.Freq) * idf})
		}
	}

	sort.Slice(terms, func(i, j int) bool {
		if terms[i].score != terms[j].score {
			return terms[i].score > terms[j].score
		}
		if terms[i].field != terms[j].field {
			return terms[i].field < terms[j].field
		}
		return terms[i].term < terms[j].term
	})
	if len(terms) > opts.MaxQueryTerms {
		terms = terms[:opts.MaxQueryTerms]
	}
	// Boosts must stay positive for the engine.
	for i := range terms {
		if terms[i].score <= 0 {
			terms[i].score = math.SmallestNonzeroFloat32
		}
	}
	return terms, nil
}

func wordLengthOK(term string, opts MLTOptions) bool {
	n := utf8.RuneCountInString(term)
	if opts.MinWordLength > 0 && n < opts.MinWordLength {
		return false
	}
	if opts.MaxWordLength > 0 && n > opts.MaxWordLength {
		return false
	}
	return true
}
