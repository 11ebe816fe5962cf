package engine

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search"
	"github.com/blevesearch/bleve/v2/search/highlight/highlighter/html"

	ferrors "github.com/Aman-CERP/ferretbind/internal/errors"
)

const (
	// DefaultLimit is the page size used when SearchOptions.Limit is zero.
	DefaultLimit = 10

	// DefaultNumExcerpts caps highlight fragments per field.
	DefaultNumExcerpts = 2

	eachPageSize = 500
)

// SearchOptions controls paging, ordering and stored-field loading.
type SearchOptions struct {
	// Offset skips that many ranked hits.
	Offset int
	// Limit caps returned hits. Negative means unbounded, zero means DefaultLimit.
	Limit int
	// Sort lists sort fields ("-field" for descending). Empty sorts by
	// score. The document id is always appended as a tiebreaker.
	Sort []string
	// Fields lists stored fields to return with each hit.
	Fields []string
}

// Hit is one ranked search result.
type Hit struct {
	DocID     string
	ID        string
	ClassName string
	Score     float64
	Fields    map[string]string
	// Index names the composite member that produced the hit.
	Index string
}

// Result is a page of hits plus the total number of matches.
type Result struct {
	Total int
	Hits  []Hit
}

// HighlightOptions controls excerpt generation.
type HighlightOptions struct {
	NumExcerpts int
	PreTag      string
	PostTag     string
}

// TermFreq is one entry of a term vector.
type TermFreq struct {
	Term      string
	Freq      int
	Positions []int
}

// Search runs q and returns the requested page of hits. Total always
// counts every match regardless of Limit.
func (e *Engine) Search(ctx context.Context, q Query, opts SearchOptions) (*Result, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, ferrors.New(ferrors.ErrCodeIndexClosed, "index is closed", nil)
	}
	return runSearch(ctx, e.index, q, opts, e.docCountLocked())
}

// SearchEach streams hits in ranked order to fn and returns the total
// match count. Iteration stops early when fn returns false.
func (e *Engine) SearchEach(ctx context.Context, q Query, opts SearchOptions, fn func(Hit) bool) (int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return 0, ferrors.New(ferrors.ErrCodeIndexClosed, "index is closed", nil)
	}
	return searchEach(ctx, e.index, q, opts, fn)
}

// Highlight returns tagged excerpts of field for the document docID
// matching q. No match yields no excerpts.
func (e *Engine) Highlight(ctx context.Context, docID string, q Query, field string, opts HighlightOptions) ([]string, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, ferrors.New(ferrors.ErrCodeIndexClosed, "index is closed", nil)
	}
	return highlight(ctx, e.index, docID, q, field, opts)
}

// StoredFields loads the stored values of one document.
func (e *Engine) StoredFields(ctx context.Context, docID string, fields ...string) (map[string]string, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, ferrors.New(ferrors.ErrCodeIndexClosed, "index is closed", nil)
	}

	req := bleve.NewSearchRequestOptions(bleve.NewDocIDQuery([]string{docID}), 1, 0, false)
	req.Fields = fields
	res, err := e.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, ferrors.StorageError("stored field lookup failed", err)
	}
	if len(res.Hits) == 0 {
		return nil, ferrors.NotFoundError(docID)
	}
	return stringFields(res.Hits[0].Fields), nil
}

// TermVector returns the terms of field in document docID with their
// frequencies and positions. It re-analyzes the stored value with the
// field's analyzer.
func (e *Engine) TermVector(ctx context.Context, docID, field string) ([]TermFreq, error) {
	stored, err := e.StoredFields(ctx, docID, field)
	if err != nil {
		return nil, err
	}
	value, ok := stored[field]
	if !ok || value == "" {
		return nil, nil
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, ferrors.New(ferrors.ErrCodeIndexClosed, "index is closed", nil)
	}
	m := e.index.Mapping()
	analyzer := m.AnalyzerNamed(m.AnalyzerNameForPath(field))
	if analyzer == nil {
		return nil, ferrors.StorageError("no analyzer for field "+field, nil)
	}

	byTerm := make(map[string]*TermFreq)
	for _, tok := range analyzer.Analyze([]byte(value)) {
		term := string(tok.Term)
		tf, ok := byTerm[term]
		if !ok {
			tf = &TermFreq{Term: term}
			byTerm[term] = tf
		}
		tf.Freq++
		tf.Positions = append(tf.Positions, tok.Position)
	}

	out := make([]TermFreq, 0, len(byTerm))
	for _, tf := range byTerm {
		out = append(out, *tf)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Term < out[j].Term })
	return out, nil
}

// DocFrequency returns how many documents contain term in field.
func (e *Engine) DocFrequency(ctx context.Context, field, term string) (int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return 0, ferrors.New(ferrors.ErrCodeIndexClosed, "index is closed", nil)
	}

	tq := bleve.NewTermQuery(term)
	tq.SetField(field)
	req := bleve.NewSearchRequestOptions(tq, 0, 0, false)
	res, err := e.index.SearchInContext(ctx, req)
	if err != nil {
		return 0, ferrors.StorageError("doc frequency lookup failed", err)
	}
	return int(res.Total), nil
}

func runSearch(ctx context.Context, idx bleve.Index, q Query, opts SearchOptions, docCount uint64) (*Result, error) {
	if q.q == nil {
		return &Result{}, nil
	}

	size := opts.Limit
	switch {
	case size < 0:
		size = int(docCount) - opts.Offset
		if size < 0 {
			size = 0
		}
	case size == 0:
		size = DefaultLimit
	}

	req := bleve.NewSearchRequestOptions(q.q, size, opts.Offset, false)
	req.Fields = append([]string{IDField, ClassNameField}, opts.Fields...)
	req.SortBy(sortOrder(opts.Sort))

	res, err := idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, ferrors.StorageError("search failed", err)
	}

	out := &Result{Total: int(res.Total), Hits: make([]Hit, 0, len(res.Hits))}
	for _, dm := range res.Hits {
		out.Hits = append(out.Hits, toHit(dm))
	}
	return out, nil
}

func searchEach(ctx context.Context, idx bleve.Index, q Query, opts SearchOptions, fn func(Hit) bool) (int, error) {
	remaining := opts.Limit
	if remaining == 0 {
		remaining = DefaultLimit
	}

	offset := opts.Offset
	total := 0
	for {
		page := eachPageSize
		if remaining >= 0 && remaining < page {
			page = remaining
		}
		pageOpts := opts
		pageOpts.Offset = offset
		pageOpts.Limit = page
		if page == 0 {
			// Still run the query once so the total is reported.
			pageOpts.Limit = -1
			pageOpts.Offset = 0
		}

		res, err := runSearch(ctx, idx, q, pageOpts, 0)
		if err != nil {
			return 0, err
		}
		total = res.Total
		if page == 0 {
			return total, nil
		}

		for _, h := range res.Hits {
			if !fn(h) {
				return total, nil
			}
		}
		if remaining > 0 {
			remaining -= len(res.Hits)
		}
		offset += len(res.Hits)
		if len(res.Hits) < page || offset >= total || remaining == 0 {
			return total, nil
		}
	}
}

func highlight(ctx context.Context, idx bleve.Index, docID string, q Query, field string, opts HighlightOptions) ([]string, error) {
	if q.q == nil {
		return nil, nil
	}
	if opts.NumExcerpts <= 0 {
		opts.NumExcerpts = DefaultNumExcerpts
	}
	if opts.PreTag == "" && opts.PostTag == "" {
		opts.PreTag, opts.PostTag = "<em>", "</em>"
	}

	cq := bleve.NewConjunctionQuery(bleve.NewDocIDQuery([]string{docID}), q.q)
	req := bleve.NewSearchRequestOptions(cq, 1, 0, false)
	req.Highlight = bleve.NewHighlightWithStyle(html.Name)
	req.Highlight.AddField(field)

	res, err := idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, ferrors.StorageError("highlight failed", err)
	}
	if len(res.Hits) == 0 {
		return nil, nil
	}

	frags := res.Hits[0].Fragments[field]
	if len(frags) > opts.NumExcerpts {
		frags = frags[:opts.NumExcerpts]
	}
	out := make([]string, 0, len(frags))
	r := strings.NewReplacer("<mark>", opts.PreTag, "</mark>", opts.PostTag)
	for _, f := range frags {
		out = append(out, r.Replace(f))
	}
	return out, nil
}

func sortOrder(fields []string) []string {
	if len(fields) == 0 {
		return []string{"-_score", "_id"}
	}
	out := append([]string(nil), fields...)
	for _, f := range fields {
		if f == "_id" || f == "-_id" {
			return out
		}
	}
	return append(out, "_id")
}

func toHit(dm *search.DocumentMatch) Hit {
	fields := stringFields(dm.Fields)
	h := Hit{
		DocID:     dm.ID,
		ID:        fields[IDField],
		ClassName: fields[ClassNameField],
		Score:     dm.Score,
		Index:     dm.Index,
		Fields:    fields,
	}
	if h.ID == "" {
		_, h.ID = SplitKey(dm.ID)
	}
	delete(h.Fields, IDField)
	delete(h.Fields, ClassNameField)
	return h
}

func stringFields(in map[string]interface{}) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = stringValue(v)
	}
	return out
}

func stringValue(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case []interface{}:
		if len(t) == 0 {
			return ""
		}
		return stringValue(t[0])
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}
