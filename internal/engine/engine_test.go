package engine

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ferrors "github.com/Aman-CERP/ferretbind/internal/errors"
)

func testSchema(shared bool) Schema {
	return Schema{
		StoreClassName: shared,
		Fields: []FieldSchema{
			{Name: "title", Store: true, Index: Tokenized, Highlight: true, Boost: 2},
			{Name: "description", Store: true, Index: Tokenized, TermVector: true},
			{Name: "sku", Store: true, Index: Untokenized},
		},
	}
}

func doc(id, title, description string) Document {
	return Document{ID: id, Fields: []Field{
		{Name: "title", Value: title},
		{Name: "description", Value: description},
		{Name: "sku", Value: "SKU-" + id},
	}}
}

func parse(t *testing.T, e *Engine, text string) Query {
	t.Helper()
	q, err := e.ParseQuery(text, ParseOptions{
		DefaultFields: []string{"title", "description"},
		Boosts:        map[string]float64{"title": 2},
	})
	require.NoError(t, err)
	return q
}

func ids(res *Result) []string {
	out := make([]string, 0, len(res.Hits))
	for _, h := range res.Hits {
		out = append(out, h.ID)
	}
	return out
}

func newMem(t *testing.T, docs ...Document) *Engine {
	t.Helper()
	e, err := OpenMem(testSchema(false))
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	require.NoError(t, e.AddBatch(docs))
	return e
}

func TestCreateOpen_WritesSegmentsMarker(t *testing.T) {
	// Given: a fresh index directory
	dir := filepath.Join(t.TempDir(), "v1")

	// When: creating an index and adding a document
	e, err := Create(dir, testSchema(false))
	require.NoError(t, err)
	require.NoError(t, e.Add(doc("1", "Apple pie", "sweet")))
	require.NoError(t, e.Close())
	require.NoError(t, e.Close(), "close is idempotent")

	// Then: the marker exists and the index reopens with its schema
	assert.True(t, HasMarker(dir))
	m, err := ReadMarker(dir)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), m.DocCount)

	reopened, err := Open(dir)
	require.NoError(t, err)
	defer reopened.Close()
	assert.Equal(t, testSchema(false), reopened.Schema())
	n, err := reopened.NumDocs()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestOpen_MissingMarkerIsIndexNotFound(t *testing.T) {
	_, err := Open(t.TempDir())
	require.Error(t, err)
	assert.True(t, ferrors.IsIndexNotFound(err))
}

func TestCreate_UnwritablePathIsStorageError(t *testing.T) {
	_, err := Create("/proc/ferret-cannot-write/v1", testSchema(false))
	require.Error(t, err)
	assert.Equal(t, ferrors.ErrCodeStorage, ferrors.GetCode(err))
}

func TestSchemaValidate_RejectsTermVectorOnUnindexedField(t *testing.T) {
	s := Schema{Fields: []FieldSchema{{Name: "body", Index: NotIndexed, TermVector: true}}}
	err := s.Validate()
	require.Error(t, err)
	assert.Equal(t, ferrors.CategoryConfig, err.(*ferrors.FerretError).Category)

	s = Schema{Fields: []FieldSchema{{Name: IDField, Index: Tokenized}}}
	require.Error(t, s.Validate())
}

func TestSearch_DefaultOperatorIsAnd(t *testing.T) {
	// Given: a record containing "apple" but not "banana"
	e := newMem(t, doc("1", "Apple pie", "baked"), doc("2", "Banana apple bread", "baked"))
	ctx := context.Background()

	// When: searching for both terms
	res, err := e.Search(ctx, parse(t, e, "apple pie"), SearchOptions{})
	require.NoError(t, err)

	// Then: only the record with both terms matches
	assert.Equal(t, []string{"1"}, ids(res))

	// When: the terms are joined with OR
	res, err = e.Search(ctx, parse(t, e, "pie OR banana"), SearchOptions{})
	require.NoError(t, err)

	// Then: both records match
	assert.ElementsMatch(t, []string{"1", "2"}, ids(res))
}

func TestSearch_NotAndFieldClauses(t *testing.T) {
	e := newMem(t, doc("1", "Apple pie", "baked"), doc("2", "Apple tart", "raw"))
	ctx := context.Background()

	res, err := e.Search(ctx, parse(t, e, "apple -tart"), SearchOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, ids(res))

	res, err = e.Search(ctx, parse(t, e, "NOT description:baked"), SearchOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"2"}, ids(res))

	res, err = e.Search(ctx, parse(t, e, "sku:SKU-2"), SearchOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"2"}, ids(res))

	res, err = e.Search(ctx, parse(t, e, `"apple tart"`), SearchOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"2"}, ids(res))

	res, err = e.Search(ctx, parse(t, e, "ta*"), SearchOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"2"}, ids(res))

	res, err = e.Search(ctx, parse(t, e, "(pie OR tart) AND title:apple"), SearchOptions{})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"1", "2"}, ids(res))
}

func TestSearch_StopWordsAreDropped(t *testing.T) {
	e := newMem(t, doc("1", "The apple pie", "baked"))
	res, err := e.Search(context.Background(), parse(t, e, "the apple"), SearchOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, ids(res))
}

func TestSearch_TotalCountsAllMatches(t *testing.T) {
	// Given: 25 matching records
	var docs []Document
	for i := 0; i < 25; i++ {
		docs = append(docs, doc(string(rune('a'+i)), "apple", "fruit"))
	}
	e := newMem(t, docs...)

	// When: searching with a limit below the match count
	res, err := e.Search(context.Background(), parse(t, e, "apple"), SearchOptions{Limit: 5})
	require.NoError(t, err)

	// Then: five hits are returned but the total is exact
	assert.Len(t, res.Hits, 5)
	assert.Equal(t, 25, res.Total)

	// And: an unbounded search returns everything
	res, err = e.Search(context.Background(), parse(t, e, "apple"), SearchOptions{Limit: -1})
	require.NoError(t, err)
	assert.Len(t, res.Hits, 25)
}

func TestSearchEach_StreamsInRankOrder(t *testing.T) {
	var docs []Document
	for i := 0; i < 12; i++ {
		docs = append(docs, doc(string(rune('a'+i)), "apple", "fruit"))
	}
	e := newMem(t, docs...)
	q := parse(t, e, "apple")

	page, err := e.Search(context.Background(), q, SearchOptions{Limit: -1})
	require.NoError(t, err)

	var streamed []string
	total, err := e.SearchEach(context.Background(), q, SearchOptions{Limit: -1}, func(h Hit) bool {
		streamed = append(streamed, h.ID)
		return true
	})
	require.NoError(t, err)
	assert.Equal(t, 12, total)
	assert.Equal(t, ids(page), streamed)

	// Early stop still reports the full total.
	seen := 0
	total, err = e.SearchEach(context.Background(), q, SearchOptions{Limit: -1}, func(Hit) bool {
		seen++
		return seen < 3
	})
	require.NoError(t, err)
	assert.Equal(t, 3, seen)
	assert.Equal(t, 12, total)
}

func TestSearch_BoostedFieldRanksFirst(t *testing.T) {
	// Given: two records with apple in the boosted title and one with it
	// only in the description
	e := newMem(t,
		doc("3", "Tart", "apple"),
		doc("1", "Apple pie", "apple"),
		doc("2", "Apple tart", "apple"),
	)

	// When: searching repeatedly
	first, err := e.Search(context.Background(), parse(t, e, "apple"), SearchOptions{})
	require.NoError(t, err)
	second, err := e.Search(context.Background(), parse(t, e, "apple"), SearchOptions{})
	require.NoError(t, err)

	// Then: the description-only match ranks last and order is stable
	require.Len(t, first.Hits, 3)
	assert.Equal(t, "3", first.Hits[2].ID)
	assert.ElementsMatch(t, []string{"1", "2"}, ids(first)[:2])
	assert.Equal(t, ids(first), ids(second))
}

func TestDeleteByQuery_RemovesMatches(t *testing.T) {
	e := newMem(t, doc("1", "Apple pie", "x"), doc("2", "Apple tart", "y"))
	gen := e.Generation()

	n, err := e.DeleteByQuery(context.Background(), Term(IDField, "1"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Greater(t, e.Generation(), gen)

	res, err := e.Search(context.Background(), parse(t, e, "apple"), SearchOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"2"}, ids(res))
}

func TestTermVectorAndDocFrequency(t *testing.T) {
	e := newMem(t,
		doc("1", "Apple pie", "apple apple crumble"),
		doc("2", "Apple tart", "crumble"),
	)
	ctx := context.Background()

	tv, err := e.TermVector(ctx, "1", "description")
	require.NoError(t, err)
	require.Len(t, tv, 2)
	assert.Equal(t, "apple", tv[0].Term)
	assert.Equal(t, 2, tv[0].Freq)
	assert.Equal(t, []int{1, 2}, tv[0].Positions)

	df, err := e.DocFrequency(ctx, "description", "crumble")
	require.NoError(t, err)
	assert.Equal(t, 2, df)
}

func TestHighlight_TagsMatchesAndCapsExcerpts(t *testing.T) {
	e := newMem(t, doc("1", "Apple pie with apple sauce", "x"))

	frags, err := e.Highlight(context.Background(), "1", parse(t, e, "apple"), "title", HighlightOptions{
		NumExcerpts: 1, PreTag: "[", PostTag: "]",
	})
	require.NoError(t, err)
	require.Len(t, frags, 1)
	assert.Contains(t, frags[0], "[Apple]")

	frags, err = e.Highlight(context.Background(), "1", parse(t, e, "banana"), "title", HighlightOptions{})
	require.NoError(t, err)
	assert.Empty(t, frags)
}

func TestSharedIndex_KeysIncludeClassName(t *testing.T) {
	e, err := OpenMem(testSchema(true))
	require.NoError(t, err)
	defer e.Close()

	a := doc("1", "Apple", "x")
	a.ClassName = "Article"
	b := doc("1", "Apple", "x")
	b.ClassName = "Comment"
	require.NoError(t, e.AddBatch([]Document{a, b}))

	res, err := e.Search(context.Background(), parse(t, e, "apple"), SearchOptions{})
	require.NoError(t, err)
	require.Equal(t, 2, res.Total)
	classes := []string{res.Hits[0].ClassName, res.Hits[1].ClassName}
	assert.ElementsMatch(t, []string{"Article", "Comment"}, classes)
	assert.Equal(t, "Article:1", DocKey("Article", "1", true))
}

func TestParseQuery_Errors(t *testing.T) {
	opts := ParseOptions{DefaultFields: []string{"title"}}
	for _, text := range []string{`"open`, "(apple", "apple OR", "[a b]", "title|:x"} {
		_, err := ParseQuery(text, opts)
		assert.Error(t, err, text)
		assert.Equal(t, ferrors.ErrCodeInvalidQuery, ferrors.GetCode(err), text)
	}

	q, err := ParseQuery("   ", opts)
	require.NoError(t, err)
	assert.True(t, q.IsZero())

	_, err = ParseQuery("apple", ParseOptions{})
	assert.Error(t, err, "bare term without default fields")
}

func TestParseQuery_NormalizesCompatibilityForms(t *testing.T) {
	// Given: an index holding a plain ASCII title
	e := newMem(t, doc("1", "kilo", "x"), doc("2", "zulu", "y"))

	// When: searching with the full-width spelling
	res, err := e.Search(context.Background(), parse(t, e, "ｋｉｌｏ"), SearchOptions{})

	// Then: it matches like the ASCII query
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, ids(res))
}

func TestParseQuery_RangeAndOrDefault(t *testing.T) {
	e := newMem(t, doc("1", "alpha", "x"), doc("2", "kilo", "y"), doc("3", "zulu", "z"))
	ctx := context.Background()

	res, err := e.Search(ctx, parse(t, e, "title:[a TO m]"), SearchOptions{})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"1", "2"}, ids(res))

	q, err := e.ParseQuery("alpha zulu", ParseOptions{DefaultFields: []string{"title"}, OrDefault: true})
	require.NoError(t, err)
	res, err = e.Search(ctx, q, SearchOptions{})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"1", "3"}, ids(res))
}

func TestRetire_ClosesAfterLastRelease(t *testing.T) {
	e, err := OpenMem(testSchema(false))
	require.NoError(t, err)

	require.True(t, e.Acquire())
	e.Retire()
	assert.False(t, e.Closed(), "held engine stays open")
	assert.False(t, e.Acquire(), "retired engine cannot be acquired")

	e.Release()
	assert.True(t, e.Closed())
}

func TestAcquire_NeverReturnsClosedEngineWhileRetiring(t *testing.T) {
	// Given: many engines retired while goroutines try to acquire them
	for i := 0; i < 50; i++ {
		e, err := OpenMem(testSchema(false))
		require.NoError(t, err)

		var wg sync.WaitGroup
		var closedAfterAcquire atomic.Int32
		for g := 0; g < 4; g++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if e.Acquire() {
					if e.Closed() {
						closedAfterAcquire.Add(1)
					}
					e.Release()
				}
			}()
		}

		// When: the engine is retired concurrently
		e.Retire()
		wg.Wait()

		// Then: a successful acquire always holds an open engine and the
		// engine ends closed once every holder released it
		assert.Zero(t, closedAfterAcquire.Load())
		assert.True(t, e.Closed())
	}
}
