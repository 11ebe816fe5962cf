package engine

import (
	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"
)

// Query is an engine query. The zero value matches nothing.
type Query struct {
	q query.Query
}

// IsZero reports whether the query is empty.
func (q Query) IsZero() bool {
	return q.q == nil
}

// MatchAll matches every document.
func MatchAll() Query {
	return Query{q: bleve.NewMatchAllQuery()}
}

// Term matches documents whose field contains exactly term.
func Term(field, term string) Query {
	tq := bleve.NewTermQuery(term)
	tq.SetField(field)
	return Query{q: tq}
}

// BoostedTerm is Term with a relevance boost.
func BoostedTerm(field, term string, boost float64) Query {
	tq := bleve.NewTermQuery(term)
	tq.SetField(field)
	tq.SetBoost(boost)
	return Query{q: tq}
}

// Match analyzes text with field's analyzer and requires every resulting term.
func Match(field, text string) Query {
	mq := bleve.NewMatchQuery(text)
	mq.SetField(field)
	mq.SetOperator(query.MatchQueryOperatorAnd)
	return Query{q: mq}
}

// DocKeys matches the documents with the given engine ids.
func DocKeys(keys ...string) Query {
	return Query{q: bleve.NewDocIDQuery(keys)}
}

// And requires every non-empty query.
func And(qs ...Query) Query {
	inner := unwrap(qs)
	switch len(inner) {
	case 0:
		return Query{}
	case 1:
		return Query{q: inner[0]}
	}
	return Query{q: bleve.NewConjunctionQuery(inner...)}
}

// Or requires at least one non-empty query.
func Or(qs ...Query) Query {
	inner := unwrap(qs)
	switch len(inner) {
	case 0:
		return Query{}
	case 1:
		return Query{q: inner[0]}
	}
	return Query{q: bleve.NewDisjunctionQuery(inner...)}
}

// Not matches documents that match must but not any of mustNot.
// An empty must matches everything.
func Not(must Query, mustNot ...Query) Query {
	bq := bleve.NewBooleanQuery()
	if must.q == nil {
		must = MatchAll()
	}
	bq.AddMust(must.q)
	if inner := unwrap(mustNot); len(inner) > 0 {
		bq.AddMustNot(inner...)
	}
	return Query{q: bq}
}

func unwrap(qs []Query) []query.Query {
	out := make([]query.Query, 0, len(qs))
	for _, q := range qs {
		if q.q != nil {
			out = append(out, q.q)
		}
	}
	return out
}
