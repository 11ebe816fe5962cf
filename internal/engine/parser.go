package engine

import (
	"fmt"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
	"golang.org/x/text/unicode/norm"

	ferrors "github.com/Aman-CERP/ferretbind/internal/errors"
)

// ParseOptions configures query parsing.
type ParseOptions struct {
	// DefaultFields are searched by clauses that name no field.
	DefaultFields []string
	// Boosts weights clauses per field. Missing or zero means 1.
	Boosts map[string]float64
	// OrDefault joins unmarked clauses with OR instead of AND.
	OrDefault bool

	analyze func(field, text string) []string
}

// ParseQuery parses text against this engine's analyzers. The engine
// read lock is held while parsing so the mapping cannot be closed
// underneath the parser.
func (e *Engine) ParseQuery(text string, opts ParseOptions) (Query, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return Query{}, ferrors.New(ferrors.ErrCodeIndexClosed, "index is closed", nil)
	}
	opts.analyze = analyzerFunc(e.index.Mapping())
	return ParseQuery(text, opts)
}

// ParseQuery parses the query language:
//
//	apple pie            both terms required (AND is the default)
//	apple OR pie         either term
//	apple -pie           apple without pie (also "NOT pie", "!pie")
//	+apple pie           explicit required clause
//	title:apple          clause restricted to a field
//	title|body:apple     clause over several fields
//	"apple pie"          phrase
//	app*  ap?le          wildcards
//	[a TO m] {a TO m}    inclusive and exclusive ranges
//	(apple OR pear) pie  grouping
//
// The text is NFKC-normalized first, as indexed values are. An empty
// query yields the zero Query, which matches nothing.
func ParseQuery(text string, opts ParseOptions) (Query, error) {
	text = norm.NFKC.String(text)
	if strings.TrimSpace(text) == "" {
		return Query{}, nil
	}
	toks, err := lex(text)
	if err != nil {
		return Query{}, err
	}
	p := &parser{toks: toks, opts: opts}
	q, err := p.parseOr(nil)
	if err != nil {
		return Query{}, err
	}
	if t := p.peek(); t.kind != tEOF {
		return Query{}, invalidQuery(text, "unexpected "+t.String())
	}
	return q, nil
}

func analyzerFunc(m mapping.IndexMapping) func(field, text string) []string {
	return func(field, text string) []string {
		a := m.AnalyzerNamed(m.AnalyzerNameForPath(field))
		if a == nil {
			return []string{text}
		}
		var terms []string
		for _, tok := range a.Analyze([]byte(text)) {
			terms = append(terms, string(tok.Term))
		}
		return terms
	}
}

func invalidQuery(text, reason string) error {
	return ferrors.New(ferrors.ErrCodeInvalidQuery, fmt.Sprintf("cannot parse query %q: %s", text, reason), nil)
}

type tokKind int

const (
	tEOF tokKind = iota
	tWord
	tPhrase
	tRange
	tField
	tLParen
	tRParen
	tAnd
	tOr
	tNot
	tPlus
	tMinus
)

type token struct {
	kind   tokKind
	text   string
	fields []string
	lo, hi string
	incLo  bool
	incHi  bool
}

func (t token) String() string {
	switch t.kind {
	case tEOF:
		return "end of query"
	case tRParen:
		return "')'"
	case tLParen:
		return "'('"
	case tField:
		return "field " + strings.Join(t.fields, "|")
	default:
		return fmt.Sprintf("%q", t.text)
	}
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func lex(s string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(s) {
		c := s[i]
		switch {
		case isSpace(c):
			i++
		case c == '(':
			toks = append(toks, token{kind: tLParen, text: "("})
			i++
		case c == ')':
			toks = append(toks, token{kind: tRParen, text: ")"})
			i++
		case c == '+':
			toks = append(toks, token{kind: tPlus, text: "+"})
			i++
		case c == '-':
			toks = append(toks, token{kind: tMinus, text: "-"})
			i++
		case c == '!':
			toks = append(toks, token{kind: tNot, text: "!"})
			i++
		case c == '&' && i+1 < len(s) && s[i+1] == '&':
			toks = append(toks, token{kind: tAnd, text: "&&"})
			i += 2
		case c == '|' && i+1 < len(s) && s[i+1] == '|':
			toks = append(toks, token{kind: tOr, text: "||"})
			i += 2
		case c == '"':
			j := strings.IndexByte(s[i+1:], '"')
			if j < 0 {
				return nil, invalidQuery(s, "unterminated phrase")
			}
			toks = append(toks, token{kind: tPhrase, text: s[i+1 : i+1+j]})
			i += j + 2
		case c == '[' || c == '{':
			j := strings.IndexAny(s[i+1:], "]}")
			if j < 0 {
				return nil, invalidQuery(s, "unterminated range")
			}
			parts := strings.Fields(s[i+1 : i+1+j])
			if len(parts) != 3 || parts[1] != "TO" {
				return nil, invalidQuery(s, "range must look like [low TO high]")
			}
			toks = append(toks, token{
				kind:  tRange,
				text:  s[i : i+j+2],
				lo:    openBound(parts[0]),
				hi:    openBound(parts[2]),
				incLo: c == '[',
				incHi: s[i+1+j] == ']',
			})
			i += j + 2
		default:
			j := i
			for j < len(s) && !isSpace(s[j]) && !strings.ContainsRune("()\"[{:", rune(s[j])) {
				j++
			}
			word := s[i:j]
			if j < len(s) && s[j] == ':' {
				fields := strings.Split(word, "|")
				for _, f := range fields {
					if f == "" {
						return nil, invalidQuery(s, "empty field name")
					}
				}
				toks = append(toks, token{kind: tField, text: word, fields: fields})
				i = j + 1
				continue
			}
			if word == "" {
				return nil, invalidQuery(s, fmt.Sprintf("unexpected %q", s[j]))
			}
			switch word {
			case "AND":
				toks = append(toks, token{kind: tAnd, text: word})
			case "OR":
				toks = append(toks, token{kind: tOr, text: word})
			case "NOT":
				toks = append(toks, token{kind: tNot, text: word})
			default:
				toks = append(toks, token{kind: tWord, text: word})
			}
			i = j
		}
	}
	return toks, nil
}

func openBound(s string) string {
	if s == "*" {
		return ""
	}
	return s
}

type parser struct {
	toks []token
	pos  int
	opts ParseOptions
}

func (p *parser) peek() token {
	if p.pos >= len(p.toks) {
		return token{kind: tEOF}
	}
	return p.toks[p.pos]
}

func (p *parser) next() token {
	t := p.peek()
	if p.pos < len(p.toks) {
		p.pos++
	}
	return t
}

func (p *parser) parseOr(fields []string) (Query, error) {
	var branches []Query
	for {
		q, err := p.parseAnd(fields)
		if err != nil {
			return Query{}, err
		}
		branches = append(branches, q)
		if p.peek().kind != tOr {
			break
		}
		p.next()
	}
	return Or(branches...), nil
}

func (p *parser) parseAnd(fields []string) (Query, error) {
	var must, should, mustNot []Query
	clauses := 0
	explicitAnd := false

	for {
		t := p.peek()
		if t.kind == tEOF || t.kind == tRParen || t.kind == tOr {
			break
		}
		if t.kind == tAnd {
			p.next()
			explicitAnd = true
			continue
		}

		required, prohibited := false, false
		switch t.kind {
		case tPlus:
			required = true
			p.next()
		case tMinus, tNot:
			prohibited = true
			p.next()
		}

		q, err := p.parsePrimary(fields)
		if err != nil {
			return Query{}, err
		}
		clauses++

		switch {
		case prohibited:
			mustNot = append(mustNot, q)
		case required || !p.opts.OrDefault:
			must = append(must, q)
		case explicitAnd:
			must = append(must, should...)
			should = nil
			must = append(must, q)
		default:
			should = append(should, q)
		}
		explicitAnd = false
	}

	if clauses == 0 {
		return Query{}, invalidQuery(p.source(), "empty clause before "+p.peek().String())
	}
	return combine(must, should, mustNot), nil
}

func (p *parser) parsePrimary(fields []string) (Query, error) {
	t := p.next()
	switch t.kind {
	case tLParen:
		q, err := p.parseOr(fields)
		if err != nil {
			return Query{}, err
		}
		if p.next().kind != tRParen {
			return Query{}, invalidQuery(p.source(), "missing ')'")
		}
		return q, nil
	case tField:
		return p.parsePrimary(t.fields)
	case tWord:
		return p.word(fields, t.text)
	case tPhrase:
		return p.phrase(fields, t.text)
	case tRange:
		return p.rangeQuery(fields, t)
	default:
		return Query{}, invalidQuery(p.source(), "unexpected "+t.String())
	}
}

func (p *parser) source() string {
	parts := make([]string, 0, len(p.toks))
	for _, t := range p.toks {
		parts = append(parts, t.text)
	}
	return strings.Join(parts, " ")
}

func (p *parser) resolve(fields []string) ([]string, error) {
	if len(fields) > 0 {
		return fields, nil
	}
	if len(p.opts.DefaultFields) == 0 {
		return nil, invalidQuery(p.source(), "no field given and no default search fields")
	}
	return p.opts.DefaultFields, nil
}

func (p *parser) boost(field string, q query.Query) query.Query {
	b := p.opts.Boosts[field]
	if b == 0 || b == 1 {
		return q
	}
	if bq, ok := q.(query.BoostableQuery); ok {
		bq.SetBoost(b)
	}
	return q
}

func (p *parser) word(fields []string, text string) (Query, error) {
	if text == "*" {
		return MatchAll(), nil
	}
	fs, err := p.resolve(fields)
	if err != nil {
		return Query{}, err
	}

	wildcard := strings.ContainsAny(text, "*?")
	var per []query.Query
	for _, f := range fs {
		var q query.Query
		switch {
		case wildcard:
			// Wildcards bypass analysis, so match the case folding of
			// the field's analyzer by probing it.
			pattern := text
			if p.opts.analyze != nil {
				if probe := p.opts.analyze(f, "Q"); len(probe) == 1 && probe[0] == "q" {
					pattern = strings.ToLower(text)
				}
			}
			wq := bleve.NewWildcardQuery(pattern)
			wq.SetField(f)
			q = wq
		case p.opts.analyze != nil:
			q = termsQuery(f, p.opts.analyze(f, text))
		default:
			q = Match(f, text).q
		}
		if q != nil {
			per = append(per, p.boost(f, q))
		}
	}
	return disjoin(per), nil
}

func (p *parser) phrase(fields []string, text string) (Query, error) {
	fs, err := p.resolve(fields)
	if err != nil {
		return Query{}, err
	}
	var per []query.Query
	for _, f := range fs {
		pq := bleve.NewMatchPhraseQuery(text)
		pq.SetField(f)
		per = append(per, p.boost(f, pq))
	}
	return disjoin(per), nil
}

func (p *parser) rangeQuery(fields []string, t token) (Query, error) {
	fs, err := p.resolve(fields)
	if err != nil {
		return Query{}, err
	}
	incLo, incHi := t.incLo, t.incHi
	var per []query.Query
	for _, f := range fs {
		rq := bleve.NewTermRangeInclusiveQuery(t.lo, t.hi, &incLo, &incHi)
		rq.SetField(f)
		per = append(per, p.boost(f, rq))
	}
	return disjoin(per), nil
}

// termsQuery requires every analyzed term. A value analyzed away
// entirely (stop words only) yields nil so the clause is dropped.
func termsQuery(field string, terms []string) query.Query {
	switch len(terms) {
	case 0:
		return nil
	case 1:
		tq := bleve.NewTermQuery(terms[0])
		tq.SetField(field)
		return tq
	}
	qs := make([]query.Query, 0, len(terms))
	for _, t := range terms {
		tq := bleve.NewTermQuery(t)
		tq.SetField(field)
		qs = append(qs, tq)
	}
	return bleve.NewConjunctionQuery(qs...)
}

func disjoin(qs []query.Query) Query {
	switch len(qs) {
	case 0:
		return Query{}
	case 1:
		return Query{q: qs[0]}
	}
	return Query{q: bleve.NewDisjunctionQuery(qs...)}
}

// combine builds the boolean query for one AND level. When nothing is
// required, at least one optional clause must match.
func combine(must, should, mustNot []Query) Query {
	must = nonZero(must)
	should = nonZero(should)
	mustNot = nonZero(mustNot)

	if len(must) == 0 && len(should) > 0 {
		must = []Query{Or(should...)}
		should = nil
	}
	if len(should) == 0 && len(mustNot) == 0 {
		return And(must...)
	}

	bq := bleve.NewBooleanQuery()
	if len(must) == 0 {
		must = []Query{MatchAll()}
	}
	bq.AddMust(unwrap(must)...)
	if len(should) > 0 {
		bq.AddShould(unwrap(should)...)
	}
	if len(mustNot) > 0 {
		bq.AddMustNot(unwrap(mustNot)...)
	}
	return Query{q: bq}
}

func nonZero(qs []Query) []Query {
	out := qs[:0:0]
	for _, q := range qs {
		if !q.IsZero() {
			out = append(out, q)
		}
	}
	return out
}
