package engine

import (
	"context"
	"sync"

	"github.com/blevesearch/bleve/v2"

	ferrors "github.com/Aman-CERP/ferretbind/internal/errors"
)

// Composite is a read-only searcher over several engines. Scores and
// ordering come from one merged search, never from per-member results
// merged after the fact.
//
// A Composite pins the engines it was opened with (Acquire) until Close.
type Composite struct {
	mu          sync.RWMutex
	alias       bleve.IndexAlias
	members     []*Engine
	generations []uint64
	closed      bool
}

// OpenComposite opens a composite over members. It fails when any member
// is already closed or retired.
func OpenComposite(members ...*Engine) (*Composite, error) {
	c := &Composite{
		members:     make([]*Engine, 0, len(members)),
		generations: make([]uint64, 0, len(members)),
	}
	indexes := make([]bleve.Index, 0, len(members))
	for _, m := range members {
		if !m.Acquire() {
			c.release()
			return nil, ferrors.New(ferrors.ErrCodeIndexClosed, "composite member is closed: "+m.Path(), nil)
		}
		c.members = append(c.members, m)
		c.generations = append(c.generations, m.Generation())
		indexes = append(indexes, m.index)
	}
	c.alias = bleve.NewIndexAlias(indexes...)
	return c, nil
}

// Members returns the engines the composite was opened with.
func (c *Composite) Members() []*Engine {
	return c.members
}

// Latest reports whether every member still reflects what the composite
// saw when it was opened. A single stale member makes the whole
// composite stale.
func (c *Composite) Latest() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	for i, m := range c.members {
		if m.Closed() || m.Retired() || m.Generation() != c.generations[i] {
			return false
		}
	}
	return true
}

// ParseQuery parses text with the analyzers of the first member. Every
// member is built with the same analyzers.
func (c *Composite) ParseQuery(text string, opts ParseOptions) (Query, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed || len(c.members) == 0 {
		return Query{}, ferrors.New(ferrors.ErrCodeIndexClosed, "composite is closed", nil)
	}
	return c.members[0].ParseQuery(text, opts)
}

// Search runs q once over all members.
func (c *Composite) Search(ctx context.Context, q Query, opts SearchOptions) (*Result, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, ferrors.New(ferrors.ErrCodeIndexClosed, "composite is closed", nil)
	}
	return runSearch(ctx, c.alias, q, opts, c.docCount())
}

// SearchEach streams merged hits in ranked order and returns the total.
func (c *Composite) SearchEach(ctx context.Context, q Query, opts SearchOptions, fn func(Hit) bool) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return 0, ferrors.New(ferrors.ErrCodeIndexClosed, "composite is closed", nil)
	}
	return searchEach(ctx, c.alias, q, opts, fn)
}

func (c *Composite) docCount() uint64 {
	var n uint64
	for _, m := range c.members {
		if cnt, err := m.NumDocs(); err == nil {
			n += uint64(cnt)
		}
	}
	return n
}

// Close releases the members. Safe to call multiple times. Members are
// never closed directly by the composite.
func (c *Composite) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	err := c.alias.Close()
	c.release()
	return err
}

func (c *Composite) release() {
	for _, m := range c.members {
		m.Release()
	}
}
