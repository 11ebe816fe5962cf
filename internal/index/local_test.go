package index

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/ferretbind/internal/engine"
	ferrors "github.com/Aman-CERP/ferretbind/internal/errors"
)

func setupArticles(t *testing.T) (*Registry, *memModel, *LocalIndex) {
	t.Helper()
	reg := newTestRegistry(t)
	articles := newMemModel(t, "Article", articleFields)
	articles.put("1", map[string]any{"title": "apple pie", "body": "a recipe with apples"})
	articles.put("2", map[string]any{"title": "pear tart", "body": "pears and apple sauce"})
	articles.put("3", map[string]any{"title": "banana bread", "body": "ripe bananas"})
	_, err := reg.Register(Config{Name: "articles"}, articles)
	require.NoError(t, err)

	idx, err := reg.Index("Article")
	require.NoError(t, err)
	local, ok := idx.(*LocalIndex)
	require.True(t, ok)
	return reg, articles, local
}

func TestLocalIndex_EnsureReadyBuildsMissingIndex(t *testing.T) {
	// Given: a model with records and no index on disk
	_, articles, idx := setupArticles(t)
	assert.Equal(t, StateUninitialized, idx.State())

	// When: ensuring readiness
	require.NoError(t, idx.EnsureReady(context.Background()))

	// Then: a versioned directory with a marker is active
	assert.Equal(t, StateReady, idx.State())
	dir := idx.Definition().IndexDir()
	assert.True(t, engine.HasMarker(dir))
	assert.Equal(t, idx.Definition().BaseDir, filepath.Dir(dir))
	assert.Equal(t, int32(1), articles.walks.Load())

	st, err := idx.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, st.DocCount)
	assert.Equal(t, "ready", st.State)
}

func TestLocalIndex_EnsureReadyOpensExistingVersion(t *testing.T) {
	// Given: an index built by one instance
	_, articles, idx := setupArticles(t)
	require.NoError(t, idx.EnsureReady(context.Background()))
	dir := idx.Definition().IndexDir()
	require.NoError(t, idx.Close())

	// When: a fresh instance over the same definition starts
	fresh := NewLocalIndex(idx.Definition())
	defer fresh.Close()
	require.NoError(t, fresh.EnsureReady(context.Background()))

	// Then: it opens the existing version without walking the data store
	assert.Equal(t, dir, fresh.Definition().IndexDir())
	assert.Equal(t, int32(1), articles.walks.Load())
}

func TestLocalIndex_AddSearchRemoveRoundTrip(t *testing.T) {
	// Given: a ready index
	_, articles, idx := setupArticles(t)
	ctx := context.Background()

	// When: adding a new record
	rec := articles.put("4", map[string]any{"title": "cherry crumble", "body": "tart cherries"})
	require.NoError(t, idx.Add(ctx, rec))

	// Then: it is found with its model
	hits, total := collectIDs(t, idx, "cherry", SearchOptions{})
	assert.Equal(t, 1, total)
	require.Len(t, hits, 1)
	assert.Equal(t, IDHit{Model: "Article", ID: "4", Score: hits[0].Score}, hits[0])

	// When: removing it
	require.NoError(t, idx.Remove(ctx, "4", "Article"))

	// Then: it is gone
	_, total = collectIDs(t, idx, "cherry", SearchOptions{})
	assert.Equal(t, 0, total)
}

func TestLocalIndex_AddReplacesExistingDocument(t *testing.T) {
	_, articles, idx := setupArticles(t)
	ctx := context.Background()

	rec := articles.put("1", map[string]any{"title": "plum cake", "body": "plums"})
	require.NoError(t, idx.Add(ctx, rec))

	_, total := collectIDs(t, idx, "apple", SearchOptions{})
	assert.Equal(t, 1, total, "only record 2 still mentions apple")
	hits, _ := collectIDs(t, idx, "plum", SearchOptions{})
	assert.Equal(t, []string{"1"}, ids(hits))
}

func TestLocalIndex_DefaultAndSemantics(t *testing.T) {
	_, _, idx := setupArticles(t)

	hits, total := collectIDs(t, idx, "apple sauce", SearchOptions{})
	assert.Equal(t, 1, total)
	assert.Equal(t, []string{"2"}, ids(hits))

	_, total = collectIDs(t, idx, "apple sauce", SearchOptions{OrDefault: true})
	assert.Equal(t, 2, total)
}

func TestLocalIndex_TotalHitsIgnoresLimit(t *testing.T) {
	_, _, idx := setupArticles(t)

	hits, total := collectIDs(t, idx, "apple OR banana", SearchOptions{Limit: 1})
	assert.Len(t, hits, 1)
	assert.Equal(t, 3, total)

	n, err := idx.TotalHits(context.Background(), "apple OR banana", SearchOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestLocalIndex_TitleBoostRanksFirst(t *testing.T) {
	// Given: "apple" in the title of 1 and only in the body of 2
	_, _, idx := setupArticles(t)

	// When: searching
	hits, _ := collectIDs(t, idx, "apple", SearchOptions{})

	// Then: the boosted title match ranks first
	assert.Equal(t, []string{"1", "2"}, ids(hits))
}

func TestLocalIndex_DeprecatedPagingOptions(t *testing.T) {
	_, _, idx := setupArticles(t)

	all, _ := collectIDs(t, idx, "apple OR banana", SearchOptions{})
	paged, total := collectIDs(t, idx, "apple OR banana", SearchOptions{FirstDoc: 1, NumDocs: 1})
	assert.Equal(t, 3, total)
	assert.Equal(t, ids(all)[1:2], ids(paged))
}

func TestLocalIndex_Highlight(t *testing.T) {
	_, _, idx := setupArticles(t)
	ctx := context.Background()

	excerpts, err := idx.Highlight(ctx, "1", "Article", "apple", HighlightOptions{Field: "title", PreTag: "[", PostTag: "]"})
	require.NoError(t, err)
	require.Len(t, excerpts, 1)
	assert.Contains(t, excerpts[0], "[apple]")

	_, err = idx.Highlight(ctx, "99", "Article", "apple", HighlightOptions{})
	assert.True(t, ferrors.IsNotFound(err))
}

func TestLocalIndex_HighlightCapsExcerptsAcrossFields(t *testing.T) {
	// Given: a record matching the query in two stored fields
	reg := newTestRegistry(t)
	notes := newMemModel(t, "Note", map[string]any{
		"title": map[string]any{"store": "yes"},
		"body":  map[string]any{"store": "yes"},
	})
	notes.put("1", map[string]any{"title": "apple pie", "body": "apple tart"})
	_, err := reg.Register(Config{Name: "notes"}, notes)
	require.NoError(t, err)
	idx, err := reg.Index("Note")
	require.NoError(t, err)
	ctx := context.Background()

	// When: asking for a single excerpt
	one, err := idx.Highlight(ctx, "1", "Note", "apple", HighlightOptions{NumExcerpts: 1})
	require.NoError(t, err)

	// Then: only one excerpt comes back in total
	assert.Len(t, one, 1)
	assert.Contains(t, one[0], "<em>apple</em>")

	// When: leaving the count at its default
	def, err := idx.Highlight(ctx, "1", "Note", "apple", HighlightOptions{})
	require.NoError(t, err)

	// Then: both fields contribute up to the default cap
	assert.Len(t, def, engine.DefaultNumExcerpts)
}

func TestLocalIndex_RebuildSwapsVersion(t *testing.T) {
	// Given: a served index
	_, articles, idx := setupArticles(t)
	ctx := context.Background()
	require.NoError(t, idx.EnsureReady(ctx))
	oldDir := idx.Definition().IndexDir()

	// When: the data changes and the index is rebuilt
	articles.put("4", map[string]any{"title": "cherry crumble", "body": "tart cherries"})
	newDir, err := idx.RebuildIndex(ctx, nil)
	require.NoError(t, err)

	// Then: a new version is active and sees the new record
	assert.NotEqual(t, oldDir, newDir)
	assert.Equal(t, newDir, idx.Definition().IndexDir())
	_, total := collectIDs(t, idx, "cherry", SearchOptions{})
	assert.Equal(t, 1, total)

	// And: the old version is kept on disk
	versions, err := Versions(idx.Definition().BaseDir)
	require.NoError(t, err)
	assert.Equal(t, []string{oldDir, newDir}, versions)
}

func TestLocalIndex_RebuildIsAtomicAndExclusive(t *testing.T) {
	// Given: a served index and a rebuild blocked inside the data store walk
	_, articles, idx := setupArticles(t)
	ctx := context.Background()
	require.NoError(t, idx.EnsureReady(ctx))
	oldDir := idx.Definition().IndexDir()

	articles.put("4", map[string]any{"title": "cherry crumble", "body": "tart cherries"})
	gate := make(chan struct{})
	started := make(chan struct{})
	articles.gate, articles.started = gate, started

	var wg sync.WaitGroup
	var rebuildErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, rebuildErr = idx.RebuildIndex(ctx, nil)
	}()
	<-started

	// When: searching and rebuilding again while it runs
	_, total := collectIDs(t, idx, "apple OR banana OR cherry", SearchOptions{})
	_, secondErr := idx.RebuildIndex(ctx, nil)
	st, err := idx.Status(ctx)
	require.NoError(t, err)

	// Then: the search sees the old version only and the second rebuild fails fast
	assert.Equal(t, 3, total)
	assert.True(t, ferrors.IsRebuildInProgress(secondErr))
	assert.Equal(t, "rebuilding", st.State)
	assert.Equal(t, oldDir, idx.Definition().IndexDir())

	// When: the rebuild completes
	close(gate)
	wg.Wait()
	require.NoError(t, rebuildErr)

	// Then: the new version is served in full
	_, total = collectIDs(t, idx, "apple OR banana OR cherry", SearchOptions{})
	assert.Equal(t, 4, total)
}

func TestLocalIndex_SearchesRacingSwapNeverFail(t *testing.T) {
	// Given: a served index
	_, _, idx := setupArticles(t)
	ctx := context.Background()
	require.NoError(t, idx.EnsureReady(ctx))

	// When: searches run in a loop while the index is rebuilt repeatedly
	stop := make(chan struct{})
	errs := make(chan error, 4)
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				total, err := idx.FindIDByContents(ctx, "apple OR banana", SearchOptions{}, func(IDHit) bool { return true })
				if err != nil {
					errs <- err
					return
				}
				if total != 3 {
					errs <- fmt.Errorf("saw %d matches during swap", total)
					return
				}
			}
		}()
	}
	for i := 0; i < 5; i++ {
		_, err := idx.RebuildIndex(ctx, nil)
		require.NoError(t, err)
	}
	close(stop)
	wg.Wait()
	close(errs)

	// Then: every search saw a complete version
	for err := range errs {
		t.Errorf("search failed across swap: %v", err)
	}
}

func TestLocalIndex_RebuildLockedByAnotherProcess(t *testing.T) {
	_, _, idx := setupArticles(t)
	require.NoError(t, os.MkdirAll(idx.Definition().BaseDir, 0o755))

	other := newRebuildLock(idx.Definition().BaseDir)
	ok, err := other.TryLock()
	require.NoError(t, err)
	require.True(t, ok)
	defer other.Unlock()

	_, err = idx.RebuildIndex(context.Background(), nil)
	assert.True(t, ferrors.IsRebuildInProgress(err))
}

func TestLocalIndex_FailedRebuildKeepsServedVersion(t *testing.T) {
	// Given: a served index and a data store that starts failing
	_, articles, idx := setupArticles(t)
	ctx := context.Background()
	require.NoError(t, idx.EnsureReady(ctx))
	oldDir := idx.Definition().IndexDir()
	articles.failErr = errors.New("connection reset")

	// When: rebuilding
	_, err := idx.RebuildIndex(ctx, nil)

	// Then: the rebuild fails, no scratch directory remains, the old version is served
	require.Error(t, err)
	assert.True(t, ferrors.HasCode(err, ferrors.ErrCodeRebuildFailed))
	entries, err := os.ReadDir(idx.Definition().BaseDir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".rebuild-")
	}
	assert.Equal(t, oldDir, idx.Definition().IndexDir())
	assert.Equal(t, StateReady, idx.State())
	_, total := collectIDs(t, idx, "apple", SearchOptions{})
	assert.Equal(t, 2, total)
}

func TestLocalIndex_ProgressReported(t *testing.T) {
	var mu sync.Mutex
	var reports []Progress
	reg := newTestRegistry(t,
		WithRebuildBatchSize(2),
		WithProgress(func(p Progress) {
			mu.Lock()
			reports = append(reports, p)
			mu.Unlock()
		}))
	articles := newMemModel(t, "Article", articleFields)
	for _, id := range []string{"1", "2", "3"} {
		articles.put(id, map[string]any{"title": "t" + id, "body": "b"})
	}
	_, err := reg.Register(Config{Name: "articles"}, articles)
	require.NoError(t, err)
	idx, err := reg.Index("Article")
	require.NoError(t, err)

	require.NoError(t, idx.EnsureReady(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, reports, 2)
	assert.Equal(t, Progress{Index: "articles", Model: "Article", Done: 3, Total: 3}, reports[1])
}

func TestLocalIndex_ClosedRejectsOperations(t *testing.T) {
	_, _, idx := setupArticles(t)
	require.NoError(t, idx.Close())

	err := idx.EnsureReady(context.Background())
	assert.True(t, ferrors.HasCode(err, ferrors.ErrCodeIndexClosed))
}

func TestLocalIndex_InvalidateReopens(t *testing.T) {
	_, articles, idx := setupArticles(t)
	ctx := context.Background()
	require.NoError(t, idx.EnsureReady(ctx))

	idx.Invalidate()
	assert.Equal(t, StateUninitialized, idx.State())

	_, total := collectIDs(t, idx, "apple", SearchOptions{})
	assert.Equal(t, 2, total)
	assert.Equal(t, int32(1), articles.walks.Load(), "reopened the existing version")
}

func TestWatcher_RemovedDirectoryInvalidates(t *testing.T) {
	// Given: a watched, served index
	w, err := NewWatcher()
	require.NoError(t, err)
	reg := newTestRegistry(t, WithWatcher(w))
	articles := newMemModel(t, "Article", articleFields)
	articles.put("1", map[string]any{"title": "apple", "body": "x"})
	_, err = reg.Register(Config{Name: "articles"}, articles)
	require.NoError(t, err)
	idx, err := reg.Index("Article")
	require.NoError(t, err)
	local := idx.(*LocalIndex)
	require.NoError(t, local.EnsureReady(context.Background()))

	// When: the active directory is deleted behind the process's back
	require.NoError(t, os.RemoveAll(local.Definition().IndexDir()))

	// Then: the index is invalidated and the next search rebuilds
	require.Eventually(t, func() bool {
		return local.State() == StateUninitialized
	}, 5*time.Second, 20*time.Millisecond)
	_, total := collectIDs(t, local, "apple", SearchOptions{})
	assert.Equal(t, 1, total)
	assert.Equal(t, int32(2), articles.walks.Load())
}
