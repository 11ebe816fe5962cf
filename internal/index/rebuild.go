package index

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/Aman-CERP/ferretbind/internal/engine"
	ferrors "github.com/Aman-CERP/ferretbind/internal/errors"
	"github.com/Aman-CERP/ferretbind/internal/fields"
)

// RebuildIndex builds a fresh version of the index from the data store
// and swaps it in. Searches keep using the previous version until the
// swap. A failed rebuild removes its scratch directory and leaves the
// served version untouched.
//
// Only one rebuild per index runs at a time, in this process (atomic
// flag) and across processes (.rebuild.lock). A second concurrent
// rebuild fails fast with a rebuild-in-progress error.
func (l *LocalIndex) RebuildIndex(ctx context.Context, models []string) (string, error) {
	if !l.rebuilding.CompareAndSwap(false, true) {
		return "", ferrors.RebuildInProgressError(l.def.Name)
	}
	defer l.rebuilding.Store(false)

	if l.State() == StateClosed {
		return "", ferrors.New(ferrors.ErrCodeIndexClosed, "index "+l.def.Name+" is closed", nil)
	}

	lock := newRebuildLock(l.def.BaseDir)
	ok, err := lock.TryLock()
	if err != nil {
		return "", ferrors.StorageError("cannot lock index "+l.def.Name, err)
	}
	if !ok {
		return "", ferrors.RebuildInProgressError(l.def.Name)
	}
	defer func() { _ = lock.Unlock() }()

	start := time.Now()
	dir, docs, err := l.rebuild(ctx, models)
	l.metrics.ObserveRebuild(l.def.Name, time.Since(start), docs, err)
	if err != nil {
		slog.Error("index_rebuild_failed",
			slog.String("index", l.def.Name),
			slog.String("error", err.Error()))
		return "", err
	}

	slog.Info("index_rebuilt",
		slog.String("index", l.def.Name),
		slog.String("dir", dir),
		slog.Int("docs", docs),
		slog.Duration("took", time.Since(start)))
	return dir, nil
}

func (l *LocalIndex) rebuild(ctx context.Context, models []string) (string, int, error) {
	if len(models) == 0 {
		models = l.def.Models()
	}
	if len(models) == 0 {
		return "", 0, ferrors.ConfigError("index "+l.def.Name+" has no models", nil)
	}

	set := fields.NewSet()
	bound := make([]Model, 0, len(models))
	for _, name := range models {
		m, err := l.def.Model(name)
		if err != nil {
			return "", 0, err
		}
		set.Register(name, m.Fields())
		bound = append(bound, m)
	}
	if pinned := l.def.Fields().DefaultSearchFields(); len(pinned) > 0 {
		set.Pin(pinned)
	}

	scratch := filepath.Join(l.def.BaseDir, fmt.Sprintf(".rebuild-%d", time.Now().UnixNano()))
	eng, err := engine.Create(scratch, set.Schema(l.def.StoreClassName))
	if err != nil {
		return "", 0, err
	}
	abandon := func() {
		_ = eng.Close()
		if err := os.RemoveAll(scratch); err != nil {
			slog.Warn("rebuild_scratch_cleanup_failed", slog.String("dir", scratch), slog.String("error", err.Error()))
		}
	}

	l.setRebuilding()
	docs, err := l.load(ctx, eng, set, bound)
	if err != nil {
		abandon()
		l.restoreState()
		return "", 0, ferrors.Wrap(ferrors.ErrCodeRebuildFailed, err)
	}
	if err := eng.Optimize(); err != nil {
		abandon()
		l.restoreState()
		return "", 0, err
	}
	if err := eng.Close(); err != nil {
		abandon()
		l.restoreState()
		return "", 0, ferrors.StorageError("cannot close rebuilt index", err)
	}

	final := nextVersionDir(l.def.BaseDir, time.Now())
	if err := os.Rename(scratch, final); err != nil {
		_ = os.RemoveAll(scratch)
		l.restoreState()
		return "", 0, ferrors.StorageError("cannot move rebuilt index into place", err).WithDetail("dir", final)
	}

	opened, err := engine.Open(final)
	if err != nil {
		l.restoreState()
		return "", 0, err
	}
	l.swap(opened, final)
	return final, docs, nil
}

// load streams every record of the models into eng.
func (l *LocalIndex) load(ctx context.Context, eng *engine.Engine, set *fields.Set, models []Model) (int, error) {
	total := 0
	if l.progress != nil {
		for _, m := range models {
			n, err := m.Count(ctx)
			if err != nil {
				return 0, err
			}
			total += n
		}
	}

	done := 0
	for _, m := range models {
		cfgs := mergedFields(set, m)
		name := m.Name()
		err := m.EachBatch(ctx, l.batchSize, func(recs []Record) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			docs := make([]engine.Document, 0, len(recs))
			for _, rec := range recs {
				docs = append(docs, fields.ToDocument(cfgs, rec.ID(), name, rec))
			}
			if err := eng.AddBatch(docs); err != nil {
				return err
			}
			done += len(docs)
			l.metrics.AddDocs(l.def.Name, len(docs))
			if l.progress != nil {
				l.progress(Progress{Index: l.def.Name, Model: name, Done: done, Total: total})
			}
			return nil
		})
		if err != nil {
			return done, err
		}
	}
	return done, nil
}

func (l *LocalIndex) setRebuilding() {
	l.mu.Lock()
	if l.state != StateClosed {
		l.state = StateRebuilding
	}
	l.mu.Unlock()
}

// restoreState returns to Ready when an engine is still served.
func (l *LocalIndex) restoreState() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == StateClosed {
		return
	}
	if l.eng != nil {
		l.state = StateReady
	} else {
		l.state = StateUninitialized
	}
}

// Prune removes old version directories, keeping the newest keep and
// the active one.
func (l *LocalIndex) Prune(keep int) ([]string, error) {
	removed, err := Prune(l.def.BaseDir, l.def.IndexDir(), keep)
	for _, dir := range removed {
		slog.Info("index_version_pruned", slog.String("index", l.def.Name), slog.String("dir", dir))
	}
	return removed, err
}
