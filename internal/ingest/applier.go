package ingest

import (
	"context"
	"log/slog"

	ferrors "github.com/Aman-CERP/ferretbind/internal/errors"
	"github.com/Aman-CERP/ferretbind/internal/index"
	"github.com/Aman-CERP/ferretbind/internal/metrics"
)

// Applier applies events to the registry's indexes.
type Applier struct {
	registry *index.Registry
	metrics  *metrics.Metrics
	retry    ferrors.RetryConfig
	logger   *slog.Logger
}

// NewApplier creates an applier over reg. m may be nil.
func NewApplier(reg *index.Registry, m *metrics.Metrics) *Applier {
	return &Applier{
		registry: reg,
		metrics:  m,
		retry:    ferrors.DefaultRetryConfig(),
		logger:   slog.Default().With("component", "ingest"),
	}
}

// Apply indexes or removes the event's record. An add whose record no
// longer exists removes it instead, so the index follows the data store.
func (a *Applier) Apply(ctx context.Context, e Event) error {
	b, err := a.registry.Bind(e.Model)
	if err != nil {
		return err
	}

	err = ferrors.Retry(ctx, a.retry, func() error {
		if e.Action == ActionRemove {
			return b.Remove(ctx, e.ID)
		}
		recs, err := b.Model().FindByIDs(ctx, []string{e.ID}, nil)
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			a.logger.Debug("ingest_record_gone", slog.String("model", e.Model), slog.String("id", e.ID))
			return b.Remove(ctx, e.ID)
		}
		return b.Add(ctx, recs[0])
	})
	a.metrics.IngestEvent(string(e.Action), err)
	return err
}

// Handle returns a MessageHandler applying decoded events. Malformed
// events and events for unbound models are logged and dropped so they do
// not block the partition; other failures leave the message uncommitted.
func (a *Applier) Handle() MessageHandler {
	return func(ctx context.Context, key, value []byte) error {
		e, err := Decode(value)
		if err != nil {
			a.logger.Warn("ingest_event_dropped", slog.String("key", string(key)), slog.String("error", err.Error()))
			a.metrics.IngestEvent("invalid", err)
			return nil
		}

		err = a.Apply(ctx, e)
		if ferrors.HasCode(err, ferrors.ErrCodeUnknownModel) {
			a.logger.Warn("ingest_event_dropped", slog.String("key", string(key)), slog.String("error", err.Error()))
			return nil
		}
		if err != nil {
			return err
		}
		a.logger.Debug("ingest_event_applied",
			slog.String("action", string(e.Action)),
			slog.String("model", e.Model),
			slog.String("id", e.ID))
		return nil
	}
}
