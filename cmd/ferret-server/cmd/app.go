package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/Aman-CERP/ferretbind/internal/cache"
	"github.com/Aman-CERP/ferretbind/internal/config"
	"github.com/Aman-CERP/ferretbind/internal/daemon"
	"github.com/Aman-CERP/ferretbind/internal/datastore"
	"github.com/Aman-CERP/ferretbind/internal/index"
	"github.com/Aman-CERP/ferretbind/internal/metrics"
	"github.com/Aman-CERP/ferretbind/internal/ui"
)

// app holds the components built from one configuration.
type app struct {
	cfg      *config.Config
	db       *datastore.DB
	metrics  *metrics.Metrics
	registry *index.Registry
}

type appOptions struct {
	// serve builds every index locally: this process is the index server.
	serve    bool
	progress index.ProgressFunc
}

// openApp connects the data store and registers every configured index.
func openApp(ctx context.Context, cfg *config.Config, opts appOptions) (*app, error) {
	db, err := datastore.Open(ctx, cfg.Database.Driver, cfg.DatabaseDSN())
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	regOpts := []index.Option{
		index.WithMetrics(m),
		index.WithRemoteFactory(daemon.RemoteFactory(daemonConfig(cfg), m)),
	}
	if opts.progress != nil {
		regOpts = append(regOpts, index.WithProgress(opts.progress))
	}
	if opts.serve {
		w, err := index.NewWatcher()
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		regOpts = append(regOpts, index.WithWatcher(w))
	}
	reg, err := index.NewRegistry(cfg.IndexDir(), regOpts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	a := &app{cfg: cfg, db: db, metrics: m, registry: reg}
	for _, ic := range cfg.Indexes {
		if err := a.register(ic, opts.serve); err != nil {
			_ = a.Close()
			return nil, err
		}
	}
	return a, nil
}

func (a *app) register(ic config.IndexConfig, serve bool) error {
	models := make([]index.Model, 0, len(ic.Models))
	for _, mc := range ic.Models {
		cfgs, err := mc.FieldConfigs()
		if err != nil {
			return err
		}
		pk := mc.PrimaryKey
		if pk == "" {
			pk = "id"
		}
		model, err := datastore.NewModel(a.db, mc.Name, mc.Table, pk, cfgs)
		if err != nil {
			return err
		}
		models = append(models, model)
	}

	remote := remoteAddress(a.cfg, ic)
	if serve {
		remote = ""
	}
	_, err := a.registry.Register(index.Config{
		Name:                   ic.Name,
		Remote:                 remote,
		RaiseOnConnectionError: ic.RaiseOnConnectionError,
		Lazy:                   ic.Lazy,
		LazyFields:             ic.LazyFields,
		DefaultSearchFields:    ic.DefaultSearchFields,
		StoreClassName:         ic.StoreClassName,
	}, models...)
	return err
}

// Close closes the registry, then the data store.
func (a *app) Close() error {
	err := a.registry.Close()
	if cerr := a.db.Close(); err == nil {
		err = cerr
	}
	return err
}

// remoteAddress resolves an index's remote setting. "true" means the
// configured server endpoint.
func remoteAddress(cfg *config.Config, ic config.IndexConfig) string {
	switch strings.ToLower(strings.TrimSpace(ic.Remote)) {
	case "", "false", "no":
		return ""
	case "true", "yes":
		return cfg.Address()
	default:
		return ic.Remote
	}
}

func daemonConfig(cfg *config.Config) daemon.Config {
	dc := daemon.DefaultConfig()
	dc.Address = cfg.Address()
	dc.PIDPath = cfg.PIDPath()
	if codec, err := daemon.ParseCodec(strings.ToLower(cfg.Codec)); err == nil {
		dc.Codec = codec
	}
	dc.Compress = cfg.Compress
	dc.Timeout = cfg.Timeout
	dc.RebuildTimeout = cfg.RebuildTimeout
	return dc
}

// openCache builds the result cache. Redis is used when configured and
// reachable; otherwise results stay in process memory.
func openCache(ctx context.Context, cfg *config.Config, m *metrics.Metrics) *cache.Cache {
	if cfg.Cache.Size <= 0 && cfg.Cache.RedisAddr == "" {
		return nil
	}
	ttl := cfg.Cache.TTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if cfg.Cache.RedisAddr != "" {
		store, err := cache.NewRedisStore(ctx, cfg.Cache.RedisAddr, ttl)
		if err == nil {
			slog.Info("result_cache", slog.String("store", "redis"), slog.String("addr", cfg.Cache.RedisAddr))
			return cache.New(store, cache.WithMetrics(m))
		}
		slog.Warn("redis_unavailable_using_memory_cache", slog.String("error", err.Error()))
	}
	size := cfg.Cache.Size
	if size <= 0 {
		size = config.NewConfig().Cache.Size
	}
	slog.Info("result_cache", slog.String("store", "memory"), slog.Int("size", size))
	return cache.New(cache.NewMemoryStore(size, ttl), cache.WithMetrics(m))
}

// printer writes styled status lines.
type printer struct {
	out    io.Writer
	styles ui.Styles
}

func newPrinter(out io.Writer) *printer {
	return &printer{out: out, styles: ui.GetStyles(ui.DetectNoColor() || !ui.IsTTY(out))}
}

func (p *printer) Success(format string, args ...any) {
	fmt.Fprintln(p.out, p.styles.Success.Render("OK")+" "+fmt.Sprintf(format, args...))
}

func (p *printer) Warning(format string, args ...any) {
	fmt.Fprintln(p.out, p.styles.Warning.Render("WARN")+" "+fmt.Sprintf(format, args...))
}

func (p *printer) Info(format string, args ...any) {
	fmt.Fprintln(p.out, p.styles.Dim.Render("  ")+fmt.Sprintf(format, args...))
}
