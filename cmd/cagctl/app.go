package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/zero-day-ai/cag"
	"github.com/zero-day-ai/cag/cache"
	"github.com/zero-day-ai/cag/config"
	"github.com/zero-day-ai/cag/persist"
	"github.com/zero-day-ai/cag/snapshot"
)

// defaultDataDir is used when neither --data-dir nor storage.path is set.
const defaultDataDir = "cag-data"

// app carries the flags and the resolved configuration shared by all
// subcommands.
type app struct {
	configPath string
	dataDir    string
	verbose    bool

	cfg    *config.Config
	logger *slog.Logger
}

// load resolves the configuration and the logger. It runs before every
// subcommand.
func (a *app) load(cmd *cobra.Command) error {
	level := slog.LevelWarn
	if a.verbose {
		level = slog.LevelDebug
	}
	a.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	cfg := config.Default()
	if a.configPath != "" {
		loaded, err := config.Load(a.configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if a.dataDir != "" {
		cfg.Storage.Path = a.dataDir
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = defaultDataDir
	}
	cfg.Storage.Persistent = true
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	a.cfg = cfg
	return nil
}

// openStore opens and connects the persistent store.
func (a *app) openStore(ctx context.Context) (*persist.Store, error) {
	if err := os.MkdirAll(a.cfg.Storage.Path, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	backend := persist.OpenFileBackend
	if a.cfg.Storage.GetBackend() == "badger" {
		backend = persist.OpenBadgerBackend
	}
	store, err := persist.Open(a.cfg.Storage.Path,
		persist.WithLogger(a.logger.With("component", "persist")),
		persist.WithBackend(backend),
		persist.WithAutoSaveInterval(a.cfg.Storage.GetAutoSaveInterval()),
		persist.WithSaveThreshold(a.cfg.Storage.GetSaveThreshold()),
	)
	if err != nil {
		return nil, err
	}
	if err := store.Connect(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// openCache builds the configured query cache. The returned closer is never
// nil.
func (a *app) openCache() (cache.Cache, io.Closer, error) {
	cc := a.cfg.Cache
	if cc.Backend != "redis" {
		return cache.NewMemory(cc.GetCapacity()), nopCloser{}, nil
	}
	r, err := cache.NewRedis(cache.RedisOptions{
		URL:       cc.RedisURL,
		KeyPrefix: cc.GetKeyPrefix(),
		Capacity:  cc.GetCapacity(),
	})
	if err != nil {
		return nil, nil, err
	}
	return r, r, nil
}

// newManager builds a CAG manager over the store with the configured limits.
func (a *app) newManager(store cag.Store, qc cache.Cache) (*cag.Manager, error) {
	cc := a.cfg.Context
	return cag.New(store,
		cag.WithLogger(a.logger.With("component", "cag")),
		cag.WithCache(qc),
		cag.WithContextLimits(cc.MaxDepth, cc.MaxNodes, cc.MaxContextNodes),
		cag.WithSeedLimit(cc.SeedLimit),
		cag.WithSeedProperties(cc.SeedProperties...),
	)
}

// newSnapshots builds the snapshot manager for the store.
func (a *app) newSnapshots(store snapshot.Source) (*snapshot.Manager, error) {
	sc := a.cfg.Snapshots
	return snapshot.NewManager(sc.GetDir(a.cfg.Storage.Path), store,
		snapshot.WithMaxSnapshots(sc.GetMaxSnapshots()),
		snapshot.WithCompression(sc.GetCompress()),
		snapshot.WithLogger(a.logger.With("component", "snapshot")),
	)
}

// withStore opens the store, runs fn and closes the store, joining any
// close error with the result.
func (a *app) withStore(ctx context.Context, fn func(*persist.Store) error) (err error) {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, store.Close(context.WithoutCancel(ctx)))
	}()
	return fn(store)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
