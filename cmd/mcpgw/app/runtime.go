package app

import (
	"context"
	"fmt"
	"time"

	"github.com/vikashloomba/mcp-progressive-gateway/pkg/configcache"
	"github.com/vikashloomba/mcp-progressive-gateway/pkg/mcpconfig"
	"github.com/vikashloomba/mcp-progressive-gateway/pkg/mcpmgr"
	"github.com/vikashloomba/mcp-progressive-gateway/pkg/telemetry"
)

const shutdownTimeout = 10 * time.Second

func (c *cli) newCache() *configcache.Cache {
	return configcache.New(configcache.Options{
		Dir:          c.v.GetString("cache-dir"),
		TTL:          c.v.GetDuration("cache-ttl"),
		DisableRead:  c.v.GetBool("no-cache"),
		DisableWrite: c.v.GetBool("cache-read-only"),
		Logger:       c.logger,
	})
}

// configStore is a Store together with the cache it was built on.
type configStore struct {
	*mcpconfig.Store
	cache *configcache.Cache
}

// close drops expired cache entries.
func (s *configStore) close() {
	if s.cache != nil {
		_ = s.cache.Close()
	}
}

// newStore builds the configuration store. A cache directory that cannot be
// created only disables persistence.
func (c *cli) newStore(metrics *telemetry.Metrics) (*configStore, error) {
	strategy := mcpconfig.MergeStrategy(c.v.GetString("merge-strategy"))
	if !strategy.Valid() {
		return nil, fmt.Errorf("invalid merge strategy %q", strategy)
	}
	cache := c.newCache()
	if err := cache.Init(); err != nil {
		c.logger.Warn("remote configuration cache disabled", "error", err)
		cache = nil
	}
	store := mcpconfig.NewStore(mcpconfig.Options{
		Path:          c.v.GetString("config"),
		RemoteURL:     c.v.GetString("remote-url"),
		MergeStrategy: strategy,
		EnvFile:       c.v.GetString("env-file"),
		Cache:         cache,
		Logger:        c.logger,
		Metrics:       metrics,
	})
	return &configStore{Store: store, cache: cache}, nil
}

// runtime is a loaded configuration plus the manager connected to it.
type runtime struct {
	store   *configStore
	manager *mcpmgr.Manager
}

func (c *cli) newRuntime(ctx context.Context, metrics *telemetry.Metrics) (*runtime, error) {
	store, err := c.newStore(metrics)
	if err != nil {
		return nil, err
	}
	if _, err := store.Resolve(ctx, false); err != nil {
		store.close()
		return nil, err
	}
	mgr := mcpmgr.NewManager(store, &mcpmgr.ManagerOptions{
		ClientName:     "mcpgw",
		ClientVersion:  Version,
		DefaultTimeout: c.v.GetDuration("timeout"),
		LogJSONRPC:     c.v.GetBool("log-jsonrpc"),
		Logger:         c.logger,
		Metrics:        metrics,
	})
	return &runtime{store: store, manager: mgr}, nil
}

// close shuts the manager down on a fresh context so that a cancelled
// command context still lets sessions close.
func (r *runtime) close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	_ = r.manager.Shutdown(ctx)
	r.store.close()
}
