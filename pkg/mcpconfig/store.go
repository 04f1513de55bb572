package mcpconfig

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/vikashloomba/mcp-progressive-gateway/pkg/configcache"
	"github.com/vikashloomba/mcp-progressive-gateway/pkg/mcperr"
	"github.com/vikashloomba/mcp-progressive-gateway/pkg/telemetry"
)

const (
	// DefaultFileName is the configuration file looked up when no path is given.
	DefaultFileName = "mcp-config.yaml"
	// DefaultTTL bounds how long a resolution is reused.
	DefaultTTL = 60 * time.Second

	defaultFetchAttempts = 3
	defaultFetchTimeout  = 15 * time.Second
	defaultLoadTimeout   = time.Minute
	defaultRetryInterval = 250 * time.Millisecond
)

// Options configure a Store.
type Options struct {
	// Path is the local configuration file. Defaults to DefaultFileName.
	Path string
	// RemoteURL adds a remote source on top of any remoteConfigs entries in
	// the local file.
	RemoteURL     string
	RemoteHeaders map[string]string
	// MergeStrategy applies to RemoteURL. Defaults to MergeLocalPriority.
	MergeStrategy MergeStrategy
	// EnvFile is an optional .env overlay for ${NAME} substitution. The
	// process environment takes precedence over it.
	EnvFile string
	// TTL of the in-memory memo. Defaults to DefaultTTL; negative disables it.
	TTL time.Duration
	// Cache persists remote documents. Nil means always fetch.
	Cache *configcache.Cache

	HTTPClient    *http.Client
	FetchAttempts uint
	FetchTimeout  time.Duration
	// RetryInterval is the initial backoff between remote fetch attempts.
	RetryInterval time.Duration
	LoadTimeout   time.Duration

	Logger  *slog.Logger
	Metrics *telemetry.Metrics
	Now     func() time.Time
	// LookupEnv replaces os.LookupEnv, mainly for tests.
	LookupEnv LookupFunc
}

// Store loads and memoizes the gateway configuration. It is safe for
// concurrent use; concurrent resolutions share a single load.
type Store struct {
	path          string
	remoteURL     string
	remoteHeaders map[string]string
	strategy      MergeStrategy
	envFile       string
	ttl           time.Duration
	cache         *configcache.Cache
	httpClient    *http.Client
	fetchAttempts uint
	fetchTimeout  time.Duration
	retryInterval time.Duration
	loadTimeout   time.Duration
	logger        *slog.Logger
	metrics       *telemetry.Metrics
	now           func() time.Time
	lookupEnv     LookupFunc

	group singleflight.Group

	mu   sync.Mutex
	memo *Resolved
}

// NewStore applies defaults to opts and returns a Store. Nothing is read
// until the first Resolve.
func NewStore(opts Options) *Store {
	s := &Store{
		path:          opts.Path,
		remoteURL:     opts.RemoteURL,
		remoteHeaders: opts.RemoteHeaders,
		strategy:      opts.MergeStrategy,
		envFile:       opts.EnvFile,
		ttl:           opts.TTL,
		cache:         opts.Cache,
		httpClient:    opts.HTTPClient,
		fetchAttempts: opts.FetchAttempts,
		fetchTimeout:  opts.FetchTimeout,
		retryInterval: opts.RetryInterval,
		loadTimeout:   opts.LoadTimeout,
		logger:        opts.Logger,
		metrics:       opts.Metrics,
		now:           opts.Now,
		lookupEnv:     opts.LookupEnv,
	}
	if s.path == "" {
		s.path = DefaultFileName
	}
	if !s.strategy.Valid() {
		s.strategy = MergeLocalPriority
	}
	if s.ttl == 0 {
		s.ttl = DefaultTTL
	}
	if s.httpClient == nil {
		s.httpClient = http.DefaultClient
	}
	if s.fetchAttempts == 0 {
		s.fetchAttempts = defaultFetchAttempts
	}
	if s.fetchTimeout <= 0 {
		s.fetchTimeout = defaultFetchTimeout
	}
	if s.retryInterval <= 0 {
		s.retryInterval = defaultRetryInterval
	}
	if s.loadTimeout <= 0 {
		s.loadTimeout = defaultLoadTimeout
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.lookupEnv == nil {
		s.lookupEnv = defaultLookup
	}
	return s
}

// Path returns the local configuration path.
func (s *Store) Path() string { return s.path }

// Invalidate drops the memoized configuration.
func (s *Store) Invalidate() {
	s.mu.Lock()
	s.memo = nil
	s.mu.Unlock()
}

// Resolve returns the current configuration. A memoized result younger than
// the TTL is returned unless forceReload is set. Concurrent callers wait for
// the same load; a caller whose ctx ends stops waiting but the load finishes
// for the others.
func (s *Store) Resolve(ctx context.Context, forceReload bool) (*Resolved, error) {
	if !forceReload {
		if r := s.fresh(); r != nil {
			s.metrics.ConfigResolution(telemetry.ResolveMemoHit)
			return r, nil
		}
	}

	ch := s.group.DoChan("resolve", func() (any, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.loadTimeout)
		defer cancel()
		r, err := s.load(loadCtx)
		if err != nil {
			s.metrics.ConfigResolution(telemetry.ResolveFailed)
			return nil, err
		}
		s.metrics.ConfigResolution(telemetry.ResolveLoaded)
		s.mu.Lock()
		s.memo = r
		s.mu.Unlock()
		return r, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Resolved), nil
	}
}

func (s *Store) fresh() *Resolved {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.memo == nil || s.ttl < 0 {
		return nil
	}
	if s.now().Sub(s.memo.FetchedAt) >= s.ttl {
		return nil
	}
	return s.memo
}

func (s *Store) load(ctx context.Context) (*Resolved, error) {
	lookup := envLookup(s.lookupEnv, readOverlay(s.envFile, s.logger))

	local, err := s.readLocal()
	if err != nil {
		return nil, err
	}

	var remotes []RemoteSource
	if local != nil {
		remotes = append(remotes, local.RemoteConfigs...)
	}
	if s.remoteURL != "" {
		remotes = append(remotes, RemoteSource{URL: s.remoteURL, Headers: s.remoteHeaders, MergeStrategy: s.strategy})
	}
	if local == nil && len(remotes) == 0 {
		return nil, mcperr.New(mcperr.KindConfigNotFound, "configuration file %s not found", s.path)
	}

	servers := map[string]rawServer{}
	var sources []string
	if local != nil {
		servers = local.MCPServers
		sources = append(sources, s.path)
	}

	var remoteErrs []error
	for _, src := range remotes {
		doc, err := s.loadRemote(ctx, src, lookup)
		if err != nil {
			s.logger.Warn("skipping remote configuration", "url", configcache.RedactURL(src.URL), "error", err)
			remoteErrs = append(remoteErrs, err)
			continue
		}
		strategy := src.MergeStrategy
		if !strategy.Valid() {
			strategy = MergeLocalPriority
		}
		merged, err := mergeServers(servers, doc.MCPServers, strategy)
		if err != nil {
			s.logger.Warn("skipping remote configuration", "url", configcache.RedactURL(src.URL), "error", err)
			remoteErrs = append(remoteErrs, err)
			continue
		}
		servers = merged
		sources = append(sources, configcache.RedactURL(src.URL))
	}
	if len(sources) == 0 {
		return nil, mcperr.Wrap(mcperr.KindConfigNotFound, errors.Join(remoteErrs...),
			"configuration file %s not found and no remote configuration could be loaded", s.path)
	}

	resolved := &Resolved{
		Servers:   make(map[string]ServerSpec, len(servers)),
		FetchedAt: s.now(),
		Sources:   sources,
	}
	for name, raw := range servers {
		spec, err := normalizeServer(name, raw, lookup)
		if err != nil {
			return nil, err
		}
		resolved.Servers[name] = spec
	}
	s.logger.Debug("configuration resolved", "servers", len(resolved.Servers), "sources", sources)
	return resolved, nil
}

func (s *Store) readLocal() (*document, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, mcperr.Wrap(mcperr.KindConfigNotFound, err, "read %s", s.path)
	}
	return parseDocument(data, FormatForPath(s.path), s.path)
}

func (s *Store) loadRemote(ctx context.Context, src RemoteSource, lookup LookupFunc) (*document, error) {
	data, err := s.fetchRemote(ctx, src, lookup)
	if err != nil {
		return nil, err
	}
	doc, err := parseDocument(data, FormatJSON, configcache.RedactURL(src.URL))
	if err != nil {
		if s.cache != nil {
			_ = s.cache.Clear(src.URL)
		}
		return nil, err
	}
	return doc, nil
}
