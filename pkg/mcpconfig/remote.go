package mcpconfig

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/vikashloomba/mcp-progressive-gateway/pkg/configcache"
	"github.com/vikashloomba/mcp-progressive-gateway/pkg/mcperr"
	"github.com/vikashloomba/mcp-progressive-gateway/pkg/telemetry"
)

const maxRemoteBytes = 4 << 20

// fetchRemote returns the remote document as JSON, from the cache when
// possible. Placeholders are not expanded; the cache holds what the server
// sent, minus formatting.
func (s *Store) fetchRemote(ctx context.Context, src RemoteSource, lookup LookupFunc) ([]byte, error) {
	if s.cache != nil {
		if data, ok := s.cache.Get(src.URL); ok {
			s.metrics.RemoteFetch("cache", telemetry.OutcomeSuccess)
			s.logger.Debug("remote config cache hit", "url", configcache.RedactURL(src.URL))
			return data, nil
		}
	}

	u, err := url.Parse(src.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, mcperr.New(mcperr.KindConfigParse, "remote config url %q must be an absolute http(s) url", configcache.RedactURL(src.URL))
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = s.retryInterval
	expBackoff.MaxInterval = 20 * s.retryInterval
	expBackoff.Reset()

	attempt := 0
	operation := func() ([]byte, error) {
		attempt++
		return s.fetchOnce(ctx, src, lookup)
	}
	body, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxTries(s.fetchAttempts),
		backoff.WithNotify(func(err error, wait time.Duration) {
			s.logger.Debug("retrying remote config fetch", "url", configcache.RedactURL(src.URL), "attempt", attempt, "wait", wait, "error", err)
		}),
	)
	if err != nil {
		s.metrics.RemoteFetch("network", telemetry.OutcomeFailure)
		return nil, mcperr.From(err, mcperr.KindConfigParse)
	}
	s.metrics.RemoteFetch("network", telemetry.OutcomeSuccess)

	generic, err := decodeGeneric(body, formatForURL(u))
	if err != nil {
		return nil, mcperr.Wrap(mcperr.KindConfigParse, err, "parse remote config %s", configcache.RedactURL(src.URL))
	}
	encoded, err := json.Marshal(generic)
	if err != nil {
		return nil, mcperr.Wrap(mcperr.KindConfigParse, err, "re-encode remote config %s", configcache.RedactURL(src.URL))
	}
	if s.cache != nil {
		if err := s.cache.Set(src.URL, encoded); err != nil {
			s.logger.Warn("could not cache remote config", "url", configcache.RedactURL(src.URL), "error", err)
		}
	}
	return encoded, nil
}

func (s *Store) fetchOnce(ctx context.Context, src RemoteSource, lookup LookupFunc) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, src.URL, nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	for k, v := range src.Headers {
		req.Header.Set(k, Expand(v, lookup))
	}
	req.Header.Set("Accept", "application/json, application/yaml;q=0.9, */*;q=0.5")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("remote config %s: %s", configcache.RedactURL(src.URL), resp.Status)
	case resp.StatusCode >= 300:
		return nil, backoff.Permanent(mcperr.New(mcperr.KindConfigNotFound, "remote config %s: %s", configcache.RedactURL(src.URL), resp.Status))
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRemoteBytes+1))
	if err != nil {
		return nil, err
	}
	if len(body) > maxRemoteBytes {
		return nil, backoff.Permanent(mcperr.New(mcperr.KindConfigParse, "remote config %s exceeds %d bytes", configcache.RedactURL(src.URL), maxRemoteBytes))
	}
	return body, nil
}

func formatForURL(u *url.URL) Format {
	return FormatForPath(path.Base(u.Path))
}
