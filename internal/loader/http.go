package loader

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"kumascript/internal/cache"
	"kumascript/internal/common/errors"
	khttp "kumascript/internal/common/http"
	"kumascript/internal/common/logging"
	"kumascript/internal/script"
)

// KindHeader names the response header that declares the macro language
const KindHeader = "X-Template-Kind"

// HTTP fetches macro source from <base>/<name>. Fetched source is kept in the
// shared cache so other instances skip the request.
type HTTP struct {
	base    *url.URL
	fetcher *khttp.Fetcher
	cache   cache.Client
	ttl     time.Duration
}

// NewHTTP creates a store rooted at baseURL. A nil cache disables source
// caching.
func NewHTTP(baseURL string, fetcher *khttp.Fetcher, sourceCache cache.Client, ttl time.Duration) (*HTTP, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, errors.ConfigError(fmt.Sprintf("invalid template URL %q", baseURL))
	}
	if fetcher == nil {
		fetcher = khttp.NewFetcher(nil, nil)
	}
	return &HTTP{base: base, fetcher: fetcher, cache: sourceCache, ttl: ttl}, nil
}

func cacheKey(key string) string {
	return "template:" + key
}

// Fetch implements Store
func (h *HTTP) Fetch(ctx context.Context, name string) (Source, error) {
	key, err := normalize(name)
	if err != nil {
		return Source{}, err
	}

	if h.cache != nil {
		v, ok, err := h.cache.Get(ctx, cacheKey(key))
		if err != nil {
			logging.Warn("Template source cache lookup failed", logging.String("template", name), logging.Err(err))
		}
		if ok {
			if src, ok := sourceFromCache(v); ok {
				src.Name = name
				return src, nil
			}
		}
	}

	target := h.base.JoinPath(key)
	resp, err := h.fetcher.Get(ctx, target.String(), http.Header{"Accept": {"text/plain, application/javascript"}})
	if err != nil {
		if errors.IsType(err, errors.ErrTypeNotFound) {
			return Source{}, errors.NotFoundError(fmt.Sprintf("template %q", name))
		}
		return Source{}, err
	}

	kind, err := responseKind(resp.Header.Get(KindHeader), key)
	if err != nil {
		return Source{}, err
	}
	src := Source{Name: name, Kind: kind, Text: string(resp.Body)}

	if h.cache != nil {
		if err := h.cache.Set(ctx, cacheKey(key), src, h.ttl); err != nil {
			logging.Warn("Template source cache store failed", logging.String("template", name), logging.Err(err))
		}
	}

	logging.WithFields(
		logging.String("template", name),
		logging.Duration("duration", resp.Duration),
	).Debug("Fetched template source")
	return src, nil
}

// responseKind prefers the declared kind, then the name suffix, then js.
func responseKind(declared, key string) (script.Kind, error) {
	if declared != "" {
		return script.ParseKind(declared)
	}
	if kind, ok := script.KindFromPath(key); ok {
		return kind, nil
	}
	return script.KindJS, nil
}

// sourceFromCache accepts both the in-process value and its JSON round trip
func sourceFromCache(v interface{}) (Source, bool) {
	switch s := v.(type) {
	case Source:
		return s, true
	case map[string]interface{}:
		kind, _ := s["kind"].(string)
		text, ok := s["text"].(string)
		if !ok {
			return Source{}, false
		}
		parsed, err := script.ParseKind(kind)
		if err != nil {
			return Source{}, false
		}
		return Source{Kind: parsed, Text: text}, true
	default:
		return Source{}, false
	}
}
