// Package api defines the sub-APIs installed into every rendering.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/url"
	"time"

	"kumascript/internal/common/errors"
	khttp "kumascript/internal/common/http"
	"kumascript/internal/execution"
)

// DefaultResourceTTL is how long fetchJSONResource caches a response when
// the caller gives no TTL.
const DefaultResourceTTL = time.Hour

// Kuma returns the kind of the platform utilities API. fetcher serves
// fetchJSONResource; with a nil fetcher that member always fails.
func Kuma(fetcher *khttp.Fetcher) execution.Kind {
	return func(ec *execution.Context) execution.SubAPI {
		k := &kumaAPI{fetcher: fetcher}
		k.BaseAPI = execution.NewBaseAPI(ec, map[string]interface{}{
			"htmlEscape":        html.EscapeString,
			"inspect":           inspect,
			"url":               parseURL,
			"fetchJSONResource": k.fetchJSONResource,
			"env":               ec.Env(),
		})
		return k
	}
}

type kumaAPI struct {
	*execution.BaseAPI
	fetcher *khttp.Fetcher
}

func inspect(value interface{}) string {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Sprintf("%#v", value)
	}
	return string(data)
}

func parseURL(raw string) map[string]interface{} {
	u, err := url.Parse(raw)
	if err != nil {
		return map[string]interface{}{}
	}

	query := make(map[string]interface{}, len(u.Query()))
	for k, v := range u.Query() {
		if len(v) == 1 {
			query[k] = v[0]
		} else {
			query[k] = v
		}
	}

	search := ""
	if u.RawQuery != "" {
		search = "?" + u.RawQuery
	}
	hash := ""
	if u.Fragment != "" {
		hash = "#" + u.Fragment
	}
	protocol := ""
	if u.Scheme != "" {
		protocol = u.Scheme + ":"
	}

	return map[string]interface{}{
		"href":     u.String(),
		"protocol": protocol,
		"host":     u.Host,
		"hostname": u.Hostname(),
		"port":     u.Port(),
		"pathname": u.Path,
		"search":   search,
		"hash":     hash,
		"query":    query,
	}
}

// fetchJSONResource fetches and decodes a JSON document through the shared
// cache. ttl is in seconds.
func (k *kumaAPI) fetchJSONResource(rawURL string, ttl ...float64) (interface{}, error) {
	if k.fetcher == nil {
		return nil, errors.ConfigError("no HTTP fetcher configured")
	}

	expiry := DefaultResourceTTL
	if len(ttl) > 0 && ttl[0] > 0 {
		expiry = time.Duration(ttl[0] * float64(time.Second))
	}

	ec := k.Context()
	return ec.CacheFn(ec.Ctx(), "kuma:json:"+rawURL, expiry, func(ctx context.Context) (interface{}, error) {
		resp, err := k.fetcher.Get(ctx, rawURL, nil)
		if err != nil {
			return nil, err
		}
		var doc interface{}
		if err := json.Unmarshal(resp.Body, &doc); err != nil {
			return nil, errors.ValidationError(fmt.Sprintf("%s did not return JSON: %v", rawURL, err))
		}
		return doc, nil
	})
}
