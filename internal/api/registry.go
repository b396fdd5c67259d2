package api

import (
	"sort"

	khttp "kumascript/internal/common/http"
	"kumascript/internal/execution"
)

// Defaults returns the sub-APIs every rendering starts with, keyed by the
// namespace they are installed under.
func Defaults(fetcher *khttp.Fetcher) map[string]execution.Kind {
	return map[string]execution.Kind{
		"kuma":   Kuma(fetcher),
		"page":   Page,
		"string": String,
	}
}

// Install installs every kind on ec in name order.
func Install(ec *execution.Context, kinds map[string]execution.Kind) {
	names := make([]string, 0, len(kinds))
	for name := range kinds {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		ec.InstallAPI(kinds[name], name)
	}
}
