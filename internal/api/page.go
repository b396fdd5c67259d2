package api

import (
	"fmt"
	"strings"

	"kumascript/internal/execution"
)

// Page is the kind of the page metadata API. Its fields come from the
// rendering environment.
func Page(ec *execution.Context) execution.SubAPI {
	tags := stringList(ec.Env()["tags"])
	return execution.NewBaseAPI(ec, map[string]interface{}{
		"title":  ec.EnvString("title"),
		"url":    ec.EnvString("url"),
		"slug":   ec.EnvString("slug"),
		"locale": ec.EnvString("locale"),
		"tags":   tags,
		"hasTag": func(tag string) bool {
			for _, t := range tags {
				if strings.EqualFold(t, tag) {
					return true
				}
			}
			return false
		},
	})
}

func stringList(v interface{}) []string {
	switch list := v.(type) {
	case []string:
		out := make([]string, len(list))
		copy(out, list)
		return out
	case []interface{}:
		out := make([]string, 0, len(list))
		for _, item := range list {
			out = append(out, fmt.Sprint(item))
		}
		return out
	case string:
		if list == "" {
			return []string{}
		}
		parts := strings.Split(list, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	default:
		return []string{}
	}
}
