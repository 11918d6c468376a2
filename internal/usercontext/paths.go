package usercontext

import (
	"github.com/paolomoz/nova/internal/agent/core"
	"github.com/paolomoz/nova/internal/helpers"
)

// MaxActivePaths caps the stored recent-path list.
const MaxActivePaths = 20

var pathFields = []string{"path", "source", "destination"}

// TouchedPaths returns the page paths named by calls, most recent first.
func TouchedPaths(calls []core.ToolCall) []string {
	var touched []string
	for _, c := range calls {
		for _, f := range pathFields {
			raw, ok := c.Input[f].(string)
			if !ok {
				continue
			}
			p, err := helpers.NormalizePagePath(raw)
			if err != nil {
				continue
			}
			touched = append(touched, p)
		}
	}
	out := make([]string, 0, len(touched))
	for i := len(touched) - 1; i >= 0; i-- {
		out = append(out, touched[i])
	}
	return dedupe(out, MaxActivePaths)
}

// MergePaths puts recent in front of stored, deduplicated and capped.
func MergePaths(stored, recent []string) []string {
	all := make([]string, 0, len(recent)+len(stored))
	all = append(all, recent...)
	all = append(all, stored...)
	return dedupe(all, MaxActivePaths)
}

func dedupe(paths []string, limit int) []string {
	seen := make(map[string]struct{}, len(paths))
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
		if len(out) == limit {
			break
		}
	}
	return out
}
