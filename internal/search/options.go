package search

import (
	"sort"
	"strings"
)

// FilterFunc checks if a search result matches filter criteria.
type FilterFunc func(result *SearchResult) bool

// ApplyFilters filters results based on search options.
func ApplyFilters(results []*SearchResult, opts SearchOptions) []*SearchResult {
	if len(opts.Scopes) == 0 {
		return results
	}

	filter := scopeFilter(opts.Scopes)
	filtered := make([]*SearchResult, 0, len(results))
	for _, r := range results {
		if filter(r) {
			filtered = append(filtered, r)
		}
	}

	return filtered
}

// NormalizeScope ensures consistent path format for matching.
// Strips leading and trailing slashes.
func NormalizeScope(scope string) string {
	return strings.Trim(scope, "/")
}

// scopeFilter creates a filter for path scope prefixes.
// Multiple scopes use OR logic - matches if path starts with ANY scope.
func scopeFilter(scopes []string) FilterFunc {
	// Pre-normalize all scopes once for performance.
	// Add trailing slash to ensure directory boundary matching, e.g.
	// "services/api" becomes "services/api/" to avoid matching "services/api-v2".
	normalized := make([]string, 0, len(scopes))
	for _, s := range scopes {
		if n := NormalizeScope(s); n != "" {
			normalized = append(normalized, n+"/")
		}
	}

	if len(normalized) == 0 {
		return func(*SearchResult) bool { return true }
	}

	return func(r *SearchResult) bool {
		if r.Chunk == nil {
			return false
		}
		filePath := NormalizeScope(r.Chunk.Path) + "/"
		for _, scope := range normalized {
			if strings.HasPrefix(filePath, scope) {
				return true
			}
		}
		return false
	}
}

// GroupPerFile keeps only the top perFile results per path, ordering the
// surviving groups by each group's own max score (highest first), and
// preserving score order within each group.
func GroupPerFile(results []*SearchResult, perFile int) []*SearchResult {
	if perFile <= 0 || len(results) == 0 {
		return results
	}

	groups := make(map[string][]*SearchResult)
	var order []string
	for _, r := range results {
		if r.Chunk == nil {
			continue
		}
		path := r.Chunk.Path
		if _, seen := groups[path]; !seen {
			order = append(order, path)
		}
		groups[path] = append(groups[path], r)
	}

	sort.SliceStable(order, func(i, j int) bool {
		return groups[order[i]][0].Score > groups[order[j]][0].Score
	})

	grouped := make([]*SearchResult, 0, len(results))
	for _, path := range order {
		members := groups[path]
		if len(members) > perFile {
			members = members[:perFile]
		}
		grouped = append(grouped, members...)
	}

	return grouped
}
