package fulfillment

import "strings"

// SplitProducts parses a supplier's comma-separated product list.
func SplitProducts(list string) []string {
	out := make([]string, 0, 8)
	for _, token := range strings.Split(list, ",") {
		token = strings.TrimSpace(token)
		if token != "" {
			out = append(out, token)
		}
	}
	return out
}

// MergeProducts adds names to the list, ignoring case when deduplicating.
// The first spelling seen wins.
func MergeProducts(list string, names []string) string {
	tokens := SplitProducts(list)
	seen := make(map[string]struct{}, len(tokens)+len(names))
	out := make([]string, 0, len(tokens)+len(names))
	for _, token := range append(tokens, names...) {
		token = strings.TrimSpace(token)
		key := strings.ToLower(token)
		if token == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, token)
	}
	return strings.Join(out, ", ")
}

// RemoveProducts drops every token matching one of names, ignoring case.
func RemoveProducts(list string, names []string) string {
	drop := make(map[string]struct{}, len(names))
	for _, name := range names {
		drop[strings.ToLower(strings.TrimSpace(name))] = struct{}{}
	}
	out := make([]string, 0, 8)
	for _, token := range SplitProducts(list) {
		if _, ok := drop[strings.ToLower(token)]; ok {
			continue
		}
		out = append(out, token)
	}
	return strings.Join(out, ", ")
}
