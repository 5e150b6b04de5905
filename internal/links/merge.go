// Package links manages each owner's saved post links and their cloud copy.
package links

import (
	"perch/internal/domain"
)

// Merge unions local into remote. Remote entries keep their order; local
// entries whose canonical URL is absent from remote are appended in local
// order. Nothing is ever removed.
func Merge(local, remote []domain.SavedLink) []domain.SavedLink {
	out := make([]domain.SavedLink, 0, len(remote)+len(local))
	seen := make(map[string]struct{}, len(remote)+len(local))

	out = append(out, remote...)
	for _, l := range remote {
		seen[canonicalKey(l.URL)] = struct{}{}
	}
	for _, l := range local {
		key := canonicalKey(l.URL)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, l)
	}
	return out
}

// canonicalKey compares links by canonical URL, falling back to the raw
// string for entries that no longer parse.
func canonicalKey(raw string) string {
	if c, err := domain.Canonical(raw); err == nil {
		return c
	}
	return raw
}
