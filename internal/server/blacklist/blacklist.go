// Package blacklist rejects uploads whose stored content digest is on a
// configured denylist.
package blacklist

import "strings"

// Filter is an immutable set of lowercase hex SHA-256 digests.
type Filter struct {
	digests map[string]struct{}
}

// New builds a Filter from config entries. Entries are trimmed and
// lowercased once; blank entries are ignored.
func New(entries []string) *Filter {
	f := &Filter{digests: make(map[string]struct{}, len(entries))}
	for _, entry := range entries {
		entry = strings.ToLower(strings.TrimSpace(entry))
		if entry == "" {
			continue
		}
		f.digests[entry] = struct{}{}
	}
	return f
}

// Contains reports whether digest is blacklisted, ignoring case.
func (f *Filter) Contains(digest string) bool {
	if f == nil || len(f.digests) == 0 {
		return false
	}
	_, ok := f.digests[strings.ToLower(digest)]
	return ok
}

// Len returns the number of distinct digests.
func (f *Filter) Len() int {
	if f == nil {
		return 0
	}
	return len(f.digests)
}
