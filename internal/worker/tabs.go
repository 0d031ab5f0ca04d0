// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package worker

import (
	"net/url"
	"strings"

	"github.com/localtube/localtube/internal/catalog"
)

// knownTabSuffixes are the tab path suffixes the refresh worker
// recognizes when deciding whether a stored tab still belongs to a
// source's URL family.
var knownTabSuffixes = []string{"/videos", "/streams", "/shorts", "/playlists"}

// normalizeTabURL strips query and fragment and trims a trailing slash.
// This is the equality used when deciding whether a previously selected
// tab still matches a currently probed one.
func normalizeTabURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return strings.TrimSuffix(raw, "/")
	}
	u.RawQuery = ""
	u.Fragment = ""
	return strings.TrimSuffix(u.String(), "/")
}

// urlFamily strips any known tab suffix from a URL, giving the "base"
// identity used to decide whether a stored tab still belongs to the
// source's URL family.
func urlFamily(raw string) string {
	norm := normalizeTabURL(raw)
	for _, suffix := range knownTabSuffixes {
		if strings.HasSuffix(norm, suffix) {
			return strings.TrimSuffix(norm, suffix)
		}
	}
	return norm
}

// sameFamily reports whether two URLs belong to the same channel/list
// once any known tab suffix is stripped.
func sameFamily(a, b string) bool {
	return urlFamily(a) == urlFamily(b)
}

// findTab returns the tab in tabs whose URL normalized-equals target, if any.
func findTab(tabs []catalog.Tab, target string) (catalog.Tab, bool) {
	norm := normalizeTabURL(target)
	for _, t := range tabs {
		if normalizeTabURL(t.URL) == norm {
			return t, true
		}
	}
	return catalog.Tab{}, false
}

// resolveEffectiveURL implements the tab selection state machine. It
// returns the URL to probe/stream and the tab that should be persisted
// as SourceMetadata.ListTab (empty if none selected — the "container
// view" case).
func resolveEffectiveURL(sourceURL string, tabs []catalog.Tab, cachedTab string) (effectiveURL, selectedTab string) {
	// Case: source URL itself matches one of the probed tabs verbatim
	// (exact match, preserving query/fragment — not the normalized
	// comparison used for the cached-tab case below).
	for _, t := range tabs {
		if t.URL == sourceURL {
			return sourceURL, sourceURL
		}
	}

	// Case: a previously selected tab is still among the probed tabs.
	if cachedTab != "" {
		if t, ok := findTab(tabs, cachedTab); ok {
			return t.URL, t.URL
		}
	}

	// Case: the source URL matches a tab by family (discard stale cached
	// tab that no longer belongs to the source's URL family).
	for _, t := range tabs {
		if sameFamily(sourceURL, t.URL) {
			return t.URL, t.URL
		}
	}

	// No tabs, or none matched: use the source URL unchanged, with no
	// tab persisted (has_tabs but no selection == container view).
	return sourceURL, ""
}
