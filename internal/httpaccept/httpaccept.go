// Package httpaccept parses HTTP Accept headers for content negotiation,
// used by the gate web UI to choose between HTML and JSON responses.
package httpaccept

import (
	"regexp"
	"strings"
)

var typeRe = regexp.MustCompile(`^\s*(?:\*|([^\s/;]+))\s*/\s*(?:\*|([^\s/;]+))\s*(?:;.*)?$`)

// MediaRange is one comma-separated element of an Accept header, split into
// its type and subtype. A nil field means that component was a "*"
// wildcard.
type MediaRange struct {
	Type    *string
	Subtype *string
}

// Parse splits accept into its comma-separated media ranges, in order,
// silently skipping any element that doesn't parse as "type/subtype".
func Parse(accept string) []MediaRange {
	var res []MediaRange
	for _, s := range strings.Split(accept, ",") {
		m := typeRe.FindStringSubmatch(s)
		if m == nil {
			continue
		}
		mr := MediaRange{}
		if m[1] != "" {
			t := m[1]
			mr.Type = &t
		}
		if m[2] != "" {
			st := m[2]
			mr.Subtype = &st
		}
		res = append(res, mr)
	}
	return res
}

// AcceptsHTML reports whether any media range in accept is text/html,
// text/* or */*, i.e. whether a browser should receive an HTML response
// rather than JSON. The order of the ranges and their q-values are not
// considered.
func AcceptsHTML(accept string) bool {
	for _, mr := range Parse(accept) {
		if mr.Type == nil && mr.Subtype == nil {
			return true
		}
		if mr.Type != nil && strings.EqualFold(*mr.Type, "text") &&
			(mr.Subtype == nil || strings.EqualFold(*mr.Subtype, "html")) {
			return true
		}
	}
	return false
}
