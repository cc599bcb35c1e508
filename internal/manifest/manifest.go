// Package manifest classifies HLS playlists and rewrites them so that every
// nested reference is fetched back through the proxy.
package manifest

import (
	"strings"
)

// ContentType is the MIME type served for every rewritten manifest.
const ContentType = "application/vnd.apple.mpegurl"

// LineKind is the role a single manifest line plays.
type LineKind int

const (
	Blank LineKind = iota
	Directive
	URIReference
)

// Line is one manifest line as parsed for rewriting.
type Line struct {
	Kind LineKind
	Raw  string
	// Tag is the upper-cased directive name including '#', e.g. "#EXT-X-KEY".
	// Empty for non-directive lines.
	Tag string
}

// ParseLine classifies raw, which must not contain the line terminator.
func ParseLine(raw string) Line {
	trimmed := strings.TrimSpace(raw)
	switch {
	case trimmed == "":
		return Line{Kind: Blank, Raw: raw}
	case strings.HasPrefix(trimmed, "#"):
		tag := trimmed
		if i := strings.IndexByte(tag, ':'); i >= 0 {
			tag = tag[:i]
		}
		return Line{Kind: Directive, Raw: raw, Tag: strings.ToUpper(tag)}
	default:
		return Line{Kind: URIReference, Raw: raw}
	}
}

// IsManifest reports whether a response is a playlist that needs rewriting.
// Either signal is sufficient: servers mislabel one or the other often enough.
func IsManifest(path, contentType string) bool {
	p := strings.ToLower(path)
	if strings.HasSuffix(p, ".m3u8") || strings.HasSuffix(p, ".m3u") {
		return true
	}
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "mpegurl") || strings.Contains(ct, "m3u")
}
