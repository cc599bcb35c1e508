package manifest

import (
	"bytes"
	"log/slog"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/text/encoding/unicode"
)

// StandardURITags are the playlist tags known to carry URI-valued attributes.
var StandardURITags = []string{
	"#EXT-X-KEY",
	"#EXT-X-SESSION-KEY",
	"#EXT-X-MAP",
	"#EXT-X-MEDIA",
	"#EXT-X-I-FRAME-STREAM-INF",
	"#EXT-X-IMAGE-STREAM-INF",
	"#EXT-X-SESSION-DATA",
	"#EXT-X-PRELOAD-HINT",
	"#EXT-X-RENDITION-REPORT",
	"#EXT-X-PART",
	"#EXT-X-CONTENT-STEERING",
	"#EXT-X-DATERANGE",
}

// uriAttr matches KEY="value" where KEY ends in URI, anchored to an attribute
// boundary so that quoted values of other attributes are never matched.
var uriAttr = regexp.MustCompile(`(?i)([:,]\s*)([A-Z0-9-]*URI)="([^"]*)"`)

var (
	utf8BOM    = []byte{0xEF, 0xBB, 0xBF}
	utf16BEBOM = []byte{0xFE, 0xFF}
	utf16LEBOM = []byte{0xFF, 0xFE}
)

// Rewriter rewrites manifest bodies to route references through the proxy at origin.
// It holds no per-request state and is safe for concurrent use.
type Rewriter struct {
	origin  string
	uriTags map[string]bool
	logger  *slog.Logger
}

// Option configures a Rewriter.
type Option func(*Rewriter)

// WithURITags adds directive tags (e.g. "#EXT-X-FOO") whose URI attributes
// are rewritten in addition to StandardURITags.
func WithURITags(tags ...string) Option {
	return func(r *Rewriter) {
		for _, t := range tags {
			r.uriTags[strings.ToUpper(t)] = true
		}
	}
}

// WithLogger sets the logger used to report directives whose URI attributes
// are left alone because their tag is not registered.
func WithLogger(l *slog.Logger) Option {
	return func(r *Rewriter) {
		r.logger = l.With("component", "manifest_rewriter")
	}
}

// NewRewriter creates a Rewriter for proxy origin, e.g. "http://127.0.0.1:41234".
func NewRewriter(origin string, opts ...Option) *Rewriter {
	r := &Rewriter{
		origin:  strings.TrimRight(origin, "/"),
		uriTags: make(map[string]bool, len(StandardURITags)),
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, t := range StandardURITags {
		r.uriTags[t] = true
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Origin returns the proxy origin rewritten references point at.
func (r *Rewriter) Origin() string { return r.origin }

// ProxyURL wraps an absolute URL as a request to this proxy.
func (r *Rewriter) ProxyURL(abs string) string {
	return r.origin + "/proxy?url=" + url.QueryEscape(abs)
}

// Rewrite resolves every reference in body against base (the URL the body was
// actually served from) and wraps it as a proxy URL. Line structure, line
// endings and untouched text are preserved byte for byte; a leading UTF-8 BOM
// is dropped and a UTF-16 body (detected by its BOM) is transcoded to UTF-8.
func (r *Rewriter) Rewrite(body []byte, base *url.URL) []byte {
	text := decodeText(body)

	lines := strings.Split(string(text), "\n")
	for i, raw := range lines {
		content, cr := strings.CutSuffix(raw, "\r")
		out := r.rewriteLine(ParseLine(content), base)
		if cr {
			out += "\r"
		}
		lines[i] = out
	}
	return []byte(strings.Join(lines, "\n"))
}

func (r *Rewriter) rewriteLine(line Line, base *url.URL) string {
	switch line.Kind {
	case URIReference:
		if wrapped, ok := r.wrap(strings.TrimSpace(line.Raw), base); ok {
			return wrapped
		}
		return line.Raw
	case Directive:
		if !r.uriTags[line.Tag] {
			if uriAttr.MatchString(line.Raw) {
				r.logger.Debug("URI attribute on unregistered tag left as is", "tag", line.Tag)
			}
			return line.Raw
		}
		return r.rewriteAttributes(line.Raw, base)
	default:
		return line.Raw
	}
}

// rewriteAttributes replaces the value of every URI-bearing attribute in raw.
func (r *Rewriter) rewriteAttributes(raw string, base *url.URL) string {
	matches := uriAttr.FindAllStringSubmatchIndex(raw, -1)
	if matches == nil {
		return raw
	}

	var b strings.Builder
	last := 0
	for _, m := range matches {
		// m[6]:m[7] is the quoted value.
		valStart, valEnd := m[6], m[7]
		wrapped, ok := r.wrap(raw[valStart:valEnd], base)
		if !ok {
			continue
		}
		b.WriteString(raw[last:valStart])
		b.WriteString(wrapped)
		last = valEnd
	}
	b.WriteString(raw[last:])
	return b.String()
}

// wrap resolves ref against base and returns its proxy URL. References that
// are empty, unparseable, or not http(s) after resolution (data:, skd:) are
// reported as not wrappable and must be left verbatim.
func (r *Rewriter) wrap(ref string, base *url.URL) (string, bool) {
	if ref == "" {
		return "", false
	}
	u, err := url.Parse(ref)
	if err != nil {
		return "", false
	}

	if u.IsAbs() {
		if u.Scheme != "http" && u.Scheme != "https" {
			return "", false
		}
		return r.ProxyURL(ref), true
	}

	abs := base.ResolveReference(u)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return "", false
	}
	return r.ProxyURL(abs.String()), true
}

// decodeText drops a UTF-8 BOM without touching any other byte, so invalid
// sequences in comments survive. UTF-16 has to be transcoded to be usable.
func decodeText(body []byte) []byte {
	switch {
	case bytes.HasPrefix(body, utf8BOM):
		return body[len(utf8BOM):]
	case bytes.HasPrefix(body, utf16BEBOM), bytes.HasPrefix(body, utf16LEBOM):
		out, err := unicode.UTF16(unicode.BigEndian, unicode.ExpectBOM).NewDecoder().Bytes(body)
		if err != nil {
			return body
		}
		return out
	default:
		return body
	}
}
