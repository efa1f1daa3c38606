// Package urlnorm canonicalizes user-entered URLs and domains into the
// stable filter keys used by the rule store and the DNR compiler.
package urlnorm

import (
	"net/url"
	"strings"

	"golang.org/x/net/idna"
)

// HostOnly reduces raw input to a bare hostname: scheme, port, query and
// path dropped, leading "www." stripped. Input that does not parse as an
// absolute URL is treated as an already-bare domain and returned as-is
// (trimmed). Idempotent: HostOnly(HostOnly(x)) == HostOnly(x).
func HostOnly(raw string) string {
	host, _, ok := splitURL(raw)
	if !ok {
		return strings.TrimSpace(raw)
	}
	return host
}

// HostPath reduces raw input to hostname plus path, with trailing slashes
// stripped. This is the "block this exact page" form; HostOnly is the form
// used for whole-site rules. Unparseable input is returned as-is (trimmed).
func HostPath(raw string) string {
	host, path, ok := splitURL(raw)
	if !ok {
		return strings.TrimSpace(raw)
	}
	return host + path
}

// splitURL parses raw as an absolute URL and returns the canonical host and
// the trailing-slash-stripped path. ok is false when raw has no usable host,
// which is how bare domains ("facebook.com") come through.
func splitURL(raw string) (host, path string, ok bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return "", "", false
	}

	host = strings.ToLower(u.Hostname())
	if ascii, err := idna.Lookup.ToASCII(host); err == nil {
		host = ascii
	}
	host = strings.TrimPrefix(host, "www.")

	path = strings.TrimRight(u.Path, "/")
	return host, path, true
}
