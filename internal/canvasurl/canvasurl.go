// Package canvasurl extracts canvas identifiers from canvas links.
package canvasurl

import (
	"net/url"
	"path"
	"strings"
)

// FromURL returns the canvas id of a canvas link such as
// https://usecanvas.com/acme/-/5Ie3bAnvN5dHXp1DT0Pfbm. Only paths with exactly
// three segments and no file extension are canvas links.
func FromURL(u *url.URL) (string, bool) {
	p := strings.Trim(u.Path, "/")
	if p == "" || path.Ext(p) != "" {
		return "", false
	}
	segments := strings.Split(p, "/")
	if len(segments) != 3 || segments[2] == "" {
		return "", false
	}
	return segments[2], true
}

// Resolve accepts either a bare canvas id or a canvas link.
func Resolve(ref string) (string, bool) {
	if !strings.Contains(ref, "://") {
		if ref == "" || strings.Contains(ref, "/") {
			return "", false
		}
		return ref, true
	}
	u, err := url.Parse(ref)
	if err != nil {
		return "", false
	}
	return FromURL(u)
}
