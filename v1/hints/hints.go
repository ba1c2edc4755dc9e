// Package hints advertises critical resources to browsers and warms pages
// they are likely to visit next.
package hints

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/mirkobrombin/go-shelf/v1/worker"
)

// Hints lists the resources announced on navigation responses.
type Hints struct {
	CSS         []string
	JS          []string
	Fonts       []string
	Preconnect  []string
	DNSPrefetch []string
}

// Links returns one Link header value per hint: preloads first, then
// connection hints.
func (h Hints) Links() []string {
	var links []string
	for _, u := range h.CSS {
		links = append(links, fmt.Sprintf("<%s>; rel=preload; as=style", u))
	}
	for _, u := range h.JS {
		links = append(links, fmt.Sprintf("<%s>; rel=preload; as=script", u))
	}
	for _, u := range h.Fonts {
		links = append(links, fmt.Sprintf("<%s>; rel=preload; as=font; type=%q; crossorigin", u, fontType(u)))
	}
	for _, u := range h.Preconnect {
		links = append(links, fmt.Sprintf("<%s>; rel=preconnect; crossorigin", u))
	}
	for _, u := range h.DNSPrefetch {
		links = append(links, fmt.Sprintf("<%s>; rel=dns-prefetch", u))
	}
	return links
}

// Preloads returns the same-origin resources worth warming ahead of the first visit.
func (h Hints) Preloads() []string {
	out := make([]string, 0, len(h.CSS)+len(h.JS)+len(h.Fonts))
	out = append(out, h.CSS...)
	out = append(out, h.JS...)
	return append(out, h.Fonts...)
}

func fontType(u string) string {
	switch {
	case strings.HasSuffix(u, ".woff"):
		return "font/woff"
	case strings.HasSuffix(u, ".ttf"):
		return "font/ttf"
	default:
		return "font/woff2"
	}
}

// Middleware adds the Link headers of h to navigation responses served by next.
func Middleware(h Hints, next http.Handler) http.Handler {
	links := h.Links()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet && worker.IsNavigation(r) {
			for _, l := range links {
				w.Header().Add("Link", l)
			}
		}
		next.ServeHTTP(w, r)
	})
}
