package worker

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	shelferrors "github.com/mirkobrombin/go-shelf/v1/errors"
)

// Hop-by-hop headers are meaningful for a single connection only.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// ServeHTTP proxies r to the worker's origin through Fetch.
func (w *Worker) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	out := r.Clone(r.Context())
	out.RequestURI = ""
	out.URL = w.scope.ResolveReference(&url.URL{Path: r.URL.Path, RawPath: r.URL.RawPath, RawQuery: r.URL.RawQuery})
	out.Host = w.scope.Host
	for _, h := range hopHeaders {
		out.Header.Del(h)
	}

	resp, err := w.Fetch(out)
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, shelferrors.ErrNoFallback) || errors.Is(err, shelferrors.ErrCircuitOpen) {
			status = http.StatusServiceUnavailable
		}
		slog.Warn("Proxy request failed.", "method", r.Method, "path", r.URL.Path, "error", err)
		http.Error(rw, http.StatusText(status), status)
		return
	}
	defer resp.Body.Close()

	for _, h := range hopHeaders {
		resp.Header.Del(h)
	}
	for k, vs := range resp.Header {
		for _, v := range vs {
			rw.Header().Add(k, v)
		}
	}
	rw.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(rw, resp.Body); err != nil {
		slog.Debug("Failed to copy response body.", "path", r.URL.Path, "error", err)
	}
}
