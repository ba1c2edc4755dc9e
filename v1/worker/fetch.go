package worker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	shelferrors "github.com/mirkobrombin/go-shelf/v1/errors"
	"github.com/mirkobrombin/go-shelf/v1/events"
	"github.com/mirkobrombin/go-shelf/v1/metrics"
	"github.com/mirkobrombin/go-shelf/v1/storage"
)

// fallbackKey is the document served to navigations when the network is down.
const fallbackKey = "/"

// Fetch answers req from the partitions or the network.
//
// Only same-origin GET requests are intercepted once the worker is active;
// everything else goes straight to the network. A miss is fetched and, when
// the response is a complete same-origin 200, stored in the dynamic
// partition before it is returned. A navigation that fails on the network is
// answered with the cached root document when there is one.
//
// Fetch is safe for concurrent use. The request context bounds every step.
func (w *Worker) Fetch(req *http.Request) (*http.Response, error) {
	ctx, span := tracer.Start(req.Context(), "Worker.Fetch", trace.WithAttributes(
		attribute.String("http.method", req.Method),
		attribute.String("url.path", req.URL.Path),
	))
	defer span.End()

	outcome, resp, err := w.fetch(req.WithContext(ctx))
	span.SetAttributes(attribute.String("shelf.outcome", outcome))
	if err != nil {
		span.RecordError(err)
	}
	metrics.ObserveRequest(outcome)
	return resp, err
}

func (w *Worker) fetch(req *http.Request) (string, *http.Response, error) {
	if w.State() != StateActive || req.Method != http.MethodGet || !w.sameOrigin(req.URL) {
		resp, err := w.roundTrip(req)
		if err != nil {
			return metrics.OutcomeError, nil, err
		}
		resp.Header.Set(CacheHeader, "bypass")
		return metrics.OutcomePassthrough, resp, nil
	}

	ctx := req.Context()
	key := w.key(req.URL)
	rec, ok, err := w.store.Match(ctx, key)
	if err != nil {
		slog.Warn("Cache lookup failed, fetching from network.", "key", key, "error", err)
	}
	if ok {
		if w.policy == StaleWhileRevalidate {
			w.refresh(req, key)
		}
		return metrics.OutcomeCacheHit, responseFromRecord(rec, req, "hit"), nil
	}

	resp, err := w.roundTrip(req)
	if err == nil {
		resp, _, err = w.storeResponse(ctx, key, resp)
	}
	if err != nil {
		if !IsNavigation(req) {
			return metrics.OutcomeError, nil, err
		}
		return w.fallback(req, err)
	}
	resp.Header.Set(CacheHeader, "miss")
	return metrics.OutcomeNetwork, resp, nil
}

func (w *Worker) fallback(req *http.Request, netErr error) (string, *http.Response, error) {
	ctx := req.Context()
	rec, ok, err := w.store.Match(context.WithoutCancel(ctx), fallbackKey)
	if err != nil {
		slog.Warn("Fallback lookup failed.", "error", err)
	}
	if !ok {
		return metrics.OutcomeError, nil, fmt.Errorf("%w: %w", shelferrors.ErrNoFallback, netErr)
	}
	slog.Info("Network unavailable, serving cached root document.", "path", req.URL.Path, "error", netErr)
	ev := events.New(events.Fallback, w.version)
	ev.URL = req.URL.String()
	ev.Error = netErr.Error()
	w.emit(ctx, ev)
	return metrics.OutcomeFallback, responseFromRecord(rec, req, "fallback"), nil
}

// storeResponse buffers a cacheable response and writes it to the dynamic partition.
// The returned response carries an equivalent body. Responses that are not
// cacheable or exceed the size limit are returned untouched.
func (w *Worker) storeResponse(ctx context.Context, key string, resp *http.Response) (*http.Response, bool, error) {
	if !w.cacheable(resp) {
		return resp, false, nil
	}
	var r io.Reader = resp.Body
	if w.maxBodySize > 0 {
		if resp.ContentLength > w.maxBodySize {
			return resp, false, nil
		}
		r = io.LimitReader(resp.Body, w.maxBodySize+1)
	}
	body, err := io.ReadAll(r)
	if err != nil {
		resp.Body.Close()
		return nil, false, err
	}
	if w.maxBodySize > 0 && int64(len(body)) > w.maxBodySize {
		resp.Body = readCloser{io.MultiReader(bytes.NewReader(body), resp.Body), resp.Body}
		return resp, false, nil
	}
	resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))

	rec := &storage.Record{
		URL:      resp.Request.URL.String(),
		Status:   resp.StatusCode,
		Header:   resp.Header.Clone(),
		Body:     body,
		StoredAt: time.Now(),
	}
	return resp, w.put(context.WithoutCancel(ctx), key, rec), nil
}

// cacheable reports whether resp is a successful same-origin response
// accepted by the WithCacheable predicate.
func (w *Worker) cacheable(resp *http.Response) bool {
	if resp.StatusCode != http.StatusOK || resp.Request == nil || !w.sameOrigin(resp.Request.URL) {
		return false
	}
	return w.allowStore == nil || w.allowStore(resp.Request, resp)
}

// SharedCacheable rejects responses that belong to a single user: requests
// carrying credentials, responses setting cookies and responses marked
// private or no-store. Use it with WithCacheable when the partitions are
// shared by several clients.
func SharedCacheable(req *http.Request, resp *http.Response) bool {
	if req.Header.Get("Authorization") != "" || len(resp.Header.Values("Set-Cookie")) > 0 {
		return false
	}
	for _, v := range resp.Header.Values("Cache-Control") {
		for _, directive := range strings.Split(v, ",") {
			name, _, _ := strings.Cut(strings.TrimSpace(directive), "=")
			switch strings.ToLower(name) {
			case "private", "no-store":
				return false
			}
		}
	}
	return true
}

func (w *Worker) put(ctx context.Context, key string, rec *storage.Record) bool {
	part, err := w.store.Open(ctx, w.DynamicPartition())
	if err == nil {
		err = part.Put(ctx, key, rec)
	}
	if err != nil {
		metrics.CacheWriteFailures.Inc()
		slog.Warn("Failed to store response.", "partition", w.DynamicPartition(), "key", key, "error", err)
		return false
	}
	for _, hook := range w.hooks {
		hook(ctx, key, rec)
	}
	ev := events.New(events.Cached, w.version)
	ev.Partition = w.DynamicPartition()
	ev.URL = rec.URL
	w.emit(ctx, ev)
	return true
}

// refresh updates the dynamic copy of key in the background. Static assets
// are fixed for a version and are never refreshed.
func (w *Worker) refresh(req *http.Request, key string) {
	if _, static := w.staticKeys[key]; static {
		return
	}
	ctx := context.WithoutCancel(req.Context())
	target := *req.URL
	w.background.Add(1)
	go func() {
		defer w.background.Done()
		_, _, _ = w.revalidate.Do(key, func() (any, error) {
			stored, err := w.fetchAndStore(ctx, &target, key)
			if err != nil {
				slog.Debug("Revalidation failed.", "key", key, "error", err)
				return nil, err
			}
			if stored {
				ev := events.New(events.Revalidated, w.version)
				ev.URL = target.String()
				w.emit(ctx, ev)
			}
			return nil, nil
		})
	}()
}

// Warm fetches path into the dynamic partition unless a partition already
// holds it. It reports whether a response was stored.
func (w *Worker) Warm(ctx context.Context, path string) (bool, error) {
	if w.State() != StateActive {
		return false, shelferrors.ErrNotActive
	}
	target, err := w.resolve(path)
	if err != nil {
		return false, err
	}
	if !w.sameOrigin(target) {
		return false, fmt.Errorf("warm %s: outside %s", target, w.scope)
	}
	key := w.key(target)
	if _, ok, err := w.store.Match(ctx, key); err != nil || ok {
		return false, err
	}
	return w.fetchAndStore(ctx, target, key)
}

func (w *Worker) fetchAndStore(ctx context.Context, target *url.URL, key string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return false, err
	}
	resp, err := w.roundTrip(req)
	if err != nil {
		return false, err
	}
	resp, stored, err := w.storeResponse(ctx, key, resp)
	if err != nil {
		return false, err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return stored, nil
}

// IsNavigation reports whether r loads a top-level document.
func IsNavigation(r *http.Request) bool {
	if dest := r.Header.Get("Sec-Fetch-Dest"); dest != "" {
		return dest == "document"
	}
	if mode := r.Header.Get("Sec-Fetch-Mode"); mode != "" {
		return mode == "navigate"
	}
	return r.Method == http.MethodGet && strings.Contains(r.Header.Get("Accept"), "text/html")
}

func (w *Worker) sameOrigin(u *url.URL) bool {
	return u != nil && strings.EqualFold(u.Scheme, w.scope.Scheme) && strings.EqualFold(u.Host, w.scope.Host)
}

func (w *Worker) resolve(path string) (*url.URL, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", path, err)
	}
	return w.scope.ResolveReference(ref), nil
}

// key is the storage key of a same-origin URL: its path and query.
func (w *Worker) key(u *url.URL) string {
	k := u.EscapedPath()
	if k == "" {
		k = "/"
	}
	if u.RawQuery != "" {
		k += "?" + u.RawQuery
	}
	return k
}

func (w *Worker) keyForPath(path string) string {
	u, err := w.resolve(path)
	if err != nil {
		return path
	}
	return w.key(u)
}

func responseFromRecord(rec *storage.Record, req *http.Request, status string) *http.Response {
	h := rec.Header.Clone()
	if h == nil {
		h = make(http.Header)
	}
	h.Set(CacheHeader, status)
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", rec.Status, http.StatusText(rec.Status)),
		StatusCode:    rec.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        h,
		Body:          io.NopCloser(bytes.NewReader(rec.Body)),
		ContentLength: int64(len(rec.Body)),
		Request:       req,
	}
}

type readCloser struct {
	io.Reader
	io.Closer
}

// roundTrip sends req to the network. Transports do not follow redirects,
// so the response always belongs to req.
func (w *Worker) roundTrip(req *http.Request) (*http.Response, error) {
	resp, err := w.network.RoundTrip(req)
	if err == nil && resp.Request == nil {
		resp.Request = req
	}
	return resp, err
}
