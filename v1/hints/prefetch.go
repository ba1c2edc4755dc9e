package hints

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/sync/errgroup"

	"github.com/mirkobrombin/go-shelf/v1/cache"
	"github.com/mirkobrombin/go-shelf/v1/storage"
)

const (
	// PreloadTTL is how long a preloaded resource is not requested again.
	PreloadTTL = 10 * time.Minute
	// PrefetchTTL is how long a prefetched page is not requested again.
	PrefetchTTL = 30 * time.Minute

	defaultLimit       = 2
	defaultConcurrency = 4
)

// Warmer loads a same-origin path into the response cache. It reports
// whether anything was stored.
type Warmer interface {
	Warm(ctx context.Context, path string) (bool, error)
}

// Prefetcher warms resources through a Warmer, remembering what it already
// asked for in a marker cache.
type Prefetcher struct {
	warmer      Warmer
	seen        cache.Cache[bool]
	patterns    []string
	limit       int
	concurrency int
	wg          sync.WaitGroup
}

// PrefetchOption configures a Prefetcher.
type PrefetchOption func(*Prefetcher)

// WithPatterns sets the substrings a link must contain to be prefetched.
func WithPatterns(patterns ...string) PrefetchOption {
	return func(p *Prefetcher) {
		p.patterns = append([]string(nil), patterns...)
	}
}

// WithLimit caps how many links of one page are prefetched. Zero disables
// page prefetching.
func WithLimit(n int) PrefetchOption {
	return func(p *Prefetcher) {
		if n >= 0 {
			p.limit = n
		}
	}
}

// WithConcurrency bounds the number of concurrent warm requests.
func WithConcurrency(n int) PrefetchOption {
	return func(p *Prefetcher) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// NewPrefetcher returns a Prefetcher warming through w. Markers are kept in seen.
func NewPrefetcher(w Warmer, seen cache.Cache[bool], opts ...PrefetchOption) *Prefetcher {
	p := &Prefetcher{
		warmer:      w,
		seen:        seen,
		patterns:    []string{"/products/", "/collections/"},
		limit:       defaultLimit,
		concurrency: defaultConcurrency,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Preload warms critical resources. It returns how many were stored.
func (p *Prefetcher) Preload(ctx context.Context, paths []string) (int, error) {
	return p.warm(ctx, "preload_", PreloadTTL, paths)
}

// Prefetch warms likely next pages. It returns how many were stored.
func (p *Prefetcher) Prefetch(ctx context.Context, paths []string) (int, error) {
	return p.warm(ctx, "prefetch_", PrefetchTTL, paths)
}

func (p *Prefetcher) warm(ctx context.Context, prefix string, ttl time.Duration, paths []string) (int, error) {
	var stored atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for _, path := range paths {
		marker := prefix + path
		if seen, ok, _ := p.seen.Get(ctx, marker); ok && seen {
			continue
		}
		if err := p.seen.Set(ctx, marker, true, ttl); err != nil {
			slog.Debug("Failed to record prefetch marker.", "path", path, "error", err)
		}
		g.Go(func() error {
			ok, err := p.warmer.Warm(gctx, path)
			if err != nil {
				// One failing page must not cancel the others.
				slog.Debug("Prefetch failed.", "path", path, "error", err)
				return nil
			}
			if ok {
				stored.Add(1)
			}
			return nil
		})
	}
	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	return int(stored.Load()), err
}

// Links returns up to the configured limit of distinct hrefs in body that
// match one of the patterns, in document order.
func (p *Prefetcher) Links(body []byte) []string {
	if p.limit == 0 {
		return nil
	}
	var out []string
	seen := make(map[string]struct{})
	z := html.NewTokenizer(bytes.NewReader(body))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return out
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			if string(name) != "a" || !hasAttr {
				continue
			}
			for {
				key, val, more := z.TagAttr()
				if string(key) == "href" {
					href := string(val)
					if _, dup := seen[href]; !dup && p.matches(href) {
						seen[href] = struct{}{}
						out = append(out, href)
						if len(out) == p.limit {
							return out
						}
					}
				}
				if !more {
					break
				}
			}
		}
	}
}

func (p *Prefetcher) matches(href string) bool {
	for _, pattern := range p.patterns {
		if strings.Contains(href, pattern) {
			return true
		}
	}
	return false
}

// Observe prefetches the links of stored HTML documents in the background.
// It matches the worker's store hook signature.
func (p *Prefetcher) Observe(ctx context.Context, _ string, rec *storage.Record) {
	if !strings.HasPrefix(rec.Header.Get("Content-Type"), "text/html") {
		return
	}
	links := p.Links(rec.Body)
	if len(links) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if _, err := p.Prefetch(ctx, links); err != nil {
			slog.Debug("Prefetch interrupted.", "error", err)
		}
	}()
}

// Wait blocks until background prefetches finish.
func (p *Prefetcher) Wait() {
	p.wg.Wait()
}
