package worker

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	shelferrors "github.com/mirkobrombin/go-shelf/v1/errors"
)

func TestBreakerOpensAndProbes(t *testing.T) {
	net := newFakeNetwork()
	b := NewBreaker(net, 2, time.Minute)
	now := time.Unix(0, 0)
	b.now = func() time.Time { return now }

	send := func(path string) error {
		req, _ := http.NewRequest(http.MethodGet, "https://shop.test"+path, nil)
		resp, err := b.RoundTrip(req)
		if resp != nil {
			resp.Body.Close()
		}
		return err
	}

	if err := send("/assets/broken.css"); err != nil {
		t.Fatalf("5xx is returned to the caller, got %v", err)
	}
	net.setOffline(true)
	if err := send("/"); !errors.Is(err, errOffline) {
		t.Fatalf("expected network error, got %v", err)
	}
	if b.Healthy() {
		t.Fatal("expected breaker open after two failures")
	}
	calls := net.callsTo("/")
	if err := send("/"); !errors.Is(err, shelferrors.ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if net.callsTo("/") != calls {
		t.Fatal("open breaker must not reach the network")
	}

	now = now.Add(2 * time.Minute)
	net.setOffline(false)
	if err := send("/"); err != nil {
		t.Fatalf("probe: %v", err)
	}
	if !b.Healthy() {
		t.Fatal("expected breaker closed after a successful probe")
	}
}

func TestBreakerServesFallbackWhileOpen(t *testing.T) {
	net := newFakeNetwork()
	w := startWorker(t, net, WithTransport(NewBreaker(net, 1, time.Minute)))
	net.setOffline(true)

	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, "https://shop.test/products/a", nil)
	req.Header.Set("Sec-Fetch-Dest", "document")
	if _, err := w.Fetch(req); err != nil {
		t.Fatalf("first offline navigation: %v", err)
	}
	calls := net.callsTo("/products/b")
	req, _ = http.NewRequest(http.MethodGet, "https://shop.test/products/b", nil)
	req.Header.Set("Sec-Fetch-Dest", "document")
	resp, err := w.Fetch(req)
	if err != nil {
		t.Fatalf("expected fallback, got %v", err)
	}
	if resp.Header.Get(CacheHeader) != "fallback" || readBody(t, resp) != "<html>home</html>" {
		t.Fatal("expected the cached root document")
	}
	if net.callsTo("/products/b") != calls {
		t.Fatal("open breaker must not reach the network")
	}
}
