package scrape

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestFetch_StripsMarkup(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><body><h1>TSLA</h1><p>Price:   <b>188.20</b></p><script>alert(1)</script></body></html>`))
	}))
	defer srv.Close()

	s := NewHTTPScraper(5 * time.Second)
	text, err := s.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(text, "<") {
		t.Errorf("expected markup stripped, got %q", text)
	}
	if !strings.Contains(text, "188.20") {
		t.Errorf("expected text content preserved, got %q", text)
	}
	if strings.Contains(text, "alert(1)") {
		t.Errorf("expected script content removed, got %q", text)
	}
	if strings.Contains(text, "  ") {
		t.Errorf("expected whitespace collapsed, got %q", text)
	}
}

func TestFetch_NonSuccessStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	s := NewHTTPScraper(5 * time.Second)
	if _, err := s.Fetch(context.Background(), srv.URL); err == nil {
		t.Fatal("expected error for non-2xx response")
	}
}

func TestFetch_HonorsContextCancellation(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	s := NewHTTPScraper(5 * time.Second)
	if _, err := s.Fetch(ctx, srv.URL); err == nil {
		t.Fatal("expected error when context expires")
	}
}
