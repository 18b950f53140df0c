package storage

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

func TestMemoryStorePutPresignDelete(t *testing.T) {
	s := NewMemoryStore("")
	ctx := context.Background()

	if _, err := s.PresignGet(ctx, "papers/x/a.pdf", time.Minute, ""); !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("expected ErrObjectNotFound, got %v", err)
	}
	if err := s.Put(ctx, "papers/x/a.pdf", strings.NewReader("%PDF-1.4"), 8, "application/pdf"); err != nil {
		t.Fatalf("put: %v", err)
	}
	u, err := s.PresignGet(ctx, "papers/x/a.pdf", time.Minute, "a.pdf")
	if err != nil {
		t.Fatalf("presign: %v", err)
	}
	if !strings.HasPrefix(u, "http://objects.local/") || !strings.Contains(u, "filename=a.pdf") {
		t.Fatalf("unexpected url %q", u)
	}
	if err := s.Delete(ctx, "papers/x/a.pdf"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if s.Has("papers/x/a.pdf") || s.Len() != 0 {
		t.Fatal("expected object to be removed")
	}
}

func TestMemoryStoreServesPresignedLinks(t *testing.T) {
	s := NewMemoryStore("http://files.test/files")
	ctx := context.Background()
	if err := s.Put(ctx, "papers/p1/scan.pdf", strings.NewReader("%PDF-1.4"), 8, "application/pdf"); err != nil {
		t.Fatalf("put: %v", err)
	}
	link, err := s.PresignGet(ctx, "papers/p1/scan.pdf", time.Minute, "JEE 2024.pdf")
	if err != nil {
		t.Fatalf("presign: %v", err)
	}
	u, err := url.Parse(link)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	srv := httptest.NewServer(http.StripPrefix("/files", s))
	defer srv.Close()

	get := func(target string) (*http.Response, string) {
		t.Helper()
		resp, err := http.Get(target)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		defer resp.Body.Close()
		raw, _ := io.ReadAll(resp.Body)
		return resp, string(raw)
	}

	resp, body := get(srv.URL + u.EscapedPath() + "?" + u.RawQuery)
	if resp.StatusCode != http.StatusOK || body != "%PDF-1.4" {
		t.Fatalf("expected object, got %d %q", resp.StatusCode, body)
	}
	if got := resp.Header.Get("Content-Type"); got != "application/pdf" {
		t.Fatalf("unexpected content type %q", got)
	}
	if got := resp.Header.Get("Content-Disposition"); !strings.Contains(got, "JEE 2024.pdf") {
		t.Fatalf("unexpected disposition %q", got)
	}

	expired := url.Values{"expires": {time.Now().Add(-time.Minute).UTC().Format(time.RFC3339)}}
	if resp, _ := get(srv.URL + u.EscapedPath() + "?" + expired.Encode()); resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expired link expected 403, got %d", resp.StatusCode)
	}
	if resp, _ := get(srv.URL + "/files/papers/p1/other.pdf?" + u.RawQuery); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing object expected 404, got %d", resp.StatusCode)
	}
}
